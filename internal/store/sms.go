package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SaveInboundSMS queues a received text message for extraction.
func (s *Store) SaveInboundSMS(ctx context.Context, sms InboundSMS) (int64, error) {
	if strings.TrimSpace(sms.Message) == "" {
		return 0, fmt.Errorf("save inbound sms: empty message")
	}
	ts := sms.ReceivedAt
	if ts.IsZero() {
		ts = s.now()
	}
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO inbound_sms (sender_name, phone, message, received_at) VALUES (?, ?, ?, ?)
		`, sms.SenderName, sms.Phone, sms.Message, formatTime(ts))
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("save inbound sms: %w", err)
	}
	return id, nil
}

// PendingInboundSMS returns unprocessed text messages, oldest first.
func (s *Store) PendingInboundSMS(ctx context.Context, limit int) ([]InboundSMS, error) {
	rows, err := s.read.QueryContext(ctx, `
		SELECT id, sender_name, phone, message, received_at
		FROM inbound_sms WHERE processed_at IS NULL
		ORDER BY received_at ASC, id ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query inbound sms: %w", err)
	}
	defer rows.Close()
	var out []InboundSMS
	for rows.Next() {
		var (
			m  InboundSMS
			ts string
		)
		if err := rows.Scan(&m.ID, &m.SenderName, &m.Phone, &m.Message, &ts); err != nil {
			return nil, err
		}
		m.ReceivedAt = parseTime(ts)
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkSMSProcessed flags a text message as consumed. Idempotent.
func (s *Store) MarkSMSProcessed(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE inbound_sms SET processed_at = ? WHERE id = ? AND processed_at IS NULL`,
			formatTime(s.now()), id)
		return err
	})
}
