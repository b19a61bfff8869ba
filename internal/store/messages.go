package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const messageColumns = `id, user_text, ai_response, timestamp, processed, session_id, user_name, metadata`

// SaveMessage stores a conversation turn as unprocessed and returns its id.
func (s *Store) SaveMessage(ctx context.Context, m Message) (int64, error) {
	ts := m.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	var session any
	if m.SessionID != "" {
		session = m.SessionID
	}
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO messages (user_text, ai_response, timestamp, processed, session_id, user_name, metadata)
			VALUES (?, ?, ?, 0, ?, ?, ?)
		`, m.UserText, m.AIResponse, formatTime(ts), session, m.UserName, marshalMeta(m.Metadata))
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("save message: %w", err)
	}
	return id, nil
}

// GetUnprocessedMessages returns up to limit unprocessed messages, oldest first.
func (s *Store) GetUnprocessedMessages(ctx context.Context, limit int) ([]Message, error) {
	return s.queryMessages(ctx, `SELECT `+messageColumns+` FROM messages
		WHERE processed = 0 ORDER BY id ASC LIMIT ?`, limit)
}

// MarkProcessed flags a message as consumed by the worker. Idempotent.
func (s *Store) MarkProcessed(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE messages SET processed = 1 WHERE id = ?`, id)
		return err
	})
}

// SessionMessages returns every message of a session in insertion order.
func (s *Store) SessionMessages(ctx context.Context, sessionID string) ([]Message, error) {
	return s.queryMessages(ctx, `SELECT `+messageColumns+` FROM messages
		WHERE session_id = ? ORDER BY id ASC`, sessionID)
}

// MessagesBefore returns the n messages preceding id, oldest first.
func (s *Store) MessagesBefore(ctx context.Context, id int64, n int) ([]Message, error) {
	msgs, err := s.queryMessages(ctx, `SELECT `+messageColumns+` FROM messages
		WHERE id < ? ORDER BY id DESC LIMIT ?`, id, n)
	if err != nil {
		return nil, err
	}
	reverseMessages(msgs)
	return msgs, nil
}

// RecentMessages returns the last n messages spoken by userName, oldest first.
// An empty userName matches every speaker.
func (s *Store) RecentMessages(ctx context.Context, userName string, n int) ([]Message, error) {
	var (
		msgs []Message
		err  error
	)
	if userName == "" {
		msgs, err = s.queryMessages(ctx, `SELECT `+messageColumns+` FROM messages
			ORDER BY id DESC LIMIT ?`, n)
	} else {
		msgs, err = s.queryMessages(ctx, `SELECT `+messageColumns+` FROM messages
			WHERE user_name = ? COLLATE NOCASE ORDER BY id DESC LIMIT ?`, userName, n)
	}
	if err != nil {
		return nil, err
	}
	reverseMessages(msgs)
	return msgs, nil
}

// SessionsAwaitingSummary lists session ids whose last message is older than
// idleSince and which have no summary row yet.
func (s *Store) SessionsAwaitingSummary(ctx context.Context, idleSince time.Time) ([]string, error) {
	rows, err := s.read.QueryContext(ctx, `
		SELECT m.session_id
		FROM messages m
		LEFT JOIN session_summaries s ON s.session_id = m.session_id
		WHERE m.session_id IS NOT NULL AND m.session_id != '' AND s.session_id IS NULL
		GROUP BY m.session_id
		HAVING MAX(m.timestamp) < ?
		ORDER BY MAX(m.timestamp) ASC
	`, formatTime(idleSince))
	if err != nil {
		return nil, fmt.Errorf("query idle sessions: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteMessagesBefore removes messages older than cutoff.
func (s *Store) DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE timestamp < ?`, formatTime(cutoff))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]Message, error) {
	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var (
			m         Message
			ts, meta  string
			session   sql.NullString
			processed int
		)
		if err := rows.Scan(&m.ID, &m.UserText, &m.AIResponse, &ts, &processed, &session, &m.UserName, &meta); err != nil {
			return nil, err
		}
		m.Timestamp = parseTime(ts)
		m.SessionID = nullString(session)
		m.Processed = processed == 1
		unmarshalMeta(meta, &m.Metadata)
		out = append(out, m)
	}
	return out, rows.Err()
}

func reverseMessages(m []Message) {
	for i, j := 0, len(m)-1; i < j; i, j = i+1, j-1 {
		m[i], m[j] = m[j], m[i]
	}
}
