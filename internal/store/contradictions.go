package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RecordContradiction stores an audit row for a fact write decided outside
// SaveProfileFact, such as a worker-side block.
func (s *Store) RecordContradiction(ctx context.Context, c Contradiction) error {
	if c.DetectedAt.IsZero() {
		c.DetectedAt = s.now()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertContradiction(ctx, tx, c)
	})
}

// ListContradictions returns audit rows, newest first.
func (s *Store) ListContradictions(ctx context.Context, unresolvedOnly bool) ([]Contradiction, error) {
	query := `SELECT id, fact_key, existing_value, new_value, existing_confidence, new_confidence, source, detected_at, resolved
		FROM memory_contradictions`
	if unresolvedOnly {
		query += ` WHERE resolved = 0`
	}
	query += ` ORDER BY id DESC`
	rows, err := s.read.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query contradictions: %w", err)
	}
	defer rows.Close()
	var out []Contradiction
	for rows.Next() {
		var (
			c          Contradiction
			oldC, newC sql.NullFloat64
			detected   string
			resolved   int
		)
		if err := rows.Scan(&c.ID, &c.Key, &c.ExistingValue, &c.NewValue, &oldC, &newC, &c.Source, &detected, &resolved); err != nil {
			return nil, err
		}
		c.ExistingConfidence = oldC.Float64
		c.NewConfidence = newC.Float64
		c.DetectedAt = parseTime(detected)
		c.Resolved = resolved == 1
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteResolvedContradictionsBefore removes resolved audit rows older than cutoff.
func (s *Store) DeleteResolvedContradictionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM memory_contradictions WHERE resolved = 1 AND detected_at < ?`, formatTime(cutoff))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

func insertContradiction(ctx context.Context, tx *sql.Tx, c Contradiction) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO memory_contradictions
			(fact_key, existing_value, new_value, existing_confidence, new_confidence, source, detected_at, resolved)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.Key, c.ExistingValue, c.NewValue, c.ExistingConfidence, c.NewConfidence, c.Source, formatTime(c.DetectedAt), boolInt(c.Resolved))
	if err != nil {
		return fmt.Errorf("insert contradiction: %w", err)
	}
	return nil
}
