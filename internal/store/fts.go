package store

import (
	"context"
	"database/sql"
	"fmt"
)

var ftsTables = []string{"memories_fts", "profile_facts_fts", "profile_facts_trigram"}

// RebuildFullText re-indexes every full-text table from its content table.
// It repairs drift caused by writes that bypassed the triggers.
func (s *Store) RebuildFullText(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, t := range ftsTables {
			if _, err := tx.ExecContext(ctx, `INSERT INTO `+t+`(`+t+`) VALUES ('rebuild')`); err != nil {
				return fmt.Errorf("rebuild %s: %w", t, err)
			}
		}
		return nil
	})
}

// CheckFullText verifies every full-text index against its content table.
// A non-nil error names the first index that is out of sync.
func (s *Store) CheckFullText(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, t := range ftsTables {
			if _, err := tx.ExecContext(ctx, `INSERT INTO `+t+`(`+t+`, rank) VALUES ('integrity-check', 1)`); err != nil {
				return fmt.Errorf("%s out of sync: %w", t, err)
			}
		}
		return nil
	})
}
