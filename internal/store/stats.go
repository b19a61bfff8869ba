package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
)

// Stats is a row-count snapshot of the store.
type Stats struct {
	Messages            int64
	Unprocessed         int64
	ProfileFacts        int64
	Memories            int64
	SessionSummaries    int64
	Images              int64
	Users               int64
	OpenContradictions  int64
	PendingSMS          int64
	MemoriesNoEmbedding int64
	SizeMB              float64
}

// Stats counts rows in every table within one read snapshot.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	counts := []struct {
		dst   *int64
		query string
	}{
		{&st.Messages, `SELECT COUNT(*) FROM messages`},
		{&st.Unprocessed, `SELECT COUNT(*) FROM messages WHERE processed = 0`},
		{&st.ProfileFacts, `SELECT COUNT(*) FROM profile_facts`},
		{&st.Memories, `SELECT COUNT(*) FROM memories`},
		{&st.SessionSummaries, `SELECT COUNT(*) FROM session_summaries`},
		{&st.Images, `SELECT COUNT(*) FROM image_history`},
		{&st.Users, `SELECT COUNT(*) FROM users`},
		{&st.OpenContradictions, `SELECT COUNT(*) FROM memory_contradictions WHERE resolved = 0`},
		{&st.PendingSMS, `SELECT COUNT(*) FROM inbound_sms WHERE processed_at IS NULL`},
		{&st.MemoriesNoEmbedding, `SELECT COUNT(*) FROM memories WHERE embedding IS NULL`},
	}
	err := s.withSnapshot(ctx, func(tx *sql.Tx) error {
		for _, c := range counts {
			if err := tx.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("store stats: %w", err)
	}
	if fi, err := os.Stat(s.path); err == nil {
		st.SizeMB = float64(fi.Size()) / (1024 * 1024)
	}
	return st, nil
}
