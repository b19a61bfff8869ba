package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DecayParams controls DecayMemories.
type DecayParams struct {
	OlderThan     time.Time // last_accessed before this
	MaxFrequency  int
	MinConfidence float64 // only rows above this decay
	Factor        float64
}

// DecayMemories multiplies the confidence of stale, rarely used memories by
// p.Factor. A row never decays below p.MinConfidence in one step.
func (s *Store) DecayMemories(ctx context.Context, p DecayParams) (int64, error) {
	if p.Factor <= 0 || p.Factor >= 1 {
		return 0, fmt.Errorf("decay memories: factor %v outside (0,1)", p.Factor)
	}
	var n int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE memories SET confidence = confidence * ?
			WHERE last_accessed < ? AND frequency <= ? AND confidence > ?
		`, p.Factor, formatTime(p.OlderThan), p.MaxFrequency, p.MinConfidence)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("decay memories: %w", err)
	}
	return n, nil
}

// DeleteEphemeralMemories removes weak single-mention memories in the given topics.
func (s *Store) DeleteEphemeralMemories(ctx context.Context, maxConfidence float64, topics ...string) (int64, error) {
	if len(topics) == 0 {
		return 0, nil
	}
	query := `DELETE FROM memories WHERE confidence < ? AND frequency = 1 AND topic IN (?` + repeatPlaceholder(len(topics)-1) + `)`
	args := []any{maxConfidence}
	for _, t := range topics {
		args = append(args, t)
	}
	var n int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete ephemeral memories: %w", err)
	}
	return n, nil
}

// DeleteExpired removes facts and memories whose metadata expires_at is
// strictly before now.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (facts, memories int64, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var e error
		if facts, e = deleteExpiredRows(ctx, tx, "profile_facts", "key", now, func(raw string) *time.Time {
			var md FactMetadata
			unmarshalMeta(raw, &md)
			return md.ExpiresAt
		}); e != nil {
			return e
		}
		memories, e = deleteExpiredRows(ctx, tx, "memories", "id", now, func(raw string) *time.Time {
			var md MemoryMetadata
			unmarshalMeta(raw, &md)
			return md.ExpiresAt
		})
		return e
	})
	if err != nil {
		return 0, 0, fmt.Errorf("delete expired: %w", err)
	}
	return facts, memories, nil
}

func deleteExpiredRows(ctx context.Context, tx *sql.Tx, table, idCol string, now time.Time, expiry func(string) *time.Time) (int64, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+idCol+`, metadata FROM `+table+` WHERE metadata LIKE '%expires_at%'`)
	if err != nil {
		return 0, err
	}
	var ids []any
	for rows.Next() {
		var (
			id   any
			meta string
		)
		if err := rows.Scan(&id, &meta); err != nil {
			rows.Close()
			return 0, err
		}
		if exp := expiry(meta); exp != nil && exp.Before(now) {
			ids = append(ids, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	var n int64
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE `+idCol+` = ?`, id)
		if err != nil {
			return n, err
		}
		c, _ := res.RowsAffected()
		n += c
	}
	return n, nil
}

// ConsolidationTopics returns up to limit topics holding at least minCount
// memories, largest first.
func (s *Store) ConsolidationTopics(ctx context.Context, minCount, limit int) ([]string, error) {
	rows, err := s.read.QueryContext(ctx, `
		SELECT topic FROM memories GROUP BY topic HAVING COUNT(*) >= ?
		ORDER BY COUNT(*) DESC, topic ASC LIMIT ?
	`, minCount, limit)
	if err != nil {
		return nil, fmt.Errorf("query consolidation topics: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CandidateParams selects memories eligible for consolidation.
type CandidateParams struct {
	Topic         string
	OlderThan     time.Time // first_seen before this
	MaxFrequency  int
	MaxConfidence float64 // strictly below
	Limit         int
}

// ConsolidationCandidates returns old, weak memories of one topic, oldest first.
// Rows already produced by consolidation are excluded.
func (s *Store) ConsolidationCandidates(ctx context.Context, p CandidateParams) ([]Memory, error) {
	return s.queryMemories(ctx, `SELECT `+memoryColumns+` FROM memories
		WHERE topic = ? AND first_seen < ? AND frequency <= ? AND confidence < ? AND source != ?
		ORDER BY first_seen ASC LIMIT ?`,
		p.Topic, formatTime(p.OlderThan), p.MaxFrequency, p.MaxConfidence, SourceConsolidated, p.Limit)
}

// ReplaceMemories inserts the consolidated rows and deletes the originals in
// one transaction. It returns the new ids.
func (s *Store) ReplaceMemories(ctx context.Context, originals []int64, replacements []Memory) ([]int64, error) {
	now := s.now()
	var ids []int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, m := range replacements {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO memories (text, topic, frequency, confidence, source, first_seen, last_accessed, user_name, metadata, embedding)
				VALUES (?, ?, 1, ?, ?, ?, ?, ?, ?, ?)
			`, m.Text, m.Topic, m.Confidence, m.Source, formatTime(now), formatTime(now), m.UserName,
				marshalMeta(m.Metadata), embeddingArg(m.Embedding))
			if err != nil {
				return err
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		for _, id := range originals {
			if _, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("replace memories: %w", err)
	}
	return ids, nil
}

// Vacuum compacts the database file.
func (s *Store) Vacuum(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

// MissingEmbedding names a row that has no embedding yet.
type MissingEmbedding struct {
	Kind string // "fact" or "memory"
	Key  string // fact key
	ID   int64  // memory id
	Text string // text to embed
}

// RowsMissingEmbedding lists facts and memories without an embedding.
func (s *Store) RowsMissingEmbedding(ctx context.Context, limit int) ([]MissingEmbedding, error) {
	if limit <= 0 {
		limit = -1
	}
	var out []MissingEmbedding
	err := s.withSnapshot(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT key, value FROM profile_facts WHERE embedding IS NULL ORDER BY id LIMIT ?`, limit)
		if err != nil {
			return err
		}
		for rows.Next() {
			var key, value string
			if err := rows.Scan(&key, &value); err != nil {
				rows.Close()
				return err
			}
			out = append(out, MissingEmbedding{Kind: "fact", Key: key, Text: FactEmbeddingText(key, value)})
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		rows, err = tx.QueryContext(ctx, `SELECT id, text FROM memories WHERE embedding IS NULL ORDER BY id LIMIT ?`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var m MissingEmbedding
			if err := rows.Scan(&m.ID, &m.Text); err != nil {
				return err
			}
			m.Kind = "memory"
			out = append(out, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("rows missing embedding: %w", err)
	}
	return out, nil
}

// FactEmbeddingText is the text embedded for a fact.
func FactEmbeddingText(key, value string) string {
	return key + ": " + value
}

func repeatPlaceholder(n int) string {
	out := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		out = append(out, ", ?"...)
	}
	return string(out)
}
