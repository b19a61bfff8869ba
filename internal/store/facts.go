package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/duckmemory/duckmem/internal/vector"
)

const factColumns = `key, value, topic, confidence, frequency, source, last_updated, metadata, embedding`

// VerifiedConfidence marks a fact the owner confirmed. Differing values never replace it.
const VerifiedConfidence = 1.0

// SaveProfileFact writes a fact under the confidence guard. A write whose value
// differs from an existing row at VerifiedConfidence is dropped and audited as
// an unresolved contradiction. Replacing a different value is audited as a
// resolved contradiction. Repeating the current value bumps frequency only.
func (s *Store) SaveProfileFact(ctx context.Context, f ProfileFact) (FactWriteResult, error) {
	var result FactWriteResult
	if strings.TrimSpace(f.Key) == "" {
		return result, errors.New("save profile fact: empty key")
	}
	if f.Topic == "" {
		f.Topic = TopicGeneral
	}
	if f.Source == "" {
		f.Source = SourceExtracted
	}
	now := s.now()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			oldValue string
			oldConf  float64
		)
		err := tx.QueryRowContext(ctx, `SELECT value, confidence FROM profile_facts WHERE key = ?`, f.Key).
			Scan(&oldValue, &oldConf)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err = tx.ExecContext(ctx, `
				INSERT INTO profile_facts (key, value, topic, confidence, frequency, source, last_updated, metadata, embedding)
				VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?)
			`, f.Key, f.Value, f.Topic, f.Confidence, f.Source, formatTime(now), marshalMeta(f.Metadata), embeddingArg(f.Embedding))
			result.Written = err == nil
			return err
		case err != nil:
			return err
		}

		result.Previous = oldValue
		if sameValue(oldValue, f.Value) {
			_, err = tx.ExecContext(ctx, `
				UPDATE profile_facts
				SET frequency = frequency + 1, confidence = MAX(confidence, ?), last_updated = ?,
					embedding = COALESCE(?, embedding)
				WHERE key = ?
			`, f.Confidence, formatTime(now), embeddingArg(f.Embedding), f.Key)
			result.Written = err == nil
			return err
		}

		if oldConf >= VerifiedConfidence {
			result.Blocked = true
			return insertContradiction(ctx, tx, Contradiction{
				Key: f.Key, ExistingValue: oldValue, NewValue: f.Value,
				ExistingConfidence: oldConf, NewConfidence: f.Confidence,
				Source: f.Source, DetectedAt: now,
			})
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE profile_facts
			SET value = ?, topic = ?, confidence = ?, frequency = frequency + 1, source = ?,
				last_updated = ?, metadata = ?, embedding = ?
			WHERE key = ?
		`, f.Value, f.Topic, f.Confidence, f.Source, formatTime(now), marshalMeta(f.Metadata), embeddingArg(f.Embedding), f.Key)
		if err != nil {
			return err
		}
		result.Written = true
		result.Superseded = true
		return insertContradiction(ctx, tx, Contradiction{
			Key: f.Key, ExistingValue: oldValue, NewValue: f.Value,
			ExistingConfidence: oldConf, NewConfidence: f.Confidence,
			Source: f.Source, DetectedAt: now, Resolved: true,
		})
	})
	if err != nil {
		return FactWriteResult{}, fmt.Errorf("save profile fact %s: %w", f.Key, err)
	}
	return result, nil
}

// GetProfileFact returns the fact stored under key.
func (s *Store) GetProfileFact(ctx context.Context, key string) (ProfileFact, bool, error) {
	facts, err := s.queryFacts(ctx, `SELECT `+factColumns+` FROM profile_facts WHERE key = ?`, key)
	if err != nil || len(facts) == 0 {
		return ProfileFact{}, false, err
	}
	return facts[0], true, nil
}

// GetProfileFacts returns facts ordered by frequency then confidence.
// A limit of zero or less returns every fact.
func (s *Store) GetProfileFacts(ctx context.Context, limit int) ([]ProfileFact, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryFacts(ctx, `SELECT `+factColumns+` FROM profile_facts
		ORDER BY frequency DESC, confidence DESC, key ASC LIMIT ?`, limit)
}

// FactsByKeyPrefix returns every fact whose key starts with prefix.
func (s *Store) FactsByKeyPrefix(ctx context.Context, prefix string) ([]ProfileFact, error) {
	return s.queryFacts(ctx, `SELECT `+factColumns+` FROM profile_facts
		WHERE key LIKE ? ESCAPE '\' ORDER BY key ASC`, escapeLike(prefix)+"%")
}

// FactsByKeySuffix returns every fact whose key ends with suffix.
func (s *Store) FactsByKeySuffix(ctx context.Context, suffix string) ([]ProfileFact, error) {
	return s.queryFacts(ctx, `SELECT `+factColumns+` FROM profile_facts
		WHERE key LIKE ? ESCAPE '\' ORDER BY key ASC`, "%"+escapeLike(suffix))
}

// DeleteProfileFact removes a fact. Missing keys are not an error.
func (s *Store) DeleteProfileFact(ctx context.Context, key string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM profile_facts WHERE key = ?`, key)
		return err
	})
}

// UpdateFactEmbedding replaces the embedding of a fact.
func (s *Store) UpdateFactEmbedding(ctx context.Context, key string, vec []float32) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE profile_facts SET embedding = ? WHERE key = ?`, embeddingArg(vec), key)
		return err
	})
}

// SearchProfileFactsByEmbedding scores every embedded fact against vec and
// returns the best limit rows at or above threshold.
func (s *Store) SearchProfileFactsByEmbedding(ctx context.Context, vec []float32, limit int, threshold float64) ([]ScoredFact, error) {
	if len(vec) == 0 {
		return nil, nil
	}
	facts, err := s.queryFacts(ctx, `SELECT `+factColumns+` FROM profile_facts WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	var out []ScoredFact
	for _, f := range facts {
		if len(f.Embedding) != len(vec) {
			continue
		}
		score := float64(vector.Cosine(vec, f.Embedding))
		if score < threshold {
			continue
		}
		out = append(out, ScoredFact{Fact: f, Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) queryFacts(ctx context.Context, query string, args ...any) ([]ProfileFact, error) {
	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query profile facts: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

func scanFacts(rows *sql.Rows) ([]ProfileFact, error) {
	var out []ProfileFact
	for rows.Next() {
		var (
			f        ProfileFact
			ts, meta string
			blob     []byte
		)
		if err := rows.Scan(&f.Key, &f.Value, &f.Topic, &f.Confidence, &f.Frequency, &f.Source, &ts, &meta, &blob); err != nil {
			return nil, err
		}
		f.LastUpdated = parseTime(ts)
		unmarshalMeta(meta, &f.Metadata)
		f.Embedding = vector.Decode(blob)
		out = append(out, f)
	}
	return out, rows.Err()
}

func sameValue(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
