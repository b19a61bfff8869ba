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

const memoryColumns = `id, text, topic, frequency, confidence, source, first_seen, last_accessed, user_name, metadata, embedding`

// Duplicate screening thresholds.
const (
	JaccardMergeThreshold     = 0.80
	JaccardCandidateThreshold = 0.50
	CombinedMergeThreshold    = 0.60
	jaccardWeight             = 0.3
	cosineWeight              = 0.7
)

// BoostAmount is added to the similarity of memories about the current speaker.
const BoostAmount = 0.15

// stopwords are Norwegian function words ignored by the content-word Jaccard.
var stopwords = map[string]bool{
	"i": true, "til": true, "på": true, "denne": true, "den": true, "det": true, "dette": true,
	"skal": true, "en": true, "et": true, "ei": true, "og": true, "å": true, "er": true,
	"som": true, "med": true, "for": true, "av": true, "har": true, "jeg": true, "du": true,
	"han": true, "hun": true, "vi": true, "de": true, "om": true, "at": true, "var": true,
	"the": true, "a": true, "to": true, "of": true, "and": true, "is": true,
}

// MemoryWriteResult is the outcome of SaveMemory.
type MemoryWriteResult struct {
	ID     int64
	Merged bool // an existing near-duplicate was updated in place
}

// MemoryQuery parameterises SearchMemoriesByEmbedding.
type MemoryQuery struct {
	Vector     []float32
	Limit      int
	Threshold  float64
	UserFilter string // only memories about this user
	BoostUser  string // add BoostAmount for memories about this user
	Touch      bool   // bump last_accessed and frequency of returned rows
}

// SaveMemory inserts a memory. With checkDuplicates the same-topic rows are
// screened first: word-set Jaccard at or above JaccardMergeThreshold merges
// outright; candidates between the two Jaccard thresholds merge when
// 0.3*jaccard + 0.7*cosine reaches CombinedMergeThreshold. A merge replaces
// the existing row's text and metadata and keeps its id.
func (s *Store) SaveMemory(ctx context.Context, m Memory, checkDuplicates bool) (MemoryWriteResult, error) {
	var result MemoryWriteResult
	if strings.TrimSpace(m.Text) == "" {
		return result, errors.New("save memory: empty text")
	}
	if m.Topic == "" {
		m.Topic = TopicGeneral
	}
	if m.Source == "" {
		m.Source = SourceExtracted
	}
	if m.Confidence == 0 {
		m.Confidence = 0.8
	}
	now := s.now()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if checkDuplicates {
			id, err := findDuplicate(ctx, tx, m)
			if err != nil {
				return err
			}
			if id != 0 {
				_, err = tx.ExecContext(ctx, `
					UPDATE memories
					SET text = ?, metadata = ?, last_accessed = ?, frequency = frequency + 1,
						embedding = COALESCE(?, embedding)
					WHERE id = ?
				`, m.Text, marshalMeta(m.Metadata), formatTime(now), embeddingArg(m.Embedding), id)
				if err != nil {
					return err
				}
				result = MemoryWriteResult{ID: id, Merged: true}
				return bumpTopic(ctx, tx, m.Topic, m.Metadata.Importance, now)
			}
		}

		firstSeen := m.FirstSeen
		if firstSeen.IsZero() {
			firstSeen = now
		}
		lastAccessed := m.LastAccessed
		if lastAccessed.IsZero() {
			lastAccessed = now
		}
		freq := m.Frequency
		if freq <= 0 {
			freq = 1
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO memories (text, topic, frequency, confidence, source, first_seen, last_accessed, user_name, metadata, embedding)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, m.Text, m.Topic, freq, m.Confidence, m.Source, formatTime(firstSeen), formatTime(lastAccessed),
			m.UserName, marshalMeta(m.Metadata), embeddingArg(m.Embedding))
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		result = MemoryWriteResult{ID: id}
		return bumpTopic(ctx, tx, m.Topic, m.Metadata.Importance, now)
	})
	if err != nil {
		return MemoryWriteResult{}, fmt.Errorf("save memory: %w", err)
	}
	return result, nil
}

func findDuplicate(ctx context.Context, tx *sql.Tx, m Memory) (int64, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id, text, embedding FROM memories WHERE topic = ? ORDER BY id ASC`, m.Topic)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	type candidate struct {
		id      int64
		jaccard float64
		vec     []float32
	}
	var candidates []candidate
	for rows.Next() {
		var (
			id   int64
			text string
			blob []byte
		)
		if err := rows.Scan(&id, &text, &blob); err != nil {
			return 0, err
		}
		j := Jaccard(m.Text, text)
		if j >= JaccardMergeThreshold {
			return id, nil
		}
		if j >= JaccardCandidateThreshold {
			candidates = append(candidates, candidate{id: id, jaccard: j, vec: vector.Decode(blob)})
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(m.Embedding) == 0 {
		return 0, nil
	}

	var (
		bestID    int64
		bestScore float64
	)
	for _, c := range candidates {
		if len(c.vec) != len(m.Embedding) {
			continue
		}
		combined := jaccardWeight*c.jaccard + cosineWeight*float64(vector.Cosine(m.Embedding, c.vec))
		if combined >= CombinedMergeThreshold && combined > bestScore {
			bestID, bestScore = c.id, combined
		}
	}
	return bestID, nil
}

// Jaccard compares the word sets of two texts. It takes the larger of the
// all-word score and the score over content words with function words removed.
func Jaccard(a, b string) float64 {
	wa, wb := queryWords(a), queryWords(b)
	raw := setJaccard(wa, wb)
	ca, cb := contentWords(wa), contentWords(wb)
	if len(ca) == 0 || len(cb) == 0 {
		return raw
	}
	return max(raw, setJaccard(ca, cb))
}

func contentWords(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if !stopwords[w] {
			out = append(out, w)
		}
	}
	return out
}

func setJaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	sa := make(map[string]bool, len(a))
	for _, w := range a {
		sa[w] = true
	}
	sb := make(map[string]bool, len(b))
	for _, w := range b {
		sb[w] = true
	}
	inter := 0
	for w := range sa {
		if sb[w] {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

// GetMemory returns one memory by id.
func (s *Store) GetMemory(ctx context.Context, id int64) (Memory, bool, error) {
	mems, err := s.queryMemories(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	if err != nil || len(mems) == 0 {
		return Memory{}, false, err
	}
	return mems[0], true, nil
}

// ListMemories returns memories ordered by id. A limit of zero or less returns all.
func (s *Store) ListMemories(ctx context.Context, limit int) ([]Memory, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryMemories(ctx, `SELECT `+memoryColumns+` FROM memories ORDER BY id ASC LIMIT ?`, limit)
}

// SearchMemoriesByEmbedding scores every embedded memory against q.Vector.
// Memories about q.BoostUser gain BoostAmount (capped at 1) before the
// threshold and ranking are applied.
func (s *Store) SearchMemoriesByEmbedding(ctx context.Context, q MemoryQuery) ([]ScoredMemory, error) {
	if len(q.Vector) == 0 {
		return nil, nil
	}
	query := `SELECT ` + memoryColumns + ` FROM memories WHERE embedding IS NOT NULL`
	var args []any
	if q.UserFilter != "" {
		query += ` AND user_name = ? COLLATE NOCASE`
		args = append(args, q.UserFilter)
	}
	mems, err := s.queryMemories(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	var out []ScoredMemory
	for _, m := range mems {
		if len(m.Embedding) != len(q.Vector) {
			continue
		}
		score := float64(vector.Cosine(q.Vector, m.Embedding))
		if q.BoostUser != "" && strings.EqualFold(m.UserName, q.BoostUser) {
			score = min(1.0, score+BoostAmount)
		}
		if score < q.Threshold {
			continue
		}
		out = append(out, ScoredMemory{Memory: m, Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}

	if q.Touch {
		for _, sm := range out {
			if err := s.TouchMemory(ctx, sm.Memory.ID); err != nil {
				return out, err
			}
		}
	}
	return out, nil
}

// TouchMemory records a retrieval: last_accessed is set to now and frequency incremented.
func (s *Store) TouchMemory(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE memories SET last_accessed = ?, frequency = frequency + 1 WHERE id = ?`,
			formatTime(s.now()), id)
		return err
	})
}

// UpdateMemoryEmbedding replaces the embedding of a memory.
func (s *Store) UpdateMemoryEmbedding(ctx context.Context, id int64, vec []float32) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE memories SET embedding = ? WHERE id = ?`, embeddingArg(vec), id)
		return err
	})
}

// DeleteMemories removes the given memories.
func (s *Store) DeleteMemories(ctx context.Context, ids ...int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var n int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			res, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
			if err != nil {
				return err
			}
			c, _ := res.RowsAffected()
			n += c
		}
		return nil
	})
	return n, err
}

func (s *Store) queryMemories(ctx context.Context, query string, args ...any) ([]Memory, error) {
	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()
	var out []Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanMemory reads memoryColumns followed by any extra destinations.
func scanMemory(rows rowScanner, extra ...any) (Memory, error) {
	var (
		m                 Memory
		first, last, meta string
		blob              []byte
	)
	dest := []any{&m.ID, &m.Text, &m.Topic, &m.Frequency, &m.Confidence, &m.Source, &first, &last, &m.UserName, &meta, &blob}
	if err := rows.Scan(append(dest, extra...)...); err != nil {
		return Memory{}, err
	}
	m.FirstSeen = parseTime(first)
	m.LastAccessed = parseTime(last)
	unmarshalMeta(meta, &m.Metadata)
	m.Embedding = vector.Decode(blob)
	return m, nil
}
