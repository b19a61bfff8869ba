package store

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// keywordMap translates Norwegian query words to the English stems used in fact keys.
var keywordMap = map[string]string{
	"søster": "sister", "søstre": "sister", "søsken": "sister",
	"bror": "brother", "brødre": "brother",
	"far": "father", "pappa": "father",
	"mor": "mother", "mamma": "mother",
	"familie": "family",
	"jobb": "job", "arbeid": "job",
	"bolig": "home", "hus": "home",
	"navn": "name", "heter": "name",
	"bursdag": "birthday",
	"alder": "age", "år": "age",
	"hvor": "location", "bor": "location",
	"samler": "collection", "samling": "collection",
	"hobby": "hobby", "hobbyer": "hobby", "interesse": "hobby",
	"datamaskin": "computer", "datamaskiner": "computer", "pc": "computer", "maskin": "computer",
	"niese": "niece", "nieser": "niece",
	"nevø": "nephew", "nevøer": "nephew",
	"barn": "child",
}

// topicWeights scale the relevance of memories per topic. Unlisted topics weigh 1.0.
var topicWeights = map[string]float64{
	TopicFamily:      1.5,
	TopicHobby:       1.5,
	TopicWork:        1.3,
	TopicProjects:    1.4,
	TopicHealth:      1.2,
	TopicPets:        1.2,
	TopicPreferences: 1.0,
	TopicTechnical:   1.1,
	TopicWeather:     0.3,
	TopicGeneral:     0.8,
}

func queryWords(q string) []string {
	return wordPattern.FindAllString(strings.ToLower(q), -1)
}

// translateKeywords maps query words to English key stems, keeping query order.
// Long map entries also match inflected forms ("søsteren", "bursdagen").
func translateKeywords(words []string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(en string) {
		if !seen[en] {
			seen[en] = true
			out = append(out, en)
		}
	}
	for _, w := range words {
		if en, ok := keywordMap[w]; ok {
			add(en)
			continue
		}
		for no, en := range keywordMap {
			if utf8.RuneCountInString(no) >= 4 && strings.HasPrefix(w, no) {
				add(en)
				break
			}
		}
	}
	return out
}

func quoteFTS(w string) string {
	return `"` + strings.ReplaceAll(w, `"`, `""`) + `"`
}

const factColumnsPF = `pf.key, pf.value, pf.topic, pf.confidence, pf.frequency, pf.source, pf.last_updated, pf.metadata, pf.embedding`

// SearchProfileFactsByKeyword finds facts for a free-text (Norwegian) query.
// Translated key stems are tried against the unicode index first, then the
// query words against the trigram index, then a LIKE scan.
func (s *Store) SearchProfileFactsByKeyword(ctx context.Context, query string, limit int) ([]ProfileFact, error) {
	if limit <= 0 {
		limit = 10
	}
	words := queryWords(query)
	keywords := translateKeywords(words)

	if len(keywords) > 0 {
		terms := make([]string, len(keywords))
		for i, kw := range keywords {
			terms[i] = kw + "*"
		}
		facts, err := s.queryFacts(ctx, `SELECT `+factColumnsPF+`
			FROM profile_facts_fts JOIN profile_facts pf ON pf.id = profile_facts_fts.rowid
			WHERE profile_facts_fts MATCH ?
			ORDER BY bm25(profile_facts_fts) LIMIT ?`, strings.Join(terms, " OR "), limit)
		if err != nil {
			slog.Debug("Fact keyword search failed", "error", err)
		} else if len(facts) > 0 {
			return facts, nil
		}
	}

	var trigramTerms []string
	for _, w := range words {
		if utf8.RuneCountInString(w) >= 3 {
			trigramTerms = append(trigramTerms, quoteFTS(w))
		}
	}
	if len(trigramTerms) > 0 {
		facts, err := s.queryFacts(ctx, `SELECT `+factColumnsPF+`
			FROM profile_facts_trigram JOIN profile_facts pf ON pf.id = profile_facts_trigram.rowid
			WHERE profile_facts_trigram MATCH ?
			ORDER BY bm25(profile_facts_trigram) LIMIT ?`, strings.Join(trigramTerms, " OR "), max(1, limit/2))
		if err != nil {
			slog.Debug("Fact trigram search failed", "error", err)
		} else if len(facts) > 0 {
			return facts, nil
		}
	}

	terms := append([]string{strings.TrimSpace(query)}, keywords...)
	var (
		clauses []string
		args    []any
	)
	for _, t := range terms {
		if t == "" {
			continue
		}
		like := "%" + escapeLike(t) + "%"
		clauses = append(clauses, `key LIKE ? ESCAPE '\' OR value LIKE ? ESCAPE '\' OR topic LIKE ? ESCAPE '\'`)
		args = append(args, like, like, like)
	}
	if len(clauses) == 0 {
		return nil, nil
	}
	args = append(args, limit)
	return s.queryFacts(ctx, `SELECT `+factColumns+` FROM profile_facts WHERE `+strings.Join(clauses, " OR ")+`
		ORDER BY frequency DESC, confidence DESC LIMIT ?`, args...)
}

// RelevanceScore weighs a memory by topic, frequency, recency of access and confidence.
func RelevanceScore(m Memory, now time.Time) float64 {
	weight, ok := topicWeights[m.Topic]
	if !ok {
		weight = 1.0
	}
	freq := 1 + math.Log(float64(m.Frequency)+1)*0.3
	days := now.Sub(m.LastAccessed).Hours() / 24
	if days < 0 {
		days = 0
	}
	recency := math.Exp(-days / 30)
	return weight * freq * recency * m.Confidence
}

const memoryColumnsM = `m.id, m.text, m.topic, m.frequency, m.confidence, m.source, m.first_seen, m.last_accessed, m.user_name, m.metadata, m.embedding`

// SearchMemoriesByFullText ranks memories matching any query word by
// 2/(|bm25|+1) plus their relevance score.
func (s *Store) SearchMemoriesByFullText(ctx context.Context, query string, limit int) ([]ScoredMemory, error) {
	if limit <= 0 {
		limit = 5
	}
	words := queryWords(query)
	if len(words) == 0 {
		return nil, nil
	}
	terms := make([]string, len(words))
	for i, w := range words {
		terms[i] = quoteFTS(w)
	}
	rows, err := s.read.QueryContext(ctx, `SELECT `+memoryColumnsM+`, bm25(memories_fts) AS rank
		FROM memories_fts JOIN memories m ON m.id = memories_fts.rowid
		WHERE memories_fts MATCH ?
		ORDER BY rank LIMIT ?`, strings.Join(terms, " OR "), limit*3)
	if err != nil {
		return nil, fmt.Errorf("full-text memory search: %w", err)
	}
	defer rows.Close()

	now := s.now()
	var out []ScoredMemory
	for rows.Next() {
		var rank float64
		m, err := scanMemory(rows, &rank)
		if err != nil {
			return nil, err
		}
		score := 2*(1/(math.Abs(rank)+1)) + RelevanceScore(m, now)
		out = append(out, ScoredMemory{Memory: m, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
