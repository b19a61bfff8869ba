// Package contextbuilder assembles the per-turn memory context: facts,
// memories, recent dialog, images and the previous session.
package contextbuilder

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/duckmemory/duckmem/internal/store"
)

const (
	recentDialogLimit = 5
	queryTurns        = 3
	imageLimit        = 5
	topicLimit        = 5
)

// Embedder embeds the query once per turn.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// UserResolver names the person currently speaking.
type UserResolver interface {
	CurrentUsername(ctx context.Context) string
}

// StaticUser resolves to a fixed name.
type StaticUser string

func (u StaticUser) CurrentUsername(context.Context) string { return string(u) }

// Turn is one exchange of recent dialog.
type Turn struct {
	User string
	AI   string
}

// ScoredText is a retrieved memory projected for the prompt.
type ScoredText struct {
	ID       int64
	Text     string
	Topic    string
	UserName string
	Score    float64
}

// LastSession carries cross-session continuity.
type LastSession struct {
	Summary      string
	Mood         string
	Theme        string
	MessageCount int
	EndTime      time.Time
	TimeAgo      string
}

// Context is the assembled memory for one user turn.
type Context struct {
	User               string
	Query              string
	ProfileFacts       []store.ProfileFact
	RelevantMemories   []ScoredText
	RecentTopics       []store.TopicStat
	RecentConversation []Turn
	RecentImages       []string
	LastSession        *LastSession
	Degraded           bool // semantic search unavailable, keyword fallback used
}

// Builder assembles contexts from the store.
type Builder struct {
	store    *store.Store
	embedder Embedder
	users    UserResolver
}

// New creates a Builder. A nil embedder uses keyword search only; a nil
// resolver disables the current-user boost and dialog filter.
func New(st *store.Store, emb Embedder, users UserResolver) *Builder {
	return &Builder{store: st, embedder: emb, users: users}
}

// Build assembles the context for query. Retrieval failures degrade to
// smaller results; only cancellation of ctx is returned as an error.
func (b *Builder) Build(ctx context.Context, query string) (*Context, error) {
	start := time.Now()
	settings := LoadSettings(ctx, b.store)
	out := &Context{Query: query}
	if b.users != nil {
		out.User = b.users.CurrentUsername(ctx)
	}

	recent, err := b.store.RecentMessages(ctx, out.User, recentDialogLimit)
	if err != nil {
		slog.Warn("Recent dialog unavailable", "user", out.User, "error", err)
	}
	for _, m := range recent {
		out.RecentConversation = append(out.RecentConversation, Turn{User: m.UserText, AI: m.AIResponse})
	}

	searchText := queryText(query, recent)
	vec := b.embedQuery(ctx, searchText)
	out.Degraded = vec == nil

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out.ProfileFacts = b.facts(gctx, settings, vec, searchText)
		return nil
	})
	g.Go(func() error {
		out.RelevantMemories = b.memories(gctx, settings, vec, searchText, out.User)
		return nil
	})
	g.Go(func() error {
		topics, err := b.store.RecentTopics(gctx, topicLimit)
		if err != nil {
			slog.Debug("Recent topics unavailable", "error", err)
		}
		out.RecentTopics = topics
		return nil
	})
	g.Go(func() error {
		out.RecentImages = b.images(gctx)
		return nil
	})
	g.Go(func() error {
		out.LastSession = b.lastSession(gctx, out.User)
		return nil
	})
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	slog.Debug("Memory context built",
		"user", out.User,
		"facts", len(out.ProfileFacts),
		"memories", len(out.RelevantMemories),
		"degraded", out.Degraded,
		"elapsed", time.Since(start))
	return out, nil
}

// queryText joins the current query with the previous user turns, newest
// first, until queryTurns texts are collected.
func queryText(query string, recent []store.Message) string {
	parts := make([]string, 0, queryTurns)
	if q := strings.TrimSpace(query); q != "" {
		parts = append(parts, q)
	}
	for i := len(recent) - 1; i >= 0 && len(parts) < queryTurns; i-- {
		t := strings.TrimSpace(recent[i].UserText)
		if t != "" && (len(parts) == 0 || t != parts[0]) {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func (b *Builder) embedQuery(ctx context.Context, text string) []float32 {
	if b.embedder == nil || strings.TrimSpace(text) == "" {
		return nil
	}
	vec, err := b.embedder.Embed(ctx, text)
	if err != nil {
		slog.Warn("Query embedding failed, using keyword search", "error", err)
		return nil
	}
	return vec
}

// facts merges searched, expanded and frequent facts in that order, deduplicated by key.
func (b *Builder) facts(ctx context.Context, s Settings, vec []float32, text string) []store.ProfileFact {
	if s.MaxContextFacts <= 0 {
		return nil
	}
	searched := b.searchFacts(ctx, s, vec, text)
	expanded := dedupFacts(append(searched, b.relatedFacts(ctx, searched)...))

	combined := expanded
	if len(expanded) < s.ExpandThreshold && s.FrequentFactsLimit > 0 {
		frequent, err := b.store.GetProfileFacts(ctx, s.FrequentFactsLimit)
		if err != nil {
			slog.Warn("Frequent facts unavailable", "error", err)
		}
		combined = dedupFacts(append(combined, frequent...))
	}
	if len(combined) > s.MaxContextFacts {
		combined = combined[:s.MaxContextFacts]
	}
	return combined
}

func (b *Builder) searchFacts(ctx context.Context, s Settings, vec []float32, text string) []store.ProfileFact {
	if vec != nil {
		scored, err := b.store.SearchProfileFactsByEmbedding(ctx, vec, s.EmbeddingSearchLimit, FactThreshold)
		if err == nil {
			out := make([]store.ProfileFact, 0, len(scored))
			for _, sf := range scored {
				out = append(out, sf.Fact)
			}
			return out
		}
		slog.Warn("Semantic fact search failed, using keyword search", "error", err)
	}
	facts, err := b.store.SearchProfileFactsByKeyword(ctx, text, s.EmbeddingSearchLimit)
	if err != nil {
		slog.Warn("Keyword fact search failed", "error", err)
		return nil
	}
	return facts
}

var familyMemberKey = regexp.MustCompile(`^((?:sister|brother)_\d+)(_child_\d+)?(?:_|$)`)

// relatedFacts returns every attribute of the family members named by keys in
// facts. A child key pulls in its parent's rows, which include the child's own.
func (b *Builder) relatedFacts(ctx context.Context, facts []store.ProfileFact) []store.ProfileFact {
	seen := make(map[string]bool)
	var out []store.ProfileFact
	for _, f := range facts {
		m := familyMemberKey.FindStringSubmatch(f.Key)
		if m == nil {
			continue
		}
		prefix := m[1] + "_"
		if seen[prefix] {
			continue
		}
		seen[prefix] = true
		related, err := b.store.FactsByKeyPrefix(ctx, prefix)
		if err != nil {
			slog.Debug("Related fact lookup failed", "prefix", prefix, "error", err)
			continue
		}
		out = append(out, related...)
	}
	return out
}

func dedupFacts(facts []store.ProfileFact) []store.ProfileFact {
	seen := make(map[string]bool, len(facts))
	out := facts[:0:0]
	for _, f := range facts {
		if seen[f.Key] {
			continue
		}
		seen[f.Key] = true
		out = append(out, f)
	}
	return out
}

func (b *Builder) memories(ctx context.Context, s Settings, vec []float32, text, user string) []ScoredText {
	if s.MemoryLimit <= 0 {
		return nil
	}
	if vec != nil {
		res, err := b.store.SearchMemoriesByEmbedding(ctx, store.MemoryQuery{
			Vector:    vec,
			Limit:     s.MemoryLimit,
			Threshold: s.MemoryThreshold,
			BoostUser: user,
		})
		if err == nil {
			return projectMemories(res)
		}
		slog.Warn("Semantic memory search failed, using full-text search", "error", err)
	}
	res, err := b.store.SearchMemoriesByFullText(ctx, text, s.MemoryLimit)
	if err != nil {
		slog.Warn("Full-text memory search failed", "error", err)
		return nil
	}
	return projectMemories(res)
}

func projectMemories(res []store.ScoredMemory) []ScoredText {
	out := make([]ScoredText, 0, len(res))
	for _, sm := range res {
		out = append(out, ScoredText{
			ID:       sm.Memory.ID,
			Text:     sm.Memory.Text,
			Topic:    sm.Memory.Topic,
			UserName: sm.Memory.UserName,
			Score:    sm.Score,
		})
	}
	return out
}

func (b *Builder) images(ctx context.Context) []string {
	imgs, err := b.store.RecentImages(ctx, imageLimit)
	if err != nil {
		slog.Debug("Recent images unavailable", "error", err)
		return nil
	}
	now := b.store.Now()
	out := make([]string, 0, len(imgs))
	for _, img := range imgs {
		out = append(out, FormatImage(img, now))
	}
	return out
}

func (b *Builder) lastSession(ctx context.Context, user string) *LastSession {
	sum, err := b.store.GetLastSessionSummary(ctx, user)
	if err != nil {
		slog.Debug("Last session unavailable", "error", err)
		return nil
	}
	if sum == nil {
		return nil
	}
	return &LastSession{
		Summary:      sum.Summary,
		Mood:         sum.Mood,
		Theme:        sum.Theme,
		MessageCount: sum.MessageCount,
		EndTime:      sum.EndTime,
		TimeAgo:      TimeAgo(sum.EndTime, b.store.Now()),
	}
}
