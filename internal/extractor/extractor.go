// Package extractor mines messages, SMS and whole sessions for profile facts
// and episodic memories with JSON-mode LLM calls.
package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/duckmemory/duckmem/internal/metrics"
	"github.com/duckmemory/duckmem/internal/provider"
	"github.com/duckmemory/duckmem/internal/store"
)

// Fact is one extracted profile fact. Zero Confidence means "use the caller's default".
type Fact struct {
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Topic      string  `json:"topic"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// MemoryItem is one extracted episodic memory.
type MemoryItem struct {
	Text       string  `json:"text"`
	Topic      string  `json:"topic"`
	Importance int     `json:"importance"`
	Confidence float64 `json:"confidence"`
}

// Result is the outcome of one extraction. It is always usable: a failed or
// skipped call yields empty lists with importance 1.
type Result struct {
	ProfileFacts []Fact       `json:"profile_facts"`
	Memories     []MemoryItem `json:"memories"`
	Topics       []string     `json:"topics"`
	Importance   int          `json:"importance"`
	SessionMood  string       `json:"session_mood,omitempty"`
	SessionTheme string       `json:"session_theme,omitempty"`

	Skipped bool  `json:"-"` // trivial filter fired, no LLM call
	Err     error `json:"-"` // terminal failure after retries
}

// Empty reports whether the result carries nothing to save.
func (r Result) Empty() bool {
	return len(r.ProfileFacts) == 0 && len(r.Memories) == 0
}

func emptyResult() Result {
	return Result{Importance: 1}
}

// Exchange is one user/assistant turn given to the extractor.
type Exchange struct {
	User string
	AI   string
}

// Options configures an Extractor.
type Options struct {
	Model       string // empty uses the chat model's default
	SMSModel    string // empty uses Model
	MaxTokens   int
	Temperature float64
	Retries     int           // retries after the first attempt
	Timeout     time.Duration // total budget per extraction including retries
	RetryBase   time.Duration // first backoff step, doubled per retry
	RatePerSec  float64       // 0 disables limiting
}

// DefaultOptions returns the production settings: 3 retries at 1s, 2s and 4s
// inside a 30s budget.
func DefaultOptions() Options {
	return Options{
		MaxTokens:   1500,
		Temperature: 0.3,
		Retries:     3,
		Timeout:     30 * time.Second,
		RetryBase:   time.Second,
	}
}

// Extractor runs extraction calls against a chat model.
type Extractor struct {
	chat    provider.ChatModel
	opts    Options
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error

	calls   atomic.Int64
	skipped atomic.Int64
}

// New creates an Extractor.
func New(chat provider.ChatModel, opts Options) *Extractor {
	if opts.Model == "" && chat != nil {
		opts.Model = chat.DefaultModel()
	}
	if opts.SMSModel == "" {
		opts.SMSModel = opts.Model
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = time.Second
	}
	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}
	return &Extractor{
		chat:    chat,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		sleep:   sleepContext,
	}
}

// Calls returns the number of LLM requests issued.
func (e *Extractor) Calls() int64 { return e.calls.Load() }

// Skipped returns the number of conversation extractions skipped as trivial.
func (e *Extractor) Skipped() int64 { return e.skipped.Load() }

// ExtractFromConversation extracts from one exchange. Trivial messages are
// answered without an LLM call.
func (e *Extractor) ExtractFromConversation(ctx context.Context, userText, aiText string, history []Exchange) Result {
	if IsTrivial(userText) {
		e.skipped.Add(1)
		r := emptyResult()
		r.Topics = DetectTrivialTopics(userText)
		r.Skipped = true
		return r
	}
	return e.extract(ctx, "conversation", e.opts.Model, conversationPrompt(userText, aiText, history))
}

// ExtractFromSMS extracts facts and memories about sender from an inbound SMS.
// Fact keys are forced under the lowercased sender prefix.
func (e *Extractor) ExtractFromSMS(ctx context.Context, sender, message string) Result {
	r := e.extract(ctx, "sms", e.opts.SMSModel, smsPrompt(sender, message))
	prefix := keyPrefix(sender) + "_"
	for i := range r.ProfileFacts {
		if !strings.HasPrefix(r.ProfileFacts[i].Key, prefix) {
			r.ProfileFacts[i].Key = prefix + r.ProfileFacts[i].Key
		}
	}
	return r
}

// ExtractSessionInsights extracts whole-session patterns plus mood and theme.
// Sessions shorter than three messages return an empty result.
func (e *Extractor) ExtractSessionInsights(ctx context.Context, messages []Exchange) Result {
	if len(messages) < 3 {
		return emptyResult()
	}
	r := e.extract(ctx, "session", e.opts.Model, sessionPrompt(messages))
	r.SessionMood = NormalizeMood(r.SessionMood)
	return r
}

// Summarize asks for a one-to-two sentence summary of the first ten messages.
func (e *Extractor) Summarize(ctx context.Context, messages []Exchange) (string, error) {
	total := len(messages)
	if len(messages) > 10 {
		messages = messages[:10]
	}
	var out struct {
		Summary string `json:"summary"`
	}
	if err := e.call(ctx, "summary", e.opts.Model, summaryPrompt(messages, total), &out); err != nil {
		return "", err
	}
	summary := strings.TrimSpace(out.Summary)
	if summary == "" {
		return "", errors.New("summary response was empty")
	}
	return summary, nil
}

// Consolidate condenses memory texts of one topic into at most three summaries.
func (e *Extractor) Consolidate(ctx context.Context, topic string, texts []string) ([]string, error) {
	var out struct {
		Summaries []string `json:"summaries"`
	}
	if err := e.call(ctx, "consolidation", e.opts.Model, consolidationPrompt(topic, texts), &out); err != nil {
		return nil, err
	}
	var summaries []string
	for _, s := range out.Summaries {
		if s = strings.TrimSpace(s); s != "" {
			summaries = append(summaries, s)
		}
		if len(summaries) == 3 {
			break
		}
	}
	if len(summaries) == 0 {
		return nil, errors.New("consolidation returned no summaries")
	}
	return summaries, nil
}

func (e *Extractor) extract(ctx context.Context, kind, model, prompt string) Result {
	var r Result
	if err := e.call(ctx, kind, model, prompt, &r); err != nil {
		slog.Warn("Memory extraction failed", "kind", kind, "error", err)
		failed := emptyResult()
		failed.Err = err
		return failed
	}
	return r.normalize()
}

// call issues one JSON-mode request with retries inside the total timeout.
// Unparseable replies are retried like transport failures.
func (e *Extractor) call(ctx context.Context, kind, model, prompt string, out any) error {
	if e.chat == nil {
		return errors.New("no chat model configured")
	}
	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	req := &provider.ChatRequest{
		Model: model,
		Messages: []provider.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   e.opts.MaxTokens,
		Temperature: e.opts.Temperature,
		JSONMode:    true,
	}

	var lastErr error
	for attempt := 0; attempt <= e.opts.Retries; attempt++ {
		if attempt > 0 {
			delay := provider.RetryAfter(lastErr)
			if delay <= 0 {
				delay = e.opts.RetryBase << (attempt - 1)
			}
			slog.Debug("Retrying extraction", "kind", kind, "attempt", attempt, "delay", delay)
			if err := e.sleep(ctx, delay); err != nil {
				break
			}
		}
		if err := e.limiter.Wait(ctx); err != nil {
			lastErr = err
			break
		}

		e.calls.Add(1)
		resp, err := e.chat.Chat(ctx, req)
		if err == nil {
			if err = decodeJSON(resp.Content, out); err == nil {
				metrics.Extractions.WithLabelValues(kind, "ok").Inc()
				return nil
			}
		}
		lastErr = err
		if ctx.Err() != nil || !provider.IsRetryable(err) {
			break
		}
	}
	metrics.Extractions.WithLabelValues(kind, "failed").Inc()
	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return fmt.Errorf("%s extraction: %w", kind, lastErr)
}

// decodeJSON parses content, tolerating a markdown code fence around the object.
func decodeJSON(content string, out any) error {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("decode model reply: %w", err)
	}
	return nil
}

// normalize drops unusable entries and clamps enumerations into range.
func (r Result) normalize() Result {
	facts := r.ProfileFacts[:0:0]
	for _, f := range r.ProfileFacts {
		f.Key = strings.ToLower(strings.TrimSpace(f.Key))
		f.Value = strings.TrimSpace(f.Value)
		if f.Key == "" || f.Value == "" {
			continue
		}
		f.Topic = normalizeTopic(f.Topic)
		f.Confidence = clamp(f.Confidence, 0, 1)
		facts = append(facts, f)
	}
	r.ProfileFacts = facts

	memories := r.Memories[:0:0]
	for _, m := range r.Memories {
		m.Text = strings.TrimSpace(m.Text)
		if m.Text == "" {
			continue
		}
		m.Topic = normalizeTopic(m.Topic)
		m.Confidence = clamp(m.Confidence, 0, 1)
		if m.Importance == 0 {
			m.Importance = 3
		}
		m.Importance = int(clamp(float64(m.Importance), 1, 5))
		memories = append(memories, m)
	}
	r.Memories = memories

	r.Importance = int(clamp(float64(r.Importance), 1, 5))
	return r
}

func normalizeTopic(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if store.ValidTopic(t) {
		return t
	}
	return store.TopicGeneral
}

// NormalizeMood maps model output (English or Norwegian) onto the mood tags.
func NormalizeMood(m string) string {
	switch strings.ToLower(strings.TrimSpace(m)) {
	case "glad", "happy", "fornøyd":
		return store.MoodGlad
	case "frustrated", "frustrert", "irritert":
		return store.MoodFrustrated
	case "nostalgic", "nostalgisk":
		return store.MoodNostalgic
	case "engaged", "engasjert", "ivrig":
		return store.MoodEngaged
	case "tired", "sliten", "trøtt":
		return store.MoodTired
	default:
		return store.MoodNeutral
	}
}

// keyPrefix turns a sender name into a fact-key prefix: "Rigmor Lund" -> "rigmor_lund".
func keyPrefix(sender string) string {
	return strings.Join(strings.Fields(strings.ToLower(sender)), "_")
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
