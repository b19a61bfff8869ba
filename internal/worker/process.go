package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/duckmemory/duckmem/internal/extractor"
	"github.com/duckmemory/duckmem/internal/metrics"
	"github.com/duckmemory/duckmem/internal/store"
)

// TopicTTL gives the freshness window in days of time-limited topics.
// Facts and memories in these topics get an expires_at.
var TopicTTL = map[string]int{
	store.TopicEmotions:  7,
	store.TopicDailyLife: 7,
	store.TopicHealth:    14,
	store.TopicWork:      30,
	store.TopicWeather:   1,
}

// HighConfidence is the existing-confidence level that lower-confidence writes cannot override.
const HighConfidence = 0.9

// FactAction is the contradiction-rule verdict for a fact write.
type FactAction string

const (
	FactAccept    FactAction = "accept"    // new key or lower-stakes overwrite
	FactRepeat    FactAction = "repeat"    // same value, frequency bump
	FactSupersede FactAction = "supersede" // higher confidence replaces a different value
	FactBlock     FactAction = "block"     // weaker write against a high-confidence value
)

// FactDecision is the typed outcome of EvaluateFact.
type FactDecision struct {
	Action FactAction
	Reason string
}

// EvaluateFact applies the contradiction rule to a proposed write. existing is
// nil when the key is new.
func EvaluateFact(existing *store.ProfileFact, value string, confidence float64) FactDecision {
	switch {
	case existing == nil:
		return FactDecision{Action: FactAccept, Reason: "new key"}
	case strings.EqualFold(strings.TrimSpace(existing.Value), strings.TrimSpace(value)):
		return FactDecision{Action: FactRepeat, Reason: "same value"}
	case existing.Confidence >= HighConfidence && confidence < existing.Confidence:
		return FactDecision{Action: FactBlock,
			Reason: fmt.Sprintf("existing %q has confidence %.2f", existing.Value, existing.Confidence)}
	case confidence > existing.Confidence:
		return FactDecision{Action: FactSupersede, Reason: "higher confidence"}
	default:
		return FactDecision{Action: FactAccept, Reason: "overwrite"}
	}
}

// origin describes where an extraction came from; it fills metadata and defaults.
type origin struct {
	source            string
	messageID         int64
	smsID             int64
	session           string
	defaultConfidence float64
	sender            string
	userName          string
}

// ProcessMessages extracts from up to BatchSize unprocessed messages. Every
// fetched message is marked processed, whatever the extraction outcome.
func (w *Worker) ProcessMessages(ctx context.Context) (int, error) {
	msgs, err := w.store.GetUnprocessedMessages(ctx, w.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch unprocessed messages: %w", err)
	}
	if len(msgs) > 0 {
		slog.Debug("Processing messages", "count", len(msgs))
	}
	for _, msg := range msgs {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		outcome := w.processMessage(ctx, msg)
		metrics.WorkerMessages.WithLabelValues(outcome).Inc()

		if err := w.store.MarkProcessed(ctx, msg.ID); err != nil {
			return 0, fmt.Errorf("mark message %d processed: %w", msg.ID, err)
		}
		w.processed.Add(1)
	}
	return len(msgs), nil
}

func (w *Worker) processMessage(ctx context.Context, msg store.Message) (outcome string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Message processing panicked", "id", msg.ID, "panic", r)
			outcome = "failed"
		}
	}()

	history, err := w.conversationContext(ctx, msg)
	if err != nil {
		slog.Warn("Conversation context unavailable", "id", msg.ID, "error", err)
	}

	r := w.extractor.ExtractFromConversation(ctx, msg.UserText, msg.AIResponse, history)
	if r.Skipped {
		w.trivial.Add(1)
		slog.Debug("Trivial message skipped", "id", msg.ID, "topics", r.Topics)
		return "trivial"
	}
	if r.Err != nil {
		return "failed"
	}

	user := msg.UserName
	if user == "" {
		user = w.cfg.PrimaryUser
	}
	w.saveExtracted(ctx, r, origin{
		source:            store.SourceExtracted,
		messageID:         msg.ID,
		session:           msg.SessionID,
		defaultConfidence: 0.8,
		userName:          user,
	})
	if r.Importance >= 4 {
		slog.Info("Important conversation", "id", msg.ID, "importance", r.Importance)
	}
	return "extracted"
}

// conversationContext returns the earlier messages of the same session, or
// the two preceding messages when there is no session history.
func (w *Worker) conversationContext(ctx context.Context, msg store.Message) ([]extractor.Exchange, error) {
	var prior []store.Message
	if msg.SessionID != "" {
		session, err := w.store.SessionMessages(ctx, msg.SessionID)
		if err != nil {
			return nil, err
		}
		for _, m := range session {
			if m.ID < msg.ID {
				prior = append(prior, m)
			}
		}
	}
	if len(prior) == 0 {
		var err error
		prior, err = w.store.MessagesBefore(ctx, msg.ID, 2)
		if err != nil {
			return nil, err
		}
	}
	return exchanges(prior), nil
}

// ProcessSMS extracts from up to BatchSize pending inbound SMS. Every fetched
// SMS is marked processed.
func (w *Worker) ProcessSMS(ctx context.Context) (int, error) {
	pending, err := w.store.PendingInboundSMS(ctx, w.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch pending sms: %w", err)
	}
	for _, sms := range pending {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		sender := strings.TrimSpace(sms.SenderName)
		if sender == "" {
			sender = sms.Phone
		}
		r := w.extractor.ExtractFromSMS(ctx, sender, sms.Message)
		outcome := "extracted"
		if r.Err != nil {
			outcome = "failed"
		} else {
			w.saveExtracted(ctx, r, origin{
				source:            store.SourceSMS,
				smsID:             sms.ID,
				defaultConfidence: 0.7,
				sender:            sender,
				userName:          w.cfg.PrimaryUser,
			})
		}
		metrics.WorkerSMS.WithLabelValues(outcome).Inc()

		if err := w.store.MarkSMSProcessed(ctx, sms.ID); err != nil {
			return 0, fmt.Errorf("mark sms %d processed: %w", sms.ID, err)
		}
		w.smsProcessed.Add(1)
	}
	return len(pending), nil
}

// saveExtracted writes facts under the contradiction rule and memories with
// duplicate screening. Individual write failures are logged and skipped.
func (w *Worker) saveExtracted(ctx context.Context, r extractor.Result, o origin) {
	now := w.now()
	for _, f := range r.ProfileFacts {
		if err := w.saveFact(ctx, f, o, now); err != nil {
			slog.Warn("Could not save fact", "key", f.Key, "error", err)
		}
	}
	for _, m := range r.Memories {
		if err := w.saveMemory(ctx, m, o, now); err != nil {
			slog.Warn("Could not save memory", "text", truncate(m.Text, 50), "error", err)
		}
	}
}

func (w *Worker) saveFact(ctx context.Context, f extractor.Fact, o origin, now time.Time) error {
	confidence := f.Confidence
	if confidence == 0 {
		confidence = o.defaultConfidence
	}

	existing, found, err := w.store.GetProfileFact(ctx, f.Key)
	if err != nil {
		return err
	}
	var prev *store.ProfileFact
	if found {
		prev = &existing
	}
	decision := EvaluateFact(prev, f.Value, confidence)
	metrics.FactDecisions.WithLabelValues(string(decision.Action)).Inc()

	if decision.Action == FactBlock {
		w.contradictions.Add(1)
		slog.Warn("Contradiction blocked fact", "key", f.Key, "value", f.Value, "reason", decision.Reason)
		return w.store.RecordContradiction(ctx, store.Contradiction{
			Key:                f.Key,
			ExistingValue:      existing.Value,
			NewValue:           f.Value,
			ExistingConfidence: existing.Confidence,
			NewConfidence:      confidence,
			Source:             "extraction",
		})
	}

	learned := now
	meta := store.FactMetadata{
		LearnedAt:            &learned,
		LearnedFrom:          o.source,
		SourceMessageID:      o.messageID,
		SourceSMSID:          o.smsID,
		SourceSession:        o.session,
		ExtractionConfidence: confidence,
		Sender:               o.sender,
		ExpiresAt:            expiry(f.Topic, now),
	}
	fact := store.ProfileFact{
		Key:        f.Key,
		Value:      f.Value,
		Topic:      f.Topic,
		Confidence: confidence,
		Source:     factSource(f.Source, o.source),
		Metadata:   meta,
		Embedding:  w.embed(ctx, store.FactEmbeddingText(f.Key, f.Value)),
	}
	res, err := w.store.SaveProfileFact(ctx, fact)
	if err != nil {
		return err
	}
	switch {
	case res.Blocked:
		w.contradictions.Add(1)
		slog.Warn("Verified fact kept", "key", f.Key, "kept", res.Previous, "rejected", f.Value)
	case res.Superseded:
		slog.Info("Fact updated", "key", f.Key, "from", res.Previous, "to", f.Value, "reason", decision.Reason)
	default:
		slog.Info("Fact saved", "user", o.userName, "key", f.Key, "value", f.Value)
	}
	return nil
}

func (w *Worker) saveMemory(ctx context.Context, m extractor.MemoryItem, o origin, now time.Time) error {
	confidence := m.Confidence
	if confidence == 0 {
		confidence = o.defaultConfidence
	}
	learned := now
	meta := store.MemoryMetadata{
		LearnedAt:       &learned,
		LearnedFrom:     o.source,
		SourceMessageID: o.messageID,
		SourceSMSID:     o.smsID,
		SourceSession:   o.session,
		Importance:      m.Importance,
		ExpiresAt:       expiry(m.Topic, now),
	}
	if o.sender != "" {
		meta.Sender = o.sender
		meta.AboutPerson = o.sender
	}
	res, err := w.store.SaveMemory(ctx, store.Memory{
		Text:       m.Text,
		Topic:      m.Topic,
		Confidence: confidence,
		Source:     o.source,
		UserName:   o.userName,
		Metadata:   meta,
		Embedding:  w.embed(ctx, m.Text),
	}, true)
	if err != nil {
		return err
	}
	slog.Info("Memory saved", "user", o.userName, "id", res.ID, "merged", res.Merged, "text", truncate(m.Text, 50))
	return nil
}

// embed returns nil on failure so the row is stored without a vector.
func (w *Worker) embed(ctx context.Context, text string) []float32 {
	if w.embedder == nil {
		return nil
	}
	v, err := w.embedder.Embed(ctx, text)
	if err != nil {
		slog.Warn("Embedding failed, storing without vector", "error", err)
		return nil
	}
	return v
}

func expiry(topic string, now time.Time) *time.Time {
	days, ok := TopicTTL[topic]
	if !ok {
		return nil
	}
	t := now.AddDate(0, 0, days)
	return &t
}

// factSource keeps the model's tag for plain extraction and forces the origin otherwise.
func factSource(reported, originSource string) string {
	if originSource != store.SourceExtracted {
		return originSource
	}
	switch reported {
	case store.SourceUser, store.SourceExtracted, store.SourceInferred:
		return reported
	default:
		return store.SourceExtracted
	}
}

func exchanges(msgs []store.Message) []extractor.Exchange {
	out := make([]extractor.Exchange, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, extractor.Exchange{User: m.UserText, AI: m.AIResponse})
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
