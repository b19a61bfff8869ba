package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/duckmemory/duckmem/internal/metrics"
	"github.com/duckmemory/duckmem/internal/store"
)

// MinSessionMessages is the shortest session that gets insights and a summary.
const MinSessionMessages = 3

// SummarizeSessions summarises every session idle for SessionIdle that has no
// summary row yet. It returns the number of summaries written.
func (w *Worker) SummarizeSessions(ctx context.Context) (int, error) {
	ids, err := w.store.SessionsAwaitingSummary(ctx, w.now().Add(-w.cfg.SessionIdle))
	if err != nil {
		return 0, err
	}
	written := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return written, ctx.Err()
		}
		ok, err := w.GenerateSessionSummary(ctx, id)
		if err != nil {
			slog.Warn("Session summary failed", "session", id, "error", err)
			continue
		}
		if ok {
			written++
		}
	}
	if written > 0 {
		slog.Info("Session summaries written", "count", written)
	}
	return written, nil
}

// GenerateSessionSummary extracts whole-session insights and writes the
// summary row. Sessions shorter than MinSessionMessages are skipped and
// reported as false.
func (w *Worker) GenerateSessionSummary(ctx context.Context, sessionID string) (bool, error) {
	msgs, err := w.store.SessionMessages(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if len(msgs) < MinSessionMessages {
		slog.Debug("Session too short to summarise", "session", sessionID, "messages", len(msgs))
		return false, nil
	}

	user := sessionUser(msgs)
	if user == "" {
		user = w.cfg.PrimaryUser
	}
	turns := exchanges(msgs)

	insights := w.extractor.ExtractSessionInsights(ctx, turns)
	if insights.Err == nil && !insights.Empty() {
		w.saveExtracted(ctx, insights, origin{
			source:            store.SourceSessionInsight,
			session:           sessionID,
			defaultConfidence: 0.7,
			userName:          user,
		})
		w.sessions.Add(1)
		slog.Info("Session insights saved", "session", sessionID,
			"facts", len(insights.ProfileFacts), "memories", len(insights.Memories))
	}

	topics := sessionTopics(msgs)
	summary, err := w.extractor.Summarize(ctx, turns)
	if err != nil {
		slog.Warn("Session summary fell back to boilerplate", "session", sessionID, "error", err)
		summary = fmt.Sprintf("Samtale med %d meldinger. Topics: %s", len(msgs), topics)
	}

	mood := insights.SessionMood
	if mood == "" {
		mood = store.MoodNeutral
	}
	err = w.store.SaveSessionSummary(ctx, store.SessionSummary{
		SessionID:    sessionID,
		Summary:      summary,
		MessageCount: len(msgs),
		Topics:       topics,
		StartTime:    msgs[0].Timestamp,
		EndTime:      msgs[len(msgs)-1].Timestamp,
		Mood:         mood,
		Theme:        insights.SessionTheme,
		UserName:     user,
	})
	if errors.Is(err, store.ErrSummaryExists) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	metrics.WorkerSessions.Inc()
	slog.Info("Session summarised", "session", sessionID, "messages", len(msgs), "mood", mood)
	return true, nil
}

// sessionTopics joins the distinct message topics, or "general" when none were tagged.
func sessionTopics(msgs []store.Message) string {
	seen := make(map[string]bool)
	var topics []string
	for _, m := range msgs {
		for _, t := range m.Metadata.Topics {
			if t != "" && !seen[t] {
				seen[t] = true
				topics = append(topics, t)
			}
		}
	}
	if len(topics) == 0 {
		return store.TopicGeneral
	}
	sort.Strings(topics)
	return strings.Join(topics, ", ")
}

// sessionUser is the speaker of the first message that names one.
func sessionUser(msgs []store.Message) string {
	for _, m := range msgs {
		if m.UserName != "" {
			return m.UserName
		}
	}
	return ""
}
