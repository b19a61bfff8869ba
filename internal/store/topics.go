package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// bumpTopic counts one memory write against topic and folds importance into
// the running average.
func bumpTopic(ctx context.Context, tx *sql.Tx, topic string, importance int, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO topic_stats (topic, mention_count, last_mentioned, avg_importance)
		VALUES (?, 1, ?, ?)
		ON CONFLICT(topic) DO UPDATE SET
			avg_importance = (topic_stats.avg_importance * topic_stats.mention_count + excluded.avg_importance)
				/ (topic_stats.mention_count + 1),
			mention_count = topic_stats.mention_count + 1,
			last_mentioned = excluded.last_mentioned
	`, topic, formatTime(now), float64(importance))
	if err != nil {
		return fmt.Errorf("bump topic %s: %w", topic, err)
	}
	return nil
}

// RecentTopics returns the most recently mentioned topics.
func (s *Store) RecentTopics(ctx context.Context, limit int) ([]TopicStat, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.read.QueryContext(ctx, `
		SELECT topic, mention_count, last_mentioned, avg_importance
		FROM topic_stats ORDER BY last_mentioned DESC, mention_count DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query topic stats: %w", err)
	}
	defer rows.Close()
	var out []TopicStat
	for rows.Next() {
		var (
			t    TopicStat
			last string
		)
		if err := rows.Scan(&t.Topic, &t.MentionCount, &last, &t.AvgImportance); err != nil {
			return nil, err
		}
		t.LastMentioned = parseTime(last)
		out = append(out, t)
	}
	return out, rows.Err()
}
