package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrSummaryExists is returned when a session already has a summary row.
var ErrSummaryExists = errors.New("session summary already exists")

// SaveSessionSummary writes the summary of a finished session. Each session
// id is summarised at most once.
func (s *Store) SaveSessionSummary(ctx context.Context, sum SessionSummary) error {
	if sum.SessionID == "" {
		return errors.New("save session summary: empty session id")
	}
	if sum.Mood == "" {
		sum.Mood = MoodNeutral
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO session_summaries
				(session_id, summary, message_count, topics, start_time, end_time, session_mood, session_theme, user_name)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id) DO NOTHING
		`, sum.SessionID, sum.Summary, sum.MessageCount, sum.Topics, formatTime(sum.StartTime), formatTime(sum.EndTime),
			sum.Mood, sum.Theme, sum.UserName)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrSummaryExists
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrSummaryExists) {
		return fmt.Errorf("save session summary: %w", err)
	}
	return err
}

// IsBoilerplateSummary reports whether text is the auto-generated fallback
// ("Samtale med N meldinger. Topics: ...") rather than a real summary.
func IsBoilerplateSummary(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "Samtale med")
}

// GetLastSessionSummary returns the newest non-boilerplate summary of a session
// with at least three messages. An empty user matches every speaker.
func (s *Store) GetLastSessionSummary(ctx context.Context, user string) (*SessionSummary, error) {
	query := `SELECT session_id, summary, message_count, topics, start_time, end_time, session_mood, session_theme, user_name
		FROM session_summaries
		WHERE summary != '' AND message_count >= 3`
	var args []any
	if user != "" {
		query += ` AND (user_name = ? COLLATE NOCASE OR user_name = '')`
		args = append(args, user)
	}
	query += ` ORDER BY end_time DESC LIMIT 10`

	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query session summaries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			sum        SessionSummary
			start, end string
		)
		if err := rows.Scan(&sum.SessionID, &sum.Summary, &sum.MessageCount, &sum.Topics, &start, &end,
			&sum.Mood, &sum.Theme, &sum.UserName); err != nil {
			return nil, err
		}
		if IsBoilerplateSummary(sum.Summary) {
			continue
		}
		sum.StartTime = parseTime(start)
		sum.EndTime = parseTime(end)
		if sum.Mood == "" {
			sum.Mood = MoodNeutral
		}
		return &sum, nil
	}
	return nil, rows.Err()
}
