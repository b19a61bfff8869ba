package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

const imageColumns = `id, filepath, sender, sender_relation, description, categories, message_text, source_url, people_in_image, timestamp, accessed_count`

// SaveImage records metadata about a received image.
func (s *Store) SaveImage(ctx context.Context, img ImageRecord) (int64, error) {
	if img.FilePath == "" {
		return 0, fmt.Errorf("save image: empty file path")
	}
	ts := img.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	cats, _ := json.Marshal(nonNil(img.Categories))
	people, _ := json.Marshal(nonNil(img.People))
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO image_history
				(filepath, sender, sender_relation, description, categories, message_text, source_url, people_in_image, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, img.FilePath, img.Sender, img.SenderRelation, img.Description, string(cats), img.MessageText,
			img.SourceURL, string(people), formatTime(ts))
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("save image: %w", err)
	}
	return id, nil
}

// RecentImages returns the newest images first.
func (s *Store) RecentImages(ctx context.Context, limit int) ([]ImageRecord, error) {
	if limit <= 0 {
		limit = 5
	}
	return s.queryImages(ctx, `SELECT `+imageColumns+` FROM image_history ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
}

// SearchImages matches the query against description, sender, categories and people.
func (s *Store) SearchImages(ctx context.Context, query string, limit int) ([]ImageRecord, error) {
	if limit <= 0 {
		limit = 5
	}
	like := "%" + escapeLike(strings.TrimSpace(query)) + "%"
	return s.queryImages(ctx, `SELECT `+imageColumns+` FROM image_history
		WHERE description LIKE ? ESCAPE '\' OR sender LIKE ? ESCAPE '\'
			OR categories LIKE ? ESCAPE '\' OR people_in_image LIKE ? ESCAPE '\'
		ORDER BY timestamp DESC LIMIT ?`, like, like, like, like, limit)
}

// TouchImage counts a view of an image.
func (s *Store) TouchImage(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE image_history SET accessed_count = accessed_count + 1, last_accessed = ? WHERE id = ?`,
			formatTime(s.now()), id)
		return err
	})
}

func (s *Store) queryImages(ctx context.Context, query string, args ...any) ([]ImageRecord, error) {
	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query images: %w", err)
	}
	defer rows.Close()
	var out []ImageRecord
	for rows.Next() {
		var (
			img              ImageRecord
			cats, people, ts string
		)
		if err := rows.Scan(&img.ID, &img.FilePath, &img.Sender, &img.SenderRelation, &img.Description, &cats,
			&img.MessageText, &img.SourceURL, &people, &ts, &img.AccessedCount); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(cats), &img.Categories)
		_ = json.Unmarshal([]byte(people), &img.People)
		img.Timestamp = parseTime(ts)
		out = append(out, img)
	}
	return out, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
