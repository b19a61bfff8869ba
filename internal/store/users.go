package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const userColumns = `username, display_name, relation_to_primary, first_seen, last_active, total_messages`

// UpsertUser creates the user or refreshes its display name and activity.
// Usernames match case-insensitively; the stored spelling is normalised to u.Username.
// An existing relation is kept unless u.Relation is set.
func (s *Store) UpsertUser(ctx context.Context, u User) error {
	now := formatTime(s.now())
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRowContext(ctx, `SELECT username FROM users WHERE username = ? COLLATE NOCASE`, u.Username).Scan(&existing)
		if errors.Is(err, sql.ErrNoRows) {
			rel := u.Relation
			if rel == "" {
				rel = "gjest"
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO users (username, display_name, relation_to_primary, first_seen, last_active, total_messages, metadata)
				VALUES (?, ?, ?, ?, ?, 0, '{}')
			`, u.Username, u.DisplayName, rel, now, now)
			return err
		}
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE users
			SET username = ?, display_name = ?, last_active = ?,
				relation_to_primary = CASE WHEN ? != '' THEN ? ELSE relation_to_primary END
			WHERE username = ?
		`, u.Username, u.DisplayName, now, u.Relation, u.Relation, existing)
		return err
	})
}

// GetUser looks a user up by username or display name, case-insensitively.
func (s *Store) GetUser(ctx context.Context, name string) (User, bool, error) {
	users, err := s.queryUsers(ctx, `SELECT `+userColumns+` FROM users
		WHERE username = ? COLLATE NOCASE OR display_name = ? COLLATE NOCASE LIMIT 1`, name, name)
	if err != nil || len(users) == 0 {
		return User{}, false, err
	}
	return users[0], true, nil
}

// ListUsers returns every user, most recently active first.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	return s.queryUsers(ctx, `SELECT `+userColumns+` FROM users ORDER BY last_active DESC`)
}

// IncrementMessageCount counts one message for the user and refreshes last_active.
func (s *Store) IncrementMessageCount(ctx context.Context, username string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE users SET total_messages = total_messages + 1, last_active = ?
			WHERE username = ? COLLATE NOCASE`, formatTime(s.now()), username)
		return err
	})
}

func (s *Store) queryUsers(ctx context.Context, query string, args ...any) ([]User, error) {
	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		var (
			u           User
			first, last string
		)
		if err := rows.Scan(&u.Username, &u.DisplayName, &u.Relation, &first, &last, &u.TotalMessages); err != nil {
			return nil, err
		}
		u.FirstSeen = parseTime(first)
		u.LastActive = parseTime(last)
		out = append(out, u)
	}
	return out, rows.Err()
}
