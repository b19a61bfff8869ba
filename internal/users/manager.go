// Package users tracks who is speaking. Guests revert to the primary user
// after a period of inactivity.
package users

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/duckmemory/duckmem/internal/store"
)

// SessionKey is the settings row holding the current speaker.
const SessionKey = "current_user"

// Relation tags.
const (
	RelationOwner  = "owner"
	RelationFamily = "family"
	RelationGuest  = "gjest"
)

const cacheKey = "session"

// Session is the persisted speaker state.
type Session struct {
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	Relation     string    `json:"relation"`
	SwitchedAt   time.Time `json:"switched_at"`
	LastActivity time.Time `json:"last_activity"`
	TimeoutAt    time.Time `json:"timeout_at,omitempty"` // zero for the primary user
}

// Options configures a Manager.
type Options struct {
	PrimaryUser   string
	RevertTimeout time.Duration
	CacheTTL      time.Duration // negative disables the cache
}

// DefaultOptions returns the production settings.
func DefaultOptions() Options {
	return Options{PrimaryUser: "Osmund", RevertTimeout: 30 * time.Minute, CacheTTL: 5 * time.Second}
}

// Manager reads and switches the current speaker.
type Manager struct {
	store *store.Store
	opts  Options
	cache *cache.Cache
	now   func() time.Time
}

// New creates a Manager. Zero options take their defaults.
func New(st *store.Store, opts Options) *Manager {
	def := DefaultOptions()
	if opts.PrimaryUser == "" {
		opts.PrimaryUser = def.PrimaryUser
	}
	if opts.RevertTimeout <= 0 {
		opts.RevertTimeout = def.RevertTimeout
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = def.CacheTTL
	}
	m := &Manager{store: st, opts: opts, now: st.Now}
	if opts.CacheTTL > 0 {
		m.cache = cache.New(opts.CacheTTL, 10*opts.CacheTTL)
	}
	return m
}

// PrimaryUser returns the owner's name.
func (m *Manager) PrimaryUser() string { return m.opts.PrimaryUser }

func (m *Manager) isPrimary(name string) bool {
	return strings.EqualFold(name, m.opts.PrimaryUser)
}

func (m *Manager) primarySession() Session {
	now := m.now()
	return Session{
		Username:     m.opts.PrimaryUser,
		DisplayName:  m.opts.PrimaryUser,
		Relation:     RelationOwner,
		SwitchedAt:   now,
		LastActivity: now,
	}
}

// CurrentUser returns the current speaker. A guest whose timeout has passed
// is reverted to the primary user.
func (m *Manager) CurrentUser(ctx context.Context) Session {
	if m.cache != nil {
		if v, ok := m.cache.Get(cacheKey); ok {
			return v.(Session)
		}
	}
	sess := m.loadSession(ctx)
	if m.cache != nil {
		m.cache.Set(cacheKey, sess, cache.DefaultExpiration)
	}
	return sess
}

// CurrentUsername returns the current speaker's username.
func (m *Manager) CurrentUsername(ctx context.Context) string {
	return m.CurrentUser(ctx).Username
}

func (m *Manager) loadSession(ctx context.Context) Session {
	raw, ok, err := m.store.GetSetting(ctx, SessionKey)
	if err != nil {
		slog.Warn("User session unavailable, using primary user", "error", err)
		return m.primarySession()
	}
	if !ok {
		return m.resetSession(ctx)
	}
	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil || sess.Username == "" {
		slog.Warn("Invalid user session, resetting to primary user", "error", err)
		return m.resetSession(ctx)
	}
	if !m.isPrimary(sess.Username) && !sess.TimeoutAt.IsZero() && m.now().After(sess.TimeoutAt) {
		slog.Info("User timed out, reverting to primary user", "user", sess.Username, "primary", m.opts.PrimaryUser)
		return m.resetSession(ctx)
	}
	return sess
}

func (m *Manager) resetSession(ctx context.Context) Session {
	sess := m.primarySession()
	if err := m.saveSession(ctx, sess); err != nil {
		slog.Warn("Could not persist user session", "error", err)
	}
	return sess
}

func (m *Manager) saveSession(ctx context.Context, sess Session) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	if err := m.store.SetSetting(ctx, SessionKey, string(b)); err != nil {
		return fmt.Errorf("save user session: %w", err)
	}
	if m.cache != nil {
		m.cache.Set(cacheKey, sess, cache.DefaultExpiration)
	}
	return nil
}

// SwitchUser makes name the current speaker and records the user. Names are
// title-cased. An empty relation keeps the stored relation, or gjest for a
// new user.
func (m *Manager) SwitchUser(ctx context.Context, name, displayName, relation string) (Session, error) {
	username := titleCase(name)
	if username == "" {
		return Session{}, fmt.Errorf("switch user: empty name")
	}
	display := titleCase(displayName)
	if display == "" {
		display = username
	}

	if relation == "" {
		if m.isPrimary(username) {
			relation = RelationOwner
		} else if u, ok, err := m.store.GetUser(ctx, username); err == nil && ok && u.Relation != "" {
			relation = u.Relation
		} else {
			relation = RelationGuest
		}
	}

	now := m.now()
	sess := Session{
		Username:     username,
		DisplayName:  display,
		Relation:     relation,
		SwitchedAt:   now,
		LastActivity: now,
	}
	if !m.isPrimary(username) {
		sess.TimeoutAt = now.Add(m.opts.RevertTimeout)
	}
	if err := m.saveSession(ctx, sess); err != nil {
		return Session{}, err
	}
	if err := m.store.UpsertUser(ctx, store.User{Username: username, DisplayName: display, Relation: relation}); err != nil {
		return Session{}, fmt.Errorf("switch user: %w", err)
	}
	slog.Info("Switched user", "user", username, "relation", relation)
	return sess, nil
}

// Touch records activity by the current speaker and pushes a guest's timeout forward.
func (m *Manager) Touch(ctx context.Context) error {
	sess := m.loadSession(ctx)
	now := m.now()
	sess.LastActivity = now
	if !m.isPrimary(sess.Username) {
		sess.TimeoutAt = now.Add(m.opts.RevertTimeout)
	}
	return m.saveSession(ctx, sess)
}

// TimeUntilRevert returns how long the current guest has left. ok is false
// for the primary user.
func (m *Manager) TimeUntilRevert(ctx context.Context) (time.Duration, bool) {
	sess := m.CurrentUser(ctx)
	if m.isPrimary(sess.Username) || sess.TimeoutAt.IsZero() {
		return 0, false
	}
	return max(0, sess.TimeoutAt.Sub(m.now())), true
}

// ListUsers returns every known user, most recently active first.
func (m *Manager) ListUsers(ctx context.Context) ([]store.User, error) {
	return m.store.ListUsers(ctx)
}

// IncrementMessageCount counts one message for username, recording an
// unknown speaker first.
func (m *Manager) IncrementMessageCount(ctx context.Context, username string) error {
	name := titleCase(username)
	if name == "" {
		return nil
	}
	_, ok, err := m.store.GetUser(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		relation := RelationGuest
		if m.isPrimary(name) {
			relation = RelationOwner
		}
		if err := m.store.UpsertUser(ctx, store.User{Username: name, DisplayName: name, Relation: relation}); err != nil {
			return err
		}
	}
	return m.store.IncrementMessageCount(ctx, name)
}

func titleCase(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}
	return cases.Title(language.Norwegian).String(s)
}
