package users

import (
	"context"
	"fmt"
	"strings"
)

// PronunciationKey holds how speech recognition hears the owner's name.
const PronunciationKey = "user_name_pronunciation"

// Match is a user resolved from a spoken name.
type Match struct {
	Username    string
	DisplayName string
	Relation    string
	Source      string // "pronunciation", "users" or the matching fact key
}

// FindUserByName resolves a spoken name to a known person. It checks the
// owner's pronunciation fact, then the users table, then family name facts.
func (m *Manager) FindUserByName(ctx context.Context, name string) (Match, bool, error) {
	spoken := strings.ToLower(strings.TrimSpace(name))
	if spoken == "" {
		return Match{}, false, nil
	}

	if match, ok, err := m.matchPronunciation(ctx, spoken); err != nil || ok {
		return match, ok, err
	}

	users, err := m.store.ListUsers(ctx)
	if err != nil {
		return Match{}, false, fmt.Errorf("find user: %w", err)
	}
	for _, eq := range []func(a, b string) bool{
		func(a, b string) bool { return a == b },
		func(a, b string) bool { return compact(a) == compact(b) },
		func(a, b string) bool { return fold(a) == fold(b) },
	} {
		for _, u := range users {
			if eq(strings.ToLower(u.Username), spoken) || eq(strings.ToLower(u.DisplayName), spoken) {
				return Match{Username: u.Username, DisplayName: u.DisplayName, Relation: u.Relation, Source: "users"}, true, nil
			}
		}
	}

	facts, err := m.store.FactsByKeySuffix(ctx, "_name")
	if err != nil {
		return Match{}, false, fmt.Errorf("find user: %w", err)
	}
	for _, f := range facts {
		value := strings.ToLower(strings.TrimSpace(f.Value))
		if value != spoken && fold(value) != fold(spoken) {
			continue
		}
		relation := RelationFromKey(f.Key)
		username := titleCase(f.Value)
		if relation == RelationOwner {
			username = m.opts.PrimaryUser
		}
		return Match{Username: username, DisplayName: titleCase(f.Value), Relation: relation, Source: f.Key}, true, nil
	}
	return Match{}, false, nil
}

func (m *Manager) matchPronunciation(ctx context.Context, spoken string) (Match, bool, error) {
	f, ok, err := m.store.GetProfileFact(ctx, PronunciationKey)
	if err != nil {
		return Match{}, false, fmt.Errorf("find user: %w", err)
	}
	if !ok || fold(f.Value) != fold(spoken) {
		return Match{}, false, nil
	}
	display := m.opts.PrimaryUser
	if real, ok, err := m.store.GetProfileFact(ctx, "user_name"); err == nil && ok && real.Value != "" {
		display = titleCase(real.Value)
	}
	return Match{Username: m.opts.PrimaryUser, DisplayName: display, Relation: RelationOwner, Source: "pronunciation"}, true, nil
}

// RelationFromKey derives a relation tag from a family fact key such as
// sister_2_child_1_name.
func RelationFromKey(key string) string {
	k := strings.ToLower(key)
	has := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(k, w) {
				return true
			}
		}
		return false
	}
	switch {
	case k == "user_name" || strings.HasPrefix(k, "owner_"):
		return RelationOwner
	case has("grandmother", "bestemor"):
		return "bestemor"
	case has("grandfather", "bestefar"):
		return "bestefar"
	case has("sister", "brother"):
		if has("child", "son", "daughter", "niece", "nephew") {
			if has("son", "nephew") {
				return "nevø"
			}
			return "niese"
		}
		if has("sister") {
			if has("husband", "spouse") {
				return "svoger"
			}
			return "søster"
		}
		if has("wife", "spouse") {
			return "svigerinne"
		}
		return "bror"
	case has("father"):
		return "far"
	case has("mother"):
		return "mor"
	case has("friend", "venn"):
		return "venn"
	case has("colleague", "kollega"):
		return "kollega"
	}
	return RelationFamily
}

// compact drops periods and spaces so "M. Olsen" matches "molsen".
func compact(s string) string {
	return strings.NewReplacer(".", "", " ", "").Replace(s)
}

// fold also maps Norwegian vowels to their ASCII lookalikes, since speech
// recognition is inconsistent about them.
func fold(s string) string {
	return strings.NewReplacer("ø", "o", "å", "a", "æ", "e", "Ø", "o", "Å", "a", "Æ", "e").
		Replace(compact(strings.ToLower(s)))
}
