package contextbuilder

import (
	"fmt"
	"strings"
	"time"

	"github.com/duckmemory/duckmem/internal/store"
)

// TimeAgo renders the distance from t to now in Norwegian ("2 timer siden").
func TimeAgo(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "akkurat nå"
	case d < time.Hour:
		return plural(int(d.Minutes()), "minutt", "minutter") + " siden"
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "time", "timer") + " siden"
	case d < 48*time.Hour:
		return "i går"
	default:
		return plural(int(d.Hours()/24), "dag", "dager") + " siden"
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return fmt.Sprintf("%d %s", n, many)
}

// FormatImage renders an image record as one context line.
func FormatImage(img store.ImageRecord, now time.Time) string {
	sender := strings.TrimSpace(img.Sender)
	if sender == "" {
		sender = "Someone"
	}
	line := fmt.Sprintf("%s sent an image %s: %s", sender, TimeAgo(img.Timestamp, now), strings.TrimSpace(img.Description))
	if len(img.People) > 0 {
		line += " (People: " + strings.Join(img.People, ", ") + ")"
	}
	return line
}

// Prompt renders the context as the memory section of a system prompt.
// Empty parts are left out.
func (c *Context) Prompt() string {
	var parts []string

	if len(c.ProfileFacts) > 0 {
		var b strings.Builder
		b.WriteString("# Fakta\n")
		for _, f := range c.ProfileFacts {
			fmt.Fprintf(&b, "- %s: %s\n", f.Key, f.Value)
		}
		parts = append(parts, strings.TrimRight(b.String(), "\n"))
	}

	if len(c.RelevantMemories) > 0 {
		var b strings.Builder
		b.WriteString("# Minner\n")
		for _, m := range c.RelevantMemories {
			fmt.Fprintf(&b, "- %s\n", m.Text)
		}
		parts = append(parts, strings.TrimRight(b.String(), "\n"))
	}

	if c.LastSession != nil {
		parts = append(parts, fmt.Sprintf("# Forrige samtale\n%s (%s, stemning: %s)",
			c.LastSession.Summary, c.LastSession.TimeAgo, c.LastSession.Mood))
	}

	if len(c.RecentImages) > 0 {
		parts = append(parts, "# Bilder\n- "+strings.Join(c.RecentImages, "\n- "))
	}

	if len(c.RecentConversation) > 0 {
		var b strings.Builder
		b.WriteString("# Siste meldinger\n")
		for _, t := range c.RecentConversation {
			fmt.Fprintf(&b, "Bruker: %s\nAI: %s\n", t.User, t.AI)
		}
		parts = append(parts, strings.TrimRight(b.String(), "\n"))
	}

	return strings.Join(parts, "\n\n")
}
