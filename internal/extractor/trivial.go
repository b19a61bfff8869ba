package extractor

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// TrivialTopics never yield anything worth remembering.
var TrivialTopics = []string{"weather", "time", "lights", "tv", "ac", "vacuum", "music", "twinkly", "backup"}

// trivialKeywords maps each trivial topic to the Norwegian phrases that reveal it.
var trivialKeywords = map[string][]string{
	"weather": {"vær", "temperatur", "regn", "sol", "varmt", "kaldt", "netatmo", "sensor"},
	"time":    {"klokk", "tid", "dato"},
	"music":   {"sang", "musikk", "spill", "syng", "låt"},
	"lights":  {"lys", "lampe", "skru på", "skru av", "dimme"},
	"tv":      {"tv", "fjernsyn", "netflix", "spill av", "pause"},
	"ac":      {"ac", "aircondition", "klimaanlegg"},
	"vacuum":  {"støvsuger", "vacuum", "robotstøvsuger", "saros"},
	"twinkly": {"twinkly", "led", "ledvegg"},
	"backup":  {"backup", "sikkerhetskopi", "ta backup"},
}

// personalKeywords mark content beyond the trivial topics. A hit means the
// message is not purely about trivial topics.
var personalKeywords = []string{
	"far", "faren", "mor", "moren", "mora", "søster", "bror", "broren", "barn", "familie",
	"bursdag", "kone", "mann", "mannen", "kjæreste", "samler", "samling", "hobby", "amiga",
	"commodore", "jobb", "møte", "kollega", "syk", "lege", "legen", "trening", "søvn", "trist",
	"stress", "sliten", "bekymr", "tur", "turen", "reise", "helg", "hund", "katt", "husker",
	"liker", "elsker", "planlegg",
}

var textWords = regexp.MustCompile(`[\p{L}\p{N}]+`)

// DetectTrivialTopics returns the trivial topics whose keywords occur in text, sorted.
func DetectTrivialTopics(text string) []string {
	lower := strings.ToLower(text)
	words := textWords.FindAllString(lower, -1)
	var topics []string
	for topic, keywords := range trivialKeywords {
		for _, kw := range keywords {
			if matchKeyword(lower, words, kw) {
				topics = append(topics, topic)
				break
			}
		}
	}
	sort.Strings(topics)
	return topics
}

// IsTrivial reports whether text is too short or only about trivial topics.
func IsTrivial(text string) bool {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < 5 {
		return true
	}
	if len(DetectTrivialTopics(text)) == 0 {
		return false
	}
	words := textWords.FindAllString(strings.ToLower(text), -1)
	for _, kw := range personalKeywords {
		if matchWord(words, kw) {
			return false
		}
	}
	return true
}

// matchKeyword finds phrases by substring and short keywords only at a word start,
// so "ac" does not fire inside unrelated words.
func matchKeyword(lower string, words []string, kw string) bool {
	if strings.Contains(kw, " ") || utf8.RuneCountInString(kw) > 3 {
		return strings.Contains(lower, kw)
	}
	for _, w := range words {
		if strings.HasPrefix(w, kw) {
			return true
		}
	}
	return false
}

// matchWord requires an exact word for short keywords and a word prefix otherwise.
func matchWord(words []string, kw string) bool {
	short := utf8.RuneCountInString(kw) <= 3
	for _, w := range words {
		if w == kw || (!short && strings.HasPrefix(w, kw)) {
			return true
		}
	}
	return false
}
