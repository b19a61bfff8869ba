package extractor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/duckmemory/duckmem/internal/provider"
	"github.com/duckmemory/duckmem/internal/store"
)

// scriptedChat replays canned replies in order; a nil reply with err set fails the call.
type scriptedChat struct {
	mu       sync.Mutex
	replies  []reply
	requests []*provider.ChatRequest
}

type reply struct {
	content string
	err     error
}

func (s *scriptedChat) Chat(_ context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.replies) == 0 {
		return nil, errors.New("no scripted reply")
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	if r.err != nil {
		return nil, r.err
	}
	return &provider.ChatResponse{Content: r.content}, nil
}

func (s *scriptedChat) DefaultModel() string { return "test-model" }

func newTestExtractor(chat *scriptedChat) (*Extractor, *[]time.Duration) {
	opts := DefaultOptions()
	e := New(chat, opts)
	var waits []time.Duration
	e.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return e, &waits
}

func TestIsTrivial(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"hva er klokka?", true},
		{"skru på lyset i stua", true},
		{"hvordan blir været i morgen", true},
		{"hei", true},
		{"Faren min heter Arvid og bor i Sokndal", false},
		{"Jeg samler på Amiga og Commodore", false},
		{"kan du spille musikk mens jeg lager mat til faren min", false},
		{"Hva synes du om Python?", false},
	}
	for _, tt := range tests {
		if got := IsTrivial(tt.text); got != tt.want {
			t.Errorf("IsTrivial(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestDetectTrivialTopics(t *testing.T) {
	got := DetectTrivialTopics("Skru på lyset og sett på Netflix")
	if strings.Join(got, ",") != "lights,tv" {
		t.Fatalf("unexpected topics %v", got)
	}
	if got := DetectTrivialTopics("Jeg tenker på jobben"); len(got) != 0 {
		t.Fatalf("expected no trivial topics, got %v", got)
	}
}

func TestTrivialMessageSkipsLLM(t *testing.T) {
	chat := &scriptedChat{}
	e, _ := newTestExtractor(chat)

	r := e.ExtractFromConversation(context.Background(), "hva er klokka?", "Klokka er 14:03.", nil)
	if !r.Skipped || !r.Empty() || r.Importance != 1 {
		t.Fatalf("expected skipped empty result, got %+v", r)
	}
	if e.Calls() != 0 || len(chat.requests) != 0 {
		t.Fatalf("expected no LLM calls, got %d", e.Calls())
	}
	if e.Skipped() != 1 {
		t.Fatalf("expected skip counter 1, got %d", e.Skipped())
	}
}

func TestExtractFromConversationParsesAndNormalises(t *testing.T) {
	chat := &scriptedChat{replies: []reply{{content: "```json\n" + `{
		"profile_facts": [
			{"key": " Father_Name ", "value": "Arvid", "topic": "family", "confidence": 1.0, "source": "user"},
			{"key": "empty", "value": "  ", "topic": "family"},
			{"key": "fav_color", "value": "blå", "topic": "colours", "confidence": 1.7}
		],
		"memories": [{"text": "Osmund planlegger tur til Sokndal", "topic": "location"}],
		"topics": ["family"],
		"importance": 9
	}` + "\n```"}}}
	e, _ := newTestExtractor(chat)

	history := []Exchange{{User: "Hei", AI: "Hei der!"}}
	r := e.ExtractFromConversation(context.Background(), "Faren min heter Arvid", "Så fint!", history)
	if r.Err != nil {
		t.Fatalf("unexpected error: %v", r.Err)
	}
	if len(r.ProfileFacts) != 2 {
		t.Fatalf("expected 2 facts after filtering, got %+v", r.ProfileFacts)
	}
	if r.ProfileFacts[0].Key != "father_name" {
		t.Errorf("key not normalised: %q", r.ProfileFacts[0].Key)
	}
	if r.ProfileFacts[1].Topic != store.TopicGeneral || r.ProfileFacts[1].Confidence != 1 {
		t.Errorf("invalid topic/confidence not normalised: %+v", r.ProfileFacts[1])
	}
	if r.Memories[0].Importance != 3 {
		t.Errorf("expected default memory importance 3, got %d", r.Memories[0].Importance)
	}
	if r.Importance != 5 {
		t.Errorf("importance not clamped: %d", r.Importance)
	}

	req := chat.requests[0]
	if !req.JSONMode || req.Temperature != 0.3 || req.Model != "test-model" {
		t.Errorf("unexpected request settings: %+v", req)
	}
	if req.Messages[0].Content != systemPrompt {
		t.Errorf("unexpected system prompt %q", req.Messages[0].Content)
	}
	if !strings.Contains(req.Messages[1].Content, "Tidligere samtale") {
		t.Errorf("history missing from prompt")
	}
}

func TestExtractRetriesWithBackoffThenSucceeds(t *testing.T) {
	chat := &scriptedChat{replies: []reply{
		{err: &provider.APIError{StatusCode: 500}},
		{content: "not json"},
		{content: `{"profile_facts": [], "memories": [{"text": "x y z", "topic": "hobby"}], "importance": 2}`},
	}}
	e, waits := newTestExtractor(chat)

	r := e.ExtractFromConversation(context.Background(), "Jeg liker å bygge modellfly", "Kult!", nil)
	if r.Err != nil || len(r.Memories) != 1 {
		t.Fatalf("expected success on third attempt, got %+v", r)
	}
	if e.Calls() != 3 {
		t.Fatalf("expected 3 calls, got %d", e.Calls())
	}
	if len(*waits) != 2 || (*waits)[0] != time.Second || (*waits)[1] != 2*time.Second {
		t.Fatalf("unexpected backoff %v", *waits)
	}
}

func TestExtractHonoursRetryAfter(t *testing.T) {
	chat := &scriptedChat{replies: []reply{
		{err: &provider.APIError{StatusCode: 429, RetryAfter: 5 * time.Second}},
		{content: `{"importance": 1}`},
	}}
	e, waits := newTestExtractor(chat)
	e.ExtractFromConversation(context.Background(), "Hunden min heter Rex", "Fint navn", nil)
	if len(*waits) != 1 || (*waits)[0] != 5*time.Second {
		t.Fatalf("expected Retry-After wait, got %v", *waits)
	}
}

func TestExtractTerminalFailureReturnsEmpty(t *testing.T) {
	chat := &scriptedChat{replies: []reply{
		{err: errors.New("boom")}, {err: errors.New("boom")}, {err: errors.New("boom")}, {err: errors.New("boom")},
	}}
	e, waits := newTestExtractor(chat)

	r := e.ExtractFromConversation(context.Background(), "Søsteren min har bursdag", "Gratulerer", nil)
	if r.Err == nil || !r.Empty() || r.Importance != 1 {
		t.Fatalf("expected empty failed result, got %+v", r)
	}
	if e.Calls() != 4 {
		t.Fatalf("expected 1 attempt + 3 retries, got %d", e.Calls())
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for i, w := range want {
		if (*waits)[i] != w {
			t.Fatalf("backoff %d = %v, want %v", i, (*waits)[i], w)
		}
	}
}

func TestExtractDoesNotRetryClientErrors(t *testing.T) {
	chat := &scriptedChat{replies: []reply{{err: &provider.APIError{StatusCode: 400}}}}
	e, _ := newTestExtractor(chat)
	r := e.ExtractFromConversation(context.Background(), "Kona mi heter Gunn", "Hei Gunn", nil)
	if r.Err == nil || e.Calls() != 1 {
		t.Fatalf("expected one failed call, got calls=%d err=%v", e.Calls(), r.Err)
	}
}

func TestExtractFromSMSPrefixesKeys(t *testing.T) {
	chat := &scriptedChat{replies: []reply{{content: `{
		"profile_facts": [
			{"key": "location", "value": "Sokndal", "topic": "location"},
			{"key": "rigmor_partner_name", "value": "Gunn Torill", "topic": "family"}
		],
		"memories": [{"text": "Rigmor varmer seg ved ovnen", "topic": "daily_life", "importance": 2}],
		"importance": 2
	}`}}}
	e, _ := newTestExtractor(chat)

	r := e.ExtractFromSMS(context.Background(), "Rigmor", "Vi varmer oss ved ovnen!")
	if r.ProfileFacts[0].Key != "rigmor_location" || r.ProfileFacts[1].Key != "rigmor_partner_name" {
		t.Fatalf("unexpected keys: %+v", r.ProfileFacts)
	}
	prompt := chat.requests[0].Messages[1].Content
	if !strings.Contains(prompt, "tredjeperson om Rigmor") {
		t.Errorf("SMS prompt must ask for third person")
	}
}

func TestExtractSessionInsights(t *testing.T) {
	chat := &scriptedChat{replies: []reply{{content: `{
		"memories": [{"text": "Osmund mimret om Amiga-samlingen", "topic": "collection"}],
		"session_mood": "nostalgisk",
		"session_theme": "Retro-datamaskiner",
		"importance": 4
	}`}}}
	e, _ := newTestExtractor(chat)

	short := e.ExtractSessionInsights(context.Background(), []Exchange{{User: "a"}, {User: "b"}})
	if !short.Empty() || len(chat.requests) != 0 {
		t.Fatalf("short session must not call the LLM")
	}

	msgs := []Exchange{{User: "Husker du Amiga?", AI: "Ja"}, {User: "Jeg hadde en A500", AI: "Kult"}, {User: "Savner den", AI: "Forståelig"}}
	r := e.ExtractSessionInsights(context.Background(), msgs)
	if r.SessionMood != store.MoodNostalgic || r.SessionTheme != "Retro-datamaskiner" {
		t.Fatalf("unexpected mood/theme: %q %q", r.SessionMood, r.SessionTheme)
	}
}

func TestNormalizeMood(t *testing.T) {
	tests := map[string]string{
		"glad": store.MoodGlad, "Frustrert": store.MoodFrustrated, "engaged": store.MoodEngaged,
		"sliten": store.MoodTired, "": store.MoodNeutral, "forvirret": store.MoodNeutral,
	}
	for in, want := range tests {
		if got := NormalizeMood(in); got != want {
			t.Errorf("NormalizeMood(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSummarizeUsesFirstTenMessages(t *testing.T) {
	chat := &scriptedChat{replies: []reply{{content: `{"summary": "Vi snakket om Amiga-samlingen"}`}}}
	e, _ := newTestExtractor(chat)

	var msgs []Exchange
	for i := 0; i < 12; i++ {
		msgs = append(msgs, Exchange{User: strings.Repeat("x", 150), AI: "svar"})
	}
	summary, err := e.Summarize(context.Background(), msgs)
	if err != nil || summary != "Vi snakket om Amiga-samlingen" {
		t.Fatalf("unexpected summary %q err=%v", summary, err)
	}
	prompt := chat.requests[0].Messages[1].Content
	if strings.Count(prompt, "Bruker:") != 10 || !strings.Contains(prompt, "(12 meldinger)") {
		t.Errorf("prompt should list 10 of 12 messages:\n%s", prompt)
	}
	if strings.Contains(prompt, strings.Repeat("x", 101)) {
		t.Errorf("user text not truncated to 100 runes")
	}
}

func TestConsolidateCapsAtThree(t *testing.T) {
	chat := &scriptedChat{replies: []reply{{content: `{"summaries": ["a", " ", "b", "c", "d"]}`}}}
	e, _ := newTestExtractor(chat)
	got, err := e.Consolidate(context.Background(), "hobby", []string{"m1", "m2", "m3", "m4"})
	if err != nil || strings.Join(got, "|") != "a|b|c" {
		t.Fatalf("unexpected consolidation %v err=%v", got, err)
	}
}
