package store

import (
	"encoding/json"
	"time"
)

// Topics form the closed set used by the extractor and topic stats.
const (
	TopicFamily        = "family"
	TopicHobby         = "hobby"
	TopicWork          = "work"
	TopicProjects      = "projects"
	TopicTechnical     = "technical"
	TopicHealth        = "health"
	TopicPets          = "pets"
	TopicPreferences   = "preferences"
	TopicWeather       = "weather"
	TopicTime          = "time"
	TopicGeneral       = "general"
	TopicCollection    = "collection"
	TopicSocialMedia   = "social_media"
	TopicAchievements  = "achievements"
	TopicLocation      = "location"
	TopicEmotions      = "emotions"
	TopicDailyLife     = "daily_life"
	TopicDocumentation = "documentation"
)

// Topics lists every valid topic.
var Topics = []string{
	TopicFamily, TopicHobby, TopicWork, TopicProjects, TopicTechnical, TopicHealth,
	TopicPets, TopicPreferences, TopicWeather, TopicTime, TopicGeneral, TopicCollection,
	TopicSocialMedia, TopicAchievements, TopicLocation, TopicEmotions, TopicDailyLife,
	TopicDocumentation,
}

// ValidTopic reports whether t is in the topic enumeration.
func ValidTopic(t string) bool {
	for _, v := range Topics {
		if v == t {
			return true
		}
	}
	return false
}

// Source tags for facts and memories.
const (
	SourceUser           = "user"
	SourceExtracted      = "extracted"
	SourceSMS            = "sms"
	SourceSessionInsight = "session_insight"
	SourceInferred       = "inferred"
	SourceConsolidated   = "consolidated"
)

// Session mood tags.
const (
	MoodGlad       = "glad"
	MoodNeutral    = "nøytral"
	MoodFrustrated = "frustrated"
	MoodNostalgic  = "nostalgic"
	MoodEngaged    = "engaged"
	MoodTired      = "tired"
)

// MessageMetadata is the typed metadata blob of a Message.
type MessageMetadata struct {
	Topics     []string `json:"topics,omitempty"`
	Importance int      `json:"importance,omitempty"`
	Channel    string   `json:"channel,omitempty"`
}

// Message is one conversation turn.
type Message struct {
	ID         int64
	UserText   string
	AIResponse string
	Timestamp  time.Time
	SessionID  string
	UserName   string
	Processed  bool
	Metadata   MessageMetadata
}

// FactMetadata is the typed metadata blob of a ProfileFact.
type FactMetadata struct {
	LearnedAt            *time.Time `json:"learned_at,omitempty"`
	ExpiresAt            *time.Time `json:"expires_at,omitempty"`
	LearnedFrom          string     `json:"learned_from,omitempty"`
	SourceMessageID      int64      `json:"source_message_id,omitempty"`
	SourceSMSID          int64      `json:"source_sms_id,omitempty"`
	SourceSession        string     `json:"source_session,omitempty"`
	ExtractionConfidence float64    `json:"extraction_confidence,omitempty"`
	Sender               string     `json:"sender,omitempty"`
	Verified             bool       `json:"verified,omitempty"`
}

// ProfileFact is a structured key/value assertion about a person.
type ProfileFact struct {
	Key         string
	Value       string
	Topic       string
	Confidence  float64
	Frequency   int
	Source      string
	LastUpdated time.Time
	Metadata    FactMetadata
	Embedding   []float32
}

// ScoredFact pairs a fact with its similarity to a query.
type ScoredFact struct {
	Fact  ProfileFact
	Score float64
}

// MemoryMetadata is the typed metadata blob of a Memory.
type MemoryMetadata struct {
	LearnedAt        *time.Time `json:"learned_at,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	LearnedFrom      string     `json:"learned_from,omitempty"`
	SourceMessageID  int64      `json:"source_message_id,omitempty"`
	SourceSMSID      int64      `json:"source_sms_id,omitempty"`
	SourceSession    string     `json:"source_session,omitempty"`
	Importance       int        `json:"importance,omitempty"`
	Sender           string     `json:"sender,omitempty"`
	AboutPerson      string     `json:"about_person,omitempty"`
	ConsolidatedFrom int        `json:"consolidated_from,omitempty"`
}

// Memory is an episodic note about an event, plan or pattern.
type Memory struct {
	ID           int64
	Text         string
	Topic        string
	Frequency    int
	Confidence   float64
	Source       string
	FirstSeen    time.Time
	LastAccessed time.Time
	UserName     string
	Metadata     MemoryMetadata
	Embedding    []float32
}

// ScoredMemory pairs a memory with a retrieval score.
type ScoredMemory struct {
	Memory Memory
	Score  float64
}

// SessionSummary is the one-row digest of a finished session.
type SessionSummary struct {
	SessionID    string
	Summary      string
	MessageCount int
	Topics       string
	StartTime    time.Time
	EndTime      time.Time
	Mood         string
	Theme        string
	UserName     string
}

// ImageRecord describes a received image. The bytes live on disk.
type ImageRecord struct {
	ID             int64
	FilePath       string
	Sender         string
	SenderRelation string
	Description    string
	Categories     []string
	MessageText    string
	SourceURL      string
	People         []string
	Timestamp      time.Time
	AccessedCount  int
}

// TopicStat counts memory writes per topic.
type TopicStat struct {
	Topic         string
	MentionCount  int
	LastMentioned time.Time
	AvgImportance float64
}

// Contradiction is an audit row for a blocked or superseding fact write.
type Contradiction struct {
	ID                 int64
	Key                string
	ExistingValue      string
	NewValue           string
	ExistingConfidence float64
	NewConfidence      float64
	Source             string
	DetectedAt         time.Time
	Resolved           bool
}

// User is a person the assistant has talked to.
type User struct {
	Username      string
	DisplayName   string
	Relation      string
	FirstSeen     time.Time
	LastActive    time.Time
	TotalMessages int
}

// InboundSMS is a text message received by the household number.
type InboundSMS struct {
	ID         int64
	SenderName string
	Phone      string
	Message    string
	ReceivedAt time.Time
}

// FactWriteResult is the outcome of SaveProfileFact.
type FactWriteResult struct {
	Written    bool
	Blocked    bool // rejected by the high-confidence guard
	Superseded bool // replaced a different existing value
	Previous   string
}

func marshalMeta(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func unmarshalMeta(raw string, v any) {
	if raw == "" {
		return
	}
	_ = json.Unmarshal([]byte(raw), v)
}
