// Package entities contains core business entities.
// These are pure domain objects with no external dependencies.
package entities

import "strings"

// RecordType tags which extraction rule produced a DocumentRecord.
type RecordType string

const (
	RecordTherapySession RecordType = "therapy_session"
	RecordTriple         RecordType = "triple"
	RecordQA             RecordType = "qa"
)

// RecordMeta is the per-record metadata persisted next to the text.
type RecordMeta struct {
	Type      RecordType `json:"type"`
	Topic     string     `json:"topic,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
}

// DocumentRecord is one indexable snippet. It is identified only by its
// ordinal position in the persisted sequence.
type DocumentRecord struct {
	Text   string     `json:"text"`
	Source string     `json:"source"` // dataset filename
	Meta   RecordMeta `json:"meta"`
}

// Label is the human-readable citation label of a record. Records carry no
// label of their own, so the topic stands in for one, and records without a
// topic share the generic "snippet".
func (r DocumentRecord) Label() string {
	if r.Meta.Topic != "" {
		return r.Meta.Topic
	}
	return "snippet"
}

// ModelInfo records which encoder produced the persisted vectors.
type ModelInfo struct {
	Model     string `json:"model"`
	Provider  string `json:"provider"`
	Dimension int    `json:"dimension"`
}

// RetrievalResult is one ranked hit for a query.
type RetrievalResult struct {
	Rank       int     // 1-based
	Score      float64 // inner product, higher is more similar
	DocumentID int     // ordinal into the record sequence
	Label      string
	Record     DocumentRecord
}

// Role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a provider-agnostic prompt.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Language of the reply.
type Language string

const (
	LanguageEnglish Language = "en"
	LanguageBurmese Language = "my"
)

// ParseLanguage validates a client-supplied language. The empty string is
// accepted and means "detect".
func ParseLanguage(s string) (Language, bool) {
	switch Language(strings.TrimSpace(s)) {
	case "":
		return "", true
	case LanguageEnglish:
		return LanguageEnglish, true
	case LanguageBurmese:
		return LanguageBurmese, true
	}
	return "", false
}

// Category selects the assistant persona.
type Category string

const (
	CategoryEmergency Category = "emergency"
	CategoryMental    Category = "mental"
)

// ParseCategory validates a client-supplied assistant kind. Empty means emergency.
func ParseCategory(s string) (Category, bool) {
	switch Category(strings.TrimSpace(s)) {
	case "", CategoryEmergency:
		return CategoryEmergency, true
	case CategoryMental:
		return CategoryMental, true
	}
	return "", false
}

// ResponseCategory is the category reported back to the caller.
func (c Category) ResponseCategory() string {
	if c == CategoryMental {
		return "mental"
	}
	return "general"
}

// GenerationParams are the sampling parameters handed to every provider.
type GenerationParams struct {
	Temperature float64
	MaxTokens   int
	Category    Category
	Language    Language
}

// AttemptStatus tags the outcome of one provider attempt.
type AttemptStatus int

const (
	AttemptFailure AttemptStatus = iota
	AttemptSuccess
	AttemptSoftRefusal
)

func (s AttemptStatus) String() string {
	switch s {
	case AttemptSuccess:
		return "success"
	case AttemptSoftRefusal:
		return "soft_refusal"
	default:
		return "failure"
	}
}

// Attempt is the tagged result of a provider call.
type Attempt struct {
	Status AttemptStatus
	Text   string
	Model  string // model variant that served the request
	Err    error  // set when Status is AttemptFailure
}

// Succeeded reports whether the cascade should stop at this attempt.
func (a Attempt) Succeeded() bool {
	return a.Status == AttemptSuccess || a.Status == AttemptSoftRefusal
}

// Success builds a successful attempt.
func Success(text, model string) Attempt {
	return Attempt{Status: AttemptSuccess, Text: text, Model: model}
}

// SoftRefusal builds a soft-refusal attempt carrying substitute text.
func SoftRefusal(text, model string) Attempt {
	return Attempt{Status: AttemptSoftRefusal, Text: text, Model: model}
}

// Failure builds a failed attempt.
func Failure(err error) Attempt {
	return Attempt{Status: AttemptFailure, Err: err}
}

// ProviderError is a recorded cascade failure.
type ProviderError struct {
	Provider string
	Err      error
}

// CascadeResult is the final output of the provider cascade.
type CascadeResult struct {
	Text    string
	ModelID string // "<provider>:<model-or-fallback>"
	Errors  []ProviderError
}

// Attachment is an uploaded file.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// ChatRequest is one incoming chat call.
type ChatRequest struct {
	Message  string
	Language Language // empty = detect
	Category Category // empty = emergency
	Files    []Attachment
}

// DatasetRef is a citation returned to the caller.
type DatasetRef struct {
	ID    int     `json:"id"`
	Rank  int     `json:"rank"`
	Score float64 `json:"score"`
	Label string  `json:"label"`
}

// ChatResponse is the response envelope of /chat.
type ChatResponse struct {
	Response    string       `json:"response"`
	Category    string       `json:"category"`
	Timestamp   string       `json:"timestamp"`
	Model       string       `json:"model"`
	DatasetRefs []DatasetRef `json:"dataset_refs"`
	Error       bool         `json:"error,omitempty"`
	Detail      string       `json:"detail,omitempty"`
}
