// Package domain defines the core types, budgets, and error taxonomy of the
// storyboard pipeline. It acts as the validation gate at pipeline entry points.
package domain

import "time"

// Selection budgets.
const (
	MaxItems = 15
	MaxWords = 20000
)

// CandidateItem is one search result the user may select. Link is its key.
type CandidateItem struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
	Date    string `json:"date,omitempty"`
}

// SelectionEntry is a selected candidate with its resolved word count.
type SelectionEntry struct {
	Item      CandidateItem `json:"item"`
	Index     int           `json:"index"`
	WordCount int           `json:"word_count"`
}

// WordCountStatus is the lifecycle of a candidate's word count.
type WordCountStatus int

const (
	WordCountNotRequested WordCountStatus = iota
	WordCountInFlight
	WordCountResolved
)

func (s WordCountStatus) String() string {
	switch s {
	case WordCountNotRequested:
		return "not_requested"
	case WordCountInFlight:
		return "in_flight"
	case WordCountResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status by name.
func (s WordCountStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// WordCountState pairs a status with its value once resolved.
type WordCountState struct {
	Status WordCountStatus `json:"status"`
	Count  int             `json:"count"`
}

// RequestMetadata identifies one generation call.
type RequestMetadata struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Keyword   string    `json:"keyword"`
}

// RequestItem is one selected article as sent to the generation service.
type RequestItem struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
	Source  string `json:"source"`
	Content string `json:"content,omitempty"`
}

// GenerationRequest is built fresh per call and never mutated after send.
type GenerationRequest struct {
	Metadata RequestMetadata `json:"metadata"`
	Items    []RequestItem   `json:"items"`
}
