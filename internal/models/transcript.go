// Package models defines the data structures for transcription results and events.
package models

// TranscriptionResult is one element of the ordered result sequence a relay
// session emits to its caller. At most one element per session has IsFinal
// set, and it is always the last element unless an error terminates the
// sequence first.
type TranscriptionResult struct {
	Success    bool    `json:"success"`
	Transcript string  `json:"transcript,omitempty"`
	IsFinal    bool    `json:"is_final"`
	Confidence float64 `json:"confidence,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// TranscriptPartial represents an interim transcript event published downstream.
type TranscriptPartial struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	Timestamp int64  `json:"timestamp"`
	Text      string `json:"text"`
}

// TranscriptFinal represents a final transcript event with confidence score.
type TranscriptFinal struct {
	EventType  string  `json:"eventType"`
	SessionID  string  `json:"sessionId"`
	Timestamp  int64   `json:"timestamp"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}
