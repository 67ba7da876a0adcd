// Package event defines the JSON messages sent to connected clients.
package event

import (
	"encoding/json"
	"time"
)

// Type identifies the kind of an [Event].
type Type string

const (
	TypeConnected     Type = "CONNECTED"
	TypeTranscription Type = "TRANSCRIPTION"
	TypeProcessing    Type = "PROCESSING"
	TypeFeedback      Type = "FEEDBACK"
	TypeError         Type = "ERROR"
)

// Fixed client-facing messages.
const (
	ConnectedMessage  = "Ready to receive audio"
	ProcessingMessage = "Processing your request..."
)

// Details describes the classification behind a FEEDBACK event.
type Details struct {
	Intent     string  `json:"intent"`
	Context    string  `json:"context"`
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
}

// Event is one outbound message. Fields a type does not use are omitted
// from the encoding.
type Event struct {
	Type      Type     `json:"type"`
	SessionID string   `json:"session_id"`
	Message   string   `json:"message,omitempty"`
	Text      string   `json:"text,omitempty"`
	Details   *Details `json:"details,omitempty"`
	Timestamp float64  `json:"timestamp,omitempty"`
	Success   *bool    `json:"success,omitempty"`
}

// Sink receives events in emission order.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(Event)

// Emit calls f(e).
func (f SinkFunc) Emit(e Event) { f(e) }

// Timestamp converts t to Unix seconds with sub-second precision.
func Timestamp(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

// Connected is sent once after a session is created.
func Connected(sessionID string) Event {
	return Event{Type: TypeConnected, SessionID: sessionID, Message: ConnectedMessage}
}

// Transcription carries the text of one utterance.
func Transcription(sessionID, text string, at time.Time) Event {
	return Event{Type: TypeTranscription, SessionID: sessionID, Text: text, Timestamp: Timestamp(at)}
}

// Processing acknowledges a triggered instruction.
func Processing(sessionID string, at time.Time) Event {
	return Event{Type: TypeProcessing, SessionID: sessionID, Message: ProcessingMessage, Timestamp: Timestamp(at)}
}

// Feedback reports the result of an instruction.
func Feedback(sessionID, message string, d Details, at time.Time) Event {
	ok := true
	return Event{
		Type:      TypeFeedback,
		SessionID: sessionID,
		Message:   message,
		Details:   &d,
		Timestamp: Timestamp(at),
		Success:   &ok,
	}
}

// Error reports a failure the client caused or should know about.
func Error(sessionID, message string, at time.Time) Event {
	ok := false
	return Event{
		Type:      TypeError,
		SessionID: sessionID,
		Message:   message,
		Timestamp: Timestamp(at),
		Success:   &ok,
	}
}

// Marshal encodes e as JSON.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
