package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Client actions
const (
	ActionStart = "start"
	ActionStop  = "stop"
	ActionPong  = "pong"
)

// Server event types
const (
	TypeStatus         = "status"
	TypeTranscription  = "transcription"
	TypeClassification = "classification"
	TypeFactCheck      = "fact_check"
	TypeError          = "error"
	TypePing           = "ping"
)

// Session states reported in status events
const (
	StatusRunning = "running"
	StatusStopped = "stopped"
)

// DecodeError describes a client frame that could not be decoded
type DecodeError struct {
	Message string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// ClientMessage is a decoded client→server frame
type ClientMessage struct {
	Action       string `json:"action"`
	StreamSource string `json:"streamSource,omitempty"`
}

// wireClientMessage accepts the legacy youtube_url key as an alias of streamSource
type wireClientMessage struct {
	Action       string `json:"action"`
	StreamSource string `json:"streamSource"`
	YouTubeURL   string `json:"youtube_url"`
}

// DecodeClientMessage parses a client frame. It fails only on malformed JSON or a
// missing action; semantic checks (like a start without a stream source) belong to
// the session controller.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var wire wireClientMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return ClientMessage{}, &DecodeError{Message: fmt.Sprintf("invalid message: %v", err)}
	}

	action := strings.ToLower(strings.TrimSpace(wire.Action))
	if action == "" {
		return ClientMessage{}, &DecodeError{Message: "action is required"}
	}

	source := strings.TrimSpace(wire.StreamSource)
	if source == "" {
		source = strings.TrimSpace(wire.YouTubeURL)
	}

	return ClientMessage{Action: action, StreamSource: source}, nil
}

// Event is a server→client frame
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// StatusData is the payload of a status event
type StatusData struct {
	SessionID       string `json:"sessionId"`
	Status          string `json:"status"`
	ChunksProcessed int    `json:"chunksProcessed"`
}

// TranscriptionData is the payload of a transcription event
type TranscriptionData struct {
	ID        string  `json:"id"`
	Text      string  `json:"text"`
	Timestamp float64 `json:"timestamp"`
}

// ClassificationData is the payload of a classification event
type ClassificationData struct {
	StatementID string `json:"statementId"`
	NeedsCheck  bool   `json:"needsCheck"`
	ClaimType   string `json:"claimType"`
	Reason      string `json:"reason"`
}

// FactCheckData is the payload of a fact_check event
type FactCheckData struct {
	StatementID   string   `json:"statementId"`
	StatementText string   `json:"statementText"`
	Verdict       string   `json:"verdict"`
	Confidence    float64  `json:"confidence"`
	Explanation   string   `json:"explanation"`
	SourceType    string   `json:"sourceType"`
	Sources       []string `json:"sources"`
}

// ErrorData is the payload of an error event
type ErrorData struct {
	Message string `json:"message"`
}

// PingData is the payload of a ping event; TS is unix milliseconds
type PingData struct {
	TS int64 `json:"ts"`
}

// NewStatus builds a status event
func NewStatus(sessionID, status string, chunksProcessed int) Event {
	return Event{Type: TypeStatus, Data: StatusData{
		SessionID:       sessionID,
		Status:          status,
		ChunksProcessed: chunksProcessed,
	}}
}

// NewTranscription builds a transcription event
func NewTranscription(id, text string, timestamp float64) Event {
	return Event{Type: TypeTranscription, Data: TranscriptionData{ID: id, Text: text, Timestamp: timestamp}}
}

// NewClassification builds a classification event
func NewClassification(data ClassificationData) Event {
	return Event{Type: TypeClassification, Data: data}
}

// NewFactCheck builds a fact_check event; a nil source list is sent as []
func NewFactCheck(data FactCheckData) Event {
	if data.Sources == nil {
		data.Sources = []string{}
	}
	return Event{Type: TypeFactCheck, Data: data}
}

// NewError builds an error event
func NewError(message string) Event {
	return Event{Type: TypeError, Data: ErrorData{Message: message}}
}

// NewPing builds a keepalive event
func NewPing(ts time.Time) Event {
	return Event{Type: TypePing, Data: PingData{TS: ts.UnixMilli()}}
}

// Encode renders the event as a JSON text frame
func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", e.Type, err)
	}
	return data, nil
}

// String returns a short human-readable form for logging
func (e Event) String() string {
	switch d := e.Data.(type) {
	case StatusData:
		return fmt.Sprintf("Event{%s session=%s status=%s chunks=%d}", e.Type, d.SessionID, d.Status, d.ChunksProcessed)
	case ErrorData:
		return fmt.Sprintf("Event{%s %q}", e.Type, d.Message)
	default:
		return fmt.Sprintf("Event{%s}", e.Type)
	}
}
