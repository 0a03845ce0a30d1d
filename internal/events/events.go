// Package events defines the tagged Event type the pipeline emits back to a
// client and its wire-JSON encoding.
package events

import (
	"bytes"
	"encoding/json"
)

// Kind discriminates the three event variants the pipeline produces.
type Kind int

const (
	// SpeechStart fires when the VAD state machine transitions IDLE -> IN_SPEECH.
	SpeechStart Kind = iota
	// SpeechEnd fires when the VAD state machine transitions IN_SPEECH -> IDLE.
	SpeechEnd
	// RecognitionResult fires when a dispatched utterance's transcription completes.
	RecognitionResult
)

// Result carries a transcription outcome. Err, when set, is surfaced to the
// client as an error marker rather than propagated as a Go error.
type Result struct {
	Text       string
	Language   string
	Confidence *float32
	Err        error
}

// Event is a tagged record sent to the client. SpeechID is nil once cleared
// (never attached to an event emitted after clearing).
type Event struct {
	Kind       Kind
	SessionID  int64
	SpeechID   *string
	BufferSize int
	Result     Result
	Timestamp  float64
}

// NewSpeechStart builds a SpeechStart event.
func NewSpeechStart(sessionID int64, speechID string, bufferSize int, timestamp float64) Event {
	return Event{Kind: SpeechStart, SessionID: sessionID, SpeechID: &speechID, BufferSize: bufferSize, Timestamp: timestamp}
}

// NewSpeechEnd builds a SpeechEnd event.
func NewSpeechEnd(sessionID int64, speechID string, bufferSize int, timestamp float64) Event {
	return Event{Kind: SpeechEnd, SessionID: sessionID, SpeechID: &speechID, BufferSize: bufferSize, Timestamp: timestamp}
}

// NewRecognitionResult builds a RecognitionResult event. SpeechID is always
// set to speechID, the id of the utterance that was dispatched (SpeechEnd
// always precedes the corresponding RecognitionResult for the same
// speech_id).
func NewRecognitionResult(sessionID int64, speechID string, result Result, timestamp float64) Event {
	return Event{Kind: RecognitionResult, SessionID: sessionID, SpeechID: &speechID, Result: result, Timestamp: timestamp}
}

type wireResult struct {
	Text       string   `json:"text"`
	Language   string   `json:"language,omitempty"`
	Confidence *float32 `json:"confidence,omitempty"`
	Error      string   `json:"error,omitempty"`
}

type wireEvent struct {
	Type           string      `json:"type"`
	SessionID      int64       `json:"session_id"`
	SpeechID       *string     `json:"speech_id"`
	SpeechDetected *bool       `json:"speech_detected,omitempty"`
	SpeechEnded    *bool       `json:"speech_ended,omitempty"`
	BufferSize     *int        `json:"buffer_size,omitempty"`
	Result         *wireResult `json:"result,omitempty"`
	Timestamp      float64     `json:"timestamp"`
}

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }

// Marshal renders an Event as the wire JSON schema, without HTML-escaping
// text content (recognized speech routinely contains `&`, `<`, `>`).
func Marshal(ev Event) ([]byte, error) {
	w := wireEvent{SessionID: ev.SessionID, SpeechID: ev.SpeechID, Timestamp: ev.Timestamp}

	switch ev.Kind {
	case SpeechStart:
		w.Type = "vad_result"
		w.SpeechDetected = boolPtr(true)
		w.SpeechEnded = boolPtr(false)
		w.BufferSize = intPtr(ev.BufferSize)
	case SpeechEnd:
		w.Type = "vad_result"
		w.SpeechDetected = boolPtr(false)
		w.SpeechEnded = boolPtr(true)
		w.BufferSize = intPtr(ev.BufferSize)
	case RecognitionResult:
		w.Type = "recognition_result"
		wr := wireResult{Text: ev.Result.Text, Language: ev.Result.Language, Confidence: ev.Result.Confidence}
		if ev.Result.Err != nil {
			wr.Error = ev.Result.Err.Error()
		}
		w.Result = &wr
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(w); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
