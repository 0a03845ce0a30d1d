// Package transport implements the TransportAdapter: a gorilla/websocket
// handshake plus bidirectional frame loop, generalized from
// internal/ws/websocket.go and the session send-queue pattern in
// session/manager.go.
package transport

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"vadstream/internal/events"
	"vadstream/internal/logger"
)

// Config carries the connection-level tunables the teacher's
// cfg.Server.WebSocket struct exposes.
type Config struct {
	ReadBufferSize    int
	WriteBufferSize   int
	EnableCompression bool
	ReadTimeout       time.Duration
	MaxMessageSize    int
	SendQueueSize     int

	// ContinuousRecognition, when false, means the writer closes the
	// connection itself right after delivering one RecognitionResult,
	// per the §9 redesign flag: a deterministic writer-side close signal
	// instead of a racy close_requested flag observed by the reader.
	ContinuousRecognition func() bool
}

// handshake is the first text/JSON frame a client must send.
type handshake struct {
	Lang   string `json:"lang"`
	Prompt string `json:"prompt"`
}

// Pipeline is the subset of pipeline.Pipeline the transport adapter
// drives; kept as an interface so transport has no import-time dependency
// on the pipeline package's concrete construction (vad/recognizer/sink
// wiring lives in bootstrap).
type Pipeline interface {
	SetLanguage(code string)
	SetPrompt(text string)
	Ingest(payload []byte)
	Close()
}

// Session wraps one accepted connection's pipeline plus its lifecycle
// hooks, handed back to the caller so it can register/deregister the
// session in the registry.
type Session struct {
	ID       int64
	Pipeline Pipeline
}

// Adapter is the TransportAdapter component.
type Adapter struct {
	cfg      Config
	upgrader websocket.Upgrader
}

// NewAdapter builds an Adapter from cfg.
func NewAdapter(cfg Config) *Adapter {
	return &Adapter{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin:       func(r *http.Request) bool { return true },
			ReadBufferSize:    cfg.ReadBufferSize,
			WriteBufferSize:   cfg.WriteBufferSize,
			EnableCompression: cfg.EnableCompression,
		},
	}
}

// NewPipelineFunc constructs a session's Pipeline given its ID and an
// emit capability that the adapter wires to the connection's send queue.
type NewPipelineFunc func(sessionID int64, emit func(events.Event)) Pipeline

// OnSession is called once a session has been accepted and its Pipeline
// constructed, so the caller can register it in a SessionRegistry; the
// returned func is called on disconnect to deregister it.
type OnSession func(s Session) (onClose func())

// Handle upgrades the request to a WebSocket connection, reads the
// handshake frame, then runs the read loop and a dedicated writer
// goroutine for the lifetime of the connection. sessionID is allocated by
// nextID before the Pipeline is constructed so emit can be wired before
// any frame is ingested.
func (a *Adapter) Handle(w http.ResponseWriter, r *http.Request, nextID func() int64, newPipeline NewPipelineFunc, onSession OnSession) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket_upgrade_failed", "error", err)
		return
	}

	if a.cfg.ReadTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(a.cfg.ReadTimeout))
	}

	sessionID := nextID()
	sendQueue := make(chan events.Event, a.cfg.SendQueueSize)

	emit := func(ev events.Event) {
		select {
		case sendQueue <- ev:
		default:
			logger.Warn("session_send_queue_full", "session_id", sessionID, "action", "dropped_event")
		}
	}

	p := newPipeline(sessionID, emit)

	stop := make(chan struct{})
	var closeOnce sync.Once
	cleanup := func() {
		closeOnce.Do(func() {
			close(stop)
			p.Close()
			conn.Close()
		})
	}

	var onClose func()
	if onSession != nil {
		onClose = onSession(Session{ID: sessionID, Pipeline: p})
	}
	defer func() {
		cleanup()
		if onClose != nil {
			onClose()
		}
		logger.Info("websocket_connection_closed", "session_id", sessionID)
	}()

	writerDone := make(chan struct{})
	go a.writeLoop(conn, sendQueue, stop, cleanup, writerDone)
	defer func() { <-writerDone }()

	logger.Info("websocket_connection_established", "session_id", sessionID)

	if !a.readHandshake(conn, p, sessionID) {
		return
	}

	a.readLoop(conn, p, sessionID)
}

func (a *Adapter) readHandshake(conn *websocket.Conn, p Pipeline, sessionID int64) bool {
	msgType, message, err := conn.ReadMessage()
	if err != nil {
		logger.Warn("websocket_handshake_read_error", "session_id", sessionID, "error", err)
		return false
	}
	if msgType != websocket.TextMessage {
		logger.Warn("websocket_handshake_wrong_frame_type", "session_id", sessionID)
		return false
	}

	var hs handshake
	if err := json.Unmarshal(message, &hs); err != nil {
		logger.Warn("websocket_handshake_decode_failed", "session_id", sessionID, "error", err)
		return false
	}
	p.SetLanguage(hs.Lang)
	p.SetPrompt(hs.Prompt)
	return true
}

func (a *Adapter) readLoop(conn *websocket.Conn, p Pipeline, sessionID int64) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			logger.Debug("websocket_read_closed", "session_id", sessionID)
			return
		}

		if a.cfg.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(a.cfg.ReadTimeout))
		}

		if a.cfg.MaxMessageSize > 0 && len(message) > a.cfg.MaxMessageSize {
			logger.Warn("websocket_message_too_large", "session_id", sessionID, "size", len(message))
			return
		}

		if len(message) > 0 {
			p.Ingest(message)
		}
	}
}

// writeLoop serializes all sends to conn from a single goroutine. When
// ContinuousRecognition reports false, it closes the connection itself
// right after writing a RecognitionResult, rather than leaving that to a
// flag the reader might never observe. sendQueue is never closed (emit
// may still be called concurrently from a late recognition callback); stop
// is the signal this loop exits on instead.
func (a *Adapter) writeLoop(conn *websocket.Conn, sendQueue chan events.Event, stop chan struct{}, cleanup func(), done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("websocket_write_loop_panicked", "recover", r)
		}
	}()

	for {
		select {
		case <-stop:
			return
		case ev := <-sendQueue:
			raw, err := events.Marshal(ev)
			if err != nil {
				logger.Error("event_marshal_failed", "error", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				logger.Error("websocket_write_failed", "error", err)
				cleanup()
				return
			}

			if ev.Kind == events.RecognitionResult && a.cfg.ContinuousRecognition != nil && !a.cfg.ContinuousRecognition() {
				cleanup()
				return
			}
		}
	}
}
