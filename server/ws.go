package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/jianyangg/show-and-tell/registry"
	"github.com/jianyangg/show-and-tell/teach"
)

// teachFrameInterval is the live preview cadence for teach sockets.
const teachFrameInterval = 150 * time.Millisecond

// eventLogBatch is how many new events accumulate before the teach socket
// pushes an event log snapshot.
const eventLogBatch = 5

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The operator frontend runs on its own origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn serializes writes: the pump goroutine and inbound-reply paths
// share one connection.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(v)
}

func (w *wsConn) Close() error { return w.conn.Close() }

// runInbound is one message from a run subscriber: a confirmation reply, a
// variable submission, or an abort.
type runInbound struct {
	Type   string         `json:"type"`
	Allow  bool           `json:"allow"`
	Values map[string]any `json:"values"`
}

// runSocket streams a run's events to one subscriber and routes its
// operator replies back into the run.
func (s *Server) runSocket(c *gin.Context) {
	raw, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	conn := &wsConn{conn: raw}
	defer conn.Close()

	run, ok := s.svc.Runs.Get(c.Param("runId"))
	if !ok {
		_ = conn.WriteJSON(registry.Message{"type": "runner_status", "message": "unknown_run"})
		return
	}

	sub := run.Subscribe()
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for {
			select {
			case message := <-sub.Messages():
				if conn.WriteJSON(message) != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		var msg runInbound
		if err := raw.ReadJSON(&msg); err != nil {
			close(done)
			return
		}
		switch msg.Type {
		case "confirm_action":
			run.ResolveConfirmation(msg.Allow)
		case "submit_variables":
			run.ResolveVariables(msg.Values)
		case "abort":
			run.RequestAbort()
		}
	}
}

// teachSocket drives a live teach session: it streams preview frames and
// event log snapshots out, and relays operator input into the browser.
func (s *Server) teachSocket(c *gin.Context) {
	raw, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	conn := &wsConn{conn: raw}
	defer conn.Close()

	session := s.svc.Teach.Get(c.Param("teachId"))
	if session == nil {
		_ = conn.WriteJSON(gin.H{"type": "error", "message": "unknown teach session"})
		return
	}

	done := make(chan struct{})
	go s.teachFramePump(session, conn, done)

	ctx := c.Request.Context()
	for {
		var msg teach.InputMessage
		if err := raw.ReadJSON(&msg); err != nil {
			// Disconnect pauses the session; the bundle is collected by
			// a later stop call.
			session.Detach()
			close(done)
			return
		}

		if msg.Type == "probe_dom" {
			_ = conn.WriteJSON(session.ProbeDOM(msg.Reason, msg.X, msg.Y))
			continue
		}
		// Input failures are reported but never end the stream: the next
		// pointer event usually succeeds.
		if err := session.HandleInput(ctx, msg); err != nil {
			_ = conn.WriteJSON(gin.H{"type": "error", "message": err.Error()})
		}
	}
}

// teachFramePump streams screenshots on a fixed cadence and batches event
// log snapshots alongside them.
func (s *Server) teachFramePump(session *teach.Session, conn *wsConn, done <-chan struct{}) {
	ticker := time.NewTicker(teachFrameInterval)
	defer ticker.Stop()

	lastEventCount := 0
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}
		if !session.Running() {
			return
		}

		frame, err := session.CaptureFrame(context.Background(), false)
		if err == nil {
			if conn.WriteJSON(gin.H{"type": "runner_frame", "frame": frame, "cursor": nil}) != nil {
				return
			}
		}

		if count := session.EventCount(); count >= lastEventCount+eventLogBatch {
			lastEventCount = count
			snapshot := session.RecentEvents(20)
			if conn.WriteJSON(gin.H{"type": "event_log", "events": snapshot}) != nil {
				return
			}
		}
	}
}
