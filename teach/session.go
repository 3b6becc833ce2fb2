package teach

import (
	"context"
	"encoding/base64"
	"sync"

	"github.com/jianyangg/show-and-tell/browser"
	"github.com/jianyangg/show-and-tell/dom"
	"github.com/jianyangg/show-and-tell/plan"
)

// Session is one live teach demonstration: a headless browser the
// operator drives through the teach websocket, plus the recorder that
// turns their input into a recording bundle.
type Session struct {
	ID          string
	RecordingID string
	StartURL    string

	rec     *recorder
	session *browser.Session
	page    *browser.Page

	mu      sync.Mutex
	running bool
}

// Running reports whether the session still accepts input and frames.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Session) setRunning(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = running
}

// CaptureFrame screenshots the page and stores the frame when the
// buffer's spacing allows it. The encoded PNG is returned either way so
// the websocket pump can stream every capture.
func (s *Session) CaptureFrame(ctx context.Context, force bool) (string, error) {
	png, err := s.page.Screenshot(ctx)
	if err != nil {
		return "", err
	}
	encoded := base64.StdEncoding.EncodeToString(png)
	s.rec.StoreFrame(encoded, s.page.URL(), force)
	return encoded, nil
}

// AddMarker records an operator-inserted step boundary.
func (s *Session) AddMarker(label string) {
	s.rec.Marker(label)
}

// EventCount returns how many events the session has recorded.
func (s *Session) EventCount() int { return s.rec.EventCount() }

// RecentEvents returns up to n of the newest recorded events.
func (s *Session) RecentEvents(n int) []plan.RecordingEvent { return s.rec.RecentEvents(n) }

// InputMessage is one operator input relayed over the teach websocket.
type InputMessage struct {
	Type   string  `json:"type"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Button int     `json:"button"`
	DeltaX float64 `json:"deltaX"`
	DeltaY float64 `json:"deltaY"`
	Key    string  `json:"key"`
	URL    string  `json:"url"`
	Label  string  `json:"label"`
	Reason string  `json:"reason"`
}

func buttonName(code int) string {
	switch code {
	case 1:
		return "middle"
	case 2:
		return "right"
	default:
		return "left"
	}
}

// HandleInput forwards one operator input to the page and records it.
// Probe metadata is best-effort: a failed probe never fails the input.
func (s *Session) HandleInput(ctx context.Context, msg InputMessage) error {
	switch msg.Type {
	case "mouse_move":
		return s.page.MoveMouse(ctx, msg.X, msg.Y)

	case "mouse_down":
		button := buttonName(msg.Button)
		if err := s.page.MouseDown(ctx, msg.X, msg.Y, button); err != nil {
			return err
		}
		target := dom.DescribeClickTarget(s.page.Rod(), msg.X, msg.Y)
		s.rec.MouseDown(msg.X, msg.Y, button, target)
		return nil

	case "mouse_up":
		if err := s.page.MouseUp(ctx, msg.X, msg.Y, buttonName(msg.Button)); err != nil {
			return err
		}
		// The release target only matters when the press resolves to a
		// drag; the recorder discards it otherwise.
		target := dom.DescribeClickTarget(s.page.Rod(), msg.X, msg.Y)
		s.rec.MouseUp(msg.X, msg.Y, target)
		return nil

	case "wheel":
		if err := s.page.Wheel(ctx, msg.X, msg.Y, msg.DeltaX, msg.DeltaY); err != nil {
			return err
		}
		s.rec.Wheel(msg.X, msg.Y, msg.DeltaX, msg.DeltaY)
		return nil

	case "key_down":
		// Unknown keys still get recorded; the browser just never sees
		// them.
		_ = s.page.KeyDown(ctx, msg.Key)
		focus := dom.DescribeFocus(s.page.Rod())
		s.rec.KeyDown(msg.Key, focus)
		return nil

	case "key_up":
		_ = s.page.KeyUp(ctx, msg.Key)
		s.rec.KeyUp(msg.Key)
		return nil

	case "navigate":
		if err := s.page.Navigate(ctx, msg.URL); err != nil {
			return err
		}
		s.rec.Navigate(s.page.URL())
		return nil

	case "marker":
		s.rec.Marker(msg.Label)
		return nil
	}
	// Unrecognized message types are ignored so protocol additions do not
	// break older servers.
	return nil
}

// ProbeDOM runs a DOM introspection probe on the operator's behalf and
// records the result. Focus-style reasons describe the active element;
// anything else hit-tests the given point. The returned payload is what the
// teach websocket sends back to the frontend.
func (s *Session) ProbeDOM(reason string, x, y float64) map[string]any {
	var target map[string]any
	switch reason {
	case "focus", "activeElement":
		target = dom.DescribeFocus(s.page.Rod())
	default:
		target = dom.DescribeClickTarget(s.page.Rod(), x, y)
	}
	s.rec.Probe(reason, x, y, target)
	return map[string]any{
		"type":   "dom_probe",
		"reason": reason,
		"target": target,
	}
}

// Detach marks the session as no longer streamed. The browser stays open
// so a later stop call can still collect the bundle.
func (s *Session) Detach() {
	s.setRunning(false)
}

// stop finalizes the session: forces a last frame, closes the browser,
// and returns the finished bundle.
func (s *Session) stop(ctx context.Context) plan.RecordingBundle {
	s.setRunning(false)
	_, _ = s.CaptureFrame(ctx, true)
	if s.session != nil {
		s.session.Close()
	}
	return s.rec.Bundle(s.StartURL)
}
