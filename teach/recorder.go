// Package teach captures operator browser demonstrations: streamed
// screenshots plus a structured event log that plan synthesis consumes.
package teach

import (
	"math"
	"sync"
	"time"

	"github.com/jianyangg/show-and-tell/plan"
)

const (
	// DefaultFrameInterval is the minimum spacing between stored frames.
	DefaultFrameInterval = time.Second
	// DefaultMaxFrames caps the frame buffer; the oldest frame is dropped
	// first.
	DefaultMaxFrames = 360

	// dragThresholdPx: a press/release displaced further than this on
	// either axis is a drag, not a click.
	dragThresholdPx = 12.0
	// dragHoldThreshold: a press held at least this long is a drag even
	// without displacement.
	dragHoldThreshold = 500 * time.Millisecond
	// holdThreshold: keys held at least this long get a key_hold event.
	holdThreshold = 450 * time.Millisecond
	// wheelMergeWindow: wheel events this close together collapse into
	// one aggregated scroll.
	wheelMergeWindow = 1.0
)

// recorder accumulates the frames, events, and markers of one teach
// session. It holds no browser state, so tests drive it directly.
type recorder struct {
	recordingID string
	startedAt   time.Time
	now         func() time.Time

	frameInterval time.Duration
	maxFrames     int

	mu          sync.Mutex
	frames      []plan.RecordingFrame
	events      []plan.RecordingEvent
	markers     []plan.RecordingMarker
	lastFrameTS float64

	pressed       map[string]float64
	lastFocusPath string

	mouseDown  bool
	downX      float64
	downY      float64
	downTS     float64
	downButton string
	downTarget map[string]any
}

func newRecorder(recordingID string, frameInterval time.Duration, maxFrames int) *recorder {
	if frameInterval <= 0 {
		frameInterval = DefaultFrameInterval
	}
	if maxFrames <= 0 {
		maxFrames = DefaultMaxFrames
	}
	return &recorder{
		recordingID:   recordingID,
		startedAt:     time.Now(),
		now:           time.Now,
		frameInterval: frameInterval,
		maxFrames:     maxFrames,
		pressed:       make(map[string]float64),
	}
}

func (r *recorder) elapsed() float64 {
	return r.now().Sub(r.startedAt).Seconds()
}

// StoreFrame appends a screenshot unless one was stored too recently.
// Forced frames (session start and stop) always land.
func (r *recorder) StoreFrame(pngBase64, url string, force bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := r.elapsed()
	if !force && len(r.frames) > 0 && ts-r.lastFrameTS < r.frameInterval.Seconds() {
		return false
	}
	r.frames = append(r.frames, plan.RecordingFrame{TS: ts, URL: url, PNGBase64: pngBase64})
	r.lastFrameTS = ts
	if len(r.frames) > r.maxFrames {
		r.frames = r.frames[1:]
	}
	return true
}

func (r *recorder) append(event plan.RecordingEvent) {
	event.TS = r.elapsed()
	r.events = append(r.events, event)
}

// Navigate records an address-bar navigation.
func (r *recorder) Navigate(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.append(plan.RecordingEvent{Type: "navigate", URL: url})
}

// MouseDown stashes the press; whether it becomes a click or a drag is
// decided on release.
func (r *recorder) MouseDown(x, y float64, button string, target map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mouseDown = true
	r.downX, r.downY = x, y
	r.downTS = r.elapsed()
	r.downButton = button
	r.downTarget = target
}

// MouseUp resolves the pending press: displacement beyond the drag
// threshold on either axis, or a hold past the drag duration, records a
// drag carrying the release target; otherwise the press is a click.
func (r *recorder) MouseUp(x, y float64, endTarget map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.mouseDown {
		return
	}
	r.mouseDown = false

	ts := r.elapsed()
	duration := ts - r.downTS
	moved := math.Abs(x-r.downX) > dragThresholdPx || math.Abs(y-r.downY) > dragThresholdPx
	if moved || duration >= dragHoldThreshold.Seconds() {
		r.events = append(r.events, plan.RecordingEvent{
			Type:       "drag",
			TS:         ts,
			StartX:     r.downX,
			StartY:     r.downY,
			EndX:       x,
			EndY:       y,
			Button:     r.downButton,
			DurationMS: int(math.Round(duration * 1000)),
			Target:     endTarget,
		})
		return
	}
	r.events = append(r.events, plan.RecordingEvent{
		Type:   "click",
		TS:     ts,
		X:      r.downX,
		Y:      r.downY,
		Button: r.downButton,
		Target: r.downTarget,
	})
}

// Wheel records a scroll, folding it into the previous wheel event when
// they are close enough in time to be one gesture.
func (r *recorder) Wheel(x, y, deltaX, deltaY float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := r.elapsed()
	if n := len(r.events); n > 0 {
		last := &r.events[n-1]
		if last.Type == "wheel" && ts-last.TS <= wheelMergeWindow {
			last.DeltaX += deltaX
			last.DeltaY += deltaY
			last.Count++
			last.TS = ts
			return
		}
	}
	r.events = append(r.events, plan.RecordingEvent{
		Type:   "wheel",
		TS:     ts,
		X:      x,
		Y:      y,
		DeltaX: deltaX,
		DeltaY: deltaY,
		Count:  1,
	})
}

// printableKey reports whether the key name is a single typed character,
// as opposed to a named key like Enter or Shift.
func printableKey(key string) bool {
	runes := []rune(key)
	return len(runes) == 1
}

func focusPath(focus map[string]any) string {
	if focus == nil {
		return ""
	}
	if s, ok := focus["selector"].(string); ok {
		return s
	}
	return ""
}

// KeyDown records a key press. Auto-repeats while held become
// key_down_repeat events and keep the original press timestamp, so the
// eventual key_hold measures the full hold. The first printable key typed
// into a newly focused element also records a type event carrying the
// focus metadata.
func (r *recorder) KeyDown(key string, focus map[string]any) {
	if key == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, held := r.pressed[key]; held {
		r.events = append(r.events, plan.RecordingEvent{Type: "key_down_repeat", TS: r.elapsed(), Key: key})
		return
	}
	ts := r.elapsed()
	r.pressed[key] = ts
	r.events = append(r.events, plan.RecordingEvent{Type: "key_down", TS: ts, Key: key})

	if printableKey(key) {
		path := focusPath(focus)
		if path != "" && path != r.lastFocusPath {
			r.lastFocusPath = path
			r.events = append(r.events, plan.RecordingEvent{Type: "type", TS: ts, Target: focus})
		}
	}
}

// KeyUp records the release and, for long holds, a key_hold event with
// the measured duration.
func (r *recorder) KeyUp(key string) {
	if key == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := r.elapsed()
	r.events = append(r.events, plan.RecordingEvent{Type: "key_up", TS: ts, Key: key})

	downTS, held := r.pressed[key]
	if !held {
		return
	}
	delete(r.pressed, key)
	duration := ts - downTS
	if duration >= holdThreshold.Seconds() {
		r.events = append(r.events, plan.RecordingEvent{
			Type:       "key_hold",
			TS:         ts,
			Key:        key,
			DurationMS: int(math.Round(duration * 1000)),
		})
	}
}

// Probe records a DOM introspection result requested by the operator.
func (r *recorder) Probe(reason string, x, y float64, target map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.append(plan.RecordingEvent{
		Type:   "dom_probe",
		X:      x,
		Y:      y,
		Label:  reason,
		Target: target,
	})
}

// Marker records an operator-inserted step boundary.
func (r *recorder) Marker(label string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts := r.elapsed()
	r.markers = append(r.markers, plan.RecordingMarker{TS: ts, Label: label})
	r.events = append(r.events, plan.RecordingEvent{Type: "marker", TS: ts, Label: label})
}

// EventCount returns the number of recorded events.
func (r *recorder) EventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// RecentEvents returns up to n of the newest events.
func (r *recorder) RecentEvents(n int) []plan.RecordingEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	start := len(r.events) - n
	if start < 0 {
		start = 0
	}
	out := make([]plan.RecordingEvent, len(r.events)-start)
	copy(out, r.events[start:])
	return out
}

// Bundle snapshots everything recorded so far.
func (r *recorder) Bundle(startURL string) plan.RecordingBundle {
	r.mu.Lock()
	defer r.mu.Unlock()

	frames := make([]plan.RecordingFrame, len(r.frames))
	copy(frames, r.frames)
	events := make([]plan.RecordingEvent, len(r.events))
	copy(events, r.events)
	markers := make([]plan.RecordingMarker, len(r.markers))
	copy(markers, r.markers)

	return plan.RecordingBundle{
		RecordingID: r.recordingID,
		StartedAt:   float64(r.startedAt.UnixMilli()) / 1000,
		StoppedAt:   float64(r.now().UnixMilli()) / 1000,
		StartURL:    startURL,
		Frames:      frames,
		Events:      events,
		Markers:     markers,
	}
}
