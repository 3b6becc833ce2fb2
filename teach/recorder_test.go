package teach

import (
	"testing"
	"time"

	"github.com/jianyangg/show-and-tell/plan"
)

// stepClock advances by a fixed amount on every reading, so timing
// rules can be exercised deterministically.
type stepClock struct {
	now  time.Time
	step time.Duration
}

func (c *stepClock) tick() time.Time {
	c.now = c.now.Add(c.step)
	return c.now
}

func newTestRecorder(step time.Duration) *recorder {
	r := newRecorder("rec1", DefaultFrameInterval, DefaultMaxFrames)
	clock := &stepClock{now: r.startedAt, step: step}
	r.now = clock.tick
	return r
}

func eventTypes(events []plan.RecordingEvent) []string {
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

func TestStoreFrameSpacingAndCap(t *testing.T) {
	r := newRecorder("rec1", time.Second, 3)
	clock := &stepClock{now: r.startedAt, step: 400 * time.Millisecond}
	r.now = clock.tick

	stored := 0
	for i := 0; i < 10; i++ {
		if r.StoreFrame("png", "https://example.com", false) {
			stored++
		}
	}
	// 400ms apart: only every third capture clears the 1s spacing.
	if stored >= 10 {
		t.Errorf("spacing not enforced: stored %d of 10", stored)
	}
	if len(r.frames) > 3 {
		t.Errorf("cap not enforced: %d frames", len(r.frames))
	}

	before := len(r.frames)
	if !r.StoreFrame("png", "", true) {
		t.Error("forced frame rejected")
	}
	if len(r.frames) < before {
		t.Error("forced frame dropped")
	}
}

func TestClickVersusDrag(t *testing.T) {
	tests := []struct {
		name     string
		downX    float64
		downY    float64
		upX      float64
		upY      float64
		wantType string
	}{
		{"still press is a click", 100, 100, 104, 99, "click"},
		{"exact threshold is still a click", 100, 100, 112, 100, "click"},
		{"horizontal drag", 100, 100, 140, 100, "drag"},
		{"vertical drag", 100, 100, 100, 60, "drag"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRecorder(10 * time.Millisecond)
			r.MouseDown(tt.downX, tt.downY, "left", map[string]any{"tag": "button"})
			r.MouseUp(tt.upX, tt.upY, map[string]any{"tag": "li"})

			if len(r.events) != 1 {
				t.Fatalf("events = %v", eventTypes(r.events))
			}
			e := r.events[0]
			if e.Type != tt.wantType {
				t.Fatalf("type = %q, want %q", e.Type, tt.wantType)
			}
			switch tt.wantType {
			case "click":
				if e.X != tt.downX || e.Y != tt.downY {
					t.Errorf("click event = %+v", e)
				}
				// Clicks carry the press target, not the release target.
				if e.Target["tag"] != "button" {
					t.Errorf("click target = %v", e.Target)
				}
			case "drag":
				if e.StartX != tt.downX || e.EndX != tt.upX {
					t.Errorf("drag event = %+v", e)
				}
				if e.DurationMS <= 0 {
					t.Errorf("drag duration = %dms", e.DurationMS)
				}
				if e.Target["tag"] != "li" {
					t.Errorf("drag release target = %v", e.Target)
				}
			}
		})
	}
}

func TestLongPressIsADrag(t *testing.T) {
	r := newTestRecorder(600 * time.Millisecond)
	r.MouseDown(100, 100, "left", nil)
	r.MouseUp(102, 101, map[string]any{"tag": "div"})

	if len(r.events) != 1 || r.events[0].Type != "drag" {
		t.Fatalf("events = %v", eventTypes(r.events))
	}
	e := r.events[0]
	if e.DurationMS < 500 {
		t.Errorf("duration = %dms", e.DurationMS)
	}
	if e.Target == nil {
		t.Error("release target missing from drag")
	}
}

func TestMouseUpWithoutDownIgnored(t *testing.T) {
	r := newTestRecorder(10 * time.Millisecond)
	r.MouseUp(10, 10, nil)
	if len(r.events) != 0 {
		t.Errorf("events = %v", eventTypes(r.events))
	}
}

func TestWheelAggregation(t *testing.T) {
	r := newTestRecorder(100 * time.Millisecond)
	r.Wheel(700, 400, 0, 120)
	r.Wheel(700, 400, 0, 120)
	r.Wheel(700, 400, 0, -40)

	if len(r.events) != 1 {
		t.Fatalf("events = %v", eventTypes(r.events))
	}
	e := r.events[0]
	if e.DeltaY != 200 || e.Count != 3 {
		t.Errorf("aggregated wheel = %+v", e)
	}

	// A slow recorder tick pushes the next wheel past the merge window.
	r.now = (&stepClock{now: r.now(), step: 2 * time.Second}).tick
	r.Wheel(700, 400, 0, 50)
	if len(r.events) != 2 {
		t.Errorf("distant wheel merged: %v", eventTypes(r.events))
	}
}

func TestKeyHoldAndRepeats(t *testing.T) {
	r := newTestRecorder(500 * time.Millisecond)
	r.KeyDown("ArrowDown", nil)
	r.KeyDown("ArrowDown", nil) // auto-repeat while held
	r.KeyDown("ArrowDown", nil)
	r.KeyUp("ArrowDown")

	types := eventTypes(r.events)
	want := []string{"key_down", "key_down_repeat", "key_down_repeat", "key_up", "key_hold"}
	if len(types) != len(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("events = %v, want %v", types, want)
		}
	}
	if repeat := r.events[1]; repeat.Key != "ArrowDown" {
		t.Errorf("repeat = %+v", repeat)
	}
	// The hold spans the original press, not the last repeat.
	hold := r.events[4]
	if hold.Key != "ArrowDown" || hold.DurationMS < 450 {
		t.Errorf("hold = %+v", hold)
	}
}

func TestShortTapHasNoHold(t *testing.T) {
	r := newTestRecorder(50 * time.Millisecond)
	r.KeyDown("a", nil)
	r.KeyUp("a")
	for _, e := range r.events {
		if e.Type == "key_hold" {
			t.Errorf("short tap produced hold: %v", eventTypes(r.events))
		}
	}
}

func TestTypeEventOnFocusChange(t *testing.T) {
	r := newTestRecorder(20 * time.Millisecond)
	search := map[string]any{"selector": "#search", "tag": "input"}

	r.KeyDown("h", search)
	r.KeyUp("h")
	r.KeyDown("i", search)
	r.KeyUp("i")

	typeEvents := 0
	for _, e := range r.events {
		if e.Type == "type" {
			typeEvents++
			if e.Target["selector"] != "#search" {
				t.Errorf("type target = %v", e.Target)
			}
		}
	}
	if typeEvents != 1 {
		t.Fatalf("type events = %d, want 1 (same field typed twice)", typeEvents)
	}

	// Moving focus to another field starts a new type event.
	r.KeyDown("x", map[string]any{"selector": "#email"})
	r.KeyUp("x")
	typeEvents = 0
	for _, e := range r.events {
		if e.Type == "type" {
			typeEvents++
		}
	}
	if typeEvents != 2 {
		t.Errorf("type events after focus change = %d, want 2", typeEvents)
	}

	// Named keys never open a type event.
	r2 := newTestRecorder(20 * time.Millisecond)
	r2.KeyDown("Enter", search)
	for _, e := range r2.events {
		if e.Type == "type" {
			t.Error("named key produced type event")
		}
	}
}

func TestMarkerAndBundle(t *testing.T) {
	r := newTestRecorder(10 * time.Millisecond)
	r.Navigate("https://example.com")
	r.Marker("after login")
	r.StoreFrame("png", "https://example.com", true)

	bundle := r.Bundle("https://example.com")
	if bundle.RecordingID != "rec1" {
		t.Errorf("recordingId = %q", bundle.RecordingID)
	}
	if len(bundle.Markers) != 1 || bundle.Markers[0].Label != "after login" {
		t.Errorf("markers = %v", bundle.Markers)
	}
	if len(bundle.Frames) != 1 || len(bundle.Events) != 2 {
		t.Errorf("frames = %d, events = %v", len(bundle.Frames), eventTypes(bundle.Events))
	}
	if bundle.Events[0].Type != "navigate" || bundle.Events[0].URL != "https://example.com" {
		t.Errorf("first event = %+v", bundle.Events[0])
	}
	if bundle.StoppedAt <= 0 {
		t.Errorf("stoppedAt = %v", bundle.StoppedAt)
	}
}

func TestRecentEvents(t *testing.T) {
	r := newTestRecorder(10 * time.Millisecond)
	for i := 0; i < 8; i++ {
		r.Navigate("https://example.com")
	}
	recent := r.RecentEvents(5)
	if len(recent) != 5 {
		t.Errorf("recent = %d, want 5", len(recent))
	}
	if all := r.RecentEvents(50); len(all) != 8 {
		t.Errorf("all = %d, want 8", len(all))
	}
}
