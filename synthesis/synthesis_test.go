package synthesis

import (
	"context"
	"strings"
	"testing"

	"github.com/jianyangg/show-and-tell/plan"
)

func TestSummarizeEvents(t *testing.T) {
	events := []plan.RecordingEvent{
		{Type: "navigate", TS: 0.2, URL: "https://example.com"},
		{Type: "wheel", TS: 1.0, DeltaY: 300},
		{Type: "wheel", TS: 1.2, DeltaY: 500},
		{Type: "wheel", TS: 1.4, DeltaX: -120},
		{Type: "click", TS: 2.5, X: 640.4, Y: 220.8, Button: "left", Target: map[string]any{
			"actionable": map[string]any{"label": "Sign in", "cssPath": "#signin"},
		}},
		{Type: "type", TS: 3.1, Target: map[string]any{"selector": "#email"}},
		{Type: "key_hold", TS: 4.0, Key: "Backspace", DurationMS: 900},
		{Type: "marker", TS: 5.0, Label: "after login"},
	}

	lines := SummarizeEvents(events, 2000)
	joined := strings.Join(lines, "\n")

	for _, want := range []string{
		"navigate https://example.com",
		"scroll down ~800 & left ~120",
		`click on (640.4,220.8) "Sign in" #signin button=left`,
		"type into #email",
		"key_hold Backspace for 0.90s",
		"marker after login",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("summary missing %q:\n%s", want, joined)
		}
	}

	// The scroll burst collapses to one line stamped at its start.
	scrollLines := 0
	for _, line := range lines {
		if strings.Contains(line, "scroll") {
			scrollLines++
			if !strings.HasPrefix(line, "01.000s") {
				t.Errorf("scroll line = %q, want start timestamp", line)
			}
		}
	}
	if scrollLines != 1 {
		t.Errorf("scroll lines = %d, want 1", scrollLines)
	}
}

func TestSummarizeEventsTrailingScrollFlushes(t *testing.T) {
	lines := SummarizeEvents([]plan.RecordingEvent{
		{Type: "wheel", TS: 1.0, DeltaY: -250},
	}, 0)
	if len(lines) != 1 || !strings.Contains(lines[0], "scroll up ~250") {
		t.Errorf("lines = %v", lines)
	}
}

func TestDownsampleFrames(t *testing.T) {
	frames := make([]plan.RecordingFrame, 40)
	for i := range frames {
		frames[i] = plan.RecordingFrame{TS: float64(i)}
	}

	sampled := DownsampleFrames(frames, 8)
	if len(sampled) != 8 {
		t.Fatalf("sampled = %d, want 8", len(sampled))
	}
	for i := 1; i < len(sampled); i++ {
		if sampled[i].TS <= sampled[i-1].TS {
			t.Fatalf("sampling not chronological: %v", sampled)
		}
	}

	few := []plan.RecordingFrame{{TS: 1}, {TS: 2}}
	if got := DownsampleFrames(few, 8); len(got) != 2 {
		t.Errorf("short input resampled: %v", got)
	}
}

func TestBuildPromptSections(t *testing.T) {
	bundle := plan.RecordingBundle{
		Markers: []plan.RecordingMarker{{TS: 3.5, Label: "cart open"}},
		Events:  []plan.RecordingEvent{{Type: "navigate", TS: 0.1, URL: "https://shop.example.com"}},
	}
	prompt := BuildPrompt(bundle, "checkout")

	for _, want := range []string{
		"Return strict JSON",
		`"name":"checkout"`,
		"- t=3.50s :: cart open",
		"Interaction timeline",
		"navigate https://shop.example.com",
		"Respond with JSON only.",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	// No markers or events: the sections disappear entirely.
	bare := BuildPrompt(plan.RecordingBundle{}, "")
	if strings.Contains(bare, "Markers collected") || strings.Contains(bare, "Interaction timeline") {
		t.Error("empty sections rendered")
	}
	if !strings.Contains(bare, `"name":"recorded run"`) {
		t.Error("default plan name missing")
	}
}

func TestParsePlan(t *testing.T) {
	t.Run("valid plan with vars", func(t *testing.T) {
		p, err := ParsePlan(`{
			"name": "city search",
			"vars": {"city": "", "count": 3},
			"steps": [
				{"id": "s1", "title": "Open site", "instructions": "Navigate to the site."},
				{"title": "Search", "instructions": "Type {city} into the search box."}
			]
		}`)
		if err != nil {
			t.Fatal(err)
		}
		if p.Name != "city search" || len(p.Steps) != 2 {
			t.Errorf("plan = %+v", p)
		}
		if p.Steps[1].ID != "s2" {
			t.Errorf("missing step id not filled: %+v", p.Steps[1])
		}
		if p.Vars["count"] != "3" {
			t.Errorf("vars = %v", p.Vars)
		}
	})

	t.Run("rejects malformed json", func(t *testing.T) {
		if _, err := ParsePlan("not json"); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("rejects empty steps", func(t *testing.T) {
		if _, err := ParsePlan(`{"name":"x","steps":[]}`); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("rejects step without instructions", func(t *testing.T) {
		_, err := ParsePlan(`{"name":"x","steps":[{"id":"s1","title":"t","instructions":"  "}]}`)
		if err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestSynthesizeDisabled(t *testing.T) {
	s, err := New(context.Background(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	if s.Enabled() {
		t.Fatal("synthesizer should be disabled without config")
	}
	if _, err := s.Synthesize(context.Background(), plan.RecordingBundle{}, ""); err == nil {
		t.Fatal("expected error from disabled synthesizer")
	}
}
