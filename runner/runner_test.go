package runner

import (
	"context"
	"encoding/base64"
	"errors"
	"image/color"
	"strings"
	"testing"

	"github.com/jianyangg/show-and-tell/agent"
	"github.com/jianyangg/show-and-tell/plan"
)

type recordedEvent struct {
	Type    string
	Payload map[string]any
}

type fakeCallbacks struct {
	events      []recordedEvent
	frames      int
	aborted     bool
	confirm     bool
	confirmErr  error
	provided    map[string]any
	varsErr     error
	checkpoints map[string][]plan.Checkpoint

	// abortAfterSteps flips aborted once that many step_completed events
	// have been seen.
	abortAfterSteps int
}

func (f *fakeCallbacks) PublishEvent(ctx context.Context, eventType string, payload map[string]any) error {
	f.events = append(f.events, recordedEvent{Type: eventType, Payload: payload})
	if eventType == "step_completed" && f.abortAfterSteps > 0 {
		f.abortAfterSteps--
		if f.abortAfterSteps == 0 {
			f.aborted = true
		}
	}
	return nil
}

func (f *fakeCallbacks) PublishFrame(ctx context.Context, pngBase64 string, stepID string, cursor *Cursor) error {
	f.frames++
	return nil
}

func (f *fakeCallbacks) Aborted() bool { return f.aborted }

func (f *fakeCallbacks) RequestConfirmation(ctx context.Context, payload map[string]any) (bool, error) {
	return f.confirm, f.confirmErr
}

func (f *fakeCallbacks) RequestVariables(ctx context.Context, payload map[string]any) (map[string]any, error) {
	if f.varsErr != nil {
		return nil, f.varsErr
	}
	return f.provided, nil
}

func (f *fakeCallbacks) Checkpoints(ctx context.Context, stepID string) ([]plan.Checkpoint, error) {
	return f.checkpoints[stepID], nil
}

func (f *fakeCallbacks) eventTypes() []string {
	types := make([]string, 0, len(f.events))
	for _, e := range f.events {
		types = append(types, e.Type)
	}
	return types
}

func (f *fakeCallbacks) find(eventType string) *recordedEvent {
	for i := range f.events {
		if f.events[i].Type == eventType {
			return &f.events[i]
		}
	}
	return nil
}

// fakeAgent returns scripted decisions in order, repeating the last one.
type fakeAgent struct {
	decisions []*agent.Decision
	calls     int
	observed  []agent.Observation
}

func (f *fakeAgent) ProposeActions(ctx context.Context, obs agent.Observation) (*agent.Decision, error) {
	f.observed = append(f.observed, obs)
	idx := f.calls
	f.calls++
	if idx >= len(f.decisions) {
		idx = len(f.decisions) - 1
	}
	return f.decisions[idx], nil
}

func clickDecision() *agent.Decision {
	return &agent.Decision{
		Prompt:          "prompt",
		ResponseSummary: `[{"name":"click_at"}]`,
		Actions: []agent.Action{
			{Name: "click_at", Args: map[string]any{"x": float64(500), "y": float64(500)}},
		},
	}
}

func twoStepPlan() plan.Plan {
	return plan.Plan{
		Name: "book a table",
		Steps: []plan.Step{
			{ID: "s1", Title: "Open the booking page"},
			{ID: "s2", Title: "Pick a slot"},
		},
	}
}

func runWith(t *testing.T, r *Runner, p plan.Plan, page *fakePage, cb *fakeCallbacks) error {
	t.Helper()
	return r.executeWithPage(context.Background(), page, p, "", cb)
}

func TestRunCompletesStepsWithoutCheckpoints(t *testing.T) {
	ag := &fakeAgent{decisions: []*agent.Decision{clickDecision()}}
	r := New(ag, Config{})
	page := &fakePage{url: "https://example.com", screenshot: solidPNG(t, 64, 40, color.Gray{Y: 200})}
	cb := &fakeCallbacks{}

	if err := runWith(t, r, twoStepPlan(), page, cb); err != nil {
		t.Fatal(err)
	}

	if ag.calls != 2 {
		t.Errorf("agent calls = %d, want 2 (one turn per step)", ag.calls)
	}

	types := strings.Join(cb.eventTypes(), "|")
	for _, want := range []string{"runner_status", "step_started", "action_executed", "step_completed", "run_completed"} {
		if !strings.Contains(types, want) {
			t.Errorf("events missing %q: %v", want, cb.eventTypes())
		}
	}
	if done := cb.find("run_completed"); done == nil || done.Payload["ok"] != true {
		t.Errorf("run_completed payload = %+v", done)
	}
	if cb.frames == 0 {
		t.Error("no frames published")
	}

	// The second step's observation carries the first step's history.
	second := ag.observed[1]
	if len(second.History) == 0 || !strings.HasPrefix(second.History[0], "click_at @") {
		t.Errorf("history not threaded between steps: %v", second.History)
	}
}

func TestVariableHandshakeAppliesValues(t *testing.T) {
	p := plan.Plan{
		Name:  "city lookup",
		Steps: []plan.Step{{ID: "s1", Title: "Search for {city}"}},
	}
	ag := &fakeAgent{decisions: []*agent.Decision{clickDecision()}}
	r := New(ag, Config{})
	page := &fakePage{screenshot: solidPNG(t, 64, 40, color.Gray{Y: 200})}
	cb := &fakeCallbacks{provided: map[string]any{"city": " Paris "}}

	if err := runWith(t, r, p, page, cb); err != nil {
		t.Fatal(err)
	}

	applied := cb.find("variables_applied")
	if applied == nil {
		t.Fatal("variables_applied not published")
	}
	vars := applied.Payload["vars"].(map[string]any)
	if vars["city"] != "Paris" {
		t.Errorf("applied vars = %v", vars)
	}

	started := cb.find("step_started")
	if started == nil || started.Payload["title"] != "Search for Paris" {
		t.Errorf("step_started = %+v", started)
	}
}

func TestVariableHandshakeStillMissingFails(t *testing.T) {
	p := plan.Plan{
		Name:  "city lookup",
		Steps: []plan.Step{{ID: "s1", Title: "Search for {city} on {site}"}},
	}
	ag := &fakeAgent{decisions: []*agent.Decision{clickDecision()}}
	r := New(ag, Config{})
	cb := &fakeCallbacks{provided: map[string]any{"city": "   ", "site": nil}}

	err := runWith(t, r, p, &fakePage{}, cb)
	var re *RunnerError
	if !errors.As(err, &re) {
		t.Fatalf("expected RunnerError, got %v", err)
	}
	if re.Message != "Missing values for variables: city, site" {
		t.Errorf("message = %q", re.Message)
	}
}

func TestCheckpointGating(t *testing.T) {
	reference := splitPNG(t, 320, 200, true)

	t.Run("matching checkpoint completes the step", func(t *testing.T) {
		ag := &fakeAgent{decisions: []*agent.Decision{clickDecision()}}
		r := New(ag, Config{})
		page := &fakePage{screenshot: reference}
		cb := &fakeCallbacks{
			checkpoints: map[string][]plan.Checkpoint{
				"s1": {{Label: "loaded", PNGBase64: base64.StdEncoding.EncodeToString(reference)}},
			},
		}
		p := plan.Plan{Name: "gated", Steps: []plan.Step{{ID: "s1", Title: "Load page"}}}

		if err := runWith(t, r, p, page, cb); err != nil {
			t.Fatal(err)
		}
		evaluated := cb.find("checkpoint_evaluated")
		if evaluated == nil {
			t.Fatal("checkpoint_evaluated not published")
		}
		if evaluated.Payload["label"] != "loaded" {
			t.Errorf("evaluated payload = %+v", evaluated.Payload)
		}
		if cb.find("checkpoint_matched") == nil {
			t.Error("checkpoint_matched not published")
		}
	})

	t.Run("never matching checkpoint exhausts turns", func(t *testing.T) {
		ag := &fakeAgent{decisions: []*agent.Decision{clickDecision()}}
		r := New(ag, Config{MaxTurns: 2})
		page := &fakePage{screenshot: splitPNG(t, 320, 200, false)}
		cb := &fakeCallbacks{
			checkpoints: map[string][]plan.Checkpoint{
				"s1": {{PNGBase64: base64.StdEncoding.EncodeToString(reference)}},
			},
		}
		p := plan.Plan{Name: "gated", Steps: []plan.Step{{ID: "s1", Title: "Load page"}}}

		err := runWith(t, r, p, page, cb)
		if err == nil || !strings.Contains(err.Error(), "Exceeded max turns for step s1") {
			t.Fatalf("err = %v", err)
		}
		if ag.calls != 2 {
			t.Errorf("agent calls = %d, want 2", ag.calls)
		}
	})
}

func TestAbortBetweenSteps(t *testing.T) {
	ag := &fakeAgent{decisions: []*agent.Decision{clickDecision()}}
	r := New(ag, Config{})
	page := &fakePage{screenshot: solidPNG(t, 64, 40, color.Gray{Y: 200})}
	cb := &fakeCallbacks{abortAfterSteps: 1}

	err := runWith(t, r, twoStepPlan(), page, cb)
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("err = %v, want ErrAborted", err)
	}
	if ag.calls != 1 {
		t.Errorf("agent calls = %d, want 1", ag.calls)
	}
}

func TestConfirmationDenied(t *testing.T) {
	decision := clickDecision()
	decision.Actions[0].SafetyDecision = "require_confirmation"
	ag := &fakeAgent{decisions: []*agent.Decision{decision}}
	r := New(ag, Config{})
	cb := &fakeCallbacks{confirm: false}
	page := &fakePage{screenshot: solidPNG(t, 64, 40, color.Gray{Y: 200})}

	err := runWith(t, r, twoStepPlan(), page, cb)
	if err == nil || !strings.Contains(err.Error(), "declined by operator") {
		t.Fatalf("err = %v", err)
	}
}

func TestActionFailureIsRecoveredNextTurn(t *testing.T) {
	badDecision := &agent.Decision{
		Prompt:          "prompt",
		ResponseSummary: `[{"name":"navigate"}]`,
		Actions:         []agent.Action{{Name: "navigate", Args: map[string]any{}}},
	}
	ag := &fakeAgent{decisions: []*agent.Decision{badDecision, clickDecision()}}
	r := New(ag, Config{})
	page := &fakePage{screenshot: solidPNG(t, 64, 40, color.Gray{Y: 200})}
	cb := &fakeCallbacks{}
	p := plan.Plan{Name: "recover", Steps: []plan.Step{{ID: "s1", Title: "Try"}}}

	if err := runWith(t, r, p, page, cb); err != nil {
		t.Fatal(err)
	}
	if ag.calls != 2 {
		t.Errorf("agent calls = %d, want 2 (failed turn retried)", ag.calls)
	}
	if len(ag.observed) < 2 || len(ag.observed[1].History) == 0 ||
		!strings.HasPrefix(ag.observed[1].History[0], "error:") {
		t.Errorf("second turn history = %v", ag.observed)
	}
}
