package store

import (
	"errors"
	"testing"

	"github.com/jianyangg/show-and-tell/plan"
)

func TestRecordingLifecycle(t *testing.T) {
	s := NewRecordingStore()

	rec := s.Start("checkout demo", "", "https://shop.example.com")
	if rec.RecordingID == "" {
		t.Fatal("no recording id assigned")
	}
	if rec.Status != RecordingStarted {
		t.Errorf("status = %q", rec.Status)
	}

	events := []plan.RecordingEvent{
		{Type: "click", X: 10, Y: 20, Button: "left"},
		{Type: "key_down", Key: "a"},
	}
	if err := s.AppendEvents(rec.RecordingID, events); err != nil {
		t.Fatal(err)
	}

	bundle := plan.RecordingBundle{
		RecordingID: rec.RecordingID,
		Frames:      []plan.RecordingFrame{{TS: 0.5, PNGBase64: "cGc="}},
	}
	done, err := s.Complete(rec.RecordingID, bundle)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != RecordingCompleted || done.Bundle == nil || done.EndedAt.IsZero() {
		t.Errorf("completed recording = %+v", done)
	}
	if len(done.Events) != 2 {
		t.Errorf("events = %d, want 2", len(done.Events))
	}

	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) err = %v", err)
	}
	if err := s.AppendEvents("missing", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("AppendEvents(missing) err = %v", err)
	}
}

func TestStartIsIdempotentPerID(t *testing.T) {
	s := NewRecordingStore()
	first := s.Start("", "rec1", "")
	second := s.Start("other title", "rec1", "")
	if second.Title != first.Title {
		t.Errorf("second start rewrote the recording: %+v", second)
	}
	if len(s.List()) != 1 {
		t.Errorf("recordings = %d, want 1", len(s.List()))
	}
}

func searchPlan() plan.Plan {
	return plan.Plan{
		Name:     "city search",
		StartURL: "https://maps.example.com",
		Steps: []plan.Step{
			{ID: "s1", Title: "Search for {city}"},
		},
	}
}

func TestPlanSaveDetectsVariables(t *testing.T) {
	s := NewPlanStore()
	stored := s.Save("rec1", searchPlan(), "the prompt", `{"raw":true}`)

	if stored.PlanID == "" {
		t.Fatal("no plan id assigned")
	}
	if !stored.HasVariables {
		t.Error("placeholder not detected")
	}
	if stored.Prompt != "the prompt" || stored.RawResponse != `{"raw":true}` {
		t.Errorf("provenance lost: %+v", stored)
	}

	got, err := s.Get(stored.PlanID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Plan.Name != "city search" {
		t.Errorf("plan = %+v", got.Plan)
	}
}

func TestPlanUpdateRedetectsVariables(t *testing.T) {
	s := NewPlanStore()
	stored := s.Save("rec1", searchPlan(), "", "")

	fixed := searchPlan()
	fixed.Steps[0].Title = "Search for Paris"
	updated, err := s.Update(stored.PlanID, "paris search", &fixed)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Plan.Name != "paris search" {
		t.Errorf("name = %q", updated.Plan.Name)
	}
	if updated.HasVariables {
		t.Error("variables still reported after placeholder removed")
	}

	// Rename only keeps the body.
	renamed, err := s.Update(stored.PlanID, "final", nil)
	if err != nil {
		t.Fatal(err)
	}
	if renamed.Plan.Name != "final" || len(renamed.Plan.Steps) != 1 {
		t.Errorf("renamed plan = %+v", renamed.Plan)
	}

	if _, err := s.Update("missing", "x", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update(missing) err = %v", err)
	}
}

func TestPlanCheckpointsAndDelete(t *testing.T) {
	s := NewPlanStore()
	stored := s.Save("rec1", searchPlan(), "", "")

	cps := plan.Checkpoints{"s1": {{Label: "results", PNGBase64: "cGc="}}}
	withCps, err := s.SetCheckpoints(stored.PlanID, cps)
	if err != nil {
		t.Fatal(err)
	}
	if len(withCps.Checkpoints["s1"]) != 1 {
		t.Errorf("checkpoints = %v", withCps.Checkpoints)
	}

	if err := s.Delete(stored.PlanID); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(stored.PlanID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v", err)
	}
	if len(s.List()) != 0 {
		t.Errorf("plans = %d, want 0", len(s.List()))
	}
}

func TestPlanListSummaries(t *testing.T) {
	s := NewPlanStore()
	a := s.Save("rec1", searchPlan(), "", "")
	b := s.Save("rec2", plan.Plan{Name: "no vars"}, "", "")

	summaries := s.List()
	if len(summaries) != 2 {
		t.Fatalf("summaries = %d", len(summaries))
	}
	byID := map[string]PlanSummary{}
	for _, sum := range summaries {
		byID[sum.PlanID] = sum
	}
	if !byID[a.PlanID].HasVariables || byID[b.PlanID].HasVariables {
		t.Errorf("summaries = %+v", summaries)
	}
}
