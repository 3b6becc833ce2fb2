package showandtell

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jianyangg/show-and-tell/plan"
	"github.com/jianyangg/show-and-tell/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := New(context.Background(), Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc
}

func TestFromEnv(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("COMPUTER_USE_ENABLED", "true")
	t.Setenv("COMPUTER_USE_DEBUG", "0")
	t.Setenv("RUNNER_MAX_TURNS", "6")
	t.Setenv("RUNNER_CHECKPOINT_THRESHOLD", "0.95")
	t.Setenv("RUNNER_EMBEDDED_FRAME_TIMEOUT", "12.5")
	t.Setenv("TEACH_FRAME_INTERVAL_SECONDS", "0.5")
	t.Setenv("TEACH_MAX_FRAMES", "120")
	t.Setenv("RUN_RETENTION_SECONDS", "not-a-number")

	cfg := FromEnv()
	if cfg.APIKey != "test-key" {
		t.Errorf("APIKey = %q", cfg.APIKey)
	}
	if !cfg.ComputerUseEnabled || cfg.ComputerUseDebug {
		t.Errorf("bool parsing: enabled=%v debug=%v", cfg.ComputerUseEnabled, cfg.ComputerUseDebug)
	}
	if cfg.MaxTurns != 6 {
		t.Errorf("MaxTurns = %d", cfg.MaxTurns)
	}
	if cfg.CheckpointThreshold != 0.95 {
		t.Errorf("CheckpointThreshold = %v", cfg.CheckpointThreshold)
	}
	if cfg.EmbeddedFrameTimeout != 12500*time.Millisecond {
		t.Errorf("EmbeddedFrameTimeout = %v", cfg.EmbeddedFrameTimeout)
	}
	if cfg.FrameInterval != 500*time.Millisecond {
		t.Errorf("FrameInterval = %v", cfg.FrameInterval)
	}
	if cfg.MaxFrames != 120 {
		t.Errorf("MaxFrames = %d", cfg.MaxFrames)
	}
	// Malformed values keep the zero value so downstream defaults apply.
	if cfg.RunRetention != 0 {
		t.Errorf("RunRetention = %v", cfg.RunRetention)
	}
}

func TestServiceConstructsWithoutCredentials(t *testing.T) {
	svc := newTestService(t)
	if svc.Config().Addr != ":8787" {
		t.Errorf("default addr = %q", svc.Config().Addr)
	}
}

func TestStartRunUnknownPlan(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.StartRun("nope", "", nil); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStartRunMissingVariables(t *testing.T) {
	svc := newTestService(t)
	stored := svc.Plans.Save("rec-1", plan.Plan{
		Name:  "Say hi to {person}",
		Steps: []plan.Step{{ID: "s1", Title: "Greet", Instructions: "Type hello {person} on {site}"}},
	}, "", "")

	_, err := svc.StartRun(stored.PlanID, "", map[string]any{"person": "Ada"})
	var missing *MissingVariablesError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingVariablesError, got %v", err)
	}
	if missing.Error() != "Missing values for variables: site" {
		t.Fatalf("unexpected message: %q", missing.Error())
	}
}

func TestAbortAndCaptureUnknownRun(t *testing.T) {
	svc := newTestService(t)
	if svc.AbortRun("nope") {
		t.Error("abort of unknown run should report false")
	}
	if _, ok := svc.LatestFrame("nope"); ok {
		t.Error("capture of unknown run should report false")
	}
}

func TestStopTeachWithoutSession(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.StopTeach(context.Background(), "", "", ""); err == nil {
		t.Fatal("stopping with no active session should fail")
	}
}

func TestSynthesizePlanValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.SynthesizePlan(ctx, "nope", ""); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown recording: %v", err)
	}

	rec := svc.Recordings.Start("empty", "", "")
	if _, err := svc.SynthesizePlan(ctx, rec.RecordingID, ""); !errors.Is(err, ErrNoFrames) {
		t.Fatalf("recording without a bundle should be ErrNoFrames, got %v", err)
	}

	if _, err := svc.Recordings.Complete(rec.RecordingID, plan.RecordingBundle{RecordingID: rec.RecordingID}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := svc.SynthesizePlan(ctx, rec.RecordingID, ""); !errors.Is(err, ErrNoFrames) {
		t.Fatalf("frameless bundle should be ErrNoFrames, got %v", err)
	}
}
