// Package showandtell wires the teach, synthesis, and replay subsystems
// into one service: record a human demonstrating a workflow in a live
// browser, synthesize a structured plan from the recording, and replay the
// plan later by streaming screenshots to a Computer Use model.
package showandtell

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jianyangg/show-and-tell/agent"
	"github.com/jianyangg/show-and-tell/plan"
	"github.com/jianyangg/show-and-tell/registry"
	"github.com/jianyangg/show-and-tell/runner"
	"github.com/jianyangg/show-and-tell/store"
	"github.com/jianyangg/show-and-tell/synthesis"
	"github.com/jianyangg/show-and-tell/teach"
)

// ErrNoFrames is returned when plan synthesis is requested for a recording
// that captured no frames.
var ErrNoFrames = errors.New("recording has no frames")

// MissingVariablesError reports plan variables that were required at run
// start but not supplied.
type MissingVariablesError struct {
	Names []string
}

func (e *MissingVariablesError) Error() string {
	return "Missing values for variables: " + strings.Join(e.Names, ", ")
}

// Service owns the stores, the teach session manager, the run registry,
// and the model clients. One Service serves the whole process.
type Service struct {
	config Config

	Recordings *store.RecordingStore
	Plans      *store.PlanStore
	Teach      *teach.Manager
	Runs       *registry.Registry

	agent  *agent.ComputerUse
	synth  *synthesis.Synthesizer
	runner *runner.Runner
}

// New wires the service together. Model clients are created eagerly so
// credential problems surface at startup, but a service without an API key
// still constructs: synthesis and replay then fail per request.
func New(ctx context.Context, cfg Config) (*Service, error) {
	cfg.applyDefaults()

	computerUse, err := agent.NewComputerUse(ctx, agent.Config{
		APIKey:  cfg.APIKey,
		Model:   cfg.ComputerUseModel,
		Enabled: cfg.ComputerUseEnabled,
		Debug:   cfg.ComputerUseDebug,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create computer use client: %w", err)
	}

	synth, err := synthesis.New(ctx, synthesis.Config{
		APIKey:  cfg.APIKey,
		Model:   cfg.PlanModel,
		Enabled: cfg.APIKey != "",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesizer: %w", err)
	}

	headless := !cfg.Headful
	return &Service{
		config:     cfg,
		Recordings: store.NewRecordingStore(),
		Plans:      store.NewPlanStore(),
		Teach: teach.NewManager(teach.Config{
			FrameInterval: cfg.FrameInterval,
			MaxFrames:     cfg.MaxFrames,
			Headless:      &headless,
		}),
		Runs:  registry.NewRegistryWithRetention(cfg.RunRetention, cfg.SweepInterval),
		agent: computerUse,
		synth: synth,
		runner: runner.New(computerUse, runner.Config{
			MaxTurns:             cfg.MaxTurns,
			CheckpointThreshold:  cfg.CheckpointThreshold,
			EmbeddedFrameTimeout: cfg.EmbeddedFrameTimeout,
			DefaultSearchURL:     cfg.DefaultSearchURL,
			Headless:             &headless,
		}),
	}, nil
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.config }

// Close stops the run sweeper and tears down any active teach session.
func (s *Service) Close() {
	s.Runs.Close()
	if s.Teach.Active() != nil {
		_, _ = s.Teach.Stop(context.Background(), "")
	}
}

// StartTeach registers a recording and launches a capture browser for it.
func (s *Service) StartTeach(ctx context.Context, title, startURL string) (*teach.Session, store.StoredRecording, error) {
	rec := s.Recordings.Start(title, "", startURL)
	session, err := s.Teach.Start(ctx, rec.RecordingID, startURL)
	if err != nil {
		return nil, store.StoredRecording{}, err
	}
	return session, rec, nil
}

// StopTeach finishes the active teach session and stores its bundle.
// Narration audio and a transcript, when the frontend captured them, ride
// along on the bundle.
func (s *Service) StopTeach(ctx context.Context, sessionID, audioWavBase64, transcript string) (store.StoredRecording, error) {
	bundle, err := s.Teach.Stop(ctx, sessionID)
	if err != nil {
		return store.StoredRecording{}, err
	}
	bundle.AudioWavBase64 = audioWavBase64
	bundle.Transcript = transcript

	rec, err := s.Recordings.Complete(bundle.RecordingID, bundle)
	if err != nil {
		// The session outlived its store entry (e.g. the store was
		// reset); register it so the bundle is not lost.
		s.Recordings.Start("", bundle.RecordingID, bundle.StartURL)
		rec, err = s.Recordings.Complete(bundle.RecordingID, bundle)
	}
	return rec, err
}

// SynthesizePlan turns a completed recording into a stored plan with
// per-step reference checkpoints derived from the recording's frames.
func (s *Service) SynthesizePlan(ctx context.Context, recordingID, planName string) (store.StoredPlan, error) {
	rec, err := s.Recordings.Get(recordingID)
	if err != nil {
		return store.StoredPlan{}, err
	}
	if rec.Bundle == nil || len(rec.Bundle.Frames) == 0 {
		return store.StoredPlan{}, ErrNoFrames
	}

	bundle := *rec.Bundle
	if len(bundle.Events) == 0 {
		// Events appended through the recordings API instead of a live
		// teach session.
		bundle.Events = rec.Events
	}

	result, err := s.synth.Synthesize(ctx, bundle, planName)
	if err != nil {
		return store.StoredPlan{}, err
	}
	if result.Plan.StartURL == "" {
		result.Plan.StartURL = bundle.StartURL
	}

	stored := s.Plans.Save(recordingID, result.Plan, result.Prompt, result.RawResponse)
	checkpoints := plan.DeriveCheckpoints(bundle, result.Plan.Steps)
	if len(checkpoints) > 0 {
		if withCheckpoints, err := s.Plans.SetCheckpoints(stored.PlanID, checkpoints); err == nil {
			stored = withCheckpoints
		}
	}
	return stored, nil
}

// StartRun launches a plan execution in its own browser. When variables
// are supplied they must cover every referenced placeholder; when they are
// omitted entirely, missing values are collected from the operator over the
// run's websocket instead. The run executes on its own goroutine; the
// returned Run is already subscribed-to-able.
func (s *Service) StartRun(planID, startURL string, variables map[string]any) (*registry.Run, error) {
	stored, err := s.Plans.Get(planID)
	if err != nil {
		return nil, err
	}

	p := stored.Plan.Clone()
	if variables != nil {
		supplied := plan.NormalizeVars(p, variables)
		if p.Vars == nil {
			p.Vars = make(map[string]string, len(supplied))
		}
		for name, value := range supplied {
			p.Vars[name] = value
		}
		if missing := plan.MissingVars(p); len(missing) > 0 {
			return nil, &MissingVariablesError{Names: missing}
		}
	}

	if strings.TrimSpace(startURL) == "" {
		startURL = p.StartURL
	}

	run := s.Runs.Create(planID, p, stored.Checkpoints, startURL)
	go s.executeRun(run)
	return run, nil
}

// executeRun drives one run to its single terminal status. The run keeps
// its own background context: aborts are cooperative through the
// dispatcher, not through context cancellation.
func (s *Service) executeRun(run *registry.Run) {
	ctx := context.Background()

	run.SetStatus(registry.StatusRunning)
	run.Publish(registry.Message{
		"type":    "runner_status",
		"message": "started",
		"runId":   run.ID,
		"planId":  run.PlanID,
	})

	err := s.runner.Run(ctx, run.Plan, run.StartURL, registry.NewDispatcher(run))

	switch {
	case err == nil:
		run.SetStatus(registry.StatusCompleted)
		run.Publish(registry.Message{"type": "runner_status", "message": "completed", "runId": run.ID})
	case errors.Is(err, runner.ErrAborted):
		run.SetStatus(registry.StatusAborted)
		run.Publish(registry.Message{"type": "runner_status", "message": "aborted", "runId": run.ID})
	default:
		run.SetStatus(registry.StatusFailed)
		run.Publish(registry.Message{
			"type":    "runner_status",
			"message": "failed",
			"runId":   run.ID,
			"error":   err.Error(),
		})
	}
}

// AbortRun requests a cooperative abort. Reports whether the run exists.
func (s *Service) AbortRun(runID string) bool {
	run, ok := s.Runs.Get(runID)
	if !ok {
		return false
	}
	run.RequestAbort()
	return true
}

// LatestFrame returns the most recent frame message of a run. The second
// return is false when the run is unknown; a nil message means the run has
// not produced a frame yet.
func (s *Service) LatestFrame(runID string) (registry.Message, bool) {
	run, ok := s.Runs.Get(runID)
	if !ok {
		return nil, false
	}
	return run.LatestFrame(), true
}
