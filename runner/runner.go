package runner

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/jianyangg/show-and-tell/agent"
	"github.com/jianyangg/show-and-tell/browser"
	"github.com/jianyangg/show-and-tell/plan"
)

// Config holds replay tuning knobs. Zero values mean the defaults used in
// production.
type Config struct {
	// MaxTurns bounds how many decision turns a single step may take.
	MaxTurns int
	// CheckpointThreshold is the minimum visual similarity (0..1) for a
	// step's checkpoint to count as matched.
	CheckpointThreshold float64
	// EmbeddedFrameTimeout bounds the wait for embedded iframes after
	// navigation.
	EmbeddedFrameTimeout time.Duration
	// DefaultSearchURL is where the search action navigates.
	DefaultSearchURL string
	// Headless controls the replay browser window.
	Headless *bool
}

func (c *Config) applyDefaults() {
	if c.MaxTurns <= 0 {
		c.MaxTurns = 4
	}
	if c.CheckpointThreshold <= 0 {
		c.CheckpointThreshold = 0.88
	}
	if c.EmbeddedFrameTimeout <= 0 {
		c.EmbeddedFrameTimeout = browser.DefaultEmbeddedFrameTimeout
	}
	if c.DefaultSearchURL == "" {
		c.DefaultSearchURL = "https://www.google.com/"
	}
	if c.Headless == nil {
		headless := true
		c.Headless = &headless
	}
}

// Runner executes plans by streaming screenshots to the decision agent and
// applying the actions it proposes.
type Runner struct {
	agent  DecisionAgent
	config Config
}

// New creates a runner bound to a decision agent.
func New(decisionAgent DecisionAgent, cfg Config) *Runner {
	cfg.applyDefaults()
	return &Runner{agent: decisionAgent, config: cfg}
}

// Run launches a fresh browser, replays the plan, and tears the browser
// down. Terminal status reporting is the caller's job: the error return is
// nil (completed), ErrAborted, or a terminal failure.
func (r *Runner) Run(ctx context.Context, p plan.Plan, startURL string, callbacks Callbacks) error {
	session, err := browser.Launch(ctx, browser.Config{
		Headless: *r.config.Headless,
		Viewport: browser.RunnerViewport,
	})
	if err != nil {
		return &RunnerError{Message: "failed to launch replay browser", Err: err}
	}
	defer session.Close()

	page, err := session.NewPage(ctx)
	if err != nil {
		return &RunnerError{Message: "failed to open replay page", Err: err}
	}

	return r.executeWithPage(ctx, page, p, startURL, callbacks)
}

// execution carries per-run state so concurrent runs on one Runner never
// share caches.
type execution struct {
	runner    *Runner
	page      Page
	callbacks Callbacks
	history   []string

	// step ID -> hashed reference screenshots, filled lazily.
	checkpointHashes map[string][]checkpointHash
}

func (r *Runner) executeWithPage(ctx context.Context, page Page, p plan.Plan, startURL string, callbacks Callbacks) error {
	exec := &execution{
		runner:           r,
		page:             page,
		callbacks:        callbacks,
		checkpointHashes: make(map[string][]checkpointHash),
	}

	exec.publish(ctx, "runner_status", map[string]any{
		"message": "browser_ready",
		"url":     page.URL(),
	})

	if strings.TrimSpace(startURL) != "" {
		url := browser.NormalizeURL(startURL)
		if err := page.Navigate(ctx, url); err != nil {
			return &RunnerError{Message: fmt.Sprintf("failed to open start url %s", url), Err: err}
		}
		if err := page.WaitForEmbeddedPage(ctx, url, r.config.EmbeddedFrameTimeout); err != nil {
			return &RunnerError{Message: "start url iframe not ready", Err: err}
		}
		exec.publish(ctx, "navigate", map[string]any{"kind": "start_url", "url": url})
	}

	exec.emitFrame(ctx, "", nil)

	p, err := exec.prepareVariables(ctx, p)
	if err != nil {
		return err
	}

	for _, rawStep := range p.Steps {
		if callbacks.Aborted() {
			return ErrAborted
		}
		step := plan.ApplyToStep(rawStep, p.Vars)
		exec.publish(ctx, "step_started", map[string]any{"stepId": step.ID, "title": step.Title})
		if strings.TrimSpace(step.Instructions) != "" {
			exec.console(ctx, "Plan instructions", step.Instructions)
		}
		if err := exec.runStep(ctx, p, step); err != nil {
			return err
		}
		exec.publish(ctx, "step_completed", map[string]any{"stepId": step.ID})
	}

	exec.publish(ctx, "run_completed", map[string]any{"ok": true, "url": page.URL()})
	return nil
}

// prepareVariables normalizes the plan's variables and, when any
// referenced placeholder has no value, blocks on the operator handshake.
// Values that remain missing afterwards fail the run.
func (e *execution) prepareVariables(ctx context.Context, p plan.Plan) (plan.Plan, error) {
	placeholders := plan.Placeholders(p)
	if len(placeholders) == 0 {
		return p, nil
	}

	raw := make(map[string]any, len(p.Vars))
	for k, v := range p.Vars {
		raw[k] = v
	}
	p.Vars = plan.NormalizeVars(p, raw)

	missing := plan.MissingVars(p)
	if len(missing) == 0 {
		return p, nil
	}
	sort.Strings(missing)

	e.console(ctx, "Runner", "Awaiting variable values for: "+strings.Join(missing, ", "))

	vars := make([]map[string]any, 0, len(missing))
	for _, name := range missing {
		vars = append(vars, map[string]any{"name": name, "value": p.Vars[name]})
	}

	if e.callbacks.Aborted() {
		return p, ErrAborted
	}
	provided, err := e.callbacks.RequestVariables(ctx, map[string]any{"vars": vars})
	if err != nil {
		if errors.Is(err, ErrAborted) {
			return p, ErrAborted
		}
		return p, &RunnerError{Message: "variable handshake failed", Err: err}
	}
	if e.callbacks.Aborted() {
		return p, ErrAborted
	}

	sanitized := make(map[string]string, len(p.Vars)+len(missing))
	for k, v := range p.Vars {
		sanitized[k] = v
	}
	var missingAfter []string
	for _, name := range missing {
		value, ok := provided[name]
		if !ok {
			missingAfter = append(missingAfter, name)
			continue
		}
		coerced, ok := plan.CoerceValue(value)
		if !ok {
			missingAfter = append(missingAfter, name)
			continue
		}
		sanitized[name] = coerced
	}
	if len(missingAfter) > 0 {
		sort.Strings(missingAfter)
		return p, runnerErrorf("Missing values for variables: %s", strings.Join(missingAfter, ", "))
	}

	p.Vars = sanitized
	applied := make(map[string]any, len(missing))
	for _, name := range missing {
		applied[name] = sanitized[name]
	}
	e.publish(ctx, "variables_applied", map[string]any{"vars": applied})
	return p, nil
}

func (e *execution) stepCheckpointHashes(ctx context.Context, stepID string) []checkpointHash {
	if hashes, ok := e.checkpointHashes[stepID]; ok {
		return hashes
	}
	checkpoints, err := e.callbacks.Checkpoints(ctx, stepID)
	if err != nil {
		// Checkpoints are best-effort; a broken provider must not sink
		// the run.
		checkpoints = nil
	}
	hashes := hashCheckpoints(checkpoints)
	e.checkpointHashes[stepID] = hashes
	return hashes
}

func (e *execution) runStep(ctx context.Context, p plan.Plan, step plan.Step) error {
	hashes := e.stepCheckpointHashes(ctx, step.ID)
	requireVisualMatch := len(hashes) > 0
	threshold := e.runner.config.CheckpointThreshold

	it := &interpreter{
		page:                 e.page,
		defaultSearchURL:     e.runner.config.DefaultSearchURL,
		embeddedFrameTimeout: e.runner.config.EmbeddedFrameTimeout,
		sleep:                time.Sleep,
	}

	for turn := 1; turn <= e.runner.config.MaxTurns; turn++ {
		if e.callbacks.Aborted() {
			return ErrAborted
		}

		screenshot, err := e.page.Screenshot(ctx)
		if err != nil {
			return &RunnerError{Message: "failed to capture screenshot", Err: err}
		}

		decision, err := e.runner.agent.ProposeActions(ctx, agent.Observation{
			Goal:          plan.ApplyString(p.Name, p.Vars),
			ScreenshotPNG: screenshot,
			URL:           e.page.URL(),
			Turn:          turn,
			History:       e.history,
			Vars:          p.Vars,
			Step:          step,
		})
		if err != nil {
			var de *agent.DecisionError
			if errors.As(err, &de) {
				if de.Prompt != "" {
					e.console(ctx, "ComputerUse prompt", de.Prompt)
				}
				if de.ResponseSummary != "" {
					e.console(ctx, "ComputerUse response", de.ResponseSummary)
				}
			}
			return &RunnerError{Message: "computer use decision failed", Err: err}
		}
		e.console(ctx, "ComputerUse prompt", decision.Prompt)
		e.console(ctx, "ComputerUse response", decision.ResponseSummary)

		var turnCursor *Cursor
		actionFailed := false
		for _, action := range decision.Actions {
			if action.SafetyDecision == "require_confirmation" {
				allowed, err := e.callbacks.RequestConfirmation(ctx, map[string]any{
					"stepId": step.ID,
					"action": action.Name,
					"args":   action.Args,
				})
				if err != nil {
					if errors.Is(err, ErrAborted) {
						return ErrAborted
					}
					return &RunnerError{Message: "confirmation handshake failed", Err: err}
				}
				if !allowed {
					return runnerErrorf("Action declined by operator")
				}
			}

			summary, cursor, err := it.apply(ctx, action)
			if err != nil {
				e.console(ctx, "Runner", fmt.Sprintf("Action failed: %v", err))
				e.history = append(e.history, fmt.Sprintf("error: %v", err))
				actionFailed = true
				break
			}
			if cursor != nil {
				turnCursor = cursor
			}
			e.history = append(e.history, summary)
			e.publish(ctx, "action_executed", map[string]any{
				"stepId":  step.ID,
				"action":  action.Name,
				"args":    action.Args,
				"summary": summary,
			})
			e.emitFrame(ctx, step.ID, turnCursor)
		}

		e.emitFrame(ctx, step.ID, turnCursor)

		if actionFailed {
			continue
		}

		if !requireVisualMatch {
			// No reference frames for this step: one successful turn
			// completes it.
			return nil
		}

		latest, err := e.page.Screenshot(ctx)
		if err != nil {
			return &RunnerError{Message: "failed to capture checkpoint screenshot", Err: err}
		}
		score, label := bestMatch(latest, hashes)
		rounded := math.Round(score*10000) / 10000
		payload := map[string]any{
			"stepId":    step.ID,
			"score":     rounded,
			"threshold": threshold,
		}
		if label != "" {
			payload["label"] = label
		}
		e.publish(ctx, "checkpoint_evaluated", payload)

		if score >= threshold {
			matched := map[string]any{"stepId": step.ID, "score": rounded}
			if label != "" {
				matched["label"] = label
			}
			e.publish(ctx, "checkpoint_matched", matched)
			return nil
		}
	}

	return runnerErrorf("Exceeded max turns for step %s", step.ID)
}

func (e *execution) publish(ctx context.Context, eventType string, payload map[string]any) {
	// Event delivery is best-effort; a dropped subscriber must not stop
	// the run.
	_ = e.callbacks.PublishEvent(ctx, eventType, payload)
}

func (e *execution) console(ctx context.Context, role, message string) {
	e.publish(ctx, "console", map[string]any{"role": role, "message": message})
}

func (e *execution) emitFrame(ctx context.Context, stepID string, cursor *Cursor) {
	screenshot, err := e.page.Screenshot(ctx)
	if err != nil {
		return
	}
	encoded := base64.StdEncoding.EncodeToString(screenshot)
	_ = e.callbacks.PublishFrame(ctx, encoded, stepID, cursor)
}
