package registry

import (
	"context"

	"github.com/jianyangg/show-and-tell/plan"
	"github.com/jianyangg/show-and-tell/runner"
)

// Dispatcher adapts a Run to the callback surface the replay loop needs:
// it forwards events and frames to subscribers and routes operator
// handshakes through the run's pending futures.
type Dispatcher struct {
	run *Run
}

// NewDispatcher builds the callback adapter for one run.
func NewDispatcher(run *Run) *Dispatcher {
	return &Dispatcher{run: run}
}

var _ runner.Callbacks = (*Dispatcher)(nil)

// PublishEvent flattens the event type into the payload and fans it out.
func (d *Dispatcher) PublishEvent(ctx context.Context, eventType string, payload map[string]any) error {
	message := Message{"type": eventType}
	for k, v := range payload {
		message[k] = v
	}
	d.run.Publish(message)
	return nil
}

// PublishFrame sends a browser frame. The step ID and cursor ride along
// so the viewer can overlay progress.
func (d *Dispatcher) PublishFrame(ctx context.Context, pngBase64 string, stepID string, cursor *runner.Cursor) error {
	message := Message{
		"type":   "runner_frame",
		"frame":  pngBase64,
		"stepId": stepIDValue(stepID),
	}
	if cursor != nil {
		message["cursor"] = cursor
	}
	d.run.Publish(message)
	return nil
}

func stepIDValue(stepID string) any {
	if stepID == "" {
		return nil
	}
	return stepID
}

// Aborted reports whether the operator requested an abort.
func (d *Dispatcher) Aborted() bool { return d.run.Aborted() }

// RequestConfirmation blocks on the operator's safety decision.
func (d *Dispatcher) RequestConfirmation(ctx context.Context, payload map[string]any) (bool, error) {
	return d.run.RequestConfirmation(ctx, payload)
}

// RequestVariables blocks until the operator supplies variable values.
func (d *Dispatcher) RequestVariables(ctx context.Context, payload map[string]any) (map[string]any, error) {
	return d.run.RequestVariables(ctx, payload)
}

// Checkpoints returns the reference screenshots recorded for a step.
func (d *Dispatcher) Checkpoints(ctx context.Context, stepID string) ([]plan.Checkpoint, error) {
	return d.run.Checkpoints[stepID], nil
}
