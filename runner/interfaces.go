package runner

import (
	"context"
	"time"

	"github.com/jianyangg/show-and-tell/agent"
	"github.com/jianyangg/show-and-tell/plan"
)

// Cursor is a pointer position in viewport fractions (0..1), used by
// frontends to overlay the pointer on streamed frames.
type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Page is the browser surface the interpreter drives. browser.Page
// implements it; tests substitute a fake so the step loop runs without a
// browser.
type Page interface {
	URL() string
	Screenshot(ctx context.Context) ([]byte, error)
	Navigate(ctx context.Context, url string) error
	WaitForEmbeddedPage(ctx context.Context, startURL string, timeout time.Duration) error
	Back(ctx context.Context) (bool, error)
	Forward(ctx context.Context) (bool, error)
	MoveMouse(ctx context.Context, x, y float64) error
	ClickAt(ctx context.Context, x, y float64, clicks int) error
	DragAndDrop(ctx context.Context, startX, startY, endX, endY float64) error
	Wheel(ctx context.Context, x, y, deltaX, deltaY float64) error
	InsertText(ctx context.Context, text string) error
	PressKeyCombo(ctx context.Context, combo string) error
	ScrollAt(ctx context.Context, x, y, deltaX, deltaY float64) (bool, error)
}

// DecisionAgent produces the next actions for an observation.
type DecisionAgent interface {
	ProposeActions(ctx context.Context, obs agent.Observation) (*agent.Decision, error)
}

// Callbacks connect a run to the outside world: event/frame streaming,
// abort polling, and the operator handshakes.
type Callbacks interface {
	PublishEvent(ctx context.Context, eventType string, payload map[string]any) error
	PublishFrame(ctx context.Context, pngBase64 string, stepID string, cursor *Cursor) error
	Aborted() bool
	// RequestConfirmation blocks until the operator allows or denies a
	// gated action.
	RequestConfirmation(ctx context.Context, payload map[string]any) (bool, error)
	// RequestVariables blocks until the operator supplies values for the
	// named variables.
	RequestVariables(ctx context.Context, payload map[string]any) (map[string]any, error)
	// Checkpoints returns the reference screenshots for a step; empty
	// means the step completes after its first successful turn.
	Checkpoints(ctx context.Context, stepID string) ([]plan.Checkpoint, error)
}
