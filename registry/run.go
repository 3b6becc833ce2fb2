// Package registry tracks active runs and fans their event streams out to
// websocket subscribers.
package registry

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jianyangg/show-and-tell/plan"
	"github.com/jianyangg/show-and-tell/runner"
)

// Message is one wire message for run subscribers. Every message carries a
// "type" key.
type Message map[string]any

// subscriberBuffer bounds each subscriber's queue. When a slow consumer
// falls this far behind, its oldest messages are dropped; ordering of the
// retained messages is preserved.
const subscriberBuffer = 256

// Run statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusAborted   = "aborted"
)

// Run tracks one plan execution: its status, its subscribers, and the
// one-shot operator handshakes (confirmation and variables).
type Run struct {
	ID          string
	PlanID      string
	Plan        plan.Plan
	Checkpoints plan.Checkpoints
	StartURL    string
	CreatedAt   time.Time

	mu           sync.Mutex
	status       string
	completedAt  time.Time
	aborted      bool
	abortCh      chan struct{}
	subscribers  map[*Subscriber]struct{}
	latestStatus Message
	latestFrame  Message
	confirmCh    chan bool
	varsCh       chan map[string]any
}

func newRun(planID string, p plan.Plan, checkpoints plan.Checkpoints, startURL string) *Run {
	id := uuid.New()
	return &Run{
		ID:          hex.EncodeToString(id[:]),
		PlanID:      planID,
		Plan:        p,
		Checkpoints: checkpoints,
		StartURL:    startURL,
		CreatedAt:   time.Now(),
		status:      StatusPending,
		abortCh:     make(chan struct{}),
		subscribers: make(map[*Subscriber]struct{}),
	}
}

// Status returns the run's current status.
func (r *Run) Status() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// SetStatus records a status transition. Terminal statuses also stamp the
// completion time so the registry sweeper can reap the run later.
func (r *Run) SetStatus(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
	switch status {
	case StatusCompleted, StatusFailed, StatusAborted:
		if r.completedAt.IsZero() {
			r.completedAt = time.Now()
		}
	}
}

func (r *Run) completedSince() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.completedAt.IsZero() {
		return time.Time{}, false
	}
	return r.completedAt, true
}

// Subscriber is one consumer of a run's message stream.
type Subscriber struct {
	run *Run
	ch  chan Message
}

// Messages returns the subscriber's ordered message stream.
func (s *Subscriber) Messages() <-chan Message { return s.ch }

// Close detaches the subscriber from the run.
func (s *Subscriber) Close() {
	s.run.mu.Lock()
	defer s.run.mu.Unlock()
	delete(s.run.subscribers, s)
}

// enqueue adds a message without ever blocking the publisher. A full
// buffer drops the oldest message first. Callers hold the run lock, which
// serializes sends and keeps per-subscriber ordering intact.
func (s *Subscriber) enqueue(message Message) {
	for {
		select {
		case s.ch <- message:
			return
		default:
			select {
			case <-s.ch:
			default:
			}
		}
	}
}

// Subscribe attaches a new consumer. The latest status message and then
// the latest frame are replayed first, so a late subscriber immediately
// sees where the run stands.
func (r *Run) Subscribe() *Subscriber {
	sub := &Subscriber{run: r, ch: make(chan Message, subscriberBuffer)}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers[sub] = struct{}{}
	if r.latestStatus != nil {
		sub.enqueue(r.latestStatus)
	}
	if r.latestFrame != nil {
		sub.enqueue(r.latestFrame)
	}
	return sub
}

// Publish fans a message out to every subscriber and updates the replay
// snapshot: frames and status-bearing messages are tracked separately so
// a late subscriber gets one of each.
func (r *Run) Publish(message Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if message["type"] == "runner_frame" {
		r.latestFrame = message
	} else {
		r.latestStatus = message
	}
	for sub := range r.subscribers {
		sub.enqueue(message)
	}
}

// LatestFrame returns the most recent frame message, or nil when the run
// has not produced one yet.
func (r *Run) LatestFrame() Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latestFrame
}

// RequestAbort latches the abort flag and notifies subscribers. Any
// blocked handshake is released with an abort error.
func (r *Run) RequestAbort() {
	r.mu.Lock()
	if !r.aborted {
		r.aborted = true
		close(r.abortCh)
	}
	r.mu.Unlock()
	r.Publish(Message{"type": "runner_status", "message": "abort_requested"})
}

// Aborted reports whether an abort has been requested.
func (r *Run) Aborted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aborted
}

// RequestConfirmation publishes a safety prompt and blocks until the
// operator answers or the context ends. Only one confirmation may be
// pending at a time. Unlike a variable prompt, an abort does not release
// a pending confirmation: the operator may still answer, and the runner
// stops at its next abort check.
func (r *Run) RequestConfirmation(ctx context.Context, payload map[string]any) (bool, error) {
	r.mu.Lock()
	if r.confirmCh != nil {
		r.mu.Unlock()
		return false, fmt.Errorf("confirmation already pending")
	}
	ch := make(chan bool, 1)
	r.confirmCh = ch
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.confirmCh = nil
		r.mu.Unlock()
	}()

	r.Publish(Message{"type": "safety_prompt", "payload": payload})

	select {
	case allowed := <-ch:
		return allowed, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// ResolveConfirmation answers a pending confirmation. Without one it is a
// no-op, so duplicate websocket replies are harmless.
func (r *Run) ResolveConfirmation(allowed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.confirmCh == nil {
		return
	}
	select {
	case r.confirmCh <- allowed:
	default:
	}
	r.confirmCh = nil
}

// RequestVariables publishes a variable prompt and blocks until the
// operator supplies values, the run aborts, or the context ends.
func (r *Run) RequestVariables(ctx context.Context, payload map[string]any) (map[string]any, error) {
	r.mu.Lock()
	if r.varsCh != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("variable prompt already pending")
	}
	ch := make(chan map[string]any, 1)
	r.varsCh = ch
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.varsCh = nil
		r.mu.Unlock()
	}()

	r.Publish(Message{"type": "variable_prompt", "payload": payload})

	select {
	case values := <-ch:
		return values, nil
	case <-r.abortCh:
		return nil, runner.ErrAborted
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ResolveVariables answers a pending variable prompt.
func (r *Run) ResolveVariables(values map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.varsCh == nil {
		return
	}
	select {
	case r.varsCh <- values:
	default:
	}
	r.varsCh = nil
}
