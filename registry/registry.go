package registry

import (
	"sync"
	"time"

	"github.com/jianyangg/show-and-tell/plan"
)

// Completed runs stay visible for a grace period so late websocket
// subscribers can still fetch the terminal status, then get swept.
const (
	defaultRetention     = 300 * time.Second
	defaultSweepInterval = 60 * time.Second
)

// Registry owns the set of live runs.
type Registry struct {
	mu   sync.Mutex
	runs map[string]*Run

	retention     time.Duration
	sweepInterval time.Duration
	stop          chan struct{}
	stopOnce      sync.Once
}

// NewRegistry creates a registry with the default retention and starts its
// background sweeper.
func NewRegistry() *Registry {
	return NewRegistryWithRetention(defaultRetention, defaultSweepInterval)
}

// NewRegistryWithRetention creates a registry that keeps completed runs for
// the given duration, sweeping on the given cadence. Zero values keep the
// defaults.
func NewRegistryWithRetention(retention, sweepInterval time.Duration) *Registry {
	if retention <= 0 {
		retention = defaultRetention
	}
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}
	r := &Registry{
		runs:          make(map[string]*Run),
		retention:     retention,
		sweepInterval: sweepInterval,
		stop:          make(chan struct{}),
	}
	go r.reapLoop()
	return r
}

// Create registers a new pending run for the given plan.
func (r *Registry) Create(planID string, p plan.Plan, checkpoints plan.Checkpoints, startURL string) *Run {
	run := newRun(planID, p, checkpoints, startURL)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = run
	return run
}

// Get returns the run with the given ID.
func (r *Registry) Get(runID string) (*Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	return run, ok
}

// Remove drops a run immediately, without waiting for the sweeper.
func (r *Registry) Remove(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, runID)
}

// Close stops the background sweeper.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *Registry) reapLoop() {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case now := <-ticker.C:
			r.sweep(now)
		}
	}
}

func (r *Registry) sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, run := range r.runs {
		if done, ok := run.completedSince(); ok && now.Sub(done) > r.retention {
			delete(r.runs, id)
		}
	}
}
