// Package store holds recordings and synthesized plans for the service.
// Everything lives in process memory behind a mutex; the store API is
// shaped so a database-backed implementation could replace it.
package store

import (
	"encoding/hex"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jianyangg/show-and-tell/plan"
)

// ErrNotFound is returned when a recording or plan ID is unknown.
var ErrNotFound = errors.New("not found")

// Recording statuses.
const (
	RecordingStarted   = "started"
	RecordingCompleted = "completed"
)

func newID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// StoredRecording is a teach recording with its lifecycle metadata.
type StoredRecording struct {
	RecordingID string
	Title       string
	Status      string
	StartURL    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	EndedAt     time.Time
	Bundle      *plan.RecordingBundle
	Events      []plan.RecordingEvent
}

// RecordingStore tracks recordings from teach start through completion.
type RecordingStore struct {
	mu         sync.Mutex
	recordings map[string]*StoredRecording
}

// NewRecordingStore creates an empty recording store.
func NewRecordingStore() *RecordingStore {
	return &RecordingStore{recordings: make(map[string]*StoredRecording)}
}

// Start registers a recording in the started state. An empty recordingID
// gets a fresh one.
func (s *RecordingStore) Start(title, recordingID, startURL string) StoredRecording {
	s.mu.Lock()
	defer s.mu.Unlock()

	if recordingID == "" {
		recordingID = newID()
	}
	now := time.Now()
	if existing, ok := s.recordings[recordingID]; ok {
		existing.UpdatedAt = now
		return *existing
	}
	rec := &StoredRecording{
		RecordingID: recordingID,
		Title:       title,
		Status:      RecordingStarted,
		StartURL:    startURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.recordings[recordingID] = rec
	return *rec
}

// AppendEvents adds captured events to a recording.
func (s *RecordingStore) AppendEvents(recordingID string, events []plan.RecordingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recordings[recordingID]
	if !ok {
		return ErrNotFound
	}
	rec.Events = append(rec.Events, events...)
	rec.UpdatedAt = time.Now()
	return nil
}

// Complete stores the finished bundle and flips the recording to
// completed.
func (s *RecordingStore) Complete(recordingID string, bundle plan.RecordingBundle) (StoredRecording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recordings[recordingID]
	if !ok {
		return StoredRecording{}, ErrNotFound
	}
	now := time.Now()
	rec.Status = RecordingCompleted
	rec.Bundle = &bundle
	rec.EndedAt = now
	rec.UpdatedAt = now
	if rec.StartURL == "" {
		rec.StartURL = bundle.StartURL
	}
	return *rec, nil
}

// StripAudio drops a recording's narration audio while preserving any
// transcript derived from it. Reports whether a transcript survived.
func (s *RecordingStore) StripAudio(recordingID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recordings[recordingID]
	if !ok {
		return false, ErrNotFound
	}
	if rec.Bundle != nil {
		rec.Bundle.AudioWavBase64 = ""
	}
	rec.UpdatedAt = time.Now()
	return rec.Bundle != nil && rec.Bundle.Transcript != "", nil
}

// Get returns a recording by ID.
func (s *RecordingStore) Get(recordingID string) (StoredRecording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recordings[recordingID]
	if !ok {
		return StoredRecording{}, ErrNotFound
	}
	return *rec, nil
}

// List returns all recordings, newest update first.
func (s *RecordingStore) List() []StoredRecording {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]StoredRecording, 0, len(s.recordings))
	for _, rec := range s.recordings {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// StoredPlan is a synthesized plan plus its provenance: the prompt and
// raw model response it came from, and any reference checkpoints the
// operator attached.
type StoredPlan struct {
	PlanID       string
	RecordingID  string
	Plan         plan.Plan
	Checkpoints  plan.Checkpoints
	Prompt       string
	RawResponse  string
	HasVariables bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PlanSummary is the listing view of a stored plan.
type PlanSummary struct {
	PlanID       string
	RecordingID  string
	Name         string
	HasVariables bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PlanStore tracks synthesized plans.
type PlanStore struct {
	mu    sync.Mutex
	plans map[string]*StoredPlan
}

// NewPlanStore creates an empty plan store.
func NewPlanStore() *PlanStore {
	return &PlanStore{plans: make(map[string]*StoredPlan)}
}

func hasVariables(p plan.Plan) bool {
	return len(plan.Placeholders(p)) > 0
}

// Save stores a freshly synthesized plan and returns it with its new ID.
func (s *PlanStore) Save(recordingID string, p plan.Plan, prompt, rawResponse string) StoredPlan {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	stored := &StoredPlan{
		PlanID:       newID(),
		RecordingID:  recordingID,
		Plan:         p.Clone(),
		Checkpoints:  plan.Checkpoints{},
		Prompt:       prompt,
		RawResponse:  rawResponse,
		HasVariables: hasVariables(p),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.plans[stored.PlanID] = stored
	return *stored
}

// Update renames a plan and optionally replaces its body. Variables are
// re-detected from the updated plan.
func (s *PlanStore) Update(planID, name string, updated *plan.Plan) (StoredPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.plans[planID]
	if !ok {
		return StoredPlan{}, ErrNotFound
	}
	if name != "" {
		stored.Plan.Name = name
	}
	if updated != nil {
		p := updated.Clone()
		if name != "" {
			p.Name = name
		}
		stored.Plan = p
	}
	stored.HasVariables = hasVariables(stored.Plan)
	stored.UpdatedAt = time.Now()
	return *stored, nil
}

// SetCheckpoints replaces the plan's reference checkpoints.
func (s *PlanStore) SetCheckpoints(planID string, checkpoints plan.Checkpoints) (StoredPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.plans[planID]
	if !ok {
		return StoredPlan{}, ErrNotFound
	}
	if checkpoints == nil {
		checkpoints = plan.Checkpoints{}
	}
	stored.Checkpoints = checkpoints
	stored.UpdatedAt = time.Now()
	return *stored, nil
}

// Get returns a plan by ID.
func (s *PlanStore) Get(planID string) (StoredPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.plans[planID]
	if !ok {
		return StoredPlan{}, ErrNotFound
	}
	return *stored, nil
}

// Delete removes a plan.
func (s *PlanStore) Delete(planID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.plans[planID]; !ok {
		return ErrNotFound
	}
	delete(s.plans, planID)
	return nil
}

// List returns summaries of all plans, newest update first.
func (s *PlanStore) List() []PlanSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]PlanSummary, 0, len(s.plans))
	for _, stored := range s.plans {
		out = append(out, PlanSummary{
			PlanID:       stored.PlanID,
			RecordingID:  stored.RecordingID,
			Name:         stored.Plan.Name,
			HasVariables: stored.HasVariables,
			CreatedAt:    stored.CreatedAt,
			UpdatedAt:    stored.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}
