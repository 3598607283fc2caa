package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/aura/api/internal/model"
)

var (
	// ErrDuplicateID is returned when inserting an id that is already tracked
	ErrDuplicateID = errors.New("duplicate job id")

	// ErrInvalidJob is returned when inserting a job without an id
	ErrInvalidJob = errors.New("job id is required")
)

// EventType classifies store change notifications
type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventRemoved EventType = "removed"
)

// Event is delivered to subscribers after every effective mutation
type Event struct {
	Type         EventType
	Job          model.Job
	Transitioned bool
}

// Listener receives store events. Listeners run synchronously in mutation
// order and must not mutate the store themselves.
type Listener func(Event)

// UpdateResult describes what an Update did
type UpdateResult struct {
	Job          model.Job
	Found        bool
	Changed      bool
	Transitioned bool
}

// JobStore is the in-memory collection of tracked podcast jobs
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*model.Job

	// notifyMu keeps event delivery in mutation order
	notifyMu     sync.Mutex
	listenersMu  sync.RWMutex
	listeners    map[int]Listener
	nextListener int

	now func() time.Time
}

// NewJobStore creates an empty store
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:      make(map[string]*model.Job),
		listeners: make(map[int]Listener),
		now:       time.Now,
	}
}

// Subscribe registers a listener and returns a function that removes it
func (s *JobStore) Subscribe(l Listener) func() {
	s.listenersMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = l
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			delete(s.listeners, id)
			s.listenersMu.Unlock()
		})
	}
}

// Insert adds a new job. The stored status is always generating.
func (s *JobStore) Insert(job model.Job) error {
	if job.ID == "" {
		return ErrInvalidJob
	}

	s.mu.Lock()
	if _, exists := s.jobs[job.ID]; exists {
		s.mu.Unlock()
		return ErrDuplicateID
	}

	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}
	job.Status = model.JobStatusGenerating
	job.UpdatedAt = job.CreatedAt
	stored := job.Clone()
	s.jobs[job.ID] = &stored
	snapshot := stored.Clone()

	s.notifyMu.Lock()
	s.mu.Unlock()
	s.emit(Event{Type: EventCreated, Job: snapshot})
	s.notifyMu.Unlock()

	return nil
}

// Update applies a partial update. Absent ids are a silent no-op.
func (s *JobStore) Update(id string, patch model.JobPatch) UpdateResult {
	return s.UpdateIf(id, patch, nil)
}

// UpdateIf applies patch only when guard, evaluated under the store lock,
// returns true. A nil guard always passes.
func (s *JobStore) UpdateIf(id string, patch model.JobPatch, guard func() bool) UpdateResult {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok || (guard != nil && !guard()) {
		s.mu.Unlock()
		if ok {
			return UpdateResult{Found: true, Job: job.Clone()}
		}
		return UpdateResult{}
	}

	changed, transitioned := applyPatch(job, patch)
	if changed {
		job.UpdatedAt = s.now()
	}
	result := UpdateResult{
		Job:          job.Clone(),
		Found:        true,
		Changed:      changed,
		Transitioned: transitioned,
	}

	if !changed {
		s.mu.Unlock()
		return result
	}

	s.notifyMu.Lock()
	s.mu.Unlock()
	s.emit(Event{Type: EventUpdated, Job: result.Job.Clone(), Transitioned: transitioned})
	s.notifyMu.Unlock()

	return result
}

// Remove deletes a job. Absent ids are a silent no-op.
func (s *JobStore) Remove(id string) (model.Job, bool) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return model.Job{}, false
	}
	delete(s.jobs, id)
	snapshot := job.Clone()

	s.notifyMu.Lock()
	s.mu.Unlock()
	s.emit(Event{Type: EventRemoved, Job: snapshot})
	s.notifyMu.Unlock()

	return snapshot.Clone(), true
}

// Get returns a snapshot of one job
func (s *JobStore) Get(id string) (model.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return model.Job{}, false
	}
	return job.Clone(), true
}

// List returns the jobs of ownerID, newest first. An empty ownerID lists all jobs.
func (s *JobStore) List(ownerID string) []model.Job {
	return s.filter(func(j *model.Job) bool {
		return ownerID == "" || j.OwnerID == ownerID
	})
}

// Generating returns every job that is still generating
func (s *JobStore) Generating() []model.Job {
	return s.filter(func(j *model.Job) bool {
		return j.Status == model.JobStatusGenerating
	})
}

// MissingContent returns completed jobs whose content was never loaded
func (s *JobStore) MissingContent() []model.Job {
	return s.filter(func(j *model.Job) bool {
		return j.Status == model.JobStatusCompleted && !j.ContentLoaded
	})
}

// Len returns the number of tracked jobs
func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func (s *JobStore) filter(keep func(*model.Job) bool) []model.Job {
	s.mu.RLock()
	out := make([]model.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if keep(job) {
			out = append(out, job.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})
	return out
}

func (s *JobStore) emit(event Event) {
	s.listenersMu.RLock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.listenersMu.RUnlock()

	for _, l := range listeners {
		l(event)
	}
}

// applyPatch mutates job in place and reports whether anything changed and
// whether the status moved along a state machine edge.
func applyPatch(job *model.Job, patch model.JobPatch) (changed, transitioned bool) {
	if patch.Status != nil && *patch.Status != job.Status {
		if job.Status.CanTransition(*patch.Status) {
			job.Status = *patch.Status
			changed, transitioned = true, true
			if job.Status == model.JobStatusCompleted && job.Progress != 100 {
				job.Progress = 100
			}
		}
	}

	if patch.Progress != nil && job.Status == model.JobStatusGenerating {
		p := clampProgress(*patch.Progress)
		if p != job.Progress {
			job.Progress = p
			changed = true
		}
	}

	if job.Status == model.JobStatusCompleted {
		if patch.Topics != nil && !equalStrings(job.Topics, patch.Topics) {
			job.Topics = append([]string{}, patch.Topics...)
			changed = true
		}
		if patch.Duration != nil && *patch.Duration != job.Duration {
			job.Duration = *patch.Duration
			changed = true
		}
		if patch.ContentLoaded != nil && *patch.ContentLoaded != job.ContentLoaded {
			job.ContentLoaded = *patch.ContentLoaded
			changed = true
		}
	}

	if patch.Warning != nil && *patch.Warning != job.Warning {
		job.Warning = *patch.Warning
		changed = true
	}
	if patch.Error != nil && *patch.Error != job.Error && job.Status == model.JobStatusFailed {
		job.Error = *patch.Error
		changed = true
	}

	return changed, transitioned
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
