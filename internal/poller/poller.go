package poller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aura/api/internal/model"
	"github.com/aura/api/internal/retry"
	"github.com/aura/api/internal/store"
)

var (
	// ErrTransientPoll wraps a single failed status check. It never marks a job failed.
	ErrTransientPoll = errors.New("transient poll error")

	// ErrJobFailed is recorded on jobs the generation service reports as failed
	ErrJobFailed = errors.New("podcast generation failed")

	// ErrContentFetchFailed is recorded as a warning when a completed job's content cannot be loaded
	ErrContentFetchFailed = errors.New("podcast content could not be fetched")

	// ErrUnknownJob is returned when refreshing an id that is not tracked
	ErrUnknownJob = errors.New("job not tracked")
)

// StatusSource is the part of the generation service the poller depends on
type StatusSource interface {
	GetStatus(ctx context.Context, jobID string) (*model.RemoteJobStatus, error)
	GetPodcast(ctx context.Context, jobID string) (*model.PodcastContent, error)
}

// Config controls polling cadence and timeouts
type Config struct {
	Interval       time.Duration
	RequestTimeout time.Duration
	Content        *retry.Config
}

// DefaultConfig polls every 3 seconds
func DefaultConfig() Config {
	return Config{
		Interval:       3 * time.Second,
		RequestTimeout: 10 * time.Second,
		Content:        retry.ContentConfig(3),
	}
}

// Stats is a point-in-time view of poller activity
type Stats struct {
	Active          int   `json:"active"`
	TransientErrors int64 `json:"transientErrors"`
	ContentFetches  int64 `json:"contentFetches"`
}

// Poller runs one status-check task per generating job
type Poller struct {
	store  *store.JobStore
	source StatusSource
	cfg    Config

	mu       sync.Mutex
	tasks    map[string]*task
	fetching map[string]bool
	checks   map[string]*checkLock
	closed   bool

	baseCtx   context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup

	unsubscribe func()

	transientErrors atomic.Int64
	contentFetches  atomic.Int64
}

type task struct {
	id      string
	cancel  context.CancelFunc
	stopped atomic.Bool
}

func (t *task) active() bool {
	return !t.stopped.Load()
}

// checkLock serializes status checks for one job across its task and refreshes
type checkLock struct {
	mu   sync.Mutex
	refs int
}

// New creates a poller and subscribes it to store removals so that
// removing a job cancels its task.
func New(jobStore *store.JobStore, source StatusSource, cfg Config) *Poller {
	defaults := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	if cfg.Content == nil {
		cfg.Content = defaults.Content
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Poller{
		store:     jobStore,
		source:    source,
		cfg:       cfg,
		tasks:     make(map[string]*task),
		fetching:  make(map[string]bool),
		checks:    make(map[string]*checkLock),
		baseCtx:   ctx,
		cancelAll: cancel,
	}

	p.unsubscribe = jobStore.Subscribe(func(e store.Event) {
		if e.Type == store.EventRemoved {
			p.Stop(e.Job.ID)
		}
	})

	return p
}

// Start launches a task for jobID unless one is already running.
// It reports whether a new task was started.
func (p *Poller) Start(jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}
	if _, ok := p.tasks[jobID]; ok {
		return false
	}

	ctx, cancel := context.WithCancel(p.baseCtx)
	t := &task{id: jobID, cancel: cancel}
	p.tasks[jobID] = t

	p.wg.Add(1)
	go p.run(ctx, t)

	log.Printf("[Poller] started for job %s", jobID)
	return true
}

// Stop cancels the task for jobID. After Stop returns the task never
// mutates the store again.
func (p *Poller) Stop(jobID string) bool {
	p.mu.Lock()
	t, ok := p.tasks[jobID]
	if ok {
		delete(p.tasks, jobID)
	}
	p.mu.Unlock()

	if !ok {
		return false
	}

	t.stopped.Store(true)
	t.cancel()
	log.Printf("[Poller] stopped for job %s", jobID)
	return true
}

// IsActive reports whether a task is running for jobID
func (p *Poller) IsActive(jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.tasks[jobID]
	return ok
}

// Reconcile starts exactly one task for every generating job that has none
// and reloads content for completed jobs that never got it. It returns the
// number of tasks started and content loads scheduled.
func (p *Poller) Reconcile() (started, hydrated int) {
	for _, job := range p.store.Generating() {
		if p.Start(job.ID) {
			started++
		}
	}

	for _, job := range p.store.MissingContent() {
		if p.IsActive(job.ID) || !p.claimFetch(job.ID) {
			continue
		}
		hydrated++

		p.wg.Add(1)
		go func(id string) {
			defer p.wg.Done()
			defer p.releaseFetch(id)
			p.loadContent(p.baseCtx, id, nil)
		}(job.ID)
	}

	if started > 0 || hydrated > 0 {
		log.Printf("[Poller] reconcile: %d pollers started, %d content loads scheduled", started, hydrated)
	}
	return started, hydrated
}

// Apply routes one status observation into the store. Side effects run only
// when the observation moves the job along a state machine edge. It returns
// the job after the update and whether the job is now terminal or gone.
func (p *Poller) Apply(ctx context.Context, jobID string, status *model.RemoteJobStatus) (model.Job, bool) {
	return p.apply(ctx, jobID, status, nil)
}

// Refresh performs one immediate status check for jobID through the same
// path the background task uses. A check already in flight for the job is
// waited for first, so observations are applied in order.
func (p *Poller) Refresh(ctx context.Context, jobID string) (model.Job, error) {
	unlock := p.lockCheck(jobID)
	defer unlock()

	job, ok := p.store.Get(jobID)
	if !ok {
		return model.Job{}, ErrUnknownJob
	}

	switch {
	case job.Status == model.JobStatusFailed:
		return job, nil
	case job.Status == model.JobStatusCompleted:
		if !job.ContentLoaded && p.claimFetch(jobID) {
			p.loadContent(ctx, jobID, nil)
			p.releaseFetch(jobID)
		}
		return p.current(jobID)
	}

	status, err := p.check(ctx, jobID)
	if err != nil {
		p.transientErrors.Add(1)
		return job, fmt.Errorf("%w: %v", ErrTransientPoll, err)
	}

	if _, done := p.Apply(ctx, jobID, status); !done {
		p.Start(jobID)
	}
	return p.current(jobID)
}

// Stats returns counters for health reporting
func (p *Poller) Stats() Stats {
	p.mu.Lock()
	active := len(p.tasks)
	p.mu.Unlock()

	return Stats{
		Active:          active,
		TransientErrors: p.transientErrors.Load(),
		ContentFetches:  p.contentFetches.Load(),
	}
}

// Shutdown cancels every task and waits for them to exit
func (p *Poller) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	for id, t := range p.tasks {
		t.stopped.Store(true)
		delete(p.tasks, id)
	}
	p.mu.Unlock()

	p.unsubscribe()
	p.cancelAll()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Poller) run(ctx context.Context, t *task) {
	defer p.wg.Done()
	defer p.finish(t)

	timer := time.NewTimer(p.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if done := p.tick(ctx, t); done {
			return
		}

		// The next check is scheduled only after this one resolved.
		timer.Reset(p.cfg.Interval)
	}
}

func (p *Poller) tick(ctx context.Context, t *task) bool {
	unlock := p.lockCheck(t.id)
	defer unlock()

	job, ok := p.store.Get(t.id)
	if !ok || job.IsTerminal() || !t.active() {
		return true
	}

	status, err := p.check(ctx, t.id)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		p.transientErrors.Add(1)
		log.Printf("[Poller] %v for job %s, retrying next tick: %v", ErrTransientPoll, t.id, err)
		return false
	}

	_, done := p.apply(ctx, t.id, status, t)
	return done
}

func (p *Poller) check(ctx context.Context, jobID string) (*model.RemoteJobStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()
	return p.source.GetStatus(ctx, jobID)
}

func (p *Poller) apply(ctx context.Context, jobID string, status *model.RemoteJobStatus, t *task) (model.Job, bool) {
	next := status.Status.JobStatus()
	patch := model.StatusPatch(next, status.Percent())
	if next == model.JobStatusFailed {
		msg := ErrJobFailed.Error()
		patch.Error = &msg
	}

	var guard func() bool
	if t != nil {
		guard = t.active
	}

	res := p.store.UpdateIf(jobID, patch, guard)
	if !res.Found {
		return model.Job{}, true
	}
	if t != nil && !t.active() {
		return res.Job, true
	}

	if res.Transitioned {
		switch res.Job.Status {
		case model.JobStatusCompleted:
			log.Printf("[Poller] job %s completed", jobID)
			if p.claimFetch(jobID) {
				p.loadContent(ctx, jobID, guard)
				p.releaseFetch(jobID)
			}
			if job, ok := p.store.Get(jobID); ok {
				res.Job = job
			}
		case model.JobStatusFailed:
			log.Printf("[Poller] job %s failed", jobID)
		}
	}

	return res.Job, res.Job.IsTerminal()
}

// loadContent fetches full content once and stores it, or records a warning.
func (p *Poller) loadContent(ctx context.Context, jobID string, guard func() bool) {
	p.contentFetches.Add(1)

	content, err := retry.WithResult(ctx, p.cfg.Content, func(ctx context.Context) (*model.PodcastContent, error) {
		ctx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
		defer cancel()
		return p.source.GetPodcast(ctx, jobID)
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Printf("[Poller] %v for job %s: %v", ErrContentFetchFailed, jobID, err)
		p.store.UpdateIf(jobID, model.WarningPatch(fmt.Sprintf("%v: %v", ErrContentFetchFailed, err)), guard)
		return
	}

	p.store.UpdateIf(jobID, model.ContentPatch(content), guard)
}

func (p *Poller) claimFetch(jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fetching[jobID] {
		return false
	}
	p.fetching[jobID] = true
	return true
}

func (p *Poller) releaseFetch(jobID string) {
	p.mu.Lock()
	delete(p.fetching, jobID)
	p.mu.Unlock()
}

// lockCheck holds the per-job check lock until the returned func is called
func (p *Poller) lockCheck(jobID string) func() {
	p.mu.Lock()
	l, ok := p.checks[jobID]
	if !ok {
		l = &checkLock{}
		p.checks[jobID] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.checks, jobID)
		}
		p.mu.Unlock()
	}
}

func (p *Poller) finish(t *task) {
	p.mu.Lock()
	if p.tasks[t.id] == t {
		delete(p.tasks, t.id)
	}
	p.mu.Unlock()
}

func (p *Poller) current(jobID string) (model.Job, error) {
	job, ok := p.store.Get(jobID)
	if !ok {
		return model.Job{}, ErrUnknownJob
	}
	return job, nil
}
