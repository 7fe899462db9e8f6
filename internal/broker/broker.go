package broker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"reelforge/internal/models"
)

var (
	// ErrNotFound is returned for unknown ids and, where noted, for jobs that already ended.
	ErrNotFound = errors.New("job not found")
	// ErrExists is returned when creating a job with an id already in use.
	ErrExists = errors.New("job already exists")
	// ErrActive is returned when removing a job that has not reached a terminal status.
	ErrActive = errors.New("job still running")
)

// Broker owns every job's status, log buffer, cancellation token and observers.
// All methods are safe for concurrent use.
type Broker struct {
	mu     sync.Mutex
	jobs   map[string]*job
	mirror *log.Logger
	now    func() time.Time
}

type job struct {
	id        string
	prompt    string
	status    models.JobStatus
	logs      []string
	subs      map[*Subscription]struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	aborted   bool
	result    *models.VideoData
	errMsg    string
	created   time.Time
	completed time.Time
}

// New constructs an empty broker. Job log lines are mirrored to mirror; nil uses log.Default().
func New(mirror *log.Logger) *Broker {
	if mirror == nil {
		mirror = log.Default()
	}
	return &Broker{
		jobs:   make(map[string]*job),
		mirror: mirror,
		now:    time.Now,
	}
}

// Create registers a job in status progress and returns its cancellation token.
func (b *Broker) Create(id, prompt string) (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.jobs[id]; ok {
		return nil, fmt.Errorf("create %s: %w", id, ErrExists)
	}
	if err := models.ValidateTransition(models.StatusPending, models.StatusProgress); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.jobs[id] = &job{
		id:      id,
		prompt:  prompt,
		status:  models.StatusProgress,
		subs:    make(map[*Subscription]struct{}),
		ctx:     ctx,
		cancel:  cancel,
		created: b.now(),
	}
	return ctx, nil
}

// Context returns the job's cancellation token.
func (b *Broker) Context(id string) (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	j, ok := b.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return j.ctx, nil
}

// AppendLog buffers a line and hands it to every attached observer. It never
// blocks on observers. Lines for unknown or finished jobs are dropped.
func (b *Broker) AppendLog(id, line string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	j, ok := b.jobs[id]
	if !ok || j.status.IsTerminal() {
		return ErrNotFound
	}
	j.logs = append(j.logs, line)
	ev := models.Event{Message: line, Status: models.StatusProgress}
	for s := range j.subs {
		s.push(ev, false)
	}
	return nil
}

// Subscribe attaches an observer. The buffered lines are queued first, in order,
// followed by live lines. A job that already ended yields its buffer and terminal event.
func (b *Broker) Subscribe(id string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	j, ok := b.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	s := newSubscription(b, id)
	for _, line := range j.logs {
		s.push(models.Event{Message: line, Status: models.StatusProgress}, false)
	}
	if j.status.IsTerminal() {
		s.push(j.terminalEvent(), true)
	} else {
		j.subs[s] = struct{}{}
	}
	go s.pump()
	return s, nil
}

// Unsubscribe detaches an observer without touching the job.
func (b *Broker) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	b.mu.Lock()
	if j, ok := b.jobs[s.jobID]; ok {
		delete(j.subs, s)
	}
	b.mu.Unlock()
	s.stop()
}

// Finish marks the job finished with its result.
func (b *Broker) Finish(id string, result *models.VideoData) error {
	return b.settle(id, models.StatusFinished, func(j *job) { j.result = result })
}

// Fail marks the job failed with the triggering error.
func (b *Broker) Fail(id string, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return b.settle(id, models.StatusFailed, func(j *job) { j.errMsg = msg })
}

// Cancel marks the job cancelled.
func (b *Broker) Cancel(id string) error {
	return b.settle(id, models.StatusCancelled, nil)
}

func (b *Broker) settle(id string, to models.JobStatus, apply func(*job)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	j, ok := b.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if err := models.ValidateTransition(j.status, to); err != nil {
		return fmt.Errorf("settle %s: %w", id, err)
	}
	j.status = to
	j.completed = b.now()
	if apply != nil {
		apply(j)
	}
	ev := j.terminalEvent()
	for s := range j.subs {
		s.push(ev, true)
	}
	j.subs = make(map[*Subscription]struct{})
	// Releases the context's resources; stages have already returned.
	j.cancel()
	return nil
}

// Abort arms the job's cancellation token. Status is left to the job runner.
// A second call on a running job is a no-op.
func (b *Broker) Abort(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	j, ok := b.jobs[id]
	if !ok || j.status.IsTerminal() {
		return ErrNotFound
	}
	if !j.aborted {
		j.aborted = true
		j.cancel()
	}
	return nil
}

// AbortAll arms every running job's token. Used on shutdown.
func (b *Broker) AbortAll() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, j := range b.jobs {
		if j.status.IsTerminal() || j.aborted {
			continue
		}
		j.aborted = true
		j.cancel()
		n++
	}
	return n
}

// Snapshot returns a copy of the job's state.
func (b *Broker) Snapshot(id string) (models.JobSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	j, ok := b.jobs[id]
	if !ok {
		return models.JobSnapshot{}, ErrNotFound
	}
	return j.snapshot(), nil
}

// List returns snapshots of all jobs, oldest first.
func (b *Broker) List() []models.JobSnapshot {
	b.mu.Lock()
	out := make([]models.JobSnapshot, 0, len(b.jobs))
	for _, j := range b.jobs {
		out = append(out, j.snapshot())
	}
	b.mu.Unlock()
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out
}

// Remove evicts a terminal job.
func (b *Broker) Remove(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	j, ok := b.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if !j.status.IsTerminal() {
		return ErrActive
	}
	delete(b.jobs, id)
	return nil
}

// Sweep evicts terminal jobs that completed more than olderThan ago.
func (b *Broker) Sweep(olderThan time.Duration) int {
	cutoff := b.now().Add(-olderThan)
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for id, j := range b.jobs {
		if j.status.IsTerminal() && j.completed.Before(cutoff) {
			delete(b.jobs, id)
			n++
		}
	}
	return n
}

func (j *job) terminalEvent() models.Event {
	switch j.status {
	case models.StatusFinished:
		return models.Event{Status: models.StatusFinished, Message: "Video generation completed!", VideoData: j.result}
	case models.StatusCancelled:
		return models.Event{Status: models.StatusCancelled, Message: "Video generation was cancelled."}
	default:
		return models.Event{Status: models.StatusFailed, Error: j.errMsg}
	}
}

func (j *job) snapshot() models.JobSnapshot {
	snap := models.JobSnapshot{
		ID:         j.id,
		Prompt:     j.prompt,
		Status:     j.status,
		Logs:       append([]string(nil), j.logs...),
		Observers:  len(j.subs),
		Cancelling: j.aborted && !j.status.IsTerminal(),
		Result:     j.result,
		Error:      j.errMsg,
		CreatedAt:  j.created,
	}
	if !j.completed.IsZero() {
		done := j.completed
		snap.CompletedAt = &done
	}
	return snap
}
