package broker

import (
	"bytes"
	"log"
	"strings"
	"sync"

	"reelforge/internal/models"
)

// Subscription is one observer's view of a job. Events arrive on C in order;
// C is closed after the terminal event or after Unsubscribe.
type Subscription struct {
	C <-chan models.Event

	broker *Broker
	jobID  string
	out    chan models.Event

	mu      sync.Mutex
	queue   []models.Event
	closing bool

	notify   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newSubscription(b *Broker, jobID string) *Subscription {
	out := make(chan models.Event)
	return &Subscription{
		C:      out,
		broker: b,
		jobID:  jobID,
		out:    out,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// JobID returns the observed job's id.
func (s *Subscription) JobID() string { return s.jobID }

// Close detaches the subscription from its broker.
func (s *Subscription) Close() { s.broker.Unsubscribe(s) }

// push queues an event without blocking. last marks the terminal event.
func (s *Subscription) push(ev models.Event, last bool) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	if last {
		s.closing = true
	}
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// pump drains the queue into C until the terminal event is delivered or the
// observer detaches.
func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return
			}
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}
		ev := s.queue[0]
		s.queue[0] = models.Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}

// Logger returns a per-job logger. Every line written is appended to the job's
// buffer and mirrored to the process log with a job_id prefix.
func (b *Broker) Logger(id string) *log.Logger {
	return log.New(&lineWriter{broker: b, id: id}, "", 0)
}

type lineWriter struct {
	broker *Broker
	id     string
}

func (w *lineWriter) Write(p []byte) (int, error) {
	for _, line := range bytes.Split(p, []byte{'\n'}) {
		text := strings.TrimRight(string(line), "\r")
		if text == "" {
			continue
		}
		w.broker.mirror.Printf("job_id=%s %s", w.id, text)
		_ = w.broker.AppendLog(w.id, text)
	}
	return len(p), nil
}
