package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"reelforge/internal/broker"
	"reelforge/internal/models"
	"reelforge/internal/pipeline"
	"reelforge/internal/store"
	"reelforge/internal/telemetry"
)

// ErrEmptyPrompt rejects a submission before any job exists.
var ErrEmptyPrompt = errors.New("prompt is required")

// Runner executes one generation job.
type Runner interface {
	Run(ctx context.Context, jobID, prompt string, logger pipeline.Logger) (*models.VideoData, error)
}

// Auditor records lifecycle events. Failures are logged and otherwise ignored.
type Auditor interface {
	Record(ctx context.Context, jobID, event, detail string) error
}

// Processor accepts prompts and runs each as its own goroutine.
type Processor struct {
	broker *broker.Broker
	runner Runner
	audit  Auditor
	newID  func() string
	wg     sync.WaitGroup
}

// NewProcessor wires the job runner to the broker.
func NewProcessor(b *broker.Broker, runner Runner) *Processor {
	return &Processor{broker: b, runner: runner, newID: uuid.NewString}
}

// WithAudit enables the durable audit trail.
func (p *Processor) WithAudit(a Auditor) *Processor {
	p.audit = a
	return p
}

// Submit registers a job and starts it. It returns as soon as the job exists.
func (p *Processor) Submit(prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", ErrEmptyPrompt
	}
	id := p.newID()
	ctx, err := p.broker.Create(id, prompt)
	if err != nil {
		return "", err
	}
	telemetry.JobsSubmitted.Inc()
	telemetry.InFlightGauge.Inc()
	p.record(id, store.EventCreated, prompt)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runJob(ctx, id, prompt)
	}()
	return id, nil
}

// Wait blocks until every started job has settled.
func (p *Processor) Wait() {
	p.wg.Wait()
}

func (p *Processor) runJob(ctx context.Context, id, prompt string) {
	logger := p.broker.Logger(id)
	start := time.Now()
	result, err := p.execute(ctx, id, prompt, logger)

	var status models.JobStatus
	var detail string
	switch {
	case err == nil:
		status = models.StatusFinished
		detail = result.FinalVideoPath
		err = p.broker.Finish(id, result)
	case ctx.Err() != nil:
		status = models.StatusCancelled
		logger.Printf("generation cancelled")
		err = p.broker.Cancel(id)
	default:
		status = models.StatusFailed
		detail = err.Error()
		logger.Printf("error during video generation: %v", err)
		err = p.broker.Fail(id, err)
	}
	if err != nil {
		log.Printf("job_id=%s settle %s: %v", id, status, err)
	}
	log.Printf("job_id=%s status=%s duration_ms=%d", id, status, time.Since(start).Milliseconds())

	telemetry.InFlightGauge.Dec()
	telemetry.JobsCompleted.WithLabelValues(string(status)).Inc()
	p.record(id, string(status), detail)
}

// execute turns a panic in a stage into a job failure.
func (p *Processor) execute(ctx context.Context, id, prompt string, logger pipeline.Logger) (result *models.VideoData, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.runner.Run(ctx, id, prompt, logger)
}

func (p *Processor) record(id, event, detail string) {
	if p.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.audit.Record(ctx, id, event, detail); err != nil {
		log.Printf("job_id=%s audit %s: %v", id, event, err)
	}
}
