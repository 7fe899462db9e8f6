package models

import (
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a generation job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusProgress  JobStatus = "progress"
	StatusFinished  JobStatus = "finished"
	StatusCancelled JobStatus = "cancelled"
	StatusFailed    JobStatus = "failed"
)

// validTransitions maps from-state to allowed to-states. Terminal states absorb.
var validTransitions = map[JobStatus]map[JobStatus]bool{
	StatusPending: {
		StatusProgress: true,
	},
	StatusProgress: {
		StatusFinished:  true,
		StatusCancelled: true,
		StatusFailed:    true,
	},
	StatusFinished:  {},
	StatusCancelled: {},
	StatusFailed:    {},
}

// ValidateTransition reports whether a job may move from one status to another.
func ValidateTransition(from, to JobStatus) error {
	allowed, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("unknown source state: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminal is true for finished, cancelled and failed.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusFinished, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// Event is one message on a job's progress stream.
type Event struct {
	Message   string     `json:"message,omitempty"`
	Status    JobStatus  `json:"status"`
	VideoData *VideoData `json:"videoData,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Terminal is true when the event closes the stream.
func (e Event) Terminal() bool { return e.Status.IsTerminal() }

// VideoData is the result reported when a job finishes.
type VideoData struct {
	FinalVideoPath string      `json:"finalVideoPath"`
	OutputDir      string      `json:"outputDir"`
	JSONData       *ScriptPlan `json:"jsonData"`
	RemoteURL      string      `json:"remoteURL,omitempty"`
}

// JobSnapshot is a read-only view of a job held by the broker.
type JobSnapshot struct {
	ID          string     `json:"id"`
	Prompt      string     `json:"prompt,omitempty"`
	Status      JobStatus  `json:"status"`
	Logs        []string   `json:"logs"`
	Observers   int        `json:"observers"`
	Cancelling  bool       `json:"cancelling"`
	Result      *VideoData `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// AuditLog is a simple audit event row.
type AuditLog struct {
	JobID    string    `json:"job_id"`
	Event    string    `json:"event"`
	Detail   string    `json:"detail"`
	Recorded time.Time `json:"recorded_at"`
}
