// Package workflow provides a durable, resumable step-workflow engine with
// per-key serialized execution over a bounded worker pool.
package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned by Store implementations for an unknown run ID.
var ErrRunNotFound = errors.New("workflow run not found")

// Trigger is the event payload that starts one workflow run.
type Trigger struct {
	SongID uuid.UUID `json:"song_id"`
	UserID string    `json:"user_id"`
}

// Run status constants.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run is one durable execution of a job for a single trigger.
type Run struct {
	ID          uuid.UUID  `json:"id"`
	Job         string     `json:"job"`
	Trigger     Trigger    `json:"trigger"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// StepRecord is the durable result of one step, keyed by (run, step name).
// Either Output or ErrMessage is set, never both.
type StepRecord struct {
	RunID       uuid.UUID `json:"run_id"`
	Step        string    `json:"step"`
	Output      []byte    `json:"output,omitempty"`
	ErrMessage  *string   `json:"error_message,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Store is the durable backing for runs and their step logs. Implementations
// must support concurrent writers; records for different runs never conflict.
type Store interface {
	CreateRun(ctx context.Context, job string, trig Trigger) (*Run, error)
	GetRun(ctx context.Context, runID uuid.UUID) (*Run, error)
	CompleteRun(ctx context.Context, runID uuid.UUID, status string) error
	ListPendingRuns(ctx context.Context, job string) ([]Run, error)

	GetStep(ctx context.Context, runID uuid.UUID, step string) (*StepRecord, error)
	SaveStep(ctx context.Context, rec *StepRecord) error
}

// Handler executes a job's step sequence for one trigger.
type Handler func(ctx context.Context, ex *Execution, trig Trigger) error

// FailureHook runs exactly once when a handler returns an error the steps did
// not absorb. It is the job's last-resort safety net.
type FailureHook func(ctx context.Context, trig Trigger, err error)

// Job is a named step sequence plus its concurrency and failure policy.
type Job struct {
	Name string

	// Key derives the serialization key from the trigger. Runs sharing a key
	// execute strictly one at a time, FIFO. Nil serializes on UserID.
	Key func(Trigger) string

	Handler   Handler
	OnFailure FailureHook
}

func (j *Job) key(trig Trigger) string {
	if j.Key != nil {
		return j.Key(trig)
	}
	return trig.UserID
}
