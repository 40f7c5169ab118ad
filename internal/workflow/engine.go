package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Engine executes registered jobs against a durable step store. It holds an
// explicit job table; construct one at process start and pass it by reference
// to whatever dispatches triggers.
type Engine struct {
	store   Store
	limiter *KeyedLimiter
	logger  *log.Logger

	mu   sync.RWMutex
	jobs map[string]*Job
}

// New creates an engine over the given store and limiter.
func New(store Store, limiter *KeyedLimiter, logger *log.Logger) *Engine {
	return &Engine{
		store:   store,
		limiter: limiter,
		logger:  logger,
		jobs:    make(map[string]*Job),
	}
}

// Register adds a job definition. Registering two jobs with the same name is
// a programming error.
func (e *Engine) Register(job *Job) error {
	if job == nil || job.Name == "" || job.Handler == nil {
		return fmt.Errorf("job requires a name and a handler")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.jobs[job.Name]; exists {
		return fmt.Errorf("job already registered: %s", job.Name)
	}
	e.jobs[job.Name] = job
	return nil
}

func (e *Engine) job(name string) (*Job, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	job, ok := e.jobs[name]
	if !ok {
		return nil, fmt.Errorf("no job registered for trigger: %s", name)
	}
	return job, nil
}

// Dispatch creates a durable run for the trigger and submits it for
// execution. It returns immediately with a handle; completion is observed via
// the handle or by reading the store. The run outlives the caller's context.
func (e *Engine) Dispatch(ctx context.Context, jobName string, trig Trigger) (*Handle, error) {
	job, err := e.job(jobName)
	if err != nil {
		return nil, err
	}

	run, err := e.store.CreateRun(ctx, jobName, trig)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow run: %w", err)
	}

	return e.submit(context.WithoutCancel(ctx), job, run), nil
}

// Resume re-enters an existing run. Steps already in the log are skipped, so
// the run picks up at the first unlogged step.
func (e *Engine) Resume(ctx context.Context, runID uuid.UUID) (*Handle, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	job, err := e.job(run.Job)
	if err != nil {
		return nil, err
	}
	return e.submit(context.WithoutCancel(ctx), job, run), nil
}

// ResumePending re-dispatches every non-terminal run of the named job. Call
// it once at startup to pick up runs interrupted by a crash.
func (e *Engine) ResumePending(ctx context.Context, jobName string) ([]*Handle, error) {
	job, err := e.job(jobName)
	if err != nil {
		return nil, err
	}
	runs, err := e.store.ListPendingRuns(ctx, jobName)
	if err != nil {
		return nil, err
	}

	handles := make([]*Handle, 0, len(runs))
	for i := range runs {
		run := runs[i]
		e.logger.Info("resuming interrupted run", "job", jobName, "run_id", run.ID)
		handles = append(handles, e.submit(context.WithoutCancel(ctx), job, &run))
	}
	return handles, nil
}

func (e *Engine) submit(ctx context.Context, job *Job, run *Run) *Handle {
	handle := e.limiter.Submit(job.key(run.Trigger), func() error {
		return e.execute(ctx, job, run)
	})
	handle.RunID = run.ID
	return handle
}

// execute runs the handler and settles the run. Handler errors invoke the
// job's OnFailure hook exactly once before the run is marked failed.
func (e *Engine) execute(ctx context.Context, job *Job, run *Run) (err error) {
	logger := e.logger.With("job", job.Name, "run_id", run.ID)
	ex := &Execution{engine: e, RunID: run.ID, Logger: logger}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panic: %v", r)
		}
		if err != nil {
			logger.Error("run failed", "error", err)
			if job.OnFailure != nil {
				job.OnFailure(ctx, run.Trigger, err)
			}
			if cerr := e.store.CompleteRun(ctx, run.ID, RunStatusFailed); cerr != nil {
				logger.Error("failed to settle run", "error", cerr)
			}
			return
		}
		if cerr := e.store.CompleteRun(ctx, run.ID, RunStatusCompleted); cerr != nil {
			logger.Error("failed to settle run", "error", cerr)
		}
	}()

	logger.Debug("run started", "key", job.key(run.Trigger))
	err = job.Handler(ctx, ex, run.Trigger)
	return err
}

// Execution is the per-run context handed to step calls. The engine owns the
// step log for the run; handlers touch durable state only through steps.
type Execution struct {
	engine *Engine
	RunID  uuid.UUID
	Logger *log.Logger
}
