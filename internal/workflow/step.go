package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// StepError wraps a failure recorded against a named step. Replayed is true
// when the error came from the step log rather than a fresh invocation.
type StepError struct {
	Step     string
	Message  string
	Replayed bool
	Cause    error
}

func (e *StepError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("step %s: %s: %v", e.Step, e.Message, e.Cause)
	}
	return fmt.Sprintf("step %s: %s", e.Step, e.Message)
}

func (e *StepError) Unwrap() error {
	return e.Cause
}

// Step executes fn at most effectively once per (run, name). A logged result
// is returned without re-invoking fn; otherwise fn runs and its outcome,
// success value or error, is durably recorded before control returns. The
// record write happens on every exit path, so resumption never depends on
// in-process state.
func Step[T any](ctx context.Context, ex *Execution, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T

	rec, err := ex.engine.store.GetStep(ctx, ex.RunID, name)
	if err != nil {
		return out, &StepError{Step: name, Message: "failed to read step log", Cause: err}
	}
	if rec != nil {
		if rec.ErrMessage != nil {
			return out, &StepError{Step: name, Message: *rec.ErrMessage, Replayed: true}
		}
		if err := json.Unmarshal(rec.Output, &out); err != nil {
			return out, &StepError{Step: name, Message: "failed to decode logged output", Cause: err}
		}
		ex.Logger.Debug("step replayed from log", "step", name)
		return out, nil
	}

	out, fnErr := fn(ctx)

	rec = &StepRecord{RunID: ex.RunID, Step: name, CompletedAt: time.Now().UTC()}
	if fnErr != nil {
		msg := fnErr.Error()
		rec.ErrMessage = &msg
	} else {
		encoded, err := json.Marshal(out)
		if err != nil {
			return out, &StepError{Step: name, Message: "failed to encode output", Cause: err}
		}
		rec.Output = encoded
	}

	if err := ex.engine.store.SaveStep(ctx, rec); err != nil {
		return out, &StepError{Step: name, Message: "failed to write step log", Cause: err}
	}

	if fnErr != nil {
		return out, &StepError{Step: name, Message: fnErr.Error(), Cause: fnErr}
	}
	ex.Logger.Debug("step completed", "step", name)
	return out, nil
}

// FetchOutcome is the recorded result of one outbound network call. A non-2xx
// status, transport error, or unreadable body sets OK false; callers branch
// on it as data instead of handling an error. Body holds the raw response
// bytes verbatim, whatever the upstream sent, so the outcome always encodes
// into the step log.
type FetchOutcome struct {
	OK         bool   `json:"ok"`
	StatusCode int    `json:"status_code,omitempty"`
	Body       []byte `json:"body,omitempty"`
}

// Fetch is the step variant for a single outbound network call. fn cannot
// fail: whatever happened on the wire is carried in the outcome, and the raw
// outcome is what gets logged.
func Fetch(ctx context.Context, ex *Execution, name string, fn func(ctx context.Context) FetchOutcome) (FetchOutcome, error) {
	return Step(ctx, ex, name, func(ctx context.Context) (FetchOutcome, error) {
		return fn(ctx), nil
	})
}
