package application

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/davarch/regsync/internal/domain"
)

const (
	OutcomeFinished = "finished"
	OutcomeFailed   = "failed"
	OutcomeSkipped  = "skipped"
	OutcomeIdle     = "idle"
	OutcomePolled   = "polled"
)

// Recorder receives sync measurements. A nil Recorder is replaced by a no-op.
type Recorder interface {
	EventHandled(component, outcome string, d time.Duration)
	PayloadsPolled(received, dropped int)
	RecordWritten(op string)
}

type nopRecorder struct{}

func (nopRecorder) EventHandled(string, string, time.Duration) {}
func (nopRecorder) PayloadsPolled(int, int)                    {}
func (nopRecorder) RecordWritten(string)                       {}

func orNop(r Recorder) Recorder {
	if r == nil {
		return nopRecorder{}
	}
	return r
}

type nopStatus struct{}

func (nopStatus) Write(context.Context, domain.Snapshot) error { return nil }

func orNopStatus(s domain.StatusWriter) domain.StatusWriter {
	if s == nil {
		return nopStatus{}
	}
	return s
}

// failure is what a failed event carries as payload.
type failure struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.value) }

// guard runs fn and turns a panic into an error carrying the stack.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return fn()
}

// failurePayload carries a stack only for recovered panics. Plain errors
// already describe their path through the wrapped message.
func failurePayload(err error) failure {
	f := failure{Message: err.Error()}
	var pe *panicError
	if errors.As(err, &pe) {
		f.Stack = string(pe.stack)
	}
	return f
}

// settle writes the terminal status of a processing event. Update errors are
// logged only: the queue redelivers events that never settle.
func settle(ctx context.Context, log *zap.Logger, q domain.EventQueue, ev domain.SyncEvent, project, desc string, err error) {
	upd := domain.EventUpdate{Status: domain.EventFinished, Description: desc, Project: project}
	if err != nil {
		upd.Status = domain.EventFailed
		upd.Payload = failurePayload(err)
	}

	if uerr := q.Update(ctx, ev.ID, upd); uerr != nil {
		log.Warn("event update failed",
			zap.String("event", ev.ID),
			zap.String("status", string(upd.Status)),
			zap.Error(uerr),
		)
	}
}
