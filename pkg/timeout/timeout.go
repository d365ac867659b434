// Package timeout runs blocking interactive steps under a deadline.
//
// Two strategies implement the same Executor contract. The cooperative
// executor runs the action on a background goroutine and abandons it when the
// deadline passes. The preemptive executor does the same but additionally
// interrupts the blocked read by arming a read deadline on the input, so the
// abandoned worker returns instead of consuming a later line. NewExecutor
// picks the preemptive strategy whenever the input supports read deadlines.
package timeout

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
)

// DefaultTimeout is the deadline applied to every human-input point.
const DefaultTimeout = 300 * time.Second

// ErrTimeout is returned when an action has not produced a result by its deadline.
var ErrTimeout = errors.New("operation timed out")

// Action is a blocking step. It should honor ctx where it can; the executor
// does not rely on it.
type Action func(ctx context.Context) (string, error)

// Executor runs an Action and fails with ErrTimeout if the action has not
// finished within d. The result of an abandoned action is discarded.
type Executor interface {
	Run(ctx context.Context, d time.Duration, action Action) (string, error)
}

type deadlineSetter interface {
	SetReadDeadline(t time.Time) error
}

// NewExecutor selects the strategy supported by the input. Inputs that accept
// read deadlines (pollable files, pipes, network connections) get the
// preemptive executor; everything else, including a blocking terminal, gets
// the cooperative one.
func NewExecutor(in io.Reader) Executor {
	if ds, ok := in.(deadlineSetter); ok && supportsDeadline(ds) {
		return Preemptive(ds)
	}
	return Cooperative()
}

func supportsDeadline(ds deadlineSetter) bool {
	return ds.SetReadDeadline(time.Time{}) == nil
}

type outcome struct {
	value string
	err   error
}

func start(ctx context.Context, action Action) <-chan outcome {
	// buffered so an abandoned worker never blocks on send
	done := make(chan outcome, 1)
	go func() {
		v, err := action(ctx)
		done <- outcome{value: v, err: err}
	}()
	return done
}

func timedOut(d time.Duration) error {
	return errors.Wrapf(ErrTimeout, "no response after %s", d)
}

type cooperativeExecutor struct{}

// Cooperative returns the background-worker executor.
func Cooperative() Executor {
	return cooperativeExecutor{}
}

func (cooperativeExecutor) Run(ctx context.Context, d time.Duration, action Action) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	select {
	case o := <-start(ctx, action):
		return o.value, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", timedOut(d)
		}
		return "", ctx.Err()
	}
}

// joinGrace bounds how long the preemptive executor waits for an interrupted
// worker to exit after the read deadline fired.
const joinGrace = 100 * time.Millisecond

type preemptiveExecutor struct {
	target deadlineSetter
}

// Preemptive returns an executor that interrupts reads on target when the
// deadline passes.
func Preemptive(target deadlineSetter) Executor {
	return &preemptiveExecutor{target: target}
}

func (e *preemptiveExecutor) Run(ctx context.Context, d time.Duration, action Action) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(fired)
		_ = e.target.SetReadDeadline(time.Now())
	})
	defer func() {
		if !stop() {
			<-fired
		}
		_ = e.target.SetReadDeadline(time.Time{})
	}()

	done := start(ctx, action)
	select {
	case o := <-done:
		if errors.Is(o.err, os.ErrDeadlineExceeded) {
			return "", timedOut(d)
		}
		return o.value, o.err
	case <-ctx.Done():
		select {
		case <-done:
		case <-time.After(joinGrace):
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", timedOut(d)
		}
		return "", ctx.Err()
	}
}
