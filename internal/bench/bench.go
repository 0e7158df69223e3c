// Package bench runs the fan-out workload used to check a Dispatcher under
// load: N parallel incrementers on one condition and N sequential
// decrementers on another.
package bench

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/intertalk/internal/dispatch"
	"github.com/mattjoyce/intertalk/internal/log"
)

const (
	// ConditionParallel is incremented by every subscriber concurrently.
	ConditionParallel = "a"
	// ConditionSequential is decremented by every subscriber in id order.
	ConditionSequential = "b"
)

// Errors returned by Run when a check on the dispatcher fails.
var (
	// ErrLostUpdates means the parallel counter missed increments.
	ErrLostUpdates = errors.New("lost updates")
	// ErrOutOfOrder means sequential subscribers ran out of id order.
	ErrOutOfOrder = errors.New("sequential dispatch out of order")
	// ErrMessageMismatch means ReadSafetyBox did not return the invoked message.
	ErrMessageMismatch = errors.New("safety box message mismatch")
	// ErrNotDispatched means Invoke reported the condition as unknown.
	ErrNotDispatched = errors.New("condition not dispatched")
)

// Options sizes a run.
type Options struct {
	Depth       int
	Subscribers int
	InitialB    int64
}

// Report is the outcome of one run.
type Report struct {
	Depth       int           `json:"depth"`
	Subscribers int           `json:"subscribers"`
	Counter     int64         `json:"counter"`
	B           int64         `json:"b"`
	Register    time.Duration `json:"register_ns"`
	Parallel    time.Duration `json:"parallel_ns"`
	Sequential  time.Duration `json:"sequential_ns"`
}

// Run resets both conditions, subscribes the workload, invokes it and checks
// the results. The subscriptions are dropped again before Run returns.
func Run(ctx context.Context, d *dispatch.Dispatcher, opts Options) (*Report, error) {
	if opts.Subscribers <= 0 {
		return nil, fmt.Errorf("subscribers must be positive, got %d", opts.Subscribers)
	}
	depth := opts.Depth
	n := opts.Subscribers

	d.ResetCondition(depth, ConditionParallel)
	d.ResetCondition(depth, ConditionSequential)
	defer func() {
		d.ResetCondition(depth, ConditionParallel)
		d.ResetCondition(depth, ConditionSequential)
	}()

	var counter atomic.Int64
	b := opts.InitialB
	order := make([]int, 0, n)
	message := fmt.Sprintf("bench-%d", time.Now().UnixNano())
	var boxErr error

	increment := func(ctx context.Context, args []any) error {
		counter.Add(1)
		return nil
	}
	decrement := func(ctx context.Context, args []any) error {
		idx := args[0].(int)
		if idx == 0 {
			if got, ok := d.ReadSafetyBox(depth, ConditionSequential); !ok || got != message {
				boxErr = fmt.Errorf("%w: got %v", ErrMessageMismatch, got)
			}
		}
		b--
		order = append(order, idx)
		return nil
	}

	start := time.Now()
	for i := range n {
		if _, err := d.Register(depth, ConditionParallel, increment, i); err != nil {
			return nil, fmt.Errorf("register %s/%d: %w", ConditionParallel, i, err)
		}
		if _, err := d.Register(depth, ConditionSequential, decrement, i); err != nil {
			return nil, fmt.Errorf("register %s/%d: %w", ConditionSequential, i, err)
		}
	}
	report := &Report{Depth: depth, Subscribers: n, Register: time.Since(start)}

	logger := log.WithCondition(depth, ConditionParallel)
	start = time.Now()
	ok, err := d.Invoke(ctx, depth, ConditionParallel, message, dispatch.Parallel)
	report.Parallel = time.Since(start)
	if err != nil {
		return report, err
	}
	if !ok {
		return report, fmt.Errorf("%w: %s", ErrNotDispatched, ConditionParallel)
	}
	report.Counter = counter.Load()
	logger.Debug("parallel pass complete", "counter", report.Counter, "duration", report.Parallel)
	if report.Counter != int64(n) {
		return report, fmt.Errorf("%w: counter=%d want %d", ErrLostUpdates, report.Counter, n)
	}

	logger = log.WithCondition(depth, ConditionSequential)
	start = time.Now()
	ok, err = d.Invoke(ctx, depth, ConditionSequential, message, dispatch.Sequential)
	report.Sequential = time.Since(start)
	if err != nil {
		return report, err
	}
	if !ok {
		return report, fmt.Errorf("%w: %s", ErrNotDispatched, ConditionSequential)
	}
	report.B = b
	logger.Debug("sequential pass complete", "b", report.B, "duration", report.Sequential)

	if boxErr != nil {
		return report, boxErr
	}
	if want := opts.InitialB - int64(n); report.B != want {
		return report, fmt.Errorf("%w: b=%d want %d", ErrLostUpdates, report.B, want)
	}
	if len(order) != n {
		return report, fmt.Errorf("%w: %d of %d subscribers ran", ErrOutOfOrder, len(order), n)
	}
	for i, idx := range order {
		if idx != i {
			return report, fmt.Errorf("%w: position %d ran subscriber %d", ErrOutOfOrder, i, idx)
		}
	}

	return report, nil
}
