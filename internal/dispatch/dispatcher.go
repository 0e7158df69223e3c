package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/intertalk/internal/log"
	"github.com/mattjoyce/intertalk/internal/registry"
)

// ErrNilHandler is returned by Register when no handler is given.
var ErrNilHandler = errors.New("nil handler")

// Handler is a subscriber callback. args are the values bound at Register time.
type Handler func(ctx context.Context, args []any) error

// Mode selects how Invoke runs the subscribers of a condition.
type Mode int

const (
	// Sequential runs subscribers one at a time in ascending id order.
	Sequential Mode = iota
	// Parallel runs subscribers concurrently on the worker pool.
	Parallel
)

func (m Mode) String() string {
	switch m {
	case Sequential:
		return "sequential"
	case Parallel:
		return "parallel"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// CallbackError wraps the error returned by one subscriber.
type CallbackError struct {
	Depth     int
	Condition string
	ID        int
	Err       error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("subscriber %d on depth %d condition %q: %v", e.ID, e.Depth, e.Condition, e.Err)
}

func (e *CallbackError) Unwrap() error { return e.Err }

type subscription struct {
	handler Handler
	args    []any
}

type key struct {
	depth     int
	condition string
}

// Options configures a Dispatcher. Zero values are usable.
type Options struct {
	// Workers bounds parallel dispatch. Zero means runtime.GOMAXPROCS(0).
	Workers  int
	Events   Publisher
	Recorder Recorder
	Logger   *slog.Logger
}

// Dispatcher is the registry and invocation engine.
type Dispatcher struct {
	mu       sync.Mutex
	reg      *registry.Registry[subscription]
	inFlight map[key]int
	pending  []resetRequest

	workers  int
	events   Publisher
	recorder Recorder
	logger   *slog.Logger
}

// Snapshot is a point-in-time view of a Dispatcher.
type Snapshot struct {
	Layers        int                       `json:"layers"`
	Conditions    []registry.ConditionStats `json:"conditions"`
	InFlight      int                       `json:"in_flight"`
	PendingResets int                       `json:"pending_resets"`
}

// New creates an empty Dispatcher.
func New(opts Options) *Dispatcher {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithComponent("dispatch")
	}
	return &Dispatcher{
		reg:      registry.New[subscription](),
		inFlight: make(map[key]int),
		workers:  workers,
		events:   opts.Events,
		recorder: opts.Recorder,
		logger:   logger,
	}
}

// Register subscribes h to (depth, condition) with args bound to every call.
// It returns the slot id, reusing the lowest unregistered id first.
func (d *Dispatcher) Register(depth int, condition string, h Handler, args ...any) (int, error) {
	if h == nil {
		return 0, ErrNilHandler
	}
	sub := subscription{handler: h, args: slices.Clone(args)}

	d.mu.Lock()
	id, err := d.reg.Register(depth, condition, sub)
	d.mu.Unlock()
	if err != nil {
		return 0, err
	}

	d.logger.Debug("subscription registered", "depth", depth, "condition", condition, "id", id)
	d.publish(EventRegistered, subscriptionEvent{Depth: depth, Condition: condition, ID: id})
	return id, nil
}

// Unregister removes subscription id from (depth, condition). Other ids are unaffected.
func (d *Dispatcher) Unregister(depth int, condition string, id int) error {
	d.mu.Lock()
	err := d.reg.Unregister(depth, condition, id)
	d.mu.Unlock()
	if err != nil {
		return fmt.Errorf("unregister: %w", err)
	}

	d.logger.Debug("subscription unregistered", "depth", depth, "condition", condition, "id", id)
	d.publish(EventUnregistered, subscriptionEvent{Depth: depth, Condition: condition, ID: id})
	return nil
}

// GetRegistered returns the number of slots of (depth, condition), including
// unregistered ones that have not been reused yet.
func (d *Dispatcher) GetRegistered(depth int, condition string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reg.Len(depth, condition)
}

// ReadSafetyBox returns the message of the active Invoke of (depth, condition).
// ok is false when no such Invoke is running.
func (d *Dispatcher) ReadSafetyBox(depth int, condition string) (any, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reg.Message(depth, condition)
}

// Reset discards every layer.
func (d *Dispatcher) Reset() {
	d.submitReset(resetRequest{scope: scopeAll})
}

// ResetLayer empties every condition at depth.
func (d *Dispatcher) ResetLayer(depth int) {
	d.submitReset(resetRequest{scope: scopeLayer, depth: depth})
}

// ResetCondition drops every subscription of (depth, condition).
func (d *Dispatcher) ResetCondition(depth int, condition string) {
	d.submitReset(resetRequest{scope: scopeCondition, depth: depth, condition: condition})
}

// Snapshot returns the current layer, condition and queue state.
func (d *Dispatcher) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	inFlight := 0
	for _, n := range d.inFlight {
		inFlight += n
	}
	return Snapshot{
		Layers:        d.reg.Layers(),
		Conditions:    d.reg.Stats(),
		InFlight:      inFlight,
		PendingResets: len(d.pending),
	}
}

// Invoke triggers (depth, condition) with message and waits for every live
// subscriber to return. ok is false when the condition is not registered at
// depth; err carries the first subscriber failure. If ctx is already done
// nothing is attempted and Invoke returns false with ctx.Err(), so callers
// must check err before reading !ok as an unknown condition.
//
// A subscriber panic, in either mode, releases the invocation and is then
// re-raised on the caller's goroutine.
func (d *Dispatcher) Invoke(ctx context.Context, depth int, condition string, message any, mode Mode) (ok bool, err error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	k := key{depth, condition}

	d.mu.Lock()
	if !d.reg.Known(depth, condition) {
		d.mu.Unlock()
		d.logger.Debug("invoke on unknown condition", "depth", depth, "condition", condition)
		return false, nil
	}
	d.inFlight[k]++
	d.reg.PushMessage(depth, condition, message)
	subs := d.reg.Live(depth, condition)
	d.mu.Unlock()

	inv := Invocation{
		ID:         uuid.NewString(),
		Depth:      depth,
		Condition:  condition,
		Mode:       mode,
		Dispatched: len(subs),
		StartedAt:  time.Now().UTC(),
	}

	defer func() {
		inv.Duration = time.Since(inv.StartedAt)
		inv.Err = err
		if r := recover(); r != nil {
			inv.Err = fmt.Errorf("subscriber panic: %v", r)
			d.finish(ctx, k, inv)
			panic(r)
		}
		d.finish(ctx, k, inv)
	}()

	if mode == Parallel {
		return true, d.runParallel(ctx, k, subs)
	}
	return true, d.runSequential(ctx, k, subs)
}

func (d *Dispatcher) runSequential(ctx context.Context, k key, subs []registry.Entry[subscription]) error {
	for _, s := range subs {
		if err := s.Value.handler(ctx, s.Value.args); err != nil {
			return &CallbackError{Depth: k.depth, Condition: k.condition, ID: s.ID, Err: err}
		}
	}
	return nil
}

// runParallel waits for every subscriber. A panic on a worker is carried
// back and re-raised on the calling goroutine once the group has drained.
func (d *Dispatcher) runParallel(ctx context.Context, k key, subs []registry.Entry[subscription]) error {
	var (
		g         errgroup.Group
		panicOnce sync.Once
		panicked  any
	)
	g.SetLimit(d.workers)
	for _, s := range subs {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					panicOnce.Do(func() { panicked = r })
				}
			}()
			if err := s.Value.handler(ctx, s.Value.args); err != nil {
				return &CallbackError{Depth: k.depth, Condition: k.condition, ID: s.ID, Err: err}
			}
			return nil
		})
	}
	err := g.Wait()
	if panicked != nil {
		panic(panicked)
	}
	return err
}

// finish closes the safety box, releases the in-flight mark and replays the
// resets that were waiting on it.
func (d *Dispatcher) finish(ctx context.Context, k key, inv Invocation) {
	d.mu.Lock()
	d.reg.PopMessage(k.depth, k.condition)
	if d.inFlight[k]--; d.inFlight[k] <= 0 {
		delete(d.inFlight, k)
	}
	applied := d.drainLocked()
	d.mu.Unlock()

	for _, req := range applied {
		d.logger.Info("deferred reset applied", "scope", req.scope.String(), "depth", req.depth, "condition", req.condition)
		d.publish(EventResetApplied, req.event())
	}

	ev := invocationEvent{
		InvocationID: inv.ID,
		Depth:        inv.Depth,
		Condition:    inv.Condition,
		Mode:         inv.Mode.String(),
		Dispatched:   inv.Dispatched,
		DurationUS:   inv.Duration.Microseconds(),
	}
	if inv.Err != nil {
		ev.Error = inv.Err.Error()
		d.logger.Error("invocation failed", "invocation_id", inv.ID, "depth", inv.Depth, "condition", inv.Condition, "error", inv.Err)
		d.publish(EventFailed, ev)
	} else {
		d.logger.Debug("invocation completed", "invocation_id", inv.ID, "depth", inv.Depth, "condition", inv.Condition,
			"mode", inv.Mode.String(), "dispatched", inv.Dispatched, "duration", inv.Duration)
		d.publish(EventInvoked, ev)
	}

	if d.recorder != nil {
		if err := d.recorder.RecordInvocation(context.WithoutCancel(ctx), inv); err != nil {
			d.logger.Warn("failed to record invocation", "invocation_id", inv.ID, "error", err)
		}
	}
}

func (d *Dispatcher) publish(eventType string, data any) {
	if d.events != nil {
		d.events.Publish(eventType, data)
	}
}
