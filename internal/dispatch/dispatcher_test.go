package dispatch

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mattjoyce/intertalk/internal/log"
	"github.com/mattjoyce/intertalk/internal/registry"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json") // Suppress logs in tests
	os.Exit(m.Run())
}

type capturePublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *capturePublisher) Publish(eventType string, _ any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
}

func (p *capturePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

func TestInvokeSequentialOrderAndBoundArgs(t *testing.T) {
	t.Parallel()

	d := New(Options{})
	var got []string
	h := func(_ context.Context, args []any) error {
		got = append(got, args[0].(string))
		return nil
	}
	for _, name := range []string{"first", "second", "third"} {
		if _, err := d.Register(0, "tick", h, name); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}

	ok, err := d.Invoke(context.Background(), 0, "tick", nil, Sequential)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !ok {
		t.Fatalf("Invoke returned false for a registered condition")
	}
	assert.Equal(t, []string{"first", "second", "third"}, got)
}

func TestBoundArgsAreCopied(t *testing.T) {
	t.Parallel()

	d := New(Options{})
	args := []any{"before"}
	var seen any
	_, err := d.Register(0, "tick", func(_ context.Context, a []any) error {
		seen = a[0]
		return nil
	}, args...)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	args[0] = "after"

	if _, err := d.Invoke(context.Background(), 0, "tick", nil, Sequential); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	assert.Equal(t, "before", seen)
}

func TestRegisterNilHandler(t *testing.T) {
	t.Parallel()

	d := New(Options{})
	if _, err := d.Register(0, "tick", nil); !errors.Is(err, ErrNilHandler) {
		t.Fatalf("err = %v, want ErrNilHandler", err)
	}
	assert.Equal(t, 0, d.GetRegistered(0, "tick"))
}

func TestUnregisterSkipsAndReusesID(t *testing.T) {
	t.Parallel()

	d := New(Options{})
	calls := make([]int, 3)
	for i := range calls {
		id, err := d.Register(0, "a", func(_ context.Context, args []any) error {
			calls[args[0].(int)]++
			return nil
		}, i)
		if err != nil {
			t.Fatalf("Register: %v", err)
		}
		assert.Equal(t, i, id)
	}

	if err := d.Unregister(0, "a", 1); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	assert.Equal(t, 3, d.GetRegistered(0, "a"), "slot count includes the tombstone")

	if _, err := d.Invoke(context.Background(), 0, "a", nil, Sequential); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	assert.Equal(t, []int{1, 0, 1}, calls)

	id, err := d.Register(0, "a", func(context.Context, []any) error { return nil })
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	assert.Equal(t, 1, id, "tombstoned id is reused before appending")
	assert.Equal(t, 3, d.GetRegistered(0, "a"))
}

func TestUnregisterUnknownIDFails(t *testing.T) {
	t.Parallel()

	d := New(Options{})
	if err := d.Unregister(0, "a", 0); !errors.Is(err, registry.ErrOutOfRange) {
		t.Fatalf("err = %v, want ErrOutOfRange", err)
	}
	_, _ = d.Register(0, "a", func(context.Context, []any) error { return nil })
	if err := d.Unregister(0, "a", 4); !errors.Is(err, registry.ErrOutOfRange) {
		t.Fatalf("err = %v, want ErrOutOfRange", err)
	}
}

func TestUnknownTargets(t *testing.T) {
	t.Parallel()

	d := New(Options{})
	assert.Equal(t, 0, d.GetRegistered(0, "nope"))
	assert.Equal(t, 0, d.GetRegistered(12, "nope"))

	ok, err := d.Invoke(context.Background(), 0, "nope", "msg", Sequential)
	assert.NoError(t, err)
	assert.False(t, ok)

	_, _ = d.Register(0, "a", func(context.Context, []any) error { return nil })
	ok, err = d.Invoke(context.Background(), 3, "a", nil, Parallel)
	assert.NoError(t, err)
	assert.False(t, ok, "depth beyond allocated layers")

	ok, err = d.Invoke(context.Background(), -1, "a", nil, Sequential)
	assert.NoError(t, err)
	assert.False(t, ok)

	d.ResetCondition(5, "nope")
	d.ResetLayer(5)
}

func TestSafetyBoxOnlyDuringInvoke(t *testing.T) {
	t.Parallel()

	d := New(Options{})
	var (
		inside   any
		insideOK bool
	)
	_, err := d.Register(2, "door", func(context.Context, []any) error {
		inside, insideOK = d.ReadSafetyBox(2, "door")
		return nil
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, ok := d.ReadSafetyBox(2, "door"); ok {
		t.Fatalf("safety box set before Invoke")
	}
	if _, err := d.Invoke(context.Background(), 2, "door", "opened", Sequential); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	assert.True(t, insideOK)
	assert.Equal(t, "opened", inside)

	if _, ok := d.ReadSafetyBox(2, "door"); ok {
		t.Fatalf("safety box still set after Invoke")
	}
}

func TestSafetyBoxIsPerCondition(t *testing.T) {
	t.Parallel()

	d := New(Options{})
	var otherOK bool
	_, _ = d.Register(0, "other", func(context.Context, []any) error { return nil })
	_, _ = d.Register(0, "a", func(context.Context, []any) error {
		_, otherOK = d.ReadSafetyBox(0, "other")
		return nil
	})

	if _, err := d.Invoke(context.Background(), 0, "a", "msg", Sequential); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	assert.False(t, otherOK)
}

func TestNestedInvokeRestoresOuterMessage(t *testing.T) {
	t.Parallel()

	d := New(Options{})
	var seen []any
	depthReached := 0
	_, err := d.Register(0, "echo", func(ctx context.Context, _ []any) error {
		msg, _ := d.ReadSafetyBox(0, "echo")
		seen = append(seen, msg)
		if depthReached == 0 {
			depthReached++
			if _, err := d.Invoke(ctx, 0, "echo", "inner", Sequential); err != nil {
				return err
			}
			msg, _ = d.ReadSafetyBox(0, "echo")
			seen = append(seen, msg)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := d.Invoke(context.Background(), 0, "echo", "outer", Sequential); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	assert.Equal(t, []any{"outer", "inner", "outer"}, seen)
}

func TestResetFromOwnCallbackIsDeferred(t *testing.T) {
	t.Parallel()

	pub := &capturePublisher{}
	d := New(Options{Events: pub})
	var calls int
	_, _ = d.Register(0, "a", func(context.Context, []any) error {
		calls++
		d.ResetCondition(0, "a")
		return nil
	})
	_, _ = d.Register(0, "a", func(context.Context, []any) error {
		calls++
		assert.Equal(t, 2, d.GetRegistered(0, "a"), "reset must not apply mid-iteration")
		return nil
	})

	ok, err := d.Invoke(context.Background(), 0, "a", nil, Sequential)
	if err != nil || !ok {
		t.Fatalf("Invoke = %v, %v", ok, err)
	}
	assert.Equal(t, 2, calls)
	assert.Equal(t, 0, d.GetRegistered(0, "a"))
	assert.Equal(t, 0, d.Snapshot().PendingResets)

	calls = 0
	ok, err = d.Invoke(context.Background(), 0, "a", nil, Sequential)
	assert.NoError(t, err)
	assert.True(t, ok, "condition stays known after a condition reset")
	assert.Equal(t, 0, calls)

	assert.Contains(t, pub.types(), EventResetDefer)
	assert.Contains(t, pub.types(), EventResetApplied)
}

func TestResetDeferralIsScoped(t *testing.T) {
	t.Parallel()

	d := New(Options{})
	_, _ = d.Register(0, "busy", func(context.Context, []any) error { return nil })
	_, _ = d.Register(0, "idle", func(context.Context, []any) error { return nil })
	_, _ = d.Register(1, "far", func(context.Context, []any) error { return nil })

	var idleDuring, farDuring, busyDuring int
	_, _ = d.Register(0, "busy", func(context.Context, []any) error {
		d.ResetCondition(0, "idle")
		d.ResetLayer(1)
		d.ResetLayer(0)
		idleDuring = d.GetRegistered(0, "idle")
		farDuring = d.GetRegistered(1, "far")
		busyDuring = d.GetRegistered(0, "busy")
		return nil
	})

	if _, err := d.Invoke(context.Background(), 0, "busy", nil, Sequential); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	assert.Equal(t, 0, idleDuring, "unrelated condition reset applies immediately")
	assert.Equal(t, 0, farDuring, "other layer reset applies immediately")
	assert.Equal(t, 2, busyDuring, "own layer reset waits")

	ok, _ := d.Invoke(context.Background(), 0, "busy", nil, Sequential)
	assert.False(t, ok, "layer reset removed the condition after Invoke returned")
}

func TestFullResetDeferredUntilInvokeReturns(t *testing.T) {
	t.Parallel()

	d := New(Options{})
	var during int
	_, _ = d.Register(3, "a", func(context.Context, []any) error {
		d.Reset()
		during = d.Snapshot().Layers
		return nil
	})

	if _, err := d.Invoke(context.Background(), 3, "a", nil, Sequential); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	assert.Equal(t, 4, during)
	assert.Equal(t, 0, d.Snapshot().Layers)
}

func TestResetAppliesImmediatelyWhenIdle(t *testing.T) {
	t.Parallel()

	d := New(Options{})
	_, _ = d.Register(0, "a", func(context.Context, []any) error { return nil })
	_, _ = d.Register(1, "b", func(context.Context, []any) error { return nil })

	d.ResetCondition(0, "a")
	assert.Equal(t, 0, d.GetRegistered(0, "a"))
	d.Reset()
	assert.Equal(t, 0, d.GetRegistered(1, "b"))
	ok, _ := d.Invoke(context.Background(), 1, "b", nil, Sequential)
	assert.False(t, ok)
}

func TestDeferredResetsReplayInSubmitOrder(t *testing.T) {
	t.Parallel()

	d := New(Options{})
	_, _ = d.Register(0, "a", func(context.Context, []any) error {
		d.ResetCondition(0, "a")
		return nil
	})
	_, _ = d.Register(0, "a", func(context.Context, []any) error {
		assert.Equal(t, 1, d.Snapshot().PendingResets)
		return nil
	})

	if _, err := d.Invoke(context.Background(), 0, "a", nil, Sequential); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	// A registration made after the reset landed survives.
	id, err := d.Register(0, "a", func(context.Context, []any) error { return nil })
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	assert.Equal(t, 0, id)
	assert.Equal(t, 1, d.GetRegistered(0, "a"))
}

func TestSequentialErrorAbortsRemaining(t *testing.T) {
	t.Parallel()

	d := New(Options{})
	boom := errors.New("boom")
	var ran []int
	for i := 0; i < 4; i++ {
		_, _ = d.Register(0, "a", func(_ context.Context, args []any) error {
			ran = append(ran, args[0].(int))
			if args[0].(int) == 1 {
				return boom
			}
			return nil
		}, i)
	}

	ok, err := d.Invoke(context.Background(), 0, "a", "m", Sequential)
	assert.True(t, ok)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	var cbErr *CallbackError
	if !errors.As(err, &cbErr) {
		t.Fatalf("err is not a *CallbackError: %T", err)
	}
	assert.Equal(t, 1, cbErr.ID)
	assert.Equal(t, "a", cbErr.Condition)
	assert.Equal(t, []int{0, 1}, ran)

	if _, ok := d.ReadSafetyBox(0, "a"); ok {
		t.Fatalf("safety box not cleared after failed Invoke")
	}
	assert.Equal(t, 0, d.Snapshot().InFlight)
}

func TestParallelErrorSurfaces(t *testing.T) {
	t.Parallel()

	d := New(Options{Workers: 4})
	boom := errors.New("boom")
	var ran atomic.Int64
	for i := 0; i < 50; i++ {
		_, _ = d.Register(0, "a", func(_ context.Context, args []any) error {
			ran.Add(1)
			if args[0].(int)%10 == 0 {
				return boom
			}
			return nil
		}, i)
	}

	ok, err := d.Invoke(context.Background(), 0, "a", nil, Parallel)
	assert.True(t, ok)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	assert.Equal(t, int64(50), ran.Load(), "every dispatched subscriber runs")
}

func TestParallelNoLostUpdates(t *testing.T) {
	t.Parallel()

	d := New(Options{})
	var counter atomic.Int64
	for i := 0; i < 10000; i++ {
		if _, err := d.Register(0, "a", func(context.Context, []any) error {
			counter.Add(1)
			return nil
		}); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	ok, err := d.Invoke(context.Background(), 0, "a", nil, Parallel)
	if err != nil || !ok {
		t.Fatalf("Invoke = %v, %v", ok, err)
	}
	assert.Equal(t, int64(10000), counter.Load())
}

func TestSequentialDecrementScenario(t *testing.T) {
	t.Parallel()

	d := New(Options{})
	b := 10000000
	last := -1
	inOrder := true
	for i := 0; i < 10000; i++ {
		if _, err := d.Register(0, "b", func(_ context.Context, args []any) error {
			idx := args[0].(int)
			if idx <= last {
				inOrder = false
			}
			last = idx
			b--
			return nil
		}, i); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	if _, err := d.Invoke(context.Background(), 0, "b", nil, Sequential); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	assert.Equal(t, 9990000, b)
	assert.True(t, inOrder)
}

func TestRegisterDuringInvokeUsesSnapshot(t *testing.T) {
	t.Parallel()

	d := New(Options{})
	var added, calls int
	_, _ = d.Register(0, "a", func(context.Context, []any) error {
		calls++
		if added == 0 {
			added++
			_, _ = d.Register(0, "a", func(context.Context, []any) error {
				calls++
				return nil
			})
		}
		return nil
	})

	if _, err := d.Invoke(context.Background(), 0, "a", nil, Sequential); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	assert.Equal(t, 1, calls, "subscriber added mid-pass waits for the next Invoke")

	calls = 0
	if _, err := d.Invoke(context.Background(), 0, "a", nil, Sequential); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	assert.Equal(t, 2, calls)
}

func TestInvokeCancelledContext(t *testing.T) {
	t.Parallel()

	d := New(Options{})
	calls := 0
	_, _ = d.Register(0, "a", func(context.Context, []any) error {
		calls++
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok, err := d.Invoke(ctx, 0, "a", nil, Sequential)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, d.Snapshot().InFlight)

	// Not attempted is told apart from unknown by err.
	ok, err = d.Invoke(context.Background(), 0, "missing", nil, Sequential)
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestPanicReleasesInvocation(t *testing.T) {
	t.Parallel()

	d := New(Options{})
	_, _ = d.Register(0, "a", func(context.Context, []any) error {
		d.ResetCondition(0, "a")
		panic("kaboom")
	})

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Fatalf("expected panic to propagate")
			}
		}()
		_, _ = d.Invoke(context.Background(), 0, "a", "m", Sequential)
	}()

	snap := d.Snapshot()
	assert.Equal(t, 0, snap.InFlight)
	assert.Equal(t, 0, snap.PendingResets)
	assert.Equal(t, 0, d.GetRegistered(0, "a"))
	if _, ok := d.ReadSafetyBox(0, "a"); ok {
		t.Fatalf("safety box not cleared after panic")
	}
}

func TestParallelPanicReachesCaller(t *testing.T) {
	t.Parallel()

	d := New(Options{Workers: 4})
	var ran atomic.Int64
	for i := 0; i < 8; i++ {
		_, _ = d.Register(0, "a", func(context.Context, []any) error {
			ran.Add(1)
			return nil
		})
	}
	_, _ = d.Register(0, "a", func(context.Context, []any) error {
		d.ResetCondition(0, "a")
		panic("kaboom")
	})

	var recovered any
	func() {
		defer func() { recovered = recover() }()
		_, _ = d.Invoke(context.Background(), 0, "a", "m", Parallel)
	}()
	if recovered != "kaboom" {
		t.Fatalf("recovered = %v, want kaboom", recovered)
	}

	assert.Equal(t, int64(8), ran.Load())
	snap := d.Snapshot()
	assert.Equal(t, 0, snap.InFlight)
	assert.Equal(t, 0, snap.PendingResets)
	assert.Equal(t, 0, d.GetRegistered(0, "a"))
	if _, ok := d.ReadSafetyBox(0, "a"); ok {
		t.Fatalf("safety box not cleared after panic")
	}
}

func TestConcurrentRegisterWhileParallelInvoke(t *testing.T) {
	t.Parallel()

	d := New(Options{Workers: 8})
	var hits atomic.Int64
	for i := 0; i < 100; i++ {
		_, _ = d.Register(0, "a", func(context.Context, []any) error {
			hits.Add(1)
			return nil
		})
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			_, _ = d.Invoke(context.Background(), 0, "a", i, Parallel)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_, _ = d.Register(0, "a", func(context.Context, []any) error { return nil })
		}
	}()
	wg.Wait()

	assert.Equal(t, int64(2000), hits.Load())
	assert.Equal(t, 200, d.GetRegistered(0, "a"))
}

func TestModeString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "sequential", Sequential.String())
	assert.Equal(t, "parallel", Parallel.String())
	assert.Equal(t, "mode(7)", Mode(7).String())
}
