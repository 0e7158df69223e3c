package dispatch

import "fmt"

type resetScope int

const (
	scopeAll resetScope = iota
	scopeLayer
	scopeCondition
)

func (s resetScope) String() string {
	switch s {
	case scopeAll:
		return "all"
	case scopeLayer:
		return "layer"
	case scopeCondition:
		return "condition"
	}
	return fmt.Sprintf("scope(%d)", int(s))
}

// resetRequest is one queued reset.
type resetRequest struct {
	scope     resetScope
	depth     int
	condition string
}

func (r resetRequest) event() resetEvent {
	ev := resetEvent{Scope: r.scope.String()}
	if r.scope != scopeAll {
		ev.Depth = r.depth
	}
	if r.scope == scopeCondition {
		ev.Condition = r.condition
	}
	return ev
}

// blockedLocked reports whether req touches a condition that is being invoked.
func (d *Dispatcher) blockedLocked(req resetRequest) bool {
	switch req.scope {
	case scopeAll:
		return len(d.inFlight) > 0
	case scopeLayer:
		for k := range d.inFlight {
			if k.depth == req.depth {
				return true
			}
		}
		return false
	default:
		return d.inFlight[key{req.depth, req.condition}] > 0
	}
}

func (d *Dispatcher) applyLocked(req resetRequest) {
	switch req.scope {
	case scopeAll:
		d.reg.ResetAll()
	case scopeLayer:
		d.reg.ResetLayer(req.depth)
	default:
		d.reg.ResetCondition(req.depth, req.condition)
	}
}

// submitReset applies req now or queues it behind the invocations that block it.
func (d *Dispatcher) submitReset(req resetRequest) {
	d.mu.Lock()
	deferred := d.blockedLocked(req)
	if deferred {
		d.pending = append(d.pending, req)
	} else {
		d.applyLocked(req)
	}
	d.mu.Unlock()

	if deferred {
		d.logger.Debug("reset deferred", "scope", req.scope.String(), "depth", req.depth, "condition", req.condition)
		d.publish(EventResetDefer, req.event())
		return
	}
	d.logger.Info("reset applied", "scope", req.scope.String(), "depth", req.depth, "condition", req.condition)
	d.publish(EventResetApplied, req.event())
}

// drainLocked applies every queued reset that is no longer blocked, keeping
// submit order, and returns what it applied.
func (d *Dispatcher) drainLocked() []resetRequest {
	if len(d.pending) == 0 {
		return nil
	}
	var applied []resetRequest
	kept := d.pending[:0]
	for _, req := range d.pending {
		if d.blockedLocked(req) {
			kept = append(kept, req)
			continue
		}
		d.applyLocked(req)
		applied = append(applied, req)
	}
	clear(d.pending[len(kept):])
	d.pending = kept
	return applied
}
