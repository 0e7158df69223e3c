// Package dispatch triggers conditions and runs their subscribers.
//
// A Dispatcher owns a layered registry of subscriptions. Register returns a
// slot id that stays valid until Unregister or a reset removes it. Invoke runs
// every live subscriber of one (depth, condition), either one after another in
// ascending id order or concurrently on a bounded worker pool, and returns once
// all of them have returned.
//
// Safety box:
//   - Invoke exposes its message through ReadSafetyBox for the duration of the call
//   - Outside an active Invoke of that exact (depth, condition) the box is empty
//   - Nested invocations of the same condition stack their messages
//
// Resets:
//   - Reset, ResetLayer and ResetCondition apply immediately when nothing they
//     touch is being invoked
//   - Otherwise they are queued and replayed, in submit order, as soon as the
//     blocking invocations finish
//   - A condition reset is only blocked by its own invocation; a layer reset by
//     any invocation at that depth; a full reset by any invocation at all
//
// Register and Unregister are allowed while an Invoke is in flight. They take
// effect for the next pass: each Invoke dispatches from a snapshot of the live
// slots taken when it starts.
//
// Error handling:
//   - Unknown (depth, condition) → Invoke returns false with a nil error
//   - Unregister of an id never issued → registry.ErrOutOfRange
//   - Sequential subscriber error → remaining subscribers are skipped, error returned
//   - Parallel subscriber error → every dispatched subscriber still runs, first error returned
//
// There is no timeout or cancellation of subscribers beyond what they do with
// the context they receive.
package dispatch
