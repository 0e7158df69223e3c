package registry

// PushMessage exposes msg as the safety box value of (depth, condition).
// Nested invocations of the same condition stack; the innermost message wins.
// It is a no-op for unknown conditions.
func (r *Registry[T]) PushMessage(depth int, condition string, msg any) {
	l := r.layer(depth)
	if l == nil {
		return
	}
	if _, ok := l.conditions[condition]; !ok {
		return
	}
	l.boxes[condition] = append(l.boxes[condition], msg)
}

// PopMessage removes the innermost message of (depth, condition).
func (r *Registry[T]) PopMessage(depth int, condition string) {
	l := r.layer(depth)
	if l == nil {
		return
	}
	stack := l.boxes[condition]
	switch len(stack) {
	case 0:
		return
	case 1:
		delete(l.boxes, condition)
	default:
		stack[len(stack)-1] = nil
		l.boxes[condition] = stack[:len(stack)-1]
	}
}

// Message returns the current safety box value. ok is false outside an invocation.
func (r *Registry[T]) Message(depth int, condition string) (msg any, ok bool) {
	l := r.layer(depth)
	if l == nil {
		return nil, false
	}
	stack := l.boxes[condition]
	if len(stack) == 0 {
		return nil, false
	}
	return stack[len(stack)-1], true
}
