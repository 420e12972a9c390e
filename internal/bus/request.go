package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"swarmstream/internal/domain"
)

// MatchFunc inspects one event on behalf of a pending request. It reports
// whether the event is addressed to this request (same subject identity) and,
// if so, the resolved value or failure.
type MatchFunc[T any] func(ev domain.Event) (value T, matched bool, err error)

// Request is a one-shot, cancelable, timeout-bounded result channel that is
// itself a bus listener for the duration of a single wait. Typical use:
//
//	req := bus.NewRequest(b, match)
//	defer req.Close()
//	v, err := req.Wait(ctx, ceiling)
//
// Close must run on every exit path so the subscription never outlives the
// wait.
type Request[T any] struct {
	bus   *Bus
	match MatchFunc[T]
	ch    chan outcome[T]
	once  sync.Once
}

type outcome[T any] struct {
	value T
	err   error
}

// NewRequest subscribes a new pending request to the bus.
func NewRequest[T any](b *Bus, match MatchFunc[T]) *Request[T] {
	r := &Request[T]{
		bus:   b,
		match: match,
		ch:    make(chan outcome[T], 1),
	}
	b.Register(r)
	return r
}

// HandleEvent implements Listener. The first matching event resolves the
// request; later matches are discarded.
func (r *Request[T]) HandleEvent(ev domain.Event) {
	value, matched, err := r.match(ev)
	if !matched {
		return
	}
	r.resolve(outcome[T]{value: value, err: err})
}

func (r *Request[T]) resolve(out outcome[T]) {
	r.once.Do(func() {
		r.ch <- out
	})
}

// Wait blocks until the request resolves, the context is canceled, or the
// ceiling elapses. Cancellation maps to ErrCanceled, expiry to ErrTimeout;
// both return promptly rather than riding out the other bound.
func (r *Request[T]) Wait(ctx context.Context, ceiling time.Duration) (T, error) {
	var zero T
	timer := time.NewTimer(ceiling)
	defer timer.Stop()

	select {
	case out := <-r.ch:
		if out.err != nil {
			return zero, out.err
		}
		return out.value, nil
	case <-ctx.Done():
		return zero, fmt.Errorf("%w: %v", domain.ErrCanceled, context.Cause(ctx))
	case <-timer.C:
		return zero, fmt.Errorf("%w after %s", domain.ErrTimeout, ceiling)
	}
}

// Close unsubscribes from the bus. Idempotent; must be deferred immediately
// after NewRequest.
func (r *Request[T]) Close() {
	r.bus.Unregister(r)
}
