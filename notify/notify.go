// Package notify fans values out to any number of subscribers without
// ever blocking the publisher.
//
// Every subscription owns an unbounded delivery queue and a goroutine that
// drains it into the subscription's channel. Publish only appends to those
// queues, so a slow or stuck subscriber delays nobody but itself.
package notify

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/risa-org/wsstream/wserr"
	"go.uber.org/zap"
)

// Filter selects the values a subscriber wants. A nil Filter selects all.
type Filter[T any] func(T) bool

// Notifier is a multi-subscriber broadcast point. The zero value is not
// usable; create one with New.
type Notifier[T any] struct {
	logger *zap.Logger

	mu     sync.Mutex
	subs   map[string]*Subscription[T]
	closed bool
}

// New creates a notifier. A nil logger is replaced with a no-op one.
func New[T any](logger *zap.Logger) *Notifier[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier[T]{
		logger: logger,
		subs:   make(map[string]*Subscription[T]),
	}
}

// Subscribe registers a new observer. The subscription sees every value
// published after this call that passes filter, until it is closed, ctx
// ends, or the notifier is torn down.
//
// filter runs on the subscription's delivery goroutine and may call back
// into whatever owns the notifier.
//
// A subscription that is dropped without draining C keeps its delivery
// goroutine parked until ctx ends or Close is called.
//
// Subscribing to a torn-down notifier returns a subscription whose channel
// is already closed.
func (n *Notifier[T]) Subscribe(ctx context.Context, filter Filter[T]) *Subscription[T] {
	if ctx == nil {
		ctx = context.Background()
	}
	s := newSubscription(ctx, n, filter)

	n.mu.Lock()
	if n.closed {
		s.finish()
	} else {
		n.subs[s.id] = s
	}
	n.mu.Unlock()

	go s.run()

	n.logger.Debug("observer subscribed", zap.String("subscription_id", s.id))
	return s
}

// Unsubscribe removes a subscription. Values still queued for it are
// discarded and its channel is closed. Calling it twice is a no-op.
//
// A subscription created by a different notifier is reported as an
// InconsistentObserver error and left untouched.
func (n *Notifier[T]) Unsubscribe(s *Subscription[T]) error {
	if s == nil || s.owner != n {
		return wserr.New(wserr.KindInconsistentObserver, "unsubscribe", "subscription does not belong to this notifier")
	}

	n.mu.Lock()
	delete(n.subs, s.id)
	n.mu.Unlock()

	s.cancel()
	return nil
}

// Publish queues v for every live subscriber. Filters run later on each
// subscription's own goroutine, so Publish never runs subscriber code and
// never blocks on subscribers. It is a no-op once the notifier is torn
// down or when nobody is subscribed.
func (n *Notifier[T]) Publish(v T) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}

	for id, s := range n.subs {
		// subscriber went away without unsubscribing
		if s.gone() {
			delete(n.subs, id)
			n.logger.Debug("pruned abandoned observer", zap.String("subscription_id", id))
			continue
		}
		s.push(v)
	}
}

// Close tears the notifier down. Each subscription still delivers what
// was already queued for it, then its channel closes. Later Publish calls
// are no-ops. Safe to call more than once.
func (n *Notifier[T]) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	n.closed = true
	for id, s := range n.subs {
		s.finish()
		delete(n.subs, id)
	}
}

// Len returns the number of registered subscriptions.
func (n *Notifier[T]) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

// Subscription is one observer's view of a Notifier.
type Subscription[T any] struct {
	id     string
	owner  *Notifier[T]
	ctx    context.Context
	filter Filter[T]

	mu       sync.Mutex
	queue    []T
	finished bool          // no more values will be queued
	wake     chan struct{} // buffered(1), signals the pump that queue changed

	done     chan struct{} // closed on unsubscribe
	doneOnce sync.Once
	out      chan T
}

func newSubscription[T any](ctx context.Context, n *Notifier[T], filter Filter[T]) *Subscription[T] {
	return &Subscription[T]{
		id:     uuid.NewString(),
		owner:  n,
		ctx:    ctx,
		filter: filter,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan T),
	}
}

// ID uniquely identifies the subscription.
func (s *Subscription[T]) ID() string {
	return s.id
}

// C returns the delivery channel. It is closed when the subscription ends
// for any reason.
func (s *Subscription[T]) C() <-chan T {
	return s.out
}

// Next waits for the next value. ok is false once the subscription has
// ended; err is non-nil only if ctx ended first.
func (s *Subscription[T]) Next(ctx context.Context) (v T, ok bool, err error) {
	select {
	case v, ok = <-s.out:
		return v, ok, nil
	case <-ctx.Done():
		return v, false, ctx.Err()
	}
}

// Close unsubscribes. Always immediate, never blocks.
func (s *Subscription[T]) Close() {
	_ = s.owner.Unsubscribe(s)
}

func (s *Subscription[T]) push(v T) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, v)
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription[T]) finish() {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription[T]) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription[T]) cancel() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Subscription[T]) gone() bool {
	select {
	case <-s.done:
		return true
	case <-s.ctx.Done():
		return true
	default:
		return false
	}
}

// run is the per-subscription delivery goroutine.
func (s *Subscription[T]) run() {
	defer close(s.out)

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			finished := s.finished
			s.mu.Unlock()
			if finished {
				return
			}
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			case <-s.ctx.Done():
				return
			}
		}

		v := s.queue[0]
		var zero T
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if s.filter != nil && !s.filter(v) {
			continue
		}

		select {
		case s.out <- v:
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		}
	}
}
