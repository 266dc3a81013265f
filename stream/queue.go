package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/risa-org/wsstream/message"
	"github.com/risa-org/wsstream/wserr"
)

// OverflowPolicy decides what a bounded queue does when it is full.
type OverflowPolicy int

const (
	// OverflowError rejects the message. The rejection is reported to the
	// consumer in sequence order, and the handle publishes an Error event.
	OverflowError OverflowPolicy = iota
	// OverflowBlock stalls the producer (the host's read goroutine) until
	// the consumer makes room, which pushes backpressure onto the socket.
	OverflowBlock
)

// String returns the string representation of the policy
func (p OverflowPolicy) String() string {
	switch p {
	case OverflowError:
		return "error"
	case OverflowBlock:
		return "block"
	default:
		return "unknown"
	}
}

// ParseOverflowPolicy is the inverse of OverflowPolicy.String.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch s {
	case "error", "":
		return OverflowError, nil
	case "block":
		return OverflowBlock, nil
	default:
		return 0, fmt.Errorf("unknown overflow policy %q", s)
	}
}

// Config sizes the inbound queue.
type Config struct {
	// Capacity bounds the number of queued messages. Zero means unbounded.
	Capacity int
	// Overflow applies only when Capacity > 0.
	Overflow OverflowPolicy
}

// ErrConsumerClosed is returned by Push after the consumer closed the queue.
var ErrConsumerClosed = errors.New("stream: consumer closed")

// item is either a message or an overflow marker.
type item struct {
	msg     message.Message
	dropped int // > 0 marks messages rejected at this point in the sequence
}

// Queue is the inbound FIFO between a handle's message callback and the
// consumer. It implements conn.Inbound.
type Queue struct {
	cfg Config

	mu      sync.Mutex
	items   []item
	pending int           // messages in items, markers excluded
	ended   bool          // producer is done, drain then EOF
	closed  bool          // consumer is done, EOF now
	changed chan struct{} // closed and replaced on every change
}

// NewQueue creates an empty queue.
func NewQueue(cfg Config) *Queue {
	return &Queue{
		cfg:     cfg,
		changed: make(chan struct{}),
	}
}

// Push appends msg. With a full bounded queue it either blocks or returns
// a QueueOverflow error, depending on the policy. After End or Close no
// message is accepted.
func (q *Queue) Push(msg message.Message) error {
	q.mu.Lock()
	for {
		if q.closed {
			q.mu.Unlock()
			return ErrConsumerClosed
		}
		if q.ended {
			q.mu.Unlock()
			return wserr.New(wserr.KindNotOpen, "push", "stream has ended")
		}
		if q.cfg.Capacity <= 0 || q.pending < q.cfg.Capacity {
			q.items = append(q.items, item{msg: msg})
			q.pending++
			q.broadcastLocked()
			q.mu.Unlock()
			return nil
		}
		if q.cfg.Overflow == OverflowError {
			q.markDroppedLocked()
			q.mu.Unlock()
			return wserr.New(wserr.KindQueueOverflow, "push", "inbound queue holds %d messages", q.cfg.Capacity)
		}

		// OverflowBlock: wait for the consumer
		ch := q.changed
		q.mu.Unlock()
		<-ch
		q.mu.Lock()
	}
}

func (q *Queue) markDroppedLocked() {
	if n := len(q.items); n > 0 && q.items[n-1].dropped > 0 {
		q.items[n-1].dropped++
	} else {
		q.items = append(q.items, item{dropped: 1})
	}
	q.broadcastLocked()
}

// End marks that no more messages will arrive. Queued messages are still
// delivered, then Pop returns io.EOF.
func (q *Queue) End() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ended {
		return
	}
	q.ended = true
	q.broadcastLocked()
}

// Close is the consumer giving up: queued messages are discarded, every
// waiter in Pop gets io.EOF and a blocked Push returns.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	q.pending = 0
	q.broadcastLocked()
}

// Pop waits for the next message. It returns io.EOF once the queue has
// ended and is drained, or has been closed; a QueueOverflow error where
// messages were rejected; or ctx.Err().
func (q *Queue) Pop(ctx context.Context) (message.Message, error) {
	q.mu.Lock()
	for {
		if q.closed {
			q.mu.Unlock()
			return message.Message{}, io.EOF
		}
		if len(q.items) > 0 {
			it := q.items[0]
			q.items[0] = item{}
			q.items = q.items[1:]
			if it.dropped > 0 {
				q.mu.Unlock()
				return message.Message{}, wserr.New(wserr.KindQueueOverflow, "next", "%d message(s) rejected by a full queue", it.dropped)
			}
			q.pending--
			q.broadcastLocked()
			q.mu.Unlock()
			return it.msg, nil
		}
		if q.ended {
			q.mu.Unlock()
			return message.Message{}, io.EOF
		}

		ch := q.changed
		q.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return message.Message{}, ctx.Err()
		}
		q.mu.Lock()
	}
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

func (q *Queue) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}
