// Package stream presents a connection's inbound messages as a pull-based
// sequence and its outbound side as a guarded write.
//
// The handle pushes every decoded message into a Queue from the host's
// read goroutine; consumers pull with Next or range over All. Sends go
// straight to the transport: there is no outbound queue.
package stream

import (
	"context"
	"errors"
	"io"
	"iter"

	"github.com/risa-org/wsstream/conn"
	"github.com/risa-org/wsstream/message"
	"github.com/risa-org/wsstream/wserr"
)

// Stream couples a handle with the queue it feeds.
type Stream struct {
	h *conn.Handle
	q *Queue
}

// New returns a stream over h. q must be the Inbound h was created with.
func New(h *conn.Handle, q *Queue) *Stream {
	return &Stream{h: h, q: q}
}

// Handle returns the handle the stream belongs to.
func (s *Stream) Handle() *conn.Handle {
	return s.h
}

// Next waits for the next inbound message, in arrival order.
//
// It returns io.EOF once the connection is closed and every queued message
// has been read, or right after Close. A QueueOverflow error marks where a
// bounded queue rejected messages; the stream is still usable after it.
func (s *Stream) Next(ctx context.Context) (message.Message, error) {
	return s.q.Pop(ctx)
}

// All yields inbound messages until the stream ends. Overflow errors are
// yielded and iteration goes on; any other error is yielded once and ends
// the sequence. The sequence is not restartable.
func (s *Stream) All(ctx context.Context) iter.Seq2[message.Message, error] {
	return func(yield func(message.Message, error) bool) {
		for {
			msg, err := s.q.Pop(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(msg, err) {
				return
			}
			if err != nil && !errors.Is(err, wserr.ErrQueueOverflow) {
				return
			}
		}
	}
}

// Send writes msg to the transport. It fails with NotOpen unless the
// connection is open.
func (s *Stream) Send(msg message.Message) error {
	return s.h.Send(msg)
}

// Buffered returns how many inbound messages are waiting.
func (s *Stream) Buffered() int {
	return s.q.Len()
}

// Close ends the stream from the consumer side: queued messages are
// dropped, every Next waiter returns io.EOF, and the connection is closed
// with code 1000 if it is still connecting or open.
func (s *Stream) Close(ctx context.Context) error {
	s.q.Close()

	switch s.h.State() {
	case conn.StateConnecting, conn.StateOpen:
		_, err := s.h.Close(ctx)
		// lost a race with a remote close
		if errors.Is(err, wserr.ErrNotOpen) {
			return nil
		}
		return err
	default:
		return nil
	}
}
