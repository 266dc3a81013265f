// Package transporttest provides an in-memory Host for driving a
// connection handle's callbacks by hand.
package transporttest

import (
	"context"
	"sync"

	"github.com/risa-org/wsstream/transport"
)

// CloseRequest records one RequestClose call.
type CloseRequest struct {
	Code   uint16
	Reason string
}

// Host records everything the handle asks of it. Tests fire callbacks
// themselves through the Callbacks captured at dial time.
type Host struct {
	mu       sync.Mutex
	sent     []transport.Frame
	closes   []CloseRequest
	sendErr  error
	closeErr error

	// Callbacks is set by Dial.
	Callbacks transport.Callbacks
}

// New returns an empty host.
func New() *Host {
	return &Host{}
}

// Dial implements transport.Dialer. It records cb and reports nothing;
// the test decides when to call OnOpen.
func (h *Host) Dial(_ context.Context, cb transport.Callbacks) (transport.Host, error) {
	h.mu.Lock()
	h.Callbacks = cb
	h.mu.Unlock()
	return h, nil
}

func (h *Host) Send(f transport.Frame) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sendErr != nil {
		return h.sendErr
	}
	h.sent = append(h.sent, f)
	return nil
}

func (h *Host) RequestClose(code uint16, reason string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closeErr != nil {
		return h.closeErr
	}
	h.closes = append(h.closes, CloseRequest{Code: code, Reason: reason})
	return nil
}

// Subprotocol implements transport.Describer.
func (h *Host) Subprotocol() string {
	return "test"
}

// FailSends makes every later Send return err.
func (h *Host) FailSends(err error) {
	h.mu.Lock()
	h.sendErr = err
	h.mu.Unlock()
}

// FailCloses makes every later RequestClose return err.
func (h *Host) FailCloses(err error) {
	h.mu.Lock()
	h.closeErr = err
	h.mu.Unlock()
}

// Sent returns a copy of the frames sent so far.
func (h *Host) Sent() []transport.Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]transport.Frame, len(h.sent))
	copy(out, h.sent)
	return out
}

// CloseRequests returns a copy of the close requests so far.
func (h *Host) CloseRequests() []CloseRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]CloseRequest, len(h.closes))
	copy(out, h.closes)
	return out
}

// Dialer returns a dialer that fires OnOpen right away, or OnClose with
// the given code when refuse is non-zero. Useful for Connect tests.
func Dialer(h *Host, refuse uint16) transport.Dialer {
	return dialerFunc(func(ctx context.Context, cb transport.Callbacks) (transport.Host, error) {
		host, err := h.Dial(ctx, cb)
		if err != nil {
			return nil, err
		}
		go func() {
			if refuse != 0 {
				cb.OnClose(refuse, "refused", false)
				return
			}
			cb.OnOpen()
		}()
		return host, nil
	})
}

type dialerFunc func(ctx context.Context, cb transport.Callbacks) (transport.Host, error)

func (f dialerFunc) Dial(ctx context.Context, cb transport.Callbacks) (transport.Host, error) {
	return f(ctx, cb)
}
