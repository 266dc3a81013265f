// Package conn owns the life-cycle of one connection: its state machine,
// its event notifier, and the callbacks a transport host drives.
//
// A Handle is the single source of truth for a connection. Hosts call its
// On* methods from their read goroutine; applications call Send, Close,
// State and Observe from anywhere.
package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/risa-org/wsstream/event"
	"github.com/risa-org/wsstream/message"
	"github.com/risa-org/wsstream/metrics"
	"github.com/risa-org/wsstream/notify"
	"github.com/risa-org/wsstream/transport"
	"github.com/risa-org/wsstream/wserr"
	"go.uber.org/zap"
)

// MaxReasonLength is the longest close reason a close frame can carry.
const MaxReasonLength = 123

// Inbound receives the messages a handle decodes. stream.Queue is the
// production implementation.
type Inbound interface {
	// Push accepts one message. It may block to apply backpressure, and
	// returns a QueueOverflow error when it rejects the message instead.
	Push(msg message.Message) error
	// End marks that the connection is closed and no more messages follow.
	End()
}

// Option configures a Handle.
type Option func(*Handle)

// WithLogger sets the logger. The handle adds a conn_id field.
func WithLogger(l *zap.Logger) Option {
	return func(h *Handle) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithMetrics makes the handle update m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handle) {
		h.metrics = m
	}
}

// Handle is one connection's life-cycle. Create it with New, hand it to a
// transport.Dialer as the callbacks, then Attach the returned host.
type Handle struct {
	id      string
	logger  *zap.Logger
	metrics *metrics.Metrics
	events  *notify.Notifier[event.Event]
	inbound Inbound

	mu       sync.Mutex
	machine  *Machine
	host     transport.Host
	fault    error            // first callback the machine rejected
	opened   bool             // OnOpen was accepted at some point
	closeEvt event.CloseEvent // valid once done is closed
	detached bool             // closed without the host; later host callbacks are ignored
	settled  chan struct{}    // closed when the connecting phase ends
	done     chan struct{}    // closed on StateClosed
}

var _ transport.Callbacks = (*Handle)(nil)

// New creates a handle in StateConnecting. Decoded messages go to inbound;
// a nil inbound discards them.
func New(inbound Inbound, opts ...Option) *Handle {
	if inbound == nil {
		inbound = discard{}
	}
	h := &Handle{
		id:      uuid.NewString(),
		logger:  zap.NewNop(),
		inbound: inbound,
		machine: NewMachine(),
		settled: make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With(zap.String("conn_id", h.id))
	h.events = notify.New[event.Event](h.logger)
	h.metrics.Created(StateConnecting.String())
	return h
}

// Attach sets the host the handle sends through. Call it once, with the
// host returned by the dialer the handle was passed to.
func (h *Handle) Attach(host transport.Host) {
	h.mu.Lock()
	h.host = host
	h.mu.Unlock()
}

// ID uniquely identifies the handle, mostly for logs.
func (h *Handle) ID() string {
	return h.id
}

// State returns the current connection state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.machine.Current()
}

// Err returns the first host callback that was illegal for the state the
// handle was in, or nil. The same error was published as an Error event.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fault
}

// Done is closed once the handle reaches StateClosed.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// CloseEvent returns how the connection closed. ok is false until then.
func (h *Handle) CloseEvent() (ce event.CloseEvent, ok bool) {
	select {
	case <-h.done:
	default:
		return event.CloseEvent{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closeEvt, true
}

// Subprotocol returns the negotiated subprotocol if the host knows it.
func (h *Handle) Subprotocol() string {
	h.mu.Lock()
	host := h.host
	h.mu.Unlock()
	if d, ok := host.(transport.Describer); ok {
		return d.Subprotocol()
	}
	return ""
}

// Observe subscribes to life-cycle events that pass filter (nil for all).
// The subscription ends after the Closed event, when ctx ends, or when it
// is closed. Events published before the call are not replayed.
func (h *Handle) Observe(ctx context.Context, filter event.Filter) *notify.Subscription[event.Event] {
	return h.events.Subscribe(ctx, filter)
}

// WaitOpen blocks until the connecting phase ends. It returns nil if the
// host confirmed open, and a ConnectionFailed error if the connection
// closed first.
func (h *Handle) WaitOpen(ctx context.Context) error {
	select {
	case <-h.settled:
	case <-ctx.Done():
		return ctx.Err()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.opened {
		return nil
	}
	return wserr.New(wserr.KindConnectionFailed, "connect", "closed before open (%s)", h.closeEvt)
}

// Send hands msg to the transport. It fails with NotOpen unless the
// connection is open, and never forwards anything in that case.
func (h *Handle) Send(msg message.Message) error {
	h.mu.Lock()
	state := h.machine.Current()
	host := h.host
	h.mu.Unlock()

	if state != StateOpen || host == nil {
		return wserr.New(wserr.KindNotOpen, "send", "connection is %s", state)
	}

	if err := host.Send(transport.Encode(msg)); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	h.metrics.Sent(msg.Type().String())
	h.logger.Debug("message sent", zap.Stringer("type", msg.Type()), zap.Int("len", msg.Len()))
	return nil
}

// Close closes with code 1000 and no reason. See CloseReason.
func (h *Handle) Close(ctx context.Context) (event.CloseEvent, error) {
	return h.CloseReason(ctx, transport.CodeNormalClosure, "")
}

// CloseCode closes with the given code and no reason. See CloseReason.
func (h *Handle) CloseCode(ctx context.Context, code uint16) (event.CloseEvent, error) {
	return h.CloseReason(ctx, code, "")
}

// CloseReason starts closing the connection and waits for the host to
// confirm it.
//
// Legal only while connecting or open; otherwise it fails with NotOpen.
// The code must be 1000 or in 3000-4999 and the reason at most 123 bytes.
// The state moves to StateClosing before the host is asked, and a Closing
// event is published. If ctx ends first, the close still proceeds and
// ctx.Err() is returned.
//
// If the host refuses the request, the handle closes itself with 1006
// (unclean) so that Done and the inbound stream still end, and the host's
// error is returned.
func (h *Handle) CloseReason(ctx context.Context, code uint16, reason string) (event.CloseEvent, error) {
	if err := validateClose(code, reason); err != nil {
		return event.CloseEvent{}, err
	}

	h.mu.Lock()
	state := h.machine.Current()
	if state != StateConnecting && state != StateOpen {
		h.mu.Unlock()
		return event.CloseEvent{}, wserr.New(wserr.KindNotOpen, "close", "connection is %s", state)
	}
	if h.host == nil {
		h.mu.Unlock()
		return event.CloseEvent{}, wserr.New(wserr.KindNotOpen, "close", "no transport attached")
	}
	h.applyLocked("close", event.Closing())
	host := h.host
	h.mu.Unlock()

	h.logger.Info("closing connection", zap.Uint16("code", code), zap.String("reason", reason))

	if err := host.RequestClose(code, reason); err != nil {
		ce := event.CloseEvent{Code: transport.CodeAbnormal}
		h.mu.Lock()
		// the host may have reported the close anyway
		if h.machine.Current() == StateClosed {
			ce = h.closeEvt
		} else if h.applyLocked("close", event.Closed(ce)) {
			h.detached = true
			h.closedLocked(ce)
		}
		h.mu.Unlock()
		h.logger.Warn("transport refused close, closed locally", zap.Error(err))
		return ce, fmt.Errorf("close: %w", err)
	}

	select {
	case <-h.done:
		ce, _ := h.CloseEvent()
		return ce, nil
	case <-ctx.Done():
		return event.CloseEvent{}, ctx.Err()
	}
}

func validateClose(code uint16, reason string) error {
	if code != transport.CodeNormalClosure && (code < 3000 || code > 4999) {
		return wserr.New(wserr.KindInvalidCloseCode, "close", "code %d is not 1000 or in 3000-4999", code)
	}
	if len(reason) > MaxReasonLength {
		return wserr.New(wserr.KindReasonTooLong, "close", "%d bytes, max %d", len(reason), MaxReasonLength)
	}
	return nil
}

// OnOpen implements transport.Callbacks.
func (h *Handle) OnOpen() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.detached {
		return
	}
	if !h.applyLocked("on_open", event.Open()) {
		return
	}
	h.opened = true
	h.settleLocked()
	h.logger.Info("connection open")
}

// OnMessage implements transport.Callbacks. Frames are accepted while
// open or closing; a frame that fails to decode is reported as an Error
// event and never reaches the stream.
func (h *Handle) OnMessage(f transport.Frame) {
	h.mu.Lock()
	if h.detached {
		h.mu.Unlock()
		return
	}
	state := h.machine.Current()
	if state != StateOpen && state != StateClosing {
		h.faultLocked("on_message", wserr.New(wserr.KindInvalidTransition, "on_message", "message while %s", state))
		h.mu.Unlock()
		return
	}

	msg, err := transport.Decode(f)
	if err != nil {
		h.metrics.DecodeError()
		h.logger.Warn("undecodable frame", zap.Error(err))
		h.applyLocked("on_message", event.Error(err))
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	// outside the lock: Push may block for backpressure
	if err := h.inbound.Push(msg); err != nil {
		if errors.Is(err, wserr.ErrQueueOverflow) {
			h.metrics.Overflow()
			h.logger.Warn("inbound queue full", zap.Error(err))
			h.mu.Lock()
			h.applyLocked("on_message", event.Error(err))
			h.mu.Unlock()
			return
		}
		h.logger.Debug("inbound closed by consumer, message discarded", zap.Error(err))
		return
	}

	h.metrics.Received(msg.Type().String())
	h.logger.Debug("message received", zap.Stringer("type", msg.Type()), zap.Int("len", msg.Len()))
}

// OnError implements transport.Callbacks.
func (h *Handle) OnError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.detached {
		return
	}
	if !h.applyLocked("on_error", event.Error(err)) {
		return
	}
	h.logger.Warn("transport error", zap.Error(err))
}

// OnClose implements transport.Callbacks. It ends the inbound stream and
// every observation after publishing the Closed event.
func (h *Handle) OnClose(code uint16, reason string, wasClean bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.detached {
		return
	}
	ce := event.CloseEvent{Code: code, Reason: reason, WasClean: wasClean}
	if !h.applyLocked("on_close", event.Closed(ce)) {
		return
	}
	h.closedLocked(ce)

	h.logger.Info("connection closed",
		zap.Uint16("code", code),
		zap.String("reason", reason),
		zap.Bool("clean", wasClean),
	)
}

// closedLocked finishes the terminal transition once Closed was applied.
func (h *Handle) closedLocked(ce event.CloseEvent) {
	h.closeEvt = ce
	h.settleLocked()
	close(h.done)
	h.inbound.End()
	h.events.Close()
}

// applyLocked runs ev through the machine and publishes it. An illegal
// event is recorded as a fault instead.
func (h *Handle) applyLocked(op string, ev event.Event) bool {
	from := h.machine.Current()
	to, err := h.machine.Transition(ev)
	if err != nil {
		h.faultLocked(op, err)
		return false
	}
	h.metrics.Moved(from.String(), to.String())
	h.publishLocked(ev)
	return true
}

func (h *Handle) faultLocked(op string, err error) {
	if h.fault == nil {
		h.fault = err
	}
	h.metrics.InvalidTransition()
	h.logger.Error("illegal host callback",
		zap.String("op", op),
		zap.Stringer("state", h.machine.Current()),
		zap.Error(err),
	)
	h.publishLocked(event.Error(err))
}

func (h *Handle) publishLocked(ev event.Event) {
	h.events.Publish(ev)
	h.metrics.EventPublished(ev.Kind.String())
}

func (h *Handle) settleLocked() {
	select {
	case <-h.settled:
	default:
		close(h.settled)
	}
}

type discard struct{}

func (discard) Push(message.Message) error { return nil }
func (discard) End()                       {}
