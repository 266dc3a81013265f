// Package wsstream turns a message-oriented transport connection into a
// pull-based stream of messages with an observable life-cycle.
//
//	h, s, err := wsstream.Connect(ctx, &websocket.Dialer{URL: "ws://localhost:8080/ws"})
//	if err != nil {
//		return err
//	}
//	defer s.Close(ctx)
//
//	for msg, err := range s.All(ctx) {
//		...
//	}
//
// The handle (package conn) owns the state machine and the events; the
// stream (package stream) owns the inbound queue. Transports live under
// transport/ and only ever talk to the handle through transport.Callbacks.
package wsstream

import (
	"context"
	"errors"

	"github.com/risa-org/wsstream/conn"
	"github.com/risa-org/wsstream/metrics"
	"github.com/risa-org/wsstream/stream"
	"github.com/risa-org/wsstream/transport"
	"go.uber.org/zap"
)

// Option configures Connect.
type Option func(*options)

type options struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
	stream  stream.Config
}

// WithLogger sets the logger used by the handle and its notifier.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics reports the connection on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithStreamConfig sizes the inbound queue. The default is unbounded.
func WithStreamConfig(cfg stream.Config) Option {
	return func(o *options) {
		o.stream = cfg
	}
}

// Connect dials through d and waits until the connection is open.
//
// If the connection closes before opening, the error is a ConnectionFailed
// one naming the close code. If ctx ends first, the attempt is abandoned
// and ctx.Err() is returned.
func Connect(ctx context.Context, d transport.Dialer, opts ...Option) (*conn.Handle, *stream.Stream, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	q := stream.NewQueue(o.stream)
	h := conn.New(q, conn.WithLogger(o.logger), conn.WithMetrics(o.metrics))

	host, err := d.Dial(ctx, h)
	if err != nil {
		return nil, nil, err
	}
	h.Attach(host)

	if err := h.WaitOpen(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			go h.Close(context.Background())
		}
		return nil, nil, err
	}
	return h, stream.New(h, q), nil
}
