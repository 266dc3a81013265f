// Package websocket binds a connection handle to nhooyr.io/websocket.
//
// WebSocket already has message boundaries and a closing handshake, so the
// host maps them one to one: text and binary messages become frames, and
// close frames become OnClose.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/risa-org/wsstream/transport"
	"github.com/risa-org/wsstream/wserr"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Dialer opens client connections with websocket.Dial.
type Dialer struct {
	URL          string
	Subprotocols []string
	Header       http.Header
	HTTPClient   *http.Client
	// ReadLimit caps the size of one inbound message. Zero keeps the
	// library default.
	ReadLimit int64
	Logger    *zap.Logger
}

var _ transport.Dialer = (*Dialer)(nil)

// Dial validates the URL and starts the attempt in the background. ctx
// bounds the opening handshake only.
func (d *Dialer) Dial(ctx context.Context, cb transport.Callbacks) (transport.Host, error) {
	if _, err := transport.ParseURL(d.URL, "ws", "wss"); err != nil {
		return nil, err
	}
	h := newHost(cb, d.Logger, d.ReadLimit)
	dialCtx, cancel := context.WithCancel(ctx)
	h.cancelDial = cancel
	go h.dial(dialCtx, d)
	return h, nil
}

// New wraps an already open *websocket.Conn, typically one returned by
// websocket.Accept. OnOpen fires right away from the read goroutine.
func New(conn *websocket.Conn, cb transport.Callbacks, logger *zap.Logger) transport.Host {
	h := newHost(cb, logger, 0)
	h.conn = conn
	go func() {
		cb.OnOpen()
		h.readLoop(conn)
	}()
	return h
}

type closeRequest struct {
	code   uint16
	reason string
}

// host implements transport.Host. Every callback is made from a single
// goroutine: the one that dials and then reads.
type host struct {
	cb        transport.Callbacks
	logger    *zap.Logger
	readLimit int64

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	conn       *websocket.Conn
	closeReq   *closeRequest
	cancelDial context.CancelFunc
	closeOnce  sync.Once
}

func newHost(cb transport.Callbacks, logger *zap.Logger, readLimit int64) *host {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &host{
		cb:        cb,
		logger:    logger,
		readLimit: readLimit,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (h *host) dial(ctx context.Context, d *Dialer) {
	conn, _, err := websocket.Dial(ctx, d.URL, &websocket.DialOptions{
		HTTPClient:   d.HTTPClient,
		HTTPHeader:   d.Header,
		Subprotocols: d.Subprotocols,
	})
	h.cancelDial()

	h.mu.Lock()
	req := h.closeReq
	if err == nil {
		h.conn = conn
	}
	h.mu.Unlock()

	if err != nil {
		h.cancel()
		if req == nil {
			h.cb.OnError(wserr.Wrap(wserr.KindConnectionFailed, "dial", err))
		}
		h.cb.OnClose(transport.CodeAbnormal, "", false)
		return
	}

	if h.readLimit > 0 {
		conn.SetReadLimit(h.readLimit)
	}

	if req != nil {
		// closed while the handshake was in flight
		h.closeConn(conn, req)
	} else {
		h.logger.Debug("websocket open", zap.String("url", d.URL), zap.String("subprotocol", conn.Subprotocol()))
		h.cb.OnOpen()
	}
	h.readLoop(conn)
}

func (h *host) readLoop(conn *websocket.Conn) {
	defer h.cancel()

	for {
		typ, data, err := conn.Read(h.ctx)
		if err != nil {
			h.finish(err)
			return
		}
		h.cb.OnMessage(transport.Frame{Type: frameType(typ), Data: data})
	}
}

// finish reports the end of the connection exactly once. A close we asked
// for is clean, with our code and reason, only if the peer answered it; a
// close frame from the peer is clean with its own code. Anything else is
// an abnormal closure, preceded by the error unless we were closing.
func (h *host) finish(err error) {
	h.mu.Lock()
	req := h.closeReq
	h.mu.Unlock()

	var ce websocket.CloseError
	switch {
	case req != nil && websocket.CloseStatus(err) != -1:
		h.cb.OnClose(req.code, req.reason, true)
	case req != nil:
		h.logger.Debug("close handshake unanswered", zap.Error(err))
		h.cb.OnClose(transport.CodeAbnormal, "", false)
	case errors.As(err, &ce):
		h.cb.OnClose(uint16(ce.Code), ce.Reason, true)
	default:
		h.logger.Debug("websocket read failed", zap.Error(err))
		h.cb.OnError(fmt.Errorf("websocket read: %w", err))
		h.cb.OnClose(transport.CodeAbnormal, "", false)
	}
}

func (h *host) Send(f transport.Frame) error {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn == nil {
		return transport.ErrTransportClosed
	}

	typ := websocket.MessageBinary
	if f.Type == transport.FrameText {
		typ = websocket.MessageText
	}
	if err := conn.Write(h.ctx, typ, f.Data); err != nil {
		return fmt.Errorf("%w: %v", transport.ErrTransportClosed, err)
	}
	return nil
}

// RequestClose never blocks: the closing handshake runs in the background
// and its outcome reaches the read loop.
func (h *host) RequestClose(code uint16, reason string) error {
	h.mu.Lock()
	if h.closeReq != nil {
		h.mu.Unlock()
		return nil
	}
	req := &closeRequest{code: code, reason: reason}
	h.closeReq = req
	conn := h.conn
	cancelDial := h.cancelDial
	h.mu.Unlock()

	if conn == nil {
		if cancelDial != nil {
			cancelDial()
		}
		return nil
	}
	h.closeConn(conn, req)
	return nil
}

func (h *host) closeConn(conn *websocket.Conn, req *closeRequest) {
	h.closeOnce.Do(func() {
		go func() {
			if err := conn.Close(websocket.StatusCode(req.code), req.reason); err != nil {
				h.logger.Debug("websocket close handshake", zap.Error(err))
			}
		}()
	})
}

// Subprotocol implements transport.Describer.
func (h *host) Subprotocol() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == nil {
		return ""
	}
	return h.conn.Subprotocol()
}

func frameType(t websocket.MessageType) transport.FrameType {
	switch t {
	case websocket.MessageText:
		return transport.FrameText
	case websocket.MessageBinary:
		return transport.FrameBinary
	default:
		return transport.FrameUnknown
	}
}
