// Package gorilla binds a connection handle to github.com/gorilla/websocket.
//
// gorilla allows one concurrent writer, so data frames go through writeMu
// while the close frame uses WriteControl, which is safe alongside them.
package gorilla

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/risa-org/wsstream/transport"
	"github.com/risa-org/wsstream/wserr"
	"go.uber.org/zap"
)

// DefaultCloseTimeout is how long a requested close waits for the peer to
// answer before the connection is dropped.
const DefaultCloseTimeout = 5 * time.Second

// Dialer opens client connections with websocket.Dialer.
type Dialer struct {
	URL              string
	Subprotocols     []string
	Header           http.Header
	HandshakeTimeout time.Duration
	CloseTimeout     time.Duration
	ReadLimit        int64
	Logger           *zap.Logger
}

var _ transport.Dialer = (*Dialer)(nil)

// Dial validates the URL and starts the attempt in the background.
func (d *Dialer) Dial(ctx context.Context, cb transport.Callbacks) (transport.Host, error) {
	if _, err := transport.ParseURL(d.URL, "ws", "wss"); err != nil {
		return nil, err
	}
	h := newHost(cb, d.Logger, d.CloseTimeout)
	dialCtx, cancel := context.WithCancel(ctx)
	h.cancelDial = cancel
	go h.dial(dialCtx, d)
	return h, nil
}

// New wraps an established connection, typically one returned by
// websocket.Upgrader.Upgrade. OnOpen fires right away from the read
// goroutine.
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

type host struct {
	cb           transport.Callbacks
	logger       *zap.Logger
	closeTimeout time.Duration

	writeMu sync.Mutex

	mu         sync.Mutex
	conn       *websocket.Conn
	closeReq   *closeRequest
	cancelDial context.CancelFunc
	dropTimer  *time.Timer
}

func newHost(cb transport.Callbacks, logger *zap.Logger, closeTimeout time.Duration) *host {
	if logger == nil {
		logger = zap.NewNop()
	}
	if closeTimeout <= 0 {
		closeTimeout = DefaultCloseTimeout
	}
	return &host{cb: cb, logger: logger, closeTimeout: closeTimeout}
}

func (h *host) dial(ctx context.Context, d *Dialer) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
		Subprotocols:     d.Subprotocols,
	}
	conn, resp, err := dialer.DialContext(ctx, d.URL, d.Header)
	h.cancelDial()
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	h.mu.Lock()
	req := h.closeReq
	if err == nil {
		h.conn = conn
	}
	h.mu.Unlock()

	if err != nil {
		if req == nil {
			h.cb.OnError(wserr.Wrap(wserr.KindConnectionFailed, "dial", err))
		}
		h.cb.OnClose(transport.CodeAbnormal, "", false)
		return
	}

	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}

	if req != nil {
		h.sendClose(conn, req)
	} else {
		h.logger.Debug("websocket open", zap.String("url", d.URL), zap.String("subprotocol", conn.Subprotocol()))
		h.cb.OnOpen()
	}
	h.readLoop(conn)
}

func (h *host) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			h.finish(err)
			return
		}
		h.cb.OnMessage(transport.Frame{Type: frameType(typ), Data: data})
	}
}

func (h *host) finish(err error) {
	h.mu.Lock()
	req := h.closeReq
	if h.dropTimer != nil {
		h.dropTimer.Stop()
	}
	h.mu.Unlock()

	var ce *websocket.CloseError
	isClose := errors.As(err, &ce)
	switch {
	case req != nil && isClose:
		h.cb.OnClose(req.code, req.reason, true)
	case isClose:
		h.cb.OnClose(uint16(ce.Code), ce.Text, true)
	case req != nil:
		// peer never answered our close frame
		h.cb.OnClose(transport.CodeAbnormal, "", false)
	default:
		h.logger.Debug("websocket read failed", zap.Error(err))
		h.cb.OnError(fmt.Errorf("websocket read: %w", err))
		h.cb.OnClose(transport.CodeAbnormal, "", false)
	}
}

func (h *host) Send(f transport.Frame) error {
	h.mu.Lock()
	conn := h.conn
	closing := h.closeReq != nil
	h.mu.Unlock()
	if conn == nil || closing {
		return transport.ErrTransportClosed
	}

	typ := websocket.BinaryMessage
	if f.Type == transport.FrameText {
		typ = websocket.TextMessage
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if err := conn.WriteMessage(typ, f.Data); err != nil {
		return fmt.Errorf("%w: %v", transport.ErrTransportClosed, err)
	}
	return nil
}

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
	h.sendClose(conn, req)
	return nil
}

// sendClose writes the close frame and arms a timer that drops the
// connection if the peer does not answer in time.
func (h *host) sendClose(conn *websocket.Conn, req *closeRequest) {
	msg := websocket.FormatCloseMessage(int(req.code), req.reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.closeTimeout)); err != nil {
		h.logger.Debug("write close frame", zap.Error(err))
		conn.Close()
		return
	}

	h.mu.Lock()
	h.dropTimer = time.AfterFunc(h.closeTimeout, func() { conn.Close() })
	h.mu.Unlock()
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

func frameType(t int) transport.FrameType {
	switch t {
	case websocket.TextMessage:
		return transport.FrameText
	case websocket.BinaryMessage:
		return transport.FrameBinary
	default:
		return transport.FrameUnknown
	}
}
