// Package tcp carries framed messages over a raw stream connection, with a
// closing handshake modelled on WebSocket's.
package tcp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/risa-org/wsstream/transport"
	"github.com/risa-org/wsstream/wserr"
	"go.uber.org/zap"
)

// Wire format for each frame:
//
//	[1 byte: opcode][4 bytes: payload length uint32 big-endian][N bytes: payload]
//
// A close frame's payload is a 2 byte big-endian code followed by the
// UTF-8 reason. Either side may send one; the other answers with the same
// code and both then drop the connection.
const (
	opText   byte = 1
	opBinary byte = 2
	opClose  byte = 8

	headerSize = 5
)

const (
	// DefaultMaxFrameSize bounds one inbound payload.
	DefaultMaxFrameSize = 16 << 20
	// DefaultCloseTimeout is how long a close waits for the answering frame.
	DefaultCloseTimeout = 5 * time.Second
)

var errFrameTooLarge = errors.New("tcp: frame exceeds size limit")

// Options tunes a host. The zero value uses the defaults.
type Options struct {
	MaxFrameSize int
	CloseTimeout time.Duration
	Logger       *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = DefaultMaxFrameSize
	}
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = DefaultCloseTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Dialer connects to tcp://host:port URLs.
type Dialer struct {
	URL     string
	Timeout time.Duration
	Options Options
}

var _ transport.Dialer = (*Dialer)(nil)

// Dial validates the URL and connects in the background.
func (d *Dialer) Dial(ctx context.Context, cb transport.Callbacks) (transport.Host, error) {
	u, err := transport.ParseURL(d.URL, "tcp")
	if err != nil {
		return nil, err
	}
	h := newHost(cb, d.Options)
	dialCtx, cancel := context.WithCancel(ctx)
	h.cancelDial = cancel

	go func() {
		nd := net.Dialer{Timeout: d.Timeout}
		conn, err := nd.DialContext(dialCtx, "tcp", u.Host)
		cancel()
		h.start(conn, err)
	}()
	return h, nil
}

// New wraps an established connection, such as one from net.Listener.Accept
// or net.Pipe. OnOpen fires right away from the read goroutine.
func New(conn net.Conn, cb transport.Callbacks, opts Options) transport.Host {
	h := newHost(cb, opts)
	go h.start(conn, nil)
	return h
}

type closeRequest struct {
	code   uint16
	reason string
}

// host implements transport.Host over a net.Conn.
type host struct {
	cb   transport.Callbacks
	opts Options

	writeMu sync.Mutex // one writer at a time, frames must not interleave

	mu         sync.Mutex
	conn       net.Conn
	closeReq   *closeRequest // we started the closing handshake
	closeSent  bool
	cancelDial context.CancelFunc
	dropTimer  *time.Timer
}

func newHost(cb transport.Callbacks, opts Options) *host {
	return &host{cb: cb, opts: opts.withDefaults()}
}

func (h *host) start(conn net.Conn, err error) {
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

	if req != nil {
		go h.sendClose(conn, req.code, req.reason)
	} else {
		h.opts.Logger.Debug("tcp open", zap.Stringer("remote", conn.RemoteAddr()))
		h.cb.OnOpen()
	}
	h.readLoop(conn)
}

func (h *host) readLoop(conn net.Conn) {
	defer conn.Close()

	for {
		op, payload, err := readFrame(conn, h.opts.MaxFrameSize)
		if err != nil {
			h.finish(err)
			return
		}

		switch op {
		case opText:
			h.cb.OnMessage(transport.Frame{Type: transport.FrameText, Data: payload})
		case opBinary:
			h.cb.OnMessage(transport.Frame{Type: transport.FrameBinary, Data: payload})
		case opClose:
			h.closeReceived(conn, payload)
			return
		default:
			h.cb.OnMessage(transport.Frame{Type: transport.FrameUnknown, Data: payload})
		}
	}
}

// closeReceived handles an inbound close frame: either the peer answering
// ours, or the peer starting the handshake, which we answer.
func (h *host) closeReceived(conn net.Conn, payload []byte) {
	code, reason := parseClose(payload)

	h.mu.Lock()
	req := h.closeReq
	answer := !h.closeSent
	h.closeSent = true
	if h.dropTimer != nil {
		h.dropTimer.Stop()
	}
	h.mu.Unlock()

	if answer {
		if err := h.writeFrame(conn, opClose, closePayload(code, "")); err != nil {
			h.opts.Logger.Debug("answer close frame", zap.Error(err))
		}
	}

	if req != nil {
		h.cb.OnClose(req.code, req.reason, true)
		return
	}
	h.cb.OnClose(code, reason, true)
}

func (h *host) finish(err error) {
	h.mu.Lock()
	req := h.closeReq
	if h.dropTimer != nil {
		h.dropTimer.Stop()
	}
	h.mu.Unlock()

	// EOF without a close frame: the peer went away without the handshake
	if req != nil || errors.Is(err, io.EOF) {
		h.cb.OnClose(transport.CodeAbnormal, "", false)
		return
	}
	h.opts.Logger.Debug("tcp read failed", zap.Error(err))
	h.cb.OnError(fmt.Errorf("tcp read: %w", err))
	h.cb.OnClose(transport.CodeAbnormal, "", false)
}

func (h *host) Send(f transport.Frame) error {
	h.mu.Lock()
	conn := h.conn
	closing := h.closeSent
	h.mu.Unlock()
	if conn == nil || closing {
		return transport.ErrTransportClosed
	}

	op := opBinary
	if f.Type == transport.FrameText {
		op = opText
	}
	if err := h.writeFrame(conn, op, f.Data); err != nil {
		return fmt.Errorf("%w: %v", transport.ErrTransportClosed, err)
	}
	return nil
}

// RequestClose sends the close frame from a separate goroutine, since a
// write can block on a peer that is not reading.
func (h *host) RequestClose(code uint16, reason string) error {
	h.mu.Lock()
	if h.closeReq != nil || h.closeSent {
		h.mu.Unlock()
		return nil
	}
	h.closeReq = &closeRequest{code: code, reason: reason}
	conn := h.conn
	cancelDial := h.cancelDial
	h.mu.Unlock()

	if conn == nil {
		if cancelDial != nil {
			cancelDial()
		}
		return nil
	}
	go h.sendClose(conn, code, reason)
	return nil
}

func (h *host) sendClose(conn net.Conn, code uint16, reason string) {
	h.mu.Lock()
	if h.closeSent {
		h.mu.Unlock()
		return
	}
	h.closeSent = true
	h.dropTimer = time.AfterFunc(h.opts.CloseTimeout, func() { conn.Close() })
	h.mu.Unlock()

	if err := h.writeFrame(conn, opClose, closePayload(code, reason)); err != nil {
		h.opts.Logger.Debug("write close frame", zap.Error(err))
		conn.Close()
	}
}

func (h *host) writeFrame(conn net.Conn, op byte, payload []byte) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	buf := make([]byte, headerSize+len(payload))
	buf[0] = op
	binary.BigEndian.PutUint32(buf[1:headerSize], uint32(len(payload)))
	copy(buf[headerSize:], payload)
	_, err := conn.Write(buf)
	return err
}

// readFrame reads exactly one frame. A Read() on a stream may return half
// a frame or two frames joined together, hence io.ReadFull.
func readFrame(r io.Reader, limit int) (byte, []byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(header[1:])
	if uint64(n) > uint64(limit) {
		return 0, nil, fmt.Errorf("%w: %d bytes", errFrameTooLarge, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return header[0], payload, nil
}

func closePayload(code uint16, reason string) []byte {
	p := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(p, code)
	copy(p[2:], reason)
	return p
}

func parseClose(p []byte) (uint16, string) {
	if len(p) < 2 {
		return transport.CodeNoStatus, ""
	}
	return binary.BigEndian.Uint16(p), string(p[2:])
}
