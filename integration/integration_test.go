package integration

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/risa-org/wsstream"
	"github.com/risa-org/wsstream/conn"
	"github.com/risa-org/wsstream/event"
	"github.com/risa-org/wsstream/message"
	"github.com/risa-org/wsstream/stream"
	"github.com/risa-org/wsstream/transport"
	"github.com/risa-org/wsstream/transport/gorilla"
	"github.com/risa-org/wsstream/transport/tcp"
	wsbinding "github.com/risa-org/wsstream/transport/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

// ------------------------------------------------------------
// Echo peer
// ------------------------------------------------------------

// serveEcho runs the library on the accepting side too: each connection
// gets its own handle and stream, and every message is sent back. The
// text message "bye" makes the server close with 4000.
func serveEcho(bind func(transport.Callbacks) transport.Host) {
	q := stream.NewQueue(stream.Config{})
	h := conn.New(q)
	h.Attach(bind(h))
	s := stream.New(h, q)

	go func() {
		ctx := context.Background()
		for msg, err := range s.All(ctx) {
			if err != nil {
				return
			}
			if msg.IsText() && msg.String() == "bye" {
				h.CloseReason(ctx, 4000, "server says bye")
				return
			}
			if err := s.Send(msg); err != nil {
				return
			}
		}
	}()
}

func nhooyrPeer(t *testing.T) transport.Dialer {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		serveEcho(func(cb transport.Callbacks) transport.Host { return wsbinding.New(c, cb, nil) })
	}))
	t.Cleanup(srv.Close)
	return &wsbinding.Dialer{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

func gorillaPeer(t *testing.T) transport.Dialer {
	var upgrader gws.Upgrader
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		serveEcho(func(cb transport.Callbacks) transport.Host { return gorilla.New(c, cb, nil) })
	}))
	t.Cleanup(srv.Close)
	return &gorilla.Dialer{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

func tcpPeer(t *testing.T) transport.Dialer {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			serveEcho(func(cb transport.Callbacks) transport.Host { return tcp.New(c, cb, tcp.Options{}) })
		}
	}()
	return &tcp.Dialer{URL: "tcp://" + ln.Addr().String()}
}

var peers = []struct {
	name string
	dial func(*testing.T) transport.Dialer
}{
	{"nhooyr", nhooyrPeer},
	{"gorilla", gorillaPeer},
	{"tcp", tcpPeer},
}

// ------------------------------------------------------------
// Tests
// ------------------------------------------------------------

func connect(t *testing.T, d transport.Dialer) (*conn.Handle, *stream.Stream) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h, s, err := wsstream.Connect(ctx, d)
	require.NoError(t, err)
	return h, s
}

func TestEchoAndClientClose(t *testing.T) {
	for _, p := range peers {
		t.Run(p.name, func(t *testing.T) {
			h, s := connect(t, p.dial(t))
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			sub := h.Observe(ctx, event.Kinds(event.KindClosing, event.KindClosed))

			sent := []message.Message{
				message.Text("hello"),
				message.Binary([]byte{1, 2, 3}),
				message.Text(""),
				message.Binary(nil),
			}
			for _, m := range sent {
				require.NoError(t, s.Send(m))
			}
			for i, want := range sent {
				got, err := s.Next(ctx)
				require.NoError(t, err, "message %d", i)
				assert.True(t, want.Equal(got), "message %d: got %s want %s", i, got.Type(), want.Type())
			}

			ce, err := h.CloseReason(ctx, 4001, "client done")
			require.NoError(t, err)
			assert.Equal(t, event.CloseEvent{Code: 4001, Reason: "client done", WasClean: true}, ce)
			assert.Equal(t, conn.StateClosed, h.State())

			ev, ok, err := sub.Next(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, event.KindClosing, ev.Kind)
			ev, ok, err = sub.Next(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, event.KindClosed, ev.Kind)
			_, ok, _ = sub.Next(ctx)
			assert.False(t, ok, "observation must end after Closed")

			_, err = s.Next(ctx)
			assert.ErrorIs(t, err, io.EOF)
			assert.NoError(t, h.Err())
		})
	}
}

func TestServerClose(t *testing.T) {
	for _, p := range peers {
		t.Run(p.name, func(t *testing.T) {
			h, s := connect(t, p.dial(t))
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			require.NoError(t, s.Send(message.Text("first")))
			require.NoError(t, s.Send(message.Text("bye")))

			got, err := s.Next(ctx)
			require.NoError(t, err)
			assert.Equal(t, "first", got.String())

			_, err = s.Next(ctx)
			assert.ErrorIs(t, err, io.EOF)

			select {
			case <-h.Done():
			case <-ctx.Done():
				t.Fatal("handle never closed")
			}
			ce, ok := h.CloseEvent()
			require.True(t, ok)
			assert.Equal(t, uint16(4000), ce.Code)
			assert.Equal(t, "server says bye", ce.Reason)
			assert.True(t, ce.WasClean)
		})
	}
}

func TestReadWriterOverTransport(t *testing.T) {
	for _, p := range peers {
		t.Run(p.name, func(t *testing.T) {
			_, s := connect(t, p.dial(t))
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			rw := stream.NewReadWriter(ctx, s)
			_, err := rw.Write([]byte("ping"))
			require.NoError(t, err)

			buf := make([]byte, 4)
			_, err = io.ReadFull(rw, buf)
			require.NoError(t, err)
			assert.Equal(t, "ping", string(buf))

			require.NoError(t, rw.Close())
		})
	}
}
