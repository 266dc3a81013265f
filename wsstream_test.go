package wsstream

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/risa-org/wsstream/conn"
	"github.com/risa-org/wsstream/message"
	"github.com/risa-org/wsstream/metrics"
	"github.com/risa-org/wsstream/stream"
	"github.com/risa-org/wsstream/transport"
	"github.com/risa-org/wsstream/transport/transporttest"
	"github.com/risa-org/wsstream/wserr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect(t *testing.T) {
	host := transporttest.New()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	h, s, err := Connect(ctx, transporttest.Dialer(host, 0))
	require.NoError(t, err)
	assert.Equal(t, conn.StateOpen, h.State())
	assert.Same(t, h, s.Handle())

	require.NoError(t, s.Send(message.Text("hi")))
	require.Len(t, host.Sent(), 1)

	host.Callbacks.OnMessage(transport.Frame{Type: transport.FrameText, Data: []byte("back")})
	m, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "back", m.String())

	host.Callbacks.OnClose(1000, "", true)
	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestConnectRefused(t *testing.T) {
	host := transporttest.New()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	h, s, err := Connect(ctx, transporttest.Dialer(host, 1006))
	require.Error(t, err)
	assert.ErrorIs(t, err, wserr.ErrConnectionFailed)
	assert.Contains(t, err.Error(), "code=1006")
	assert.Nil(t, h)
	assert.Nil(t, s)
}

func TestConnectTimeout(t *testing.T) {
	host := transporttest.New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// the plain host never reports open
	_, _, err := Connect(ctx, host)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.Eventually(t, func() bool { return len(host.CloseRequests()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestConnectOptions(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	host := transporttest.New()

	_, s, err := Connect(context.Background(), transporttest.Dialer(host, 0),
		WithMetrics(m),
		WithStreamConfig(stream.Config{Capacity: 1}),
	)
	require.NoError(t, err)

	host.Callbacks.OnMessage(transport.Frame{Type: transport.FrameText, Data: []byte("1")})
	host.Callbacks.OnMessage(transport.Frame{Type: transport.FrameText, Data: []byte("2")})

	assert.Equal(t, 1, s.Buffered())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.QueueOverflows))
}
