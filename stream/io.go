package stream

import (
	"context"
	"io"

	"github.com/risa-org/wsstream/message"
)

// ReadWriter is an io.ReadWriteCloser over a Stream. Reads return the
// bytes of inbound messages back to back, whatever their variant; each
// Write sends one binary message.
type ReadWriter struct {
	ctx context.Context
	s   *Stream
	buf []byte
}

var _ io.ReadWriteCloser = (*ReadWriter)(nil)

// NewReadWriter wraps s. ctx bounds every blocking Read and the Close.
func NewReadWriter(ctx context.Context, s *Stream) *ReadWriter {
	return &ReadWriter{ctx: ctx, s: s}
}

func (rw *ReadWriter) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for len(rw.buf) == 0 {
		msg, err := rw.s.Next(rw.ctx)
		if err != nil {
			return 0, err
		}
		rw.buf = msg.Bytes()
	}
	n := copy(p, rw.buf)
	rw.buf = rw.buf[n:]
	return n, nil
}

func (rw *ReadWriter) Write(p []byte) (int, error) {
	// the transport may hold on to the frame, p belongs to the caller
	data := make([]byte, len(p))
	copy(data, p)
	if err := rw.s.Send(message.Binary(data)); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (rw *ReadWriter) Close() error {
	return rw.s.Close(rw.ctx)
}
