package transporttest

import (
	"fmt"
	"testing"
	"time"

	"github.com/risa-org/wsstream/transport"
)

// Call is one callback a host made.
type Call struct {
	Name     string // "open", "message", "error" or "close"
	Frame    transport.Frame
	Err      error
	Code     uint16
	Reason   string
	WasClean bool
}

func (c Call) String() string {
	switch c.Name {
	case "message":
		return fmt.Sprintf("message(%d, %q)", c.Frame.Type, c.Frame.Data)
	case "error":
		return fmt.Sprintf("error(%v)", c.Err)
	case "close":
		return fmt.Sprintf("close(%d, %q, %t)", c.Code, c.Reason, c.WasClean)
	default:
		return c.Name
	}
}

// Recorder implements transport.Callbacks by queueing every call, so a
// test can check exactly what a binding reported and in which order.
type Recorder struct {
	calls chan Call
}

var _ transport.Callbacks = (*Recorder)(nil)

// NewRecorder returns a recorder with room for plenty of calls.
func NewRecorder() *Recorder {
	return &Recorder{calls: make(chan Call, 256)}
}

func (r *Recorder) OnOpen()                     { r.calls <- Call{Name: "open"} }
func (r *Recorder) OnMessage(f transport.Frame) { r.calls <- Call{Name: "message", Frame: f} }
func (r *Recorder) OnError(err error)           { r.calls <- Call{Name: "error", Err: err} }

func (r *Recorder) OnClose(code uint16, reason string, wasClean bool) {
	r.calls <- Call{Name: "close", Code: code, Reason: reason, WasClean: wasClean}
}

// Next returns the next call, failing the test after two seconds.
func (r *Recorder) Next(t testing.TB) Call {
	t.Helper()
	return r.NextWithin(t, 2*time.Second)
}

// NextWithin returns the next call, failing the test after d.
func (r *Recorder) NextWithin(t testing.TB, d time.Duration) Call {
	t.Helper()
	select {
	case c := <-r.calls:
		return c
	case <-time.After(d):
		t.Fatal("timed out waiting for a callback")
	}
	return Call{}
}

// Expect reads the next call and fails unless it is named name.
func (r *Recorder) Expect(t testing.TB, name string) Call {
	t.Helper()
	return r.ExpectWithin(t, name, 2*time.Second)
}

// ExpectWithin is Expect with a custom timeout.
func (r *Recorder) ExpectWithin(t testing.TB, name string, d time.Duration) Call {
	t.Helper()
	c := r.NextWithin(t, d)
	if c.Name != name {
		t.Fatalf("expected %s callback, got %s", name, c)
	}
	return c
}

// Quiet fails the test if any call arrives within d.
func (r *Recorder) Quiet(t testing.TB, d time.Duration) {
	t.Helper()
	select {
	case c := <-r.calls:
		t.Fatalf("unexpected callback %s", c)
	case <-time.After(d):
	}
}
