package event

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestKindConstantsAreDistinct guards against iota reordering bugs.
func TestKindConstantsAreDistinct(t *testing.T) {
	seen := make(map[Kind]bool)
	for _, k := range []Kind{KindOpen, KindError, KindClosing, KindClosed} {
		assert.False(t, seen[k], "duplicate kind %d", k)
		assert.NotEqual(t, "unknown", k.String())
		seen[k] = true
	}
	assert.Equal(t, "unknown", Kind(0).String())
}

func TestConstructors(t *testing.T) {
	cause := errors.New("boom")

	assert.Equal(t, KindOpen, Open().Kind)
	assert.Equal(t, KindClosing, Closing().Kind)

	e := Error(cause)
	assert.Equal(t, KindError, e.Kind)
	assert.Same(t, cause, e.Err)
	assert.Equal(t, "error(boom)", e.String())

	c := Closed(CloseEvent{Code: 1000, Reason: "bye", WasClean: true})
	assert.Equal(t, KindClosed, c.Kind)
	assert.Equal(t, CloseEvent{Code: 1000, Reason: "bye", WasClean: true}, c.Close)
	assert.Equal(t, `closed(code=1000 reason="bye" clean=true)`, c.String())
}

func TestKindsFilter(t *testing.T) {
	f := Kinds(KindOpen, KindClosed)

	assert.True(t, f(Open()))
	assert.True(t, f(Closed(CloseEvent{})))
	assert.False(t, f(Closing()))
	assert.False(t, f(Error(nil)))

	assert.True(t, Not(f)(Closing()))
	assert.False(t, Not(f)(Open()))
}
