package conn

import (
	"testing"

	"github.com/risa-org/wsstream/event"
	"github.com/risa-org/wsstream/wserr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewMachine checks that a fresh machine starts connecting
func TestNewMachine(t *testing.T) {
	m := NewMachine()
	assert.Equal(t, StateConnecting, m.Current())
	assert.Equal(t, 0, m.Errors())
}

// TestLegalSequences walks every legal path through the table
func TestLegalSequences(t *testing.T) {
	closed := event.Closed(event.CloseEvent{Code: 1000})

	cases := []struct {
		name   string
		events []event.Event
		want   []State
	}{
		{"open then remote close", []event.Event{event.Open(), closed}, []State{StateOpen, StateClosed}},
		{"open, local close, confirm", []event.Event{event.Open(), event.Closing(), closed}, []State{StateOpen, StateClosing, StateClosed}},
		{"refused while connecting", []event.Event{closed}, []State{StateClosed}},
		{"error while connecting", []event.Event{event.Error(nil), closed}, []State{StateConnecting, StateClosed}},
		{"close before open", []event.Event{event.Closing(), closed}, []State{StateClosing, StateClosed}},
		{"error while open", []event.Event{event.Open(), event.Error(nil), closed}, []State{StateOpen, StateOpen, StateClosed}},
		{"error while closing", []event.Event{event.Open(), event.Closing(), event.Error(nil), closed}, []State{StateOpen, StateClosing, StateClosing, StateClosed}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMachine()
			for i, ev := range tc.events {
				got, err := m.Transition(ev)
				require.NoError(t, err, "step %d (%s)", i, ev)
				assert.Equal(t, tc.want[i], got, "step %d (%s)", i, ev)
				assert.Equal(t, tc.want[i], m.Current())
			}
		})
	}
}

// TestInvalidTransitions makes sure illegal moves are rejected and the
// state is left alone
func TestInvalidTransitions(t *testing.T) {
	closed := event.Closed(event.CloseEvent{})

	cases := []struct {
		name  string
		setup []event.Event
		bad   event.Event
		state State
	}{
		{"open twice", []event.Event{event.Open()}, event.Open(), StateOpen},
		{"closing before open is fine but closing twice is not", []event.Event{event.Closing()}, event.Closing(), StateClosing},
		{"open while closing", []event.Event{event.Open(), event.Closing()}, event.Open(), StateClosing},
		{"anything after closed: open", []event.Event{closed}, event.Open(), StateClosed},
		{"anything after closed: closed", []event.Event{closed}, closed, StateClosed},
		{"anything after closed: closing", []event.Event{closed}, event.Closing(), StateClosed},
		{"anything after closed: error", []event.Event{closed}, event.Error(nil), StateClosed},
		{"unknown event", nil, event.Event{}, StateConnecting},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMachine()
			for _, ev := range tc.setup {
				_, err := m.Transition(ev)
				require.NoError(t, err)
			}

			got, err := m.Transition(tc.bad)
			assert.ErrorIs(t, err, wserr.ErrInvalidTransition)
			assert.Equal(t, tc.state, got)
			assert.Equal(t, tc.state, m.Current())
		})
	}
}

func TestErrorsAreRecorded(t *testing.T) {
	m := NewMachine()
	_, _ = m.Transition(event.Open())
	_, _ = m.Transition(event.Error(nil))
	_, _ = m.Transition(event.Error(nil))
	assert.Equal(t, 2, m.Errors())
	assert.Equal(t, StateOpen, m.Current())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "closing", StateClosing.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(99).String())
}
