package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/risa-org/wsstream/wserr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// collect drains a subscription until its channel closes or the timeout hits.
func collect[T any](t *testing.T, s *Subscription[T], want int) []T {
	t.Helper()

	var got []T
	deadline := time.After(2 * time.Second)
	for len(got) < want {
		select {
		case v, ok := <-s.C():
			if !ok {
				return got
			}
			got = append(got, v)
		case <-deadline:
			t.Fatalf("timed out after %d of %d values", len(got), want)
		}
	}
	return got
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	n := New[int](zap.NewNop())
	n.Publish(1)
	n.Close()
	n.Publish(2)
	assert.Equal(t, 0, n.Len())
}

// TestFanOutOrderNoLossNoDuplication publishes N values to M subscribers
// and checks every subscriber sees all of them, once, in order.
func TestFanOutOrderNoLossNoDuplication(t *testing.T) {
	const subscribers = 8
	const values = 500

	n := New[int](nil)
	subs := make([]*Subscription[int], subscribers)
	for i := range subs {
		subs[i] = n.Subscribe(context.Background(), nil)
	}

	for i := 0; i < values; i++ {
		n.Publish(i)
	}

	// queues are unbounded, so draining one subscriber at a time is fine
	results := make([][]int, subscribers)
	for i, s := range subs {
		results[i] = collect(t, s, values)
	}

	for i, got := range results {
		require.Len(t, got, values, "subscriber %d", i)
		for j, v := range got {
			assert.Equal(t, j, v, "subscriber %d position %d", i, j)
		}
	}
}

// TestSlowSubscriberDoesNotBlockPublisher never reads from one subscription
// while publishing a lot.
func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	n := New[int](nil)
	stuck := n.Subscribe(context.Background(), nil)
	defer stuck.Close()
	fast := n.Subscribe(context.Background(), nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			n.Publish(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}

	got := collect(t, fast, 10000)
	assert.Len(t, got, 10000)
}

func TestFilter(t *testing.T) {
	n := New[int](nil)
	even := n.Subscribe(context.Background(), func(v int) bool { return v%2 == 0 })

	for i := 0; i < 10; i++ {
		n.Publish(i)
	}
	n.Close()

	got := collect(t, even, 100)
	assert.Equal(t, []int{0, 2, 4, 6, 8}, got)
}

// TestFilterRunsOffThePublisher checks a filter can block on a lock the
// publisher holds, and may use the notifier itself.
func TestFilterRunsOffThePublisher(t *testing.T) {
	n := New[int](nil)
	var mu sync.Mutex
	s := n.Subscribe(context.Background(), func(v int) bool {
		mu.Lock()
		defer mu.Unlock()
		return n.Len() > 0 && v > 0
	})

	published := make(chan struct{})
	go func() {
		mu.Lock()
		defer mu.Unlock()
		n.Publish(0)
		n.Publish(1)
		close(published)
	}()

	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("publish waited on a filter")
	}

	assert.Equal(t, []int{1}, collect(t, s, 1))
	s.Close()
}

// TestSubscriberOnlySeesValuesAfterSubscribe checks there is no replay.
func TestSubscriberOnlySeesValuesAfterSubscribe(t *testing.T) {
	n := New[string](nil)
	n.Publish("before")
	s := n.Subscribe(context.Background(), nil)
	n.Publish("after")
	n.Close()

	assert.Equal(t, []string{"after"}, collect(t, s, 10))
}

// TestCloseDrainsQueuedValuesThenEnds checks teardown keeps queued values.
func TestCloseDrainsQueuedValuesThenEnds(t *testing.T) {
	n := New[int](nil)
	s := n.Subscribe(context.Background(), nil)

	n.Publish(1)
	n.Publish(2)
	n.Close()
	n.Publish(3)

	assert.Equal(t, []int{1, 2}, collect(t, s, 10))

	_, ok, err := s.Next(context.Background())
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestSubscribeAfterCloseIsEnded(t *testing.T) {
	n := New[int](nil)
	n.Close()

	s := n.Subscribe(context.Background(), nil)
	select {
	case _, ok := <-s.C():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription to a closed notifier never ended")
	}
}

func TestUnsubscribeIsImmediateAndIdempotent(t *testing.T) {
	n := New[int](nil)
	s := n.Subscribe(context.Background(), nil)
	n.Publish(1)

	require.NoError(t, n.Unsubscribe(s))
	require.NoError(t, n.Unsubscribe(s))
	assert.Equal(t, 0, n.Len())

	// channel closes; a queued value may or may not have been handed over
	// before the pump saw the cancellation, but nothing after it
	n.Publish(2)
	for v := range s.C() {
		assert.Equal(t, 1, v)
	}
}

func TestUnsubscribeForeignSubscription(t *testing.T) {
	a := New[int](nil)
	b := New[int](nil)
	s := a.Subscribe(context.Background(), nil)
	defer s.Close()

	err := b.Unsubscribe(s)
	assert.ErrorIs(t, err, wserr.ErrInconsistentObserver)
	assert.Equal(t, 1, a.Len())

	assert.ErrorIs(t, b.Unsubscribe(nil), wserr.ErrInconsistentObserver)
}

// TestAbandonedSubscriberIsPruned simulates a subscriber that goes away
// without unsubscribing: its context ends and the notifier keeps working.
func TestAbandonedSubscriberIsPruned(t *testing.T) {
	n := New[int](nil)
	ctx, cancel := context.WithCancel(context.Background())
	abandoned := n.Subscribe(ctx, nil)
	live := n.Subscribe(context.Background(), nil)

	cancel()
	// wait for the abandoned pump to notice
	for range abandoned.C() {
	}

	n.Publish(42)
	assert.Equal(t, 1, n.Len())
	assert.Equal(t, []int{42}, collect(t, live, 1))
}

// TestUndrainedSubscriberReleasedByContext checks a subscriber that stops
// reading after teardown still lets its pump exit once ctx ends.
func TestUndrainedSubscriberReleasedByContext(t *testing.T) {
	n := New[int](nil)
	ctx, cancel := context.WithCancel(context.Background())
	s := n.Subscribe(ctx, nil)

	n.Publish(1)
	n.Publish(2)
	n.Close()

	// nobody reads; the pump is parked handing over 1
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-s.C():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("pump never exited after ctx ended")
		}
	}
}

func TestNextHonoursContext(t *testing.T) {
	n := New[int](nil)
	s := n.Subscribe(context.Background(), nil)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok, err := s.Next(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
