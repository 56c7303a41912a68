package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(queue, replay int) *EventBus {
	return New(Config{
		SubscriberQueue: queue,
		ReplaySize:      replay,
		ReplayMaxAge:    time.Minute,
	}, nil)
}

func TestPublishAssignsMonotonicSequence(t *testing.T) {
	eb := newTestBus(8, 16)

	first := eb.Publish(KindDetection, "a")
	second := eb.Publish(KindDeviceError, "b")
	third := eb.Publish(KindDetection, "c")

	assert.Equal(t, uint64(1), first)
	assert.Equal(t, uint64(2), second)
	assert.Equal(t, uint64(3), third)
	assert.Equal(t, uint64(3), eb.LastSequence())
}

func TestSubscriberReceivesEvents(t *testing.T) {
	eb := newTestBus(8, 16)

	sub, err := eb.Subscribe()
	require.NoError(t, err)

	eb.Publish(KindDetection, "robin")

	select {
	case ev := <-sub.Events():
		assert.Equal(t, KindDetection, ev.Kind)
		assert.Equal(t, "robin", ev.Payload)
		assert.Equal(t, uint64(1), ev.Sequence)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestSlowSubscriberDropsOldestOnly(t *testing.T) {
	eb := newTestBus(2, 32)

	slow, err := eb.Subscribe()
	require.NoError(t, err)
	fast, err := eb.Subscribe()
	require.NoError(t, err)

	// Fill well past the slow subscriber's queue without draining it.
	for i := 0; i < 6; i++ {
		eb.Publish(KindDetection, i)
		// keep the fast subscriber drained
		<-fast.Events()
	}

	// Slow subscriber holds only the newest two events.
	first := <-slow.Events()
	second := <-slow.Events()
	assert.Equal(t, uint64(5), first.Sequence)
	assert.Equal(t, uint64(6), second.Sequence)
	assert.Equal(t, uint64(4), slow.Dropped())

	// The fast subscriber was unaffected.
	assert.Zero(t, fast.Dropped())
}

func TestPublishNeverBlocks(t *testing.T) {
	eb := newTestBus(1, 4)

	_, err := eb.Subscribe()
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			eb.Publish(KindDetection, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on an undrained subscriber")
	}
}

func TestResumeReplaysMissedEvents(t *testing.T) {
	eb := newTestBus(16, 16)

	for i := 0; i < 5; i++ {
		eb.Publish(KindDetection, i)
	}

	sub, err := eb.Resume(2)
	require.NoError(t, err)

	var got []uint64
	for len(got) < 3 {
		select {
		case ev := <-sub.Events():
			got = append(got, ev.Sequence)
		case <-time.After(time.Second):
			t.Fatal("replay incomplete")
		}
	}
	assert.Equal(t, []uint64{3, 4, 5}, got)
	assert.Equal(t, uint64(3), eb.Stats().Replayed)
}

func TestResumeBoundedByReplaySize(t *testing.T) {
	eb := newTestBus(16, 4)

	for i := 0; i < 10; i++ {
		eb.Publish(KindDetection, i)
	}

	// Replay window holds sequences 7..10 only; earlier events are gone.
	sub, err := eb.Resume(0)
	require.NoError(t, err)

	ev := <-sub.Events()
	assert.Equal(t, uint64(7), ev.Sequence)
}

func TestResumeExpiresOldEvents(t *testing.T) {
	eb := New(Config{
		SubscriberQueue: 16,
		ReplaySize:      16,
		ReplayMaxAge:    time.Nanosecond,
	}, nil)

	eb.Publish(KindDetection, "stale")
	time.Sleep(10 * time.Millisecond)

	sub, err := eb.Resume(0)
	require.NoError(t, err)

	select {
	case ev := <-sub.Events():
		t.Fatalf("expected no replay, got sequence %d", ev.Sequence)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	eb := newTestBus(8, 16)

	sub, err := eb.Subscribe()
	require.NoError(t, err)
	eb.Unsubscribe(sub)

	_, open := <-sub.Events()
	assert.False(t, open)

	// Unsubscribing twice is harmless.
	eb.Unsubscribe(sub)
}

func TestShutdown(t *testing.T) {
	eb := newTestBus(8, 16)

	sub, err := eb.Subscribe()
	require.NoError(t, err)
	eb.Publish(KindDetection, "last")

	go func() {
		for range sub.Events() {
		}
	}()

	require.NoError(t, eb.Shutdown(time.Second))

	// Publishes after shutdown are discarded.
	assert.Zero(t, eb.Publish(KindDetection, "late"))

	_, err = eb.Subscribe()
	assert.Error(t, err)
}
