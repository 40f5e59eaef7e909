package streaming

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/pineapple/pkg/schema"
)

func receive(t *testing.T, ch <-chan StreamEvent) StreamEvent {
	t.Helper()
	select {
	case got, ok := <-ch:
		require.True(t, ok, "channel closed")
		return got
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return StreamEvent{}
}

func assertNoEvent(t *testing.T, ch <-chan StreamEvent) {
	t.Helper()
	select {
	case evt, ok := <-ch:
		if ok {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishSubscribe(t *testing.T) {
	hub := NewMemoryHub(0)
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	event := StreamEvent{
		ExecutionID: "exec-1",
		ResultID:    "res-1",
		EventType:   schema.EventResultCompleted,
		State:       "SUCCESS",
		Module:      "webapp",
	}
	require.NoError(t, hub.Publish(ctx, event))

	got := receive(t, ch)
	assert.Equal(t, event, got)
}

func TestFilters(t *testing.T) {
	tests := []struct {
		name   string
		filter EventFilter
		want   []string // result ids received
	}{
		{"no filter", EventFilter{}, []string{"a", "b", "c"}},
		{"by execution", EventFilter{ExecutionID: "exec-1"}, []string{"a", "c"}},
		{"by module", EventFilter{Module: "db"}, []string{"b"}},
		{"by event type", EventFilter{EventTypes: []string{schema.EventExecutionCompleted}}, []string{"c"}},
		{"combined", EventFilter{ExecutionID: "exec-1", EventTypes: []string{schema.EventResultStarted}}, []string{"a"}},
	}
	events := []StreamEvent{
		{ExecutionID: "exec-1", ResultID: "a", Module: "webapp", EventType: schema.EventResultStarted},
		{ExecutionID: "exec-2", ResultID: "b", Module: "db", EventType: schema.EventResultStarted},
		{ExecutionID: "exec-1", ResultID: "c", Module: "webapp", EventType: schema.EventExecutionCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := NewMemoryHub(0)
			ctx := context.Background()
			ch, cancel, err := hub.Subscribe(ctx, tt.filter)
			require.NoError(t, err)
			defer cancel()

			for _, e := range events {
				require.NoError(t, hub.Publish(ctx, e))
			}
			var got []string
			for range tt.want {
				got = append(got, receive(t, ch).ResultID)
			}
			assert.Equal(t, tt.want, got)
			assertNoEvent(t, ch)
		})
	}
}

func TestMultipleSubscribers(t *testing.T) {
	hub := NewMemoryHub(0)
	ctx := context.Background()

	ch1, cancel1, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel1()

	ch2, cancel2, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel2()

	require.NoError(t, hub.Publish(ctx, StreamEvent{ExecutionID: "exec-1", EventType: schema.EventExecutionStarted}))

	for _, ch := range []<-chan StreamEvent{ch1, ch2} {
		got := receive(t, ch)
		assert.Equal(t, "exec-1", got.ExecutionID)
		assert.Equal(t, schema.EventExecutionStarted, got.EventType)
	}
	assert.Equal(t, 2, hub.Subscribers())
}

func TestCancelSubscription(t *testing.T) {
	hub := NewMemoryHub(0)
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)

	cancel()
	cancel()

	require.NoError(t, hub.Publish(ctx, StreamEvent{ExecutionID: "exec-1"}))

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed")
	assert.Equal(t, 0, hub.Subscribers())
}

func TestBackpressure(t *testing.T) {
	hub := NewMemoryHub(4)
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	// None of these may block.
	for range 10 {
		require.NoError(t, hub.Publish(ctx, StreamEvent{ExecutionID: "exec-1"}))
	}

	drained := 0
	for len(ch) > 0 {
		<-ch
		drained++
	}
	assert.Equal(t, 4, drained)
	assert.Equal(t, uint64(6), hub.Dropped())
}

func TestClose(t *testing.T) {
	hub := NewMemoryHub(0)
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)

	require.NoError(t, hub.Close())
	require.NoError(t, hub.Close())

	_, ok := <-ch
	assert.False(t, ok)
	cancel()

	err = hub.Publish(ctx, StreamEvent{})
	assert.True(t, schema.HasCode(err, schema.ErrCodeShutdown))
	_, _, err = hub.Subscribe(ctx, EventFilter{})
	assert.True(t, schema.HasCode(err, schema.ErrCodeShutdown))
}

func TestConcurrentAccess(t *testing.T) {
	hub := NewMemoryHub(0)
	ctx := context.Background()
	const goroutines = 20
	const eventsPerGoroutine = 50

	var wg sync.WaitGroup

	cancels := make([]func(), goroutines)
	for i := range goroutines {
		_, cancel, err := hub.Subscribe(ctx, EventFilter{})
		require.NoError(t, err)
		cancels[i] = cancel
	}
	defer func() {
		for _, c := range cancels {
			c()
		}
	}()

	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range eventsPerGoroutine {
				_ = hub.Publish(ctx, StreamEvent{ExecutionID: "exec-concurrent"})
			}
		}()
	}

	// Subscribers come and go while publishing.
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
			if err != nil {
				return
			}
			for range 5 {
				select {
				case <-ch:
				case <-time.After(10 * time.Millisecond):
				}
			}
			cancel()
		}()
	}

	wg.Wait()
}

func TestCancelledContext(t *testing.T) {
	hub := NewMemoryHub(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, hub.Publish(ctx, StreamEvent{}), context.Canceled)
	_, _, err := hub.Subscribe(ctx, EventFilter{})
	assert.ErrorIs(t, err, context.Canceled)
}
