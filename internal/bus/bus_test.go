package bus

// ============================================================================
// Memory Bus Test File
// Purpose: Verify pattern matching, delivery, handler isolation, shutdown
// ============================================================================

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStartedBus(t *testing.T) *MemoryBus {
	t.Helper()
	b := NewMemoryBus(64)
	b.Start()
	t.Cleanup(b.Stop)
	return b
}

// ============================================================================
// Pattern Matching
// ============================================================================

func TestTopicMatch(t *testing.T) {
	cases := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"contractnet/cfp", "contractnet/cfp", true},
		{"contractnet/cfp", "contractnet/proposal", false},
		{"contractnet/#", "contractnet/accept/machine-1", true},
		{"contractnet/#", "contractnet", true}, // trailing # matches the parent level
		{"contractnet/#", "home/bedroom1/temperature", false},
		{"home/bedroom1/temperature/#", "home/bedroom1/temperature/s1", true},
		{"home/bedroom1/temperature/#", "home/bedroom1/humidity/s1", false},
		{"home/+/average", "home/bedroom1/average", true},
		{"home/+/average", "home/bedroom1/temperature/average", false},
		{"home/bedroom1/+/average", "home/bedroom1/temperature/average", true},
		{"home/bedroom1/+/average", "home/bedroom1/temperature/s1", false},
		{"a/b", "a/b/c", false},
		{"a/b/c", "a/b", false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, TopicMatch(tc.pattern, tc.topic),
			"pattern %q vs topic %q", tc.pattern, tc.topic)
	}
}

// ============================================================================
// Delivery
// ============================================================================

func TestPublishSubscribe(t *testing.T) {
	b := newStartedBus(t)

	received := make(chan string, 1)
	b.Subscribe("contractnet/cfp", func(topic string, payload []byte) {
		received <- string(payload)
	})

	require.NoError(t, b.Publish("contractnet/cfp", []byte("hello")))

	select {
	case got := <-received:
		assert.Equal(t, "hello", got)
	case <-time.After(2 * time.Second):
		t.Fatal("message was not delivered")
	}
}

func TestWildcardDelivery(t *testing.T) {
	b := newStartedBus(t)

	received := make(chan string, 4)
	b.Subscribe("home/bedroom1/temperature/#", func(topic string, payload []byte) {
		received <- topic
	})

	require.NoError(t, b.Publish("home/bedroom1/temperature/s1", []byte("1")))
	require.NoError(t, b.Publish("home/bedroom1/humidity/s1", []byte("2")))
	require.NoError(t, b.Publish("home/bedroom1/temperature/s2", []byte("3")))

	var topics []string
	for len(topics) < 2 {
		select {
		case topic := <-received:
			topics = append(topics, topic)
		case <-time.After(2 * time.Second):
			t.Fatalf("expected 2 deliveries, got %d", len(topics))
		}
	}
	assert.ElementsMatch(t, []string{"home/bedroom1/temperature/s1", "home/bedroom1/temperature/s2"}, topics)

	// The humidity topic must not show up.
	select {
	case topic := <-received:
		t.Fatalf("unexpected delivery on %s", topic)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPerSenderOrdering(t *testing.T) {
	b := newStartedBus(t)

	received := make(chan string, 8)
	b.Subscribe("orders/#", func(topic string, payload []byte) {
		received <- string(payload)
	})

	for _, msg := range []string{"first", "second", "third"} {
		require.NoError(t, b.Publish("orders/x", []byte(msg)))
	}

	for _, want := range []string{"first", "second", "third"} {
		select {
		case got := <-received:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatal("delivery stalled")
		}
	}
}

// ============================================================================
// Handler Isolation
// ============================================================================

func TestHandlerPanicDoesNotStopDelivery(t *testing.T) {
	b := newStartedBus(t)

	received := make(chan struct{}, 2)
	b.Subscribe("contractnet/cfp", func(topic string, payload []byte) {
		panic("boom")
	})
	b.Subscribe("contractnet/cfp", func(topic string, payload []byte) {
		received <- struct{}{}
	})

	require.NoError(t, b.Publish("contractnet/cfp", []byte("1")))
	require.NoError(t, b.Publish("contractnet/cfp", []byte("2")))

	for i := 0; i < 2; i++ {
		select {
		case <-received:
		case <-time.After(2 * time.Second):
			t.Fatal("panicking sibling handler blocked delivery")
		}
	}
}

// ============================================================================
// Shutdown
// ============================================================================

func TestPublishAfterStop(t *testing.T) {
	b := NewMemoryBus(4)
	b.Start()
	b.Stop()

	err := b.Publish("contractnet/cfp", []byte("late"))
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestStopIsIdempotent(t *testing.T) {
	b := NewMemoryBus(4)
	b.Start()
	b.Stop()
	assert.NotPanics(t, b.Stop)
}
