package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch Subscription) interface{} {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestPublishSubscribe(t *testing.T) {
	b := New(8, nil)
	defer b.Close()

	sub := b.Subscribe(TopicConnectionState)
	b.Publish(TopicConnectionState, "connected")
	b.Publish("other.topic", "ignored")
	b.Publish(TopicConnectionState, "degraded")

	assert.Equal(t, "connected", receive(t, sub))
	assert.Equal(t, "degraded", receive(t, sub))
}

func TestFanOut(t *testing.T) {
	b := New(4, nil)
	defer b.Close()

	a := b.Subscribe(TopicConnectionState)
	c := b.Subscribe(TopicConnectionState)
	b.Publish(TopicConnectionState, 42)

	assert.Equal(t, 42, receive(t, a))
	assert.Equal(t, 42, receive(t, c))
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New(4, nil)
	defer b.Close()

	sub := b.Subscribe(TopicConnectionState)
	b.Unsubscribe(sub)

	select {
	case _, ok := <-sub:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}
}

func TestUnsubscribeWithBlockedPublisher(t *testing.T) {
	tests := []struct {
		name   string
		topics []string
	}{
		{"all topics", nil},
		{"named topic", []string{TopicConnectionState}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(1, nil)
			defer b.Close()

			sub := b.Subscribe(TopicConnectionState)
			published := make(chan struct{})
			go func() {
				// The second message finds the buffer full and blocks the bus.
				b.Publish(TopicConnectionState, "connected")
				b.Publish(TopicConnectionState, "degraded")
				close(published)
			}()
			require.Eventually(t, func() bool { return len(sub) == 1 }, time.Second, 5*time.Millisecond)
			time.Sleep(20 * time.Millisecond)

			unsubscribed := make(chan struct{})
			go func() {
				b.Unsubscribe(sub, tt.topics...)
				close(unsubscribed)
			}()

			select {
			case <-unsubscribed:
			case <-time.After(time.Second):
				t.Fatal("Unsubscribe hung behind a blocked publisher")
			}
			select {
			case <-published:
			case <-time.After(time.Second):
				t.Fatal("publisher still blocked after Unsubscribe")
			}

			// The bus keeps serving other subscribers.
			other := b.Subscribe(TopicConnectionState)
			b.Publish(TopicConnectionState, "failed")
			assert.Equal(t, "failed", receive(t, other))
		})
	}
}

func TestPublishWithoutSubscribersDoesNotBlock(t *testing.T) {
	b := New(1, nil)
	defer b.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(TopicConnectionState, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked with no subscribers")
	}
}

func TestPayloadType(t *testing.T) {
	assert.Equal(t, "<nil>", payloadType(nil))
	assert.Equal(t, "string", payloadType("x"))
}
