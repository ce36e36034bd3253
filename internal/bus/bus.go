// Package bus fans connection events out to any number of listeners.
package bus

import (
	"reflect"

	"github.com/cskr/pubsub"
	"github.com/sbctool/sbctool/internal/logger"
)

// Topics published by sbctool components.
const (
	TopicConnectionState = "connection.state"
)

// Subscription receives published messages until unsubscribed or the bus closes.
type Subscription chan interface{}

// MessageBus is the publish/subscribe surface components depend on.
type MessageBus interface {
	Publish(topic string, msg interface{})
	Subscribe(topic string) Subscription
	Unsubscribe(ch Subscription, topics ...string)
	Close()
}

// PubSubBus is a MessageBus backed by cskr/pubsub.
// Publish blocks while a subscriber's buffer is full, so subscribers must drain.
type PubSubBus struct {
	ps  *pubsub.PubSub
	log logger.Logger
}

// New creates a bus whose subscriber channels buffer capacity messages.
func New(capacity int, log logger.Logger) *PubSubBus {
	if log == nil {
		log = logger.Noop()
	}
	return &PubSubBus{
		ps:  pubsub.New(capacity),
		log: log,
	}
}

func (b *PubSubBus) Publish(topic string, msg interface{}) {
	b.log.Debug("publish topic=%s payload=%s", topic, payloadType(msg))
	b.ps.Pub(msg, topic)
}

func (b *PubSubBus) Subscribe(topic string) Subscription {
	b.log.Debug("subscribe topic=%s", topic)
	return b.ps.Sub(topic)
}

func (b *PubSubBus) Unsubscribe(ch Subscription, topics ...string) {
	// A publisher may be blocked on a full ch, which would keep the pubsub
	// goroutine from ever taking the unsubscribe. Drain until it has.
	done := make(chan struct{})
	go func() {
		for {
			select {
			case _, ok := <-ch:
				if !ok {
					return
				}
			case <-done:
				return
			}
		}
	}()
	b.ps.Unsub(ch, topics...)
	close(done)
}

func (b *PubSubBus) Close() {
	b.ps.Shutdown()
}

func payloadType(v interface{}) string {
	if v == nil {
		return "<nil>"
	}
	return reflect.TypeOf(v).String()
}
