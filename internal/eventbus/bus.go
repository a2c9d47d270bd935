// Package eventbus provides the in-process pub/sub channel every core
// subsystem publishes into: store writes, watcher syncs, execution
// lifecycle, merge queue changes.
package eventbus

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// subscriberBuffer is the per-subscriber channel depth. A slow
// subscriber drops events rather than blocking publishers.
const subscriberBuffer = 64

// Wildcard subscribes to every event on the bus.
const Wildcard = "*"

// Subscription is a live event feed. Close it via Bus.Unsubscribe.
type Subscription struct {
	topic string
	ch    chan Envelope
}

// C returns the receive channel for this subscription.
func (s *Subscription) C() <-chan Envelope { return s.ch }

// Bus is an in-process event dispatcher. Publishing never blocks:
// events to saturated subscribers are dropped and counted.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string][]*Subscription
	dropped atomic.Uint64
	log     zerolog.Logger
}

// New creates an event bus.
func New(log zerolog.Logger) *Bus {
	return &Bus{
		subs: make(map[string][]*Subscription),
		log:  log.With().Str("component", "eventbus").Logger(),
	}
}

// Subscribe registers for events matching the given name, or all
// events when name is Wildcard.
func (b *Bus) Subscribe(name string) *Subscription {
	sub := &Subscription{topic: name, ch: make(chan Envelope, subscriberBuffer)}
	b.mu.Lock()
	b.subs[name] = append(b.subs[name], sub)
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes the subscription and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[sub.topic]
	for i, s := range list {
		if s == sub {
			b.subs[sub.topic] = append(list[:i], list[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

// Publish delivers the event to exact-name subscribers and wildcard
// subscribers. The envelope carries the event name so wildcard
// receivers can demultiplex.
// Sends never block (buffered channel, drop on overflow), so the read
// lock is held across delivery. Unsubscribe and Close close channels
// under the write lock, which cannot interleave with a held read lock,
// so a send can never hit a closed channel.
func (b *Bus) Publish(name string, payload Payload) {
	env := Envelope{Name: name, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[name] {
		b.send(sub, env, name)
	}
	for _, sub := range b.subs[Wildcard] {
		b.send(sub, env, name)
	}
}

func (b *Bus) send(sub *Subscription, env Envelope, name string) {
	select {
	case sub.ch <- env:
	default:
		b.dropped.Add(1)
		b.log.Warn().Str("event", name).Msg("subscriber buffer full, event dropped")
	}
}

// Dropped returns the count of events dropped due to slow subscribers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, list := range b.subs {
		for _, sub := range list {
			close(sub.ch)
		}
	}
	b.subs = make(map[string][]*Subscription)
}
