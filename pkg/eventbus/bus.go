// Package eventbus is an in-process publish/subscribe broker decoupling
// producers (state transitions, alerts, clone progress) from consumers
// (WebSocket push, audit shipping) per §4.10. Delivery is best-effort: a
// slow or absent subscriber never blocks a producer or another subscriber.
//
// The concurrency shape mirrors the teacher's ScriptCache
// (sync.RWMutex-guarded map, background cleanup goroutine) rather than any
// third-party pub/sub library — none of the pack's pub/sub dependencies
// (libp2p, vendored NATS) are in-process single-binary fan-outs, so stdlib
// channels are the better-grounded choice here.
package eventbus

import "sync"

// Topic names the four event classes PureBoot's core publishes.
type Topic string

const (
	TopicStateChanged   Topic = "state:changed"
	TopicCloneProgress  Topic = "clone:progress"
	TopicAlertCreated   Topic = "alert:created"
	TopicAlertResolved  Topic = "alert:resolved"
)

// Event is a single published fact. Payload is producer-defined (typically
// a model.Node, model.CloneSession, or model.HealthAlert).
type Event struct {
	Topic   Topic
	Payload interface{}
}

// subscriberBuffer bounds how many undelivered events a slow subscriber may
// accumulate before newer events are dropped for it.
const subscriberBuffer = 64

// Bus is a process-wide broker. The zero value is not usable; use New.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]*subscription
	nextID      int
}

type subscription struct {
	topics map[Topic]bool
	ch     chan Event
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[int]*subscription)}
}

// Subscribe registers a new subscriber for the given topics (all topics if
// none given) and returns a receive channel plus an Unsubscribe func. The
// channel is closed when Unsubscribe is called.
func (b *Bus) Subscribe(topics ...Topic) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	set := make(map[Topic]bool, len(topics))
	for _, t := range topics {
		set[t] = true
	}

	sub := &subscription{topics: set, ch: make(chan Event, subscriberBuffer)}
	b.subscribers[id] = sub

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(s.ch)
		}
	}

	return sub.ch, unsubscribe
}

// Publish delivers an event to every subscriber registered for its topic
// (or registered with no topic filter). A subscriber whose buffer is full
// does not receive the event — publishers are never blocked by consumers.
func (b *Bus) Publish(topic Topic, payload interface{}) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	evt := Event{Topic: topic, Payload: payload}
	for _, sub := range b.subscribers {
		if len(sub.topics) > 0 && !sub.topics[topic] {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// subscriber is behind; drop rather than block the producer.
		}
	}
}

// SubscriberCount reports how many subscribers are currently registered,
// used by diagnostics and tests.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
