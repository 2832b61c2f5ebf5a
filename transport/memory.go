package transport

import (
	"agent-town/contract"
	"agent-town/wire"
	"sync"
)

// Published is one observed outbound message.
type Published struct {
	Topic   string
	Payload []byte
	Retain  bool
}

// InMemory is a broker fake for tests. Deliveries are synchronous: Publish
// invokes matching handlers before returning, and a retained value is
// replayed immediately to later subscribers, mirroring broker behavior.
type InMemory struct {
	mu       sync.Mutex
	handler  contract.Handler
	patterns []string
	retained map[string][]byte
	history  []Published
}

func NewInMemory() *InMemory {
	return &InMemory{retained: make(map[string][]byte)}
}

func (t *InMemory) SetHandler(h contract.Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

func (t *InMemory) Subscribe(patterns ...string) error {
	t.mu.Lock()
	t.patterns = append(t.patterns, patterns...)
	handler := t.handler
	var replay []Published
	for topic, payload := range t.retained {
		for _, p := range patterns {
			if wire.Match(p, topic) {
				replay = append(replay, Published{Topic: topic, Payload: payload})
				break
			}
		}
	}
	t.mu.Unlock()

	if handler != nil {
		for _, m := range replay {
			handler(m.Topic, m.Payload)
		}
	}
	return nil
}

func (t *InMemory) Publish(topic string, payload []byte, retain bool) {
	t.mu.Lock()
	t.history = append(t.history, Published{Topic: topic, Payload: payload, Retain: retain})
	if retain {
		t.retained[topic] = payload
	}
	handler := t.handler
	matched := false
	for _, p := range t.patterns {
		if wire.Match(p, topic) {
			matched = true
			break
		}
	}
	t.mu.Unlock()

	if matched && handler != nil {
		handler(topic, payload)
	}
}

// Inject delivers an inbound message to the handler regardless of
// subscriptions, as if a client published it to the broker.
func (t *InMemory) Inject(topic string, payload []byte) {
	t.mu.Lock()
	handler := t.handler
	t.mu.Unlock()
	if handler != nil {
		handler(topic, payload)
	}
}

// Retained returns the last retained payload for a topic, if any.
func (t *InMemory) Retained(topic string) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.retained[topic]
	return p, ok
}

// Messages returns all publishes to a topic, oldest first.
func (t *InMemory) Messages(topic string) []Published {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Published
	for _, m := range t.history {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// Reset drops the recorded history but keeps retained values and
// subscriptions.
func (t *InMemory) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history = nil
}
