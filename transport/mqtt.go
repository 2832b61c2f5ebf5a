// Package transport adapts the pub/sub broker behind the contract.Transport
// capability so the coordination logic never touches a client library
// directly and can run against the in-memory fake in tests.
package transport

import (
	"agent-town/contract"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	connectTimeout = 10 * time.Second
	publishQoS     = 0
)

// MQTT is the production adapter. Reconnection is automatic; on every
// (re)connect it re-subscribes all registered patterns and invokes the
// OnConnect hook so the owner can republish retained state.
type MQTT struct {
	mu        sync.Mutex
	client    mqtt.Client
	log       *slog.Logger
	handler   contract.Handler
	patterns  []string
	OnConnect func()
}

func NewMQTT(brokerURL, clientID string, log *slog.Logger) *MQTT {
	t := &MQTT{log: log}

	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOrderMatters(false)

	opts.OnConnect = func(mqtt.Client) {
		log.Info("Broker connected", "url", brokerURL)
		t.resubscribe()
		if t.OnConnect != nil {
			t.OnConnect()
		}
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn("Broker connection lost", "error", err)
	}

	t.client = mqtt.NewClient(opts)
	return t
}

// SetHandler registers the single dispatcher callback. Must be called
// before Connect.
func (t *MQTT) SetHandler(h contract.Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

func (t *MQTT) Connect() error {
	token := t.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("broker connect timed out")
	}
	return token.Error()
}

func (t *MQTT) Close() {
	t.client.Disconnect(250)
}

func (t *MQTT) Subscribe(patterns ...string) error {
	t.mu.Lock()
	t.patterns = append(t.patterns, patterns...)
	handler := t.handler
	t.mu.Unlock()

	filters := make(map[string]byte, len(patterns))
	for _, p := range patterns {
		filters[p] = publishQoS
	}

	token := t.client.SubscribeMultiple(filters, func(_ mqtt.Client, m mqtt.Message) {
		handler(m.Topic(), m.Payload())
	})
	token.Wait()
	return token.Error()
}

// Publish is fire-and-forget: QoS 0 delivery errors are logged, never
// surfaced to the caller.
func (t *MQTT) Publish(topic string, payload []byte, retain bool) {
	token := t.client.Publish(topic, publishQoS, retain, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			t.log.Warn("Publish failed", "topic", topic, "error", err)
		}
	}()
}

func (t *MQTT) resubscribe() {
	t.mu.Lock()
	patterns := make([]string, len(t.patterns))
	copy(patterns, t.patterns)
	handler := t.handler
	t.mu.Unlock()

	if len(patterns) == 0 || handler == nil {
		return
	}

	filters := make(map[string]byte, len(patterns))
	for _, p := range patterns {
		filters[p] = publishQoS
	}
	token := t.client.SubscribeMultiple(filters, func(_ mqtt.Client, m mqtt.Message) {
		handler(m.Topic(), m.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		t.log.Error("Resubscribe failed", "error", err)
	}
}
