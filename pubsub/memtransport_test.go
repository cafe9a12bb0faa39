package pubsub

import (
	"context"
	"sync"
)

// memTransport is a simple in-process fan-out bus for tests: every
// Publish on a topic is delivered to every active Subscribe channel on
// that topic, mirroring the observable behavior of a real gossipsub
// topic without any networking.
type memTransport struct {
	mu   sync.Mutex
	subs map[string][]chan Message
}

func newMemTransport() *memTransport {
	return &memTransport{subs: make(map[string][]chan Message)}
}

func (m *memTransport) Publish(ctx context.Context, topic string, data []byte) error {
	m.mu.Lock()
	chans := append([]chan Message(nil), m.subs[topic]...)
	m.mu.Unlock()
	for _, ch := range chans {
		select {
		case ch <- Message{Data: data}:
		default:
		}
	}
	return nil
}

func (m *memTransport) Subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	ch := make(chan Message, 16)
	m.mu.Lock()
	m.subs[topic] = append(m.subs[topic], ch)
	m.mu.Unlock()
	return ch, nil
}

func (m *memTransport) Close() error { return nil }

var _ Transport = (*memTransport)(nil)
