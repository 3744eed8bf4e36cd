package events

import (
	"errors"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MockToken implements mqtt.Token for testing
type MockToken struct {
	err  error
	done chan struct{}
}

func newToken(err error, complete bool) *MockToken {
	t := &MockToken{err: err, done: make(chan struct{})}
	if complete {
		close(t.done)
	}
	return t
}

func (t *MockToken) Wait() bool {
	<-t.done
	return true
}

func (t *MockToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *MockToken) Done() <-chan struct{} {
	return t.done
}

func (t *MockToken) Error() error {
	return t.err
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// MockPublisher records published messages
type MockPublisher struct {
	PublishFunc func(topic string) mqtt.Token

	mu       sync.Mutex
	messages []published
}

func (m *MockPublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	m.mu.Lock()
	m.messages = append(m.messages, published{topic, qos, retained, payload.([]byte)})
	m.mu.Unlock()
	if m.PublishFunc != nil {
		return m.PublishFunc(topic)
	}
	return newToken(nil, true)
}

func (m *MockPublisher) sent() []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]published(nil), m.messages...)
}

var errBroker = errors.New("broker rejected message")
