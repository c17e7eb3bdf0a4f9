package mqtt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kilianp07/microgrid/core/device"
	"github.com/kilianp07/microgrid/core/model"
)

// Publisher sends raw payloads to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic, qosKey string, payload []byte) error
}

// Message is a payload captured by MockPublisher.
type Message struct {
	Topic   string
	Payload []byte
}

// MockPublisher records publications and commands. It is used in tests.
type MockPublisher struct {
	mu       sync.Mutex
	Messages []Message
	Commands []model.Action
	// FailIDs lists devices whose commands fail to publish.
	FailIDs map[string]bool
	// NackIDs lists devices that refuse their commands.
	NackIDs map[string]bool
	// FailTopics lists topic prefixes whose publications fail.
	FailTopics []string
}

// NewMockPublisher creates a new MockPublisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{FailIDs: make(map[string]bool), NackIDs: make(map[string]bool)}
}

// Publish records the message or fails for a configured topic prefix.
func (m *MockPublisher) Publish(_ context.Context, topic, _ string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.FailTopics {
		if strings.HasPrefix(topic, p) {
			return fmt.Errorf("publish to %s failed", topic)
		}
	}
	m.Messages = append(m.Messages, Message{Topic: topic, Payload: append([]byte(nil), payload...)})
	return nil
}

// SendCommand records the action or returns an error if configured to fail.
func (m *MockPublisher) SendCommand(_ context.Context, a model.Action) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailIDs[a.DeviceID] {
		return "", fmt.Errorf("publish failed")
	}
	m.Commands = append(m.Commands, a.Clone())
	return fmt.Sprintf("cmd-%s-%d", a.DeviceID, len(m.Commands)), nil
}

// WaitForAck simulates an immediate acknowledgment.
func (m *MockPublisher) WaitForAck(_ context.Context, commandID string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.NackIDs {
		if strings.HasPrefix(commandID, "cmd-"+id+"-") {
			return fmt.Errorf("%w: refused", device.ErrNack)
		}
	}
	return nil
}

// Snapshot returns a copy of the recorded messages.
func (m *MockPublisher) Snapshot() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.Messages...)
}
