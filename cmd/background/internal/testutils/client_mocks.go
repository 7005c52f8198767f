package testutils

import (
	"encoding/json"
	"sync"

	"github.com/gauravprwl14/trade-watch-chrome-extension/pkg/protocol"
)

// MockClient simulates a connected websocket client
type MockClient struct {
	IDVal  string
	Acks   []protocol.Ack   // decoded SendJSON acks
	Events []protocol.Event // decoded SendBytes events
	Closed bool
	Mu     sync.Mutex
}

func NewMockClient(id string) *MockClient {
	return &MockClient{IDVal: id}
}

func (m *MockClient) ID() string { return m.IDVal }

func (m *MockClient) Close() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
}

func (m *MockClient) SendJSON(v interface{}) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if ack, ok := v.(protocol.Ack); ok {
		m.Acks = append(m.Acks, ack)
	}
}

func (m *MockClient) SendBytes(b []byte) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	var ev protocol.Event
	if err := json.Unmarshal(b, &ev); err == nil {
		m.Events = append(m.Events, ev)
	}
}

func (m *MockClient) EventCount() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return len(m.Events)
}
