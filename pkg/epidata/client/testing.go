package client

import (
	"context"
	"sync"

	"github.com/bascanada/epidata/pkg/epidata/bridge"
	"github.com/bascanada/epidata/pkg/ty"
)

// MockGateway implements Gateway for tests. It records every invocation.
type MockGateway struct {
	mu          sync.Mutex
	Invocations []bridge.Invocation
	Closed      int
	OnInvoke    func(inv bridge.Invocation) ([]ty.MI, error)
}

func (m *MockGateway) Invoke(ctx context.Context, inv bridge.Invocation) ([]ty.MI, error) {
	m.mu.Lock()
	m.Invocations = append(m.Invocations, inv)
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.OnInvoke != nil {
		return m.OnInvoke(inv)
	}
	return []ty.MI{}, nil
}

func (m *MockGateway) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed++
	return nil
}

// Last returns the most recent invocation.
func (m *MockGateway) Last() bridge.Invocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Invocations) == 0 {
		return bridge.Invocation{}
	}
	return m.Invocations[len(m.Invocations)-1]
}
