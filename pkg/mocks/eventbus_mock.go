package mocks

import (
	"context"

	"github.com/pipecrm/wfm/pkg/eventbus"
	"github.com/stretchr/testify/mock"
)

// MockEventPublisher records published WFM events. Expectations usually match on mock.AnythingOfType of the
// concrete event and the routing key.
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, key string, event eventbus.Event) error {
	args := m.Called(ctx, key, event)

	return args.Error(0)
}

// Published returns the events passed to Publish, in call order.
func (m *MockEventPublisher) Published() []eventbus.Event {
	var published []eventbus.Event

	for _, call := range m.Calls {
		if call.Method != "Publish" {
			continue
		}

		if event, ok := call.Arguments.Get(2).(eventbus.Event); ok {
			published = append(published, event)
		}
	}

	return published
}
