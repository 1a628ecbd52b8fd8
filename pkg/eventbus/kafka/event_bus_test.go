package kafka

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/pipecrm/wfm/pkg/eventbus"
	"github.com/pipecrm/wfm/pkg/events"
	"github.com/pipecrm/wfm/pkg/models"
	"github.com/pipecrm/wfm/pkg/otelhelper"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkaTc "github.com/testcontainers/testcontainers-go/modules/kafka"
)

var (
	brokers string
	logger  *slog.Logger
)

func TestMain(m *testing.M) {
	flag.Parse()

	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()

	kafkaContainer, err := kafkaTc.Run(ctx, "confluentinc/confluent-local:7.7.0", testcontainers.WithEnv(map[string]string{
		"KAFKA_CREATE_TOPICS": "true",
	}))
	if err != nil {
		panic("Failed to start Kafka container: " + err.Error())
	}

	kafkaBrokers, err := kafkaContainer.Brokers(ctx)
	if err != nil {
		panic("Failed to get Kafka brokers: " + err.Error())
	}

	brokers = kafkaBrokers[0]

	createTopics(brokers)

	code := m.Run()

	if err := kafkaContainer.Terminate(ctx); err != nil {
		panic("Failed to terminate Kafka container: " + err.Error())
	}

	os.Exit(code)
}

func requireBroker(t *testing.T) {
	t.Helper()

	if brokers == "" {
		t.Skip("Kafka container not started in short mode")
	}
}

func stepChanged() *events.StepChanged {
	return &events.StepChanged{
		BaseEvent:      events.NewBaseEvent(events.StepChangedEvent, "user-1"),
		EntityID:       "deal-1",
		EntityKind:     models.EntityKindDeal,
		PreviousStepID: "step-a",
		NewStepID:      "step-b",
		ProjectID:      "project-1",
		WorkflowID:     "workflow-1",
	}
}

func TestNewEventBus_RequiresBrokers(t *testing.T) {
	for _, config := range []Config{{}, {Brokers: []string{""}}} {
		bus, err := NewEventBus(logger, nil, config)

		assert.Error(t, err)
		assert.Nil(t, bus)
	}
}

func TestBuildMessage_Headers(t *testing.T) {
	sent := stepChanged()

	message, err := buildMessage(context.Background(), "project-1", sent)
	require.NoError(t, err)

	assert.Equal(t, []byte("project-1"), message.Key)

	metadata := headerMap(message.Headers)
	assert.Equal(t, "project-1", metadata[events.EventMetadataKey])
	assert.Equal(t, string(events.StepChangedEvent), metadata[events.EventTypeMetadataKey])
	assert.Equal(t, sent.ID, metadata[events.EventIDMetadataKey])

	var decoded events.StepChanged

	require.NoError(t, json.Unmarshal(message.Value, &decoded))
	assert.Equal(t, sent.NewStepID, decoded.NewStepID)
}

func testBus() *kafkaEventBus {
	return &kafkaEventBus{
		logger:   logger,
		tracer:   otelhelper.NoopTracer(),
		handlers: eventbus.NewHandlers(),
	}
}

func TestHandleMessage_DispatchesKnownEvents(t *testing.T) {
	bus := testBus()

	var received *events.StepChanged

	require.NoError(t, bus.Handle(events.StepChangedEvent, func(_ context.Context, event any) error {
		received = event.(*events.StepChanged)

		return nil
	}))

	message, err := buildMessage(context.Background(), "project-1", stepChanged())
	require.NoError(t, err)

	bus.handleMessage(context.Background(), message)

	require.NotNil(t, received)
	assert.Equal(t, "step-b", received.NewStepID)
	assert.Equal(t, models.EntityKindDeal, received.EntityKind)
}

func TestHandleMessage_IgnoresUnhandledAndMalformed(t *testing.T) {
	bus := testBus()
	calls := 0

	require.NoError(t, bus.Handle(events.StepChangedEvent, func(context.Context, any) error {
		calls++

		return nil
	}))

	unhandled, err := buildMessage(context.Background(), "lead-1", &events.EntityChanged{
		BaseEvent: events.NewBaseEvent(events.LeadCreatedEvent, "user-1"),
		EntityID:  "lead-1",
	})
	require.NoError(t, err)

	malformed, err := buildMessage(context.Background(), "project-1", stepChanged())
	require.NoError(t, err)

	malformed.Value = []byte(`not json`)

	bus.handleMessage(context.Background(), unhandled)
	bus.handleMessage(context.Background(), malformed)

	assert.Equal(t, 0, calls)
}

func TestKafkaEventBus_PublishAndSubscribe(t *testing.T) {
	requireBroker(t)

	bus, err := NewEventBus(logger, nil, Config{Brokers: []string{brokers}, GroupID: "cg-test-" + strconv.FormatInt(time.Now().UnixNano(), 10)})
	require.NoError(t, err)

	defer func() {
		err := bus.Close()
		assert.NoError(t, err)
	}()

	receivedEvents := make(chan *events.StepChanged, 1)

	err = bus.Handle(events.StepChangedEvent, func(_ context.Context, event any) error {
		receivedEvents <- event.(*events.StepChanged)

		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = bus.Subscribe(ctx)
	require.NoError(t, err)

	time.Sleep(2 * time.Second)

	sent := stepChanged()
	err = bus.Publish(context.Background(), sent.ProjectID, sent)
	require.NoError(t, err)

	select {
	case received := <-receivedEvents:
		assert.Equal(t, sent.ID, received.ID)
		assert.Equal(t, sent.NewStepID, received.NewStepID)
	case <-time.After(20 * time.Second):
		t.Fatal("Did not receive event within timeout")
	}
}

func createTopics(brokers string) {
	conn, err := kafkago.Dial("tcp", brokers)
	if err != nil {
		panic(err.Error())
	}

	defer func() {
		if err := conn.Close(); err != nil {
			panic(err.Error())
		}
	}()

	controller, err := conn.Controller()
	if err != nil {
		panic(err.Error())
	}

	var controllerConn *kafkago.Conn

	controllerConn, err = kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		panic(err.Error())
	}

	defer func() {
		err := controllerConn.Close()
		if err != nil {
			panic(err.Error())
		}
	}()

	err = controllerConn.CreateTopics(kafkago.TopicConfig{
		Topic:             events.Topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil {
		panic(err.Error())
	}
}
