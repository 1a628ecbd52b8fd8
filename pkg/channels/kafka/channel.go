// Package kafka provides the watermill Kafka channel the WFM event bus publishes through.
package kafka

import (
	"errors"
	"time"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pipecrm/wfm/pkg/events"
)

const defaultConsumerGroup = "cg-wfm"

// Config selects the brokers and the consumer group of the channel.
type Config struct {
	Brokers       []string
	ConsumerGroup string
	OTELEnabled   bool
}

// PartitionKey keys messages by the routing key of the event, so every event of one project or entity
// lands on the same partition and keeps its order. Messages without a key fall back to their id.
func PartitionKey(_ string, msg *message.Message) (string, error) {
	if key := msg.Metadata.Get(events.EventMetadataKey); key != "" {
		return key, nil
	}

	return msg.UUID, nil
}

func CreateChannel(logger watermill.LoggerAdapter, config Config) (*kafka.Publisher, *kafka.Subscriber, error) {
	if len(config.Brokers) == 0 || config.Brokers[0] == "" {
		return nil, nil, errors.New("no Kafka brokers configured")
	}

	if config.ConsumerGroup == "" {
		config.ConsumerGroup = defaultConsumerGroup
	}

	marshaler := kafka.NewWithPartitioningMarshaler(PartitionKey)

	subscriber, err := kafka.NewSubscriber(
		kafka.SubscriberConfig{
			Brokers:               config.Brokers,
			Unmarshaler:           marshaler,
			OverwriteSaramaConfig: subscriberConfig(),
			ConsumerGroup:         config.ConsumerGroup,
			OTELEnabled:           config.OTELEnabled,
		},
		logger,
	)
	if err != nil {
		return nil, nil, err
	}

	publisher, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:               config.Brokers,
			Marshaler:             marshaler,
			OverwriteSaramaConfig: publisherConfig(),
			OTELEnabled:           config.OTELEnabled,
		},
		logger,
	)
	if err != nil {
		_ = subscriber.Close()

		return nil, nil, err
	}

	return publisher, subscriber, nil
}

func subscriberConfig() *sarama.Config {
	config := kafka.DefaultSaramaSubscriberConfig()
	config.Consumer.Offsets.Initial = sarama.OffsetOldest

	return config
}

// publisherConfig waits for all in-sync replicas: a committed step change must not lose its notification
// to a leader failover.
func publisherConfig() *sarama.Config {
	config := kafka.DefaultSaramaSyncPublisherConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Retry.Backoff = 200 * time.Millisecond

	return config
}
