package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/pipecrm/wfm/pkg/eventbus"
	kafkago "github.com/segmentio/kafka-go"
)

// buildMessage keys the message by the routing key so one entity's events land on one partition.
func buildMessage(ctx context.Context, key string, event eventbus.Event) (kafkago.Message, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("failed to marshal %s event: %w", event.GetType(), err)
	}

	metadata := eventbus.Metadata(ctx, key, event)
	headers := make([]kafkago.Header, 0, len(metadata))

	for _, k := range slices.Sorted(maps.Keys(metadata)) {
		headers = append(headers, kafkago.Header{Key: k, Value: []byte(metadata[k])})
	}

	return kafkago.Message{
		Key:     []byte(key),
		Value:   payload,
		Headers: headers,
	}, nil
}

func headerMap(headers []kafkago.Header) map[string]string {
	metadata := make(map[string]string, len(headers))

	for _, header := range headers {
		metadata[header.Key] = string(header.Value)
	}

	return metadata
}
