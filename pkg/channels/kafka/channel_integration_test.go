//go:build integration

package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/durable/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
)

func setupKafkaContainer(t *testing.T) []string {
	t.Helper()

	ctx := context.Background()

	kafkaContainer, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0", kafka.WithClusterID("test-cluster"))
	testcontainers.CleanupContainer(t, kafkaContainer)
	require.NoError(t, err)

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)

	return brokers
}

func TestKafka_DeliversNotificationsByWorkflow(t *testing.T) {
	brokers := setupKafkaContainer(t)
	logger := watermill.NopLogger{}

	publisher, err := CreatePublisher(brokers, logger)
	require.NoError(t, err)

	defer func() {
		assert.NoError(t, publisher.Close())
	}()

	for _, id := range []string{"wf-1", "wf-2", "wf-1"} {
		msg := message.NewMessage(watermill.NewUUID(), []byte(`{"workflowId":"`+id+`"}`))
		msg.Metadata.Set(events.WorkflowIDMetadataKey, id)

		require.NoError(t, publisher.Publish(events.Topic, msg))
	}

	subscriber, err := CreateSubscriber(brokers, "integration", logger)
	require.NoError(t, err)

	defer func() {
		assert.NoError(t, subscriber.Close())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	messages, err := subscriber.Subscribe(ctx, events.Topic)
	require.NoError(t, err)

	received := map[string]int{}

	for range 3 {
		select {
		case msg := <-messages:
			received[msg.Metadata.Get(events.WorkflowIDMetadataKey)]++
			msg.Ack()
		case <-ctx.Done():
			t.Fatalf("timed out after %v messages", received)
		}
	}

	assert.Equal(t, map[string]int{"wf-1": 2, "wf-2": 1}, received)
}
