package app

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/pos/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/pos/internal/service/outbox"
)

func TestInitKafkaProducer(t *testing.T) {
	tests := []struct {
		name    string
		brokers string
		wantErr bool
	}{
		{name: "no brokers disables kafka", brokers: " , "},
		{name: "unreachable broker", brokers: "127.0.0.1:1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			producer, err := initKafkaProducer(Config{KafkaBrokers: tt.brokers}, log.WithField("test", tt.name))
			assert.Nil(t, producer)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOutboxPublishers_FallsBackToLog(t *testing.T) {
	publisher, dlq := outboxPublishers(nil, "pos.sale.events", log.WithField("test", t.Name()))

	assert.IsType(t, &outbox.LogPublisher{}, publisher)
	assert.Nil(t, dlq, "log mode has no dead letter queue")
}

func TestOutboxPublishers_KafkaTopics(t *testing.T) {
	publisher, dlq := outboxPublishers(&kafka.Producer{}, "pos.sale.events", log.WithField("test", t.Name()))

	primary, ok := publisher.(*kafka.OutboxTopicPublisher)
	require.True(t, ok, "got %T", publisher)
	assert.Equal(t, "pos.sale.events", primary.Topic())

	dead, ok := dlq.(*kafka.OutboxTopicPublisher)
	require.True(t, ok, "got %T", dlq)
	assert.Equal(t, kafka.TopicDeadLetterQueue, dead.Topic())
}

func TestCloseKafkaProducer_Nil(t *testing.T) {
	assert.NotPanics(t, func() { closeKafkaProducer(nil, log.WithField("test", t.Name())) })
}
