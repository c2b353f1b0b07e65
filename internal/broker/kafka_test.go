package broker

import (
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

// An ephemeral group must be able to start at the end of the topic;
// a durable worker group defaults to the beginning so it misses no
// event predating the group.
func TestConsumerStartOffset(t *testing.T) {
	tail := NewKafkaConsumer(Config{
		Brokers:     []string{"localhost:9092"},
		Topic:       "events",
		GroupID:     "relay-realtime-01",
		StartOffset: StartOffsetLast,
	})
	defer tail.Close()
	assert.Equal(t, kafka.LastOffset, tail.r.Config().StartOffset)

	head := NewKafkaConsumer(Config{
		Brokers: []string{"localhost:9092"},
		Topic:   "events",
		GroupID: "relay-archive",
	})
	defer head.Close()
	assert.Equal(t, kafka.FirstOffset, head.r.Config().StartOffset)
}
