package broker

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// Start positions for a consumer group with no committed offset.
// Durable worker groups start from the beginning so no event predating
// the group is missed; ephemeral per-instance groups start from the
// end so a boot does not replay the whole retained topic.
const (
	StartOffsetFirst = kafka.FirstOffset
	StartOffsetLast  = kafka.LastOffset
)

type Config struct {
	Brokers        []string
	Topic          string
	GroupID        string
	MinBytes       int           // default 1KB
	MaxBytes       int           // default 10MB
	CommitInterval time.Duration // 0 = sync each commit
	MaxWait        time.Duration
	StartOffset    int64 // StartOffsetFirst (default) or StartOffsetLast
}

// KafkaPublisher writes events to the exchange topic. The routing key
// becomes the message key, so per-channel event order survives
// partitioning as long as related events share a key.
type KafkaPublisher struct {
	w *kafka.Writer
}

func NewKafkaPublisher(c Config) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(c.Brokers...),
		Topic:        c.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}

	return &KafkaPublisher{w: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, routingKey string, payload []byte) error {
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(routingKey),
		Value: payload,
		Headers: []kafka.Header{
			{Key: HeaderRoutingKey, Value: []byte(routingKey)},
		},
	})
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }

// KafkaConsumer is a thin wrapper around a kafka-go Reader with manual
// commits. One Reader per consuming service (group id).
type KafkaConsumer struct {
	r *kafka.Reader
}

func NewKafkaConsumer(c Config) *KafkaConsumer {
	min := c.MinBytes
	if min <= 0 {
		min = 1 << 10 // 1KB
	}
	max := c.MaxBytes
	if max <= 0 {
		max = 10 << 20 // 10MB
	}
	mw := c.MaxWait
	if mw <= 0 {
		mw = 50 * time.Millisecond
	}
	so := c.StartOffset
	if so == 0 {
		so = StartOffsetFirst
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        c.Brokers,
		GroupID:        c.GroupID,
		Topic:          c.Topic,
		MinBytes:       min,
		MaxBytes:       max,
		CommitInterval: c.CommitInterval,
		MaxWait:        mw,
		StartOffset:    so,
	})

	return &KafkaConsumer{r: r}
}

func (c *KafkaConsumer) Fetch(ctx context.Context) (Delivery, error) {
	m, err := c.r.FetchMessage(ctx)
	if err != nil {
		return Delivery{}, err
	}

	key := string(m.Key)
	for _, h := range m.Headers {
		if h.Key == HeaderRoutingKey {
			key = string(h.Value)
			break
		}
	}

	return Delivery{RoutingKey: key, Payload: m.Value, Partition: m.Partition, ref: m}, nil
}

func (c *KafkaConsumer) Commit(ctx context.Context, d Delivery) error {
	m, ok := d.ref.(kafka.Message)
	if !ok {
		return nil // fake-originated delivery, nothing to commit
	}
	return c.r.CommitMessages(ctx, m)
}

func (c *KafkaConsumer) Close() error { return c.r.Close() }

// KafkaDeadLetterer writes rejected messages to "<topic>.dlq".
type KafkaDeadLetterer struct {
	w *kafka.Writer
}

func NewKafkaDeadLetterer(c Config) *KafkaDeadLetterer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(c.Brokers...),
		Topic:                  c.Topic + ".dlq",
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}

	return &KafkaDeadLetterer{w: w}
}

func (d *KafkaDeadLetterer) DeadLetter(ctx context.Context, del Delivery, reason string) error {
	return d.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(del.RoutingKey),
		Value: del.Payload,
		Headers: []kafka.Header{
			{Key: HeaderRoutingKey, Value: []byte(del.RoutingKey)},
			{Key: HeaderDeathReason, Value: []byte(reason)},
		},
	})
}

func (d *KafkaDeadLetterer) Close() error { return d.w.Close() }
