package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/rs/zerolog"

	pkglog "github.com/weiawesome/wes-io-live/studio-service/pkg/log"
)

// channelToTopicAndKey maps a room channel onto a Kafka topic keyed by room.
//
//	"signal:room:ROOM123:to_media"  → topic: "signal-to-media", key: "ROOM123"
//	"studio:room:ROOM456:to_signal" → topic: "studio-to-signal", key: "ROOM456"
func channelToTopicAndKey(channel string) (topic, key string, err error) {
	parts := strings.Split(channel, ":")
	if len(parts) != 4 || parts[1] != "room" {
		return "", "", fmt.Errorf("invalid channel format: %s", channel)
	}
	source, roomID, target := parts[0], parts[2], parts[3]
	if source == "" || roomID == "" || !strings.HasPrefix(target, "to_") || target == "to_" {
		return "", "", fmt.Errorf("invalid channel format: %s", channel)
	}
	return source + "-" + strings.ReplaceAll(target, "_", "-"), roomID, nil
}

var groupIDRegexp = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// consumerGroup gives each channel subscription its own group so every
// studio instance sees every event of its room.
func consumerGroup(base, channel string) string {
	if base == "" {
		base = "studio-service"
	}
	return base + "-" + groupIDRegexp.ReplaceAllString(channel, "-")
}

type kafkaSubscription struct {
	consumer *kafka.Consumer
	cancel   context.CancelFunc
	done     chan struct{}
}

// KafkaPubSub implements PubSub using Apache Kafka. Channels map to topics
// keyed by room id; subscribers filter on the key.
type KafkaPubSub struct {
	producer *kafka.Producer
	config   KafkaConfig
	logger   zerolog.Logger
	doneCh   chan struct{}

	mu            sync.Mutex
	subscriptions map[string]*kafkaSubscription
}

// NewKafkaPubSub creates the producer and makes sure the studio topics exist.
func NewKafkaPubSub(cfg KafkaConfig) (*KafkaPubSub, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	k := &KafkaPubSub{
		producer:      p,
		config:        cfg,
		logger:        pkglog.Component("pubsub").With().Str("driver", "kafka").Logger(),
		doneCh:        make(chan struct{}),
		subscriptions: make(map[string]*kafkaSubscription),
	}

	go k.drainProducerEvents()

	if err := k.ensureTopics(); err != nil {
		k.logger.Warn().Err(err).Msg("failed to ensure kafka topics (may already exist)")
	}

	return k, nil
}

func (k *KafkaPubSub) ensureTopics() error {
	admin, err := kafka.NewAdminClientFromProducer(k.producer)
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	partitions := k.config.Partitions
	if partitions <= 0 {
		partitions = 4
	}
	names := k.config.Topics
	if len(names) == 0 {
		names = DefaultTopics
	}

	specs := make([]kafka.TopicSpecification, 0, len(names))
	for _, name := range names {
		specs = append(specs, kafka.TopicSpecification{
			Topic:             name,
			NumPartitions:     partitions,
			ReplicationFactor: 1,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	results, err := admin.CreateTopics(ctx, specs)
	if err != nil {
		return fmt.Errorf("failed to create topics: %w", err)
	}
	for _, r := range results {
		if code := r.Error.Code(); code != kafka.ErrNoError && code != kafka.ErrTopicAlreadyExists {
			k.logger.Warn().Str("topic", r.Topic).Str("error", r.Error.String()).Msg("failed to create topic")
		}
	}
	return nil
}

// drainProducerEvents logs producer-level errors. Per-message delivery reports
// go to the channel passed to Produce.
func (k *KafkaPubSub) drainProducerEvents() {
	defer close(k.doneCh)
	for e := range k.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				k.logger.Error().Err(ev.TopicPartition.Error).Msg("kafka delivery failed")
			}
		case kafka.Error:
			k.logger.Error().Str("error", ev.String()).Bool("fatal", ev.IsFatal()).Msg("kafka producer error")
		}
	}
}

// Publish produces the event and waits for the broker acknowledgement or ctx.
func (k *KafkaPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	topic, key, err := channelToTopicAndKey(channel)
	if err != nil {
		return fmt.Errorf("failed to parse channel: %w", err)
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	delivery := make(chan kafka.Event, 1)
	err = k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          data,
		Headers:        []kafka.Header{{Key: "type", Value: []byte(event.Type)}},
	}, delivery)
	if err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	select {
	case e := <-delivery:
		if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			return fmt.Errorf("failed to deliver to %s: %w", topic, m.TopicPartition.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe consumes the channel's topic and forwards events of its room.
func (k *KafkaPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	topic, roomID, err := channelToTopicAndKey(channel)
	if err != nil {
		return nil, fmt.Errorf("failed to parse channel: %w", err)
	}

	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":       k.config.Brokers,
		"group.id":                consumerGroup(k.config.GroupID, channel),
		"auto.offset.reset":       "latest",
		"enable.auto.commit":      true,
		"auto.commit.interval.ms": 5000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	if err := c.Subscribe(topic, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &kafkaSubscription{consumer: c, cancel: cancel, done: make(chan struct{})}

	k.mu.Lock()
	existing := k.subscriptions[channel]
	k.subscriptions[channel] = sub
	k.mu.Unlock()
	if existing != nil {
		k.stop(existing)
	}

	eventCh := make(chan *Event, subscriptionBuffer)
	go k.consume(subCtx, channel, sub, roomID, eventCh)

	return eventCh, nil
}

func (k *KafkaPubSub) consume(ctx context.Context, channel string, sub *kafkaSubscription, roomID string, eventCh chan<- *Event) {
	defer close(sub.done)
	defer close(eventCh)
	defer func() {
		// Still registered: the loop ended on its own, so nobody else will close the consumer.
		k.mu.Lock()
		owned := k.subscriptions[channel] == sub
		if owned {
			delete(k.subscriptions, channel)
		}
		k.mu.Unlock()
		if owned {
			sub.consumer.Close()
		}
	}()

	for ctx.Err() == nil {
		ev := sub.consumer.Poll(500)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			if string(e.Key) != roomID {
				continue
			}
			var event Event
			if err := json.Unmarshal(e.Value, &event); err != nil {
				k.logger.Warn().Err(err).Msg("failed to unmarshal kafka event")
				continue
			}
			select {
			case eventCh <- &event:
			case <-ctx.Done():
				return
			default:
				// Channel full, skip message
				k.logger.Debug().Str("type", event.Type).Str("room_id", roomID).Msg("subscriber full, event dropped")
			}

		case kafka.Error:
			k.logger.Error().
				Str("error", e.String()).
				Int("code", int(e.Code())).
				Bool("fatal", e.IsFatal()).
				Msg("kafka consumer error")
			if e.IsFatal() {
				return
			}
		}
	}
}

// stop cancels the poll loop, waits for it and closes the consumer.
func (k *KafkaPubSub) stop(sub *kafkaSubscription) error {
	sub.cancel()
	<-sub.done
	return sub.consumer.Close()
}

// Unsubscribe ends the subscription for a channel.
func (k *KafkaPubSub) Unsubscribe(ctx context.Context, channel string) error {
	k.mu.Lock()
	sub, ok := k.subscriptions[channel]
	delete(k.subscriptions, channel)
	k.mu.Unlock()

	if !ok {
		return nil
	}
	if err := k.stop(sub); err != nil {
		return fmt.Errorf("failed to close consumer: %w", err)
	}
	return nil
}

// Close stops every consumer, flushes pending messages and closes the producer.
func (k *KafkaPubSub) Close() error {
	k.mu.Lock()
	subs := k.subscriptions
	k.subscriptions = make(map[string]*kafkaSubscription)
	k.mu.Unlock()

	for _, sub := range subs {
		k.stop(sub)
	}

	k.producer.Flush(5000)
	k.producer.Close()
	<-k.doneCh
	return nil
}

var _ PubSub = (*KafkaPubSub)(nil)
