package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/angelmondragon/partner-dispatch/pkg/config"
	"github.com/angelmondragon/partner-dispatch/pkg/logger"
	"github.com/angelmondragon/partner-dispatch/pkg/outbox"
)

// Producer relays outbox messages to Kafka with a synchronous sarama
// producer. Messages are keyed by aggregate id so one assignment's events stay
// ordered within a partition.
type Producer struct {
	producer sarama.SyncProducer
	client   sarama.Client
}

func newSaramaConfig(cfg config.KafkaConfig) *sarama.Config {
	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Idempotent = true
	sc.Net.MaxOpenRequests = 1
	sc.Producer.Retry.Max = 5
	sc.Producer.Retry.Backoff = 100 * time.Millisecond
	sc.Producer.Return.Successes = true
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	sc.Version = sarama.V2_8_0_0
	if cfg.Timeout > 0 {
		sc.Net.DialTimeout = cfg.Timeout
		sc.Net.ReadTimeout = cfg.Timeout
		sc.Net.WriteTimeout = cfg.Timeout
	}
	return sc
}

// NewProducer connects to the configured brokers.
func NewProducer(ctx context.Context, cfg config.KafkaConfig, logg *logger.Logger) (*Producer, error) {
	brokers := cfg.BrokerList()
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	client, err := sarama.NewClient(brokers, newSaramaConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("creating kafka client: %w", err)
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "brokers", brokers), "kafka producer initialized")
	}
	return &Producer{producer: producer, client: client}, nil
}

// NewProducerFrom wraps an existing producer, typically a sarama mock.
func NewProducerFrom(producer sarama.SyncProducer) *Producer {
	return &Producer{producer: producer}
}

// Send publishes msg and waits for the broker acknowledgement.
func (p *Producer) Send(ctx context.Context, msg outbox.Message) error {
	if p == nil || p.producer == nil {
		return errors.New("kafka producer not initialized")
	}
	if msg.Topic == "" {
		return errors.New("kafka topic is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	pm := &sarama.ProducerMessage{
		Topic: msg.Topic,
		Value: sarama.ByteEncoder(msg.Data),
	}
	if msg.Key != "" {
		pm.Key = sarama.StringEncoder(msg.Key)
	}
	for k, v := range msg.Attributes {
		pm.Headers = append(pm.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	if _, _, err := p.producer.SendMessage(pm); err != nil {
		return fmt.Errorf("kafka send to %s: %w", msg.Topic, err)
	}
	return nil
}

// Ping refreshes broker metadata.
func (p *Producer) Ping(context.Context) error {
	if p == nil || p.producer == nil {
		return errors.New("kafka producer not initialized")
	}
	if p.client == nil {
		return nil
	}
	if len(p.client.Brokers()) == 0 {
		return errors.New("no kafka brokers available")
	}
	return p.client.RefreshMetadata()
}

func (p *Producer) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
