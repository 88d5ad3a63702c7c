package sink

import (
	"fmt"
	"hash"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Kafka record headers set on every capture chunk.
const (
	headerSession = "perfcapture-session"
	headerOffset  = "perfcapture-offset"
)

// KafkaConfig configures a Kafka sink.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	// MaxMessageBytes bounds the capture bytes per record. Defaults to
	// 512KiB.
	MaxMessageBytes int
	// Compression is one of none, gzip, snappy, lz4 or zstd.
	Compression string
}

// Kafka publishes capture chunks to a topic, keyed by session id so a
// session's chunks stay ordered in one partition. Each record carries the
// stream offset of its first byte.
type Kafka struct {
	producer sarama.SyncProducer
	topic    string
	key      sarama.Encoder
	session  []byte
	maxBytes int
	logger   *zap.Logger
	digest   hash.Hash64
	written  uint64
}

// NewKafka connects a synchronous producer to the configured brokers.
func NewKafka(cfg KafkaConfig, sessionID uuid.UUID, logger *zap.Logger) (*Kafka, error) {
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 512 << 10
	}
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Compression = parseCompression(cfg.Compression)
	// Leave room for the record headers and key.
	saramaConfig.Producer.MaxMessageBytes = cfg.MaxMessageBytes + 1024
	saramaConfig.Producer.Retry.Max = 5
	saramaConfig.Producer.Retry.Backoff = 200 * time.Millisecond

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	logger.Info("Kafka producer created",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
	)
	return NewKafkaWithProducer(producer, cfg.Topic, cfg.MaxMessageBytes, sessionID, logger), nil
}

// NewKafkaWithProducer returns a Kafka sink over an existing producer.
func NewKafkaWithProducer(
	producer sarama.SyncProducer, topic string, maxBytes int, sessionID uuid.UUID, logger *zap.Logger,
) *Kafka {
	return &Kafka{
		producer: producer,
		topic:    topic,
		key:      sarama.StringEncoder(sessionID.String()),
		session:  []byte(sessionID.String()),
		maxBytes: maxBytes,
		logger:   logger,
		digest:   NewDigest(),
	}
}

// WriteData implements the buffer Sender contract. p is copied into records
// of at most MaxMessageBytes.
func (k *Kafka) WriteData(p []byte) error {
	for len(p) > 0 {
		n := min(len(p), k.maxBytes)
		msg := &sarama.ProducerMessage{
			Topic: k.topic,
			Key:   k.key,
			Value: sarama.ByteEncoder(append([]byte(nil), p[:n]...)),
			Headers: []sarama.RecordHeader{
				{Key: []byte(headerSession), Value: k.session},
				{Key: []byte(headerOffset), Value: strconv.AppendUint(nil, k.written, 10)},
			},
		}
		partition, offset, err := k.producer.SendMessage(msg)
		if err != nil {
			return fmt.Errorf("failed to send message to Kafka: %w", err)
		}
		if ce := k.logger.Check(zap.DebugLevel, "capture chunk produced"); ce != nil {
			ce.Write(
				zap.String("topic", k.topic),
				zap.Int32("partition", partition),
				zap.Int64("offset", offset),
				zap.Int("bytes", n),
			)
		}
		_, _ = k.digest.Write(p[:n])
		k.written += uint64(n)
		p = p[n:]
	}
	return nil
}

// Written returns the number of capture bytes produced.
func (k *Kafka) Written() uint64 {
	return k.written
}

// Sum64 returns the digest of the capture bytes produced.
func (k *Kafka) Sum64() uint64 {
	return k.digest.Sum64()
}

// Close closes the producer.
func (k *Kafka) Close() error {
	if err := k.producer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka producer: %w", err)
	}
	return nil
}

func parseCompression(c string) sarama.CompressionCodec {
	switch c {
	case "gzip":
		return sarama.CompressionGZIP
	case "snappy":
		return sarama.CompressionSnappy
	case "lz4":
		return sarama.CompressionLZ4
	case "zstd":
		return sarama.CompressionZSTD
	default:
		return sarama.CompressionNone
	}
}
