package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DataExMachina-dev/perfcapture-go/internal/config"
	"github.com/DataExMachina-dev/perfcapture-go/internal/sink"
)

// openSink opens the sink selected by cfg for a session.
func openSink(ctx context.Context, cfg config.SinkConfig, sessionID uuid.UUID, logger *zap.Logger) (sink.Sink, error) {
	var opts []sink.Option
	if cfg.Envelope {
		opts = append(opts, sink.WithEnvelope())
	}
	switch cfg.Type {
	case config.SinkFile:
		f, err := sink.Create(cfg.Path, opts...)
		if err != nil {
			return nil, err
		}
		return f, nil
	case config.SinkSocket:
		c, err := sink.Dial(ctx, cfg.URL, sink.DialConfig{
			Interval: cfg.Retry,
			Logger:   logger,
			Options:  opts,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.SinkGRPC:
		g, err := sink.DialGRPC(ctx, cfg.URL, sessionID)
		if err != nil {
			return nil, err
		}
		return g, nil
	case config.SinkKafka:
		k, err := sink.NewKafka(sink.KafkaConfig{
			Brokers:         cfg.Kafka.Brokers,
			Topic:           cfg.Kafka.Topic,
			MaxMessageBytes: cfg.Kafka.MaxMessageBytes,
			Compression:     cfg.Kafka.Compression,
		}, sessionID, logger)
		if err != nil {
			return nil, err
		}
		return k, nil
	default:
		return nil, fmt.Errorf("unsupported sink type: %s", cfg.Type)
	}
}
