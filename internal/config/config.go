// Package config loads the perfcapture recorder configuration.
package config

import (
	"errors"
	"fmt"
	"math/bits"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/DataExMachina-dev/perfcapture-go/internal/framing"
)

// MaxBufferSize is the largest buffer.size whose frames a decoder accepts.
const MaxBufferSize = framing.DefaultMaxFrameLen

// Sink types.
const (
	SinkFile   = "file"
	SinkSocket = "socket"
	SinkGRPC   = "grpc"
	SinkKafka  = "kafka"
)

// Config is the recorder configuration.
type Config struct {
	Buffer   BufferConfig   `mapstructure:"buffer"`
	Sampling SamplingConfig `mapstructure:"sampling"`
	Sink     SinkConfig     `mapstructure:"sink"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// BufferConfig configures the per-core capture buffers.
type BufferConfig struct {
	// Size is the capacity of each buffer in bytes. It must be a power of
	// two.
	Size           int           `mapstructure:"size"`
	CommitInterval time.Duration `mapstructure:"commit_interval"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
}

// SamplingConfig configures what the recorder captures.
type SamplingConfig struct {
	// Cores lists the cores to capture. Empty means every online CPU.
	Cores    []int32       `mapstructure:"cores"`
	Interval time.Duration `mapstructure:"interval"`
	Duration time.Duration `mapstructure:"duration"`
	// PIDs whose maps and comm are captured at start.
	PIDs   []int32 `mapstructure:"pids"`
	NoSync bool    `mapstructure:"no_sync"`
}

// SinkConfig selects where captured data is sent.
type SinkConfig struct {
	Type string `mapstructure:"type"`
	// Path is the output file for the file sink. A .zst suffix compresses.
	Path string `mapstructure:"path"`
	// URL is tcp:// or unix:// for the socket sink and http(s):// for grpc.
	URL      string        `mapstructure:"url"`
	Envelope bool          `mapstructure:"envelope"`
	Retry    time.Duration `mapstructure:"retry"`
	Kafka    KafkaConfig   `mapstructure:"kafka"`
}

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	Brokers         []string `mapstructure:"brokers"`
	Topic           string   `mapstructure:"topic"`
	MaxMessageBytes int      `mapstructure:"max_message_bytes"`
	Compression     string   `mapstructure:"compression"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// MetricsConfig configures the Prometheus endpoint. An empty address
// disables it.
type MetricsConfig struct {
	Address string `mapstructure:"address"`
}

// Load reads the configuration from path, if set, and from PERFCAPTURE_*
// environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PERFCAPTURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("buffer.size", 1<<20)
	v.SetDefault("buffer.commit_interval", 100*time.Millisecond)
	v.SetDefault("buffer.poll_interval", 100*time.Millisecond)

	v.SetDefault("sampling.interval", 10*time.Millisecond)
	v.SetDefault("sampling.duration", time.Duration(0))
	v.SetDefault("sampling.no_sync", false)

	v.SetDefault("sink.type", SinkFile)
	v.SetDefault("sink.path", "capture.apc")
	v.SetDefault("sink.url", "")
	v.SetDefault("sink.envelope", false)
	v.SetDefault("sink.retry", 2*time.Second)
	v.SetDefault("sink.kafka.topic", "perfcapture")
	v.SetDefault("sink.kafka.max_message_bytes", 512<<10)
	v.SetDefault("sink.kafka.compression", "none")

	v.SetDefault("log.level", "info")
	v.SetDefault("metrics.address", "")
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Buffer.Size <= 0 || bits.OnesCount(uint(c.Buffer.Size)) != 1 {
		return fmt.Errorf("buffer.size must be a power of two: %d", c.Buffer.Size)
	}
	// A frame never exceeds its buffer, so captures stay decodable.
	if c.Buffer.Size > MaxBufferSize {
		return fmt.Errorf("buffer.size must be at most %d: %d", MaxBufferSize, c.Buffer.Size)
	}
	if c.Buffer.CommitInterval < 0 {
		return errors.New("buffer.commit_interval must not be negative")
	}
	if c.Buffer.PollInterval <= 0 {
		return errors.New("buffer.poll_interval must be positive")
	}
	if c.Sampling.Interval <= 0 {
		return errors.New("sampling.interval must be positive")
	}
	for _, core := range c.Sampling.Cores {
		if core < 0 {
			return fmt.Errorf("invalid core: %d", core)
		}
	}

	switch c.Sink.Type {
	case SinkFile:
		if c.Sink.Path == "" {
			return errors.New("sink.path is required for file sink")
		}
	case SinkSocket, SinkGRPC:
		if c.Sink.URL == "" {
			return fmt.Errorf("sink.url is required for %s sink", c.Sink.Type)
		}
	case SinkKafka:
		if len(c.Sink.Kafka.Brokers) == 0 {
			return errors.New("sink.kafka.brokers is required for kafka sink")
		}
		if c.Sink.Kafka.Topic == "" {
			return errors.New("sink.kafka.topic is required for kafka sink")
		}
	default:
		return fmt.Errorf("unsupported sink type: %s", c.Sink.Type)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level: %s", c.Log.Level)
	}
	return nil
}
