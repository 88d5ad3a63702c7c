package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 1<<20, cfg.Buffer.Size)
	require.Equal(t, 100*time.Millisecond, cfg.Buffer.CommitInterval)
	require.Equal(t, SinkFile, cfg.Sink.Type)
	require.Equal(t, "info", cfg.Log.Level)
	require.Empty(t, cfg.Sampling.Cores)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, SinkFile, cfg.Sink.Type)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perfcapture.yaml")
	content := `
buffer:
  size: 65536
  commit_interval: 250ms
sampling:
  cores: [0, 2]
  interval: 1ms
  pids: [1]
sink:
  type: kafka
  kafka:
    brokers:
      - localhost:9092
    topic: captures
    compression: zstd
log:
  level: debug
metrics:
  address: ":9100"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 65536, cfg.Buffer.Size)
	require.Equal(t, 250*time.Millisecond, cfg.Buffer.CommitInterval)
	require.Equal(t, []int32{0, 2}, cfg.Sampling.Cores)
	require.Equal(t, time.Millisecond, cfg.Sampling.Interval)
	require.Equal(t, []int32{1}, cfg.Sampling.PIDs)
	require.Equal(t, SinkKafka, cfg.Sink.Type)
	require.Equal(t, []string{"localhost:9092"}, cfg.Sink.Kafka.Brokers)
	require.Equal(t, "captures", cfg.Sink.Kafka.Topic)
	require.Equal(t, "zstd", cfg.Sink.Kafka.Compression)
	require.Equal(t, 512<<10, cfg.Sink.Kafka.MaxMessageBytes)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, ":9100", cfg.Metrics.Address)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PERFCAPTURE_BUFFER_SIZE", "4096")
	t.Setenv("PERFCAPTURE_SINK_PATH", "/tmp/out.apc.zst")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 4096, cfg.Buffer.Size)
	require.Equal(t, "/tmp/out.apc.zst", cfg.Sink.Path)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	for _, tc := range []struct {
		name   string
		modify func(*Config)
	}{
		{"buffer not power of two", func(c *Config) { c.Buffer.Size = 1000 }},
		{"zero buffer", func(c *Config) { c.Buffer.Size = 0 }},
		{"buffer above frame limit", func(c *Config) { c.Buffer.Size = 2 * MaxBufferSize }},
		{"zero poll interval", func(c *Config) { c.Buffer.PollInterval = 0 }},
		{"negative core", func(c *Config) { c.Sampling.Cores = []int32{-1} }},
		{"unknown sink", func(c *Config) { c.Sink.Type = "s3" }},
		{"socket without url", func(c *Config) { c.Sink.Type = SinkSocket }},
		{"grpc without url", func(c *Config) { c.Sink.Type = SinkGRPC }},
		{"kafka without brokers", func(c *Config) { c.Sink.Type = SinkKafka }},
		{"file without path", func(c *Config) { c.Sink.Path = "" }},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.modify(cfg)
			require.Error(t, cfg.Validate())
		})
	}

	require.NoError(t, valid().Validate())

	largest := valid()
	largest.Buffer.Size = MaxBufferSize
	require.NoError(t, largest.Validate())
}
