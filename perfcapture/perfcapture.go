// Package perfcapture runs a capture session: one buffer per (core, channel)
// stream, filled by producer goroutines and drained by Run into a sink.
package perfcapture

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/DataExMachina-dev/perfcapture-go/internal/buffer"
	"github.com/DataExMachina-dev/perfcapture-go/internal/metrics"
)

type (
	// Buffer is the capture buffer of one stream.
	Buffer = buffer.Buffer
	// Sender receives drained bytes.
	Sender = buffer.Sender
	// Stats is a snapshot of a buffer's counters.
	Stats = buffer.Stats
	// Message is a record that can be marshalled into a Buffer.
	Message = buffer.Message
)

// Defaults for a Session.
const (
	DefaultBufferSize   = 1 << 20
	DefaultPollInterval = 100 * time.Millisecond
)

// ErrRunning is returned by Run when the session is already running.
var ErrRunning = errors.New("session already running")

// Stream identifies a buffer.
type Stream struct {
	Core    int32
	Channel int32
}

// Option to configure a Session.
type Option interface {
	apply(*config)
}

type config struct {
	bufferSize     int
	commitInterval time.Duration
	pollInterval   time.Duration
	logger         *zap.Logger
	registerer     prometheus.Registerer
}

type optionFunc func(cfg *config)

func (f optionFunc) apply(cfg *config) {
	f(cfg)
}

// WithBufferSize sets the capacity of every buffer. It must be a power of
// two.
func WithBufferSize(size int) Option {
	return optionFunc(func(cfg *config) {
		cfg.bufferSize = size
	})
}

// WithCommitInterval sets how long written messages may stay unpublished.
func WithCommitInterval(d time.Duration) Option {
	return optionFunc(func(cfg *config) {
		cfg.commitInterval = d
	})
}

// WithPollInterval sets how often Run drains without being signalled.
func WithPollInterval(d time.Duration) Option {
	return optionFunc(func(cfg *config) {
		cfg.pollInterval = d
	})
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(cfg *config) {
		cfg.logger = l
	})
}

// WithRegisterer registers the session's metrics on reg. Defaults to a
// private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return optionFunc(func(cfg *config) {
		cfg.registerer = reg
	})
}

// Session owns the buffers of a capture and drains them.
type Session struct {
	id        uuid.UUID
	cfg       config
	logger    *zap.Logger
	dataReady chan struct{}
	buffers   []*buffer.Buffer
	index     map[Stream]*buffer.Buffer
	metrics   *metrics.Collector
	started   time.Time

	// Consumer state, only touched by Run.
	dropped     []uint64
	dropWarning rate.Sometimes

	mu struct {
		sync.Mutex
		// cancel is set while Run is in progress.
		cancel context.CancelFunc
	}
}

// New creates a session with a buffer for each stream.
func New(streams []Stream, opts ...Option) (*Session, error) {
	cfg := config{
		bufferSize:     DefaultBufferSize,
		commitInterval: buffer.DefaultCommitInterval,
		pollInterval:   DefaultPollInterval,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt.apply(&cfg)
	}
	if len(streams) == 0 {
		return nil, errors.New("no streams")
	}
	if cfg.bufferSize <= 0 || bits.OnesCount(uint(cfg.bufferSize)) != 1 {
		return nil, fmt.Errorf("buffer size must be a power of two: %d", cfg.bufferSize)
	}
	if cfg.pollInterval <= 0 {
		return nil, fmt.Errorf("invalid poll interval: %s", cfg.pollInterval)
	}
	if cfg.registerer == nil {
		cfg.registerer = prometheus.NewRegistry()
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}
	s := &Session{
		id:          id,
		cfg:         cfg,
		logger:      cfg.logger.With(zap.Stringer("session", id)),
		dataReady:   make(chan struct{}, 1),
		index:       make(map[Stream]*buffer.Buffer, len(streams)),
		dropped:     make([]uint64, len(streams)),
		dropWarning: rate.Sometimes{First: 1, Interval: time.Second},
		started:     time.Now(),
	}
	for _, st := range streams {
		if _, ok := s.index[st]; ok {
			return nil, fmt.Errorf("duplicate stream: core %d channel %d", st.Core, st.Channel)
		}
		b := buffer.New(st.Core, st.Channel, cfg.bufferSize, s.dataReady,
			buffer.WithCommitInterval(cfg.commitInterval),
			buffer.WithLogger(s.logger),
		)
		s.buffers = append(s.buffers, b)
		s.index[st] = b
	}
	s.metrics = metrics.NewCollector(cfg.registerer, s.Stats)
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() uuid.UUID { return s.id }

// Buffer returns the buffer of a stream, or nil if the session has none.
func (s *Session) Buffer(core, channel int32) *Buffer {
	return s.index[Stream{Core: core, Channel: channel}]
}

// Buffers returns every buffer in creation order.
func (s *Session) Buffers() []*Buffer {
	return s.buffers
}

// Stats returns the counters of every buffer.
func (s *Session) Stats() []Stats {
	stats := make([]Stats, len(s.buffers))
	for i, b := range s.buffers {
		stats[i] = b.Stats()
	}
	return stats
}

// Run drains the buffers into snd whenever a buffer signals data or the poll
// interval elapses. It returns nil once every buffer is done and drained. If
// ctx is cancelled, or Stop is called, committed data is drained one last
// time and the context error is returned. A send error stops the session.
//
// On return the buffers are closed, releasing any producer waiting for
// space.
func (s *Session) Run(ctx context.Context, snd Sender) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !s.start(cancel) {
		return ErrRunning
	}
	defer s.setCancel(nil)
	defer s.close()

	s.logger.Info("capture session started", zap.Int("buffers", len(s.buffers)))
	ticker := time.NewTicker(s.cfg.pollInterval)
	defer ticker.Stop()
	for {
		done, err := s.drainAll(snd)
		if err != nil {
			return err
		}
		if done {
			s.logger.Info("capture session finished")
			return nil
		}
		select {
		case <-ctx.Done():
			if _, err := s.drainAll(snd); err != nil {
				return err
			}
			s.logger.Info("capture session stopped", zap.Error(ctx.Err()))
			return ctx.Err()
		case <-s.dataReady:
		case <-ticker.C:
		}
	}
}

// drainAll drains every buffer once and reports whether all are done.
func (s *Session) drainAll(snd Sender) (bool, error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveDrainPass(time.Since(start).Seconds())
	}()

	done := true
	for i, b := range s.buffers {
		if b.IsDone() {
			continue
		}
		n, err := b.Drain(snd)
		s.metrics.ObserveDrain(b.Core(), b.Channel(), n, err)
		if err != nil {
			s.logger.Error("failed to drain buffer",
				zap.Int32("core", b.Core()), zap.Int32("channel", b.Channel()), zap.Error(err))
			return false, err
		}
		s.checkDropped(i, b)
		if !b.IsDone() {
			done = false
		}
	}
	return done, nil
}

func (s *Session) checkDropped(i int, b *buffer.Buffer) {
	dropped := b.Stats().Dropped
	if dropped == s.dropped[i] {
		return
	}
	delta := dropped - s.dropped[i]
	s.dropped[i] = dropped
	s.dropWarning.Do(func() {
		s.logger.Warn("capture buffer full, samples dropped",
			zap.Int32("core", b.Core()),
			zap.Int32("channel", b.Channel()),
			zap.Uint64("dropped", delta),
			zap.Uint64("total", dropped),
		)
	})
}

// Stop cancels a running Run. It is a no-op if the session is not running.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mu.cancel != nil {
		s.mu.cancel()
	}
}

// Running reports whether Run is in progress.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mu.cancel != nil
}

func (s *Session) start(cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mu.cancel != nil {
		return false
	}
	s.mu.cancel = cancel
	return true
}

func (s *Session) setCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	s.mu.cancel = cancel
	s.mu.Unlock()
}

func (s *Session) close() {
	for _, b := range s.buffers {
		b.Close()
	}
}
