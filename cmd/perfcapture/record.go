package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DataExMachina-dev/perfcapture-go/internal/clock"
	"github.com/DataExMachina-dev/perfcapture-go/internal/config"
	"github.com/DataExMachina-dev/perfcapture-go/internal/logging"
	"github.com/DataExMachina-dev/perfcapture-go/internal/procfs"
	"github.com/DataExMachina-dev/perfcapture-go/perfcapture"
)

func newRecordCmd(opts *rootOptions) *cobra.Command {
	var (
		output   string
		duration time.Duration
	)
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a capture until interrupted or for a fixed duration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configFile)
			if err != nil {
				return err
			}
			if output != "" {
				cfg.Sink.Type = config.SinkFile
				cfg.Sink.Path = output
			}
			if cmd.Flags().Changed("duration") {
				cfg.Sampling.Duration = duration
			}
			if opts.logLevel != "" {
				cfg.Log.Level = opts.logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, err := logging.New(cfg.Log.Level)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			fs, err := procfs.Default()
			if err != nil {
				return err
			}
			return record(cmd.Context(), cfg, fs, logger)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the capture to this file (.zst compresses)")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "stop after this long (0 records until interrupted)")
	return cmd
}

// record runs a capture session as configured.
func record(ctx context.Context, cfg *config.Config, fs *procfs.FS, logger *zap.Logger) error {
	cores := cfg.Sampling.Cores
	if len(cores) == 0 {
		var err error
		if cores, err = fs.OnlineCPUs(); err != nil {
			return err
		}
	}
	streams := make([]perfcapture.Stream, len(cores))
	for i, c := range cores {
		streams[i] = perfcapture.Stream{Core: c}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	session, err := perfcapture.New(streams,
		perfcapture.WithBufferSize(cfg.Buffer.Size),
		perfcapture.WithCommitInterval(cfg.Buffer.CommitInterval),
		perfcapture.WithPollInterval(cfg.Buffer.PollInterval),
		perfcapture.WithLogger(logger),
		perfcapture.WithRegisterer(reg),
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	clk, err := clock.New()
	if err != nil {
		return fmt.Errorf("failed to read clocks: %w", err)
	}

	sigCtx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	snk, err := openSink(sigCtx, cfg.Sink, session.ID(), logger)
	if err != nil {
		return fmt.Errorf("failed to open %s sink: %w", cfg.Sink.Type, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	// Producers stop on a signal, at the end of the duration, or when the
	// session fails. The session keeps draining until every buffer is done.
	captureCtx, stopCapture := context.WithCancel(gctx)
	defer stopCapture()
	stopOnSignal := context.AfterFunc(sigCtx, stopCapture)
	defer stopOnSignal()
	if cfg.Sampling.Duration > 0 {
		var cancel context.CancelFunc
		captureCtx, cancel = context.WithTimeout(captureCtx, cfg.Sampling.Duration)
		defer cancel()
	}

	var srv *http.Server
	if cfg.Metrics.Address != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		mux.Handle("/", session.HTTPHandler())
		srv = &http.Server{Addr: cfg.Metrics.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info("serving metrics", zap.String("address", cfg.Metrics.Address))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		err := session.Run(gctx, snk)
		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}
		return err
	})

	rec := &recorder{
		fs:       procfs.NewShared(fs),
		clock:    clk,
		cores:    cores,
		pids:     cfg.Sampling.PIDs,
		interval: cfg.Sampling.Interval,
		noSync:   cfg.Sampling.NoSync,
		logger:   logger,
	}
	for i, b := range session.Buffers() {
		g.Go(func() error {
			return rec.run(captureCtx, b, i == 0)
		})
	}
	logger.Info("recording",
		zap.Stringer("session", session.ID()),
		zap.Int32s("cores", cores),
		zap.String("sink", cfg.Sink.Type),
	)

	err = g.Wait()
	closeErr := snk.Close()
	var dropped uint64
	for _, st := range session.Stats() {
		dropped += st.Dropped
	}
	logger.Info("capture finished",
		zap.Uint64("bytes", snk.Written()),
		zap.String("digest", fmt.Sprintf("%016x", snk.Sum64())),
		zap.Uint64("dropped", dropped),
	)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return errors.Join(err, closeErr)
}
