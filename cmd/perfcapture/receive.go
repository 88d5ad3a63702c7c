package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/DataExMachina-dev/perfcapture-go/internal/logging"
	"github.com/DataExMachina-dev/perfcapture-go/internal/sink"
)

func newReceiveCmd(opts *rootOptions) *cobra.Command {
	var (
		listen string
		dir    string
		suffix string
	)
	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Accept captures streamed by gRPC sinks and store one file per session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := opts.logLevel
			if level == "" {
				level = "info"
			}
			logger, err := logging.New(level)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			l, err := net.Listen("tcp", listen)
			if err != nil {
				return fmt.Errorf("failed to listen: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serveReceiver(ctx, l, newFileReceiver(dir, suffix, logger), logger)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", ":7070", "address to listen on")
	cmd.Flags().StringVar(&dir, "dir", ".", "directory for received captures")
	cmd.Flags().StringVar(&suffix, "suffix", ".apc", "capture file suffix (.apc.zst compresses)")
	return cmd
}

// serveReceiver serves r on l until ctx is done.
func serveReceiver(ctx context.Context, l net.Listener, r *fileReceiver, logger *zap.Logger) error {
	s := grpc.NewServer()
	sink.RegisterReceiver(s, r)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("receiving captures", zap.Stringer("address", l.Addr()))
		if err := s.Serve(l); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		s.GracefulStop()
		return r.Close()
	})
	return g.Wait()
}

// fileReceiver writes each session's stream to its own file.
type fileReceiver struct {
	dir    string
	suffix string
	logger *zap.Logger

	mu struct {
		sync.Mutex
		files map[uuid.UUID]*sink.File
	}
}

func newFileReceiver(dir, suffix string, logger *zap.Logger) *fileReceiver {
	r := &fileReceiver{dir: dir, suffix: suffix, logger: logger}
	r.mu.files = make(map[uuid.UUID]*sink.File)
	return r
}

// Receive implements sink.Receiver.
func (r *fileReceiver) Receive(_ context.Context, sessionID uuid.UUID, p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.mu.files[sessionID]
	if !ok {
		path := filepath.Join(r.dir, sessionID.String()+r.suffix)
		var err error
		if f, err = sink.Create(path); err != nil {
			return err
		}
		r.mu.files[sessionID] = f
		r.logger.Info("session started", zap.Stringer("session", sessionID), zap.String("path", path))
	}
	return f.WriteData(p)
}

// Close closes every session file.
func (r *fileReceiver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for id, f := range r.mu.files {
		errs = append(errs, f.Close())
		r.logger.Info("session closed",
			zap.Stringer("session", id),
			zap.Uint64("bytes", f.Written()),
			zap.String("digest", fmt.Sprintf("%016x", f.Sum64())),
		)
		delete(r.mu.files, id)
	}
	return errors.Join(errs...)
}
