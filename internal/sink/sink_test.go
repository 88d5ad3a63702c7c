package sink

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

func digestOf(p []byte) uint64 {
	h := NewDigest()
	_, _ = h.Write(p)
	return h.Sum64()
}

func TestWriterDigest(t *testing.T) {
	var out bytes.Buffer
	w := NewWriter(&out)
	require.NoError(t, w.WriteData([]byte("hello ")))
	require.NoError(t, w.WriteData(nil))
	require.NoError(t, w.WriteData([]byte("world")))
	require.Equal(t, "hello world", out.String())
	require.Equal(t, uint64(11), w.Written())
	require.Equal(t, digestOf([]byte("hello world")), w.Sum64())
}

func TestEnvelopeRoundTrip(t *testing.T) {
	var out bytes.Buffer
	w := NewWriter(&out, WithEnvelope())
	require.NoError(t, w.WriteData([]byte("abc")))
	require.NoError(t, w.WriteData(bytes.Repeat([]byte{7}, 1000)))
	require.Equal(t, []byte{responseAPCData, 3, 0, 0, 0, 'a', 'b', 'c'}, out.Bytes()[:8])
	require.Equal(t, uint64(1003), w.Written())

	got, err := io.ReadAll(Unwrap(bytes.NewReader(out.Bytes())))
	require.NoError(t, err)
	require.Equal(t, append([]byte("abc"), bytes.Repeat([]byte{7}, 1000)...), got)

	_, err = io.ReadAll(Unwrap(bytes.NewReader(out.Bytes()[:out.Len()-1])))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = io.ReadAll(Unwrap(bytes.NewReader([]byte{9, 0, 0, 0, 0})))
	require.Error(t, err)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriterError(t *testing.T) {
	w := NewWriter(failingWriter{})
	require.Error(t, w.WriteData([]byte("x")))
	require.Zero(t, w.Written())
}

func TestFileRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("frame data "), 10000)
	for _, name := range []string{"capture.bin", "capture.bin.zst"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			f, err := Create(path)
			require.NoError(t, err)
			require.NoError(t, f.WriteData(payload[:1000]))
			require.NoError(t, f.WriteData(payload[1000:]))
			require.Equal(t, digestOf(payload), f.Sum64())
			require.NoError(t, f.Close())

			r, err := Open(path)
			require.NoError(t, err)
			defer r.Close()
			got, err := io.ReadAll(r)
			require.NoError(t, err)
			require.Equal(t, payload, got)
		})
	}
}

func TestDialWritesPreamble(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	received := make(chan []byte, 1)
	go func() {
		c, err := l.Accept()
		if err != nil {
			received <- nil
			return
		}
		defer c.Close()
		if err := ReadPreamble(c); err != nil {
			received <- nil
			return
		}
		data, _ := io.ReadAll(c)
		received <- data
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, err := Dial(ctx, "tcp://"+l.Addr().String(), DialConfig{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	require.NoError(t, c.WriteData([]byte("capture")))
	require.NoError(t, c.Close())
	require.Equal(t, []byte("capture"), <-received)
}

func TestDialGivesUpWithContext(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = Dial(ctx, "tcp://"+addr, DialConfig{Interval: 20 * time.Millisecond, Logger: zaptest.NewLogger(t)})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseSocketURL(t *testing.T) {
	network, addr, err := parseSocketURL("unix:///run/perfcapture.sock")
	require.NoError(t, err)
	require.Equal(t, "unix", network)
	require.Equal(t, "/run/perfcapture.sock", addr)

	for _, bad := range []string{"http://host:1", "tcp://", "unix://"} {
		_, _, err := parseSocketURL(bad)
		require.Error(t, err, bad)
	}
}

func TestGRPCTarget(t *testing.T) {
	for _, tc := range []struct{ url, target string }{
		{"http://127.0.0.1:9000", "127.0.0.1:9000"},
		{"http://[::1]:9000", "[::1]:9000"},
		{"https://10.0.0.1", "10.0.0.1"},
		{"https://collector.example.com:443", "dns:///collector.example.com:443"},
	} {
		target, _, err := grpcTarget(tc.url)
		require.NoError(t, err)
		require.Equal(t, tc.target, target)
	}
	_, _, err := grpcTarget("ftp://x")
	require.Error(t, err)
}

type collectingReceiver struct {
	mu       sync.Mutex
	sessions map[uuid.UUID][]byte
}

func (r *collectingReceiver) Receive(_ context.Context, id uuid.UUID, p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = append(r.sessions[id], p...)
	return nil
}

func TestGRPCStream(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	recv := &collectingReceiver{sessions: map[uuid.UUID][]byte{}}
	RegisterReceiver(s, recv)
	go func() { _ = s.Serve(lis) }()
	defer s.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	id := uuid.New()
	g, err := NewGRPC(context.Background(), conn, id)
	require.NoError(t, err)

	payload := bytes.Repeat([]byte{1, 2, 3, 4, 5}, chunkSize/2)
	require.NoError(t, g.WriteData(payload[:100]))
	require.NoError(t, g.WriteData(payload[100:]))
	require.True(t, g.Acked().IsZero())
	require.NoError(t, g.Close())
	require.False(t, g.Acked().IsZero())

	require.Equal(t, uint64(len(payload)), g.Written())
	require.Equal(t, digestOf(payload), g.Sum64())
	recv.mu.Lock()
	defer recv.mu.Unlock()
	require.Equal(t, payload, recv.sessions[id])
}

func TestKafkaChunks(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	var got []byte
	for i := 0; i < 3; i++ {
		producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
			got = append(got, val...)
			return nil
		})
	}
	id := uuid.New()
	k := NewKafkaWithProducer(producer, "captures", 4, id, zaptest.NewLogger(t))
	require.NoError(t, k.WriteData([]byte("0123456789")))
	require.Equal(t, []byte("0123456789"), got)
	require.Equal(t, uint64(10), k.Written())
	require.Equal(t, digestOf([]byte("0123456789")), k.Sum64())
	require.NoError(t, k.Close())
}

func TestKafkaSendError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)
	k := NewKafkaWithProducer(producer, "captures", 1024, uuid.New(), zaptest.NewLogger(t))
	err := k.WriteData([]byte("x"))
	require.ErrorIs(t, err, sarama.ErrNotLeaderForPartition)
	require.Zero(t, k.Written())
	require.NoError(t, k.Close())
}

func TestParseCompression(t *testing.T) {
	require.Equal(t, sarama.CompressionZSTD, parseCompression("zstd"))
	require.Equal(t, sarama.CompressionNone, parseCompression(""))
}
