package perfcapture

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/DataExMachina-dev/perfcapture-go/internal/buffer"
	"github.com/DataExMachina-dev/perfcapture-go/internal/framing"
	"github.com/DataExMachina-dev/perfcapture-go/internal/ring"
)

func newTestSession(t *testing.T, streams []Stream, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	s, err := New(streams, opts...)
	require.NoError(t, err)
	return s
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)

	_, err = New([]Stream{{Core: 0}}, WithBufferSize(1000))
	require.Error(t, err)

	_, err = New([]Stream{{Core: 0}}, WithPollInterval(0))
	require.Error(t, err)

	_, err = New([]Stream{{Core: 1, Channel: 2}, {Core: 1, Channel: 2}})
	require.Error(t, err)

	s, err := New([]Stream{{Core: 1, Channel: 2}, {Core: 1, Channel: 3}})
	require.NoError(t, err)
	require.NotNil(t, s.Buffer(1, 3))
	require.Nil(t, s.Buffer(2, 2))
	require.Len(t, s.Buffers(), 2)
	require.Equal(t, DefaultBufferSize, s.Buffer(1, 2).Cap())
}

// TestRunDrainsEveryStream fills small buffers from concurrent producers and
// checks that each stream's messages arrive complete and in order.
func TestRunDrainsEveryStream(t *testing.T) {
	streams := []Stream{{Core: 0}, {Core: 1}, {Core: 2, Channel: 1}}
	reg := prometheus.NewRegistry()
	s := newTestSession(t, streams,
		WithBufferSize(512),
		WithPollInterval(time.Millisecond),
		WithRegisterer(reg),
	)

	const perStream = 200
	dec := framing.NewDecoder()
	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error { return s.Run(ctx, dec) })
	for _, b := range s.Buffers() {
		g.Go(func() error {
			defer b.SetDone()
			for i := 0; i < perStream; i++ {
				payload := []byte{byte(i), byte(b.Core()), 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
				if err := b.Marshal(ctx, int64(i), buffer.External{Payload: payload}); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Zero(t, dec.Buffered())

	next := map[Stream]int64{}
	for f, ok := dec.Next(); ok; f, ok = dec.Next() {
		require.Equal(t, framing.KindExternal, f.Kind)
		st := Stream{Core: f.Core, Channel: f.Channel}
		r := f.Messages()
		for r.Len() > 0 {
			require.Equal(t, int32(framing.CodeExternal), r.Int32())
			now := r.Int64()
			p := r.Bytes(int(r.LE32()))
			require.NoError(t, r.Err())
			require.Equal(t, next[st], now)
			require.Equal(t, byte(now), p[0])
			require.Equal(t, byte(f.Core), p[1])
			next[st]++
		}
	}
	for _, st := range streams {
		require.Equal(t, int64(perStream), next[st], "core %d channel %d", st.Core, st.Channel)
	}

	var waits uint64
	for _, st := range s.Stats() {
		require.True(t, st.Done)
		require.Zero(t, st.Ring.Used())
		waits += st.Waits
	}
	require.Positive(t, waits, "buffers should have filled up")
	n, err := testutil.GatherAndCount(reg, "perfcapture_drained_bytes_total")
	require.NoError(t, err)
	require.Equal(t, len(streams), n)
}

func TestRunStops(t *testing.T) {
	s := newTestSession(t, []Stream{{Core: 0}}, WithPollInterval(time.Hour))
	b := s.Buffer(0, 0)
	require.NoError(t, b.Marshal(context.Background(), 1, buffer.External{Payload: []byte("x")}))
	b.Commit(1, false)

	dec := framing.NewDecoder()
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(context.Background(), dec) }()
	require.Eventually(t, s.Running, time.Second, time.Millisecond)
	require.ErrorIs(t, s.Run(context.Background(), dec), ErrRunning)

	s.Stop()
	require.ErrorIs(t, <-errCh, context.Canceled)
	require.False(t, s.Running())
	require.Equal(t, 1, dec.Len())

	// Run closed the buffers on the way out.
	err := b.Marshal(context.Background(), 2, buffer.External{Payload: make([]byte, DefaultBufferSize-40)})
	require.ErrorIs(t, err, ring.ErrClosed)
}

func TestRunSendError(t *testing.T) {
	s := newTestSession(t, []Stream{{Core: 0}}, WithBufferSize(256), WithPollInterval(time.Millisecond))
	broken := errors.New("connection reset")
	snd := buffer.SenderFunc(func([]byte) error { return broken })

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error { return s.Run(ctx, snd) })
	var produceErr error
	g.Go(func() error {
		b := s.Buffer(0, 0)
		for i := int64(0); ; i++ {
			if produceErr = b.Marshal(context.Background(), i, buffer.External{Payload: make([]byte, 100)}); produceErr != nil {
				return nil
			}
		}
	})
	require.ErrorIs(t, g.Wait(), broken)
	require.ErrorIs(t, produceErr, ring.ErrClosed)
}

func TestHTTPHandler(t *testing.T) {
	s := newTestSession(t, []Stream{{Core: 0}, {Core: 5, Channel: 1}}, WithPollInterval(time.Hour))
	srv := httptest.NewServer(s.HTTPHandler())
	defer srv.Close()

	get := func() string {
		resp, err := http.Get(srv.URL)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return string(body)
	}

	body := get()
	require.Contains(t, body, s.ID().String())
	require.Contains(t, body, "<td>5</td><td>1</td>")
	require.Contains(t, body, "stopped")

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(context.Background(), buffer.SenderFunc(func([]byte) error { return nil })) }()
	require.Eventually(t, s.Running, time.Second, time.Millisecond)
	require.Contains(t, get(), "running")

	resp, err := http.PostForm(srv.URL, url.Values{"stop": {"Stop"}})
	require.NoError(t, err)
	body2, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, strings.Contains(string(body2), "stopped"))
	require.ErrorIs(t, <-errCh, context.Canceled)

	resp, err = http.PostForm(srv.URL, url.Values{})
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
