package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// preamble is written first on every dialed connection: a magic followed by
// the protocol version.
var preamble = []byte{'P', 'C', 'A', 'P', 0, 0, 0, 1}

// DefaultDialInterval is the minimum time between dial attempts.
const DefaultDialInterval = 2 * time.Second

// Conn is a socket sink.
type Conn struct {
	*Writer
	c net.Conn
}

// DialConfig configures Dial.
type DialConfig struct {
	// Interval is the minimum time between dial attempts. Defaults to
	// DefaultDialInterval.
	Interval time.Duration
	Logger   *zap.Logger
	// Options configure the connection's Writer.
	Options []Option
}

// Dial connects to rawURL, a tcp://host:port or unix:///path URL, retrying
// until it succeeds or ctx is done, and writes the connection preamble.
func Dial(ctx context.Context, rawURL string, cfg DialConfig) (*Conn, error) {
	network, addr, err := parseSocketURL(rawURL)
	if err != nil {
		return nil, err
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultDialInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	var d net.Dialer
	var lastDial time.Time
	for {
		if since := time.Since(lastDial); since < cfg.Interval {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("failed to dial %s: %w", addr, ctx.Err())
			case <-time.After(cfg.Interval - since):
			}
		}
		lastDial = time.Now()
		c, err := d.DialContext(ctx, network, addr)
		if err != nil {
			cfg.Logger.Warn("dial failed, retrying",
				zap.String("address", addr),
				zap.Duration("interval", cfg.Interval),
				zap.Error(err),
			)
			continue
		}
		if err := writePreamble(c); err != nil {
			_ = c.Close()
			return nil, err
		}
		cfg.Logger.Info("connected", zap.String("address", addr))
		return &Conn{Writer: NewWriter(c, cfg.Options...), c: c}, nil
	}
}

func writePreamble(c net.Conn) error {
	toWrite := preamble
	for len(toWrite) > 0 {
		n, err := c.Write(toWrite)
		if err != nil {
			return fmt.Errorf("failed to write preamble: %w", err)
		}
		toWrite = toWrite[n:]
	}
	return nil
}

// ReadPreamble consumes and checks the connection preamble on the accepting
// side.
func ReadPreamble(c net.Conn) error {
	var got [8]byte
	if _, err := io.ReadFull(c, got[:]); err != nil {
		return fmt.Errorf("failed to read preamble: %w", err)
	}
	if !bytes.Equal(got[:], preamble) {
		return fmt.Errorf("bad preamble %x", got)
	}
	return nil
}

// Close closes the connection.
func (c *Conn) Close() error {
	return c.c.Close()
}

func parseSocketURL(rawURL string) (network, addr string, _ error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse url: %w", err)
	}
	switch u.Scheme {
	case "tcp":
		if u.Host == "" {
			return "", "", fmt.Errorf("missing host in %q", rawURL)
		}
		return "tcp", u.Host, nil
	case "unix":
		if u.Path == "" {
			return "", "", fmt.Errorf("missing path in %q", rawURL)
		}
		return "unix", u.Path, nil
	default:
		return "", "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
}
