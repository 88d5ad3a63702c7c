package sink

import (
	"context"
	"errors"
	"fmt"
	"hash"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	captureServiceName = "perfcapture.v1.Capture"
	streamMethod       = "/" + captureServiceName + "/Stream"

	// sessionHeader carries the capture session id in stream metadata.
	sessionHeader = "perfcapture-session"

	// chunkSize bounds the payload of one stream message.
	chunkSize = 128 << 10
)

// Receiver handles capture streams sent by GRPC sinks.
type Receiver interface {
	// Receive is called with the chunks of a session's stream, in order. p
	// is only valid during the call.
	Receive(ctx context.Context, sessionID uuid.UUID, p []byte) error
}

var captureServiceDesc = grpc.ServiceDesc{
	ServiceName: captureServiceName,
	HandlerType: (*Receiver)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Stream",
			Handler:       streamHandler,
			ClientStreams: true,
		},
	},
	Metadata: "perfcapture/v1/capture.proto",
}

// RegisterReceiver registers r as the capture service on s.
func RegisterReceiver(s grpc.ServiceRegistrar, r Receiver) {
	s.RegisterService(&captureServiceDesc, r)
}

func streamHandler(srv any, stream grpc.ServerStream) error {
	r := srv.(Receiver)
	ctx := stream.Context()
	md, _ := metadata.FromIncomingContext(ctx)
	ids := md.Get(sessionHeader)
	if len(ids) == 0 {
		return status.Error(codes.InvalidArgument, "missing session id")
	}
	id, err := uuid.Parse(ids[0])
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "bad session id: %v", err)
	}
	var chunk wrapperspb.BytesValue
	for {
		err := stream.RecvMsg(&chunk)
		if errors.Is(err, io.EOF) {
			return stream.SendMsg(timestamppb.Now())
		}
		if err != nil {
			return fmt.Errorf("failed to receive chunk: %w", err)
		}
		if err := r.Receive(ctx, id, chunk.GetValue()); err != nil {
			return status.Errorf(codes.Internal, "failed to receive capture data: %v", err)
		}
	}
}

// GRPC streams capture data to a Receiver.
type GRPC struct {
	conn    *grpc.ClientConn
	stream  grpc.ClientStream
	chunk   wrapperspb.BytesValue
	digest  hash.Hash64
	written uint64
	acked   time.Time
}

// DialGRPC connects to the capture service at rawURL. http URLs use an
// insecure connection and https URLs use TLS.
func DialGRPC(ctx context.Context, rawURL string, sessionID uuid.UUID, opts ...grpc.DialOption) (*GRPC, error) {
	target, creds, err := grpcTarget(rawURL)
	if err != nil {
		return nil, err
	}
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", rawURL, err)
	}
	g, err := NewGRPC(ctx, conn, sessionID)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	g.conn = conn
	return g, nil
}

// NewGRPC opens a capture stream for sessionID on conn. The stream lives
// until Close or until ctx is done.
func NewGRPC(ctx context.Context, conn grpc.ClientConnInterface, sessionID uuid.UUID) (*GRPC, error) {
	ctx = metadata.AppendToOutgoingContext(ctx, sessionHeader, sessionID.String())
	stream, err := conn.NewStream(ctx, &captureServiceDesc.Streams[0], streamMethod)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture stream: %w", err)
	}
	return &GRPC{stream: stream, digest: NewDigest()}, nil
}

// WriteData implements the buffer Sender contract. p is sent in chunks.
func (g *GRPC) WriteData(p []byte) error {
	for len(p) > 0 {
		n := min(len(p), chunkSize)
		g.chunk.Value = p[:n]
		if err := g.stream.SendMsg(&g.chunk); err != nil {
			return fmt.Errorf("failed to send chunk: %w", err)
		}
		_, _ = g.digest.Write(p[:n])
		g.written += uint64(n)
		p = p[n:]
	}
	g.chunk.Value = nil
	return nil
}

// Written returns the number of capture bytes sent.
func (g *GRPC) Written() uint64 {
	return g.written
}

// Sum64 returns the digest of the capture bytes sent.
func (g *GRPC) Sum64() uint64 {
	return g.digest.Sum64()
}

// Acked returns the receiver's time of the acknowledgement, or the zero time
// before Close.
func (g *GRPC) Acked() time.Time {
	return g.acked
}

// Close ends the stream and waits for the receiver to acknowledge it.
func (g *GRPC) Close() error {
	err := g.stream.CloseSend()
	if err == nil {
		var ack timestamppb.Timestamp
		if err = g.stream.RecvMsg(&ack); err == nil {
			g.acked = ack.AsTime()
		}
	}
	if g.conn != nil {
		err = errors.Join(err, g.conn.Close())
	}
	if err != nil {
		return fmt.Errorf("failed to close capture stream: %w", err)
	}
	return nil
}

func grpcTarget(rawURL string) (string, credentials.TransportCredentials, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", nil, fmt.Errorf("failed to parse url: %w", err)
	}
	var creds credentials.TransportCredentials
	switch u.Scheme {
	case "http":
		creds = insecure.NewCredentials()
	case "https":
		creds = credentials.NewTLS(nil)
	default:
		return "", nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if ip := net.ParseIP(u.Hostname()); ip != nil {
		if u.Port() != "" {
			return net.JoinHostPort(ip.String(), u.Port()), creds, nil
		}
		return ip.String(), creds, nil
	}
	return fmt.Sprintf("dns:///%s", u.Host), creds, nil
}
