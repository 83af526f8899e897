// Package netcomm connects two processes into a two-rank comm group over
// gRPC. The listening process is rank 0 and the dialing process is rank 1.
//
// All messages travel over one bidirectional Exchange stream. Each message
// is a wrapperspb.BytesValue holding the source rank, the tag and the
// payload, so per (source, tag) ordering follows from the stream's
// ordering. The client also sends periodic Heartbeat calls and fails its
// endpoint when the server stops answering.
package netcomm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/mrjoshuak/go-sortlast/comm"
	"github.com/mrjoshuak/go-sortlast/internal/logging"
)

// Ranks of the two sides.
const (
	ServerRank = 0
	ClientRank = 1
)

// Channel errors
var (
	ErrEnvelope     = errors.New("netcomm: malformed envelope")
	ErrBusy         = errors.New("netcomm: a client is already connected")
	ErrServerClosed = errors.New("netcomm: server closed")
)

// Config configures both sides of a connection.
type Config struct {
	// HeartbeatInterval is how often the client checks the server. Zero
	// disables heartbeats.
	HeartbeatInterval time.Duration

	// MaxMessageSize bounds one message, including its 8 byte envelope.
	MaxMessageSize int

	Logger *slog.Logger
}

// DefaultConfig returns a five second heartbeat and a 64 MiB message
// limit.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 5 * time.Second,
		MaxMessageSize:    64 << 20,
	}
}

func (c *Config) messageSize() int {
	if c.MaxMessageSize <= 0 {
		return DefaultConfig().MaxMessageSize
	}
	return c.MaxMessageSize
}

// Server accepts one client at a time.
type Server struct {
	cfg Config
	log *slog.Logger
	gs  *grpc.Server
	lis net.Listener

	accept chan *comm.Endpoint

	mu   sync.Mutex
	busy bool

	done      chan struct{}
	closeOnce sync.Once
}

// Listen listens on a TCP address and serves the channel.
func Listen(addr string, cfg Config) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("netcomm: listen: %w", err)
	}
	return NewServer(lis, cfg), nil
}

// NewServer serves the channel on lis until Close.
func NewServer(lis net.Listener, cfg Config) *Server {
	s := &Server{
		cfg:    cfg,
		log:    logging.OrNop(cfg.Logger).With("rank", ServerRank),
		lis:    lis,
		accept: make(chan *comm.Endpoint),
		done:   make(chan struct{}),
	}
	s.gs = grpc.NewServer(
		grpc.MaxRecvMsgSize(cfg.messageSize()),
		grpc.MaxSendMsgSize(cfg.messageSize()),
	)
	s.gs.RegisterService(&serviceDesc, s)
	go func() {
		if err := s.gs.Serve(lis); err != nil {
			s.log.Warn("server stopped", "err", err)
		}
	}()
	s.log.Info("listening", "addr", lis.Addr())
	return s
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.lis.Addr()
}

// Accept waits for a client and returns the rank 0 endpoint connected to
// it. Closing the endpoint ends the connection.
func (s *Server) Accept(ctx context.Context) (*comm.Endpoint, error) {
	select {
	case ep := <-s.accept:
		return ep, nil
	case <-s.done:
		return nil, ErrServerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the server and drops any connection.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.gs.Stop()
	})
	return nil
}

func (s *Server) heartbeat(context.Context) (*emptypb.Empty, error) {
	return &emptypb.Empty{}, nil
}

func (s *Server) exchange(stream grpc.ServerStream) error {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		s.log.Warn("rejecting second client")
		return status.Error(codes.ResourceExhausted, ErrBusy.Error())
	}
	s.busy = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}()

	closed := make(chan struct{})
	t := &transport{stream: stream, log: s.log}
	t.onClose = func() error {
		close(closed)
		return nil
	}
	ep := comm.NewEndpoint(ServerRank, t, s.log)
	t.ep = ep
	// No send may happen once the handler has returned.
	defer t.shutdown()

	select {
	case s.accept <- ep:
	case <-s.done:
		return status.Error(codes.Unavailable, ErrServerClosed.Error())
	case <-stream.Context().Done():
		return stream.Context().Err()
	}
	s.log.Info("client connected")

	received := make(chan struct{})
	go func() {
		t.receive()
		close(received)
	}()
	select {
	case <-received:
		s.log.Info("client disconnected")
	case <-closed:
		s.log.Info("connection closed")
	case <-s.done:
	}
	return nil
}

// Dial connects to a Server and returns the rank 1 endpoint. ctx bounds
// only the connection attempt.
func Dial(ctx context.Context, addr string, cfg Config) (*comm.Endpoint, error) {
	log := logging.OrNop(cfg.Logger).With("rank", ClientRank)
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(cfg.messageSize()),
			grpc.MaxCallSendMsgSize(cfg.messageSize()),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("netcomm: dial %s: %w", addr, err)
	}
	if err := conn.Invoke(ctx, heartbeatMethod, &emptypb.Empty{}, &emptypb.Empty{}, grpc.WaitForReady(true)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("netcomm: dial %s: %w", addr, err)
	}

	sctx, cancel := context.WithCancel(context.Background())
	stream, err := conn.NewStream(sctx, &serviceDesc.Streams[0], exchangeMethod)
	if err != nil {
		cancel()
		conn.Close()
		return nil, fmt.Errorf("netcomm: open exchange: %w", err)
	}

	t := &transport{stream: stream, log: log}
	t.onClose = func() error {
		t.mu.Lock()
		stream.CloseSend()
		t.mu.Unlock()
		cancel()
		return conn.Close()
	}
	ep := comm.NewEndpoint(ClientRank, t, log)
	t.ep = ep
	go t.receive()
	if cfg.HeartbeatInterval > 0 {
		go heartbeat(sctx, conn, cfg.HeartbeatInterval, ep, log)
	}
	log.Info("connected", "addr", addr)
	return ep, nil
}

// heartbeat fails ep when the server stops answering.
func heartbeat(ctx context.Context, conn *grpc.ClientConn, every time.Duration, ep *comm.Endpoint, log *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		hctx, cancel := context.WithTimeout(ctx, every)
		err := conn.Invoke(hctx, heartbeatMethod, &emptypb.Empty{}, &emptypb.Empty{})
		cancel()
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		log.Warn("heartbeat failed", "err", err)
		ep.Fail(fmt.Errorf("%w: heartbeat: %v", comm.ErrClosed, err))
		return
	}
}
