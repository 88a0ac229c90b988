package registrygrpc

import (
	"context"
	"log/slog"

	"github.com/blockberries/registry"
	"github.com/blockberries/registry/client"
	"github.com/blockberries/registry/types"

	"google.golang.org/grpc"
)

// Compile-time interface check.
var _ NodeServiceServer = (*Server)(nil)

// Server serves an ordering oracle, usually a *node.Node, over gRPC.
type Server struct {
	oracle client.Oracle
	log    *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the structured logger. Defaults to slog.Default().
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// NewServer wraps o as a NodeServiceServer.
func NewServer(o client.Oracle, opts ...ServerOption) *Server {
	s := &Server{oracle: o, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds the node service to a gRPC server.
func (s *Server) Register(gs grpc.ServiceRegistrar) {
	RegisterNodeServiceServer(gs, s)
}

// Submit streams the progress of one transaction. A refusal is sent
// as a single Rejected event rather than a status error, so clients
// can tell it apart from transport failures.
func (s *Server) Submit(req *SubmitRequest, stream grpc.ServerStream) error {
	events, err := s.oracle.Submit(stream.Context(), req.Tx)
	if err != nil {
		if te, ok := registry.AsTxError(err); ok {
			return stream.SendMsg(&types.InclusionEvent{
				Status: types.StatusRejected,
				TxHash: req.Tx.Hash(),
				Code:   uint32(te.Code),
				Reason: te.Detail,
			})
		}
		s.log.Warn("submit failed", "error", err)
		return toStatus(err)
	}
	for ev := range events {
		if err := stream.SendMsg(&ev); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) Query(ctx context.Context, req *QueryRequest) (*QueryResponse, error) {
	value, found, err := s.oracle.Query(ctx, req.Key)
	if err != nil {
		return nil, toStatus(err)
	}
	return &QueryResponse{Found: found, Value: value}, nil
}

func (s *Server) Status(ctx context.Context, _ *StatusRequest) (*types.ChainStatus, error) {
	st, err := s.oracle.Status(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &st, nil
}
