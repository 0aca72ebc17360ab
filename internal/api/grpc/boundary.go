// Package grpc exposes the boundary exchange over gRPC so partitions can run
// in other processes.
package grpc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	ferrors "github.com/facetd/facetd/internal/errors"
	"github.com/facetd/facetd/internal/facet"
	"github.com/facetd/facetd/internal/router"
	"github.com/facetd/facetd/internal/wire"
)

const (
	serviceName   = "facetd.boundary.v1.BoundaryExchange"
	publishMethod = "/" + serviceName + "/Publish"
	awaitMethod   = "/" + serviceName + "/Await"
)

// boundaryExchangeServer is the server API for the BoundaryExchange service.
// Publish takes a wire-encoded publication, Await a partition name and
// returns a wire-encoded broadcast.
type boundaryExchangeServer interface {
	Publish(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)
	Await(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
}

//nolint:revive
func publishHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(boundaryExchangeServer).Publish(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: publishMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(boundaryExchangeServer).Publish(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

//nolint:revive
func awaitHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(boundaryExchangeServer).Await(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: awaitMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(boundaryExchangeServer).Await(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

var boundaryExchangeServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*boundaryExchangeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Publish", Handler: publishHandler},
		{MethodName: "Await", Handler: awaitHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "facetd/boundary/v1/boundary.proto",
}

// BoundaryServer serves the exchange of the current round.
type BoundaryServer[T facet.Number] struct {
	mu       sync.RWMutex
	exchange *router.Exchange[T]
	logger   log.Logger
}

// NewBoundaryServer creates a server with no round bound.
func NewBoundaryServer[T facet.Number](logger log.Logger) *BoundaryServer[T] {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &BoundaryServer[T]{logger: log.With(logger, "component", "boundary-server")}
}

// Register adds the service to gs.
func (s *BoundaryServer[T]) Register(gs *grpc.Server) {
	gs.RegisterService(&boundaryExchangeServiceDesc, s)
}

// Bind makes ex the exchange requests are served from.
func (s *BoundaryServer[T]) Bind(ex *router.Exchange[T]) {
	s.mu.Lock()
	s.exchange = ex
	s.mu.Unlock()
}

func (s *BoundaryServer[T]) current() (*router.Exchange[T], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.exchange == nil {
		return nil, status.Error(codes.Unavailable, "no boundary round in progress")
	}
	return s.exchange, nil
}

func (s *BoundaryServer[T]) Publish(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	ex, err := s.current()
	if err != nil {
		return nil, err
	}
	pub, err := wire.DecodeReports[T](in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	if err := ex.Publish(ctx, pub); err != nil {
		level.Warn(s.logger).Log("msg", "publish rejected", "partition", pub.Partition, "err", err)
		return nil, toStatus(err)
	}
	level.Debug(s.logger).Log("msg", "published", "round", ex.Round(), "partition", pub.Partition, "reports", len(pub.Reports))
	return &emptypb.Empty{}, nil
}

func (s *BoundaryServer[T]) Await(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	ex, err := s.current()
	if err != nil {
		return nil, err
	}
	b, err := ex.Await(ctx, in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	data, err := wire.EncodeBroadcast(b)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return wrapperspb.Bytes(data), nil
}

// BoundaryClient is a router.Participant talking to a remote BoundaryServer.
type BoundaryClient[T facet.Number] struct {
	conn grpc.ClientConnInterface
}

// NewBoundaryClient creates a client over conn.
func NewBoundaryClient[T facet.Number](conn grpc.ClientConnInterface) *BoundaryClient[T] {
	return &BoundaryClient[T]{conn: conn}
}

func (c *BoundaryClient[T]) Publish(ctx context.Context, pub router.Publication[T]) error {
	data, err := wire.EncodeReports(pub)
	if err != nil {
		return err
	}
	if err := c.conn.Invoke(ctx, publishMethod, wrapperspb.Bytes(data), new(emptypb.Empty)); err != nil {
		return fromStatus(err)
	}
	return nil
}

func (c *BoundaryClient[T]) Await(ctx context.Context, partition string) (router.Broadcast[T], error) {
	out := new(wrapperspb.BytesValue)
	if err := c.conn.Invoke(ctx, awaitMethod, wrapperspb.String(partition), out); err != nil {
		return router.Broadcast[T]{}, fromStatus(err)
	}
	return wire.DecodeBroadcast[T](out.GetValue())
}

func toStatus(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	switch ferrors.GetCode(err) {
	case ferrors.CodeBarrierTimeout:
		return status.Error(codes.Aborted, err.Error())
	case ferrors.CodeUnsupportedProtocolState:
		return status.Error(codes.FailedPrecondition, err.Error())
	case ferrors.CodeTypeMismatch:
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Aborted:
		return ferrors.New(ferrors.ErrCategoryProtocol, ferrors.CodeBarrierTimeout, st.Message())
	case codes.FailedPrecondition:
		return ferrors.NewUnsupportedProtocolState(st.Message())
	case codes.InvalidArgument:
		return ferrors.NewTypeMismatch(st.Message())
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	default:
		return fmt.Errorf("boundary exchange: %w", err)
	}
}
