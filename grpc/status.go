package registrygrpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/blockberries/registry"
	"github.com/blockberries/registry/node"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps a node error onto a gRPC status error.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, node.ErrNotStarted):
		return status.Error(codes.Unavailable, err.Error())
	}
	if h, ok := registry.IsHalt(err); ok {
		return status.Error(codes.Aborted, h.Error())
	}
	if te, ok := registry.AsTxError(err); ok {
		return status.Error(codes.FailedPrecondition, te.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// fromStatus maps a gRPC error back onto the context sentinels and
// wraps everything else with the method name.
func fromStatus(method string, err error) error {
	switch status.Code(err) {
	case codes.Canceled:
		return fmt.Errorf("registry grpc %s: %w", method, context.Canceled)
	case codes.DeadlineExceeded:
		return fmt.Errorf("registry grpc %s: %w", method, context.DeadlineExceeded)
	}
	return fmt.Errorf("registry grpc %s: %w", method, err)
}
