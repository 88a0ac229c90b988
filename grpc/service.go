package registrygrpc

import (
	"context"
	"fmt"

	"github.com/blockberries/registry/types"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "registry.v1.NodeService"

// NodeServiceServer is the server-side interface of the node service.
type NodeServiceServer interface {
	Submit(*SubmitRequest, grpc.ServerStream) error
	Query(context.Context, *QueryRequest) (*QueryResponse, error)
	Status(context.Context, *StatusRequest) (*types.ChainStatus, error)
}

// RegisterNodeServiceServer registers srv on a gRPC server.
func RegisterNodeServiceServer(s grpc.ServiceRegistrar, srv NodeServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

func handlerSubmit(srv any, stream grpc.ServerStream) error {
	req := new(SubmitRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(NodeServiceServer).Submit(req, stream)
}

func handlerQuery(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req := new(QueryRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(NodeServiceServer).Query(ctx, req)
}

func handlerStatus(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req := new(StatusRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(NodeServiceServer).Status(ctx, req)
}

// fullMethod builds the full gRPC method path.
func fullMethod(method string) string {
	return fmt.Sprintf("/%s/%s", ServiceName, method)
}

var submitStream = grpc.StreamDesc{
	StreamName:    "Submit",
	Handler:       handlerSubmit,
	ServerStreams: true,
}

// serviceDesc is the manual gRPC service descriptor.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*NodeServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Query", Handler: handlerQuery},
		{MethodName: "Status", Handler: handlerStatus},
	},
	Streams:  []grpc.StreamDesc{submitStream},
	Metadata: "registry/v1/node.cram",
}
