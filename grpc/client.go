package registrygrpc

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/blockberries/registry"
	"github.com/blockberries/registry/client"
	"github.com/blockberries/registry/types"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
)

// Compile-time interface check.
var _ client.Oracle = (*Client)(nil)

// eventBuffer bounds the events held for a slow reader.
const eventBuffer = 4

// Client is a client.Oracle backed by a remote node.
type Client struct {
	cc *grpc.ClientConn
}

// Dial connects to a remote registry node. Callers supply transport
// credentials; the cramberry codec and otelgrpc handler are added here.
func Dial(ctx context.Context, addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append(opts,
		grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec{})),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	cc, err := grpc.DialContext(ctx, addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("registry grpc: dial %s: %w", addr, err)
	}
	return &Client{cc: cc}, nil
}

func (c *Client) Close() error {
	return c.cc.Close()
}

// Submit opens a Submit stream. A Rejected first event is returned as
// a *registry.TxError. The stream lives until a terminal event or ctx
// is done; the returned channel closes then.
func (c *Client) Submit(ctx context.Context, tx types.Tx) (<-chan types.InclusionEvent, error) {
	ctx, cancel := context.WithCancel(ctx)
	stream, err := c.cc.NewStream(ctx, &submitStream, fullMethod("Submit"))
	if err != nil {
		cancel()
		return nil, fromStatus("Submit", err)
	}
	if err := stream.SendMsg(&SubmitRequest{Tx: tx}); err != nil {
		cancel()
		return nil, fromStatus("Submit", err)
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return nil, fromStatus("Submit", err)
	}

	first := new(types.InclusionEvent)
	if err := stream.RecvMsg(first); err != nil {
		cancel()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("registry grpc Submit: %w", registry.ErrSubscriptionLost)
		}
		return nil, fromStatus("Submit", err)
	}
	if first.Status == types.StatusRejected {
		cancel()
		return nil, registry.NewTxError(registry.Code(first.Code), "%s", first.Reason)
	}

	ch := make(chan types.InclusionEvent, eventBuffer)
	ch <- *first
	go func() {
		defer cancel()
		defer close(ch)
		if first.Status.Terminal() {
			return
		}
		for {
			ev := new(types.InclusionEvent)
			if err := stream.RecvMsg(ev); err != nil {
				return
			}
			select {
			case ch <- *ev:
			case <-ctx.Done():
				return
			}
			if ev.Status.Terminal() {
				return
			}
		}
	}()
	return ch, nil
}

func (c *Client) Query(ctx context.Context, key string) ([]byte, bool, error) {
	resp := new(QueryResponse)
	if err := c.cc.Invoke(ctx, fullMethod("Query"), &QueryRequest{Key: key}, resp); err != nil {
		return nil, false, fromStatus("Query", err)
	}
	return resp.Value, resp.Found, nil
}

func (c *Client) Status(ctx context.Context) (types.ChainStatus, error) {
	resp := new(types.ChainStatus)
	if err := c.cc.Invoke(ctx, fullMethod("Status"), &StatusRequest{}, resp); err != nil {
		return types.ChainStatus{}, fromStatus("Status", err)
	}
	return *resp, nil
}
