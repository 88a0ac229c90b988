package node

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/blockberries/registry/types"
)

// Option configures a Node.
type Option func(*Node)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(n *Node) {
		if l != nil {
			n.log = l
		}
	}
}

// WithMetrics records production and mempool metrics.
func WithMetrics(m *Metrics) Option {
	return func(n *Node) { n.metrics = m }
}

// WithTracerProvider sets the span source. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(n *Node) { n.tracer = tp.Tracer(tracerName) }
}

// WithAuthor credits block fees to author.
func WithAuthor(author types.AccountId) Option {
	return func(n *Node) { n.author = &author }
}

// WithClock sets the source of block timestamps. Defaults to time.Now.
func WithClock(now func() time.Time) Option {
	return func(n *Node) {
		if now != nil {
			n.clock = now
		}
	}
}

// WithInstantBlocks produces a block right after every accepted
// submission.
func WithInstantBlocks() Option {
	return func(n *Node) { n.instant = true }
}
