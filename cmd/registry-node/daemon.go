package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/blockberries/registry/config"
	registrygrpc "github.com/blockberries/registry/grpc"
	"github.com/blockberries/registry/ledger"
	"github.com/blockberries/registry/local"
	"github.com/blockberries/registry/node"
	"github.com/blockberries/registry/ops"
	"github.com/blockberries/registry/server"
	"github.com/blockberries/registry/store"
	"github.com/blockberries/registry/telemetry"
)

const shutdownTimeout = 10 * time.Second

// daemon owns every long-lived resource of the process.
type daemon struct {
	cfg  config.Config
	log  *slog.Logger
	node *node.Node

	st   store.Store
	conn *local.Connection

	grpcLis net.Listener
	grpc    *grpc.Server
	health  *health.Server

	httpLis net.Listener
	http    *http.Server
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTLPEndpoint, cfg.ServiceName)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("tracing shutdown", "error", err)
		}
	}()

	d, err := newDaemon(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer d.close()
	return d.serve(ctx)
}

// newDaemon opens the store, starts the node and binds both listeners.
func newDaemon(ctx context.Context, cfg config.Config, log *slog.Logger) (_ *daemon, err error) {
	d := &daemon{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			d.close()
		}
	}()

	genesis, err := cfg.Genesis()
	if err != nil {
		return nil, err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	d.st = st

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	app := ledger.New(d.st,
		ledger.WithLogger(log),
		ledger.WithMaxAncestryDepth(cfg.MaxAncestryDepth),
		ledger.WithSnapshotChunkSize(cfg.SnapshotChunk),
	)
	d.conn = local.NewConnection(app, server.WithLogger(log))

	opts := []node.Option{node.WithLogger(log), node.WithMetrics(node.NewMetrics(reg))}
	author, ok, err := cfg.AuthorAccount()
	if err != nil {
		return nil, err
	}
	if ok {
		opts = append(opts, node.WithAuthor(author))
	}
	if cfg.InstantBlocks {
		opts = append(opts, node.WithInstantBlocks())
	}
	d.node = node.New(d.conn, opts...)
	if err := d.node.Start(ctx, genesis); err != nil {
		return nil, fmt.Errorf("start node: %w", err)
	}

	if d.grpcLis, err = net.Listen("tcp", cfg.GRPCAddr); err != nil {
		return nil, fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
	}
	d.grpc = grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	registrygrpc.NewServer(d.node, registrygrpc.WithServerLogger(log)).Register(d.grpc)
	d.health = health.NewServer()
	grpc_health_v1.RegisterHealthServer(d.grpc, d.health)
	d.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	d.health.SetServingStatus(registrygrpc.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	if cfg.HTTPAddr != "" {
		if d.httpLis, err = net.Listen("tcp", cfg.HTTPAddr); err != nil {
			return nil, fmt.Errorf("listen http %s: %w", cfg.HTTPAddr, err)
		}
		d.http = &http.Server{
			Handler:           ops.New(d.node, log).Router(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return d, nil
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return store.NewMemory(), nil
	case config.StoreSQLite:
		return store.OpenSQLite(ctx, cfg.SQLitePath)
	case config.StorePostgres:
		return store.OpenPostgres(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// serve runs until ctx is done or a server or the producer fails.
func (d *daemon) serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d.log.Info("grpc listening", "addr", d.grpcLis.Addr().String())
		// A stop that lands before Serve makes it return ErrServerStopped.
		if err := d.grpc.Serve(d.grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})
	if d.http != nil {
		g.Go(func() error {
			d.log.Info("ops http listening", "addr", d.httpLis.Addr().String())
			if err := d.http.Serve(d.httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http serve: %w", err)
			}
			return nil
		})
	}
	if !d.cfg.InstantBlocks {
		g.Go(func() error {
			return d.node.Run(ctx, d.cfg.BlockInterval)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		d.health.Shutdown()
		d.grpc.GracefulStop()
		if d.http == nil {
			return nil
		}
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return d.http.Shutdown(sctx)
	})
	return g.Wait()
}

func (d *daemon) close() {
	// Listeners are already closed after serve; the error is ignored.
	for _, lis := range []net.Listener{d.grpcLis, d.httpLis} {
		if lis != nil {
			_ = lis.Close()
		}
	}
	if d.conn != nil {
		if err := d.conn.Close(); err != nil {
			d.log.Warn("close ledger connection", "error", err)
		}
	}
	if d.st != nil {
		if err := d.st.Close(); err != nil {
			d.log.Warn("close store", "error", err)
		}
	}
}
