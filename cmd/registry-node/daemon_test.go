package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/blockberries/registry/client"
	"github.com/blockberries/registry/config"
	registrygrpc "github.com/blockberries/registry/grpc"
	registrytest "github.com/blockberries/registry/testing"
	"github.com/blockberries/registry/types"
)

func testConfig(t *testing.T, vars map[string]string) config.Config {
	t.Helper()
	alice := types.AccountOf(registrytest.Key(1))
	path := filepath.Join(t.TempDir(), "genesis.json")
	doc := `{"chain_id":"registry-test","genesis_time":"2024-01-01T00:00:00Z",` +
		`"accounts":[{"id":"` + alice.String() + `","balance":1000}]}`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	env := map[string]string{
		"REGISTRY_GRPC_ADDR":      "127.0.0.1:0",
		"REGISTRY_HTTP_ADDR":      "127.0.0.1:0",
		"REGISTRY_GENESIS_FILE":   path,
		"REGISTRY_SQLITE_PATH":    filepath.Join(t.TempDir(), "registry.db"),
		"REGISTRY_BLOCK_INTERVAL": "20ms",
	}
	for k, v := range vars {
		env[k] = v
	}
	cfg, err := config.LoadFrom(env)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

func startDaemon(t *testing.T, cfg config.Config) (*daemon, <-chan error, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	d, err := newDaemon(ctx, cfg, log)
	if err != nil {
		cancel()
		t.Fatalf("newDaemon: %v", err)
	}
	done := make(chan error, 1)
	go func() {
		done <- d.serve(ctx)
		d.close()
	}()
	return d, done, cancel
}

func stop(t *testing.T, done <-chan error, cancel context.CancelFunc) {
	t.Helper()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestDaemonServes(t *testing.T) {
	d, done, cancel := startDaemon(t, testConfig(t, nil))
	defer stop(t, done, cancel)
	ctx := context.Background()

	rc, err := registrygrpc.Dial(ctx, d.grpcLis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()

	c := client.New(rc)
	tr, err := c.SignAndSubmit(ctx, registrytest.Key(1), &types.RegisterOrg{OrgID: "acme"})
	if err != nil {
		t.Fatalf("SignAndSubmit: %v", err)
	}
	out, err := tr.Result(ctx, 5*time.Second)
	if err != nil || out.Err != nil {
		t.Fatalf("Result: %v %v", err, out.Err)
	}
	if _, found, err := c.GetOrg(ctx, "acme"); err != nil || !found {
		t.Fatalf("GetOrg: %v %v", found, err)
	}

	hc := grpc_health_v1.NewHealthClient(dialHealth(t, d))
	resp, err := hc.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: registrygrpc.ServiceName})
	if err != nil || resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Fatalf("health: %v %v", resp, err)
	}

	res, err := http.Get("http://" + d.httpLis.Addr().String() + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if !strings.Contains(string(body), "registry_node_blocks_total 1") {
		t.Fatalf("metrics missing block count:\n%s", body)
	}
}

func dialHealth(t *testing.T, d *daemon) *grpc.ClientConn {
	t.Helper()
	cc, err := grpc.NewClient(d.grpcLis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cc.Close() })
	return cc
}

func TestDaemonResumesFromSQLite(t *testing.T) {
	cfg := testConfig(t, map[string]string{"REGISTRY_INSTANT_BLOCKS": "true"})

	d, done, cancel := startDaemon(t, cfg)
	n := d.node
	tx := registrytest.SignTx(t, registrytest.Key(1), &types.RegisterOrg{OrgID: "acme"}, 0, genesisHash(t, d))
	if _, err := n.Submit(context.Background(), tx); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	stop(t, done, cancel)

	d, done, cancel = startDaemon(t, cfg)
	defer stop(t, done, cancel)
	st, err := d.node.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Height != 1 {
		t.Fatalf("height after restart = %d, want 1", st.Height)
	}
}

func genesisHash(t *testing.T, d *daemon) types.Hash {
	t.Helper()
	st, err := d.node.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return st.GenesisHash
}

func TestDaemonStopBeforeServe(t *testing.T) {
	cfg := testConfig(t, map[string]string{"REGISTRY_INSTANT_BLOCKS": "true"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d, err := newDaemon(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("newDaemon: %v", err)
	}
	defer d.close()

	d.grpc.GracefulStop()
	if err := d.serve(ctx); err != nil {
		t.Fatalf("serve after stop: %v", err)
	}
}

func TestOpenStoreRejectsUnknown(t *testing.T) {
	if _, err := openStore(context.Background(), config.Config{Store: "bolt"}); err == nil {
		t.Fatal("expected error")
	}
}
