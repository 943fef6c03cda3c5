package cmd

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/otherjamesbrown/turnscribe/config"
)

func TestServeCommand_Structure(t *testing.T) {
	cmd := NewServeCommand(DefaultServeDeps(config.LoadConfig))

	assert.Equal(t, "serve", cmd.Use)
	assert.Contains(t, cmd.Long, "POST /v1/transcribe")
	for _, name := range []string{"addr", "grpc-addr", "max-upload"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "missing --%s", name)
	}
}

func TestServe_HTTPAndGRPC(t *testing.T) {
	cfg := testConfig(t)

	type addrs struct{ http, grpc string }
	ready := make(chan addrs, 1)
	deps := &ServeCommandDeps{
		LoadConfig: func() (*config.CLIConfig, error) { return cfg, nil },
		NewRuntime: testRuntimeFactory(&fakeFFmpeg{}),
		Listen:     net.Listen,
		Ready:      func(h, g string) { ready <- addrs{h, g} },
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := NewServeCommand(deps)
	cmd.SetArgs([]string{"--addr", "127.0.0.1:0", "--grpc-addr", "127.0.0.1:0"})
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	var bound addrs
	select {
	case bound = <-ready:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + bound.http + "/healthz")
	require.NoError(t, err)
	var health healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, "ok", health.Status)

	conn, err := grpc.NewClient(bound.grpc, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	checkCtx, checkCancel := context.WithTimeout(ctx, 5*time.Second)
	defer checkCancel()
	hr, err := healthpb.NewHealthClient(conn).Check(checkCtx, &healthpb.HealthCheckRequest{Service: grpcServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, hr.GetStatus())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServe_ListenFailure(t *testing.T) {
	cfg := testConfig(t)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()

	deps := &ServeCommandDeps{
		LoadConfig: func() (*config.CLIConfig, error) { return cfg, nil },
		NewRuntime: testRuntimeFactory(&fakeFFmpeg{}),
		Listen:     net.Listen,
	}
	cmd := NewServeCommand(deps)
	cmd.SetArgs([]string{"--addr", lis.Addr().String()})
	err = cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listening on")
}
