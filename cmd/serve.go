package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/otherjamesbrown/turnscribe/config"
	"github.com/otherjamesbrown/turnscribe/pkg/logging"
)

const (
	shutdownTimeout   = 30 * time.Second
	readHeaderTimeout = 10 * time.Second

	// grpcServiceName is the service reported by the gRPC health server.
	grpcServiceName = "turnscribe.Transcriber"
)

// ServeCommandDeps holds the dependencies for the serve command.
type ServeCommandDeps struct {
	LoadConfig func() (*config.CLIConfig, error)
	NewRuntime func(context.Context, *config.CLIConfig) (*Runtime, error)
	// Listen opens the HTTP and gRPC listeners.
	Listen func(network, addr string) (net.Listener, error)
	// Ready is called with the bound addresses once both servers accept
	// connections.
	Ready func(httpAddr, grpcAddr string)
}

// DefaultServeDeps returns the default dependencies for production use.
func DefaultServeDeps(loadConfig func() (*config.CLIConfig, error)) *ServeCommandDeps {
	return &ServeCommandDeps{
		LoadConfig: loadConfig,
		NewRuntime: func(ctx context.Context, cfg *config.CLIConfig) (*Runtime, error) {
			return NewRuntime(ctx, cfg, RuntimeOptions{})
		},
		Listen: net.Listen,
	}
}

// NewServeCommand creates the serve command.
func NewServeCommand(deps *ServeCommandDeps) *cobra.Command {
	var (
		addr      string
		grpcAddr  string
		maxUpload int64
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve transcription over HTTP",
		Long: `Serve transcription over HTTP.

Endpoints:
  POST /v1/transcribe        raw audio body; returns the run result as JSON
  GET  /v1/sessions          sessions under the sessions root, newest first
  GET  /v1/sessions/{name}   one session with its turns
  GET  /healthz              engine names, ffmpeg and database checks
  GET  /version              build information
  GET  /metrics              Prometheus metrics

A failed transcription still returns the result body, with status "error"
and an error object; the HTTP status follows the error code (400 for empty
input, 503 for an unreachable engine or missing tool, 504 for a timeout).

With --grpc-addr the standard gRPC health service is served as well, for
load balancers that probe over gRPC.

Examples:
  turnscribe serve
  turnscribe serve --addr :8080 --grpc-addr :9090
  curl --data-binary @meeting.m4a localhost:8080/v1/transcribe`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			if addr != "" {
				cfg.Serve.Addr = addr
			}
			if grpcAddr != "" {
				cfg.Serve.GRPCAddr = grpcAddr
			}
			if maxUpload > 0 {
				cfg.Serve.MaxUploadBytes = maxUpload
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cmd.Context(), deps, cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides serve.addr)")
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", "", "gRPC health listen address (overrides serve.grpc_addr)")
	cmd.Flags().Int64Var(&maxUpload, "max-upload", 0, "Largest accepted recording in bytes (default 512MiB)")

	return cmd
}

// runServe serves until ctx is cancelled, then drains both servers.
func runServe(ctx context.Context, deps *ServeCommandDeps, cfg *config.CLIConfig) error {
	rt, err := deps.NewRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close() // nolint: errcheck

	log := rt.Logger.With(logging.F("component", "serve"))

	httpLis, err := deps.Listen("tcp", cfg.Serve.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Serve.Addr, err)
	}

	srv := &http.Server{
		Handler:           newAPIServer(rt, cfg.Serve.MaxUploadBytes).routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	var (
		grpcLis    net.Listener
		grpcServer *grpc.Server
		healthSrv  *health.Server
	)
	if cfg.Serve.GRPCAddr != "" {
		grpcLis, err = deps.Listen("tcp", cfg.Serve.GRPCAddr)
		if err != nil {
			httpLis.Close()
			return fmt.Errorf("listening on %s: %w", cfg.Serve.GRPCAddr, err)
		}
		grpcServer = grpc.NewServer()
		healthSrv = health.NewServer()
		healthpb.RegisterHealthServer(grpcServer, healthSrv)
		healthSrv.SetServingStatus(grpcServiceName, healthpb.HealthCheckResponse_SERVING)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http server listening", logging.F("addr", httpLis.Addr().String()))
		if err := srv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if grpcServer != nil {
		g.Go(func() error {
			log.Info("grpc health server listening", logging.F("addr", grpcLis.Addr().String()))
			if err := grpcServer.Serve(grpcLis); err != nil {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}

	if deps.Ready != nil {
		grpcBound := ""
		if grpcLis != nil {
			grpcBound = grpcLis.Addr().String()
		}
		deps.Ready(httpLis.Addr().String(), grpcBound)
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		if healthSrv != nil {
			healthSrv.Shutdown()
		}

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)

		if grpcServer != nil {
			grpcServer.GracefulStop()
		}
		return err
	})

	return g.Wait()
}
