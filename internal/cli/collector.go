package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/labring/testreport/internal/server"
	"github.com/labring/testreport/pkg/config"
)

const shutdownTimeout = 10 * time.Second

var collectorOpts struct {
	addr          string
	token         string
	maxUploadSize int64
	tailHistory   int
	noAuth        bool
}

var collectorCmd = &cobra.Command{
	Use:   "collector",
	Short: "Run the local collector",
	Long: `Run the collector REST API that launches report to, with a live log
stream on /ws. Settings default to the COLLECTOR_* environment variables.`,
	RunE: runCollector,
}

func init() {
	flags := collectorCmd.Flags()
	flags.StringVar(&collectorOpts.addr, "addr", config.DefaultAddr, "listen address")
	flags.StringVar(&collectorOpts.token, "token", "", "API token clients must present (generated when empty)")
	flags.Int64Var(&collectorOpts.maxUploadSize, "max-upload-size", config.DefaultMaxUploadSize, "maximum size of one log batch upload in bytes")
	flags.IntVar(&collectorOpts.tailHistory, "tail-history", config.DefaultTailHistory, "maximum log history replayed to a stream subscriber")
	flags.BoolVar(&collectorOpts.noAuth, "no-auth", false, "disable token authentication")
}

func collectorConfig(cmd *cobra.Command) *config.CollectorConfig {
	cfg := config.NewCollectorConfig()
	flags := cmd.Flags()

	if flags.Changed("addr") {
		cfg.Addr = collectorOpts.addr
	}
	if flags.Changed("token") {
		cfg.Token = collectorOpts.token
	}
	if flags.Changed("max-upload-size") {
		cfg.MaxUploadSize = collectorOpts.maxUploadSize
	}
	if flags.Changed("tail-history") {
		cfg.TailHistory = collectorOpts.tailHistory
	}
	if flags.Changed("log-level") {
		cfg.SetLogLevel(logLevel)
	}

	if collectorOpts.noAuth {
		cfg.Token = ""
	} else {
		cfg.EnsureToken()
	}
	return cfg
}

func runCollector(cmd *cobra.Command, _ []string) error {
	cfg := collectorConfig(cmd)

	srv, err := server.New(cfg)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Addr, err)
	}

	if cfg.TokenAutoGenerated {
		fmt.Fprintf(cmd.OutOrStdout(), "Generated token: %s\n", cfg.Token)
	}
	slog.Info("Collector listening", slog.String("addr", ln.Addr().String()))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runServer(ctx, ln, srv)
}

// runServer serves srv on ln until ctx is done, then shuts down gracefully
func runServer(ctx context.Context, ln net.Listener, srv *server.Server) error {
	httpServer := &http.Server{
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("collector stopped: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down collector...")

		// stream connections are hijacked and not tracked by Shutdown
		_ = srv.Cleanup()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
