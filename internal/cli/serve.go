package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lazypower/orgmem/internal/mcp"
	"github.com/lazypower/orgmem/internal/metrics"
	"github.com/lazypower/orgmem/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, cfg, log, metrics.NewCollector("orgmem"))
	if err != nil {
		return err
	}
	defer rt.Close()
	rt.engine.StartDecayTimer(ctx)

	tools, err := mcp.NewServer(mcpConfig(rt))
	if err != nil {
		return err
	}
	srv := server.New(rt.engine, VersionString(),
		server.WithLogger(log),
		server.WithMCP(tools.HTTPHandler()),
	)

	addr := cfg.ListenAddr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("orgmem serving", "addr", addr, "version", Version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func mcpConfig(rt *runtime) mcp.Config {
	c := mcp.Config{
		Engine:      rt.engine,
		Logger:      log,
		Version:     Version,
		DefaultTeam: cfg.MCP.Team,
	}
	if id, err := uuid.Parse(cfg.MCP.Tenant); err == nil {
		c.DefaultTenant = id
	} else if cfg.MCP.Tenant != "" {
		log.Warn("ignoring invalid mcp.tenant", "value", cfg.MCP.Tenant)
	}
	return c
}
