package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/tablebrowser/internal/api"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Example: `  # Serve on port 8080 against DATABASE_URL
  DATABASE_URL=postgresql://app@localhost/app tablebrowser serve

  # Require a bearer token
  ADMIN_API_TOKENS=s3cret tablebrowser serve --port 9000`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
	cmd.Flags().String("port", "", "port to listen on")
	cmd.Flags().String("cors-origin", "", "allowed CORS origin")
	cmd.Flags().Float64("rate-limit", 0, "requests per minute per client, 0 disables")
	return cmd
}

func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, cfg, logger, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("closing registry", "error", err)
		}
	}()

	if len(cfg.APITokens) == 0 {
		logger.Warn("no api_tokens configured; the API is unauthenticated")
	}
	handler := api.NewHandler(a.service, api.Options{
		Tokens:     cfg.APITokens,
		CORSOrigin: cfg.CORSOrigin,
		RateLimit:  cfg.RateLimit,
		Logger:     logger,
	})
	defer handler.Stop()

	srv := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        handler.Routes(),
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", "addr", srv.Addr, "active_connection", a.registry.ActiveID())
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Stop the server when a signal arrives or the listener fails.
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
