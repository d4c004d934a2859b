package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP preview API",
		Long: `Serves GET /v1/screenshots/{domain} and the operational endpoints
until SIGINT or SIGTERM, then drains in-flight requests.`,
		Args: cobra.NoArgs,
		RunE: withRuntime(runServeCommand),
	}
}

func runServeCommand(cmd *cobra.Command, _ []string, rt *runtime) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", rt.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	srv := &http.Server{
		Handler:           rt.app.Server().Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go rt.app.RunJanitor(ctx)

	serveErr := make(chan error, 1)
	go func() {
		rt.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	rt.logger.Info("shutdown initiated")

	grace := time.Duration(rt.cfg.Server.ShutdownSeconds) * time.Second
	if grace <= 0 {
		grace = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		rt.logger.Error("server shutdown error", zap.Error(err))
	}
	rt.logger.Info("shutdown complete")
	return nil
}
