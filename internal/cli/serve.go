package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/roach88/stablecall/internal/httpapi"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the host over HTTP until interrupted. Audit events are delivered
to the log and to /metrics as they commit.

Example:
  stablecall serve --listen 127.0.0.1:8547`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", rootOpts.Config.Listen, "listen address (STABLECALL_LISTEN)")
	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := openHost(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer h.Close()

	delivered := make(chan error, 1)
	go func() {
		delivered <- h.Dispatcher().Run(context.Background())
	}()

	if !opts.Verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:    opts.Listen,
		Handler: httpapi.NewRouter(h),
	}

	served := make(chan error, 1)
	go func() {
		slog.Info("serving", "listen", opts.Listen, "db", opts.DB)
		served <- srv.ListenAndServe()
	}()

	select {
	case err := <-served:
		h.Dispatcher().Stop()
		<-delivered
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitCommandError, "serve", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down", "timeout", opts.Config.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.Config.ShutdownTimeout)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)

	h.Dispatcher().Stop()
	if runErr := <-delivered; runErr != nil {
		slog.Warn("audit delivery stopped", "error", runErr)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "shutdown", err)
	}
	return nil
}
