package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	fisioflow "github.com/rafaelminatto1/fisioflow-51658291-sub019"
)

const shutdownTimeout = 15 * time.Second

func serveCmd(flags *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the note API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTP.Address = addr
			}
			return runServer(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides http.address)")
	return cmd
}

func runServer(parent context.Context, cfg fisioflow.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := fisioflow.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	e, err := rt.Server()
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		rt.Logger.Info("listening", zap.String("addr", cfg.HTTP.Address))
		if err := e.Start(cfg.HTTP.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	rt.Logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
