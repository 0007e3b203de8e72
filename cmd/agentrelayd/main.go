// Command agentrelayd runs the AgentRelay chat dispatch service over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentrelay"
	"github.com/hupe1980/agentrelay/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "agentrelayd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	app, err := agentrelay.New(cfg)
	if err != nil {
		return err
	}
	logger := app.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// No write timeout: chat responses are long-lived streams.
	srv := &http.Server{
		Addr:              app.Addr(),
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening",
			"addr", app.Addr(),
			"service", cfg.ServiceName,
			"environment", cfg.Environment,
			"version", config.Version,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
