package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MrEthical07/goIdentity/internal/httpapi"
	"github.com/MrEthical07/goIdentity/metrics/export/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, mail workers and the reset token sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.load()
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), env)
			if err != nil {
				return err
			}
			defer a.Close()

			return serve(cmd.Context(), a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	for _, w := range a.engine.SecurityReport().Warnings() {
		a.logger.Warn("security posture", "warning", w)
	}

	handler := httpapi.NewRouter(a.engine, httpapi.Options{
		Logger:       a.logger,
		CookieName:   a.env.CookieName,
		CookieSecure: a.env.CookieSecure,
		CORSOrigins:  a.env.CORSOrigins,
		Metrics:      prometheus.NewPrometheusExporter(a.engine).Handler(),
	})
	srv := &http.Server{
		Addr:              a.env.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return a.engine.RunSweeper(gctx, a.env.SweepInterval)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.env.ShutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
