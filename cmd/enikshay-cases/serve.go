package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"

	"github.com/enikshay/casetools/internal/config"
	"github.com/enikshay/casetools/internal/domain/hierarchy"
	"github.com/enikshay/casetools/internal/domain/reconcile"
	"github.com/enikshay/casetools/internal/platform/auth"
	"github.com/enikshay/casetools/internal/platform/db"
	"github.com/enikshay/casetools/internal/platform/middleware"
	"github.com/enikshay/casetools/internal/platform/reporting"
	"github.com/enikshay/casetools/internal/platform/telemetry"
)

const (
	requestTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the case lookup and reconciliation API",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			if err := e.cfg.Validate(); err != nil {
				return err
			}
			return runServer(e)
		},
	}
}

// authMiddleware validates bearer tokens. In development mode requests without
// an Authorization header run as an admin, and tokens are only checked when a
// signing key is configured.
func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	jwtAuth := auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
		Skipper:    auth.AuthSkipper,
	})
	if cfg.ResolvedAuthMode() != config.AuthModeDevelopment {
		return jwtAuth
	}
	if cfg.AuthSigningKey == "" {
		return auth.DevAuthMiddleware(nil)
	}
	return auth.DevAuthMiddleware(jwtAuth)
}

// newServer builds the echo instance. Reconciliation runs are exempt from the
// request deadline.
func newServer(e *env) *echo.Echo {
	srv := echo.New()
	srv.HideBanner = true
	srv.HidePort = true

	metrics := telemetry.New(true)

	srv.Use(middleware.Recovery(e.logger))
	srv.Use(middleware.RequestID())
	srv.Use(middleware.Logger(e.logger))
	srv.Use(metrics.Middleware())
	srv.Use(middleware.RequestTimeout(requestTimeout, "/api/v1/reconcile"))
	srv.Use(authMiddleware(e.cfg))

	srv.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "ok",
			"domain": e.domain,
		})
	})
	if e.pool != nil {
		srv.GET("/health/db", db.HealthHandler(e.pool))
	}
	srv.GET("/metrics", metrics.Handler())

	apiV1 := srv.Group("/api/v1", db.DomainMiddleware(e.domain))
	hierarchy.NewHandler(e.cases).RegisterRoutes(apiV1)
	runner := reconcile.NewRunner(e.cases, e.logger).Observe(observeReconcile(metrics))
	reconcile.NewHandler(runner, e.cfg.BulkUpdateBatchSize).RegisterRoutes(apiV1)
	reporting.NewHandler(e.cfg.ReportDir).RegisterRoutes(apiV1)
	return srv
}

func runServer(e *env) error {
	srv := newServer(e)

	go func() {
		addr := ":" + e.cfg.Port
		e.logger.Info().Str("addr", addr).Str("domain", e.domain).Msg("starting server")
		if err := srv.Start(addr); err != nil && err != http.ErrServerClosed {
			e.logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	e.logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	e.logger.Info().Msg("server stopped")
	return nil
}
