package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/smartgw/smartgw/internal/config"
	"github.com/smartgw/smartgw/internal/gateway"
	"github.com/smartgw/smartgw/internal/platform/db"
	"github.com/smartgw/smartgw/internal/platform/middleware"
	"github.com/smartgw/smartgw/internal/smart"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "smartgw-server",
		Short: "SMART on FHIR launch gateway",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the application registry schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required for migrate")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer pool.Close()

			if _, err := pool.Exec(ctx, smart.MigrationSmartApplications); err != nil {
				return fmt.Errorf("apply registry schema: %w", err)
			}
			logger.Info().Msg("application registry schema applied")
			return nil
		},
	}
}

func newLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).With().Timestamp().Str("service", "smartgw").Logger()
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()

	// Application registry: JSON file for simple deployments, PostgreSQL
	// when registrations are managed out of band.
	var registry smart.ApplicationRegistry
	if cfg.AppsFile != "" {
		fileReg, err := smart.LoadRegistryFile(cfg.AppsFile)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to load applications file")
		}
		registry = fileReg
		logger.Info().Str("file", cfg.AppsFile).Msg("application registry loaded from file")
	}

	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		if registry == nil {
			registry = smart.NewPGRegistryFromPool(pool)
			logger.Info().Msg("application registry backed by database")
		}
	}

	// id_token issuance is optional: without a signing key the gateway
	// still issues access tokens, just never an identity token.
	var idTokens smart.IDTokenIssuer
	if cfg.IDTokenKeyFile != "" {
		pemBytes, err := os.ReadFile(cfg.IDTokenKeyFile)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to read id_token signing key")
		}
		key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
		if err != nil {
			logger.Fatal().Err(err).Msg("id_token signing key is not a valid RSA PEM key")
		}
		idTokens = smart.NewRSAIDTokenIssuer(key)
		logger.Info().Msg("id_token issuance enabled")
	} else {
		logger.Warn().Msg("ID_TOKEN_KEY_FILE not set; id_token issuance is disabled")
	}

	upstream, err := gateway.NewProxyService(cfg.UpstreamFHIRURL, nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid upstream FHIR URL")
	}

	sessions := smart.NewSessionStore()
	flow := smart.NewAuthorizationFlow(idTokens, logger)
	dispatcher := gateway.NewDispatcher[gateway.ProxyContext](sessions, upstream,
		cfg.ApplySmartScopes, cfg.EnforceTokenExpiry, logger)

	newCtx := func(c echo.Context) gateway.ProxyContext {
		return gateway.ProxyContext{Accept: c.Request().Header.Get("Accept")}
	}
	server := gateway.NewServer[gateway.ProxyContext](dispatcher, flow, registry,
		cfg.Issuer, newCtx, cfg.CORSOrigin(), logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.RequestTimeout(time.Duration(cfg.RequestTimeoutSecs) * time.Second))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	e.Use(middleware.RateLimit(rateLimitCfg))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if pool != nil {
		e.GET("/health/db", db.HealthHandler(pool))
	}

	server.Register(e)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()
	logger.Info().Str("port", cfg.Port).Str("issuer", cfg.Issuer).
		Str("upstream", cfg.UpstreamFHIRURL).Msg("gateway started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
		return err
	}
	logger.Info().Msg("gateway stopped")
	return nil
}
