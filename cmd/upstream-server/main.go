package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/upstream/upstream/internal/config"
	"github.com/upstream/upstream/internal/domain/alerts"
	"github.com/upstream/upstream/internal/domain/billing"
	"github.com/upstream/upstream/internal/domain/claims"
	"github.com/upstream/upstream/internal/domain/drift"
	"github.com/upstream/upstream/internal/domain/ingestion"
	"github.com/upstream/upstream/internal/domain/reports"
	"github.com/upstream/upstream/internal/domain/tenants"
	"github.com/upstream/upstream/internal/platform/auth"
	"github.com/upstream/upstream/internal/platform/cache"
	"github.com/upstream/upstream/internal/platform/db"
	"github.com/upstream/upstream/internal/platform/middleware"
	"github.com/upstream/upstream/internal/platform/webhook"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "upstream-server",
		Short: "Upstream payer drift analytics API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(driftCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the Upstream API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			fmt.Printf("Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
	upCmd.Flags().String("dir", "./migrations/tenant", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
	statusCmd.Flags().String("dir", "./migrations/tenant", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	// migrate down - keep as warning
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rollback last migration (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("WARNING: migrate down is destructive and not supported by the built-in runner.")
			fmt.Println("Restore the schema from a backup instead.")
			return nil
		},
	})

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenant schemas",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant schema and run its migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			slug, _ := cmd.Flags().GetString("slug")
			if slug == "" {
				return fmt.Errorf("--slug is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating tenant schema: tenant_%s\n", slug)
			dir := filepath.Join(cfg.MigrationsDir, "tenant")
			if err := db.CreateTenantSchema(ctx, pool, slug, dir); err != nil {
				return err
			}
			fmt.Println("Tenant schema created and migrated.")
			return nil
		},
	}
	createCmd.Flags().String("slug", "", "Tenant identifier (lowercase alphanumeric)")

	cmd.AddCommand(createCmd)
	return cmd
}

func driftCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drift",
		Short: "Drift computation",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a drift computation for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			asofRaw, _ := cmd.Flags().GetString("asof")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if tenant == "" {
				tenant = cfg.DefaultTenant
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			params := drift.Params{
				BaselineWeeks: cfg.DriftBaselineWeeks,
				CurrentWeeks:  cfg.DriftCurrentWeeks,
			}
			if asofRaw != "" {
				asof, err := time.Parse("2006-01-02", asofRaw)
				if err != nil {
					return fmt.Errorf("invalid --asof (want YYYY-MM-DD): %w", err)
				}
				params.AsOf = asof
			}

			conn, err := pool.Acquire(ctx)
			if err != nil {
				return err
			}
			defer conn.Release()
			if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO tenant_%s, shared, public", tenant)); err != nil {
				return fmt.Errorf("resolve tenant %s: %w", tenant, err)
			}
			ctx = context.WithValue(ctx, db.DBConnKey, conn)
			ctx = db.WithTenant(ctx, tenant)

			logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
			inTx := func(ctx context.Context, fn func(ctx context.Context) error) error {
				return db.WithTx(ctx, pool, fn)
			}
			engine := drift.NewEngine(
				drift.NewRunRepoPG(pool),
				drift.NewEventRepoPG(pool),
				drift.NewAggregateRepoPG(pool),
				inTx,
				logger,
			)

			run, err := engine.Run(ctx, params)
			if err != nil {
				return fmt.Errorf("drift run failed: %w", err)
			}
			fmt.Printf("Run %s completed: %d payer(s) evaluated, %d event(s) detected.\n",
				run.ID, run.PayersEvaluated, run.EventsDetected)
			return nil
		},
	}
	runCmd.Flags().String("tenant", "", "Tenant slug (defaults to DEFAULT_TENANT)")
	runCmd.Flags().String("asof", "", "Window anchor date, YYYY-MM-DD (defaults to now)")
	cmd.AddCommand(runCmd)

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Cross-tenant tables (customers, subscriptions) live in the shared schema.
	if err := db.EnsureSharedSchema(ctx, pool, filepath.Join(cfg.MigrationsDir, "shared")); err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare shared schema")
	}

	// Report cache: Redis when configured, in-process otherwise.
	cacheCtx, cacheCancel := context.WithCancel(ctx)
	defer cacheCancel()
	var reportCache cache.Store
	if cfg.RedisURL != "" {
		redisCache, err := cache.NewRedisStore(ctx, cfg.RedisURL, "upstream")
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		reportCache = redisCache
		logger.Info().Msg("connected to redis")
	} else {
		memCache := cache.NewMemoryStore()
		memCache.StartCleanup(cacheCtx, 5*time.Minute)
		reportCache = memCache
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID", "X-API-Key"},
	}))

	// API key manager, shared by the auth middleware and the key management API.
	apiKeys := auth.NewAPIKeyManager(auth.NewAPIKeyStorePG(pool))

	// Authenticated API group. Health and the signature-verified webhook
	// receivers stay outside it.
	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(apiKeyOrJWT(cfg, apiKeys))
	}
	apiV1.Use(db.TenantMiddleware(pool, cfg.DefaultTenant))
	apiV1.Use(middleware.Audit(logger))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Unauthenticated webhook receivers. Each verifies its own signature; the
	// tenant middleware resolves the target schema from X-Tenant-ID.
	hooks := e.Group("")
	hooks.Use(db.TenantMiddleware(pool, cfg.DefaultTenant))

	// Outbound webhook fan-out for alert notifications.
	webhookManager := webhook.NewManager(webhook.NewStorePG(pool))
	webhook.NewHandler(webhookManager).RegisterRoutes(apiV1.Group("/webhook-endpoints", auth.RequireRole("admin")))

	// Claims and payers
	payerRepo := claims.NewPayerRepoPG(pool)
	claimRepo := claims.NewClaimRepoPG(pool)
	claimsSvc := claims.NewService(payerRepo, claimRepo)
	claims.NewHandler(claimsSvc).RegisterRoutes(apiV1)

	// Tenants and billing (shared schema)
	customerRepo := tenants.NewRepoPG(pool)
	provision := func(ctx context.Context, slug string) error {
		return db.CreateTenantSchema(ctx, pool, slug, filepath.Join(cfg.MigrationsDir, "tenant"))
	}
	tenantsSvc := tenants.NewService(customerRepo, provision, logger)
	tenants.NewHandler(tenantsSvc).RegisterRoutes(apiV1)

	subRepo := billing.NewRepoPG(pool)
	var stripeAPI billing.StripeAPI
	if cfg.StripeAPIKey != "" {
		stripeAPI = billing.NewStripeClient(cfg.StripeAPIKey, map[string]string{
			tenants.PlanStarter:    cfg.StripePriceStarter,
			tenants.PlanGrowth:     cfg.StripePriceGrowth,
			tenants.PlanEnterprise: cfg.StripePriceEnterprise,
		})
	}
	billingSvc := billing.NewService(subRepo, customerRepo, stripeAPI, logger)
	billingHandler := billing.NewHandler(billingSvc, cfg.StripeWebhookSecret)
	billingHandler.RegisterRoutes(apiV1)
	billingHandler.RegisterWebhookRoutes(hooks)

	// Drift engine and alerting
	runRepo := drift.NewRunRepoPG(pool)
	eventRepo := drift.NewEventRepoPG(pool)
	aggRepo := drift.NewAggregateRepoPG(pool)
	inTx := func(ctx context.Context, fn func(ctx context.Context) error) error {
		return db.WithTx(ctx, pool, fn)
	}
	engine := drift.NewEngine(runRepo, eventRepo, aggRepo, inTx, logger)

	alertRepo := alerts.NewRepoPG(pool)
	payerName := func(ctx context.Context, id uuid.UUID) (string, error) {
		p, err := claimsSvc.GetPayer(ctx, id)
		if err != nil {
			return "", err
		}
		return p.Name, nil
	}
	alertProcessor := alerts.NewProcessor(alertRepo, webhookManager, payerName, logger)
	alerts.NewHandler(alertProcessor, alertRepo).RegisterRoutes(apiV1)

	var gate drift.SubscriptionGate = billing.NewGate(subRepo, customerRepo)
	if cfg.IsDev() {
		gate = drift.AllowAll{}
	}
	driftHandler := drift.NewHandler(engine, runRepo, eventRepo, gate)
	driftHandler.SetOnCompleted(func(c echo.Context, run *drift.ReportRun) {
		ctx := c.Request().Context()
		events, err := collectRunEvents(ctx, eventRepo, run)
		if err != nil {
			logger.Error().Err(err).Str("run_id", run.ID.String()).Msg("loading events for alerting")
			return
		}
		opened, err := alertProcessor.ProcessRun(ctx, run, events)
		if err != nil {
			logger.Error().Err(err).Str("run_id", run.ID.String()).Msg("processing alerts")
			return
		}
		event, err := webhook.NewRunCompletedEvent(db.TenantFromContext(ctx), time.Now().UTC(), webhook.RunPayload{
			RunID:           run.ID,
			PayersEvaluated: run.PayersEvaluated,
			EventsDetected:  run.EventsDetected,
			AlertsOpened:    len(opened),
		})
		if err != nil {
			logger.Error().Err(err).Str("run_id", run.ID.String()).Msg("building run webhook event")
			return
		}
		webhookManager.Deliver(ctx, event)
	})
	driftHandler.RegisterRoutes(apiV1)

	// Reports
	reportsSvc := reports.NewService(runRepo, eventRepo, reportCache, logger)
	reports.NewHandler(reportsSvc).RegisterRoutes(apiV1)

	// Ingestion: CSV uploads plus the inbound claim webhook.
	uploadRepo := ingestion.NewRepoPG(pool)
	ingestSvc := ingestion.NewService(uploadRepo, claimsSvc, logger)
	ingestHandler := ingestion.NewHandler(ingestSvc, cfg.IngestWebhookSecret)
	ingestHandler.RegisterRoutes(apiV1)
	ingestHandler.RegisterWebhookRoutes(hooks)

	// API key management
	auth.NewAPIKeyHandler(apiKeys).RegisterRoutes(apiV1.Group("/api-keys", auth.RequireRole("admin")))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": "0.1.0"})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// apiKeyOrJWT authenticates a request with either an API key or a bearer JWT.
// API-key requests skip JWT verification and are granted roles derived from
// the key's scopes so the role checks on each route keep working.
func apiKeyOrJWT(cfg *config.Config, apiKeys *auth.APIKeyManager) echo.MiddlewareFunc {
	jwt := auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: []byte(cfg.AuthSigningKey),
	})
	keyAuth := auth.APIKeyMiddleware(apiKeys)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		jwtNext := jwt(next)
		return keyAuth(func(c echo.Context) error {
			keyID, ok := c.Get("api_key_id").(string)
			if !ok || keyID == "" {
				return jwtNext(c)
			}
			scopes, _ := c.Get("scopes").([]string)
			ctx := c.Request().Context()
			ctx = context.WithValue(ctx, auth.UserIDKey, "apikey:"+keyID)
			ctx = context.WithValue(ctx, auth.UserRolesKey, rolesForScopes(scopes))
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		})
	}
}

// rolesForScopes maps API key scopes onto the coarse role model. Keys that can
// write anything act as analysts; read-only keys act as viewers.
func rolesForScopes(scopes []string) []string {
	for _, s := range scopes {
		if s == "*" || s == "*:*" || strings.HasSuffix(s, ":write") || strings.HasSuffix(s, ":*") {
			return []string{"analyst"}
		}
	}
	return []string{"viewer"}
}

// collectRunEvents pages through every drift event belonging to the run.
func collectRunEvents(ctx context.Context, events drift.EventRepository, run *drift.ReportRun) ([]*drift.DriftEvent, error) {
	const pageSize = 500
	var out []*drift.DriftEvent
	for offset := 0; ; offset += pageSize {
		page, total, err := events.List(ctx, drift.EventFilter{ReportRunID: &run.ID}, pageSize, offset)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(out) >= total || len(page) == 0 {
			return out, nil
		}
	}
}
