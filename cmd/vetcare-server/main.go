package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vetcare/vetcare/internal/config"
	"github.com/vetcare/vetcare/internal/domain/scheduling"
	"github.com/vetcare/vetcare/internal/platform/auth"
	"github.com/vetcare/vetcare/internal/platform/db"
	"github.com/vetcare/vetcare/internal/platform/events"
	"github.com/vetcare/vetcare/internal/platform/lock"
	"github.com/vetcare/vetcare/internal/platform/metrics"
	"github.com/vetcare/vetcare/internal/platform/middleware"
	"github.com/vetcare/vetcare/internal/platform/notification"
	"github.com/vetcare/vetcare/internal/platform/validation"
	"github.com/vetcare/vetcare/internal/platform/webhook"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vetcare-server",
		Short: "Veterinary scheduling API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduling API server",
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
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			dir := migrationsDir(cmd, cfg)

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			dir := migrationsDir(cmd, cfg)

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

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
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rollback last migration (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("WARNING: migrate down is destructive and not supported by the built-in runner.")
			fmt.Println("Restore from a backup or write a forward migration instead.")
			return nil
		},
	})

	return cmd
}

// migrationsDir prefers --dir and falls back to MIGRATIONS_DIR.
func migrationsDir(cmd *cobra.Command, cfg *config.Config) string {
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		return dir
	}
	if cfg.Migrations != "" {
		return cfg.Migrations
	}
	return "migrations"
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func newLocker(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (lock.Locker, func()) {
	if cfg.RedisURL == "" {
		logger.Warn().Msg("REDIS_URL not set, day locks are local to this process")
		return lock.NewLocal(), func() {}
	}
	rl, err := lock.NewRedisFromURL(ctx, cfg.RedisURL, cfg.LockTTL, cfg.LockWait)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	logger.Info().Msg("using redis day locks")
	return rl, func() { _ = rl.Close() }
}

// authMiddleware picks the identity source for the resolved auth mode.
func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	switch cfg.ResolvedAuthMode() {
	case config.AuthModeDevelopment:
		return auth.DevAuthMiddleware()
	case config.AuthModeSharedKey:
		return auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		})
	default:
		return auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
			Skipper:  auth.AuthSkipper,
		})
	}
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	loc, _ := cfg.Location()

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	locker, closeLocker := newLocker(ctx, cfg, logger)
	defer closeLocker()

	// Events
	var publishers events.Fanout
	var kafka *events.Kafka
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err = events.NewKafka(events.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create kafka producer")
		}
		publishers = append(publishers, kafka)
	}
	var hooks *webhook.Sink
	if len(cfg.WebhookURLs) > 0 {
		endpoints := make([]webhook.Endpoint, 0, len(cfg.WebhookURLs))
		for _, u := range cfg.WebhookURLs {
			endpoints = append(endpoints, webhook.Endpoint{URL: u, Secret: cfg.WebhookSecret, Events: cfg.WebhookEvents})
		}
		hooks, err = webhook.NewSink(endpoints, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid webhook configuration")
		}
		publishers = append(publishers, hooks)
	}
	var dispatcher *notification.Dispatcher
	if cfg.NotificationsEnabled {
		dispatcher = notification.NewDispatcher(
			notification.LogSender{Logger: logger},
			notification.NewTemplateEngine(),
			logger,
			notification.DefaultConfig(),
		)
		publishers = append(publishers, dispatcher)
	}

	opts := []scheduling.Option{
		scheduling.WithTxRunner(db.NewTxRunner(pool)),
		scheduling.WithPublisher(publishers),
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validation.New()

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
		m.RegisterPool(pool)
		opts = append(opts, scheduling.WithObserver(m))
	}

	svc := scheduling.NewService(
		scheduling.NewWeeklySlotRepoPG(pool),
		scheduling.NewHolidayRepoPG(pool),
		scheduling.NewAppointmentRepoPG(pool),
		scheduling.NewConsultationRepoPG(pool),
		locker,
		scheduling.Config{
			Location:               loc,
			StrictWeeklyOverlap:    cfg.StrictWeeklyOverlap,
			MeetingBaseURL:         cfg.MeetingBaseURL,
			MeetingGraceBefore:     cfg.MeetingGraceBefore,
			MeetingDefaultDuration: cfg.MeetingDefaultDuration,
		},
		opts...,
	)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	if m != nil {
		e.Use(m.Middleware())
	}
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader,
			auth.DevUserHeader, auth.DevVetHeader, auth.DevClientHeader},
	}))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(authMiddleware(cfg))
	e.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
	}))
	e.Use(middleware.Audit(logger))

	// Public routes
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	if m != nil {
		e.GET("/metrics", m.Handler())
	}

	api := e.Group("/api/v1")
	scheduling.NewHandler(svc).RegisterRoutes(api)

	logger.Info().
		Str("auth_mode", cfg.ResolvedAuthMode()).
		Str("timezone", loc.String()).
		Bool("kafka", kafka != nil).
		Int("webhooks", len(cfg.WebhookURLs)).
		Msg("routes registered")

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
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if dispatcher != nil {
		if err := dispatcher.Close(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("notification queue not drained")
		}
	}
	if hooks != nil {
		if err := hooks.Close(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("webhook queue not drained")
		}
	}
	if kafka != nil {
		if err := kafka.Close(); err != nil {
			logger.Warn().Err(err).Msg("kafka producer close failed")
		}
	}
	logger.Info().Msg("server stopped")
	return nil
}
