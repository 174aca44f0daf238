// Package main is the entrypoint for the Portal API server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"

	"github.com/portalhq/portal/internal/auth"
	"github.com/portalhq/portal/internal/config"
	"github.com/portalhq/portal/internal/handler"
	"github.com/portalhq/portal/internal/mail"
	"github.com/portalhq/portal/internal/middleware"
	"github.com/portalhq/portal/internal/model"
	"github.com/portalhq/portal/internal/server"
	"github.com/portalhq/portal/internal/session"
	"github.com/portalhq/portal/internal/store"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	// Document store
	db, err := store.New(ctx, cfg.MongoURL, cfg.AdminDB)
	if err != nil {
		logger.Error("failed to connect to document store",
			slog.String("error", err.Error()),
			slog.String("mongo_url", redactURL(cfg.MongoURL)),
		)
		os.Exit(1)
	}
	logger.Info("connected to document store")

	if err := db.EnsureIndexes(ctx); err != nil {
		logger.Error("failed to ensure indexes", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := seedAdminAccount(ctx, db, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		logger.Error("failed to seed admin account", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Session store
	sessions, err := session.New(ctx, cfg.RedisURL, cfg.SessionTTL)
	if err != nil {
		logger.Error("failed to connect to Redis",
			slog.String("error", err.Error()),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		os.Exit(1)
	}
	logger.Info("connected to Redis")

	// Outbound email
	var mailer mail.Sender
	if cfg.SMTPHost != "" {
		mailer = mail.NewSMTPSender(mail.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		})
	} else {
		logger.Warn("SMTP_HOST not set, verification codes will be logged")
		mailer = &mail.LogSender{Logger: logger}
	}

	h := handler.New(handler.Config{
		Logger:          logger,
		Accounts:        db,
		Apps:            db,
		Verifications:   db,
		Sessions:        sessions,
		Mailer:          mailer,
		AdminEmail:      cfg.AdminEmail,
		VerificationTTL: cfg.VerificationTTL,
	})
	healthHandler := handler.NewHealthHandler(db, sessions)

	r := setupRouter(h, healthHandler, db, sessions, cfg, logger)

	srv := server.New(
		r,
		cfg.AppPort,
		cfg.ReadTimeout,
		cfg.WriteTimeout,
		cfg.ShutdownTimeout,
		logger,
	)
	srv.OnShutdown("sessions", func(ctx context.Context) error {
		return sessions.Close()
	})
	srv.OnShutdown("document store", db.Close)

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
	)

	if err := srv.Run(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// seedAdminAccount makes sure the distinguished admin account exists.
// An existing account is left untouched so a rotated password in the
// environment does not silently clobber a manual change.
func seedAdminAccount(ctx context.Context, db *store.Store, email, password string) error {
	_, err := db.GetAccount(ctx, email, "")
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrAccountNotFound) {
		return err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	return db.CreateAccount(ctx, &model.Account{
		ID:           ulid.Make().String(),
		Email:        email,
		App:          "",
		Role:         model.RoleAdmin,
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	})
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(
	h *handler.Handler,
	healthHandler *handler.HealthHandler,
	db *store.Store,
	sessions *session.Store,
	cfg *config.Config,
	logger *slog.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Security(middleware.SecurityConfig{
		IsDevelopment: cfg.IsDevelopment(),
	}))
	r.Use(middleware.MaxBodySize(cfg.MaxBodyBytes))

	if origins := cfg.GetCORSAllowedOrigins(); len(origins) > 0 {
		r.Use(middleware.CORS(middleware.CORSConfig{
			AllowedOrigins: origins,
			MaxAge:         86400,
		}))
	}

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/readyz", healthHandler.Readyz)

	// Root info endpoint
	r.Get("/", h.Hello)

	rateLimitCfg := middleware.RateLimitConfig{
		Logger:  logger,
		Limiter: sessions,
		Enabled: cfg.RateLimitEnabled,
		RPS:     cfg.RateLimitRPS,
		Burst:   cfg.RateLimitBurst,
	}

	// Credential endpoints (no session, rate limited per IP)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitIP(rateLimitCfg))

		r.Post("/register", h.Register)
		r.Post("/verify_email", h.VerifyEmail)
		r.Post("/login", h.Login)
		r.Post("/reset_password", h.ResetPassword)
		r.Post("/confirm_reset_password", h.ConfirmResetPassword)
	})

	// Logout works with or without a live session.
	r.Post("/logout", h.Logout)

	sessionCfg := middleware.SessionAuthConfig{
		Logger:   logger,
		Sessions: sessions,
		Accounts: db,
	}

	// Session-protected endpoints
	r.Group(func(r chi.Router) {
		r.Use(middleware.SessionAuth(sessionCfg))

		r.Get("/me", h.Me)

		r.Post("/create_app", h.CreateApp)
		r.Post("/delete_app", h.DeleteApp)
		r.Post("/add_collection", h.AddCollection)
		r.Post("/delete_collection", h.DeleteCollection)
		r.Get("/list_collections", h.ListCollections)
		r.Get("/apps", h.ListApps)
		r.Post("/update_object", h.UpdateObject)
		r.Post("/delete_user", h.DeleteUser)
		r.Post("/transfer_app_ownership", h.TransferOwnership)
		r.Post("/change_user_type", h.ChangeUserType)

		r.Get("/admin/dashboard", h.Dashboard)
	})

	// 404 and 405 handlers
	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.MethodNotAllowed)

	return r
}

// redactURL strips credentials from a connection URL before logging.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		parsed.User = url.User(parsed.User.Username())
	}

	return parsed.String()
}
