package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"identity-service/internal/audit"
	"identity-service/internal/auth"
	"identity-service/internal/authn"
	"identity-service/internal/config"
	"identity-service/internal/cookie"
	"identity-service/internal/httpapi"
	"identity-service/internal/metrics"
	"identity-service/internal/notify"
	"identity-service/internal/otp"
	"identity-service/internal/password"
	"identity-service/internal/ratelimit"
	"identity-service/internal/users"
	"identity-service/pkg/logger"
	"identity-service/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

const storeTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		return err
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := utils.OpenPostgres(rootCtx, cfg.PostgresDSN(), utils.PoolOptions{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		return err
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisOptions{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err != nil {
		log.Error("redis init failed", "err", err)
		return err
	}
	defer rdb.Close()

	deps, err := buildDeps(cfg, db, rdb, log)
	if err != nil {
		log.Error("service init failed", "err", err)
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           newRouter(log, deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
		return err
	}
	return nil
}

// buildDeps wires the production stores: Postgres for accounts and audit,
// Redis for codes, throttling and (optionally) notifications.
func buildDeps(cfg config.Config, db *sql.DB, rdb *redis.Client, log *slog.Logger) (routeDeps, error) {
	issuer := auth.NewIssuer(cfg.Auth)

	var notifier notify.Notifier
	switch cfg.Notify.Driver {
	case "redis":
		notifier = notify.NewStreamNotifier(rdb, cfg.Notify.Stream)
	default:
		notifier = notify.LogNotifier{Log: log, RevealCodes: !cfg.IsProduction()}
	}

	limiter, err := ratelimit.NewRedisLimiter(rdb, "ratelimit:", cfg.Auth.LoginMaxAttempts, cfg.Auth.LoginWindow)
	if err != nil {
		return routeDeps{}, err
	}

	m := metrics.New()
	svc, err := authn.NewService(authn.Deps{
		Config:   cfg.Auth,
		Users:    users.NewPostgresStore(db, storeTimeout),
		Hasher:   password.NewArgon2id(password.DefaultParams()),
		Issuer:   issuer,
		Codes:    otp.NewRedisStore(rdb),
		Notifier: notifier,
		Limiter:  limiter,
		Audit:    audit.NewService(audit.NewPostgresRepo(db)),
		Metrics:  m,
	})
	if err != nil {
		return routeDeps{}, err
	}

	return routeDeps{
		Handlers: httpapi.Handlers{
			Auth:     svc,
			Cookies:  cookie.NewWriter(cfg.Auth),
			Sessions: issuer,
		},
		Verifier:    issuer,
		AuthLimiter: ratelimit.NewLocalLimiter(5, 20),
		Metrics:     m,
		Health: func(ctx context.Context) error {
			if err := utils.PingPostgres(ctx, db, 2*time.Second); err != nil {
				return err
			}
			return utils.PingRedis(ctx, rdb, 2*time.Second)
		},
	}, nil
}
