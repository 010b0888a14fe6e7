// Package main запускает Auth Service — ядро аутентификации и сессий.
//
// Основные возможности:
//   - Вход по паролю + TOTP, passkey-assertion и federated OAuth
//   - Проверка доверия устройства (device challenge) перед выдачей сессии
//   - Подключение/отключение 2FA с backup-кодами
//   - Выдача и проверка подписанных сессионных токенов (ротация ключей)
//
// Безопасность:
//   - Пароли хешируются bcrypt (cost=12)
//   - Backup-коды хранятся как SHA-256 дайджесты
//   - Все попытки входа аудируются в auth.login_attempts
//
// Запуск:
//
//	AUTH_SIGNING_KEYS="k1:<64 hex>" AUTH_ACTIVE_KID=k1 go run . -addr :8081
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/r2r72/x-auth-v1/cmd/auth-service/handlers"
	"github.com/r2r72/x-auth-v1/internal/config"
	"github.com/r2r72/x-auth-v1/internal/middleware"
	"github.com/r2r72/x-auth-v1/internal/ratelimit"
	"github.com/r2r72/x-auth-v1/internal/repository/memory"
	"github.com/r2r72/x-auth-v1/internal/repository/pg"
	"github.com/r2r72/x-auth-v1/internal/service/auth"
	"github.com/r2r72/x-auth-v1/internal/session"
)

// 🔑 Compile-time checks: both stores implement auth.Repository
var (
	_ auth.Repository = (*pg.Repository)(nil)
	_ auth.Repository = (*memory.Repository)(nil)
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("❌ Invalid configuration", zap.Error(err))
	}

	addr := flag.String("addr", cfg.Addr, "HTTP listen address")
	dbURL := flag.String("db-url", cfg.DBURL, "PostgreSQL DSN (empty: in-memory store)")
	flag.Parse()

	// === Dependencies ===
	var repo auth.Repository
	if *dbURL != "" {
		db, err := pg.NewDB(*dbURL)
		if err != nil {
			log.Fatal("❌ Failed to connect to DB", zap.Error(err))
		}
		defer db.Close()
		repo = pg.NewRepository(db)
	} else {
		log.Warn("⚠️ No AUTH_DB_URL set, using in-memory store")
		repo = memory.NewRepository()
	}

	var limiter ratelimit.Limiter
	if cfg.RedisAddr != "" {
		limiter = ratelimit.NewRedisLimiter(
			redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}),
			cfg.RateWindow, cfg.RateThreshold)
	} else {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateWindow, cfg.RateThreshold, nil)
	}

	issuer, err := session.NewIssuer(cfg.SigningKeys, cfg.ActiveKID, cfg.SessionMaxAge, cfg.SessionSlide, nil)
	if err != nil {
		// Refuse to start rather than run with weak or absent keys.
		log.Fatal("❌ Session signing keys rejected", zap.Error(err))
	}

	svc := auth.NewAuthService(repo, issuer, limiter,
		unconfiguredExchanger{},
		unconfiguredAsserter{},
		logSender{log: log},
		auth.Config{
			TOTPIssuer:           cfg.TOTPIssuer,
			DeviceGrace:          cfg.DeviceGrace,
			RequireVerifiedEmail: true,
		},
		nil, log)

	authorizer := middleware.NewAuthorizer(middleware.DefaultRoutes(), svc, "/login")

	// === HTTP server ===
	mux := http.NewServeMux()
	handlers.RegisterAuthRoutes(mux, svc, issuer, cfg.CookieSecure)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	server := &http.Server{
		Addr:         *addr,
		Handler:      authorizer.Wrap(mux),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// === Graceful shutdown ===
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("🚀 Auth Service started", zap.String("addr", *addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("❌ Server failed", zap.Error(err))
		}
	}()

	<-done
	log.Info("⏳ Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("❌ Server shutdown failed", zap.Error(err))
	}

	log.Info("✅ Auth Service stopped")
}

// unconfiguredExchanger stands in until a real OAuth client is wired.
type unconfiguredExchanger struct{}

func (unconfiguredExchanger) Exchange(context.Context, string) (*auth.ProviderIdentity, error) {
	return nil, errors.New("federated provider not configured")
}

// unconfiguredAsserter stands in until a real WebAuthn verifier is wired.
type unconfiguredAsserter struct{}

func (unconfiguredAsserter) VerifyAssertion([]byte, []byte, []byte) (uint32, error) {
	return 0, errors.New("assertion verifier not configured")
}

// logSender delivers challenge links to the log in development.
type logSender struct{ log *zap.Logger }

func (s logSender) SendChallenge(_ context.Context, id *auth.Identity, ch *auth.Challenge) error {
	s.log.Info("📧 Device challenge issued",
		zap.String("email", id.Email),
		zap.String("challenge", ch.ID),
		zap.String("token", ch.Token))
	return nil
}
