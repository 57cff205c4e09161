package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"account_service/internal/accounts"
	"account_service/internal/config"
	"account_service/internal/http_server/handlers/activate"
	"account_service/internal/http_server/handlers/check"
	"account_service/internal/http_server/handlers/login"
	"account_service/internal/http_server/handlers/logout"
	logoutAll "account_service/internal/http_server/handlers/logout_all"
	"account_service/internal/http_server/handlers/refresh"
	"account_service/internal/http_server/handlers/register"
	"account_service/internal/http_server/handlers/restore"
	restoreConfirm "account_service/internal/http_server/handlers/restore_confirm"
	"account_service/internal/lib/crypto"
	"account_service/internal/mojang"
	"account_service/internal/rabbitmq"
	"account_service/internal/storage/postgres"
	"account_service/internal/storage/redis"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator/v10"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	cfg := config.MustLoad("./config/config.yaml")

	log := setupLogger(cfg.Env)

	log.Info("starting account service", slog.String("env", cfg.Env))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Info("Shutdown signal received")
		cancel()
	}()

	storage, err := postgres.New(ctx, cfg)
	if err != nil {
		log.Error("failed to connect postgres", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer storage.Close()

	tokenIndex, err := redis.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Error("failed to connect redis", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer tokenIndex.Close()

	var mail accounts.Publisher
	if cfg.Features.MailActivation {
		msgBroker, err := rabbitmq.New(cfg.RabbitMQ.URL, cfg.RabbitMQ.QueueName)
		if err != nil {
			log.Error("failed to connect rabbitmq", slog.String("err", err.Error()))
			os.Exit(1)
		}
		defer msgBroker.Close()
		mail = msgBroker
	}

	var identity accounts.IdentityResolver
	if cfg.Features.ExternalIdentity {
		identity = mojang.New(cfg.Mojang.ProfileURL, cfg.Mojang.SessionURL, cfg.Mojang.Timeout)
	}

	service := accounts.New(
		log,
		storage,
		storage,
		tokenIndex,
		identity,
		mail,
		crypto.NewHasher(cfg.Passwords.Scheme),
		cfg,
	)

	router := setupRouter(log, service)

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		log.Info("HTTP server is running")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed", slog.String("err", err.Error()))
			cancel()
		}
	}()

	<-ctx.Done()

	log.Info("Shutting down HTTP server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", slog.String("err", err.Error()))
	} else {
		log.Info("Server stopped gracefully")
	}

	log.Info("Main service stopped")
}

func setupRouter(
	log *slog.Logger,
	service *accounts.Accounts,
) *chi.Mux {
	validate := validator.New()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/register", register.New(log, validate, service))
	r.Post("/activate", activate.New(log, validate, service))
	r.Post("/login", login.New(log, validate, service))
	r.Post("/refresh", refresh.New(log, validate, service))
	r.Post("/check", check.New(log, validate, service))
	r.Post("/logout", logout.New(log, validate, service))
	r.Post("/logout/all", logoutAll.New(log, validate, service))
	r.Post("/restore", restore.New(log, validate, service))
	r.Post("/restore/confirm", restoreConfirm.New(log, validate, service))

	return r
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}
