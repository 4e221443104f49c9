package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/suPer8Hu/polylog/internal/ai"
	"github.com/suPer8Hu/polylog/internal/archive"
	"github.com/suPer8Hu/polylog/internal/assistant"
	"github.com/suPer8Hu/polylog/internal/chat"
	"github.com/suPer8Hu/polylog/internal/config"
	"github.com/suPer8Hu/polylog/internal/db"
	"github.com/suPer8Hu/polylog/internal/httpapi"
	"github.com/suPer8Hu/polylog/internal/httpapi/handlers"
	"github.com/suPer8Hu/polylog/internal/store/rabbitmq"
	"github.com/suPer8Hu/polylog/internal/store/redisstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, closeLog := config.SetupLogger(cfg.LogFile, config.ParseLevel(cfg.LogLevel))
	defer func() { _ = closeLog() }()
	slog.SetDefault(log)
	if config.ParseLevel(cfg.LogLevel) > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb := openDB(cfg, log)
	rds := openRedis(ctx, cfg, log)
	pub := openPublisher(cfg, log)

	// archive: redis mirror always when present; durable copy via the queue
	// when the broker is up, otherwise straight to the database
	disp := archive.NewDispatcher(1024, 5*time.Second, log)
	if rds != nil {
		disp.AddSink("redis", rds)
	}
	switch {
	case pub != nil:
		disp.AddSink("rabbitmq", pub)
	case gdb != nil:
		disp.AddSink("database", archive.NewRepo(gdb))
	}
	disp.Start()
	log.Info("archive sinks", "sinks", disp.Sinks())

	sessions := assistant.NewStore(newGenerator(ctx, cfg, log), assistant.StoreOptions{
		MaxTurns: cfg.AIMaxContextMessages,
		Timeout:  cfg.AITimeout,
	}, log)
	registry := chat.NewRegistry(cfg.WSMaxConnectionsPerUser, cfg.WSRecentEvents, sessions, log)
	relay := chat.NewRelay(registry, assistant.NewPolicy(cfg.AIMentionTriggers), sessions, disp, chat.RelayOptions{
		AIName:            cfg.AIName,
		HeartbeatInterval: cfg.WSHeartbeatInterval,
		ReplyDelayMin:     cfg.AIResponseDelayMin,
		ReplyDelayMax:     cfg.AIResponseDelayMax,
	}, log)

	router := httpapi.NewRouter(handlers.Deps{
		DB:        gdb,
		Cfg:       cfg,
		Redis:     rds,
		Publisher: pub,
		Relay:     relay,
		Sessions:  sessions,
		Log:       log,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server started", "addr", cfg.HTTPAddr, "ai_provider", cfg.AIProvider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "err", err)
	}
	if err := relay.Shutdown(shutdownCtx); err != nil {
		log.Warn("relay shutdown", "err", err)
	}
	if err := disp.Close(shutdownCtx); err != nil {
		log.Warn("archive drain", "err", err, "dropped", disp.Dropped())
	}
	if pub != nil {
		_ = pub.Close()
	}
	if rds != nil {
		_ = rds.Close()
	}
	log.Info("server stopped")
}

func openDB(cfg config.Config, log *slog.Logger) *gorm.DB {
	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Warn("database unavailable, users and history disabled", "driver", cfg.DBDriver, "err", err)
		return nil
	}
	if err := db.Migrate(gdb); err != nil {
		log.Warn("database migration failed, users and history disabled", "err", err)
		return nil
	}
	return gdb
}

func openRedis(ctx context.Context, cfg config.Config, log *slog.Logger) *redisstore.Store {
	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisRecentLimit)
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rds.Ping(pctx); err != nil {
		log.Warn("redis unavailable, recent-event mirror disabled", "addr", cfg.RedisAddr, "err", err)
		_ = rds.Close()
		return nil
	}
	return rds
}

func openPublisher(cfg config.Config, log *slog.Logger) *rabbitmq.Publisher {
	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Warn("rabbitmq unavailable, archiving directly", "err", err)
		return nil
	}
	return pub
}

// newGenerator resolves AI_PROVIDER. A nil result makes every reply a
// fallback reply.
func newGenerator(ctx context.Context, cfg config.Config, log *slog.Logger) assistant.Generator {
	reg := ai.NewRegistry()
	reg.Register("ollama", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OllamaModel
		}
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, m), nil
	})
	reg.Register("openrouter", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		if cfg.OpenRouterAPIKey == "" {
			return nil, errors.New("OPENROUTER_API_KEY not set")
		}
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OpenRouterModel
		}
		return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, m, cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})

	p, err := reg.Get(ctx, cfg.AIProvider, "")
	if err != nil {
		log.Warn("ai provider unavailable, using fallback replies",
			"provider", cfg.AIProvider,
			"known", reg.Names(),
			"err", err,
		)
		return nil
	}
	return ai.Generator{Provider: p}
}
