package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"yasmin/internal/api"
	"yasmin/internal/cache"
	"yasmin/internal/config"
	"yasmin/internal/logger"
	"yasmin/internal/provider"
	"yasmin/internal/realtime"
	"yasmin/internal/redis"
	"yasmin/internal/resolver"
	"yasmin/internal/service/conversation"
	"yasmin/internal/storage"
	"yasmin/internal/uploads"
	"yasmin/internal/worker"
)

const (
	catalogCacheTTL = time.Hour
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load(os.Getenv("YASMIN_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zlog, err := logger.New(cfg.Log, cfg.Server.Production())
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer zlog.Sync()
	if cfg.Server.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	driver, dsn, err := storage.ParseDSN(cfg.Database.URL)
	if err != nil {
		zlog.Fatal("parse database url", zap.Error(err))
	}
	zlog.Info("opening database", zap.String("driver", driver))
	db, err := storage.Open(driver, dsn)
	if err != nil {
		zlog.Fatal("open database", zap.Error(err))
	}
	defer db.Close()
	if err := storage.Migrate(db, driver); err != nil {
		zlog.Fatal("migrate database", zap.Error(err))
	}
	store := conversation.NewStore(db, driver, conversation.WithTitleLimit(cfg.Resolver.TitleMaxRunes))

	var (
		rdb     *redis.Client
		catalog cache.Cache
		bridge  realtime.Bridge
	)
	if cfg.Redis.Enabled() {
		rdb, err = redis.NewRedisClient(cfg.Redis)
		if err != nil {
			zlog.Fatal("connect redis", zap.Error(err))
		}
		defer rdb.Close()
		catalog = cache.NewRedis(rdb)
		bridge = rdb
	} else {
		zlog.Info("redis not configured, using in-process cache and single-instance rooms")
		catalog = cache.NewMemory(catalogCacheTTL)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	timeout := cfg.Resolver.Timeout
	p := cfg.Providers
	openAI, err := provider.NewOpenAI(ctx, p.OpenAI, timeout)
	if err != nil {
		zlog.Fatal("init openai", zap.Error(err))
	}
	openRouter, err := provider.NewOpenRouter(ctx, p.OpenRouter, provider.Site{URL: cfg.Server.AppURL, Title: cfg.Server.AppTitle}, timeout)
	if err != nil {
		zlog.Fatal("init openrouter", zap.Error(err))
	}
	anthropic, err := provider.NewAnthropic(ctx, p.Anthropic, timeout)
	if err != nil {
		zlog.Fatal("init anthropic", zap.Error(err))
	}
	gemini, err := provider.NewGemini(ctx, p.Gemini, timeout)
	if err != nil {
		zlog.Fatal("init gemini", zap.Error(err))
	}
	vision, err := provider.NewVision(ctx, p.OpenAI, timeout)
	if err != nil {
		zlog.Fatal("init vision", zap.Error(err))
	}

	res := resolver.New(cfg.Resolver, zlog.Named("resolver"), openRouter, gemini, openAI, anthropic)
	if !res.Configured() {
		zlog.Warn("no chat vendor configured, replies will use the offline fallback")
	}

	dispatcher := worker.NewDispatcher(cfg.Bot, zlog.Named("worker"))
	hub := realtime.NewHub(bridge, res, dispatcher, zlog.Named("realtime"))
	if err := hub.Start(ctx); err != nil {
		zlog.Fatal("start realtime hub", zap.Error(err))
	}

	up, err := uploads.New(cfg.Uploads, cfg.SessionSecret, zlog.Named("uploads"))
	if err != nil {
		zlog.Fatal("init uploads", zap.Error(err))
	}
	up.StartCleaner(ctx, cfg.Uploads.CleanInterval)

	handler := api.NewHandler(api.Deps{
		Store:      store,
		Resolver:   res,
		Speech:     provider.NewSpeech(p.ElevenLabs, catalog, timeout, zlog.Named("speech")),
		Images:     provider.NewImageService(zlog.Named("images"), provider.NewDALLE(p.OpenAI, timeout), provider.NewStability(p.Stability, timeout)),
		Translator: provider.NewTranslator(p.Translate, timeout),
		Vision:     vision,
		Models:     provider.NewModelCatalog(p.OpenRouter, catalog, timeout, zlog.Named("catalog")),
		Uploads:    up,
	}, zlog.Named("api"))

	router := gin.New()
	router.Use(gin.Recovery())
	handler.RegisterRoutes(router)
	hub.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		zlog.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("http shutdown", zap.Error(err))
	}
	cancel()
	hub.Close()
	dispatcher.Close()
}
