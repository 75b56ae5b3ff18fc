package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vasset/extractor-service/internal/cache"
	"vasset/extractor-service/internal/config"
	"vasset/extractor-service/internal/geoip"
	"vasset/extractor-service/internal/handler"
	"vasset/extractor-service/internal/httpclient"
	"vasset/extractor-service/internal/profile"
	"vasset/extractor-service/internal/proxy"
	"vasset/extractor-service/internal/proxy/sources"
	"vasset/extractor-service/internal/router"
	"vasset/extractor-service/internal/service"
	"vasset/extractor-service/internal/utils"
	"vasset/extractor-service/internal/ytdlp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the proxy pool",
	RunE:  serveRun,
}

func serveRun(cmd *cobra.Command, args []string) error {
	log.Info("Starting extractor service",
		zap.Int("port", cfg.Server.Port),
		zap.String("mode", cfg.Server.Mode),
		zap.String("environment", cfg.Orchestrator.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Redis 缓存 (可选)
	var descCache *cache.Service
	var pinger handler.Pinger
	if cfg.Cache.Enabled {
		redisClient := initRedis(&cfg.Redis)
		defer redisClient.Close()

		descCache = cache.NewService(redisClient, cfg.Cache.GetCacheTTL())
		pinger = descCache
		if err := descCache.Ping(ctx); err != nil {
			log.Warn("Failed to connect to Redis, cache will be disabled", zap.Error(err))
			descCache = nil
		} else {
			log.Info("Connected to Redis", zap.String("addr", cfg.Redis.Addr))
		}
	}

	// 2. 代理池
	pool, closePool := buildPool(&cfg.Proxy)
	defer closePool()
	if err := pool.Validate(); err != nil {
		log.Warn("Proxy pool has no sources, proxied phase will be skipped", zap.Error(err))
	}
	pool.Start(ctx)
	defer pool.Stop()

	// 3. 解析编排
	opts := []service.Option{
		service.WithLimiter(utils.NewConcurrencyLimiter(cfg.YTDLP.MaxConcurrent)),
	}
	if descCache != nil {
		opts = append(opts, service.WithCache(descCache))
	}
	extractSvc := service.NewExtractService(
		&cfg.Orchestrator,
		ytdlp.NewWrapper(&cfg.YTDLP),
		pool,
		profile.NewSelector(nil),
		log,
		opts...,
	)

	// 4. 路由
	r := router.SetupRouter(&router.Dependencies{
		Config:    cfg,
		Extractor: extractSvc,
		Pool:      pool,
		Cache:     pinger,
		Logger:    log,
		Version:   Version,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	log.Info("Server stopped")
	return nil
}

// initRedis 初始化 Redis 连接
func initRedis(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// buildPool 组装代理池, 返回的函数释放 GeoIP 数据库
func buildPool(pc *config.ProxyConfig) (*proxy.Pool, func()) {
	client := httpclient.New(pc.GetSourceTimeout(), pc.BrowserTLS)
	checker := proxy.NewChecker(pc.ProbeURL, pc.GetProbeTimeout(), pc.GetConnectTimeout())

	var opts []proxy.Option
	closeFn := func() {}
	if pc.GeoIPPath != "" {
		geo, err := geoip.New(pc.GeoIPPath)
		if err != nil {
			log.Warn("GeoIP database unavailable, proxy countries will be empty",
				zap.String("path", pc.GeoIPPath),
				zap.Error(err),
			)
		} else {
			opts = append(opts, proxy.WithLocator(geo))
			closeFn = func() { _ = geo.Close() }
		}
	}

	pool := proxy.NewPool(pc, sources.FromConfig(pc.Sources, client), checker, log, opts...)
	return pool, closeFn
}
