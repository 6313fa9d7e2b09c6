// cmd/server/main.go

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/HeavenManySugar/NTUT-MADD-Final-backend/internal/adaptive"
	"github.com/HeavenManySugar/NTUT-MADD-Final-backend/internal/backend"
	"github.com/HeavenManySugar/NTUT-MADD-Final-backend/internal/bulk"
	"github.com/HeavenManySugar/NTUT-MADD-Final-backend/internal/cache"
	"github.com/HeavenManySugar/NTUT-MADD-Final-backend/internal/config"
	"github.com/HeavenManySugar/NTUT-MADD-Final-backend/internal/middleware"
	"github.com/HeavenManySugar/NTUT-MADD-Final-backend/internal/monitor"
	"github.com/HeavenManySugar/NTUT-MADD-Final-backend/internal/pool"
	"github.com/HeavenManySugar/NTUT-MADD-Final-backend/internal/stats"
	"github.com/HeavenManySugar/NTUT-MADD-Final-backend/internal/token"
	"github.com/HeavenManySugar/NTUT-MADD-Final-backend/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatal("Failed to load config: ", err)
	}

	logger.InitLogger(&logger.Config{Mode: cfg.Server.Mode})
	log := logger.GetLogger()
	log.Info("Starting cache service...")

	gin.SetMode(cfg.Server.Mode)

	rdb, err := backend.NewRedis(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize backend: ", err)
	}
	defer rdb.Close()

	p := pool.New(rdb.Dialer(), pool.Config{
		MinSize:             cfg.Pool.MinSize,
		MaxSize:             cfg.Pool.MaxSize,
		IdleTimeout:         time.Duration(cfg.Pool.IdleTimeout) * time.Second,
		AcquireTimeout:      time.Duration(cfg.Pool.AcquireTimeout) * time.Second,
		MaintenanceInterval: time.Duration(cfg.Pool.MaintenanceInterval) * time.Second,
	}, log)
	defer p.Close()

	recorder := stats.NewRecorder(statsCap(cfg, log))

	storeOpts := []cache.Option{cache.WithKeyPrefix(cfg.Redis.KeyPrefix)}
	if cfg.Cache.SingleFlight {
		storeOpts = append(storeOpts, cache.WithSingleFlight())
	}
	store := cache.NewStore(p, recorder, log, storeOpts...)

	controller := adaptive.NewController(adaptive.TTLConfig{
		BaseTTL:        cfg.Cache.CategoryTTL,
		HitMultiplier:  cfg.Cache.HitMultiplier,
		MissMultiplier: cfg.Cache.MissMultiplier,
		MaxMultiplier:  cfg.Cache.MaxMultiplier,
		MinMultiplier:  cfg.Cache.MinMultiplier,
	}, recorder, store, log, time.Duration(cfg.Cache.AdjustInterval)*time.Second)

	tokens := token.NewService(token.Options{
		Secret:          cfg.Token.Secret,
		Audience:        cfg.Token.Audience,
		Issuer:          cfg.Token.Issuer,
		Expiry:          time.Duration(cfg.Token.Expiry) * time.Second,
		VerificationTTL: time.Duration(cfg.Token.VerificationTTL) * time.Second,
		CacheSize:       cfg.Token.CacheSize,
	}, store, log)
	defer tokens.Close()

	registry := prometheus.NewRegistry()
	mon := monitor.New(recorder, p, log,
		time.Duration(cfg.Monitor.SlowQueryThresholdMs)*time.Millisecond,
		time.Duration(cfg.Monitor.ReportInterval)*time.Second,
		registry)

	writer := bulk.NewWriter(p, cfg.Bulk.MaxBatch,
		time.Duration(cfg.Bulk.FlushIntervalMs)*time.Millisecond, log,
		bulk.WithKeyPrefix(cfg.Redis.KeyPrefix))

	// Background loops
	ctx, cancel := context.WithCancel(context.Background())
	controller.RestoreStats(ctx)
	go controller.Run(ctx)
	go mon.Run(ctx)
	go writer.Run(ctx)

	m := middleware.NewMiddleware(tokens, log,
		cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	go m.CleanupLimiters(ctx)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(m.RateLimit())

	router.GET("/health", healthHandler(store))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	router.GET("/cache/report", m.RequireAuth(), func(c *gin.Context) {
		c.JSON(http.StatusOK, mon.GetReport())
	})

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Info("Server starting on ", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server: ", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown: ", err)
	}

	// Stop background loops (the writer performs its final flush) and
	// persist the per-key counters so a restart keeps its hit rates.
	cancel()
	controller.PersistStats(shutdownCtx)

	log.Info("Server exited successfully")
}

// statsCap picks the tracked-key cap: the configured value, raised to
// the memory-derived budget when the host has room for more.
func statsCap(cfg *config.Config, log *logrus.Logger) int {
	maxKeys := cfg.Cache.StatsMaxKeys
	budget, err := stats.NewKeyBudget().MaxKeys()
	if err != nil {
		log.Warn("Could not derive stats budget from memory: ", err)
		return maxKeys
	}
	if budget > maxKeys {
		maxKeys = budget
	}
	return maxKeys
}

func healthHandler(store *cache.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := store.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  http.StatusServiceUnavailable,
				"message": "BACKEND_UNAVAILABLE",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  http.StatusOK,
			"message": "OK",
		})
	}
}
