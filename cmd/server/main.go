package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eksporyuk/backend/internal/app"
	"github.com/eksporyuk/backend/internal/config"
	"github.com/eksporyuk/backend/internal/database"
	"github.com/eksporyuk/backend/internal/jobs"
	"github.com/eksporyuk/backend/internal/logger"
	"github.com/eksporyuk/backend/internal/metrics"
	"github.com/eksporyuk/backend/internal/middleware"
	"github.com/eksporyuk/backend/internal/queue"
	"github.com/eksporyuk/backend/internal/routes"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	log := logger.New(cfg.Log, cfg.Environment)
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.InitDB(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient, err := queue.NewRedisClient(ctx, cfg.Redis.URL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	m := metrics.New()
	services := app.New(cfg, db, redisClient, m, log)

	// Start background job processor
	services.Processor.Start(ctx)

	scheduler := jobs.NewScheduler(log.WithField("component", "scheduler"))
	if err := scheduler.ScheduleRecurringJobs(ctx, services.ReconcileJob, cfg.Reconcile.Schedule); err != nil {
		log.Fatalf("Failed to schedule recurring jobs: %v", err)
	}
	scheduler.Start()

	rateLimiter := middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	router := routes.NewRouter(cfg, services, rateLimiter, log)

	srv := startServer(router, cfg.Server, log)

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	scheduler.Stop()
	rateLimiter.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	cancel()
	services.Processor.Stop()

	log.Info("Server exiting")
}

// startServer starts the HTTP server
func startServer(router *gin.Engine, cfg config.ServerConfig, log *logrus.Logger) *http.Server {
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.WithField("port", cfg.Port).Info("Server started")
	return srv
}
