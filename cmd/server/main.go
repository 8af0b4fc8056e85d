package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"workshop-sync/config"
	"workshop-sync/internal/api"
	"workshop-sync/internal/backing"
	"workshop-sync/internal/redisclient"
	"workshop-sync/internal/session"
	"workshop-sync/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting workshop sync service")

	tp, err := util.InitTracer("workshop-sync", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	store, err := backing.NewPostgres(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	writer := backing.NewFeedWriter(cfg.Kafka.Brokers, cfg.Kafka.TopicChanges)
	defer writer.Close()
	log.Println("Change feed producer initialized")

	sess := session.New(store, session.Options{
		PageSize:        cfg.Sync.PageSize,
		SearchDebounce:  time.Duration(cfg.Sync.SearchDebounceMs) * time.Millisecond,
		RecentDeleteTTL: time.Duration(cfg.Sync.RecentDeleteTTLSecs) * time.Second,
		ResolverWait:    time.Duration(cfg.Sync.ResolverWaitMs) * time.Millisecond,
		Scope:           session.TodayScope(time.Now()),
		Publisher:       writer,
		Dedup:           redisClient,
	})

	dispatcher := backing.NewDispatcher()

	startCtx, startCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := sess.Start(startCtx, dispatcher); err != nil {
		log.Printf("Failed to prime session lookups: %v", err)
	}
	startCancel()
	defer sess.Stop()

	if err := sess.LoadMore(context.Background()); err != nil {
		log.Printf("Failed to load initial page: %v", err)
	}

	// Each session needs its own consumer group so it sees every change.
	group := fmt.Sprintf("%s-%s", cfg.Kafka.ConsumerGroup, uuid.New().String())
	reader := backing.NewFeedReader(cfg.Kafka.Brokers, cfg.Kafka.TopicChanges, group)

	feedCtx, feedCancel := context.WithCancel(context.Background())
	defer feedCancel()
	go func() {
		if err := reader.Run(feedCtx, dispatcher); err != nil && err != context.Canceled {
			log.Printf("Change feed consumer error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(sess)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	feedCancel()
	if err := reader.Close(); err != nil {
		log.Printf("Error closing change feed reader: %v", err)
	}

	log.Println("Server exited")
}
