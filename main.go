package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"focushive/presence-service/broadcast"
	"focushive/presence-service/config"
	"focushive/presence-service/handlers"
	"focushive/presence-service/middleware"
	"focushive/presence-service/services"
	"focushive/presence-service/store"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig()

	// Setup logger
	logger := log.New(os.Stdout, "[Presence-Service] ", log.LstdFlags|log.Lshortfile)

	// Select the storage backend. Both behave identically to the services;
	// the Redis one is shared across instances.
	var st store.PresenceStore
	switch cfg.StoreBackend {
	case config.BackendRedis:
		client, err := store.NewRedisClient(cfg.RedisURL, cfg.RedisDB)
		if err != nil {
			logger.Fatalf("Failed to connect to Redis: %v", err)
		}
		st = store.NewRedisStore(client, cfg.RedisTimeout, logger)
		logger.Println("Using Redis presence store")
	case config.BackendMemory:
		st = store.NewMemoryStore(cfg.EventBufferSize, logger)
		logger.Println("Using in-memory presence store")
	default:
		logger.Fatalf("Unknown store backend %q", cfg.StoreBackend)
	}
	defer st.Close()

	// Hive membership authority; replace with the hive service client when
	// running against the full backend.
	authority := services.NewStaticMembershipAuthority(nil)
	authority.AllowAll = cfg.AllowAllHives

	// Core services
	presenceService := services.NewPresenceService(st, authority, cfg.HeartbeatTTL, logger)
	sessionTracker := services.NewFocusSessionTracker(st, presenceService, services.ElapsedRatioScoringPolicy{}, cfg.SessionGrace, cfg.SessionRetention, logger)
	presenceService.BindSessionFinisher(sessionTracker)
	sweeper := services.NewLivenessSweeper(st, presenceService, sessionTracker, cfg.SweepInterval, cfg.HeartbeatTTL, logger)

	// Broadcast fan-out
	gateway := broadcast.NewGateway(st, logger)
	gatewayCtx, cancelGateway := context.WithCancel(context.Background())
	go func() {
		if err := gateway.Run(gatewayCtx); err != nil {
			logger.Printf("Broadcast gateway stopped: %v", err)
		}
	}()

	sweeperCtx, cancelSweeper := context.WithCancel(context.Background())
	sweeper.Start(sweeperCtx)

	// Create handlers
	presenceHandler := handlers.NewPresenceHandler(presenceService, logger)
	sessionHandler := handlers.NewSessionHandler(sessionTracker, logger)
	wsHandler := handlers.NewWSHandler(gateway, logger)

	// Setup routes
	auth := func(h http.HandlerFunc) http.Handler {
		return middleware.JWTAuth(cfg.JWTSecret, h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HealthCheck)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/presence/update", auth(presenceHandler.Update))
	mux.Handle("/presence/heartbeat", auth(presenceHandler.Heartbeat))
	mux.Handle("/presence/offline", auth(presenceHandler.Offline))
	mux.Handle("/presence/status", auth(presenceHandler.GetStatus))
	mux.Handle("/hives/join", auth(presenceHandler.JoinHive))
	mux.Handle("/hives/leave", auth(presenceHandler.LeaveHive))
	mux.Handle("/hives/users", auth(presenceHandler.GetHiveUsers))
	mux.Handle("/hives/presence", auth(presenceHandler.GetHivesPresence))
	mux.Handle("/sessions/start", auth(sessionHandler.Start))
	mux.Handle("/sessions/pause", auth(sessionHandler.Pause))
	mux.Handle("/sessions/resume", auth(sessionHandler.Resume))
	mux.Handle("/sessions/complete", auth(sessionHandler.Complete))
	mux.Handle("/sessions/cancel", auth(sessionHandler.Cancel))
	mux.Handle("/sessions/current", auth(sessionHandler.Current))
	mux.Handle("/ws", auth(wsHandler.Subscribe))

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      middleware.Logging(logger, mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Printf("Starting Presence Service on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Println("Shutting down server...")

	// Stop background work first so nothing mutates state mid-shutdown.
	sweeper.Stop()
	cancelSweeper()
	cancelGateway()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Println("Server exited")
}
