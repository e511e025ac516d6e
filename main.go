package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"github.com/yeremiapane/table-service/config"
	"github.com/yeremiapane/table-service/database"
	"github.com/yeremiapane/table-service/hub"
	"github.com/yeremiapane/table-service/lock"
	"github.com/yeremiapane/table-service/middlewares"
	"github.com/yeremiapane/table-service/router"
	"github.com/yeremiapane/table-service/services"
	"github.com/yeremiapane/table-service/utils"
)

func main() {
	// Load .env
	envErr := godotenv.Load()

	cfg := config.Load()
	utils.InitLogger(cfg.Log.Level, cfg.Log.JSON)
	if envErr != nil {
		utils.InfoLogger.Println("Warning: .env file not found")
	}

	if cfg.Server.GinMode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := config.InitDB(cfg.Database)
	if err != nil {
		utils.ErrorLogger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		utils.ErrorLogger.Fatalf("Failed to AutoMigrate: %v", err)
	}
	if cfg.Database.Seed {
		if err := database.Seed(db, cfg.Server.PublicBaseURL); err != nil {
			utils.ErrorLogger.Fatalf("Failed to seed database: %v", err)
		}
	}

	var locker lock.Locker = lock.NewMemoryLocker()
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			utils.ErrorLogger.Fatalf("Failed to connect to redis at %s: %v", cfg.Redis.Addr, err)
		}
		locker = lock.NewRedisLocker(redisClient)
		utils.InfoLogger.Printf("Table locks held in redis at %s", cfg.Redis.Addr)
	}

	wsHub := hub.New(hub.Options{
		PingInterval:   cfg.Server.WSPingInterval,
		AllowedOrigins: cfg.Server.CORSOrigins,
	})

	sessions := services.NewSessionService(db, wsHub, locker, cfg.Session.TTL)
	sweeper := services.NewSessionSweeper(sessions, cfg.Session.SweepInterval)
	sweeper.Start()

	blacklist := utils.NewTokenBlacklist()
	engine := router.SetupRouter(router.Dependencies{
		Users:        services.NewUserService(db),
		Restaurants:  services.NewRestaurantService(db),
		Tables:       services.NewTableService(db, wsHub, cfg.Server.PublicBaseURL),
		Sessions:     sessions,
		Requests:     services.NewRequestService(db, wsHub, locker),
		Hub:          wsHub,
		Issuer:       utils.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		Blacklist:    blacklist,
		Limiter:      middlewares.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst),
		AuthLimiter:  middlewares.NewStrictRateLimiter(),
		SecureCookie: strings.HasPrefix(cfg.Server.PublicBaseURL, "https://"),
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Content-Length", "Accept-Encoding", "Authorization"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      c.Handler(engine),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		utils.InfoLogger.Printf("Listening on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.ErrorLogger.Fatal(err)
		}
	}()

	cleanup := time.NewTicker(time.Hour)
	defer cleanup.Stop()
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	for waiting := true; waiting; {
		select {
		case <-cleanup.C:
			blacklist.Cleanup()
		case sig := <-quit:
			utils.InfoLogger.Printf("Received %s, shutting down", sig)
			waiting = false
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		utils.ErrorLogger.Printf("Error during server shutdown: %v", err)
	}
	wsHub.Close()
	sweeper.Stop()
	if redisClient != nil {
		redisClient.Close()
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	utils.InfoLogger.Println("Server stopped")
}
