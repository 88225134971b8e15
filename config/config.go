package config

import (
	"os"
	"strconv"
	"time"
)

// Backend names accepted by STORE_BACKEND.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Config struct {
	Port         string
	StoreBackend string
	RedisURL     string
	RedisDB      int
	RedisTimeout time.Duration

	HeartbeatTTL     time.Duration
	SweepInterval    time.Duration
	SessionGrace     time.Duration
	SessionRetention time.Duration

	EventBufferSize int
	JWTSecret       string
	AllowAllHives   bool
}

func LoadConfig() *Config {
	heartbeatTTL, _ := strconv.Atoi(getEnv("HEARTBEAT_TTL_SECONDS", "60"))
	sweepInterval, _ := strconv.Atoi(getEnv("SWEEP_INTERVAL_SECONDS", "30"))
	sessionGrace, _ := strconv.Atoi(getEnv("SESSION_GRACE_MINUTES", "5"))
	sessionRetention, _ := strconv.Atoi(getEnv("SESSION_RETENTION_MINUTES", "60"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	redisTimeout, _ := strconv.Atoi(getEnv("REDIS_TIMEOUT_MS", "3000"))
	eventBuffer, _ := strconv.Atoi(getEnv("EVENT_BUFFER_SIZE", "256"))

	return &Config{
		Port:             getEnv("PORT", "8082"),
		StoreBackend:     getEnv("STORE_BACKEND", BackendMemory),
		RedisURL:         getEnv("REDIS_URL", "redis://localhost:6379"),
		RedisDB:          redisDB,
		RedisTimeout:     time.Duration(redisTimeout) * time.Millisecond,
		HeartbeatTTL:     time.Duration(heartbeatTTL) * time.Second,
		SweepInterval:    time.Duration(sweepInterval) * time.Second,
		SessionGrace:     time.Duration(sessionGrace) * time.Minute,
		SessionRetention: time.Duration(sessionRetention) * time.Minute,
		EventBufferSize:  eventBuffer,
		JWTSecret:        getEnv("JWT_SECRET", "your-secret-key"),
		AllowAllHives:    getEnv("ALLOW_ALL_HIVES", "true") == "true",
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
