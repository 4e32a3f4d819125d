// Package config loads accessgate configuration from the environment and an
// optional .env file using viper.
//
// Every variable carries the ACCESSGATE_ prefix. Environment variables
// override values from .env.
//
// Required:
//
//	ACCESSGATE_SESSION_SECRET="..."    # verifies session access tokens
//	ACCESSGATE_EMULATION_SECRET="..."  # signs the role_emulation cookie
//
// Server:
//
//	ACCESSGATE_PORT="8080"
//	ACCESSGATE_HEALTH_PORT="9090"
//	ACCESSGATE_SECURE_COOKIES="true"
//
// Storage (both optional):
//
//	ACCESSGATE_DATABASE_URL="postgres://localhost/accessgate?sslmode=disable"
//	ACCESSGATE_REDIS_URL="redis://localhost:6379/0"
//
// Access control:
//
//	ACCESSGATE_RATE_LIMIT_BACKEND="memory"        # memory or redis
//	ACCESSGATE_PERMISSION_CACHE_BACKEND="memory"  # memory or redis
//	ACCESSGATE_PERMISSION_CACHE_TTL="5m"
//	ACCESSGATE_EMULATION_TTL="4h"
//	ACCESSGATE_BREAKER_FAILURE_THRESHOLD="5"
//	ACCESSGATE_BREAKER_COOLDOWN="60s"
//
// Observability:
//
//	ACCESSGATE_LOG_LEVEL="info"   # debug, info, warn, error
//	ACCESSGATE_LOG_FORMAT="json"  # json or text
//	ACCESSGATE_OTEL_ENABLED="false"
//	ACCESSGATE_OTEL_ENDPOINT="otel-collector:4317"
//
// Usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
package config
