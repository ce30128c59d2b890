package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iliyamo/liveroom-admission/internal/config"
	"github.com/iliyamo/liveroom-admission/internal/handler"
	"github.com/iliyamo/liveroom-admission/internal/middleware"
)

// RegisterRoutes registers routes that do not require authentication and
// installs the request validator.
func RegisterRoutes(e *echo.Echo) {
	e.Validator = handler.NewValidator()
	e.GET("/healthz", handler.Health)
}

// RegisterPublic registers the unauthenticated room endpoints.  The list
// and detail responses go through the Redis response cache when one is
// available.
func RegisterPublic(e *echo.Echo, h *handler.RoomHandler, cache config.CacheConfig, rdb *redis.Client, log zerolog.Logger) {
	g := e.Group("/v1", middleware.NewRedisCache(cache, rdb, log))
	g.GET("/rooms", h.List)
	g.GET("/rooms/:id", h.Get)
}
