package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iliyamo/liveroom-admission/internal/config"
	"github.com/iliyamo/liveroom-admission/internal/handler"
	"github.com/iliyamo/liveroom-admission/internal/middleware"
	"github.com/iliyamo/liveroom-admission/internal/utils"
)

// RegisterViewer registers viewer endpoints under /v1.  All routes need a
// valid JWT with the VIEWER or OPERATOR role.  The write endpoints share a
// per-user token bucket.
func RegisterViewer(e *echo.Echo, h *handler.ViewerHandler, jwtSecret string, rl config.RateLimitConfig, rdb *redis.Client, log zerolog.Logger) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(utils.RoleViewer, utils.RoleOperator),
	)
	limit := middleware.NewTokenBucket(rl, rdb, log)

	g.POST("/rooms/:id/rsvp", h.Register, limit)
	g.DELETE("/rooms/:id/rsvp", h.Cancel, limit)
	g.POST("/rooms/:id/join", h.Join, limit)

	g.GET("/rooms/:id/gate", h.Gate)
	g.GET("/rooms/:id/gate/stream", h.GateStream)

	g.GET("/my-rooms", h.MyRooms)
	g.GET("/my-rooms/stream", h.MyRoomsStream)
}
