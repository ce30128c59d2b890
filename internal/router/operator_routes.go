package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/liveroom-admission/internal/handler"
	"github.com/iliyamo/liveroom-admission/internal/middleware"
	"github.com/iliyamo/liveroom-admission/internal/utils"
)

// RegisterOperator registers OPERATOR-scoped endpoints under /v1.
func RegisterOperator(e *echo.Echo, h *handler.OperatorHandler, jwtSecret string) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(utils.RoleOperator),
	)

	g.PUT("/rooms/:id", h.UpsertRoom)
	g.PATCH("/rooms/:id/live", h.SetLive)
	g.PATCH("/rooms/:id/rsvp-config", h.ConfigureRsvp)
}
