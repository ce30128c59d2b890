package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/liveroom-admission/internal/lifecycle"
	"github.com/iliyamo/liveroom-admission/internal/repository"
	"github.com/iliyamo/liveroom-admission/internal/service"
	"github.com/iliyamo/liveroom-admission/internal/store"
)

// writeError maps engine errors onto HTTP responses.  Transient store
// failures ask the client to retry; closed or locked rooms are reported as
// conflicts so clients never retry them blindly.
func writeError(c echo.Context, log zerolog.Logger, err error) error {
	switch {
	case errors.Is(err, repository.ErrRoomNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "room not found"})
	case errors.Is(err, service.ErrNotRegistered):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "no active registration"})
	case errors.Is(err, service.ErrRoomEnded):
		return c.JSON(http.StatusConflict, echo.Map{"error": "room has ended", "state": lifecycle.Ended})
	case errors.Is(err, service.ErrNotUpcoming):
		return c.JSON(http.StatusConflict, echo.Map{"error": "room is already open, registration closed", "state": lifecycle.Current})
	case errors.Is(err, service.ErrStillLocked):
		return c.JSON(http.StatusLocked, echo.Map{"error": "room is still locked", "state": lifecycle.Upcoming})
	case store.IsTransient(err):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "temporarily unavailable, please retry"})
	case store.IsPermissionDenied(err):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "feature unavailable"})
	}
	log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}

// roomID reads and checks the :id path parameter.
func roomID(c echo.Context) (string, bool) {
	id := c.Param("id")
	return id, repository.ValidID(id)
}

func invalidRoomID(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid room id"})
}
