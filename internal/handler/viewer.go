package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/liveroom-admission/internal/clock"
	"github.com/iliyamo/liveroom-admission/internal/logging"
	"github.com/iliyamo/liveroom-admission/internal/middleware"
	"github.com/iliyamo/liveroom-admission/internal/model"
	"github.com/iliyamo/liveroom-admission/internal/repository"
	"github.com/iliyamo/liveroom-admission/internal/service"
)

// ViewerHandler serves the authenticated viewer endpoints: registration,
// joining, the countdown gate and the personal catalog.  JWTAuth and
// RequireRole run before every method.
type ViewerHandler struct {
	Rooms      *repository.RoomRepo
	Admission  *service.Admission
	Joiner     *service.Joiner
	Aggregator *service.Aggregator
	GateConfig service.GateConfig
	Clock      clock.Clock
	Validator  *Validator
	Log        zerolog.Logger
}

// NewViewerHandler panics when a dependency is missing.
func NewViewerHandler(rooms *repository.RoomRepo, admission *service.Admission, joiner *service.Joiner, agg *service.Aggregator, gate service.GateConfig, clk clock.Clock, log zerolog.Logger) *ViewerHandler {
	if rooms == nil || admission == nil || joiner == nil || agg == nil || clk == nil {
		panic("nil dependency passed to NewViewerHandler")
	}
	return &ViewerHandler{
		Rooms:      rooms,
		Admission:  admission,
		Joiner:     joiner,
		Aggregator: agg,
		GateConfig: gate,
		Clock:      clk,
		Validator:  NewValidator(),
		Log:        log,
	}
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
}

// Register handles POST /v1/rooms/:id/rsvp.  Only upcoming rooms accept
// registrations.  A closed room answers 409 with status REFUSED.
func (h *ViewerHandler) Register(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := roomID(c)
	if !ok {
		return invalidRoomID(c)
	}
	res, err := h.Admission.RegisterRoom(c.Request().Context(), id, userID)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	if res.Outcome == model.OutcomeRefused {
		return c.JSON(http.StatusConflict, echo.Map{
			"status": res.Outcome,
			"error":  "registration is closed for this room",
		})
	}
	code := http.StatusCreated
	if res.Replayed {
		code = http.StatusOK
	}
	return c.JSON(code, res)
}

// Cancel handles DELETE /v1/rooms/:id/rsvp.
func (h *ViewerHandler) Cancel(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := roomID(c)
	if !ok {
		return invalidRoomID(c)
	}
	ctx := c.Request().Context()
	room, err := h.Rooms.GetByID(ctx, id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	prev, err := h.Admission.Cancel(ctx, room, userID)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"status": model.RsvpCancelled, "previous": prev})
}

// Join handles POST /v1/rooms/:id/join.  The room is re-read from the
// store; an upcoming room answers 423 so the client returns to its
// countdown.
func (h *ViewerHandler) Join(c echo.Context) error {
	profile, ok := middleware.Profile(c)
	if !ok {
		return unauthorized(c)
	}
	if err := h.Validator.ValidateStruct(profile); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "incomplete profile"})
	}
	id, ok := roomID(c)
	if !ok {
		return invalidRoomID(c)
	}
	res, err := h.Joiner.Enter(c.Request().Context(), id, profile)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Gate handles GET /v1/rooms/:id/gate, the server's clock and countdown
// for a room.  Clients use it to re-anchor local timers.
func (h *ViewerHandler) Gate(c echo.Context) error {
	id, ok := roomID(c)
	if !ok {
		return invalidRoomID(c)
	}
	room, err := h.Rooms.GetByID(c.Request().Context(), id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, service.StatusOf(room, h.Clock))
}

// GateStream handles GET /v1/rooms/:id/gate/stream.  It runs a Countdown
// Gate for the caller and streams its events.  Once the store confirms
// the room is current the viewer is joined and an "admitted" event
// carries the session key.
func (h *ViewerHandler) GateStream(c echo.Context) error {
	profile, ok := middleware.Profile(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := roomID(c)
	if !ok {
		return invalidRoomID(c)
	}
	ctx := c.Request().Context()
	room, err := h.Rooms.GetByID(ctx, id)
	if err != nil {
		return writeError(c, h.Log, err)
	}

	log := h.Log.With().Str(logging.FieldRoomID, id).Str(logging.FieldUserID, profile.UserID).Logger()
	gate := service.NewGate(h.Rooms, h.Clock, h.GateConfig, log)

	startSSE(c)
	err = gate.Run(ctx, room, func(ev service.GateEvent) {
		if werr := writeSSE(c, string(ev.Kind), ev); werr != nil {
			log.Debug().Err(werr).Msg("gate stream write failed")
		}
	})
	if err != nil {
		if ctx.Err() == nil {
			_ = writeSSE(c, "closed", echo.Map{"error": err.Error()})
		}
		return nil
	}

	res, err := h.Joiner.Join(ctx, id, profile)
	if err != nil {
		log.Warn().Err(err).Msg("join after unlock failed")
		_ = writeSSE(c, "error", echo.Map{"error": "join failed, please retry"})
		return nil
	}
	_ = writeSSE(c, "admitted", res)
	return nil
}

// MyRooms handles GET /v1/my-rooms.
func (h *ViewerHandler) MyRooms(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	b, err := h.Aggregator.Snapshot(c.Request().Context(), userID)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, b)
}

// MyRoomsStream handles GET /v1/my-rooms/stream, pushing a "buckets"
// event whenever the caller's catalog changes.
func (h *ViewerHandler) MyRoomsStream(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	ctx := c.Request().Context()

	updates := make(chan service.Buckets, 1)
	unsub, err := h.Aggregator.Watch(ctx, userID, func(b service.Buckets) {
		// Keep only the newest snapshot when the client is slow.
		select {
		case <-updates:
		default:
		}
		updates <- b
	})
	if err != nil {
		return writeError(c, h.Log, err)
	}
	defer unsub()

	startSSE(c)
	for {
		select {
		case <-ctx.Done():
			return nil
		case b := <-updates:
			if err := writeSSE(c, "buckets", b); err != nil {
				return nil
			}
		}
	}
}
