package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/liveroom-admission/internal/middleware"
	"github.com/iliyamo/liveroom-admission/internal/model"
	"github.com/iliyamo/liveroom-admission/internal/repository"
	"github.com/iliyamo/liveroom-admission/internal/service"
)

// OperatorHandler lets operators schedule rooms, flip the live flag and
// configure registration.  Counter changes always go through the ledger.
type OperatorHandler struct {
	Rooms  *repository.RoomRepo
	Ledger *service.Ledger
	Log    zerolog.Logger
}

// NewOperatorHandler panics when a dependency is missing.
func NewOperatorHandler(rooms *repository.RoomRepo, ledger *service.Ledger, log zerolog.Logger) *OperatorHandler {
	if rooms == nil || ledger == nil {
		panic("nil dependency passed to NewOperatorHandler")
	}
	return &OperatorHandler{Rooms: rooms, Ledger: ledger, Log: log}
}

type upsertRoomRequest struct {
	Title    string `json:"title" validate:"required,max=200"`
	StartMs  uint64 `json:"startMs"`
	EndMs    uint64 `json:"endMs"`
	LiveFlag *bool  `json:"liveFlag"`
}

// UpsertRoom handles PUT /v1/rooms/:id.  The live flag keeps its stored
// value unless the body sets it.
func (h *OperatorHandler) UpsertRoom(c echo.Context) error {
	id, ok := roomID(c)
	if !ok {
		return invalidRoomID(c)
	}
	var body upsertRoomRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := c.Validate(&body); err != nil {
		return err
	}
	if body.StartMs != 0 && body.EndMs != 0 && body.EndMs <= body.StartMs {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "endMs must be after startMs"})
	}

	ctx := c.Request().Context()
	room, err := h.Rooms.GetByID(ctx, id)
	created := errors.Is(err, repository.ErrRoomNotFound)
	if err != nil && !created {
		return writeError(c, h.Log, err)
	}
	if created {
		operator, _ := middleware.UserID(c)
		room = model.Room{ID: id, HostID: operator}
	}
	room.Title = body.Title
	room.Window = model.Window{StartMs: body.StartMs, EndMs: body.EndMs}
	if body.LiveFlag != nil {
		room.LiveFlag = *body.LiveFlag
	}
	if err := h.Rooms.Save(ctx, room); err != nil {
		return writeError(c, h.Log, err)
	}
	h.Log.Info().Str("room_id", id).Bool("created", created).Msg("room saved")

	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	return c.JSON(code, room)
}

type setLiveRequest struct {
	Live *bool `json:"live" validate:"required"`
}

// SetLive handles PATCH /v1/rooms/:id/live.
func (h *OperatorHandler) SetLive(c echo.Context) error {
	id, ok := roomID(c)
	if !ok {
		return invalidRoomID(c)
	}
	var body setLiveRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := c.Validate(&body); err != nil {
		return err
	}
	room, err := h.Rooms.SetLive(c.Request().Context(), id, *body.Live)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, room)
}

type rsvpConfigRequest struct {
	Open     *bool   `json:"open"`
	Capacity *uint32 `json:"capacity" validate:"omitempty,max=1000000"`
}

// ConfigureRsvp handles PATCH /v1/rooms/:id/rsvp-config.  A capacity of
// zero removes the seat cap.
func (h *OperatorHandler) ConfigureRsvp(c echo.Context) error {
	id, ok := roomID(c)
	if !ok {
		return invalidRoomID(c)
	}
	var body rsvpConfigRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := c.Validate(&body); err != nil {
		return err
	}
	if body.Open == nil && body.Capacity == nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "open or capacity is required"})
	}
	ctx := c.Request().Context()
	if _, err := h.Rooms.GetByID(ctx, id); err != nil {
		return writeError(c, h.Log, err)
	}
	cfg, err := h.Ledger.Configure(ctx, id, body.Open, body.Capacity)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, cfg)
}
