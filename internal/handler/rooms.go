package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/iliyamo/liveroom-admission/internal/clock"
	"github.com/iliyamo/liveroom-admission/internal/lifecycle"
	"github.com/iliyamo/liveroom-admission/internal/model"
	"github.com/iliyamo/liveroom-admission/internal/repository"
	"github.com/iliyamo/liveroom-admission/internal/service"
)

// RoomHandler serves the public room endpoints.  Nothing here needs a
// session; lifecycle states are resolved on every request.
type RoomHandler struct {
	Rooms  *repository.RoomRepo
	Ledger *service.Ledger
	Clock  clock.Clock
	Log    zerolog.Logger
}

// NewRoomHandler panics when a dependency is missing.
func NewRoomHandler(rooms *repository.RoomRepo, ledger *service.Ledger, clk clock.Clock, log zerolog.Logger) *RoomHandler {
	if rooms == nil || ledger == nil || clk == nil {
		panic("nil dependency passed to NewRoomHandler")
	}
	return &RoomHandler{Rooms: rooms, Ledger: ledger, Clock: clk, Log: log}
}

type roomSummary struct {
	model.Room
	State lifecycle.State `json:"state"`
}

type roomDetail struct {
	model.Room
	State       lifecycle.State  `json:"state"`
	RsvpConfig  model.RsvpConfig `json:"rsvpConfig"`
	ServerNowMs uint64           `json:"serverNowMs"`
	RemainingMs uint64           `json:"remainingMs"`
}

// List handles GET /v1/rooms.  Ended rooms are included so clients can
// show history; ?state=UPCOMING|CURRENT|ENDED filters.
func (h *RoomHandler) List(c echo.Context) error {
	rooms, err := h.Rooms.List(c.Request().Context())
	if err != nil {
		return writeError(c, h.Log, err)
	}
	now := h.Clock.Now()
	out := lo.Map(rooms, func(r model.Room, _ int) roomSummary {
		return roomSummary{Room: r, State: lifecycle.ResolveRoom(r, now)}
	})
	if want := lifecycle.State(c.QueryParam("state")); want != "" {
		out = lo.Filter(out, func(s roomSummary, _ int) bool { return s.State == want })
	}
	return c.JSON(http.StatusOK, echo.Map{"rooms": out, "serverNowMs": clock.NowMs(h.Clock)})
}

// Get handles GET /v1/rooms/:id with the room's counters and countdown.
func (h *RoomHandler) Get(c echo.Context) error {
	id, ok := roomID(c)
	if !ok {
		return invalidRoomID(c)
	}
	ctx := c.Request().Context()
	room, err := h.Rooms.GetByID(ctx, id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	cfg, err := h.Ledger.Get(ctx, id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	st := service.StatusOf(room, h.Clock)
	return c.JSON(http.StatusOK, roomDetail{
		Room:        room,
		State:       st.State,
		RsvpConfig:  cfg,
		ServerNowMs: st.ServerNowMs,
		RemainingMs: st.RemainingMs,
	})
}
