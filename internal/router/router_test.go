package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/liveroom-admission/internal/clock"
	"github.com/iliyamo/liveroom-admission/internal/config"
	"github.com/iliyamo/liveroom-admission/internal/handler"
	"github.com/iliyamo/liveroom-admission/internal/repository"
	"github.com/iliyamo/liveroom-admission/internal/service"
	"github.com/iliyamo/liveroom-admission/internal/store"
	"github.com/iliyamo/liveroom-admission/internal/utils"
)

const (
	secret = "router-test"
	t0     = int64(1_700_000_000_000)
)

type app struct {
	e   *echo.Echo
	clk *clock.FakeClock
}

func newApp(t *testing.T) *app {
	t.Helper()
	st, err := store.OpenBadger("", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	log := zerolog.Nop()
	clk := clock.FakeAtMs(t0)
	rooms := repository.NewRoomRepo(st)
	rsvps := repository.NewRsvpRepo(st)
	audience := repository.NewAudienceRepo(st)
	ledger := service.NewLedger(st, 2)
	admission := service.NewAdmission(rooms, rsvps, ledger, nil, clk, log)
	joiner := service.NewJoiner(rooms, audience, nil, clk, log)
	agg := service.NewAggregator(rooms, rsvps, audience, clk, time.Second, log)

	e := echo.New()
	RegisterRoutes(e)
	RegisterPublic(e, handler.NewRoomHandler(rooms, ledger, clk, log), config.CacheConfig{}, nil, log)
	RegisterViewer(e, handler.NewViewerHandler(rooms, admission, joiner, agg, service.GateConfig{}, clk, log), secret, config.RateLimitConfig{}, nil, log)
	RegisterOperator(e, handler.NewOperatorHandler(rooms, ledger, log), secret)
	return &app{e: e, clk: clk}
}

func bearer(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, userID, role, utils.Claims{Name: userID + "-name"}, 60)
	require.NoError(t, err)
	return tok.Token
}

func (a *app) call(t *testing.T, method, target, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	var out map[string]any
	if strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func roomBody(startMs, endMs int64) string {
	b, _ := json.Marshal(map[string]any{"title": "Spring drop", "startMs": startMs, "endMs": endMs})
	return string(b)
}

func TestHealthz(t *testing.T) {
	a := newApp(t)
	rec, body := a.call(t, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", body["status"])
}

func TestOperatorRoutesNeedOperatorRole(t *testing.T) {
	a := newApp(t)
	rec, _ := a.call(t, http.MethodPut, "/v1/rooms/r1", bearer(t, "v1", utils.RoleViewer), roomBody(t0+60_000, 0))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = a.call(t, http.MethodPut, "/v1/rooms/r1", "", roomBody(t0+60_000, 0))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	op := bearer(t, "op", utils.RoleOperator)
	rec, body := a.call(t, http.MethodPut, "/v1/rooms/r1", op, roomBody(t0+60_000, 0))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "op", body["hostId"])

	rec, _ = a.call(t, http.MethodPut, "/v1/rooms/r1", op, roomBody(t0+60_000, t0+30_000))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = a.call(t, http.MethodPut, "/v1/rooms/r1", op, `{"startMs":1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = a.call(t, http.MethodPatch, "/v1/rooms/nope/live", op, `{"live":true}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegistrationFlow(t *testing.T) {
	a := newApp(t)
	op := bearer(t, "op", utils.RoleOperator)
	rec, _ := a.call(t, http.MethodPut, "/v1/rooms/r1", op, roomBody(t0+60_000, t0+3_600_000))
	require.Equal(t, http.StatusCreated, rec.Code)

	alice, bob, carol := bearer(t, "alice", utils.RoleViewer), bearer(t, "bob", utils.RoleViewer), bearer(t, "carol", utils.RoleViewer)

	rec, body := a.call(t, http.MethodPost, "/v1/rooms/r1/rsvp", alice, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "REGISTERED", body["status"])

	rec, body = a.call(t, http.MethodPost, "/v1/rooms/r1/rsvp", alice, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, body["replayed"])

	_, _ = a.call(t, http.MethodPost, "/v1/rooms/r1/rsvp", bob, "")
	rec, body = a.call(t, http.MethodPost, "/v1/rooms/r1/rsvp", carol, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "WAITLISTED", body["status"])

	rec, body = a.call(t, http.MethodGet, "/v1/rooms/r1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "UPCOMING", body["state"])
	cfg := body["rsvpConfig"].(map[string]any)
	require.EqualValues(t, 2, cfg["bookedCount"])
	require.EqualValues(t, 1, cfg["waitlistCount"])

	rec, _ = a.call(t, http.MethodPatch, "/v1/rooms/r1/rsvp-config", op, `{"open":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, body = a.call(t, http.MethodPost, "/v1/rooms/r1/rsvp", bearer(t, "dave", utils.RoleViewer), "")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "REFUSED", body["status"])

	rec, body = a.call(t, http.MethodDelete, "/v1/rooms/r1/rsvp", alice, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "REGISTERED", body["previous"])
	rec, _ = a.call(t, http.MethodDelete, "/v1/rooms/r1/rsvp", alice, "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = a.call(t, http.MethodGet, "/v1/my-rooms", bob, "")
	require.Equal(t, http.StatusOK, rec.Code)
	yours := body["yours"].([]any)
	require.Len(t, yours, 1)
	require.Equal(t, "r1", yours[0].(map[string]any)["id"])
}

func TestJoinWaitsForRoomToOpen(t *testing.T) {
	a := newApp(t)
	op := bearer(t, "op", utils.RoleOperator)
	_, _ = a.call(t, http.MethodPut, "/v1/rooms/r1", op, roomBody(t0+60_000, t0+3_600_000))
	viewer := bearer(t, "v1", utils.RoleViewer)

	rec, body := a.call(t, http.MethodGet, "/v1/rooms/r1/gate", viewer, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 60_000, body["remainingMs"])

	rec, _ = a.call(t, http.MethodPost, "/v1/rooms/r1/join", viewer, "")
	require.Equal(t, http.StatusLocked, rec.Code)

	a.clk.Advance(time.Minute)
	rec, body = a.call(t, http.MethodPost, "/v1/rooms/r1/join", viewer, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, body["sessionKey"])

	rec, _ = a.call(t, http.MethodPost, "/v1/rooms/r1/rsvp", viewer, "")
	require.Equal(t, http.StatusConflict, rec.Code)

	a.clk.Advance(time.Hour)
	rec, body = a.call(t, http.MethodPost, "/v1/rooms/r1/join", viewer, "")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "ENDED", body["state"])
}

func TestGateStreamAdmitsOpenRoom(t *testing.T) {
	a := newApp(t)
	op := bearer(t, "op", utils.RoleOperator)
	_, _ = a.call(t, http.MethodPut, "/v1/rooms/r1", op, `{"title":"Live now","liveFlag":true}`)

	rec, _ := a.call(t, http.MethodGet, "/v1/rooms/r1/gate/stream", bearer(t, "v1", utils.RoleViewer), "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))
	require.Contains(t, rec.Body.String(), "event: unlocked\n")
	require.Contains(t, rec.Body.String(), "event: admitted\n")
}

func TestPublicRoomList(t *testing.T) {
	a := newApp(t)
	op := bearer(t, "op", utils.RoleOperator)
	_, _ = a.call(t, http.MethodPut, "/v1/rooms/soon", op, roomBody(t0+60_000, 0))
	_, _ = a.call(t, http.MethodPut, "/v1/rooms/over", op, roomBody(t0-120_000, t0-60_000))

	rec, body := a.call(t, http.MethodGet, "/v1/rooms", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, body["rooms"].([]any), 2)

	_, body = a.call(t, http.MethodGet, "/v1/rooms?state=ENDED", "", "")
	rooms := body["rooms"].([]any)
	require.Len(t, rooms, 1)
	require.Equal(t, "over", rooms[0].(map[string]any)["id"])

	rec, _ = a.call(t, http.MethodGet, "/v1/rooms/missing", "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGateStreamCountsDownThenAdmits(t *testing.T) {
	a := newApp(t)
	op := bearer(t, "op", utils.RoleOperator)
	rec, _ := a.call(t, http.MethodPut, "/v1/rooms/r1", op, roomBody(t0+3_000, t0+3_600_000))
	require.Equal(t, http.StatusCreated, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/rooms/r1/gate/stream?access_token="+bearer(t, "v1", utils.RoleViewer), nil)
	stream := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.e.ServeHTTP(stream, req)
	}()

	require.Eventually(t, func() bool { return a.clk.Tickers() > 0 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		select {
		case <-done:
			return true
		default:
			a.clk.Advance(time.Second)
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)

	body := stream.Body.String()
	for _, ev := range []string{"armed", "expired", "unlocked", "admitted"} {
		require.Contains(t, body, "event: "+ev+"\n")
	}
}
