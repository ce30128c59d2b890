package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/liveroom-admission/internal/config"
	"github.com/iliyamo/liveroom-admission/internal/utils"
)

const testSecret = "test-secret"

func token(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(testSecret, userID, role, utils.Claims{Name: "Ana", Phone: "+100"}, 5)
	require.NoError(t, err)
	return tok.Token
}

func newEcho(roles ...string) *echo.Echo {
	e := echo.New()
	e.GET("/who", func(c echo.Context) error {
		p, ok := Profile(c)
		if !ok {
			return c.NoContent(http.StatusInternalServerError)
		}
		return c.JSON(http.StatusOK, p)
	}, JWTAuth(testSecret), RequireRole(roles...))
	return e
}

func do(e *echo.Echo, target, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuth(t *testing.T) {
	e := newEcho(utils.RoleViewer, utils.RoleOperator)

	rec := do(e, "/who", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(e, "/who", "garbage")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(e, "/who", token(t, "u1", utils.RoleViewer))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"userId":"u1","displayName":"Ana","phone":"+100"}`, rec.Body.String())

	rec = do(e, "/who?access_token="+token(t, "u2", utils.RoleOperator), "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireRole(t *testing.T) {
	e := newEcho(utils.RoleOperator)
	require.Equal(t, http.StatusForbidden, do(e, "/who", token(t, "u1", utils.RoleViewer)).Code)
	require.Equal(t, http.StatusOK, do(e, "/who", token(t, "u1", utils.RoleOperator)).Code)
}

func TestCachedResponseReplay(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/v1/rooms", nil), rec)

	r := cachedResponse{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": {"application/json"}, "Content-Length": {"999"}},
		Body:   []byte(`{"a":1}`),
	}
	require.NoError(t, r.replay(c))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	require.Empty(t, rec.Header().Get("Content-Length"))
	require.Equal(t, `{"a":1}`, rec.Body.String())
}

func TestCaptureWriterDropsOversizedBodies(t *testing.T) {
	rec := httptest.NewRecorder()
	cw := &captureWriter{ResponseWriter: rec, status: http.StatusOK, limit: 4}
	_, _ = cw.Write([]byte("ab"))
	require.False(t, cw.over)
	_, _ = cw.Write([]byte("cdef"))
	require.True(t, cw.over)
	require.Zero(t, cw.buf.Len())
	require.Equal(t, "abcdef", rec.Body.String())
}

func TestBuildRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/rooms/r1/rsvp", nil)
	req.Header.Set(echo.HeaderXRealIP, "10.0.0.1")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/rooms/:id/rsvp")
	c.Set(ctxUserID, "u1")

	require.Equal(t, "rl:user:u1:route:POST /v1/rooms/:id/rsvp",
		buildRateKey(config.RateLimitConfig{Prefix: "rl", KeyStrategy: "user_route"}, c))
	require.Equal(t, "rl:ip:10.0.0.1",
		buildRateKey(config.RateLimitConfig{Prefix: "rl", KeyStrategy: "ip"}, c))
}

func TestDisabledMiddlewarePassThrough(t *testing.T) {
	e := echo.New()
	e.GET("/x", func(c echo.Context) error { return c.String(http.StatusOK, "ok") },
		NewTokenBucket(config.RateLimitConfig{Enabled: true}, nil, zerolog.Nop()),
		NewRedisCache(config.CacheConfig{Enabled: true}, nil, zerolog.Nop()))

	rec := do(e, "/x", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get("X-Cache"))
}
