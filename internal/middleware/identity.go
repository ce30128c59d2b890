package middleware

// identity.go exposes what JWTAuth stored in the echo context.

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/liveroom-admission/internal/model"
	"github.com/iliyamo/liveroom-admission/internal/utils"
)

const (
	ctxUserID = "user_id"
	ctxRole   = "role"
	ctxClaims = "claims"
)

// UserID returns the authenticated user id.
func UserID(c echo.Context) (string, bool) {
	s, ok := c.Get(ctxUserID).(string)
	return s, ok && s != ""
}

// Role returns the authenticated role.
func Role(c echo.Context) string {
	s, _ := c.Get(ctxRole).(string)
	return s
}

// Profile builds the caller's profile from the token claims.  The display
// name falls back to the user id.
func Profile(c echo.Context) (model.Profile, bool) {
	claims, ok := c.Get(ctxClaims).(*utils.Claims)
	if !ok || claims.Subject == "" {
		return model.Profile{}, false
	}
	name := claims.Name
	if name == "" {
		name = claims.Subject
	}
	return model.Profile{
		UserID:      claims.Subject,
		DisplayName: name,
		Phone:       claims.Phone,
		Email:       claims.Email,
	}, true
}

func currentUserID(c echo.Context) string {
	if id, ok := UserID(c); ok {
		return id
	}
	return "anon"
}
