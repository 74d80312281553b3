package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/subx-ng/subx-core/internal/model"
)

const identityKey = "identity"

// SetIdentity stores the authenticated caller on the request context.
func SetIdentity(c echo.Context, id model.UserIdentity) { c.Set(identityKey, id) }

// Identity returns the caller stored by JWTAuth.
func Identity(c echo.Context) (model.UserIdentity, bool) {
	id, ok := c.Get(identityKey).(model.UserIdentity)
	return id, ok
}

// userID returns the subject for rate-limit keys, or "anon".
func userID(c echo.Context) string {
	if id, ok := Identity(c); ok {
		if id.ID != "" {
			return id.ID
		}
		if e := id.NormalizedEmail(); e != "" {
			return e
		}
	}
	return "anon"
}
