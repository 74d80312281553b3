package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/subx-ng/subx-core/internal/model"
)

// Claims is the access token issued by the identity provider.  The
// application role lives in app_metadata; the top-level role claim is
// usually the database role ("authenticated") and is only used when it
// names an application role.
type Claims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Role          string `json:"role"`
	AppMetadata   struct {
		Role string `json:"role"`
	} `json:"app_metadata"`
	jwt.RegisteredClaims
}

// Identity maps the claims to a caller identity.
func (c *Claims) Identity() model.UserIdentity {
	return model.UserIdentity{
		ID:            c.Subject,
		Email:         strings.ToLower(strings.TrimSpace(c.Email)),
		EmailVerified: c.EmailVerified,
		Role:          c.role(),
	}
}

func (c *Claims) role() string {
	for _, r := range []string{c.AppMetadata.Role, c.Role} {
		switch r {
		case model.RoleAdmin, model.RoleDeveloper, model.RoleInvestor:
			return r
		}
	}
	return model.RoleInvestor
}

// JWTAuth validates an HS256 Bearer token and stores the caller identity
// on the context.  A token carrying neither subject nor email is refused.
func JWTAuth(secret string) echo.MiddlewareFunc {
	keyFunc := func(*jwt.Token) (interface{}, error) { return []byte(secret), nil }
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			claims := &Claims{}
			tok, err := jwt.ParseWithClaims(raw, claims, keyFunc, jwt.WithValidMethods([]string{"HS256"}))
			if err != nil || !tok.Valid {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}

			id := claims.Identity()
			if id.Empty() {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "token has no subject"})
			}
			SetIdentity(c, id)
			return next(c)
		}
	}
}
