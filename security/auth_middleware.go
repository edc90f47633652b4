package security

import (
	"net/http"
	"strings"

	"smart-queue/internal/session"
	"smart-queue/models"

	"github.com/labstack/echo/v5"
)

// Context keys set by Authenticate.
const (
	CtxUserID = "user_id"
	CtxRole   = "role"
	CtxClaims = "claims"
)

func detail(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]string{"detail": msg})
}

// bearerToken reads the Authorization header, falling back to the token
// query parameter used by websocket clients.
func bearerToken(c echo.Context) string {
	if h := c.Request().Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return c.QueryParam("token")
}

// Authenticate verifies the access token and stores its claims on the
// context. Requests without a token pass through anonymously.
func (t *TokenIssuer) Authenticate() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := bearerToken(c)
			if token == "" {
				return next(c)
			}
			claims, err := t.Verify(token, TokenAccess)
			if err != nil {
				return detail(c, http.StatusUnauthorized, "Given token not valid for any token type")
			}
			c.Set(CtxClaims, claims)
			c.Set(CtxUserID, claims.UserID)
			c.Set(CtxRole, models.Role(claims.Role))
			return next(c)
		}
	}
}

// RequireRole rejects anonymous requests with 401 and requests from any
// other role with 403. It must run after Authenticate.
func RequireRole(roles ...models.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role, ok := c.Get(CtxRole).(models.Role)
			if !ok {
				return detail(c, http.StatusUnauthorized, "Authentication credentials were not provided.")
			}
			if len(roles) == 0 {
				return next(c)
			}
			for _, r := range roles {
				if r == role {
					return next(c)
				}
			}
			return detail(c, http.StatusForbidden, "You do not have permission to perform this action.")
		}
	}
}

// CurrentUser returns the authenticated caller's id and role.
func CurrentUser(c echo.Context) (int64, models.Role, bool) {
	claims, ok := c.Get(CtxClaims).(*session.Claims)
	if !ok {
		return 0, "", false
	}
	return claims.UserID, models.Role(claims.Role), true
}
