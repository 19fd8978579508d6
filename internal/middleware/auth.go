package middleware

import "github.com/labstack/echo/v4"

const (
	UserIDKey    = "user_id"
	userIDHeader = "X-User-Id"
	demoUserID   = "demo-user-001"
)

// sample auth middleware: trusts the X-User-Id header set by the gateway in
// front of this service and falls back to the demo user for local runs.
// later we can expand this to jwt auth or session auth
func AuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := c.Request().Header.Get(userIDHeader)
			if userID == "" {
				userID = demoUserID
			}
			c.Set(UserIDKey, userID)
			return next(c)
		}
	}
}

func UserID(c echo.Context) string {
	userID, _ := c.Get(UserIDKey).(string)
	return userID
}
