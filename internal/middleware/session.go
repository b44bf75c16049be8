package middleware

import (
	"net/http"

	"tenant-service/pkg/database"
	"tenant-service/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// SessionMiddleware pins a scoped database session to the request. The
// session syncs the tenant parameter before every statement, so it must
// run after AuthMiddleware has installed the tenant context.
func SessionMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		sess, err := database.NewSession(c.Request().Context())
		if err != nil {
			logger.FromContext(c).Error("Failed to open scoped session", zap.Error(err))
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "database unavailable"})
		}
		defer sess.Close()

		c.Set(database.SessionKey, sess)
		return next(c)
	}
}
