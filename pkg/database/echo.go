package database

import (
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

// SessionKey is the echo context key the session middleware stores the
// request's scoped session under.
const SessionKey = "tenant_session"

// FromEcho returns the scoped database handle for the request, bound to
// the request context so statement sync sees the live tenant value.
// Routes outside the session middleware (tenant resolution, health) fall
// back to the shared pool; protected tables still deny there because no
// tenant parameter is set on fresh connections.
func FromEcho(c echo.Context) *gorm.DB {
	if s, ok := c.Get(SessionKey).(*Session); ok {
		return s.DB(c.Request().Context())
	}
	return GetDB().WithContext(c.Request().Context())
}
