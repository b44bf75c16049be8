package handler

import (
	"net/http"
	"time"

	"tenant-service/internal/model"
	"tenant-service/pkg/database"
	"tenant-service/pkg/logger"
	"tenant-service/pkg/tenantctx"
	"tenant-service/prometheus"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// ResolveTenant looks a tenant up by slug. The tenants table is exempt
// from the row isolation policy, so resolution works before any tenant
// context exists.
func ResolveTenant(c echo.Context) error {
	log := logger.FromContext(c)

	slug := c.Param("slug")
	if slug == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "slug is required"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())

	var tenant model.Tenant
	if err := database.GetDB().Where("slug = ? AND active = ?", slug, true).First(&tenant).Error; err != nil {
		log.Debug("Tenant not found", zap.String("slug", slug))
		return c.JSON(http.StatusNotFound, echo.Map{"error": "tenant not found"})
	}

	return c.JSON(http.StatusOK, tenant)
}

// CurrentTenant returns the tenant the request is scoped to.
func CurrentTenant(c echo.Context) error {
	log := logger.FromContext(c)

	tenantID, ok := tenantctx.From(c.Request().Context()).TenantID()
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "no tenant context"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())

	var tenant model.Tenant
	if err := database.GetDB().Where("id = ?", tenantID).First(&tenant).Error; err != nil {
		log.Error("Tenant missing for active context", zap.String("tenant_id", tenantID.String()))
		return c.JSON(http.StatusNotFound, echo.Map{"error": "tenant not found"})
	}

	return c.JSON(http.StatusOK, tenant)
}
