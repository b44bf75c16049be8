package handler

import (
	"net/http"

	"tenant-service/pkg/database"
	"tenant-service/prometheus"

	"github.com/labstack/echo/v4"
)

// HealthCheck handles the health check endpoint
func HealthCheck(c echo.Context) error {
	status := "healthy"
	code := http.StatusOK

	if sqlDB, err := database.GetDB().DB(); err != nil || sqlDB.PingContext(c.Request().Context()) != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	return c.JSON(code, echo.Map{
		"status":  status,
		"service": "tenant-service",
	})
}

// MetricsHandler exposes Prometheus metrics
func MetricsHandler(c echo.Context) error {
	prometheus.GetPrometheusHandler().ServeHTTP(c.Response(), c.Request())
	return nil
}
