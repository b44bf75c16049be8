package handler

import (
	"net/http"
	"strconv"
	"time"

	"tenant-service/internal/model"
	"tenant-service/pkg/database"
	"tenant-service/pkg/logger"
	"tenant-service/pkg/tenantctx"
	"tenant-service/prometheus"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// ListItems returns the caller's items, paginated. The row isolation
// policy scopes the result to the current tenant; an unset context
// yields an empty page rather than an error.
func ListItems(c echo.Context) error {
	log := logger.FromContext(c)

	userID, ok := c.Get("user_id").(uuid.UUID)
	if !ok {
		log.Error("Failed to get user ID from context")
		prometheus.RecordAuthError("unauthorized_item_access")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	size, _ := strconv.Atoi(c.QueryParam("size"))
	if size < 1 || size > 100 {
		size = 10
	}

	defer prometheus.TrackDBOperation("query")(time.Now())

	db := database.FromEcho(c)

	var total int64
	if err := db.Model(&model.Item{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		log.Error("Failed to count items", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to retrieve items"})
	}

	var items []model.Item
	if err := db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(size).
		Offset((page - 1) * size).
		Find(&items).Error; err != nil {
		log.Error("Failed to retrieve items", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to retrieve items"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"items": items,
		"total": total,
		"page":  page,
		"size":  size,
	})
}

// CreateItem creates an item stamped with the current tenant. Creation
// requires a concrete tenant scope: an unset context has nothing to
// stamp, and the administrative bypass carries no tenant either.
func CreateItem(c echo.Context) error {
	log := logger.FromContext(c)

	userID, ok := c.Get("user_id").(uuid.UUID)
	if !ok {
		log.Error("Failed to get user ID from context")
		prometheus.RecordAuthError("unauthorized_item_creation")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	tenantID, ok := tenantctx.From(c.Request().Context()).TenantID()
	if !ok {
		log.Warn("Item creation without tenant context", zap.String("user_id", userID.String()))
		return c.JSON(http.StatusForbidden, echo.Map{"error": "no tenant context"})
	}

	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Quantity    int    `json:"quantity"`
	}
	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse item creation request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if req.Name == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name is required"})
	}

	item := model.Item{
		Name:        req.Name,
		Description: req.Description,
		Quantity:    req.Quantity,
		UserID:      userID,
		TenantID:    tenantID,
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())
	if err := database.FromEcho(c).Create(&item).Error; err != nil {
		log.Error("Failed to create item", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "item creation failed"})
	}

	log.Info("Item created",
		zap.String("item_id", item.ID.String()),
		zap.String("tenant_id", tenantID.String()))

	return c.JSON(http.StatusCreated, item)
}

// GetItem retrieves a single item. The row policy hides other tenants'
// items, so a foreign id looks identical to a missing one.
func GetItem(c echo.Context) error {
	log := logger.FromContext(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid item ID"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())

	var item model.Item
	if err := database.FromEcho(c).Where("id = ?", id).First(&item).Error; err != nil {
		log.Debug("Item not found", zap.String("item_id", id.String()))
		return c.JSON(http.StatusNotFound, echo.Map{"error": "item not found"})
	}

	return c.JSON(http.StatusOK, item)
}

// DeleteItem removes the caller's item.
func DeleteItem(c echo.Context) error {
	log := logger.FromContext(c)

	userID, ok := c.Get("user_id").(uuid.UUID)
	if !ok {
		log.Error("Failed to get user ID from context")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid item ID"})
	}

	defer prometheus.TrackDBOperation("delete")(time.Now())

	db := database.FromEcho(c)
	var item model.Item
	if err := db.Where("id = ? AND user_id = ?", id, userID).First(&item).Error; err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "item not found or not authorized"})
	}

	if err := db.Delete(&item).Error; err != nil {
		log.Error("Failed to delete item", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "item deletion failed"})
	}

	return c.JSON(http.StatusOK, echo.Map{"message": "Item successfully deleted"})
}
