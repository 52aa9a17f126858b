package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/fixlyapp/fixly/internal/model"
	"github.com/fixlyapp/fixly/internal/notification"
)

// NotificationHandler handles notification-related HTTP endpoints
type NotificationHandler struct {
	svc *notification.Service
}

func NewNotificationHandler(svc *notification.Service) *NotificationHandler {
	return &NotificationHandler{svc: svc}
}

// Create godoc
// @Summary Send a notification
// @Description Run the full pipeline: preference gate, channel resolution, persistence, queueing
// @Tags Notifications
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body model.CreateNotificationRequest true "Notification"
// @Success 201 {object} model.Notification
// @Failure 400 {object} model.ErrorResponse
// @Failure 422 {object} model.ErrorResponse
// @Router /notifications [post]
func (h *NotificationHandler) Create(c *gin.Context) {
	var req model.CreateNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	n, err := h.svc.Create(c.Request.Context(), req)
	if reason, ok := notification.Rejected(err); ok {
		c.JSON(http.StatusUnprocessableEntity, model.ErrorResponse{
			Error:   "Notification rejected",
			Message: string(reason),
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "Failed to create notification"})
		return
	}

	c.JSON(http.StatusCreated, n)
}

// List godoc
// @Summary List my notifications
// @Tags Notifications
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size (default 20, max 100)"
// @Param offset query int false "Offset"
// @Param unread_only query bool false "Only unread"
// @Success 200 {object} model.NotificationListResponse
// @Router /notifications [get]
func (h *NotificationHandler) List(c *gin.Context) {
	var req model.ListNotificationsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	userID := c.MustGet("user_id").(uuid.UUID)
	resp, err := h.svc.List(c.Request.Context(), userID, req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "Failed to list notifications"})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Get godoc
// @Summary Get one notification with its delivery records
// @Tags Notifications
// @Produce json
// @Security BearerAuth
// @Param id path string true "Notification ID"
// @Success 200 {object} model.Notification
// @Failure 404 {object} model.ErrorResponse
// @Router /notifications/{id} [get]
func (h *NotificationHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid notification ID"})
		return
	}

	userID := c.MustGet("user_id").(uuid.UUID)
	n, err := h.svc.Get(c.Request.Context(), userID, id)
	if err != nil {
		c.JSON(http.StatusNotFound, model.ErrorResponse{Error: "Notification not found"})
		return
	}

	c.JSON(http.StatusOK, n)
}

// MarkRead godoc
// @Summary Mark a notification as read
// @Tags Notifications
// @Produce json
// @Security BearerAuth
// @Param id path string true "Notification ID"
// @Success 200 {object} map[string]bool
// @Failure 404 {object} model.ErrorResponse
// @Router /notifications/{id}/read [post]
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid notification ID"})
		return
	}

	userID := c.MustGet("user_id").(uuid.UUID)
	if err := h.svc.MarkRead(c.Request.Context(), userID, id); err != nil {
		c.JSON(http.StatusNotFound, model.ErrorResponse{Error: "Notification not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"read": true})
}

// GetPreferences godoc
// @Summary Get my notification preferences
// @Tags Preferences
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.NotificationPreference
// @Router /notifications/preferences [get]
func (h *NotificationHandler) GetPreferences(c *gin.Context) {
	userID := c.MustGet("user_id").(uuid.UUID)
	pref, err := h.svc.GetPreferences(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "Failed to load preferences"})
		return
	}

	c.JSON(http.StatusOK, pref)
}

// UpdatePreferences godoc
// @Summary Update my notification preferences
// @Tags Preferences
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body model.UpdatePreferenceRequest true "Partial preference update"
// @Success 200 {object} model.NotificationPreference
// @Router /notifications/preferences [put]
func (h *NotificationHandler) UpdatePreferences(c *gin.Context) {
	var req model.UpdatePreferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	userID := c.MustGet("user_id").(uuid.UUID)
	pref, err := h.svc.UpdatePreferences(c.Request.Context(), userID, req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "Failed to update preferences"})
		return
	}

	c.JSON(http.StatusOK, pref)
}

// RegisterPushToken godoc
// @Summary Register a push token for this device
// @Tags Preferences
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body model.RegisterPushTokenRequest true "Push token"
// @Success 201 {object} model.PushToken
// @Router /notifications/push-tokens [post]
func (h *NotificationHandler) RegisterPushToken(c *gin.Context) {
	var req model.RegisterPushTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	userID := c.MustGet("user_id").(uuid.UUID)
	token, err := h.svc.RegisterPushToken(c.Request.Context(), userID, req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "Failed to register push token"})
		return
	}

	c.JSON(http.StatusCreated, token)
}

// RemovePushToken godoc
// @Summary Remove a push token
// @Tags Preferences
// @Produce json
// @Security BearerAuth
// @Param token path string true "Push token value"
// @Success 200 {object} map[string]bool
// @Failure 404 {object} model.ErrorResponse
// @Router /notifications/push-tokens/{token} [delete]
func (h *NotificationHandler) RemovePushToken(c *gin.Context) {
	userID := c.MustGet("user_id").(uuid.UUID)
	if err := h.svc.RemovePushToken(c.Request.Context(), userID, c.Param("token")); err != nil {
		c.JSON(http.StatusNotFound, model.ErrorResponse{Error: "Push token not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"removed": true})
}
