package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/commonshq/commons-backend/internal/notification"
)

type notificationPayload struct {
	NotificationID   string `json:"notification_id"`
	SenderID         string `json:"sender_id,omitempty"`
	Type             string `json:"type"`
	Title            string `json:"title"`
	Message          string `json:"message,omitempty"`
	Priority         string `json:"priority"`
	IsRead           bool   `json:"is_read"`
	CreatedAtSeconds int64  `json:"created_at_s"`
}

func notificationToPayload(row *notification.Notification) notificationPayload {
	return notificationPayload{
		NotificationID:   row.NotificationID,
		SenderID:         row.SenderID,
		Type:             row.Type,
		Title:            row.Title,
		Message:          row.Message,
		Priority:         string(row.Priority),
		IsRead:           row.IsRead,
		CreatedAtSeconds: row.CreatedAtSeconds,
	}
}

func (h *httpHandler) handleNotificationList(c *gin.Context) {
	filters := notification.ListFilters{}
	if raw := strings.TrimSpace(c.Query("type")); raw != "" {
		filters.Type = &raw
	}
	if raw := strings.TrimSpace(c.Query("is_read")); raw != "" {
		isRead := raw == "true"
		filters.IsRead = &isRead
	}
	if raw := strings.TrimSpace(c.Query("priority")); raw != "" {
		priority := notification.Priority(raw)
		filters.Priority = &priority
	}
	page, pageSize := parsePagination(c)
	rows, err := h.notifications.ListFor(c.Request.Context(), requestUserID(c), filters, page, pageSize)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	payload := make([]notificationPayload, 0, len(rows))
	for i := range rows {
		payload = append(payload, notificationToPayload(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"notifications": payload})
}

func (h *httpHandler) handleNotificationRead(c *gin.Context) {
	err := h.notifications.MarkRead(c.Request.Context(), c.Param("notification_id"), requestUserID(c))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "read"})
}

func (h *httpHandler) handleNotificationReadAll(c *gin.Context) {
	if err := h.notifications.MarkAllRead(c.Request.Context(), requestUserID(c)); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "read"})
}

func (h *httpHandler) handleNotificationUnreadCount(c *gin.Context) {
	count, err := h.notifications.UnreadCount(c.Request.Context(), requestUserID(c))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": count})
}

type preferencePayload struct {
	EventType string `json:"event_type"`
	Email     bool   `json:"email"`
	Push      bool   `json:"push"`
	InApp     bool   `json:"in_app"`
}

func (h *httpHandler) handlePreferenceSet(c *gin.Context) {
	var request preferencePayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.EventType) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	err := h.notifications.SetPreference(c.Request.Context(), notification.Preference{
		UserID:    requestUserID(c),
		EventType: request.EventType,
		Email:     request.Email,
		Push:      request.Push,
		InApp:     request.InApp,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved"})
}

func (h *httpHandler) handlePreferenceList(c *gin.Context) {
	rows, err := h.notifications.PreferencesFor(c.Request.Context(), requestUserID(c))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	payload := make([]preferencePayload, 0, len(rows))
	for _, row := range rows {
		payload = append(payload, preferencePayload{
			EventType: row.EventType,
			Email:     row.Email,
			Push:      row.Push,
			InApp:     row.InApp,
		})
	}
	c.JSON(http.StatusOK, gin.H{"preferences": payload})
}
