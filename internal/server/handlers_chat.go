package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/commonshq/commons-backend/internal/chat"
)

type channelPayload struct {
	ChannelID           string `json:"channel_id"`
	Kind                string `json:"kind"`
	Name                string `json:"name,omitempty"`
	CreatorID           string `json:"creator_id"`
	MaxParticipants     int    `json:"max_participants"`
	AllowFileSharing    bool   `json:"allow_file_sharing"`
	AllowCalls          bool   `json:"allow_calls"`
	LastActivitySeconds int64  `json:"last_activity_s"`
	CreatedAtSeconds    int64  `json:"created_at_s"`
}

func channelToPayload(row *chat.Channel) channelPayload {
	return channelPayload{
		ChannelID:           row.ChannelID,
		Kind:                string(row.Kind),
		Name:                row.Name,
		CreatorID:           row.CreatorID,
		MaxParticipants:     row.MaxParticipants,
		AllowFileSharing:    row.AllowFileSharing,
		AllowCalls:          row.AllowCalls,
		LastActivitySeconds: row.LastActivitySeconds,
		CreatedAtSeconds:    row.CreatedAtSeconds,
	}
}

type messagePayload struct {
	MessageID        string `json:"message_id"`
	ChannelID        string `json:"channel_id"`
	AuthorID         string `json:"author_id"`
	Body             string `json:"body"`
	IsDeleted        bool   `json:"is_deleted"`
	CreatedAtSeconds int64  `json:"created_at_s"`
	EditedAtSeconds  int64  `json:"edited_at_s,omitempty"`
}

func messageToPayload(row *chat.Message) messagePayload {
	return messagePayload{
		MessageID:        row.MessageID,
		ChannelID:        row.ChannelID,
		AuthorID:         row.AuthorID,
		Body:             row.Body,
		IsDeleted:        row.IsDeleted,
		CreatedAtSeconds: row.CreatedAtSeconds,
		EditedAtSeconds:  row.EditedAtSeconds,
	}
}

type privateChannelPayload struct {
	UserID string `json:"user_id"`
}

func (h *httpHandler) handleChannelPrivate(c *gin.Context) {
	var request privateChannelPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	row, err := h.chats.GetOrCreatePrivate(c.Request.Context(), requestUserID(c), request.UserID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, channelToPayload(row))
}

type groupChannelPayload struct {
	Name         string         `json:"name"`
	Participants []string       `json:"participants"`
	Settings     *chat.Settings `json:"settings"`
}

func (h *httpHandler) handleChannelGroup(c *gin.Context) {
	var request groupChannelPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	row, err := h.chats.CreateGroup(c.Request.Context(), requestUserID(c), request.Name, request.Participants, request.Settings)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, channelToPayload(row))
}

func (h *httpHandler) handleChannelList(c *gin.Context) {
	rows, err := h.chats.ListChannels(c.Request.Context(), requestUserID(c))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	payload := make([]channelPayload, 0, len(rows))
	for i := range rows {
		payload = append(payload, channelToPayload(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"channels": payload})
}

type messageSendPayload struct {
	Body        string   `json:"body"`
	Attachments []string `json:"attachments"`
}

func (h *httpHandler) handleMessageSend(c *gin.Context) {
	var request messageSendPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	// Attachment-only messages are valid; the service rejects truly empty ones.
	if strings.TrimSpace(request.Body) == "" && len(request.Attachments) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	row, err := h.chats.Send(c.Request.Context(), c.Param("channel_id"), requestUserID(c), request.Body, request.Attachments)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, messageToPayload(row))
}

func (h *httpHandler) handleMessageList(c *gin.Context) {
	page, pageSize := parsePagination(c)
	rows, err := h.chats.ListMessages(c.Request.Context(), c.Param("channel_id"), requestUserID(c), page, pageSize)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	payload := make([]messagePayload, 0, len(rows))
	for i := range rows {
		payload = append(payload, messageToPayload(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"messages": payload})
}

type markReadPayload struct {
	MessageID string `json:"message_id"`
}

func (h *httpHandler) handleMarkRead(c *gin.Context) {
	var request markReadPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	err := h.chats.MarkRead(c.Request.Context(), c.Param("channel_id"), requestUserID(c), request.MessageID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "read"})
}

func (h *httpHandler) handleUnreadCount(c *gin.Context) {
	count, err := h.chats.UnreadCount(c.Request.Context(), c.Param("channel_id"), requestUserID(c))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": count})
}

type participantsPayload struct {
	UserIDs []string `json:"user_ids"`
}

func (h *httpHandler) handleAddParticipants(c *gin.Context) {
	var request participantsPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.UserIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	err := h.chats.AddParticipants(c.Request.Context(), c.Param("channel_id"), requestUserID(c), request.UserIDs)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "added"})
}

func (h *httpHandler) handleChannelLeave(c *gin.Context) {
	if err := h.chats.Leave(c.Request.Context(), c.Param("channel_id"), requestUserID(c)); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "left"})
}

func (h *httpHandler) handleMessageDelete(c *gin.Context) {
	if err := h.chats.DeleteMessage(c.Request.Context(), c.Param("message_id"), requestUserID(c)); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
