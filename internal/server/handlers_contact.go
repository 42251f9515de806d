package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/commonshq/commons-backend/internal/contact"
)

type contactPayload struct {
	ContactID          string `json:"contact_id"`
	PeerID             string `json:"peer_id"`
	Status             string `json:"status"`
	InitiatorID        string `json:"initiator_id"`
	Note               string `json:"note,omitempty"`
	RequestedAtSeconds int64  `json:"requested_at_s"`
	RespondedAtSeconds int64  `json:"responded_at_s,omitempty"`
}

func contactToPayload(row *contact.Contact, viewerID string) contactPayload {
	return contactPayload{
		ContactID:          row.ContactID,
		PeerID:             row.PeerOf(viewerID),
		Status:             string(row.Status),
		InitiatorID:        row.InitiatorID,
		Note:               row.Note,
		RequestedAtSeconds: row.RequestedAtSeconds,
		RespondedAtSeconds: row.RespondedAtSeconds,
	}
}

type contactRequestPayload struct {
	RecipientID string `json:"recipient_id"`
	Note        string `json:"note"`
}

func (h *httpHandler) handleContactRequest(c *gin.Context) {
	var request contactRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.RecipientID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	userID := requestUserID(c)
	row, err := h.contacts.Request(c.Request.Context(), userID, request.RecipientID, request.Note)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, contactToPayload(row, userID))
}

type contactRespondPayload struct {
	Action string `json:"action"`
}

func (h *httpHandler) handleContactRespond(c *gin.Context) {
	var request contactRespondPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	action := contact.RespondAction(strings.ToLower(strings.TrimSpace(request.Action)))
	switch action {
	case contact.ActionAccept, contact.ActionDecline, contact.ActionBlock:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_action"})
		return
	}
	userID := requestUserID(c)
	row, err := h.contacts.Respond(c.Request.Context(), c.Param("contact_id"), userID, action)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, contactToPayload(row, userID))
}

type contactTargetPayload struct {
	UserID string `json:"user_id"`
}

func (h *httpHandler) handleContactBlock(c *gin.Context) {
	var request contactTargetPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	userID := requestUserID(c)
	row, err := h.contacts.Block(c.Request.Context(), userID, request.UserID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, contactToPayload(row, userID))
}

func (h *httpHandler) handleContactUnblock(c *gin.Context) {
	var request contactTargetPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.contacts.Unblock(c.Request.Context(), requestUserID(c), request.UserID); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unblocked"})
}

func (h *httpHandler) handleContactRemove(c *gin.Context) {
	if err := h.contacts.Remove(c.Request.Context(), requestUserID(c), c.Param("user_id")); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

func (h *httpHandler) handleContactList(c *gin.Context) {
	userID := requestUserID(c)
	status := contact.Status(strings.ToLower(strings.TrimSpace(c.Query("status"))))
	if status == "" {
		status = contact.StatusAccepted
	}
	page, pageSize := parsePagination(c)
	rows, err := h.contacts.ListContacts(c.Request.Context(), userID, status, page, pageSize)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	payload := make([]contactPayload, 0, len(rows))
	for i := range rows {
		payload = append(payload, contactToPayload(&rows[i], userID))
	}
	c.JSON(http.StatusOK, gin.H{"contacts": payload})
}

func (h *httpHandler) handleContactStatus(c *gin.Context) {
	status, err := h.contacts.StatusOf(c.Request.Context(), requestUserID(c), c.Param("user_id"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(status)})
}
