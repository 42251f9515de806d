package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/commonshq/commons-backend/internal/call"
)

type sessionPayload struct {
	SessionID        string `json:"session_id"`
	Scope            string `json:"scope"`
	ScopeTargetID    string `json:"scope_target_id"`
	InitiatorID      string `json:"initiator_id"`
	Status           string `json:"status"`
	MaxParticipants  int    `json:"max_participants"`
	ParticipantCount int    `json:"participant_count"`
	PeakParticipants int    `json:"peak_participants"`
	StartedAtSeconds int64  `json:"started_at_s,omitempty"`
	EndedAtSeconds   int64  `json:"ended_at_s,omitempty"`
	DurationSeconds  int64  `json:"duration_s,omitempty"`
}

func sessionToPayload(row *call.Session) sessionPayload {
	return sessionPayload{
		SessionID:        row.SessionID,
		Scope:            string(row.Scope),
		ScopeTargetID:    row.ScopeTargetID,
		InitiatorID:      row.InitiatorID,
		Status:           string(row.Status),
		MaxParticipants:  row.MaxParticipants,
		ParticipantCount: row.ParticipantCount,
		PeakParticipants: row.PeakParticipants,
		StartedAtSeconds: row.StartedAtSeconds,
		EndedAtSeconds:   row.EndedAtSeconds,
		DurationSeconds:  row.DurationSeconds,
	}
}

type callStartPayload struct {
	Scope         string         `json:"scope"`
	ScopeTargetID string         `json:"scope_target_id"`
	Invitees      []string       `json:"invitees"`
	Settings      *call.Settings `json:"settings"`
}

func (h *httpHandler) handleCallStart(c *gin.Context) {
	var request callStartPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	scope := call.Scope(strings.ToLower(strings.TrimSpace(request.Scope)))
	switch scope {
	case call.ScopePrivate, call.ScopeGroup, call.ScopeWall:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_scope"})
		return
	}
	session, err := h.calls.Start(c.Request.Context(), requestUserID(c), scope, request.ScopeTargetID, request.Invitees, request.Settings)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sessionToPayload(session))
}

func (h *httpHandler) handleCallJoin(c *gin.Context) {
	session, err := h.calls.Join(c.Request.Context(), c.Param("session_id"), requestUserID(c))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionToPayload(session))
}

func (h *httpHandler) handleCallDecline(c *gin.Context) {
	if err := h.calls.Decline(c.Request.Context(), c.Param("session_id"), requestUserID(c)); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "declined"})
}

func (h *httpHandler) handleCallLeave(c *gin.Context) {
	if err := h.calls.Leave(c.Request.Context(), c.Param("session_id"), requestUserID(c)); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "left"})
}

func (h *httpHandler) handleCallEnd(c *gin.Context) {
	session, err := h.calls.End(c.Request.Context(), c.Param("session_id"), requestUserID(c))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionToPayload(session))
}

type callSignalPayload struct {
	ToUserID string          `json:"to_user_id"`
	Signal   json.RawMessage `json:"signal"`
}

func (h *httpHandler) handleCallSignal(c *gin.Context) {
	var request callSignalPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Signal) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	err := h.calls.Relay(c.Request.Context(), c.Param("session_id"), requestUserID(c), request.Signal, request.ToUserID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "relayed"})
}

type participantPayload struct {
	UserID           string `json:"user_id"`
	Status           string `json:"status"`
	InvitedAtSeconds int64  `json:"invited_at_s"`
	JoinedAtSeconds  int64  `json:"joined_at_s,omitempty"`
	LeftAtSeconds    int64  `json:"left_at_s,omitempty"`
}

func (h *httpHandler) handleCallGet(c *gin.Context) {
	session, participants, err := h.calls.Get(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	payload := make([]participantPayload, 0, len(participants))
	for _, row := range participants {
		payload = append(payload, participantPayload{
			UserID:           row.UserID,
			Status:           string(row.Status),
			InvitedAtSeconds: row.InvitedAtSeconds,
			JoinedAtSeconds:  row.JoinedAtSeconds,
			LeftAtSeconds:    row.LeftAtSeconds,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"session":      sessionToPayload(session),
		"participants": payload,
	})
}
