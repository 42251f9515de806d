package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/commonshq/commons-backend/internal/fault"
	"github.com/commonshq/commons-backend/internal/wall"
)

type wallPayload struct {
	WallID           string `json:"wall_id"`
	OwnerID          string `json:"owner_id"`
	Title            string `json:"title"`
	AllowMemberCalls bool   `json:"allow_member_calls"`
}

type wallCreatePayload struct {
	Title            string `json:"title"`
	AllowMemberCalls bool   `json:"allow_member_calls"`
}

func (h *httpHandler) handleWallCreate(c *gin.Context) {
	var request wallCreatePayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Title) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	row, err := h.walls.Create(c.Request.Context(), requestUserID(c), request.Title, request.AllowMemberCalls)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, wallPayload{
		WallID:           row.WallID,
		OwnerID:          row.OwnerID,
		Title:            row.Title,
		AllowMemberCalls: row.AllowMemberCalls,
	})
}

type wallMemberPayload struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func (h *httpHandler) handleWallAddMember(c *gin.Context) {
	var request wallMemberPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	role := wall.Role(strings.ToLower(strings.TrimSpace(request.Role)))
	if role == "" {
		role = wall.RoleMember
	}
	if role != wall.RoleMember && role != wall.RoleModerator {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_role"})
		return
	}
	wallID := c.Param("wall_id")
	isModerator, err := h.walls.IsModerator(c.Request.Context(), wallID, requestUserID(c))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	if !isModerator {
		h.writeServiceError(c, fault.ErrNotAuthorized)
		return
	}
	if err := h.walls.AddMember(c.Request.Context(), wallID, request.UserID, role); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "added"})
}

func (h *httpHandler) handleWallGet(c *gin.Context) {
	row, err := h.walls.Get(c.Request.Context(), c.Param("wall_id"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, wallPayload{
		WallID:           row.WallID,
		OwnerID:          row.OwnerID,
		Title:            row.Title,
		AllowMemberCalls: row.AllowMemberCalls,
	})
}
