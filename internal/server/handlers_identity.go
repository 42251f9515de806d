package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type registerPayload struct {
	DisplayName string `json:"display_name"`
}

// handleRegister upserts the caller into the local directory. Clients call
// it once after sign-in; repeating it just refreshes the display name.
func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.DisplayName) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	row, err := h.identities.Register(c.Request.Context(), requestUserID(c), request.DisplayName)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":      row.UserID,
		"display_name": row.DisplayName,
	})
}
