package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/commonshq/commons-backend/internal/reaction"
	"github.com/commonshq/commons-backend/internal/thread"
)

type postPayload struct {
	PostID           string `json:"post_id"`
	ScopeID          string `json:"scope_id"`
	AuthorID         string `json:"author_id"`
	Body             string `json:"body"`
	CommentsCount    int64  `json:"comments_count"`
	IsDeleted        bool   `json:"is_deleted"`
	CreatedAtSeconds int64  `json:"created_at_s"`
	EditedAtSeconds  int64  `json:"edited_at_s,omitempty"`
}

func postToPayload(row *thread.Post) postPayload {
	return postPayload{
		PostID:           row.PostID,
		ScopeID:          row.ScopeID,
		AuthorID:         row.AuthorID,
		Body:             row.Body,
		CommentsCount:    row.CommentsCount,
		IsDeleted:        row.IsDeleted,
		CreatedAtSeconds: row.CreatedAtSeconds,
		EditedAtSeconds:  row.EditedAtSeconds,
	}
}

type commentPayload struct {
	CommentID        string `json:"comment_id"`
	PostID           string `json:"post_id"`
	ParentCommentID  string `json:"parent_comment_id,omitempty"`
	AuthorID         string `json:"author_id"`
	Body             string `json:"body"`
	RepliesCount     int64  `json:"replies_count"`
	CreatedAtSeconds int64  `json:"created_at_s"`
}

type postCreatePayload struct {
	ScopeID     string   `json:"scope_id"`
	Body        string   `json:"body"`
	Attachments []string `json:"attachments"`
}

func (h *httpHandler) handlePostCreate(c *gin.Context) {
	var request postCreatePayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Body) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	row, err := h.threads.CreatePost(c.Request.Context(), requestUserID(c), request.ScopeID, request.Body, request.Attachments)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, postToPayload(row))
}

type bodyPayload struct {
	Body string `json:"body"`
}

func (h *httpHandler) handlePostEdit(c *gin.Context) {
	var request bodyPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Body) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	row, err := h.threads.EditPost(c.Request.Context(), c.Param("post_id"), requestUserID(c), request.Body)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, postToPayload(row))
}

func (h *httpHandler) handlePostDelete(c *gin.Context) {
	if err := h.threads.SoftDeletePost(c.Request.Context(), c.Param("post_id"), requestUserID(c)); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *httpHandler) handlePostList(c *gin.Context) {
	scopeID := strings.TrimSpace(c.Query("scope_id"))
	if scopeID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_scope"})
		return
	}
	page, pageSize := parsePagination(c)
	rows, err := h.threads.ListPosts(c.Request.Context(), scopeID, page, pageSize)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	payload := make([]postPayload, 0, len(rows))
	for i := range rows {
		payload = append(payload, postToPayload(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"posts": payload})
}

func (h *httpHandler) handleThreadGet(c *gin.Context) {
	view, err := h.threads.GetThread(c.Request.Context(), c.Param("post_id"), requestUserID(c))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type commentCreatePayload struct {
	ParentCommentID string   `json:"parent_comment_id"`
	Body            string   `json:"body"`
	Attachments     []string `json:"attachments"`
}

func (h *httpHandler) handleCommentAdd(c *gin.Context) {
	var request commentCreatePayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Body) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	row, err := h.threads.AddComment(c.Request.Context(), requestUserID(c), c.Param("post_id"), request.ParentCommentID, request.Body, request.Attachments)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, commentPayload{
		CommentID:        row.CommentID,
		PostID:           row.PostID,
		ParentCommentID:  row.ParentCommentID,
		AuthorID:         row.AuthorID,
		Body:             row.Body,
		RepliesCount:     row.RepliesCount,
		CreatedAtSeconds: row.CreatedAtSeconds,
	})
}

func (h *httpHandler) handleCommentEdit(c *gin.Context) {
	var request bodyPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Body) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	row, err := h.threads.EditComment(c.Request.Context(), c.Param("comment_id"), requestUserID(c), request.Body)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, commentPayload{
		CommentID:        row.CommentID,
		PostID:           row.PostID,
		ParentCommentID:  row.ParentCommentID,
		AuthorID:         row.AuthorID,
		Body:             row.Body,
		RepliesCount:     row.RepliesCount,
		CreatedAtSeconds: row.CreatedAtSeconds,
	})
}

func (h *httpHandler) handleCommentDelete(c *gin.Context) {
	if err := h.threads.SoftDeleteComment(c.Request.Context(), c.Param("comment_id"), requestUserID(c)); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

type reactionTogglePayload struct {
	ItemKind string `json:"item_kind"`
	ItemID   string `json:"item_id"`
	Emoji    string `json:"emoji"`
}

func parseItemKind(value string) (reaction.ItemKind, bool) {
	switch reaction.ItemKind(strings.ToLower(strings.TrimSpace(value))) {
	case reaction.KindPost:
		return reaction.KindPost, true
	case reaction.KindComment:
		return reaction.KindComment, true
	case reaction.KindChatMessage:
		return reaction.KindChatMessage, true
	default:
		return "", false
	}
}

func (h *httpHandler) handleReactionToggle(c *gin.Context) {
	var request reactionTogglePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	kind, ok := parseItemKind(request.ItemKind)
	if !ok || strings.TrimSpace(request.ItemID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_item"})
		return
	}
	result, err := h.reactions.Toggle(c.Request.Context(), reaction.ItemRef{Kind: kind, ID: request.ItemID}, requestUserID(c), request.Emoji)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"groups":        result.Groups,
		"user_reaction": result.UserReaction,
	})
}

func (h *httpHandler) handleReactionSummary(c *gin.Context) {
	kind, ok := parseItemKind(c.Param("item_kind"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_item"})
		return
	}
	item := reaction.ItemRef{Kind: kind, ID: c.Param("item_id")}
	groups, err := h.reactions.SummaryFor(c.Request.Context(), item)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	viewerReaction, err := h.reactions.ReactionOf(c.Request.Context(), item, requestUserID(c))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"groups":        groups,
		"user_reaction": viewerReaction,
	})
}
