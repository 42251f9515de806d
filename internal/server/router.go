package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/commonshq/commons-backend/internal/auth"
	"github.com/commonshq/commons-backend/internal/call"
	"github.com/commonshq/commons-backend/internal/chat"
	"github.com/commonshq/commons-backend/internal/contact"
	"github.com/commonshq/commons-backend/internal/fault"
	"github.com/commonshq/commons-backend/internal/identity"
	"github.com/commonshq/commons-backend/internal/notification"
	"github.com/commonshq/commons-backend/internal/presence"
	"github.com/commonshq/commons-backend/internal/reaction"
	"github.com/commonshq/commons-backend/internal/realtime"
	"github.com/commonshq/commons-backend/internal/thread"
	"github.com/commonshq/commons-backend/internal/wall"
)

const userIDContextKey = "commons_user_id"

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingContactService   = errors.New("contact service dependency required")
	errMissingThreadService    = errors.New("thread service dependency required")
	errMissingChatService      = errors.New("chat service dependency required")
)

// SessionValidator validates a bearer token into session claims.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// Dependencies collects everything the HTTP surface needs.
type Dependencies struct {
	SessionValidator SessionValidator
	Identities       *identity.Service
	Contacts         *contact.Service
	Reactions        *reaction.Service
	Threads          *thread.Service
	Walls            *wall.Service
	Chats            *chat.Service
	Notifications    *notification.Hub
	Calls            *call.Coordinator
	Realtime         *realtime.Hub
	Presence         *presence.Store
	Logger           *zap.Logger
}

// NewHTTPHandler assembles the router with CORS, auth middleware and every
// domain route mounted under it.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Contacts == nil {
		return nil, errMissingContactService
	}
	if deps.Threads == nil {
		return nil, errMissingThreadService
	}
	if deps.Chats == nil {
		return nil, errMissingChatService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		sessions:      deps.SessionValidator,
		identities:    deps.Identities,
		contacts:      deps.Contacts,
		reactions:     deps.Reactions,
		threads:       deps.Threads,
		walls:         deps.Walls,
		chats:         deps.Chats,
		notifications: deps.Notifications,
		calls:         deps.Calls,
		realtimeHub:   deps.Realtime,
		presence:      deps.Presence,
		logger:        logger,
	}

	router.GET("/healthz", handler.handleHealth)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)

	protected.POST("/me", handler.handleRegister)

	protected.POST("/walls", handler.handleWallCreate)
	protected.GET("/walls/:wall_id", handler.handleWallGet)
	protected.POST("/walls/:wall_id/members", handler.handleWallAddMember)

	protected.POST("/contacts/requests", handler.handleContactRequest)
	protected.POST("/contacts/:contact_id/respond", handler.handleContactRespond)
	protected.POST("/contacts/block", handler.handleContactBlock)
	protected.POST("/contacts/unblock", handler.handleContactUnblock)
	protected.DELETE("/contacts/:user_id", handler.handleContactRemove)
	protected.GET("/contacts", handler.handleContactList)
	protected.GET("/contacts/status/:user_id", handler.handleContactStatus)

	protected.POST("/reactions/toggle", handler.handleReactionToggle)
	protected.GET("/reactions/:item_kind/:item_id", handler.handleReactionSummary)

	protected.POST("/posts", handler.handlePostCreate)
	protected.PUT("/posts/:post_id", handler.handlePostEdit)
	protected.DELETE("/posts/:post_id", handler.handlePostDelete)
	protected.GET("/posts", handler.handlePostList)
	protected.GET("/posts/:post_id/thread", handler.handleThreadGet)
	protected.POST("/posts/:post_id/comments", handler.handleCommentAdd)
	protected.PUT("/comments/:comment_id", handler.handleCommentEdit)
	protected.DELETE("/comments/:comment_id", handler.handleCommentDelete)

	protected.POST("/channels/private", handler.handleChannelPrivate)
	protected.POST("/channels/group", handler.handleChannelGroup)
	protected.GET("/channels", handler.handleChannelList)
	protected.GET("/channels/:channel_id/messages", handler.handleMessageList)
	protected.POST("/channels/:channel_id/messages", handler.handleMessageSend)
	protected.POST("/channels/:channel_id/read", handler.handleMarkRead)
	protected.GET("/channels/:channel_id/unread", handler.handleUnreadCount)
	protected.POST("/channels/:channel_id/participants", handler.handleAddParticipants)
	protected.POST("/channels/:channel_id/leave", handler.handleChannelLeave)
	protected.DELETE("/messages/:message_id", handler.handleMessageDelete)

	protected.GET("/notifications", handler.handleNotificationList)
	protected.POST("/notifications/:notification_id/read", handler.handleNotificationRead)
	protected.POST("/notifications/read-all", handler.handleNotificationReadAll)
	protected.GET("/notifications/unread-count", handler.handleNotificationUnreadCount)
	protected.PUT("/notifications/preferences", handler.handlePreferenceSet)
	protected.GET("/notifications/preferences", handler.handlePreferenceList)

	protected.POST("/calls", handler.handleCallStart)
	protected.POST("/calls/:session_id/join", handler.handleCallJoin)
	protected.POST("/calls/:session_id/decline", handler.handleCallDecline)
	protected.POST("/calls/:session_id/leave", handler.handleCallLeave)
	protected.POST("/calls/:session_id/end", handler.handleCallEnd)
	protected.POST("/calls/:session_id/signal", handler.handleCallSignal)
	protected.GET("/calls/:session_id", handler.handleCallGet)

	protected.GET("/ws", handler.handleWebsocket)

	return router, nil
}

type httpHandler struct {
	sessions      SessionValidator
	identities    *identity.Service
	contacts      *contact.Service
	reactions     *reaction.Service
	threads       *thread.Service
	walls         *wall.Service
	chats         *chat.Service
	notifications *notification.Hub
	calls         *call.Coordinator
	realtimeHub   *realtime.Hub
	presence      *presence.Store
	logger        *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		h.logger.Warn("session validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, claims.UserID)
	c.Next()
}

func requestUserID(c *gin.Context) string {
	return c.GetString(userIDContextKey)
}

// writeServiceError maps domain sentinels to HTTP statuses. Codes embedded
// in service errors travel to the client; raw causes stay in logs.
func (h *httpHandler) writeServiceError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, fault.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, fault.ErrNotAuthorized):
		status = http.StatusForbidden
	case errors.Is(err, fault.ErrAlreadyExists),
		errors.Is(err, fault.ErrAlreadyProcessed),
		errors.Is(err, fault.ErrCallFull),
		errors.Is(err, fault.ErrCallEnded),
		errors.Is(err, fault.ErrCallNotJoinable):
		status = http.StatusConflict
	case errors.Is(err, fault.ErrInvalidOperation),
		errors.Is(err, fault.ErrInvalidThread),
		errors.Is(err, fault.ErrSelfReference):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(status, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(status, gin.H{"error": errorCode(err)})
}

type coder interface {
	Code() string
}

func errorCode(err error) string {
	var withCode coder
	if errors.As(err, &withCode) {
		return withCode.Code()
	}
	return err.Error()
}

func parsePagination(c *gin.Context) (int, int) {
	page := intQuery(c, "page", 1)
	pageSize := intQuery(c, "page_size", 50)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}
	return page, pageSize
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value := 0
	for _, r := range raw {
		if r < '0' || r > '9' {
			return fallback
		}
		value = value*10 + int(r-'0')
	}
	return value
}
