package thread

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/commonshq/commons-backend/internal/event"
	"github.com/commonshq/commons-backend/internal/fault"
	"github.com/commonshq/commons-backend/internal/ident"
	"github.com/commonshq/commons-backend/internal/reaction"
)

const (
	opCreatePost    = "thread.create_post"
	opEditPost      = "thread.edit_post"
	opAddComment    = "thread.add_comment"
	opEditComment   = "thread.edit_comment"
	opGetThread     = "thread.get_thread"
	opDeletePost    = "thread.delete_post"
	opDeleteComment = "thread.delete_comment"

	defaultDepthLimit = 10
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError wraps a thread failure with a dotted operation.reason code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the dotted operation.reason code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// ScopeModerators answers whether a user moderates the scope containing a
// post. The wall store satisfies this.
type ScopeModerators interface {
	IsModerator(ctx context.Context, scopeID, userID string) (bool, error)
}

// ServiceConfig describes the dependencies of the thread store.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ident.Provider
	Reactions  *reaction.Service
	Moderators ScopeModerators
	Events     event.Publisher
	Logger     *zap.Logger
	DepthLimit int
}

// Service owns wall posts and their nested comment trees, including the
// derived reply counters.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	ids        ident.Provider
	reactions  *reaction.Service
	moderators ScopeModerators
	events     event.Publisher
	logger     *zap.Logger
	depthLimit int
}

// NewService constructs the thread store.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError("thread.service.new", "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError("thread.service.new", "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	depthLimit := cfg.DepthLimit
	if depthLimit < 1 {
		depthLimit = defaultDepthLimit
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		ids:        cfg.IDProvider,
		reactions:  cfg.Reactions,
		moderators: cfg.Moderators,
		events:     cfg.Events,
		logger:     logger,
		depthLimit: depthLimit,
	}, nil
}

// CreatePost writes a new root post into the scope.
func (s *Service) CreatePost(ctx context.Context, authorID, scopeID, body string, attachments []string) (*Post, error) {
	if strings.TrimSpace(authorID) == "" || strings.TrimSpace(scopeID) == "" {
		return nil, newServiceError(opCreatePost, "missing_argument", fault.ErrInvalidOperation)
	}
	if strings.TrimSpace(body) == "" && len(attachments) == 0 {
		return nil, newServiceError(opCreatePost, "empty_body", fault.ErrInvalidOperation)
	}
	postID, err := s.ids.NewID()
	if err != nil {
		return nil, newServiceError(opCreatePost, "id_generation_failed", err)
	}
	row := Post{
		PostID:           postID,
		ScopeID:          scopeID,
		AuthorID:         authorID,
		Body:             body,
		AttachmentsJSON:  encodeAttachments(attachments),
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, newServiceError(opCreatePost, "insert_failed", err)
	}
	return &row, nil
}

// EditPost replaces the post body and stamps the edit time. Author only.
func (s *Service) EditPost(ctx context.Context, postID, actorID, body string) (*Post, error) {
	var row Post
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		post, err := s.lockLivePost(tx, opEditPost, postID)
		if err != nil {
			return err
		}
		if post.AuthorID != actorID {
			return newServiceError(opEditPost, "not_author", fault.ErrNotAuthorized)
		}
		post.Body = body
		post.EditedAtSeconds = s.clock().UTC().Unix()
		if err := tx.Save(post).Error; err != nil {
			return newServiceError(opEditPost, "update_failed", err)
		}
		row = *post
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return &row, nil
}

// AddComment appends a comment to the thread rooted at postID. A top-level
// comment bumps the post's comment count; a nested reply bumps its direct
// parent's reply count instead.
func (s *Service) AddComment(ctx context.Context, authorID, postID, parentCommentID, body string, attachments []string) (*Comment, error) {
	if strings.TrimSpace(body) == "" && len(attachments) == 0 {
		return nil, newServiceError(opAddComment, "empty_body", fault.ErrInvalidOperation)
	}

	var row Comment
	var notifyUserID string
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		post, err := s.lockLivePost(tx, opAddComment, postID)
		if err != nil {
			return err
		}
		notifyUserID = post.AuthorID

		depth := 1
		if parentCommentID != "" {
			parent, err := s.verifyAncestry(tx, postID, parentCommentID)
			if err != nil {
				return err
			}
			depth = parent.Depth + 1
			if depth > s.depthLimit {
				return newServiceError(opAddComment, "depth_exceeded", fault.ErrInvalidThread)
			}
			notifyUserID = parent.AuthorID
		}

		commentID, err := s.ids.NewID()
		if err != nil {
			return newServiceError(opAddComment, "id_generation_failed", err)
		}
		row = Comment{
			CommentID:        commentID,
			PostID:           postID,
			ParentCommentID:  parentCommentID,
			AuthorID:         authorID,
			Body:             body,
			AttachmentsJSON:  encodeAttachments(attachments),
			Depth:            depth,
			CreatedAtSeconds: s.clock().UTC().Unix(),
		}
		if err := tx.Create(&row).Error; err != nil {
			return newServiceError(opAddComment, "insert_failed", err)
		}

		if parentCommentID == "" {
			err = tx.Model(&Post{}).
				Where("post_id = ?", postID).
				UpdateColumn("comments_count", gorm.Expr("comments_count + 1")).Error
		} else {
			err = tx.Model(&Comment{}).
				Where("comment_id = ?", parentCommentID).
				UpdateColumn("replies_count", gorm.Expr("replies_count + 1")).Error
		}
		if err != nil {
			return newServiceError(opAddComment, "counter_update_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logger.Warn("add comment failed",
			zap.String("post_id", postID),
			zap.String("parent_comment_id", parentCommentID),
			zap.Error(txErr))
		return nil, txErr
	}

	evt := event.Event{
		Type:    event.TypeReplyAdded,
		Room:    reaction.ItemRef{Kind: reaction.KindPost, ID: postID}.Room(),
		ActorID: authorID,
		Payload: map[string]string{
			"post_id":           postID,
			"comment_id":        row.CommentID,
			"parent_comment_id": parentCommentID,
		},
	}
	if notifyUserID != "" && notifyUserID != authorID {
		evt.NotifyUserIDs = []string{notifyUserID}
	}
	s.publish(ctx, evt)
	return &row, nil
}

// EditComment replaces the comment body and stamps the edit time. Author only.
func (s *Service) EditComment(ctx context.Context, commentID, actorID, body string) (*Comment, error) {
	var row Comment
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		comment, err := s.lockLiveComment(tx, opEditComment, commentID)
		if err != nil {
			return err
		}
		if comment.AuthorID != actorID {
			return newServiceError(opEditComment, "not_author", fault.ErrNotAuthorized)
		}
		comment.Body = body
		comment.EditedAtSeconds = s.clock().UTC().Unix()
		if err := tx.Save(comment).Error; err != nil {
			return newServiceError(opEditComment, "update_failed", err)
		}
		row = *comment
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return &row, nil
}

// SoftDeletePost hides a post. Allowed for the author or a moderator of the
// containing scope. The comment tree underneath is preserved.
func (s *Service) SoftDeletePost(ctx context.Context, postID, actorID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		post, err := s.lockLivePost(tx, opDeletePost, postID)
		if err != nil {
			return err
		}
		allowed, err := s.mayModerate(ctx, post.ScopeID, post.AuthorID, actorID)
		if err != nil {
			return newServiceError(opDeletePost, "moderator_check_failed", err)
		}
		if !allowed {
			return newServiceError(opDeletePost, "not_author_or_moderator", fault.ErrNotAuthorized)
		}
		return tx.Model(&Post{}).
			Where("post_id = ?", postID).
			Updates(map[string]any{
				"is_deleted":   true,
				"deleted_at_s": s.clock().UTC().Unix(),
			}).Error
	})
}

// SoftDeleteComment hides a comment and rolls back the counter its creation
// bumped: the post's comment count for a top-level comment, the direct
// parent's reply count for a nested reply. Tree shape is preserved.
func (s *Service) SoftDeleteComment(ctx context.Context, commentID, actorID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		comment, err := s.lockLiveComment(tx, opDeleteComment, commentID)
		if err != nil {
			return err
		}
		var post Post
		if err := tx.Where("post_id = ?", comment.PostID).Take(&post).Error; err != nil {
			return newServiceError(opDeleteComment, "post_select_failed", err)
		}
		allowed, err := s.mayModerate(ctx, post.ScopeID, comment.AuthorID, actorID)
		if err != nil {
			return newServiceError(opDeleteComment, "moderator_check_failed", err)
		}
		if !allowed {
			return newServiceError(opDeleteComment, "not_author_or_moderator", fault.ErrNotAuthorized)
		}

		err = tx.Model(&Comment{}).
			Where("comment_id = ?", commentID).
			Updates(map[string]any{
				"is_deleted":   true,
				"deleted_at_s": s.clock().UTC().Unix(),
			}).Error
		if err != nil {
			return newServiceError(opDeleteComment, "update_failed", err)
		}

		if comment.ParentCommentID == "" {
			err = tx.Model(&Post{}).
				Where("post_id = ? AND comments_count > 0", comment.PostID).
				UpdateColumn("comments_count", gorm.Expr("comments_count - 1")).Error
		} else {
			err = tx.Model(&Comment{}).
				Where("comment_id = ? AND replies_count > 0", comment.ParentCommentID).
				UpdateColumn("replies_count", gorm.Expr("replies_count - 1")).Error
		}
		if err != nil {
			return newServiceError(opDeleteComment, "counter_update_failed", err)
		}
		return nil
	})
}

// lockLivePost loads a post under a row lock and rejects missing or deleted rows.
func (s *Service) lockLivePost(tx *gorm.DB, operation, postID string) (*Post, error) {
	var post Post
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("post_id = ?", postID).
		Take(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newServiceError(operation, "post_missing", fault.ErrNotFound)
	}
	if err != nil {
		return nil, newServiceError(operation, "post_select_failed", err)
	}
	if post.IsDeleted {
		return nil, newServiceError(operation, "post_deleted", fault.ErrNotFound)
	}
	return &post, nil
}

// lockLiveComment loads a comment under a row lock and rejects missing or deleted rows.
func (s *Service) lockLiveComment(tx *gorm.DB, operation, commentID string) (*Comment, error) {
	var comment Comment
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("comment_id = ?", commentID).
		Take(&comment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newServiceError(operation, "comment_missing", fault.ErrNotFound)
	}
	if err != nil {
		return nil, newServiceError(operation, "comment_select_failed", err)
	}
	if comment.IsDeleted {
		return nil, newServiceError(operation, "comment_deleted", fault.ErrNotFound)
	}
	return &comment, nil
}

// verifyAncestry walks parent pointers from the claimed parent comment and
// confirms the chain terminates at postID within the depth bound.
func (s *Service) verifyAncestry(tx *gorm.DB, postID, parentCommentID string) (*Comment, error) {
	var parent *Comment
	currentID := parentCommentID
	for step := 0; step < s.depthLimit; step++ {
		var node Comment
		err := tx.Where("comment_id = ?", currentID).Take(&node).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newServiceError(opAddComment, "parent_missing", fault.ErrInvalidThread)
		}
		if err != nil {
			return nil, newServiceError(opAddComment, "ancestry_select_failed", err)
		}
		if node.PostID != postID {
			return nil, newServiceError(opAddComment, "foreign_ancestor", fault.ErrInvalidThread)
		}
		if parent == nil {
			copied := node
			parent = &copied
			if parent.IsDeleted {
				return nil, newServiceError(opAddComment, "parent_deleted", fault.ErrNotFound)
			}
		}
		if node.ParentCommentID == "" {
			return parent, nil
		}
		currentID = node.ParentCommentID
	}
	return nil, newServiceError(opAddComment, "depth_exceeded", fault.ErrInvalidThread)
}

func (s *Service) mayModerate(ctx context.Context, scopeID, authorID, actorID string) (bool, error) {
	if actorID == authorID {
		return true, nil
	}
	if s.moderators == nil {
		return false, nil
	}
	return s.moderators.IsModerator(ctx, scopeID, actorID)
}

func (s *Service) publish(ctx context.Context, evt event.Event) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, evt)
}
