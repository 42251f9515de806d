package thread

import (
	"context"
	"errors"
	"sort"

	"gorm.io/gorm"

	"github.com/commonshq/commons-backend/internal/fault"
	"github.com/commonshq/commons-backend/internal/reaction"
)

// CommentView is one assembled node of a thread tree.
type CommentView struct {
	CommentID        string           `json:"comment_id"`
	ParentCommentID  string           `json:"parent_comment_id,omitempty"`
	AuthorID         string           `json:"author_id"`
	Body             string           `json:"body"`
	Attachments      []string         `json:"attachments,omitempty"`
	RepliesCount     int64            `json:"replies_count"`
	IsDeleted        bool             `json:"is_deleted"`
	CreatedAtSeconds int64            `json:"created_at_s"`
	EditedAtSeconds  int64            `json:"edited_at_s,omitempty"`
	Reactions        []reaction.Group `json:"reactions,omitempty"`
	ViewerReaction   string           `json:"viewer_reaction,omitempty"`
	Replies          []*CommentView   `json:"replies,omitempty"`
}

// View is a fully assembled thread: the root post plus its comment tree.
type View struct {
	PostID           string           `json:"post_id"`
	ScopeID          string           `json:"scope_id"`
	AuthorID         string           `json:"author_id"`
	Body             string           `json:"body"`
	Attachments      []string         `json:"attachments,omitempty"`
	CommentsCount    int64            `json:"comments_count"`
	IsDeleted        bool             `json:"is_deleted"`
	CreatedAtSeconds int64            `json:"created_at_s"`
	EditedAtSeconds  int64            `json:"edited_at_s,omitempty"`
	Reactions        []reaction.Group `json:"reactions,omitempty"`
	ViewerReaction   string           `json:"viewer_reaction,omitempty"`
	Comments         []*CommentView   `json:"comments"`
}

// GetThread assembles the full tree for a post: all comments are fetched in
// one query and linked through an id-keyed node map, so depth and width never
// trigger further queries. An empty viewerID skips viewer reaction lookup.
func (s *Service) GetThread(ctx context.Context, postID, viewerID string) (*View, error) {
	var post Post
	err := s.db.WithContext(ctx).Where("post_id = ?", postID).Take(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newServiceError(opGetThread, "post_missing", fault.ErrNotFound)
	}
	if err != nil {
		return nil, newServiceError(opGetThread, "post_select_failed", err)
	}

	var comments []Comment
	err = s.db.WithContext(ctx).
		Where("post_id = ?", postID).
		Order("created_at_s ASC").
		Find(&comments).Error
	if err != nil {
		return nil, newServiceError(opGetThread, "comments_query_failed", err)
	}

	view := &View{
		PostID:           post.PostID,
		ScopeID:          post.ScopeID,
		AuthorID:         post.AuthorID,
		Body:             post.Body,
		Attachments:      decodeAttachments(post.AttachmentsJSON),
		CommentsCount:    post.CommentsCount,
		IsDeleted:        post.IsDeleted,
		CreatedAtSeconds: post.CreatedAtSeconds,
		EditedAtSeconds:  post.EditedAtSeconds,
		Comments:         []*CommentView{},
	}
	if post.IsDeleted {
		view.Body = ""
		view.Attachments = nil
	}

	nodes := make(map[string]*CommentView, len(comments))
	commentIDs := make([]string, 0, len(comments))
	for _, comment := range comments {
		node := &CommentView{
			CommentID:        comment.CommentID,
			ParentCommentID:  comment.ParentCommentID,
			AuthorID:         comment.AuthorID,
			Body:             comment.Body,
			Attachments:      decodeAttachments(comment.AttachmentsJSON),
			RepliesCount:     comment.RepliesCount,
			IsDeleted:        comment.IsDeleted,
			CreatedAtSeconds: comment.CreatedAtSeconds,
			EditedAtSeconds:  comment.EditedAtSeconds,
		}
		if comment.IsDeleted {
			node.Body = ""
			node.Attachments = nil
		}
		nodes[comment.CommentID] = node
		commentIDs = append(commentIDs, comment.CommentID)
	}

	if s.reactions != nil {
		if err := s.attachReactions(ctx, view, nodes, commentIDs, viewerID); err != nil {
			return nil, err
		}
	}

	// Link children to parents. A node whose parent is unknown is treated as
	// top-level rather than dropped.
	for _, comment := range comments {
		node := nodes[comment.CommentID]
		if comment.ParentCommentID == "" {
			view.Comments = append(view.Comments, node)
			continue
		}
		parent, ok := nodes[comment.ParentCommentID]
		if !ok {
			view.Comments = append(view.Comments, node)
			continue
		}
		parent.Replies = append(parent.Replies, node)
	}
	sortNodes(view.Comments)
	return view, nil
}

func (s *Service) attachReactions(ctx context.Context, view *View, nodes map[string]*CommentView, commentIDs []string, viewerID string) error {
	postSummaries, err := s.reactions.SummariesFor(ctx, reaction.KindPost, []string{view.PostID})
	if err != nil {
		return newServiceError(opGetThread, "post_reactions_failed", err)
	}
	view.Reactions = postSummaries[view.PostID]

	commentSummaries, err := s.reactions.SummariesFor(ctx, reaction.KindComment, commentIDs)
	if err != nil {
		return newServiceError(opGetThread, "comment_reactions_failed", err)
	}
	for commentID, groups := range commentSummaries {
		if node, ok := nodes[commentID]; ok {
			node.Reactions = groups
		}
	}

	if viewerID == "" {
		return nil
	}
	postViewer, err := s.reactions.ViewerReactions(ctx, reaction.KindPost, []string{view.PostID}, viewerID)
	if err != nil {
		return newServiceError(opGetThread, "viewer_reactions_failed", err)
	}
	view.ViewerReaction = postViewer[view.PostID]

	commentViewer, err := s.reactions.ViewerReactions(ctx, reaction.KindComment, commentIDs, viewerID)
	if err != nil {
		return newServiceError(opGetThread, "viewer_reactions_failed", err)
	}
	for commentID, emoji := range commentViewer {
		if node, ok := nodes[commentID]; ok {
			node.ViewerReaction = emoji
		}
	}
	return nil
}

func sortNodes(nodes []*CommentView) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].CreatedAtSeconds < nodes[j].CreatedAtSeconds
	})
	for _, node := range nodes {
		if len(node.Replies) > 0 {
			sortNodes(node.Replies)
		}
	}
}

// ListPosts returns the scope's live posts, newest first.
func (s *Service) ListPosts(ctx context.Context, scopeID string, page, pageSize int) ([]Post, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	var posts []Post
	err := s.db.WithContext(ctx).
		Where("scope_id = ? AND is_deleted = ?", scopeID, false).
		Order("created_at_s DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&posts).Error
	if err != nil {
		return nil, newServiceError(opGetThread, "list_query_failed", err)
	}
	return posts, nil
}
