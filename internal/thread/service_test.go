package thread

import (
	"context"
	"errors"
	"testing"

	"github.com/commonshq/commons-backend/internal/fault"
)

func TestAddCommentBumpsPostCounter(t *testing.T) {
	service, _ := newTestService(t)
	post := mustPost(t, service, "author", "wall-1", "hello")

	mustComment(t, service, "reader", post.PostID, "", "first")
	mustComment(t, service, "reader", post.PostID, "", "second")

	stored := loadPost(t, service, post.PostID)
	if stored.CommentsCount != 2 {
		t.Fatalf("expected comments count 2, got %d", stored.CommentsCount)
	}
}

func TestNestedReplyBumpsParentNotPost(t *testing.T) {
	service, _ := newTestService(t)
	post := mustPost(t, service, "author", "wall-1", "hello")
	top := mustComment(t, service, "reader", post.PostID, "", "top")

	reply := mustComment(t, service, "author", post.PostID, top.CommentID, "reply")
	if reply.Depth != 2 {
		t.Fatalf("expected depth 2, got %d", reply.Depth)
	}

	storedPost := loadPost(t, service, post.PostID)
	if storedPost.CommentsCount != 1 {
		t.Fatalf("expected post counter untouched at 1, got %d", storedPost.CommentsCount)
	}
	storedTop := loadComment(t, service, top.CommentID)
	if storedTop.RepliesCount != 1 {
		t.Fatalf("expected parent replies count 1, got %d", storedTop.RepliesCount)
	}
}

func TestAddCommentRejectsForeignParent(t *testing.T) {
	service, _ := newTestService(t)
	postA := mustPost(t, service, "author", "wall-1", "a")
	postB := mustPost(t, service, "author", "wall-1", "b")
	foreign := mustComment(t, service, "reader", postA.PostID, "", "on a")

	_, err := service.AddComment(context.Background(), "reader", postB.PostID, foreign.CommentID, "cross", nil)
	if !errors.Is(err, fault.ErrInvalidThread) {
		t.Fatalf("expected invalid thread, got %v", err)
	}
}

func TestAddCommentEnforcesDepthLimit(t *testing.T) {
	service, _ := newTestService(t)
	post := mustPost(t, service, "author", "wall-1", "root")

	parentID := ""
	for i := 0; i < 3; i++ {
		row := mustComment(t, service, "reader", post.PostID, parentID, "level")
		parentID = row.CommentID
	}

	_, err := service.AddComment(context.Background(), "reader", post.PostID, parentID, "too deep", nil)
	if !errors.Is(err, fault.ErrInvalidThread) {
		t.Fatalf("expected depth rejection, got %v", err)
	}
}

func TestEditPostAuthorOnly(t *testing.T) {
	service, _ := newTestService(t)
	post := mustPost(t, service, "author", "wall-1", "original")

	_, err := service.EditPost(context.Background(), post.PostID, "stranger", "hijacked")
	if !errors.Is(err, fault.ErrNotAuthorized) {
		t.Fatalf("expected not authorized, got %v", err)
	}

	updated, err := service.EditPost(context.Background(), post.PostID, "author", "revised")
	if err != nil {
		t.Fatalf("unexpected edit error: %v", err)
	}
	if updated.Body != "revised" || updated.EditedAtSeconds == 0 {
		t.Fatalf("unexpected edited post: %#v", updated)
	}
}

func TestSoftDeleteCommentRollsBackCounter(t *testing.T) {
	service, _ := newTestService(t)
	post := mustPost(t, service, "author", "wall-1", "root")
	top := mustComment(t, service, "reader", post.PostID, "", "top")
	nested := mustComment(t, service, "author", post.PostID, top.CommentID, "reply")

	if err := service.SoftDeleteComment(context.Background(), nested.CommentID, "author"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	storedTop := loadComment(t, service, top.CommentID)
	if storedTop.RepliesCount != 0 {
		t.Fatalf("expected replies count rolled back, got %d", storedTop.RepliesCount)
	}

	if err := service.SoftDeleteComment(context.Background(), top.CommentID, "reader"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	storedPost := loadPost(t, service, post.PostID)
	if storedPost.CommentsCount != 0 {
		t.Fatalf("expected comments count rolled back, got %d", storedPost.CommentsCount)
	}
}

func TestSoftDeleteAllowsScopeModerator(t *testing.T) {
	service, moderators := newTestService(t)
	moderators.moderators["wall-1"] = map[string]bool{"mod": true}
	post := mustPost(t, service, "author", "wall-1", "root")

	err := service.SoftDeletePost(context.Background(), post.PostID, "stranger")
	if !errors.Is(err, fault.ErrNotAuthorized) {
		t.Fatalf("expected not authorized, got %v", err)
	}
	if err := service.SoftDeletePost(context.Background(), post.PostID, "mod"); err != nil {
		t.Fatalf("unexpected moderator delete error: %v", err)
	}

	stored := loadPost(t, service, post.PostID)
	if !stored.IsDeleted {
		t.Fatalf("expected soft-deleted post")
	}
}

func TestDeletedCommentRejectsReplies(t *testing.T) {
	service, _ := newTestService(t)
	post := mustPost(t, service, "author", "wall-1", "root")
	top := mustComment(t, service, "reader", post.PostID, "", "top")
	if err := service.SoftDeleteComment(context.Background(), top.CommentID, "reader"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}

	_, err := service.AddComment(context.Background(), "author", post.PostID, top.CommentID, "late", nil)
	if err == nil {
		t.Fatalf("expected reply to deleted comment to fail")
	}
}
