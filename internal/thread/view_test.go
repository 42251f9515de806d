package thread

import (
	"context"
	"testing"

	"github.com/commonshq/commons-backend/internal/reaction"
)

func TestGetThreadAssemblesTree(t *testing.T) {
	service, _ := newTestService(t)
	post := mustPost(t, service, "author", "wall-1", "root")
	top := mustComment(t, service, "reader", post.PostID, "", "top")
	mustComment(t, service, "author", post.PostID, top.CommentID, "reply")
	mustComment(t, service, "other", post.PostID, "", "another top")

	view, err := service.GetThread(context.Background(), post.PostID, "")
	if err != nil {
		t.Fatalf("unexpected view error: %v", err)
	}
	if len(view.Comments) != 2 {
		t.Fatalf("expected two top-level comments, got %d", len(view.Comments))
	}
	if view.Comments[0].CommentID != top.CommentID {
		t.Fatalf("expected insertion order, got %s first", view.Comments[0].CommentID)
	}
	if len(view.Comments[0].Replies) != 1 || view.Comments[0].Replies[0].Body != "reply" {
		t.Fatalf("expected nested reply, got %#v", view.Comments[0].Replies)
	}
}

func TestGetThreadBlanksDeletedNodes(t *testing.T) {
	service, _ := newTestService(t)
	post := mustPost(t, service, "author", "wall-1", "root")
	top := mustComment(t, service, "reader", post.PostID, "", "secret")
	mustComment(t, service, "author", post.PostID, top.CommentID, "kept reply")
	if err := service.SoftDeleteComment(context.Background(), top.CommentID, "reader"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}

	view, err := service.GetThread(context.Background(), post.PostID, "")
	if err != nil {
		t.Fatalf("unexpected view error: %v", err)
	}
	if len(view.Comments) != 1 {
		t.Fatalf("expected deleted node to stay in tree, got %d", len(view.Comments))
	}
	node := view.Comments[0]
	if !node.IsDeleted || node.Body != "" {
		t.Fatalf("expected blanked deleted node, got %#v", node)
	}
	if len(node.Replies) != 1 || node.Replies[0].Body != "kept reply" {
		t.Fatalf("expected surviving child under deleted node, got %#v", node.Replies)
	}
}

func TestGetThreadAttachesReactions(t *testing.T) {
	service, _ := newTestService(t)
	post := mustPost(t, service, "author", "wall-1", "root")
	top := mustComment(t, service, "reader", post.PostID, "", "top")

	item := reaction.ItemRef{Kind: reaction.KindComment, ID: top.CommentID}
	if _, err := service.reactions.Toggle(context.Background(), item, "viewer", "👍"); err != nil {
		t.Fatalf("unexpected toggle error: %v", err)
	}

	view, err := service.GetThread(context.Background(), post.PostID, "viewer")
	if err != nil {
		t.Fatalf("unexpected view error: %v", err)
	}
	node := view.Comments[0]
	if len(node.Reactions) != 1 || node.Reactions[0].Emoji != "👍" {
		t.Fatalf("expected reaction group on comment, got %#v", node.Reactions)
	}
	if node.ViewerReaction != "👍" {
		t.Fatalf("expected viewer reaction, got %q", node.ViewerReaction)
	}
}

func TestListPostsSkipsDeleted(t *testing.T) {
	service, _ := newTestService(t)
	kept := mustPost(t, service, "author", "wall-1", "kept")
	gone := mustPost(t, service, "author", "wall-1", "gone")
	if err := service.SoftDeletePost(context.Background(), gone.PostID, "author"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}

	rows, err := service.ListPosts(context.Background(), "wall-1", 1, 20)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(rows) != 1 || rows[0].PostID != kept.PostID {
		t.Fatalf("unexpected posts: %#v", rows)
	}
}
