package thread

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/commonshq/commons-backend/internal/reaction"
)

type staticIDGenerator struct {
	prefix string
	next   int
}

func (g *staticIDGenerator) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("%s-%d", g.prefix, g.next), nil
}

type staticModerators struct {
	moderators map[string]map[string]bool
}

func (m *staticModerators) IsModerator(_ context.Context, scopeID, userID string) (bool, error) {
	return m.moderators[scopeID][userID], nil
}

func newTestService(t *testing.T) (*Service, *staticModerators) {
	t.Helper()

	dsn := fmt.Sprintf("file:thread_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Post{}, &Comment{}, &reaction.Reaction{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := func() time.Time { return time.Unix(1760000000, 0).UTC() }
	reactions, err := reaction.NewService(reaction.ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: &staticIDGenerator{prefix: "reaction"},
	})
	if err != nil {
		t.Fatalf("failed to construct reaction service: %v", err)
	}

	moderators := &staticModerators{moderators: map[string]map[string]bool{}}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: &staticIDGenerator{prefix: "node"},
		Reactions:  reactions,
		Moderators: moderators,
		DepthLimit: 3,
	})
	if err != nil {
		t.Fatalf("failed to construct thread service: %v", err)
	}
	return service, moderators
}

func mustPost(t *testing.T, service *Service, authorID, scopeID, body string) *Post {
	t.Helper()
	row, err := service.CreatePost(context.Background(), authorID, scopeID, body, nil)
	if err != nil {
		t.Fatalf("unexpected create post error: %v", err)
	}
	return row
}

func mustComment(t *testing.T, service *Service, authorID, postID, parentID, body string) *Comment {
	t.Helper()
	row, err := service.AddComment(context.Background(), authorID, postID, parentID, body, nil)
	if err != nil {
		t.Fatalf("unexpected add comment error: %v", err)
	}
	return row
}

func loadPost(t *testing.T, service *Service, postID string) Post {
	t.Helper()
	var row Post
	if err := service.db.Where("post_id = ?", postID).Take(&row).Error; err != nil {
		t.Fatalf("failed to load post: %v", err)
	}
	return row
}

func loadComment(t *testing.T, service *Service, commentID string) Comment {
	t.Helper()
	var row Comment
	if err := service.db.Where("comment_id = ?", commentID).Take(&row).Error; err != nil {
		t.Fatalf("failed to load comment: %v", err)
	}
	return row
}
