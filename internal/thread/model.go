package thread

import "encoding/json"

// Post is a top-level wall post and the root of a comment thread.
type Post struct {
	PostID           string `gorm:"column:post_id;primaryKey;size:190;not null"`
	ScopeID          string `gorm:"column:scope_id;size:190;not null;index:idx_posts_scope_created,priority:1"`
	AuthorID         string `gorm:"column:author_id;size:190;not null;index"`
	Body             string `gorm:"column:body;type:text;not null"`
	AttachmentsJSON  string `gorm:"column:attachments_json;type:text;not null;default:'[]'"`
	CommentsCount    int64  `gorm:"column:comments_count;not null;default:0"`
	IsDeleted        bool   `gorm:"column:is_deleted;not null;default:false"`
	DeletedAtSeconds int64  `gorm:"column:deleted_at_s;not null;default:0"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_posts_scope_created,priority:2"`
	EditedAtSeconds  int64  `gorm:"column:edited_at_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Post) TableName() string {
	return "posts"
}

// Comment is a nested reply inside a thread. ParentCommentID is empty for
// top-level comments; every comment also records its root post so a whole
// thread loads with a single query.
type Comment struct {
	CommentID        string `gorm:"column:comment_id;primaryKey;size:190;not null"`
	PostID           string `gorm:"column:post_id;size:190;not null;index"`
	ParentCommentID  string `gorm:"column:parent_comment_id;size:190;not null;default:'';index"`
	AuthorID         string `gorm:"column:author_id;size:190;not null"`
	Body             string `gorm:"column:body;type:text;not null"`
	AttachmentsJSON  string `gorm:"column:attachments_json;type:text;not null;default:'[]'"`
	RepliesCount     int64  `gorm:"column:replies_count;not null;default:0"`
	Depth            int    `gorm:"column:depth;not null;default:1"`
	IsDeleted        bool   `gorm:"column:is_deleted;not null;default:false"`
	DeletedAtSeconds int64  `gorm:"column:deleted_at_s;not null;default:0"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	EditedAtSeconds  int64  `gorm:"column:edited_at_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Comment) TableName() string {
	return "post_comments"
}

func encodeAttachments(attachments []string) string {
	if len(attachments) == 0 {
		return "[]"
	}
	encoded, err := json.Marshal(attachments)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}

func decodeAttachments(raw string) []string {
	if raw == "" || raw == "[]" {
		return nil
	}
	var attachments []string
	if err := json.Unmarshal([]byte(raw), &attachments); err != nil {
		return nil
	}
	return attachments
}
