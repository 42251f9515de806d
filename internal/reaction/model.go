package reaction

// ItemKind distinguishes the content variants that accept reactions.
type ItemKind string

const (
	// KindPost is a top-level wall post.
	KindPost ItemKind = "post"
	// KindComment is a nested thread comment.
	KindComment ItemKind = "comment"
	// KindChatMessage is a direct-channel message.
	KindChatMessage ItemKind = "chat_message"
)

// ItemRef addresses one reactable content item.
type ItemRef struct {
	Kind ItemKind
	ID   string
}

// Room names the transport room carrying reaction updates for the item.
func (r ItemRef) Room() string {
	return string(r.Kind) + ":" + r.ID
}

// Reaction stores one user's single reaction on one item. The unique index
// over (item kind, item id, user id) enforces at most one reaction per user
// per item at the schema level.
type Reaction struct {
	ReactionID       string   `gorm:"column:reaction_id;primaryKey;size:190;not null"`
	ItemKind         ItemKind `gorm:"column:item_kind;size:32;not null;uniqueIndex:idx_reactions_item_user,priority:1"`
	ItemID           string   `gorm:"column:item_id;size:190;not null;uniqueIndex:idx_reactions_item_user,priority:2"`
	UserID           string   `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_reactions_item_user,priority:3"`
	Emoji            string   `gorm:"column:emoji;size:64;not null"`
	CreatedAtSeconds int64    `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Reaction) TableName() string {
	return "reactions"
}

// Group is the per-emoji view of an item's reactions: the emoji, how many
// users picked it, and who they are.
type Group struct {
	Emoji string   `json:"emoji"`
	Count int      `json:"count"`
	Users []string `json:"users"`
}
