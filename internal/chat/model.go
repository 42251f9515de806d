package chat

import "encoding/json"

// Kind separates two-party private channels from group channels.
type Kind string

const (
	// KindPrivate is a fixed two-party channel with immutable membership.
	KindPrivate Kind = "private"
	// KindGroup is a multi-party channel with admin-managed membership.
	KindGroup Kind = "group"
)

// Role enumerates channel membership roles.
type Role string

const (
	// RoleMember may read and send messages.
	RoleMember Role = "member"
	// RoleAdmin may additionally manage membership.
	RoleAdmin Role = "admin"
)

// Channel is a private or group conversation. PairKey is the normalized
// "low|high" user pair for private channels, making the pair unique; group
// channels reuse their own id there to keep the index satisfied.
type Channel struct {
	ChannelID           string `gorm:"column:channel_id;primaryKey;size:190;not null"`
	Kind                Kind   `gorm:"column:kind;size:16;not null"`
	Name                string `gorm:"column:name;size:320;not null;default:''"`
	CreatorID           string `gorm:"column:creator_id;size:190;not null"`
	PairKey             string `gorm:"column:pair_key;size:384;not null;uniqueIndex:idx_channels_pair"`
	MaxParticipants     int    `gorm:"column:max_participants;not null;default:0"`
	AllowFileSharing    bool   `gorm:"column:allow_file_sharing;not null;default:true"`
	AllowCalls          bool   `gorm:"column:allow_calls;not null;default:true"`
	IsActive            bool   `gorm:"column:is_active;not null;default:true"`
	LastActivitySeconds int64  `gorm:"column:last_activity_s;not null;default:0"`
	CreatedAtSeconds    int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Channel) TableName() string {
	return "chat_channels"
}

// Room names the transport room carrying this channel's events.
func (c Channel) Room() string {
	return "channel:" + c.ChannelID
}

// Member holds one user's membership in one channel.
type Member struct {
	ChannelID       string `gorm:"column:channel_id;primaryKey;size:190;not null"`
	UserID          string `gorm:"column:user_id;primaryKey;size:190;not null;index"`
	Role            Role   `gorm:"column:role;size:16;not null"`
	JoinedAtSeconds int64  `gorm:"column:joined_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Member) TableName() string {
	return "chat_members"
}

// Message is one entry in a channel's ordered log.
type Message struct {
	MessageID        string `gorm:"column:message_id;primaryKey;size:190;not null"`
	ChannelID        string `gorm:"column:channel_id;size:190;not null;index:idx_messages_channel_created,priority:1"`
	AuthorID         string `gorm:"column:author_id;size:190;not null"`
	Body             string `gorm:"column:body;type:text;not null"`
	AttachmentsJSON  string `gorm:"column:attachments_json;type:text;not null;default:'[]'"`
	IsDeleted        bool   `gorm:"column:is_deleted;not null;default:false"`
	DeletedAtSeconds int64  `gorm:"column:deleted_at_s;not null;default:0"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_messages_channel_created,priority:2"`
	EditedAtSeconds  int64  `gorm:"column:edited_at_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Message) TableName() string {
	return "chat_messages"
}

// ReadReceipt records that a user has read a message. The author's receipt
// is written together with the message itself.
type ReadReceipt struct {
	MessageID     string `gorm:"column:message_id;primaryKey;size:190;not null"`
	UserID        string `gorm:"column:user_id;primaryKey;size:190;not null;index"`
	ChannelID     string `gorm:"column:channel_id;size:190;not null;index"`
	ReadAtSeconds int64  `gorm:"column:read_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ReadReceipt) TableName() string {
	return "chat_read_receipts"
}

// Settings carries the adjustable group channel options.
type Settings struct {
	MaxParticipants  int  `json:"max_participants"`
	AllowFileSharing bool `json:"allow_file_sharing"`
	AllowCalls       bool `json:"allow_calls"`
}

func privatePairKey(low, high string) string {
	return low + "|" + high
}

func normalizePair(userA, userB string) (string, string) {
	if userA > userB {
		return userB, userA
	}
	return userA, userB
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
