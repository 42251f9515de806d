package notification

// Priority orders notifications for the client.
type Priority string

const (
	// PriorityLow is informational.
	PriorityLow Priority = "low"
	// PriorityNormal is the default.
	PriorityNormal Priority = "normal"
	// PriorityHigh is used for direct interactions such as call invites.
	PriorityHigh Priority = "high"
)

// Notification is one persisted fan-out record for one recipient.
type Notification struct {
	NotificationID     string   `gorm:"column:notification_id;primaryKey;size:190;not null"`
	RecipientID        string   `gorm:"column:recipient_id;size:190;not null;index:idx_notifications_recipient_created,priority:1"`
	SenderID           string   `gorm:"column:sender_id;size:190;not null;default:''"`
	Type               string   `gorm:"column:type;size:64;not null"`
	Title              string   `gorm:"column:title;size:320;not null"`
	Message            string   `gorm:"column:message;type:text;not null;default:''"`
	PayloadJSON        string   `gorm:"column:payload_json;type:text;not null;default:'{}'"`
	Priority           Priority `gorm:"column:priority;size:16;not null;default:'normal'"`
	IsRead             bool     `gorm:"column:is_read;not null;default:false"`
	ReadAtSeconds      int64    `gorm:"column:read_at_s;not null;default:0"`
	IsDelivered        bool     `gorm:"column:is_delivered;not null;default:false"`
	DeliveredAtSeconds int64    `gorm:"column:delivered_at_s;not null;default:0"`
	CreatedAtSeconds   int64    `gorm:"column:created_at_s;not null;index:idx_notifications_recipient_created,priority:2"`
	ExpiresAtSeconds   int64    `gorm:"column:expires_at_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Notification) TableName() string {
	return "notifications"
}

// Preference is one cell row of the per-user delivery matrix: which channels
// carry a given event type. Absent rows default to everything enabled.
type Preference struct {
	UserID    string `gorm:"column:user_id;primaryKey;size:190;not null"`
	EventType string `gorm:"column:event_type;primaryKey;size:64;not null"`
	Email     bool   `gorm:"column:email;not null;default:true"`
	Push      bool   `gorm:"column:push;not null;default:true"`
	InApp     bool   `gorm:"column:in_app;not null;default:true"`
}

// TableName provides the explicit table binding for GORM.
func (Preference) TableName() string {
	return "notification_preferences"
}
