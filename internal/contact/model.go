package contact

// Status enumerates the pairwise relationship states.
type Status string

const (
	// StatusNone is the implicit state when no row exists for a pair.
	StatusNone Status = "none"
	// StatusPending marks an unanswered contact request.
	StatusPending Status = "pending"
	// StatusAccepted marks a mutual contact.
	StatusAccepted Status = "accepted"
	// StatusDeclined marks a rejected contact request.
	StatusDeclined Status = "declined"
	// StatusBlocked dominates every other state and is cleared only by the blocker.
	StatusBlocked Status = "blocked"
)

// Contact stores one row per unordered user pair. The pair is normalized so
// (a,b) and (b,a) address the same row.
type Contact struct {
	ContactID          string `gorm:"column:contact_id;primaryKey;size:190;not null"`
	UserLow            string `gorm:"column:user_low;size:190;not null;uniqueIndex:idx_contacts_pair,priority:1"`
	UserHigh           string `gorm:"column:user_high;size:190;not null;uniqueIndex:idx_contacts_pair,priority:2"`
	Status             Status `gorm:"column:status;size:16;not null"`
	InitiatorID        string `gorm:"column:initiator_id;size:190;not null"`
	BlockedByID        string `gorm:"column:blocked_by_id;size:190;not null;default:''"`
	Note               string `gorm:"column:note;type:text;not null;default:''"`
	RequestedAtSeconds int64  `gorm:"column:requested_at_s;not null"`
	RespondedAtSeconds int64  `gorm:"column:responded_at_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Contact) TableName() string {
	return "contacts"
}

// PeerOf returns the other member of the pair, or empty when the user is not
// part of the row.
func (c Contact) PeerOf(userID string) string {
	switch userID {
	case c.UserLow:
		return c.UserHigh
	case c.UserHigh:
		return c.UserLow
	default:
		return ""
	}
}

// Involves reports whether the user is one of the pair members.
func (c Contact) Involves(userID string) bool {
	return userID == c.UserLow || userID == c.UserHigh
}

// normalizePair orders two user identifiers into the stored (low, high) form.
func normalizePair(userA, userB string) (string, string) {
	if userA > userB {
		return userB, userA
	}
	return userA, userB
}
