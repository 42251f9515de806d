package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidUserID indicates an empty or oversized user identifier.
var ErrInvalidUserID = errors.New("identity: invalid user id")

// ServiceConfig describes the dependencies for the user directory.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service resolves and registers platform accounts for the coordination core.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// NewService constructs the directory service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("identity: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, now: clock}, nil
}

// Register creates the directory entry when the identifier has not been seen
// before, and refreshes display fields otherwise.
func (s *Service) Register(ctx context.Context, userID, displayName string) (*User, error) {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" || len(trimmed) > 190 {
		return nil, ErrInvalidUserID
	}
	entry := User{
		UserID:      trimmed,
		DisplayName: strings.TrimSpace(displayName),
		IsActive:    true,
		LastSeenAt:  s.now().UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "last_seen_at"}),
	}).Create(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ResolveActive returns the subset of the provided identifiers that do not
// map to an active account. An empty result means every id resolved.
func (s *Service) ResolveActive(ctx context.Context, userIDs []string) ([]string, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var found []string
	err := s.db.WithContext(ctx).
		Model(&User{}).
		Where("user_id IN ? AND is_active = ?", userIDs, true).
		Pluck("user_id", &found).Error
	if err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(found))
	for _, id := range found {
		known[id] = struct{}{}
	}
	var missing []string
	for _, id := range userIDs {
		if _, ok := known[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// Touch updates the last-seen marker for the account.
func (s *Service) Touch(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).
		Model(&User{}).
		Where("user_id = ?", userID).
		Update("last_seen_at", s.now().UTC()).Error
}

// Deactivate marks the account inactive; the row is retained so historic
// content keeps a resolvable author.
func (s *Service) Deactivate(ctx context.Context, userID string) error {
	result := s.db.WithContext(ctx).
		Model(&User{}).
		Where("user_id = ?", userID).
		Update("is_active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInvalidUserID
	}
	return nil
}
