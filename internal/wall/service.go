package wall

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/commonshq/commons-backend/internal/fault"
	"github.com/commonshq/commons-backend/internal/ident"
)

// Role enumerates wall membership roles.
type Role string

const (
	// RoleMember may read and post on the wall.
	RoleMember Role = "member"
	// RoleModerator may additionally moderate content and start calls.
	RoleModerator Role = "moderator"
)

// Wall is the container scope for top-level posts and wall-scoped calls.
type Wall struct {
	WallID           string    `gorm:"column:wall_id;primaryKey;size:190;not null"`
	OwnerID          string    `gorm:"column:owner_id;size:190;not null"`
	Title            string    `gorm:"column:title;size:320;not null;default:''"`
	AllowMemberCalls bool      `gorm:"column:allow_member_calls;not null;default:false"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Wall) TableName() string {
	return "walls"
}

// Member holds one user's membership on one wall.
type Member struct {
	WallID   string    `gorm:"column:wall_id;primaryKey;size:190;not null"`
	UserID   string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	Role     Role      `gorm:"column:role;size:16;not null"`
	JoinedAt time.Time `gorm:"column:joined_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Member) TableName() string {
	return "wall_members"
}

// ServiceConfig describes the dependencies of the wall scope store.
type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider ident.Provider
}

// Service answers membership and moderation questions for wall scopes.
type Service struct {
	db  *gorm.DB
	ids ident.Provider
}

// NewService constructs the wall scope store.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("wall: database connection required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("wall: id provider required")
	}
	return &Service{db: cfg.Database, ids: cfg.IDProvider}, nil
}

// Create registers a wall owned by the given user, who becomes a moderator.
func (s *Service) Create(ctx context.Context, ownerID, title string, allowMemberCalls bool) (*Wall, error) {
	wallID, err := s.ids.NewID()
	if err != nil {
		return nil, err
	}
	row := Wall{
		WallID:           wallID,
		OwnerID:          ownerID,
		Title:            title,
		AllowMemberCalls: allowMemberCalls,
	}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return tx.Create(&Member{WallID: wallID, UserID: ownerID, Role: RoleModerator}).Error
	})
	if txErr != nil {
		return nil, txErr
	}
	return &row, nil
}

// AddMember enrolls a user on the wall. Re-adding an existing member is a
// no-op so transport retries stay safe.
func (s *Service) AddMember(ctx context.Context, wallID, userID string, role Role) error {
	if role == "" {
		role = RoleMember
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&Member{WallID: wallID, UserID: userID, Role: role}).Error
}

// IsMember reports whether the user belongs to the wall.
func (s *Service) IsMember(ctx context.Context, wallID, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Member{}).
		Where("wall_id = ? AND user_id = ?", wallID, userID).
		Count(&count).Error
	return count > 0, err
}

// IsModerator reports whether the user moderates the wall.
func (s *Service) IsModerator(ctx context.Context, wallID, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Member{}).
		Where("wall_id = ? AND user_id = ? AND role = ?", wallID, userID, RoleModerator).
		Count(&count).Error
	return count > 0, err
}

// Get loads a wall by id.
func (s *Service) Get(ctx context.Context, wallID string) (*Wall, error) {
	var row Wall
	err := s.db.WithContext(ctx).Where("wall_id = ?", wallID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fault.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
