package reaction

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/commonshq/commons-backend/internal/event"
	"github.com/commonshq/commons-backend/internal/fault"
	"github.com/commonshq/commons-backend/internal/ident"
)

const (
	opToggle     = "reaction.toggle"
	opReactionOf = "reaction.reaction_of"
	opSummary    = "reaction.summary"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError wraps a reaction failure with a dotted operation.reason code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the dotted operation.reason code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// ServiceConfig describes the dependencies of the reaction engine.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ident.Provider
	Events     event.Publisher
	Logger     *zap.Logger
}

// Service applies single-choice-per-user reaction toggles to content items.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	ids    ident.Provider
	events event.Publisher
	logger *zap.Logger
}

// NewService constructs the reaction engine.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError("reaction.service.new", "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError("reaction.service.new", "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:     cfg.Database,
		clock:  clock,
		ids:    cfg.IDProvider,
		events: cfg.Events,
		logger: logger,
	}, nil
}

// ToggleResult reports the item's reaction groups after a toggle together
// with the acting user's reaction, empty when the toggle removed it.
type ToggleResult struct {
	Groups       []Group
	UserReaction string
}

// Toggle applies the single-reaction toggle: picking the emoji the user
// already holds removes it; any other emoji replaces the previous one.
// Repeating the identical call is an involution, never an error.
func (s *Service) Toggle(ctx context.Context, item ItemRef, userID, emoji string) (ToggleResult, error) {
	emoji = strings.TrimSpace(emoji)
	if item.ID == "" || userID == "" || emoji == "" {
		return ToggleResult{}, newServiceError(opToggle, "missing_argument", fault.ErrInvalidOperation)
	}

	var current string
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Reaction
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("item_kind = ? AND item_id = ? AND user_id = ?", item.Kind, item.ID, userID).
			Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			reactionID, idErr := s.ids.NewID()
			if idErr != nil {
				return newServiceError(opToggle, "id_generation_failed", idErr)
			}
			row := Reaction{
				ReactionID:       reactionID,
				ItemKind:         item.Kind,
				ItemID:           item.ID,
				UserID:           userID,
				Emoji:            emoji,
				CreatedAtSeconds: s.clock().UTC().Unix(),
			}
			if err := tx.Create(&row).Error; err != nil {
				return newServiceError(opToggle, "insert_failed", err)
			}
			current = emoji
		case err != nil:
			return newServiceError(opToggle, "select_failed", err)
		case existing.Emoji == emoji:
			if err := tx.Delete(&Reaction{}, "reaction_id = ?", existing.ReactionID).Error; err != nil {
				return newServiceError(opToggle, "delete_failed", err)
			}
			current = ""
		default:
			if err := tx.Model(&Reaction{}).
				Where("reaction_id = ?", existing.ReactionID).
				Updates(map[string]any{"emoji": emoji, "created_at_s": s.clock().UTC().Unix()}).Error; err != nil {
				return newServiceError(opToggle, "update_failed", err)
			}
			current = emoji
		}
		return nil
	})
	if txErr != nil {
		s.logger.Warn("reaction toggle failed",
			zap.String("item_kind", string(item.Kind)),
			zap.String("item_id", item.ID),
			zap.String("user_id", userID),
			zap.Error(txErr))
		return ToggleResult{}, txErr
	}

	groups, err := s.SummaryFor(ctx, item)
	if err != nil {
		return ToggleResult{}, err
	}

	s.publish(ctx, event.Event{
		Type:    event.TypeReactionChanged,
		Room:    item.Room(),
		ActorID: userID,
		Payload: map[string]string{
			"item_kind": string(item.Kind),
			"item_id":   item.ID,
			"emoji":     current,
		},
	})
	return ToggleResult{Groups: groups, UserReaction: current}, nil
}

// ReactionOf returns the user's current emoji on the item, empty when none.
func (s *Service) ReactionOf(ctx context.Context, item ItemRef, userID string) (string, error) {
	var row Reaction
	err := s.db.WithContext(ctx).
		Where("item_kind = ? AND item_id = ? AND user_id = ?", item.Kind, item.ID, userID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", newServiceError(opReactionOf, "select_failed", err)
	}
	return row.Emoji, nil
}

// SummaryFor builds the grouped per-emoji view of one item's reactions.
// Groups that lose their last user simply do not appear.
func (s *Service) SummaryFor(ctx context.Context, item ItemRef) ([]Group, error) {
	summaries, err := s.SummariesFor(ctx, item.Kind, []string{item.ID})
	if err != nil {
		return nil, err
	}
	return summaries[item.ID], nil
}

// SummariesFor builds grouped reaction views for many items of one kind in a
// single query, keyed by item id. Items without reactions are absent.
func (s *Service) SummariesFor(ctx context.Context, kind ItemKind, itemIDs []string) (map[string][]Group, error) {
	if len(itemIDs) == 0 {
		return map[string][]Group{}, nil
	}
	var rows []Reaction
	err := s.db.WithContext(ctx).
		Where("item_kind = ? AND item_id IN ?", kind, itemIDs).
		Order("created_at_s ASC").
		Find(&rows).Error
	if err != nil {
		return nil, newServiceError(opSummary, "query_failed", err)
	}

	type groupKey struct {
		itemID string
		emoji  string
	}
	grouped := make(map[groupKey][]string)
	for _, row := range rows {
		key := groupKey{itemID: row.ItemID, emoji: row.Emoji}
		grouped[key] = append(grouped[key], row.UserID)
	}

	result := make(map[string][]Group, len(itemIDs))
	for key, users := range grouped {
		result[key.itemID] = append(result[key.itemID], Group{
			Emoji: key.emoji,
			Count: len(users),
			Users: users,
		})
	}
	for itemID := range result {
		sort.Slice(result[itemID], func(i, j int) bool {
			left, right := result[itemID][i], result[itemID][j]
			if left.Count != right.Count {
				return left.Count > right.Count
			}
			return left.Emoji < right.Emoji
		})
	}
	return result, nil
}

// ViewerReactions returns the viewer's emoji per item id for many items of
// one kind in a single query. Items the viewer has not reacted to are absent.
func (s *Service) ViewerReactions(ctx context.Context, kind ItemKind, itemIDs []string, viewerID string) (map[string]string, error) {
	if len(itemIDs) == 0 || viewerID == "" {
		return map[string]string{}, nil
	}
	var rows []Reaction
	err := s.db.WithContext(ctx).
		Where("item_kind = ? AND item_id IN ? AND user_id = ?", kind, itemIDs, viewerID).
		Find(&rows).Error
	if err != nil {
		return nil, newServiceError(opSummary, "viewer_query_failed", err)
	}
	result := make(map[string]string, len(rows))
	for _, row := range rows {
		result[row.ItemID] = row.Emoji
	}
	return result, nil
}

func (s *Service) publish(ctx context.Context, evt event.Event) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, evt)
}
