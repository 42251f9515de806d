package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/commonshq/commons-backend/internal/call"
	"github.com/commonshq/commons-backend/internal/chat"
	"github.com/commonshq/commons-backend/internal/contact"
	"github.com/commonshq/commons-backend/internal/identity"
	"github.com/commonshq/commons-backend/internal/notification"
	"github.com/commonshq/commons-backend/internal/reaction"
	"github.com/commonshq/commons-backend/internal/thread"
	"github.com/commonshq/commons-backend/internal/wall"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&identity.User{},
		&contact.Contact{},
		&reaction.Reaction{},
		&wall.Wall{},
		&wall.Member{},
		&thread.Post{},
		&thread.Comment{},
		&chat.Channel{},
		&chat.Member{},
		&chat.Message{},
		&chat.ReadReceipt{},
		&notification.Notification{},
		&notification.Preference{},
		&call.Session{},
		&call.Participant{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
