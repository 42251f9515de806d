package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/commonshq/commons-backend/internal/chat"
	"github.com/commonshq/commons-backend/internal/notification"
)

const (
	migrationBackfillGroupPairKeys   = "2026-06-18_backfill_group_pair_keys"
	migrationPurgeExpiredUnreadFlags = "2026-08-02_purge_expired_unread_flags"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillGroupPairKeys, apply: backfillGroupPairKeys},
		{name: migrationPurgeExpiredUnreadFlags, apply: purgeExpiredUnreadFlags},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Group channels created before the pair_key unique index landed carry an
// empty pair_key, which collides under the index. Reuse the channel id.
func backfillGroupPairKeys(db *gorm.DB) error {
	return db.Model(&chat.Channel{}).
		Where("kind = ? AND (pair_key IS NULL OR pair_key = '')", chat.KindGroup).
		Update("pair_key", gorm.Expr("channel_id")).Error
}

// Expired notifications no longer surface anywhere; clear the unread flag
// so unread counters computed before the expiry filter stay consistent.
func purgeExpiredUnreadFlags(db *gorm.DB) error {
	now := time.Now().UTC().Unix()
	return db.Model(&notification.Notification{}).
		Where("expires_at_s > 0 AND expires_at_s <= ? AND is_read = ?", now, false).
		Updates(map[string]any{"is_read": true, "read_at_s": now}).Error
}
