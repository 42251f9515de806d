package database

import (
	"fmt"
	"testing"
	"time"

	"github.com/commonshq/commons-backend/internal/chat"
	"github.com/commonshq/commons-backend/internal/contact"
	"github.com/commonshq/commons-backend/internal/notification"
)

func memoryDSN() string {
	return fmt.Sprintf("file:database_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
}

func TestOpenSQLiteMigratesSchema(t *testing.T) {
	db, err := OpenSQLite(memoryDSN(), nil)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	for _, table := range []string{
		"users", "contacts", "reactions",
		"walls", "wall_members",
		"posts", "post_comments",
		"chat_channels", "chat_members", "chat_messages", "chat_read_receipts",
		"notifications", "notification_preferences",
		"call_sessions", "call_participants",
		"db_migrations",
	} {
		if !db.Migrator().HasTable(table) {
			t.Fatalf("expected table %q to exist", table)
		}
	}

	row := contact.Contact{
		ContactID:          "contact-1",
		UserLow:            "user-a",
		UserHigh:           "user-b",
		Status:             contact.StatusPending,
		InitiatorID:        "user-a",
		RequestedAtSeconds: 1,
	}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("schema should accept a contact row: %v", err)
	}
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	if _, err := OpenSQLite("", nil); err == nil {
		t.Fatalf("expected an error for an empty path")
	}
}

func TestMigrationsRecordedOnce(t *testing.T) {
	dsn := memoryDSN()
	db, err := OpenSQLite(dsn, nil)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	var count int64
	if err := db.Model(&migrationRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count migrations: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 recorded migrations, got %d", count)
	}

	// Re-opening the same database must not re-run anything.
	if _, err := OpenSQLite(dsn, nil); err != nil {
		t.Fatalf("failed to reopen database: %v", err)
	}
	if err := db.Model(&migrationRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to recount migrations: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected migrations to stay recorded once, got %d", count)
	}
}

func TestBackfillGroupPairKeys(t *testing.T) {
	db, err := OpenSQLite(memoryDSN(), nil)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	legacy := chat.Channel{
		ChannelID:        "chan-legacy",
		Kind:             chat.KindGroup,
		CreatorID:        "user-a",
		PairKey:          "",
		CreatedAtSeconds: 1,
	}
	if err := db.Create(&legacy).Error; err != nil {
		t.Fatalf("failed to seed legacy channel: %v", err)
	}
	if err := backfillGroupPairKeys(db); err != nil {
		t.Fatalf("unexpected backfill error: %v", err)
	}

	var repaired chat.Channel
	if err := db.Where("channel_id = ?", "chan-legacy").Take(&repaired).Error; err != nil {
		t.Fatalf("failed to load channel: %v", err)
	}
	if repaired.PairKey != "chan-legacy" {
		t.Fatalf("expected pair key backfilled with the channel id, got %q", repaired.PairKey)
	}
}

func TestPurgeExpiredUnreadFlags(t *testing.T) {
	db, err := OpenSQLite(memoryDSN(), nil)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	now := time.Now().UTC().Unix()
	rows := []notification.Notification{
		{NotificationID: "n-expired", RecipientID: "user-a", Type: "message-sent", Title: "t", ExpiresAtSeconds: now - 60, CreatedAtSeconds: now - 120},
		{NotificationID: "n-live", RecipientID: "user-a", Type: "message-sent", Title: "t", ExpiresAtSeconds: now + 3600, CreatedAtSeconds: now},
		{NotificationID: "n-forever", RecipientID: "user-a", Type: "message-sent", Title: "t", CreatedAtSeconds: now},
	}
	if err := db.Create(&rows).Error; err != nil {
		t.Fatalf("failed to seed notifications: %v", err)
	}
	if err := purgeExpiredUnreadFlags(db); err != nil {
		t.Fatalf("unexpected purge error: %v", err)
	}

	var expired notification.Notification
	if err := db.Where("notification_id = ?", "n-expired").Take(&expired).Error; err != nil {
		t.Fatalf("failed to load expired row: %v", err)
	}
	if !expired.IsRead {
		t.Fatalf("expected expired notification marked read")
	}
	var stillUnread int64
	if err := db.Model(&notification.Notification{}).
		Where("is_read = ?", false).Count(&stillUnread).Error; err != nil {
		t.Fatalf("failed to count unread: %v", err)
	}
	if stillUnread != 2 {
		t.Fatalf("expected live notifications untouched, got %d unread", stillUnread)
	}
}
