package contact

import (
	"context"
	"errors"
	"testing"

	"github.com/commonshq/commons-backend/internal/event"
	"github.com/commonshq/commons-backend/internal/fault"
)

func TestRequestCreatesPendingRow(t *testing.T) {
	service, publisher, db := newTestService(t, []string{"contact-1"})

	row := mustRequest(t, service, "user-b", "user-a")
	if row.Status != StatusPending {
		t.Fatalf("expected pending status, got %s", row.Status)
	}
	if row.UserLow != "user-a" || row.UserHigh != "user-b" {
		t.Fatalf("expected normalized pair, got (%s, %s)", row.UserLow, row.UserHigh)
	}
	if row.InitiatorID != "user-b" {
		t.Fatalf("expected initiator to be requester, got %s", row.InitiatorID)
	}

	var count int64
	if err := db.Model(&Contact{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one row, got %d", count)
	}

	events := publisher.recorded()
	if len(events) != 1 || events[0].Type != event.TypeContactRequested {
		t.Fatalf("unexpected events: %#v", events)
	}
	if len(events[0].NotifyUserIDs) != 1 || events[0].NotifyUserIDs[0] != "user-a" {
		t.Fatalf("expected recipient to be notified, got %v", events[0].NotifyUserIDs)
	}
}

func TestRequestRejectsSelf(t *testing.T) {
	service, _, _ := newTestService(t, []string{"contact-1"})
	_, err := service.Request(context.Background(), "user-a", "user-a", "")
	if !errors.Is(err, fault.ErrSelfReference) {
		t.Fatalf("expected self reference error, got %v", err)
	}
}

func TestRequestIsSymmetricallyUnique(t *testing.T) {
	service, _, _ := newTestService(t, []string{"contact-1", "contact-2"})
	mustRequest(t, service, "user-a", "user-b")

	// The reversed direction addresses the same pair row.
	_, err := service.Request(context.Background(), "user-b", "user-a", "")
	if !errors.Is(err, fault.ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
}

func TestRespondAcceptByRecipient(t *testing.T) {
	service, publisher, _ := newTestService(t, []string{"contact-1"})
	row := mustRequest(t, service, "user-a", "user-b")

	updated, err := service.Respond(context.Background(), row.ContactID, "user-b", ActionAccept)
	if err != nil {
		t.Fatalf("unexpected respond error: %v", err)
	}
	if updated.Status != StatusAccepted {
		t.Fatalf("expected accepted, got %s", updated.Status)
	}

	status, err := service.StatusOf(context.Background(), "user-b", "user-a")
	if err != nil {
		t.Fatalf("unexpected status error: %v", err)
	}
	if status != StatusAccepted {
		t.Fatalf("expected symmetric accepted status, got %s", status)
	}

	events := publisher.recorded()
	if len(events) != 2 || events[1].Type != event.TypeContactAccepted {
		t.Fatalf("unexpected events: %#v", events)
	}
	if len(events[1].NotifyUserIDs) != 1 || events[1].NotifyUserIDs[0] != "user-a" {
		t.Fatalf("expected initiator to be notified, got %v", events[1].NotifyUserIDs)
	}
}

func TestRespondRejectsInitiator(t *testing.T) {
	service, _, _ := newTestService(t, []string{"contact-1"})
	row := mustRequest(t, service, "user-a", "user-b")

	_, err := service.Respond(context.Background(), row.ContactID, "user-a", ActionAccept)
	if !errors.Is(err, fault.ErrNotAuthorized) {
		t.Fatalf("expected not authorized, got %v", err)
	}
}

func TestRespondRejectsSecondAnswer(t *testing.T) {
	service, _, _ := newTestService(t, []string{"contact-1"})
	row := mustRequest(t, service, "user-a", "user-b")

	if _, err := service.Respond(context.Background(), row.ContactID, "user-b", ActionDecline); err != nil {
		t.Fatalf("unexpected respond error: %v", err)
	}
	_, err := service.Respond(context.Background(), row.ContactID, "user-b", ActionAccept)
	if !errors.Is(err, fault.ErrAlreadyProcessed) {
		t.Fatalf("expected already processed, got %v", err)
	}
}

func TestBlockDominatesAndOnlyBlockerUnblocks(t *testing.T) {
	service, _, _ := newTestService(t, []string{"contact-1"})
	row := mustRequest(t, service, "user-a", "user-b")
	if _, err := service.Respond(context.Background(), row.ContactID, "user-b", ActionAccept); err != nil {
		t.Fatalf("unexpected respond error: %v", err)
	}

	blocked, err := service.Block(context.Background(), "user-a", "user-b")
	if err != nil {
		t.Fatalf("unexpected block error: %v", err)
	}
	if blocked.Status != StatusBlocked || blocked.BlockedByID != "user-a" {
		t.Fatalf("unexpected blocked row: %#v", blocked)
	}

	// A repeated block by the peer stays attributed to the first blocker.
	again, err := service.Block(context.Background(), "user-b", "user-a")
	if err != nil {
		t.Fatalf("unexpected repeat block error: %v", err)
	}
	if again.BlockedByID != "user-a" {
		t.Fatalf("expected block attribution to survive, got %s", again.BlockedByID)
	}

	err = service.Unblock(context.Background(), "user-b", "user-a")
	if !errors.Is(err, fault.ErrNotAuthorized) {
		t.Fatalf("expected not authorized for non-blocker, got %v", err)
	}
	if err := service.Unblock(context.Background(), "user-a", "user-b"); err != nil {
		t.Fatalf("unexpected unblock error: %v", err)
	}

	status, err := service.StatusOf(context.Background(), "user-a", "user-b")
	if err != nil {
		t.Fatalf("unexpected status error: %v", err)
	}
	if status != StatusNone {
		t.Fatalf("expected cleared pair, got %s", status)
	}
}

func TestBlockCreatesRowWhenAbsent(t *testing.T) {
	service, _, _ := newTestService(t, []string{"contact-1"})
	row, err := service.Block(context.Background(), "user-a", "user-b")
	if err != nil {
		t.Fatalf("unexpected block error: %v", err)
	}
	if row.Status != StatusBlocked {
		t.Fatalf("expected blocked, got %s", row.Status)
	}
}

func TestRemoveDeletesAcceptedPair(t *testing.T) {
	service, _, _ := newTestService(t, []string{"contact-1"})
	row := mustRequest(t, service, "user-a", "user-b")
	if _, err := service.Respond(context.Background(), row.ContactID, "user-b", ActionAccept); err != nil {
		t.Fatalf("unexpected respond error: %v", err)
	}

	if err := service.Remove(context.Background(), "user-b", "user-a"); err != nil {
		t.Fatalf("unexpected remove error: %v", err)
	}
	status, err := service.StatusOf(context.Background(), "user-a", "user-b")
	if err != nil {
		t.Fatalf("unexpected status error: %v", err)
	}
	if status != StatusNone {
		t.Fatalf("expected none after removal, got %s", status)
	}
}

func TestRemoveRefusesBlockedPair(t *testing.T) {
	service, _, _ := newTestService(t, []string{"contact-1"})
	if _, err := service.Block(context.Background(), "user-a", "user-b"); err != nil {
		t.Fatalf("unexpected block error: %v", err)
	}
	err := service.Remove(context.Background(), "user-b", "user-a")
	if !errors.Is(err, fault.ErrNotAuthorized) {
		t.Fatalf("expected not authorized, got %v", err)
	}
}

func TestListContactsFiltersByStatus(t *testing.T) {
	service, _, _ := newTestService(t, []string{"contact-1", "contact-2"})
	first := mustRequest(t, service, "user-a", "user-b")
	mustRequest(t, service, "user-a", "user-c")
	if _, err := service.Respond(context.Background(), first.ContactID, "user-b", ActionAccept); err != nil {
		t.Fatalf("unexpected respond error: %v", err)
	}

	accepted, err := service.ListContacts(context.Background(), "user-a", StatusAccepted, 1, 20)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(accepted) != 1 || accepted[0].PeerOf("user-a") != "user-b" {
		t.Fatalf("unexpected accepted rows: %#v", accepted)
	}

	all, err := service.ListContacts(context.Background(), "user-a", StatusNone, 1, 20)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected two rows, got %d", len(all))
	}
}
