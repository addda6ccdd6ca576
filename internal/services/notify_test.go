package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/tunefile/apiserver/types"
)

func TestFanOutStatusChange(t *testing.T) {
	users := newFakeUserRepo(customer, expert, admin)
	repo := &fakeNotificationRepo{}
	svc := NewNotificationService(repo, users, nil, nil)

	created := svc.FanOut(context.Background(), Event{
		Kind:      types.NotifyStatusChange,
		FileID:    7,
		ActorID:   admin.ID,
		OwnerID:   customer.ID,
		ExpertID:  expert.ID,
		NewStatus: types.StatusCompleted,
	})
	if created != 2 {
		t.Fatalf("created: got %d, want 2 (owner and expert)", created)
	}

	owner := repo.forRecipient(customer.ID)
	if len(owner) != 1 {
		t.Fatalf("owner notifications: got %d, want 1", len(owner))
	}
	if owner[0].Message == "" || owner[0].FileID != 7 {
		t.Fatalf("unexpected notification: %+v", owner[0])
	}
}

func TestFanOutStatusChangeWithoutExpert(t *testing.T) {
	users := newFakeUserRepo(customer, admin)
	repo := &fakeNotificationRepo{}
	svc := NewNotificationService(repo, users, nil, nil)

	created := svc.FanOut(context.Background(), Event{
		Kind:      types.NotifyStatusChange,
		FileID:    7,
		ActorID:   admin.ID,
		OwnerID:   customer.ID,
		NewStatus: types.StatusProcessing,
	})
	if created != 1 {
		t.Fatalf("created: got %d, want 1 (owner only)", created)
	}
}

func TestFanOutCommentExcludesAuthor(t *testing.T) {
	users := newFakeUserRepo(customer, expert, admin)
	repo := &fakeNotificationRepo{}
	svc := NewNotificationService(repo, users, nil, nil)

	created := svc.FanOut(context.Background(), Event{
		Kind:     types.NotifyNewComment,
		FileID:   7,
		ActorID:  customer.ID,
		OwnerID:  customer.ID,
		ExpertID: expert.ID,
	})
	// Expert and admin, not the commenting owner.
	if created != 2 {
		t.Fatalf("created: got %d, want 2", created)
	}
	if len(repo.forRecipient(customer.ID)) != 0 {
		t.Fatal("comment author received a notification")
	}
}

func TestFanOutCommentByAdminDedupes(t *testing.T) {
	users := newFakeUserRepo(customer, admin)
	repo := &fakeNotificationRepo{}
	svc := NewNotificationService(repo, users, nil, nil)

	// Admin comments on an unassigned file: only the owner is left after
	// excluding the author from the admin set.
	created := svc.FanOut(context.Background(), Event{
		Kind:    types.NotifyNewComment,
		FileID:  7,
		ActorID: admin.ID,
		OwnerID: customer.ID,
	})
	if created != 1 {
		t.Fatalf("created: got %d, want 1", created)
	}
}

func TestFanOutNewFileGoesToAdmins(t *testing.T) {
	secondAdmin := types.User{ID: 5, Username: "chef2", Role: types.RoleAdmin}
	users := newFakeUserRepo(customer, expert, admin, secondAdmin)
	repo := &fakeNotificationRepo{}
	svc := NewNotificationService(repo, users, nil, nil)

	created := svc.FanOut(context.Background(), Event{
		Kind:    types.NotifyNewFile,
		FileID:  7,
		ActorID: customer.ID,
		OwnerID: customer.ID,
	})
	if created != 2 {
		t.Fatalf("created: got %d, want 2 admins", created)
	}
	if len(repo.forRecipient(expert.ID)) != 0 {
		t.Fatal("expert notified about unassigned new file")
	}
}

func TestFanOutPartialFailure(t *testing.T) {
	users := newFakeUserRepo(customer, expert, admin)
	repo := &fakeNotificationRepo{failRecipient: expert.ID}
	svc := NewNotificationService(repo, users, nil, nil)

	created := svc.FanOut(context.Background(), Event{
		Kind:      types.NotifyStatusChange,
		FileID:    7,
		ActorID:   admin.ID,
		OwnerID:   customer.ID,
		ExpertID:  expert.ID,
		NewStatus: types.StatusProcessing,
	})
	// The failed insert for the expert must not block the owner's copy.
	if created != 1 {
		t.Fatalf("created: got %d, want 1", created)
	}
	if len(repo.forRecipient(customer.ID)) != 1 {
		t.Fatal("owner notification missing after partial failure")
	}
}

func TestFanOutPublishesEvent(t *testing.T) {
	users := newFakeUserRepo(customer, admin)
	repo := &fakeNotificationRepo{}
	publisher := &fakePublisher{}
	svc := NewNotificationService(repo, users, publisher, nil)

	event := Event{
		Kind:      types.NotifyStatusChange,
		FileID:    7,
		ActorID:   admin.ID,
		OwnerID:   customer.ID,
		NewStatus: types.StatusCompleted,
	}
	svc.FanOut(context.Background(), event)

	if len(publisher.published) != 1 {
		t.Fatalf("published: got %d messages, want 1", len(publisher.published))
	}
	if publisher.channels[0] != NotificationChannel {
		t.Fatalf("channel: got %q, want %q", publisher.channels[0], NotificationChannel)
	}

	var decoded Event
	if err := json.Unmarshal(publisher.published[0], &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded != event {
		t.Fatalf("round-tripped event %+v differs from %+v", decoded, event)
	}
}

func TestNotificationCRUDScopedToRecipient(t *testing.T) {
	users := newFakeUserRepo(customer, expert)
	repo := &fakeNotificationRepo{}
	svc := NewNotificationService(repo, users, nil, nil)

	n, err := repo.Create(context.Background(), types.Notification{RecipientID: customer.ID, Kind: types.NotifyStatusChange, Message: "x"})
	if err != nil {
		t.Fatal(err)
	}

	// Another user cannot touch it.
	if err := svc.MarkRead(context.Background(), n.ID, expert.ID); err == nil {
		t.Fatal("expected error marking someone else's notification")
	}
	if err := svc.Delete(context.Background(), n.ID, expert.ID); err == nil {
		t.Fatal("expected error deleting someone else's notification")
	}

	if err := svc.MarkRead(context.Background(), n.ID, customer.ID); err != nil {
		t.Fatal(err)
	}
	unread, err := svc.List(context.Background(), customer.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(unread) != 0 {
		t.Fatalf("unread after mark read: got %d, want 0", len(unread))
	}

	if err := svc.Clear(context.Background(), customer.ID); err != nil {
		t.Fatal(err)
	}
	all, err := svc.List(context.Background(), customer.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Fatalf("notifications after clear: got %d, want 0", len(all))
	}
}
