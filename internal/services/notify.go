package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tunefile/apiserver/types"
)

// NotificationChannel is the message-queue channel workflow events are
// published on for out-of-band delivery (email worker).
const NotificationChannel = "notifications"

// NotificationRepository defines persistence operations for notifications.
type NotificationRepository interface {
	Create(ctx context.Context, n types.Notification) (types.Notification, error)
	ListByRecipient(ctx context.Context, recipientID int, unreadOnly bool) ([]types.Notification, error)
	MarkRead(ctx context.Context, id, recipientID int) error
	Delete(ctx context.Context, id, recipientID int) error
	Clear(ctx context.Context, recipientID int) error
}

// UserDirectory is the read-only user lookup the dispatcher needs to
// compute recipient sets.
type UserDirectory interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	ListByRole(ctx context.Context, role string) ([]types.User, error)
}

// Publisher sends an event to a message-queue channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// Event is a workflow occurrence the dispatcher fans out.
type Event struct {
	Kind    types.NotificationKind `json:"kind"`
	FileID  int                    `json:"file_id"`
	ActorID int                    `json:"actor_id"`

	// OwnerID and ExpertID are the interested parties on the file.
	// ExpertID is zero when no expert is assigned.
	OwnerID  int `json:"owner_id"`
	ExpertID int `json:"expert_id,omitempty"`

	// NewStatus is set for status_change events.
	NewStatus types.FileStatus `json:"new_status,omitempty"`
}

// NotificationService creates notification records from workflow events
// and offers the notification CRUD surface.
type NotificationService struct {
	repo      NotificationRepository
	users     UserDirectory
	publisher Publisher
	logger    *slog.Logger
}

// NewNotificationService constructs the dispatcher. publisher may be nil,
// in which case events are only persisted, not forwarded to the queue.
func NewNotificationService(repo NotificationRepository, users UserDirectory, publisher Publisher, logger *slog.Logger) *NotificationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationService{
		repo:      repo,
		users:     users,
		publisher: publisher,
		logger:    logger,
	}
}

// FanOut computes the recipient set for the event and creates one
// notification per recipient. A failed insert for one recipient is logged
// and does not abort the others, and fan-out never fails the triggering
// operation: the returned count is informational.
func (s *NotificationService) FanOut(ctx context.Context, event Event) int {
	recipients, message := s.resolve(ctx, event)

	created := 0
	for _, recipientID := range recipients {
		_, err := s.repo.Create(ctx, types.Notification{
			RecipientID: recipientID,
			Kind:        event.Kind,
			Message:     message,
			FileID:      event.FileID,
		})
		if err != nil {
			s.logger.Error("notification create failed",
				"recipient", recipientID, "kind", event.Kind, "file", event.FileID, "err", err)
			continue
		}
		created++
	}

	if s.publisher != nil {
		payload, err := json.Marshal(event)
		if err == nil {
			_, err = s.publisher.Publish(ctx, NotificationChannel, payload, map[string]string{
				"kind": string(event.Kind),
			})
		}
		if err != nil {
			s.logger.Warn("notification publish failed", "kind", event.Kind, "err", err)
		}
	}

	return created
}

// resolve returns the deduplicated recipient set and the message text for
// the event. The actor is never a recipient of their own comment.
func (s *NotificationService) resolve(ctx context.Context, event Event) ([]int, string) {
	var recipients []int
	var message string

	switch event.Kind {
	case types.NotifyStatusChange:
		message = statusMessage(event.NewStatus, event.FileID)
		recipients = append(recipients, event.OwnerID)
		if event.ExpertID != 0 {
			recipients = append(recipients, event.ExpertID)
		}

	case types.NotifyNewComment:
		message = fmt.Sprintf("New comment on file #%d", event.FileID)
		recipients = append(recipients, event.OwnerID)
		if event.ExpertID != 0 {
			recipients = append(recipients, event.ExpertID)
		}
		recipients = append(recipients, s.adminIDs(ctx)...)
		recipients = exclude(recipients, event.ActorID)

	case types.NotifyNewFile:
		message = fmt.Sprintf("New file #%d submitted", event.FileID)
		recipients = s.adminIDs(ctx)

	case types.NotifyAssignment:
		message = fmt.Sprintf("File #%d has been assigned to an expert", event.FileID)
		if event.ExpertID != 0 {
			recipients = append(recipients, event.ExpertID)
		}
		recipients = append(recipients, event.OwnerID)
	}

	return dedupe(recipients), message
}

func statusMessage(status types.FileStatus, fileID int) string {
	switch status {
	case types.StatusPending:
		return fmt.Sprintf("File #%d has been received", fileID)
	case types.StatusProcessing:
		return fmt.Sprintf("File #%d is in progress", fileID)
	case types.StatusCompleted:
		return fmt.Sprintf("File #%d is ready for download", fileID)
	case types.StatusRejected:
		return fmt.Sprintf("File #%d was rejected, see comments", fileID)
	default:
		return fmt.Sprintf("File #%d status changed", fileID)
	}
}

func (s *NotificationService) adminIDs(ctx context.Context) []int {
	admins, err := s.users.ListByRole(ctx, types.RoleAdmin)
	if err != nil {
		s.logger.Error("admin lookup failed", "err", err)
		return nil
	}
	ids := make([]int, 0, len(admins))
	for _, admin := range admins {
		ids = append(ids, admin.ID)
	}
	return ids
}

func exclude(ids []int, drop int) []int {
	filtered := ids[:0]
	for _, id := range ids {
		if id != drop {
			filtered = append(filtered, id)
		}
	}
	return filtered
}

func dedupe(ids []int) []int {
	seen := make(map[int]bool, len(ids))
	unique := ids[:0]
	for _, id := range ids {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}
	return unique
}

// List returns the recipient's notifications.
func (s *NotificationService) List(ctx context.Context, recipientID int, unreadOnly bool) ([]types.Notification, error) {
	return s.repo.ListByRecipient(ctx, recipientID, unreadOnly)
}

// MarkRead flags one of the recipient's notifications as read.
func (s *NotificationService) MarkRead(ctx context.Context, id, recipientID int) error {
	return s.repo.MarkRead(ctx, id, recipientID)
}

// Delete removes one of the recipient's notifications.
func (s *NotificationService) Delete(ctx context.Context, id, recipientID int) error {
	return s.repo.Delete(ctx, id, recipientID)
}

// Clear removes all of the recipient's notifications.
func (s *NotificationService) Clear(ctx context.Context, recipientID int) error {
	return s.repo.Clear(ctx, recipientID)
}
