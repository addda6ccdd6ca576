package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tunefile/apiserver/internal/mail"
	"github.com/tunefile/apiserver/internal/mq"
	"github.com/tunefile/apiserver/types"
)

// EmailWorker consumes workflow events from the notification channel and
// delivers immediate emails to the interested parties. Delivery failures
// are logged; the event is still acknowledged so one broken mailbox cannot
// clog the queue.
type EmailWorker struct {
	users  UserDirectory
	mailer mail.Mailer
	logger *slog.Logger
}

func NewEmailWorker(users UserDirectory, mailer mail.Mailer, logger *slog.Logger) *EmailWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailWorker{
		users:  users,
		mailer: mailer,
		logger: logger,
	}
}

// Run subscribes to the notification channel until the context is
// cancelled.
func (w *EmailWorker) Run(ctx context.Context, queue *mq.MQ) error {
	return queue.Subscribe(ctx, NotificationChannel, w.Handle)
}

// Handle processes one queued workflow event.
func (w *EmailWorker) Handle(ctx context.Context, msg mq.Message) error {
	var event Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		w.logger.Error("malformed notification event", "id", msg.ID, "err", err)
		return nil
	}

	for _, userID := range w.recipients(event) {
		user, err := w.users.GetByID(ctx, userID)
		if err != nil {
			w.logger.Warn("email recipient lookup failed", "user", userID, "err", err)
			continue
		}
		subject := fmt.Sprintf("Update on file #%d", event.FileID)
		body := emailBody(event, user)
		if err := w.mailer.Send(ctx, user.Email, subject, body); err != nil {
			w.logger.Warn("email send failed", "user", userID, "err", err)
		}
	}
	return nil
}

func (w *EmailWorker) recipients(event Event) []int {
	var ids []int
	if event.OwnerID != 0 && event.OwnerID != event.ActorID {
		ids = append(ids, event.OwnerID)
	}
	if event.ExpertID != 0 && event.ExpertID != event.ActorID {
		ids = append(ids, event.ExpertID)
	}
	return dedupe(ids)
}

func emailBody(event Event, user types.User) string {
	var line string
	switch event.Kind {
	case types.NotifyStatusChange:
		line = statusMessage(event.NewStatus, event.FileID)
	case types.NotifyNewComment:
		line = fmt.Sprintf("A new comment was posted on file #%d.", event.FileID)
	case types.NotifyAssignment:
		line = fmt.Sprintf("File #%d was assigned.", event.FileID)
	default:
		line = fmt.Sprintf("File #%d was updated.", event.FileID)
	}
	return fmt.Sprintf("Hello %s,\n\n%s\n", user.Name, line)
}
