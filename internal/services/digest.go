package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tunefile/apiserver/internal/mail"
	"github.com/tunefile/apiserver/types"
)

// DigestService sends periodic email summaries of unread notifications to
// users who opted in. Delivery is best-effort; a failed send is logged and
// retried on the next due tick.
type DigestService struct {
	users    UserRepository
	repo     NotificationRepository
	mailer   mail.Mailer
	interval time.Duration
	logger   *slog.Logger

	lastSent map[int]time.Time
}

func NewDigestService(users UserRepository, repo NotificationRepository, mailer mail.Mailer, interval time.Duration, logger *slog.Logger) *DigestService {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DigestService{
		users:    users,
		repo:     repo,
		mailer:   mailer,
		interval: interval,
		logger:   logger,
		lastSent: make(map[int]time.Time),
	}
}

// Run ticks until the context is cancelled.
func (s *DigestService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.RunOnce(ctx, now)
		}
	}
}

// RunOnce sends digests to every opted-in user whose period has elapsed.
func (s *DigestService) RunOnce(ctx context.Context, now time.Time) {
	for digest, period := range map[string]time.Duration{
		types.DigestDaily:  24 * time.Hour,
		types.DigestWeekly: 7 * 24 * time.Hour,
	} {
		users, err := s.users.ListByDigest(ctx, digest)
		if err != nil {
			s.logger.Error("digest user lookup failed", "digest", digest, "err", err)
			continue
		}
		for _, user := range users {
			if now.Sub(s.lastSent[user.ID]) < period {
				continue
			}
			if err := s.sendDigest(ctx, user); err != nil {
				s.logger.Warn("digest send failed", "user", user.ID, "err", err)
				continue
			}
			s.lastSent[user.ID] = now
		}
	}
}

func (s *DigestService) sendDigest(ctx context.Context, user types.User) error {
	unread, err := s.repo.ListByRecipient(ctx, user.ID, true)
	if err != nil {
		return err
	}
	if len(unread) == 0 {
		return nil
	}

	body := fmt.Sprintf("Hello %s,\n\nYou have %d unread notifications:\n\n", user.Name, len(unread))
	for _, n := range unread {
		body += fmt.Sprintf("- %s (%s)\n", n.Message, n.CreatedAt.Format("2006-01-02 15:04"))
	}
	subject := fmt.Sprintf("Your tuning file updates (%d unread)", len(unread))

	return s.mailer.Send(ctx, user.Email, subject, body)
}
