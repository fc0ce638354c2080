package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/feedhub/feedhub-api/pkg/jobs"
	"github.com/feedhub/feedhub-api/pkg/mailer"
)

// NotificationService dispatches outbound mail through a background queue.
// Enqueueing is fire-and-forget: failures are logged and retried by the queue
// workers, and never fail the request that triggered the notification.
type NotificationService struct {
	queue  *jobs.Queue[mailer.Message]
	sender mailer.Sender
	from   string
	logger *zap.Logger
}

// NewNotificationService builds the service and its backing queue. Call Start
// before enqueueing and Stop on shutdown.
func NewNotificationService(sender mailer.Sender, fromName string, cfg jobs.QueueConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{sender: sender, from: fromName, logger: logger}
	cfg.Logger = logger
	s.queue = jobs.NewQueue("mail", s.deliver, cfg)
	return s
}

// Start launches the queue workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the queue workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// SendWelcome enqueues the post-registration notification.
func (s *NotificationService) SendWelcome(email, username string) {
	s.enqueue("welcome", mailer.Message{
		To:      email,
		Subject: fmt.Sprintf("Welcome to %s", s.from),
		Body:    fmt.Sprintf("Hi %s, your account is ready.", username),
	})
}

// SendResetCode enqueues the password-reset code notification.
func (s *NotificationService) SendResetCode(email, code string) {
	s.enqueue("password_reset", mailer.Message{
		To:      email,
		Subject: "Your password reset code",
		Body:    fmt.Sprintf("Use the code %s within the next minutes to reset your password.", code),
	})
}

// SendAccountDeleted enqueues the account-removal notification.
func (s *NotificationService) SendAccountDeleted(email string) {
	s.enqueue("account_deleted", mailer.Message{
		To:      email,
		Subject: "Your account was removed",
		Body:    "Your account has been deactivated. Contact support if this was unexpected.",
	})
}

func (s *NotificationService) enqueue(kind string, msg mailer.Message) {
	job := jobs.Job[mailer.Message]{ID: uuid.NewString(), Kind: kind, Payload: msg}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Warn("failed to enqueue notification", zap.String("kind", kind), zap.Error(err))
	}
}

func (s *NotificationService) deliver(ctx context.Context, job jobs.Job[mailer.Message]) error {
	return s.sender.Send(ctx, job.Payload)
}
