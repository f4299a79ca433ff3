package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/138data/datagate-poc-sub000/internal/models"
	"github.com/138data/datagate-poc-sub000/pkg/config"
	"github.com/138data/datagate-poc-sub000/pkg/jobs"
)

// Mailer delivers one outbound message.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogMailer writes messages to the log instead of sending them. It backs
// development environments and any deployment without a mail relay.
type LogMailer struct {
	Logger *zap.Logger
}

func (m *LogMailer) Send(_ context.Context, to, subject, body string) error {
	m.Logger.Info("mail (log only)",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.Int("body_bytes", len(body)),
	)
	return nil
}

type mailPayload struct {
	To        string
	Subject   string
	Body      string
	SubjectID string
}

type notifyMetrics interface {
	ObserveNotification(status string)
}

// NotifyService queues outbound notifications so mail latency never blocks
// a request. Delivery outcomes, including final failures, land in the audit
// trail via the queue's completion hook.
type NotifyService struct {
	mailer  Mailer
	queue   *jobs.Queue
	audit   auditRecorder
	metrics notifyMetrics
	logger  *zap.Logger
	baseURL string
	timeout time.Duration
}

// NewNotifyService wires the mailer behind a worker queue.
func NewNotifyService(mailer Mailer, audit auditRecorder, metrics notifyMetrics, logger *zap.Logger, cfg config.MailerConfig) *NotifyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotifyService{
		mailer:  mailer,
		audit:   audit,
		metrics: metrics,
		logger:  logger,
		baseURL: cfg.BaseURL,
		timeout: cfg.SendTimeout,
	}
	s.queue = jobs.NewQueue("notifications", s.handle, jobs.QueueConfig{
		Workers:    cfg.WorkerConcurrency,
		MaxRetries: cfg.WorkerRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
		OnDone:     s.onDone,
	})
	return s
}

// Start launches the delivery workers.
func (s *NotifyService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *NotifyService) Stop() {
	s.queue.Stop()
}

// NotifyOTP delivers a one-time code to the recipient. The returned flag
// reports whether the message was accepted for delivery, not that it landed.
func (s *NotifyService) NotifyOTP(to, code, exchangeID string, expiresAt time.Time) bool {
	body := fmt.Sprintf(
		"Your access code is %s.\n\nIt expires at %s. Enter it at %s/exchange/%s to download your file.",
		code, expiresAt.Format(time.RFC1123), s.baseURL, exchangeID,
	)
	return s.enqueue(mailPayload{
		To:        to,
		Subject:   "Your file access code",
		Body:      body,
		SubjectID: exchangeID,
	})
}

// NotifyUpload tells the recipient a file is waiting for them.
func (s *NotifyService) NotifyUpload(to, exchangeID string, mode models.DeliveryMode, expiresAt time.Time) {
	body := fmt.Sprintf(
		"A file has been shared with you. Visit %s/exchange/%s and request an access code to download it.\n\nThe file is available until %s.",
		s.baseURL, exchangeID, expiresAt.Format(time.RFC1123),
	)
	if mode == models.DeliveryModeInline {
		body = fmt.Sprintf(
			"A file has been shared with you and will be attached to a follow-up message once you verify at %s/exchange/%s.\n\nThe file is available until %s.",
			s.baseURL, exchangeID, expiresAt.Format(time.RFC1123),
		)
	}
	s.enqueue(mailPayload{
		To:        to,
		Subject:   "A file has been shared with you",
		Body:      body,
		SubjectID: exchangeID,
	})
}

// NotifyAccess tells the sender their file was downloaded. recipientMatched
// reports whether the accessing address was the intended recipient.
func (s *NotifyService) NotifyAccess(to, exchangeID string, recipientMatched bool) {
	verdict := "the address you shared it with"
	if !recipientMatched {
		verdict = "an address other than the one you shared it with"
	}
	body := fmt.Sprintf("Your file (exchange %s) was downloaded by %s.", exchangeID, verdict)
	s.enqueue(mailPayload{
		To:        to,
		Subject:   "Your file was downloaded",
		Body:      body,
		SubjectID: exchangeID,
	})
}

func (s *NotifyService) enqueue(p mailPayload) bool {
	err := s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    "mail",
		Payload: p,
	})
	if err != nil {
		s.logger.Error("failed to enqueue notification", zap.String("to", p.To), zap.Error(err))
		return false
	}
	return true
}

func (s *NotifyService) handle(ctx context.Context, job jobs.Job) error {
	p, ok := job.Payload.(mailPayload)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", job.Payload)
	}
	sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.mailer.Send(sendCtx, p.To, p.Subject, p.Body)
}

func (s *NotifyService) onDone(job jobs.Job, err error) {
	p, ok := job.Payload.(mailPayload)
	if !ok {
		return
	}
	status := models.AuditStatusSuccess
	reason := ""
	if err != nil {
		status = models.AuditStatusFailed
		reason = err.Error()
	}
	if s.metrics != nil {
		s.metrics.ObserveNotification(status)
	}
	// Only the domain goes into the ledger; full addresses stay out of it.
	s.audit.Record(context.Background(), &models.AuditEntry{
		Event:     models.AuditEventNotification,
		Actor:     recipientDomain(p.To),
		SubjectID: p.SubjectID,
		Reason:    reason,
		Status:    status,
	})
}
