package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Auth event subjects. Consumers (notification-service, audit pipelines)
// subscribe on auth.> and filter by subject.
const (
	SubjectLoginSucceeded         = "auth.login.succeeded"
	SubjectLoginFailed            = "auth.login.failed"
	SubjectAccountLocked          = "auth.account.locked"
	SubjectAccountUnlocked        = "auth.account.unlocked"
	SubjectPasswordResetRequested = "auth.password.reset_requested"
	SubjectPasswordChanged        = "auth.password.changed"
	SubjectEmailVerified          = "auth.email.verified"
)

const streamName = "AUTH_EVENTS"

// AuthEvent is the wire shape for every auth event. Unused fields are
// omitted per subject.
type AuthEvent struct {
	EventType      string    `json:"event_type"`
	TenantID       string    `json:"tenant_id,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
	Email          string    `json:"email,omitempty"`
	IPAddress      string    `json:"ip_address,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	FailedAttempts int       `json:"failed_attempts,omitempty"`
	AdminID        string    `json:"admin_id,omitempty"`
	LockedUntil    string    `json:"locked_until,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Publisher emits auth audit events to NATS JetStream. All publish methods
// are fire-and-forget from the caller's perspective: failures are logged,
// never surfaced, so an audit outage cannot fail a login.
type Publisher struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *logrus.Entry
}

// NewPublisher connects to NATS and ensures the AUTH_EVENTS stream exists.
func NewPublisher(url string, logger *logrus.Logger) (*Publisher, error) {
	entry := logger.WithField("component", "events.publisher")

	opts := []nats.Option{
		nats.Name("school-access-service"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			entry.WithError(err).Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			entry.WithField("url", nc.ConnectedUrl()).Info("NATS reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			entry.Info("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	// LimitsPolicy so notification and audit consumers can read the same
	// stream independently.
	_, err = js.AddStream(&nats.StreamConfig{
		Name:        streamName,
		Description: "Stream for authentication and account lifecycle events",
		Subjects:    []string{"auth.>"},
		Storage:     nats.FileStorage,
		Retention:   nats.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		MaxMsgs:     100000,
		Discard:     nats.DiscardOld,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		entry.WithError(err).Warn("Could not create AUTH_EVENTS stream (may already exist)")
	}

	entry.WithField("url", url).Info("Connected to NATS")

	return &Publisher{conn: conn, js: js, logger: entry}, nil
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p != nil && p.conn != nil {
		p.conn.Close()
	}
}

func (p *Publisher) LoginSucceeded(ctx context.Context, tenantID, identityID, email, ip, userAgent string) {
	p.publish(ctx, SubjectLoginSucceeded, &AuthEvent{
		TenantID:  tenantID,
		UserID:    identityID,
		Email:     email,
		IPAddress: ip,
		UserAgent: userAgent,
	})
}

func (p *Publisher) LoginFailed(ctx context.Context, tenantID, email, ip, reason string, attempts int) {
	p.publish(ctx, SubjectLoginFailed, &AuthEvent{
		TenantID:       tenantID,
		Email:          email,
		IPAddress:      ip,
		Reason:         reason,
		FailedAttempts: attempts,
	})
}

func (p *Publisher) AccountLocked(ctx context.Context, tenantID, identityID, email string, until time.Time) {
	p.publish(ctx, SubjectAccountLocked, &AuthEvent{
		TenantID:    tenantID,
		UserID:      identityID,
		Email:       email,
		LockedUntil: until.UTC().Format(time.RFC3339),
	})
}

func (p *Publisher) AccountUnlocked(ctx context.Context, tenantID, identityID, email, adminID string) {
	p.publish(ctx, SubjectAccountUnlocked, &AuthEvent{
		TenantID: tenantID,
		UserID:   identityID,
		Email:    email,
		AdminID:  adminID,
	})
}

func (p *Publisher) PasswordResetRequested(ctx context.Context, tenantID, identityID, email string) {
	p.publish(ctx, SubjectPasswordResetRequested, &AuthEvent{
		TenantID: tenantID,
		UserID:   identityID,
		Email:    email,
	})
}

func (p *Publisher) PasswordChanged(ctx context.Context, tenantID, identityID, email string) {
	p.publish(ctx, SubjectPasswordChanged, &AuthEvent{
		TenantID: tenantID,
		UserID:   identityID,
		Email:    email,
	})
}

func (p *Publisher) EmailVerified(ctx context.Context, tenantID, identityID, email string) {
	p.publish(ctx, SubjectEmailVerified, &AuthEvent{
		TenantID: tenantID,
		UserID:   identityID,
		Email:    email,
	})
}

func (p *Publisher) publish(ctx context.Context, subject string, event *AuthEvent) {
	if p == nil || p.js == nil {
		return
	}

	event.EventType = subject
	event.Timestamp = time.Now().UTC()

	data, err := json.Marshal(event)
	if err != nil {
		p.logger.WithError(err).WithField("subject", subject).Error("Failed to marshal auth event")
		return
	}

	if _, err := p.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"subject":   subject,
			"tenant_id": event.TenantID,
			"user_id":   event.UserID,
		}).Error("Failed to publish auth event")
		return
	}

	p.logger.WithFields(logrus.Fields{
		"subject": subject,
		"user_id": event.UserID,
	}).Debug("Auth event published")
}
