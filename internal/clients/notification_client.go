package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"school-access-service/internal/services"
)

// NotificationClient delivers outbound emails through the notification
// collaborator over HTTP. It implements services.NotificationQueue:
// deliveries happen on a background goroutine with a bounded timeout, so
// the login and registration paths never wait on email.
type NotificationClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Entry
}

// notificationRequest is the collaborator's send API shape.
type notificationRequest struct {
	To        string            `json:"to"`
	Subject   string            `json:"subject"`
	Template  string            `json:"template"`
	Variables map[string]string `json:"variables"`
}

func NewNotificationClient(baseURL string, logger *logrus.Logger) *NotificationClient {
	return &NotificationClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger.WithField("component", "clients.notification"),
	}
}

// Enqueue hands the notification to the collaborator asynchronously.
// Failures are logged and dropped; the collaborator owns retries for
// anything that matters enough to retry.
func (c *NotificationClient) Enqueue(n services.Notification) {
	req, ok := c.buildRequest(n)
	if !ok {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := c.send(ctx, n.TenantID, req); err != nil {
			c.logger.WithError(err).WithFields(logrus.Fields{
				"kind":    n.Kind,
				"user_id": n.IdentityID,
			}).Error("Failed to deliver notification")
		}
	}()
}

func (c *NotificationClient) buildRequest(n services.Notification) (*notificationRequest, bool) {
	if n.Email == "" {
		c.logger.WithField("kind", n.Kind).Warn("Notification has no recipient email, skipping")
		return nil, false
	}

	variables := map[string]string{
		"name":    n.Name,
		"email":   n.Email,
		"user_id": n.IdentityID,
	}
	for key, value := range n.Data {
		variables[key] = value
	}

	req := &notificationRequest{To: n.Email, Variables: variables}

	switch n.Kind {
	case services.NotifyWelcome:
		req.Subject = "Welcome! Verify your email address"
		req.Template = "school_welcome"
	case services.NotifyAccountLocked:
		req.Subject = "Your account has been temporarily locked"
		req.Template = "account_locked"
	case services.NotifyPasswordReset:
		req.Subject = "Password reset request"
		req.Template = "password_reset"
	case services.NotifySubscriptionExpiring:
		req.Subject = "Your school subscription is expiring soon"
		req.Template = "subscription_expiring"
	default:
		c.logger.WithField("kind", n.Kind).Warn("Unknown notification kind, skipping")
		return nil, false
	}

	return req, true
}

func (c *NotificationClient) send(ctx context.Context, tenantID string, req *notificationRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal notification request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/notifications/send", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)
	httpReq.Header.Set("X-Internal-Service", "school-access-service")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("notification service returned status %d", resp.StatusCode)
	}

	c.logger.WithFields(logrus.Fields{
		"to":       req.To,
		"template": req.Template,
	}).Info("Notification delivered")
	return nil
}
