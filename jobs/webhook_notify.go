package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
)

// WebhookNotifyJob delivers posting events to the configured endpoint.
// Delivery is at-least-once; subscribers must dedupe on event payload.
type WebhookNotifyJob struct {
	Endpoint string
	Client   *http.Client
	Logger   *slog.Logger
}

// NewWebhookNotifyJob initialises the webhook delivery handler.
func NewWebhookNotifyJob(endpoint string, logger *slog.Logger) *WebhookNotifyJob {
	return &WebhookNotifyJob{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 10 * time.Second},
		Logger:   logger,
	}
}

// Handle posts one event to the endpoint.
func (j *WebhookNotifyJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("webhook notify: handler not configured")
	}
	var payload WebhookNotifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	logger := j.logger().With(
		slog.Int64("company_id", payload.CompanyID),
		slog.String("event", payload.Event),
	)

	if j.Endpoint == "" {
		logger.Debug("no webhook endpoint configured, dropping event")
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return asynq.SkipRetry
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Meridian-Event", payload.Event)

	client := j.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		logger.Warn("webhook delivery failed", slog.Any("error", err))
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 300 {
		logger.Warn("webhook endpoint rejected event", slog.Int("status", resp.StatusCode))
		return fmt.Errorf("webhook notify: endpoint returned %d", resp.StatusCode)
	}
	logger.Info("webhook delivered", slog.Int("status", resp.StatusCode))
	return nil
}

func (j *WebhookNotifyJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskWebhookNotify))
	}
	return slog.Default().With(slog.String("job", TaskWebhookNotify))
}
