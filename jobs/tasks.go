package jobs

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAnomalyScan inspects posted journal activity for outliers.
	TaskAnomalyScan = "ledger:anomaly_scan"
	// TaskWebhookNotify delivers posting events to subscribed endpoints.
	TaskWebhookNotify = "notify:webhook"
)

// AnomalyScanPayload scopes one scan run.
type AnomalyScanPayload struct {
	CompanyID    int64   `json:"company_id"`
	EntryID      int64   `json:"entry_id"`
	WindowMonths int     `json:"window_months"`
	Z            float64 `json:"z_threshold"`
}

// WebhookNotifyPayload carries one posting event.
type WebhookNotifyPayload struct {
	CompanyID int64          `json:"company_id"`
	Event     string         `json:"event"`
	Payload   map[string]any `json:"payload"`
}

// NewAnomalyScanTask constructs an Asynq task.
func NewAnomalyScanTask(payload AnomalyScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAnomalyScan, data), nil
}

// NewWebhookNotifyTask constructs an Asynq task.
func NewWebhookNotifyTask(payload WebhookNotifyPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskWebhookNotify, data), nil
}

// Client submits jobs to the queue. It satisfies the posting pipeline's
// enqueue port; every enqueue happens after the posting transaction
// committed.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueueAnomalyScan queues a scan over the company that just posted.
func (c *Client) EnqueueAnomalyScan(ctx context.Context, companyID, entryID int64) error {
	task, err := NewAnomalyScanTask(AnomalyScanPayload{CompanyID: companyID, EntryID: entryID})
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
	return err
}

// EnqueueWebhook queues one event delivery.
func (c *Client) EnqueueWebhook(ctx context.Context, companyID int64, event string, payload map[string]any) error {
	task, err := NewWebhookNotifyTask(WebhookNotifyPayload{CompanyID: companyID, Event: event, Payload: payload})
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
	return err
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
