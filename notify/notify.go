package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"boardflow/domain"
)

// Notification types delivered to the webhook.
const (
	TypeStatusChange       = "status_change"
	TypeChecklistCompleted = "checklist_completed"
	TypeDueDateReminder    = "due_date_reminder"
)

// TaskRef is the slice of task state carried in a notification.
type TaskRef struct {
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Status  string     `json:"status"`
	DueDate *time.Time `json:"dueDate,omitempty"`
}

// Notification is the webhook payload.
type Notification struct {
	Task      TaskRef   `json:"task"`
	Type      string    `json:"type"`
	Email     string    `json:"email"`
	Timestamp time.Time `json:"timestamp"`
}

// ForTask builds a notification of the given type for a task.
func ForTask(kind, email string, task domain.Task) Notification {
	return Notification{
		Task: TaskRef{
			ID:      task.ID,
			Title:   task.Title,
			Status:  string(task.Status),
			DueDate: task.DueDate,
		},
		Type:      kind,
		Email:     email,
		Timestamp: time.Now().UTC(),
	}
}

// Outbox is the queue notifications pass through before delivery.
type Outbox interface {
	EnqueueNotification(ctx context.Context, payload string) error
	DequeueNotification(ctx context.Context) (*azqueue.DequeuedMessage, error)
	DeleteNotification(ctx context.Context, id, receipt string) error
}

const defaultPollInterval = 5 * time.Second

// Dispatcher queues notifications and delivers them to a webhook in the
// background. Delivery is at-least-once; the webhook must tolerate
// duplicates.
type Dispatcher struct {
	outbox     Outbox
	webhookURL string
	client     *http.Client
	logger     *log.Logger
	interval   time.Duration
}

// NewDispatcher creates a Dispatcher posting to webhookURL. An empty URL
// disables delivery; notifications are then dropped with a log line.
func NewDispatcher(outbox Outbox, webhookURL string, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Dispatcher{
		outbox:     outbox,
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		interval:   defaultPollInterval,
	}
}

// Send queues the notification for background delivery. When the queue is
// unavailable it falls back to an inline post so the event is not lost.
func (d *Dispatcher) Send(ctx context.Context, n Notification) error {
	if d.webhookURL == "" {
		d.logger.Debugf("notification %s for task %s dropped: no webhook configured", n.Type, n.Task.ID)
		return nil
	}
	payload, err := sonic.ConfigStd.Marshal(n)
	if err != nil {
		return err
	}
	if err := d.outbox.EnqueueNotification(ctx, string(payload)); err != nil {
		d.logger.Warnf("enqueue notification failed, posting inline: %v", err)
		return d.post(ctx, payload)
	}
	return nil
}

// Run drains the outbox until the context ends. Failed posts are logged
// and left on the queue for the next visibility timeout.
func (d *Dispatcher) Run(ctx context.Context) {
	if d.webhookURL == "" {
		return
	}
	for {
		msg, err := d.outbox.DequeueNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Errorf("dequeue notification: %v", err)
			msg = nil
		}
		if msg == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.interval):
			}
			continue
		}
		var text string
		if msg.MessageText != nil {
			text = *msg.MessageText
		}
		if err := d.post(ctx, []byte(text)); err != nil {
			d.logger.Errorf("deliver notification: %v", err)
			continue
		}
		var id, receipt string
		if msg.MessageID != nil {
			id = *msg.MessageID
		}
		if msg.PopReceipt != nil {
			receipt = *msg.PopReceipt
		}
		if err := d.outbox.DeleteNotification(ctx, id, receipt); err != nil {
			d.logger.Errorf("delete delivered notification: %v", err)
		}
	}
}

func (d *Dispatcher) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
