package opsqueue

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/BridgeToWork/BridgeToWork/internal/pkg/cache"
)

const (
	alertListKey = "billing:ops:alerts"
	// Oldest alerts are trimmed away once the list exceeds this size.
	maxQueueLength = 10000
)

// Alert is one operator-facing incident record. Alerts are advisory:
// payment money has already moved when one is raised, so the queue is a
// follow-up list, not a retry mechanism.
type Alert struct {
	Kind      string            `json:"kind"`
	Message   string            `json:"message"`
	Reference string            `json:"reference,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Queue publishes operator alerts onto a capped Redis list.
type Queue struct{}

// New creates a Queue backed by the shared cache client.
func New() *Queue {
	return &Queue{}
}

// Publish appends an alert to the operator queue. Publish never returns
// an error to the caller: alerting must not break payment processing,
// so failures are logged and dropped.
func (q *Queue) Publish(ctx context.Context, alert Alert) {
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		log.Printf("opsqueue: failed to marshal alert %q: %v", alert.Kind, err)
		return
	}

	client := cache.GetClient()
	if err := client.LPush(ctx, alertListKey, payload).Err(); err != nil {
		log.Printf("opsqueue: failed to publish alert %q: %v", alert.Kind, err)
		return
	}
	if err := client.LTrim(ctx, alertListKey, 0, maxQueueLength-1).Err(); err != nil {
		log.Printf("opsqueue: failed to trim alert queue: %v", err)
	}
}

// Pending returns up to limit alerts without removing them, newest first.
func (q *Queue) Pending(ctx context.Context, limit int64) ([]Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	raw, err := cache.GetClient().LRange(ctx, alertListKey, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}

	alerts := make([]Alert, 0, len(raw))
	for _, item := range raw {
		var a Alert
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			continue
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}
