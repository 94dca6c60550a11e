// Package metrics records webhook outcomes and HTTP request timings to one of
// several backends.
package metrics

import (
	"context"
	"time"
)

// WebhookOutcome is the terminal state of one webhook delivery.
type WebhookOutcome string

const (
	OutcomeProcessed WebhookOutcome = "processed"
	OutcomeIgnored   WebhookOutcome = "ignored"
	OutcomeRejected  WebhookOutcome = "rejected"
	OutcomeFailed    WebhookOutcome = "failed"
)

// Recorder is implemented by every metrics backend. Implementations must not
// block the caller on a failing sink; errors are logged and dropped.
type Recorder interface {
	RecordWebhook(ctx context.Context, eventType string, outcome WebhookOutcome, d time.Duration)
	RecordRequest(ctx context.Context, method, route string, status int, d time.Duration)
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordWebhook(context.Context, string, WebhookOutcome, time.Duration) {}
func (Nop) RecordRequest(context.Context, string, string, int, time.Duration) {}

var _ Recorder = Nop{}
