// Package handlers contains the HTTP handlers for planguard. Each handler
// declares the narrow interface it depends on and exposes RegisterRoutes for
// the server's registrar lists.
package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"planguard/internal/core"
	"planguard/internal/types"
	"planguard/internal/webhook"
)

// maxWebhookBodySize bounds a provider payload. Real events are a few KB.
const maxWebhookBodySize = 256 << 10

// WebhookProcessor is satisfied by *webhook.Reconciler.
type WebhookProcessor interface {
	Process(ctx context.Context, payload []byte, signature string) (webhook.Result, error)
}

// StripeWebhookHandler receives provider events. It is mounted outside /v1:
// the signature, not the identity header, authenticates the caller.
type StripeWebhookHandler struct {
	processor WebhookProcessor
	logger    *slog.Logger
}

func NewStripeWebhookHandler(processor WebhookProcessor, logger *slog.Logger) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{processor: processor, logger: logger}
}

func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// Handle reads the raw body, hands it to the reconciler and answers with the
// status that tells the provider whether to redeliver.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body", "error", err)
		status, body := webhook.Response(types.NewAppError(types.ErrCodeWebhookPayloadInvalid, "unreadable body", err))
		core.JSON(w, r, status, body)
		return
	}

	res, err := h.processor.Process(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	status, body := webhook.Response(err)
	if err == nil {
		h.logger.DebugContext(r.Context(), "webhook acknowledged",
			"event_id", res.EventID,
			"event_type", res.EventType,
			"outcome", string(res.Outcome),
		)
	}
	core.JSON(w, r, status, body)
}
