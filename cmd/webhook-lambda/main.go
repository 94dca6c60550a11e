// Package main is the Lambda entry point for Stripe webhooks behind an API
// Gateway HTTP API. It feeds each event through the same reconciler as the
// HTTP server and maps the result to the same status codes.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"planguard/internal/app"
	"planguard/internal/config"
	"planguard/internal/types"
	"planguard/internal/webhook"
)

// Processor is satisfied by *webhook.Reconciler.
type Processor interface {
	Process(ctx context.Context, payload []byte, signature string) (webhook.Result, error)
}

// Handler adapts API Gateway events to the reconciler.
type Handler struct {
	processor Processor
	logger    *slog.Logger
}

// Handle decodes the body, verifies and applies the event, and answers with
// {"received":true} or {"error":...}.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	ctx = types.WithRequestID(ctx, req.RequestContext.RequestID)

	payload := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			h.logger.WarnContext(ctx, "undecodable webhook body", "error", err)
			return respond(webhook.Response(types.NewAppError(types.ErrCodeWebhookPayloadInvalid, "invalid base64 body", err)))
		}
		payload = decoded
	}

	res, err := h.processor.Process(ctx, payload, header(req.Headers, "Stripe-Signature"))
	if err != nil {
		h.logger.WarnContext(ctx, "webhook not applied",
			"request_id", req.RequestContext.RequestID,
			"error", err,
		)
	} else {
		h.logger.InfoContext(ctx, "webhook applied",
			"event_id", res.EventID,
			"event_type", res.EventType,
			"outcome", string(res.Outcome),
		)
	}
	return respond(webhook.Response(err))
}

// header looks up name case-insensitively; API Gateway lower-cases header
// names for HTTP APIs but not for every integration.
func header(headers map[string]string, name string) string {
	if v, ok := headers[strings.ToLower(name)]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func respond(status int, body webhook.ResponseBody) (events.APIGatewayV2HTTPResponse, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return events.APIGatewayV2HTTPResponse{}, err
	}
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(raw),
	}, nil
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("loading configuration", "error", err)
		os.Exit(1)
	}
	logger := app.NewLogger(os.Stdout, cfg.LogLevel).With("service", cfg.Service, "entrypoint", "webhook-lambda")
	logger.Info("webhook lambda initializing (cold start)", "version", cfg.Build.Version)

	ctx := context.Background()
	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open stores", "error", err)
		os.Exit(1)
	}
	recorder, _, err := app.NewRecorder(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to create metrics recorder", "error", err)
		os.Exit(1)
	}
	prices, err := app.NewPrices(cfg)
	if err != nil {
		logger.Error("invalid price configuration", "error", err)
		os.Exit(1)
	}

	h := &Handler{
		processor: app.NewReconciler(cfg, app.NewStripeClient(cfg, logger), stores.Store, prices, recorder, logger),
		logger:    logger,
	}
	lambda.Start(h.Handle)
}
