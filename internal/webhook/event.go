// Package webhook turns verified Stripe webhook deliveries into subscription
// state. Deliveries are parsed into a closed set of event variants, each of
// which dispatches to exactly one Handler method.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"planguard/internal/types"
)

// Stripe event types with a dedicated variant.
const (
	TypeCheckoutCompleted   = "checkout.session.completed"
	TypePaymentSucceeded    = "invoice.payment_succeeded"
	TypePaymentFailed       = "invoice.payment_failed"
	TypeSubscriptionDeleted = "customer.subscription.deleted"
)

// Handler has one method per event variant.
type Handler interface {
	HandleCheckoutCompleted(ctx context.Context, ev CheckoutCompleted) error
	HandlePaymentSucceeded(ctx context.Context, ev PaymentSucceeded) error
	HandlePaymentFailed(ctx context.Context, ev PaymentFailed) error
	HandleSubscriptionDeleted(ctx context.Context, ev SubscriptionDeleted) error
	HandleUnhandled(ctx context.Context, ev Unhandled) error
}

// Event is implemented only by the variants in this package.
type Event interface {
	EventID() string
	EventType() string
	dispatch(ctx context.Context, h Handler) error
}

// Dispatch routes ev to its Handler method.
func Dispatch(ctx context.Context, ev Event, h Handler) error {
	return ev.dispatch(ctx, h)
}

type envelope struct {
	ID      string
	Type    string
	Created time.Time
}

func (e envelope) EventID() string   { return e.ID }
func (e envelope) EventType() string { return e.Type }

// CheckoutCompleted carries the user and subscription created by a hosted
// checkout.
type CheckoutCompleted struct {
	envelope
	UserID         string
	SubscriptionID string
	CustomerID     string
}

func (ev CheckoutCompleted) dispatch(ctx context.Context, h Handler) error {
	return h.HandleCheckoutCompleted(ctx, ev)
}

// PaymentSucceeded is a paid subscription invoice, initial or renewal.
type PaymentSucceeded struct {
	envelope
	SubscriptionID string
}

func (ev PaymentSucceeded) dispatch(ctx context.Context, h Handler) error {
	return h.HandlePaymentSucceeded(ctx, ev)
}

// PaymentFailed is a failed charge on a subscription invoice.
type PaymentFailed struct {
	envelope
	SubscriptionID string
}

func (ev PaymentFailed) dispatch(ctx context.Context, h Handler) error {
	return h.HandlePaymentFailed(ctx, ev)
}

// SubscriptionDeleted is the end of a subscription.
type SubscriptionDeleted struct {
	envelope
	SubscriptionID string
}

func (ev SubscriptionDeleted) dispatch(ctx context.Context, h Handler) error {
	return h.HandleSubscriptionDeleted(ctx, ev)
}

// Unhandled is any delivery that needs no state change. Reason is empty for
// event types without a variant.
type Unhandled struct {
	envelope
	Reason string
}

func (ev Unhandled) dispatch(ctx context.Context, h Handler) error {
	return h.HandleUnhandled(ctx, ev)
}

// invoiceObject reads the subscription id from either invoice layout: the
// top-level field of older API versions or parent.subscription_details.
type invoiceObject struct {
	ID           string          `json:"id"`
	Subscription json.RawMessage `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription json.RawMessage `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (inv *invoiceObject) subscriptionID() string {
	if id := expandableID(inv.Subscription); id != "" {
		return id
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		return expandableID(inv.Parent.SubscriptionDetails.Subscription)
	}
	return ""
}

// Parse decodes a verified payload. Malformed JSON and checkout sessions
// without a user id are reported as ErrCodeWebhookPayloadInvalid, which
// redelivery cannot fix.
func Parse(payload []byte) (Event, error) {
	var se stripe.Event
	if err := json.Unmarshal(payload, &se); err != nil {
		return nil, payloadError("malformed event JSON", err)
	}
	if se.ID == "" || se.Type == "" {
		return nil, payloadError("event id or type missing", nil)
	}

	env := envelope{ID: se.ID, Type: string(se.Type)}
	if se.Created > 0 {
		env.Created = time.Unix(se.Created, 0).UTC()
	}

	var raw json.RawMessage
	if se.Data != nil {
		raw = se.Data.Raw
	}

	switch env.Type {
	case TypeCheckoutCompleted:
		return parseCheckout(env, raw)
	case TypePaymentSucceeded, TypePaymentFailed:
		return parseInvoice(env, raw)
	case TypeSubscriptionDeleted:
		var sub stripe.Subscription
		if err := decodeObject(raw, &sub); err != nil {
			return nil, err
		}
		if sub.ID == "" {
			return nil, payloadError("subscription object has no id", nil)
		}
		return SubscriptionDeleted{envelope: env, SubscriptionID: sub.ID}, nil
	default:
		return Unhandled{envelope: env}, nil
	}
}

func parseCheckout(env envelope, raw json.RawMessage) (Event, error) {
	var session stripe.CheckoutSession
	if err := decodeObject(raw, &session); err != nil {
		return nil, err
	}

	userID := session.Metadata["user_id"]
	if userID == "" {
		userID = session.ClientReferenceID
	}
	if userID == "" {
		return nil, payloadError("checkout session carries no user id", nil)
	}

	if session.Subscription == nil || session.Subscription.ID == "" {
		return Unhandled{envelope: env, Reason: "checkout session has no subscription"}, nil
	}

	ev := CheckoutCompleted{
		envelope:       env,
		UserID:         userID,
		SubscriptionID: session.Subscription.ID,
	}
	if session.Customer != nil {
		ev.CustomerID = session.Customer.ID
	}
	return ev, nil
}

func parseInvoice(env envelope, raw json.RawMessage) (Event, error) {
	var inv invoiceObject
	if err := decodeObject(raw, &inv); err != nil {
		return nil, err
	}

	subID := inv.subscriptionID()
	if subID == "" {
		return Unhandled{envelope: env, Reason: "invoice is not for a subscription"}, nil
	}

	if env.Type == TypePaymentSucceeded {
		return PaymentSucceeded{envelope: env, SubscriptionID: subID}, nil
	}
	return PaymentFailed{envelope: env, SubscriptionID: subID}, nil
}

func decodeObject(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return payloadError("event has no data object", nil)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return payloadError(fmt.Sprintf("malformed data object: %v", err), err)
	}
	return nil
}

// expandableID accepts a bare id or an expanded object.
func expandableID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

func payloadError(msg string, err error) error {
	return types.NewAppError(types.ErrCodeWebhookPayloadInvalid, msg, err)
}
