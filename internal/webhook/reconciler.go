package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"planguard/internal/billing"
	"planguard/internal/external"
	"planguard/internal/metrics"
	"planguard/internal/types"
)

// Default bounds on the two outbound calls a handler may make.
const (
	DefaultProviderTimeout = 10 * time.Second
	DefaultStoreTimeout    = 5 * time.Second

	// DefaultOrphanGrace is how long an update for a subscription with no
	// local row keeps failing before it is acknowledged and dropped.
	DefaultOrphanGrace = time.Hour
)

// errOrphaned marks an update for a subscription that never reached the
// store within the grace window.
var errOrphaned = errors.New("webhook: subscription unknown past grace window")

// Config wires a Reconciler.
type Config struct {
	Secret          types.SecretString
	Verifier        external.WebhookVerifier
	Provider        external.PaymentProvider
	Store           types.SubscriptionStore
	Prices          *billing.PriceCatalog
	Metrics         metrics.Recorder
	Logger          *slog.Logger
	ProviderTimeout time.Duration
	StoreTimeout    time.Duration
	OrphanGrace     time.Duration
}

// Result describes a delivery that was accepted.
type Result struct {
	EventID   string
	EventType string
	Outcome   metrics.WebhookOutcome
}

// Reconciler verifies deliveries and applies them to the subscription store.
// Every handler performs a single idempotent write, so redelivery and
// concurrent duplicates converge without locking. Payment-succeeded and
// subscription-deleted for the same subscription are last-write-wins.
type Reconciler struct {
	secret          types.SecretString
	verifier        external.WebhookVerifier
	provider        external.PaymentProvider
	store           types.SubscriptionStore
	prices          *billing.PriceCatalog
	metrics         metrics.Recorder
	logger          *slog.Logger
	providerTimeout time.Duration
	storeTimeout    time.Duration
	orphanGrace     time.Duration
	now             func() time.Time
}

func NewReconciler(cfg Config) *Reconciler {
	r := &Reconciler{
		secret:          cfg.Secret,
		verifier:        cfg.Verifier,
		provider:        cfg.Provider,
		store:           cfg.Store,
		prices:          cfg.Prices,
		metrics:         cfg.Metrics,
		logger:          cfg.Logger,
		providerTimeout: cfg.ProviderTimeout,
		storeTimeout:    cfg.StoreTimeout,
		orphanGrace:     cfg.OrphanGrace,
		now:             time.Now,
	}
	if r.verifier == nil {
		r.verifier = &external.StripeVerifier{}
	}
	if r.metrics == nil {
		r.metrics = metrics.Nop{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.providerTimeout <= 0 {
		r.providerTimeout = DefaultProviderTimeout
	}
	if r.storeTimeout <= 0 {
		r.storeTimeout = DefaultStoreTimeout
	}
	if r.orphanGrace <= 0 {
		r.orphanGrace = DefaultOrphanGrace
	}
	return r
}

// Process verifies, parses and applies one delivery. Errors are AppErrors:
// webhook_signature_invalid and webhook_payload_invalid are permanent, all
// others should be answered with a 5xx so the provider redelivers.
func (r *Reconciler) Process(ctx context.Context, payload []byte, signature string) (res Result, err error) {
	start := time.Now()
	eventType := "unknown"
	defer func() {
		outcome := res.Outcome
		if err != nil {
			outcome = metrics.OutcomeFailed
			if !types.IsRetryable(err) {
				outcome = metrics.OutcomeRejected
			}
		}
		r.metrics.RecordWebhook(ctx, eventType, outcome, time.Since(start))
	}()

	if signature == "" {
		r.logger.WarnContext(ctx, "missing Stripe-Signature header")
		return Result{}, types.NewAppError(types.ErrCodeWebhookSignatureInvalid, "missing signature header", nil)
	}
	if verr := r.verifier.Verify(payload, signature, r.secret.Unmask()); verr != nil {
		r.logger.WarnContext(ctx, "webhook signature verification failed", "error", verr)
		return Result{}, types.NewAppError(types.ErrCodeWebhookSignatureInvalid, "signature verification failed", verr)
	}

	ev, err := Parse(payload)
	if err != nil {
		r.logger.WarnContext(ctx, "rejecting unparseable webhook", "error", err)
		return Result{}, err
	}
	eventType = ev.EventType()

	res = Result{EventID: ev.EventID(), EventType: ev.EventType(), Outcome: metrics.OutcomeProcessed}
	if _, ok := ev.(Unhandled); ok {
		res.Outcome = metrics.OutcomeIgnored
	}

	r.logger.InfoContext(ctx, "processing stripe webhook event",
		"event_id", res.EventID,
		"event_type", res.EventType,
	)

	if err := r.dispatch(ctx, ev); err != nil {
		if errors.Is(err, errOrphaned) {
			res.Outcome = metrics.OutcomeIgnored
			return res, nil
		}
		r.logger.ErrorContext(ctx, "webhook event processing failed",
			"event_id", res.EventID,
			"event_type", res.EventType,
			"error", err,
		)
		return Result{}, err
	}
	return res, nil
}

// dispatch converts handler panics into retryable errors.
func (r *Reconciler) dispatch(ctx context.Context, ev Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.ErrorContext(ctx, "panic in webhook handler",
				"event_id", ev.EventID(),
				"panic", fmt.Sprint(p),
				"stack", string(debug.Stack()),
			)
			err = types.NewAppError(types.ErrCodeInternalUnexpected, fmt.Sprintf("handler panic: %v", p), nil)
		}
	}()

	if err := Dispatch(ctx, ev, r); err != nil {
		if errors.Is(err, errOrphaned) {
			return err
		}
		if _, ok := err.(*types.AppError); ok {
			return err
		}
		return types.NewAppError(types.ErrCodeInternalUnexpected, "webhook handler failed", err)
	}
	return nil
}

func (r *Reconciler) HandleCheckoutCompleted(ctx context.Context, ev CheckoutCompleted) error {
	sub, err := r.retrieve(ctx, ev.SubscriptionID)
	if err != nil {
		return err
	}

	plan, defaulted := r.prices.ResolvePlan(sub.PriceID)
	if defaulted {
		r.logger.WarnContext(ctx, "unmapped price id, defaulting plan",
			"event_id", ev.EventID(),
			"price_id", sub.PriceID,
			"plan", plan,
		)
	}

	customerID := ev.CustomerID
	if customerID == "" {
		customerID = sub.CustomerID
	}

	row := &types.Subscription{
		UserID:                 ev.UserID,
		Plan:                   plan,
		Status:                 types.SubStatusActive,
		CustomerID:             customerID,
		ProviderSubscriptionID: ev.SubscriptionID,
		CurrentPeriodStart:     timePtr(sub.CurrentPeriodStart),
		CurrentPeriodEnd:       timePtr(sub.CurrentPeriodEnd),
		CancelAtPeriodEnd:      sub.CancelAtPeriodEnd,
		UpdatedAt:              r.now().UTC(),
	}

	storeCtx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()
	if err := r.store.UpsertSubscription(storeCtx, row); err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "subscription activated",
		"event_id", ev.EventID(),
		"user_id", ev.UserID,
		"plan", plan,
	)
	return nil
}

func (r *Reconciler) HandlePaymentSucceeded(ctx context.Context, ev PaymentSucceeded) error {
	sub, err := r.retrieve(ctx, ev.SubscriptionID)
	if err != nil {
		return err
	}

	status := types.SubStatusActive
	cancelAtEnd := sub.CancelAtPeriodEnd
	return r.update(ctx, ev.envelope, ev.SubscriptionID, types.SubscriptionPatch{
		Status:             &status,
		CurrentPeriodStart: timePtr(sub.CurrentPeriodStart),
		CurrentPeriodEnd:   timePtr(sub.CurrentPeriodEnd),
		CancelAtPeriodEnd:  &cancelAtEnd,
	})
}

func (r *Reconciler) HandlePaymentFailed(ctx context.Context, ev PaymentFailed) error {
	status := types.SubStatusPastDue
	r.logger.WarnContext(ctx, "payment failed",
		"event_id", ev.EventID(),
		"subscription_id", ev.SubscriptionID,
	)
	return r.update(ctx, ev.envelope, ev.SubscriptionID, types.SubscriptionPatch{Status: &status})
}

func (r *Reconciler) HandleSubscriptionDeleted(ctx context.Context, ev SubscriptionDeleted) error {
	status := types.SubStatusCancelled
	plan := types.PlanFree
	return r.update(ctx, ev.envelope, ev.SubscriptionID, types.SubscriptionPatch{Status: &status, Plan: &plan})
}

func (r *Reconciler) HandleUnhandled(ctx context.Context, ev Unhandled) error {
	r.logger.InfoContext(ctx, "ignoring webhook event",
		"event_id", ev.EventID(),
		"event_type", ev.EventType(),
		"reason", ev.Reason,
	)
	return nil
}

func (r *Reconciler) retrieve(ctx context.Context, subscriptionID string) (*types.ProviderSubscription, error) {
	ctx, cancel := context.WithTimeout(ctx, r.providerTimeout)
	defer cancel()
	return r.provider.RetrieveSubscription(ctx, subscriptionID)
}

// update patches the row for subscriptionID. A missing row is retryable so an
// update that overtakes its checkout converges on redelivery. Once the event
// is older than the grace window the row is assumed never to arrive (e.g. a
// subscription created outside checkout) and the event is dropped.
func (r *Reconciler) update(ctx context.Context, env envelope, subscriptionID string, patch types.SubscriptionPatch) error {
	now := r.now().UTC()
	patch.UpdatedAt = now

	storeCtx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()
	err := r.store.UpdateSubscriptionByProviderID(storeCtx, subscriptionID, patch)
	if types.CodeOf(err) == types.ErrCodeNotFoundSubscription &&
		!env.Created.IsZero() && now.Sub(env.Created) > r.orphanGrace {
		r.logger.WarnContext(ctx, "dropping event for unknown subscription",
			"event_id", env.ID,
			"event_type", env.Type,
			"subscription_id", subscriptionID,
			"event_age", now.Sub(env.Created).String(),
		)
		return errOrphaned
	}
	return err
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

var _ Handler = (*Reconciler)(nil)
