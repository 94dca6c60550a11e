package webhook

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planguard/internal/metrics"
	"planguard/internal/types"
)

func TestProcess_CheckoutCompleted_ActivatesPlan(t *testing.T) {
	store := newFakeStore()
	provider := &fakeProvider{subs: map[string]*types.ProviderSubscription{"sub_1": proSubscription("sub_1")}}
	r := newTestReconciler(t, store, provider)

	payload, header := sign(checkoutPayload("evt_1", "u1", "sub_1"))
	res, err := r.Process(context.Background(), payload, header)
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeProcessed, res.Outcome)
	assert.Equal(t, "evt_1", res.EventID)

	row := store.row("u1")
	assert.Equal(t, types.PlanPro, row.Plan)
	assert.Equal(t, types.SubStatusActive, row.Status)
	assert.Equal(t, "cus_1", row.CustomerID)
	assert.Equal(t, "sub_1", row.ProviderSubscriptionID)
	require.NotNil(t, row.CurrentPeriodEnd)
	assert.Equal(t, periodEnd, *row.CurrentPeriodEnd)
	assert.Equal(t, fixedNow, row.UpdatedAt)
	assert.Equal(t, 1, provider.calls)
}

func TestProcess_CheckoutCompleted_ReplayIsIdempotent(t *testing.T) {
	store := newFakeStore()
	provider := &fakeProvider{subs: map[string]*types.ProviderSubscription{"sub_1": proSubscription("sub_1")}}
	r := newTestReconciler(t, store, provider)

	payload, header := sign(checkoutPayload("evt_1", "u1", "sub_1"))
	_, err := r.Process(context.Background(), payload, header)
	require.NoError(t, err)
	once := store.row("u1")

	_, err = r.Process(context.Background(), payload, header)
	require.NoError(t, err)
	assert.Equal(t, once, store.row("u1"))
	assert.Len(t, store.rows, 1)
}

func TestProcess_CheckoutCompleted_ClientReferenceFallback(t *testing.T) {
	store := newFakeStore()
	provider := &fakeProvider{subs: map[string]*types.ProviderSubscription{"sub_1": proSubscription("sub_1")}}
	r := newTestReconciler(t, store, provider)

	payload, header := sign(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{
		"id":"cs_1","client_reference_id":"u2","metadata":{},"subscription":"sub_1"}}}`)
	_, err := r.Process(context.Background(), payload, header)
	require.NoError(t, err)
	assert.Equal(t, types.PlanPro, store.row("u2").Plan)
}

func TestProcess_CheckoutCompleted_UnmappedPriceDefaultsToBasic(t *testing.T) {
	store := newFakeStore()
	sub := proSubscription("sub_1")
	sub.PriceID = "price_legacy"
	provider := &fakeProvider{subs: map[string]*types.ProviderSubscription{"sub_1": sub}}
	r := newTestReconciler(t, store, provider)

	payload, header := sign(checkoutPayload("evt_1", "u1", "sub_1"))
	_, err := r.Process(context.Background(), payload, header)
	require.NoError(t, err)
	assert.Equal(t, types.PlanBasic, store.row("u1").Plan)
}

func TestProcess_CheckoutCompleted_MissingUserIsPermanent(t *testing.T) {
	store := newFakeStore()
	provider := &fakeProvider{}
	r := newTestReconciler(t, store, provider)

	payload, header := sign(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1","subscription":"sub_1"}}}`)
	_, err := r.Process(context.Background(), payload, header)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeWebhookPayloadInvalid, types.CodeOf(err))
	assert.False(t, types.IsRetryable(err))
	assert.Empty(t, store.calls)
	assert.Zero(t, provider.calls)
}

func TestProcess_TamperedBodyMakesNoStoreCalls(t *testing.T) {
	store := newFakeStore()
	provider := &fakeProvider{subs: map[string]*types.ProviderSubscription{"sub_1": proSubscription("sub_1")}}
	r := newTestReconciler(t, store, provider)

	payload, header := sign(checkoutPayload("evt_1", "u1", "sub_1"))
	tampered := append([]byte(nil), payload...)
	tampered[len(tampered)-2] ^= 0x01

	_, err := r.Process(context.Background(), tampered, header)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeWebhookSignatureInvalid, types.CodeOf(err))
	assert.Empty(t, store.calls)
	assert.Zero(t, provider.calls)
}

func TestProcess_MissingSignature(t *testing.T) {
	store := newFakeStore()
	r := newTestReconciler(t, store, &fakeProvider{})

	_, err := r.Process(context.Background(), []byte(checkoutPayload("evt_1", "u1", "sub_1")), "")
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeWebhookSignatureInvalid, types.CodeOf(err))
	assert.Empty(t, store.calls)
}

func TestProcess_MalformedJSONAfterValidSignature(t *testing.T) {
	store := newFakeStore()
	r := newTestReconciler(t, store, &fakeProvider{})

	payload, header := sign(`{"id": "evt_1", "type": `)
	_, err := r.Process(context.Background(), payload, header)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeWebhookPayloadInvalid, types.CodeOf(err))
	assert.Empty(t, store.calls)
}

func TestProcess_PaymentSucceeded_RefreshesPeriod(t *testing.T) {
	store := newFakeStore()
	store.rows["u1"] = &types.Subscription{
		UserID: "u1", Plan: types.PlanPro, Status: types.SubStatusPastDue, ProviderSubscriptionID: "sub_1",
	}
	renewed := proSubscription("sub_1")
	renewed.CurrentPeriodStart = periodEnd
	renewed.CurrentPeriodEnd = periodEnd.AddDate(0, 1, 0)
	provider := &fakeProvider{subs: map[string]*types.ProviderSubscription{"sub_1": renewed}}
	r := newTestReconciler(t, store, provider)

	payload, header := sign(invoicePayload("evt_2", TypePaymentSucceeded, "sub_1"))
	_, err := r.Process(context.Background(), payload, header)
	require.NoError(t, err)

	row := store.row("u1")
	assert.Equal(t, types.SubStatusActive, row.Status)
	assert.Equal(t, types.PlanPro, row.Plan)
	assert.Equal(t, periodEnd.AddDate(0, 1, 0), *row.CurrentPeriodEnd)
	assert.Equal(t, 1, provider.calls)
}

func TestProcess_PaymentFailed_ReplayStaysPastDue(t *testing.T) {
	store := newFakeStore()
	store.rows["u1"] = &types.Subscription{
		UserID: "u1", Plan: types.PlanPro, Status: types.SubStatusActive, ProviderSubscriptionID: "sub_1",
	}
	provider := &fakeProvider{}
	r := newTestReconciler(t, store, provider)

	payload, header := sign(invoicePayload("evt_3", TypePaymentFailed, "sub_1"))
	for i := 0; i < 2; i++ {
		_, err := r.Process(context.Background(), payload, header)
		require.NoError(t, err)
		assert.Equal(t, types.SubStatusPastDue, store.row("u1").Status)
	}
	assert.Equal(t, types.PlanPro, store.row("u1").Plan)
	assert.Zero(t, provider.calls)
}

func TestProcess_SubscriptionDeleted_DowngradesToFree(t *testing.T) {
	store := newFakeStore()
	store.rows["u1"] = &types.Subscription{
		UserID: "u1", Plan: types.PlanPro, Status: types.SubStatusActive, ProviderSubscriptionID: "sub_1",
	}
	provider := &fakeProvider{}
	r := newTestReconciler(t, store, provider)

	payload, header := sign(deletedPayload("evt_4", "sub_1"))
	_, err := r.Process(context.Background(), payload, header)
	require.NoError(t, err)

	row := store.row("u1")
	assert.Equal(t, types.PlanFree, row.Plan)
	assert.Equal(t, types.SubStatusCancelled, row.Status)
	assert.Zero(t, provider.calls)
}

func TestProcess_UpdateBeforeCheckoutIsRetryable(t *testing.T) {
	store := newFakeStore()
	r := newTestReconciler(t, store, &fakeProvider{})

	payload, header := sign(invoicePayload("evt_5", TypePaymentFailed, "sub_unknown"))
	_, err := r.Process(context.Background(), payload, header)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeNotFoundSubscription, types.CodeOf(err))
	assert.True(t, types.IsRetryable(err))

	status, body := Response(err)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Webhook handler failed", body.Error)
}

func TestProcess_UnknownSubscriptionPastGraceIsDropped(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"payment failed", invoicePayload("evt_orphan_1", TypePaymentFailed, "sub_outside")},
		{"deleted", deletedPayload("evt_orphan_2", "sub_outside")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			r := newTestReconciler(t, store, &fakeProvider{})

			// Inside the grace window the event keeps failing so redelivery can
			// converge once the checkout lands.
			payload, header := sign(withCreated(tt.payload, fixedNow.Add(-10*time.Minute)))
			_, err := r.Process(context.Background(), payload, header)
			require.Error(t, err)
			assert.Equal(t, types.ErrCodeNotFoundSubscription, types.CodeOf(err))

			payload, header = sign(withCreated(tt.payload, fixedNow.Add(-2*DefaultOrphanGrace)))
			res, err := r.Process(context.Background(), payload, header)
			require.NoError(t, err)
			assert.Equal(t, metrics.OutcomeIgnored, res.Outcome)
			assert.Empty(t, store.rows)

			status, body := Response(err)
			assert.Equal(t, http.StatusOK, status)
			assert.True(t, body.Received)
		})
	}
}

func TestProcess_UnknownEventIsAcknowledgedWithoutWrites(t *testing.T) {
	store := newFakeStore()
	provider := &fakeProvider{}
	r := newTestReconciler(t, store, provider)

	payload, header := sign(`{"id":"evt_6","type":"charge.refunded","data":{"object":{"id":"ch_1"}}}`)
	res, err := r.Process(context.Background(), payload, header)
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeIgnored, res.Outcome)
	assert.Zero(t, store.writes())
	assert.Empty(t, store.calls)
	assert.Zero(t, provider.calls)
}

func TestProcess_ProviderFailureIsRetryable(t *testing.T) {
	store := newFakeStore()
	provider := &fakeProvider{err: types.NewAppError(types.ErrCodeUpstreamUnavailable, "stripe down", nil)}
	r := newTestReconciler(t, store, provider)

	payload, header := sign(checkoutPayload("evt_1", "u1", "sub_1"))
	_, err := r.Process(context.Background(), payload, header)
	require.Error(t, err)
	assert.True(t, types.IsRetryable(err))
	assert.Zero(t, store.writes())
}

func TestProcess_ProviderTimeout(t *testing.T) {
	store := newFakeStore()
	provider := &fakeProvider{
		subs:  map[string]*types.ProviderSubscription{"sub_1": proSubscription("sub_1")},
		delay: time.Second,
	}
	r := newTestReconciler(t, store, provider)
	r.providerTimeout = 10 * time.Millisecond

	payload, header := sign(checkoutPayload("evt_1", "u1", "sub_1"))
	_, err := r.Process(context.Background(), payload, header)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeUpstreamTimeout, types.CodeOf(err))
	assert.True(t, types.IsRetryable(err))
	assert.Zero(t, store.writes())
}

func TestProcess_StoreErrorIsWrapped(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("connection reset")
	provider := &fakeProvider{subs: map[string]*types.ProviderSubscription{"sub_1": proSubscription("sub_1")}}
	r := newTestReconciler(t, store, provider)

	payload, header := sign(checkoutPayload("evt_1", "u1", "sub_1"))
	_, err := r.Process(context.Background(), payload, header)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeInternalUnexpected, types.CodeOf(err))
	assert.True(t, types.IsRetryable(err))
}

func TestProcess_HandlerPanicIsRecovered(t *testing.T) {
	store := newFakeStore()
	store.panics = true
	provider := &fakeProvider{subs: map[string]*types.ProviderSubscription{"sub_1": proSubscription("sub_1")}}
	r := newTestReconciler(t, store, provider)

	payload, header := sign(checkoutPayload("evt_1", "u1", "sub_1"))
	var err error
	require.NotPanics(t, func() {
		_, err = r.Process(context.Background(), payload, header)
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeInternalUnexpected, types.CodeOf(err))
}

type recordedWebhook struct {
	eventType string
	outcome   metrics.WebhookOutcome
}

type recordingMetrics struct {
	webhooks []recordedWebhook
}

func (m *recordingMetrics) RecordWebhook(_ context.Context, eventType string, outcome metrics.WebhookOutcome, _ time.Duration) {
	m.webhooks = append(m.webhooks, recordedWebhook{eventType, outcome})
}

func (m *recordingMetrics) RecordRequest(context.Context, string, string, int, time.Duration) {}

func TestProcess_RecordsOutcomes(t *testing.T) {
	store := newFakeStore()
	provider := &fakeProvider{subs: map[string]*types.ProviderSubscription{"sub_1": proSubscription("sub_1")}}
	rec := &recordingMetrics{}
	r := newTestReconciler(t, store, provider)
	r.metrics = rec

	ok, okHeader := sign(checkoutPayload("evt_1", "u1", "sub_1"))
	ignored, ignoredHeader := sign(`{"id":"evt_2","type":"customer.created","data":{"object":{}}}`)
	failed, failedHeader := sign(invoicePayload("evt_3", TypePaymentFailed, "sub_missing"))

	_, _ = r.Process(context.Background(), ok, okHeader)
	_, _ = r.Process(context.Background(), ignored, ignoredHeader)
	_, _ = r.Process(context.Background(), failed, failedHeader)
	_, _ = r.Process(context.Background(), ok, "t=1,v1=bad")

	assert.Equal(t, []recordedWebhook{
		{TypeCheckoutCompleted, metrics.OutcomeProcessed},
		{"customer.created", metrics.OutcomeIgnored},
		{TypePaymentFailed, metrics.OutcomeFailed},
		{"unknown", metrics.OutcomeRejected},
	}, rec.webhooks)
}

func TestResponse(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   ResponseBody
	}{
		{"success", nil, http.StatusOK, ResponseBody{Received: true}},
		{"bad signature", types.NewAppError(types.ErrCodeWebhookSignatureInvalid, "x", nil), http.StatusBadRequest, ResponseBody{Error: "Invalid signature"}},
		{"bad payload", types.NewAppError(types.ErrCodeWebhookPayloadInvalid, "x", nil), http.StatusBadRequest, ResponseBody{Error: "Invalid payload"}},
		{"store failure", types.NewAppError(types.ErrCodeInternalDB, "x", nil), http.StatusInternalServerError, ResponseBody{Error: "Webhook handler failed"}},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, ResponseBody{Error: "Webhook handler failed"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := Response(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantBody, body)
		})
	}
}
