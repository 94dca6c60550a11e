package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"planguard/internal/billing"
	"planguard/internal/config"
	"planguard/internal/core"
	"planguard/internal/store"
	"planguard/internal/types"
	"planguard/internal/usage"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// memSubscriptions is a map-backed SubscriptionStore.
type memSubscriptions struct {
	mu   sync.Mutex
	rows map[string]*types.Subscription
	err  error
}

func (m *memSubscriptions) GetSubscription(_ context.Context, userID string) (*types.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	row, ok := m.rows[userID]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (m *memSubscriptions) UpsertSubscription(_ context.Context, sub *types.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sub
	m.rows[sub.UserID] = &cp
	return nil
}

func (m *memSubscriptions) UpdateSubscriptionByProviderID(context.Context, string, types.SubscriptionPatch) error {
	return nil
}

func testBillingConfig() config.BillingConfig {
	return config.BillingConfig{
		PriceBasic: "price_basic",
		PricePro:   "price_pro",
		PriceTeam:  "price_team",
		SuccessURL: "https://app.example.com/billing/success",
		CancelURL:  "https://app.example.com/billing/cancel",
	}
}

func testPrices(t *testing.T) *billing.PriceCatalog {
	t.Helper()
	prices, err := billing.NewPriceCatalog(testBillingConfig().Prices())
	require.NoError(t, err)
	return prices
}

// newTestStore composes an in-memory subscription table with Redis counters.
func newTestStore(t *testing.T, rows ...*types.Subscription) (*store.Composite, *memSubscriptions) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := usage.NewRedisClient(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	subs := &memSubscriptions{rows: make(map[string]*types.Subscription)}
	for _, row := range rows {
		subs.rows[row.UserID] = row
	}
	return store.NewComposite(subs, usage.NewRedisCounter(client, 0)), subs
}

// newTestRouter mounts registrars the same way cmd/api does.
func newTestRouter(t *testing.T, public []core.RouteRegistrar, v1 []core.RouteRegistrar) http.Handler {
	t.Helper()
	cfg := &config.Config{
		Environment: "local",
		Billing:     testBillingConfig(),
		Security:    config.SecurityConfig{CorsAllowedOrigins: []string{"*"}, IdentityHeader: "X-User-ID"},
	}
	srv, err := core.NewServer(cfg, discardLogger)
	require.NoError(t, err)
	srv.PublicRouteRegistrars = public
	srv.V1RouteRegistrars = v1
	srv.MountRoutes()
	return srv.Handler()
}

func registrar(fn func(chi.Router)) []core.RouteRegistrar {
	return []core.RouteRegistrar{fn}
}

func do(t *testing.T, h http.Handler, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}
