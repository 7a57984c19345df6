package payment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
)

type recordedRequest struct {
	method         string
	path           string
	idempotencyKey string
	form           map[string]string
}

func newTestProvider(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*StripeProvider, *[]recordedRequest) {
	t.Helper()
	var (
		mu       sync.Mutex
		requests []recordedRequest
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		form := make(map[string]string, len(r.PostForm))
		for key := range r.PostForm {
			form[key] = r.PostForm.Get(key)
		}
		mu.Lock()
		requests = append(requests, recordedRequest{
			method:         r.Method,
			path:           r.URL.Path,
			idempotencyKey: r.Header.Get("Idempotency-Key"),
			form:           form,
		})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(server.URL),
		HTTPClient:        server.Client(),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	provider := NewStripeProviderWithBackends("sk_test_123", &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
	return provider, &requests
}

func TestStripeProvider_CreateCustomer(t *testing.T) {
	provider, requests := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"cus_123","object":"customer"}`))
	})

	id, err := provider.CreateCustomer(context.Background(), "a@example.com", map[string]string{"profile_id": "user-1"})
	require.NoError(t, err)
	assert.Equal(t, "cus_123", id)

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "/v1/customers", req.path)
	assert.Equal(t, "customer-user-1", req.idempotencyKey)
	assert.Equal(t, "a@example.com", req.form["email"])
	assert.Equal(t, "user-1", req.form["metadata[profile_id]"])
}

func TestStripeProvider_CreateSubscriptionStartsBillingNow(t *testing.T) {
	provider, requests := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"sub_1","object":"subscription","status":"active"}`))
	})
	provider.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	id, err := provider.CreateSubscription(context.Background(), SubscriptionRequest{
		CustomerID:     "cus_123",
		PriceID:        "price_basic",
		TrialEnd:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Metadata:       map[string]string{"profile_id": "user-1"},
		IdempotencyKey: "convert-user-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "sub_1", id)

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.Equal(t, "/v1/subscriptions", req.path)
	assert.Equal(t, "convert-user-1", req.idempotencyKey)
	assert.Equal(t, "cus_123", req.form["customer"])
	assert.Equal(t, "price_basic", req.form["items[0][price]"])
	assert.Equal(t, "now", req.form["trial_end"])
}

func TestStripeProvider_CreateSubscriptionRequiresCustomerAndPrice(t *testing.T) {
	provider, requests := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err := provider.CreateSubscription(context.Background(), SubscriptionRequest{CustomerID: "cus_1"})
	assert.Error(t, err)
	assert.Empty(t, *requests)
}

func TestStripeProvider_GetSubscription(t *testing.T) {
	provider, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"sub_1","object":"subscription","status":"canceled"}`))
	})
	status, err := provider.GetSubscription(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, SubscriptionCanceled, status)
	assert.True(t, status.Ended())
}

func TestStripeProvider_ErrorResponse(t *testing.T) {
	provider, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"type":"card_error","message":"Your card was declined."}}`))
	})
	_, err := provider.CreateSubscription(context.Background(), SubscriptionRequest{CustomerID: "cus_1", PriceID: "price_1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stripe: create subscription")
	require.True(t, IsResponse(err))
	var re *ResponseError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusPaymentRequired, re.StatusCode)
}

func TestStripeProvider_ConflictIsNotAResponseError(t *testing.T) {
	provider, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"type":"idempotency_error","message":"There is currently another in-progress request using this Idempotent Key."}}`))
	})
	_, err := provider.CreateSubscription(context.Background(), SubscriptionRequest{CustomerID: "cus_1", PriceID: "price_1", IdempotencyKey: "k"})
	require.Error(t, err)
	assert.False(t, IsResponse(err))
}

func TestStripeProvider_TransportErrorIsNotAResponseError(t *testing.T) {
	provider, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := provider.CreateSubscription(ctx, SubscriptionRequest{CustomerID: "cus_1", PriceID: "price_1"})
	require.Error(t, err)
	assert.False(t, IsResponse(err))
}

func TestNewStripeProvider_RequiresKey(t *testing.T) {
	_, err := NewStripeProvider("  ")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
