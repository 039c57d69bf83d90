package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"activation-orchestrator/internal/activation/gateway"
	"activation-orchestrator/internal/activation/landing"
	"activation-orchestrator/internal/activation/orchestrator"
	"activation-orchestrator/internal/activation/reconciler"
	"activation-orchestrator/internal/common/config"
	"activation-orchestrator/internal/common/database"
	"activation-orchestrator/internal/common/logger"
	"activation-orchestrator/internal/common/observability"
	"activation-orchestrator/internal/common/payments"
	"activation-orchestrator/internal/common/session"
	"activation-orchestrator/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Fake subscription backend
// ==========================

const e2eToken = "tok-e2e"

type fakeBackend struct {
	mu            sync.Mutex
	phoneVerified bool
	hasBillingKey bool
	status        string
	confirms      int
}

func (b *fakeBackend) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	authed := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer "+e2eToken {
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"message": "token expired"})
				return
			}
			assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
			b.mu.Lock()
			defer b.mu.Unlock()
			next(w, r)
		}
	}
	data := func(w http.ResponseWriter, v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": v})
	}

	mux.HandleFunc("/subscriptions/me", authed(func(w http.ResponseWriter, r *http.Request) {
		snap := map[string]interface{}{
			"status":        b.status,
			"hasBillingKey": b.hasBillingKey,
			"customerKey":   nil,
		}
		if b.hasBillingKey {
			snap["customerKey"] = "cus_e2e"
		}
		if b.phoneVerified {
			snap["phoneVerifiedAt"] = "2024-01-01T09:00:00Z"
		}
		data(w, snap)
	}))
	mux.HandleFunc("/subscriptions/phone-auth/send", authed(func(w http.ResponseWriter, r *http.Request) {
		data(w, map[string]interface{}{"requestId": "req-e2e", "expiresInSeconds": 180})
	}))
	mux.HandleFunc("/subscriptions/phone-auth/verify", authed(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["code"] != "246810" {
			data(w, map[string]interface{}{"verified": false})
			return
		}
		b.phoneVerified = true
		data(w, map[string]interface{}{"verified": true})
	}))
	mux.HandleFunc("/subscriptions/billing/issue", authed(func(w http.ResponseWriter, r *http.Request) {
		data(w, map[string]interface{}{
			"customerKey": "cus_e2e",
			"orderName":   "Monthly",
			"amount":      9900,
			"successUrl":  "https://app.example.com/billing/success",
			"failUrl":     "https://app.example.com/billing/fail",
		})
	}))
	mux.HandleFunc("/payments/billing-key/confirm", authed(func(w http.ResponseWriter, r *http.Request) {
		b.confirms++
		b.hasBillingKey = true
		data(w, map[string]interface{}{"billingKey": "bk_e2e"})
	}))
	mux.HandleFunc("/subscriptions/start", authed(func(w http.ResponseWriter, r *http.Request) {
		b.status = "ACTIVE"
		data(w, map[string]interface{}{"status": "ACTIVE"})
	}))
	return mux
}

// ==========================
// Full activation journey
// ==========================

func TestFullActivationJourney(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	log := logger.NewTestLogger(t)
	backend := &fakeBackend{status: "NONE"}
	api := httptest.NewServer(backend.handler(t))
	defer api.Close()

	mr := miniredis.RunT(t)
	rdb, err := database.NewRedis(config.RedisConfig{Address: mr.Addr()})
	require.NoError(t, err)
	defer rdb.Close()

	store := session.NewRedisCredentialStore(rdb.Client, "session:token:")
	require.NoError(t, store.Store(ctx, "sess-e2e", e2eToken, time.Hour))

	obs := observability.NewNop()
	registrar := payments.NewHostedCheckout("https://pay.example.com/billing/auth", "ck_test", "CARD")
	factory := gateway.NewFactory(config.BackendConfig{BaseURL: api.URL, Timeout: 5000}, registrar, obs, log)
	registry := NewRegistry(factory, store, orchestrator.Options{
		Order:         models.OrderDescriptor{OrderName: "Monthly", Amount: 9900},
		ActionTimeout: 10 * time.Second,
		Reconcile:     reconciler.Options{MaxConsistencyRefetches: 2},
	}, orchestrator.Deps{Observability: obs, Logger: log})
	defer registry.CloseAll()

	landingHandler := landing.NewHandler(landing.NewRedisLedger(rdb.Client, "billing:confirm:"), time.Hour, nil, log)
	router := NewRouter(log, RouterDependencies{
		Health:        StoreHealthService{Redis: rdb},
		API:           NewAPIHandlers(log, registry, landingHandler, "", ""),
		Observability: obs,
	})

	call := func(method, path string, body interface{}) *httptest.ResponseRecorder {
		t.Helper()
		var payload []byte
		if body != nil {
			payload, err = json.Marshal(body)
			require.NoError(t, err)
		}
		req := httptest.NewRequest(method, path, bytes.NewReader(payload))
		req.AddCookie(&http.Cookie{Name: "session_id", Value: "sess-e2e"})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	t.Log("1. health")
	assert.Equal(t, http.StatusOK, call(http.MethodGet, "/healthz", nil).Code)

	t.Log("2. mount lands on PHONE")
	rec := call(http.MethodGet, "/api/activation", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.StepPhone, decodeView(t, rec).Step)

	t.Log("3. send code, wrong code keeps the challenge")
	rec = call(http.MethodPost, "/api/activation/phone/send", sendCodeRequest{PhoneNumber: "010-2468-1357"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, decodeView(t, rec).Challenge)

	rec = call(http.MethodPost, "/api/activation/phone/verify", verifyCodeRequest{Code: "000000"})
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeView(t, rec)
	require.NotNil(t, view.Error)
	assert.Equal(t, "Verification code is incorrect", view.Error.Message)
	assert.NotNil(t, view.Challenge)
	assert.Equal(t, models.StepPhone, view.Step)

	t.Log("4. correct code moves to BILLING")
	rec = call(http.MethodPost, "/api/activation/phone/verify", verifyCodeRequest{Code: "246810"})
	require.Equal(t, http.StatusOK, rec.Code)
	view = decodeView(t, rec)
	assert.Equal(t, models.StepBilling, view.Step)
	assert.False(t, view.Provisional)

	t.Log("5. billing registration navigates to the hosted page")
	rec = call(http.MethodPost, "/api/activation/billing", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view = decodeView(t, rec)
	require.NotNil(t, view.Navigation)
	nav, err := url.Parse(view.Navigation.URL)
	require.NoError(t, err)
	assert.Equal(t, "pay.example.com", nav.Host)
	assert.Equal(t, "cus_e2e", nav.Query().Get("customerKey"))
	assert.Equal(t, "ck_test", nav.Query().Get("clientKey"))

	t.Log("6. success landing confirms once, reload is a duplicate")
	rec = call(http.MethodGet, "/billing/success?authKey=auth-e2e&customerKey=cus_e2e", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res landing.Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, landing.OutcomeConfirmed, res.Outcome)
	require.NotNil(t, res.View)
	assert.Equal(t, models.StepSubscribe, res.View.Step)

	rec = call(http.MethodGet, "/billing/success?authKey=auth-e2e&customerKey=cus_e2e", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res = landing.Result{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.True(t, res.Duplicate)
	assert.Equal(t, landing.OutcomeConfirmed, res.Outcome)
	assert.Equal(t, 1, backend.confirmCount())

	t.Log("7. start subscription reaches DONE")
	rec = call(http.MethodPost, "/api/activation/subscribe", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view = decodeView(t, rec)
	assert.Equal(t, models.StepDone, view.Step)
	assert.Contains(t, view.Actions, orchestrator.ActionCancelAutoPay)

	t.Log("8. revoked credential requires login")
	require.NoError(t, store.Revoke(ctx, "sess-e2e"))
	rec = call(http.MethodPost, "/api/activation/resync", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.True(t, decodeView(t, rec).LoginRequired)
	assert.Equal(t, 0, registry.Len())
}

func (b *fakeBackend) confirmCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.confirms
}
