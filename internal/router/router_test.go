package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"

	"github.com/subx-ng/subx-core/internal/config"
	"github.com/subx-ng/subx-core/internal/database/sqlitetest"
	"github.com/subx-ng/subx-core/internal/document"
	"github.com/subx-ng/subx-core/internal/handler"
	"github.com/subx-ng/subx-core/internal/legacy"
	"github.com/subx-ng/subx-core/internal/logger"
	"github.com/subx-ng/subx-core/internal/metrics"
	"github.com/subx-ng/subx-core/internal/payment"
	"github.com/subx-ng/subx-core/internal/plotkey"
	"github.com/subx-ng/subx-core/internal/service"
)

const (
	jwtSecret      = "jwt-test-secret"
	paystackSecret = "sk_test_router"
)

// stubProvider settles checkouts locally and keeps the real webhook
// signature check.
type stubProvider struct {
	*payment.Paystack

	mu     sync.Mutex
	verify map[string]payment.Verification
}

func (s *stubProvider) Initialize(_ context.Context, req payment.InitializeRequest) (payment.InitializeResponse, error) {
	return payment.InitializeResponse{AuthorizationURL: "https://checkout.example.com/" + req.Reference, Reference: req.Reference}, nil
}

func (s *stubProvider) Verify(_ context.Context, ref string) (payment.Verification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.verify[ref]; ok {
		return v, nil
	}
	return payment.Verification{Reference: ref, Status: payment.StatusPending}, nil
}

func (s *stubProvider) settle(ref, status string, amount int64) {
	s.mu.Lock()
	s.verify[ref] = payment.Verification{Reference: ref, Status: status, Amount: decimal.NewFromInt(amount), Currency: "NGN"}
	s.mu.Unlock()
}

type api struct {
	e        *echo.Echo
	provider *stubProvider
}

func newAPI(t *testing.T) *api {
	t.Helper()
	db := sqlitetest.Open(t)
	log := logger.Discard()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	naming := plotkey.Default()
	resolver := legacy.Default(naming)
	stores := service.NewStores(db)
	provider := &stubProvider{
		Paystack: payment.NewPaystack(config.PaystackConfig{SecretKey: paystackSecret}),
		verify:   map[string]payment.Verification{},
	}

	inventory := service.NewInventoryService(stores, naming, resolver, service.InventoryOptions{Metrics: m, Logger: log})
	portfolio := service.NewPortfolioService(stores, naming, resolver, service.PortfolioOptions{Metrics: m, Logger: log})
	purchases := service.NewPurchaseService(stores, inventory, naming, provider, service.PurchaseOptions{Metrics: m, Logger: log, HoldTTL: time.Hour})
	docs := document.NewLibrary(document.NewPDFGenerator("Subx"), document.NewStore(memblob.OpenBucket(nil)), log)

	e := New(Handlers{
		Plots:     &handler.PlotHandler{Inventory: inventory, Log: log},
		Portfolio: &handler.PortfolioHandler{Portfolio: portfolio, Documents: docs, Log: log},
		Purchases: &handler.PurchaseHandler{Purchases: purchases, Log: log},
		Webhooks:  &handler.WebhookHandler{Purchases: purchases, Log: log},
		Admin:     &handler.AdminHandler{Inventory: inventory, Portfolio: portfolio, Purchases: purchases, Log: log},
	}, Options{
		JWTSecret: jwtSecret,
		DB:        db,
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Logger:    log,
	})
	return &api{e: e, provider: provider}
}

func token(t *testing.T, sub, email, role string) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": sub, "email": email, "role": "authenticated", "exp": time.Now().Add(time.Hour).Unix()}
	if role != "" {
		claims["app_metadata"] = map[string]any{"role": role}
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return s
}

func (a *api) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if bearer != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestRouter_Health(t *testing.T) {
	a := newAPI(t)
	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/readyz", "", nil).Code)

	rec := a.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "subx_oversell_detected_total")
}

func TestRouter_Plots(t *testing.T) {
	a := newAPI(t)

	rec := a.do(t, http.MethodGet, "/v1/plots", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["items"], 5)

	rec = a.do(t, http.MethodGet, "/v1/plots/77/availability", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "1", body["plot_id"])
	assert.Equal(t, "Plot 77", body["display_name"])
	assert.Equal(t, "490.5", body["available_sqm"])

	rec = a.do(t, http.MethodGet, "/v1/plots/999/availability", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodGet, "/v1/plots/catalog", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	items := decode(t, rec)["items"].([]any)
	require.Len(t, items, 5)
	_, hasAvailable := items[0].(map[string]any)["available_size"]
	assert.False(t, hasAvailable)
}

func TestRouter_PurchaseRequiresAuth(t *testing.T) {
	a := newAPI(t)
	rec := a.do(t, http.MethodPost, "/v1/purchases", "", map[string]any{"plot_id": "3", "sqm": 1})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_PurchaseValidation(t *testing.T) {
	a := newAPI(t)
	tok := token(t, "u1", "ada@example.com", "")

	rec := a.do(t, http.MethodPost, "/v1/purchases", tok, map[string]any{"sqm": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/v1/purchases", tok, map[string]any{"plot_id": "3", "sqm": 600})
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "insufficient_inventory", body["error"])
	assert.Equal(t, "500", body["available_sqm"])

	for _, body := range []map[string]any{
		{"plot_id": "3", "sqm": 0.5},
		{"plot_id": "3", "sqm": 0},
		{"plot_id": "3", "sqm": "0"},
		{"plot_id": "3"},
	} {
		rec = a.do(t, http.MethodPost, "/v1/purchases", tok, body)
		assert.Equal(t, http.StatusConflict, rec.Code, "%v", body)
		assert.Equal(t, "insufficient_inventory", decode(t, rec)["error"], "%v", body)
	}

	rec = a.do(t, http.MethodPost, "/v1/purchases", tok, map[string]any{"plot_id": "3", "sqm": "lots"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func initiate(t *testing.T, a *api, tok, plot string, sqm int) string {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/v1/purchases", tok, map[string]any{"plot_id": plot, "sqm": sqm})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.True(t, strings.HasPrefix(body["authorization_url"].(string), "https://checkout.example.com/"))
	return body["purchase"].(map[string]any)["reference"].(string)
}

func TestRouter_PurchaseFlow(t *testing.T) {
	a := newAPI(t)
	tok := token(t, "u1", "ada@example.com", "")

	ref := initiate(t, a, tok, "Plot 79", 10)
	rec := a.do(t, http.MethodGet, "/v1/purchases/"+ref, tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "AWAITING_PAYMENT", decode(t, rec)["state"])

	other := token(t, "u2", "bola@example.com", "")
	assert.Equal(t, http.StatusForbidden, a.do(t, http.MethodGet, "/v1/purchases/"+ref, other, nil).Code)

	// Pending at the provider: nothing changes.
	rec = a.do(t, http.MethodPost, "/v1/purchases/"+ref+"/callback", tok, map[string]any{"outcome": "success"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "AWAITING_PAYMENT", decode(t, rec)["purchase"].(map[string]any)["state"])

	a.provider.settle(ref, payment.StatusSuccess, 50000)
	rec = a.do(t, http.MethodPost, "/v1/purchases/"+ref+"/callback", tok, map[string]any{"outcome": "success"})
	require.Equal(t, http.StatusOK, rec.Code)
	purchase := decode(t, rec)["purchase"].(map[string]any)
	assert.Equal(t, "CONFIRMED", purchase["state"])
	recordID := purchase["record_id"].(string)
	require.NotEmpty(t, recordID)

	rec = a.do(t, http.MethodGet, "/v1/portfolio", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	portfolio := decode(t, rec)
	assert.Equal(t, "10", portfolio["total_sqm_owned"])
	assert.Equal(t, "50000", portfolio["total_amount_paid"])

	rec = a.do(t, http.MethodGet, "/v1/plots/3/availability", "", nil)
	assert.Equal(t, "490", decode(t, rec)["available_sqm"])

	rec = a.do(t, http.MethodGet, "/v1/portfolio/records/"+recordID+"/documents/deed", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get(echo.HeaderContentType))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))

	assert.Equal(t, http.StatusForbidden,
		a.do(t, http.MethodGet, "/v1/portfolio/records/"+recordID+"/documents/deed", other, nil).Code)
	assert.Equal(t, http.StatusBadRequest,
		a.do(t, http.MethodGet, "/v1/portfolio/records/"+recordID+"/documents/invoice", tok, nil).Code)
}

func TestRouter_CallbackOutcomes(t *testing.T) {
	a := newAPI(t)
	tok := token(t, "u1", "ada@example.com", "")

	rec := a.do(t, http.MethodPost, "/v1/purchases/SUBX-x/callback", tok, map[string]any{"outcome": "maybe"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ref := initiate(t, a, tok, "4", 2)
	rec = a.do(t, http.MethodPost, "/v1/purchases/"+ref+"/callback", tok, map[string]any{"outcome": "failed"})
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "FAILED", decode(t, rec)["purchase"].(map[string]any)["state"])

	ref = initiate(t, a, tok, "4", 2)
	rec = a.do(t, http.MethodPost, "/v1/purchases/"+ref+"/callback", tok, map[string]any{"outcome": "cancelled"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CANCELLED", decode(t, rec)["purchase"].(map[string]any)["state"])

	rec = a.do(t, http.MethodGet, "/v1/plots/4/availability", "", nil)
	assert.Equal(t, "500", decode(t, rec)["purchasable_sqm"])
}

func TestRouter_Webhook(t *testing.T) {
	a := newAPI(t)
	tok := token(t, "u1", "ada@example.com", "")
	ref := initiate(t, a, tok, "5", 3)

	payload := []byte(`{"event":"charge.success","data":{"reference":"` + ref + `","status":"success","amount":1500000,"currency":"NGN"}}`)
	post := func(body []byte, sig string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/payments/paystack/webhook", bytes.NewReader(body))
		req.Header.Set(payment.SignatureHeader, sig)
		rec := httptest.NewRecorder()
		a.e.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, post(payload, "bad").Code)
	assert.Equal(t, http.StatusOK, post(payload, payment.Sign(paystackSecret, payload)).Code)

	rec := a.do(t, http.MethodGet, "/v1/purchases/"+ref, tok, nil)
	assert.Equal(t, "CONFIRMED", decode(t, rec)["state"])

	unknown := []byte(`{"event":"charge.success","data":{"reference":"SUBX-nope","status":"success","amount":100,"currency":"NGN"}}`)
	rec = post(unknown, payment.Sign(paystackSecret, unknown))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ignored", decode(t, rec)["status"])

	for _, garbage := range [][]byte{[]byte("{not json"), []byte(`{"event":"charge.success","data":{"reference":"x","amount":"lots"}}`)} {
		rec = post(garbage, payment.Sign(paystackSecret, garbage))
		assert.Equal(t, http.StatusBadRequest, rec.Code, string(garbage))
		assert.Equal(t, "malformed event", decode(t, rec)["error"])
	}
	assert.Equal(t, http.StatusUnauthorized, post([]byte("{not json"), "bad").Code, "the signature is checked first")
}

func TestRouter_Admin(t *testing.T) {
	a := newAPI(t)
	investor := token(t, "u1", "ada@example.com", "")
	admin := token(t, "ops", "ops@example.com", "admin")

	assert.Equal(t, http.StatusForbidden, a.do(t, http.MethodGet, "/v1/admin/reconciliation", investor, nil).Code)

	rec := a.do(t, http.MethodGet, "/v1/admin/reconciliation", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode(t, rec)["items"])
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodGet, "/v1/admin/reconciliation?status=MAYBE", admin, nil).Code)

	rec = a.do(t, http.MethodPost, "/v1/admin/plots/77/reconcile", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", decode(t, rec)["plot_id"])

	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodPost, "/v1/admin/records/nope/cancel", admin, nil).Code)
	assert.Equal(t, http.StatusNotFound,
		a.do(t, http.MethodPost, "/v1/admin/reconciliation/nope/resolve", admin, map[string]any{"note": "checked"}).Code)
	assert.Equal(t, http.StatusBadRequest,
		a.do(t, http.MethodPost, "/v1/admin/reconciliation/nope/resolve", admin, map[string]any{}).Code)

	rec = a.do(t, http.MethodPost, "/v1/admin/identities/backfill", admin, map[string]any{"user_id": "u1", "email": "ada@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.0, decode(t, rec)["updated"])

	assert.Equal(t, http.StatusBadRequest,
		a.do(t, http.MethodPost, "/v1/admin/identities/backfill", admin, map[string]any{"user_id": "u1", "email": "not-an-email"}).Code)
}

func TestRouter_AdminCancelRecord(t *testing.T) {
	a := newAPI(t)
	tok := token(t, "u1", "ada@example.com", "")
	admin := token(t, "ops", "ops@example.com", "admin")

	ref := initiate(t, a, tok, "3", 4)
	a.provider.settle(ref, payment.StatusSuccess, 20000)
	rec := a.do(t, http.MethodPost, "/v1/purchases/"+ref+"/callback", tok, map[string]any{"outcome": "success"})
	recordID := decode(t, rec)["purchase"].(map[string]any)["record_id"].(string)

	rec = a.do(t, http.MethodPost, "/v1/admin/records/"+recordID+"/cancel", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CANCELLED", decode(t, rec)["status"])
	assert.Equal(t, http.StatusConflict, a.do(t, http.MethodPost, "/v1/admin/records/"+recordID+"/cancel", admin, nil).Code)

	rec = a.do(t, http.MethodGet, "/v1/plots/3/availability", "", nil)
	assert.Equal(t, "500", decode(t, rec)["available_sqm"])
}
