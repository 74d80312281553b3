package service

import (
	"bytes"
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subx-ng/subx-core/internal/config"
	"github.com/subx-ng/subx-core/internal/database/sqlitetest"
	"github.com/subx-ng/subx-core/internal/legacy"
	"github.com/subx-ng/subx-core/internal/metrics"
	"github.com/subx-ng/subx-core/internal/payment"
	"github.com/subx-ng/subx-core/internal/plotkey"
	"github.com/subx-ng/subx-core/internal/queue"
)

const testSecret = "sk_test_secret"

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	if !dec(want).Equal(got) {
		assert.Fail(t, "decimal mismatch: want "+want+", got "+got.String(), msgAndArgs...)
	}
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeProvider answers checkout and verification calls locally and
// delegates webhook handling to the real Paystack client.
type fakeProvider struct {
	*payment.Paystack

	mu          sync.Mutex
	initErr     error
	verifyErr   error
	verify      map[string]payment.Verification
	initialized []payment.InitializeRequest
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		Paystack: payment.NewPaystack(config.PaystackConfig{SecretKey: testSecret}),
		verify:   make(map[string]payment.Verification),
	}
}

func (f *fakeProvider) Initialize(_ context.Context, req payment.InitializeRequest) (payment.InitializeResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initErr != nil {
		return payment.InitializeResponse{}, f.initErr
	}
	f.initialized = append(f.initialized, req)
	return payment.InitializeResponse{
		AuthorizationURL: "https://checkout.example.com/" + req.Reference,
		AccessCode:       "code-" + req.Reference,
		Reference:        req.Reference,
	}, nil
}

func (f *fakeProvider) Verify(_ context.Context, reference string) (payment.Verification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.verifyErr != nil {
		return payment.Verification{}, f.verifyErr
	}
	v, ok := f.verify[reference]
	if !ok {
		return payment.Verification{Reference: reference, Status: payment.StatusPending}, nil
	}
	return v, nil
}

func (f *fakeProvider) settle(reference, status, amount string) {
	f.mu.Lock()
	f.verify[reference] = payment.Verification{Reference: reference, Status: status, Amount: dec(amount), Currency: "NGN"}
	f.mu.Unlock()
}

type recordingNotifier struct {
	mu        sync.Mutex
	confirmed []queue.PurchaseConfirmedEvent
	oversold  []queue.OversellDetectedEvent
	err       error
}

func (n *recordingNotifier) PurchaseConfirmed(_ context.Context, ev queue.PurchaseConfirmedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmed = append(n.confirmed, ev)
	return n.err
}

func (n *recordingNotifier) OversellDetected(_ context.Context, ev queue.OversellDetectedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.oversold = append(n.oversold, ev)
	return n.err
}

type fixture struct {
	db        *sql.DB
	stores    Stores
	clock     *clock
	provider  *fakeProvider
	notifier  *recordingNotifier
	registry  *prometheus.Registry
	logs      *bytes.Buffer
	inventory *InventoryService
	portfolio *PortfolioService
	purchases *PurchaseService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := sqlitetest.Open(t)
	f := &fixture{
		db:       db,
		stores:   NewStores(db),
		clock:    &clock{t: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)},
		provider: newFakeProvider(),
		notifier: &recordingNotifier{},
		registry: prometheus.NewRegistry(),
		logs:     &bytes.Buffer{},
	}
	m := metrics.New(f.registry)
	log := slog.New(slog.NewJSONHandler(&syncWriter{w: f.logs}, &slog.HandlerOptions{Level: slog.LevelDebug}))
	naming := plotkey.Default()
	resolver := legacy.Default(naming)

	f.inventory = NewInventoryService(f.stores, naming, resolver, InventoryOptions{Metrics: m, Logger: log, Now: f.clock.Now})
	f.portfolio = NewPortfolioService(f.stores, naming, resolver, PortfolioOptions{DefaultPlotSize: dec("500"), Metrics: m, Logger: log, Now: f.clock.Now})
	f.purchases = NewPurchaseService(f.stores, f.inventory, naming, f.provider, PurchaseOptions{
		Currency: "NGN",
		HoldTTL:  30 * time.Minute,
		Notifier: f.notifier,
		Metrics:  m,
		Logger:   log,
		Now:      f.clock.Now,
	})
	return f
}

// counter returns the value of a counter, summed over its label sets.
func (f *fixture) counter(t *testing.T, name string) float64 {
	t.Helper()
	families, err := f.registry.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

type syncWriter struct {
	mu sync.Mutex
	w  *bytes.Buffer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
