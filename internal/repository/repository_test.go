package repository

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subx-ng/subx-core/internal/database/sqlitetest"
	"github.com/subx-ng/subx-core/internal/model"
)

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func inTx(t *testing.T, db *sql.DB, fn func(tx *sql.Tx)) {
	t.Helper()
	tx, err := db.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	fn(tx)
	require.NoError(t, tx.Commit())
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]any{"want %s, got %s", want, got}, msgAndArgs...)...)
}

func record(id, plotID, userID, email, sqm, paid string) model.OwnershipRecord {
	return model.OwnershipRecord{
		ID: id, PlotID: plotID, UserID: userID, UserEmail: email,
		SqmOwned: dec(sqm), AmountPaid: dec(paid), Status: model.RecordActive,
		CreatedAt: testNow, UpdatedAt: testNow,
	}
}

func plotAvailable(t *testing.T, repo *PlotRepo, id string) decimal.Decimal {
	t.Helper()
	p, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return p.AvailableSize
}

func TestPlotRepo_GetByID(t *testing.T) {
	db := sqlitetest.Open(t)
	repo := NewPlotRepo(db)
	ctx := context.Background()

	p, err := repo.GetByID(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "Plot 77", p.DisplayName)
	assertDecimal(t, "500", p.TotalSize)
	assertDecimal(t, "5000", p.PricePerSqm)
	assertDecimal(t, "490.5", p.AvailableSize)

	_, err = repo.GetByID(ctx, "404")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPlotRepo_List(t *testing.T) {
	db := sqlitetest.Open(t)
	plots, err := NewPlotRepo(db).List(context.Background())
	require.NoError(t, err)
	require.Len(t, plots, 5)
	assert.Equal(t, "1", plots[0].ID)
	assert.Equal(t, "5", plots[4].ID)
}

func TestPlotRepo_ReserveTx(t *testing.T) {
	db := sqlitetest.Open(t)
	repo := NewPlotRepo(db)
	ctx := context.Background()

	inTx(t, db, func(tx *sql.Tx) {
		ok, err := repo.ReserveTx(ctx, tx, "3", dec("400"), testNow)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.ReserveTx(ctx, tx, "3", dec("400"), testNow)
		require.NoError(t, err)
		assert.False(t, ok, "second reservation must not pass against 100 sqm")

		ok, err = repo.ReserveTx(ctx, tx, "3", dec("99.75"), testNow)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.ReserveTx(ctx, tx, "3", dec("0.25"), testNow)
		require.NoError(t, err)
		assert.True(t, ok, "exact remainder is reservable")
	})

	assertDecimal(t, "0", plotAvailable(t, repo, "3"))
}

type reserveResult struct {
	ok  bool
	err error
}

func reserveAndCommit(ctx context.Context, db *sql.DB, repo *PlotRepo, id string, sqm decimal.Decimal) reserveResult {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return reserveResult{err: err}
	}
	ok, err := repo.ReserveTx(ctx, tx, id, sqm, testNow)
	if err != nil {
		_ = tx.Rollback()
		return reserveResult{err: err}
	}
	return reserveResult{ok: ok, err: tx.Commit()}
}

func TestPlotRepo_ReserveTx_OverlappingTransactions(t *testing.T) {
	db := sqlitetest.OpenShared(t)
	repo := NewPlotRepo(db)
	ctx := context.Background()

	first, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	ok, err := repo.ReserveTx(ctx, first, "3", dec("400"), testNow)
	require.NoError(t, err)
	require.True(t, ok)

	done := make(chan reserveResult, 1)
	go func() { done <- reserveAndCommit(ctx, db, repo, "3", dec("400")) }()

	select {
	case r := <-done:
		t.Fatalf("second reservation finished while the first was uncommitted: %+v", r)
	case <-time.After(150 * time.Millisecond):
	}
	require.NoError(t, first.Commit())

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.False(t, r.ok, "the second transaction must see the committed decrement")
	case <-time.After(10 * time.Second):
		t.Fatal("second reservation never finished")
	}
	assertDecimal(t, "100", plotAvailable(t, repo, "3"))
}

func TestPlotRepo_ReserveTx_ConcurrentConnections(t *testing.T) {
	db := sqlitetest.OpenShared(t)
	repo := NewPlotRepo(db)
	ctx := context.Background()

	const buyers = 12
	results := make(chan reserveResult, buyers)
	var wg sync.WaitGroup
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- reserveAndCommit(ctx, db, repo, "3", dec("100"))
		}()
	}
	wg.Wait()
	close(results)

	taken := 0
	for r := range results {
		require.NoError(t, r.err)
		if r.ok {
			taken++
		}
	}
	assert.Equal(t, 5, taken, "500 sqm fit exactly five 100 sqm reservations")
	assertDecimal(t, "0", plotAvailable(t, repo, "3"))
}

func TestPlotRepo_ReleaseAndForceDecrement(t *testing.T) {
	db := sqlitetest.Open(t)
	repo := NewPlotRepo(db)
	ctx := context.Background()

	inTx(t, db, func(tx *sql.Tx) {
		require.NoError(t, repo.ForceDecrementTx(ctx, tx, "4", dec("520"), testNow))
	})
	assertDecimal(t, "-20", plotAvailable(t, repo, "4"))

	inTx(t, db, func(tx *sql.Tx) {
		require.NoError(t, repo.ReleaseTx(ctx, tx, "4", dec("20"), testNow))
	})
	assertDecimal(t, "0", plotAvailable(t, repo, "4"))
}

func legacySales() []model.OwnershipRecord {
	return []model.OwnershipRecord{
		{ID: "legacy-0001", PlotID: "1", UserEmail: "tunde.adebayo@example.com", SqmOwned: dec("1")},
		{ID: "legacy-0002", PlotID: "1", UserEmail: "ifeoma.nwosu@example.com", SqmOwned: dec("1")},
		{ID: "legacy-0003", PlotID: "1", UserEmail: "chioma.eze@example.com", SqmOwned: dec("7")},
		{ID: "legacy-0004", PlotID: "1", UserEmail: "chioma.eze@example.com", SqmOwned: dec("0.5")},
	}
}

func TestPlotRepo_Reconcile(t *testing.T) {
	db := sqlitetest.Open(t)
	plots := NewPlotRepo(db)
	owners := NewOwnershipRepo(db)
	purchases := NewPurchaseRepo(db)
	ctx := context.Background()

	in := ReconcileInput{
		PlotID:  "1",
		Aliases: []string{"1", "77"},
		Legacy:  legacySales(),
		Now:     testNow,
	}

	// Drift the counter, then rebuild it.
	_, err := db.Exec(`UPDATE plots SET available_size = 1 WHERE id = '1'`)
	require.NoError(t, err)
	require.NoError(t, plots.Reconcile(ctx, in))
	assertDecimal(t, "490.5", plotAvailable(t, plots, "1"))

	// A display-keyed record and an open hold both count.
	require.NoError(t, owners.Insert(ctx, record("r1", "77", "u1", "buyer@example.com", "10", "50000")))
	inTx(t, db, func(tx *sql.Tx) {
		require.NoError(t, purchases.InsertTx(ctx, tx, model.Purchase{
			ID: "p1", Reference: "SUBX-1", PlotID: "1", UserID: "u2", Sqm: dec("5"), Amount: dec("25000"),
			Currency: "NGN", State: model.PurchaseAwaitingPayment,
			ExpiresAt: testNow.Add(time.Hour), CreatedAt: testNow, UpdatedAt: testNow,
		}))
	})
	require.NoError(t, plots.Reconcile(ctx, in))
	assertDecimal(t, "475.5", plotAvailable(t, plots, "1"))

	// A historical owner buying again changes nothing about the table.
	require.NoError(t, owners.Insert(ctx, record("r2", "1", "", "Tunde.Adebayo@example.com", "2", "10000")))
	require.NoError(t, plots.Reconcile(ctx, in))
	assertDecimal(t, "473.5", plotAvailable(t, plots, "1"))

	// An imported row replaces its historical entry, even once cancelled.
	imported := record("r3", "77", "", "chioma.eze@example.com", "7", "35000")
	imported.PurchaseRef = "legacy-0003"
	imported.Status = model.RecordCancelled
	require.NoError(t, owners.Insert(ctx, imported))
	require.NoError(t, plots.Reconcile(ctx, in))
	assertDecimal(t, "480.5", plotAvailable(t, plots, "1"))

	err = plots.Reconcile(ctx, ReconcileInput{PlotID: "999", Now: testNow})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOwnershipRepo_SumAndListByPlot(t *testing.T) {
	db := sqlitetest.Open(t)
	repo := NewOwnershipRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, record("a", "1", "u1", "", "10", "50000")))
	require.NoError(t, repo.Insert(ctx, record("b", "77", "", "x@example.com", "2.5", "12500")))
	cancelled := record("c", "1", "u3", "", "40", "200000")
	cancelled.Status = model.RecordCancelled
	require.NoError(t, repo.Insert(ctx, cancelled))
	require.NoError(t, repo.Insert(ctx, record("d", "2", "u1", "", "7", "35000")))

	sum, err := repo.SumActiveByPlot(ctx, []string{"1", "77"})
	require.NoError(t, err)
	assertDecimal(t, "12.5", sum)

	sum, err = repo.SumActiveByPlot(ctx, []string{"1"})
	require.NoError(t, err)
	assertDecimal(t, "10", sum)

	sum, err = repo.SumActiveByPlot(ctx, []string{"3"})
	require.NoError(t, err)
	assert.True(t, sum.IsZero())

	recs, err := repo.ListActiveByPlot(ctx, []string{"1", "77"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].ID)
	assert.Equal(t, "b", recs[1].ID)
}

func TestOwnershipRepo_ListActiveByIdentity(t *testing.T) {
	db := sqlitetest.Open(t)
	repo := NewOwnershipRepo(db)
	ctx := context.Background()

	both := record("both", "1", "u1", "ada@example.com", "10", "50000")
	idOnly := record("id-only", "2", "u1", "", "3", "15000")
	idOnly.CreatedAt = testNow.Add(time.Minute)
	emailOnly := record("email-only", "3", "", "ADA@example.com", "2", "10000")
	emailOnly.CreatedAt = testNow.Add(2 * time.Minute)
	other := record("other", "1", "u9", "someone@example.com", "1", "5000")
	for _, r := range []model.OwnershipRecord{both, idOnly, emailOnly, other} {
		require.NoError(t, repo.Insert(ctx, r))
	}

	recs, err := repo.ListActiveByIdentity(ctx, "u1", " Ada@Example.com ")
	require.NoError(t, err)
	require.Len(t, recs, 3, "a record carrying both keys is returned once")
	assert.Equal(t, []string{"both", "id-only", "email-only"}, []string{recs[0].ID, recs[1].ID, recs[2].ID})

	recs, err = repo.ListActiveByIdentity(ctx, "", "ada@example.com")
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = repo.ListActiveByIdentity(ctx, "", "")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestOwnershipRepo_MigratedRefs(t *testing.T) {
	db := sqlitetest.Open(t)
	repo := NewOwnershipRepo(db)
	ctx := context.Background()

	imported := record("a", "77", "", "chioma.eze@example.com", "7", "35000")
	imported.PurchaseRef = "legacy-0003"
	refunded := record("b", "78", "", "emeka.obi@example.com", "12", "60000")
	refunded.PurchaseRef = "legacy-0005"
	refunded.Status = model.RecordCancelled
	bought := record("c", "1", "", "tunde.adebayo@example.com", "2", "10000")
	bought.PurchaseRef = "SUBX-1"
	for _, r := range []model.OwnershipRecord{imported, refunded, bought} {
		require.NoError(t, repo.Insert(ctx, r))
	}

	got, err := repo.MigratedRefs(ctx, []string{"legacy-0001", "legacy-0003", "legacy-0005"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"legacy-0003": true, "legacy-0005": true}, got)

	got, err = repo.MigratedRefs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOwnershipRepo_HasAnyByIdentity(t *testing.T) {
	db := sqlitetest.Open(t)
	repo := NewOwnershipRepo(db)
	ctx := context.Background()

	cancelled := record("a", "2", "", "Emeka.Obi@example.com", "12", "60000")
	cancelled.Status = model.RecordCancelled
	require.NoError(t, repo.Insert(ctx, cancelled))

	ok, err := repo.HasAnyByIdentity(ctx, "", "emeka.obi@example.com")
	require.NoError(t, err)
	assert.True(t, ok, "cancelled records count")

	ok, err = repo.HasAnyByIdentity(ctx, "u-emeka", "")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.HasAnyByIdentity(ctx, "", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOwnershipRepo_CancelTx(t *testing.T) {
	db := sqlitetest.Open(t)
	repo := NewOwnershipRepo(db)
	ctx := context.Background()
	require.NoError(t, repo.Insert(ctx, record("a", "1", "u1", "", "10", "50000")))

	inTx(t, db, func(tx *sql.Tx) {
		require.NoError(t, repo.CancelTx(ctx, tx, "a", testNow))
		assert.ErrorIs(t, repo.CancelTx(ctx, tx, "a", testNow), ErrConflict)
	})

	rec, err := repo.GetByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, model.RecordCancelled, rec.Status)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOwnershipRepo_BackfillIdentity(t *testing.T) {
	db := sqlitetest.Open(t)
	repo := NewOwnershipRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, record("email-only", "1", "", "ada@example.com", "1", "5000")))
	require.NoError(t, repo.Insert(ctx, record("id-only", "1", "u1", "", "1", "5000")))
	require.NoError(t, repo.Insert(ctx, record("complete", "1", "u1", "ada@example.com", "1", "5000")))

	n, err := repo.BackfillIdentity(ctx, "u1", "ADA@example.com", testNow)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	for _, id := range []string{"email-only", "id-only"} {
		rec, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "u1", rec.UserID, id)
		assert.Equal(t, "ada@example.com", rec.UserEmail, id)
	}

	n, err = repo.BackfillIdentity(ctx, "u1", "", testNow)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPurchaseRepo_Lifecycle(t *testing.T) {
	db := sqlitetest.Open(t)
	repo := NewPurchaseRepo(db)
	ctx := context.Background()

	p := model.Purchase{
		ID: "p1", Reference: "SUBX-abc", PlotID: "3", UserID: "u1", UserEmail: "ada@example.com",
		Sqm: dec("4"), Amount: dec("20000"), Currency: "NGN", State: model.PurchaseAwaitingPayment,
		ExpiresAt: testNow.Add(30 * time.Minute), CreatedAt: testNow, UpdatedAt: testNow,
	}
	inTx(t, db, func(tx *sql.Tx) { require.NoError(t, repo.InsertTx(ctx, tx, p)) })

	got, err := repo.GetByReference(ctx, "SUBX-abc")
	require.NoError(t, err)
	assert.Equal(t, model.PurchaseAwaitingPayment, got.State)
	assertDecimal(t, "4", got.Sqm)
	assert.Empty(t, got.RecordID)
	assert.True(t, got.ExpiresAt.Equal(p.ExpiresAt))

	held, err := repo.SumHeldByPlot(ctx, "3")
	require.NoError(t, err)
	assertDecimal(t, "4", held)

	awaiting, err := repo.ListAwaiting(ctx)
	require.NoError(t, err)
	assert.Len(t, awaiting, 1)

	inTx(t, db, func(tx *sql.Tx) {
		require.NoError(t, repo.TransitionTx(ctx, tx, Transition{
			Reference: "SUBX-abc", From: model.PurchaseAwaitingPayment, To: model.PurchaseConfirmed,
			RecordID: "rec-1", Oversold: true, Now: testNow,
		}))
		err := repo.TransitionTx(ctx, tx, Transition{
			Reference: "SUBX-abc", From: model.PurchaseAwaitingPayment, To: model.PurchaseCancelled, Now: testNow,
		})
		assert.ErrorIs(t, err, ErrConflict)

		byPlot, err := repo.ListAwaitingByPlotTx(ctx, tx, "3")
		require.NoError(t, err)
		assert.Empty(t, byPlot)
	})

	got, err = repo.GetByReference(ctx, "SUBX-abc")
	require.NoError(t, err)
	assert.Equal(t, model.PurchaseConfirmed, got.State)
	assert.Equal(t, "rec-1", got.RecordID)
	assert.True(t, got.Oversold)

	_, err = repo.GetByReference(ctx, "SUBX-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFlagRepo_InsertListResolve(t *testing.T) {
	db := sqlitetest.Open(t)
	repo := NewFlagRepo(db)
	ctx := context.Background()

	inTx(t, db, func(tx *sql.Tx) {
		require.NoError(t, repo.InsertTx(ctx, tx, model.ReconciliationFlag{
			ID: "f1", PlotID: "3", PurchaseReference: "SUBX-1", RecordID: "r1",
			RequestedSqm: dec("400"), AvailableSqm: dec("100"), CreatedAt: testNow,
		}))
	})

	open, err := repo.List(ctx, model.FlagOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assertDecimal(t, "400", open[0].RequestedSqm)
	assert.Nil(t, open[0].ResolvedAt)

	f, err := repo.Resolve(ctx, "f1", "refunded 300 sqm", testNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, model.FlagResolved, f.Status)
	require.NotNil(t, f.ResolvedAt)

	_, err = repo.Resolve(ctx, "f1", "again", testNow)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = repo.Resolve(ctx, "nope", "", testNow)
	assert.ErrorIs(t, err, ErrNotFound)

	open, err = repo.List(ctx, model.FlagOpen)
	require.NoError(t, err)
	assert.Empty(t, open)

	all, err := repo.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
