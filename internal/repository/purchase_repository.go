package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/subx-ng/subx-core/internal/model"
)

// PurchaseRepo provides access to the purchases table.  A row in
// AWAITING_PAYMENT is also the inventory hold for its sqm.
type PurchaseRepo struct {
	db *sql.DB
}

func NewPurchaseRepo(db *sql.DB) *PurchaseRepo { return &PurchaseRepo{db: db} }

const purchaseColumns = `id, reference, plot_id, user_id, user_email, sqm, amount, currency, state, record_id, oversold, expires_at, created_at, updated_at`

func scanPurchase(s rowScanner) (*model.Purchase, error) {
	var (
		p        model.Purchase
		state    string
		recordID sql.NullString
	)
	if err := s.Scan(&p.ID, &p.Reference, &p.PlotID, &p.UserID, &p.UserEmail, &p.Sqm, &p.Amount, &p.Currency,
		&state, &recordID, &p.Oversold, &p.ExpiresAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.State = model.PurchaseState(state)
	p.RecordID = recordID.String
	return &p, nil
}

// InsertTx writes a new purchase.  The caller owns the transaction.
func (r *PurchaseRepo) InsertTx(ctx context.Context, tx *sql.Tx, p model.Purchase) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO purchases (`+purchaseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Reference, p.PlotID, p.UserID, p.UserEmail, p.Sqm, p.Amount, p.Currency,
		string(p.State), nullString(p.RecordID), p.Oversold, utc(p.ExpiresAt), utc(p.CreatedAt), utc(p.UpdatedAt))
	return errors.Wrapf(err, "insert purchase %s", p.Reference)
}

// GetByReference loads a purchase by its payment reference.
func (r *PurchaseRepo) GetByReference(ctx context.Context, reference string) (*model.Purchase, error) {
	p, err := scanPurchase(r.db.QueryRowContext(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE reference = ?`, reference))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get purchase %s", reference)
	}
	return p, nil
}

// GetByReferenceTx is GetByReference inside the caller's transaction.
func (r *PurchaseRepo) GetByReferenceTx(ctx context.Context, tx *sql.Tx, reference string) (*model.Purchase, error) {
	p, err := scanPurchase(tx.QueryRowContext(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE reference = ?`, reference))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get purchase %s", reference)
	}
	return p, nil
}

func (r *PurchaseRepo) listAwaiting(ctx context.Context, q queryer, plotID string) ([]model.Purchase, error) {
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE state = 'AWAITING_PAYMENT'`
	var args []any
	if plotID != "" {
		query += ` AND plot_id = ?`
		args = append(args, plotID)
	}
	query += ` ORDER BY expires_at, id`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list awaiting purchases")
	}
	defer rows.Close()
	var out []model.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan purchase")
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// ListAwaiting returns every purchase still holding inventory.  Expiry is
// decided by the caller against its own clock.
func (r *PurchaseRepo) ListAwaiting(ctx context.Context) ([]model.Purchase, error) {
	return r.listAwaiting(ctx, r.db, "")
}

// ListAwaitingByPlotTx returns the open holds of one plot.
func (r *PurchaseRepo) ListAwaitingByPlotTx(ctx context.Context, tx *sql.Tx, plotID string) ([]model.Purchase, error) {
	return r.listAwaiting(ctx, tx, plotID)
}

// SumHeldByPlot returns the sqm held by purchases awaiting payment.
func (r *PurchaseRepo) SumHeldByPlot(ctx context.Context, plotID string) (decimal.Decimal, error) {
	sum, err := scanDecimal(r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(sqm), 0) FROM purchases WHERE state = 'AWAITING_PAYMENT' AND plot_id = ?`,
		plotID))
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "sum held sqm")
	}
	return sum, nil
}

// Transition describes a guarded state change of one purchase.
type Transition struct {
	Reference string
	From      model.PurchaseState
	To        model.PurchaseState
	RecordID  string
	Oversold  bool
	Now       time.Time
}

// TransitionTx applies t only while the purchase is still in t.From.
// Returns ErrConflict when another transition got there first.
func (r *PurchaseRepo) TransitionTx(ctx context.Context, tx *sql.Tx, t Transition) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE purchases SET state = ?, record_id = ?, oversold = ?, updated_at = ?
		 WHERE reference = ? AND state = ?`,
		string(t.To), nullString(t.RecordID), t.Oversold, utc(t.Now), t.Reference, string(t.From))
	if err != nil {
		return errors.Wrapf(err, "transition purchase %s", t.Reference)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}
