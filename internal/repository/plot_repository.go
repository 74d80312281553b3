package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/subx-ng/subx-core/internal/model"
)

// PlotRepo provides access to the plots table.  available_size is a
// cached counter: apart from Reconcile, it only moves through the
// conditional statements below, never through a read-then-write.
type PlotRepo struct {
	db *sql.DB
}

func NewPlotRepo(db *sql.DB) *PlotRepo { return &PlotRepo{db: db} }

const plotColumns = `id, display_name, location, total_size, price_per_sqm, status, available_size, created_at, updated_at`

func scanPlot(s rowScanner) (*model.Plot, error) {
	var p model.Plot
	if err := s.Scan(&p.ID, &p.DisplayName, &p.Location, &p.TotalSize, &p.PricePerSqm,
		&p.Status, &p.AvailableSize, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.AvailableSize = p.AvailableSize.Round(scale)
	return &p, nil
}

// GetByID loads one plot by storage id.  Returns ErrNotFound when absent.
func (r *PlotRepo) GetByID(ctx context.Context, id string) (*model.Plot, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+plotColumns+` FROM plots WHERE id = ?`, id)
	p, err := scanPlot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get plot %s", id)
	}
	return p, nil
}

// GetByIDTx is GetByID inside the caller's transaction.
func (r *PlotRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id string) (*model.Plot, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+plotColumns+` FROM plots WHERE id = ?`, id)
	p, err := scanPlot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get plot %s", id)
	}
	return p, nil
}

// List returns every plot ordered by storage id.
func (r *PlotRepo) List(ctx context.Context) ([]model.Plot, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+plotColumns+` FROM plots ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "list plots")
	}
	defer rows.Close()
	var plots []model.Plot
	for rows.Next() {
		p, err := scanPlot(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan plot")
		}
		plots = append(plots, *p)
	}
	return plots, rows.Err()
}

// ReserveTx decrements available_size by sqm only when at least sqm is
// left.  The check and the decrement are one statement, so two
// concurrent reservations can never both pass against the same value.
// It reports whether the reservation was taken.
func (r *PlotRepo) ReserveTx(ctx context.Context, tx *sql.Tx, id string, sqm decimal.Decimal, now time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE plots SET available_size = available_size - CAST(? AS DECIMAL(12,2)), updated_at = ?
		 WHERE id = ? AND available_size >= CAST(? AS DECIMAL(12,2))`,
		sqm, utc(now), id, sqm)
	if err != nil {
		return false, errors.Wrapf(err, "reserve %s sqm on plot %s", sqm, id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseTx returns sqm to the plot's counter.
func (r *PlotRepo) ReleaseTx(ctx context.Context, tx *sql.Tx, id string, sqm decimal.Decimal, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE plots SET available_size = available_size + CAST(? AS DECIMAL(12,2)), updated_at = ? WHERE id = ?`,
		sqm, utc(now), id)
	return errors.Wrapf(err, "release %s sqm on plot %s", sqm, id)
}

// ForceDecrementTx takes sqm off the counter even when that drives it
// negative.  It is used only for purchases that were already paid for;
// a negative counter is the visible trace of the oversell.
func (r *PlotRepo) ForceDecrementTx(ctx context.Context, tx *sql.Tx, id string, sqm decimal.Decimal, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE plots SET available_size = available_size - CAST(? AS DECIMAL(12,2)), updated_at = ? WHERE id = ?`,
		sqm, utc(now), id)
	return errors.Wrapf(err, "force decrement %s sqm on plot %s", sqm, id)
}

// ReconcileInput describes how the counter of one plot is rebuilt.
type ReconcileInput struct {
	PlotID  string
	Aliases []string                // every plot_id representation of the plot in ownership_records
	Legacy  []model.OwnershipRecord // historical sales of the plot, keyed by their historical id
	Now     time.Time
}

// Reconcile rewrites available_size from the ownership records and open
// holds in a single statement.  Each historical sale is subtracted only
// while no stored record, in any status, carries its id as purchase_ref.
func (r *PlotRepo) Reconcile(ctx context.Context, in ReconcileInput) error {
	if len(in.Aliases) == 0 {
		in.Aliases = []string{in.PlotID}
	}

	legacyTerm := `0`
	var legacyArgs []any
	if len(in.Legacy) > 0 {
		terms := make([]string, 0, len(in.Legacy))
		for _, rec := range in.Legacy {
			terms = append(terms, `CASE WHEN EXISTS (SELECT 1 FROM ownership_records WHERE purchase_ref = ?)
				THEN 0 ELSE CAST(? AS DECIMAL(12,2)) END`)
			legacyArgs = append(legacyArgs, rec.ID, rec.SqmOwned)
		}
		legacyTerm = `(` + strings.Join(terms, ` + `) + `)`
	}

	q := `UPDATE plots SET available_size = total_size
		- COALESCE((SELECT SUM(sqm_owned) FROM ownership_records
		            WHERE status = 'ACTIVE' AND plot_id IN (` + placeholders(len(in.Aliases)) + `)), 0)
		- ` + legacyTerm + `
		- COALESCE((SELECT SUM(sqm) FROM purchases
		            WHERE state = 'AWAITING_PAYMENT' AND plot_id = ?), 0),
		updated_at = ?
		WHERE id = ?`

	args := append([]any{}, stringArgs(in.Aliases)...)
	args = append(args, legacyArgs...)
	args = append(args, in.PlotID, utc(in.Now), in.PlotID)

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return errors.Wrapf(err, "reconcile plot %s", in.PlotID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
