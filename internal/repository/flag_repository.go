package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/subx-ng/subx-core/internal/model"
)

// FlagRepo stores reconciliation flags: paid purchases that were honored
// after their plot had run out of inventory and need an operator.
type FlagRepo struct {
	db *sql.DB
}

func NewFlagRepo(db *sql.DB) *FlagRepo { return &FlagRepo{db: db} }

const flagColumns = `id, plot_id, purchase_reference, record_id, requested_sqm, available_sqm, status, note, created_at, resolved_at`

func scanFlag(s rowScanner) (*model.ReconciliationFlag, error) {
	var (
		f        model.ReconciliationFlag
		resolved sql.NullTime
	)
	if err := s.Scan(&f.ID, &f.PlotID, &f.PurchaseReference, &f.RecordID, &f.RequestedSqm, &f.AvailableSqm,
		&f.Status, &f.Note, &f.CreatedAt, &resolved); err != nil {
		return nil, err
	}
	if resolved.Valid {
		t := resolved.Time
		f.ResolvedAt = &t
	}
	return &f, nil
}

// InsertTx records a new open flag inside the purchase transaction.
func (r *FlagRepo) InsertTx(ctx context.Context, tx *sql.Tx, f model.ReconciliationFlag) error {
	if f.Status == "" {
		f.Status = model.FlagOpen
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO reconciliation_flags (id, plot_id, purchase_reference, record_id, requested_sqm, available_sqm, status, note, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.PlotID, f.PurchaseReference, f.RecordID, f.RequestedSqm, f.AvailableSqm, f.Status, f.Note, utc(f.CreatedAt))
	return errors.Wrapf(err, "insert reconciliation flag for %s", f.PurchaseReference)
}

// List returns flags, newest first.  An empty status lists all of them.
func (r *FlagRepo) List(ctx context.Context, status string) ([]model.ReconciliationFlag, error) {
	q := `SELECT ` + flagColumns + ` FROM reconciliation_flags`
	var args []any
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY created_at DESC, id`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list reconciliation flags")
	}
	defer rows.Close()
	var out []model.ReconciliationFlag
	for rows.Next() {
		f, err := scanFlag(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan reconciliation flag")
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// Resolve closes an open flag.  Returns ErrNotFound for an unknown id and
// ErrConflict when the flag was already resolved.
func (r *FlagRepo) Resolve(ctx context.Context, id, note string, now time.Time) (*model.ReconciliationFlag, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE reconciliation_flags SET status = ?, note = ?, resolved_at = ? WHERE id = ? AND status = ?`,
		model.FlagResolved, note, utc(now), id, model.FlagOpen)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve reconciliation flag %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	f, getErr := scanFlag(r.db.QueryRowContext(ctx, `SELECT `+flagColumns+` FROM reconciliation_flags WHERE id = ?`, id))
	if errors.Is(getErr, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if getErr != nil {
		return nil, errors.Wrapf(getErr, "get reconciliation flag %s", id)
	}
	if n == 0 {
		return f, ErrConflict
	}
	return f, nil
}
