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

// OwnershipRepo provides access to ownership_records.  Records are
// append-only; the only mutation is a status transition.
//
// Historical rows disagree on how a plot is keyed (storage id "1" versus
// display number "77"), so every plot-scoped query takes the full alias
// list produced by the plotkey package.
type OwnershipRepo struct {
	db *sql.DB
}

func NewOwnershipRepo(db *sql.DB) *OwnershipRepo { return &OwnershipRepo{db: db} }

const recordColumns = `id, plot_id, user_id, user_email, sqm_owned, amount_paid, status, is_referral_bonus, purchase_ref, created_at, updated_at`

func scanRecord(s rowScanner) (*model.OwnershipRecord, error) {
	var (
		rec    model.OwnershipRecord
		status string
		ref    sql.NullString
	)
	if err := s.Scan(&rec.ID, &rec.PlotID, &rec.UserID, &rec.UserEmail, &rec.SqmOwned, &rec.AmountPaid,
		&status, &rec.IsReferralBonus, &ref, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Status = model.RecordStatus(status)
	rec.PurchaseRef = ref.String
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]model.OwnershipRecord, error) {
	defer rows.Close()
	var out []model.OwnershipRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan ownership record")
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// SumActiveByPlot returns the sqm held by active records of a plot.
func (r *OwnershipRepo) SumActiveByPlot(ctx context.Context, aliases []string) (decimal.Decimal, error) {
	if len(aliases) == 0 {
		return decimal.Zero, nil
	}
	sum, err := scanDecimal(r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(sqm_owned), 0) FROM ownership_records
		 WHERE status = 'ACTIVE' AND plot_id IN (`+placeholders(len(aliases))+`)`,
		stringArgs(aliases)...))
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "sum active ownership")
	}
	return sum, nil
}

// ListActiveByPlot returns the active records of a plot, oldest first.
func (r *OwnershipRepo) ListActiveByPlot(ctx context.Context, aliases []string) ([]model.OwnershipRecord, error) {
	if len(aliases) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM ownership_records
		 WHERE status = 'ACTIVE' AND plot_id IN (`+placeholders(len(aliases))+`)
		 ORDER BY created_at, id`,
		stringArgs(aliases)...)
	if err != nil {
		return nil, errors.Wrap(err, "list plot ownership")
	}
	return scanRecords(rows)
}

// MigratedRefs reports which of refs already appear as the purchase_ref
// of a stored record, whatever its status.
func (r *OwnershipRepo) MigratedRefs(ctx context.Context, refs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(refs))
	if len(refs) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT purchase_ref FROM ownership_records WHERE purchase_ref IN (`+placeholders(len(refs))+`)`,
		stringArgs(refs)...)
	if err != nil {
		return nil, errors.Wrap(err, "list migrated refs")
	}
	defer rows.Close()
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, errors.Wrap(err, "scan migrated ref")
		}
		out[ref] = true
	}
	return out, rows.Err()
}

// identityFilter builds "(user_id = ? OR LOWER(user_email) = ?)" over the
// non-empty keys.  ok is false when both keys are empty.
func identityFilter(userID, email string) (clause string, args []any, ok bool) {
	userID = strings.TrimSpace(userID)
	email = strings.ToLower(strings.TrimSpace(email))
	var keys []string
	if userID != "" {
		keys = append(keys, `user_id = ?`)
		args = append(args, userID)
	}
	if email != "" {
		keys = append(keys, `LOWER(user_email) = ?`)
		args = append(args, email)
	}
	if len(keys) == 0 {
		return "", nil, false
	}
	return `(` + strings.Join(keys, ` OR `) + `)`, args, true
}

// ListActiveByIdentity returns the active records owned by either key of
// the identity.  One query with OR means a record carrying both keys is
// returned once.  Empty keys are never matched.
func (r *OwnershipRepo) ListActiveByIdentity(ctx context.Context, userID, email string) ([]model.OwnershipRecord, error) {
	where, args, ok := identityFilter(userID, email)
	if !ok {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM ownership_records
		 WHERE status = 'ACTIVE' AND `+where+`
		 ORDER BY created_at, id`,
		args...)
	if err != nil {
		return nil, errors.Wrap(err, "list identity ownership")
	}
	return scanRecords(rows)
}

// HasAnyByIdentity reports whether the identity owns at least one record
// in any status, cancelled ones included.
func (r *OwnershipRepo) HasAnyByIdentity(ctx context.Context, userID, email string) (bool, error) {
	where, args, ok := identityFilter(userID, email)
	if !ok {
		return false, nil
	}
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ownership_records WHERE `+where, args...).Scan(&n)
	if err != nil {
		return false, errors.Wrap(err, "count identity ownership")
	}
	return n > 0, nil
}

// GetByID loads a record in any status.
func (r *OwnershipRepo) GetByID(ctx context.Context, id string) (*model.OwnershipRecord, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM ownership_records WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get ownership record %s", id)
	}
	return rec, nil
}

// GetByIDTx is GetByID inside the caller's transaction.
func (r *OwnershipRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id string) (*model.OwnershipRecord, error) {
	rec, err := scanRecord(tx.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM ownership_records WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get ownership record %s", id)
	}
	return rec, nil
}

const insertRecord = `INSERT INTO ownership_records (` + recordColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func recordArgs(rec model.OwnershipRecord) []any {
	return []any{rec.ID, rec.PlotID, rec.UserID, strings.ToLower(rec.UserEmail), rec.SqmOwned, rec.AmountPaid,
		string(rec.Status), rec.IsReferralBonus, nullString(rec.PurchaseRef), utc(rec.CreatedAt), utc(rec.UpdatedAt)}
}

// InsertTx writes a new record.  The caller owns the transaction.
func (r *OwnershipRepo) InsertTx(ctx context.Context, tx *sql.Tx, rec model.OwnershipRecord) error {
	_, err := tx.ExecContext(ctx, insertRecord, recordArgs(rec)...)
	return errors.Wrapf(err, "insert ownership record %s", rec.ID)
}

// Insert writes a record outside any transaction, e.g. when importing
// historical rows.
func (r *OwnershipRepo) Insert(ctx context.Context, rec model.OwnershipRecord) error {
	_, err := r.db.ExecContext(ctx, insertRecord, recordArgs(rec)...)
	return errors.Wrapf(err, "insert ownership record %s", rec.ID)
}

// CancelTx moves an active record to CANCELLED.  Returns ErrConflict when
// the record is not active any more.
func (r *OwnershipRepo) CancelTx(ctx context.Context, tx *sql.Tx, id string, now time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE ownership_records SET status = 'CANCELLED', updated_at = ? WHERE id = ? AND status = 'ACTIVE'`,
		utc(now), id)
	if err != nil {
		return errors.Wrapf(err, "cancel ownership record %s", id)
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

// BackfillIdentity fills in the missing key on records stored under only
// one of the identity's keys.  It returns the number of rows updated.
func (r *OwnershipRepo) BackfillIdentity(ctx context.Context, userID, email string, now time.Time) (int64, error) {
	userID = strings.TrimSpace(userID)
	email = strings.ToLower(strings.TrimSpace(email))
	if userID == "" || email == "" {
		return 0, nil
	}
	var total int64
	res, err := r.db.ExecContext(ctx,
		`UPDATE ownership_records SET user_id = ?, updated_at = ? WHERE user_id = '' AND LOWER(user_email) = ?`,
		userID, utc(now), email)
	if err != nil {
		return 0, errors.Wrap(err, "backfill user id")
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}
	res, err = r.db.ExecContext(ctx,
		`UPDATE ownership_records SET user_email = ?, updated_at = ? WHERE user_email = '' AND user_id = ?`,
		email, utc(now), userID)
	if err != nil {
		return total, errors.Wrap(err, "backfill user email")
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}
	return total, nil
}
