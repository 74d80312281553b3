package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/subx-ng/subx-core/internal/repository"
)

// Stores bundles the repositories the services share.
type Stores struct {
	DB        *sql.DB
	Plots     *repository.PlotRepo
	Owners    *repository.OwnershipRepo
	Purchases *repository.PurchaseRepo
	Flags     *repository.FlagRepo
}

// NewStores builds every repository over db.
func NewStores(db *sql.DB) Stores {
	return Stores{
		DB:        db,
		Plots:     repository.NewPlotRepo(db),
		Owners:    repository.NewOwnershipRepo(db),
		Purchases: repository.NewPurchaseRepo(db),
		Flags:     repository.NewFlagRepo(db),
	}
}

// inTx runs fn inside a transaction and commits when it returns nil.
// Inside fn only tx may be used: on a single-connection pool any other
// query would wait for the transaction forever.
func (s Stores) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func systemNow() time.Time { return time.Now().UTC() }
