// Package sqlitetest opens an in-memory SQLite database carrying the same
// tables as the MySQL migrations, for repository and service tests.
package sqlitetest

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	_ "github.com/glebarez/go-sqlite"
	"github.com/stretchr/testify/require"
)

const schema = `
CREATE TABLE plots (
    id             TEXT     NOT NULL PRIMARY KEY,
    display_name   TEXT     NOT NULL,
    location       TEXT     NOT NULL DEFAULT '',
    total_size     DECIMAL(12,2) NOT NULL,
    price_per_sqm  DECIMAL(14,2) NOT NULL,
    status         TEXT     NOT NULL DEFAULT 'ACTIVE',
    available_size DECIMAL(12,2) NOT NULL,
    created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE ownership_records (
    id                TEXT     NOT NULL PRIMARY KEY,
    plot_id           TEXT     NOT NULL,
    user_id           TEXT     NOT NULL DEFAULT '',
    user_email        TEXT     NOT NULL DEFAULT '',
    sqm_owned         DECIMAL(12,2) NOT NULL,
    amount_paid       DECIMAL(14,2) NOT NULL DEFAULT 0,
    status            TEXT     NOT NULL,
    is_referral_bonus BOOLEAN  NOT NULL DEFAULT 0,
    purchase_ref      TEXT     NULL UNIQUE,
    created_at        DATETIME NOT NULL,
    updated_at        DATETIME NOT NULL
);
CREATE TABLE purchases (
    id         TEXT     NOT NULL PRIMARY KEY,
    reference  TEXT     NOT NULL UNIQUE,
    plot_id    TEXT     NOT NULL,
    user_id    TEXT     NOT NULL DEFAULT '',
    user_email TEXT     NOT NULL DEFAULT '',
    sqm        DECIMAL(12,2) NOT NULL,
    amount     DECIMAL(14,2) NOT NULL,
    currency   TEXT     NOT NULL,
    state      TEXT     NOT NULL,
    record_id  TEXT     NULL,
    oversold   BOOLEAN  NOT NULL DEFAULT 0,
    expires_at DATETIME NOT NULL,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);
CREATE TABLE reconciliation_flags (
    id                 TEXT     NOT NULL PRIMARY KEY,
    plot_id            TEXT     NOT NULL,
    purchase_reference TEXT     NOT NULL,
    record_id          TEXT     NOT NULL DEFAULT '',
    requested_sqm      DECIMAL(12,2) NOT NULL,
    available_sqm      DECIMAL(12,2) NOT NULL,
    status             TEXT     NOT NULL DEFAULT 'OPEN',
    note               TEXT     NOT NULL DEFAULT '',
    created_at         DATETIME NOT NULL,
    resolved_at        DATETIME NULL
);`

// Seed mirrors the plots inserted by the production seed migration.
const seed = `
INSERT INTO plots (id, display_name, location, total_size, price_per_sqm, status, available_size) VALUES
    ('1', 'Plot 77', 'Ogun State', 500, 5000, 'ACTIVE', 490.5),
    ('2', 'Plot 78', 'Ogun State', 500, 5000, 'ACTIVE', 488),
    ('3', 'Plot 79', 'Ogun State', 500, 5000, 'ACTIVE', 500),
    ('4', 'Plot 4', 'Lagos State', 500, 5000, 'ACTIVE', 500),
    ('5', 'Plot 5', 'Lagos State', 500, 5000, 'ACTIVE', 500);`

var seq atomic.Int64

// Open returns a fresh, seeded database private to the test.  The pool
// is limited to one connection, so transactions are serialized the way
// row locks serialize them on MySQL.
func Open(t testing.TB) *sql.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:subx-%d?mode=memory&cache=shared", seq.Add(1))
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	migrate(t, db)
	return db
}

// OpenShared returns a seeded database in a temporary file that several
// connections use at once, so concurrent transactions really overlap.
// A writer waits for the other's commit through busy_timeout.
func OpenShared(t testing.TB) *sql.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "subx.db") + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)"
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(8)
	t.Cleanup(func() { _ = db.Close() })
	migrate(t, db)
	return db
}

func migrate(t testing.TB, db *sql.DB) {
	t.Helper()
	_, err := db.Exec(schema)
	require.NoError(t, err)
	_, err = db.Exec(seed)
	require.NoError(t, err)
}
