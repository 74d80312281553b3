package repository

import (
	"database/sql"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// placeholders returns "?, ?, ?" for n parameters.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

// scale is the number of decimal places of every sqm and money column.
const scale = 2

// scanDecimal reads a single DECIMAL aggregate.  SQLite hands sums back
// as REAL, so the result is rounded to the column scale.
func scanDecimal(row *sql.Row) (decimal.Decimal, error) {
	var d decimal.Decimal
	if err := row.Scan(&d); err != nil {
		return decimal.Zero, err
	}
	return d.Round(scale), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// utc truncates to whole seconds, the precision of a DATETIME column.
func utc(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
