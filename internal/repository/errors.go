// Package repository holds the SQL data access for plots, ownership
// records, purchases and reconciliation flags.  The sentinel values below
// let higher layers such as services and handlers tell failure scenarios
// apart.  ErrNotFound means the row does not exist; ErrConflict signals
// that an update lost a race against another state transition (e.g.
// resolving a reconciliation flag twice).
package repository

import "github.com/pkg/errors"

// ErrNotFound is returned when a looked-up row does not exist.  Handlers
// translate this into an HTTP 404 response.
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when the caller attempts an operation
// on a resource they do not own. Handlers should translate this
// into an HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an update cannot be performed because
// the row is no longer in the expected state. Handlers should
// translate this into an HTTP 409 response.
var ErrConflict = errors.New("conflict")
