// Package storage is the persistent, indexed, transactional record of
// nodes, infohashes, peers, trackers, metadata, and files that the DHT and
// BitTorrent engines write through and external readers query. It follows
// the teacher's habit of wrapping a *sqlx.DB behind a narrow store struct
// (store/mysql.TorrentStore's db field), generalized from MySQL to
// modernc.org/sqlite's pure-Go driver so the whole module builds without
// cgo, with a migration manager standing in for the schema file the
// teacher execs directly in its tests.
package storage

import (
	"errors"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

var (
	// ErrNotInitialized is returned when an operation runs against a Store
	// whose migrations haven't been applied yet.
	ErrNotInitialized = errors.New("storage: not initialized")

	// ErrConstraintViolation wraps a SQL constraint failure (unique,
	// foreign key, not-null).
	ErrConstraintViolation = errors.New("storage: constraint violation")

	// ErrTransactionConflict is returned when a write transaction could
	// not be committed due to contention with another writer.
	ErrTransactionConflict = errors.New("storage: transaction conflict")

	// ErrIOError wraps an underlying filesystem/driver failure.
	ErrIOError = errors.New("storage: io error")
)

// classifyExecErr maps a raw sqlite driver error onto one of the four
// storage failure kinds by inspecting its message, since modernc.org/sqlite
// doesn't export typed constraint-violation errors the way some drivers do.
func classifyExecErr(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "constraint"):
		return pkgerrors.Wrap(ErrConstraintViolation, err.Error())
	case strings.Contains(msg, "locked") || strings.Contains(msg, "busy"):
		return pkgerrors.Wrap(ErrTransactionConflict, err.Error())
	default:
		return pkgerrors.Wrap(ErrIOError, err.Error())
	}
}
