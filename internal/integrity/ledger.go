package integrity

import (
	"context"

	"integrity-go/internal/model"
)

// Ledger is the persistent store of protected objects and their error history.
// Every read and write happens inside a LedgerTx obtained from Begin; nothing is
// committed implicitly.
type Ledger interface {
	// Begin starts a unit of work. The caller must Commit or Rollback it.
	Begin(ctx context.Context) (LedgerTx, error)

	// Close closes the underlying connection.
	Close() error
}

// LedgerTx is a transaction against the ledger. Lookups by natural key fail
// with an error matching ErrNotFound when nothing matches; infrastructural
// failures are KindDatabase errors.
type LedgerTx interface {
	// Algorithm catalog

	// Algorithms returns the catalog ordered by id.
	Algorithms(ctx context.Context) ([]model.Algorithm, error)

	// AlgorithmID resolves an algorithm by name.
	AlgorithmID(ctx context.Context, name string) (int64, error)

	// External databases

	// DatabaseID resolves an external database by fingerprint.
	DatabaseID(ctx context.Context, fingerprint string) (int64, error)

	// InsertDatabase registers a new external database identity.
	InsertDatabase(ctx context.Context, fingerprint string, createdAt model.Timestamp) (int64, error)

	// Files

	// SaveFile inserts a file record, replacing the reference of an existing
	// record with the same path. The id and error history are kept.
	SaveFile(ctx context.Context, f *model.ProtectedFile) (int64, error)

	// File returns the record for path.
	File(ctx context.Context, path string) (*model.ProtectedFile, error)

	// FileReference returns the id, checksum and algorithm name for path.
	FileReference(ctx context.Context, path string) (*model.Reference, error)

	// FilePaths returns every registered path ordered by id.
	FilePaths(ctx context.Context) ([]string, error)

	// WatchedFiles returns the paths flagged as watched.
	WatchedFiles(ctx context.Context) ([]string, error)

	// SetFileWatched updates the watched flag and reports whether path is registered.
	SetFileWatched(ctx context.Context, path string, watched bool) (bool, error)

	// DeleteFile removes the record for path and its error events.
	// Deleting an unknown path is not an error.
	DeleteFile(ctx context.Context, path string) error

	// Tables

	// SaveTable inserts a table record, replacing the reference of an existing
	// record with the same name in the same database.
	SaveTable(ctx context.Context, t *model.ProtectedTable) (int64, error)

	// Table returns the record for name within databaseID.
	Table(ctx context.Context, name string, databaseID int64) (*model.ProtectedTable, error)

	// TableReference returns the id, checksum, primary-key field and algorithm
	// name for name within databaseID.
	TableReference(ctx context.Context, name string, databaseID int64) (*model.Reference, error)

	// TableNames returns every table registered for databaseID ordered by id.
	TableNames(ctx context.Context, databaseID int64) ([]string, error)

	// DeleteTable removes the record and its error events.
	// Deleting an unknown table is not an error.
	DeleteTable(ctx context.Context, name string, databaseID int64) error

	// Verification state

	// MarkIncorrect clears the is_correct flag of an object.
	MarkIncorrect(ctx context.Context, kind model.ObjectKind, id int64) error

	// AppendError appends an error event. Manual is ignored for tables.
	AppendError(ctx context.Context, kind model.ObjectKind, event model.ErrorEvent) error

	// Errors returns the error events of an object ordered by checked_at.
	Errors(ctx context.Context, kind model.ObjectKind, id int64) ([]model.ErrorEvent, error)

	// Incorrect returns incorrect objects with their latest error time, ordered by id.
	// A non-zero databaseID limits tables to that database.
	Incorrect(ctx context.Context, kind model.ObjectKind, databaseID int64) ([]model.IncorrectEntry, error)

	// Count returns the number of registered objects of kind.
	Count(ctx context.Context, kind model.ObjectKind) (int64, error)

	// List returns one page of registered objects ordered by id.
	List(ctx context.Context, q model.ListQuery) ([]model.ListEntry, error)

	// Operation history

	// CreateOperation records the start of an operation and returns its id.
	CreateOperation(ctx context.Context, op *model.Operation) (int64, error)

	// FinishOperation records the outcome of an operation.
	FinishOperation(ctx context.Context, id int64, status string, finishedAt model.Timestamp) error

	// Operations returns the most recent operations, newest first.
	Operations(ctx context.Context, limit int) ([]model.Operation, error)

	Commit() error
	Rollback() error
}
