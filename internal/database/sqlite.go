package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/jmoiron/sqlx"

	"integrity-go/internal/database/migrations"
	"integrity-go/internal/integrity"
	"integrity-go/internal/model"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteLedger implements integrity.Ledger on a SQLite file.
type SQLiteLedger struct {
	db   *sqlx.DB
	path string
}

// NewSQLiteLedger opens the ledger at path. path can be a file path or
// ":memory:". The schema is not created; see Migrate.
func NewSQLiteLedger(path string) (*SQLiteLedger, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteLedger{db: db, path: path}, nil
}

// NewSQLiteLedgerFromDB wraps an existing connection. The caller is
// responsible for enabling foreign keys on it.
func NewSQLiteLedgerFromDB(db *sql.DB) *SQLiteLedger {
	return &SQLiteLedger{db: sqlx.NewDb(db, "sqlite3")}
}

// OpenConnection opens a SQLite connection with foreign keys enforced and a
// busy timeout, so concurrent writers from other processes serialize instead
// of failing immediately.
func OpenConnection(path string) (*sqlx.DB, error) {
	memory := path == ":memory:"
	dsn := "file:" + path + "?_foreign_keys=on&_busy_timeout=5000"
	if memory {
		dsn = "file::memory:?_foreign_keys=on"
	}

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	if memory {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	return db, nil
}

// Begin starts a unit of work.
func (s *SQLiteLedger) Begin(ctx context.Context) (integrity.LedgerTx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, integrity.DatabaseError(err, "starting transaction")
	}
	return &ledgerTx{tx: tx}, nil
}

// Migrate applies pending schema migrations.
func (s *SQLiteLedger) Migrate() error {
	return migrations.MigrateUp(s.db.DB)
}

// CheckMigrations verifies the schema is up to date.
func (s *SQLiteLedger) CheckMigrations() error {
	return migrations.CheckStatus(s.db.DB)
}

// Path returns the ledger file path (or ":memory:").
func (s *SQLiteLedger) Path() string {
	return s.path
}

// Close closes the connection.
func (s *SQLiteLedger) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// objectSchema names the ledger tables and columns backing one object kind.
// Identifiers interpolated into queries come only from this table.
type objectSchema struct {
	table      string
	nameColumn string
	errorTable string
	errorFK    string
}

var objectSchemas = map[model.ObjectKind]objectSchema{
	model.KindFile:  {table: "protected_files", nameColumn: "path", errorTable: "file_errors", errorFK: "file_id"},
	model.KindTable: {table: "protected_tables", nameColumn: "table_name", errorTable: "table_errors", errorFK: "table_id"},
}

// insertColumns lists the columns each generic insert may name.
var insertColumns = map[string][]string{
	"databases":    {"connection", "created_at"},
	"file_errors":  {"file_id", "checked_at", "manual"},
	"table_errors": {"table_id", "checked_at"},
	"operations":   {"started_at", "operation", "parameters", "status"},
}

func schemaFor(kind model.ObjectKind) (objectSchema, error) {
	s, ok := objectSchemas[kind]
	if !ok {
		return objectSchema{}, integrity.ParamError("unknown object kind %q", kind)
	}
	return s, nil
}

// ledgerTx implements integrity.LedgerTx over a sqlx transaction.
type ledgerTx struct {
	tx *sqlx.Tx
}

// insert runs a parameterized INSERT on an allow-listed table. The column and
// value counts must match.
func (t *ledgerTx) insert(ctx context.Context, table string, columns []string, values []any) (int64, error) {
	allowed, ok := insertColumns[table]
	if !ok {
		return 0, integrity.ParamError("unknown ledger table %q", table)
	}
	if len(columns) != len(values) {
		return 0, integrity.ParamTypeError("%s: %d fields but %d values", table, len(columns), len(values))
	}
	for _, c := range columns {
		if !slices.Contains(allowed, c) {
			return 0, integrity.ParamError("unknown field %q of %s", c, table)
		}
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), placeholders)
	res, err := t.tx.ExecContext(ctx, query, values...)
	if err != nil {
		return 0, integrity.DatabaseError(err, "inserting into %s", table)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, integrity.DatabaseError(err, "inserting into %s", table)
	}
	return id, nil
}

// lookupErr maps an empty result to a not-found error and anything else to
// a database error.
func lookupErr(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return integrity.NotFound(what)
	}
	return integrity.DatabaseError(err, "looking up %s", what)
}

// Algorithm catalog

func (t *ledgerTx) Algorithms(ctx context.Context) ([]model.Algorithm, error) {
	var algs []model.Algorithm
	if err := t.tx.SelectContext(ctx, &algs, "SELECT id, name FROM algorithms ORDER BY id"); err != nil {
		return nil, integrity.DatabaseError(err, "listing algorithms")
	}
	return algs, nil
}

func (t *ledgerTx) AlgorithmID(ctx context.Context, name string) (int64, error) {
	var id int64
	if err := t.tx.GetContext(ctx, &id, "SELECT id FROM algorithms WHERE name = ?", name); err != nil {
		return 0, lookupErr(err, fmt.Sprintf("algorithm %q", name))
	}
	return id, nil
}

// External databases

func (t *ledgerTx) DatabaseID(ctx context.Context, fingerprint string) (int64, error) {
	var id int64
	if err := t.tx.GetContext(ctx, &id, "SELECT id FROM databases WHERE connection = ?", fingerprint); err != nil {
		return 0, lookupErr(err, "database")
	}
	return id, nil
}

func (t *ledgerTx) InsertDatabase(ctx context.Context, fingerprint string, createdAt model.Timestamp) (int64, error) {
	return t.insert(ctx, "databases", []string{"connection", "created_at"}, []any{fingerprint, createdAt})
}

// Files

const upsertFile = `
INSERT INTO protected_files (path, file_size, is_watched, algorithm_id, checksum, is_correct, calculated_at)
VALUES (?, ?, ?, ?, ?, 1, ?)
ON CONFLICT (path) DO UPDATE SET
    file_size = excluded.file_size,
    is_watched = excluded.is_watched,
    algorithm_id = excluded.algorithm_id,
    checksum = excluded.checksum,
    is_correct = 1,
    calculated_at = excluded.calculated_at
RETURNING id`

func (t *ledgerTx) SaveFile(ctx context.Context, f *model.ProtectedFile) (int64, error) {
	var id int64
	err := t.tx.GetContext(ctx, &id, upsertFile,
		f.Path, f.FileSize, f.IsWatched, f.AlgorithmID, f.Checksum, f.CalculatedAt)
	if err != nil {
		return 0, integrity.DatabaseError(err, "saving file %s", f.Path)
	}
	f.ID = id
	f.IsCorrect = true
	return id, nil
}

func (t *ledgerTx) File(ctx context.Context, path string) (*model.ProtectedFile, error) {
	var f model.ProtectedFile
	err := t.tx.GetContext(ctx, &f, `SELECT id, path, file_size, is_watched, algorithm_id, checksum, is_correct, calculated_at
		FROM protected_files WHERE path = ?`, path)
	if err != nil {
		return nil, lookupErr(err, "file "+path)
	}
	return &f, nil
}

func (t *ledgerTx) FileReference(ctx context.Context, path string) (*model.Reference, error) {
	var ref model.Reference
	err := t.tx.GetContext(ctx, &ref, `SELECT p.id, p.checksum, a.name AS algorithm
		FROM protected_files p JOIN algorithms a ON a.id = p.algorithm_id
		WHERE p.path = ?`, path)
	if err != nil {
		return nil, lookupErr(err, "file "+path)
	}
	return &ref, nil
}

func (t *ledgerTx) FilePaths(ctx context.Context) ([]string, error) {
	var paths []string
	if err := t.tx.SelectContext(ctx, &paths, "SELECT path FROM protected_files ORDER BY id"); err != nil {
		return nil, integrity.DatabaseError(err, "listing files")
	}
	return paths, nil
}

func (t *ledgerTx) WatchedFiles(ctx context.Context) ([]string, error) {
	var paths []string
	err := t.tx.SelectContext(ctx, &paths, "SELECT path FROM protected_files WHERE is_watched ORDER BY id")
	if err != nil {
		return nil, integrity.DatabaseError(err, "listing watched files")
	}
	return paths, nil
}

func (t *ledgerTx) SetFileWatched(ctx context.Context, path string, watched bool) (bool, error) {
	res, err := t.tx.ExecContext(ctx, "UPDATE protected_files SET is_watched = ? WHERE path = ?", watched, path)
	if err != nil {
		return false, integrity.DatabaseError(err, "updating watch flag of %s", path)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, integrity.DatabaseError(err, "updating watch flag of %s", path)
	}
	return n > 0, nil
}

func (t *ledgerTx) DeleteFile(ctx context.Context, path string) error {
	if _, err := t.tx.ExecContext(ctx, "DELETE FROM protected_files WHERE path = ?", path); err != nil {
		return integrity.DatabaseError(err, "deleting file %s", path)
	}
	return nil
}

// Tables

const upsertTable = `
INSERT INTO protected_tables (table_name, database_id, pk_field, algorithm_id, checksum, row_count, is_correct, calculated_at)
VALUES (?, ?, ?, ?, ?, ?, 1, ?)
ON CONFLICT (table_name, database_id) DO UPDATE SET
    pk_field = excluded.pk_field,
    algorithm_id = excluded.algorithm_id,
    checksum = excluded.checksum,
    row_count = excluded.row_count,
    is_correct = 1,
    calculated_at = excluded.calculated_at
RETURNING id`

func (t *ledgerTx) SaveTable(ctx context.Context, tbl *model.ProtectedTable) (int64, error) {
	var id int64
	err := t.tx.GetContext(ctx, &id, upsertTable,
		tbl.TableName, tbl.DatabaseID, tbl.PKField, tbl.AlgorithmID, tbl.Checksum, tbl.RowCount, tbl.CalculatedAt)
	if err != nil {
		return 0, integrity.DatabaseError(err, "saving table %s", tbl.TableName)
	}
	tbl.ID = id
	tbl.IsCorrect = true
	return id, nil
}

func (t *ledgerTx) Table(ctx context.Context, name string, databaseID int64) (*model.ProtectedTable, error) {
	var tbl model.ProtectedTable
	err := t.tx.GetContext(ctx, &tbl, `SELECT id, table_name, database_id, pk_field, algorithm_id, checksum,
		row_count, is_correct, calculated_at
		FROM protected_tables WHERE table_name = ? AND database_id = ?`, name, databaseID)
	if err != nil {
		return nil, lookupErr(err, "table "+name)
	}
	return &tbl, nil
}

func (t *ledgerTx) TableReference(ctx context.Context, name string, databaseID int64) (*model.Reference, error) {
	var ref model.Reference
	err := t.tx.GetContext(ctx, &ref, `SELECT p.id, p.checksum, a.name AS algorithm, p.pk_field
		FROM protected_tables p JOIN algorithms a ON a.id = p.algorithm_id
		WHERE p.table_name = ? AND p.database_id = ?`, name, databaseID)
	if err != nil {
		return nil, lookupErr(err, "table "+name)
	}
	return &ref, nil
}

func (t *ledgerTx) TableNames(ctx context.Context, databaseID int64) ([]string, error) {
	var names []string
	err := t.tx.SelectContext(ctx, &names,
		"SELECT table_name FROM protected_tables WHERE database_id = ? ORDER BY id", databaseID)
	if err != nil {
		return nil, integrity.DatabaseError(err, "listing tables")
	}
	return names, nil
}

func (t *ledgerTx) DeleteTable(ctx context.Context, name string, databaseID int64) error {
	_, err := t.tx.ExecContext(ctx,
		"DELETE FROM protected_tables WHERE table_name = ? AND database_id = ?", name, databaseID)
	if err != nil {
		return integrity.DatabaseError(err, "deleting table %s", name)
	}
	return nil
}

// Verification state

func (t *ledgerTx) MarkIncorrect(ctx context.Context, kind model.ObjectKind, id int64) error {
	s, err := schemaFor(kind)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET is_correct = 0 WHERE id = ?", s.table), id)
	if err != nil {
		return integrity.DatabaseError(err, "marking %s %d incorrect", kind, id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return integrity.DatabaseError(err, "marking %s %d incorrect", kind, id)
	}
	if n == 0 {
		return integrity.NotFound(fmt.Sprintf("%s %d", kind, id))
	}
	return nil
}

func (t *ledgerTx) AppendError(ctx context.Context, kind model.ObjectKind, event model.ErrorEvent) error {
	s, err := schemaFor(kind)
	if err != nil {
		return err
	}
	columns := []string{s.errorFK, "checked_at"}
	values := []any{event.ObjectID, event.CheckedAt}
	if kind == model.KindFile {
		columns = append(columns, "manual")
		values = append(values, event.Manual)
	}
	_, err = t.insert(ctx, s.errorTable, columns, values)
	return err
}

func (t *ledgerTx) Errors(ctx context.Context, kind model.ObjectKind, id int64) ([]model.ErrorEvent, error) {
	s, err := schemaFor(kind)
	if err != nil {
		return nil, err
	}
	manual := "manual"
	if kind == model.KindTable {
		manual = "1 AS manual"
	}
	query := fmt.Sprintf("SELECT id, %s AS object_id, checked_at, %s FROM %s WHERE %s = ? ORDER BY checked_at, id",
		s.errorFK, manual, s.errorTable, s.errorFK)

	var events []model.ErrorEvent
	if err := t.tx.SelectContext(ctx, &events, query, id); err != nil {
		return nil, integrity.DatabaseError(err, "listing errors of %s %d", kind, id)
	}
	return events, nil
}

func (t *ledgerTx) Incorrect(ctx context.Context, kind model.ObjectKind, databaseID int64) ([]model.IncorrectEntry, error) {
	s, err := schemaFor(kind)
	if err != nil {
		return nil, err
	}
	filter := ""
	var args []any
	if kind == model.KindTable && databaseID != 0 {
		filter = "AND p.database_id = ?"
		args = append(args, databaseID)
	}
	// The inner join drops objects without any error event.
	query := fmt.Sprintf(`SELECT p.id, p.%[2]s AS name, MAX(e.checked_at) AS last_checked_at
		FROM %[1]s p JOIN %[3]s e ON e.%[4]s = p.id
		WHERE NOT p.is_correct %[5]s
		GROUP BY p.id, p.%[2]s
		ORDER BY p.id`, s.table, s.nameColumn, s.errorTable, s.errorFK, filter)

	var entries []model.IncorrectEntry
	if err := t.tx.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, integrity.DatabaseError(err, "listing incorrect %s", kind.Plural())
	}
	return entries, nil
}

func (t *ledgerTx) Count(ctx context.Context, kind model.ObjectKind) (int64, error) {
	s, err := schemaFor(kind)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := t.tx.GetContext(ctx, &n, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table)); err != nil {
		return 0, integrity.DatabaseError(err, "counting %s", kind.Plural())
	}
	return n, nil
}

func (t *ledgerTx) List(ctx context.Context, q model.ListQuery) ([]model.ListEntry, error) {
	s, err := schemaFor(q.Kind)
	if err != nil {
		return nil, err
	}
	if q.Limit <= 0 || q.Offset < 0 {
		return nil, integrity.ParamError("invalid page: limit %d offset %d", q.Limit, q.Offset)
	}

	var where []string
	var args []any
	if q.OnlyIncorrect {
		where = append(where, "NOT p.is_correct")
	}
	if q.Kind == model.KindTable && q.DatabaseID != 0 {
		where = append(where, "p.database_id = ?")
		args = append(args, q.DatabaseID)
	}
	filter := ""
	if len(where) > 0 {
		filter = "WHERE " + strings.Join(where, " AND ")
	}

	query := fmt.Sprintf(`SELECT p.id, p.%[2]s AS name, a.name AS algorithm, p.checksum, p.is_correct, p.calculated_at,
		(SELECT MAX(e.checked_at) FROM %[3]s e WHERE e.%[4]s = p.id) AS last_checked_at
		FROM %[1]s p JOIN algorithms a ON a.id = p.algorithm_id
		%[5]s
		ORDER BY p.id
		LIMIT ? OFFSET ?`, s.table, s.nameColumn, s.errorTable, s.errorFK, filter)
	args = append(args, q.Limit, q.Offset)

	var entries []model.ListEntry
	if err := t.tx.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, integrity.DatabaseError(err, "listing %s", q.Kind.Plural())
	}
	return entries, nil
}

// Operation history

func (t *ledgerTx) CreateOperation(ctx context.Context, op *model.Operation) (int64, error) {
	status := op.Status
	if status == "" {
		status = "running"
	}
	id, err := t.insert(ctx, "operations",
		[]string{"started_at", "operation", "parameters", "status"},
		[]any{op.StartedAt, op.Operation, op.Parameters, status})
	if err != nil {
		return 0, err
	}
	op.ID = id
	op.Status = status
	return id, nil
}

func (t *ledgerTx) FinishOperation(ctx context.Context, id int64, status string, finishedAt model.Timestamp) error {
	_, err := t.tx.ExecContext(ctx, "UPDATE operations SET status = ?, finished_at = ? WHERE id = ?",
		status, finishedAt, id)
	if err != nil {
		return integrity.DatabaseError(err, "finishing operation %d", id)
	}
	return nil
}

func (t *ledgerTx) Operations(ctx context.Context, limit int) ([]model.Operation, error) {
	var ops []model.Operation
	err := t.tx.SelectContext(ctx, &ops, `SELECT id, started_at, finished_at, operation, parameters, status
		FROM operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, integrity.DatabaseError(err, "listing operations")
	}
	return ops, nil
}

func (t *ledgerTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return integrity.DatabaseError(err, "committing transaction")
	}
	return nil
}

// Rollback discards the transaction. Rolling back a finished transaction is
// a no-op, so it is safe to defer unconditionally.
func (t *ledgerTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return integrity.DatabaseError(err, "rolling back transaction")
	}
	return nil
}

// Compile-time checks
var (
	_ integrity.Ledger   = (*SQLiteLedger)(nil)
	_ integrity.LedgerTx = (*ledgerTx)(nil)
)
