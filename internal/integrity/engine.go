package integrity

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"integrity-go/internal/model"
)

// Result is the outcome of an engine operation. Message has the same shape
// on success and failure; Failed reports a request-level error.
type Result struct {
	Message string
	Failed  bool
	// Violated is set by checks that found a mismatch. A violation is a
	// finding, not a request error.
	Violated bool
}

// AddOptions are the optional arguments of Add.
type AddOptions struct {
	Backup  bool
	Watch   bool   // files only
	PKField string // tables only; empty selects model.DefaultPKField
}

const msgTableRestore = "restore is not implemented for tables"

// Engine registers, checks and restores protected objects. It owns the
// sticky error flag of one session and the session's external database
// connection, so it must not be shared between actors.
type Engine struct {
	ledger   Ledger
	fsmgr    FilesystemManager
	backups  *BackupVault
	digester Digester
	connect  Connector
	logger   Logger
	clock    Clock

	db         ExternalDB
	databaseID int64
	failed     bool
}

// NewEngine creates an Engine. connect may be nil when table commands are
// not available.
func NewEngine(ledger Ledger, fsmgr FilesystemManager, backups *BackupVault, digester Digester, connect Connector, logger Logger, clock Clock) *Engine {
	return &Engine{
		ledger:   ledger,
		fsmgr:    fsmgr,
		backups:  backups,
		digester: digester,
		connect:  connect,
		logger:   logger,
		clock:    clock,
	}
}

// Failed reports whether any operation of this session failed.
func (e *Engine) Failed() bool {
	return e.failed
}

// Connected reports whether an external database is active.
func (e *Engine) Connected() bool {
	return e.db != nil
}

// Close closes the active external database connection, if any.
func (e *Engine) Close() error {
	if e.db == nil {
		return nil
	}
	err := e.db.Close()
	e.db = nil
	e.databaseID = 0
	return err
}

func (e *Engine) fail(op string, err error) Result {
	e.failed = true
	e.logger.Error(op+" failed", "error", err)
	return Result{Message: message(err), Failed: true}
}

func (e *Engine) now() model.Timestamp {
	return model.NewTimestamp(e.clock.Now())
}

// withTx runs fn in a transaction and commits it when fn succeeds.
func (e *Engine) withTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	tx, err := e.ledger.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// readOnly runs fn in a transaction that is always rolled back.
func (e *Engine) readOnly(ctx context.Context, fn func(tx LedgerTx) error) error {
	tx, err := e.ledger.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return fn(tx)
}

// parseKind validates the positional kind and target shared by most verbs.
func parseKind(verb, kind, target string) (model.ObjectKind, error) {
	if kind == "" || target == "" {
		return "", ParamError("insufficient parameters for %q", verb)
	}
	k, ok := model.ParseKind(kind)
	if !ok {
		return "", ParamError("%q is not a valid argument for %q", kind, verb)
	}
	return k, nil
}

func (e *Engine) requireConnection(action string) error {
	if e.db == nil {
		return ParamError("cannot %s a table without a database connection", action)
	}
	return nil
}

// readFile reads the whole content of path, translating a missing file into
// a parameter error.
func (e *Engine) readFile(path string) ([]byte, error) {
	f, err := e.fsmgr.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &Error{Kind: KindParameter, Message: fmt.Sprintf("file %q not found", path), Err: err}
		}
		return nil, &Error{Kind: KindParameter, Message: fmt.Sprintf("cannot read file %q", path), Err: err}
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, &Error{Kind: KindParameter, Message: fmt.Sprintf("cannot read file %q", path), Err: err}
	}
	return data, nil
}

// tableContent serializes a protected table ordered by orderField.
func (e *Engine) tableContent(ctx context.Context, name, orderField string) ([]byte, error) {
	return e.db.Serialize(ctx, name, orderField)
}

// Add registers an object with a freshly computed reference digest.
// Registering an already registered object replaces its reference and marks
// it correct again.
func (e *Engine) Add(ctx context.Context, kind, algorithm, target string, opts AddOptions) Result {
	if algorithm == "" {
		return e.fail("add", ParamError("insufficient parameters for %q", "add"))
	}
	k, err := parseKind("add", kind, target)
	if err != nil {
		return e.fail("add", err)
	}

	var msg string
	switch k {
	case model.KindFile:
		msg, err = e.addFile(ctx, algorithm, target, opts)
	case model.KindTable:
		msg, err = e.addTable(ctx, algorithm, target, opts)
	}
	if err != nil {
		return e.fail("add", err)
	}
	return Result{Message: msg}
}

func (e *Engine) addFile(ctx context.Context, algorithm, target string, opts AddOptions) (string, error) {
	path, err := e.fsmgr.Abs(target)
	if err != nil {
		return "", ParamError("invalid path %q", target)
	}

	var data []byte
	var checksum string
	err = e.withTx(ctx, func(tx LedgerTx) error {
		algID, err := tx.AlgorithmID(ctx, algorithm)
		if err != nil {
			return err
		}
		if data, err = e.readFile(path); err != nil {
			return err
		}
		if checksum, err = e.digester.Compute(data, algorithm); err != nil {
			return err
		}
		_, err = tx.SaveFile(ctx, &model.ProtectedFile{
			Path:         path,
			FileSize:     int64(len(data)),
			IsWatched:    opts.Watch,
			AlgorithmID:  algID,
			Checksum:     checksum,
			IsCorrect:    true,
			CalculatedAt: e.now(),
		})
		return err
	})
	if err != nil {
		return "", err
	}

	e.logger.Info("file registered", "path", path, "algorithm", algorithm, "checksum", checksum)
	msg := fmt.Sprintf("file %s added", path)
	if opts.Backup {
		if e.backups != nil && e.backups.Store(model.KindFile, checksum, data) {
			msg += "\ncompressed backup created"
		} else {
			msg += "\nWARNING: backup was not created"
		}
	}
	return msg, nil
}

func (e *Engine) addTable(ctx context.Context, algorithm, name string, opts AddOptions) (string, error) {
	if err := e.requireConnection("add"); err != nil {
		return "", err
	}

	var checksum string
	err := e.withTx(ctx, func(tx LedgerTx) error {
		algID, err := tx.AlgorithmID(ctx, algorithm)
		if err != nil {
			return err
		}
		count, err := e.db.Count(ctx, name)
		if err != nil {
			return err
		}
		data, err := e.tableContent(ctx, name, model.OrderField(opts.PKField))
		if err != nil {
			return err
		}
		if checksum, err = e.digester.Compute(data, algorithm); err != nil {
			return err
		}
		_, err = tx.SaveTable(ctx, &model.ProtectedTable{
			TableName:    name,
			DatabaseID:   e.databaseID,
			PKField:      nullString(opts.PKField),
			AlgorithmID:  algID,
			Checksum:     checksum,
			RowCount:     count,
			IsCorrect:    true,
			CalculatedAt: e.now(),
		})
		return err
	})
	if err != nil {
		return "", err
	}

	e.logger.Info("table registered", "table", name, "database", e.db.Name(), "algorithm", algorithm, "checksum", checksum)
	msg := fmt.Sprintf("table %s added", name)
	if opts.PKField == "" {
		msg += fmt.Sprintf("\nWARNING: field %q was chosen as the primary key automatically", model.DefaultPKField)
	}
	if opts.Backup {
		msg += "\nbackups are not kept for tables"
	}
	return msg, nil
}

// Check recomputes the live digest of a registered object and compares it
// with the reference. A mismatch marks the object incorrect and appends a
// manual error event; a match changes nothing.
func (e *Engine) Check(ctx context.Context, kind, target string) Result {
	k, err := parseKind("check", kind, target)
	if err != nil {
		return e.fail("check", err)
	}

	var res Result
	switch k {
	case model.KindFile:
		res, err = e.checkFile(ctx, target)
	case model.KindTable:
		res, err = e.checkTable(ctx, target)
	}
	if err != nil {
		return e.fail("check", err)
	}
	return res
}

func (e *Engine) checkFile(ctx context.Context, target string) (Result, error) {
	path, err := e.fsmgr.Abs(target)
	if err != nil {
		return Result{}, ParamError("invalid path %q", target)
	}

	var violated bool
	err = e.withTx(ctx, func(tx LedgerTx) error {
		ref, err := tx.FileReference(ctx, path)
		if err != nil {
			return err
		}
		data, err := e.readFile(path)
		if err != nil {
			return err
		}
		violated, err = e.compare(ctx, tx, model.KindFile, ref, data)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	return verdict(fmt.Sprintf("file %q", path), violated), nil
}

func (e *Engine) checkTable(ctx context.Context, name string) (Result, error) {
	if err := e.requireConnection("check"); err != nil {
		return Result{}, err
	}

	var violated bool
	err := e.withTx(ctx, func(tx LedgerTx) error {
		ref, err := tx.TableReference(ctx, name, e.databaseID)
		if err != nil {
			return err
		}
		data, err := e.tableContent(ctx, name, ref.OrderField())
		if err != nil {
			return err
		}
		violated, err = e.compare(ctx, tx, model.KindTable, ref, data)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	return verdict(fmt.Sprintf("table %q", name), violated), nil
}

// compare digests live content and records a violation on mismatch.
func (e *Engine) compare(ctx context.Context, tx LedgerTx, kind model.ObjectKind, ref *model.Reference, data []byte) (bool, error) {
	sum, err := e.digester.Compute(data, ref.Algorithm)
	if err != nil {
		return false, err
	}
	if len(sum) != len(ref.Checksum) {
		e.logger.Warn("digest length differs from reference", "kind", kind, "id", ref.ID,
			"reference", ref.Checksum, "actual", sum)
	}
	if digestsEqual(sum, ref.Checksum) {
		e.logger.Debug("integrity maintained", "kind", kind, "id", ref.ID)
		return false, nil
	}

	if err := tx.MarkIncorrect(ctx, kind, ref.ID); err != nil {
		return false, err
	}
	event := model.ErrorEvent{ObjectID: ref.ID, CheckedAt: e.now(), Manual: true}
	if err := tx.AppendError(ctx, kind, event); err != nil {
		return false, err
	}
	e.logger.Warn("integrity violated", "kind", kind, "id", ref.ID, "reference", ref.Checksum, "actual", sum)
	return true, nil
}

// CheckAll checks every registered file and, when connected, every table of
// the current database. It keeps going after a failed check and reports one
// line per object followed by a summary.
func (e *Engine) CheckAll(ctx context.Context) Result {
	var paths, tables []string
	err := e.readOnly(ctx, func(tx LedgerTx) error {
		var err error
		if paths, err = tx.FilePaths(ctx); err != nil {
			return err
		}
		if e.db != nil {
			tables, err = tx.TableNames(ctx, e.databaseID)
		}
		return err
	})
	if err != nil {
		return e.fail("full_check", err)
	}

	var lines []string
	var violated, failed int
	record := func(res Result, err error) {
		if err != nil {
			e.failed = true
			e.logger.Error("full_check failed", "error", err)
			lines = append(lines, message(err))
			failed++
			return
		}
		if res.Violated {
			violated++
		}
		lines = append(lines, res.Message)
	}

	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return e.fail("full_check", err)
		}
		record(e.checkFile(ctx, p))
	}
	for _, name := range tables {
		if err := ctx.Err(); err != nil {
			return e.fail("full_check", err)
		}
		record(e.checkTable(ctx, name))
	}

	lines = append(lines, fmt.Sprintf("checked %d objects: %d violated, %d failed",
		len(paths)+len(tables), violated, failed))
	return Result{
		Message:  strings.Join(lines, "\n"),
		Failed:   failed > 0,
		Violated: violated > 0,
	}
}

func verdict(subject string, violated bool) Result {
	if violated {
		return Result{Message: subject + ": integrity violated!", Violated: true}
	}
	return Result{Message: subject + ": integrity maintained"}
}

// Restore overwrites a registered file with its validated backup. The
// correctness flag is left as it is; only a later check re-derives it.
func (e *Engine) Restore(ctx context.Context, kind, target string) Result {
	k, err := parseKind("restore", kind, target)
	if err != nil {
		return e.fail("restore", err)
	}
	if k == model.KindTable {
		return e.fail("restore", ParamError(msgTableRestore))
	}
	if e.backups == nil {
		return e.fail("restore", ParamError("no backup vault is configured"))
	}

	path, err := e.fsmgr.Abs(target)
	if err != nil {
		return e.fail("restore", ParamError("invalid path %q", target))
	}

	var ref *model.Reference
	err = e.readOnly(ctx, func(tx LedgerTx) error {
		ref, err = tx.FileReference(ctx, path)
		return err
	})
	if err != nil {
		return e.fail("restore", err)
	}

	data, err := e.backups.RetrieveAndValidate(model.KindFile, ref.Checksum, ref.Algorithm)
	if err != nil {
		return e.fail("restore", err)
	}
	if err := e.fsmgr.WriteFile(path, bytes.NewReader(data)); err != nil {
		return e.fail("restore", &Error{Kind: KindParameter, Message: fmt.Sprintf("cannot write file %q", path), Err: err})
	}

	e.logger.Info("file restored", "path", path, "checksum", ref.Checksum)
	return Result{Message: fmt.Sprintf("file %q restored", path)}
}

// Remove deletes the record of an object together with its error events.
// Removing an unregistered object succeeds without effect.
func (e *Engine) Remove(ctx context.Context, kind, target string) Result {
	k, err := parseKind("remove", kind, target)
	if err != nil {
		return e.fail("remove", err)
	}

	var msg string
	switch k {
	case model.KindFile:
		path, absErr := e.fsmgr.Abs(target)
		if absErr != nil {
			return e.fail("remove", ParamError("invalid path %q", target))
		}
		err = e.withTx(ctx, func(tx LedgerTx) error {
			return tx.DeleteFile(ctx, path)
		})
		msg = fmt.Sprintf("record of file %s removed", path)
	case model.KindTable:
		if err := e.requireConnection("remove"); err != nil {
			return e.fail("remove", err)
		}
		err = e.withTx(ctx, func(tx LedgerTx) error {
			return tx.DeleteTable(ctx, target, e.databaseID)
		})
		msg = fmt.Sprintf("record of table %s removed", target)
	}
	if err != nil {
		return e.fail("remove", err)
	}

	e.logger.Info("record removed", "kind", k, "target", target)
	return Result{Message: msg}
}

// SetWatched flags a registered file for the change-event adapter. The
// adapter picks the change up on its next start.
func (e *Engine) SetWatched(ctx context.Context, target string, watched bool) Result {
	if target == "" {
		return e.fail("watch", ParamError("insufficient parameters for %q", "watch"))
	}
	path, err := e.fsmgr.Abs(target)
	if err != nil {
		return e.fail("watch", ParamError("invalid path %q", target))
	}

	err = e.withTx(ctx, func(tx LedgerTx) error {
		found, err := tx.SetFileWatched(ctx, path, watched)
		if err != nil {
			return err
		}
		if !found {
			return NotFound("file " + path)
		}
		return nil
	})
	if err != nil {
		return e.fail("watch", err)
	}

	if watched {
		return Result{Message: fmt.Sprintf("file %s is watched", path)}
	}
	return Result{Message: fmt.Sprintf("file %s is no longer watched", path)}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
