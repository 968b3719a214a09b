package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"integrity-go/internal/command"
	"integrity-go/internal/compression"
	"integrity-go/internal/config"
	"integrity-go/internal/database"
	"integrity-go/internal/digest"
	"integrity-go/internal/encryption"
	"integrity-go/internal/externaldb"
	"integrity-go/internal/fs"
	"integrity-go/internal/integrity"
	"integrity-go/internal/model"
	"integrity-go/internal/vault"
	"integrity-go/internal/watcher"
)

// IntegrityApp is the application layer between the CLI and the engine.
// It constructs all dependencies from config, exposes the engine operations
// to the CLI, records mutating operations in the ledger history, and
// manages the ledger lifecycle on Close.
type IntegrityApp struct {
	cfg     *config.Config
	ledger  *database.SQLiteLedger
	fsmgr   *fs.OSFilesystemManager
	engine  *integrity.Engine
	session *command.Session
	logger  integrity.Logger
	clock   integrity.Clock
	op      *Operation
	logFile *os.File
}

// NewIntegrityApp creates a fully wired IntegrityApp from the given config.
// operation names the CLI command being run (e.g. "add", "full_check").
// The caller must call Close when done.
func NewIntegrityApp(ctx context.Context, cfg *config.Config, operation string) (*IntegrityApp, error) {
	fsmgr := fs.NewOSFilesystemManager(cfg.Filesystem.Ignore)

	v, err := vault.NewVaultFromConfig(ctx, cfg.Vault)
	if err != nil {
		return nil, fmt.Errorf("creating vault: %w", err)
	}

	codec, err := compression.Parse(cfg.Backup.Codec)
	if err != nil {
		return nil, fmt.Errorf("selecting backup codec: %w", err)
	}

	sealer, err := encryption.NewSealerFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating sealer: %w", err)
	}

	ledger, err := database.NewLedgerFromConfig(cfg.Ledger)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}

	if err := ledger.CheckMigrations(); err != nil {
		ledger.Close()
		return nil, fmt.Errorf("ledger schema out of date: %w", err)
	}

	opID := uuid.NewString()
	slogger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		ledger.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	digester := digest.NewProvider()
	backups := integrity.NewBackupVault(v, codec, sealer, digester, logger)
	clock := integrity.RealClock{}
	engine := integrity.NewEngine(ledger, fsmgr, backups, digester, externaldb.Connect, logger, clock)

	return &IntegrityApp{
		cfg:     cfg,
		ledger:  ledger,
		fsmgr:   fsmgr,
		engine:  engine,
		session: command.NewSession(engine),
		logger:  logger,
		clock:   clock,
		op:      NewOperation(operation, ""),
		logFile: logFile,
	}, nil
}

// record persists the current operation with its parameters. It is called
// by every command that may write to the ledger.
func (a *IntegrityApp) record(ctx context.Context, params ...string) error {
	a.op.Parameters = strings.Join(params, " ")
	return a.op.persist(ctx, a.ledger, model.NewTimestamp(a.clock.Now()))
}

// run records the operation and then runs fn, failing the operation when
// the result does.
func (a *IntegrityApp) run(ctx context.Context, fn func() integrity.Result, params ...string) (integrity.Result, error) {
	if err := a.record(ctx, params...); err != nil {
		return integrity.Result{}, err
	}
	res := fn()
	if res.Failed {
		a.op.Status = statusError
	}
	return res, nil
}

// Connect makes params the active external database.
func (a *IntegrityApp) Connect(ctx context.Context, params model.ConnectParams) (integrity.Result, error) {
	return a.run(ctx, func() integrity.Result {
		return a.engine.Connect(ctx, params)
	}, params.DBMS, params.Host, params.Port, params.Database, params.DSN)
}

// ConnectDefault connects to the external database of the [external]
// config section. It reports false when none is configured.
func (a *IntegrityApp) ConnectDefault(ctx context.Context) (integrity.Result, bool, error) {
	ext := a.cfg.External
	if !ext.Configured() {
		return integrity.Result{}, false, nil
	}
	res, err := a.Connect(ctx, model.ConnectParams{
		DBMS:     ext.DBMS,
		Host:     ext.Host,
		Port:     ext.Port,
		Database: ext.Database,
		User:     ext.User,
		Password: ext.Password,
		DSN:      ext.DSN,
		Encoding: ext.Encoding,
	})
	return res, true, err
}

// Add registers target. A directory given as a file target registers every
// file below it; registration stops at the first failure.
func (a *IntegrityApp) Add(ctx context.Context, kind, algorithm, target string, opts integrity.AddOptions) ([]integrity.Result, error) {
	if err := a.record(ctx, kind, algorithm, target); err != nil {
		return nil, err
	}

	targets := []string{target}
	if k, ok := model.ParseKind(kind); ok && k == model.KindFile && target != "" {
		if info, err := a.fsmgr.Stat(target); err == nil && info.IsDir() {
			paths, err := a.fsmgr.FindFiles(target)
			if err != nil {
				return nil, fmt.Errorf("finding files: %w", err)
			}
			targets = paths
		}
	}

	var results []integrity.Result
	for _, t := range targets {
		res := a.engine.Add(ctx, kind, algorithm, t, opts)
		results = append(results, res)
		if res.Failed {
			a.op.Status = statusError
			break
		}
	}
	return results, nil
}

// Check verifies one object.
func (a *IntegrityApp) Check(ctx context.Context, kind, target string) (integrity.Result, error) {
	return a.run(ctx, func() integrity.Result {
		return a.engine.Check(ctx, kind, target)
	}, kind, target)
}

// CheckAll verifies every registered file and the tables of the active
// external database.
func (a *IntegrityApp) CheckAll(ctx context.Context) (integrity.Result, error) {
	return a.run(ctx, func() integrity.Result {
		return a.engine.CheckAll(ctx)
	})
}

// Restore overwrites a file with its validated backup.
func (a *IntegrityApp) Restore(ctx context.Context, kind, target string) (integrity.Result, error) {
	return a.run(ctx, func() integrity.Result {
		return a.engine.Restore(ctx, kind, target)
	}, kind, target)
}

// Remove deletes the record of an object.
func (a *IntegrityApp) Remove(ctx context.Context, kind, target string) (integrity.Result, error) {
	return a.run(ctx, func() integrity.Result {
		return a.engine.Remove(ctx, kind, target)
	}, kind, target)
}

// SetWatched toggles the watch flag of a registered file.
func (a *IntegrityApp) SetWatched(ctx context.Context, target string, watched bool) (integrity.Result, error) {
	state := "off"
	if watched {
		state = "on"
	}
	return a.run(ctx, func() integrity.Result {
		return a.engine.SetWatched(ctx, target, watched)
	}, target, state)
}

// ListIncorrect renders the objects that failed verification.
func (a *IntegrityApp) ListIncorrect(ctx context.Context, plural string) integrity.Result {
	return a.engine.ListIncorrect(ctx, plural)
}

// List renders one page of registered objects.
func (a *IntegrityApp) List(ctx context.Context, plural string, page integrity.ListPage) integrity.Result {
	return a.engine.List(ctx, plural, page)
}

// ListAlgorithms renders the algorithm catalog.
func (a *IntegrityApp) ListAlgorithms(ctx context.Context) integrity.Result {
	return a.engine.ListAlgorithms(ctx)
}

// GetHistory returns the most recent operations.
func (a *IntegrityApp) GetHistory(ctx context.Context, limit int) ([]model.Operation, error) {
	tx, err := a.ledger.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	return tx.Operations(ctx, limit)
}

// Session returns the command session bound to the app's engine. The
// operation is recorded since commands may write to the ledger.
func (a *IntegrityApp) Session(ctx context.Context, params ...string) (*command.Session, error) {
	if err := a.record(ctx, params...); err != nil {
		return nil, err
	}
	return a.session, nil
}

// ErrWatchUnsupported is returned by Watcher for ledgers that cannot be
// opened a second time.
var ErrWatchUnsupported = errors.New("watching requires a sqlite ledger")

// Watcher creates the change-event adapter for the configured watch root.
// Each event is recorded through a fresh ledger connection.
func (a *IntegrityApp) Watcher() (*watcher.Watcher, error) {
	if a.cfg.Ledger.Type != "sqlite" {
		return nil, ErrWatchUnsupported
	}
	open := func() (integrity.Ledger, error) {
		l, err := database.NewLedgerFromConfig(a.cfg.Ledger)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
	root := a.cfg.Watch.Root
	if root == "" {
		root = string(os.PathSeparator)
	}
	return watcher.New(open, root, a.cfg.Ledger.Path+".watch.lock", a.logger, a.clock), nil
}

// Close finalizes the operation and closes all resources.
func (a *IntegrityApp) Close() error {
	var firstErr error

	if a.op.Persisted() {
		if a.session.Failed() {
			a.op.Status = statusError
		}
		if err := a.op.finish(context.Background(), a.ledger, model.NewTimestamp(a.clock.Now())); err != nil {
			firstErr = err
		}
	}

	if err := a.engine.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing external database: %w", err)
	}
	if err := a.ledger.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing ledger: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
