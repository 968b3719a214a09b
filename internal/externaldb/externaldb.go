// Package externaldb reads protected tables from external relational
// databases and renders their rows into the byte sequence that is digested.
//
// Table and column names cannot be bound as query parameters, so every name
// is checked against the database's own catalog before it is quoted into a
// query. Failures of the external database are reported as parameter errors.
package externaldb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/text/encoding"

	"integrity-go/internal/integrity"
	"integrity-go/internal/model"
)

// DB is a connection to an external database.
type DB struct {
	db          *sqlx.DB
	dialect     *dialect
	name        string
	fingerprint string
	encoding    encoding.Encoding
}

// Connect opens and pings the database described by params. It satisfies
// integrity.Connector.
func Connect(ctx context.Context, params model.ConnectParams) (integrity.ExternalDB, error) {
	return Open(ctx, params)
}

// Open is Connect returning the concrete type.
func Open(ctx context.Context, params model.ConnectParams) (*DB, error) {
	d, err := dialectFor(params.DBMS)
	if err != nil {
		return nil, err
	}
	if params.DBMS == "sqlite3" {
		abs, err := filepath.Abs(params.DSN)
		if err != nil {
			return nil, fmt.Errorf("resolving database path: %w", err)
		}
		params.DSN = abs
	}

	db, err := sqlx.Open(d.driver, d.dsn(params))
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", d.name, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s database: %w", d.name, err)
	}

	ext, err := newDB(ctx, db, d, params)
	if err != nil {
		db.Close()
		return nil, err
	}
	return ext, nil
}

// NewFromDB wraps an already open connection. The DBMS of params selects the
// SQL dialect.
func NewFromDB(ctx context.Context, db *sql.DB, params model.ConnectParams) (*DB, error) {
	d, err := dialectFor(params.DBMS)
	if err != nil {
		return nil, err
	}
	return newDB(ctx, sqlx.NewDb(db, d.driver), d, params)
}

func newDB(ctx context.Context, db *sqlx.DB, d *dialect, params model.ConnectParams) (*DB, error) {
	encName := params.Encoding
	if encName == "" {
		if err := db.GetContext(ctx, &encName, d.encodingQuery); err != nil {
			return nil, fmt.Errorf("reading connection encoding: %w", err)
		}
	}
	enc, err := lookupEncoding(encName)
	if err != nil {
		return nil, err
	}

	name := params.Database
	if d.name == "sqlite3" {
		name = strings.TrimSuffix(filepath.Base(params.DSN), filepath.Ext(params.DSN))
	}

	return &DB{
		db:          db,
		dialect:     d,
		name:        name,
		fingerprint: Fingerprint(params),
		encoding:    enc,
	}, nil
}

// Fingerprint identifies a database by DBMS, address and name. Credentials
// never contribute, so the same database reached as another user keeps its
// identity.
func Fingerprint(params model.ConnectParams) string {
	var id string
	if params.DBMS == "sqlite3" {
		id = "sqlite3://" + params.DSN
	} else {
		id = fmt.Sprintf("%s://%s:%s/%s", params.DBMS, params.Host, params.Port, params.Database)
	}
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])
}

func (d *DB) Fingerprint() string { return d.fingerprint }

func (d *DB) Name() string { return d.name }

func (d *DB) Close() error { return d.db.Close() }

func queryFailed(err error) error {
	return &integrity.Error{Kind: integrity.KindParameter, Message: "query failed", Err: err}
}

// columns returns the column names of table, or a parameter error when the
// table does not exist.
func (d *DB) columns(ctx context.Context, table string) ([]string, error) {
	var cols []string
	if err := d.db.SelectContext(ctx, &cols, d.dialect.columnsQuery, table); err != nil {
		return nil, queryFailed(err)
	}
	if len(cols) == 0 {
		return nil, integrity.ParamError("query failed: table %q does not exist", table)
	}
	return cols, nil
}

// Count returns the number of rows in table.
func (d *DB) Count(ctx context.Context, table string) (int64, error) {
	if _, err := d.columns(ctx, table); err != nil {
		return 0, err
	}
	var n int64
	query := "SELECT COUNT(*) FROM " + d.dialect.quoteIdent(table)
	if err := d.db.GetContext(ctx, &n, query); err != nil {
		return 0, queryFailed(err)
	}
	return n, nil
}

// Serialize reads every row of table ordered ascending by pkField, renders
// each value as canonical text and concatenates everything without
// separators. The text is encoded with the connection's encoding.
func (d *DB) Serialize(ctx context.Context, table, pkField string) ([]byte, error) {
	cols, err := d.columns(ctx, table)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(cols, pkField) {
		return nil, integrity.ParamError("query failed: table %q has no column %q", table, pkField)
	}

	query := fmt.Sprintf("SELECT * FROM %s ORDER BY %s",
		d.dialect.quoteIdent(table), d.dialect.quoteIdent(pkField))
	rows, err := d.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, queryFailed(err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, queryFailed(err)
	}
	typeNames := make([]string, len(types))
	for i, ct := range types {
		typeNames[i] = strings.ToUpper(ct.DatabaseTypeName())
	}

	var b strings.Builder
	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return nil, queryFailed(err)
		}
		for i, v := range values {
			b.WriteString(canonical(v, typeNames[i]))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, queryFailed(err)
	}

	out, err := encodeText(d.encoding, b.String())
	if err != nil {
		return nil, &integrity.Error{
			Kind:    integrity.KindParameter,
			Message: fmt.Sprintf("table %q cannot be encoded in the connection encoding", table),
			Err:     err,
		}
	}
	return out, nil
}

// Compile-time checks
var (
	_ integrity.ExternalDB = (*DB)(nil)
	_ integrity.Connector  = Connect
)
