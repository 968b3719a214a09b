package testutil

import (
	"context"
	"slices"
	"strings"
	"sync"

	"integrity-go/internal/integrity"
	"integrity-go/internal/model"
)

// FakeTable is a table of a FakeExternalDB. Values are already canonical text.
type FakeTable struct {
	Columns []string
	Rows    [][]string
}

// FakeExternalDB is an in-memory integrity.ExternalDB.
type FakeExternalDB struct {
	mu     sync.Mutex
	name   string
	tables map[string]*FakeTable
	closed bool
}

// NewFakeExternalDB creates an empty fake database called name.
func NewFakeExternalDB(name string) *FakeExternalDB {
	return &FakeExternalDB{name: name, tables: make(map[string]*FakeTable)}
}

// SetTable creates or replaces a table.
func (f *FakeExternalDB) SetTable(name string, columns []string, rows ...[]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[name] = &FakeTable{Columns: columns, Rows: rows}
}

// Closed reports whether Close was called.
func (f *FakeExternalDB) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Connector returns a Connector that always yields f.
func (f *FakeExternalDB) Connector() integrity.Connector {
	return func(context.Context, model.ConnectParams) (integrity.ExternalDB, error) {
		return f, nil
	}
}

func (f *FakeExternalDB) Fingerprint() string { return "fake://" + f.name }

func (f *FakeExternalDB) Name() string { return f.name }

func (f *FakeExternalDB) Count(_ context.Context, table string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[table]
	if !ok {
		return 0, integrity.ParamError("query failed")
	}
	return int64(len(t.Rows)), nil
}

// Serialize concatenates the rows ordered by the text of pkField.
func (f *FakeExternalDB) Serialize(_ context.Context, table, pkField string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[table]
	if !ok {
		return nil, integrity.ParamError("query failed")
	}
	idx := slices.Index(t.Columns, pkField)
	if idx < 0 {
		return nil, integrity.ParamError("query failed")
	}

	rows := slices.Clone(t.Rows)
	slices.SortStableFunc(rows, func(a, b []string) int {
		return strings.Compare(a[idx], b[idx])
	})

	var b strings.Builder
	for _, row := range rows {
		for _, v := range row {
			b.WriteString(v)
		}
	}
	return []byte(b.String()), nil
}

func (f *FakeExternalDB) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Compile-time check
var _ integrity.ExternalDB = (*FakeExternalDB)(nil)
