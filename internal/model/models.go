package model

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"time"
)

// ObjectKind identifies the kind of protected object.
type ObjectKind string

const (
	KindFile  ObjectKind = "file"
	KindTable ObjectKind = "table"
)

// ParseKind parses a singular object kind ("file" or "table").
func ParseKind(s string) (ObjectKind, bool) {
	switch ObjectKind(s) {
	case KindFile, KindTable:
		return ObjectKind(s), true
	}
	return "", false
}

// ParsePluralKind parses a plural object kind ("files" or "tables").
func ParsePluralKind(s string) (ObjectKind, bool) {
	switch s {
	case "files":
		return KindFile, true
	case "tables":
		return KindTable, true
	}
	return "", false
}

// Plural returns the plural form used for listings and the backup key space.
func (k ObjectKind) Plural() string {
	return string(k) + "s"
}

// Timestamp is a time stored in the ledger as integer Unix seconds (UTC).
type Timestamp struct {
	time.Time
}

// NewTimestamp truncates t to whole seconds.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: time.Unix(t.Unix(), 0).UTC()}
}

// Scan implements sql.Scanner.
func (t *Timestamp) Scan(src any) error {
	switch v := src.(type) {
	case int64:
		t.Time = time.Unix(v, 0).UTC()
	case float64:
		t.Time = time.Unix(int64(v), 0).UTC()
	case time.Time:
		t.Time = v.UTC()
	default:
		return fmt.Errorf("cannot scan %T into Timestamp", src)
	}
	return nil
}

// Value implements driver.Valuer.
func (t Timestamp) Value() (driver.Value, error) {
	return t.Unix(), nil
}

// Algorithm is an entry of the checksum algorithm catalog.
type Algorithm struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
}

// ExternalDatabase is the identity of a registered external database.
// Connection is an opaque fingerprint of host, port and database name.
type ExternalDatabase struct {
	ID         int64     `db:"id"`
	Connection string    `db:"connection"`
	CreatedAt  Timestamp `db:"created_at"`
}

// ProtectedFile is the reference record of a protected file.
type ProtectedFile struct {
	ID           int64     `db:"id"`
	Path         string    `db:"path"`
	FileSize     int64     `db:"file_size"`
	IsWatched    bool      `db:"is_watched"`
	AlgorithmID  int64     `db:"algorithm_id"`
	Checksum     string    `db:"checksum"`
	IsCorrect    bool      `db:"is_correct"`
	CalculatedAt Timestamp `db:"calculated_at"`
}

// ProtectedTable is the reference record of a protected external table.
// PKField is NULL when the table was registered without a primary key
// argument; "id" is used for ordering in that case.
type ProtectedTable struct {
	ID           int64          `db:"id"`
	TableName    string         `db:"table_name"`
	DatabaseID   int64          `db:"database_id"`
	PKField      sql.NullString `db:"pk_field"`
	AlgorithmID  int64          `db:"algorithm_id"`
	Checksum     string         `db:"checksum"`
	RowCount     int64          `db:"row_count"`
	IsCorrect    bool           `db:"is_correct"`
	CalculatedAt Timestamp      `db:"calculated_at"`
}

// DefaultPKField is the ordering column used when none was registered.
const DefaultPKField = "id"

// OrderField returns the column used to order rows for digesting: pk, or
// DefaultPKField when pk is empty.
func OrderField(pk string) string {
	if pk == "" {
		return DefaultPKField
	}
	return pk
}

// ErrorEvent is an append-only record of a detected mismatch.
// Manual is always true for table errors.
type ErrorEvent struct {
	ID        int64     `db:"id"`
	ObjectID  int64     `db:"object_id"`
	CheckedAt Timestamp `db:"checked_at"`
	Manual    bool      `db:"manual"`
}

// Reference is the comparison baseline of a protected object.
type Reference struct {
	ID        int64          `db:"id"`
	Checksum  string         `db:"checksum"`
	Algorithm string         `db:"algorithm"`
	PKField   sql.NullString `db:"pk_field"`
}

// OrderField returns the column the referenced table was digested by.
func (r *Reference) OrderField() string {
	if !r.PKField.Valid {
		return DefaultPKField
	}
	return OrderField(r.PKField.String)
}

// IncorrectEntry pairs an incorrect object with its latest error event.
type IncorrectEntry struct {
	ID            int64                `db:"id"`
	Name          string               `db:"name"`
	LastCheckedAt sql.Null[Timestamp] `db:"last_checked_at"`
}

// ListEntry is one row of a paged ledger listing.
type ListEntry struct {
	ID            int64                `db:"id"`
	Name          string               `db:"name"`
	Algorithm     string               `db:"algorithm"`
	Checksum      string               `db:"checksum"`
	IsCorrect     bool                 `db:"is_correct"`
	CalculatedAt  Timestamp            `db:"calculated_at"`
	LastCheckedAt sql.Null[Timestamp] `db:"last_checked_at"`
}

// ListQuery selects a page of protected objects.
// DatabaseID scopes table listings; zero means all databases.
type ListQuery struct {
	Kind          ObjectKind
	Limit         int
	Offset        int
	DatabaseID    int64
	OnlyIncorrect bool
}

// Operation records a mutating CLI invocation.
type Operation struct {
	ID         int64                `db:"id"`
	StartedAt  Timestamp            `db:"started_at"`
	FinishedAt sql.Null[Timestamp] `db:"finished_at"`
	Operation  string               `db:"operation"`
	Parameters string               `db:"parameters"`
	Status     string               `db:"status"`
}

// ConnectParams describes an external database connection.
// DSN is used verbatim for sqlite3 (a file path) and ignored otherwise.
type ConnectParams struct {
	DBMS     string
	Host     string
	Port     string
	Database string
	User     string
	Password string
	DSN      string
	Encoding string
}
