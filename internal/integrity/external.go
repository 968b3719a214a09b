package integrity

import (
	"context"

	"integrity-go/internal/model"
)

// ExternalDB is a connection to an external database holding protected tables.
// Query failures are reported as KindParameter errors.
type ExternalDB interface {
	// Fingerprint identifies the database by host, port and name, never by
	// credentials.
	Fingerprint() string

	// Name is the database name, for messages.
	Name() string

	// Count returns the number of rows in table.
	Count(ctx context.Context, table string) (int64, error)

	// Serialize renders every row of table, ordered ascending by pkField, into
	// the byte sequence that is digested.
	Serialize(ctx context.Context, table, pkField string) ([]byte, error)

	// Close closes the connection.
	Close() error
}

// Connector opens an ExternalDB.
type Connector func(ctx context.Context, params model.ConnectParams) (ExternalDB, error)

// Digester computes the checksum of a byte sequence under a named algorithm.
// The result is a lowercase hexadecimal string.
type Digester interface {
	Compute(data []byte, algorithm string) (string, error)
}
