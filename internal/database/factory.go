package database

import (
	"fmt"

	"integrity-go/internal/config"
)

// NewLedgerFromConfig opens the ledger selected by the ledger config type.
// A memory ledger is migrated on open since it starts empty every time; a
// sqlite ledger must be migrated explicitly.
func NewLedgerFromConfig(cfg config.LedgerConfig) (*SQLiteLedger, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("path required for sqlite ledger")
		}
		return NewSQLiteLedger(cfg.Path)
	case "memory":
		l, err := NewSQLiteLedger(":memory:")
		if err != nil {
			return nil, err
		}
		if err := l.Migrate(); err != nil {
			l.Close()
			return nil, err
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unknown ledger type: %s", cfg.Type)
	}
}
