package testutil

import (
	"integrity-go/internal/encryption"
	"integrity-go/internal/integrity"
)

// NewTestSealer creates a new test sealer for testing.
func NewTestSealer() integrity.Sealer {
	return encryption.NewTestSealer()
}
