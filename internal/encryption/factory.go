package encryption

import (
	"fmt"

	"integrity-go/internal/config"
	"integrity-go/internal/integrity"
)

// NewSealerFromConfig creates a Sealer based on the configuration type.
// Type "none" returns a nil Sealer: blobs are stored compressed only.
func NewSealerFromConfig(cfg config.EncryptionConfig) (integrity.Sealer, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "age":
		if cfg.RecipientPath == "" || cfg.IdentityPath == "" {
			return nil, fmt.Errorf("recipient_path and identity_path required for age encryption")
		}
		return NewAgeSealer(cfg), nil
	case "test":
		return NewTestSealer(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
