package integrity

import (
	"bytes"
	"errors"
	"fmt"

	"integrity-go/internal/compression"
	"integrity-go/internal/model"
)

// BackupVault stores compressed copies of protected content keyed by the
// reference checksum, and validates them before they are handed back.
type BackupVault struct {
	vault    Vault
	codec    compression.Codec
	sealer   Sealer // nil when blobs are stored unsealed
	digester Digester
	logger   Logger
}

// NewBackupVault creates a BackupVault. sealer may be nil.
func NewBackupVault(vault Vault, codec compression.Codec, sealer Sealer, digester Digester, logger Logger) *BackupVault {
	return &BackupVault{
		vault:    vault,
		codec:    codec,
		sealer:   sealer,
		digester: digester,
		logger:   logger,
	}
}

// Store compresses raw and writes it under the kind's namespace and checksum.
// It reports false instead of failing, since a missing backup never undoes
// the registration it accompanies.
func (b *BackupVault) Store(kind model.ObjectKind, checksum string, raw []byte) bool {
	blob, err := compression.Compress(b.codec, raw)
	if err != nil {
		b.logger.Warn("backup not compressed", "kind", kind, "checksum", checksum, "error", err)
		return false
	}

	if b.sealer != nil {
		var sealed bytes.Buffer
		if err := b.sealer.Seal(bytes.NewReader(blob), &sealed); err != nil {
			b.logger.Warn("backup not sealed", "kind", kind, "checksum", checksum, "error", err)
			return false
		}
		blob = sealed.Bytes()
	}

	if err := b.vault.PutContent(kind.Plural(), checksum, bytes.NewReader(blob), int64(len(blob))); err != nil {
		b.logger.Warn("backup not stored", "kind", kind, "checksum", checksum, "error", err)
		return false
	}

	b.logger.Debug("backup stored", "kind", kind, "checksum", checksum, "codec", b.codec, "size", len(blob))
	return true
}

// RetrieveAndValidate returns the content stored under checksum after
// checking that it still digests to checksum under algorithm.
func (b *BackupVault) RetrieveAndValidate(kind model.ObjectKind, checksum, algorithm string) ([]byte, error) {
	if kind == model.KindTable {
		return nil, ParamError("restore is not implemented for tables")
	}

	var stored bytes.Buffer
	if err := b.vault.GetContent(kind.Plural(), checksum, &stored); err != nil {
		if errors.Is(err, ErrContentNotFound) {
			return nil, &Error{Kind: KindParameter, Message: "backup not found", Err: err}
		}
		return nil, fmt.Errorf("reading backup: %w", err)
	}

	blob := stored.Bytes()
	if b.sealer != nil {
		var opened bytes.Buffer
		if err := b.sealer.Open(bytes.NewReader(blob), &opened); err != nil {
			return nil, &Error{Kind: KindParameter, Message: "backup is corrupt", Err: err}
		}
		blob = opened.Bytes()
	}

	raw, err := compression.Decompress(blob)
	if err != nil {
		return nil, &Error{Kind: KindParameter, Message: "backup is corrupt", Err: err}
	}

	sum, err := b.digester.Compute(raw, algorithm)
	if err != nil {
		return nil, err
	}
	if !digestsEqual(sum, checksum) {
		b.logger.Error("backup digest mismatch", "kind", kind, "checksum", checksum, "actual", sum)
		return nil, ParamError("backup is corrupt")
	}

	return raw, nil
}
