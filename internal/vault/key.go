package vault

import (
	"fmt"
	"regexp"
)

// keyPart matches namespaces and checksums. Both are used as path
// components, so separators and dots are rejected.
var keyPart = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func validateKey(namespace, checksum string) error {
	if !keyPart.MatchString(namespace) {
		return fmt.Errorf("invalid vault namespace: %q", namespace)
	}
	if !keyPart.MatchString(checksum) {
		return fmt.Errorf("invalid vault key: %q", checksum)
	}
	return nil
}
