package integrity

import (
	"math/big"
	"strings"
)

// digestsEqual compares two hexadecimal digests as unsigned integers, so case
// and leading zeros never cause a mismatch. A digest that is not valid hex
// never equals anything.
func digestsEqual(a, b string) bool {
	x, ok := new(big.Int).SetString(strings.TrimSpace(a), 16)
	if !ok {
		return false
	}
	y, ok := new(big.Int).SetString(strings.TrimSpace(b), 16)
	if !ok {
		return false
	}
	return x.Cmp(y) == 0
}
