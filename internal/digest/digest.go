// Package digest computes checksums of byte sequences under named algorithms.
//
// Every digest is rendered as a lowercase hexadecimal string. The two legacy
// 32-bit checksums are rendered without zero padding; every other algorithm
// renders its full digest width. Digests double as backup storage keys, so
// the rendering of each algorithm must stay stable.
package digest

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/adler32"
	"hash/crc32"
	"hash/crc64"
	"sort"
	"strconv"

	"github.com/zeebo/blake3"
	"go.cypherpunks.ru/gogost/v5/gost28147"
	"go.cypherpunks.ru/gogost/v5/gost34112012256"
	"go.cypherpunks.ru/gogost/v5/gost34112012512"
	"go.cypherpunks.ru/gogost/v5/gost341194"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/sha3"

	"integrity-go/internal/integrity"
)

// shakeOutputLen is the output length in bytes of the extendable-output
// functions shake_128 and shake_256.
const shakeOutputLen = 256

type computeFunc func(data []byte) string

var crc64Table = crc64.MakeTable(crc64.ISO)

var algorithms = map[string]computeFunc{
	"crc32": func(data []byte) string {
		return strconv.FormatUint(uint64(crc32.ChecksumIEEE(data)), 16)
	},
	"adler32": func(data []byte) string {
		return strconv.FormatUint(uint64(adler32.Checksum(data)), 16)
	},
	"crc64": func(data []byte) string {
		return fmt.Sprintf("%016x", crc64ISO(data))
	},
	"md5":      fromHash(md5.New),
	"sha1":     fromHash(sha1.New),
	"sha224":   fromHash(sha256.New224),
	"sha256":   fromHash(sha256.New),
	"sha384":   fromHash(sha512.New384),
	"sha512":   fromHash(sha512.New),
	"sha3_224": fromHash(sha3.New224),
	"sha3_256": fromHash(sha3.New256),
	"sha3_384": fromHash(sha3.New384),
	"sha3_512": fromHash(sha3.New512),
	"shake_128": func(data []byte) string {
		out := make([]byte, shakeOutputLen)
		sha3.ShakeSum128(out, data)
		return hex.EncodeToString(out)
	},
	"shake_256": func(data []byte) string {
		out := make([]byte, shakeOutputLen)
		sha3.ShakeSum256(out, data)
		return hex.EncodeToString(out)
	},
	"blake2b": func(data []byte) string {
		sum := blake2b.Sum512(data)
		return hex.EncodeToString(sum[:])
	},
	"blake2s": func(data []byte) string {
		sum := blake2s.Sum256(data)
		return hex.EncodeToString(sum[:])
	},
	"blake3": func(data []byte) string {
		sum := blake3.Sum256(data)
		return hex.EncodeToString(sum[:])
	},
	"gost94": fromHash(func() hash.Hash {
		return gost341194.New(&gost28147.SboxIdGostR341194CryptoProParamSet)
	}),
	"gost_256": fromHash(func() hash.Hash { return gost34112012256.New() }),
	"gost_512": fromHash(func() hash.Hash { return gost34112012512.New() }),
}

func fromHash(newHash func() hash.Hash) computeFunc {
	return func(data []byte) string {
		h := newHash()
		h.Write(data)
		return hex.EncodeToString(h.Sum(nil))
	}
}

// crc64ISO computes CRC-64/ISO with a zero initial value and no final
// inversion. crc64.Update inverts on entry and exit, so the register is
// pre-inverted to cancel both.
func crc64ISO(data []byte) uint64 {
	return ^crc64.Update(^uint64(0), crc64Table, data)
}

// Provider implements integrity.Digester.
type Provider struct{}

// NewProvider returns a digest provider.
func NewProvider() *Provider {
	return &Provider{}
}

// Compute returns the hex digest of data under algorithm. An unknown
// algorithm is a parameter error.
func (p *Provider) Compute(data []byte, algorithm string) (string, error) {
	fn, ok := algorithms[algorithm]
	if !ok {
		return "", integrity.ParamError("unknown checksum algorithm %q", algorithm)
	}
	return fn(data), nil
}

// Algorithms returns the names of all implemented algorithms, sorted.
func Algorithms() []string {
	names := make([]string, 0, len(algorithms))
	for name := range algorithms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Compile-time check that Provider implements integrity.Digester
var _ integrity.Digester = (*Provider)(nil)
