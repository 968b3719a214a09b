// Package compression encodes backup blobs. Every codec writes a
// self-identifying frame, so a blob is always decoded with the codec that
// wrote it regardless of the currently configured one.
package compression

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec names a compression format.
type Codec string

const (
	Zlib Codec = "zlib"
	Zstd Codec = "zstd"
	LZ4  Codec = "lz4"
)

// ErrUnknownFormat is returned by Decompress for a blob no codec recognizes.
var ErrUnknownFormat = errors.New("unrecognized compression format")

const (
	zstdMagic uint32 = 0xFD2FB528
	lz4Magic  uint32 = 0x184D2204
)

// zstdEncoder and zstdDecoder are shared; both are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		panic("compression: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("compression: zstd decoder initialization failed: " + err.Error())
	}
}

// Parse returns the codec named by s. The empty string selects zlib.
func Parse(s string) (Codec, error) {
	switch Codec(s) {
	case "", Zlib:
		return Zlib, nil
	case Zstd, LZ4:
		return Codec(s), nil
	}
	return "", fmt.Errorf("unknown compression codec: %q", s)
}

// Compress encodes data at the codec's strongest level.
func Compress(c Codec, data []byte) ([]byte, error) {
	switch c {
	case Zlib:
		var buf bytes.Buffer
		w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
		if err != nil {
			return nil, fmt.Errorf("zlib compress: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("zlib compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("zlib compress: %w", err)
		}
		return buf.Bytes(), nil

	case Zstd:
		return zstdEncoder.EncodeAll(data, nil), nil

	case LZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if err := w.Apply(lz4.CompressionLevelOption(lz4.Level9)); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		return buf.Bytes(), nil

	default:
		return nil, fmt.Errorf("unsupported compression codec: %q", c)
	}
}

// Detect identifies the codec of blob from its frame header.
func Detect(blob []byte) (Codec, error) {
	if len(blob) >= 4 {
		switch binary.LittleEndian.Uint32(blob) {
		case zstdMagic:
			return Zstd, nil
		case lz4Magic:
			return LZ4, nil
		}
	}
	// zlib: deflate method with a header checksum divisible by 31.
	if len(blob) >= 2 && blob[0]&0x0F == 8 && (uint16(blob[0])<<8|uint16(blob[1]))%31 == 0 {
		return Zlib, nil
	}
	return "", ErrUnknownFormat
}

// Decompress decodes blob with the codec that produced it.
func Decompress(blob []byte) ([]byte, error) {
	c, err := Detect(blob)
	if err != nil {
		return nil, err
	}

	switch c {
	case Zstd:
		out, err := zstdDecoder.DecodeAll(blob, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil

	case LZ4:
		out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(blob)))
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		return out, nil

	default:
		r, err := zlib.NewReader(bytes.NewReader(blob))
		if err != nil {
			return nil, fmt.Errorf("zlib decompress: %w", err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("zlib decompress: %w", err)
		}
		return out, nil
	}
}
