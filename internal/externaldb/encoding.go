package externaldb

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// encodingAliases maps server-reported encoding names that are not web
// labels onto labels htmlindex understands.
var encodingAliases = map[string]string{
	"utf8":      "utf-8",
	"utf8mb3":   "utf-8",
	"utf8mb4":   "utf-8",
	"sql_ascii": "utf-8",
	"ascii":     "utf-8",
	"win1250":   "windows-1250",
	"win1251":   "windows-1251",
	"win1252":   "windows-1252",
	"cp1250":    "windows-1250",
	"koi8r":     "koi8-r",
	"koi8u":     "koi8-u",
	"latin2":    "iso-8859-2",
}

// lookupEncoding resolves an encoding name as reported by a DBMS.
func lookupEncoding(name string) (encoding.Encoding, error) {
	label := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := encodingAliases[label]; ok {
		label = alias
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unsupported text encoding %q: %w", name, err)
	}
	return enc, nil
}

// encodeText converts UTF-8 text to enc. Characters enc cannot represent
// are an error.
func encodeText(enc encoding.Encoding, s string) ([]byte, error) {
	out, err := enc.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, err
	}
	return out, nil
}
