package dump

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// NewReader wraps r so that it yields UTF-8 decoded from charset. Invalid
// UTF-8 in utf8 input is replaced with U+FFFD. The "binary" charset passes
// bytes through untouched, which is what _binary string literals need.
func NewReader(r io.Reader, charset string) (io.Reader, error) {
	enc, err := lookupCharset(charset)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return r, nil
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}

func lookupCharset(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.ReplaceAll(name, "-", "")) {
	case "", "utf8", "utf8mb4", "utf8mb3":
		return unicode.UTF8BOM, nil
	case "latin1", "iso88591":
		return charmap.ISO8859_1, nil
	case "cp1252", "windows1252":
		return charmap.Windows1252, nil
	case "binary", "raw":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported charset %q", name)
	}
}
