// Package dump reads mysqldump output: it splits a dump into statements,
// parses CREATE TABLE definitions, and tokenizes the VALUES clause of INSERT
// statements into rows of typed literals.
package dump

import (
	"encoding/hex"
	"regexp"
	"strings"
)

// Kind classifies a single literal from a VALUES clause.
type Kind int

const (
	Null Kind = iota
	String
	Number
	Hex
	Bare
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case String:
		return "string"
	case Number:
		return "number"
	case Hex:
		return "hex"
	default:
		return "bare"
	}
}

// Value is one field of an INSERT row.
type Value struct {
	Kind Kind
	// Raw is the trimmed source text of the field, quotes and introducers included.
	Raw string
	// Text is the decoded payload: unescaped string contents, number text,
	// or hex digits without the 0x / X'' wrapper.
	Text string
	// Binary is set when the literal carried the _binary introducer.
	Binary bool
}

// Row is one parenthesized tuple of a VALUES clause.
type Row []Value

var (
	numberRe     = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)
	hexDigitsRe  = regexp.MustCompile(`^[0-9a-fA-F]*$`)
	introducerRe = regexp.MustCompile(`^_([A-Za-z0-9]+)\s*(['"].*)$`)
	zeroDateRe   = regexp.MustCompile(`^0000-00-00( 00:00:00(\.0+)?)?$`)
)

// IsZeroDate reports whether v holds MySQL's zero date or datetime.
func (v Value) IsZeroDate() bool {
	return v.Kind == String && zeroDateRe.MatchString(v.Text)
}

// Bytes returns the binary payload of a hex or _binary literal, or the
// UTF-8 bytes of any other text.
func (v Value) Bytes() []byte {
	if v.Kind == Hex {
		b, err := hex.DecodeString(v.Text)
		if err != nil {
			return nil
		}
		return b
	}
	return []byte(v.Text)
}

// IsBinary reports whether the value carries raw bytes rather than text.
func (v Value) IsBinary() bool {
	return v.Kind == Hex || (v.Kind == String && v.Binary)
}

// Cell renders the value for CSV output. NULL becomes nullMarker, binary
// data becomes 0x-prefixed uppercase hex so later BLOB decoding can recover
// the exact bytes.
func (v Value) Cell(nullMarker string) string {
	switch v.Kind {
	case Null:
		return nullMarker
	case String:
		if v.Binary {
			return "0x" + strings.ToUpper(hex.EncodeToString([]byte(v.Text)))
		}
		return v.Text
	case Hex:
		return "0x" + strings.ToUpper(v.Text)
	default:
		return v.Raw
	}
}

// parseField classifies the raw text of one field.
func parseField(raw string, d Dialect) Value {
	t := strings.TrimSpace(raw)
	v := Value{Raw: t, Kind: Bare, Text: t}
	switch {
	case t == "":
		return v
	case strings.EqualFold(t, "NULL"):
		v.Kind = Null
		v.Text = ""
		return v
	case t[0] == '\'' || (t[0] == '"' && d == MySQL):
		if text, ok := unquote(t, d, false); ok {
			v.Kind = String
			v.Text = text
		}
		return v
	case d == Postgres && (t[0] == 'E' || t[0] == 'e') && len(t) > 1 && t[1] == '\'':
		if text, ok := unquote(t[1:], d, true); ok {
			v.Kind = String
			v.Text = text
		}
		return v
	case len(t) > 2 && (t[:2] == "0x" || t[:2] == "0X") && hexDigitsRe.MatchString(t[2:]):
		v.Kind = Hex
		v.Text = t[2:]
		return v
	case len(t) >= 3 && (t[0] == 'X' || t[0] == 'x') && t[1] == '\'' && t[len(t)-1] == '\'' && hexDigitsRe.MatchString(t[2:len(t)-1]):
		v.Kind = Hex
		v.Text = t[2 : len(t)-1]
		return v
	case numberRe.MatchString(t):
		v.Kind = Number
		return v
	}

	if d == MySQL {
		if m := introducerRe.FindStringSubmatch(t); m != nil {
			if text, ok := unquote(m[2], d, false); ok {
				v.Kind = String
				v.Text = text
				v.Binary = strings.EqualFold(m[1], "binary")
			}
		}
	}
	return v
}

// unquote strips the surrounding quotes of a string literal and decodes its
// escapes. It reports false when t is not a single complete literal.
func unquote(t string, d Dialect, escapes bool) (string, bool) {
	if len(t) < 2 {
		return "", false
	}
	q := t[0]
	if t[len(t)-1] != q {
		return "", false
	}
	body := t[1 : len(t)-1]
	backslash := d == MySQL || escapes

	var b strings.Builder
	b.Grow(len(body))
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case c == '\\' && backslash && i+1 < len(body):
			i++
			b.WriteString(unescapeByte(body[i]))
		case c == q:
			// Only a doubled quote may appear inside the body.
			if i+1 >= len(body) || body[i+1] != q {
				return "", false
			}
			b.WriteByte(q)
			i++
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), true
}

// Unescape decodes MySQL backslash escapes. \% and \_ keep their backslash,
// matching how MySQL treats them outside LIKE patterns.
func Unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			b.WriteString(unescapeByte(s[i]))
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func unescapeByte(c byte) string {
	switch c {
	case '0':
		return "\x00"
	case 'b':
		return "\b"
	case 'n':
		return "\n"
	case 'r':
		return "\r"
	case 't':
		return "\t"
	case 'Z':
		return "\x1a"
	case '%':
		return `\%`
	case '_':
		return `\_`
	default:
		return string(c)
	}
}
