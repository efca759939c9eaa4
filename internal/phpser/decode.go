package phpser

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ErrUnsupported is returned for references and custom-serialized objects.
var ErrUnsupported = errors.New("unsupported serialized type")

// SyntaxError reports malformed input at a byte offset.
type SyntaxError struct {
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("php unserialize: offset %d: %s", e.Offset, e.Msg)
}

// Repair records a string whose declared length was wrong and was resynced
// in lenient mode.
type Repair struct {
	Offset   int
	Declared int
	Actual   int
}

// Option configures decoding.
type Option func(*decoder)

// Lenient makes the decoder tolerate string lengths that do not match the
// data. Legacy rows re-encoded between charsets carry byte counts of the
// original encoding; the decoder resyncs on the closing quote instead.
func Lenient() Option {
	return func(d *decoder) { d.lenient = true }
}

// MaxDepth limits array nesting. The default is 64.
func MaxDepth(n int) Option {
	return func(d *decoder) { d.maxDepth = n }
}

// Result is a decoded value along with the repairs lenient mode applied.
type Result struct {
	Value   any
	Repairs []Repair
}

// Unmarshal decodes a single serialized value.
func Unmarshal(data []byte, opts ...Option) (any, error) {
	res, err := Decode(data, opts...)
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

// Decode is Unmarshal that also reports lenient-mode repairs.
func Decode(data []byte, opts ...Option) (*Result, error) {
	d := &decoder{data: data, maxDepth: 64}
	for _, o := range opts {
		o(d)
	}
	v, err := d.value(0)
	if err != nil {
		return nil, err
	}
	if d.pos != len(d.data) {
		return nil, d.errorf("unexpected trailing data")
	}
	return &Result{Value: v, Repairs: d.repairs}, nil
}

type decoder struct {
	data     []byte
	pos      int
	lenient  bool
	maxDepth int
	repairs  []Repair
}

func (d *decoder) errorf(format string, args ...any) error {
	return &SyntaxError{Offset: d.pos, Msg: fmt.Sprintf(format, args...)}
}

func (d *decoder) expect(c byte) error {
	if d.pos >= len(d.data) {
		return d.errorf("expected %q, got end of input", c)
	}
	if d.data[d.pos] != c {
		return d.errorf("expected %q, got %q", c, d.data[d.pos])
	}
	d.pos++
	return nil
}

// readUntil returns the bytes up to the next occurrence of c and skips c.
func (d *decoder) readUntil(c byte) ([]byte, error) {
	i := bytes.IndexByte(d.data[d.pos:], c)
	if i < 0 {
		return nil, d.errorf("expected %q, got end of input", c)
	}
	out := d.data[d.pos : d.pos+i]
	d.pos += i + 1
	return out, nil
}

func (d *decoder) readInt(term byte) (int64, error) {
	start := d.pos
	raw, err := d.readUntil(term)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		d.pos = start
		return 0, d.errorf("invalid integer %q", raw)
	}
	return n, nil
}

func (d *decoder) value(depth int) (any, error) {
	if d.pos >= len(d.data) {
		return nil, d.errorf("unexpected end of input")
	}
	tag := d.data[d.pos]
	if tag == 'N' {
		d.pos++
		if err := d.expect(';'); err != nil {
			return nil, err
		}
		return nil, nil
	}
	switch tag {
	case 'b', 'i', 'd', 's', 'a', 'O':
	case 'r', 'R', 'C', 'S', 'E':
		return nil, fmt.Errorf("%w %q at offset %d", ErrUnsupported, tag, d.pos)
	default:
		return nil, d.errorf("unknown type %q", tag)
	}
	d.pos++
	if err := d.expect(':'); err != nil {
		return nil, err
	}

	switch tag {
	case 'b':
		n, err := d.readInt(';')
		if err != nil {
			return nil, err
		}
		if n != 0 && n != 1 {
			return nil, d.errorf("invalid boolean %d", n)
		}
		return n == 1, nil
	case 'i':
		return d.readInt(';')
	case 'd':
		return d.float()
	case 's':
		return d.str()
	case 'a':
		if depth >= d.maxDepth {
			return nil, d.errorf("nesting deeper than %d", d.maxDepth)
		}
		arr := &Array{}
		if err := d.entries(arr, depth); err != nil {
			return nil, err
		}
		return arr, nil
	default: // 'O'
		if depth >= d.maxDepth {
			return nil, d.errorf("nesting deeper than %d", d.maxDepth)
		}
		class, err := d.quoted(':')
		if err != nil {
			return nil, err
		}
		obj := &Object{Class: class}
		if err := d.entries(&obj.Array, depth); err != nil {
			return nil, err
		}
		return obj, nil
	}
}

func (d *decoder) float() (float64, error) {
	start := d.pos
	raw, err := d.readUntil(';')
	if err != nil {
		return 0, err
	}
	switch string(raw) {
	case "INF":
		return math.Inf(1), nil
	case "-INF":
		return math.Inf(-1), nil
	case "NAN":
		return math.NaN(), nil
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		d.pos = start
		return 0, d.errorf("invalid float %q", raw)
	}
	return f, nil
}

// str reads `len:"bytes";` after the s: tag.
func (d *decoder) str() (string, error) {
	return d.quoted(';')
}

// quoted reads `len:"bytes"` followed by term.
func (d *decoder) quoted(term byte) (string, error) {
	n, err := d.readInt(':')
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", d.errorf("negative string length %d", n)
	}
	if err := d.expect('"'); err != nil {
		return "", err
	}
	start := d.pos
	end := start + int(n)
	if end+1 < len(d.data) && end >= start && d.data[end] == '"' && d.data[end+1] == term {
		d.pos = end + 2
		return string(d.data[start:end]), nil
	}
	if !d.lenient {
		return "", d.errorf("string length %d does not match data", n)
	}

	actual := d.resync(start, term)
	if actual < 0 {
		return "", d.errorf("string length %d does not match data and no closing quote was found", n)
	}
	d.repairs = append(d.repairs, Repair{Offset: start, Declared: int(n), Actual: actual - start})
	d.pos = actual + 2
	return string(d.data[start:actual]), nil
}

// resync finds the closing quote of a string starting at start: a `"` followed
// by term and then something that can legally follow a value.
func (d *decoder) resync(start int, term byte) int {
	for i := start; i+1 < len(d.data); i++ {
		if d.data[i] != '"' || d.data[i+1] != term {
			continue
		}
		next := i + 2
		if term == ':' || next == len(d.data) || plausibleNext(d.data[next:]) {
			return i
		}
	}
	return -1
}

func plausibleNext(b []byte) bool {
	if b[0] == '}' {
		return true
	}
	if len(b) >= 2 && b[1] == ':' {
		switch b[0] {
		case 'b', 'i', 'd', 's', 'a', 'O':
			return true
		}
	}
	return len(b) >= 2 && b[0] == 'N' && b[1] == ';'
}

func (d *decoder) entries(arr *Array, depth int) error {
	n, err := d.readInt(':')
	if err != nil {
		return err
	}
	if n < 0 {
		return d.errorf("negative element count %d", n)
	}
	if err := d.expect('{'); err != nil {
		return err
	}
	if n < 1<<16 {
		arr.Entries = make([]Entry, 0, n)
	}
	for i := int64(0); i < n; i++ {
		keyPos := d.pos
		k, err := d.value(depth + 1)
		if err != nil {
			return err
		}
		switch k.(type) {
		case int64, string:
		default:
			d.pos = keyPos
			return d.errorf("invalid array key of type %T", k)
		}
		v, err := d.value(depth + 1)
		if err != nil {
			return err
		}
		arr.Entries = append(arr.Entries, Entry{Key: k, Value: v})
	}
	return d.expect('}')
}
