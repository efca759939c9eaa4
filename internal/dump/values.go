package dump

import (
	"errors"
	"fmt"
	"strings"
)

// Dialect selects the string escaping rules of the input.
type Dialect int

const (
	// MySQL treats backslash as an escape inside every quoted string and
	// accepts both quote characters.
	MySQL Dialect = iota
	// Postgres honours backslash only inside E'' strings and treats only the
	// single quote as a string delimiter.
	Postgres
)

var (
	ErrUnterminatedString = errors.New("unterminated string literal")
	ErrUnbalancedParens   = errors.New("unbalanced parentheses")
	ErrNoValues           = errors.New("no value tuples")
)

// ParseError locates a tokenizer failure inside a VALUES clause.
type ParseError struct {
	Offset int
	Line   int
	Err    error
	Msg    string
}

func (e *ParseError) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Line > 0 {
		return fmt.Sprintf("line %d, offset %d: %s", e.Line, e.Offset, msg)
	}
	return fmt.Sprintf("offset %d: %s", e.Offset, msg)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseValues splits the text following VALUES of a MySQL INSERT into rows.
// A trailing semicolon is accepted.
func ParseValues(s string) ([]Row, error) {
	return ParseValuesDialect(s, MySQL)
}

// ParseValuesDialect is ParseValues with explicit escaping rules.
//
// The scan keeps three pieces of state: whether we are inside a quoted
// string (and which quote opened it), whether the previous byte was an
// escaping backslash, and the parenthesis depth. Commas at depth 1 end a
// field, the ')' that returns to depth 0 ends a row.
func ParseValuesDialect(s string, d Dialect) ([]Row, error) {
	var (
		rows      []Row
		row       Row
		field     strings.Builder
		depth     int
		quote     byte
		escapes   bool
		escaped   bool
		quoteFrom int
	)

	for i := 0; i < len(s); i++ {
		c := s[i]

		if quote != 0 {
			field.WriteByte(c)
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' && escapes {
				escaped = true
				continue
			}
			if c == quote {
				if i+1 < len(s) && s[i+1] == quote {
					field.WriteByte(s[i+1])
					i++
					continue
				}
				quote = 0
			}
			continue
		}

		switch c {
		case '\'', '"':
			if c == '"' && d == Postgres {
				field.WriteByte(c)
				continue
			}
			if depth == 0 {
				return nil, &ParseError{Offset: i, Msg: "string literal outside of a row"}
			}
			quote = c
			quoteFrom = i
			escapes = d == MySQL || prevIsE(s, i)
			field.WriteByte(c)
		case '(':
			depth++
			if depth == 1 {
				row = Row{}
				field.Reset()
				continue
			}
			field.WriteByte(c)
		case ')':
			if depth == 0 {
				return nil, &ParseError{Offset: i, Err: ErrUnbalancedParens}
			}
			depth--
			if depth == 0 {
				if f := field.String(); len(row) > 0 || strings.TrimSpace(f) != "" {
					row = append(row, parseField(f, d))
				}
				rows = append(rows, row)
				row = nil
				field.Reset()
				continue
			}
			field.WriteByte(c)
		case ',':
			switch depth {
			case 0:
				continue
			case 1:
				row = append(row, parseField(field.String(), d))
				field.Reset()
			default:
				field.WriteByte(c)
			}
		case ';':
			if depth == 0 {
				if rest := strings.TrimSpace(s[i+1:]); rest != "" {
					return nil, &ParseError{Offset: i + 1, Msg: "unexpected text after statement terminator"}
				}
				i = len(s)
				continue
			}
			field.WriteByte(c)
		default:
			if depth == 0 {
				if isSpace(c) {
					continue
				}
				return nil, &ParseError{Offset: i, Msg: fmt.Sprintf("unexpected %q between rows", c)}
			}
			field.WriteByte(c)
		}
	}

	if quote != 0 {
		return nil, &ParseError{Offset: quoteFrom, Err: ErrUnterminatedString}
	}
	if depth != 0 {
		return nil, &ParseError{Offset: len(s), Err: ErrUnbalancedParens}
	}
	if len(rows) == 0 {
		return nil, &ParseError{Offset: 0, Err: ErrNoValues}
	}
	return rows, nil
}

// prevIsE reports whether the quote at i opens a PostgreSQL E'' string.
func prevIsE(s string, i int) bool {
	if i == 0 || (s[i-1] != 'E' && s[i-1] != 'e') {
		return false
	}
	return i == 1 || !isIdentByte(s[i-2])
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// RawRow reassembles a row from the raw text of its fields.
func RawRow(r Row) string {
	parts := make([]string, len(r))
	for i, v := range r {
		parts[i] = v.Raw
	}
	return "(" + strings.Join(parts, ",") + ")"
}
