package dump

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// StatementKind classifies a statement produced by Scanner.
type StatementKind int

const (
	Other StatementKind = iota
	CreateTableStmt
	Insert
)

// Statement is one semicolon-terminated statement of a dump.
type Statement struct {
	Kind StatementKind
	// Table is the unquoted table name, without schema.
	Table string
	// Schema is the qualifier in front of the table name, when present.
	Schema string
	// Columns is the explicit column list of an INSERT, if any.
	Columns []string
	Rows    []Row
	Create  *CreateTable
	SQL     string
	// Line is the 1-based line on which the statement starts.
	Line int
	// Err is set when an INSERT or CREATE TABLE could not be parsed. The
	// scanner keeps going so callers can count and skip the statement.
	Err error
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithDialect sets the quoting rules used for the input. The default is MySQL.
func WithDialect(d Dialect) Option {
	return func(s *Scanner) { s.dialect = d }
}

// KeepSQL retains the text of INSERT statements in Statement.SQL. Other
// statements always keep their text.
func KeepSQL() Option {
	return func(s *Scanner) { s.keepSQL = true }
}

// Scanner splits a dump into statements. It understands quoted strings,
// backslash escapes, -- and # line comments and /* */ block comments.
// MySQL conditional comments (/*! ... */) are kept in the statement text.
type Scanner struct {
	r       *bufio.Reader
	dialect Dialect
	keepSQL bool

	line int
	stmt Statement
	err  error
	done bool
}

// NewScanner returns a Scanner reading from r.
func NewScanner(r io.Reader, opts ...Option) *Scanner {
	s := &Scanner{r: bufio.NewReaderSize(r, 1<<20), line: 1}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Statement returns the statement produced by the last call to Next.
func (s *Scanner) Statement() Statement { return s.stmt }

// Err returns the first read error encountered, if any.
func (s *Scanner) Err() error { return s.err }

// Next advances to the next statement. It returns false at end of input or
// on a read error.
func (s *Scanner) Next() bool {
	if s.done {
		return false
	}
	text, line, err := s.readStatement()
	if err != nil && !errors.Is(err, io.EOF) {
		s.err = err
		s.done = true
		return false
	}
	if errors.Is(err, io.EOF) {
		s.done = true
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	s.stmt = s.classify(text, line)
	return true
}

func (s *Scanner) readStatement() (string, int, error) {
	var (
		buf     bytes.Buffer
		quote   byte
		escapes bool
		escaped bool
		start   = 0
	)

	for {
		c, err := s.r.ReadByte()
		if err != nil {
			// A truncated dump ends inside a string; the text is still
			// returned so the INSERT surfaces with a parse error.
			return buf.String(), start, err
		}
		if c == '\n' {
			s.line++
		}

		if quote != 0 {
			buf.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\' && escapes:
				escaped = true
			case c == quote:
				quote = 0
			}
			continue
		}

		switch c {
		case '\'', '"', '`':
			if c == '"' && s.dialect == Postgres {
				// Quoted identifier: no escapes, doubled quote handled by re-entry.
				quote = c
				escapes = false
			} else {
				quote = c
				escapes = c != '`' && (s.dialect == MySQL || prevByteIsE(buf.Bytes()))
			}
			if start == 0 {
				start = s.line
			}
			buf.WriteByte(c)
		case '-':
			next, _ := s.r.Peek(2)
			if len(next) >= 1 && next[0] == '-' && (len(next) < 2 || isSpace(next[1])) {
				s.skipLine()
				buf.WriteByte('\n')
				continue
			}
			if start == 0 {
				start = s.line
			}
			buf.WriteByte(c)
		case '#':
			if s.dialect == MySQL {
				s.skipLine()
				buf.WriteByte('\n')
				continue
			}
			buf.WriteByte(c)
		case '/':
			next, _ := s.r.Peek(2)
			if len(next) >= 1 && next[0] == '*' {
				conditional := len(next) == 2 && next[1] == '!'
				body, err := s.readBlockComment()
				if err != nil {
					return buf.String(), start, err
				}
				if conditional {
					if start == 0 {
						start = s.line
					}
					buf.WriteString("/*")
					buf.WriteString(body)
					buf.WriteString("*/")
				} else {
					buf.WriteByte(' ')
				}
				continue
			}
			buf.WriteByte(c)
		case ';':
			buf.WriteByte(c)
			return buf.String(), start, nil
		default:
			if start == 0 && !isSpace(c) {
				start = s.line
			}
			buf.WriteByte(c)
		}
	}
}

func prevByteIsE(b []byte) bool {
	n := len(b)
	if n == 0 || (b[n-1] != 'E' && b[n-1] != 'e') {
		return false
	}
	return n == 1 || !isIdentByte(b[n-2])
}

func (s *Scanner) skipLine() {
	for {
		c, err := s.r.ReadByte()
		if err != nil {
			return
		}
		if c == '\n' {
			s.line++
			return
		}
	}
}

// readBlockComment consumes "*...*/" after the opening slash and returns the
// text between the delimiters.
func (s *Scanner) readBlockComment() (string, error) {
	if _, err := s.r.ReadByte(); err != nil { // '*'
		return "", err
	}
	var body bytes.Buffer
	var prev byte
	for {
		c, err := s.r.ReadByte()
		if err != nil {
			return body.String(), fmt.Errorf("unterminated block comment: %w", err)
		}
		if c == '\n' {
			s.line++
		}
		if prev == '*' && c == '/' {
			b := body.Bytes()
			return string(b[:len(b)-1]), nil
		}
		body.WriteByte(c)
		prev = c
	}
}

var insertRe = regexp.MustCompile(
	"(?is)^(?:INSERT|REPLACE)\\s+(?:(?:LOW_PRIORITY|DELAYED|HIGH_PRIORITY|IGNORE)\\s+)*(?:INTO\\s+)?" +
		"((?:`[^`]+`|\"[^\"]+\"|[\\w$]+)(?:\\.(?:`[^`]+`|\"[^\"]+\"|[\\w$]+))?)" +
		"\\s*(?:\\(([^)]*)\\))?\\s*VALUES?\\s*")

var createRe = regexp.MustCompile(`(?is)^CREATE\s+(?:TEMPORARY\s+)?TABLE\s`)

func (s *Scanner) classify(text string, line int) Statement {
	st := Statement{Kind: Other, SQL: text, Line: line}

	switch {
	case insertRe.MatchString(text):
		m := insertRe.FindStringSubmatchIndex(text)
		st.Kind = Insert
		st.Schema, st.Table = splitQualified(text[m[2]:m[3]])
		if m[4] >= 0 {
			st.Columns = splitColumnList(text[m[4]:m[5]])
		}
		rows, err := ParseValuesDialect(text[m[1]:], s.dialect)
		if err != nil {
			var pe *ParseError
			if errors.As(err, &pe) {
				pe.Line = line
			}
			st.Err = err
		}
		st.Rows = rows
		if !s.keepSQL {
			st.SQL = ""
		}
	case createRe.MatchString(text):
		st.Kind = CreateTableStmt
		ct, err := ParseCreateTable(text)
		if err != nil {
			st.Err = err
			break
		}
		st.Create = ct
		st.Table = ct.Name
		st.Schema = ct.Schema
	}
	return st
}

// splitQualified splits "schema.table" into its unquoted parts.
func splitQualified(name string) (string, string) {
	parts := splitOutsideQuotes(name, '.')
	if len(parts) == 2 {
		return unquoteIdent(parts[0]), unquoteIdent(parts[1])
	}
	return "", unquoteIdent(name)
}

func splitColumnList(list string) []string {
	parts := splitOutsideQuotes(list, ',')
	cols := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			cols = append(cols, unquoteIdent(p))
		}
	}
	return cols
}

func splitOutsideQuotes(s string, sep byte) []string {
	var parts []string
	var quote byte
	last := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '`' || c == '"':
			quote = c
		case c == sep:
			parts = append(parts, s[last:i])
			last = i + 1
		}
	}
	return append(parts, s[last:])
}

func unquoteIdent(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '`' || s[0] == '"') && s[len(s)-1] == s[0] {
		q := string(s[0])
		return strings.ReplaceAll(s[1:len(s)-1], q+q, q)
	}
	return s
}
