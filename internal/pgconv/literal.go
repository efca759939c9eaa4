// Package pgconv rewrites MySQL dump data as PostgreSQL statements.
package pgconv

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/joestump/menuca-migrate/internal/dump"
)

// Literal renders v as a PostgreSQL literal.
func Literal(v dump.Value) string {
	switch v.Kind {
	case dump.Null:
		return "NULL"
	case dump.Hex:
		return "'\\x" + strings.ToLower(v.Text) + "'::bytea"
	case dump.String:
		if v.Binary {
			return "'\\x" + hex.EncodeToString([]byte(v.Text)) + "'::bytea"
		}
		if v.IsZeroDate() {
			return "NULL"
		}
		return StringLiteral(v.Text)
	case dump.Number:
		return v.Raw
	default:
		if v.Raw == "" {
			return "NULL"
		}
		return v.Raw
	}
}

// StringLiteral quotes s for PostgreSQL. NUL bytes are dropped because text
// columns cannot store them. Strings with other control characters are
// written as E'' literals.
func StringLiteral(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	if !hasControl(s) {
		return "'" + strings.ReplaceAll(s, "'", "''") + "'"
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	b.WriteString("E'")
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString("''")
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if c < 0x20 || c == 0x7f {
				fmt.Fprintf(&b, `\x%02x`, c)
				continue
			}
			b.WriteByte(c)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

func hasControl(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] == 0x7f {
			return true
		}
	}
	return false
}

// QuoteIdent lowercases name and quotes it as a PostgreSQL identifier.
func QuoteIdent(name string) string {
	return quoteIdent(strings.ToLower(name))
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QualifiedName quotes schema.table. An empty schema yields just the table.
func QualifiedName(schema, table string) string {
	if schema == "" {
		return QuoteIdent(table)
	}
	return QuoteIdent(schema) + "." + QuoteIdent(table)
}

// ParseTarget splits "schema.table" into its parts.
func ParseTarget(target, defaultSchema string) (string, string) {
	if i := strings.IndexByte(target, '.'); i >= 0 {
		return target[:i], target[i+1:]
	}
	return defaultSchema, target
}

func columnList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = QuoteIdent(c)
	}
	return "(" + strings.Join(quoted, ", ") + ")"
}
