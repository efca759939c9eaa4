package dump

import (
	"fmt"
	"regexp"
	"strings"
)

// ColumnDef is one column of a CREATE TABLE statement.
type ColumnDef struct {
	Name string
	// Type is the base type with its parenthesized arguments, lowercased,
	// e.g. "varchar(125)" or "enum('y','n')".
	Type          string
	Unsigned      bool
	Nullable      bool
	AutoIncrement bool
	// Default is the raw DEFAULT expression, empty when absent.
	Default string
}

// CreateTable is the parsed shape of a CREATE TABLE statement.
type CreateTable struct {
	Schema     string
	Name       string
	Columns    []ColumnDef
	PrimaryKey []string
}

// ColumnNames returns the column names in declaration order.
func (ct *CreateTable) ColumnNames() []string {
	names := make([]string, len(ct.Columns))
	for i, c := range ct.Columns {
		names[i] = c.Name
	}
	return names
}

var (
	createNameRe = regexp.MustCompile("(?is)^CREATE\\s+(?:TEMPORARY\\s+)?TABLE\\s+(?:IF\\s+NOT\\s+EXISTS\\s+)?" +
		"((?:`[^`]+`|\"[^\"]+\"|[\\w$]+)(?:\\.(?:`[^`]+`|\"[^\"]+\"|[\\w$]+))?)\\s*\\(")
	defaultRe   = regexp.MustCompile(`(?i)\bDEFAULT\s+('(?:[^'\\]|\\.|'')*'|\([^)]*\)|\S+)`)
	pkListRe    = regexp.MustCompile(`(?is)^PRIMARY\s+KEY\s*(?:\w+\s*)?\(([^)]*)\)`)
	notNullRe   = regexp.MustCompile(`(?i)\bNOT\s+NULL\b`)
	inlinePKRe  = regexp.MustCompile(`(?i)\bPRIMARY\s+KEY\b`)
	autoIncRe   = regexp.MustCompile(`(?i)\bAUTO_INCREMENT\b`)
	unsignedRe  = regexp.MustCompile(`(?i)\bUNSIGNED\b`)
	indexWordRe = regexp.MustCompile(`(?i)^(PRIMARY|KEY|UNIQUE|INDEX|CONSTRAINT|FULLTEXT|SPATIAL|FOREIGN|CHECK)\b`)
)

// ParseCreateTable extracts the columns and primary key of a CREATE TABLE
// statement. Secondary keys, constraints and table options are ignored.
func ParseCreateTable(sql string) (*CreateTable, error) {
	m := createNameRe.FindStringSubmatchIndex(sql)
	if m == nil {
		return nil, fmt.Errorf("not a CREATE TABLE statement")
	}
	ct := &CreateTable{}
	ct.Schema, ct.Name = splitQualified(sql[m[2]:m[3]])

	open := m[1] - 1
	body, ok := enclosed(sql, open)
	if !ok {
		return nil, fmt.Errorf("create table %s: %w", ct.Name, ErrUnbalancedParens)
	}

	for _, item := range splitTopLevel(body) {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if pk := pkListRe.FindStringSubmatch(item); pk != nil {
			for _, c := range splitColumnList(pk[1]) {
				// Prefix lengths such as `name`(20) are dropped.
				if i := strings.IndexByte(c, '('); i > 0 {
					c = strings.TrimSpace(c[:i])
				}
				ct.PrimaryKey = append(ct.PrimaryKey, unquoteIdent(c))
			}
			continue
		}
		if item[0] != '`' && item[0] != '"' && indexWordRe.MatchString(item) {
			continue
		}
		col, err := parseColumn(item)
		if err != nil {
			return nil, fmt.Errorf("create table %s: %w", ct.Name, err)
		}
		if inlinePKRe.MatchString(item) {
			ct.PrimaryKey = append(ct.PrimaryKey, col.Name)
		}
		ct.Columns = append(ct.Columns, col)
	}
	if len(ct.Columns) == 0 {
		return nil, fmt.Errorf("create table %s: no columns", ct.Name)
	}
	return ct, nil
}

func parseColumn(item string) (ColumnDef, error) {
	name, rest := leadingIdent(item)
	if name == "" {
		return ColumnDef{}, fmt.Errorf("cannot read column name in %q", item)
	}
	rest = strings.TrimSpace(rest)

	// The type is a word optionally followed by a parenthesized argument list.
	end := 0
	for end < len(rest) && isIdentByte(rest[end]) {
		end++
	}
	typ := rest[:end]
	after := rest[end:]
	if strings.HasPrefix(strings.TrimLeft(after, " "), "(") {
		trimmed := strings.TrimLeft(after, " ")
		args, ok := enclosed(trimmed, 0)
		if !ok {
			return ColumnDef{}, fmt.Errorf("column %s: %w", name, ErrUnbalancedParens)
		}
		typ += "(" + args + ")"
		after = trimmed[len(args)+2:]
	}
	if typ == "" {
		return ColumnDef{}, fmt.Errorf("column %s: missing type", name)
	}

	col := ColumnDef{
		Name:          name,
		Type:          lowerOutsideQuotes(typ),
		Unsigned:      unsignedRe.MatchString(after),
		Nullable:      !notNullRe.MatchString(after) && !inlinePKRe.MatchString(after),
		AutoIncrement: autoIncRe.MatchString(after),
	}
	if d := defaultRe.FindStringSubmatch(after); d != nil {
		col.Default = strings.TrimRight(d[1], ",")
	}
	return col, nil
}

func leadingIdent(s string) (string, string) {
	if s == "" {
		return "", ""
	}
	if q := s[0]; q == '`' || q == '"' {
		for i := 1; i < len(s); i++ {
			if s[i] == q {
				if i+1 < len(s) && s[i+1] == q {
					i++
					continue
				}
				return unquoteIdent(s[:i+1]), s[i+1:]
			}
		}
		return "", ""
	}
	i := 0
	for i < len(s) && isIdentByte(s[i]) {
		i++
	}
	return s[:i], s[i:]
}

// enclosed returns the text between the '(' at open and its matching ')'.
func enclosed(s string, open int) (string, bool) {
	if open >= len(s) || s[open] != '(' {
		return "", false
	}
	depth := 0
	var quote byte
	for i := open; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' && quote != '`' {
				i++
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return s[open+1 : i], true
			}
		}
	}
	return "", false
}

// splitTopLevel splits a definition list on commas outside parentheses and quotes.
func splitTopLevel(s string) []string {
	var parts []string
	depth := 0
	var quote byte
	last := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' && quote != '`' {
				i++
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[last:i])
				last = i + 1
			}
		}
	}
	return append(parts, s[last:])
}

func lowerOutsideQuotes(s string) string {
	var b strings.Builder
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c >= 'A' && c <= 'Z':
			c += 'a' - 'A'
		}
		b.WriteByte(c)
	}
	return b.String()
}
