package pgconv

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/joestump/menuca-migrate/internal/csvio"
	"github.com/joestump/menuca-migrate/internal/dump"
)

var typeArgsRe = regexp.MustCompile(`^([a-z ]+?)\s*(?:\(([^)]*)\))?$`)

// PostgresType maps a MySQL column type to its PostgreSQL equivalent.
func PostgresType(col dump.ColumnDef) string {
	base, args := col.Type, ""
	if m := typeArgsRe.FindStringSubmatch(col.Type); m != nil {
		base, args = strings.TrimSpace(m[1]), m[2]
	}
	switch base {
	case "tinyint":
		return "smallint"
	case "smallint":
		if col.Unsigned {
			return "integer"
		}
		return "smallint"
	case "mediumint":
		return "integer"
	case "int", "integer":
		if col.Unsigned {
			return "bigint"
		}
		return "integer"
	case "bigint":
		if col.Unsigned {
			return "numeric(20)"
		}
		return "bigint"
	case "decimal", "numeric", "dec", "fixed":
		if args != "" {
			return "numeric(" + strings.ReplaceAll(args, " ", "") + ")"
		}
		return "numeric"
	case "double", "double precision", "real":
		return "double precision"
	case "float":
		return "real"
	case "char":
		if args != "" {
			return "char(" + args + ")"
		}
		return "char(1)"
	case "varchar":
		if args != "" {
			return "varchar(" + args + ")"
		}
		return "text"
	case "tinytext", "text", "mediumtext", "longtext", "enum", "set":
		return "text"
	case "tinyblob", "blob", "mediumblob", "longblob", "binary", "varbinary":
		return "bytea"
	case "datetime", "timestamp":
		return "timestamp"
	case "date":
		return "date"
	case "time":
		return "time"
	case "year":
		return "smallint"
	case "bit":
		if args == "" || args == "1" {
			return "boolean"
		}
		return "bit(" + args + ")"
	case "json":
		return "jsonb"
	default:
		return "text"
	}
}

// TableDDL renders a PostgreSQL CREATE TABLE for ct in schema. AUTO_INCREMENT,
// UNSIGNED and MySQL column options are dropped; NOT NULL, simple defaults
// and the primary key are kept. Date and time columns outside the primary key
// are always nullable: Literal turns MySQL zero dates into NULL.
func TableDDL(ct *dump.CreateTable, schema string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", QualifiedName(schema, ct.Name))
	lines := make([]string, 0, len(ct.Columns)+1)
	for _, col := range ct.Columns {
		typ := PostgresType(col)
		line := "    " + QuoteIdent(col.Name) + " " + typ
		if !col.Nullable && (!zeroDateType(typ) || inList(ct.PrimaryKey, col.Name)) {
			line += " NOT NULL"
		}
		if d := pgDefault(col.Default, typ); d != "" {
			line += " DEFAULT " + d
		}
		lines = append(lines, line)
	}
	if len(ct.PrimaryKey) > 0 {
		lines = append(lines, "    PRIMARY KEY "+columnList(ct.PrimaryKey))
	}
	b.WriteString(strings.Join(lines, ",\n"))
	b.WriteString("\n);\n")
	return b.String()
}

// zeroDateType reports whether MySQL may store a zero date in a column of
// the PostgreSQL type typ.
func zeroDateType(typ string) bool {
	return typ == "date" || typ == "timestamp"
}

func inList(list []string, name string) bool {
	for _, n := range list {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}

var numericDefaultRe = regexp.MustCompile(`^[+-]?\d+(\.\d+)?$`)

func pgDefault(def, typ string) string {
	switch {
	case def == "" || strings.EqualFold(def, "NULL"):
		return ""
	case typ == "bytea":
		return ""
	case strings.HasPrefix(strings.ToUpper(def), "CURRENT_TIMESTAMP"):
		return "CURRENT_TIMESTAMP"
	case numericDefaultRe.MatchString(def):
		return def
	case len(def) >= 2 && def[0] == '\'' && def[len(def)-1] == '\'':
		text := dump.Unescape(strings.ReplaceAll(def[1:len(def)-1], "''", "'"))
		if strings.HasPrefix(text, "0000-00-00") {
			return ""
		}
		if typ == "boolean" {
			return ""
		}
		return StringLiteral(text)
	default:
		return ""
	}
}

// StagingVarcharLimit is the VARCHAR length of staging columns; longer data
// gets TEXT.
const StagingVarcharLimit = 500

// longTextColumns get TEXT in staging tables whatever their data.
var longTextColumns = map[string]bool{
	"description": true,
	"ingredients": true,
	"desc":        true,
	"items":       true,
}

// StagingColumnType is the column type used for a CSV header in a staging
// table whose longest value is maxLen characters. Pass 0 when the data was
// not measured.
func StagingColumnType(header string, maxLen int) string {
	h := strings.ToLower(strings.TrimSpace(header))
	if longTextColumns[h] || strings.HasSuffix(h, "_hex") || strings.HasSuffix(h, "_json") || strings.HasSuffix(h, "blob") {
		return "TEXT"
	}
	if maxLen > StagingVarcharLimit {
		return "TEXT"
	}
	return "VARCHAR(500)"
}

// MeasureCSV reads the remaining rows of r and returns the longest value of
// each header column, in characters. Extra fields of over-wide rows are
// ignored.
func MeasureCSV(r *csvio.Reader) ([]int, error) {
	widths := make([]int, len(r.Header()))
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return widths, nil
		}
		if err != nil && !errors.Is(err, csvio.ErrWidth) {
			return widths, fmt.Errorf("measure csv: %w", err)
		}
		for i, f := range rec.Fields {
			if i >= len(widths) {
				break
			}
			if n := utf8.RuneCountInString(f); n > widths[i] {
				widths[i] = n
			}
		}
	}
}

// StagingDDL renders the DROP/CREATE statements of a text-only staging table
// whose columns mirror the CSV headers. maxLen holds the measured width of
// each column and may be nil.
func StagingDDL(table string, headers []string, maxLen []int, schema string) string {
	name := QualifiedName(schema, table)
	var b strings.Builder
	fmt.Fprintf(&b, "-- Create staging table for %s\n", table)
	fmt.Fprintf(&b, "DROP TABLE IF EXISTS %s CASCADE;\n\n", name)
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", name)
	cols := make([]string, len(headers))
	hasID := false
	for i, h := range headers {
		if strings.EqualFold(strings.TrimSpace(h), "id") {
			hasID = true
		}
		width := 0
		if i < len(maxLen) {
			width = maxLen[i]
		}
		cols[i] = "  " + QuoteIdent(strings.TrimSpace(h)) + " " + StagingColumnType(h, width)
	}
	b.WriteString(strings.Join(cols, ",\n"))
	b.WriteString("\n);\n\n")
	fmt.Fprintf(&b, "COMMENT ON TABLE %s IS %s;\n", name, StringLiteral("Staging table for "+table+" - imported from CSV"))
	if hasID {
		index := QuoteIdent("idx_" + table + "_id")
		fmt.Fprintf(&b, "\nCREATE INDEX %s ON %s (\"id\");\n", index, name)
	}
	return b.String()
}
