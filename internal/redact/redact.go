// Package redact keeps credentials out of logs, ledger rows and reports.
package redact

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// Mask replaces a password in a DSN. It matches what url.URL.Redacted writes.
const Mask = "xxxxx"

var kvPasswordRe = regexp.MustCompile(`(?i)(\bpassword\s*=\s*)('(?:[^'\\]|\\.)*'|\S+)`)

// DSN masks the password of a PostgreSQL URL, a libpq keyword/value string
// or a go-sql-driver/mysql DSN. Unrecognized input is returned unchanged.
func DSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	if strings.Contains(dsn, "://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return dsn
		}
		return u.Redacted()
	}
	if kvPasswordRe.MatchString(dsn) {
		return kvPasswordRe.ReplaceAllString(dsn, "${1}"+Mask)
	}
	if cfg, err := mysql.ParseDSN(dsn); err == nil && cfg.Passwd != "" {
		cfg.Passwd = Mask
		return cfg.FormatDSN()
	}
	return dsn
}

// Filter scans text for known secret values and replaces them with
// [REDACTED:NAME] placeholders.
type Filter struct {
	replacements map[string]string // secret value -> "[REDACTED:NAME]"
}

// secretSuffixes mark environment variables whose values are credentials.
var secretSuffixes = []string{"_PASSWORD", "_KEY", "_TOKEN", "_SECRET"}

// NewFilter builds a Filter by scanning os.Environ() for variables ending in
// _PASSWORD, _KEY, _TOKEN or _SECRET. Values shorter than 4 characters are
// reported to warn because they risk false-positive redaction.
func NewFilter(warn io.Writer) *Filter {
	secrets := make(map[string]string)
	for _, env := range os.Environ() {
		name, value, ok := strings.Cut(env, "=")
		if !ok || value == "" || !isSecretName(name) {
			continue
		}
		if len(value) < 4 && warn != nil {
			fmt.Fprintf(warn, "warning: %s value is shorter than 4 characters; false-positive redaction risk\n", name)
		}
		secrets[name] = value
	}
	return New(secrets)
}

func isSecretName(name string) bool {
	upper := strings.ToUpper(name)
	for _, suffix := range secretSuffixes {
		if strings.HasSuffix(upper, suffix) {
			return true
		}
	}
	return false
}

// New builds a Filter from name -> value pairs.
func New(secrets map[string]string) *Filter {
	f := &Filter{replacements: make(map[string]string)}
	for name, value := range secrets {
		if value == "" {
			continue
		}
		f.replacements[value] = "[REDACTED:" + name + "]"
		if encoded := url.QueryEscape(value); encoded != value {
			f.replacements[encoded] = "[REDACTED:" + name + ":urlencoded]"
		}
	}
	return f
}

// Redact replaces all known secret values in input. A nil or empty Filter
// passes input through.
func (f *Filter) Redact(input string) string {
	if f == nil || len(f.replacements) == 0 {
		return input
	}
	result := input
	for value, placeholder := range f.replacements {
		result = strings.ReplaceAll(result, value, placeholder)
	}
	return result
}
