// Package redact strips sensitive values from log output before it leaves
// the process boundary.
//
// Completion API keys and database passwords must never appear in log lines
// or HTTP error bodies. Redaction is best-effort: it operates on string
// representations and relies on callers to pass the right set of sensitive
// terms.
package redact

import (
	"net/url"
	"strings"
)

const placeholder = "[REDACTED]"

// String replaces every occurrence of each sensitive value in s with
// [REDACTED].  Values shorter than 4 characters are skipped to avoid
// spurious redaction of common substrings.
//
// Example:
//
//	safe := redact.String(err.Error(), cfg.Completion.APIKey)
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// DSN masks the password of a connection URL such as
// postgres://user:pw@host/db. Strings that do not parse as URLs with user
// info are returned unchanged.
func DSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); !ok {
		return dsn
	}
	u.User = url.UserPassword(u.User.Username(), placeholder)
	return strings.Replace(u.String(), url.QueryEscape(placeholder), placeholder, 1)
}
