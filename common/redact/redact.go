// Package redact keeps credentials out of log output.
//
// The Matrix access token and the completion API key are the secrets Kaiwa
// handles. Both are registered with ReplaceAttr when logging is set up, so a
// token that ends up inside an error string is masked before it is written.
// Redaction is best effort and does not excuse logging secrets directly.
package redact

import (
	"log/slog"
	"strings"
)

const placeholder = "[REDACTED]"

// minSecretLen avoids masking short, common substrings.
const minSecretLen = 4

// String replaces every occurrence of each secret in s with [REDACTED].
// Secrets shorter than four characters are ignored.
func String(s string, secrets ...string) string {
	for _, v := range secrets {
		if len(v) < minSecretLen {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// sensitiveKey reports whether an attribute key names a credential.
func sensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, word := range []string{"password", "token", "secret", "api_key", "apikey", "credential", "authorization"} {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

// ReplaceAttr returns a slog.HandlerOptions.ReplaceAttr function that masks
// attributes whose key names a credential and scrubs the given secrets from
// string and error values.
func ReplaceAttr(secrets ...string) func(groups []string, a slog.Attr) slog.Attr {
	var live []string
	for _, s := range secrets {
		if len(s) >= minSecretLen {
			live = append(live, s)
		}
	}
	return func(_ []string, a slog.Attr) slog.Attr {
		if sensitiveKey(a.Key) {
			if a.Value.Kind() == slog.KindString && a.Value.String() == "" {
				return a
			}
			return slog.String(a.Key, placeholder)
		}
		if len(live) == 0 {
			return a
		}
		switch a.Value.Kind() {
		case slog.KindString:
			return slog.String(a.Key, String(a.Value.String(), live...))
		case slog.KindAny:
			if err, ok := a.Value.Any().(error); ok {
				return slog.String(a.Key, String(err.Error(), live...))
			}
		}
		return a
	}
}
