package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces secrets in log output.
const RedactedValue = "[REDACTED]"

// sensitiveKeys are masked wherever they appear, including nested groups.
var sensitiveKeys = map[string]struct{}{
	"authorization": {},
	"signature":     {},
	"x-signature":   {},
	"jwt_secret":    {},
	"jwtsecret":     {},
	"passphrase":    {},
	"private_key":   {},
	"dsn":           {},
	"journal_dsn":   {},
	"bearer":        {},
	"admin_token":   {},
	"keystore_pass": {},
}

// IsSensitive reports whether values logged under key are masked.
func IsSensitive(key string) bool {
	_, ok := sensitiveKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskValue returns RedactedValue for non-empty values.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField logs key with its value masked. Use it for request material
// whose key is not itself in the sensitive set.
func MaskField(key, value string) slog.Attr {
	return slog.String(key, MaskValue(value))
}

// redactAttr masks string values logged under a sensitive key. It runs inside
// the handler's ReplaceAttr so callers cannot leak a secret by accident.
func redactAttr(attr slog.Attr) slog.Attr {
	if !IsSensitive(attr.Key) {
		return attr
	}
	if attr.Value.Kind() == slog.KindGroup {
		return attr
	}
	return slog.String(attr.Key, MaskValue(attr.Value.String()))
}
