package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces sensitive values in log output.
const RedactedValue = "[REDACTED]"

// safeKeys may be logged verbatim. Anything else passed through MaskField is
// treated as a credential.
var safeKeys = map[string]struct{}{
	"module":    {},
	"method":    {},
	"operation": {},
	"scope":     {},
	"subject":   {},
	"client":    {},
	"error":     {},
	"reason":    {},
}

// IsSafeKey reports whether key may be logged without masking.
func IsSafeKey(key string) bool {
	_, ok := safeKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskField returns an attribute whose value is redacted unless the key is
// known to be safe. Empty values pass through so missing credentials stay
// distinguishable from present ones.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsSafeKey(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}
