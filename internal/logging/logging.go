package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New returns a structured logger at info level with secret redaction.
func New() *slog.Logger {
	return NewWithOptions("info", "text", os.Stdout)
}

// NewWithLevel returns a text logger writing to stdout at the given level.
func NewWithLevel(level string) *slog.Logger {
	return NewWithOptions(level, "text", os.Stdout)
}

// NewWithOptions builds a logger for the given level and format ("text" or "json").
// Attributes whose key looks like a credential are always redacted.
func NewWithOptions(level, format string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{
		Level:       ParseLevel(level),
		ReplaceAttr: redact,
	}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if isSecretKey(a.Key) {
		a.Value = slog.StringValue("[redacted]")
	}
	return a
}

var secretWords = map[string]bool{
	"token":         true,
	"secret":        true,
	"key":           true,
	"apikey":        true,
	"pass":          true,
	"passwd":        true,
	"password":      true,
	"signature":     true,
	"authorization": true,
	"dsn":           true,
}

// isSecretKey matches credential words as whole parts of the key, so
// "api_token" and "signing_secret" are redacted while identifiers such as
// "token_id" and "event_key" are not.
func isSecretKey(k string) bool {
	k = strings.ToLower(k)
	if k == "event_key" {
		return false
	}
	parts := strings.FieldsFunc(k, func(r rune) bool { return r == '_' || r == '-' || r == '.' })
	if n := len(parts); n > 1 && (parts[n-1] == "id" || parts[n-1] == "ids") {
		return false
	}
	for _, p := range parts {
		if secretWords[p] {
			return true
		}
	}
	return false
}
