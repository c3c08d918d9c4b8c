// logger.go - Structured logging helpers

package common

import (
	"context"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
)

// MaxPreviewLength caps any raw payload written to logs or errors.
const MaxPreviewLength = 500

type contextKey string

const contextKeyRequestID contextKey = "request_id"

// NewLogger builds a slog logger. level: debug, info, warn, error. format: json or text.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}

	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(format) == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// WithRequestID adds a correlation id to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, requestID)
}

// RequestIDFromContext extracts the correlation id from context
func RequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(contextKeyRequestID).(string); ok {
		return requestID
	}
	return ""
}

// Preview caps s at MaxPreviewLength bytes without splitting a UTF-8 sequence.
func Preview(s string) string {
	if len(s) <= MaxPreviewLength {
		return s
	}
	cut := MaxPreviewLength
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "... (truncated)"
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// Redactor masks known credentials in diagnostic text. It is immutable once built; the
// zero value and nil only mask key query parameters.
type Redactor struct {
	secrets []string
}

// NewRedactor builds a Redactor for the given credentials. Values shorter than four
// characters are ignored.
func NewRedactor(secrets ...string) *Redactor {
	return (*Redactor)(nil).With(secrets...)
}

// With returns a new Redactor that also masks secrets.
func (r *Redactor) With(secrets ...string) *Redactor {
	out := &Redactor{}
	if r != nil {
		out.secrets = slices.Clone(r.secrets)
	}
	for _, secret := range secrets {
		if len(secret) < 4 || slices.Contains(out.secrets, secret) {
			continue
		}
		out.secrets = append(out.secrets, secret)
	}
	return out
}

// Redact replaces the credentials and well-known key parameters in s.
func (r *Redactor) Redact(s string) string {
	if r != nil {
		for _, secret := range r.secrets {
			s = strings.ReplaceAll(s, secret, "[REDACTED]")
		}
	}
	return redactQueryKey(s)
}

// Redact masks well-known key parameters in s.
func Redact(s string) string {
	return redactQueryKey(s)
}

// redactQueryKey masks "key=..." query parameters that some SDK errors echo back.
func redactQueryKey(s string) string {
	const marker = "key="
	var b strings.Builder
	for {
		i := strings.Index(s, marker)
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		if i > 0 && isKeyChar(s[i-1]) {
			b.WriteString(s[:i+len(marker)])
			s = s[i+len(marker):]
			continue
		}
		b.WriteString(s[:i+len(marker)])
		b.WriteString("[REDACTED]")
		s = s[i+len(marker):]
		j := 0
		for j < len(s) && s[j] != '&' && s[j] != ' ' && s[j] != '"' && s[j] != '\'' {
			j++
		}
		s = s[j:]
	}
}

func isKeyChar(c byte) bool {
	return c == '_' || c == '-' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
