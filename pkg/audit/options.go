package audit

import (
	"context"
	"log/slog"
	"time"
)

// Option configures Log behavior during initialization
type Option func(*Log)

// Context extractors populate entries from the request context. They
// return (value, found); a missing value leaves the field empty.
type contextExtractor func(context.Context) (string, bool)

func WithUserIDExtractor(fn func(context.Context) (string, bool)) Option {
	return func(l *Log) {
		l.userIDExtractor = fn
	}
}

func WithRequestIDExtractor(fn func(context.Context) (string, bool)) Option {
	return func(l *Log) {
		l.requestIDExtractor = fn
	}
}

func WithIPExtractor(fn func(context.Context) (string, bool)) Option {
	return func(l *Log) {
		l.ipExtractor = fn
	}
}

func WithUserAgentExtractor(fn func(context.Context) (string, bool)) Option {
	return func(l *Log) {
		l.userAgentExtractor = fn
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger mirrors every appended entry to l at a level derived from its severity.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Log) {
		l.log = lg
	}
}

// WithMetadataFilter redacts entry context before it is hashed and stored.
func WithMetadataFilter(f *MetadataFilter) Option {
	return func(l *Log) {
		l.filter = f
	}
}

// WithDefaultModule sets the module of entries appended without WithModule.
func WithDefaultModule(m string) Option {
	return func(l *Log) {
		l.module = m
	}
}
