package audit

import "maps"

// EntryOption applies configuration to an Entry during Append.
type EntryOption func(*Entry)

func WithDescription(d string) EntryOption {
	return func(e *Entry) {
		e.Description = d
	}
}

// WithSeverity sets the severity; invalid values are ignored.
func WithSeverity(s Severity) EntryOption {
	return func(e *Entry) {
		if s.Valid() {
			e.Severity = s
		}
	}
}

func WithModule(m string) EntryOption {
	return func(e *Entry) {
		e.Module = m
	}
}

// WithUserID overrides the user id taken from the context.
func WithUserID(id string) EntryOption {
	return func(e *Entry) {
		e.UserID = id
	}
}

func WithIP(ip string) EntryOption {
	return func(e *Entry) {
		e.IP = ip
	}
}

func WithUserAgent(ua string) EntryOption {
	return func(e *Entry) {
		e.UserAgent = ua
	}
}

func WithRequestID(id string) EntryOption {
	return func(e *Entry) {
		e.RequestID = id
	}
}

// WithError records err and raises the severity to at least error.
func WithError(err error) EntryOption {
	return func(e *Entry) {
		if err == nil {
			return
		}
		e.ErrorDetails = err.Error()
		if e.Severity == SeverityInfo || e.Severity == SeverityWarning {
			e.Severity = SeverityError
		}
	}
}

// WithContext merges kv into the entry context.
func WithContext(kv map[string]any) EntryOption {
	return func(e *Entry) {
		if len(kv) == 0 {
			return
		}
		if e.Context == nil {
			e.Context = make(map[string]any, len(kv))
		}
		maps.Copy(e.Context, kv)
	}
}

// WithValue sets a single context key.
func WithValue(key string, value any) EntryOption {
	return WithContext(map[string]any{key: value})
}
