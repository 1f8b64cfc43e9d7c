package errs

import (
	"errors"
	"fmt"
)

// ConfigError reports an unusable schedule: bad dates, a bad interval or time,
// or a query key that cannot be resolved.
type ConfigError struct {
	Country string
	Msg     string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config error [country=%s]: %s: %v", e.Country, e.Msg, e.Err)
	}
	return fmt.Sprintf("config error [country=%s]: %s", e.Country, e.Msg)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// LookupError reports an unknown country or a failing timezone service.
type LookupError struct {
	Country    string
	URL        string
	StatusCode int
	Err        error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("timezone lookup failed [country=%s url=%s statusCode=%d]: %v",
		e.Country, e.URL, e.StatusCode, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// DatabaseError wraps a connection or statement failure with the operation
// and the country database it ran against.
type DatabaseError struct {
	Op      string
	Country string
	Err     error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database %s failed [country=%s]: %v", e.Op, e.Country, e.Err)
}

func (e *DatabaseError) Unwrap() error { return e.Err }

// UpstreamError reports a failing remote config call.
type UpstreamError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream call failed [url=%s statusCode=%d]: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream call failed [url=%s statusCode=%d]", e.URL, e.StatusCode)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Kind names the typed error in err's chain, for logs.
func Kind(err error) string {
	var (
		ce *ConfigError
		le *LookupError
		de *DatabaseError
		ue *UpstreamError
	)
	switch {
	case errors.As(err, &ce):
		return "config"
	case errors.As(err, &le):
		return "lookup"
	case errors.As(err, &de):
		return "database"
	case errors.As(err, &ue):
		return "upstream"
	}
	return "unknown"
}
