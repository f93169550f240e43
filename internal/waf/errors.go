package waf

import (
	"fmt"
	"strings"
)

// ConfigurationError reports missing or invalid backend settings. It is
// raised before any network call is made.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("waf: invalid configuration %q: %s", e.Field, e.Reason)
}

// TransportError wraps a failure to reach the provider at all (DNS, TCP,
// TLS, timeouts).
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("waf: %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// APIMessage is a single entry of the provider's errors array.
type APIMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ApplicationError reports a response the provider rejected: either a
// non-2xx status or a 2xx body whose success flag is false.
type ApplicationError struct {
	Method string
	URL    string
	Status int
	Body   string
	Errors []APIMessage
}

func (e *ApplicationError) Error() string {
	if len(e.Errors) > 0 {
		msgs := make([]string, 0, len(e.Errors))
		for _, m := range e.Errors {
			msgs = append(msgs, fmt.Sprintf("%d: %s", m.Code, m.Message))
		}
		return fmt.Sprintf("waf: %s %s returned status %d: %s", e.Method, e.URL, e.Status, strings.Join(msgs, "; "))
	}
	return fmt.Sprintf("waf: %s %s returned status %d: %s", e.Method, e.URL, e.Status, e.Body)
}

// ZoneNotFoundError is fatal for a whole run: every rule targets the same zone.
type ZoneNotFoundError struct {
	Domain string
}

func (e *ZoneNotFoundError) Error() string {
	return fmt.Sprintf("waf: zone for domain %q not found", e.Domain)
}

// ReconcileError scopes a failure to a single declared rule.
type ReconcileError struct {
	Description string
	Op          string // "lookup", "create" or "update"
	Err         error
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("waf: %s rule %q: %v", e.Op, e.Description, e.Err)
}

func (e *ReconcileError) Unwrap() error { return e.Err }
