package entity

import "fmt"

// Provider identifies one external API with its own quota and pacing.
type Provider string

const (
	ProviderAhrefs        Provider = "ahrefs"
	ProviderAnalytics     Provider = "analytics"
	ProviderSearchConsole Provider = "gsc"
	ProviderNoindex       Provider = "noindex"

	// ProviderGoogle is the shared Google account backing both the
	// Analytics and Search Console capabilities. It has no rate-gate
	// interval of its own; pacing stays per-API.
	ProviderGoogle Provider = "google"
)

// ErrorKind is the closed classification every adapter translates
// provider-specific failures into before they reach a worker.
type ErrorKind string

const (
	// ErrRateLimit is transient: back off and retry on a later pass.
	ErrRateLimit ErrorKind = "rate_limit"
	// ErrAuthInvalid is fatal for the provider: disconnect and require reauth.
	ErrAuthInvalid ErrorKind = "auth_invalid"
	// ErrNotFound means the provider has no data; treated as a zero result.
	ErrNotFound ErrorKind = "not_found"
	// ErrUnknown is logged and surfaced but does not halt the batch.
	ErrUnknown ErrorKind = "unknown"
)

// APIError is the uniform error shape adapters return per identifier.
type APIError struct {
	Provider Provider
	Kind     ErrorKind
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

// Transient reports whether the caller should retry on a later pass.
func (e *APIError) Transient() bool {
	return e.Kind == ErrRateLimit
}

// HaltsBatch reports whether the error must stop further calls to the
// provider for the rest of the invocation.
func (e *APIError) HaltsBatch() bool {
	return e.Kind == ErrRateLimit || e.Kind == ErrAuthInvalid
}
