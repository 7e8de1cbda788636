// Package apierr implements the workspace gateway's error taxonomy (spec §7)
// as tagged Go error values instead of exceptions.
package apierr

import "fmt"

// ProviderErrorKind classifies a Provider Client failure.
type ProviderErrorKind string

const (
	KindTransientNetwork ProviderErrorKind = "transient_network"
	KindNotFound         ProviderErrorKind = "not_found"
	KindClientError      ProviderErrorKind = "client_error"
	KindServerError      ProviderErrorKind = "server_error"
	KindTimeout          ProviderErrorKind = "timeout"
)

// ProviderError wraps a classified compute-provider failure.
type ProviderError struct {
	Kind   ProviderErrorKind
	Detail string
	Cause  error
}

func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("provider error [%s]: %s: %v", e.Kind, e.Detail, e.Cause)
	}
	return fmt.Sprintf("provider error [%s]: %s", e.Kind, e.Detail)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// NewProviderError constructs a ProviderError.
func NewProviderError(kind ProviderErrorKind, detail string, cause error) *ProviderError {
	return &ProviderError{Kind: kind, Detail: detail, Cause: cause}
}

// IsTransientNetwork reports whether err is a ProviderError of kind
// TransientNetwork, whatever its cause; a DNS-not-found ("NXDOMAIN")
// failure is one of the causes classified under that kind.
func IsTransientNetwork(err error) bool {
	pe, ok := err.(*ProviderError)
	return ok && pe.Kind == KindTransientNetwork
}

// IsTimeout reports whether err is a ProviderError of kind Timeout.
func IsTimeout(err error) bool {
	pe, ok := err.(*ProviderError)
	return ok && pe.Kind == KindTimeout
}

// ErrNoMachine is returned when an actor has no machine id and creation has
// not been attempted, or has failed.
var ErrNoMachine = fmt.Errorf("no machine provisioned for this workspace")

// ErrNotAWorkspace names the "host does not address a workspace" case of the
// taxonomy. The Subdomain Router does not return it: gateway.Classify
// reports that case as KindNotWorkspace and the handler falls through to
// the application router.
var ErrNotAWorkspace = fmt.Errorf("host does not address a workspace")

// StoreErrorKind classifies a Lifecycle State Store failure.
type StoreErrorKind string

const (
	StoreKindNotFound StoreErrorKind = "not_found"
	StoreKindCorrupt  StoreErrorKind = "corrupt"
	StoreKindIOError  StoreErrorKind = "io_error"
)

// StoreError wraps a State Store failure. Reads treat NotFound/Corrupt as
// equivalent to "nothing stored yet"; writes are logged and otherwise
// non-fatal (spec §4.3).
type StoreError struct {
	Kind  StoreErrorKind
	Cause error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error [%s]: %v", e.Kind, e.Cause)
}

func (e *StoreError) Unwrap() error { return e.Cause }

// ErrProxyDisconnected indicates the client closed the connection mid-stream;
// forwarding stops silently and no error response is written.
var ErrProxyDisconnected = fmt.Errorf("client disconnected during streaming")
