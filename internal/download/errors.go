package download

import (
	"github.com/cockroachdb/errors"
)

// Kind classifies a download failure the way the enclosing package
// surfaces it to callers, independent of the underlying Go error chain.
type Kind int

const (
	// KindOK indicates success; it is never attached to an error.
	KindOK Kind = iota
	// KindMemory indicates a resource-allocation failure (tempfile creation,
	// buffer growth).
	KindMemory
	// KindServerBadURL indicates an unparseable URL or unresolved host.
	KindServerBadURL
	// KindServerNone indicates a payload with no candidate mirrors.
	KindServerNone
	// KindRetrieve indicates an HTTP response >= 400 or a size mismatch.
	KindRetrieve
	// KindTransport indicates a generic transfer-library (net/http) failure.
	KindTransport
	// KindSystem indicates a filesystem operation failure (rename, truncate).
	KindSystem
	// KindExternalDownload indicates no engine is available and no fetch
	// callback was supplied.
	KindExternalDownload
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "OK"
	case KindMemory:
		return "MEMORY"
	case KindServerBadURL:
		return "SERVER_BAD_URL"
	case KindServerNone:
		return "SERVER_NONE"
	case KindRetrieve:
		return "RETRIEVE"
	case KindTransport:
		return "LIBCURL"
	case KindSystem:
		return "SYSTEM"
	case KindExternalDownload:
		return "EXTERNAL_DOWNLOAD"
	default:
		return "UNKNOWN"
	}
}

// kindError tags a cause with the taxonomy Kind the engine reports to
// callers, preserved through cockroachdb/errors wrapping for
// --verbose-errors flattening at the CLI layer.
type kindError struct {
	kind  Kind
	cause error
}

func (e *kindError) Error() string {
	if e.cause == nil {
		return e.kind.String()
	}
	return e.kind.String() + ": " + e.cause.Error()
}

func (e *kindError) Unwrap() error { return e.cause }

// WithKind tags err with a Kind, retrievable via ErrorKind.
func WithKind(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, cause: err}
}

// ErrorKind extracts the Kind attached by WithKind, or KindOK if none is
// attached (treat that as "no classified failure").
func ErrorKind(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindOK
}

// newKindError builds a new error already tagged with kind.
func newKindError(kind Kind, format string, args ...any) error {
	return WithKind(errors.Newf(format, args...), kind)
}
