// Package engineerr provides the engine's tagged-variant error type.
//
// Errors from the object store are propagated verbatim with source
// chaining: each layer wraps the previous with its own Kind, and the
// rendered message is the chain of kind strings joined by ": ".
package engineerr

import "strings"

// Kind identifies the category of an engine error, independent of the
// wrapped cause. D-Bus-facing code branches on Kind rather than on
// error strings.
type Kind int

const (
	// KindUnknown is the zero value; KindOf returns it only for a nil
	// error.
	KindUnknown Kind = iota
	KindPermissionDenied
	KindFailedSetupNamespace
	KindNoBootDeployment
	KindNoPreviousDeployment
	KindNoOriginForDeployment
	KindNoRevisionForRefSpec
	KindMissingBaseChecksum
	KindMissingExtensionChecksum
	KindNoRemoteFound
	KindFailedTryLock
	KindEngineIsBusy
	KindBadRefspec
	KindObjectStore
)

var kindText = map[Kind]string{
	KindUnknown:                   "unknown",
	KindPermissionDenied:          "permission denied",
	KindFailedSetupNamespace:      "failed to set up mount namespace",
	KindNoBootDeployment:          "no boot deployment",
	KindNoPreviousDeployment:      "no previous deployment",
	KindNoOriginForDeployment:     "no origin for deployment",
	KindNoRevisionForRefSpec:      "no revision for refspec",
	KindMissingBaseChecksum:       "missing base checksum",
	KindMissingExtensionChecksum:  "missing extension checksum",
	KindNoRemoteFound:             "no remote found",
	KindFailedTryLock:             "failed to lock sysroot",
	KindEngineIsBusy:              "engine is busy",
	KindBadRefspec:                "bad refspec",
	KindObjectStore:               "object store",
}

func (k Kind) String() string {
	if s, ok := kindText[k]; ok {
		return s
	}
	return "unknown"
}

// Error is the engine's single error type: a Kind, an optional
// detail string giving context specific to that occurrence, and an
// optional wrapped cause.
type Error struct {
	Kind   Kind
	Detail string
	Cause  error
}

// New creates an Error with no detail and no cause.
func New(kind Kind) *Error {
	return &Error{Kind: kind}
}

// Newf creates an Error carrying a formatted detail string.
func Newf(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap creates an Error that chains an underlying cause.
func Wrap(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Cause: cause}
}

// Error renders the ": "-joined chain, flattening nested *Error
// causes rather than letting them nest through fmt's %s verb twice.
func (e *Error) Error() string {
	var parts []string
	head := e.Kind.String()
	if e.Detail != "" {
		head = head + ": " + e.Detail
	}
	parts = append(parts, head)

	if e.Cause != nil {
		parts = append(parts, flatten(e.Cause)...)
	}
	return strings.Join(parts, ": ")
}

func flatten(err error) []string {
	if inner, ok := err.(*Error); ok {
		var parts []string
		head := inner.Kind.String()
		if inner.Detail != "" {
			head = head + ": " + inner.Detail
		}
		parts = append(parts, head)
		if inner.Cause != nil {
			parts = append(parts, flatten(inner.Cause)...)
		}
		return parts
	}
	return []string{err.Error()}
}

// Unwrap lets errors.Is/errors.As see through the chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind, so
// callers can write errors.Is(err, engineerr.New(engineerr.KindEngineIsBusy)).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error,
// returning KindObjectStore for any other non-nil error and
// KindUnknown for nil.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return KindObjectStore
}
