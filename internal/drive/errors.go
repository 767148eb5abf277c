package drive

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

// Kind classifies a failure for callers and for the HTTP layer.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidArgument
	KindNotFound
	KindPreconditionFailed
	KindStorageFailure
	KindMetadataFailure
	KindPartialBatchFailure
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindNotFound:
		return "NotFound"
	case KindPreconditionFailed:
		return "PreconditionFailed"
	case KindStorageFailure:
		return "StorageFailure"
	case KindMetadataFailure:
		return "MetadataFailure"
	case KindPartialBatchFailure:
		return "PartialBatchFailure"
	default:
		return "Unknown"
	}
}

// class maps a kind onto the matching errdefs class.
func (k Kind) class() error {
	switch k {
	case KindInvalidArgument:
		return errdefs.ErrInvalidArgument
	case KindNotFound:
		return errdefs.ErrNotFound
	case KindPreconditionFailed:
		return errdefs.ErrFailedPrecondition
	case KindStorageFailure:
		return errdefs.ErrUnavailable
	case KindMetadataFailure:
		return errdefs.ErrInternal
	case KindPartialBatchFailure:
		return errdefs.ErrAborted
	default:
		return errdefs.ErrUnknown
	}
}

// Common failures.
var (
	ErrFolderNotFound = E(KindNotFound, "", errors.New("folder not found"))
	ErrFileNotFound   = E(KindNotFound, "", errors.New("file not found"))
	ErrBlobNotFound   = E(KindNotFound, "", errors.New("blob not found"))
	ErrNotTrashed     = E(KindPreconditionFailed, "", errors.New("item must be in trash before permanent deletion"))
	ErrEmptyBatch     = E(KindInvalidArgument, "", errors.New("no files provided"))

	// ErrActiveDescendant is returned when a trashed folder could not be removed because
	// something below it was restored from trash.
	ErrActiveDescendant = E(KindPreconditionFailed, "", errors.New("folder contains items that are not in trash"))
)

// Error is a classified failure. It unwraps both to its cause and to the errdefs class of
// its kind, so errdefs.IsNotFound and friends work through any amount of wrapping.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// E builds a classified error.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	msg := "unknown error"
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

// Unwrap exposes the cause and the errdefs class.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.class()}
	}
	return []error{e.Err, e.Kind.class()}
}

// Is matches another *Error of the same kind whose message is equal, so the package-level
// sentinels can be compared with errors.Is after being re-wrapped with an operation.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err != nil && e.Err != nil && t.Err.Error() == e.Err.Error()
}

// WithOp returns a copy of err tagged with op. Non-classified errors are returned wrapped
// with the given fallback kind.
func WithOp(op string, fallback Kind, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return &Error{Kind: de.Kind, Op: op, Err: de.Err}
	}
	return &Error{Kind: fallback, Op: op, Err: err}
}

// KindOf reports the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	switch {
	case err == nil:
		return KindUnknown
	case errdefs.IsNotFound(err):
		return KindNotFound
	case errdefs.IsInvalidArgument(err):
		return KindInvalidArgument
	case errdefs.IsFailedPrecondition(err):
		return KindPreconditionFailed
	default:
		return KindUnknown
	}
}

// IsNotFound reports whether err is a not-found failure.
func IsNotFound(err error) bool {
	return errdefs.IsNotFound(err)
}
