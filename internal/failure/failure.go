package failure

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind classifies a per-record failure.
type Kind string

const (
	KindTimeout          Kind = "Timeout"
	KindMissingMetadata  Kind = "MissingMetadata"
	KindValidationFailed Kind = "ValidationFailed"
	KindWorkerCrash      Kind = "WorkerCrash"
	KindConversionError  Kind = "ConversionError"
)

// Kinds lists every failure kind in reporting order.
var Kinds = []Kind{
	KindTimeout,
	KindMissingMetadata,
	KindValidationFailed,
	KindWorkerCrash,
	KindConversionError,
}

// ErrConfiguration marks fatal configuration problems (missing files or
// columns, duplicate study keys, unusable settings).
var ErrConfiguration = errors.New("configuration error")

// Error is a classified per-record failure.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	detail := strings.TrimSpace(e.Detail)
	if detail == "" && e.Err != nil {
		detail = strings.TrimSpace(e.Err.Error())
	}
	if e.Kind == KindTimeout {
		// Ledger format is fixed: Timeout>{T}s
		if detail == "" {
			return string(KindTimeout)
		}
		return string(KindTimeout) + ">" + detail
	}
	if detail == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + detail
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ErrorKind satisfies the classifier interface used by callers that only
// need the string form.
func (e *Error) ErrorKind() string {
	if e == nil {
		return ""
	}
	return string(e.Kind)
}

// New builds a classified failure with a formatted detail.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) && existing.Kind == kind {
		return existing
	}
	return &Error{Kind: kind, Err: err}
}

// Timeout builds the failure recorded when a record exceeds its deadline.
func Timeout(limit time.Duration) *Error {
	return &Error{Kind: KindTimeout, Detail: formatSeconds(limit) + "s"}
}

// As extracts a classified failure from err. Unclassified errors are
// reported as conversion errors.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}
	return &Error{Kind: KindConversionError, Err: err}
}

// KindOf parses the kind back out of a ledger error message. Messages that
// do not carry a known prefix report ok=false.
func KindOf(message string) (Kind, bool) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", false
	}
	for _, kind := range Kinds {
		prefix := string(kind)
		if !strings.HasPrefix(message, prefix) {
			continue
		}
		rest := message[len(prefix):]
		if rest == "" || rest[0] == ':' || rest[0] == '>' {
			return kind, true
		}
	}
	return "", false
}

// Configuration wraps a message as a fatal configuration error.
func Configuration(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// IsConfiguration reports whether err is a fatal configuration error.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

func formatSeconds(d time.Duration) string {
	if d%time.Second == 0 {
		return strconv.FormatInt(int64(d/time.Second), 10)
	}
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
