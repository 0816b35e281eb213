package errs

import (
	"errors"
	"fmt"
)

// Kind classifies failures surfaced by the process manager.
type Kind int

const (
	KindUnknown Kind = iota
	KindBadParameter
	KindConfig
	KindDbOpen
	KindDbLoad
	KindDbInsert
	KindDbFlush
	KindDbRetrieve
	KindDbLock
	KindForkFailed
	KindFileOpen
	KindInit
	KindUnknownCommand
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindBadParameter:
		return "Invalid value for startup parameter"
	case KindConfig:
		return "Invalid module configuration"
	case KindDbOpen:
		return "Could not open database file"
	case KindDbLoad:
		return "Could not load database"
	case KindDbInsert:
		return "Could not insert new item to database"
	case KindDbFlush:
		return "Could not write database"
	case KindDbRetrieve:
		return "Could not read database"
	case KindDbLock:
		return "Could not lock database"
	case KindForkFailed:
		return "Could not fork"
	case KindFileOpen:
		return "Could not open log file"
	case KindInit:
		return "Could not initialize runtime"
	case KindUnknownCommand:
		return "Unknown command"
	case KindProtocol:
		return "Unexpected control response"
	default:
		return "Unknown error"
	}
}

// Error carries a Kind and the underlying cause, if any.
type Error struct {
	Kind    Kind
	Context string
	Cause   error
}

func (e *Error) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Context)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error with the same Kind, so errors.Is(err, errs.New(errs.KindDbFlush, nil))
// works without sentinel values.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

func Newf(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Context: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the Kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether any error in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	return errors.Is(err, &Error{Kind: kind})
}

// Chain returns the messages of err's causes, outermost first, excluding err
// itself. Joined errors contribute each member followed by its own causes. A
// cause that only repeats its parent's message is skipped.
func Chain(err error) []string {
	var out []string
	walkCauses(err, &out)
	return out
}

func walkCauses(err error, out *[]string) {
	for _, c := range causesOf(err) {
		if c == nil {
			continue
		}
		if msg := c.Error(); msg != err.Error() {
			*out = append(*out, msg)
		}
		walkCauses(c, out)
	}
}

func causesOf(err error) []error {
	switch e := err.(type) {
	case interface{ Unwrap() []error }:
		return e.Unwrap()
	case interface{ Unwrap() error }:
		if c := e.Unwrap(); c != nil {
			return []error{c}
		}
	}
	return nil
}
