package narrative

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable, machine-readable classification of an engine
// error. Kinds are the contract with external adapters: a tool server
// reports failures as {kind, message} objects using these values.
type ErrorKind string

const (
	// KindUnknownMoment — a referenced moment id does not exist.
	KindUnknownMoment ErrorKind = "UnknownMoment"

	// KindUnknownTake — a referenced take id does not exist.
	KindUnknownTake ErrorKind = "UnknownTake"

	// KindUnknownCharacter — a referenced character id does not exist.
	KindUnknownCharacter ErrorKind = "UnknownCharacter"

	// KindUnknownFact — a referenced fact id does not exist.
	KindUnknownFact ErrorKind = "UnknownFact"

	// KindDuplicateID — a create collided with an existing id.
	KindDuplicateID ErrorKind = "DuplicateId"

	// KindDuplicateSequence — a moment create collided with an existing sequence.
	KindDuplicateSequence ErrorKind = "DuplicateSequence"

	// KindInvalidEnum — an enumerated value outside its allowed set.
	KindInvalidEnum ErrorKind = "InvalidEnum"

	// KindDimensionMismatch — a vector width disagrees with the configured
	// dimensions, or the database was created with a different dimension.
	KindDimensionMismatch ErrorKind = "DimensionMismatch"

	// KindEmbeddingUnavailable — the embedding backend failed.
	KindEmbeddingUnavailable ErrorKind = "EmbeddingUnavailable"

	// KindStorageError — a substrate-level failure.
	KindStorageError ErrorKind = "StorageError"

	// KindCorruptRecord — a JSON attribute bag or vector blob failed to decode.
	KindCorruptRecord ErrorKind = "CorruptRecord"
)

// Error is the typed error returned by every engine operation. It carries
// a stable Kind, a human-readable Message that includes the offending id
// or value, and optionally the underlying cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind, which makes
// errors.Is(err, narrative.ErrUnknownMoment) work against the kind-only
// sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// Kind-only sentinels for use with errors.Is.
var (
	ErrUnknownMoment        = &Error{Kind: KindUnknownMoment}
	ErrUnknownTake          = &Error{Kind: KindUnknownTake}
	ErrUnknownCharacter     = &Error{Kind: KindUnknownCharacter}
	ErrUnknownFact          = &Error{Kind: KindUnknownFact}
	ErrDuplicateID          = &Error{Kind: KindDuplicateID}
	ErrDuplicateSequence    = &Error{Kind: KindDuplicateSequence}
	ErrInvalidEnum          = &Error{Kind: KindInvalidEnum}
	ErrDimensionMismatch    = &Error{Kind: KindDimensionMismatch}
	ErrEmbeddingUnavailable = &Error{Kind: KindEmbeddingUnavailable}
	ErrStorageError         = &Error{Kind: KindStorageError}
	ErrCorruptRecord        = &Error{Kind: KindCorruptRecord}
)

// Errorf constructs an *Error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError constructs an *Error around an underlying cause.
func WrapError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the ErrorKind from err. Errors that did not originate
// from the engine report KindStorageError, the catch-all for substrate
// failures. A nil err reports an empty kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorageError
}
