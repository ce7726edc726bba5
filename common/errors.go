package common

import (
	"errors"
)

var ErrSourceUnavailable = errors.New("source unavailable")
var ErrDecode = errors.New("unable to decode image")
var ErrCancelled = errors.New("load cancelled")
var ErrCacheIO = errors.New("cache i/o error")
var ErrTimeout = errors.New("load timed out")
var ErrUnsupportedSource = errors.New("unsupported source")
var ErrImageTooLarge = errors.New("image too large")
var ErrClosed = errors.New("image service closed")

// KindError attaches one of the sentinel errors above to an underlying cause so that callers
// can match the kind with errors.Is while logs keep the original message.
type KindError struct {
	Kind  error
	Cause error
}

func (e *KindError) Error() string {
	if e.Cause == nil {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Cause.Error()
}

func (e *KindError) Unwrap() error {
	return e.Cause
}

func (e *KindError) Is(target error) bool {
	return target == e.Kind
}

func SourceUnavailable(cause error) error {
	return wrapKind(ErrSourceUnavailable, cause)
}

func DecodeError(cause error) error {
	return wrapKind(ErrDecode, cause)
}

func CacheIOError(cause error) error {
	return wrapKind(ErrCacheIO, cause)
}

func wrapKind(kind error, cause error) error {
	if cause != nil && errors.Is(cause, kind) {
		return cause
	}
	return &KindError{Kind: kind, Cause: cause}
}

// IsReportable returns false for outcomes that are expected and never shown to listeners.
func IsReportable(err error) bool {
	return err != nil && !errors.Is(err, ErrCancelled)
}
