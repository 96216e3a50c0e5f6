package internalerr

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for common cases
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrInvalidConfig    = errors.New("invalid configuration")

	// File-level, fatal before any unit is created.
	ErrFormat      = errors.New("unparseable input")
	ErrNoTextField = errors.New("no recognized text field")
	ErrSizeLimit   = errors.New("input exceeds size limit")

	// Unit-level, recovered and tagged on the owning unit.
	ErrDetectionUncertain  = errors.New("language detection uncertain")
	ErrTranslationFailed   = errors.New("translation failed")
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrInference           = errors.New("inference failed")
	ErrTimeout             = errors.New("call timed out")
)

// Error kinds used as tags on units and as metric labels.
const (
	KindFormat             = "format"
	KindNoTextField        = "no_text_field"
	KindSizeLimit          = "size_limit"
	KindDetectionUncertain = "detection_uncertain"
	KindTranslationFailed  = "translation_failed"
	KindInference          = "inference"
	KindTimeout            = "timeout"
	KindCanceled           = "canceled"
	KindUnknown            = "unknown"
)

// Kind classifies err into one of the Kind* tags. Timeouts win over the
// operation kind so a timed-out translation is reported as a timeout.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, ErrFormat):
		return KindFormat
	case errors.Is(err, ErrNoTextField):
		return KindNoTextField
	case errors.Is(err, ErrSizeLimit):
		return KindSizeLimit
	case errors.Is(err, ErrDetectionUncertain):
		return KindDetectionUncertain
	case errors.Is(err, ErrTranslationFailed), errors.Is(err, ErrUnsupportedLanguage):
		return KindTranslationFailed
	case errors.Is(err, ErrInference):
		return KindInference
	}
	return KindUnknown
}

// IsFatal reports whether err aborts a whole file.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFormat) || errors.Is(err, ErrNoTextField) || errors.Is(err, ErrSizeLimit)
}

// UnitError is a recovered failure attached to a single unit.
type UnitError struct {
	Kind string
	Op   string
	Err  error
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Kind, e.Err)
}

func (e *UnitError) Unwrap() error { return e.Err }

// NewUnitError tags err with its kind. A context deadline is rewrapped as
// ErrTimeout so callers can match on the sentinel.
func NewUnitError(op string, err error) *UnitError {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		err = fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return &UnitError{Kind: Kind(err), Op: op, Err: err}
}
