package transcribe

import (
	"errors"
	"fmt"

	"github.com/MrWong99/notescribe/pkg/detect"
	"github.com/MrWong99/notescribe/pkg/types"
)

// Kind classifies a transcription failure.
type Kind int

const (
	// KindInternalConsistency marks a violated pipeline invariant. It is the
	// zero value so that unclassified failures are treated as defects.
	KindInternalConsistency Kind = iota

	// KindConfiguration marks invalid options or a closed transcriber.
	KindConfiguration

	// KindInvalidInput marks a malformed sample rate or buffer.
	KindInvalidInput
)

// String returns the snake_case name used in logs and metric attributes.
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindInvalidInput:
		return "invalid_input"
	case KindInternalConsistency:
		return "internal_consistency"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Sentinels matched by [errors.Is] against any *Error of the same kind. They
// are the same values the stage packages wrap, so a stage error matches both
// before and after classification.
var (
	ErrConfiguration       = types.ErrConfiguration
	ErrInvalidInput        = types.ErrInvalidInput
	ErrInternalConsistency = types.ErrInternalConsistency
)

// ErrClosed is the cause reported for calls made after [Transcriber.Close].
var ErrClosed = errors.New("transcriber is closed")

var errNilSamples = errors.New("samples must not be nil")

func errSampleRate(rate int) error {
	return fmt.Errorf("sample rate %d must be positive", rate)
}

// Error is the single error type returned by [Transcriber]. It carries the
// failure kind, the pipeline operation that failed and the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("transcribe: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("transcribe: %s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel of e's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// Retryable reports whether the same call could succeed once the caller has
// corrected its configuration. Invalid input and internal consistency failures
// never succeed on retry.
func (e *Error) Retryable() bool {
	return e.Kind == KindConfiguration
}

func (k Kind) sentinel() error {
	switch k {
	case KindConfiguration:
		return ErrConfiguration
	case KindInvalidInput:
		return ErrInvalidInput
	default:
		return ErrInternalConsistency
	}
}

// KindOf returns the kind of the first *Error in err's chain. Errors that
// carry no *Error are classified by the sentinels they wrap; anything else is
// an internal consistency failure.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return classify(err)
}

func classify(err error) Kind {
	switch {
	case errors.Is(err, types.ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, types.ErrConfiguration), errors.Is(err, detect.ErrClosed), errors.Is(err, ErrClosed):
		return KindConfiguration
	default:
		return KindInternalConsistency
	}
}

// wrap returns err as an *Error for op. An err that already is an *Error is
// returned unchanged.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	return &Error{Kind: classify(err), Op: op, Err: err}
}
