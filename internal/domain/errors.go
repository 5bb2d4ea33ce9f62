package domain

import "errors"

// Stage failure kinds. Every stage error unwraps to exactly one of these.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrDump          = errors.New("dump error")
	ErrPublish       = errors.New("publish error")
	ErrRetention     = errors.New("retention error")
)

// StageError ties a stage failure kind to its cause.
type StageError struct {
	Kind error
	Err  error
}

func (e *StageError) Error() string {
	return e.Kind.Error() + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func NewStageError(kind, err error) *StageError {
	return &StageError{Kind: kind, Err: err}
}

// StageOf returns the failure kind of err, or nil when err carries none.
func StageOf(err error) error {
	for _, kind := range []error{ErrConfiguration, ErrDump, ErrPublish, ErrRetention} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// StageName is the short label used for logs and metrics.
func StageName(kind error) string {
	switch kind {
	case ErrConfiguration:
		return "config"
	case ErrDump:
		return "dump"
	case ErrPublish:
		return "publish"
	case ErrRetention:
		return "retention"
	default:
		return "unknown"
	}
}
