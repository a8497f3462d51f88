package simulation

import (
	"errors"
	"fmt"
)

// Run failure kinds
var (
	// ErrData covers missing or unusable bar data. Recoverable.
	ErrData = errors.New("data error")

	// ErrConfiguration marks wiring bugs, such as a router with no generator
	// for the detected regime. Never recoverable.
	ErrConfiguration = errors.New("configuration error")

	// ErrUnexpected wraps anything else caught at the run boundary,
	// including recovered panics. Recoverable.
	ErrUnexpected = errors.New("unexpected error")
)

// RunError is the failure of one instrument run.
type RunError struct {
	Instrument string
	Kind       error // ErrData, ErrConfiguration or ErrUnexpected
	Err        error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s: %v: %v", e.Instrument, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is.
func (e *RunError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// IsRecoverable reports whether a batch may skip the failed instrument and continue.
// Only data and unexpected run errors qualify.
func IsRecoverable(err error) bool {
	var re *RunError
	if !errors.As(err, &re) {
		return false
	}
	return re.Kind != ErrConfiguration
}

func dataError(instrument string, err error) error {
	return &RunError{Instrument: instrument, Kind: ErrData, Err: err}
}

func configError(instrument string, err error) error {
	return &RunError{Instrument: instrument, Kind: ErrConfiguration, Err: err}
}

func unexpectedError(instrument string, err error) error {
	return &RunError{Instrument: instrument, Kind: ErrUnexpected, Err: err}
}
