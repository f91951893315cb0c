package scheduling

import "errors"

var (
	// ErrNotFound: no appointment with the given id.
	ErrNotFound = errors.New("appointment not found")
	// ErrSlotUnavailable: the requested (employee, time) slot is taken,
	// outside working hours, or already in the past.
	ErrSlotUnavailable = errors.New("slot unavailable")
	// ErrInvalidReference: business/employee/service do not exist or do not
	// belong together.
	ErrInvalidReference = errors.New("invalid reference")
	// ErrVersionConflict: the write presented a stale version.
	ErrVersionConflict = errors.New("version conflict")
	// ErrAlreadyTerminal: the appointment is canceled/completed/no-show and
	// the operation only applies to scheduled ones.
	ErrAlreadyTerminal = errors.New("appointment already terminal")
)

// ValidationError marks malformed input detected before any write attempt.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
