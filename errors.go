package timeli

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("timeli: no store configured")
	ErrStoreClosed = errors.New("timeli: store closed")

	// Not found errors.
	ErrJobNotFound         = errors.New("timeli: job not found")
	ErrAppNotFound         = errors.New("timeli: app not found")
	ErrRuleNotFound        = errors.New("timeli: notification rule not found")
	ErrAppointmentNotFound = errors.New("timeli: appointment not found")
	ErrSessionNotFound     = errors.New("timeli: session not found")
	ErrAppNotRegistered    = errors.New("timeli: no constructor registered for app")

	// Conflict errors.
	ErrJobAlreadyExists  = errors.New("timeli: job already exists")
	ErrJobRunning        = errors.New("timeli: job is running")
	ErrDuplicateRuleName = errors.New("timeli: duplicate notification rule name")

	// Contract violations. These are never retried.
	ErrMissingTenant      = errors.New("timeli: job payload has no tenant")
	ErrUnknownJobKind     = errors.New("timeli: unknown job kind")
	ErrUnknownTriggerType = errors.New("timeli: unknown notification trigger type")
	ErrUnknownHookMethod  = errors.New("timeli: unknown hook method")
	ErrInvalidPayload     = errors.New("timeli: invalid job payload")

	// Worker lifecycle errors.
	ErrNotReady          = errors.New("timeli: backend not ready")
	ErrRestartsExhausted = errors.New("timeli: worker restarts exhausted")
)

// permanentError marks an error that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the worker fails the job without further attempts.
// A nil err returns nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, was marked with
// Permanent or is one of the contract-violation sentinels.
func IsPermanent(err error) bool {
	var pe *permanentError
	if errors.As(err, &pe) {
		return true
	}
	return errors.Is(err, ErrMissingTenant) ||
		errors.Is(err, ErrUnknownJobKind) ||
		errors.Is(err, ErrUnknownTriggerType) ||
		errors.Is(err, ErrUnknownHookMethod) ||
		errors.Is(err, ErrInvalidPayload)
}
