package persistence

import "errors"

var (
	// ErrJourneyNotFound is returned when a journey does not exist.
	ErrJourneyNotFound = errors.New("journey not found")

	// ErrEnrollmentNotFound is returned when an enrollment does not exist.
	ErrEnrollmentNotFound = errors.New("enrollment not found")

	// ErrVersionConflict is returned when an optimistic write presents a
	// stale version; the caller must re-read before retrying.
	ErrVersionConflict = errors.New("enrollment version conflict")

	// ErrDuplicateEntry is returned when a trigger idempotency key has
	// already been registered.
	ErrDuplicateEntry = errors.New("duplicate entry key")
)

func IsJourneyNotFound(err error) bool {
	return errors.Is(err, ErrJourneyNotFound)
}

func IsEnrollmentNotFound(err error) bool {
	return errors.Is(err, ErrEnrollmentNotFound)
}

func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

func IsDuplicateEntry(err error) bool {
	return errors.Is(err, ErrDuplicateEntry)
}
