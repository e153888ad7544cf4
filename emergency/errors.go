package emergency

import "errors"

// Sentinel errors returned by the lifecycle operations. Handlers map these
// to HTTP statuses; the engine itself never writes responses.
var (
	// ErrNoBuddiesConfigured means the patient has no accepted buddy
	// relations, so there is nobody to alert.
	ErrNoBuddiesConfigured = errors.New("no buddies configured")

	// ErrAlertInProgress means the patient already has a live emergency.
	ErrAlertInProgress = errors.New("an alert is already in progress")

	// Location failures, mapped from the geo package so callers only need
	// to know about this package's errors.
	ErrLocationUnavailable      = errors.New("location unavailable")
	ErrLocationPermissionDenied = errors.New("location permission denied")
	ErrLocationUnsupported      = errors.New("location not supported")

	// ErrEmergencyNotFound means no emergency exists with the given id.
	ErrEmergencyNotFound = errors.New("emergency not found")

	// ErrAlreadyResponding means another buddy claimed the emergency first,
	// or it has since been resolved.
	ErrAlreadyResponding = errors.New("emergency already has a responder")

	// ErrNotABuddy means the caller is not on the emergency's buddy list.
	ErrNotABuddy = errors.New("caller is not a buddy of this emergency")

	// ErrNotPermitted means the caller is neither the patient nor the
	// assigned responder.
	ErrNotPermitted = errors.New("caller may not modify this emergency")
)
