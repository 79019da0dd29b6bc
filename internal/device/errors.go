package device

import "errors"

// Service errors. Validation and conflict errors are rejected
// synchronously and never retried.
var (
	ErrDeviceNotFound       = errors.New("device not found")
	ErrProfileNotFound      = errors.New("device profile not found")
	ErrDuplicateSerial      = errors.New("serial number already registered for tenant")
	ErrDuplicateProfileName = errors.New("profile name already exists for tenant")
	ErrProfileInUse         = errors.New("device profile is still referenced by devices")
	ErrParameterNotFound    = errors.New("parameter not found")
	ErrParameterNotWritable = errors.New("parameter is not writable")
)
