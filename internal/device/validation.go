package device

import (
	"fmt"
	"strings"
)

// Validation limits. Registration payloads arrive from untrusted hardware.
const (
	maxNameLength       = 100
	maxCapabilities     = 50
	maxCapabilityLength = 64
	maxConfigKeys       = 100
)

// ValidationError describes why a registration was rejected.
// It matches both ErrInvalidRegistration and the field-specific sentinel
// under errors.Is.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid registration: %s %s", e.Field, e.Reason)
}

// Unwrap exposes the sentinels for errors.Is.
func (e *ValidationError) Unwrap() []error {
	return []error{ErrInvalidRegistration, e.Err}
}

func invalid(field, reason string, err error) error {
	return &ValidationError{Field: field, Reason: reason, Err: err}
}

// ValidateRegistration checks a registration payload.
// Returns the first failure found as a *ValidationError.
//
// Capabilities must be present but may be empty; an absent list (nil) is
// rejected so a device cannot register without declaring what it does.
func ValidateRegistration(reg *Registration) error {
	if reg == nil {
		return invalid("payload", "is missing", ErrInvalidRegistration)
	}

	if err := ValidateName(reg.Name); err != nil {
		return err
	}

	if reg.Type == "" {
		return invalid("type", "is required", ErrInvalidDeviceType)
	}
	if !reg.Type.Valid() {
		return invalid("type", fmt.Sprintf("%q is not one of display, sensor, controller, kiosk", reg.Type), ErrInvalidDeviceType)
	}

	if reg.Capabilities == nil {
		return invalid("capabilities", "is required", ErrInvalidCapability)
	}
	if len(reg.Capabilities) > maxCapabilities {
		return invalid("capabilities", fmt.Sprintf("exceeds %d entries", maxCapabilities), ErrInvalidCapability)
	}
	for _, c := range reg.Capabilities {
		if strings.TrimSpace(c) == "" || len(c) > maxCapabilityLength {
			return invalid("capabilities", fmt.Sprintf("contains invalid entry %q", c), ErrInvalidCapability)
		}
	}

	if len(reg.Config) > maxConfigKeys {
		return invalid("config", fmt.Sprintf("exceeds %d keys", maxConfigKeys), ErrInvalidRegistration)
	}

	if reg.Location != nil {
		if err := ValidateLocation(reg.Location); err != nil {
			return err
		}
	}

	return nil
}

// ValidateName checks that a device name is present and reasonably short.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return invalid("name", "is required", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return invalid("name", fmt.Sprintf("exceeds %d characters", maxNameLength), ErrInvalidName)
	}
	return nil
}

// ValidateLocation checks coordinate ranges.
func ValidateLocation(loc *Location) error {
	if loc.Lat < -90 || loc.Lat > 90 {
		return invalid("location.lat", "must be between -90 and 90", ErrInvalidLocation)
	}
	if loc.Lng < -180 || loc.Lng > 180 {
		return invalid("location.lng", "must be between -180 and 180", ErrInvalidLocation)
	}
	return nil
}
