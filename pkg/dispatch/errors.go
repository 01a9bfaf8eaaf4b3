package dispatch

import (
	"errors"
	"fmt"
)

// Provider error codes, in the legacy FCM vocabulary. Backends for other
// providers translate their native reasons into these.
const (
	CodeMissingRegistration = "MissingRegistration"
	CodeInvalidRegistration = "InvalidRegistration"
	CodeNotRegistered       = "NotRegistered"
	CodeMismatchSenderID    = "MismatchSenderId"
)

// ErrConfiguration matches every *ConfigurationError via errors.Is.
var ErrConfiguration = errors.New("push backend configuration error")

// Class is what the dispatcher does about a provider error code.
type Class int

const (
	// ClassNone covers success and unrecognised codes: the result is passed through.
	ClassNone Class = iota
	// ClassUnrecoverable means the token will never work again.
	ClassUnrecoverable
	// ClassConfiguration means the deployment credentials do not match the token's project.
	ClassConfiguration
)

var (
	unrecoverableCodes = map[string]struct{}{
		CodeMissingRegistration: {},
		CodeInvalidRegistration: {},
		CodeNotRegistered:       {},
	}
	configurationCodes = map[string]struct{}{
		CodeMismatchSenderID: {},
	}
)

// Classify maps a provider error code onto a Class.
func Classify(code string) Class {
	if _, ok := unrecoverableCodes[code]; ok {
		return ClassUnrecoverable
	}
	if _, ok := configurationCodes[code]; ok {
		return ClassConfiguration
	}
	return ClassNone
}

// ConfigurationError is raised when the provider rejects a send because of
// the deployment's credentials rather than the device.
type ConfigurationError struct {
	DeviceID int64
	Code     string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration problem sending to device %d: %s", e.DeviceID, e.Code)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}
