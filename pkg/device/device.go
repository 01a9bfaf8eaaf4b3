// Package device holds the persisted push registration model shared by the
// registry, the dispatcher and every DeviceStore implementation.
package device

import (
	"errors"
	"fmt"
	"time"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// MaxNameLength bounds the free-text display name.
const MaxNameLength = 1024

// ErrUnknownPlatform is returned when a platform string is not one of ios, android or web.
var ErrUnknownPlatform = errors.New("unknown device platform")

// Platform is the client platform a registration token was issued for.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
)

// ParsePlatform validates a raw platform string. Matching is exact.
func ParsePlatform(raw string) (Platform, error) {
	switch p := Platform(raw); p {
	case PlatformIOS, PlatformAndroid, PlatformWeb:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPlatform, raw)
	}
}

// Device is one push endpoint (token) registered by a user on a platform.
// The pair (User, Token) is unique.
type Device struct {
	ID        int64
	Name      string
	User      urn.URN
	Active    bool
	Type      Platform
	Token     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// String renders a short, log-safe description that never prints the full token.
func (d Device) String() string {
	token := d.Token
	if len(token) > 10 {
		token = token[:10]
	}
	return fmt.Sprintf("%s on %s w/ token %s...", d.User.String(), d.Type, token)
}

// Fields are the mutable attributes written on every registration.
// Token and user are the lookup key and are passed separately.
type Fields struct {
	Active bool
	Type   Platform
	Name   string
}
