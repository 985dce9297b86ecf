// SPDX-License-Identifier: Apache-2.0

package gssctx

import (
	"math"
	"time"
)

// GSS_C_INDEFINITE is the RFC 2744 lifetime value meaning "no expiry".
const GSS_C_INDEFINITE uint32 = math.MaxUint32

// GssLifetimeStatus defines the possible states of a GssLifetime
// instance
type GssLifetimeStatus int

const (
	// Indicates that the lifetime ExpiresAt value is valid
	GssLifetimeAvailable GssLifetimeStatus = iota

	// Indicates that the lifetime has expired and the ExpiresAt value is not valid
	GssLifetimeExpired

	// Indicates that the lifetime is indefinite or unknown;  the ExpiresAt value is not valid
	GssLifetimeIndefinite
)

// GssLifetime represents credential and context lifetimes.  The status is kept apart from
// the expiry time rather than overloading the seconds value as RFC 2743/2744 do.
type GssLifetime struct {
	Status    GssLifetimeStatus
	ExpiresAt time.Time
}

// MakeGssLifetime builds a lifetime that expires after d.  A zero or negative duration
// is treated as expired.
func MakeGssLifetime(d time.Duration) GssLifetime {
	status := GssLifetimeAvailable
	if d <= 0 {
		status = GssLifetimeExpired
	}

	return GssLifetime{
		Status:    status,
		ExpiresAt: time.Now().Add(d),
	}
}

// lifetimeFromSeconds converts a mechanism lifetime.  Both zero and GSS_C_INDEFINITE
// map to an indefinite lifetime.
func lifetimeFromSeconds(secs uint32) GssLifetime {
	if secs == 0 || secs == GSS_C_INDEFINITE {
		return GssLifetime{Status: GssLifetimeIndefinite}
	}

	return MakeGssLifetime(time.Duration(secs) * time.Second)
}

// secondsFromDuration converts a requested lifetime into mechanism seconds;  zero
// requests the mechanism default.
func secondsFromDuration(d time.Duration) uint32 {
	switch {
	case d <= 0:
		return 0
	case d >= time.Duration(GSS_C_INDEFINITE-1)*time.Second:
		return GSS_C_INDEFINITE - 1
	}

	return uint32(d / time.Second)
}

// Remaining returns the time left before expiry;  indefinite lifetimes report
// math.MaxInt64 and expired ones zero.
func (l GssLifetime) Remaining() time.Duration {
	switch l.Status {
	case GssLifetimeIndefinite:
		return time.Duration(math.MaxInt64)
	case GssLifetimeExpired:
		return 0
	}

	if r := time.Until(l.ExpiresAt); r > 0 {
		return r
	}

	return 0
}

func (l GssLifetime) String() string {
	switch l.Status {
	case GssLifetimeIndefinite:
		return "indefinite"
	case GssLifetimeExpired:
		return "expired"
	}

	return l.ExpiresAt.Format(time.RFC3339)
}
