// SPDX-License-Identifier: Apache-2.0

package gssctx

import (
	"errors"
	"fmt"
	"time"
)

// CredUsage defines the intended use of a credential.
type CredUsage int

const (
	CredUsageInitiateAndAccept CredUsage = iota // credential can be used to initiate or accept contexts
	CredUsageInitiateOnly                       // credential can only be used to initiate contexts
	CredUsageAcceptOnly                         // credential can only be used to accept contexts
)

func (u CredUsage) String() string {
	switch u {
	case CredUsageInitiateAndAccept:
		return "initiate and accept"
	case CredUsageInitiateOnly:
		return "initiate"
	case CredUsageAcceptOnly:
		return "accept"
	}

	return fmt.Sprintf("CredUsage(%d)", int(u))
}

// CredentialOptions holds the optional parameters of GSS_Acquire_cred.
type CredentialOptions struct {
	Mechs    []Oid         // desired mechanisms, nil for the mechanism default
	Lifetime time.Duration // desired lifetime, zero for the default
}

// CredentialOption configures AcquireCredential.
type CredentialOption func(o *CredentialOptions)

// WithCredentialMechs requests a specific set of mechanisms, corresponding to the
// desired_mechs parameter of GSS_Acquire_cred.
func WithCredentialMechs(mechs ...Oid) CredentialOption {
	return func(o *CredentialOptions) {
		o.Mechs = mechs
	}
}

// WithCredentialLifetime requests a non-default lifetime, corresponding to the
// lifetime_req parameter of GSS_Acquire_cred.
func WithCredentialLifetime(d time.Duration) CredentialOption {
	return func(o *CredentialOptions) {
		o.Lifetime = d
	}
}

// Credential is a usable set of mechanism credentials for a principal.  After successful
// construction the name and mechanism set are always populated.  The Credential owns both
// and releases them, along with the mechanism credential, in Release.
//
// A Credential is not safe for concurrent use.
type Credential struct {
	mech     Mechanism
	handle   CredHandle
	mechs    *OidSet
	lifetime uint32
	usage    CredUsage
	name     *Name
}

// AcquireCredential implements GSS_Acquire_cred (RFC 2743 § 2.1.1).
//
// When name is a real (non-sentinel) Name it is duplicated, so the credential never
// aliases the caller's Name, and usage is recorded as given.  Otherwise the fresh
// credential is inquired and the name, lifetime, usage and mechanism set are those
// reported by the mechanism.
//
// On failure nothing acquired along the way is leaked.
func AcquireCredential(mech Mechanism, name *Name, usage CredUsage, opts ...CredentialOption) (*Credential, error) {
	if mech == nil {
		return nil, fmt.Errorf("gss_acquire_cred: %w", ErrBadMech)
	}

	o := CredentialOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	var nameHandle NameHandle
	if !name.IsNoName() {
		if !mechEqual(name.mech, mech) {
			return nil, &PolicyViolation{Op: "gss_acquire_cred", Err: ErrMechanismMismatch}
		}
		nameHandle = name.handle
	}

	st, h, granted, lifetime := mech.AcquireCred(nameHandle, secondsFromDuration(o.Lifetime), o.Mechs, usage)
	if st.Failed() {
		if granted != nil {
			_ = mech.ReleaseOidSet(granted)
		}
		if h != nil {
			_ = mech.ReleaseCred(h)
		}
		return nil, makeStatus("gss_acquire_cred", st, mech)
	}

	c := &Credential{mech: mech, handle: h, lifetime: lifetime, usage: usage}
	if granted != nil {
		c.mechs = newOidSet(mech, granted)
	}

	success := false
	defer func() {
		if !success {
			_ = c.Release()
		}
	}()

	if h == nil {
		return nil, &AllocationFailure{Op: "gss_acquire_cred", What: "credential handle"}
	}

	var err error
	if !name.IsNoName() {
		err = c.adoptCallerName(name)
	} else {
		err = c.inquire()
	}
	if err != nil {
		return nil, err
	}

	success = true
	return c, nil
}

func (c *Credential) adoptCallerName(name *Name) error {
	if c.mechs == nil {
		return &AllocationFailure{Op: "gss_acquire_cred", What: "mechanism set"}
	}

	dup, err := name.Duplicate()
	if err != nil {
		return err
	}

	c.name = dup
	return nil
}

// inquire replaces everything but the handle with the mechanism's view of the
// credential.
func (c *Credential) inquire() error {
	st, nh, lifetime, usage, set := c.mech.InquireCred(c.handle)
	if st.Failed() {
		if nh != nil {
			_ = c.mech.ReleaseName(nh)
		}
		if set != nil {
			_ = c.mech.ReleaseOidSet(set)
		}
		return makeStatus("gss_inquire_cred", st, c.mech)
	}

	inquired := newOidSet(c.mech, set)

	if nh == nil || set == nil {
		_ = inquired.Release()
		if nh != nil {
			_ = c.mech.ReleaseName(nh)
		}
		return &AllocationFailure{Op: "gss_inquire_cred", What: "credential name or mechanism set"}
	}

	// the set granted by acquire is superseded by the inquired one
	if err := c.mechs.Release(); err != nil {
		_ = inquired.Release()
		_ = c.mech.ReleaseName(nh)
		return err
	}
	c.mechs = inquired

	name, err := nameFromHandle(c.mech, nh)
	if err != nil {
		return err
	}

	c.name = name
	c.lifetime = lifetime
	c.usage = usage

	return nil
}

// Mechanisms returns the raw OIDs of the credential's mechanisms, in order.  The
// slice is re-derived from the owned set on every call.
func (c *Credential) Mechanisms() []Oid {
	return c.mechs.Oids()
}

// Name returns the credential's principal.  The Name remains owned by the Credential
// and is released with it;  use Name().Duplicate() to keep a copy.
func (c *Credential) Name() *Name {
	return c.name
}

// Usage returns the credential usage.
func (c *Credential) Usage() CredUsage {
	return c.usage
}

// Lifetime returns the credential lifetime.  A mechanism lifetime of zero is reported
// as indefinite.
func (c *Credential) Lifetime() GssLifetime {
	return lifetimeFromSeconds(c.lifetime)
}

// Mechanism returns the mechanism that owns the credential.
func (c *Credential) Mechanism() Mechanism {
	return c.mech
}

// Release implements GSS_Release_cred (RFC 2743 § 2.1.2), releasing the owned name and
// mechanism set first.  It tolerates any part being unset and is safe to call more
// than once.
func (c *Credential) Release() error {
	if c == nil {
		return nil
	}

	var errs []error

	if c.name != nil {
		errs = append(errs, c.name.Release())
		c.name = nil
	}

	if c.mechs != nil {
		errs = append(errs, c.mechs.Release())
		c.mechs = nil
	}

	if c.handle != nil {
		h := c.handle
		c.handle = nil
		errs = append(errs, makeStatus("gss_release_cred", c.mech.ReleaseCred(h), c.mech))
	}

	return errors.Join(errs...)
}

func mechEqual(a, b Mechanism) bool {
	if a == nil || b == nil {
		return a == b
	}

	return a.Oid().Equal(b.Oid())
}
