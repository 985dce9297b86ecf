// SPDX-License-Identifier: Apache-2.0

package loopback

import (
	"bytes"
	"math"
	"slices"

	"github.com/golang-auth/go-gssctx"
)

type name struct {
	raw      []byte
	nameType gssctx.Oid
}

func (n *name) equal(o *name) bool {
	return bytes.Equal(n.raw, o.raw)
}

type cred struct {
	name     *name
	usage    gssctx.CredUsage
	lifetime uint32
}

type oidSet struct {
	oids []gssctx.Oid
}

func (s *oidSet) Oids() []gssctx.Oid {
	return s.oids
}

func (m *Mech) newName(raw []byte, nameType gssctx.Oid) *name {
	n := &name{raw: slices.Clone(raw), nameType: nameType.Clone()}
	m.track(n, "name")

	return n
}

func (m *Mech) newOidSet() *oidSet {
	s := &oidSet{oids: []gssctx.Oid{Oid}}
	m.track(s, "oidset")

	return s
}

func (m *Mech) liveName(h gssctx.NameHandle) (*name, bool) {
	n, ok := h.(*name)
	if !ok || !m.isLive(n) {
		return nil, false
	}

	return n, true
}

// ImportName implements gssctx.Mechanism.  Any bytes are accepted;  a missing name
// type means GSS_NT_USER_NAME.
func (m *Mech) ImportName(raw []byte, nameType gssctx.Oid) (gssctx.Status, gssctx.NameHandle) {
	if st, ok := m.fault("gss_import_name"); ok {
		return st, nil
	}

	if len(raw) == 0 {
		return failure(gssctx.GSS_S_BAD_NAME, 0), nil
	}

	if len(nameType) == 0 {
		nameType = gssctx.GSS_NT_USER_NAME.Oid()
	} else if _, err := gssctx.NameTypeFromOid(nameType); err != nil {
		return failure(gssctx.GSS_S_BAD_NAMETYPE, 0), nil
	}

	return complete, m.newName(raw, nameType)
}

// DisplayName implements gssctx.Mechanism.
func (m *Mech) DisplayName(h gssctx.NameHandle) (gssctx.Status, []byte, gssctx.Oid) {
	if st, ok := m.fault("gss_display_name"); ok {
		return st, nil, nil
	}

	n, ok := m.liveName(h)
	if !ok {
		return failure(gssctx.GSS_S_BAD_NAME, MinorBadHandle), nil, nil
	}

	return complete, slices.Clone(n.raw), n.nameType.Clone()
}

// ReleaseName implements gssctx.Mechanism.
func (m *Mech) ReleaseName(h gssctx.NameHandle) gssctx.Status {
	if st, ok := m.fault("gss_release_name"); ok {
		return st
	}

	if !m.untrack(h) {
		return failure(gssctx.GSS_S_BAD_NAME, MinorBadHandle)
	}

	return complete
}

// DuplicateName implements gssctx.Mechanism.
func (m *Mech) DuplicateName(h gssctx.NameHandle) (gssctx.Status, gssctx.NameHandle) {
	if st, ok := m.fault("gss_duplicate_name"); ok {
		return st, nil
	}

	n, ok := m.liveName(h)
	if !ok {
		return failure(gssctx.GSS_S_BAD_NAME, MinorBadHandle), nil
	}

	return complete, m.newName(n.raw, n.nameType)
}

// AcquireCred implements gssctx.Mechanism.  Credentials are never stored anywhere:
// acquiring one always succeeds for a valid name or when a default principal is set.
func (m *Mech) AcquireCred(h gssctx.NameHandle, lifetime uint32, mechs []gssctx.Oid, usage gssctx.CredUsage) (gssctx.Status, gssctx.CredHandle, gssctx.OidSetHandle, uint32) {
	if st, ok := m.fault("gss_acquire_cred"); ok {
		return st, nil, nil, 0
	}

	if mechs != nil && !slices.ContainsFunc(mechs, Oid.Equal) {
		return failure(gssctx.GSS_S_BAD_MECH, 0), nil, nil, 0
	}

	var n *name
	if h != nil {
		var ok bool
		if n, ok = m.liveName(h); !ok {
			return failure(gssctx.GSS_S_BAD_NAME, MinorBadHandle), nil, nil, 0
		}
		n = &name{raw: slices.Clone(n.raw), nameType: n.nameType.Clone()}
	} else {
		var st gssctx.Status
		if n, st = m.defaultName(); st.Failed() {
			return st, nil, nil, 0
		}
	}

	if lifetime == 0 {
		lifetime = gssctx.GSS_C_INDEFINITE
	}

	c := &cred{name: n, usage: usage, lifetime: lifetime}
	m.track(c, "credential")

	return complete, c, m.newOidSet(), lifetime
}

func (m *Mech) defaultName() (*name, gssctx.Status) {
	if m.defaultPrincipal == "" {
		return nil, failure(gssctx.GSS_S_NO_CRED, MinorNoDefaultPrincipal)
	}

	return &name{raw: []byte(m.defaultPrincipal), nameType: gssctx.GSS_NT_USER_NAME.Oid()}, complete
}

// InquireCred implements gssctx.Mechanism.
func (m *Mech) InquireCred(h gssctx.CredHandle) (gssctx.Status, gssctx.NameHandle, uint32, gssctx.CredUsage, gssctx.OidSetHandle) {
	if st, ok := m.fault("gss_inquire_cred"); ok {
		return st, nil, 0, 0, nil
	}

	c, ok := h.(*cred)
	if !ok || !m.isLive(c) {
		return failure(gssctx.GSS_S_DEFECTIVE_CREDENTIAL, MinorBadHandle), nil, 0, 0, nil
	}

	return complete, m.newName(c.name.raw, c.name.nameType), c.lifetime, c.usage, m.newOidSet()
}

// ReleaseCred implements gssctx.Mechanism.
func (m *Mech) ReleaseCred(h gssctx.CredHandle) gssctx.Status {
	if st, ok := m.fault("gss_release_cred"); ok {
		return st
	}

	if !m.untrack(h) {
		return failure(gssctx.GSS_S_NO_CRED, MinorBadHandle)
	}

	return complete
}

// ReleaseOidSet implements gssctx.Mechanism.
func (m *Mech) ReleaseOidSet(s gssctx.OidSetHandle) gssctx.Status {
	if st, ok := m.fault("gss_release_oid_set"); ok {
		return st
	}

	if !m.untrack(s) {
		return failure(gssctx.GSS_S_CALL_BAD_STRUCTURE, MinorBadHandle)
	}

	return complete
}

// credFor resolves the credential for a context call, falling back to the default
// principal when h is nil.
func (m *Mech) credFor(h gssctx.CredHandle, usage gssctx.CredUsage) (*cred, gssctx.Status) {
	if h == nil {
		n, st := m.defaultName()
		if st.Failed() {
			return nil, st
		}
		return &cred{name: n, usage: usage, lifetime: math.MaxUint32}, complete
	}

	c, ok := h.(*cred)
	if !ok || !m.isLive(c) {
		return nil, failure(gssctx.GSS_S_NO_CRED, MinorBadHandle)
	}

	if c.usage != gssctx.CredUsageInitiateAndAccept && c.usage != usage {
		return nil, failure(gssctx.GSS_S_NO_CRED, MinorWrongUsage)
	}

	return c, complete
}
