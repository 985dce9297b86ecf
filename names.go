// SPDX-License-Identifier: Apache-2.0

package gssctx

import (
	"bytes"
	"fmt"
)

// Name is an imported principal identity (RFC 2743 § 4):  the mechanism's internal form
// of the name together with a display rendering and name type that are computed once,
// when the Name is created.
//
// A Name is exclusively owned by whoever created it and must be released exactly once
// with Release.  Names owned by a Credential or SecContext are released by their owner.
// A Name is not safe for concurrent use.
type Name struct {
	mech     Mechanism
	handle   NameHandle
	display  []byte
	nameType Oid
}

// NoName returns the empty name sentinel, used where RFC 2743 allows GSS_C_NO_NAME.  It
// has no mechanism handle:  it never renders and releasing it does nothing.
func NoName() *Name {
	return &Name{}
}

// ImportName implements GSS_Import_name (RFC 2743 § 2.4.5) followed by GSS_Display_name.
// No partially constructed Name is returned:  if the display step fails the imported
// handle is released and the error returned.
//
// An empty raw value with no name type returns NoName() without calling the mechanism.
func ImportName(mech Mechanism, raw []byte, nameType Oid) (*Name, error) {
	if len(raw) == 0 && len(nameType) == 0 {
		return NoName(), nil
	}

	if mech == nil {
		return nil, fmt.Errorf("gss_import_name: %w", ErrBadMech)
	}

	st, h := mech.ImportName(raw, nameType)
	if st.Failed() {
		if h != nil {
			_ = mech.ReleaseName(h)
		}
		return nil, makeStatus("gss_import_name", st, mech)
	}
	if h == nil {
		return nil, &AllocationFailure{Op: "gss_import_name", What: "name handle"}
	}

	return nameFromHandle(mech, h)
}

// ImportNameString is a convenience wrapper around ImportName for string names of a
// well-known type.
func ImportNameString(mech Mechanism, name string, nameType GssNameType) (*Name, error) {
	return ImportName(mech, []byte(name), nameType.Oid())
}

// nameFromHandle takes ownership of a handle produced by the mechanism (credential
// inquiry, context acceptance) and caches its display form.  The handle is released
// if that fails.
func nameFromHandle(mech Mechanism, h NameHandle) (*Name, error) {
	n := &Name{mech: mech, handle: h}

	st, disp, nt := mech.DisplayName(h)
	if st.Failed() {
		_ = n.Release()
		return nil, makeStatus("gss_display_name", st, mech)
	}

	n.display = bytes.Clone(disp)
	n.nameType = nt.Clone()

	return n, nil
}

// IsNoName reports whether n is the empty name sentinel (or a nil or released Name).
func (n *Name) IsNoName() bool {
	return n == nil || n.handle == nil
}

// Display returns the cached rendering of the name and its name type OID.  It never
// calls the mechanism.
func (n *Name) Display() ([]byte, Oid) {
	if n == nil {
		return nil, nil
	}

	return n.display, n.nameType
}

// String returns the cached rendering as a string.
func (n *Name) String() string {
	if n == nil {
		return ""
	}

	return string(n.display)
}

// NameType maps the cached name type OID to a well-known name type.
func (n *Name) NameType() (GssNameType, error) {
	if n == nil {
		return GSS_NO_NAME, nil
	}

	return NameTypeFromOid(n.nameType)
}

// Mechanism returns the mechanism that owns the name's handle, or nil for NoName.
func (n *Name) Mechanism() Mechanism {
	if n == nil {
		return nil
	}

	return n.mech
}

// Duplicate implements GSS_Duplicate_name (RFC 2743 § 2.4.16).  The copy is
// independently owned and must be released separately.  The cached rendering is copied
// rather than recomputed.
func (n *Name) Duplicate() (*Name, error) {
	if n.IsNoName() {
		return NoName(), nil
	}

	st, h := n.mech.DuplicateName(n.handle)
	if st.Failed() {
		if h != nil {
			_ = n.mech.ReleaseName(h)
		}
		return nil, makeStatus("gss_duplicate_name", st, n.mech)
	}
	if h == nil {
		return nil, &AllocationFailure{Op: "gss_duplicate_name", What: "name handle"}
	}

	return &Name{
		mech:     n.mech,
		handle:   h,
		display:  bytes.Clone(n.display),
		nameType: n.nameType.Clone(),
	}, nil
}

// Release implements GSS_Release_name (RFC 2743 § 2.4.6).  It is safe to call more than
// once and on NoName.
func (n *Name) Release() error {
	if n == nil {
		return nil
	}

	n.display = nil
	n.nameType = nil

	if n.handle == nil {
		return nil
	}

	h := n.handle
	n.handle = nil

	return makeStatus("gss_release_name", n.mech.ReleaseName(h), n.mech)
}
