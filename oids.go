// SPDX-License-Identifier: Apache-2.0

package gssctx

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/jcmturner/gofork/encoding/asn1"
)

// Oid represents an Object Identifier as used throughout GSSAPI. Elements of the byte slice
// represent the DER encoding of the object identifier, excluding the ASN.1 header (tag value
// 0x06 and length).  Oid values are never modified after creation;  equality is byte-wise.
type Oid []byte

// Equal reports whether o and other contain the same bytes.
func (o Oid) Equal(other Oid) bool {
	return bytes.Equal(o, other)
}

// Clone returns an independent copy of the OID.
func (o Oid) Clone() Oid {
	if o == nil {
		return nil
	}

	return slices.Clone(o)
}

// DER returns the full DER encoding of the OID including the ASN.1 header.
func (o Oid) DER() []byte {
	return append(derHeader(0x06, len(o)), o...)
}

// String returns the dotted-decimal form of the OID, or the empty string for an
// empty OID.
func (o Oid) String() string {
	if len(o) == 0 {
		return ""
	}

	var id asn1.ObjectIdentifier
	if _, err := asn1.Unmarshal(o.DER(), &id); err != nil {
		return fmt.Sprintf("<invalid OID %x>", []byte(o))
	}

	return id.String()
}

// ParseOid converts a dotted-decimal string such as "1.2.840.113554.1.2.2" into an Oid.
func ParseOid(s string) (Oid, error) {
	parts := strings.Split(s, ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("gssctx: bad OID %q: at least two arcs are required", s)
	}

	id := make(asn1.ObjectIdentifier, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("gssctx: bad OID %q: invalid arc %q", s, p)
		}
		id[i] = n
	}

	der, err := asn1.Marshal(id)
	if err != nil {
		return nil, fmt.Errorf("gssctx: bad OID %q: %w", s, err)
	}

	return stripDERHeader(der)
}

// MustParseOid wraps ParseOid in a panic, for use in package-level variables.
func MustParseOid(s string) Oid {
	o, err := ParseOid(s)
	if err != nil {
		panic(err)
	}

	return o
}

func derHeader(tag byte, l int) []byte {
	switch {
	case l < 0x80:
		return []byte{tag, byte(l)}
	case l <= 0xff:
		return []byte{tag, 0x81, byte(l)}
	default:
		return []byte{tag, 0x82, byte(l >> 8), byte(l)}
	}
}

func stripDERHeader(der []byte) (Oid, error) {
	if len(der) < 2 {
		return nil, fmt.Errorf("gssctx: DER encoding too short")
	}

	hdrLen := 2
	if der[1]&0x80 != 0 {
		hdrLen += int(der[1] & 0x7f)
	}
	if len(der) < hdrLen {
		return nil, fmt.Errorf("gssctx: DER encoding too short")
	}

	return Oid(der[hdrLen:]), nil
}

// OidSet owns a set of OIDs produced by a mechanism (from credential acquisition or
// inquiry).  The set is ordered and may contain duplicates.  It is released exactly
// once;  further calls to Release are no-ops.
type OidSet struct {
	mech   Mechanism
	handle OidSetHandle
}

func newOidSet(mech Mechanism, h OidSetHandle) *OidSet {
	return &OidSet{mech: mech, handle: h}
}

// Oids re-derives the members of the set, in order, as independent copies.  A released
// or empty set returns an empty slice.
func (s *OidSet) Oids() []Oid {
	if s == nil || s.handle == nil {
		return []Oid{}
	}

	src := s.handle.Oids()
	ret := make([]Oid, len(src))
	for i, o := range src {
		ret[i] = o.Clone()
	}

	return ret
}

// Len returns the number of members in the set.
func (s *OidSet) Len() int {
	if s == nil || s.handle == nil {
		return 0
	}

	return len(s.handle.Oids())
}

// Contains reports whether oid is a member of the set.
func (s *OidSet) Contains(oid Oid) bool {
	if s == nil || s.handle == nil {
		return false
	}

	return slices.ContainsFunc(s.handle.Oids(), oid.Equal)
}

// Release returns the set to the mechanism.
func (s *OidSet) Release() error {
	if s == nil || s.handle == nil {
		return nil
	}

	h := s.handle
	s.handle = nil

	return makeStatus("gss_release_oid_set", s.mech.ReleaseOidSet(h), s.mech)
}
