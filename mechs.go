// SPDX-License-Identifier: Apache-2.0

package gssctx

// GssMech describes a GSSAPI mechanism identified by its object identifier.
type GssMech interface {
	// Oid returns the object identifier corresponding to the mechanism.
	Oid() Oid
	// OidString returns a printable version of the object identifier associated with the mechanism.
	OidString() string
	// String returns a printable version of the mechanism name.
	String() string
}

// gssMechImpl implements GssMech for the well-known mechanisms.
type gssMechImpl int

// Well known GSSAPI mechanisms.
const (
	// Official Kerberos Mechanism (IETF)
	GSS_MECH_KRB5 gssMechImpl = iota
	GSS_MECH_IAKERB
	GSS_MECH_SPNEGO
	_GSS_MECH_LAST
)

var mechs = []struct {
	mech      string
	oidString string
	oid       Oid
	altOids   []Oid
}{
	GSS_MECH_KRB5: {
		"GSS_MECH_KRB5", "1.2.840.113554.1.2.2",
		Oid{0x2a, 0x86, 0x48, 0x86, 0xf7, 0x12, 0x1, 0x2, 0x2},
		[]Oid{
			{0x2b, 0x6, 0x1, 0x5, 0x2},                          // 1.3.6.1.5.2
			{0x2a, 0x86, 0x48, 0x82, 0xf7, 0x12, 0x1, 0x2, 0x2}, // 1.2.840.48018.1.2.2
		},
	},
	GSS_MECH_IAKERB: {
		"GSS_MECH_IAKERB", "1.3.6.1.5.2.5",
		Oid{0x2b, 0x6, 0x1, 0x5, 0x2, 0x5},
		nil,
	},
	GSS_MECH_SPNEGO: {
		"GSS_MECH_SPNEGO", "1.3.6.1.5.5.2",
		Oid{0x2b, 0x6, 0x1, 0x5, 0x5, 0x2},
		nil,
	},
}

func (mech gssMechImpl) Oid() Oid {
	if mech >= _GSS_MECH_LAST {
		panic(ErrBadMech)
	}

	return mechs[mech].oid
}

func (mech gssMechImpl) OidString() string {
	if mech >= _GSS_MECH_LAST {
		panic(ErrBadMech)
	}

	return mechs[mech].oidString
}

func (mech gssMechImpl) String() string {
	if mech >= _GSS_MECH_LAST {
		panic(ErrBadMech)
	}

	return mechs[mech].mech
}

// MechFromOid returns the well-known mechanism for an OID, matching alternate OIDs too.
//
// Returns ErrBadMech if the OID is not recognized.
func MechFromOid(oid Oid) (GssMech, error) {
	for i, mech := range mechs {
		if mech.oid.Equal(oid) {
			return gssMechImpl(i), nil
		}

		for _, alt := range mech.altOids {
			if alt.Equal(oid) {
				return gssMechImpl(i), nil
			}
		}
	}

	return nil, ErrBadMech
}

// MechName returns a printable name for a mechanism OID:  the well-known name when
// there is one, otherwise the dotted OID.
func MechName(oid Oid) string {
	if m, err := MechFromOid(oid); err == nil {
		return m.String()
	}

	return oid.String()
}
