// SPDX-License-Identifier: Apache-2.0

package gssctx

// GssNameType describes a GSSAPI Name Type (NT) as described in RFC 2743 § 4.
type GssNameType interface {
	// Oid returns the object identifier corresponding to the name type.
	Oid() Oid
	// OidString returns a printable version of the object identifier.
	OidString() string
	// String returns a printable version of the name type.
	String() string
}

// gssNameTypeImpl implements GssNameType for the well-known name types.
type gssNameTypeImpl int

// NOTE: the order here must match the nameTypes table below.
const (
	// Host-based name form (RFC 2743 § 4.1),      "service@host" or just "service"
	GSS_NT_HOSTBASED_SERVICE gssNameTypeImpl = iota

	// User name form (RFC 2743 § 4.2),            "username" : named local user
	GSS_NT_USER_NAME

	// Machine UID form (RFC 2743 § 4.3),           Numeric user ID in host byte order
	GSS_NT_MACHINE_UID_NAME

	// String UID form (RFC 2743 § 4.4),            Same as GSS_NT_MACHINE_UID_NAME but as a string of digits
	GSS_NT_STRING_UID_NAME

	// Anonymous name type (RFC 2743 § 4.5),        an anonymous principal
	GSS_NT_ANONYMOUS

	// Default name type (RFC 2743 § 4.6),          mechanism-specific default syntax
	GSS_NO_OID

	// Exported name type (RFC 2743 § 4.7),         Mech-independent exported name type from RFC 2743 § 3.2
	GSS_NT_EXPORT_NAME

	// No name type (RFC 2743 § 4.8),               Indicates that no name is being passed
	GSS_NO_NAME

	// Kerberos Principal Name (RFC 1964 § 2.1.1)           Kerberos principal name with optional @REALM
	GSS_KRB5_NT_PRINCIPAL_NAME

	// Kerberos Enterprise Principal Name (RFC 8606 § 5)    Kerberos principal alias
	GSS_KRB5_NT_ENTERPRISE_NAME

	_GSS_NAME_TYPE_LAST
)

var nameTypes = []struct {
	name      string
	oidString string
	oid       Oid
	altOids   []Oid
}{
	GSS_NT_HOSTBASED_SERVICE: {
		"GSS_NT_HOSTBASED_SERVICE", "1.2.840.113554.1.2.1.4",
		Oid{0x2a, 0x86, 0x48, 0x86, 0xf7, 0x12, 0x1, 0x2, 0x1, 0x4},
		[]Oid{
			{0x2b, 0x6, 0x1, 0x5, 0x6, 0x2}, // 1.3.6.1.5.6.2
		},
	},
	GSS_NT_USER_NAME: {
		"GSS_NT_USER_NAME", "1.2.840.113554.1.2.1.1",
		Oid{0x2a, 0x86, 0x48, 0x86, 0xf7, 0x12, 0x1, 0x2, 0x1, 0x1},
		nil,
	},
	GSS_NT_MACHINE_UID_NAME: {
		"GSS_NT_MACHINE_UID_NAME", "1.2.840.113554.1.2.1.2",
		Oid{0x2a, 0x86, 0x48, 0x86, 0xf7, 0x12, 0x1, 0x2, 0x1, 0x2},
		nil,
	},
	GSS_NT_STRING_UID_NAME: {
		"GSS_NT_STRING_UID_NAME", "1.2.840.113554.1.2.1.3",
		Oid{0x2a, 0x86, 0x48, 0x86, 0xf7, 0x12, 0x1, 0x2, 0x1, 0x3},
		nil,
	},
	GSS_NT_ANONYMOUS: {
		"GSS_NT_ANONYMOUS", "1.3.6.1.5.6.3",
		Oid{0x2b, 0x6, 0x1, 0x5, 0x6, 0x3},
		nil,
	},
	GSS_NO_OID: {
		"GSS_NO_OID", "", nil, nil,
	},
	GSS_NT_EXPORT_NAME: {
		"GSS_NT_EXPORT_NAME", "1.3.6.1.5.6.4",
		Oid{0x2b, 0x6, 0x1, 0x5, 0x6, 0x4},
		nil,
	},
	GSS_NO_NAME: {
		"GSS_NO_NAME", "", nil, nil,
	},
	GSS_KRB5_NT_PRINCIPAL_NAME: {
		"GSS_KRB5_NT_PRINCIPAL_NAME", "1.2.840.113554.1.2.2.1",
		Oid{0x2a, 0x86, 0x48, 0x86, 0xf7, 0x12, 0x1, 0x2, 0x2, 0x1},
		[]Oid{
			{0x2a, 0x86, 0x48, 0x82, 0xf7, 0x12, 0x1, 0x2, 0x2}, // 1.2.840.48018.1.2.2
		},
	},
	GSS_KRB5_NT_ENTERPRISE_NAME: {
		"GSS_KRB5_NT_ENTERPRISE_NAME", "1.2.840.113554.1.2.2.6",
		Oid{0x2a, 0x86, 0x48, 0x86, 0xf7, 0x12, 0x1, 0x2, 0x2, 0x6},
		nil,
	},
}

func (nt gssNameTypeImpl) Oid() Oid {
	if nt >= _GSS_NAME_TYPE_LAST {
		panic(ErrBadNameType)
	}

	return nameTypes[nt].oid
}

func (nt gssNameTypeImpl) OidString() string {
	if nt >= _GSS_NAME_TYPE_LAST {
		panic(ErrBadNameType)
	}

	return nameTypes[nt].oidString
}

func (nt gssNameTypeImpl) String() string {
	if nt >= _GSS_NAME_TYPE_LAST {
		panic(ErrBadNameType)
	}

	return nameTypes[nt].name
}

// NameTypeFromOid returns the well-known name type associated with an OID, matching
// alternate OIDs too.  The empty OID maps to GSS_NO_OID.
//
// Returns ErrBadNameType if the OID is not recognized.
func NameTypeFromOid(oid Oid) (GssNameType, error) {
	if len(oid) == 0 {
		return GSS_NO_OID, nil
	}

	for i, nt := range nameTypes {
		if nt.oid.Equal(oid) {
			return gssNameTypeImpl(i), nil
		}

		for _, alt := range nt.altOids {
			if alt.Equal(oid) {
				return gssNameTypeImpl(i), nil
			}
		}
	}

	return nil, ErrBadNameType
}
