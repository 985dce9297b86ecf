// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"os"
	"slices"
	"strings"

	"github.com/jcmturner/gokrb5/v8/iana/nametype"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/golang-auth/go-gssctx"
)

// name is a Kerberos principal.  An empty realm matches any realm.
type name struct {
	principal types.PrincipalName
	realm     string
	nameType  gssctx.Oid
}

func newName(pn types.PrincipalName, realm string, nameType gssctx.Oid) *name {
	return &name{
		principal: types.PrincipalName{NameType: pn.NameType, NameString: slices.Clone(pn.NameString)},
		realm:     realm,
		nameType:  nameType.Clone(),
	}
}

func (n *name) String() string {
	s := n.principal.PrincipalNameString()
	if n.realm != "" {
		s += "@" + n.realm
	}

	return s
}

// matches compares principals the way RFC 4120 § 6.2 says to:  the name type is not
// significant.
func (n *name) matches(pn types.PrincipalName, realm string) bool {
	if !n.principal.Equal(pn) {
		return false
	}

	return n.realm == "" || realm == "" || n.realm == realm
}

// spn is the service principal in the form gokrb5 clients expect, eg. "HTTP/host".
func (n *name) spn() string {
	return n.principal.PrincipalNameString()
}

type oidSet struct{}

func (oidSet) Oids() []gssctx.Oid {
	return []gssctx.Oid{Oid}
}

func liveName(h gssctx.NameHandle) (*name, bool) {
	n, ok := h.(*name)
	return n, ok && n != nil
}

// ImportName implements gssctx.Mechanism.  Host-based service names become
// KRB_NT_SRV_HST principals without a realm;  user and principal names are parsed as
// "primary/instance@REALM".
func (m *Mech) ImportName(raw []byte, nameType gssctx.Oid) (gssctx.Status, gssctx.NameHandle) {
	if len(raw) == 0 {
		return failure(gssctx.GSS_S_BAD_NAME, 0), nil
	}

	nt, err := gssctx.NameTypeFromOid(nameType)
	if err != nil {
		return failure(gssctx.GSS_S_BAD_NAMETYPE, 0), nil
	}

	s := string(raw)

	switch nt {
	case gssctx.GSS_NT_HOSTBASED_SERVICE:
		service, host, found := strings.Cut(s, "@")
		if !found {
			if host, err = os.Hostname(); err != nil {
				return failure(gssctx.GSS_S_BAD_NAME, 0), nil
			}
		}
		if service == "" || host == "" {
			return failure(gssctx.GSS_S_BAD_NAME, 0), nil
		}

		pn := types.PrincipalName{
			NameType:   nametype.KRB_NT_SRV_HST,
			NameString: []string{service, strings.ToLower(host)},
		}

		return complete, newName(pn, "", nt.Oid())

	case gssctx.GSS_NO_OID, gssctx.GSS_NT_USER_NAME, gssctx.GSS_KRB5_NT_PRINCIPAL_NAME:
		pn, realm := types.ParseSPNString(s)
		if slices.Contains(pn.NameString, "") {
			return failure(gssctx.GSS_S_BAD_NAME, 0), nil
		}

		if nt == gssctx.GSS_NO_OID {
			nt = gssctx.GSS_KRB5_NT_PRINCIPAL_NAME
		}

		return complete, newName(pn, realm, nt.Oid())
	}

	return failure(gssctx.GSS_S_BAD_NAMETYPE, 0), nil
}

// DisplayName implements gssctx.Mechanism.
func (m *Mech) DisplayName(h gssctx.NameHandle) (gssctx.Status, []byte, gssctx.Oid) {
	n, ok := liveName(h)
	if !ok {
		return failure(gssctx.GSS_S_BAD_NAME, MinorBadHandle), nil, nil
	}

	return complete, []byte(n.String()), n.nameType
}

// ReleaseName implements gssctx.Mechanism.
func (m *Mech) ReleaseName(h gssctx.NameHandle) gssctx.Status {
	if _, ok := liveName(h); !ok {
		return failure(gssctx.GSS_S_BAD_NAME, MinorBadHandle)
	}

	return complete
}

// DuplicateName implements gssctx.Mechanism.
func (m *Mech) DuplicateName(h gssctx.NameHandle) (gssctx.Status, gssctx.NameHandle) {
	n, ok := liveName(h)
	if !ok {
		return failure(gssctx.GSS_S_BAD_NAME, MinorBadHandle), nil
	}

	return complete, newName(n.principal, n.realm, n.nameType)
}
