// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"fmt"
	"strings"
	"time"

	"github.com/jcmturner/gokrb5/v8/client"
	"github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/credentials"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/golang-auth/go-gssctx"
)

// TicketSource supplies the initiator's identity and service tickets.
type TicketSource interface {
	// Principal returns the client principal and its realm.
	Principal() (types.PrincipalName, string)

	// ServiceTicket returns a ticket and session key for spn, eg. "HTTP/www.example.com".
	ServiceTicket(spn string) (messages.Ticket, types.EncryptionKey, error)
}

// ClientTicketSource adapts a gokrb5 client, which obtains and caches tickets from
// the KDC.
type ClientTicketSource struct {
	Client *client.Client
}

func (s ClientTicketSource) Principal() (types.PrincipalName, string) {
	return s.Client.Credentials.CName(), s.Client.Credentials.Domain()
}

func (s ClientTicketSource) ServiceTicket(spn string) (messages.Ticket, types.EncryptionKey, error) {
	if err := s.Client.AffirmLogin(); err != nil {
		return messages.Ticket{}, types.EncryptionKey{}, fmt.Errorf("krb5: checking TGT: %w", err)
	}

	tkt, key, err := s.Client.GetServiceTicket(spn)
	if err != nil {
		return tkt, key, fmt.Errorf("krb5: getting service ticket for %q: %w", spn, err)
	}

	return tkt, key, nil
}

// DefaultTicketSource builds a ticket source from the credentials cache named by
// KRB5CCNAME (default /tmp/krb5cc_UID) and the configuration named by KRB5_CONFIG
// (default /etc/krb5.conf).
func DefaultTicketSource() (TicketSource, error) {
	cfg, err := config.Load(krbConfFile())
	if err != nil {
		return nil, fmt.Errorf("krb5: loading krb5.conf: %w", err)
	}

	ccache, err := credentials.LoadCCache(krbCCFile())
	if err != nil {
		return nil, fmt.Errorf("krb5: loading credentials cache: %w", err)
	}

	cl, err := client.NewFromCCache(ccache, cfg)
	if err != nil {
		return nil, fmt.Errorf("krb5: creating client: %w", err)
	}

	return ClientTicketSource{Client: cl}, nil
}

// KeytabTicketSource builds a ticket source that logs in as principal ("user@REALM")
// with a key from a client keytab.  Empty paths fall back to KRB5_KTNAME and
// KRB5_CONFIG.
func KeytabTicketSource(principal, keytabPath, krbconfPath string) (TicketSource, error) {
	user, realm, ok := strings.Cut(principal, "@")
	if !ok || user == "" || realm == "" {
		return nil, fmt.Errorf("krb5: invalid principal %q, should be user@REALM", principal)
	}

	if keytabPath == "" {
		keytabPath = krbKtFile()
	}
	if krbconfPath == "" {
		krbconfPath = krbConfFile()
	}

	cfg, err := config.Load(krbconfPath)
	if err != nil {
		return nil, fmt.Errorf("krb5: loading krb5.conf: %w", err)
	}

	kt, err := keytab.Load(keytabPath)
	if err != nil {
		return nil, fmt.Errorf("krb5: loading keytab: %w", err)
	}

	return ClientTicketSource{Client: client.NewWithKeytab(user, realm, kt, cfg)}, nil
}

type cred struct {
	usage   gssctx.CredUsage
	name    *name // nil for an acceptor that will use any key in its keytab
	tickets TicketSource
	keytab  *keytab.Keytab
	expires time.Time
}

func (c *cred) lifetime() uint32 {
	return lifetimeUntil(c.expires)
}

// keytabHas reports whether kt holds a key for n.
func keytabHas(kt *keytab.Keytab, n *name) bool {
	for _, e := range kt.Entries {
		pn := types.PrincipalName{NameType: e.Principal.NameType, NameString: e.Principal.Components}
		if n.matches(pn, e.Principal.Realm) {
			return true
		}
	}

	return false
}

// keytabPrincipal names the first entry of kt, for acceptor credentials acquired
// without a name.
func keytabPrincipal(kt *keytab.Keytab) (*name, bool) {
	if len(kt.Entries) == 0 {
		return nil, false
	}

	p := kt.Entries[0].Principal
	pn := types.PrincipalName{NameType: p.NameType, NameString: p.Components}

	return newName(pn, p.Realm, gssctx.GSS_KRB5_NT_PRINCIPAL_NAME.Oid()), true
}

// AcquireCred implements gssctx.Mechanism.  Initiator credentials need a ticket source
// whose principal matches name;  acceptor credentials need a keytab holding a key for
// name.
func (m *Mech) AcquireCred(h gssctx.NameHandle, lifetime uint32, mechs []gssctx.Oid, usage gssctx.CredUsage) (gssctx.Status, gssctx.CredHandle, gssctx.OidSetHandle, uint32) {
	if len(mechs) > 0 && !containsOid(mechs, Oid) {
		return failure(gssctx.GSS_S_BAD_MECH, 0), nil, nil, 0
	}

	var want *name
	if h != nil {
		var ok bool
		if want, ok = liveName(h); !ok {
			return failure(gssctx.GSS_S_BAD_NAME, MinorBadHandle), nil, nil, 0
		}
	}

	c := &cred{usage: usage, expires: expiryFrom(lifetime)}

	if usage != gssctx.CredUsageAcceptOnly {
		ts, err := m.tickets()
		if err != nil {
			m.log.Error(err, "no ticket source")
			return failure(gssctx.GSS_S_NO_CRED, MinorNoTickets), nil, nil, 0
		}

		cname, realm := ts.Principal()
		if want != nil && !want.matches(cname, realm) {
			return failure(gssctx.GSS_S_NO_CRED, MinorWrongPrincipal), nil, nil, 0
		}

		c.tickets = ts
		c.name = newName(cname, realm, gssctx.GSS_KRB5_NT_PRINCIPAL_NAME.Oid())
	}

	if usage != gssctx.CredUsageInitiateOnly {
		kt, err := m.keytab()
		if err != nil {
			m.log.Error(err, "no keytab")
			return failure(gssctx.GSS_S_NO_CRED, MinorNoKeytab), nil, nil, 0
		}

		if want != nil && !keytabHas(kt, want) {
			return failure(gssctx.GSS_S_NO_CRED, MinorWrongPrincipal), nil, nil, 0
		}

		c.keytab = kt
		if usage == gssctx.CredUsageAcceptOnly && want != nil {
			c.name = newName(want.principal, want.realm, want.nameType)
		}
	}

	return complete, c, oidSet{}, c.lifetime()
}

// InquireCred implements gssctx.Mechanism.
func (m *Mech) InquireCred(h gssctx.CredHandle) (gssctx.Status, gssctx.NameHandle, uint32, gssctx.CredUsage, gssctx.OidSetHandle) {
	c, ok := h.(*cred)
	if !ok || c == nil {
		return failure(gssctx.GSS_S_NO_CRED, MinorBadHandle), nil, 0, 0, nil
	}

	n := c.name
	if n == nil {
		if n, ok = keytabPrincipal(c.keytab); !ok {
			return failure(gssctx.GSS_S_NO_CRED, MinorNoKeytab), nil, 0, 0, nil
		}
	}

	return complete, newName(n.principal, n.realm, n.nameType), c.lifetime(), c.usage, oidSet{}
}

// ReleaseCred implements gssctx.Mechanism.
func (m *Mech) ReleaseCred(h gssctx.CredHandle) gssctx.Status {
	if c, ok := h.(*cred); !ok || c == nil {
		return failure(gssctx.GSS_S_NO_CRED, MinorBadHandle)
	}

	return complete
}

// ReleaseOidSet implements gssctx.Mechanism.
func (m *Mech) ReleaseOidSet(gssctx.OidSetHandle) gssctx.Status {
	return complete
}

// credFor resolves the credential for a context round, acquiring the default one when
// h is nil.
func (m *Mech) credFor(h gssctx.CredHandle, usage gssctx.CredUsage) (*cred, gssctx.Status) {
	if h == nil {
		st, c, _, _ := m.AcquireCred(nil, 0, nil, usage)
		if st.Failed() {
			return nil, st
		}

		return c.(*cred), complete
	}

	c, ok := h.(*cred)
	if !ok || c == nil {
		return nil, failure(gssctx.GSS_S_NO_CRED, MinorBadHandle)
	}

	if c.usage != gssctx.CredUsageInitiateAndAccept && c.usage != usage {
		return nil, failure(gssctx.GSS_S_NO_CRED, MinorWrongUsage)
	}

	if !c.expires.IsZero() && time.Now().After(c.expires) {
		return nil, failure(gssctx.GSS_S_CREDENTIALS_EXPIRED, MinorExpired)
	}

	return c, complete
}

func containsOid(oids []gssctx.Oid, oid gssctx.Oid) bool {
	for _, o := range oids {
		if o.Equal(oid) {
			return true
		}
	}

	return false
}

func expiryFrom(secs uint32) time.Time {
	if secs == 0 || secs == gssctx.GSS_C_INDEFINITE {
		return time.Time{}
	}

	return time.Now().Add(time.Duration(secs) * time.Second)
}

func lifetimeUntil(t time.Time) uint32 {
	if t.IsZero() {
		return gssctx.GSS_C_INDEFINITE
	}

	secs := time.Until(t) / time.Second
	switch {
	case secs <= 0:
		return 0
	case uint64(secs) >= uint64(gssctx.GSS_C_INDEFINITE):
		return gssctx.GSS_C_INDEFINITE - 1
	}

	return uint32(secs)
}
