// SPDX-License-Identifier: Apache-2.0

/*
Package krb5 is a pure-Go Kerberos V mechanism (RFC 4121) built on gokrb5.

Normally this package is imported by an application's main package so that the
mechanism registers itself.  Code that uses the mechanism asks the registry for it by
name, which keeps the choice of mechanisms in one place:

	package main

	import (
		_ "github.com/golang-auth/go-gssctx/mechs/krb5"
		"stuff"
	)

	stuff.doStuff("kerberos_v5")

and then:

	package stuff

	import "github.com/golang-auth/go-gssctx"

	func doStuff(name string) {
		mech := gssctx.MustNewMechanism(name)
		...
	}

Initiator credentials come from a TicketSource.  The default source is a gokrb5 client
built from the credentials cache named by KRB5CCNAME and the configuration named by
KRB5_CONFIG.  Acceptor credentials come from the keytab named by KRB5_KTNAME.
*/
package krb5

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/jcmturner/gokrb5/v8/iana/errorcode"
	"github.com/jcmturner/gokrb5/v8/keytab"

	"github.com/golang-auth/go-gssctx"
)

// Oid is the Kerberos V mechanism OID from RFC 1964.
var Oid = gssctx.GSS_MECH_KRB5.Oid()

// Name is the registry name.
const Name = "kerberos_v5"

func init() {
	gssctx.RegisterMechanism(Name, func() (gssctx.Mechanism, error) {
		return New(), nil
	})
}

// DefaultClockSkew is the maximum tolerable difference between the clocks of the two
// peers.  Increase it where synchronisation between clients and servers is poor.
const DefaultClockSkew = 10 * time.Second

// AcceptorISN selects how the acceptor's initial sequence number is derived when the
// context does not use mutual authentication.  Without mutual authentication the
// acceptor has no way to tell the initiator its own sequence number.
type AcceptorISN int

const (
	// AcceptorISNInitiator uses the initiator's initial sequence number.  MIT Kerberos
	// and Microsoft do this.
	AcceptorISNInitiator AcceptorISN = iota

	// AcceptorISNZero starts the acceptor at zero, for compatibility with Heimdal.
	AcceptorISNZero
)

// Local minor status codes.  Kerberos protocol errors are reported as
// KrbMinorBase plus the RFC 4120 error code.
const (
	MinorBadHandle uint32 = iota + 1
	MinorNoTickets
	MinorNoKeytab
	MinorWrongPrincipal
	MinorWrongUsage
	MinorTokenFormat
	MinorTokenOrder
	MinorCrypto
	MinorMutualFailed
	MinorExpired
	MinorNoSubkey
)

// KrbMinorBase is the com_err base of the MIT krb5 error table.  A minor status of
// KrbMinorBase+n reports Kerberos error code n.
const KrbMinorBase uint32 = 0x96c73a00

var minorText = map[uint32]string{
	MinorBadHandle:      "handle was not issued by the Kerberos mechanism",
	MinorNoTickets:      "no ticket source is available",
	MinorNoKeytab:       "keytab could not be loaded",
	MinorWrongPrincipal: "principal does not match the credential",
	MinorWrongUsage:     "credential cannot be used for this operation",
	MinorTokenFormat:    "context token could not be decoded",
	MinorTokenOrder:     "unexpected context token",
	MinorCrypto:         "cryptographic operation failed",
	MinorMutualFailed:   "mutual authentication failed",
	MinorExpired:        "context lifetime has elapsed",
	MinorNoSubkey:       "acceptor subkey was not negotiated",
}

// Mech implements gssctx.Mechanism for Kerberos V.  A Mech may be shared between
// goroutines;  individual handles may not.
type Mech struct {
	tickets     func() (TicketSource, error)
	keytab      func() (*keytab.Keytab, error)
	clockSkew   time.Duration
	acceptorISN AcceptorISN
	replay      bool
	log         logr.Logger
}

var _ gssctx.Mechanism = (*Mech)(nil)
var _ gssctx.MinorStatusDescriber = (*Mech)(nil)

// Option configures a Mech.
type Option func(m *Mech)

// WithTicketSource sets the source of initiator service tickets.
func WithTicketSource(ts TicketSource) Option {
	return func(m *Mech) {
		m.tickets = func() (TicketSource, error) { return ts, nil }
	}
}

// WithKeytab sets the acceptor keytab.
func WithKeytab(kt *keytab.Keytab) Option {
	return func(m *Mech) {
		m.keytab = func() (*keytab.Keytab, error) { return kt, nil }
	}
}

// WithKeytabFile loads the acceptor keytab from path each time acceptor credentials
// are acquired, so that key rotation is picked up.
func WithKeytabFile(path string) Option {
	return func(m *Mech) {
		m.keytab = func() (*keytab.Keytab, error) { return keytab.Load(path) }
	}
}

// WithClockSkew sets the tolerated clock difference between the peers.
func WithClockSkew(d time.Duration) Option {
	return func(m *Mech) {
		m.clockSkew = d
	}
}

// WithAcceptorISN sets the acceptor initial sequence number policy.
func WithAcceptorISN(p AcceptorISN) Option {
	return func(m *Mech) {
		m.acceptorISN = p
	}
}

// WithReplayCache enables or disables the acceptor's authenticator replay cache.  It
// is enabled by default.
func WithReplayCache(enabled bool) Option {
	return func(m *Mech) {
		m.replay = enabled
	}
}

// WithLogger sets a logger for handshake events.
func WithLogger(log logr.Logger) Option {
	return func(m *Mech) {
		m.log = log
	}
}

// New returns a Kerberos V mechanism configured from the environment unless options
// say otherwise.
func New(opts ...Option) *Mech {
	m := &Mech{
		tickets:   DefaultTicketSource,
		keytab:    func() (*keytab.Keytab, error) { return keytab.Load(krbKtFile()) },
		clockSkew: DefaultClockSkew,
		replay:    true,
		log:       logr.Discard(),
	}

	for _, o := range opts {
		o(m)
	}

	return m
}

// Oid implements gssctx.Mechanism.
func (m *Mech) Oid() gssctx.Oid {
	return Oid
}

// MechAttrs implements gssctx.MechAttrReporter.
func (m *Mech) MechAttrs() ([]gssctx.GssMechAttr, []gssctx.GssMechAttr) {
	has := []gssctx.GssMechAttr{
		gssctx.GSS_MA_MECH_CONCRETE, gssctx.GSS_MA_ITOK_FRAMED,
		gssctx.GSS_MA_AUTH_INIT, gssctx.GSS_MA_AUTH_TARG,
		gssctx.GSS_MA_INTEG_PROT, gssctx.GSS_MA_CONF_PROT, gssctx.GSS_MA_MIC, gssctx.GSS_MA_WRAP,
		gssctx.GSS_MA_REPLAY_DET, gssctx.GSS_MA_OOS_DET, gssctx.GSS_MA_CBINDINGS,
	}
	known := append(has, gssctx.GSS_MA_DELEG_CRED, gssctx.GSS_MA_PROT_READY, gssctx.GSS_MA_CTX_TRANS)

	return has, known
}

// DescribeMinor implements gssctx.MinorStatusDescriber.
func (m *Mech) DescribeMinor(minor uint32) []error {
	if minor >= KrbMinorBase && minor < KrbMinorBase+256 {
		return []error{errors.New("krb5: " + errorcode.Lookup(int32(minor-KrbMinorBase)))}
	}

	if s, ok := minorText[minor]; ok {
		return []error{errors.New("krb5: " + s)}
	}

	return []error{fmt.Errorf("krb5: unknown minor code %d", minor)}
}

func failure(major, minor uint32) gssctx.Status {
	return gssctx.MakeStatus(major, minor)
}

var complete = gssctx.Status{}

func krbConfFile() string {
	cfgFile, ok := os.LookupEnv("KRB5_CONFIG")
	if !ok {
		cfgFile = "/etc/krb5.conf"
	}

	return cfgFile
}

func krbCCFile() string {
	ccFile, ok := os.LookupEnv("KRB5CCNAME")
	if !ok {
		ccFile = fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid())
	}

	return strings.TrimPrefix(ccFile, "FILE:")
}

func krbKtFile() string {
	ktFile, ok := os.LookupEnv("KRB5_KTNAME")
	if !ok {
		ktFile = fmt.Sprintf("/var/kerberos/krb5/user/%d/client.keytab", os.Getuid())
	}

	return strings.TrimPrefix(ktFile, "FILE:")
}
