// SPDX-License-Identifier: Apache-2.0

// Package loopback is an in-process GSS-API mechanism.  Both peers live in the same
// program, so it needs no KDC or system library, yet it exercises every part of the
// Mechanism contract:  multi-round handshakes, channel bindings, RFC 4121 message
// tokens with replay and sequence detection, and injected failures.
//
// The package registers itself as "loopback":
//
//	import _ "github.com/golang-auth/go-gssctx/mechs/loopback"
//
//	mech := gssctx.MustNewMechanism("loopback")
package loopback

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-logr/logr"

	"github.com/golang-auth/go-gssctx"
)

// Oid is the object identifier of the loopback mechanism.
var Oid = gssctx.MustParseOid("1.3.6.1.4.1.32473.1.1")

// Name is the registry name.
const Name = "loopback"

func init() {
	gssctx.RegisterMechanism(Name, func() (gssctx.Mechanism, error) {
		return New(), nil
	})
}

// Minor status codes.
const (
	MinorBadHandle uint32 = iota + 1
	MinorNoDefaultPrincipal
	MinorWrongPrincipal
	MinorTokenOrder
	MinorTokenFormat
	MinorBadBindings
	MinorCrypto
	MinorInjected
	MinorWrongUsage
	MinorExpired
)

var minorText = map[uint32]string{
	MinorBadHandle:          "handle was not issued by this mechanism instance",
	MinorNoDefaultPrincipal: "no default principal configured",
	MinorWrongPrincipal:     "token was addressed to a different principal",
	MinorTokenOrder:         "context token received out of order",
	MinorTokenFormat:        "context token could not be decoded",
	MinorBadBindings:        "channel bindings do not match",
	MinorCrypto:             "cryptographic operation failed",
	MinorInjected:           "injected failure",
	MinorWrongUsage:         "credential cannot be used for this operation",
	MinorExpired:            "context lifetime has elapsed",
}

// Mech implements gssctx.Mechanism.  A Mech may be used from several goroutines;
// individual handles may not.
type Mech struct {
	rounds           int
	defaultPrincipal string
	conf             bool
	log              logr.Logger

	mu     sync.Mutex
	faults map[string]gssctx.Status
	live   map[any]string
}

var _ gssctx.Mechanism = (*Mech)(nil)
var _ gssctx.MinorStatusDescriber = (*Mech)(nil)

// Option configures a Mech.
type Option func(m *Mech)

// WithRounds sets the number of context tokens exchanged to establish a context.
// Values below one are treated as one.
func WithRounds(n int) Option {
	return func(m *Mech) {
		m.rounds = max(n, 1)
	}
}

// WithDefaultPrincipal sets the name used for credentials acquired without a name.
// An empty principal makes such acquisitions fail with GSS_S_NO_CRED.
func WithDefaultPrincipal(p string) Option {
	return func(m *Mech) {
		m.defaultPrincipal = p
	}
}

// WithConfidentiality controls whether the mechanism offers confidentiality.  When
// disabled, Wrap produces integrity-only tokens even when sealing is requested.
func WithConfidentiality(enabled bool) Option {
	return func(m *Mech) {
		m.conf = enabled
	}
}

// WithFault makes every call of the named operation (eg. "gss_wrap") fail with the
// supplied status until ClearFaults is called.
func WithFault(op string, major, minor uint32) Option {
	return func(m *Mech) {
		m.faults[op] = gssctx.MakeStatus(major, minor)
	}
}

// WithLogger sets a logger for handshake events.
func WithLogger(log logr.Logger) Option {
	return func(m *Mech) {
		m.log = log
	}
}

// New returns a loopback mechanism.  By default contexts take two tokens,
// confidentiality is offered and the default principal is "loopback@localhost".
func New(opts ...Option) *Mech {
	m := &Mech{
		rounds:           2,
		defaultPrincipal: "loopback@localhost",
		conf:             true,
		log:              logr.Discard(),
		faults:           make(map[string]gssctx.Status),
		live:             make(map[any]string),
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

// SetFault injects a failure for op, as WithFault does.
func (m *Mech) SetFault(op string, major, minor uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.faults[op] = gssctx.MakeStatus(major, minor)
}

// ClearFaults removes all injected failures.
func (m *Mech) ClearFaults() {
	m.mu.Lock()
	defer m.mu.Unlock()

	clear(m.faults)
}

// LiveHandles returns the number of names, credentials, contexts and OID sets that have
// been issued and not yet released.
func (m *Mech) LiveHandles() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.live)
}

// LiveHandleKinds summarises the outstanding handles, eg. "context=1 name=2".
func (m *Mech) LiveHandleKinds() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := map[string]int{}
	for _, k := range m.live {
		counts[k]++
	}

	var parts []string
	for _, k := range []string{"context", "credential", "name", "oidset"} {
		if counts[k] > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
		}
	}

	return strings.Join(parts, " ")
}

var knownAttrs = []gssctx.GssMechAttr{
	gssctx.GSS_MA_MECH_CONCRETE, gssctx.GSS_MA_NOT_DFLT_MECH,
	gssctx.GSS_MA_AUTH_INIT, gssctx.GSS_MA_AUTH_TARG, gssctx.GSS_MA_AUTH_INIT_ANON,
	gssctx.GSS_MA_INTEG_PROT, gssctx.GSS_MA_CONF_PROT, gssctx.GSS_MA_MIC, gssctx.GSS_MA_WRAP,
	gssctx.GSS_MA_REPLAY_DET, gssctx.GSS_MA_OOS_DET, gssctx.GSS_MA_CBINDINGS,
}

// MechAttrs implements gssctx.MechAttrReporter.  GSS_MA_CONF_PROT is reported only
// when confidentiality is enabled.
func (m *Mech) MechAttrs() ([]gssctx.GssMechAttr, []gssctx.GssMechAttr) {
	has := make([]gssctx.GssMechAttr, 0, len(knownAttrs))
	for _, a := range knownAttrs {
		if a == gssctx.GSS_MA_CONF_PROT && !m.conf {
			continue
		}
		has = append(has, a)
	}

	return has, knownAttrs
}

// DescribeMinor implements gssctx.MinorStatusDescriber.
func (m *Mech) DescribeMinor(minor uint32) []error {
	if s, ok := minorText[minor]; ok {
		return []error{errors.New("loopback: " + s)}
	}

	return []error{fmt.Errorf("loopback: unknown minor code %d", minor)}
}

func (m *Mech) fault(op string) (gssctx.Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.faults[op]
	if ok {
		m.log.V(2).Info("injecting failure", "op", op, "status", st)
	}

	return st, ok
}

func (m *Mech) track(h any, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.live[h] = kind
}

// untrack reports whether h was live.
func (m *Mech) untrack(h any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.live[h]; !ok {
		return false
	}

	delete(m.live, h)

	return true
}

func (m *Mech) isLive(h any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.live[h]

	return ok
}

func failure(major, minor uint32) gssctx.Status {
	return gssctx.MakeStatus(major, minor)
}

var complete = gssctx.Status{}
