// SPDX-License-Identifier: Apache-2.0

package gssctx

import (
	"errors"
	"fmt"
	"slices"
)

// ErrBadMechAttr is returned for an unrecognized mechanism attribute.
var ErrBadMechAttr = errors.New("unknown mechanism attribute")

// GssMechAttr describes a mechanism attribute as defined in RFC 5587.
type GssMechAttr interface {
	// Oid returns the object identifier of the attribute.
	Oid() Oid
	// OidString returns the dotted form of the object identifier.
	OidString() string
	// String returns the attribute name, eg. "GSS_MA_MECH_CONCRETE".
	String() string
	// Display returns the name, short description and long description of the
	// attribute (RFC 5587 § 3.4.4).
	Display() (name, short, long string)
}

type gssMechAttrImpl int

// Well known mechanism attributes (RFC 5587 § 3.2).  They are numbered in OID order.
const (
	GSS_MA_MECH_CONCRETE gssMechAttrImpl = iota
	GSS_MA_MECH_PSEUDO
	GSS_MA_MECH_COMPOSITE
	GSS_MA_MECH_NEGO
	GSS_MA_MECH_GLUE
	GSS_MA_NOT_MECH
	GSS_MA_DEPRECATED
	GSS_MA_NOT_DFLT_MECH
	GSS_MA_ITOK_FRAMED
	GSS_MA_AUTH_INIT
	GSS_MA_AUTH_TARG
	GSS_MA_AUTH_INIT_INIT
	GSS_MA_AUTH_TARG_INIT
	GSS_MA_AUTH_INIT_ANON
	GSS_MA_AUTH_TARG_ANON
	GSS_MA_DELEG_CRED
	GSS_MA_INTEG_PROT
	GSS_MA_CONF_PROT
	GSS_MA_MIC
	GSS_MA_WRAP
	GSS_MA_PROT_READY
	GSS_MA_REPLAY_DET
	GSS_MA_OOS_DET
	GSS_MA_CBINDINGS
	GSS_MA_PFS
	GSS_MA_COMPRESS
	GSS_MA_CTX_TRANS
	GSS_MA_NEGOEX_AND_SPNEGO
	_GSS_MA_LAST
)

// attributes live under 1.3.6.1.5.5.13;  the arc of each is its index plus one
const mechAttrArc = "1.3.6.1.5.5.13"

var mechAttrs = [...]struct {
	name  string
	short string
	long  string
}{
	GSS_MA_MECH_CONCRETE:     {"GSS_MA_MECH_CONCRETE", "concrete-mech", "Mechanism is neither a pseudo-mechanism nor a composite mechanism."},
	GSS_MA_MECH_PSEUDO:       {"GSS_MA_MECH_PSEUDO", "pseudo-mech", "Mechanism is a pseudo-mechanism."},
	GSS_MA_MECH_COMPOSITE:    {"GSS_MA_MECH_COMPOSITE", "composite-mech", "Mechanism is a composite of other mechanisms."},
	GSS_MA_MECH_NEGO:         {"GSS_MA_MECH_NEGO", "mech-negotiation-mech", "Mechanism negotiates other mechanisms."},
	GSS_MA_MECH_GLUE:         {"GSS_MA_MECH_GLUE", "mech-glue", "OID is not a mechanism but the GSS-API itself."},
	GSS_MA_NOT_MECH:          {"GSS_MA_NOT_MECH", "not-mech", "Known OID but not a mechanism OID."},
	GSS_MA_DEPRECATED:        {"GSS_MA_DEPRECATED", "mech-deprecated", "Mechanism is deprecated."},
	GSS_MA_NOT_DFLT_MECH:     {"GSS_MA_NOT_DFLT_MECH", "mech-not-default", "Mechanism must not be used as a default mechanism."},
	GSS_MA_ITOK_FRAMED:       {"GSS_MA_ITOK_FRAMED", "initial-is-framed", "Mechanism's initial contexts are properly framed."},
	GSS_MA_AUTH_INIT:         {"GSS_MA_AUTH_INIT", "auth-init-princ", "Mechanism supports authentication of initiator to acceptor."},
	GSS_MA_AUTH_TARG:         {"GSS_MA_AUTH_TARG", "auth-targ-princ", "Mechanism supports authentication of acceptor to initiator."},
	GSS_MA_AUTH_INIT_INIT:    {"GSS_MA_AUTH_INIT_INIT", "auth-init-princ-initial", "Mechanism supports authentication of initiator using initial credentials."},
	GSS_MA_AUTH_TARG_INIT:    {"GSS_MA_AUTH_TARG_INIT", "auth-target-princ-initial", "Mechanism supports authentication of acceptor using initial credentials."},
	GSS_MA_AUTH_INIT_ANON:    {"GSS_MA_AUTH_INIT_ANON", "auth-init-princ-anon", "Mechanism supports GSS_C_NT_ANONYMOUS as an initiator name."},
	GSS_MA_AUTH_TARG_ANON:    {"GSS_MA_AUTH_TARG_ANON", "auth-targ-princ-anon", "Mechanism supports GSS_C_NT_ANONYMOUS as an acceptor name."},
	GSS_MA_DELEG_CRED:        {"GSS_MA_DELEG_CRED", "deleg-cred", "Mechanism supports credential delegation."},
	GSS_MA_INTEG_PROT:        {"GSS_MA_INTEG_PROT", "integ-prot", "Mechanism supports per-message integrity protection."},
	GSS_MA_CONF_PROT:         {"GSS_MA_CONF_PROT", "conf-prot", "Mechanism supports per-message confidentiality protection."},
	GSS_MA_MIC:               {"GSS_MA_MIC", "mic", "Mechanism supports Message Integrity Code (MIC) tokens."},
	GSS_MA_WRAP:              {"GSS_MA_WRAP", "wrap", "Mechanism supports wrap tokens."},
	GSS_MA_PROT_READY:        {"GSS_MA_PROT_READY", "prot-ready", "Mechanism supports per-message protection prior to full context establishment."},
	GSS_MA_REPLAY_DET:        {"GSS_MA_REPLAY_DET", "replay-detection", "Mechanism supports replay detection."},
	GSS_MA_OOS_DET:           {"GSS_MA_OOS_DET", "oos-detection", "Mechanism supports out-of-sequence detection."},
	GSS_MA_CBINDINGS:         {"GSS_MA_CBINDINGS", "channel-bindings", "Mechanism supports channel bindings."},
	GSS_MA_PFS:               {"GSS_MA_PFS", "pfs", "Mechanism supports Perfect Forward Security."},
	GSS_MA_COMPRESS:          {"GSS_MA_COMPRESS", "compress", "Mechanism supports compression of data inputs to gss_wrap()."},
	GSS_MA_CTX_TRANS:         {"GSS_MA_CTX_TRANS", "context-transfer", "Mechanism supports security context export/import."},
	GSS_MA_NEGOEX_AND_SPNEGO: {"GSS_MA_NEGOEX_AND_SPNEGO", "negoex-only", "NegoEx mechanism should also be negotiable through SPNEGO."},
}

var mechAttrOids = func() [_GSS_MA_LAST]Oid {
	var oids [_GSS_MA_LAST]Oid
	for i := range oids {
		oids[i] = MustParseOid(fmt.Sprintf("%s.%d", mechAttrArc, i+1))
	}
	return oids
}()

func (attr gssMechAttrImpl) check() {
	if attr < 0 || attr >= _GSS_MA_LAST {
		panic(ErrBadMechAttr)
	}
}

func (attr gssMechAttrImpl) Oid() Oid {
	attr.check()
	return mechAttrOids[attr]
}

func (attr gssMechAttrImpl) OidString() string {
	attr.check()
	return fmt.Sprintf("%s.%d", mechAttrArc, attr+1)
}

func (attr gssMechAttrImpl) String() string {
	attr.check()
	return mechAttrs[attr].name
}

func (attr gssMechAttrImpl) Display() (string, string, string) {
	attr.check()
	a := mechAttrs[attr]
	return a.name, a.short, a.long
}

// MechAttrFromOid returns the attribute identified by oid, or ErrBadMechAttr.
func MechAttrFromOid(oid Oid) (GssMechAttr, error) {
	for i, o := range mechAttrOids {
		if o.Equal(oid) {
			return gssMechAttrImpl(i), nil
		}
	}

	return nil, ErrBadMechAttr
}

// MechAttrReporter is implemented by mechanisms that can describe themselves with RFC 5587
// attributes.
type MechAttrReporter interface {
	// MechAttrs returns the attributes the mechanism has and those it knows about.
	MechAttrs() (mechAttrs, knownAttrs []GssMechAttr)
}

// InquireAttrsForMech implements GSS_Inquire_attrs_for_mech (RFC 5587 § 3.4.3).  It
// returns ErrUnavailable if the mechanism does not report attributes.
func InquireAttrsForMech(mech Mechanism) (mechAttrs, knownAttrs []GssMechAttr, err error) {
	r, ok := mech.(MechAttrReporter)
	if !ok {
		return nil, nil, fmt.Errorf("%s: %w", MechName(mech.Oid()), ErrUnavailable)
	}

	mechAttrs, knownAttrs = r.MechAttrs()
	return slices.Clone(mechAttrs), slices.Clone(knownAttrs), nil
}

// IndicateMechsByAttrs implements GSS_Indicate_mechs_by_attrs (RFC 5587 § 3.4.2) over the
// registry.  It returns the names of the registered mechanisms that have every desired
// attribute, none of the excepted attributes and know of every critical attribute.
// Mechanisms that cannot be constructed or do not report attributes are skipped.
func IndicateMechsByAttrs(desired, except, critical []GssMechAttr) []string {
	var names []string

	for _, name := range RegisteredMechanisms() {
		mech, err := NewMechanism(name)
		if err != nil {
			continue
		}

		has, known, err := InquireAttrsForMech(mech)
		if err != nil {
			continue
		}

		if containsAll(has, desired) && !containsAny(has, except) && containsAll(known, critical) {
			names = append(names, name)
		}
	}

	return names
}

func containsAll(set, want []GssMechAttr) bool {
	for _, w := range want {
		if !slices.Contains(set, w) {
			return false
		}
	}
	return true
}

func containsAny(set, want []GssMechAttr) bool {
	for _, w := range want {
		if slices.Contains(set, w) {
			return true
		}
	}
	return false
}
