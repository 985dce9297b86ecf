// SPDX-License-Identifier: Apache-2.0

/*
Package rpcsec implements the RPCSEC_GSS security flavor for ONC RPC (RFC 2203) on top of
gssctx security contexts.

The package does not implement RPC itself.  A Client drives context creation through a
caller supplied CallFunc and then produces credentials, call verifiers and protected
argument bodies for each call.  A Server accepts contexts, checks incoming calls against
its context table and sequence windows, and protects results.
*/
package rpcsec

import (
	"bytes"
	"errors"
	"fmt"

	xdr "github.com/davecgh/go-xdr/xdr2"
)

// AuthFlavor is the RPC authentication flavor number of RPCSEC_GSS.
const AuthFlavor uint32 = 6

// Version1 is the only RPCSEC_GSS version.
const Version1 uint32 = 1

// MaxSeq is the first sequence number that may not be used.  A context whose sequence
// numbers are exhausted must be destroyed and a new one created.
const MaxSeq uint32 = 0x80000000

// DefaultWindow is the sequence window a Server advertises unless configured otherwise.
const DefaultWindow uint32 = 128

// Proc is the RPCSEC_GSS control procedure carried in the credential.
type Proc uint32

const (
	ProcData         Proc = 0
	ProcInit         Proc = 1
	ProcContinueInit Proc = 2
	ProcDestroy      Proc = 3
)

func (p Proc) String() string {
	switch p {
	case ProcData:
		return "RPCSEC_GSS_DATA"
	case ProcInit:
		return "RPCSEC_GSS_INIT"
	case ProcContinueInit:
		return "RPCSEC_GSS_CONTINUE_INIT"
	case ProcDestroy:
		return "RPCSEC_GSS_DESTROY"
	}

	return fmt.Sprintf("Proc(%d)", uint32(p))
}

// Service is the protection applied to call arguments and results.
type Service uint32

const (
	ServiceNone      Service = 1
	ServiceIntegrity Service = 2
	ServicePrivacy   Service = 3
)

func (s Service) String() string {
	switch s {
	case ServiceNone:
		return "none"
	case ServiceIntegrity:
		return "integrity"
	case ServicePrivacy:
		return "privacy"
	}

	return fmt.Sprintf("Service(%d)", uint32(s))
}

// AuthStat is the reason carried in an AUTH_ERROR rejection (RFC 5531 § 9 and RFC 2203
// § 5.3.3.3).
type AuthStat uint32

const (
	AuthBadCred      AuthStat = 1
	AuthRejectedCred AuthStat = 2
	AuthBadVerf      AuthStat = 3
	AuthRejectedVerf AuthStat = 4
	AuthTooWeak      AuthStat = 5
	CredProblem      AuthStat = 13
	CtxProblem       AuthStat = 14
)

var authStatNames = map[AuthStat]string{
	AuthBadCred:      "AUTH_BADCRED",
	AuthRejectedCred: "AUTH_REJECTEDCRED",
	AuthBadVerf:      "AUTH_BADVERF",
	AuthRejectedVerf: "AUTH_REJECTEDVERF",
	AuthTooWeak:      "AUTH_TOOWEAK",
	CredProblem:      "RPCSEC_GSS_CREDPROBLEM",
	CtxProblem:       "RPCSEC_GSS_CTXPROBLEM",
}

func (s AuthStat) String() string {
	if n, ok := authStatNames[s]; ok {
		return n
	}

	return fmt.Sprintf("AuthStat(%d)", uint32(s))
}

// AuthError reports a call the server must reject with MSG_DENIED / AUTH_ERROR.
type AuthError struct {
	Stat AuthStat
	Err  error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return "rpcsec: " + e.Stat.String()
	}

	return fmt.Sprintf("rpcsec: %s: %v", e.Stat, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

func authError(stat AuthStat, err error) error {
	return &AuthError{Stat: stat, Err: err}
}

// ErrDrop is returned for calls that must be silently discarded:  sequence numbers that
// fall outside the window or were seen before (RFC 2203 § 5.3.3.1).
var ErrDrop = errors.New("rpcsec: call must be dropped")

// ErrGarbageArgs is returned when a protected body cannot be decoded or verified.  The
// server replies with GARBAGE_ARGS.
var ErrGarbageArgs = errors.New("rpcsec: garbage arguments")

// ErrSeqExhausted is returned by Client.NextCred when the context has used every sequence
// number below MaxSeq.
var ErrSeqExhausted = errors.New("rpcsec: sequence numbers exhausted")

// ErrNotEstablished is returned by Client calls made before Establish succeeded.
var ErrNotEstablished = errors.New("rpcsec: context is not established")

// OpaqueAuth is an RPC credential or verifier.
type OpaqueAuth struct {
	Flavor uint32
	Body   []byte
}

// NullAuth is the AUTH_NONE verifier used during context creation and on errors.
var NullAuth = OpaqueAuth{Body: []byte{}}

// IsNull reports whether a is an AUTH_NONE verifier with an empty body.
func (a OpaqueAuth) IsNull() bool {
	return a.Flavor == 0 && len(a.Body) == 0
}

// CredV1 is rpc_gss_cred_vers_1_t.
type CredV1 struct {
	Proc    Proc
	SeqNum  uint32
	Service Service
	Handle  []byte
}

// Cred is rpc_gss_cred_t.  Version selects the union arm;  only Version1 is defined.
type Cred struct {
	Version uint32
	V1      CredV1
}

// NewCred wraps a version 1 credential.
func NewCred(v1 CredV1) Cred {
	return Cred{Version: Version1, V1: v1}
}

// Marshal encodes the credential body.
func (c Cred) Marshal() ([]byte, error) {
	if c.V1.Handle == nil {
		c.V1.Handle = []byte{}
	}

	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, &c); err != nil {
		return nil, fmt.Errorf("rpcsec: encoding credential: %w", err)
	}

	return buf.Bytes(), nil
}

// OpaqueAuth encodes the credential as an RPCSEC_GSS opaque_auth.
func (c Cred) OpaqueAuth() (OpaqueAuth, error) {
	b, err := c.Marshal()
	if err != nil {
		return OpaqueAuth{}, err
	}

	return OpaqueAuth{Flavor: AuthFlavor, Body: b}, nil
}

// UnmarshalCred decodes an RPCSEC_GSS credential.  Any problem is reported as an
// AUTH_BADCRED AuthError.
func UnmarshalCred(a OpaqueAuth) (Cred, error) {
	var c Cred

	if a.Flavor != AuthFlavor {
		return c, authError(AuthBadCred, fmt.Errorf("flavor %d is not RPCSEC_GSS", a.Flavor))
	}

	if _, err := xdr.UnmarshalLimited(bytes.NewReader(a.Body), &c.Version, uint(len(a.Body))); err != nil {
		return c, authError(AuthBadCred, err)
	}
	if c.Version != Version1 {
		return c, authError(AuthBadCred, fmt.Errorf("unsupported version %d", c.Version))
	}

	if err := unmarshalAll(a.Body, &c); err != nil {
		return c, authError(AuthBadCred, err)
	}

	return c, nil
}

// InitRes is rpc_gss_init_res, the result of RPCSEC_GSS_INIT and
// RPCSEC_GSS_CONTINUE_INIT.
type InitRes struct {
	Handle    []byte
	Major     uint32
	Minor     uint32
	SeqWindow uint32
	Token     []byte
}

// Marshal encodes the result.
func (r InitRes) Marshal() ([]byte, error) {
	if r.Handle == nil {
		r.Handle = []byte{}
	}
	if r.Token == nil {
		r.Token = []byte{}
	}

	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, &r); err != nil {
		return nil, fmt.Errorf("rpcsec: encoding init result: %w", err)
	}

	return buf.Bytes(), nil
}

// UnmarshalInitRes decodes an init result.
func UnmarshalInitRes(b []byte) (InitRes, error) {
	var r InitRes
	if err := unmarshalAll(b, &r); err != nil {
		return r, fmt.Errorf("rpcsec: decoding init result: %w", err)
	}

	return r, nil
}

// CallHeader is the part of an RPC call message covered by the call verifier:  the
// fields from the XID up to and including the credential.
type CallHeader struct {
	XID  uint32
	Prog uint32
	Vers uint32
	Proc uint32
	Cred OpaqueAuth
}

// Marshal encodes the header as it appears on the wire.
func (h CallHeader) Marshal() ([]byte, error) {
	wire := struct {
		XID     uint32
		MsgType uint32
		RPCVers uint32
		Prog    uint32
		Vers    uint32
		Proc    uint32
		Cred    OpaqueAuth
	}{h.XID, 0, 2, h.Prog, h.Vers, h.Proc, h.Cred}

	if wire.Cred.Body == nil {
		wire.Cred.Body = []byte{}
	}

	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, &wire); err != nil {
		return nil, fmt.Errorf("rpcsec: encoding call header: %w", err)
	}

	return buf.Bytes(), nil
}

// marshalOpaque encodes b as variable length opaque data.
func marshalOpaque(b []byte) ([]byte, error) {
	if b == nil {
		b = []byte{}
	}

	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, &b); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func unmarshalOpaque(b []byte) ([]byte, error) {
	var out []byte
	if err := unmarshalAll(b, &out); err != nil {
		return nil, err
	}

	return out, nil
}

func marshalUint(v uint32) []byte {
	var buf bytes.Buffer
	// writing to a bytes.Buffer does not fail
	_, _ = xdr.Marshal(&buf, v)

	return buf.Bytes()
}

// unmarshalAll decodes b into v and rejects trailing bytes.  No length prefix may claim
// more than b holds.
func unmarshalAll(b []byte, v any) error {
	r := bytes.NewReader(b)
	if _, err := xdr.UnmarshalLimited(r, v, uint(len(b))); err != nil {
		return err
	}

	if r.Len() != 0 {
		return fmt.Errorf("%d trailing bytes", r.Len())
	}

	return nil
}
