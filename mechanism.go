// SPDX-License-Identifier: Apache-2.0

package gssctx

// Opaque mechanism handles.  The layer never looks inside them;  it only stores them,
// passes them back to the mechanism that produced them and releases them exactly once.
type (
	NameHandle    any
	CredHandle    any
	ContextHandle any
)

// OidSetHandle is a mechanism-owned set of OIDs.  Oids must return the members in a
// stable order;  callers treat the returned slice as read-only.
type OidSetHandle interface {
	Oids() []Oid
}

// QoP represents quality of protection values used by the per-message calls.  A zero
// value requests the mechanism default.
type QoP uint32

// InitRequest carries the inputs of GSS_Init_sec_context (RFC 2743 § 2.2.1) other than
// the context handle.
type InitRequest struct {
	Cred       CredHandle      // nil for the default initiator credential
	Target     NameHandle      // the peer
	Mech       Oid             // nil for the mechanism default
	Flags      ContextFlag     // requested flags
	Lifetime   uint32          // requested lifetime in seconds, 0 for the default
	Bindings   *ChannelBinding // optional
	InputToken []byte          // empty on the first call
}

// InitResult carries the outputs of GSS_Init_sec_context.
type InitResult struct {
	Context     ContextHandle
	Mech        Oid
	OutputToken []byte
	Flags       ContextFlag
	Lifetime    uint32
}

// AcceptRequest carries the inputs of GSS_Accept_sec_context (RFC 2743 § 2.2.2) other
// than the context handle.
type AcceptRequest struct {
	Cred       CredHandle // nil for the default acceptor credential
	InputToken []byte
	Bindings   *ChannelBinding
}

// AcceptResult carries the outputs of GSS_Accept_sec_context.  SourceName is owned by
// the caller once the call returns COMPLETE.
type AcceptResult struct {
	Context     ContextHandle
	SourceName  NameHandle
	Mech        Oid
	OutputToken []byte
	Flags       ContextFlag
	Lifetime    uint32
}

// Mechanism is the boundary with an underlying security mechanism.  Every call returns
// a Status;  output values are only meaningful when the status allows it.
//
// Implementations need not be safe for concurrent use on the same handle.  Calls on
// distinct handles may be made concurrently.
type Mechanism interface {
	// Oid identifies the mechanism.
	Oid() Oid

	ImportName(raw []byte, nameType Oid) (Status, NameHandle)           // RFC 2743 § 2.4.5
	DisplayName(name NameHandle) (st Status, disp []byte, nameType Oid) // RFC 2743 § 2.4.4
	ReleaseName(name NameHandle) Status                                 // RFC 2743 § 2.4.6
	DuplicateName(name NameHandle) (Status, NameHandle)                 // RFC 2743 § 2.4.16

	// AcquireCred implements GSS_Acquire_cred (RFC 2743 § 2.1.1).  name may be nil for
	// the default principal, mechs may be nil for the default set.
	AcquireCred(name NameHandle, lifetime uint32, mechs []Oid, usage CredUsage) (st Status, cred CredHandle, granted OidSetHandle, grantedLifetime uint32)

	// InquireCred implements GSS_Inquire_cred (RFC 2743 § 2.1.3).  The name and set are
	// owned by the caller.
	InquireCred(cred CredHandle) (st Status, name NameHandle, lifetime uint32, usage CredUsage, mechs OidSetHandle)

	ReleaseCred(cred CredHandle) Status        // RFC 2743 § 2.1.2
	ReleaseOidSet(set OidSetHandle) Status     // RFC 2743 § 2.4.7
	DeleteSecContext(ctx ContextHandle) Status // RFC 2743 § 2.2.3

	// InitSecContext and AcceptSecContext may return a non-nil context handle together
	// with a failing status;  the caller is then responsible for deleting it.
	InitSecContext(ctx ContextHandle, req InitRequest) (Status, InitResult)                           // RFC 2743 § 2.2.1
	AcceptSecContext(ctx ContextHandle, req AcceptRequest) (Status, AcceptResult)                     // RFC 2743 § 2.2.2
	GetMIC(ctx ContextHandle, qop QoP, msg []byte) (Status, []byte)                                   // RFC 2743 § 2.3.1
	VerifyMIC(ctx ContextHandle, msg, token []byte) (Status, QoP)                                     // RFC 2743 § 2.3.2
	Wrap(ctx ContextHandle, conf bool, qop QoP, msg []byte) (st Status, confState bool, token []byte) // RFC 2743 § 2.3.3
	Unwrap(ctx ContextHandle, token []byte) (st Status, msg []byte, confState bool, qop QoP)          // RFC 2743 § 2.3.4
}
