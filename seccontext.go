// SPDX-License-Identifier: Apache-2.0

package gssctx

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
)

// GSSAPI Security-Context Management, RFC 2743 § 2.2

// ContextState is the establishment state of a SecContext.
type ContextState int

const (
	ContextUnestablished ContextState = iota // no mechanism round has succeeded yet
	ContextNegotiating                       // the handshake needs more tokens
	ContextEstablished                       // per-message calls may be used
	ContextDestroyed                         // terminal
)

func (s ContextState) String() string {
	switch s {
	case ContextUnestablished:
		return "unestablished"
	case ContextNegotiating:
		return "negotiating"
	case ContextEstablished:
		return "established"
	case ContextDestroyed:
		return "destroyed"
	}

	return fmt.Sprintf("ContextState(%d)", int(s))
}

// StepOutcome is the result of one Init or Accept round.  Continuation is not an
// error:  it tells the caller to send the token and feed the reply into the next round.
type StepOutcome int

const (
	StepFailed StepOutcome = iota
	StepContinue
	StepComplete
)

func (o StepOutcome) String() string {
	switch o {
	case StepFailed:
		return "failed"
	case StepContinue:
		return "continue"
	case StepComplete:
		return "complete"
	}

	return fmt.Sprintf("StepOutcome(%d)", int(o))
}

// Step is returned by Init and Accept.  A non-empty Token must be sent to the peer,
// including on StepComplete.
type Step struct {
	Outcome StepOutcome
	Token   []byte
}

// Continue reports whether another round is needed.
func (s Step) Continue() bool {
	return s.Outcome == StepContinue
}

// Complete reports whether this round established the context.
func (s Step) Complete() bool {
	return s.Outcome == StepComplete
}

type contextRole int

const (
	roleUnset contextRole = iota
	roleInitiator
	roleAcceptor
)

// ContextOptions holds the optional parameters of NewSecContext.
type ContextOptions struct {
	Logger logr.Logger
}

// ContextOption configures NewSecContext.
type ContextOption func(o *ContextOptions)

// WithContextLogger sets the logger used for state transitions (V(1)) and failures.
// The default discards everything.
func WithContextLogger(log logr.Logger) ContextOption {
	return func(o *ContextOptions) {
		o.Logger = log
	}
}

// InitSecContextOptions holds the optional parameters of GSS_Init_sec_context (RFC 2743
// § 2.2.1).
type InitSecContextOptions struct {
	Credential     *Credential     // source credential, nil for the default
	Mech           Oid             // specific mechanism, nil for the default
	Flags          ContextFlag     // requested protection flags
	Lifetime       time.Duration   // desired context lifetime
	ChannelBinding *ChannelBinding // channel binding information
}

// InitOption configures SecContext.Init.
type InitOption func(o *InitSecContextOptions)

// WithInitiatorCredential supports the use of a source credential when initiating a security
// context, corresponding to the claimant_cred_handle parameter of GSS_Init_sec_context.
func WithInitiatorCredential(cred *Credential) InitOption {
	return func(o *InitSecContextOptions) {
		o.Credential = cred
	}
}

// WithInitiatorMech requests a specific mechanism, corresponding to the mech_type parameter.
func WithInitiatorMech(mech Oid) InitOption {
	return func(o *InitSecContextOptions) {
		o.Mech = mech
	}
}

// WithInitiatorFlags sets the requested protection flags, corresponding to the *_req_flag
// parameters of GSS_Init_sec_context.
func WithInitiatorFlags(flags ContextFlag) InitOption {
	return func(o *InitSecContextOptions) {
		o.Flags = flags
	}
}

// WithInitiatorLifetime requests a non-default context lifetime.
func WithInitiatorLifetime(life time.Duration) InitOption {
	return func(o *InitSecContextOptions) {
		o.Lifetime = life
	}
}

// WithInitiatorChannelBinding supplies channel binding information, corresponding to the
// input_chan_bindings parameter of GSS_Init_sec_context.
func WithInitiatorChannelBinding(cb *ChannelBinding) InitOption {
	return func(o *InitSecContextOptions) {
		o.ChannelBinding = cb
	}
}

// AcceptSecContextOptions holds the optional parameters of GSS_Accept_sec_context (RFC
// 2743 § 2.2.2).
type AcceptSecContextOptions struct {
	Credential     *Credential
	ChannelBinding *ChannelBinding
}

// AcceptOption configures SecContext.Accept.
type AcceptOption func(o *AcceptSecContextOptions)

// WithAcceptorCredential selects the acceptor credential, corresponding to the
// acceptor_cred_handle parameter of GSS_Accept_sec_context.
func WithAcceptorCredential(cred *Credential) AcceptOption {
	return func(o *AcceptSecContextOptions) {
		o.Credential = cred
	}
}

// WithAcceptorChannelBinding supplies channel binding information, corresponding to the
// chan_bindings parameter of GSS_Accept_sec_context.
func WithAcceptorChannelBinding(cb *ChannelBinding) AcceptOption {
	return func(o *AcceptSecContextOptions) {
		o.ChannelBinding = cb
	}
}

// SecContext is a security context between an initiator and an acceptor.  It starts
// unestablished, is driven through Init (initiator) or Accept (acceptor) rounds until a
// round reports StepComplete, and then supports the per-message calls until Destroy.
//
// A SecContext is not safe for concurrent use:  callers must allow one operation in
// flight at a time.  Distinct contexts are independent.
type SecContext struct {
	mech   Mechanism
	log    logr.Logger
	handle ContextHandle
	state  ContextState
	role   contextRole

	negotiatedMech Oid
	flags          ContextFlag
	lifetime       GssLifetime
	sourceName     *Name
	targetName     *Name
}

// NewSecContext returns an unestablished context that will use mech.
func NewSecContext(mech Mechanism, opts ...ContextOption) (*SecContext, error) {
	if mech == nil {
		return nil, fmt.Errorf("new security context: %w", ErrBadMech)
	}

	o := ContextOptions{Logger: logr.Discard()}
	for _, opt := range opts {
		opt(&o)
	}

	return &SecContext{
		mech: mech,
		log:  o.Logger.WithValues("mech", MechName(mech.Oid())),
	}, nil
}

// Init implements one round of GSS_Init_sec_context.  The first call passes a nil input
// token;  later calls pass the token received from the acceptor.
//
// On failure the state is unchanged and the context may be retried or destroyed.
func (c *SecContext) Init(target *Name, in []byte, opts ...InitOption) (Step, error) {
	const op = "gss_init_sec_context"

	if err := c.checkRound(op, roleInitiator); err != nil {
		return Step{Outcome: StepFailed}, err
	}

	o := InitSecContextOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	if !target.IsNoName() && !mechEqual(target.mech, c.mech) {
		return Step{Outcome: StepFailed}, &PolicyViolation{Op: op, Err: ErrMechanismMismatch}
	}

	req := InitRequest{
		Target:     target.handleOrNil(),
		Mech:       o.Mech,
		Flags:      o.Flags,
		Lifetime:   secondsFromDuration(o.Lifetime),
		Bindings:   o.ChannelBinding,
		InputToken: in,
	}

	var credName *Name
	if o.Credential != nil {
		if !mechEqual(o.Credential.mech, c.mech) {
			return Step{Outcome: StepFailed}, &PolicyViolation{Op: op, Err: ErrMechanismMismatch}
		}
		req.Cred = o.Credential.handle
		credName = o.Credential.name
	}

	st, res := c.mech.InitSecContext(c.handle, req)
	if !st.Complete() && !st.ContinueNeeded() {
		c.dropFreshHandle(res.Context)
		return c.fail(op, makeStatus(op, st, c.mech))
	}
	if res.Context == nil {
		return c.fail(op, &AllocationFailure{Op: op, What: "context handle"})
	}

	c.handle = res.Context
	c.role = roleInitiator

	if st.ContinueNeeded() {
		c.transition(ContextNegotiating)
		return Step{Outcome: StepContinue, Token: res.OutputToken}, nil
	}

	var err error
	if c.targetName, err = target.Duplicate(); err != nil {
		return c.failEstablished(op, err)
	}
	if c.sourceName, err = credName.Duplicate(); err != nil {
		return c.failEstablished(op, err)
	}

	c.establish(res.Mech, res.Flags, res.Lifetime)

	return Step{Outcome: StepComplete, Token: res.OutputToken}, nil
}

// Accept implements one round of GSS_Accept_sec_context with a token received from the
// initiator.  On completion SourceName reports the authenticated initiator.
//
// On failure the state is unchanged and the context may be retried or destroyed.  Some
// mechanisms return an error token on failure;  it is discarded.
func (c *SecContext) Accept(in []byte, opts ...AcceptOption) (Step, error) {
	const op = "gss_accept_sec_context"

	if err := c.checkRound(op, roleAcceptor); err != nil {
		return Step{Outcome: StepFailed}, err
	}

	o := AcceptSecContextOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	req := AcceptRequest{
		InputToken: in,
		Bindings:   o.ChannelBinding,
	}

	if o.Credential != nil {
		if !mechEqual(o.Credential.mech, c.mech) {
			return Step{Outcome: StepFailed}, &PolicyViolation{Op: op, Err: ErrMechanismMismatch}
		}
		req.Cred = o.Credential.handle
	}

	st, res := c.mech.AcceptSecContext(c.handle, req)
	if !st.Complete() && !st.ContinueNeeded() {
		if res.SourceName != nil {
			_ = c.mech.ReleaseName(res.SourceName)
		}
		c.dropFreshHandle(res.Context)
		return c.fail(op, makeStatus(op, st, c.mech))
	}
	if res.Context == nil {
		if res.SourceName != nil {
			_ = c.mech.ReleaseName(res.SourceName)
		}
		return c.fail(op, &AllocationFailure{Op: op, What: "context handle"})
	}

	c.handle = res.Context
	c.role = roleAcceptor

	if st.ContinueNeeded() {
		if res.SourceName != nil {
			_ = c.mech.ReleaseName(res.SourceName)
		}
		c.transition(ContextNegotiating)
		return Step{Outcome: StepContinue, Token: res.OutputToken}, nil
	}

	c.targetName = NoName()
	if res.SourceName == nil {
		c.sourceName = NoName()
	} else {
		src, err := nameFromHandle(c.mech, res.SourceName)
		if err != nil {
			return c.failEstablished(op, err)
		}
		c.sourceName = src
	}

	c.establish(res.Mech, res.Flags, res.Lifetime)

	return Step{Outcome: StepComplete, Token: res.OutputToken}, nil
}

func (c *SecContext) checkRound(op string, want contextRole) error {
	switch c.state {
	case ContextEstablished:
		return &PolicyViolation{Op: op, Err: ErrContextEstablished}
	case ContextDestroyed:
		return &PolicyViolation{Op: op, Err: ErrContextDestroyed}
	}

	if c.role != roleUnset && c.role != want {
		return &PolicyViolation{Op: op, Err: ErrWrongRole}
	}

	return nil
}

// dropFreshHandle deletes a handle the mechanism created on a failing first round so
// the context stays unestablished.
func (c *SecContext) dropFreshHandle(h ContextHandle) {
	if h == nil || c.handle != nil {
		return
	}

	if st := c.mech.DeleteSecContext(h); st.Failed() {
		c.log.Error(makeStatus("gss_delete_sec_context", st, c.mech), "discarding context handle from failed round")
	}
}

func (c *SecContext) fail(op string, err error) (Step, error) {
	c.log.Error(err, "context round failed", "op", op, "state", c.state)
	return Step{Outcome: StepFailed}, err
}

// failEstablished handles a failure after the mechanism reported completion.  The
// mechanism context cannot be rolled back, so the context is torn down.
func (c *SecContext) failEstablished(op string, err error) (Step, error) {
	_ = c.Destroy()
	return c.fail(op, err)
}

func (c *SecContext) establish(mech Oid, flags ContextFlag, lifetime uint32) {
	if len(mech) == 0 {
		mech = c.mech.Oid()
	}

	c.negotiatedMech = mech.Clone()
	c.flags = flags
	c.lifetime = lifetimeFromSeconds(lifetime)
	c.transition(ContextEstablished)
}

func (c *SecContext) transition(to ContextState) {
	if c.state == to {
		return
	}

	c.log.V(1).Info("security context state change", "from", c.state, "to", to, "initiator", c.role == roleInitiator)
	c.state = to
}

// State returns the current establishment state.
func (c *SecContext) State() ContextState {
	return c.state
}

// Established reports whether the per-message calls may be used.
func (c *SecContext) Established() bool {
	return c.state == ContextEstablished
}

// IsInitiator reports whether the context has been driven with Init.
func (c *SecContext) IsInitiator() bool {
	return c.role == roleInitiator
}

// Mech returns the negotiated mechanism, or nil before establishment.
func (c *SecContext) Mech() Oid {
	return c.negotiatedMech
}

// Flags returns the protection flags granted by the mechanism, zero before
// establishment.
func (c *SecContext) Flags() ContextFlag {
	return c.flags
}

// Lifetime returns the context lifetime, fixed at establishment.
func (c *SecContext) Lifetime() GssLifetime {
	return c.lifetime
}

// SourceName returns the initiator's name:  the authenticated peer on the acceptor, the
// credential's name (or NoName) on the initiator.  It is nil before establishment and
// remains owned by the context.
func (c *SecContext) SourceName() *Name {
	return c.sourceName
}

// TargetName returns the acceptor's name:  a copy of the Init target on the initiator
// and NoName on the acceptor.  It is nil before establishment and remains owned by the
// context.
func (c *SecContext) TargetName() *Name {
	return c.targetName
}

func (c *SecContext) requireEstablished(op string) error {
	switch c.state {
	case ContextEstablished:
		return nil
	case ContextDestroyed:
		return &PolicyViolation{Op: op, Err: ErrContextDestroyed}
	}

	return &PolicyViolation{Op: op, Err: ErrContextNotEstablished}
}

// GetMIC implements GSS_GetMIC (RFC 2743 § 2.3.1).
func (c *SecContext) GetMIC(msg []byte, qop QoP) ([]byte, error) {
	const op = "gss_get_mic"

	if err := c.requireEstablished(op); err != nil {
		return nil, err
	}

	st, tok := c.mech.GetMIC(c.handle, qop, msg)
	if err := makeStatus(op, st, c.mech); err != nil {
		return nil, err
	}

	return tok, nil
}

// VerifyMIC implements GSS_VerifyMIC (RFC 2743 § 2.3.2) and returns the QoP the peer
// used.  Any non-COMPLETE status, including the supplementary sequencing codes, fails.
func (c *SecContext) VerifyMIC(msg, tok []byte) (QoP, error) {
	const op = "gss_verify_mic"

	if err := c.requireEstablished(op); err != nil {
		return 0, err
	}

	st, qop := c.mech.VerifyMIC(c.handle, msg, tok)
	if err := makeStatus(op, st, c.mech); err != nil {
		return 0, err
	}

	return qop, nil
}

// Wrap implements GSS_Wrap (RFC 2743 § 2.3.3).  If the mechanism applies a different
// confidentiality state than conf the token is discarded and a PolicyViolation
// wrapping ErrConfidentialityMismatch is returned.
func (c *SecContext) Wrap(msg []byte, qop QoP, conf bool) ([]byte, error) {
	const op = "gss_wrap"

	if err := c.requireEstablished(op); err != nil {
		return nil, err
	}

	st, confState, tok := c.mech.Wrap(c.handle, conf, qop, msg)
	if err := makeStatus(op, st, c.mech); err != nil {
		return nil, err
	}

	if confState != conf {
		clear(tok)
		err := &PolicyViolation{Op: op, Err: ErrConfidentialityMismatch}
		c.log.Error(err, "wrap token discarded", "requested", conf, "granted", confState)
		return nil, err
	}

	return tok, nil
}

// Unwrap implements GSS_Unwrap (RFC 2743 § 2.3.4) and returns the message and the QoP
// the peer used.
func (c *SecContext) Unwrap(tok []byte) ([]byte, QoP, error) {
	msg, _, qop, err := c.UnwrapConf(tok)
	return msg, qop, err
}

// UnwrapConf is Unwrap that also reports whether the peer applied confidentiality.
func (c *SecContext) UnwrapConf(tok []byte) (msg []byte, conf bool, qop QoP, err error) {
	const op = "gss_unwrap"

	if err := c.requireEstablished(op); err != nil {
		return nil, false, 0, err
	}

	st, msg, conf, qop := c.mech.Unwrap(c.handle, tok)
	if err := makeStatus(op, st, c.mech); err != nil {
		return nil, false, 0, err
	}

	return msg, conf, qop, nil
}

// Destroy implements GSS_Delete_sec_context (RFC 2743 § 2.2.3) and releases the names
// held by the context.  It may be called in any state and more than once.
func (c *SecContext) Destroy() error {
	if c == nil || c.state == ContextDestroyed {
		return nil
	}

	var errs []error

	for _, n := range []*Name{c.sourceName, c.targetName} {
		errs = append(errs, n.Release())
	}
	c.sourceName, c.targetName = nil, nil

	if c.handle != nil {
		h := c.handle
		c.handle = nil
		errs = append(errs, makeStatus("gss_delete_sec_context", c.mech.DeleteSecContext(h), c.mech))
	}

	c.transition(ContextDestroyed)

	return errors.Join(errs...)
}

func (n *Name) handleOrNil() NameHandle {
	if n.IsNoName() {
		return nil
	}

	return n.handle
}

// String summarises the context for logging.
func (c *SecContext) String() string {
	var b bytes.Buffer

	fmt.Fprintf(&b, "%s context (%s", MechName(c.mech.Oid()), c.state)
	if c.state == ContextEstablished {
		fmt.Fprintf(&b, ", flags %s, lifetime %s", c.flags, c.lifetime)
	}
	b.WriteString(")")

	return b.String()
}
