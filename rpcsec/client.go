// SPDX-License-Identifier: Apache-2.0

package rpcsec

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-logr/logr"

	"github.com/golang-auth/go-gssctx"
)

// Signer computes the call verifier once the RPC layer has built the call header.
type Signer func(h CallHeader) (OpaqueAuth, error)

// CallFunc sends one RPC call with the given credential and encoded arguments and
// returns the encoded results and the reply verifier.  sign is nil for context creation
// calls, which carry an AUTH_NONE verifier.
type CallFunc func(ctx context.Context, cred OpaqueAuth, sign Signer, args []byte) (results []byte, verf OpaqueAuth, err error)

// InitError reports a context creation failure returned by the server.
type InitError struct {
	Major uint32
	Minor uint32
}

func (e *InitError) Error() string {
	return fmt.Sprintf("rpcsec: server failed to accept the context: %s", gssctx.MakeStatus(e.Major, e.Minor))
}

// ClientOptions holds the Client configuration.
type ClientOptions struct {
	Service    Service
	Credential *gssctx.Credential
	Logger     logr.Logger
}

// ClientOption configures a Client.
type ClientOption func(o *ClientOptions)

// WithService selects the protection for call arguments and results.  The default is
// ServiceIntegrity.
func WithService(svc Service) ClientOption {
	return func(o *ClientOptions) {
		o.Service = svc
	}
}

// WithClientCredential sets the initiator credential.
func WithClientCredential(cred *gssctx.Credential) ClientOption {
	return func(o *ClientOptions) {
		o.Credential = cred
	}
}

// WithClientLogger sets a logger for context events.
func WithClientLogger(log logr.Logger) ClientOption {
	return func(o *ClientOptions) {
		o.Logger = log
	}
}

// Client is the caller's half of an RPCSEC_GSS context.  After Establish it may be used
// by concurrent calls.
type Client struct {
	opts   ClientOptions
	target *gssctx.Name
	sc     *gssctx.SecContext

	mu     sync.Mutex // serialises use of sc and the sequence counter
	handle []byte
	window uint32
	seq    uint32
	ready  bool
}

// NewClient returns a client that will establish a context with target using mech.
func NewClient(mech gssctx.Mechanism, target *gssctx.Name, opts ...ClientOption) (*Client, error) {
	o := ClientOptions{Service: ServiceIntegrity, Logger: logr.Discard()}
	for _, opt := range opts {
		opt(&o)
	}

	sc, err := gssctx.NewSecContext(mech, gssctx.WithContextLogger(o.Logger))
	if err != nil {
		return nil, err
	}

	return &Client{opts: o, target: target, sc: sc}, nil
}

// Establish creates the context with RPCSEC_GSS_INIT and RPCSEC_GSS_CONTINUE_INIT calls.
// Only mutual authentication is requested:  RPC provides its own replay protection and
// calls may legitimately arrive out of order.
func (c *Client) Establish(ctx context.Context, call CallFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	initOpts := []gssctx.InitOption{gssctx.WithInitiatorFlags(gssctx.ContextFlagMutual)}
	if c.opts.Credential != nil {
		initOpts = append(initOpts, gssctx.WithInitiatorCredential(c.opts.Credential))
	}

	var (
		in         []byte
		proc       = ProcInit
		res        InitRes
		verf       OpaqueAuth
		serverDone bool
	)

	for {
		step, err := c.sc.Init(c.target, in, initOpts...)
		if err != nil {
			return fmt.Errorf("rpcsec: establishing context: %w", err)
		}

		if step.Complete() && len(step.Token) == 0 {
			break
		}
		if serverDone {
			return errors.New("rpcsec: server completed the context before the client")
		}

		res, verf, err = c.initCall(ctx, call, proc, step.Token)
		if err != nil {
			return err
		}
		c.opts.Logger.V(1).Info("context creation round", "proc", proc, "major", res.Major)
		proc = ProcContinueInit

		switch res.Major {
		case gssctx.GSS_S_COMPLETE:
			serverDone = true
		case gssctx.GSS_S_CONTINUE_NEEDED:
		default:
			return &InitError{Major: res.Major, Minor: res.Minor}
		}

		c.handle = res.Handle

		if step.Complete() {
			break
		}
		in = res.Token
	}

	if !serverDone {
		return errors.New("rpcsec: client completed the context before the server")
	}

	// the server proves possession of the context by signing the window
	if err := verifyUint(c.sc, res.SeqWindow, verf); err != nil {
		return err
	}

	c.window = res.SeqWindow
	c.ready = true
	c.opts.Logger.Info("RPCSEC_GSS context established", "window", c.window, "service", c.opts.Service)

	return nil
}

func (c *Client) initCall(ctx context.Context, call CallFunc, proc Proc, token []byte) (InitRes, OpaqueAuth, error) {
	cred, err := NewCred(CredV1{Proc: proc, Service: c.opts.Service, Handle: c.handle}).OpaqueAuth()
	if err != nil {
		return InitRes{}, OpaqueAuth{}, err
	}

	args, err := marshalOpaque(token)
	if err != nil {
		return InitRes{}, OpaqueAuth{}, err
	}

	out, verf, err := call(ctx, cred, nil, args)
	if err != nil {
		return InitRes{}, OpaqueAuth{}, fmt.Errorf("rpcsec: %s call: %w", proc, err)
	}

	res, err := UnmarshalInitRes(out)
	if err != nil {
		return InitRes{}, OpaqueAuth{}, err
	}

	return res, verf, nil
}

// Window returns the sequence window advertised by the server.
func (c *Client) Window() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.window
}

// SecContext returns the underlying context, eg. to inspect the peer names.
func (c *Client) SecContext() *gssctx.SecContext {
	return c.sc
}

// NextCred returns the credential for the next data call.
func (c *Client) NextCred() (CredV1, error) {
	return c.nextCred(ProcData)
}

func (c *Client) nextCred(proc Proc) (CredV1, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ready {
		return CredV1{}, ErrNotEstablished
	}

	if c.seq >= MaxSeq {
		return CredV1{}, ErrSeqExhausted
	}

	cred := CredV1{Proc: proc, SeqNum: c.seq, Service: c.opts.Service, Handle: c.handle}
	c.seq++

	return cred, nil
}

// CallVerifier signs a call header.  It is a Signer.
func (c *Client) CallVerifier(h CallHeader) (OpaqueAuth, error) {
	b, err := h.Marshal()
	if err != nil {
		return OpaqueAuth{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	mic, err := c.sc.GetMIC(b, 0)
	if err != nil {
		return OpaqueAuth{}, fmt.Errorf("rpcsec: signing call header: %w", err)
	}

	return OpaqueAuth{Flavor: AuthFlavor, Body: mic}, nil
}

// CheckReplyVerifier checks the verifier of a successful reply to the call made with
// sequence number seq.
func (c *Client) CheckReplyVerifier(seq uint32, verf OpaqueAuth) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return verifyUint(c.sc, seq, verf)
}

// SecureArgs protects the encoded arguments of the call made with cred.
func (c *Client) SecureArgs(cred CredV1, args []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return secureBody(c.sc, cred.Service, cred.SeqNum, args)
}

// UnsecureResults checks and strips the protection from the results of the call made
// with cred.
func (c *Client) UnsecureResults(cred CredV1, results []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return unsecureBody(c.sc, cred.Service, cred.SeqNum, results)
}

// Destroy asks the server to discard the context with an RPCSEC_GSS_DESTROY call and
// then releases it locally.  The local context is released even if the call fails.
func (c *Client) Destroy(ctx context.Context, call CallFunc) error {
	var callErr error

	if cred, err := c.nextCred(ProcDestroy); err == nil {
		callErr = c.destroyCall(ctx, call, cred)
	}

	c.mu.Lock()
	c.ready = false
	c.mu.Unlock()

	return errors.Join(callErr, c.sc.Destroy())
}

func (c *Client) destroyCall(ctx context.Context, call CallFunc, cred CredV1) error {
	oa, err := NewCred(cred).OpaqueAuth()
	if err != nil {
		return err
	}

	args, err := c.SecureArgs(cred, nil)
	if err != nil {
		return err
	}

	_, verf, err := call(ctx, oa, c.CallVerifier, args)
	if err != nil {
		return fmt.Errorf("rpcsec: %s call: %w", ProcDestroy, err)
	}

	return c.CheckReplyVerifier(cred.SeqNum, verf)
}
