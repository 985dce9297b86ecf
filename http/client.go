// SPDX-License-Identifier: Apache-2.0

package http

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/golang-auth/go-gssctx"
	"github.com/golang-auth/go-gssctx/internal/metrics"
)

// SpnFunc returns the service principal name for a URL.
type SpnFunc func(url url.URL) string

func defaultSpnFunc(url url.URL) string {
	return "HTTP@" + url.Hostname()
}

// DefaultSpnFunc is the SPN function used by new transports.
var DefaultSpnFunc SpnFunc = defaultSpnFunc

// OpportunisticFunc reports whether opportunistic authentication should be used for a URL.
type OpportunisticFunc func(url url.URL) bool

func opportunisticFuncAlways(url.URL) bool {
	return true
}

// DelegationPolicy is the policy for delegating credentials to the server.
type DelegationPolicy int

const (
	// DelegationPolicyNever means that credentials are not delegated.
	DelegationPolicyNever DelegationPolicy = iota
	// DelegationPolicyAlways requests delegation and fails the request if the mechanism
	// does not grant it.
	DelegationPolicyAlways
)

// DefaultDelegationPolicy is the delegation policy used by new transports.
var DefaultDelegationPolicy = DelegationPolicyNever

// Transport is a http.RoundTripper that adds Negotiate (RFC 4559) authentication.
type Transport struct {
	transport http.RoundTripper

	mech                      gssctx.Mechanism
	credential                *gssctx.Credential
	spnFunc                   SpnFunc
	opportunisticFunc         OpportunisticFunc
	delegationPolicy          DelegationPolicy
	mutual                    bool
	expect100Threshold        int64
	channelBindingDisposition ChannelBindingDisposition

	httpLogging bool
	log         logr.Logger
	registerer  prometheus.Registerer
	metrics     *metrics.Recorder
}

// ClientOption configures a Transport.
type ClientOption func(t *Transport)

// WithInitiatorOpportunistic makes the transport send a token with the first request
// instead of waiting for a 401 challenge (RFC 4559 § 4.2).  This saves a round trip at
// the cost of creating a context, and exposing credentials, for URLs that may not need
// authentication.
func WithInitiatorOpportunistic() ClientOption {
	return func(t *Transport) {
		t.opportunisticFunc = opportunisticFuncAlways
	}
}

// WithInitiatorOpportunisticFunc selects opportunistic authentication per URL.
func WithInitiatorOpportunisticFunc(f OpportunisticFunc) ClientOption {
	return func(t *Transport) {
		t.opportunisticFunc = f
	}
}

// WithInitiatorMutual requests mutual authentication.  The server must return a token
// with its final response and the request fails if it does not authenticate itself.
func WithInitiatorMutual() ClientOption {
	return func(t *Transport) {
		t.mutual = true
	}
}

// WithInitiatorCredential sets the initiator credential.
func WithInitiatorCredential(cred *gssctx.Credential) ClientOption {
	return func(t *Transport) {
		t.credential = cred
	}
}

// WithInitiatorSpnFunc sets the function mapping request URLs to service principal
// names.  The default is "HTTP@" + the host name of the URL.
func WithInitiatorSpnFunc(f SpnFunc) ClientOption {
	return func(t *Transport) {
		t.spnFunc = f
	}
}

// WithInitiatorDelegationPolicy sets the credential delegation policy.
func WithInitiatorDelegationPolicy(p DelegationPolicy) ClientOption {
	return func(t *Transport) {
		t.delegationPolicy = p
	}
}

// WithInitiatorExpect100Threshold enables the Expect: 100-continue header for
// non-opportunistic requests whose body is larger than threshold bytes or cannot be
// rewound.  It is disabled by default.
func WithInitiatorExpect100Threshold(threshold int64) ClientOption {
	return func(t *Transport) {
		t.expect100Threshold = threshold
	}
}

// WithInitiatorRoundTripper sets the wrapped round tripper.  The default is
// http.DefaultTransport.
func WithInitiatorRoundTripper(rt http.RoundTripper) ClientOption {
	return func(t *Transport) {
		t.transport = rt
	}
}

// WithInitiatorHttpLogging dumps requests, responses and connection events to the
// logger at V(2).
func WithInitiatorHttpLogging() ClientOption {
	return func(t *Transport) {
		t.httpLogging = true
	}
}

// WithInitiatorLogger sets the logger.
func WithInitiatorLogger(log logr.Logger) ClientOption {
	return func(t *Transport) {
		t.log = log
	}
}

// WithInitiatorChannelBindingDisposition controls the use of TLS channel bindings.
// Bindings need the TLS state of a first response, so opportunistic authentication is skipped for
// https URLs unless the disposition is ChannelBindingDispositionIgnore.
func WithInitiatorChannelBindingDisposition(d ChannelBindingDisposition) ClientOption {
	return func(t *Transport) {
		t.channelBindingDisposition = d
	}
}

// WithInitiatorMetrics registers handshake collectors with reg.
func WithInitiatorMetrics(reg prometheus.Registerer) ClientOption {
	return func(t *Transport) {
		t.registerer = reg
	}
}

// NewTransport returns a Negotiate transport for mech.
func NewTransport(mech gssctx.Mechanism, options ...ClientOption) (*Transport, error) {
	t := &Transport{
		transport:        http.DefaultTransport,
		mech:             mech,
		spnFunc:          DefaultSpnFunc,
		delegationPolicy: DefaultDelegationPolicy,
		log:              logr.Discard(),
	}
	for _, option := range options {
		option(t)
	}

	if t.registerer != nil {
		var err error
		if t.metrics, err = metrics.NewRecorder(t.registerer); err != nil {
			return nil, err
		}
	}

	return t, nil
}

// NewClient returns a copy of client (or http.DefaultClient) whose transport is a
// Negotiate Transport wrapping the original transport.
func NewClient(mech gssctx.Mechanism, client *http.Client, options ...ClientOption) (*http.Client, error) {
	if client == nil {
		client = http.DefaultClient
	}

	if client.Transport != nil {
		options = append([]ClientOption{WithInitiatorRoundTripper(client.Transport)}, options...)
	}

	t, err := NewTransport(mech, options...)
	if err != nil {
		return nil, err
	}

	newClient := *client
	newClient.Transport = t

	return &newClient, nil
}

// negotiation is the client side of one request's context.
type negotiation struct {
	t      *Transport
	sc     *gssctx.SecContext
	target *gssctx.Name
	opts   []gssctx.InitOption
	rounds int
}

func (t *Transport) newNegotiation(req *http.Request) (*negotiation, error) {
	sc, err := gssctx.NewSecContext(t.mech, gssctx.WithContextLogger(t.log))
	if err != nil {
		return nil, err
	}

	target, err := gssctx.ImportNameString(t.mech, t.spnFunc(*req.URL), gssctx.GSS_NT_HOSTBASED_SERVICE)
	if err != nil {
		_ = sc.Destroy()
		return nil, err
	}

	flags := gssctx.ContextFlagInteg
	if t.mutual {
		flags |= gssctx.ContextFlagMutual
	}
	if t.delegationPolicy == DelegationPolicyAlways {
		flags |= gssctx.ContextFlagDeleg
	}

	opts := []gssctx.InitOption{gssctx.WithInitiatorFlags(flags)}
	if t.credential != nil {
		opts = append(opts, gssctx.WithInitiatorCredential(t.credential))
	}

	return &negotiation{t: t, sc: sc, target: target, opts: opts}, nil
}

func (n *negotiation) close() {
	_ = n.sc.Destroy()
	_ = n.target.Release()
}

func (n *negotiation) started() bool {
	return n.rounds > 0
}

func (n *negotiation) done() bool {
	return n.sc.Established()
}

// step feeds the server's token to the context and leaves any output token in the
// request's Authorization header.
func (n *negotiation) step(req *http.Request, inToken string, resp *http.Response) error {
	var in []byte
	if inToken != "" {
		var err error
		if in, err = base64.StdEncoding.DecodeString(inToken); err != nil {
			return fmt.Errorf("decoding Negotiate token: %w", err)
		}
	}

	opts := n.opts
	if !n.started() {
		binding, err := n.t.bindings(req, resp)
		if err != nil {
			return err
		}
		if binding != nil {
			opts = append(opts, gssctx.WithInitiatorChannelBinding(binding))
		}
	}

	step, err := n.sc.Init(n.target, in, opts...)
	n.t.metrics.Handshake(n.t.mech.Oid(), true, step, err)
	if err != nil {
		return err
	}
	n.rounds++

	if len(step.Token) > 0 {
		req.Header.Set("Authorization", negotiateScheme+" "+base64.StdEncoding.EncodeToString(step.Token))
	}

	return nil
}

// bindings returns the channel bindings for the context, based on the TLS state of resp
// (the first response of a non-opportunistic exchange).
func (t *Transport) bindings(req *http.Request, resp *http.Response) (*gssctx.ChannelBinding, error) {
	if t.channelBindingDisposition == ChannelBindingDispositionIgnore {
		return nil, nil
	}

	if resp == nil || resp.TLS == nil {
		if t.channelBindingDisposition == ChannelBindingDispositionRequire {
			return nil, errNoTLS
		}
		t.log.V(1).Info("not using channel bindings", "url", req.URL.Redacted())
		return nil, nil
	}

	binding, err := tlsBinding(resp.TLS, nil)
	if err != nil {
		if t.channelBindingDisposition == ChannelBindingDispositionRequire {
			return nil, err
		}
		t.log.V(1).Info("not using channel bindings", "url", req.URL.Redacted(), "reason", err.Error())
		return nil, nil
	}

	return binding, nil
}

// roundTrip uses the wrapped round tripper, with HTTP logging if enabled.
func (t *Transport) roundTrip(req *http.Request) (*http.Response, error) {
	if t.httpLogging {
		if err := t.requestLogging(req); err != nil {
			return nil, err
		}
	}

	resp, err := t.transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if t.httpLogging {
		if err := t.responseLogging(resp); err != nil {
			discard(resp)
			return nil, err
		}
	}

	return resp, nil
}

func (t *Transport) useOpportunistic(req *http.Request) bool {
	if t.opportunisticFunc == nil || !t.opportunisticFunc(*req.URL) {
		return false
	}

	// bindings need the TLS state of a first response
	return req.URL.Scheme != "https" || t.channelBindingDisposition == ChannelBindingDispositionIgnore
}

// RoundTrip implements http.RoundTripper.  A single call may make several requests to
// complete the context.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.httpLogging {
		req = t.setupLogging(req)
	}

	// RoundTrip must not modify the caller's request
	req = req.Clone(req.Context())

	n, err := t.newNegotiation(req)
	if err != nil {
		return nil, err
	}
	defer n.close()

	opportunistic := t.useOpportunistic(req)

	if !opportunistic && t.expect100Threshold > 0 {
		switch {
		case req.ContentLength > t.expect100Threshold:
			t.log.V(1).Info("using Expect: 100-continue for a large request body", "threshold", t.expect100Threshold)
			req.Header.Set("Expect", "100-continue")
		case req.Body != nil && req.Body != http.NoBody && req.GetBody == nil:
			t.log.V(1).Info("using Expect: 100-continue for a request body that cannot be rewound")
			req.Header.Set("Expect", "100-continue")
		}
	}

	var resp *http.Response

	for {
		inToken := ""

		if n.started() || !opportunistic {
			if resp != nil {
				// the previous response is replaced by the retry
				discard(resp)
				if err := rewind(req); err != nil {
					return nil, err
				}
			}

			if resp, err = t.roundTrip(req); err != nil {
				return nil, err
			}

			challenges := negotiateChallenges(resp.Header)
			if len(challenges) > 1 {
				discard(resp)
				return nil, errors.New("multiple Negotiate challenges found in response")
			}
			if len(challenges) == 0 {
				// authentication is finished or was never needed
				break
			}

			c := challenges[0]
			if len(c.Params) > 0 {
				discard(resp)
				return nil, errors.New("Negotiate challenge must not have parameters")
			}
			if c.Token68 == "" && resp.StatusCode != http.StatusUnauthorized {
				discard(resp)
				return nil, errors.New("Negotiate challenge must have a token unless this is a 401 response")
			}
			if c.Token68 == "" && n.started() {
				// the server rejected our token
				break
			}
			inToken = c.Token68
		}

		if n.done() {
			if inToken != "" {
				discard(resp)
				return nil, errors.New("Negotiate token received after the context was established")
			}
			break
		}

		if err := n.step(req, inToken, resp); err != nil {
			if resp != nil {
				discard(resp)
			}
			return nil, err
		}

		// nothing more to send unless the server challenged us
		if resp != nil && resp.StatusCode != http.StatusUnauthorized {
			break
		}
	}

	if !n.started() {
		return resp, nil
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return resp, nil
	}

	if !n.done() {
		discard(resp)
		return nil, errors.New("context not fully established")
	}

	flags := n.sc.Flags()
	if t.mutual && flags&gssctx.ContextFlagMutual == 0 {
		discard(resp)
		return nil, errors.New("mutual authentication requested but not available")
	}
	if t.delegationPolicy == DelegationPolicyAlways && flags&gssctx.ContextFlagDeleg == 0 {
		discard(resp)
		return nil, errors.New("delegation requested but not available")
	}

	t.log.V(1).Info("Negotiate authentication complete", "url", req.URL.Redacted(), "rounds", n.rounds, "flags", flags.String())

	return resp, nil
}

// maxDrain bounds how much of a discarded response body is read.
const maxDrain = 64 << 10

// discard closes the body of a response that is not handed to the caller.  What is left of
// a small body is read first so the transport can reuse the connection.
func discard(resp *http.Response) {
	_, _ = io.CopyN(io.Discard, resp.Body, maxDrain)
	_ = resp.Body.Close()
}

// rewind resets the request body before a retry.  A body without GetBody is reused as
// is, which only works if the server rejected the request before reading it (Expect:
// 100-continue).
func rewind(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody == nil {
		return nil
	}

	body, err := req.GetBody()
	if err != nil {
		return err
	}
	req.Body = body

	return nil
}
