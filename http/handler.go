// SPDX-License-Identifier: Apache-2.0

package http

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/golang-auth/go-gssctx"
	"github.com/golang-auth/go-gssctx/internal/metrics"
)

// InitiatorName describes the authenticated initiator of a request.
type InitiatorName struct {
	// PrincipalName is the mechanism's display form of the initiator name
	PrincipalName string

	// NameType is the name type OID in dotted form
	NameType string

	// Mech is the name of the mechanism that authenticated the initiator
	Mech string

	// ChannelBound is set when the context was bound to the TLS channel
	ChannelBound bool
}

// GetInitiatorName returns the initiator stored in the request context by
// [Handler.ServeHTTP].
func GetInitiatorName(r *http.Request) (*InitiatorName, bool) {
	in := getInitiatorNameContext(r.Context())
	return in, in != nil
}

// Handler is a http.Handler that performs Negotiate authentication and passes the
// initiator name to the next handler.
type Handler struct {
	mech                      gssctx.Mechanism
	credential                *gssctx.Credential
	next                      http.Handler
	channelBindingDisposition ChannelBindingDisposition
	certificate               *x509.Certificate
	log                       logr.Logger
	registerer                prometheus.Registerer
	metrics                   *metrics.Recorder
}

// HandlerOption configures a Handler.
type HandlerOption func(h *Handler)

// WithAcceptorCredential sets the acceptor credential.
func WithAcceptorCredential(credential *gssctx.Credential) HandlerOption {
	return func(h *Handler) {
		h.credential = credential
	}
}

// WithAcceptorChannelBindingDisposition controls the use of TLS channel bindings.  With
// ChannelBindingDispositionRequire, requests whose context is not bound to the TLS
// channel are refused.
func WithAcceptorChannelBindingDisposition(d ChannelBindingDisposition) HandlerOption {
	return func(h *Handler) {
		h.channelBindingDisposition = d
	}
}

// WithAcceptorCertificate sets the server certificate used for channel bindings below
// TLS 1.3.  Without it the certificate is taken from the http.Server TLS configuration.
func WithAcceptorCertificate(cert *x509.Certificate) HandlerOption {
	return func(h *Handler) {
		h.certificate = cert
	}
}

// WithAcceptorLogger sets the logger.
func WithAcceptorLogger(log logr.Logger) HandlerOption {
	return func(h *Handler) {
		h.log = log
	}
}

// WithAcceptorMetrics registers handshake collectors with reg.
func WithAcceptorMetrics(reg prometheus.Registerer) HandlerOption {
	return func(h *Handler) {
		h.registerer = reg
	}
}

// NewHandler returns a Handler accepting contexts for mech and calling next for
// authenticated requests.
func NewHandler(mech gssctx.Mechanism, next http.Handler, options ...HandlerOption) (*Handler, error) {
	h := &Handler{
		mech: mech,
		next: next,
		log:  logr.Discard(),
	}
	for _, option := range options {
		option(h)
	}

	if h.registerer != nil {
		var err error
		if h.metrics, err = metrics.NewRecorder(h.registerer); err != nil {
			return nil, err
		}
	}

	return h, nil
}

func challenge401(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", negotiateScheme)
	w.WriteHeader(http.StatusUnauthorized)
}

// ServeHTTP authenticates the request and calls the next handler with the initiator
// name in the request context.
//
// Only contexts that complete in one round trip are supported:  the Go http.Server gives
// no way to keep a context between requests short of hijacking the connection.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	scheme, token := authorization(r.Header)
	if scheme != "negotiate" || token == "" {
		challenge401(w)
		return
	}

	outToken, in, err := h.NegotiateOnce(r, token)
	if err != nil {
		h.log.Info("Negotiate authentication failed", "remote", r.RemoteAddr, "err", err.Error())
		challenge401(w)
		return
	}

	if outToken != "" {
		w.Header().Set("WWW-Authenticate", negotiateScheme+" "+outToken)
	}

	h.log.V(1).Info("authenticated request", "initiator", in.PrincipalName, "mech", in.Mech, "channelBound", in.ChannelBound)
	h.next.ServeHTTP(w, r.WithContext(stashInitiatorName(r.Context(), in)))
}

// NegotiateOnce accepts a context from a single base64 encoded token and returns the
// encoded response token, if any, and the initiator name.
func (h *Handler) NegotiateOnce(r *http.Request, negotiateToken string) (string, *InitiatorName, error) {
	rawToken, err := base64.StdEncoding.DecodeString(negotiateToken)
	if err != nil {
		return "", nil, fmt.Errorf("decoding Negotiate token: %w", err)
	}

	var opts []gssctx.AcceptOption
	if h.credential != nil {
		opts = append(opts, gssctx.WithAcceptorCredential(h.credential))
	}

	binding, err := h.bindings(r)
	if err != nil {
		return "", nil, err
	}
	if binding != nil {
		opts = append(opts, gssctx.WithAcceptorChannelBinding(binding))
	}

	sc, err := gssctx.NewSecContext(h.mech, gssctx.WithContextLogger(h.log))
	if err != nil {
		return "", nil, err
	}
	defer sc.Destroy() //nolint:errcheck

	step, err := sc.Accept(rawToken, opts...)
	h.metrics.Handshake(h.mech.Oid(), false, step, err)
	if err != nil {
		return "", nil, err
	}
	if step.Continue() {
		return "", nil, errors.New("mechanism needs more than one round trip")
	}

	channelBound := sc.Flags()&gssctx.ContextFlagChannelBound != 0
	if h.channelBindingDisposition == ChannelBindingDispositionRequire && !channelBound {
		return "", nil, errors.New("initiator did not supply channel bindings")
	}

	src := sc.SourceName()
	_, nameType := src.Display()
	in := &InitiatorName{
		PrincipalName: src.String(),
		NameType:      nameType.String(),
		Mech:          gssctx.MechName(sc.Mech()),
		ChannelBound:  channelBound,
	}

	out := ""
	if len(step.Token) > 0 {
		out = base64.StdEncoding.EncodeToString(step.Token)
	}

	return out, in, nil
}

func (h *Handler) bindings(r *http.Request) (*gssctx.ChannelBinding, error) {
	if h.channelBindingDisposition == ChannelBindingDispositionIgnore {
		return nil, nil
	}

	if r.TLS == nil {
		if h.channelBindingDisposition == ChannelBindingDispositionRequire {
			return nil, errNoTLS
		}
		return nil, nil
	}

	var cert *x509.Certificate
	var err error
	if r.TLS.Version < tls.VersionTLS13 {
		cert, err = h.serverCertificate(r)
	}

	var binding *gssctx.ChannelBinding
	if err == nil {
		binding, err = tlsBinding(r.TLS, cert)
	}
	if err != nil {
		if h.channelBindingDisposition == ChannelBindingDispositionRequire {
			return nil, err
		}
		h.log.V(1).Info("not using channel bindings", "reason", err.Error())
		return nil, nil
	}

	return binding, nil
}

// serverCertificate finds the certificate the server presented on the request's
// connection.
func (h *Handler) serverCertificate(r *http.Request) (*x509.Certificate, error) {
	if h.certificate != nil {
		return h.certificate, nil
	}

	srv := getServerContext(r.Context())
	if srv == nil || srv.TLSConfig == nil {
		return nil, errors.New("server certificate unknown")
	}

	var cert *tls.Certificate
	switch cfg := srv.TLSConfig; {
	case cfg.GetCertificate != nil:
		conn := getConnContext(r.Context())
		if conn == nil {
			return nil, errors.New("server certificate unknown: use ServerWithStashConn")
		}

		var err error
		cert, err = cfg.GetCertificate(&tls.ClientHelloInfo{ServerName: r.TLS.ServerName, Conn: conn})
		if err != nil {
			return nil, err
		}

	case len(cfg.Certificates) > 0:
		cert = &cfg.Certificates[0]
	}

	if cert == nil || len(cert.Certificate) == 0 {
		return nil, errors.New("server certificate unknown")
	}
	if cert.Leaf != nil {
		return cert.Leaf, nil
	}

	return x509.ParseCertificate(cert.Certificate[0])
}
