// SPDX-License-Identifier: Apache-2.0

package rpcsec

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/golang-auth/go-gssctx"
	"github.com/golang-auth/go-gssctx/internal/metrics"
)

// ServerOptions holds the Server configuration.
type ServerOptions struct {
	Credential *gssctx.Credential
	Window     uint32
	Logger     logr.Logger
	Metrics    prometheus.Registerer
}

// ServerOption configures a Server.
type ServerOption func(o *ServerOptions)

// WithServerCredential sets the acceptor credential.  Without one the mechanism's
// default acceptor credential is used.
func WithServerCredential(cred *gssctx.Credential) ServerOption {
	return func(o *ServerOptions) {
		o.Credential = cred
	}
}

// WithWindow sets the sequence window advertised to clients.
func WithWindow(n uint32) ServerOption {
	return func(o *ServerOptions) {
		o.Window = n
	}
}

// WithServerLogger sets a logger for context events.
func WithServerLogger(log logr.Logger) ServerOption {
	return func(o *ServerOptions) {
		o.Logger = log
	}
}

// WithMetrics registers collectors for handshakes, protection calls and the number of
// held contexts with reg.
func WithMetrics(reg prometheus.Registerer) ServerOption {
	return func(o *ServerOptions) {
		o.Metrics = reg
	}
}

type serverContext struct {
	mu          sync.Mutex
	sc          *gssctx.SecContext
	window      *SeqWindow
	established bool
}

func (sc *serverContext) expired() bool {
	lt := sc.sc.Lifetime()
	switch lt.Status {
	case gssctx.GssLifetimeExpired:
		return true
	case gssctx.GssLifetimeAvailable:
		return time.Now().After(lt.ExpiresAt)
	}

	return false
}

// Server is the RPC server's half of RPCSEC_GSS.  It keeps a table of contexts indexed by
// the handles it gave out.  It is safe for concurrent use.
type Server struct {
	mech    gssctx.Mechanism
	opts    ServerOptions
	metrics *metrics.Recorder

	mu       sync.Mutex
	contexts map[uuid.UUID]*serverContext
}

// NewServer returns a server accepting contexts for mech.
func NewServer(mech gssctx.Mechanism, opts ...ServerOption) (*Server, error) {
	o := ServerOptions{Window: DefaultWindow, Logger: logr.Discard()}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Server{
		mech:     mech,
		opts:     o,
		contexts: make(map[uuid.UUID]*serverContext),
	}

	if o.Metrics != nil {
		var err error
		if s.metrics, err = metrics.NewRecorder(o.Metrics); err != nil {
			return nil, fmt.Errorf("rpcsec: %w", err)
		}
	}

	return s, nil
}

func (s *Server) lookup(handle []byte) (uuid.UUID, *serverContext, bool) {
	id, err := uuid.FromBytes(handle)
	if err != nil {
		return uuid.Nil, nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contexts[id]
	return id, c, ok
}

func (s *Server) remove(id uuid.UUID) *serverContext {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contexts[id]
	if !ok {
		return nil
	}
	delete(s.contexts, id)

	return c
}

// Len returns the number of contexts held, including those still being created.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.contexts)
}

// statusOf recovers the GSS-API status to report to the client from a failed Accept.
func statusOf(err error) (uint32, uint32) {
	var mf *gssctx.MechanismFailure
	if errors.As(err, &mf) {
		return mf.Major, mf.Minor
	}

	return gssctx.GSS_S_FAILURE, 0
}

// HandleInit processes an RPCSEC_GSS_INIT or RPCSEC_GSS_CONTINUE_INIT call.  GSS-API
// failures are reported to the client in the InitRes with a null verifier;  the error
// result is reserved for calls that must be rejected with AUTH_ERROR.
func (s *Server) HandleInit(cred Cred, args []byte) (InitRes, OpaqueAuth, error) {
	if cred.Version != Version1 {
		return InitRes{}, NullAuth, authError(AuthBadCred, fmt.Errorf("unsupported version %d", cred.Version))
	}

	token, err := unmarshalOpaque(args)
	if err != nil {
		return InitRes{}, NullAuth, fmt.Errorf("%w: %v", ErrGarbageArgs, err)
	}

	var (
		id uuid.UUID
		c  *serverContext
	)

	switch cred.V1.Proc {
	case ProcInit:
		sc, err := gssctx.NewSecContext(s.mech, gssctx.WithContextLogger(s.opts.Logger))
		if err != nil {
			return InitRes{}, NullAuth, err
		}
		id = uuid.New()
		c = &serverContext{sc: sc}

	case ProcContinueInit:
		var ok bool
		if id, c, ok = s.lookup(cred.V1.Handle); !ok {
			return InitRes{}, NullAuth, authError(CredProblem, errors.New("unknown context handle"))
		}

	default:
		return InitRes{}, NullAuth, authError(AuthBadCred, fmt.Errorf("%s is not a context creation procedure", cred.V1.Proc))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.established {
		return InitRes{}, NullAuth, authError(CredProblem, errors.New("context is already established"))
	}

	var acceptOpts []gssctx.AcceptOption
	if s.opts.Credential != nil {
		acceptOpts = append(acceptOpts, gssctx.WithAcceptorCredential(s.opts.Credential))
	}

	step, err := c.sc.Accept(token, acceptOpts...)
	s.metrics.Handshake(s.mech.Oid(), false, step, err)

	if err != nil {
		// a failed creation discards the context;  the client must start again
		s.remove(id)
		_ = c.sc.Destroy()

		major, minor := statusOf(err)
		s.opts.Logger.Error(err, "RPCSEC_GSS context creation failed", "proc", cred.V1.Proc)

		return InitRes{Major: major, Minor: minor}, NullAuth, nil
	}

	if cred.V1.Proc == ProcInit {
		s.mu.Lock()
		s.contexts[id] = c
		s.mu.Unlock()
	}

	res := InitRes{Handle: id[:], Token: step.Token}

	if step.Continue() {
		res.Major = gssctx.GSS_S_CONTINUE_NEEDED
		return res, NullAuth, nil
	}

	c.established = true
	c.window = NewSeqWindow(s.opts.Window)
	res.SeqWindow = c.window.Size()

	verf, err := signUint(c.sc, res.SeqWindow)
	if err != nil {
		s.remove(id)
		_ = c.sc.Destroy()
		return InitRes{}, NullAuth, err
	}

	s.metrics.ContextOpened(c.sc.Mech())
	s.opts.Logger.Info("RPCSEC_GSS context established", "handle", id, "peer", c.sc.SourceName().String())

	return res, verf, nil
}

// CheckCall authenticates a data or destroy call (RFC 2203 § 5.3.3) and returns its
// credential.  Failures that must be rejected return an *AuthError;  calls that must be
// silently discarded return ErrDrop.
func (s *Server) CheckCall(h CallHeader, verf OpaqueAuth) (CredV1, error) {
	cred, err := UnmarshalCred(h.Cred)
	if err != nil {
		return CredV1{}, err
	}

	v1 := cred.V1
	switch v1.Proc {
	case ProcData, ProcDestroy:
	default:
		return CredV1{}, authError(AuthBadCred, fmt.Errorf("%s is handled by HandleInit", v1.Proc))
	}

	switch v1.Service {
	case ServiceNone, ServiceIntegrity, ServicePrivacy:
	default:
		return CredV1{}, authError(AuthBadCred, fmt.Errorf("unknown service %d", v1.Service))
	}

	_, c, ok := s.lookup(v1.Handle)
	if !ok {
		return CredV1{}, authError(CredProblem, errors.New("unknown context handle"))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.established || c.expired() {
		return CredV1{}, authError(CtxProblem, errors.New("context is not usable"))
	}

	if verf.Flavor != AuthFlavor {
		return CredV1{}, authError(CredProblem, fmt.Errorf("verifier flavor %d is not RPCSEC_GSS", verf.Flavor))
	}

	hdr, err := h.Marshal()
	if err != nil {
		return CredV1{}, authError(AuthBadCred, err)
	}

	_, err = c.sc.VerifyMIC(hdr, verf.Body)
	s.metrics.Message("gss_verify_mic", err)
	if err != nil {
		return CredV1{}, authError(CredProblem, err)
	}

	if v1.SeqNum >= MaxSeq {
		return CredV1{}, authError(CtxProblem, fmt.Errorf("sequence number %d is out of range", v1.SeqNum))
	}

	if !c.window.Accept(v1.SeqNum) {
		s.opts.Logger.V(1).Info("dropping call outside the sequence window", "seq", v1.SeqNum)
		return CredV1{}, ErrDrop
	}

	return v1, nil
}

func (s *Server) withContext(cred CredV1, f func(c *serverContext) error) error {
	_, c, ok := s.lookup(cred.Handle)
	if !ok {
		return authError(CredProblem, errors.New("unknown context handle"))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return f(c)
}

// UnsecureArgs checks and strips the protection from the arguments of a call that
// passed CheckCall.
func (s *Server) UnsecureArgs(cred CredV1, args []byte) ([]byte, error) {
	var out []byte

	err := s.withContext(cred, func(c *serverContext) error {
		var err error
		out, err = unsecureBody(c.sc, cred.Service, cred.SeqNum, args)
		s.metrics.Message("rpcsec_unsecure_args", err)
		return err
	})

	return out, err
}

// SecureResults protects the encoded results of a call.
func (s *Server) SecureResults(cred CredV1, results []byte) ([]byte, error) {
	var out []byte

	err := s.withContext(cred, func(c *serverContext) error {
		var err error
		out, err = secureBody(c.sc, cred.Service, cred.SeqNum, results)
		s.metrics.Message("rpcsec_secure_results", err)
		return err
	})

	return out, err
}

// ReplyVerifier returns the verifier for a successful reply:  a MIC of the call's
// sequence number.
func (s *Server) ReplyVerifier(cred CredV1) (OpaqueAuth, error) {
	var verf OpaqueAuth

	err := s.withContext(cred, func(c *serverContext) error {
		var err error
		verf, err = signUint(c.sc, cred.SeqNum)
		return err
	})

	return verf, err
}

// SourceName returns the authenticated client of the context used by cred.  The name
// remains owned by the server.
func (s *Server) SourceName(cred CredV1) (*gssctx.Name, error) {
	var n *gssctx.Name

	err := s.withContext(cred, func(c *serverContext) error {
		n = c.sc.SourceName()
		return nil
	})

	return n, err
}

// Destroy discards the context used by cred, after an RPCSEC_GSS_DESTROY call passed
// CheckCall and its reply was built.
func (s *Server) Destroy(cred CredV1) error {
	id, err := uuid.FromBytes(cred.Handle)
	if err != nil {
		return authError(CredProblem, err)
	}

	c := s.remove(id)
	if c == nil {
		return authError(CredProblem, errors.New("unknown context handle"))
	}

	return s.release(c)
}

func (s *Server) release(c *serverContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.established {
		s.metrics.ContextClosed(c.sc.Mech())
	}

	return c.sc.Destroy()
}

// Close discards every context.
func (s *Server) Close() error {
	s.mu.Lock()
	held := s.contexts
	s.contexts = make(map[uuid.UUID]*serverContext)
	s.mu.Unlock()

	var errs []error
	for _, c := range held {
		errs = append(errs, s.release(c))
	}

	return errors.Join(errs...)
}
