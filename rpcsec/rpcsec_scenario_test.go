// SPDX-License-Identifier: Apache-2.0

package rpcsec

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/golang-auth/go-gssctx"
	"github.com/golang-auth/go-gssctx/mechs/loopback"
)

// rpcServer dispatches calls to a Server the way an RPC server's auth layer would and
// echoes the arguments of data calls.
type rpcServer struct {
	t   *testing.T
	srv *Server
	xid uint32
}

func (r *rpcServer) call(_ context.Context, cred OpaqueAuth, sign Signer, args []byte) ([]byte, OpaqueAuth, error) {
	c, err := UnmarshalCred(cred)
	if err != nil {
		return nil, OpaqueAuth{}, err
	}

	if c.V1.Proc == ProcInit || c.V1.Proc == ProcContinueInit {
		res, verf, err := r.srv.HandleInit(c, args)
		if err != nil {
			return nil, OpaqueAuth{}, err
		}

		out, err := res.Marshal()
		return out, verf, err
	}

	r.xid++
	hdr := CallHeader{XID: r.xid, Prog: 100003, Vers: 4, Proc: 1, Cred: cred}

	verf, err := sign(hdr)
	if err != nil {
		return nil, OpaqueAuth{}, err
	}

	v1, err := r.srv.CheckCall(hdr, verf)
	if err != nil {
		return nil, OpaqueAuth{}, err
	}

	if v1.Proc == ProcDestroy {
		rv, err := r.srv.ReplyVerifier(v1)
		if err != nil {
			return nil, OpaqueAuth{}, err
		}

		return nil, rv, r.srv.Destroy(v1)
	}

	in, err := r.srv.UnsecureArgs(v1, args)
	if err != nil {
		return nil, OpaqueAuth{}, err
	}

	out, err := r.srv.SecureResults(v1, append([]byte("echo:"), in...))
	if err != nil {
		return nil, OpaqueAuth{}, err
	}

	rv, err := r.srv.ReplyVerifier(v1)
	return out, rv, err
}

func echo(t *testing.T, rs *rpcServer, c *Client, msg string) string {
	t.Helper()

	cred, err := c.NextCred()
	require.NoError(t, err)
	oa, err := NewCred(cred).OpaqueAuth()
	require.NoError(t, err)
	args, err := c.SecureArgs(cred, []byte(msg))
	require.NoError(t, err)

	res, verf, err := rs.call(context.Background(), oa, c.CallVerifier, args)
	require.NoError(t, err)
	require.NoError(t, c.CheckReplyVerifier(cred.SeqNum, verf))

	out, err := c.UnsecureResults(cred, res)
	require.NoError(t, err)

	return string(out)
}

func newTarget(t *testing.T, mech gssctx.Mechanism) *gssctx.Name {
	target, err := gssctx.ImportNameString(mech, "nfs@server.example", gssctx.GSS_NT_HOSTBASED_SERVICE)
	require.NoError(t, err)
	t.Cleanup(func() { _ = target.Release() })

	return target
}

// setup establishes a context over an in-process server.
func setup(t *testing.T, mech *loopback.Mech, svc Service, srvOpts ...ServerOption) (*rpcServer, *Client) {
	t.Helper()

	srv, err := NewServer(mech, srvOpts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	rs := &rpcServer{t: t, srv: srv}

	c, err := NewClient(mech, newTarget(t, mech), WithService(svc))
	require.NoError(t, err)
	require.NoError(t, c.Establish(context.Background(), rs.call))

	return rs, c
}

func TestEstablish(t *testing.T) {
	for rounds := 1; rounds <= 3; rounds++ {
		for _, svc := range []Service{ServiceNone, ServiceIntegrity, ServicePrivacy} {
			t.Run(fmt.Sprintf("rounds=%d/%s", rounds, svc), func(t *testing.T) {
				assert := assert.New(t)

				mech := loopback.New(loopback.WithRounds(rounds))
				rs, c := setup(t, mech, svc, WithWindow(16))

				assert.Equal(uint32(16), c.Window())
				assert.Equal(1, rs.srv.Len())
				assert.True(c.SecContext().Established())
				assert.NotZero(c.SecContext().Flags() & gssctx.ContextFlagMutual)
				assert.Zero(c.SecContext().Flags() & gssctx.ContextFlagReplay)

				for i := range 3 {
					msg := fmt.Sprintf("call %d", i)
					assert.Equal("echo:"+msg, echo(t, rs, c, msg))
				}

				require.NoError(t, c.Destroy(context.Background(), rs.call))
				assert.Equal(0, rs.srv.Len())
				assert.Equal(gssctx.ContextDestroyed, c.SecContext().State())

				_, err := c.NextCred()
				assert.ErrorIs(err, ErrNotEstablished)
			})
		}
	}
}

func TestSourceName(t *testing.T) {
	rs, c := setup(t, loopback.New(), ServiceIntegrity)

	cred, err := c.NextCred()
	require.NoError(t, err)

	n, err := rs.srv.SourceName(cred)
	require.NoError(t, err)
	assert.Equal(t, "loopback@localhost", n.String())
}

func TestNotEstablished(t *testing.T) {
	mech := loopback.New()
	c, err := NewClient(mech, newTarget(t, mech))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.SecContext().Destroy() })

	_, err = c.NextCred()
	assert.ErrorIs(t, err, ErrNotEstablished)
}

func TestInitFailure(t *testing.T) {
	mech := loopback.New(loopback.WithFault("gss_accept_sec_context", gssctx.GSS_S_DEFECTIVE_TOKEN, loopback.MinorInjected))

	reg := prometheus.NewRegistry()
	srv, err := NewServer(mech, WithMetrics(reg))
	require.NoError(t, err)
	rs := &rpcServer{t: t, srv: srv}

	c, err := NewClient(mech, newTarget(t, mech))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.SecContext().Destroy() })

	err = c.Establish(context.Background(), rs.call)

	var ie *InitError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, gssctx.GSS_S_DEFECTIVE_TOKEN, ie.Major)
	assert.Equal(t, loopback.MinorInjected, ie.Minor)
	assert.Equal(t, 0, srv.Len())

	expected := `
# HELP gssctx_handshakes_total Security context establishment rounds by mechanism, role and outcome.
# TYPE gssctx_handshakes_total counter
gssctx_handshakes_total{mech="1.3.6.1.4.1.32473.1.1",outcome="mechanism_failure",role="acceptor"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "gssctx_handshakes_total"))
}

func TestContinueUnknownHandle(t *testing.T) {
	srv, err := NewServer(loopback.New())
	require.NoError(t, err)

	args, err := marshalOpaque([]byte("token"))
	require.NoError(t, err)

	_, _, err = srv.HandleInit(NewCred(CredV1{Proc: ProcContinueInit, Handle: []byte("0123456789abcdef")}), args)

	var ae *AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, CredProblem, ae.Stat)

	_, _, err = srv.HandleInit(NewCred(CredV1{Proc: ProcData}), args)
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AuthBadCred, ae.Stat)

	_, _, err = srv.HandleInit(NewCred(CredV1{Proc: ProcInit}), []byte{1, 2})
	assert.ErrorIs(t, err, ErrGarbageArgs)
}

func TestCheckCall(t *testing.T) {
	header := func(t *testing.T, cred CredV1) CallHeader {
		oa, err := NewCred(cred).OpaqueAuth()
		require.NoError(t, err)

		return CallHeader{XID: 77, Prog: 100003, Vers: 4, Proc: 1, Cred: oa}
	}

	authStat := func(t *testing.T, err error) AuthStat {
		t.Helper()

		var ae *AuthError
		require.ErrorAs(t, err, &ae)
		return ae.Stat
	}

	t.Run("unknown handle", func(t *testing.T) {
		rs, c := setup(t, loopback.New(), ServiceIntegrity)

		cred, err := c.NextCred()
		require.NoError(t, err)
		cred.Handle = []byte("fedcba9876543210")

		h := header(t, cred)
		verf, err := c.CallVerifier(h)
		require.NoError(t, err)

		_, err = rs.srv.CheckCall(h, verf)
		assert.Equal(t, CredProblem, authStat(t, err))
	})

	t.Run("bad verifier", func(t *testing.T) {
		rs, c := setup(t, loopback.New(), ServiceIntegrity)

		cred, err := c.NextCred()
		require.NoError(t, err)
		h := header(t, cred)

		_, err = rs.srv.CheckCall(h, OpaqueAuth{Flavor: AuthFlavor, Body: []byte("not a mic")})
		assert.Equal(t, CredProblem, authStat(t, err))

		_, err = rs.srv.CheckCall(h, NullAuth)
		assert.Equal(t, CredProblem, authStat(t, err))

		// a verifier for a different header
		other := h
		other.XID++
		verf, err := c.CallVerifier(other)
		require.NoError(t, err)
		_, err = rs.srv.CheckCall(h, verf)
		assert.Equal(t, CredProblem, authStat(t, err))
	})

	t.Run("replay", func(t *testing.T) {
		rs, c := setup(t, loopback.New(), ServiceIntegrity)

		cred, err := c.NextCred()
		require.NoError(t, err)
		h := header(t, cred)
		verf, err := c.CallVerifier(h)
		require.NoError(t, err)

		_, err = rs.srv.CheckCall(h, verf)
		require.NoError(t, err)

		_, err = rs.srv.CheckCall(h, verf)
		assert.ErrorIs(t, err, ErrDrop)
	})

	t.Run("out of order", func(t *testing.T) {
		rs, c := setup(t, loopback.New(), ServiceIntegrity, WithWindow(4))

		creds := make([]CredV1, 6)
		for i := range creds {
			var err error
			creds[i], err = c.NextCred()
			require.NoError(t, err)
		}

		check := func(cred CredV1) error {
			h := header(t, cred)
			verf, err := c.CallVerifier(h)
			require.NoError(t, err)

			_, err = rs.srv.CheckCall(h, verf)
			return err
		}

		assert.NoError(t, check(creds[5]))
		assert.NoError(t, check(creds[3]))
		assert.ErrorIs(t, check(creds[1]), ErrDrop)
		assert.NoError(t, check(creds[2]))
	})

	t.Run("sequence out of range", func(t *testing.T) {
		rs, c := setup(t, loopback.New(), ServiceIntegrity)

		cred, err := c.NextCred()
		require.NoError(t, err)
		cred.SeqNum = MaxSeq

		h := header(t, cred)
		verf, err := c.CallVerifier(h)
		require.NoError(t, err)

		_, err = rs.srv.CheckCall(h, verf)
		assert.Equal(t, CtxProblem, authStat(t, err))
	})

	t.Run("bad service", func(t *testing.T) {
		rs, c := setup(t, loopback.New(), ServiceIntegrity)

		cred, err := c.NextCred()
		require.NoError(t, err)
		cred.Service = 9

		_, err = rs.srv.CheckCall(header(t, cred), NullAuth)
		assert.Equal(t, AuthBadCred, authStat(t, err))
	})

	t.Run("init proc", func(t *testing.T) {
		rs, c := setup(t, loopback.New(), ServiceIntegrity)

		cred, err := c.NextCred()
		require.NoError(t, err)
		cred.Proc = ProcContinueInit

		_, err = rs.srv.CheckCall(header(t, cred), NullAuth)
		assert.Equal(t, AuthBadCred, authStat(t, err))
	})

	t.Run("destroyed context", func(t *testing.T) {
		rs, c := setup(t, loopback.New(), ServiceIntegrity)

		cred, err := c.NextCred()
		require.NoError(t, err)
		require.NoError(t, rs.srv.Destroy(cred))

		_, err = rs.srv.CheckCall(header(t, cred), NullAuth)
		assert.Equal(t, CredProblem, authStat(t, err))

		assert.Equal(t, CredProblem, authStat(t, rs.srv.Destroy(cred)))
	})
}

func TestBodies(t *testing.T) {
	t.Run("tampered integrity body", func(t *testing.T) {
		rs, c := setup(t, loopback.New(), ServiceIntegrity)

		cred, err := c.NextCred()
		require.NoError(t, err)
		args, err := c.SecureArgs(cred, []byte("hello world"))
		require.NoError(t, err)

		// the data follows the opaque length and sequence number
		args[10] ^= 0xff

		_, err = rs.srv.UnsecureArgs(cred, args)
		assert.ErrorIs(t, err, ErrGarbageArgs)
	})

	t.Run("body moved to another call", func(t *testing.T) {
		for _, svc := range []Service{ServiceIntegrity, ServicePrivacy} {
			rs, c := setup(t, loopback.New(), svc)

			first, err := c.NextCred()
			require.NoError(t, err)
			second, err := c.NextCred()
			require.NoError(t, err)

			args, err := c.SecureArgs(first, []byte("hello"))
			require.NoError(t, err)

			_, err = rs.srv.UnsecureArgs(second, args)
			assert.ErrorIs(t, err, ErrGarbageArgs, svc.String())

			out, err := rs.srv.UnsecureArgs(first, args)
			assert.NoError(t, err, svc.String())
			assert.Equal(t, "hello", string(out))
		}
	})

	t.Run("privacy body not encrypted", func(t *testing.T) {
		rs, c := setup(t, loopback.New(), ServicePrivacy)

		cred, err := c.NextCred()
		require.NoError(t, err)

		tok, err := c.SecContext().Wrap(append(marshalUint(cred.SeqNum), "hello"...), 0, false)
		require.NoError(t, err)
		args, err := marshalOpaque(tok)
		require.NoError(t, err)

		_, err = rs.srv.UnsecureArgs(cred, args)
		assert.ErrorIs(t, err, ErrGarbageArgs)
	})

	t.Run("garbage", func(t *testing.T) {
		for _, svc := range []Service{ServiceIntegrity, ServicePrivacy} {
			rs, c := setup(t, loopback.New(), svc)

			cred, err := c.NextCred()
			require.NoError(t, err)

			_, err = rs.srv.UnsecureArgs(cred, []byte{0, 0, 0, 9, 1})
			assert.ErrorIs(t, err, ErrGarbageArgs, svc.String())
		}
	})

	t.Run("privacy hides the arguments", func(t *testing.T) {
		_, c := setup(t, loopback.New(), ServicePrivacy)

		cred, err := c.NextCred()
		require.NoError(t, err)
		args, err := c.SecureArgs(cred, []byte("very secret"))
		require.NoError(t, err)
		assert.NotContains(t, string(args), "very secret")
	})
}

func TestReplyVerifier(t *testing.T) {
	rs, c := setup(t, loopback.New(), ServiceNone)

	cred, err := c.NextCred()
	require.NoError(t, err)

	verf, err := rs.srv.ReplyVerifier(cred)
	require.NoError(t, err)

	assert.NoError(t, c.CheckReplyVerifier(cred.SeqNum, verf))
	assert.Error(t, c.CheckReplyVerifier(cred.SeqNum+1, verf))
	assert.Error(t, c.CheckReplyVerifier(cred.SeqNum, NullAuth))
}

func TestDestroyCallFails(t *testing.T) {
	rs, c := setup(t, loopback.New(), ServiceIntegrity)

	failing := func(context.Context, OpaqueAuth, Signer, []byte) ([]byte, OpaqueAuth, error) {
		return nil, OpaqueAuth{}, errors.New("connection reset")
	}

	err := c.Destroy(context.Background(), failing)
	assert.ErrorContains(t, err, "connection reset")
	assert.Equal(t, gssctx.ContextDestroyed, c.SecContext().State())

	// the server still holds its half until it is closed
	assert.Equal(t, 1, rs.srv.Len())
}

func TestActiveContexts(t *testing.T) {
	reg := prometheus.NewRegistry()
	mech := loopback.New()

	gauge := func(n int) string {
		return fmt.Sprintf(`
# HELP gssctx_contexts_active Established security contexts currently held by a server.
# TYPE gssctx_contexts_active gauge
gssctx_contexts_active{mech="1.3.6.1.4.1.32473.1.1"} %d
`, n)
	}

	rs, c1 := setup(t, mech, ServiceIntegrity, WithMetrics(reg))

	c2, err := NewClient(mech, newTarget(t, mech))
	require.NoError(t, err)
	require.NoError(t, c2.Establish(context.Background(), rs.call))

	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(gauge(2)), "gssctx_contexts_active"))

	require.NoError(t, c1.Destroy(context.Background(), rs.call))
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(gauge(1)), "gssctx_contexts_active"))

	require.NoError(t, rs.srv.Close())
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(gauge(0)), "gssctx_contexts_active"))
	assert.Equal(t, 0, rs.srv.Len())

	_ = c2.SecContext().Destroy()
}
