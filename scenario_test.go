// SPDX-License-Identifier: Apache-2.0

package gssctx_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/golang-auth/go-gssctx"
	"github.com/golang-auth/go-gssctx/mechs/loopback"
)

func TestAliceToBob(t *testing.T) {
	for _, rounds := range []int{1, 2, 3} {
		t.Run(fmt.Sprintf("rounds=%d", rounds), func(t *testing.T) {
			assert := assert.New(t)
			mech := loopback.New(loopback.WithRounds(rounds))

			alice, err := gssctx.ImportNameString(mech, "alice@EXAMPLE", gssctx.GSS_NT_HOSTBASED_SERVICE)
			require.NoError(t, err)
			defer alice.Release() //nolint:errcheck

			cred, err := gssctx.AcquireCredential(mech, alice, gssctx.CredUsageInitiateOnly)
			require.NoError(t, err)
			defer cred.Release() //nolint:errcheck

			bob, err := gssctx.ImportNameString(mech, "bob@EXAMPLE", gssctx.GSS_NT_HOSTBASED_SERVICE)
			require.NoError(t, err)
			defer bob.Release() //nolint:errcheck

			initiator, err := gssctx.NewSecContext(mech)
			require.NoError(t, err)
			defer initiator.Destroy() //nolint:errcheck

			step, err := initiator.Init(bob, nil, gssctx.WithInitiatorCredential(cred))
			require.NoError(t, err)
			assert.NotEmpty(step.Token)

			if rounds == 1 {
				assert.Equal(gssctx.StepComplete, step.Outcome)
				assert.Equal(gssctx.ContextEstablished, initiator.State())
			} else {
				assert.Equal(gssctx.StepContinue, step.Outcome)
				assert.Equal(gssctx.ContextNegotiating, initiator.State())
			}

			// finish the handshake and exchange a message
			acceptor, err := gssctx.NewSecContext(mech)
			require.NoError(t, err)
			defer acceptor.Destroy() //nolint:errcheck

			tok := step.Token
			for !(initiator.Established() && acceptor.Established()) {
				s, err := acceptor.Accept(tok)
				require.NoError(t, err)
				tok = s.Token
				if initiator.Established() {
					break
				}

				// neither side may protect messages until both are done
				_, err = acceptor.Wrap([]byte("early"), 0, true)
				var pv *gssctx.PolicyViolation
				if !acceptor.Established() {
					assert.ErrorAs(err, &pv)
				}

				s, err = initiator.Init(bob, tok, gssctx.WithInitiatorCredential(cred))
				require.NoError(t, err)
				tok = s.Token
			}

			assert.Equal("alice@EXAMPLE", acceptor.SourceName().String())
			assert.Equal("bob@EXAMPLE", initiator.TargetName().String())

			wrapped, err := initiator.Wrap([]byte("hello bob"), 0, true)
			require.NoError(t, err)
			msg, qop, err := acceptor.Unwrap(wrapped)
			require.NoError(t, err)
			assert.Equal("hello bob", string(msg))
			assert.Equal(gssctx.QoP(0), qop)

			assert.NoError(initiator.Destroy())
			assert.NoError(initiator.Destroy())
			assert.NoError(acceptor.Destroy())
		})
	}
}

func TestRegistryLookup(t *testing.T) {
	mech := gssctx.MustNewMechanism(loopback.Name)
	assert.Equal(t, "1.3.6.1.4.1.32473.1.1", mech.Oid().String())
}
