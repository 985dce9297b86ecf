// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"encoding/binary"
	"fmt"

	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/golang-auth/go-gssctx"
	"github.com/golang-auth/go-gssctx/internal/gsstoken"
)

// RFC 4121 § 4.1 context token IDs.
var (
	tokIDAPReq    = [2]byte{0x01, 0x00}
	tokIDAPRep    = [2]byte{0x02, 0x00}
	tokIDKrbError = [2]byte{0x03, 0x00}
)

// contextToken is a context establishment token.  Exactly one of the message fields is
// set after a successful unmarshal.
type contextToken struct {
	tokID    [2]byte
	apReq    *messages.APReq
	apRep    *apRep
	krbError *messages.KRBError
}

func (t *contextToken) marshal() ([]byte, error) {
	var (
		body []byte
		err  error
	)

	switch t.tokID {
	case tokIDAPReq:
		body, err = t.apReq.Marshal()
		if err != nil {
			return nil, fmt.Errorf("krb5: marshalling AP-REQ: %w", err)
		}
	case tokIDAPRep:
		body, err = t.apRep.marshal()
		if err != nil {
			return nil, fmt.Errorf("krb5: marshalling AP-REP: %w", err)
		}
	case tokIDKrbError:
		body, err = t.krbError.Marshal()
		if err != nil {
			return nil, fmt.Errorf("krb5: marshalling KRB-ERROR: %w", err)
		}
	default:
		return nil, fmt.Errorf("krb5: unknown token ID %x", t.tokID)
	}

	return gsstoken.Marshal(Oid, t.tokID, body)
}

// unmarshalContextToken decodes b, mapping failures to GSS status codes.
func unmarshalContextToken(b []byte) (*contextToken, gssctx.Status) {
	mech, tokID, body, err := gsstoken.Unmarshal(b)
	if err != nil {
		return nil, failure(gssctx.GSS_S_DEFECTIVE_TOKEN, MinorTokenFormat)
	}

	if !gssctx.Oid(mech).Equal(Oid) {
		return nil, failure(gssctx.GSS_S_BAD_MECH, 0)
	}

	t := &contextToken{tokID: tokID}

	switch tokID {
	case tokIDAPReq:
		t.apReq = &messages.APReq{}
		err = t.apReq.Unmarshal(body)
	case tokIDAPRep:
		t.apRep = &apRep{}
		err = t.apRep.unmarshal(body)
	case tokIDKrbError:
		t.krbError = &messages.KRBError{}
		err = t.krbError.Unmarshal(body)
	default:
		return nil, failure(gssctx.GSS_S_DEFECTIVE_TOKEN, MinorTokenOrder)
	}

	if err != nil {
		return nil, failure(gssctx.GSS_S_DEFECTIVE_TOKEN, MinorTokenFormat)
	}

	return t, complete
}

// errorToken wraps a KRB-ERROR for the peer.  A token that cannot be built is
// dropped;  the local status is reported either way.
func errorToken(ke messages.KRBError) []byte {
	t := contextToken{tokID: tokIDKrbError, krbError: &ke}

	b, err := t.marshal()
	if err != nil {
		return nil
	}

	return b
}

// newAuthenticatorChksum builds the RFC 4121 § 4.1.1 authenticator checksum, which is
// really a way to carry GSS-API context information in the AP-REQ:  the channel
// binding hash and the context establishment flags.
func newAuthenticatorChksum(flags gssctx.ContextFlag, cb *gssctx.ChannelBinding) []byte {
	a := make([]byte, 24)

	// length of the binding hash, always 16
	binary.LittleEndian.PutUint32(a[:4], 16)

	if cb != nil {
		copy(a[4:20], cb.Hash())
	}

	binary.LittleEndian.PutUint32(a[20:24], uint32(flags))

	return a
}

// authenticatorChksum splits a checksum built by newAuthenticatorChksum.  The caller
// has checked the length.
func authenticatorChksum(ck types.Checksum) (bindings []byte, flags gssctx.ContextFlag) {
	return ck.Checksum[4:20], gssctx.ContextFlag(binary.LittleEndian.Uint32(ck.Checksum[20:24]))
}
