// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"encoding/hex"
	"testing"

	"github.com/jcmturner/gokrb5/v8/iana"
	"github.com/jcmturner/gokrb5/v8/iana/msgtype"
	"github.com/jcmturner/gokrb5/v8/test/testdata"
	"github.com/jcmturner/gokrb5/v8/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/golang-auth/go-gssctx"
	"github.com/golang-auth/go-gssctx/internal/gsstoken"
)

// Context tokens wrapping the AP-REQ, AP-REP and KRB-ERROR vectors from MIT Kerberos
// src/tests/asn.1/reference_encode.out
const (
	apReqTokenHex    = "6081AD06092a864886f71201020201006E819D30819AA003020105A10302010EA207030500FEDCBA98A35E615C305AA003020105A1101B0E415448454E412E4D49542E454455A21A3018A003020101A111300F1B066866747361691B056578747261A3253023A003020100A103020105A21704156B726241534E2E312074657374206D657373616765A4253023A003020100A103020105A21704156B726241534E2E312074657374206D657373616765"
	apRepTokenHex    = "604206092a864886f71201020202006F333031A003020105A10302010FA2253023A003020100A103020105A21704156B726241534E2E312074657374206D657373616765"
	krbErrorTokenHex = "6081ca06092a864886f71201020203007E81BA3081B7A003020105A10302011EA211180F31393934303631303036303331375AA305020301E240A411180F31393934303631303036303331375AA505020301E240A60302013CA7101B0E415448454E412E4D49542E454455A81A3018A003020101A111300F1B066866747361691B056578747261A9101B0E415448454E412E4D49542E454455AA1A3018A003020101A111300F1B066866747361691B056578747261AB0A1B086B72623564617461AC0A04086B72623564617461"
	authChksumHex    = "100000000000000000000000000000000000000030000000"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()

	b, err := hex.DecodeString(s)
	require.NoError(t, err)

	return b
}

func TestUnmarshalContextToken(t *testing.T) {
	t.Parallel()

	t.Run("AP-REQ", func(t *testing.T) {
		tok, st := unmarshalContextToken(mustHex(t, apReqTokenHex))
		require.False(t, st.Failed(), st)

		assert.Equal(t, tokIDAPReq, tok.tokID)
		require.NotNil(t, tok.apReq)
		assert.Nil(t, tok.apRep)
		assert.Nil(t, tok.krbError)
		assert.Equal(t, msgtype.KRB_AP_REQ, tok.apReq.MsgType)
		assert.Equal(t, int32(0), tok.apReq.EncryptedAuthenticator.EType)
		assert.Equal(t, 5, tok.apReq.EncryptedAuthenticator.KVNO)
		assert.Equal(t, []byte("krbASN.1 test message"), tok.apReq.EncryptedAuthenticator.Cipher)
	})

	t.Run("AP-REP", func(t *testing.T) {
		tok, st := unmarshalContextToken(mustHex(t, apRepTokenHex))
		require.False(t, st.Failed(), st)

		assert.Equal(t, tokIDAPRep, tok.tokID)
		require.NotNil(t, tok.apRep)
		assert.Equal(t, msgtype.KRB_AP_REP, tok.apRep.MsgType)
		assert.Equal(t, 5, tok.apRep.EncPart.KVNO)
		assert.Equal(t, []byte("krbASN.1 test message"), tok.apRep.EncPart.Cipher)
	})

	t.Run("KRB-ERROR", func(t *testing.T) {
		tok, st := unmarshalContextToken(mustHex(t, krbErrorTokenHex))
		require.False(t, st.Failed(), st)

		assert.Equal(t, tokIDKrbError, tok.tokID)
		require.NotNil(t, tok.krbError)
		assert.Equal(t, msgtype.KRB_ERROR, tok.krbError.MsgType)
		assert.Equal(t, int32(sampleError), tok.krbError.ErrorCode)
		assert.Equal(t, "ATHENA.MIT.EDU", tok.krbError.Realm)
		assert.Equal(t, sampleData, tok.krbError.EText)
	})
}

func TestUnmarshalContextTokenErrors(t *testing.T) {
	t.Parallel()

	otherMech, err := gsstoken.Marshal(gssctx.MustParseOid("1.3.6.1.4.1.32473.1.1"), tokIDAPReq, mustHex(t, testdata.MarshaledKRB5ap_rep))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token []byte
		major uint32
	}{
		{"empty", nil, gssctx.GSS_S_DEFECTIVE_TOKEN},
		{"garbage", []byte("not a token"), gssctx.GSS_S_DEFECTIVE_TOKEN},
		{"truncated", mustHex(t, apReqTokenHex)[:40], gssctx.GSS_S_DEFECTIVE_TOKEN},
		{"unknown token ID", append(mustHex(t, "600d06092a864886f712010202"), 0x09, 0x09), gssctx.GSS_S_DEFECTIVE_TOKEN},
		{"bad body", append(mustHex(t, "600f06092a864886f712010202"), 0x01, 0x00, 0x30, 0x00), gssctx.GSS_S_DEFECTIVE_TOKEN},
		{"wrong mechanism", otherMech, gssctx.GSS_S_BAD_MECH},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, st := unmarshalContextToken(tt.token)
			assert.Equal(t, tt.major, st.Major)
		})
	}
}

func TestContextTokenMarshal(t *testing.T) {
	t.Parallel()

	apreq := sampleAPReq()
	tok, err := (&contextToken{tokID: tokIDAPReq, apReq: &apreq}).marshal()
	require.NoError(t, err)
	assert.Equal(t, mustHex(t, apReqTokenHex), tok)

	aprep := sampleAPRep()
	tok, err = (&contextToken{tokID: tokIDAPRep, apRep: &aprep}).marshal()
	require.NoError(t, err)
	assert.Equal(t, mustHex(t, apRepTokenHex), tok)

	ke := sampleKRBError()
	assert.Equal(t, mustHex(t, krbErrorTokenHex), errorToken(ke))

	_, err = (&contextToken{tokID: [2]byte{9, 9}}).marshal()
	assert.Error(t, err)
}

func TestAuthenticatorChksum(t *testing.T) {
	t.Parallel()

	ck := newAuthenticatorChksum(gssctx.ContextFlagInteg|gssctx.ContextFlagConf, nil)
	assert.Equal(t, mustHex(t, authChksumHex), ck)

	cb := &gssctx.ChannelBinding{Data: []byte("tls-server-end-point:abc")}
	ck = newAuthenticatorChksum(gssctx.ContextFlagMutual, cb)
	assert.Len(t, ck, 24)

	bindings, flags := authenticatorChksum(types.Checksum{Checksum: ck})
	assert.Equal(t, cb.Hash(), bindings)
	assert.Equal(t, gssctx.ContextFlagMutual, flags)
}

func TestUnmarshalAPRep(t *testing.T) {
	t.Parallel()

	var a apRep
	require.NoError(t, a.unmarshal(mustHex(t, testdata.MarshaledKRB5ap_rep)))

	assert.Equal(t, iana.PVNO, a.PVNO)
	assert.Equal(t, msgtype.KRB_AP_REP, a.MsgType)
	assert.Equal(t, testdata.TEST_ETYPE, a.EncPart.EType)
	assert.Equal(t, iana.PVNO, a.EncPart.KVNO)
	assert.Equal(t, []byte(testdata.TEST_CIPHERTEXT), a.EncPart.Cipher)

	// a KRB-ERROR in place of the reply is reported as such
	err := a.unmarshal(mustHex(t, testdata.MarshaledKRB5error))
	assert.Error(t, err)
}

func TestEncAPRepPart(t *testing.T) {
	t.Parallel()

	t.Run("unmarshal", func(t *testing.T) {
		var a encAPRepPart
		require.NoError(t, a.unmarshal(mustHex(t, testdata.MarshaledKRB5ap_rep_enc_part)))

		assert.Equal(t, sampleTime(), a.CTime)
		assert.Equal(t, sampleUsec, a.Cusec)
		assert.Equal(t, int32(1), a.Subkey.KeyType)
		assert.Equal(t, []byte("12345678"), a.Subkey.KeyValue)
		assert.Equal(t, int64(sampleSeqNumber), a.SequenceNumber)
	})

	t.Run("unmarshal without optionals", func(t *testing.T) {
		var a encAPRepPart
		require.NoError(t, a.unmarshal(mustHex(t, testdata.MarshaledKRB5ap_rep_enc_partOptionalsNULL)))

		assert.Equal(t, sampleTime(), a.CTime)
		assert.Equal(t, sampleUsec, a.Cusec)
	})

	t.Run("marshal", func(t *testing.T) {
		encpart := sampleAPRepEncPart()
		b, err := encpart.marshal()
		require.NoError(t, err)
		assert.Equal(t, mustHex(t, testdata.MarshaledKRB5ap_rep_enc_part), b)
	})

	t.Run("marshal without optionals", func(t *testing.T) {
		encpart := sampleAPRepEncPart()
		encpart.SequenceNumber = 0
		encpart.Subkey.KeyType = 0
		encpart.Subkey.KeyValue = nil

		b, err := encpart.marshal()
		require.NoError(t, err)
		assert.Equal(t, mustHex(t, testdata.MarshaledKRB5ap_rep_enc_partOptionalsNULL), b)
	})

	t.Run("marshal reply", func(t *testing.T) {
		aprep := sampleAPRep()
		b, err := aprep.marshal()
		require.NoError(t, err)
		assert.Equal(t, mustHex(t, testdata.MarshaledKRB5ap_rep), b)
	})
}
