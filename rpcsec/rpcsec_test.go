// SPDX-License-Identifier: Apache-2.0

package rpcsec

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()

	b, err := hex.DecodeString(s)
	require.NoError(t, err)

	return b
}

func TestCredEncoding(t *testing.T) {
	cred := NewCred(CredV1{Proc: ProcData, SeqNum: 5, Service: ServiceIntegrity, Handle: []byte{0xaa, 0xbb}})

	oa, err := cred.OpaqueAuth()
	require.NoError(t, err)
	assert.Equal(t, AuthFlavor, oa.Flavor)
	assert.Equal(t, mustHex(t, "00000001"+"00000000"+"00000005"+"00000002"+"00000002aabb0000"), oa.Body)

	got, err := UnmarshalCred(oa)
	require.NoError(t, err)
	assert.Equal(t, cred, got)

	// init calls carry an empty handle
	oa, err = NewCred(CredV1{Proc: ProcInit, Service: ServicePrivacy}).OpaqueAuth()
	require.NoError(t, err)
	assert.Equal(t, mustHex(t, "00000001"+"00000001"+"00000000"+"00000003"+"00000000"), oa.Body)
}

func TestUnmarshalCredErrors(t *testing.T) {
	tests := []struct {
		name string
		auth OpaqueAuth
	}{
		{"AUTH_SYS", OpaqueAuth{Flavor: 1, Body: mustHex(t, "00000001000000000000000000000001")}},
		{"version 2", OpaqueAuth{Flavor: AuthFlavor, Body: mustHex(t, "00000002000000000000000000000001")}},
		{"empty", OpaqueAuth{Flavor: AuthFlavor}},
		{"truncated", OpaqueAuth{Flavor: AuthFlavor, Body: mustHex(t, "000000010000000000000005")}},
		{"trailing bytes", OpaqueAuth{Flavor: AuthFlavor, Body: mustHex(t, "00000001000000000000000500000002000000000000ffff")}},
		{"oversized handle", OpaqueAuth{Flavor: AuthFlavor, Body: mustHex(t, "000000010000000000000000000000017ffffff0")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalCred(tt.auth)

			var ae *AuthError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, AuthBadCred, ae.Stat)
		})
	}
}

func TestInitResEncoding(t *testing.T) {
	res := InitRes{Handle: []byte{1, 2, 3, 4}, Major: 1 << 16, Minor: 7, SeqWindow: 128, Token: []byte{9}}

	b, err := res.Marshal()
	require.NoError(t, err)
	assert.Equal(t, mustHex(t, "0000000401020304"+"00010000"+"00000007"+"00000080"+"0000000109000000"), b)

	got, err := UnmarshalInitRes(b)
	require.NoError(t, err)
	assert.Equal(t, res, got)

	_, err = UnmarshalInitRes(b[:10])
	assert.Error(t, err)

	// a length prefix larger than the message
	_, err = UnmarshalInitRes(mustHex(t, "7ffffff0"))
	assert.ErrorContains(t, err, "decoding init result")
}

func TestCallHeader(t *testing.T) {
	h := CallHeader{XID: 0x11223344, Prog: 100003, Vers: 4, Proc: 1, Cred: OpaqueAuth{Flavor: AuthFlavor, Body: []byte{0xde, 0xad, 0xbe, 0xef}}}

	b, err := h.Marshal()
	require.NoError(t, err)
	assert.Equal(t, mustHex(t, "11223344"+"00000000"+"00000002"+"000186a3"+"00000004"+"00000001"+"00000006"+"00000004deadbeef"), b)
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "RPCSEC_GSS_CONTINUE_INIT", ProcContinueInit.String())
	assert.Equal(t, "Proc(9)", Proc(9).String())
	assert.Equal(t, "privacy", ServicePrivacy.String())
	assert.Equal(t, "Service(0)", Service(0).String())
	assert.Equal(t, "RPCSEC_GSS_CTXPROBLEM", CtxProblem.String())
	assert.Equal(t, "rpcsec: RPCSEC_GSS_CREDPROBLEM", (&AuthError{Stat: CredProblem}).Error())
}

func TestSeqWindow(t *testing.T) {
	tests := []struct {
		name string
		size uint32
		seqs []uint32
		want []bool
	}{
		{"in order", 4, []uint32{0, 1, 2, 3, 4}, []bool{true, true, true, true, true}},
		{"duplicate", 4, []uint32{0, 1, 1}, []bool{true, true, false}},
		{"reordered within window", 4, []uint32{3, 1, 2, 0}, []bool{true, true, true, true}},
		{"below window", 4, []uint32{10, 6, 7}, []bool{true, false, true}},
		{"duplicate after jump", 4, []uint32{5, 9, 8, 8, 5}, []bool{true, true, true, false, false}},
		{"slot reused after slide", 4, []uint32{0, 4, 8, 7, 4}, []bool{true, true, true, true, false}},
		{"large jump", 4, []uint32{1, 1000, 999, 996}, []bool{true, true, true, false}},
		{"first number is arbitrary", 4, []uint32{42, 41}, []bool{true, true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewSeqWindow(tt.size)
			for i, seq := range tt.seqs {
				assert.Equal(t, tt.want[i], w.Accept(seq), "seq %d (call %d)", seq, i)
			}
		})
	}

	assert.Equal(t, DefaultWindow, NewSeqWindow(0).Size())
}
