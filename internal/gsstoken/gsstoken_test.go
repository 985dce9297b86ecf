// SPDX-License-Identifier: Apache-2.0

package gsstoken

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

// 1.2.840.113554.1.2.2
var krb5Oid = []byte{0x2a, 0x86, 0x48, 0x86, 0xf7, 0x12, 0x01, 0x02, 0x02}

func TestMarshal(t *testing.T) {
	assert := assert.New(t)

	tok, err := Marshal(krb5Oid, [2]byte{0x01, 0x00}, []byte{0xde, 0xad})
	assert.NoError(err)

	// 60 len 06 09 <oid> 01 00 de ad
	want, _ := hex.DecodeString("600f06092a864886f71201020201" + "00dead")
	assert.Equal(want, tok)

	mech, id, body, err := Unmarshal(tok)
	assert.NoError(err)
	assert.Equal(krb5Oid, mech)
	assert.Equal([2]byte{0x01, 0x00}, id)
	assert.Equal([]byte{0xde, 0xad}, body)

	mech, err = MechOf(tok)
	assert.NoError(err)
	assert.Equal(krb5Oid, mech)
}

func TestMarshalLongBody(t *testing.T) {
	assert := assert.New(t)

	body := make([]byte, 1000)
	body[999] = 0x42

	tok, err := Marshal(krb5Oid, [2]byte{0x02, 0x00}, body)
	assert.NoError(err)
	assert.Equal(byte(0x60), tok[0])
	assert.Equal(byte(0x82), tok[1]) // two byte length

	_, id, got, err := Unmarshal(tok)
	assert.NoError(err)
	assert.Equal([2]byte{0x02, 0x00}, id)
	assert.Equal(body, got)
}

func TestMarshalBadOid(t *testing.T) {
	_, err := Marshal(nil, [2]byte{}, nil)
	assert.Error(t, err)

	_, err = Marshal([]byte{0x80}, [2]byte{}, nil)
	assert.Error(t, err)
}

func TestUnmarshalErrors(t *testing.T) {
	tests := []struct {
		name string
		tok  string
	}{
		{"empty", ""},
		{"not framed", "050400ff000c0000000000000000007B"},
		{"no token id", "600b06092a864886f712010202"},
		{"truncated", "600f06092a8648"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := hex.DecodeString(tt.tok)
			_, _, _, err := Unmarshal(b)
			assert.ErrorIs(t, err, ErrDefective)
		})
	}
}
