// SPDX-License-Identifier: Apache-2.0

package gssctx

import (
	"crypto/md5" //nolint:gosec
	"encoding/hex"
	"net"
	"testing"
)

func TestChannelBindingHashNil(t *testing.T) {
	assert := NewAssert(t)

	var cb *ChannelBinding
	assert.Equal(make([]byte, 16), cb.Hash())
}

func TestChannelBindingHash(t *testing.T) {
	assert := NewAssert(t)

	cb := &ChannelBinding{
		InitiatorAddr: &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 1234},
		Data:          []byte("tls-server-end-point:abc"),
	}

	// initiator: INET(2), len 4, 10.0.0.1;  acceptor: unspecified, len 0;  data
	want := "02000000" + "04000000" + "0a000001" +
		"00000000" + "00000000" +
		"18000000" + hex.EncodeToString(cb.Data)
	raw, err := hex.DecodeString(want)
	assert.NoErrorFatal(err)

	sum := md5.Sum(raw) //nolint:gosec
	assert.Equal(sum[:], cb.Hash())

	// data only
	other := &ChannelBinding{Data: cb.Data}
	assert.NotEqual(cb.Hash(), other.Hash())
}

func TestAddrData(t *testing.T) {
	assert := NewAssert(t)

	fam, data := addrData(&net.UDPAddr{IP: net.ParseIP("2001:db8::1")})
	assert.Equal(GssAddrFamilyINET, fam)
	assert.Len(data, 16)

	fam, data = addrData(&net.UnixAddr{Name: "/run/sock", Net: "unix"})
	assert.Equal(GssAddrFamilyLOCAL, fam)
	assert.Equal([]byte("/run/sock"), data)

	fam, data = addrData(nil)
	assert.Equal(GssAddrFamilyUNSPEC, fam)
	assert.Nil(data)

	assert.Equal(GssAddressFamily(2), GssAddrFamilyINET)
	assert.Equal(GssAddressFamily(21), GssAddrFamilyX25)
}
