// SPDX-License-Identifier: Apache-2.0
package gssctx

import (
	"crypto/md5" //nolint:gosec // RFC 4121 § 4.1.1.2 mandates MD5 here
	"encoding/binary"
	"net"
)

// GssAddressFamily values match the GSS_C_AF_* constants of RFC 2744.
type GssAddressFamily int

const (
	GssAddrFamilyUNSPEC GssAddressFamily = iota
	GssAddrFamilyLOCAL
	GssAddrFamilyINET
	GssAddrFamilyIMPLINK
	GssAddrFamilyPUP
	GssAddrFamilyCHAOS
	GssAddrFamilyNS
	GssAddrFamilyNBS
	GssAddrFamilyECMA
	GssAddrFamilyDATAKIT
	GssAddrFamilyCCITT
	GssAddrFamilySNA
	GssAddrFamilyDECnet
	GssAddrFamilyDLI
	GssAddrFamilyLAT
	GssAddrFamilyHYLINK
	GssAddrFamilyAPPLETA
	GssAddrFamilyBSC
	GssAddrFamilyDSS
	GssAddrFamilyOSI
	GssAddrFamilyNETBIOS
	GssAddrFamilyX25
)

// ChannelBinding ties a security context to the underlying transport (RFC 2743 § 1.1.6).
// Addresses are optional;  Data usually carries a TLS channel binding.
type ChannelBinding struct {
	InitiatorAddr net.Addr
	AcceptorAddr  net.Addr
	Data          []byte
}

// Hash returns the RFC 4121 § 4.1.1.2 MD5 digest of the channel binding structure.  A nil
// binding hashes to sixteen zero bytes.
func (cb *ChannelBinding) Hash() []byte {
	if cb == nil {
		return make([]byte, md5.Size)
	}

	var buf []byte
	for _, addr := range []net.Addr{cb.InitiatorAddr, cb.AcceptorAddr} {
		family, data := addrData(addr)

		var hdr [8]byte
		binary.LittleEndian.PutUint32(hdr[:4], uint32(family))
		binary.LittleEndian.PutUint32(hdr[4:], uint32(len(data)))
		buf = append(buf, hdr[:]...)
		buf = append(buf, data...)
	}

	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(cb.Data)))
	buf = append(buf, l[:]...)
	buf = append(buf, cb.Data...)

	sum := md5.Sum(buf) //nolint:gosec
	return sum[:]
}

func addrData(addr net.Addr) (GssAddressFamily, []byte) {
	var ip net.IP

	switch a := addr.(type) {
	case nil:
		return GssAddrFamilyUNSPEC, nil
	case *net.IPAddr:
		ip = a.IP
	case *net.TCPAddr:
		ip = a.IP
	case *net.UDPAddr:
		ip = a.IP
	case *net.UnixAddr:
		return GssAddrFamilyLOCAL, []byte(a.Name)
	default:
		return GssAddrFamilyUNSPEC, nil
	}

	if v4 := ip.To4(); v4 != nil {
		return GssAddrFamilyINET, v4
	}

	return GssAddrFamilyINET, ip.To16()
}
