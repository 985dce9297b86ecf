// SPDX-License-Identifier: Apache-2.0

// Package rfc4121 implements the per-message tokens of the Kerberos Version 5
// GSS-API mechanism (RFC 4121 § 4.2.6).  The tokens only depend on an RFC 3961
// encryption key, so any mechanism holding a gokrb5 key can use them.
package rfc4121

import (
	"bytes"
	"crypto/hmac"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/jcmturner/gokrb5/v8/crypto"
	"github.com/jcmturner/gokrb5/v8/iana/keyusage"
	"github.com/jcmturner/gokrb5/v8/types"
)

// RFC 4121 § 4.2.6
const (
	HeaderLen       = 16
	fillerByte byte = 0xFF
)

var (
	wrapTokenID = [2]byte{0x05, 0x04}
	micTokenID  = [2]byte{0x04, 0x04}
)

// ErrDefectiveToken reports a token that could not be parsed.
var ErrDefectiveToken = errors.New("rfc4121: defective token")

// ErrBadChecksum reports a token whose checksum or encryption did not verify.
var ErrBadChecksum = errors.New("rfc4121: token failed integrity check")

// ErrDirection reports a token that was reflected back to its sender.
var ErrDirection = errors.New("rfc4121: token sent in the wrong direction")

// Flag is the RFC 4121 § 4.2.2 token flags field.
type Flag uint8

const (
	FlagSentByAcceptor Flag = 1 << iota
	FlagSealed
	FlagAcceptorSubkey
)

// MICToken is the RFC 4121 § 4.2.6.1 MIC token.
type MICToken struct {
	// 2 byte token ID (0x04, 0x04)
	Flags Flag
	// 5 byte filler (0xFF)
	SequenceNumber uint64
	Checksum       []byte
	signed         bool
}

// WrapToken is the RFC 4121 § 4.2.6.2 Wrap token.
type WrapToken struct {
	// 2 byte token ID (0x05, 0x04)
	Flags Flag
	// 1 byte filler (0xFF)
	EC             uint16 // extra count:  the checksum length when signed, padding when sealed
	RRC            uint16 // right rotation count
	SequenceNumber uint64
	Payload        []byte // plaintext before Sign/Seal and after VerifyAndDecode
	protected      bool
}

func sealUsage(f Flag) uint32 {
	if f&FlagSentByAcceptor != 0 {
		return keyusage.GSSAPI_ACCEPTOR_SEAL
	}
	return keyusage.GSSAPI_INITIATOR_SEAL
}

func signUsage(f Flag) uint32 {
	if f&FlagSentByAcceptor != 0 {
		return keyusage.GSSAPI_ACCEPTOR_SIGN
	}
	return keyusage.GSSAPI_INITIATOR_SIGN
}

// Sign appends the checksum over { payload | header } to the payload, with EC and RRC
// zero in the checksummed header (RFC 4121 § 4.2.4).
func (wt *WrapToken) Sign(key types.EncryptionKey) error {
	if wt.Payload == nil {
		return errors.New("rfc4121: attempt to sign token with no payload")
	}
	if wt.protected {
		return errors.New("rfc4121: token is already signed or sealed")
	}

	encType, err := crypto.GetEtype(key.KeyType)
	if err != nil {
		return fmt.Errorf("rfc4121: %w", err)
	}

	wt.Flags &^= FlagSealed
	sig, err := wt.checksum(key)
	if err != nil {
		return err
	}

	wt.Payload = append(wt.Payload, sig...)
	wt.EC = uint16(encType.GetHMACBitLength() / 8)
	wt.RRC = 0
	wt.protected = true

	return nil
}

// Seal encrypts { payload | header } and replaces the payload with the ciphertext
// (RFC 4121 § 4.2.4).  No filler is added so EC is zero.
func (wt *WrapToken) Seal(key types.EncryptionKey) error {
	if wt.Payload == nil {
		return errors.New("rfc4121: attempt to encrypt token with no payload")
	}
	if wt.protected {
		return errors.New("rfc4121: token is already signed or sealed")
	}

	wt.Flags |= FlagSealed
	wt.EC = 0

	toEncrypt := make([]byte, 0, len(wt.Payload)+HeaderLen)
	toEncrypt = append(toEncrypt, wt.Payload...)
	toEncrypt = append(toEncrypt, wt.header(wt.EC)...)

	encType, err := crypto.GetEtype(key.KeyType)
	if err != nil {
		return fmt.Errorf("rfc4121: %w", err)
	}

	_, encData, err := encType.EncryptMessage(key.KeyValue, toEncrypt, sealUsage(wt.Flags))
	if err != nil {
		return fmt.Errorf("rfc4121: %w", err)
	}

	wt.Payload = encData
	wt.RRC = 0
	wt.protected = true

	return nil
}

// header renders the token header with the given EC and a zero RRC, as used inside
// checksums and ciphertext.
func (wt *WrapToken) header(ec uint16) []byte {
	hdr := make([]byte, HeaderLen)

	copy(hdr, wrapTokenID[:])
	hdr[2] = byte(wt.Flags)
	hdr[3] = fillerByte
	binary.BigEndian.PutUint16(hdr[4:6], ec)
	binary.BigEndian.PutUint64(hdr[8:], wt.SequenceNumber)

	return hdr
}

func (wt *WrapToken) checksum(key types.EncryptionKey) ([]byte, error) {
	cksumData := make([]byte, 0, HeaderLen+len(wt.Payload))
	cksumData = append(cksumData, wt.Payload...)
	cksumData = append(cksumData, wt.header(0)...)

	encType, err := crypto.GetEtype(key.KeyType)
	if err != nil {
		return nil, fmt.Errorf("rfc4121: %w", err)
	}

	// wrap tokens always use the Seal key usage (RFC 4121 § 2)
	cksum, err := encType.GetChecksumHash(key.KeyValue, cksumData, sealUsage(wt.Flags))
	if err != nil {
		return nil, fmt.Errorf("rfc4121: %w", err)
	}

	return cksum, nil
}

// Marshal renders a signed or sealed token.
func (wt *WrapToken) Marshal() ([]byte, error) {
	if !wt.protected {
		return nil, errors.New("rfc4121: wrap token is not signed or sealed")
	}

	token := make([]byte, HeaderLen+len(wt.Payload))

	copy(token, wrapTokenID[:])
	token[2] = byte(wt.Flags)
	token[3] = fillerByte
	binary.BigEndian.PutUint16(token[4:6], wt.EC)
	binary.BigEndian.PutUint16(token[6:8], wt.RRC)
	binary.BigEndian.PutUint64(token[8:16], wt.SequenceNumber)
	copy(token[16:], wt.Payload)

	return token, nil
}

// Unmarshal parses a signed or sealed token.  The payload aliases token.
func (wt *WrapToken) Unmarshal(token []byte) error {
	*wt = WrapToken{}

	if err := checkHeader(token, wrapTokenID); err != nil {
		return err
	}

	if token[3] != fillerByte {
		return fmt.Errorf("%w: bad wrap token filler", ErrDefectiveToken)
	}

	wt.Flags = Flag(token[2])
	wt.EC = binary.BigEndian.Uint16(token[4:6])
	wt.RRC = binary.BigEndian.Uint16(token[6:8])
	wt.SequenceNumber = binary.BigEndian.Uint64(token[8:16])

	if len(token) > HeaderLen {
		wt.Payload = token[16:]
	}

	wt.protected = true
	return nil
}

func checkHeader(token []byte, id [2]byte) error {
	if len(token) < HeaderLen {
		return fmt.Errorf("%w: token is too short", ErrDefectiveToken)
	}

	// RFC 4121 § 4.4:  0x60 introduces the GSS-API v1 framing, not supported here
	if token[0] == 0x60 {
		return fmt.Errorf("%w: GSS-API v1 message tokens are not supported", ErrDefectiveToken)
	}

	if !bytes.Equal(id[:], token[0:2]) {
		return fmt.Errorf("%w: bad token ID %x", ErrDefectiveToken, token[0:2])
	}

	return nil
}

// VerifyAndDecode undoes any rotation, then verifies the checksum or decrypts the
// payload, leaving the plaintext in Payload.  It reports whether the token was sealed.
func (wt *WrapToken) VerifyAndDecode(key types.EncryptionKey, expectFromAcceptor bool) (sealed bool, err error) {
	if !wt.protected {
		return false, errors.New("rfc4121: wrap token is not signed or sealed")
	}
	if len(wt.Payload) == 0 {
		return false, fmt.Errorf("%w: empty wrap token payload", ErrDefectiveToken)
	}

	isFromAcceptor := wt.Flags&FlagSentByAcceptor != 0
	if isFromAcceptor != expectFromAcceptor {
		return false, ErrDirection
	}

	wt.unrotate()

	if wt.Flags&FlagSealed != 0 {
		return true, wt.decrypt(key)
	}

	return false, wt.checkSig(key)
}

// unrotate removes the right rotation applied by some peers (RFC 4121 § 4.2.5).
func (wt *WrapToken) unrotate() {
	if wt.RRC == 0 {
		return
	}

	// work on a copy so the caller's token is not modified
	wt.Payload = rotateLeft(bytes.Clone(wt.Payload), uint(wt.RRC))
	wt.RRC = 0
}

func (wt *WrapToken) decrypt(key types.EncryptionKey) error {
	encType, err := crypto.GetEtype(key.KeyType)
	if err != nil {
		return fmt.Errorf("rfc4121: %w", err)
	}

	decrypted, err := encType.DecryptMessage(key.KeyValue, wt.Payload, sealUsage(wt.Flags))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBadChecksum, err)
	}

	if len(decrypted) < int(wt.EC)+HeaderLen {
		return fmt.Errorf("%w: decrypted payload is too short", ErrDefectiveToken)
	}

	// the plaintext ends with a copy of the header that must match the outer one
	inner := WrapToken{}
	if err = inner.Unmarshal(decrypted[len(decrypted)-HeaderLen:]); err != nil {
		return err
	}
	if wt.Flags != inner.Flags || wt.EC != inner.EC || wt.SequenceNumber != inner.SequenceNumber {
		return fmt.Errorf("%w: wrap token header was modified", ErrBadChecksum)
	}

	wt.Payload = decrypted[0 : len(decrypted)-HeaderLen-int(wt.EC)]
	wt.protected = false

	return nil
}

func (wt *WrapToken) checkSig(key types.EncryptionKey) error {
	encType, err := crypto.GetEtype(key.KeyType)
	if err != nil {
		return fmt.Errorf("rfc4121: %w", err)
	}

	if wt.EC != uint16(encType.GetHMACBitLength()/8) {
		return fmt.Errorf("%w: bad wrap token checksum length", ErrDefectiveToken)
	}
	if len(wt.Payload) < int(wt.EC) {
		return fmt.Errorf("%w: signed payload is too short", ErrDefectiveToken)
	}

	split := len(wt.Payload) - int(wt.EC)
	tokCksum := wt.Payload[split:]

	plain := *wt
	plain.Payload = wt.Payload[:split]
	computed, err := plain.checksum(key)
	if err != nil {
		return err
	}

	if !hmac.Equal(tokCksum, computed) {
		return ErrBadChecksum
	}

	wt.Payload = wt.Payload[:split]
	wt.protected = false

	return nil
}

// Ported from MIT source code (gss_krb5int_rotate_left)
func rotateLeft(buf []byte, rc uint) []byte {
	if len(buf) == 0 || rc == 0 {
		return buf
	}

	rc %= uint(len(buf))
	if rc == 0 {
		return buf
	}

	tmpBuf := make([]byte, rc)
	copy(tmpBuf, buf[0:rc])
	copy(buf, buf[rc:])
	copy(buf[uint(len(buf))-rc:], tmpBuf)

	return buf
}

// Sign computes the checksum over { payload | header } (RFC 4121 § 4.2.4).
func (mt *MICToken) Sign(payload []byte, key types.EncryptionKey) error {
	cksumData := make([]byte, 0, HeaderLen+len(payload))
	cksumData = append(cksumData, payload...)
	cksumData = append(cksumData, mt.header()...)

	encType, err := crypto.GetEtype(key.KeyType)
	if err != nil {
		return fmt.Errorf("rfc4121: %w", err)
	}

	mt.Checksum, err = encType.GetChecksumHash(key.KeyValue, cksumData, signUsage(mt.Flags))
	if err != nil {
		return fmt.Errorf("rfc4121: %w", err)
	}

	mt.signed = true

	return nil
}

func (mt *MICToken) header() []byte {
	hdr := make([]byte, HeaderLen)

	copy(hdr, micTokenID[:])
	hdr[2] = byte(mt.Flags)
	copy(hdr[3:8], []byte{fillerByte, fillerByte, fillerByte, fillerByte, fillerByte})
	binary.BigEndian.PutUint64(hdr[8:], mt.SequenceNumber)

	return hdr
}

// Marshal renders a signed token.
func (mt *MICToken) Marshal() ([]byte, error) {
	if !mt.signed {
		return nil, errors.New("rfc4121: MIC token is not signed")
	}

	return append(mt.header(), mt.Checksum...), nil
}

// Unmarshal parses a MIC token.  The checksum aliases token.
func (mt *MICToken) Unmarshal(token []byte) error {
	*mt = MICToken{}

	if err := checkHeader(token, micTokenID); err != nil {
		return err
	}

	if !bytes.Equal(token[3:8], []byte{fillerByte, fillerByte, fillerByte, fillerByte, fillerByte}) {
		return fmt.Errorf("%w: bad MIC token filler", ErrDefectiveToken)
	}

	mt.Flags = Flag(token[2])
	mt.SequenceNumber = binary.BigEndian.Uint64(token[8:16])

	if len(token) > HeaderLen {
		mt.Checksum = token[16:]
	}

	mt.signed = true

	return nil
}

// Verify checks the token against payload.
func (mt *MICToken) Verify(payload []byte, key types.EncryptionKey, expectFromAcceptor bool) error {
	if !mt.signed {
		return errors.New("rfc4121: MIC token is not signed")
	}

	isFromAcceptor := mt.Flags&FlagSentByAcceptor != 0
	if isFromAcceptor != expectFromAcceptor {
		return ErrDirection
	}

	check := *mt
	if err := check.Sign(payload, key); err != nil {
		return err
	}

	if !hmac.Equal(mt.Checksum, check.Checksum) {
		return ErrBadChecksum
	}

	return nil
}
