// SPDX-License-Identifier: Apache-2.0

// Package gsstoken implements the mechanism-independent framing of initial context
// tokens (RFC 2743 § 3.1):
//
//	[APPLICATION 0] IMPLICIT SEQUENCE {
//	    thisMech MechType,
//	    innerContextToken ANY DEFINED BY thisMech
//	}
//
// Mechanisms that follow RFC 1964 put a two byte token ID at the start of the
// inner token;  Marshal and Unmarshal handle that too.
package gsstoken

import (
	"errors"
	"fmt"

	"github.com/jcmturner/gofork/encoding/asn1"
	"github.com/jcmturner/gokrb5/v8/asn1tools"
)

// ErrDefective reports a token that does not use the framing or is truncated.
var ErrDefective = errors.New("gsstoken: defective token")

// Marshal frames an inner token for mechanism mech, given as DER content octets
// (without the 0x06 tag and length).
func Marshal(mech []byte, tokID [2]byte, body []byte) ([]byte, error) {
	oid, err := decodeOid(mech)
	if err != nil {
		return nil, err
	}

	b, err := asn1.Marshal(oid)
	if err != nil {
		return nil, fmt.Errorf("gsstoken: marshal mechanism OID: %w", err)
	}

	b = append(b, tokID[:]...)
	b = append(b, body...)

	return asn1tools.AddASNAppTag(b, 0), nil
}

// Unmarshal splits a framed token into the mechanism OID (DER content octets), the
// token ID and the remaining body.  The body aliases b.
func Unmarshal(b []byte) (mech []byte, tokID [2]byte, body []byte, err error) {
	var oid asn1.ObjectIdentifier

	r, err := asn1.UnmarshalWithParams(b, &oid, "application,explicit,tag:0")
	if err != nil {
		return nil, tokID, nil, fmt.Errorf("%w: %s", ErrDefective, err)
	}

	if len(r) < 2 {
		return nil, tokID, nil, fmt.Errorf("%w: inner token too short", ErrDefective)
	}

	der, err := asn1.Marshal(oid)
	if err != nil {
		return nil, tokID, nil, fmt.Errorf("%w: %s", ErrDefective, err)
	}

	copy(tokID[:], r[0:2])

	hdr := 2
	if der[1]&0x80 != 0 {
		hdr += int(der[1] & 0x7f)
	}

	return der[hdr:], tokID, r[2:], nil
}

// MechOf returns the mechanism OID of a framed token without parsing further.
func MechOf(b []byte) ([]byte, error) {
	mech, _, _, err := Unmarshal(b)
	return mech, err
}

func decodeOid(content []byte) (asn1.ObjectIdentifier, error) {
	if len(content) == 0 || len(content) > 127 {
		return nil, fmt.Errorf("gsstoken: bad mechanism OID length %d", len(content))
	}

	der := append([]byte{0x06, byte(len(content))}, content...)

	var oid asn1.ObjectIdentifier
	if _, err := asn1.Unmarshal(der, &oid); err != nil {
		return nil, fmt.Errorf("gsstoken: bad mechanism OID: %w", err)
	}

	return oid, nil
}
