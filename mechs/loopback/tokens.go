// SPDX-License-Identifier: Apache-2.0

package loopback

import (
	"bytes"

	xdr "github.com/davecgh/go-xdr/xdr2"

	"github.com/golang-auth/go-gssctx"
	"github.com/golang-auth/go-gssctx/internal/gsstoken"
)

const tokenVersion = 1

var (
	tokIDInit  = [2]byte{0x01, 0x00}
	tokIDRound = [2]byte{0x02, 0x00}
)

// initToken is the body of the first context token, framed as an RFC 2743 initial
// context token.  Initiator is empty for anonymous contexts.
type initToken struct {
	Version       uint32
	ContextID     []byte
	Initiator     []byte
	InitiatorType []byte
	Target        []byte
	Flags         uint32
	Lifetime      uint32
	Rounds        uint32
	KeyType       int32
	Key           []byte
	SeqNum        uint32
	Bindings      []byte // MD5 channel binding hash, empty when the initiator had none
}

// roundToken is every later context token:  two ID bytes then the XDR body.  Proof is
// a MIC token over the context ID and round number, made with the session key.
type roundToken struct {
	ContextID []byte
	Round     uint32
	Proof     []byte
}

func (t *initToken) marshal() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, t); err != nil {
		return nil, err
	}

	return gsstoken.Marshal(Oid, tokIDInit, buf.Bytes())
}

func unmarshalInitToken(b []byte) (*initToken, gssctx.Status) {
	mech, id, body, err := gsstoken.Unmarshal(b)
	if err != nil {
		return nil, failure(gssctx.GSS_S_DEFECTIVE_TOKEN, MinorTokenFormat)
	}
	if !Oid.Equal(mech) {
		return nil, failure(gssctx.GSS_S_BAD_MECH, 0)
	}
	if id != tokIDInit {
		return nil, failure(gssctx.GSS_S_DEFECTIVE_TOKEN, MinorTokenOrder)
	}

	t := &initToken{}
	if _, err := xdr.UnmarshalLimited(bytes.NewReader(body), t, uint(len(body))); err != nil {
		return nil, failure(gssctx.GSS_S_DEFECTIVE_TOKEN, MinorTokenFormat)
	}
	if t.Version != tokenVersion || t.Rounds == 0 || len(t.Target) == 0 {
		return nil, failure(gssctx.GSS_S_DEFECTIVE_TOKEN, MinorTokenFormat)
	}

	return t, complete
}

func (t *roundToken) marshal() ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(tokIDRound[:])
	if _, err := xdr.Marshal(&buf, t); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func unmarshalRoundToken(b []byte) (*roundToken, gssctx.Status) {
	if len(b) < 2 || !bytes.Equal(b[:2], tokIDRound[:]) {
		return nil, failure(gssctx.GSS_S_DEFECTIVE_TOKEN, MinorTokenFormat)
	}

	t := &roundToken{}
	if _, err := xdr.UnmarshalLimited(bytes.NewReader(b[2:]), t, uint(len(b)-2)); err != nil {
		return nil, failure(gssctx.GSS_S_DEFECTIVE_TOKEN, MinorTokenFormat)
	}

	return t, complete
}
