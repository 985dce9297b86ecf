// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"bytes"
	"errors"

	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/golang-auth/go-gssctx"
	"github.com/golang-auth/go-gssctx/internal/rfc4121"
)

func (m *Mech) openContext(h gssctx.ContextHandle) (*context, gssctx.Status) {
	c, ok := h.(*context)
	if !ok || c == nil || !c.open {
		return nil, failure(gssctx.GSS_S_NO_CONTEXT, MinorBadHandle)
	}

	if c.expired() {
		return nil, failure(gssctx.GSS_S_CONTEXT_EXPIRED, MinorExpired)
	}

	return c, complete
}

// sendKey picks the key for outgoing tokens:  the acceptor subkey when one was
// negotiated, then the initiator subkey, then the ticket session key.
func (c *context) sendKey() (types.EncryptionKey, rfc4121.Flag) {
	var flags rfc4121.Flag
	if !c.initiator {
		flags |= rfc4121.FlagSentByAcceptor
	}

	switch {
	case c.acceptorSubkey != nil:
		return *c.acceptorSubkey, flags | rfc4121.FlagAcceptorSubkey
	case c.initiatorSubkey != nil:
		return *c.initiatorSubkey, flags
	}

	return c.sessionKey, flags
}

// recvKey picks the key for an incoming token with the given flags.
func (c *context) recvKey(flags rfc4121.Flag) (types.EncryptionKey, gssctx.Status) {
	switch {
	case flags&rfc4121.FlagAcceptorSubkey != 0:
		if c.acceptorSubkey == nil {
			return types.EncryptionKey{}, failure(gssctx.GSS_S_DEFECTIVE_TOKEN, MinorNoSubkey)
		}
		return *c.acceptorSubkey, complete
	case c.initiatorSubkey != nil:
		return *c.initiatorSubkey, complete
	}

	return c.sessionKey, complete
}

func seqStatus(r rfc4121.SeqResult) gssctx.Status {
	switch r {
	case rfc4121.SeqDuplicate:
		return failure(gssctx.GSS_S_DUPLICATE_TOKEN, 0)
	case rfc4121.SeqOld:
		return failure(gssctx.GSS_S_OLD_TOKEN, 0)
	case rfc4121.SeqUnseq:
		return failure(gssctx.GSS_S_UNSEQ_TOKEN, 0)
	case rfc4121.SeqGap:
		return failure(gssctx.GSS_S_GAP_TOKEN, 0)
	}

	return complete
}

func tokenStatus(err error) gssctx.Status {
	if errors.Is(err, rfc4121.ErrDefectiveToken) {
		return failure(gssctx.GSS_S_DEFECTIVE_TOKEN, MinorTokenFormat)
	}

	return failure(gssctx.GSS_S_BAD_MIC, MinorCrypto)
}

// GetMIC implements gssctx.Mechanism.  Kerberos has a single QoP, the default.
func (m *Mech) GetMIC(h gssctx.ContextHandle, qop gssctx.QoP, msg []byte) (gssctx.Status, []byte) {
	c, st := m.openContext(h)
	if st.Failed() {
		return st, nil
	}

	if qop != 0 {
		return failure(gssctx.GSS_S_BAD_QOP, 0), nil
	}

	key, flags := c.sendKey()
	mt := rfc4121.MICToken{Flags: flags, SequenceNumber: c.sendSeq}
	if err := mt.Sign(msg, key); err != nil {
		return failure(gssctx.GSS_S_FAILURE, MinorCrypto), nil
	}

	out, err := mt.Marshal()
	if err != nil {
		return failure(gssctx.GSS_S_FAILURE, MinorCrypto), nil
	}

	c.sendSeq++

	return complete, out
}

// VerifyMIC implements gssctx.Mechanism.
func (m *Mech) VerifyMIC(h gssctx.ContextHandle, msg, token []byte) (gssctx.Status, gssctx.QoP) {
	c, st := m.openContext(h)
	if st.Failed() {
		return st, 0
	}

	mt := rfc4121.MICToken{}
	if err := mt.Unmarshal(token); err != nil {
		return tokenStatus(err), 0
	}

	key, st := c.recvKey(mt.Flags)
	if st.Failed() {
		return st, 0
	}

	if err := mt.Verify(msg, key, c.initiator); err != nil {
		return tokenStatus(err), 0
	}

	return seqStatus(c.recv.Check(mt.SequenceNumber)), 0
}

// Wrap implements gssctx.Mechanism.  The payload is sealed when conf is set and signed
// otherwise.
func (m *Mech) Wrap(h gssctx.ContextHandle, conf bool, qop gssctx.QoP, msg []byte) (gssctx.Status, bool, []byte) {
	c, st := m.openContext(h)
	if st.Failed() {
		return st, false, nil
	}

	if qop != 0 {
		return failure(gssctx.GSS_S_BAD_QOP, 0), false, nil
	}

	key, flags := c.sendKey()
	wt := rfc4121.WrapToken{
		Flags:          flags,
		SequenceNumber: c.sendSeq,
		Payload:        bytes.Clone(msg),
	}
	if wt.Payload == nil {
		wt.Payload = []byte{}
	}

	// encrypt or sign the payload, see RFC 4121 § 4.2.4
	var err error
	if conf {
		err = wt.Seal(key)
	} else {
		err = wt.Sign(key)
	}
	if err != nil {
		return failure(gssctx.GSS_S_FAILURE, MinorCrypto), false, nil
	}

	out, err := wt.Marshal()
	if err != nil {
		return failure(gssctx.GSS_S_FAILURE, MinorCrypto), false, nil
	}

	// only bump the sequence number if everything is good
	c.sendSeq++

	return complete, conf, out
}

// Unwrap implements gssctx.Mechanism.
func (m *Mech) Unwrap(h gssctx.ContextHandle, token []byte) (gssctx.Status, []byte, bool, gssctx.QoP) {
	c, st := m.openContext(h)
	if st.Failed() {
		return st, nil, false, 0
	}

	wt := rfc4121.WrapToken{}
	if err := wt.Unmarshal(token); err != nil {
		return tokenStatus(err), nil, false, 0
	}

	key, st := c.recvKey(wt.Flags)
	if st.Failed() {
		return st, nil, false, 0
	}

	sealed, err := wt.VerifyAndDecode(key, c.initiator)
	if err != nil {
		return tokenStatus(err), nil, false, 0
	}

	if st := seqStatus(c.recv.Check(wt.SequenceNumber)); st.Failed() {
		return st, nil, false, 0
	}

	return complete, wt.Payload, sealed, 0
}
