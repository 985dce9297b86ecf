// SPDX-License-Identifier: Apache-2.0

package loopback

import (
	"bytes"
	"errors"

	"github.com/golang-auth/go-gssctx"
	"github.com/golang-auth/go-gssctx/internal/rfc4121"
)

// openContext resolves a handle for a per-message call.
func (m *Mech) openContext(h gssctx.ContextHandle) (*context, gssctx.Status) {
	c, ok := h.(*context)
	if !ok || !m.isLive(c) || !c.open {
		return nil, failure(gssctx.GSS_S_NO_CONTEXT, MinorBadHandle)
	}

	if c.expired() {
		return nil, failure(gssctx.GSS_S_CONTEXT_EXPIRED, MinorExpired)
	}

	return c, complete
}

func (c *context) nextSeq() uint64 {
	seq := c.sendSeq
	c.sendSeq++

	return seq
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

// GetMIC implements gssctx.Mechanism.  Only the default QoP is supported.
func (m *Mech) GetMIC(h gssctx.ContextHandle, qop gssctx.QoP, msg []byte) (gssctx.Status, []byte) {
	if st, ok := m.fault("gss_get_mic"); ok {
		return st, nil
	}

	c, st := m.openContext(h)
	if st.Failed() {
		return st, nil
	}

	if qop != 0 {
		return failure(gssctx.GSS_S_BAD_QOP, 0), nil
	}

	tok := rfc4121.MICToken{Flags: c.direction(), SequenceNumber: c.nextSeq()}
	if err := tok.Sign(msg, c.key); err != nil {
		return failure(gssctx.GSS_S_FAILURE, MinorCrypto), nil
	}

	out, err := tok.Marshal()
	if err != nil {
		return failure(gssctx.GSS_S_FAILURE, MinorCrypto), nil
	}

	return complete, out
}

// VerifyMIC implements gssctx.Mechanism.
func (m *Mech) VerifyMIC(h gssctx.ContextHandle, msg, token []byte) (gssctx.Status, gssctx.QoP) {
	if st, ok := m.fault("gss_verify_mic"); ok {
		return st, 0
	}

	c, st := m.openContext(h)
	if st.Failed() {
		return st, 0
	}

	tok := rfc4121.MICToken{}
	if err := tok.Unmarshal(token); err != nil {
		return tokenStatus(err), 0
	}

	if err := tok.Verify(msg, c.key, c.initiator); err != nil {
		return tokenStatus(err), 0
	}

	return seqStatus(c.recv.Check(tok.SequenceNumber)), 0
}

// Wrap implements gssctx.Mechanism.  When the mechanism was built without
// confidentiality, conf is ignored and the token is only integrity protected.
func (m *Mech) Wrap(h gssctx.ContextHandle, conf bool, qop gssctx.QoP, msg []byte) (gssctx.Status, bool, []byte) {
	if st, ok := m.fault("gss_wrap"); ok {
		return st, false, nil
	}

	c, st := m.openContext(h)
	if st.Failed() {
		return st, false, nil
	}

	if qop != 0 {
		return failure(gssctx.GSS_S_BAD_QOP, 0), false, nil
	}

	seal := conf && c.flags&gssctx.ContextFlagConf != 0

	tok := rfc4121.WrapToken{
		Flags:          c.direction(),
		SequenceNumber: c.nextSeq(),
		Payload:        bytes.Clone(msg),
	}
	if tok.Payload == nil {
		tok.Payload = []byte{}
	}

	var err error
	if seal {
		err = tok.Seal(c.key)
	} else {
		err = tok.Sign(c.key)
	}
	if err != nil {
		return failure(gssctx.GSS_S_FAILURE, MinorCrypto), false, nil
	}

	out, err := tok.Marshal()
	if err != nil {
		return failure(gssctx.GSS_S_FAILURE, MinorCrypto), false, nil
	}

	return complete, seal, out
}

// Unwrap implements gssctx.Mechanism.
func (m *Mech) Unwrap(h gssctx.ContextHandle, token []byte) (gssctx.Status, []byte, bool, gssctx.QoP) {
	if st, ok := m.fault("gss_unwrap"); ok {
		return st, nil, false, 0
	}

	c, st := m.openContext(h)
	if st.Failed() {
		return st, nil, false, 0
	}

	tok := rfc4121.WrapToken{}
	if err := tok.Unmarshal(token); err != nil {
		return tokenStatus(err), nil, false, 0
	}

	sealed, err := tok.VerifyAndDecode(c.key, c.initiator)
	if err != nil {
		return tokenStatus(err), nil, false, 0
	}

	if st := seqStatus(c.recv.Check(tok.SequenceNumber)); st.Failed() {
		return st, nil, false, 0
	}

	return complete, tok.Payload, sealed, 0
}
