// SPDX-License-Identifier: Apache-2.0

package loopback

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/google/uuid"
	"github.com/jcmturner/gokrb5/v8/crypto"
	"github.com/jcmturner/gokrb5/v8/iana/etypeID"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/golang-auth/go-gssctx"
	"github.com/golang-auth/go-gssctx/internal/gsstoken"
	"github.com/golang-auth/go-gssctx/internal/rfc4121"
)

const sessionKeyType = etypeID.AES256_CTS_HMAC_SHA1_96

// flags the mechanism can honour when requested;  integrity is always granted
const grantable = gssctx.ContextFlagMutual | gssctx.ContextFlagReplay | gssctx.ContextFlagSequence | gssctx.ContextFlagAnon

var anonymousName = []byte("WELLKNOWN/ANONYMOUS@WELLKNOWN:ANONYMOUS")

type context struct {
	id        uuid.UUID
	initiator bool
	rounds    int // tokens needed to establish
	round     int // tokens produced or consumed so far
	open      bool

	flags   gssctx.ContextFlag
	key     types.EncryptionKey
	peer    *name // the initiator, on the acceptor side
	expires time.Time

	sendSeq uint64
	recv    *rfc4121.SeqState
}

func (c *context) lifetime() uint32 {
	if c.expires.IsZero() {
		return gssctx.GSS_C_INDEFINITE
	}

	secs := time.Until(c.expires) / time.Second
	switch {
	case secs <= 0:
		return 0
	case uint64(secs) >= uint64(gssctx.GSS_C_INDEFINITE):
		return gssctx.GSS_C_INDEFINITE - 1
	}

	return uint32(secs)
}

func (c *context) expired() bool {
	return !c.expires.IsZero() && time.Now().After(c.expires)
}

func (m *Mech) liveContext(h gssctx.ContextHandle, initiator bool) (*context, bool) {
	c, ok := h.(*context)
	if !ok || !m.isLive(c) || c.initiator != initiator {
		return nil, false
	}

	return c, true
}

func (m *Mech) grant(req gssctx.ContextFlag) gssctx.ContextFlag {
	flags := req&grantable | gssctx.ContextFlagInteg
	if m.conf {
		flags |= gssctx.ContextFlagConf
	}

	return flags
}

func expiryFrom(secs uint32) time.Time {
	if secs == 0 || secs == gssctx.GSS_C_INDEFINITE {
		return time.Time{}
	}

	return time.Now().Add(time.Duration(secs) * time.Second)
}

// randomSeq returns an initial sequence number in the range used by MIT Kerberos.
func randomSeq() (uint64, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}

	return uint64(binary.BigEndian.Uint32(b[:]) & 0x3fffffff), nil
}

// InitSecContext implements gssctx.Mechanism.
func (m *Mech) InitSecContext(h gssctx.ContextHandle, req gssctx.InitRequest) (gssctx.Status, gssctx.InitResult) {
	if st, ok := m.fault("gss_init_sec_context"); ok {
		return st, gssctx.InitResult{}
	}

	if h == nil {
		return m.initFirst(req)
	}

	c, ok := m.liveContext(h, true)
	if !ok {
		return failure(gssctx.GSS_S_NO_CONTEXT, MinorBadHandle), gssctx.InitResult{}
	}

	if c.open || len(req.InputToken) == 0 {
		return failure(gssctx.GSS_S_DEFECTIVE_TOKEN, MinorTokenOrder), gssctx.InitResult{}
	}

	if st := m.consumeRound(c, req.InputToken); st.Failed() {
		return st, gssctx.InitResult{}
	}

	st, out := m.nextRound(c)

	return st, gssctx.InitResult{
		Context:     c,
		Mech:        Oid,
		OutputToken: out,
		Flags:       c.flags,
		Lifetime:    c.lifetime(),
	}
}

func (m *Mech) initFirst(req gssctx.InitRequest) (gssctx.Status, gssctx.InitResult) {
	if req.Mech != nil && !req.Mech.Equal(Oid) {
		return failure(gssctx.GSS_S_BAD_MECH, 0), gssctx.InitResult{}
	}

	cr, st := m.credFor(req.Cred, gssctx.CredUsageInitiateOnly)
	if st.Failed() {
		return st, gssctx.InitResult{}
	}

	target, ok := m.liveName(req.Target)
	if !ok {
		return failure(gssctx.GSS_S_BAD_NAME, MinorBadHandle), gssctx.InitResult{}
	}

	etype, err := crypto.GetEtype(sessionKeyType)
	if err != nil {
		return failure(gssctx.GSS_S_FAILURE, MinorCrypto), gssctx.InitResult{}
	}
	key, err := types.GenerateEncryptionKey(etype)
	if err != nil {
		return failure(gssctx.GSS_S_FAILURE, MinorCrypto), gssctx.InitResult{}
	}
	seq, err := randomSeq()
	if err != nil {
		return failure(gssctx.GSS_S_FAILURE, MinorCrypto), gssctx.InitResult{}
	}

	lifetime := req.Lifetime
	if lifetime == 0 {
		lifetime = cr.lifetime
	}

	c := &context{
		id:        uuid.New(),
		initiator: true,
		rounds:    m.rounds,
		flags:     m.grant(req.Flags),
		key:       key,
		expires:   expiryFrom(lifetime),
		sendSeq:   seq,
	}
	c.recv = rfc4121.NewSeqState(seq, c.flags&gssctx.ContextFlagReplay != 0, c.flags&gssctx.ContextFlagSequence != 0)

	t := initToken{
		Version:   tokenVersion,
		ContextID: c.id[:],
		Target:    target.raw,
		Flags:     uint32(c.flags),
		Lifetime:  lifetime,
		Rounds:    uint32(c.rounds),
		KeyType:   key.KeyType,
		Key:       key.KeyValue,
		SeqNum:    uint32(seq),
	}
	if c.flags&gssctx.ContextFlagAnon == 0 {
		t.Initiator = cr.name.raw
		t.InitiatorType = []byte(cr.name.nameType)
	}
	if req.Bindings != nil {
		t.Bindings = req.Bindings.Hash()
	}

	out, err := t.marshal()
	if err != nil {
		return failure(gssctx.GSS_S_FAILURE, MinorTokenFormat), gssctx.InitResult{}
	}

	m.track(c, "context")
	c.round = 1
	m.log.V(1).Info("initiator sent first token", "context", c.id, "rounds", c.rounds)

	st = gssctx.MakeStatus(gssctx.GSS_S_CONTINUE_NEEDED, 0)
	if c.round == c.rounds {
		c.open = true
		st = complete
	}

	return st, gssctx.InitResult{
		Context:     c,
		Mech:        Oid,
		OutputToken: out,
		Flags:       c.flags,
		Lifetime:    c.lifetime(),
	}
}

// AcceptSecContext implements gssctx.Mechanism.
func (m *Mech) AcceptSecContext(h gssctx.ContextHandle, req gssctx.AcceptRequest) (gssctx.Status, gssctx.AcceptResult) {
	if st, ok := m.fault("gss_accept_sec_context"); ok {
		return st, gssctx.AcceptResult{}
	}

	if len(req.InputToken) == 0 {
		return failure(gssctx.GSS_S_DEFECTIVE_TOKEN, MinorTokenFormat), gssctx.AcceptResult{}
	}

	var c *context
	if h == nil {
		var st gssctx.Status
		if c, st = m.acceptFirst(req); st.Failed() {
			return st, gssctx.AcceptResult{}
		}
	} else {
		var ok bool
		if c, ok = m.liveContext(h, false); !ok {
			return failure(gssctx.GSS_S_NO_CONTEXT, MinorBadHandle), gssctx.AcceptResult{}
		}
		if c.open {
			return failure(gssctx.GSS_S_DEFECTIVE_TOKEN, MinorTokenOrder), gssctx.AcceptResult{}
		}
		if st := m.consumeRound(c, req.InputToken); st.Failed() {
			return st, gssctx.AcceptResult{}
		}
	}

	st, out := m.nextRound(c)

	res := gssctx.AcceptResult{
		Context:     c,
		Mech:        Oid,
		OutputToken: out,
		Flags:       c.flags,
		Lifetime:    c.lifetime(),
	}

	if st.Complete() {
		if c.peer != nil {
			res.SourceName = m.newName(c.peer.raw, c.peer.nameType)
		} else {
			res.SourceName = m.newName(anonymousName, gssctx.GSS_NT_ANONYMOUS.Oid())
		}
	}

	return st, res
}

func (m *Mech) acceptFirst(req gssctx.AcceptRequest) (*context, gssctx.Status) {
	// a token for another mechanism is rejected before the credential is looked at
	if mech, err := gsstoken.MechOf(req.InputToken); err == nil && !Oid.Equal(mech) {
		return nil, failure(gssctx.GSS_S_BAD_MECH, 0)
	}

	var local *name
	if req.Cred != nil {
		cr, st := m.credFor(req.Cred, gssctx.CredUsageAcceptOnly)
		if st.Failed() {
			return nil, st
		}
		local = cr.name
	}

	t, st := unmarshalInitToken(req.InputToken)
	if st.Failed() {
		return nil, st
	}

	if local != nil && !bytes.Equal(local.raw, t.Target) {
		return nil, failure(gssctx.GSS_S_FAILURE, MinorWrongPrincipal)
	}

	flags := gssctx.ContextFlag(t.Flags)

	switch {
	case req.Bindings != nil && len(t.Bindings) > 0:
		if !bytes.Equal(req.Bindings.Hash(), t.Bindings) {
			return nil, failure(gssctx.GSS_S_BAD_BINDINGS, MinorBadBindings)
		}
		flags |= gssctx.ContextFlagChannelBound
	case req.Bindings != nil && flags&gssctx.ContextFlagChannelBound != 0:
		return nil, failure(gssctx.GSS_S_BAD_BINDINGS, MinorBadBindings)
	}

	key := types.EncryptionKey{KeyType: t.KeyType, KeyValue: t.Key}
	if _, err := crypto.GetEtype(key.KeyType); err != nil {
		return nil, failure(gssctx.GSS_S_DEFECTIVE_TOKEN, MinorCrypto)
	}

	id, err := uuid.FromBytes(t.ContextID)
	if err != nil {
		return nil, failure(gssctx.GSS_S_DEFECTIVE_TOKEN, MinorTokenFormat)
	}

	seq := uint64(t.SeqNum)
	c := &context{
		id:      id,
		rounds:  int(t.Rounds),
		round:   1,
		flags:   flags,
		key:     key,
		expires: expiryFrom(t.Lifetime),
		sendSeq: seq,
		recv:    rfc4121.NewSeqState(seq, flags&gssctx.ContextFlagReplay != 0, flags&gssctx.ContextFlagSequence != 0),
	}

	if len(t.Initiator) > 0 {
		c.peer = &name{raw: t.Initiator, nameType: gssctx.Oid(t.InitiatorType)}
	}

	m.track(c, "context")
	m.log.V(1).Info("acceptor received first token", "context", c.id, "rounds", c.rounds)

	return c, complete
}

// nextRound completes the context when the last token has been seen, or produces the
// next token.
func (m *Mech) nextRound(c *context) (gssctx.Status, []byte) {
	if c.round == c.rounds {
		c.open = true
		return complete, nil
	}

	out, err := c.roundToken(c.round + 1)
	if err != nil {
		return failure(gssctx.GSS_S_FAILURE, MinorCrypto), nil
	}

	c.round++
	if c.round == c.rounds {
		c.open = true
		m.log.V(1).Info("context established", "context", c.id, "initiator", c.initiator)
		return complete, out
	}

	return gssctx.MakeStatus(gssctx.GSS_S_CONTINUE_NEEDED, 0), out
}

// consumeRound checks the peer's next token and advances the round.  On failure the
// context is unchanged.
func (m *Mech) consumeRound(c *context, tok []byte) gssctx.Status {
	t, st := unmarshalRoundToken(tok)
	if st.Failed() {
		return st
	}

	if int(t.Round) != c.round+1 || !bytes.Equal(t.ContextID, c.id[:]) {
		return failure(gssctx.GSS_S_DEFECTIVE_TOKEN, MinorTokenOrder)
	}

	mic := rfc4121.MICToken{}
	if err := mic.Unmarshal(t.Proof); err != nil {
		return failure(gssctx.GSS_S_DEFECTIVE_TOKEN, MinorTokenFormat)
	}
	if err := mic.Verify(roundProofData(c.id, t.Round), c.key, c.initiator); err != nil {
		return failure(gssctx.GSS_S_BAD_MIC, MinorCrypto)
	}

	c.round++
	if c.round == c.rounds {
		m.log.V(1).Info("context established", "context", c.id, "initiator", c.initiator)
	}

	return complete
}

func (c *context) roundToken(round int) ([]byte, error) {
	mic := rfc4121.MICToken{Flags: c.direction(), SequenceNumber: uint64(round)}
	if err := mic.Sign(roundProofData(c.id, uint32(round)), c.key); err != nil {
		return nil, err
	}

	proof, err := mic.Marshal()
	if err != nil {
		return nil, err
	}

	t := roundToken{ContextID: c.id[:], Round: uint32(round), Proof: proof}

	return t.marshal()
}

func roundProofData(id uuid.UUID, round uint32) []byte {
	return binary.BigEndian.AppendUint32(bytes.Clone(id[:]), round)
}

func (c *context) direction() rfc4121.Flag {
	if c.initiator {
		return 0
	}

	return rfc4121.FlagSentByAcceptor
}

// DeleteSecContext implements gssctx.Mechanism.
func (m *Mech) DeleteSecContext(h gssctx.ContextHandle) gssctx.Status {
	if st, ok := m.fault("gss_delete_sec_context"); ok {
		return st
	}

	if !m.untrack(h) {
		return failure(gssctx.GSS_S_NO_CONTEXT, MinorBadHandle)
	}

	return complete
}
