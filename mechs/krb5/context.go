// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/jcmturner/gokrb5/v8/iana/chksumtype"
	"github.com/jcmturner/gokrb5/v8/iana/errorcode"
	ianaflags "github.com/jcmturner/gokrb5/v8/iana/flags"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/service"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/golang-auth/go-gssctx"
	"github.com/golang-auth/go-gssctx/internal/rfc4121"
)

// flags the mechanism can negotiate;  confidentiality and integrity are always offered
const (
	supported = gssctx.ContextFlagMutual | gssctx.ContextFlagReplay | gssctx.ContextFlagSequence |
		gssctx.ContextFlagConf | gssctx.ContextFlagInteg
	always = gssctx.ContextFlagConf | gssctx.ContextFlagInteg
)

// how long authenticators stay in the replay cache
const replayCacheTTL = 5 * time.Minute

type context struct {
	initiator     bool
	open          bool
	waitingMutual bool
	flags         gssctx.ContextFlag

	ticket          messages.Ticket
	sessionKey      types.EncryptionKey
	initiatorSubkey *types.EncryptionKey
	acceptorSubkey  *types.EncryptionKey

	// the initiator's authenticator time, echoed in the AP-REP
	ctime time.Time
	cusec int

	sendSeq uint64
	recv    *rfc4121.SeqState
	expires time.Time
}

func (c *context) lifetime() uint32 {
	return lifetimeUntil(c.expires)
}

func (c *context) expired() bool {
	return !c.expires.IsZero() && time.Now().After(c.expires)
}

func (c *context) newSeqState(initial uint64) *rfc4121.SeqState {
	return rfc4121.NewSeqState(initial, c.flags&gssctx.ContextFlagReplay != 0, c.flags&gssctx.ContextFlagSequence != 0)
}

// acceptorSeq derives the acceptor's initial sequence number for contexts without
// mutual authentication.  See https://bugs.openjdk.java.net/browse/JDK-8201814
func (m *Mech) acceptorSeq(initiatorSeq uint64) uint64 {
	if m.acceptorISN == AcceptorISNZero {
		return 0
	}

	return initiatorSeq
}

// krbStatus reports Kerberos error code as a GSS status.
func krbStatus(code int32) gssctx.Status {
	major := gssctx.GSS_S_FAILURE

	switch code {
	case errorcode.KRB_AP_ERR_NOKEY, errorcode.KRB_AP_ERR_BADKEYVER, errorcode.KRB_AP_ERR_NOT_US:
		major = gssctx.GSS_S_NO_CRED
	case errorcode.KRB_AP_ERR_TKT_EXPIRED:
		major = gssctx.GSS_S_CREDENTIALS_EXPIRED
	case errorcode.KRB_AP_ERR_MSG_TYPE, errorcode.KRB_AP_ERR_BADVERSION:
		major = gssctx.GSS_S_DEFECTIVE_TOKEN
	case errorcode.KRB_AP_ERR_REPEAT:
		major = gssctx.GSS_S_DUPLICATE_TOKEN | gssctx.GSS_S_FAILURE
	}

	return failure(major, KrbMinorBase+uint32(code))
}

// InitSecContext implements gssctx.Mechanism.  The first call sends an AP-REQ;  with
// mutual authentication a second call consumes the acceptor's AP-REP.
func (m *Mech) InitSecContext(h gssctx.ContextHandle, req gssctx.InitRequest) (gssctx.Status, gssctx.InitResult) {
	if h == nil {
		return m.initFirst(req)
	}

	c, ok := h.(*context)
	if !ok || c == nil || !c.initiator {
		return failure(gssctx.GSS_S_NO_CONTEXT, MinorBadHandle), gssctx.InitResult{}
	}

	if !c.waitingMutual || len(req.InputToken) == 0 {
		return failure(gssctx.GSS_S_DEFECTIVE_TOKEN, MinorTokenOrder), gssctx.InitResult{}
	}

	if st := m.consumeAPRep(c, req.InputToken); st.Failed() {
		return st, gssctx.InitResult{}
	}

	m.log.V(1).Info("mutual authentication complete", "flags", c.flags)

	return complete, c.initResult(nil)
}

func (c *context) initResult(out []byte) gssctx.InitResult {
	return gssctx.InitResult{
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

	target, ok := liveName(req.Target)
	if !ok {
		return failure(gssctx.GSS_S_BAD_NAME, MinorBadHandle), gssctx.InitResult{}
	}

	tkt, key, err := cr.tickets.ServiceTicket(target.spn())
	if err != nil {
		m.log.Error(err, "no service ticket", "target", target.String())

		var ke messages.KRBError
		if errors.As(err, &ke) {
			return krbStatus(ke.ErrorCode), gssctx.InitResult{}
		}

		return failure(gssctx.GSS_S_FAILURE, MinorNoTickets), gssctx.InitResult{}
	}

	cname, realm := cr.tickets.Principal()
	flags := req.Flags&supported | always

	apreq, auth, err := newAPReq(tkt, key, cname, realm, flags, req.Bindings)
	if err != nil {
		m.log.Error(err, "building AP-REQ")
		return failure(gssctx.GSS_S_FAILURE, MinorCrypto), gssctx.InitResult{}
	}

	out, err := (&contextToken{tokID: tokIDAPReq, apReq: &apreq}).marshal()
	if err != nil {
		m.log.Error(err, "marshalling AP-REQ")
		return failure(gssctx.GSS_S_FAILURE, MinorTokenFormat), gssctx.InitResult{}
	}

	lifetime := req.Lifetime
	if lifetime == 0 && !cr.expires.IsZero() {
		lifetime = cr.lifetime()
	}

	c := &context{
		initiator:       true,
		flags:           flags &^ gssctx.ContextFlagMutual,
		ticket:          tkt,
		sessionKey:      key,
		initiatorSubkey: &auth.SubKey,
		ctime:           auth.CTime,
		cusec:           auth.Cusec,
		sendSeq:         uint64(auth.SeqNumber),
		expires:         expiryFrom(lifetime),
	}

	// with mutual authentication the AP-REP carries the acceptor's sequence number
	if flags&gssctx.ContextFlagMutual != 0 {
		c.waitingMutual = true
		m.log.V(1).Info("sent AP-REQ, waiting for AP-REP", "target", target.String())

		return gssctx.MakeStatus(gssctx.GSS_S_CONTINUE_NEEDED, 0), c.initResult(out)
	}

	c.recv = c.newSeqState(m.acceptorSeq(c.sendSeq))
	c.open = true
	m.log.V(1).Info("sent AP-REQ", "target", target.String(), "flags", c.flags)

	return complete, c.initResult(out)
}

// newAPReq builds an AP-REQ carrying the GSS-API checksum and a fresh initiator subkey.
func newAPReq(tkt messages.Ticket, key types.EncryptionKey, cname types.PrincipalName, realm string, flags gssctx.ContextFlag, cb *gssctx.ChannelBinding) (messages.APReq, types.Authenticator, error) {
	auth, err := types.NewAuthenticator(realm, cname)
	if err != nil {
		return messages.APReq{}, auth, fmt.Errorf("krb5: generating authenticator: %w", err)
	}

	// MIT compatibility
	auth.SeqNumber &= 0x3fffffff

	if auth.SubKey, err = generateBaseKey(key.KeyType); err != nil {
		return messages.APReq{}, auth, fmt.Errorf("krb5: generating subkey: %w", err)
	}

	auth.Cksum = types.Checksum{
		CksumType: chksumtype.GSSAPI,
		Checksum:  newAuthenticatorChksum(flags, cb),
	}

	apreq, err := messages.NewAPReq(tkt, key, auth)
	if err != nil {
		return messages.APReq{}, auth, fmt.Errorf("krb5: %w", err)
	}

	if flags&gssctx.ContextFlagMutual != 0 {
		types.SetFlag(&apreq.APOptions, ianaflags.APOptionMutualRequired)
	}

	return apreq, auth, nil
}

// consumeAPRep completes mutual authentication.  On failure c is unchanged.
func (m *Mech) consumeAPRep(c *context, b []byte) gssctx.Status {
	t, st := unmarshalContextToken(b)
	if st.Failed() {
		return st
	}

	if t.krbError != nil {
		m.log.Info("acceptor returned an error", "error", t.krbError.Error())
		return krbStatus(t.krbError.ErrorCode)
	}

	if t.apRep == nil {
		return failure(gssctx.GSS_S_DEFECTIVE_TOKEN, MinorTokenOrder)
	}

	enc, err := t.apRep.decryptEncPart(c.sessionKey)
	if err != nil {
		m.log.Error(err, "decrypting AP-REP")
		return krbStatus(errorcode.KRB_AP_ERR_BAD_INTEGRITY)
	}

	// the reply must echo our authenticator time;  compare seconds and microseconds
	// separately as the local time still carries a monotonic reading
	if enc.CTime.Unix() != c.ctime.Unix() || enc.Cusec != c.cusec {
		return krbStatus(errorcode.KRB_AP_ERR_MUT_FAIL)
	}

	if enc.Subkey.KeyType != 0 {
		sk := enc.Subkey
		c.acceptorSubkey = &sk
	}

	c.flags |= gssctx.ContextFlagMutual
	c.recv = c.newSeqState(uint64(enc.SequenceNumber))
	c.waitingMutual = false
	c.open = true

	return complete
}

// AcceptSecContext implements gssctx.Mechanism.  Kerberos contexts are established by
// a single AP-REQ;  an AP-REP is returned when the initiator asked for mutual
// authentication.  Verification failures return a KRB-ERROR token for the peer.
func (m *Mech) AcceptSecContext(h gssctx.ContextHandle, req gssctx.AcceptRequest) (gssctx.Status, gssctx.AcceptResult) {
	if h != nil {
		return failure(gssctx.GSS_S_DEFECTIVE_TOKEN, MinorTokenOrder), gssctx.AcceptResult{}
	}

	if len(req.InputToken) == 0 {
		return failure(gssctx.GSS_S_DEFECTIVE_TOKEN, MinorTokenFormat), gssctx.AcceptResult{}
	}

	cr, st := m.credFor(req.Cred, gssctx.CredUsageAcceptOnly)
	if st.Failed() {
		return st, gssctx.AcceptResult{}
	}

	t, st := unmarshalContextToken(req.InputToken)
	if st.Failed() {
		return st, gssctx.AcceptResult{}
	}

	if t.apReq == nil {
		ke := messages.NewKRBError(types.PrincipalName{}, "", errorcode.KRB_AP_ERR_MSG_TYPE, "gss accept failed")
		return krbStatus(ke.ErrorCode), gssctx.AcceptResult{OutputToken: errorToken(ke)}
	}

	apreq := t.apReq

	if cr.name != nil && !cr.name.matches(apreq.Ticket.SName, apreq.Ticket.Realm) {
		ke := messages.NewKRBError(apreq.Ticket.SName, apreq.Ticket.Realm, errorcode.KRB_AP_ERR_NOT_US, "ticket is for a different service")
		return krbStatus(ke.ErrorCode), gssctx.AcceptResult{OutputToken: errorToken(ke)}
	}

	if ke := m.verifyAPReq(cr.keytab, apreq); ke != nil {
		m.log.Info("rejecting AP-REQ", "error", ke.Error())
		return krbStatus(ke.ErrorCode), gssctx.AcceptResult{OutputToken: errorToken(*ke)}
	}

	bindings, requested := authenticatorChksum(apreq.Authenticator.Cksum)
	flags := requested&supported | always
	if types.IsFlagSet(&apreq.APOptions, ianaflags.APOptionMutualRequired) {
		flags |= gssctx.ContextFlagMutual
	}

	// an initiator that sent no bindings is accepted whatever the acceptor holds
	if req.Bindings != nil && !bytes.Equal(bindings, make([]byte, len(bindings))) {
		if !bytes.Equal(req.Bindings.Hash(), bindings) {
			return failure(gssctx.GSS_S_BAD_BINDINGS, KrbMinorBase+uint32(errorcode.KRB_AP_ERR_BADMATCH)), gssctx.AcceptResult{}
		}
		flags |= gssctx.ContextFlagChannelBound
	}

	enc := apreq.Ticket.DecryptedEncPart
	c := &context{
		flags:      flags,
		ticket:     apreq.Ticket,
		sessionKey: enc.Key,
		ctime:      apreq.Authenticator.CTime,
		cusec:      apreq.Authenticator.Cusec,
		expires:    enc.EndTime,
	}

	if apreq.Authenticator.SubKey.KeyType != 0 {
		sk := apreq.Authenticator.SubKey
		c.initiatorSubkey = &sk
	}

	// Authenticator.SeqNumber is a 32 bit number in the protocol
	initiatorSeq := uint64(apreq.Authenticator.SeqNumber) & 0xffffffff
	c.recv = c.newSeqState(initiatorSeq)

	var out []byte
	if flags&gssctx.ContextFlagMutual != 0 {
		var err error
		if out, err = m.apRepToken(c); err != nil {
			m.log.Error(err, "building AP-REP")
			return failure(gssctx.GSS_S_FAILURE, MinorCrypto), gssctx.AcceptResult{}
		}
	} else {
		c.sendSeq = m.acceptorSeq(initiatorSeq)
	}

	c.open = true
	peer := newName(enc.CName, enc.CRealm, gssctx.GSS_KRB5_NT_PRINCIPAL_NAME.Oid())
	m.log.V(1).Info("accepted context", "peer", peer.String(), "flags", c.flags)

	return complete, gssctx.AcceptResult{
		Context:     c,
		SourceName:  peer,
		Mech:        Oid,
		OutputToken: out,
		Flags:       c.flags,
		Lifetime:    c.lifetime(),
	}
}

// apRepToken builds the mutual authentication reply with an acceptor subkey and the
// acceptor's initial sequence number, both of which it records in c.
func (m *Mech) apRepToken(c *context) ([]byte, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return nil, err
	}

	// Previous MIT implementations use signed sequence numbers, so initial sequence
	// numbers above 2^30 are avoided.
	seq := int64(binary.BigEndian.Uint32(b[:]) & 0x3fffffff)

	keyType := c.sessionKey.KeyType
	if c.initiatorSubkey != nil {
		keyType = c.initiatorSubkey.KeyType
	}

	subkey, err := generateBaseKey(keyType)
	if err != nil {
		return nil, err
	}

	rep, err := newAPRep(c.ticket, c.sessionKey, encAPRepPart{
		CTime:          c.ctime,
		Cusec:          c.cusec,
		Subkey:         subkey,
		SequenceNumber: seq,
	})
	if err != nil {
		return nil, err
	}

	out, err := (&contextToken{tokID: tokIDAPRep, apRep: &rep}).marshal()
	if err != nil {
		return nil, err
	}

	c.acceptorSubkey = &subkey
	c.sendSeq = uint64(seq)

	return out, nil
}

// verifyAPReq checks an AP-REQ against the keytab and returns the KRB-ERROR to report
// to the peer, or nil.  Addresses are not checked.
func (m *Mech) verifyAPReq(kt *keytab.Keytab, apreq *messages.APReq) *messages.KRBError {
	tkt := &apreq.Ticket
	krbErr := func(code int32, text string) *messages.KRBError {
		ke := messages.NewKRBError(tkt.SName, tkt.Realm, code, text)
		return &ke
	}

	err := tkt.DecryptEncPart(kt, &tkt.SName)
	var ke messages.KRBError
	switch {
	case errors.As(err, &ke):
		return &ke
	case err != nil:
		return krbErr(errorcode.KRB_AP_ERR_BAD_INTEGRITY, "could not decrypt ticket")
	}

	if ok, err := tkt.Valid(m.clockSkew); !ok {
		if errors.As(err, &ke) {
			return &ke
		}
		return krbErr(errorcode.KRB_AP_ERR_TKT_EXPIRED, "service ticket is not valid")
	}

	if err := apreq.DecryptAuthenticator(tkt.DecryptedEncPart.Key); err != nil {
		return krbErr(errorcode.KRB_AP_ERR_BAD_INTEGRITY, "could not decrypt authenticator")
	}

	auth := &apreq.Authenticator
	if auth.Cksum.CksumType != chksumtype.GSSAPI {
		return krbErr(errorcode.KRB_AP_ERR_INAPP_CKSUM, "wrong authenticator checksum type")
	}
	if len(auth.Cksum.Checksum) < 24 {
		return krbErr(errorcode.KRB_AP_ERR_BADMATCH, "authenticator checksum too short")
	}

	if !auth.CName.Equal(tkt.DecryptedEncPart.CName) {
		return krbErr(errorcode.KRB_AP_ERR_BADMATCH, "CName in Authenticator does not match that in service ticket")
	}

	ct := auth.CTime.Add(time.Duration(auth.Cusec) * time.Microsecond)
	now := time.Now().UTC()
	if now.Sub(ct) > m.clockSkew || ct.Sub(now) > m.clockSkew {
		return krbErr(errorcode.KRB_AP_ERR_SKEW, fmt.Sprintf("clock skew with client too large. greater than %v", m.clockSkew))
	}

	if m.replay && service.GetReplayCache(replayCacheTTL).IsReplay(tkt.SName, *auth) {
		return krbErr(errorcode.KRB_AP_ERR_REPEAT, "replay detected")
	}

	return nil
}

// DeleteSecContext implements gssctx.Mechanism.  Subkeys are wiped;  the initiator's
// session key may still be cached by its ticket source and is left alone.
func (m *Mech) DeleteSecContext(h gssctx.ContextHandle) gssctx.Status {
	c, ok := h.(*context)
	if !ok || c == nil {
		return failure(gssctx.GSS_S_NO_CONTEXT, MinorBadHandle)
	}

	if !c.initiator {
		wipe(&c.sessionKey)
	}
	wipe(c.initiatorSubkey)
	wipe(c.acceptorSubkey)
	c.open = false

	return complete
}
