// SPDX-License-Identifier: Apache-2.0

package gssctx

import (
	"bytes"
	"fmt"
	"strings"
)

// mockMech is a recording Mechanism for the root package tests.  It hands out pointer
// handles, tracks which ones are live and counts releases of unknown handles.
type mockMech struct {
	oid   Oid
	calls []string
	live  map[any]string
	bogus int // releases of handles that were not live

	fail        map[string]Status // per-call failure injection
	leakOnFail  bool              // return a fresh handle alongside a failure
	nilHandle   map[string]bool   // return COMPLETE with no handle
	rounds      int               // init rounds until the initiator completes
	grantConf   *bool             // override the confidentiality granted by Wrap
	inquireUse  CredUsage
	noGrantSet  bool
	acceptorSrc string
}

type mockName struct {
	raw []byte
	nt  Oid
}

type mockCred struct {
	name *mockName
}

type mockCtx struct {
	round int
}

type mockSet struct {
	oids []Oid
}

func (s *mockSet) Oids() []Oid {
	return s.oids
}

var mockOid = Oid{0x2b, 0x06, 0x01, 0x04, 0x01, 0x82, 0xfd, 0x79, 0x63, 0x01}

func newMockMech() *mockMech {
	return &mockMech{
		oid:         mockOid,
		live:        map[any]string{},
		fail:        map[string]Status{},
		nilHandle:   map[string]bool{},
		rounds:      2,
		inquireUse:  CredUsageAcceptOnly,
		acceptorSrc: "alice@EXAMPLE",
	}
}

func (m *mockMech) record(call string) (Status, bool) {
	m.calls = append(m.calls, call)
	st, ok := m.fail[call]
	return st, ok
}

func (m *mockMech) track(h any, kind string) any {
	m.live[h] = kind
	return h
}

func (m *mockMech) untrack(h any) Status {
	if _, ok := m.live[h]; !ok {
		m.bogus++
		return Status{Major: GSS_S_NO_CONTEXT}
	}
	delete(m.live, h)
	return Status{}
}

func (m *mockMech) liveCount(kind string) (n int) {
	for _, k := range m.live {
		if k == kind {
			n++
		}
	}
	return
}

func (m *mockMech) called(call string) bool {
	for _, c := range m.calls {
		if c == call {
			return true
		}
	}
	return false
}

func (m *mockMech) newName(raw string, nt Oid) *mockName {
	n := &mockName{raw: []byte(raw), nt: nt}
	m.track(n, "name")
	return n
}

func (m *mockMech) Oid() Oid {
	return m.oid
}

func (m *mockMech) ImportName(raw []byte, nameType Oid) (Status, NameHandle) {
	if st, ok := m.record("import_name"); ok {
		if m.leakOnFail {
			return st, m.newName(string(raw), nameType)
		}
		return st, nil
	}
	if m.nilHandle["import_name"] {
		return Status{}, nil
	}

	if len(nameType) == 0 {
		nameType = GSS_NT_USER_NAME.Oid()
	}

	return Status{}, m.newName(string(raw), nameType)
}

func (m *mockMech) DisplayName(name NameHandle) (Status, []byte, Oid) {
	if st, ok := m.record("display_name"); ok {
		return st, nil, nil
	}

	n := name.(*mockName)
	return Status{}, bytes.ToUpper(n.raw), n.nt
}

func (m *mockMech) ReleaseName(name NameHandle) Status {
	m.record("release_name")
	return m.untrack(name)
}

func (m *mockMech) DuplicateName(name NameHandle) (Status, NameHandle) {
	if st, ok := m.record("duplicate_name"); ok {
		return st, nil
	}

	n := name.(*mockName)
	return Status{}, m.newName(string(n.raw), n.nt)
}

func (m *mockMech) AcquireCred(name NameHandle, lifetime uint32, mechs []Oid, usage CredUsage) (Status, CredHandle, OidSetHandle, uint32) {
	if st, ok := m.record("acquire_cred"); ok {
		if m.leakOnFail {
			return st, m.track(&mockCred{}, "cred"), m.track(&mockSet{}, "set").(*mockSet), 0
		}
		return st, nil, nil, 0
	}
	if m.nilHandle["acquire_cred"] {
		return Status{}, nil, m.track(&mockSet{}, "set").(*mockSet), 0
	}

	c := &mockCred{}
	if name != nil {
		c.name = name.(*mockName)
	}

	if lifetime == 0 {
		lifetime = 3600
	}

	var set OidSetHandle
	if !m.noGrantSet {
		granted := []Oid{m.oid}
		if mechs != nil {
			granted = mechs
		}
		set = m.track(&mockSet{oids: granted}, "set").(*mockSet)
	}

	return Status{}, m.track(c, "cred"), set, lifetime
}

func (m *mockMech) InquireCred(cred CredHandle) (Status, NameHandle, uint32, CredUsage, OidSetHandle) {
	if st, ok := m.record("inquire_cred"); ok {
		return st, nil, 0, 0, nil
	}
	if m.nilHandle["inquire_cred"] {
		return Status{}, nil, 0, 0, m.track(&mockSet{}, "set").(*mockSet)
	}

	set := m.track(&mockSet{oids: []Oid{m.oid, m.oid}}, "set").(*mockSet)
	return Status{}, m.newName("default@EXAMPLE", GSS_KRB5_NT_PRINCIPAL_NAME.Oid()), 7200, m.inquireUse, set
}

func (m *mockMech) ReleaseCred(cred CredHandle) Status {
	m.record("release_cred")
	return m.untrack(cred)
}

func (m *mockMech) ReleaseOidSet(set OidSetHandle) Status {
	m.record("release_oid_set")
	return m.untrack(set)
}

func (m *mockMech) DeleteSecContext(ctx ContextHandle) Status {
	m.record("delete_sec_context")
	return m.untrack(ctx)
}

func (m *mockMech) InitSecContext(ctx ContextHandle, req InitRequest) (Status, InitResult) {
	if st, ok := m.record("init_sec_context"); ok {
		res := InitResult{Context: ctx, OutputToken: []byte("garbage")}
		if ctx == nil && m.leakOnFail {
			res.Context = m.track(&mockCtx{}, "ctx")
		}
		return st, res
	}
	if m.nilHandle["init_sec_context"] {
		return Status{}, InitResult{}
	}

	if ctx == nil {
		ctx = m.track(&mockCtx{}, "ctx")
	}
	c := ctx.(*mockCtx)
	c.round++

	res := InitResult{
		Context:     c,
		OutputToken: []byte(fmt.Sprintf("init-%d", c.round)),
	}

	if c.round < m.rounds {
		return Status{Major: GSS_S_CONTINUE_NEEDED}, res
	}

	res.Mech = m.oid
	res.Flags = req.Flags | ContextFlagInteg | ContextFlagConf
	res.Lifetime = 600
	return Status{}, res
}

func (m *mockMech) AcceptSecContext(ctx ContextHandle, req AcceptRequest) (Status, AcceptResult) {
	if st, ok := m.record("accept_sec_context"); ok {
		res := AcceptResult{Context: ctx}
		if ctx == nil && m.leakOnFail {
			res.Context = m.track(&mockCtx{}, "ctx")
			res.SourceName = m.newName("partial", nil)
		}
		return st, res
	}

	if ctx == nil {
		ctx = m.track(&mockCtx{}, "ctx")
	}
	c := ctx.(*mockCtx)
	c.round++

	res := AcceptResult{
		Context:     c,
		OutputToken: []byte(fmt.Sprintf("accept-%d", c.round)),
	}

	if c.round < m.rounds {
		return Status{Major: GSS_S_CONTINUE_NEEDED}, res
	}

	res.Mech = m.oid
	res.Flags = ContextFlagInteg | ContextFlagConf
	res.SourceName = m.newName(m.acceptorSrc, GSS_KRB5_NT_PRINCIPAL_NAME.Oid())
	return Status{}, res
}

func (m *mockMech) GetMIC(ctx ContextHandle, qop QoP, msg []byte) (Status, []byte) {
	if st, ok := m.record("get_mic"); ok {
		return st, nil
	}

	return Status{}, []byte(fmt.Sprintf("mic(%d):%s", qop, msg))
}

func (m *mockMech) VerifyMIC(ctx ContextHandle, msg, token []byte) (Status, QoP) {
	if st, ok := m.record("verify_mic"); ok {
		return st, 0
	}

	var qop QoP
	var body string
	if _, err := fmt.Sscanf(string(token), "mic(%d):", &qop); err != nil {
		return Status{Major: GSS_S_DEFECTIVE_TOKEN}, 0
	}
	_, body, _ = strings.Cut(string(token), ":")
	if body != string(msg) {
		return Status{Major: GSS_S_BAD_MIC, Minor: 42}, 0
	}

	return Status{}, qop
}

func (m *mockMech) Wrap(ctx ContextHandle, conf bool, qop QoP, msg []byte) (Status, bool, []byte) {
	if st, ok := m.record("wrap"); ok {
		return st, false, nil
	}

	if m.grantConf != nil {
		conf = *m.grantConf
	}

	return Status{}, conf, []byte(fmt.Sprintf("wrap(%d,%t):%s", qop, conf, msg))
}

func (m *mockMech) Unwrap(ctx ContextHandle, token []byte) (Status, []byte, bool, QoP) {
	if st, ok := m.record("unwrap"); ok {
		return st, nil, false, 0
	}

	var qop QoP
	var conf bool
	if _, err := fmt.Sscanf(string(token), "wrap(%d,%t):", &qop, &conf); err != nil {
		return Status{Major: GSS_S_DEFECTIVE_TOKEN}, nil, false, 0
	}
	_, body, _ := strings.Cut(string(token), ":")

	return Status{}, []byte(body), conf, qop
}

// DescribeMinor lets tests check minor code decoding.
func (m *mockMech) DescribeMinor(minor uint32) []error {
	return []error{fmt.Errorf("mock minor code %d", minor)}
}
