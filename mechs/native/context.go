// SPDX-License-Identifier: Apache-2.0

//go:build gssapi_native

package native

/*
#include <gssapi.h>
#include <stdlib.h>
#include <string.h>

gss_OID_desc go_oid(void *elms, OM_uint32 len);
gss_buffer_desc go_buffer(void *value, size_t len);

typedef struct {
	int present;
	OM_uint32 initAddrType;
	void *initAddr;
	size_t initAddrLen;
	OM_uint32 accAddrType;
	void *accAddr;
	size_t accAddrLen;
	void *data;
	size_t dataLen;
} go_bindings;

static void fill_bindings(struct gss_channel_bindings_struct *cb, go_bindings *b) {
	memset(cb, 0, sizeof(*cb));
	cb->initiator_addrtype = b->initAddrType;
	cb->initiator_address = go_buffer(b->initAddr, b->initAddrLen);
	cb->acceptor_addrtype = b->accAddrType;
	cb->acceptor_address = go_buffer(b->accAddr, b->accAddrLen);
	cb->application_data = go_buffer(b->data, b->dataLen);
}

static OM_uint32 go_init_sec_context(OM_uint32 *minor, gss_cred_id_t cred, gss_ctx_id_t *ctx, gss_name_t target,
		void *mech, OM_uint32 mechLen, OM_uint32 flags, OM_uint32 lifetime, go_bindings *b,
		void *in, size_t inLen, gss_OID *actualMech, gss_buffer_t out, OM_uint32 *retFlags, OM_uint32 *timeRec) {
	gss_OID_desc oid = go_oid(mech, mechLen);
	gss_buffer_desc input = go_buffer(in, inLen);
	struct gss_channel_bindings_struct cb;

	if (b->present) {
		fill_bindings(&cb, b);
	}

	return gss_init_sec_context(minor, cred, ctx, target, &oid, flags, lifetime,
		b->present ? &cb : GSS_C_NO_CHANNEL_BINDINGS, &input, actualMech, out, retFlags, timeRec);
}

static OM_uint32 go_accept_sec_context(OM_uint32 *minor, gss_ctx_id_t *ctx, gss_cred_id_t cred, void *in, size_t inLen,
		go_bindings *b, gss_name_t *srcName, gss_OID *mech, gss_buffer_t out, OM_uint32 *retFlags, OM_uint32 *timeRec) {
	gss_buffer_desc input = go_buffer(in, inLen);
	struct gss_channel_bindings_struct cb;

	if (b->present) {
		fill_bindings(&cb, b);
	}

	return gss_accept_sec_context(minor, ctx, cred, &input, b->present ? &cb : GSS_C_NO_CHANNEL_BINDINGS,
		srcName, mech, out, retFlags, timeRec, NULL);
}
*/
import "C"

import (
	"net"

	"github.com/golang-auth/go-gssctx"
)

// RFC 2744 § 3.11 address families.
const (
	afUnspec = 0
	afInet   = 2
	afInet6  = 24
)

type secContext struct {
	c C.gss_ctx_id_t
}

func (m *Mech) contextFor(h gssctx.ContextHandle) (*secContext, bool) {
	c, ok := h.(*secContext)
	return c, ok && c != nil && c.c != nil
}

func addrBytes(addr net.Addr) (uint32, []byte) {
	var ip net.IP
	switch a := addr.(type) {
	case *net.IPAddr:
		ip = a.IP
	case *net.TCPAddr:
		ip = a.IP
	case *net.UDPAddr:
		ip = a.IP
	}

	if ip4 := ip.To4(); ip4 != nil {
		return afInet, ip4
	}
	if len(ip) == net.IPv6len {
		return afInet6, ip
	}

	return afUnspec, nil
}

// bindings converts cb for the C wrappers.  The data is copied to C memory which must be
// released with freeBindings.
func bindings(cb *gssctx.ChannelBinding) *C.go_bindings {
	b := &C.go_bindings{}
	if cb == nil {
		return b
	}

	b.present = 1

	t, a := addrBytes(cb.InitiatorAddr)
	b.initAddrType = C.OM_uint32(t)
	b.initAddrLen = C.size_t(len(a))
	if len(a) > 0 {
		b.initAddr = C.CBytes(a)
	}

	t, a = addrBytes(cb.AcceptorAddr)
	b.accAddrType = C.OM_uint32(t)
	b.accAddrLen = C.size_t(len(a))
	if len(a) > 0 {
		b.accAddr = C.CBytes(a)
	}

	b.dataLen = C.size_t(len(cb.Data))
	if len(cb.Data) > 0 {
		b.data = C.CBytes(cb.Data)
	}

	return b
}

func freeBindings(b *C.go_bindings) {
	C.free(b.initAddr)
	C.free(b.accAddr)
	C.free(b.data)
}

// InitSecContext implements gssctx.Mechanism.
func (m *Mech) InitSecContext(h gssctx.ContextHandle, req gssctx.InitRequest) (gssctx.Status, gssctx.InitResult) {
	c := &secContext{}
	if h != nil {
		var ok bool
		if c, ok = m.contextFor(h); !ok {
			return failure(gssctx.GSS_S_NO_CONTEXT), gssctx.InitResult{}
		}
	}

	credID, ok := m.credFor(req.Cred)
	if !ok {
		return failure(gssctx.GSS_S_NO_CRED), gssctx.InitResult{}
	}

	target, ok := m.nameFor(req.Target)
	if !ok {
		return failure(gssctx.GSS_S_BAD_NAME), gssctx.InitResult{}
	}

	mech := req.Mech
	if len(mech) == 0 {
		mech = m.oid
	}

	b := bindings(req.Bindings)
	defer freeBindings(b)

	var minor, retFlags, timeRec C.OM_uint32
	var actualMech C.gss_OID // static GSSAPI data
	var out C.gss_buffer_desc
	major := C.go_init_sec_context(&minor, credID, &c.c, target.c, ptr(mech), C.OM_uint32(len(mech)),
		C.OM_uint32(req.Flags), C.OM_uint32(req.Lifetime), b,
		ptr(req.InputToken), C.size_t(len(req.InputToken)), &actualMech, &out, &retFlags, &timeRec)

	res := gssctx.InitResult{
		OutputToken: goBytes(&out),
		Mech:        oidFromC(actualMech),
		Flags:       gssctx.ContextFlag(retFlags),
		Lifetime:    uint32(timeRec),
	}
	if c.c != nil {
		res.Context = c
	}

	return status(major, minor), res
}

// AcceptSecContext implements gssctx.Mechanism.
func (m *Mech) AcceptSecContext(h gssctx.ContextHandle, req gssctx.AcceptRequest) (gssctx.Status, gssctx.AcceptResult) {
	c := &secContext{}
	if h != nil {
		var ok bool
		if c, ok = m.contextFor(h); !ok {
			return failure(gssctx.GSS_S_NO_CONTEXT), gssctx.AcceptResult{}
		}
	}

	credID, ok := m.credFor(req.Cred)
	if !ok {
		return failure(gssctx.GSS_S_NO_CRED), gssctx.AcceptResult{}
	}

	b := bindings(req.Bindings)
	defer freeBindings(b)

	var minor, retFlags, timeRec C.OM_uint32
	var srcName C.gss_name_t // allocated by GSSAPI;  owned by the caller on success
	var mech C.gss_OID       // static GSSAPI data
	var out C.gss_buffer_desc
	major := C.go_accept_sec_context(&minor, &c.c, credID, ptr(req.InputToken), C.size_t(len(req.InputToken)), b,
		&srcName, &mech, &out, &retFlags, &timeRec)

	res := gssctx.AcceptResult{
		OutputToken: goBytes(&out),
		Mech:        oidFromC(mech),
		Flags:       gssctx.ContextFlag(retFlags),
		Lifetime:    uint32(timeRec),
	}
	if c.c != nil {
		res.Context = c
	}

	st := status(major, minor)
	if srcName != nil {
		if st.Major == gssctx.GSS_S_COMPLETE {
			res.SourceName = &name{c: srcName}
		} else {
			var lMinor C.OM_uint32
			C.gss_release_name(&lMinor, &srcName)
		}
	}

	return st, res
}

// DeleteSecContext implements gssctx.Mechanism.
func (m *Mech) DeleteSecContext(h gssctx.ContextHandle) gssctx.Status {
	c, ok := m.contextFor(h)
	if !ok {
		return failure(gssctx.GSS_S_NO_CONTEXT)
	}

	var minor C.OM_uint32
	major := C.gss_delete_sec_context(&minor, &c.c, C.GSS_C_NO_BUFFER)
	c.c = nil

	return status(major, minor)
}
