// SPDX-License-Identifier: Apache-2.0

//go:build gssapi_native

package native

/*
#include <gssapi.h>

gss_buffer_desc go_buffer(void *value, size_t len);

static OM_uint32 go_get_mic(OM_uint32 *minor, gss_ctx_id_t ctx, gss_qop_t qop, void *msg, size_t msgLen, gss_buffer_t out) {
	gss_buffer_desc m = go_buffer(msg, msgLen);
	return gss_get_mic(minor, ctx, qop, &m, out);
}

static OM_uint32 go_verify_mic(OM_uint32 *minor, gss_ctx_id_t ctx, void *msg, size_t msgLen, void *tok, size_t tokLen,
		gss_qop_t *qop) {
	gss_buffer_desc m = go_buffer(msg, msgLen);
	gss_buffer_desc t = go_buffer(tok, tokLen);
	return gss_verify_mic(minor, ctx, &m, &t, qop);
}

static OM_uint32 go_wrap(OM_uint32 *minor, gss_ctx_id_t ctx, int conf, gss_qop_t qop, void *msg, size_t msgLen,
		int *confState, gss_buffer_t out) {
	gss_buffer_desc m = go_buffer(msg, msgLen);
	return gss_wrap(minor, ctx, conf, qop, &m, confState, out);
}

static OM_uint32 go_unwrap(OM_uint32 *minor, gss_ctx_id_t ctx, void *tok, size_t tokLen, gss_buffer_t out,
		int *confState, gss_qop_t *qop) {
	gss_buffer_desc t = go_buffer(tok, tokLen);
	return gss_unwrap(minor, ctx, &t, out, confState, qop);
}
*/
import "C"

import (
	"github.com/golang-auth/go-gssctx"
)

// GetMIC implements gssctx.Mechanism.
func (m *Mech) GetMIC(h gssctx.ContextHandle, qop gssctx.QoP, msg []byte) (gssctx.Status, []byte) {
	c, ok := m.contextFor(h)
	if !ok {
		return failure(gssctx.GSS_S_NO_CONTEXT), nil
	}

	var minor C.OM_uint32
	var out C.gss_buffer_desc // allocated by GSSAPI;  released by goBytes
	major := C.go_get_mic(&minor, c.c, C.gss_qop_t(qop), ptr(msg), C.size_t(len(msg)), &out)
	tok := goBytes(&out)

	return status(major, minor), tok
}

// VerifyMIC implements gssctx.Mechanism.
func (m *Mech) VerifyMIC(h gssctx.ContextHandle, msg, token []byte) (gssctx.Status, gssctx.QoP) {
	c, ok := m.contextFor(h)
	if !ok {
		return failure(gssctx.GSS_S_NO_CONTEXT), 0
	}

	var minor C.OM_uint32
	var qop C.gss_qop_t
	major := C.go_verify_mic(&minor, c.c, ptr(msg), C.size_t(len(msg)), ptr(token), C.size_t(len(token)), &qop)

	return status(major, minor), gssctx.QoP(qop)
}

// Wrap implements gssctx.Mechanism.
func (m *Mech) Wrap(h gssctx.ContextHandle, conf bool, qop gssctx.QoP, msg []byte) (gssctx.Status, bool, []byte) {
	c, ok := m.contextFor(h)
	if !ok {
		return failure(gssctx.GSS_S_NO_CONTEXT), false, nil
	}

	var cConf, confState C.int
	if conf {
		cConf = 1
	}

	var minor C.OM_uint32
	var out C.gss_buffer_desc // allocated by GSSAPI;  released by goBytes
	major := C.go_wrap(&minor, c.c, cConf, C.gss_qop_t(qop), ptr(msg), C.size_t(len(msg)), &confState, &out)
	tok := goBytes(&out)

	return status(major, minor), confState != 0, tok
}

// Unwrap implements gssctx.Mechanism.
func (m *Mech) Unwrap(h gssctx.ContextHandle, token []byte) (gssctx.Status, []byte, bool, gssctx.QoP) {
	c, ok := m.contextFor(h)
	if !ok {
		return failure(gssctx.GSS_S_NO_CONTEXT), nil, false, 0
	}

	var minor C.OM_uint32
	var confState C.int
	var qop C.gss_qop_t
	var out C.gss_buffer_desc // allocated by GSSAPI;  released by goBytes
	major := C.go_unwrap(&minor, c.c, ptr(token), C.size_t(len(token)), &out, &confState, &qop)
	msg := goBytes(&out)

	return status(major, minor), msg, confState != 0, gssctx.QoP(qop)
}
