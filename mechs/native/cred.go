// SPDX-License-Identifier: Apache-2.0

//go:build gssapi_native

package native

/*
#include <gssapi.h>

gss_OID_desc go_oid(void *elms, OM_uint32 len);

static OM_uint32 go_acquire_cred(OM_uint32 *minor, gss_name_t name, OM_uint32 lifetime, void *mech, OM_uint32 mechLen,
		gss_cred_usage_t usage, gss_cred_id_t *out, gss_OID_set *actual, OM_uint32 *timeRec) {
	gss_OID_desc oid = go_oid(mech, mechLen);
	gss_OID_set_desc set = {1, &oid};

	return gss_acquire_cred(minor, name, lifetime, mechLen > 0 ? &set : GSS_C_NO_OID_SET, usage, out, actual, timeRec);
}
*/
import "C"

import (
	"github.com/golang-auth/go-gssctx"
)

type cred struct {
	c C.gss_cred_id_t
}

func (m *Mech) credFor(h gssctx.CredHandle) (C.gss_cred_id_t, bool) {
	if h == nil {
		return C.GSS_C_NO_CREDENTIAL, true
	}

	c, ok := h.(*cred)
	if !ok || c == nil || c.c == nil {
		return nil, false
	}

	return c.c, true
}

// AcquireCred implements gssctx.Mechanism.  The library is asked for this mechanism
// only;  a request for any other set fails with GSS_S_BAD_MECH.
func (m *Mech) AcquireCred(h gssctx.NameHandle, lifetime uint32, mechs []gssctx.Oid, usage gssctx.CredUsage) (gssctx.Status, gssctx.CredHandle, gssctx.OidSetHandle, uint32) {
	for _, mech := range mechs {
		if !mech.Equal(m.oid) {
			return failure(gssctx.GSS_S_BAD_MECH), nil, nil, 0
		}
	}

	var cName C.gss_name_t = C.GSS_C_NO_NAME
	if h != nil {
		n, ok := m.nameFor(h)
		if !ok {
			return failure(gssctx.GSS_S_BAD_NAME), nil, nil, 0
		}
		cName = n.c
	}

	var minor, timeRec C.OM_uint32
	var out C.gss_cred_id_t  // allocated by GSSAPI;  released by ReleaseCred
	var actual C.gss_OID_set // allocated by GSSAPI;  released by oidSetFromC
	major := C.go_acquire_cred(&minor, cName, C.OM_uint32(lifetime), ptr(m.oid), C.OM_uint32(len(m.oid)),
		C.gss_cred_usage_t(usage), &out, &actual, &timeRec)
	if major != 0 {
		return status(major, minor), nil, nil, 0
	}

	return gssctx.Status{}, &cred{c: out}, oidSetFromC(&actual), uint32(timeRec)
}

// InquireCred implements gssctx.Mechanism.
func (m *Mech) InquireCred(h gssctx.CredHandle) (gssctx.Status, gssctx.NameHandle, uint32, gssctx.CredUsage, gssctx.OidSetHandle) {
	c, ok := m.credFor(h)
	if !ok {
		return failure(gssctx.GSS_S_NO_CRED), nil, 0, 0, nil
	}

	var minor, lifetime C.OM_uint32
	var cName C.gss_name_t // allocated by GSSAPI;  released by ReleaseName
	var usage C.gss_cred_usage_t
	var mechs C.gss_OID_set // allocated by GSSAPI;  released by oidSetFromC
	major := C.gss_inquire_cred(&minor, c, &cName, &lifetime, &usage, &mechs)
	if major != 0 {
		return status(major, minor), nil, 0, 0, nil
	}

	return gssctx.Status{}, &name{c: cName}, uint32(lifetime), gssctx.CredUsage(usage), oidSetFromC(&mechs)
}

// ReleaseCred implements gssctx.Mechanism.
func (m *Mech) ReleaseCred(h gssctx.CredHandle) gssctx.Status {
	c, ok := h.(*cred)
	if !ok || c == nil || c.c == nil {
		return failure(gssctx.GSS_S_NO_CRED)
	}

	var minor C.OM_uint32
	major := C.gss_release_cred(&minor, &c.c)
	c.c = nil

	return status(major, minor)
}
