// SPDX-License-Identifier: Apache-2.0

//go:build gssapi_native

package native

/*
#include <gssapi.h>

gss_OID_desc go_oid(void *elms, OM_uint32 len);
gss_buffer_desc go_buffer(void *value, size_t len);

static OM_uint32 go_import_name(OM_uint32 *minor, void *name, size_t nameLen, void *nameType, OM_uint32 nameTypeLen,
		gss_name_t *out) {
	gss_buffer_desc buf = go_buffer(name, nameLen);
	gss_OID_desc oid = go_oid(nameType, nameTypeLen);

	return gss_import_name(minor, &buf, nameTypeLen > 0 ? &oid : GSS_C_NO_OID, out);
}
*/
import "C"

import (
	"github.com/golang-auth/go-gssctx"
)

type name struct {
	c C.gss_name_t
}

func (m *Mech) nameFor(h gssctx.NameHandle) (*name, bool) {
	n, ok := h.(*name)
	return n, ok && n != nil && n.c != nil
}

// ImportName implements gssctx.Mechanism.
func (m *Mech) ImportName(raw []byte, nameType gssctx.Oid) (gssctx.Status, gssctx.NameHandle) {
	var minor C.OM_uint32
	var out C.gss_name_t // allocated by GSSAPI;  released by ReleaseName
	major := C.go_import_name(&minor, ptr(raw), C.size_t(len(raw)), ptr(nameType), C.OM_uint32(len(nameType)), &out)
	if major != 0 {
		return status(major, minor), nil
	}

	return gssctx.Status{}, &name{c: out}
}

// DisplayName implements gssctx.Mechanism.
func (m *Mech) DisplayName(h gssctx.NameHandle) (gssctx.Status, []byte, gssctx.Oid) {
	n, ok := m.nameFor(h)
	if !ok {
		return failure(gssctx.GSS_S_BAD_NAME), nil, nil
	}

	var minor C.OM_uint32
	var out C.gss_buffer_desc // allocated by GSSAPI;  released by goBytes
	var nameType C.gss_OID    // static GSSAPI data
	major := C.gss_display_name(&minor, n.c, &out, &nameType)
	if major != 0 {
		return status(major, minor), nil, nil
	}

	return gssctx.Status{}, goBytes(&out), oidFromC(nameType)
}

// ReleaseName implements gssctx.Mechanism.
func (m *Mech) ReleaseName(h gssctx.NameHandle) gssctx.Status {
	n, ok := m.nameFor(h)
	if !ok {
		return failure(gssctx.GSS_S_BAD_NAME)
	}

	var minor C.OM_uint32
	major := C.gss_release_name(&minor, &n.c)
	n.c = nil

	return status(major, minor)
}

// DuplicateName implements gssctx.Mechanism.
func (m *Mech) DuplicateName(h gssctx.NameHandle) (gssctx.Status, gssctx.NameHandle) {
	n, ok := m.nameFor(h)
	if !ok {
		return failure(gssctx.GSS_S_BAD_NAME), nil
	}

	var minor C.OM_uint32
	var out C.gss_name_t // allocated by GSSAPI;  released by ReleaseName
	major := C.gss_duplicate_name(&minor, n.c, &out)
	if major != 0 {
		return status(major, minor), nil
	}

	return gssctx.Status{}, &name{c: out}
}
