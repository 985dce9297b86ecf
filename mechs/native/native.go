// SPDX-License-Identifier: Apache-2.0

//go:build gssapi_native

package native

/*
#cgo LDFLAGS: -lgssapi_krb5
#include <gssapi.h>

gss_OID_desc go_oid(void *elms, OM_uint32 len) {
	gss_OID_desc oid = {len, elms};
	return oid;
}

gss_buffer_desc go_buffer(void *value, size_t len) {
	gss_buffer_desc buf = {len, value};
	return buf;
}

static OM_uint32 go_display_status(OM_uint32 *minor, OM_uint32 status, void *mech, OM_uint32 mechLen,
		OM_uint32 *msgCtx, gss_buffer_t out) {
	gss_OID_desc oid = go_oid(mech, mechLen);
	return gss_display_status(minor, status, GSS_C_MECH_CODE, &oid, msgCtx, out);
}
*/
import "C"

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/golang-auth/go-gssctx"
)

// Name is the registry name.
const Name = "native"

func init() {
	gssctx.RegisterMechanism(Name, func() (gssctx.Mechanism, error) {
		return New(), nil
	})
}

// Mech is the system GSS-API library restricted to one mechanism.
type Mech struct {
	oid gssctx.Oid
}

var _ gssctx.Mechanism = (*Mech)(nil)
var _ gssctx.MinorStatusDescriber = (*Mech)(nil)

// Option configures a Mech.
type Option func(m *Mech)

// WithMech selects the mechanism the library should use.  The default is Kerberos V.
func WithMech(oid gssctx.Oid) Option {
	return func(m *Mech) {
		m.oid = oid.Clone()
	}
}

// New returns a mechanism backed by the system library.
func New(opts ...Option) *Mech {
	m := &Mech{oid: gssctx.GSS_MECH_KRB5.Oid()}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Oid implements gssctx.Mechanism.
func (m *Mech) Oid() gssctx.Oid {
	return m.oid
}

func status(major, minor C.OM_uint32) gssctx.Status {
	return gssctx.Status{Major: uint32(major), Minor: uint32(minor)}
}

func failure(major uint32) gssctx.Status {
	return gssctx.Status{Major: major}
}

// ptr returns a pointer to the first element of b, or nil.  The memory must not be
// retained by C beyond the call.
func ptr(b []byte) unsafe.Pointer {
	if len(b) == 0 {
		return nil
	}

	return unsafe.Pointer(&b[0])
}

// goBytes copies a library allocated buffer and releases it.
func goBytes(buf *C.gss_buffer_desc) []byte {
	if buf.length == 0 {
		var minor C.OM_uint32
		C.gss_release_buffer(&minor, buf)
		return nil
	}

	ret := C.GoBytes(buf.value, C.int(buf.length))

	var minor C.OM_uint32
	C.gss_release_buffer(&minor, buf)

	return ret
}

// oidFromC copies an OID owned by the library;  these are static and never released.
func oidFromC(oid C.gss_OID) gssctx.Oid {
	if oid == nil || oid.length == 0 {
		return nil
	}

	return gssctx.Oid(C.GoBytes(oid.elements, C.int(oid.length)))
}

// oidSet is a Go copy of a library OID set.
type oidSet struct {
	oids []gssctx.Oid
}

func (s *oidSet) Oids() []gssctx.Oid {
	return s.oids
}

// oidSetFromC copies set and releases it.
func oidSetFromC(set *C.gss_OID_set) *oidSet {
	ret := &oidSet{}
	if *set == nil {
		return ret
	}

	elms := unsafe.Slice((*set).elements, (*set).count)
	for _, oid := range elms {
		ret.oids = append(ret.oids, gssctx.Oid(C.GoBytes(oid.elements, C.int(oid.length))))
	}

	var minor C.OM_uint32
	C.gss_release_oid_set(&minor, set)

	return ret
}

// ReleaseOidSet implements gssctx.Mechanism.  Sets are copied out of the library as
// soon as they are returned, so there is nothing to free.
func (m *Mech) ReleaseOidSet(gssctx.OidSetHandle) gssctx.Status {
	return gssctx.Status{}
}

// DescribeMinor implements gssctx.MinorStatusDescriber using gss_display_status.
func (m *Mech) DescribeMinor(minor uint32) []error {
	var ret []error
	var msgCtx C.OM_uint32

	for {
		var lMinor C.OM_uint32
		var out C.gss_buffer_desc // allocated by GSSAPI;  released by goBytes
		major := C.go_display_status(&lMinor, C.OM_uint32(minor), ptr(m.oid), C.OM_uint32(len(m.oid)), &msgCtx, &out)
		if major != 0 {
			// not makeStatus: that could loop back here
			ret = append(ret, fmt.Errorf("got GSS error %d/%d while finding string for minor code %d", major, lMinor, minor))
			break
		}

		if s := goBytes(&out); len(s) > 0 {
			ret = append(ret, errors.New(string(s)))
		}

		if msgCtx == 0 {
			break
		}
	}

	return ret
}
