// SPDX-License-Identifier: Apache-2.0

// Package native binds the system GSS-API library (MIT Kerberos or Heimdal, linked as
// -lgssapi_krb5) as a gssctx.Mechanism.  It needs cgo and is only built with the
// gssapi_native build tag:
//
//	go build -tags gssapi_native ./...
//
// The package registers itself as "native".  Credentials, names and contexts live in
// the C library, which reads its configuration from the usual places (KRB5_CONFIG,
// KRB5CCNAME, KRB5_KTNAME):
//
//	import _ "github.com/golang-auth/go-gssctx/mechs/native"
//
//	mech := gssctx.MustNewMechanism("native")
package native
