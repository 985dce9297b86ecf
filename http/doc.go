// SPDX-License-Identifier: Apache-2.0

/*
Package http provides Negotiate (RFC 4559) authentication for HTTP clients and servers
using gssctx security contexts.

	import (
		"net/http"

		"github.com/golang-auth/go-gssctx"
		ghttp "github.com/golang-auth/go-gssctx/http"
		_ "github.com/golang-auth/go-gssctx/mechs/krb5"
	)

	mech, err := gssctx.NewMechanism("kerberos_v5")
	...

# Clients and transports

NewClient returns an [http.Client] that authenticates when the server asks for it:

	client, err := ghttp.NewClient(mech, nil, ghttp.WithInitiatorMutual())
	...
	resp, err := client.Get("https://www.example.com/")

The [Transport] wraps another [http.RoundTripper], [http.DefaultTransport] unless
[WithInitiatorRoundTripper] says otherwise.  It creates one context per request and
feeds the tokens from WWW-Authenticate challenges to it until the context is established
or the server stops challenging.

# Request bodies

A request that is challenged is sent again, so its body must be sent twice.  Bodies with
GetBody (those created from a bytes.Buffer, bytes.Reader or strings.Reader) are rewound
automatically.

For large or non-rewindable bodies the transport can add Expect: 100-continue so that the
server rejects the first attempt before the body is sent.  This is disabled by default
because some servers handle it badly;  [WithInitiatorExpect100Threshold] enables it for
bodies above a size, and for all non-rewindable bodies.  The header is never added to
opportunistic requests, whose first attempt is expected to succeed.

The Go [net/http] server closes the connection after rejecting a request that asked for
100-continue, so the retry uses a new connection.

# Opportunistic authentication

With [WithInitiatorOpportunistic] the first request already carries a token (RFC 4559
§ 4.2).  This saves a round trip but creates a context, and exposes the client's
identity, even for URLs that do not need authentication.

# Channel bindings

Both sides can bind the context to the TLS channel:  tls-exporter bindings (RFC 9266) on
TLS 1.3 and tls-server-end-point bindings (RFC 5929) on earlier versions.  The client needs
the TLS state of a first response before it can compute the bindings, so opportunistic
authentication is not used on https URLs while bindings are enabled.  The first response
body is drained so that the token is sent on the same connection, which tls-exporter
bindings depend on.

Below TLS 1.3 the server needs its certificate, which comes from [WithAcceptorCertificate] or from the
[http.Server] TLS configuration.  A configuration that selects certificates with
GetCertificate needs the connection, which [ServerWithStashConn] makes available:

	h, err := ghttp.NewHandler(mech, next,
		ghttp.WithAcceptorChannelBindingDisposition(ghttp.ChannelBindingDispositionRequire))
	...
	srv := ghttp.ServerWithStashConn(&http.Server{Addr: ":8443", Handler: h, TLSConfig: cfg})
	log.Fatal(srv.ListenAndServeTLS("", ""))

# Servers

[Handler] authenticates each request on its own and passes the initiator to the next
handler in the request context, see [GetInitiatorName].  Mechanisms that need more than
one round trip are not supported.

	http.Handle("/private/", h)
	log.Fatal(http.ListenAndServe(":8080", nil))
*/
package http
