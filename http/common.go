// SPDX-License-Identifier: Apache-2.0

package http

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"

	cb "github.com/golang-auth/go-channelbinding"

	"github.com/golang-auth/go-gssctx"
)

// ChannelBindingDisposition controls the use of TLS channel bindings with the Negotiate
// exchange.
type ChannelBindingDisposition int

const (
	// ChannelBindingDispositionIgnore never supplies channel bindings.
	ChannelBindingDispositionIgnore ChannelBindingDisposition = iota
	// ChannelBindingDispositionIfAvailable supplies bindings on TLS connections.
	ChannelBindingDispositionIfAvailable
	// ChannelBindingDispositionRequire fails the exchange unless the context is bound to
	// the TLS channel.
	ChannelBindingDispositionRequire
)

func (d ChannelBindingDisposition) String() string {
	switch d {
	case ChannelBindingDispositionIgnore:
		return "ignore"
	case ChannelBindingDispositionIfAvailable:
		return "if-available"
	case ChannelBindingDispositionRequire:
		return "require"
	}

	return fmt.Sprintf("ChannelBindingDisposition(%d)", int(d))
}

var errNoTLS = errors.New("channel binding required but the connection is not using TLS")

// tlsBinding builds channel bindings for a TLS connection:  tls-exporter (RFC 9266) on
// TLS 1.3 and tls-server-end-point (RFC 5929) on earlier versions.  serverCert is only
// used below TLS 1.3;  the client passes nil and the first peer certificate is used.
//
// tls-exporter is specific to the connection, so both peers must derive it from the one
// carrying the Negotiate token.
func tlsBinding(tlsState *tls.ConnectionState, serverCert *x509.Certificate) (*gssctx.ChannelBinding, error) {
	if tlsState == nil {
		return nil, errNoTLS
	}

	var bindingType cb.TLSChannelBindingType = cb.TLSChannelBindingExporter
	if tlsState.Version < tls.VersionTLS13 {
		bindingType = cb.TLSChannelBindingEndpoint
		if serverCert == nil {
			if len(tlsState.PeerCertificates) == 0 {
				return nil, errors.New("no server certificate found in TLS connection state, needed for channel binding")
			}
			serverCert = tlsState.PeerCertificates[0]
		}
	}

	data, err := cb.MakeTLSChannelBinding(*tlsState, serverCert, bindingType)
	if err != nil {
		return nil, fmt.Errorf("channel binding: %w", err)
	}

	return &gssctx.ChannelBinding{Data: data}, nil
}
