// SPDX-License-Identifier: Apache-2.0

package http

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func selfSigned(t *testing.T, cn string) tls.Certificate {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: cert}
}

// handshake connects a TLS client and server over loopback TCP and returns the state
// each side sees
func handshake(t *testing.T, cert tls.Certificate, maxVersion uint16) (client, server tls.ConnectionState) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close() //nolint:errcheck

	type result struct {
		state tls.ConnectionState
		err   error
	}
	done := make(chan result, 1)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			done <- result{err: err}
			return
		}
		srv := tls.Server(conn, &tls.Config{Certificates: []tls.Certificate{cert}, MaxVersion: maxVersion})
		t.Cleanup(func() { _ = srv.Close() })

		err = srv.Handshake()
		done <- result{state: srv.ConnectionState(), err: err}
	}()

	cli, err := tls.Dial("tcp", ln.Addr().String(), &tls.Config{InsecureSkipVerify: true, MaxVersion: maxVersion}) //nolint:gosec
	require.NoError(t, err)
	t.Cleanup(func() { _ = cli.Close() })

	res := <-done
	require.NoError(t, res.err)

	return cli.ConnectionState(), res.state
}

func TestTLSBinding(t *testing.T) {
	cert := selfSigned(t, "server.example.com").Leaf
	noCert := "no server certificate found"

	tests := []struct {
		name    string
		state   *tls.ConnectionState
		cert    *x509.Certificate
		wantErr string
		noTLS   bool
	}{
		{name: "acceptor certificate", state: &tls.ConnectionState{Version: tls.VersionTLS12}, cert: cert},
		{name: "peer certificate", state: &tls.ConnectionState{Version: tls.VersionTLS12, PeerCertificates: []*x509.Certificate{cert}}},
		{name: "no state", noTLS: true},
		{name: "certificate without TLS", cert: cert, noTLS: true},
		{name: "empty peer certificates", state: &tls.ConnectionState{Version: tls.VersionTLS12, PeerCertificates: []*x509.Certificate{}}, wantErr: noCert},
		{name: "nil peer certificates", state: &tls.ConnectionState{Version: tls.VersionTLS12}, wantErr: noCert},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			binding, err := tlsBinding(tt.state, tt.cert)

			switch {
			case tt.noTLS:
				assert.ErrorIs(t, err, errNoTLS)
				assert.Nil(t, binding)
			case tt.wantErr != "":
				assert.ErrorContains(t, err, tt.wantErr)
				assert.Nil(t, binding)
			default:
				require.NoError(t, err)
				assert.Contains(t, string(binding.Data), "tls-server-end-point:")
				assert.Nil(t, binding.InitiatorAddr)
				assert.Nil(t, binding.AcceptorAddr)
			}
		})
	}
}

// both peers must derive the same bindings:  the client from the peer certificate and
// the server from its own
func TestTLSBindingPeersAgree(t *testing.T) {
	cert := selfSigned(t, "server.example.com").Leaf
	other := selfSigned(t, "other.example.com").Leaf

	client, err := tlsBinding(&tls.ConnectionState{Version: tls.VersionTLS12, PeerCertificates: []*x509.Certificate{cert}}, nil)
	require.NoError(t, err)

	server, err := tlsBinding(&tls.ConnectionState{Version: tls.VersionTLS12}, cert)
	require.NoError(t, err)
	assert.Equal(t, client.Data, server.Data)

	// an explicit certificate wins over the peer certificates
	explicit, err := tlsBinding(&tls.ConnectionState{Version: tls.VersionTLS12, PeerCertificates: []*x509.Certificate{cert}}, other)
	require.NoError(t, err)
	assert.NotEqual(t, client.Data, explicit.Data)
}

func TestTLSBindingHandshake(t *testing.T) {
	cert := selfSigned(t, "server.example.com")

	tests := []struct {
		name       string
		maxVersion uint16
		prefix     string
	}{
		{"TLS 1.3", tls.VersionTLS13, "tls-exporter:"},
		{"TLS 1.2", tls.VersionTLS12, "tls-server-end-point:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clientState, serverState := handshake(t, cert, tt.maxVersion)
			require.Equal(t, tt.maxVersion, clientState.Version)

			client, err := tlsBinding(&clientState, nil)
			require.NoError(t, err)
			server, err := tlsBinding(&serverState, cert.Leaf)
			require.NoError(t, err)

			assert.Equal(t, client.Data, server.Data)
			assert.Equal(t, tt.prefix, string(client.Data[:len(tt.prefix)]))
		})
	}

	// exported keying material differs between connections
	first, _ := handshake(t, cert, tls.VersionTLS13)
	second, _ := handshake(t, cert, tls.VersionTLS13)

	b1, err := tlsBinding(&first, nil)
	require.NoError(t, err)
	b2, err := tlsBinding(&second, nil)
	require.NoError(t, err)
	assert.NotEqual(t, b1.Data, b2.Data)
}
