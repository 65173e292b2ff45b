// Copyright 2025 The DriftDB Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package client

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// generateTestTLSConfig creates an ephemeral self-signed certificate for
// loopback tests. Returns the server-side TLS config and a cert pool the
// client verifies against.
func generateTestTLSConfig(t *testing.T) (*tls.Config, *x509.CertPool) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName: "localhost",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(1 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
		DNSNames:              []string{"localhost"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(certDER)
	require.NoError(t, err)

	serverConfig := &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{certDER},
			PrivateKey:  key,
		}},
		MinVersion: tls.VersionTLS12,
	}

	pool := x509.NewCertPool()
	pool.AddCert(cert)

	return serverConfig, pool
}

// TestHandshakeOverTLS runs the full authentication exchange over a TLS
// connection. The magic preamble and everything after it travel inside the
// TLS session.
func TestHandshakeOverTLS(t *testing.T) {
	serverConfig, pool := generateTestTLSConfig(t)

	cfg := defaultStubConfig()
	cfg.tlsConfig = serverConfig
	s := startStub(t, cfg)

	config := s.clientConfig()
	config.TLSConfig = &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	}

	c, err := Dial(testContext(t), config)
	require.NoError(t, err)
	defer c.Close()

	assert.True(t, c.tlsWrapped)

	require.NoError(t, c.Handshake(testContext(t)))
	assert.True(t, c.Authenticated())
	assert.Equal(t, "driftdb 2.5.0", c.ServerVersion())
	assert.Empty(t, c.Leftover())
}

// TestDialTLSPeerClosedDuringHandshake distinguishes a server that drops the
// connection mid-TLS-handshake from other dial failures.
func TestDialTLSPeerClosedDuringHandshake(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_ = conn.Close()
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		wg.Wait()
	})

	addr := ln.Addr().(*net.TCPAddr)
	_, err = Dial(testContext(t), &Config{
		Host:        "127.0.0.1",
		Port:        addr.Port,
		DialTimeout: 5 * time.Second,
		TLSConfig: &tls.Config{
			InsecureSkipVerify: true,
			MinVersion:         tls.VersionTLS12,
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server closed connection during TLS handshake")
}

// TestCloseTLSWrappedConn closes an authenticated TLS connection. The TLS
// layer owns the shutdown; no TCP-level half-close happens first.
func TestCloseTLSWrappedConn(t *testing.T) {
	serverConfig, pool := generateTestTLSConfig(t)

	cfg := defaultStubConfig()
	cfg.tlsConfig = serverConfig
	s := startStub(t, cfg)

	config := s.clientConfig()
	config.TLSConfig = &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	}

	c, err := Connect(testContext(t), config)
	require.NoError(t, err)
	require.True(t, c.tlsWrapped)

	require.NoError(t, c.Close())
	assert.True(t, c.IsClosed())
	assert.NoError(t, c.Close())
}
