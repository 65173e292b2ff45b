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

// Package client implements connection establishment for DriftDB: the
// transport channel, the NUL-terminated JSON message framing, and the
// SCRAM-SHA-256 handshake that authenticates a freshly dialed socket.
// Query execution and cursor iteration live above this package and consume
// the authenticated connection it produces.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/driftdb/driftdb-go/go/driftprotocol/codec"
	"github.com/driftdb/driftdb-go/go/driftprotocol/keycache"
)

// Config holds the configuration for connecting to a DriftDB server.
type Config struct {
	// Host is the server hostname or IP address.
	Host string

	// Port is the server port number.
	Port int

	// User is the DriftDB user name.
	User string

	// Password is the user's authentication key.
	Password string

	// TLSConfig is the TLS configuration for encrypted connections.
	// If nil, the connection stays plaintext. TLS wraps the socket before
	// any protocol bytes (including the magic preamble) are sent.
	TLSConfig *tls.Config

	// DialTimeout is the timeout for establishing the TCP connection and,
	// when TLS is configured, completing the TLS handshake.
	DialTimeout time.Duration

	// ReadTimeout bounds each read during the handshake. Zero means no
	// deadline.
	ReadTimeout time.Duration

	// WriteTimeout bounds each write during the handshake. Zero means no
	// deadline.
	WriteTimeout time.Duration

	// KeyCache is the PBKDF2 derivation engine shared across connections.
	// If nil, a process-wide default engine is used.
	KeyCache *keycache.Engine

	// Codec encodes and decodes handshake documents. If nil, codec.JSON is
	// used. Query layers sharing a custom codec should set it here so the
	// whole connection speaks one dialect.
	Codec codec.Codec
}

// Conn owns one socket to a DriftDB server. It is created by Dial (or
// NewConn for pre-established sockets), authenticated by Handshake, and is
// not safe for concurrent use without external synchronization.
type Conn struct {
	// conn is the underlying network connection, possibly TLS-wrapped.
	conn net.Conn

	// config is the connection configuration.
	config *Config

	// codec serializes handshake documents.
	codec codec.Codec

	// recvBuf holds bytes read from the socket but not yet consumed as
	// messages. Bytes left after the handshake's final message belong to
	// the next protocol layer.
	recvBuf []byte

	// tlsWrapped records whether conn is a *tls.Conn. A TLS connection gets
	// no explicit write-side shutdown on close; the TLS layer handles
	// close_notify itself.
	tlsWrapped bool

	// hsState tracks the handshake's progress. Once it leaves stateStart the
	// magic preamble has been sent and no further Handshake call is allowed
	// on this connection, successful or not.
	hsState handshakeState

	// serverVersion is reported by the server's greeting.
	serverVersion string

	// closed indicates whether the connection has been closed.
	closed atomic.Bool
}

// Dial establishes a TCP connection to the configured server and, when TLS
// is configured, completes the TLS handshake. The returned connection is not
// yet authenticated; call Handshake next, or use Connect for both steps.
func Dial(ctx context.Context, config *Config) (*Conn, error) {
	dialer := &net.Dialer{
		Timeout: config.DialTimeout,
	}
	address := net.JoinHostPort(config.Host, strconv.Itoa(config.Port))
	netConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	c := NewConn(netConn, config)

	if config.TLSConfig != nil {
		if err := c.wrapTLS(ctx); err != nil {
			_ = netConn.Close()
			c.closed.Store(true)
			return nil, err
		}
	}

	return c, nil
}

// NewConn wraps an already established network connection. It is used by
// connection pools that manage their own sockets, and by tests. The config's
// dial-related fields are ignored; TLS wrapping is the caller's concern.
func NewConn(netConn net.Conn, config *Config) *Conn {
	c := &Conn{
		conn:   netConn,
		config: config,
		codec:  config.Codec,
	}
	if c.codec == nil {
		c.codec = codec.JSON
	}
	if _, ok := netConn.(*tls.Conn); ok {
		c.tlsWrapped = true
	}
	return c
}

// Connect dials the server and runs the authentication handshake. Unlike the
// raw Dial/Handshake pair, it closes the connection on any failure.
func Connect(ctx context.Context, config *Config) (*Conn, error) {
	c, err := Dial(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := c.Handshake(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// wrapTLS upgrades the connection in place, driving the TLS handshake to
// completion before returning. A peer that closes the socket during the TLS
// handshake is reported distinctly from other I/O failures.
func (c *Conn) wrapTLS(ctx context.Context) error {
	if c.config.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.DialTimeout)
		defer cancel()
	}

	tlsConn := tls.Client(c.conn, c.config.TLSConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("server closed connection during TLS handshake: %w", err)
		}
		return fmt.Errorf("TLS handshake failed: %w", err)
	}

	c.conn = tlsConn
	c.tlsWrapped = true
	return nil
}

// send writes the whole buffer, looping on partial writes.
func (c *Conn) send(data []byte) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	if c.config.WriteTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
	}
	for len(data) > 0 {
		n, err := c.conn.Write(data)
		if err != nil {
			return fmt.Errorf("write failed: %w", err)
		}
		data = data[n:]
	}
	return nil
}

// receive reads up to n bytes from the socket. A zero-length read with no
// error, like an EOF, means the peer closed the connection.
func (c *Conn) receive(n int) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrConnClosed
	}
	if c.config.ReadTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout)); err != nil {
			return nil, fmt.Errorf("failed to set read deadline: %w", err)
		}
	}

	buf := make([]byte, n)
	rn, err := c.conn.Read(buf)
	if rn > 0 {
		// Deliver the data; a simultaneous error resurfaces on the next read.
		return buf[:rn], nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("connection closed by server: %w", ErrConnClosed)
	}
	return nil, fmt.Errorf("read failed: %w", err)
}

// Close closes the connection. It is idempotent. On plain TCP the write side
// is shut down first so the server sees an orderly end of stream; a
// TLS-wrapped connection sends close_notify through its own Close instead.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil // Already closed.
	}

	if !c.tlsWrapped {
		if tcpConn, ok := c.conn.(*net.TCPConn); ok {
			_ = tcpConn.CloseWrite()
		}
	}

	return c.conn.Close()
}

// IsClosed returns true if the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// Authenticated reports whether the handshake has completed successfully.
func (c *Conn) Authenticated() bool {
	return c.hsState == stateAuthenticated
}

// ServerVersion returns the version string from the server's greeting.
// Empty until the handshake has run.
func (c *Conn) ServerVersion() string {
	return c.serverVersion
}

// Leftover returns the bytes read past the handshake's final message
// terminator. They belong to the next protocol layer and must be treated as
// the start of its stream.
func (c *Conn) Leftover() []byte {
	return c.recvBuf
}

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// LocalAddr returns the local network address.
func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}
