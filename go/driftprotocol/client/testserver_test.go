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
	"bufio"
	"crypto/tls"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftdb/driftdb-go/go/driftprotocol/keycache"
	"github.com/driftdb/driftdb-go/go/driftprotocol/protocol"
	"github.com/driftdb/driftdb-go/go/driftprotocol/scram"
)

// stubConfig controls how the in-process server misbehaves.
type stubConfig struct {
	user       string
	password   string
	salt       []byte
	iterations int

	// tlsConfig makes the stub complete a TLS handshake before the magic.
	tlsConfig *tls.Config

	// greeting overrides the default success greeting.
	greeting *protocol.ServerGreeting

	// rawGreeting replaces the greeting with arbitrary bytes (already
	// terminated), e.g. the bare error string old servers send.
	rawGreeting []byte

	// closeAfterMagic drops the connection before the greeting.
	closeAfterMagic bool

	// silentAfterMagic accepts the magic and then never responds.
	silentAfterMagic bool

	// challengeFailure replaces the server-first challenge.
	challengeFailure *protocol.ServerChallenge

	// finalFailure replaces the server-final message.
	finalFailure *protocol.ServerFinal

	// tamperNonce makes the combined nonce not extend the client's.
	tamperNonce bool

	// tamperSignature corrupts the server signature.
	tamperSignature bool

	// trailing is written immediately after the final message terminator;
	// it belongs to the next protocol layer.
	trailing []byte
}

func defaultStubConfig() stubConfig {
	return stubConfig{
		user:       "admin",
		password:   "secret",
		salt:       []byte("0001020304050607"),
		iterations: 1024,
	}
}

// stubServer implements the server side of the handshake for one
// connection.
type stubServer struct {
	t   *testing.T
	cfg stubConfig
	ln  net.Listener
	wg  sync.WaitGroup

	sawClientFinal atomic.Bool
}

func startStub(t *testing.T, cfg stubConfig) *stubServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &stubServer{t: t, cfg: cfg, ln: ln}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.serveOne()
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		s.wg.Wait()
	})
	return s
}

// clientConfig returns a Config pointed at the stub.
func (s *stubServer) clientConfig() *Config {
	addr := s.ln.Addr().(*net.TCPAddr)
	return &Config{
		Host:         "127.0.0.1",
		Port:         addr.Port,
		User:         s.cfg.user,
		Password:     s.cfg.password,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

func (s *stubServer) serveOne() {
	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	if s.cfg.tlsConfig != nil {
		tlsConn := tls.Server(conn, s.cfg.tlsConfig)
		if !assert.NoError(s.t, tlsConn.Handshake()) {
			return
		}
		conn = tlsConn
	}

	br := bufio.NewReader(conn)

	// drain blocks until the client closes, so the final write is never
	// cut short by a reset.
	drain := func() { _, _ = io.Copy(io.Discard, br) }

	magic := make([]byte, 4)
	if _, err := io.ReadFull(br, magic); err != nil {
		return
	}
	assert.Equal(s.t, protocol.MagicV1, binary.LittleEndian.Uint32(magic))

	if s.cfg.closeAfterMagic {
		return
	}
	if s.cfg.silentAfterMagic {
		drain()
		return
	}
	if s.cfg.rawGreeting != nil {
		_, _ = conn.Write(s.cfg.rawGreeting)
		drain()
		return
	}

	greeting := protocol.ServerGreeting{
		Success:            true,
		MinProtocolVersion: 0,
		MaxProtocolVersion: 0,
		ServerVersion:      "driftdb 2.5.0",
	}
	if s.cfg.greeting != nil {
		greeting = *s.cfg.greeting
	}
	s.writeDoc(conn, greeting)
	if !greeting.Success {
		drain()
		return
	}

	// Client first.
	msg, err := s.readMsg(br)
	if err != nil {
		return
	}
	var clientFirst protocol.ClientFirst
	if !assert.NoError(s.t, json.Unmarshal(msg, &clientFirst)) {
		return
	}
	assert.Equal(s.t, protocol.HandshakeVersion, clientFirst.ProtocolVersion)
	assert.Equal(s.t, protocol.AuthenticationMethod, clientFirst.AuthenticationMethod)

	bare, ok := strings.CutPrefix(clientFirst.Authentication, "n,,")
	if !assert.True(s.t, ok, "client first message missing GS2 header") {
		return
	}
	i := strings.Index(bare, ",r=")
	if !assert.GreaterOrEqual(s.t, i, 0, "client first message missing nonce") {
		return
	}
	clientNonce := bare[i+3:]

	if s.cfg.challengeFailure != nil {
		s.writeDoc(conn, *s.cfg.challengeFailure)
		drain()
		return
	}

	combined := clientNonce + "3rfcNHYJY1ZVvWVs7j"
	if s.cfg.tamperNonce {
		combined = "XX" + combined
	}
	serverFirst := "r=" + combined +
		",s=" + base64.StdEncoding.EncodeToString(s.cfg.salt) +
		",i=" + strconv.Itoa(s.cfg.iterations)
	s.writeDoc(conn, protocol.ServerChallenge{Success: true, Authentication: serverFirst})

	// Client final.
	msg, err = s.readMsg(br)
	if err != nil {
		return
	}
	s.sawClientFinal.Store(true)
	var clientFinal protocol.ClientFinal
	if !assert.NoError(s.t, json.Unmarshal(msg, &clientFinal)) {
		return
	}

	withoutProof, proofB64, ok := strings.Cut(clientFinal.Authentication, ",p=")
	if !assert.True(s.t, ok, "client final message missing proof") {
		return
	}
	authMessage := bare + "," + serverFirst + "," + withoutProof

	engine, err := keycache.NewEngine(4)
	if !assert.NoError(s.t, err) {
		return
	}
	defer engine.Close()
	saltedPassword, err := engine.Derive([]byte(s.cfg.password), s.cfg.salt, s.cfg.iterations)
	if !assert.NoError(s.t, err) {
		return
	}

	clientKey := scram.ComputeClientKey(saltedPassword)
	storedKey := scram.ComputeStoredKey(clientKey)
	clientSignature := scram.ComputeClientSignature(storedKey, authMessage)
	proof, err := base64.StdEncoding.DecodeString(proofB64)
	if !assert.NoError(s.t, err) {
		return
	}
	recoveredKey, err := scram.ComputeClientProof(proof, clientSignature)
	if !assert.NoError(s.t, err) {
		return
	}
	assert.Equal(s.t, storedKey, scram.ComputeStoredKey(recoveredKey),
		"client proof did not verify")

	if s.cfg.finalFailure != nil {
		s.writeDoc(conn, *s.cfg.finalFailure)
		drain()
		return
	}

	serverKey := scram.ComputeServerKey(saltedPassword)
	signature := scram.ComputeServerSignature(serverKey, authMessage)
	if s.cfg.tamperSignature {
		signature[0] ^= 0xff
	}
	final, err := json.Marshal(protocol.ServerFinal{
		Success:        true,
		Authentication: "v=" + base64.StdEncoding.EncodeToString(signature),
	})
	if !assert.NoError(s.t, err) {
		return
	}

	// One write for the final message and any trailing bytes, so the
	// client sees them in a single stream segment.
	out := append(final, protocol.MessageTerminator)
	out = append(out, s.cfg.trailing...)
	_, _ = conn.Write(out)
	drain()
}

func (s *stubServer) readMsg(br *bufio.Reader) ([]byte, error) {
	raw, err := br.ReadBytes(protocol.MessageTerminator)
	if err != nil {
		return nil, err
	}
	return raw[:len(raw)-1], nil
}

func (s *stubServer) writeDoc(conn net.Conn, doc any) {
	data, err := json.Marshal(doc)
	if !assert.NoError(s.t, err) {
		return
	}
	_, _ = conn.Write(append(data, protocol.MessageTerminator))
}
