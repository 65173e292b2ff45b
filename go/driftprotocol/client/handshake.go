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
	"context"
	"errors"
	"fmt"

	"github.com/driftdb/driftdb-go/go/driftprotocol/keycache"
	"github.com/driftdb/driftdb-go/go/driftprotocol/protocol"
	"github.com/driftdb/driftdb-go/go/driftprotocol/scram"
)

// defaultKeyCacheCapacity bounds the process-wide derivation cache used when
// Config.KeyCache is nil. Each entry is one credential/salt pair.
const defaultKeyCacheCapacity = 128

var defaultKeyCache = func() *keycache.Engine {
	e, err := keycache.NewEngine(defaultKeyCacheCapacity)
	if err != nil {
		panic(err)
	}
	return e
}()

// handshakeState tracks progress through the authentication exchange.
type handshakeState int

const (
	stateStart handshakeState = iota
	stateMagicSent
	stateClientFirstSent
	stateServerFirstReceived
	stateClientFinalSent
	stateAuthenticated
	stateFailed
)

// handshake drives one authentication attempt over one connection. It is
// discarded whether the attempt succeeds or fails; retries need a fresh
// connection and a fresh handshake.
type handshake struct {
	conn  *Conn
	scram *scram.Client
}

// Handshake authenticates the connection using SCRAM-SHA-256. It runs the
// exchange strictly sequentially; each round blocks until its response
// arrives or the configured read timeout fires.
//
// On failure the connection is left open so the caller can inspect it or
// fall back to another protocol; closing it is the caller's responsibility.
// A single attempt is made per connection, whatever its outcome: the magic
// preamble goes out exactly once, so a failed attempt cannot be retried on
// the same channel.
func (c *Conn) Handshake(ctx context.Context) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	switch c.hsState {
	case stateStart:
		// First attempt on this connection.
	case stateAuthenticated:
		return errors.New("connection already authenticated")
	default:
		return errors.New("handshake already attempted on this connection")
	}

	keys := c.config.KeyCache
	if keys == nil {
		keys = defaultKeyCache
	}

	h := &handshake{
		conn:  c,
		scram: scram.NewClient(keys, c.config.User, c.config.Password),
	}
	if err := h.run(ctx); err != nil {
		c.hsState = stateFailed
		return err
	}
	return nil
}

func (h *handshake) run(ctx context.Context) error {
	// START -> MAGIC_SENT
	if err := h.conn.sendMagic(); err != nil {
		return err
	}
	h.conn.hsState = stateMagicSent

	// MAGIC_SENT -> CLIENT_FIRST_SENT
	if err := h.checkCanceled(ctx); err != nil {
		return err
	}
	if err := h.processGreeting(); err != nil {
		return err
	}
	if err := h.sendClientFirst(); err != nil {
		return err
	}
	h.conn.hsState = stateClientFirstSent

	// CLIENT_FIRST_SENT -> SERVER_FIRST_RECEIVED
	if err := h.checkCanceled(ctx); err != nil {
		return err
	}
	serverFirst, err := h.receiveServerFirst()
	if err != nil {
		return err
	}
	h.conn.hsState = stateServerFirstReceived

	// SERVER_FIRST_RECEIVED -> CLIENT_FINAL_SENT
	if err := h.sendClientFinal(serverFirst); err != nil {
		return err
	}
	h.conn.hsState = stateClientFinalSent

	// CLIENT_FINAL_SENT -> AUTHENTICATED
	if err := h.checkCanceled(ctx); err != nil {
		return err
	}
	if err := h.verifyServerFinal(); err != nil {
		return err
	}
	h.conn.hsState = stateAuthenticated
	return nil
}

// checkCanceled aborts between rounds once the caller's context is done.
func (h *handshake) checkCanceled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// processGreeting reads the server's greeting and verifies it accepts our
// handshake version. The greeting may be a bare error string instead of
// JSON; it surfaces verbatim inside the decode error.
func (h *handshake) processGreeting() error {
	msg, err := h.conn.nextMessage()
	if err != nil {
		return fmt.Errorf("failed to read server greeting: %w", err)
	}

	var greeting protocol.ServerGreeting
	if err := h.conn.codec.Decode(msg, &greeting); err != nil {
		return fmt.Errorf("invalid server greeting %q: %w", msg, err)
	}
	if !greeting.Success {
		return &ServerError{Code: greeting.ErrorCode, Message: greeting.Error}
	}
	if protocol.HandshakeVersion < greeting.MinProtocolVersion ||
		protocol.HandshakeVersion > greeting.MaxProtocolVersion {
		return fmt.Errorf("unsupported handshake version: driver speaks %d, server accepts %d to %d",
			protocol.HandshakeVersion, greeting.MinProtocolVersion, greeting.MaxProtocolVersion)
	}

	h.conn.serverVersion = greeting.ServerVersion
	return nil
}

// sendClientFirst sends the SCRAM client-first-message.
func (h *handshake) sendClientFirst() error {
	auth, err := h.scram.ClientFirstMessage()
	if err != nil {
		return err
	}
	return h.conn.sendJSON(protocol.ClientFirst{
		ProtocolVersion:      protocol.HandshakeVersion,
		AuthenticationMethod: protocol.AuthenticationMethod,
		Authentication:       auth,
	})
}

// receiveServerFirst reads the server's challenge and returns the SCRAM
// server-first-message it carries.
func (h *handshake) receiveServerFirst() (string, error) {
	msg, err := h.conn.nextMessage()
	if err != nil {
		return "", fmt.Errorf("failed to read server challenge: %w", err)
	}

	var challenge protocol.ServerChallenge
	if err := h.conn.codec.Decode(msg, &challenge); err != nil {
		return "", fmt.Errorf("invalid server challenge %q: %w", msg, err)
	}
	if !challenge.Success {
		return "", &ServerError{Code: challenge.ErrorCode, Message: challenge.Error}
	}
	return challenge.Authentication, nil
}

// sendClientFinal derives the keys, computes the proof and sends the SCRAM
// client-final-message. A nonce the server did not build on ours fails here,
// before any key derivation happens.
func (h *handshake) sendClientFinal(serverFirst string) error {
	auth, err := h.scram.ProcessServerFirst(serverFirst)
	if err != nil {
		return err
	}
	return h.conn.sendJSON(protocol.ClientFinal{Authentication: auth})
}

// verifyServerFinal reads the server's final message and checks its
// signature, completing mutual authentication.
func (h *handshake) verifyServerFinal() error {
	msg, err := h.conn.nextMessage()
	if err != nil {
		return fmt.Errorf("failed to read server final message: %w", err)
	}

	var final protocol.ServerFinal
	if err := h.conn.codec.Decode(msg, &final); err != nil {
		return fmt.Errorf("invalid server final message %q: %w", msg, err)
	}
	if !final.Success {
		return &ServerError{Code: final.ErrorCode, Message: final.Error}
	}

	if err := h.scram.VerifyServerFinal(final.Authentication); err != nil {
		if errors.Is(err, scram.ErrSignatureMismatch) {
			return fmt.Errorf("invalid server signature: %w", ErrAuthenticationFailed)
		}
		return err
	}
	return nil
}
