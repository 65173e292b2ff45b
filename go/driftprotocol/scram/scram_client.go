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

package scram

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/driftdb/driftdb-go/go/driftprotocol/keycache"
)

// clientNonceLength is the length of the client nonce in bytes before
// base64 encoding. The protocol requires at least 18; 24 gives 192 bits of
// entropy and matches common SCRAM implementations.
const clientNonceLength = 24

// ErrSignatureMismatch is returned by VerifyServerFinal when the server's
// signature does not match the locally computed one. The server either does
// not know the password or the exchange was tampered with.
var ErrSignatureMismatch = errors.New("server signature mismatch")

// Client holds the state of one SCRAM-SHA-256 exchange. A Client is good for
// exactly one authentication attempt; callers retrying a connection must
// construct a fresh one.
type Client struct {
	username string
	password string
	keys     *keycache.Engine

	// State accumulated across the exchange.
	clientNonce            string
	clientFirstMessageBare string
	authMessage            string
	serverSignature        []byte
}

// NewClient creates a SCRAM client for one authentication attempt.
// Derivation goes through keys so reconnects skip the PBKDF2 loop.
func NewClient(keys *keycache.Engine, username, password string) *Client {
	return &Client{
		username: username,
		password: password,
		keys:     keys,
	}
}

// ClientFirstMessage generates the client-first-message, including the GS2
// header: "n,," (no channel binding, no authorization identity) followed by
// client-first-message-bare.
func (c *Client) ClientFirstMessage() (string, error) {
	if c.clientNonce == "" {
		nonceBytes := make([]byte, clientNonceLength)
		if _, err := rand.Read(nonceBytes); err != nil {
			return "", fmt.Errorf("failed to generate client nonce: %w", err)
		}
		c.clientNonce = base64.StdEncoding.EncodeToString(nonceBytes)
	}

	c.clientFirstMessageBare = "n=" + encodeSaslName(c.username) + ",r=" + c.clientNonce
	return "n,," + c.clientFirstMessageBare, nil
}

// ProcessServerFirst consumes the server-first-message and returns the
// client-final-message to send back, proof included. It also computes and
// retains the expected server signature for VerifyServerFinal.
func (c *Client) ProcessServerFirst(serverFirst string) (string, error) {
	combinedNonce, salt, iterations, err := parseServerFirst(serverFirst)
	if err != nil {
		return "", fmt.Errorf("failed to parse server-first-message %q: %w", serverFirst, err)
	}

	// The combined nonce must extend our own. Anything else means the
	// response was not produced for this exchange.
	if !strings.HasPrefix(combinedNonce, c.clientNonce) {
		return "", errors.New("invalid nonce: server nonce does not start with client nonce")
	}

	// Channel binding data for the "n,," GS2 header is base64("n,,") = "biws".
	clientFinalWithoutProof := "c=biws,r=" + combinedNonce

	c.authMessage = buildAuthMessage(c.clientFirstMessageBare, serverFirst, clientFinalWithoutProof)

	saltedPassword, err := c.keys.Derive([]byte(c.password), salt, iterations)
	if err != nil {
		return "", fmt.Errorf("key derivation failed: %w", err)
	}

	clientKey := ComputeClientKey(saltedPassword)
	storedKey := ComputeStoredKey(clientKey)
	clientSignature := ComputeClientSignature(storedKey, c.authMessage)
	clientProof, err := ComputeClientProof(clientKey, clientSignature)
	if err != nil {
		return "", fmt.Errorf("failed to compute client proof: %w", err)
	}

	serverKey := ComputeServerKey(saltedPassword)
	c.serverSignature = ComputeServerSignature(serverKey, c.authMessage)

	return clientFinalWithoutProof + ",p=" + base64.StdEncoding.EncodeToString(clientProof), nil
}

// VerifyServerFinal checks the server-final-message ("v=<base64 signature>")
// against the signature computed in ProcessServerFirst. A nil return
// completes mutual authentication.
func (c *Client) VerifyServerFinal(serverFinal string) error {
	v, ok := strings.CutPrefix(serverFinal, "v=")
	if !ok {
		return fmt.Errorf("missing server signature in server-final-message %q", serverFinal)
	}

	serverSignature, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return fmt.Errorf("invalid server signature encoding: %w", err)
	}
	if c.serverSignature == nil {
		return errors.New("server-final-message received before server-first-message was processed")
	}

	if !ConstantTimeEqual(serverSignature, c.serverSignature) {
		return ErrSignatureMismatch
	}
	return nil
}

// parseServerFirst parses "r=<nonce>,s=<base64 salt>,i=<iterations>".
// Only the r, s and i attributes are permitted.
func parseServerFirst(msg string) (nonce string, salt []byte, iterations int, err error) {
	for _, attr := range strings.Split(msg, ",") {
		key, value, ok := strings.Cut(attr, "=")
		if !ok || key == "" {
			return "", nil, 0, fmt.Errorf("malformed attribute %q", attr)
		}
		switch key {
		case "r":
			nonce = value
		case "s":
			salt, err = base64.StdEncoding.DecodeString(value)
			if err != nil {
				return "", nil, 0, fmt.Errorf("invalid salt encoding: %w", err)
			}
		case "i":
			iterations, err = strconv.Atoi(value)
			if err != nil {
				return "", nil, 0, fmt.Errorf("invalid iteration count %q: %w", value, err)
			}
		default:
			return "", nil, 0, fmt.Errorf("unexpected attribute %q", key)
		}
	}

	if nonce == "" {
		return "", nil, 0, errors.New("missing nonce (r)")
	}
	if salt == nil {
		return "", nil, 0, errors.New("missing salt (s)")
	}
	if iterations < 1 {
		return "", nil, 0, fmt.Errorf("iteration count must be positive, got %d", iterations)
	}
	return nonce, salt, iterations, nil
}

// encodeSaslName escapes a username for inclusion in a SCRAM message:
// '=' becomes "=3D" and ',' becomes "=2C" (RFC 5802 section 5.1).
func encodeSaslName(name string) string {
	name = strings.ReplaceAll(name, "=", "=3D")
	return strings.ReplaceAll(name, ",", "=2C")
}
