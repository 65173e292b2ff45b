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
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
)

const (
	// clientKeyLiteral is the string "Client Key" used in SCRAM.
	clientKeyLiteral = "Client Key"

	// serverKeyLiteral is the string "Server Key" used in SCRAM.
	serverKeyLiteral = "Server Key"
)

// ComputeClientKey computes ClientKey = HMAC(SaltedPassword, "Client Key").
func ComputeClientKey(saltedPassword []byte) []byte {
	return hmacSHA256(saltedPassword, []byte(clientKeyLiteral))
}

// ComputeStoredKey computes StoredKey = H(ClientKey) where H is SHA-256.
func ComputeStoredKey(clientKey []byte) []byte {
	h := sha256.Sum256(clientKey)
	return h[:]
}

// ComputeServerKey computes ServerKey = HMAC(SaltedPassword, "Server Key").
func ComputeServerKey(saltedPassword []byte) []byte {
	return hmacSHA256(saltedPassword, []byte(serverKeyLiteral))
}

// ComputeClientSignature computes ClientSignature = HMAC(StoredKey, AuthMessage).
func ComputeClientSignature(storedKey []byte, authMessage string) []byte {
	return hmacSHA256(storedKey, []byte(authMessage))
}

// ComputeClientProof computes ClientProof = ClientKey XOR ClientSignature.
// The XOR runs byte-wise over the full hash-output width per RFC 5802.
func ComputeClientProof(clientKey, clientSignature []byte) ([]byte, error) {
	return xorBytes(clientKey, clientSignature)
}

// ComputeServerSignature computes ServerSignature = HMAC(ServerKey, AuthMessage).
func ComputeServerSignature(serverKey []byte, authMessage string) []byte {
	return hmacSHA256(serverKey, []byte(authMessage))
}

// buildAuthMessage constructs the AuthMessage for SCRAM:
// client-first-message-bare + "," + server-first-message + "," + client-final-message-without-proof.
// The server-first-message is included exactly as received.
func buildAuthMessage(clientFirstMessageBare, serverFirstMessage, clientFinalMessageWithoutProof string) string {
	return clientFirstMessageBare + "," + serverFirstMessage + "," + clientFinalMessageWithoutProof
}

// hmacSHA256 computes HMAC-SHA-256(key, message).
func hmacSHA256(key, message []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(message)
	return h.Sum(nil)
}

// xorBytes returns a XOR b.
// Returns an error if a and b have different lengths.
func xorBytes(a, b []byte) ([]byte, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("xorBytes: length mismatch (a=%d, b=%d)", len(a), len(b))
	}

	result := make([]byte, len(a))
	for i := range a {
		result[i] = a[i] ^ b[i]
	}
	return result, nil
}
