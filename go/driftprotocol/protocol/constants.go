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

// Package protocol defines the wire-level constants and handshake message
// shapes of the DriftDB client protocol.
package protocol

const (
	// MagicV1 is the protocol preamble a client sends exactly once per
	// connection, encoded as 4 bytes little-endian, before any other traffic.
	MagicV1 uint32 = 0x34c2bdc3

	// HandshakeVersion is the handshake sub-protocol version this driver
	// speaks. The server's greeting advertises the range it accepts.
	HandshakeVersion = 0

	// AuthenticationMethod is the only authentication mechanism the server
	// supports for version-1 connections.
	AuthenticationMethod = "SCRAM-SHA-256"

	// MessageTerminator separates handshake messages on the wire. Every
	// handshake message is a UTF-8 JSON document followed by this byte;
	// there is no length prefix.
	MessageTerminator = 0x00
)

// Server error codes in [AuthErrorCodeMin, AuthErrorCodeMax] indicate a
// credential problem rather than a protocol or I/O fault. Callers must not
// retry those with the same credentials.
const (
	AuthErrorCodeMin = 10
	AuthErrorCodeMax = 20
)

// IsAuthErrorCode reports whether a server error code identifies an
// authentication failure.
func IsAuthErrorCode(code int) bool {
	return code >= AuthErrorCodeMin && code <= AuthErrorCodeMax
}
