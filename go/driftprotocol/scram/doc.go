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

// Package scram implements the client side of SCRAM-SHA-256 authentication
// for DriftDB connections.
//
// SCRAM (Salted Challenge Response Authentication Mechanism) is defined in
// RFC 5802, with the SHA-256 instantiation in RFC 7677. It is a three-message
// exchange that proves both parties know the password without ever sending
// it:
//
//  1. Client → Server: client-first-message (username, client nonce)
//  2. Server → Client: server-first-message (combined nonce, salt, iterations)
//  3. Client → Server: client-final-message (proof)
//  4. Server → Client: server-final-message (server signature, mutual auth)
//
// This package works on the SCRAM message strings only; framing those
// strings into the wire protocol's JSON documents is the client package's
// job. Key derivation is delegated to a keycache.Engine so that repeated
// connections with the same credentials skip the PBKDF2 loop.
//
// The server signature check uses a comparator whose execution shape does
// not depend on where two values first differ, so timing cannot reveal the
// mismatch position.
package scram
