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
	"errors"
	"fmt"

	"github.com/driftdb/driftdb-go/go/driftprotocol/protocol"
)

// ErrAuthenticationFailed marks failures attributable to wrong credentials:
// a server failure response with an error code in the authentication range,
// or a server signature that does not verify locally. Callers must not retry
// these with the same credentials. Everything else is a driver error and may
// be retried on a fresh connection.
var ErrAuthenticationFailed = errors.New("authentication failed")

// ErrConnClosed is returned when an operation is attempted on a closed
// connection, or when the peer closes the connection mid-exchange.
var ErrConnClosed = errors.New("connection closed")

// ServerError is a failure response sent by the server during the handshake.
type ServerError struct {
	// Code is the server's error_code field, zero if absent.
	Code int

	// Message is the server's error text.
	Message string
}

func (e *ServerError) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("server error: %s", e.Message)
	}
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}

// Is maps server error codes in the authentication range onto
// ErrAuthenticationFailed so callers can classify with errors.Is.
func (e *ServerError) Is(target error) bool {
	return target == ErrAuthenticationFailed && protocol.IsAuthErrorCode(e.Code)
}

// IsAuthError reports whether err represents a credential problem rather
// than a protocol or I/O fault.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuthenticationFailed)
}
