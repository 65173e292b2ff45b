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

package protocol

// ServerGreeting is the first document the server sends, immediately after
// receiving the magic preamble. On failure only Success, ErrorCode and Error
// are populated.
type ServerGreeting struct {
	Success            bool   `json:"success"`
	MinProtocolVersion int    `json:"min_protocol_version"`
	MaxProtocolVersion int    `json:"max_protocol_version"`
	ServerVersion      string `json:"server_version"`
	ErrorCode          int    `json:"error_code,omitempty"`
	Error              string `json:"error,omitempty"`
}

// ClientFirst carries the SCRAM client-first-message.
// Authentication is the GS2 header plus client-first-message-bare,
// e.g. "n,,n=admin,r=<nonce>".
type ClientFirst struct {
	ProtocolVersion      int    `json:"protocol_version"`
	AuthenticationMethod string `json:"authentication_method"`
	Authentication       string `json:"authentication"`
}

// ServerChallenge carries the SCRAM server-first-message in Authentication:
// "r=<combined nonce>,s=<base64 salt>,i=<iterations>".
type ServerChallenge struct {
	Success        bool   `json:"success"`
	Authentication string `json:"authentication"`
	ErrorCode      int    `json:"error_code,omitempty"`
	Error          string `json:"error,omitempty"`
}

// ClientFinal carries the SCRAM client-final-message:
// "c=biws,r=<combined nonce>,p=<base64 proof>".
type ClientFinal struct {
	Authentication string `json:"authentication"`
}

// ServerFinal carries the SCRAM server-final-message in Authentication:
// "v=<base64 server signature>". A valid signature proves the server also
// knows the credentials (mutual authentication).
type ServerFinal struct {
	Success        bool   `json:"success"`
	Authentication string `json:"authentication"`
	ErrorCode      int    `json:"error_code,omitempty"`
	Error          string `json:"error,omitempty"`
}
