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
	"bytes"
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/driftdb/driftdb-go/go/driftprotocol/protocol"
)

// recvChunkSize is how many bytes one socket read may pull into the receive
// buffer while scanning for a message terminator.
const recvChunkSize = 512

// sendMagic writes the 4-byte protocol preamble. It is sent exactly once per
// connection, before any JSON is exchanged.
func (c *Conn) sendMagic() error {
	var magic [4]byte
	binary.LittleEndian.PutUint32(magic[:], protocol.MagicV1)
	if err := c.send(magic[:]); err != nil {
		return fmt.Errorf("failed to send magic: %w", err)
	}
	return nil
}

// sendJSON serializes doc, appends the message terminator, and writes it.
// An encoding failure is distinct from a send failure.
func (c *Conn) sendJSON(doc any) error {
	data, err := c.codec.Encode(doc)
	if err != nil {
		return fmt.Errorf("failed to encode handshake message: %w", err)
	}
	return c.send(append(data, protocol.MessageTerminator))
}

// nextMessage returns the next terminator-delimited message, reading more
// bytes from the socket until a terminator appears. The terminator is
// stripped; any remainder stays buffered for the next call. Both JSON
// documents and the server's bare-string error greeting arrive through here;
// telling them apart is the handshake's job.
func (c *Conn) nextMessage() ([]byte, error) {
	for {
		if i := bytes.IndexByte(c.recvBuf, protocol.MessageTerminator); i >= 0 {
			msg := slices.Clone(c.recvBuf[:i])
			c.recvBuf = c.recvBuf[i+1:]
			return msg, nil
		}

		chunk, err := c.receive(recvChunkSize)
		if err != nil {
			return nil, err
		}
		c.recvBuf = append(c.recvBuf, chunk...)
	}
}
