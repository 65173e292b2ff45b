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

// Package keycache provides the PBKDF2-HMAC-SHA256 key derivation used by
// SCRAM authentication, memoized by (password, salt, iterations).
//
// PBKDF2 with tens of thousands of iterations is by far the most expensive
// step of a handshake, and reconnects reuse the same credentials and salt.
// The cache is bounded (LRU) and concurrent derivations of the same key
// converge on a single computation.
package keycache

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/sync/singleflight"
)

// KeyLen is the length of every derived key: one SHA-256 output.
const KeyLen = sha256.Size

// maxDerivedKeyLen is the RFC 2898 ceiling on the derived key length:
// (2^32 - 1) blocks of one hash output each.
const maxDerivedKeyLen = (1<<32 - 1) * sha256.Size

// ErrDerivedKeyTooLong is returned when the requested key length exceeds the
// RFC 2898 bound. Unreachable for the fixed 32-byte keys SCRAM asks for, but
// the bound is checked regardless.
var ErrDerivedKeyTooLong = errors.New("derived key too long")

// Engine derives and caches PBKDF2 keys. Safe for concurrent use by any
// number of in-flight handshakes.
type Engine struct {
	cache *lru.Cache[string, []byte]
	group singleflight.Group

	// derive computes one key. Overridable in tests to count computations.
	derive func(password, salt []byte, iterations int) []byte
}

// NewEngine returns an Engine whose cache holds at most capacity keys.
func NewEngine(capacity int) (*Engine, error) {
	cache, err := lru.New[string, []byte](capacity)
	if err != nil {
		return nil, fmt.Errorf("keycache: invalid capacity %d: %w", capacity, err)
	}
	return &Engine{
		cache: cache,
		derive: func(password, salt []byte, iterations int) []byte {
			return pbkdf2.Key(password, salt, iterations, KeyLen, sha256.New)
		},
	}, nil
}

// Derive returns the 32-byte PBKDF2-HMAC-SHA256 key for the given
// credentials. Repeated calls with the same inputs return byte-identical
// output; cache hits are indistinguishable from fresh computations.
// The returned slice is owned by the caller.
func (e *Engine) Derive(password, salt []byte, iterations int) ([]byte, error) {
	if iterations < 1 {
		return nil, fmt.Errorf("keycache: iteration count must be positive, got %d", iterations)
	}
	if KeyLen > maxDerivedKeyLen {
		return nil, ErrDerivedKeyTooLong
	}

	key := cacheKey(password, salt, iterations)
	if cached, ok := e.cache.Get(key); ok {
		return slices.Clone(cached), nil
	}

	// Concurrent first users of the same key share one computation.
	derived, err, _ := e.group.Do(key, func() (any, error) {
		if cached, ok := e.cache.Get(key); ok {
			return cached, nil
		}
		k := e.derive(password, salt, iterations)
		e.cache.Add(key, k)
		return k, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(derived.([]byte)), nil
}

// Len returns the number of cached keys.
func (e *Engine) Len() int {
	return e.cache.Len()
}

// Close drops every cached key. The Engine must not be used afterwards.
func (e *Engine) Close() {
	e.cache.Purge()
}

// cacheKey builds an unambiguous map key. Hex keeps the password and salt
// free of separator collisions.
func cacheKey(password, salt []byte, iterations int) string {
	return fmt.Sprintf("%d:%x:%x", iterations, password, salt)
}
