/*
 *   Copyright 2023 Martin Proffitt <mproffitt@choclab.net>
 *
 *  Licensed under the Apache License, Version 2.0 (the "License");
 *  you may not use this file except in compliance with the License.
 *  You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 *  Unless required by applicable law or agreed to in writing, software
 *  distributed under the License is distributed on an "AS IS" BASIS,
 *  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *  See the License for the specific language governing permissions and
 *  limitations under the License.
 */
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"
	"github.com/notapipeline/fvault/pkg/types"
)

// MemoryCache holds keys sealed in memguard enclaves.
//
// The identity is hashed before being used as a map key so the raw
// authentication subkey is not retained by the cache. Reads may run
// concurrently, writes are serialised.
type MemoryCache struct {
	lock    sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	master  *memguard.Enclave
	private *memguard.Enclave
}

var (
	memoryCache *MemoryCache
	lock        = &sync.Mutex{}

	mcpy func(dst, src []byte) int = func(dst, src []byte) int {
		return copy(dst, src)
	}
)

// Instance gets the process wide cache, creating it on first use.
var Instance = instance

func instance() *MemoryCache {
	lock.Lock()
	defer lock.Unlock()
	if memoryCache == nil {
		memoryCache = NewMemoryCache()
	}
	return memoryCache
}

// Reset destroys every entry in the process wide cache
func Reset() {
	lock.Lock()
	defer lock.Unlock()
	if memoryCache != nil {
		memoryCache.Purge()
	}
	memoryCache = nil
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]*entry),
	}
}

func slot(identity string) string {
	sum := sha256.Sum256([]byte(identity))
	return hex.EncodeToString(sum[:])
}

// lockedCopy copies src into a fresh buffer bound for an enclave.
// NewEnclave wipes its input so the caller's slice must never be passed
// directly.
func lockedCopy(what string, src []byte) ([]byte, error) {
	if len(src) != types.KeySize {
		return nil, types.ValidationError{Field: what, Reason: types.LengthMismatch(types.KeySize, len(src))}
	}

	var buf []byte = make([]byte, len(src))
	if l := mcpy(buf, src); l < len(src) {
		memguard.WipeBytes(buf)
		return nil, fmt.Errorf("failed to copy %s into locked memory. %d != %d", what, l, len(src))
	}
	return buf, nil
}

func open(e *memguard.Enclave) ([]byte, error) {
	buf, err := e.Open()
	if err != nil {
		return nil, err
	}
	defer buf.Destroy()

	var out []byte = make([]byte, buf.Size())
	copy(out, buf.Bytes())
	return out, nil
}

func (c *MemoryCache) Put(identity string, masterKey, privateKey []byte) (err error) {
	if identity == "" {
		return types.ValidationError{Field: "identity", Reason: "value is empty"}
	}

	// both keys are copied before either is sealed so a failure leaves
	// nothing behind
	var master, private []byte
	if master, err = lockedCopy("master key", masterKey); err != nil {
		return
	}
	if private, err = lockedCopy("private key", privateKey); err != nil {
		memguard.WipeBytes(master)
		return
	}

	var e *entry = &entry{
		master:  memguard.NewEnclave(master),
		private: memguard.NewEnclave(private),
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	c.entries[slot(identity)] = e
	return nil
}

func (c *MemoryCache) Get(identity string) (keys *Keys, err error) {
	c.lock.RLock()
	e, ok := c.entries[slot(identity)]
	c.lock.RUnlock()

	if !ok {
		return nil, types.KeyNotFoundError{Identity: shorten(identity)}
	}

	keys = &Keys{}
	if keys.MasterKey, err = open(e.master); err != nil {
		return nil, fmt.Errorf("unable to open master key enclave: %w", err)
	}
	if keys.PrivateKey, err = open(e.private); err != nil {
		keys.Destroy()
		return nil, fmt.Errorf("unable to open private key enclave: %w", err)
	}
	return
}

func (c *MemoryCache) Clear(identity string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	delete(c.entries, slot(identity))
}

// Purge drops every entry
func (c *MemoryCache) Purge() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.entries = make(map[string]*entry)
}

func (c *MemoryCache) Len() int {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return len(c.entries)
}

// shorten keeps error messages from echoing the full identity
func shorten(identity string) string {
	if len(identity) > 8 {
		return identity[:8] + "..."
	}
	return identity
}
