// SPDX-FileCopyrightText: Copyright (C) 2026  The nsclient Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package nonce provides the freshness tokens and initialization vectors
// used by the authentication protocol.
package nonce

import (
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/nsclient/core/wire/constants"
)

const (
	// Size is the length of an encoded Nonce.
	Size = constants.NonceLength

	// IVSize is the length of an IV.
	IVSize = constants.IVLength

	maxDraws = 4
)

var errInvalidLength = errors.New("nonce: invalid length")

// Nonce is a 64 bit freshness token. Arithmetic wraps modulo 2^64.
type Nonce uint64

// New draws a fresh non-zero Nonce from r, or from the system entropy
// source if r is nil.
func New(r io.Reader) (Nonce, error) {
	if r == nil {
		r = rand.Reader
	}
	var b [Size]byte
	for i := 0; i < maxDraws; i++ {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, fmt.Errorf("nonce: failed to read entropy: %w", err)
		}
		if n := Nonce(binary.BigEndian.Uint64(b[:])); n != 0 {
			return n, nil
		}
	}
	return 0, errors.New("nonce: entropy source keeps returning zero")
}

// FromBytes decodes a big endian Nonce.
func FromBytes(b []byte) (Nonce, error) {
	if len(b) != Size {
		return 0, errInvalidLength
	}
	return Nonce(binary.BigEndian.Uint64(b)), nil
}

// Incr returns n+1.
func (n Nonce) Incr() Nonce {
	return n + 1
}

// Decr returns n-1.
func (n Nonce) Decr() Nonce {
	return n - 1
}

// Equal compares two nonces in constant time.
func (n Nonce) Equal(other Nonce) bool {
	return subtle.ConstantTimeCompare(n.Bytes(), other.Bytes()) == 1
}

// Bytes returns the big endian encoding of n.
func (n Nonce) Bytes() []byte {
	b := make([]byte, Size)
	binary.BigEndian.PutUint64(b, uint64(n))
	return b
}

func (n Nonce) String() string {
	return fmt.Sprintf("%016x", uint64(n))
}

// IV is a CBC initialization vector.
type IV [IVSize]byte

// NewIV draws a fresh IV from r, or from the system entropy source if r is
// nil.
func NewIV(r io.Reader) (IV, error) {
	if r == nil {
		r = rand.Reader
	}
	var iv IV
	if _, err := io.ReadFull(r, iv[:]); err != nil {
		return iv, fmt.Errorf("nonce: failed to read IV: %w", err)
	}
	return iv, nil
}

// IVFromBytes copies b into an IV.
func IVFromBytes(b []byte) (IV, error) {
	var iv IV
	if len(b) != IVSize {
		return iv, errInvalidLength
	}
	copy(iv[:], b)
	return iv, nil
}

// RoundUp16 returns the smallest multiple of 16 that is >= n.  It sizes
// reads of block aligned ciphertext; it is not a padding scheme.
func RoundUp16(n int) int {
	if n%constants.BlockLength == 0 {
		return n
	}
	return (n/constants.BlockLength + 1) * constants.BlockLength
}
