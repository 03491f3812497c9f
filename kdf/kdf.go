// SPDX-FileCopyrightText: Copyright (C) 2026  The nsclient Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package kdf derives the long term master key from the shared password.
package kdf

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"

	"github.com/katzenpost/nsclient/core/wire/constants"
)

const (
	// HKDFSHA256 is HKDF-SHA256 with the salt as HKDF salt.
	HKDFSHA256 = "HKDF-SHA256"

	// Argon2id is the memory hard scheme, for passwords that may be weak.
	Argon2id = "Argon2id"

	// DefaultSalt is used when none is configured.
	DefaultSalt = "nsclient master key"

	hkdfInfo = "nsclient master key v1"

	argon2Time    = 3
	argon2Memory  = 32 * 1024
	argon2Threads = 4
)

var errEmptyPassword = errors.New("kdf: empty password")

// Key is a derived master key.
type Key [constants.KeyLength]byte

// Reset zeroes the key.
func (k *Key) Reset() {
	for i := range k {
		k[i] = 0
	}
}

// Deriver deterministically derives a master key from a password.
type Deriver interface {
	// Name returns the scheme name.
	Name() string

	// DeriveKey derives the master key for password.
	DeriveKey(password []byte) (*Key, error)
}

// Schemes lists the supported scheme names.
func Schemes() []string {
	return []string{HKDFSHA256, Argon2id}
}

// ByName returns the Deriver for the named scheme.  The match is case
// insensitive.  An empty salt selects DefaultSalt.
func ByName(name string, salt []byte) (Deriver, error) {
	if len(salt) == 0 {
		salt = []byte(DefaultSalt)
	}
	switch strings.ToLower(name) {
	case strings.ToLower(HKDFSHA256), "":
		return &hkdfDeriver{salt: salt}, nil
	case strings.ToLower(Argon2id):
		return &argon2Deriver{salt: salt}, nil
	default:
		return nil, fmt.Errorf("kdf: unsupported scheme '%v'", name)
	}
}

type hkdfDeriver struct {
	salt []byte
}

func (d *hkdfDeriver) Name() string {
	return HKDFSHA256
}

func (d *hkdfDeriver) DeriveKey(password []byte) (*Key, error) {
	if len(password) == 0 {
		return nil, errEmptyPassword
	}
	k := new(Key)
	r := hkdf.New(sha256.New, password, d.salt, []byte(hkdfInfo))
	if _, err := io.ReadFull(r, k[:]); err != nil {
		return nil, fmt.Errorf("kdf: hkdf failed: %w", err)
	}
	return k, nil
}

type argon2Deriver struct {
	salt []byte
}

func (d *argon2Deriver) Name() string {
	return Argon2id
}

func (d *argon2Deriver) DeriveKey(password []byte) (*Key, error) {
	if len(password) == 0 {
		return nil, errEmptyPassword
	}
	k := new(Key)
	copy(k[:], argon2.IDKey(password, d.salt, argon2Time, argon2Memory, argon2Threads, constants.KeyLength))
	return k, nil
}
