// SPDX-FileCopyrightText: Copyright (C) 2026  The nsclient Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package cbc implements one-shot AES-128-CBC encryption with an explicit
// IV and no padding.
package cbc

import (
	"crypto/cipher"
	"errors"
	"fmt"

	"gitlab.com/yawning/bsaes.git"

	"github.com/katzenpost/nsclient/core/wire/constants"
)

var (
	// ErrCipher is the sentinel all cipher engine failures match.
	ErrCipher = errors.New("cbc: cipher failure")

	// ErrCipherInit is returned when the block cipher can not be
	// constructed from the key.
	ErrCipherInit = errors.New("cbc: cipher initialization failed")
)

// Op names the cipher operation that failed.
type Op string

const (
	OpEncrypt Op = "encrypt"
	OpDecrypt Op = "decrypt"
)

// Error is returned by Encrypt and Decrypt.
type Error struct {
	Op      Op
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cbc: %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("cbc: %s: %s", e.Op, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes every Error match ErrCipher.
func (e *Error) Is(target error) bool {
	return target == ErrCipher
}

func newError(op Op, msg string, err error) *Error {
	return &Error{Op: op, Message: msg, Err: err}
}

func checkArgs(op Op, key, iv, in []byte) error {
	switch {
	case len(key) != constants.KeyLength:
		return newError(op, fmt.Sprintf("invalid key length %d", len(key)), nil)
	case len(iv) != constants.IVLength:
		return newError(op, fmt.Sprintf("invalid IV length %d", len(iv)), nil)
	case len(in)%constants.BlockLength != 0:
		return newError(op, fmt.Sprintf("input length %d is not a multiple of the block size", len(in)), nil)
	}
	return nil
}

func newBlock(op Op, key []byte) (cipher.Block, error) {
	blk, err := bsaes.NewCipher(key)
	if err != nil {
		return nil, newError(op, "failed to construct block cipher", fmt.Errorf("%w: %v", ErrCipherInit, err))
	}
	return blk, nil
}

// Encrypt encrypts plaintext with key under iv.  The plaintext length must
// be a multiple of the block size; no padding is applied.  The inputs are
// not modified.
func Encrypt(key, iv, plaintext []byte) ([]byte, error) {
	if err := checkArgs(OpEncrypt, key, iv, plaintext); err != nil {
		return nil, err
	}
	blk, err := newBlock(OpEncrypt, key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(blk, iv).CryptBlocks(out, plaintext)
	return out, nil
}

// Decrypt decrypts ciphertext with key under iv.  The ciphertext length
// must be a multiple of the block size.  The inputs are not modified.
func Decrypt(key, iv, ciphertext []byte) ([]byte, error) {
	if err := checkArgs(OpDecrypt, key, iv, ciphertext); err != nil {
		return nil, err
	}
	blk, err := newBlock(OpDecrypt, key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(blk, iv).CryptBlocks(out, ciphertext)
	return out, nil
}
