// SPDX-FileCopyrightText: Copyright (C) 2026  The nsclient Authors
// SPDX-License-Identifier: AGPL-3.0-only

package commands

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// Field names a fixed position inside a message body.
type Field struct {
	Name   string
	Offset int
	Length int
}

// End returns the offset one past the last byte of the field.
func (f Field) End() int {
	return f.Offset + f.Length
}

// Layout is the positional description of a message body.  Every encode
// and decode of a fixed position field goes through a Layout.
type Layout struct {
	Name   string
	Size   int
	Fields []Field
}

// Validate checks that every field is non-empty, inside the layout, uniquely
// named, and that no two fields overlap.
func (l *Layout) Validate() error {
	if l.Size <= 0 {
		return fmt.Errorf("commands: layout %s: invalid size %d", l.Name, l.Size)
	}
	seen := make(map[string]bool)
	fields := make([]Field, len(l.Fields))
	copy(fields, l.Fields)
	sort.Slice(fields, func(i, j int) bool { return fields[i].Offset < fields[j].Offset })
	for i, f := range fields {
		if seen[f.Name] {
			return fmt.Errorf("commands: layout %s: duplicate field %s", l.Name, f.Name)
		}
		seen[f.Name] = true
		if f.Length <= 0 || f.Offset < 0 || f.End() > l.Size {
			return fmt.Errorf("commands: layout %s: field %s [%d:%d] out of bounds", l.Name, f.Name, f.Offset, f.End())
		}
		if i > 0 && fields[i-1].End() > f.Offset {
			return fmt.Errorf("commands: layout %s: field %s overlaps %s", l.Name, f.Name, fields[i-1].Name)
		}
	}
	return nil
}

// Field returns the named field.
func (l *Layout) Field(name string) (Field, error) {
	for _, f := range l.Fields {
		if f.Name == name {
			return f, nil
		}
	}
	return Field{}, fmt.Errorf("commands: layout %s has no field %s", l.Name, name)
}

// Get returns the bytes of the named field in b.  The returned slice aliases
// b.
func (l *Layout) Get(b []byte, name string) ([]byte, error) {
	f, err := l.Field(name)
	if err != nil {
		return nil, err
	}
	if len(b) < f.End() {
		return nil, fmt.Errorf("%w: %s: %d bytes is too short for %s", ErrInvalidMessage, l.Name, len(b), f.Name)
	}
	return b[f.Offset:f.End()], nil
}

// Uint16 decodes the named two byte field in network byte order.
func (l *Layout) Uint16(b []byte, name string) (uint16, error) {
	v, err := l.Get(b, name)
	if err != nil {
		return 0, err
	}
	if len(v) != 2 {
		return 0, fmt.Errorf("commands: layout %s: field %s is not 2 bytes", l.Name, name)
	}
	return binary.BigEndian.Uint16(v), nil
}

// Uint64 decodes the named eight byte field in network byte order.
func (l *Layout) Uint64(b []byte, name string) (uint64, error) {
	v, err := l.Get(b, name)
	if err != nil {
		return 0, err
	}
	if len(v) != 8 {
		return 0, fmt.Errorf("commands: layout %s: field %s is not 8 bytes", l.Name, name)
	}
	return binary.BigEndian.Uint64(v), nil
}

// NewBuffer returns a zeroed Buffer sized to the layout.
func (l *Layout) NewBuffer() *Buffer {
	return &Buffer{
		layout: l,
		b:      make([]byte, l.Size),
	}
}

// Buffer is a length checked message body under construction.
type Buffer struct {
	layout *Layout
	b      []byte
}

// Put copies v into the named field.  Values shorter than the field are
// zero filled, values longer than the field are rejected.
func (b *Buffer) Put(name string, v []byte) error {
	f, err := b.layout.Field(name)
	if err != nil {
		return err
	}
	if len(v) > f.Length {
		return fmt.Errorf("commands: layout %s: %d bytes overflows field %s (%d bytes)", b.layout.Name, len(v), name, f.Length)
	}
	dst := b.b[f.Offset:f.End()]
	n := copy(dst, v)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
	return nil
}

// PutUint16 writes v into the named two byte field in network byte order.
func (b *Buffer) PutUint16(name string, v uint16) error {
	f, err := b.layout.Field(name)
	if err != nil {
		return err
	}
	if f.Length != 2 {
		return fmt.Errorf("commands: layout %s: field %s is not 2 bytes", b.layout.Name, name)
	}
	binary.BigEndian.PutUint16(b.b[f.Offset:], v)
	return nil
}

// PutUint64 writes v into the named eight byte field in network byte order.
func (b *Buffer) PutUint64(name string, v uint64) error {
	f, err := b.layout.Field(name)
	if err != nil {
		return err
	}
	if f.Length != 8 {
		return fmt.Errorf("commands: layout %s: field %s is not 8 bytes", b.layout.Name, name)
	}
	binary.BigEndian.PutUint64(b.b[f.Offset:], v)
	return nil
}

// Bytes returns the encoded body.
func (b *Buffer) Bytes() []byte {
	return b.b
}

// fill runs puts in order, stopping at the first error.
func fill(l *Layout, puts ...func(*Buffer) error) ([]byte, error) {
	buf := l.NewBuffer()
	for _, put := range puts {
		if err := put(buf); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func put(name string, v []byte) func(*Buffer) error {
	return func(b *Buffer) error { return b.Put(name, v) }
}

func putUint16(name string, v uint16) func(*Buffer) error {
	return func(b *Buffer) error { return b.PutUint16(name, v) }
}

func putUint64(name string, v uint64) func(*Buffer) error {
	return func(b *Buffer) error { return b.PutUint64(name, v) }
}
