// SPDX-FileCopyrightText: Copyright (C) 2026  The nsclient Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package history is a local journal of protocol runs.  It records what
// happened on each run and never any key material or tickets.
package history

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
)

const (
	// StorageVersion is the journal format version.
	StorageVersion = 0

	metadataBucket = "metadata"
	runsBucket     = "runs"
	versionKey     = "version"

	// OutcomeSuccess and OutcomeFailure are the Record outcomes.
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

var (
	errNotFound = errors.New("history: record not found")

	encMode cbor.EncMode
)

func init() {
	var err error
	if encMode, err = (cbor.EncOptions{Time: cbor.TimeRFC3339Nano}).EncMode(); err != nil {
		panic(err)
	}
}

// Record is one protocol run.
type Record struct {
	ID            uint64        `cbor:"1,keyasint"`
	Start         time.Time     `cbor:"2,keyasint"`
	Duration      time.Duration `cbor:"3,keyasint"`
	Server        string        `cbor:"4,keyasint"`
	Transport     string        `cbor:"5,keyasint"`
	Outcome       string        `cbor:"6,keyasint"`
	FailedState   string        `cbor:"7,keyasint,omitempty"`
	Error         string        `cbor:"8,keyasint,omitempty"`
	BytesSent     uint64        `cbor:"9,keyasint"`
	BytesReceived uint64        `cbor:"10,keyasint"`
}

// Journal is a bbolt backed run journal.
type Journal struct {
	db *bolt.DB
}

// Open opens, or creates, the journal at path.
func Open(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err = db.Update(func(tx *bolt.Tx) error {
		metaBkt, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		if _, err = tx.CreateBucketIfNotExists([]byte(runsBucket)); err != nil {
			return err
		}
		if b := metaBkt.Get([]byte(versionKey)); b != nil {
			if len(b) != 1 || b[0] != StorageVersion {
				return fmt.Errorf("history: incompatible version: %d", uint(b[0]))
			}
			return nil
		}
		return metaBkt.Put([]byte(versionKey), []byte{StorageVersion})
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db}, nil
}

// Append stores r, assigning its ID.
func (j *Journal) Append(r *Record) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(runsBucket))
		id, err := bkt.NextSequence()
		if err != nil {
			return err
		}
		r.ID = id
		b, err := encMode.Marshal(r)
		if err != nil {
			return err
		}
		return bkt.Put(idKey(id), b)
	})
}

// Get returns the record with the given ID.
func (j *Journal) Get(id uint64) (*Record, error) {
	r := new(Record)
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(runsBucket)).Get(idKey(id))
		if b == nil {
			return errNotFound
		}
		return cbor.Unmarshal(b, r)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// List returns up to limit records, newest first.  A limit of 0 returns
// every record.
func (j *Journal) List(limit int) ([]*Record, error) {
	var out []*Record
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(runsBucket)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) == limit {
				break
			}
			r := new(Record)
			if err := cbor.Unmarshal(v, r); err != nil {
				return fmt.Errorf("history: record %d: %w", binary.BigEndian.Uint64(k), err)
			}
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

// Close closes the journal.
func (j *Journal) Close() error {
	return j.db.Close()
}

func idKey(id uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], id)
	return k[:]
}
