// Package journal persists collected samples in a single-file bbolt
// database, one CBOR-encoded record per sample.
package journal

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gofrs/uuid"
	"go.etcd.io/bbolt"
	"golang.org/x/exp/slices"
)

var bucketName = []byte("samples")

// Record is one collected sample.
type Record struct {
	ID        string    `cbor:"id"`
	Time      time.Time `cbor:"time"`
	Mode      string    `cbor:"mode"`
	Sample    uint64    `cbor:"sample"`
	RingState uint64    `cbor:"ring_state"`
}

// Journal is a sample journal backed by a bbolt database.
type Journal struct {
	db *bbolt.DB
}

// Open opens or creates the journal at path.
func Open(path string) (*Journal, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Journal{db: db}, nil
}

// Append stores the record, assigning an ID and timestamp when unset, and
// returns the stored record.
func (j *Journal) Append(rec Record) (Record, error) {
	if rec.ID == "" {
		id, err := uuid.NewV4()
		if err != nil {
			return rec, fmt.Errorf("assign record id: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}

	data, err := cbor.Marshal(rec)
	if err != nil {
		return rec, fmt.Errorf("marshal record: %w", err)
	}

	err = j.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(rec.ID), data)
	})
	if err != nil {
		return rec, err
	}
	return rec, nil
}

// List returns all records, oldest first.
func (j *Journal) List() ([]Record, error) {
	var recs []Record

	err := j.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(_, value []byte) error {
			var rec Record
			if err := cbor.Unmarshal(value, &rec); err != nil {
				return fmt.Errorf("unmarshal record: %w", err)
			}
			recs = append(recs, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(recs, func(a, b Record) int {
		return a.Time.Compare(b.Time)
	})
	return recs, nil
}

// Len returns the number of stored records.
func (j *Journal) Len() (int, error) {
	var n int
	err := j.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketName).Stats().KeyN
		return nil
	})
	return n, err
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}
