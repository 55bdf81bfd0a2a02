package relay

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
)

const (
	boltJournalBucket  = "journal"
	boltMetadataBucket = "metadata"
	boltVersionKey     = "version"
	boltJournalVersion = 0
)

// Timestamps keep sub-second precision in the journal.
var journalCBOR = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// BoltJournal is a Journal stored in a single bbolt file.
// Records are CBOR encoded under big-endian sequence keys so cursor order is sequence order.
type BoltJournal struct {
	db *bolt.DB
}

// OpenBoltJournal opens (or creates) the journal file at path.
func OpenBoltJournal(path string) (*BoltJournal, error) {
	if path == "" {
		return nil, errors.New("relay: empty journal path")
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists([]byte(boltMetadataBucket))
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(boltJournalBucket)); err != nil {
			return err
		}

		if b := meta.Get([]byte(boltVersionKey)); b != nil {
			if len(b) != 1 || b[0] != boltJournalVersion {
				return fmt.Errorf("relay: incompatible journal version: %v", b)
			}
			return nil
		}
		return meta.Put([]byte(boltVersionKey), []byte{boltJournalVersion})
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltJournal{db: db}, nil
}

// Close closes the underlying bbolt file.
func (j *BoltJournal) Close() error {
	return j.db.Close()
}

// Append stores in under the bucket's next sequence.
func (j *BoltJournal) Append(ctx context.Context, in JournalEntry) (JournalRecord, error) {
	if err := ctx.Err(); err != nil {
		return JournalRecord{}, err
	}

	var rec JournalRecord
	err := j.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(boltJournalBucket))

		seq, err := bkt.NextSequence()
		if err != nil {
			return err
		}
		rec = JournalRecord{Seq: int64(seq), JournalEntry: in}

		raw, err := journalCBOR.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
		return bkt.Put(seqKey(seq), raw)
	})
	if err != nil {
		return JournalRecord{}, fmt.Errorf("journal append: %w", err)
	}
	return rec, nil
}

// Recent walks the bucket backwards from the newest record and returns them oldest first.
func (j *BoltJournal) Recent(ctx context.Context, limit int) ([]JournalRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = clampJournalLimit(limit)

	out := make([]JournalRecord, 0, limit)
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(boltJournalBucket)).Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var rec JournalRecord
			if err := cbor.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode record %x: %w", k, err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("journal recent: %w", err)
	}

	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	return out, nil
}

func seqKey(seq uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], seq)
	return k[:]
}
