package relay

import (
	"context"
	"sync"
)

const memMaxJournalRecords = 10_000

// MemoryJournal keeps the newest records in process memory.
// It is the default when no durable backend is configured.
type MemoryJournal struct {
	mu      sync.Mutex
	seq     int64
	records []JournalRecord
}

// NewMemoryJournal constructs an empty MemoryJournal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{records: make([]JournalRecord, 0, 256)}
}

// Close is a no-op.
func (j *MemoryJournal) Close() error { return nil }

// Append stores in under the next sequence number.
func (j *MemoryJournal) Append(ctx context.Context, in JournalEntry) (JournalRecord, error) {
	if err := ctx.Err(); err != nil {
		return JournalRecord{}, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.seq++
	rec := JournalRecord{Seq: j.seq, JournalEntry: in}
	j.records = append(j.records, rec)

	if len(j.records) > memMaxJournalRecords {
		j.records = append(j.records[:0:0], j.records[len(j.records)-memMaxJournalRecords:]...)
	}
	return rec, nil
}

// Recent returns up to limit of the newest records, oldest first.
func (j *MemoryJournal) Recent(ctx context.Context, limit int) ([]JournalRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = clampJournalLimit(limit)

	j.mu.Lock()
	defer j.mu.Unlock()

	start := len(j.records) - limit
	if start < 0 {
		start = 0
	}
	return append([]JournalRecord(nil), j.records[start:]...), nil
}
