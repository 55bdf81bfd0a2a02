package relay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

const (
	defaultJournalLimit = 50
	maxJournalLimit     = 500
)

// JournalEntry is the metadata recorded for one relayed message.
// Plaintext is never stored: only its size and SHA-256 digest.
type JournalEntry struct {
	RelaySeq  uint64    `cbor:"1,keyasint" json:"relay_seq"`
	SessionID string    `cbor:"2,keyasint" json:"session_id"`
	Peer      string    `cbor:"3,keyasint" json:"peer"`
	Username  string    `cbor:"4,keyasint" json:"username"`
	Size      int       `cbor:"5,keyasint" json:"size"`
	Digest    string    `cbor:"6,keyasint" json:"digest"`
	At        time.Time `cbor:"7,keyasint" json:"at"`
}

// JournalRecord is a persisted JournalEntry with the journal's own sequence number.
// Seq is monotonic for the lifetime of the journal storage, which may span restarts;
// RelaySeq restarts with the process.
type JournalRecord struct {
	Seq int64 `cbor:"0,keyasint" json:"seq"`
	JournalEntry
}

// Journal persists relay metadata.
//
// Requirements:
//   - Append allocates strictly increasing Seq values
//   - Recent returns the newest records ordered by Seq ASC
type Journal interface {
	Append(ctx context.Context, in JournalEntry) (JournalRecord, error)
	Recent(ctx context.Context, limit int) ([]JournalRecord, error)
	Close() error
}

// NewJournalEntry builds the metadata entry for a relayed message.
func NewJournalEntry(seq uint64, in Inbound) JournalEntry {
	sum := sha256.Sum256(in.Msg.Data)
	at := in.ReceivedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return JournalEntry{
		RelaySeq:  seq,
		SessionID: in.SessionID,
		Peer:      in.From,
		Username:  in.Msg.User(),
		Size:      len(in.Msg.Data),
		Digest:    hex.EncodeToString(sum[:]),
		At:        at,
	}
}

func clampJournalLimit(limit int) int {
	if limit <= 0 {
		return defaultJournalLimit
	}
	if limit > maxJournalLimit {
		return maxJournalLimit
	}
	return limit
}
