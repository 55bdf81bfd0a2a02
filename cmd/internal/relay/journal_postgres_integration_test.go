package relay

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are enabled when CIPHERCHAT_DATABASE_URL is set.
// This keeps local "go test ./..." fast & deterministic without requiring Postgres.

func TestPostgresJournal_AppendAndRecent(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	t.Cleanup(pool.Close)

	schema := "cipherchat_it_" + randomHex(t, 8)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	j := mustNewJournal(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := j.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// Migrate is idempotent.
	if err := j.Migrate(ctx); err != nil {
		t.Fatalf("migrate again: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	var prev int64
	for i := 1; i <= 5; i++ {
		rec, err := j.Append(ctx, JournalEntry{
			RelaySeq:  uint64(i),
			SessionID: "session-a",
			Peer:      "127.0.0.1:40000",
			Username:  "alice",
			Size:      i,
			Digest:    strings.Repeat("ab", 32),
			At:        now,
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if rec.Seq <= prev {
			t.Fatalf("append %d: seq not increasing: prev=%d got=%d", i, prev, rec.Seq)
		}
		prev = rec.Seq
	}

	got, err := j.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d", len(got))
	}
	for i, r := range got {
		if want := uint64(3 + i); r.RelaySeq != want {
			t.Fatalf("record %d: expected relay_seq=%d got=%d", i, want, r.RelaySeq)
		}
		if !r.At.Equal(now) {
			t.Fatalf("record %d: timestamp mismatch: %v vs %v", i, r.At, now)
		}
	}
}

func TestPostgresJournal_ConcurrentAppends_UniqueSeq(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	t.Cleanup(pool.Close)

	schema := "cipherchat_it_" + randomHex(t, 8)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	j := mustNewJournal(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := j.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	const n = 40
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int64]struct{}, n)
	)
	errCh := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := j.Append(ctx, JournalEntry{RelaySeq: uint64(i), SessionID: "s", At: time.Now().UTC()})
			if err != nil {
				errCh <- err
				return
			}
			mu.Lock()
			seen[rec.Seq] = struct{}{}
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Fatalf("append: %v", err)
	}
	if len(seen) != n {
		t.Fatalf("expected %d unique seq values, got %d", n, len(seen))
	}
}

func TestWithSchema_RejectsInvalidIdentifier(t *testing.T) {
	t.Parallel()

	for _, schema := range []string{"", "  ", "1abc", "bad-name", `x"; DROP TABLE y; --`} {
		j := &PostgresJournal{}
		if err := WithSchema(schema)(j); err == nil {
			t.Fatalf("expected error for schema %q", schema)
		}
	}

	j := &PostgresJournal{}
	if err := WithSchema("cipherchat_it")(j); err != nil {
		t.Fatalf("valid schema rejected: %v", err)
	}
}

func TestNewPostgresJournal_NilPool(t *testing.T) {
	t.Parallel()

	if _, err := NewPostgresJournal(nil); err == nil {
		t.Fatalf("expected error for nil pool")
	}
}

func mustNewJournal(t *testing.T, pool *pgxpool.Pool, schema string) *PostgresJournal {
	t.Helper()

	j, err := NewPostgresJournal(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	return j
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("CIPHERCHAT_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: CIPHERCHAT_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse CIPHERCHAT_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		t.Fatalf("ping: %v", err)
	}
	return pool
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}

func randomHex(t *testing.T, n int) string {
	t.Helper()

	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return hex.EncodeToString(b)
}
