package relay

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresJournal is a Journal backed by PostgreSQL.
//
// Ownership model:
// - PostgresJournal does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Sequence allocation uses an identity column, so Seq survives restarts and
// is strictly increasing (gaps are possible after rolled back inserts).
type PostgresJournal struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresJournal behavior.
type PostgresOption func(*PostgresJournal) error

// WithSchema sets the DB schema used by the journal (default: "cipherchat").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(j *PostgresJournal) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("relay: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("relay: invalid schema identifier")
		}
		j.schema = schema
		return nil
	}
}

// NewPostgresJournal constructs a Postgres-backed Journal.
func NewPostgresJournal(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresJournal, error) {
	j := &PostgresJournal{
		pool:   pool,
		schema: "cipherchat",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(j); err != nil {
			return nil, err
		}
	}
	if j.pool == nil {
		return nil, errors.New("relay: nil pool")
	}
	return j, nil
}

// Close is a no-op because the pool is owned by the caller.
func (j *PostgresJournal) Close() error { return nil }

// Migrate creates the schema and journal table when missing.
func (j *PostgresJournal) Migrate(ctx context.Context) error {
	table := pgIdent(j.schema, "relay_journal")
	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + pgx.Identifier{j.schema}.Sanitize(),
		`CREATE TABLE IF NOT EXISTS ` + table + ` (
		     seq        bigint GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		     relay_seq  bigint      NOT NULL,
		     session_id text        NOT NULL,
		     peer       text        NOT NULL,
		     username   text        NOT NULL,
		     size       integer     NOT NULL,
		     digest     text        NOT NULL,
		     created_at timestamptz NOT NULL
		 )`,
	}
	for _, stmt := range stmts {
		if _, err := j.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Append inserts in and returns it with the allocated sequence.
func (j *PostgresJournal) Append(ctx context.Context, in JournalEntry) (JournalRecord, error) {
	if j == nil || j.pool == nil {
		return JournalRecord{}, errors.New("relay: nil journal")
	}
	if in.SessionID == "" {
		return JournalRecord{}, errors.New("invalid input")
	}
	if err := ctx.Err(); err != nil {
		return JournalRecord{}, err
	}

	var seq int64
	if err := j.pool.QueryRow(ctx,
		`INSERT INTO `+pgIdent(j.schema, "relay_journal")+` (
		     relay_seq, session_id, peer, username, size, digest, created_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING seq`,
		int64(in.RelaySeq), in.SessionID, in.Peer, in.Username, in.Size, in.Digest, in.At,
	).Scan(&seq); err != nil {
		return JournalRecord{}, err
	}

	return JournalRecord{Seq: seq, JournalEntry: in}, nil
}

// Recent returns up to limit of the newest records ordered by seq ASC.
func (j *PostgresJournal) Recent(ctx context.Context, limit int) ([]JournalRecord, error) {
	if j == nil || j.pool == nil {
		return nil, errors.New("relay: nil journal")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = clampJournalLimit(limit)

	rows, err := j.pool.Query(ctx,
		`SELECT seq, relay_seq, session_id, peer, username, size, digest, created_at
		   FROM (
		     SELECT * FROM `+pgIdent(j.schema, "relay_journal")+`
		      ORDER BY seq DESC
		      LIMIT $1
		   ) newest
		  ORDER BY seq ASC`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]JournalRecord, 0, limit)
	for rows.Next() {
		var (
			r        JournalRecord
			relaySeq int64
		)
		if err := rows.Scan(&r.Seq, &relaySeq, &r.SessionID, &r.Peer, &r.Username, &r.Size, &r.Digest, &r.At); err != nil {
			return nil, err
		}
		r.RelaySeq = uint64(relaySeq)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
