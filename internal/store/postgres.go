package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/ocs-answerer/internal/fingerprint"
	"github.com/sells-group/ocs-answerer/internal/model"
)

// Pool is the subset of pgxpool.Pool used by PostgresStore.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// PostgresStore implements AnswerStore using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
	now     func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, now: time.Now}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS answers (
	fingerprint   TEXT PRIMARY KEY,
	id            TEXT NOT NULL DEFAULT gen_random_uuid()::text,
	question      TEXT NOT NULL,
	question_type TEXT NOT NULL,
	options       TEXT NOT NULL DEFAULT '',
	answer        TEXT NOT NULL,
	source        TEXT NOT NULL,
	bank          TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_answers_question ON answers(question);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Find implements AnswerStore.
func (s *PostgresStore) Find(ctx context.Context, fp fingerprint.Fingerprint) (*model.Result, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT question, question_type, options, answer, source, bank, created_at FROM answers WHERE fingerprint = $1`,
		string(fp),
	)
	res, err := scanResult(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find answer")
	}
	return res, nil
}

// Save implements AnswerStore. The latest write for a fingerprint wins.
func (s *PostgresStore) Save(ctx context.Context, fp fingerprint.Fingerprint, res *model.Result) error {
	now := s.nowUTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO answers (fingerprint, id, question, question_type, options, answer, source, bank, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		 ON CONFLICT (fingerprint) DO UPDATE SET
		   question = EXCLUDED.question,
		   question_type = EXCLUDED.question_type,
		   options = EXCLUDED.options,
		   answer = EXCLUDED.answer,
		   source = EXCLUDED.source,
		   bank = EXCLUDED.bank,
		   updated_at = EXCLUDED.updated_at`,
		string(fp), uuid.New().String(), res.Question, string(res.Type), res.Options,
		res.Answer, string(res.Source), res.Bank, now,
	)
	return eris.Wrap(err, "postgres: save answer")
}

// Count implements AnswerStore.
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM answers`).Scan(&n)
	return n, eris.Wrap(err, "postgres: count answers")
}

func (s *PostgresStore) nowUTC() time.Time {
	if s.now == nil {
		return time.Now().UTC()
	}
	return s.now().UTC()
}
