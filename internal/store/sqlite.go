package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/ocs-answerer/internal/fingerprint"
	"github.com/sells-group/ocs-answerer/internal/model"
)

// SQLiteStore implements AnswerStore using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	// One connection keeps the pragmas in effect and serializes writers.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db, now: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS answers (
	fingerprint   TEXT PRIMARY KEY,
	id            TEXT NOT NULL,
	question      TEXT NOT NULL,
	question_type TEXT NOT NULL,
	options       TEXT NOT NULL DEFAULT '',
	answer        TEXT NOT NULL,
	source        TEXT NOT NULL,
	bank          TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_answers_question ON answers(question);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Find implements AnswerStore.
func (s *SQLiteStore) Find(ctx context.Context, fp fingerprint.Fingerprint) (*model.Result, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT question, question_type, options, answer, source, bank, created_at FROM answers WHERE fingerprint = ?`,
		string(fp),
	)
	res, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find answer")
	}
	return res, nil
}

// Save implements AnswerStore. The latest write for a fingerprint wins.
func (s *SQLiteStore) Save(ctx context.Context, fp fingerprint.Fingerprint, res *model.Result) error {
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO answers (fingerprint, id, question, question_type, options, answer, source, bank, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (fingerprint) DO UPDATE SET
		   question = excluded.question,
		   question_type = excluded.question_type,
		   options = excluded.options,
		   answer = excluded.answer,
		   source = excluded.source,
		   bank = excluded.bank,
		   updated_at = excluded.updated_at`,
		string(fp), uuid.New().String(), res.Question, string(res.Type), res.Options,
		res.Answer, string(res.Source), res.Bank, now, now,
	)
	return eris.Wrap(err, "sqlite: save answer")
}

// Count implements AnswerStore.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM answers`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count answers")
}

// scanner abstracts *sql.Row and pgx.Row.
type scanner interface {
	Scan(dest ...any) error
}

func scanResult(row scanner) (*model.Result, error) {
	var (
		r      model.Result
		qtype  string
		source string
	)
	if err := row.Scan(&r.Question, &qtype, &r.Options, &r.Answer, &source, &r.Bank, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Type = model.QuestionType(qtype)
	r.Source = model.Source(source)
	return &r, nil
}
