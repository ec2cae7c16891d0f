package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"locket-relay/internal/tokens"
)

const (
	ddlTokens = `CREATE TABLE IF NOT EXISTS tokens (
		token TEXT PRIMARY KEY,
		rate_limit INTEGER NOT NULL DEFAULT 60,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		comment TEXT
	);`
	ddlTokensIndex = `CREATE INDEX IF NOT EXISTS idx_tokens_created_at ON tokens (created_at);`

	queryTimeout = 5 * time.Second
)

// Token is a row of the tokens table.
type Token struct {
	Token     string
	RateLimit int
	Comment   string
	CreatedAt time.Time
}

type TokenRepository struct {
	DB  *DB
	DSN string
}

func NewTokenRepository(db *DB, dsn string) *TokenRepository {
	return &TokenRepository{DB: db, DSN: dsn}
}

// VerifySchema checks that the database is reachable and creates the tokens
// table when it is missing.
func VerifySchema(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	return ensureSchema(ctx, db)
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, ddlTokens); err != nil {
		return fmt.Errorf("create tokens table: %w", err)
	}
	if _, err := db.ExecContext(ctx, ddlTokensIndex); err != nil {
		return fmt.Errorf("create tokens index: %w", err)
	}
	return nil
}

func (r *TokenRepository) open(ctx context.Context) (*sql.DB, error) {
	db, err := r.DB.Get(r.DSN)
	if err != nil {
		return nil, err
	}
	if err := ensureSchema(ctx, db); err != nil {
		return nil, err
	}
	return db, nil
}

func (r *TokenRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.open(ctx)
	return err
}

// LoadTokens reads every token with its rate limit.
func (r *TokenRepository) LoadTokens(ctx context.Context) (map[string]tokens.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	db, err := r.open(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT token, rate_limit, comment FROM tokens;`)
	if err != nil {
		return nil, fmt.Errorf("query tokens: %w", err)
	}
	defer rows.Close()

	out := make(map[string]tokens.Entry)
	for rows.Next() {
		var (
			token   string
			limit   int
			comment sql.NullString
		)
		if err := rows.Scan(&token, &limit, &comment); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		out[token] = tokens.Entry{RateLimit: limit, Comment: comment.String}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// AddToken inserts a token or updates the limit and comment of an existing one.
func (r *TokenRepository) AddToken(ctx context.Context, token string, rateLimit int, comment string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token is empty")
	}
	if rateLimit < 0 {
		return errors.New("rate limit must not be negative")
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	db, err := r.open(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO tokens (token, rate_limit, comment) VALUES ($1, $2, NULLIF($3, ''))
		 ON CONFLICT (token) DO UPDATE SET rate_limit = EXCLUDED.rate_limit, comment = EXCLUDED.comment;`,
		token, rateLimit, comment)
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// ListTokens returns all tokens, oldest first.
func (r *TokenRepository) ListTokens(ctx context.Context) ([]Token, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	db, err := r.open(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT token, rate_limit, comment, created_at FROM tokens ORDER BY created_at;`)
	if err != nil {
		return nil, fmt.Errorf("query tokens: %w", err)
	}
	defer rows.Close()

	var out []Token
	for rows.Next() {
		var (
			t       Token
			comment sql.NullString
		)
		if err := rows.Scan(&t.Token, &t.RateLimit, &comment, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		t.Comment = comment.String
		out = append(out, t)
	}
	return out, rows.Err()
}
