// Package usage persists per-day/per-key/per-model token accounting to a
// local SQLite database, implementing agent.UsageRecorder. Grounded on
// original_source/app/utils/core/optimization.py's record_token_usage /
// get_key_token_stats: never store the credential itself, only a truncated
// SHA-256 digest, one aggregate row per (date, key_hash, model).
package usage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/opengemini/gemproxy/internal/upstream"
)

// Record is one (date, key, model) aggregate row, as returned by Totals.
type Record struct {
	Date         string
	KeyHash      string
	Model        string
	InputTokens  int64
	OutputTokens int64
	RequestCount int64
}

// Store is a SQLite-backed usage ledger. Safe for concurrent use: every
// method goes through *sql.DB, which pools and serializes its own
// connections.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or attaches to the token_usage table at path. An empty path
// opens an in-memory database, useful for tests.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("usage: open %s: %w", path, err)
	}

	s := &Store{db: db, logger: logger.With("component", "usage")}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS token_usage (
			date            TEXT NOT NULL,
			key_hash        TEXT NOT NULL,
			model_name      TEXT NOT NULL,
			input_tokens    INTEGER NOT NULL DEFAULT 0,
			output_tokens   INTEGER NOT NULL DEFAULT 0,
			request_count   INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (date, key_hash, model_name)
		)
	`)
	if err != nil {
		return fmt.Errorf("usage: create table: %w", err)
	}
	return nil
}

// RecordUsage implements agent.UsageRecorder. A write failure is logged,
// never returned: losing one usage row must not disturb the chat response
// that already streamed to the client.
func (s *Store) RecordUsage(apiKey, model string, u *upstream.UsageMetadata) {
	if apiKey == "" || model == "" || u == nil {
		return
	}

	keyHash := hashKey(apiKey)
	today := time.Now().UTC().Format("2006-01-02")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO token_usage (date, key_hash, model_name, input_tokens, output_tokens, request_count)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT (date, key_hash, model_name) DO UPDATE SET
			input_tokens  = input_tokens + excluded.input_tokens,
			output_tokens = output_tokens + excluded.output_tokens,
			request_count = request_count + 1
	`, today, keyHash, model, u.PromptTokenCount, u.CandidatesTokenCount)
	if err != nil {
		s.logger.Warn("usage: record failed", "error", err, "model", model)
	}
}

// Totals returns every aggregate row, most recent date first, for an
// external reporting surface (out of scope here beyond the query itself).
func (s *Store) Totals(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, key_hash, model_name, input_tokens, output_tokens, request_count
		FROM token_usage
		ORDER BY date DESC, key_hash, model_name
	`)
	if err != nil {
		return nil, fmt.Errorf("usage: query totals: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Date, &r.KeyHash, &r.Model, &r.InputTokens, &r.OutputTokens, &r.RequestCount); err != nil {
			return nil, fmt.Errorf("usage: scan totals: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func hashKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])[:16]
}
