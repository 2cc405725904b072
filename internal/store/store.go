// Package store provides Supabase persistence for call transcripts and user
// interest keywords. Row access goes over a direct Postgres connection; the
// Supabase SDK is used for the stored-procedure fan-out exposed through
// PostgREST.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	supabase "github.com/supabase-community/supabase-go"

	"github.com/jonathan/call-insights/internal/gong"
)

// Config holds connection settings for the store.
type Config struct {
	// SupabaseURL is the project URL, e.g. "https://[project-ref].supabase.co".
	SupabaseURL string
	// SupabaseKey is the API key used by the SDK (anon or service_role).
	SupabaseKey string
	// DatabaseURL is the Postgres connection string. When empty it is derived
	// from SupabaseURL and DatabasePassword.
	DatabaseURL string
	// DatabasePassword is the database password, not the API key.
	DatabasePassword string
}

// Store wraps a Postgres pool and the Supabase SDK client.
type Store struct {
	pool *pgxpool.Pool
	sdk  *supabase.Client
}

// Connect initializes the SDK client and the Postgres connection pool.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	sdk, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseKey, nil)
	if err != nil {
		return nil, fmt.Errorf("initialize supabase SDK: %w", err)
	}

	connStr := cfg.DatabaseURL
	if connStr == "" {
		connStr, err = buildConnectionString(cfg.SupabaseURL, cfg.DatabasePassword)
		if err != nil {
			return nil, err
		}
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool, sdk: sdk}, nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CallExists reports whether a call_id is already stored. This is the
// existence half of the check-then-insert dedup; the insert side additionally
// carries ON CONFLICT DO NOTHING so concurrent runs cannot double-insert.
func (s *Store) CallExists(ctx context.Context, callID string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM calls WHERE call_id = $1 LIMIT 1`,
		callID,
	).Scan(&one)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("failed to check call %s: %w", callID, err)
	}
	return true, nil
}

// InsertBatch writes one closed batch of new calls. The transcript is stored
// as JSONB. Rows whose call_id raced in since the existence check are
// silently skipped by the conflict clause.
func (s *Store) InsertBatch(ctx context.Context, batch []gong.CallTranscript) error {
	if len(batch) == 0 {
		return nil
	}

	b := &pgx.Batch{}
	for _, call := range batch {
		transcript, err := json.Marshal(call.Transcript)
		if err != nil {
			return fmt.Errorf("failed to marshal transcript %s: %w", call.CallID, err)
		}
		b.Queue(
			`INSERT INTO calls (call_id, transcript)
			 VALUES ($1, $2)
			 ON CONFLICT (call_id) DO NOTHING`,
			call.CallID, transcript,
		)
	}

	results := s.pool.SendBatch(ctx, b)
	defer results.Close()

	for range batch {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert batch: %w", err)
		}
	}
	return nil
}

// SaveMatchedKeywords attaches classification results to a stored call. Each
// call is updated at most once per run.
func (s *Store) SaveMatchedKeywords(ctx context.Context, callID string, keywords []string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE calls SET matched_keywords = $2 WHERE call_id = $1`,
		callID, keywords,
	)
	if err != nil {
		return fmt.Errorf("failed to save matched keywords for %s: %w", callID, err)
	}
	return nil
}

// interestRow is one row returned by the distinct_interests procedure.
type interestRow struct {
	Interest string `json:"interest"`
}

// rpcError is the PostgREST error envelope.
type rpcError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// DistinctInterests returns the flattened, de-duplicated interest keyword
// list across all users, via the distinct_interests stored procedure. A
// failure here is fatal for the run.
func (s *Store) DistinctInterests(ctx context.Context) ([]string, error) {
	_ = ctx // the SDK does not take a context; the surrounding run deadline applies

	raw := s.sdk.Rpc("distinct_interests", "", nil)
	if raw == "" {
		return nil, fmt.Errorf("distinct_interests rpc returned no data")
	}

	var rows []interestRow
	if err := json.Unmarshal([]byte(raw), &rows); err != nil {
		var rpcErr rpcError
		if jsonErr := json.Unmarshal([]byte(raw), &rpcErr); jsonErr == nil && rpcErr.Message != "" {
			return nil, fmt.Errorf("distinct_interests rpc failed: %s", rpcErr.Message)
		}
		return nil, fmt.Errorf("distinct_interests rpc returned unexpected payload: %w", err)
	}

	seen := make(map[string]bool, len(rows))
	var interests []string
	for _, row := range rows {
		keyword := strings.TrimSpace(row.Interest)
		if keyword == "" || seen[keyword] {
			continue
		}
		seen[keyword] = true
		interests = append(interests, keyword)
	}
	return interests, nil
}

// UserInterest maps one user to their interest keywords.
type UserInterest struct {
	Email     string
	Interests []string
}

// UserInterests reads the per-user interest table, grouped by user email.
func (s *Store) UserInterests(ctx context.Context) ([]UserInterest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT email, interest FROM user_interests ORDER BY email`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list user interests: %w", err)
	}
	defer rows.Close()

	var users []UserInterest
	for rows.Next() {
		var email, interest string
		if err := rows.Scan(&email, &interest); err != nil {
			return nil, fmt.Errorf("failed to scan user interest: %w", err)
		}
		if len(users) > 0 && users[len(users)-1].Email == email {
			users[len(users)-1].Interests = append(users[len(users)-1].Interests, interest)
			continue
		}
		users = append(users, UserInterest{Email: email, Interests: []string{interest}})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read user interests: %w", err)
	}
	return users, nil
}

// buildConnectionString derives the Postgres connection string from the
// Supabase project URL and database password.
func buildConnectionString(supabaseURL, password string) (string, error) {
	if supabaseURL == "" {
		return "", fmt.Errorf("supabase URL is required when connection string is not provided")
	}
	if password == "" {
		return "", fmt.Errorf("database password is required when connection string is not provided")
	}

	parsed, err := url.Parse(supabaseURL)
	if err != nil {
		return "", fmt.Errorf("parse supabase URL: %w", err)
	}

	parts := strings.Split(parsed.Host, ".")
	if len(parts) < 2 {
		return "", fmt.Errorf("invalid supabase URL format: expected [project-ref].supabase.co")
	}
	projectRef := parts[0]

	return fmt.Sprintf(
		"postgresql://postgres:%s@db.%s.supabase.co:5432/postgres?sslmode=require",
		url.QueryEscape(password), projectRef,
	), nil
}
