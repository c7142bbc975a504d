package sheet

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/kempenbot/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteGateway implements Gateway on a local SQLite database. Each
// completed session becomes one row in the leads table; the idempotency
// key is the primary key, so replayed appends are acknowledged without
// writing a second row.
type SQLiteGateway struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the leads database.
func NewSQLite(dbPath string) (*SQLiteGateway, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for concurrent session workers appending independently.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	g := &SQLiteGateway{db: db}
	if err := g.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return g, nil
}

func (g *SQLiteGateway) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS leads (
		idempotency_key TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		agent TEXT NOT NULL,
		campaign TEXT NOT NULL,
		profile_json TEXT NOT NULL,
		premium_annual TEXT,
		premium_monthly TEXT,
		consent TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_leads_created ON leads(created_at);
	`
	if _, err := g.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

type storedField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Append writes one lead row. Collected values pass through the keyword
// mapping so the stored row carries readable labels.
func (g *SQLiteGateway) Append(ctx context.Context, rec *domain.LeadRecord, idempotencyKey string) error {
	fields := make([]storedField, 0, len(rec.Fields))
	for _, f := range rec.Fields {
		fields = append(fields, storedField{Name: f.Name, Value: MapFieldValue(f.Name, f.Value)})
	}
	profileJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("%w: encode profile: %v", ErrAppendFailed, err)
	}

	query := `
	INSERT INTO leads (
		idempotency_key, session_id, agent, campaign, profile_json,
		premium_annual, premium_monthly, consent, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(idempotency_key) DO NOTHING`

	_, err = g.db.ExecContext(ctx, query,
		idempotencyKey, rec.SessionID, rec.Agent, MapKeyword(rec.Campaign),
		string(profileJSON), rec.PremiumAnnual, rec.PremiumMonthly,
		rec.Consent, rec.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAppendFailed, err)
	}
	return nil
}

// Count returns the number of stored leads. Used by tests and the
// health handler.
func (g *SQLiteGateway) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := g.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leads`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count leads: %w", err)
	}
	return n, nil
}

// Ping verifies database connectivity.
func (g *SQLiteGateway) Ping(ctx context.Context) error {
	return g.db.PingContext(ctx)
}

// Close closes the database connection.
func (g *SQLiteGateway) Close() error {
	if err := g.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
