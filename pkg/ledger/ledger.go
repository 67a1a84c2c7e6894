// Package ledger persists per-response usage and cost rows in a local
// SQLite file so usage can be summarized after the traced process exits.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agenttrace-ai/agenttrace/pkg/models"
)

// Ledger records and queries usage rows. A nil *Ledger is safe: every
// method is a no-op, so the pipeline can run without one.
type Ledger struct {
	db *sql.DB
}

const createUsageTable = `
CREATE TABLE IF NOT EXISTS usage_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	prompt_tokens INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	total_tokens INTEGER NOT NULL,
	cost_usd REAL NOT NULL DEFAULT 0,
	estimated INTEGER NOT NULL DEFAULT 0,
	streaming INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_usage_session_time ON usage_records(session_id, created_at);
CREATE INDEX IF NOT EXISTS idx_usage_model ON usage_records(provider, model);
`

// Open creates a Ledger at dbPath and runs auto-migration. Idempotent.
func Open(dbPath string) (*Ledger, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	if _, err := db.Exec(createUsageTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger db: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Record stores one usage row.
func (l *Ledger) Record(ctx context.Context, rec models.UsageRecord) error {
	if l == nil || l.db == nil {
		return nil
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO usage_records
		 (session_id, provider, model, prompt_tokens, completion_tokens, total_tokens,
		  cost_usd, estimated, streaming, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Provider, rec.Model,
		rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens,
		rec.CostUSD, rec.Estimated, rec.Streaming, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// Summary returns usage aggregated by provider and model since a given time.
func (l *Ledger) Summary(ctx context.Context, since time.Time) ([]models.UsageSummary, error) {
	if l == nil || l.db == nil {
		return nil, nil
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT provider, model, COUNT(*), SUM(prompt_tokens), SUM(completion_tokens),
		        SUM(total_tokens), SUM(cost_usd)
		 FROM usage_records WHERE created_at >= ?
		 GROUP BY provider, model ORDER BY provider, model`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("usage summary: %w", err)
	}
	defer rows.Close()

	var summaries []models.UsageSummary
	for rows.Next() {
		var s models.UsageSummary
		if err := rows.Scan(&s.Provider, &s.Model, &s.RequestCount,
			&s.TotalPrompt, &s.TotalCompletion, &s.TotalTokens, &s.TotalCostUSD); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Sessions returns per-session totals since a given time, most recent first.
func (l *Ledger) Sessions(ctx context.Context, since time.Time) ([]models.SessionTotals, error) {
	if l == nil || l.db == nil {
		return nil, nil
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT session_id, COUNT(*), SUM(total_tokens), SUM(cost_usd),
		        MIN(created_at), MAX(created_at)
		 FROM usage_records WHERE created_at >= ?
		 GROUP BY session_id ORDER BY MAX(created_at) DESC`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("session totals: %w", err)
	}
	defer rows.Close()

	var totals []models.SessionTotals
	for rows.Next() {
		var t models.SessionTotals
		if err := rows.Scan(&t.SessionID, &t.RequestCount, &t.TotalTokens,
			&t.TotalCostUSD, &t.FirstSeen, &t.LastSeen); err != nil {
			return nil, fmt.Errorf("scan session totals: %w", err)
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// SessionTotals returns the totals for one session.
func (l *Ledger) SessionTotals(ctx context.Context, sessionID string) (models.SessionTotals, error) {
	var t models.SessionTotals
	if l == nil || l.db == nil {
		return t, nil
	}
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(total_tokens), 0), COALESCE(SUM(cost_usd), 0),
		        COALESCE(MIN(created_at), CURRENT_TIMESTAMP), COALESCE(MAX(created_at), CURRENT_TIMESTAMP)
		 FROM usage_records WHERE session_id = ?`,
		sessionID,
	).Scan(&t.RequestCount, &t.TotalTokens, &t.TotalCostUSD, &t.FirstSeen, &t.LastSeen)
	if err != nil {
		return t, fmt.Errorf("session totals: %w", err)
	}
	t.SessionID = sessionID
	return t, nil
}

// Close releases the database connection. Safe on nil.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}
