// Package monitoring - ledger.go persists compaction pass outcomes.
//
// DESIGN: An append-only sqlite table, one row per pass. The ledger stores
// pass-level counts and the no-op reason, never payload content, so a user's
// notes and chat text stay out of the database. The row history lets
// telemetry distinguish tuning problems (streaks of no_candidates or
// no_reduction) from transient failures (high_failure_rate bursts).
package monitoring

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/notewell/context-engine/internal/compaction"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS compaction_passes (
	id               TEXT PRIMARY KEY,
	created_at       TIMESTAMP NOT NULL,
	was_compacted    INTEGER NOT NULL,
	noop_reason      TEXT NOT NULL DEFAULT '',
	original_chars   INTEGER NOT NULL,
	compacted_chars  INTEGER NOT NULL,
	items_processed  INTEGER NOT NULL,
	items_summarized INTEGER NOT NULL,
	target_chars     INTEGER NOT NULL DEFAULT 0,
	target_met       INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_passes_created_at ON compaction_passes(created_at);
`

// Ledger records compaction passes to a sqlite database.
type Ledger struct {
	db *sql.DB
}

// OpenLedger opens (creating if needed) the ledger database at path.
func OpenLedger(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if _, err := db.Exec(ledgerSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init ledger schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// RecordCompaction appends one pass. Write failures are logged, not
// returned: the ledger must never block or fail a chat request.
func (l *Ledger) RecordCompaction(res compaction.Result) {
	id := uuid.NewString()
	_, err := l.db.Exec(`
		INSERT INTO compaction_passes
			(id, created_at, was_compacted, noop_reason, original_chars,
			 compacted_chars, items_processed, items_summarized, target_chars, target_met)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, time.Now().UTC(), res.WasCompacted, string(res.NoOpReason),
		res.OriginalCharCount, res.CompactedCharCount,
		res.ItemsProcessed, res.ItemsSummarized,
		res.TargetCharCount, res.TargetMet,
	)
	if err != nil {
		log.Warn().Err(err).Str("pass_id", id).Msg("ledger: failed to record compaction pass")
	}
}

// PassRecord is one persisted pass.
type PassRecord struct {
	ID              string
	CreatedAt       time.Time
	WasCompacted    bool
	NoOpReason      string
	OriginalChars   int
	CompactedChars  int
	ItemsProcessed  int
	ItemsSummarized int
	TargetChars     int
	TargetMet       bool
}

// RecentPasses returns up to limit passes, newest first.
func (l *Ledger) RecentPasses(limit int) ([]PassRecord, error) {
	rows, err := l.db.Query(`
		SELECT id, created_at, was_compacted, noop_reason, original_chars,
		       compacted_chars, items_processed, items_summarized, target_chars, target_met
		FROM compaction_passes
		ORDER BY created_at DESC, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var records []PassRecord
	for rows.Next() {
		var r PassRecord
		if err := rows.Scan(&r.ID, &r.CreatedAt, &r.WasCompacted, &r.NoOpReason,
			&r.OriginalChars, &r.CompactedChars, &r.ItemsProcessed,
			&r.ItemsSummarized, &r.TargetChars, &r.TargetMet); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
