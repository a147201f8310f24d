// Package db mirrors cycle results into Postgres so they can be queried next
// to the JSON log. It is optional: the monitor runs without a DSN.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/onnwee/botwatch/monitor"
)

// Connect opens a Postgres pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	database.SetMaxOpenConns(4)
	database.SetConnMaxIdleTime(5 * time.Minute)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := database.PingContext(pctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return database, nil
}

// Migrate applies the schema with idempotent statements. It is the fallback
// when versioned migrations cannot run.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cycle_results (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			channel_id TEXT NOT NULL,
			video_id TEXT NOT NULL,
			concurrent_viewers INTEGER NOT NULL,
			unique_chatter_count INTEGER NOT NULL,
			total_messages_collected INTEGER NOT NULL,
			average_messages_per_chatter DOUBLE PRECISION NOT NULL,
			potentially_suspicious_chatters INTEGER NOT NULL,
			estimated_real_viewers INTEGER NOT NULL,
			estimated_bot_viewers INTEGER NOT NULL,
			raw_chat_to_viewer_ratio DOUBLE PRECISION NOT NULL,
			adjusted_chat_to_viewer_ratio DOUBLE PRECISION NOT NULL,
			estimation_method TEXT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cycle_results_channel_ts ON cycle_results(channel_id, ts)`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return nil
}

// Setup runs versioned migrations and falls back to Migrate if they fail.
func Setup(ctx context.Context, db *sql.DB) error {
	if err := RunMigrations(db); err != nil {
		slog.Warn("versioned migrations failed, falling back to embedded SQL", slog.Any("err", err), slog.String("component", "db_migrate"))
		return Migrate(ctx, db)
	}
	return nil
}

// ResultStore appends cycle results to the cycle_results table.
type ResultStore struct {
	db *sql.DB
}

func NewResultStore(db *sql.DB) *ResultStore { return &ResultStore{db: db} }

// Append inserts r. It implements monitor.Sink.
func (s *ResultStore) Append(ctx context.Context, r monitor.CycleResult) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO cycle_results (
		ts, channel_id, video_id, concurrent_viewers,
		unique_chatter_count, total_messages_collected, average_messages_per_chatter, potentially_suspicious_chatters,
		estimated_real_viewers, estimated_bot_viewers, raw_chat_to_viewer_ratio, adjusted_chat_to_viewer_ratio, estimation_method
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		r.Timestamp, r.ChannelID, r.VideoID, r.ConcurrentViewers,
		r.UniqueChatterCount, r.TotalMessagesCollected, r.AverageMessagesPerChatter, r.PotentiallySuspiciousChatters,
		r.EstimatedRealViewers, r.EstimatedBotViewers, r.RawChatToViewerRatio, r.AdjustedChatToViewerRatio, r.EstimationMethod)
	if err != nil {
		return fmt.Errorf("insert cycle result: %w", err)
	}
	return nil
}

// Recent returns up to limit results, newest first.
func (s *ResultStore) Recent(ctx context.Context, limit int) ([]monitor.CycleResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT ts, channel_id, video_id, concurrent_viewers,
		unique_chatter_count, total_messages_collected, average_messages_per_chatter, potentially_suspicious_chatters,
		estimated_real_viewers, estimated_bot_viewers, raw_chat_to_viewer_ratio, adjusted_chat_to_viewer_ratio, estimation_method
		FROM cycle_results ORDER BY ts DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()
	out := make([]monitor.CycleResult, 0, limit)
	for rows.Next() {
		var r monitor.CycleResult
		if err := rows.Scan(&r.Timestamp, &r.ChannelID, &r.VideoID, &r.ConcurrentViewers,
			&r.UniqueChatterCount, &r.TotalMessagesCollected, &r.AverageMessagesPerChatter, &r.PotentiallySuspiciousChatters,
			&r.EstimatedRealViewers, &r.EstimatedBotViewers, &r.RawChatToViewerRatio, &r.AdjustedChatToViewerRatio, &r.EstimationMethod); err != nil {
			return nil, err
		}
		r.Timestamp = r.Timestamp.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
