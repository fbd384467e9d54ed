package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jediswimmer/ironcurtain/internal/arbiter"
	"github.com/jediswimmer/ironcurtain/internal/model"
)

// maxResultRetries bounds retries of a transient transaction conflict when
// two concurrently-completing matches touch the same agent row.
const maxResultRetries = 3

// SaveResult persists a match's terminal result and every participant's
// updated rating state in one transaction: both agents' rating, counters,
// streak, and faction history are updated together, or neither is, matching
// the atomicity the rating store is required to provide (spec §5). Grounded
// on the teacher's CreateAgentWithAudit begin/defer-rollback/commit shape.
func (db *DB) SaveResult(ctx context.Context, result model.MatchResult, updates []arbiter.ParticipantUpdate) error {
	return WithRetry(ctx, maxResultRetries, 50*time.Millisecond, func() error {
		return db.saveResultOnce(ctx, result, updates)
	})
}

func (db *DB) saveResultOnce(ctx context.Context, result model.MatchResult, updates []arbiter.ParticipantUpdate) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin save result tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO matches (match_id, mode, map, winner_id, loser_id, draw, status, reason, duration_ms, delta_a, delta_b, agent_a_id, agent_b_id, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		result.MatchID, result.Mode, result.Map, nullString(result.WinnerID), nullString(result.LoserID),
		result.Draw, string(result.Status), result.Reason, result.Duration.Milliseconds(),
		result.DeltaA, result.DeltaB, result.AgentAID, result.AgentBID, result.FinishedAt,
	); err != nil {
		return fmt.Errorf("storage: insert match result: %w", err)
	}

	for _, u := range updates {
		if err := applyParticipantUpdateTx(ctx, tx, u); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit save result tx: %w", err)
	}
	return nil
}

// GetMatchResult retrieves a persisted match result by id, for a match that
// has already been evicted from the arbiter manager's in-memory retention
// window (spec §4.2).
func (db *DB) GetMatchResult(ctx context.Context, matchID string) (model.MatchResult, error) {
	var r model.MatchResult
	var winnerID, loserID *string
	var status string
	var durationMs int64
	err := db.pool.QueryRow(ctx,
		`SELECT match_id, mode, map, winner_id, loser_id, draw, status, reason, duration_ms, delta_a, delta_b, agent_a_id, agent_b_id, finished_at
		 FROM matches WHERE match_id = $1`, matchID,
	).Scan(
		&r.MatchID, &r.Mode, &r.Map, &winnerID, &loserID, &r.Draw, &status, &r.Reason,
		&durationMs, &r.DeltaA, &r.DeltaB, &r.AgentAID, &r.AgentBID, &r.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.MatchResult{}, fmt.Errorf("storage: match %s: %w", matchID, ErrNotFound)
		}
		return model.MatchResult{}, fmt.Errorf("storage: get match result: %w", err)
	}
	if winnerID != nil {
		r.WinnerID = *winnerID
	}
	if loserID != nil {
		r.LoserID = *loserID
	}
	r.Status = model.MatchStatus(status)
	r.Duration = msToDuration(durationMs)
	return r, nil
}

// factionHistoryWindow bounds the persisted faction_history column to the
// same depth as model.Agent.RecordFaction's in-memory ring, so a tie-break
// read back through FactionHistory never sees more than the agent's last ten
// games (spec §3 "bounded FIFO history of the last ten factions played").
const factionHistoryWindow = 10

func applyParticipantUpdateTx(ctx context.Context, tx pgx.Tx, u arbiter.ParticipantUpdate) error {
	_, err := tx.Exec(ctx,
		`WITH appended AS (
		     SELECT array_append(faction_history, $8::text) AS hist
		     FROM agents WHERE id = $9
		 )
		 UPDATE agents
		 SET rating = $1,
		     peak_rating = $2,
		     streak = $3,
		     games_played = games_played + $4,
		     wins = wins + $5,
		     losses = losses + $6,
		     draws = draws + $7,
		     faction_history = (
		         SELECT hist[GREATEST(array_length(hist, 1) - $10 + 1, 1):array_length(hist, 1)]
		         FROM appended
		     ),
		     updated_at = now()
		 WHERE id = $9`,
		u.NewRating, u.PeakRating, u.NewStreak, u.GamesPlayed,
		boolToInt(u.Win), boolToInt(u.Loss), boolToInt(u.Draw), string(u.Faction), u.AgentID, factionHistoryWindow,
	)
	if err != nil {
		return fmt.Errorf("storage: update agent %s rating: %w", u.AgentID, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
