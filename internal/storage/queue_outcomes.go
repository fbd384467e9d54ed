package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jediswimmer/ironcurtain/internal/model"
)

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// SaveQueueOutcome persists how a queue entry was resolved: matched, timed
// out, or left voluntarily (spec §3). Queue outcomes are write-once history,
// independent of the rating-update transaction in matches.go.
func (db *DB) SaveQueueOutcome(ctx context.Context, outcome model.QueueOutcome) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO queue_outcomes (agent_id, mode, waited_ms, matched, opponent_id, rating_diff, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		outcome.AgentID, outcome.Mode, outcome.Waited.Milliseconds(), outcome.Matched,
		nullString(outcome.OpponentID), outcome.RatingDiff, outcome.At,
	)
	if err != nil {
		return fmt.Errorf("storage: save queue outcome: %w", err)
	}
	return nil
}

// estimatedWaitSampleSize bounds how many recent matched outcomes for a mode
// feed the average wait estimate.
const estimatedWaitSampleSize = 50

// EstimatedWait implements matchmaker.HistoryOracle: the average wait of the
// most recent matched queue outcomes for mode. depth is unused by this
// implementation (the query itself doesn't need the live queue depth to
// average history), unlike the package's depth-proportional fallback.
func (db *DB) EstimatedWait(mode string, _ int) (time.Duration, bool) {
	var avgMs float64
	err := db.pool.QueryRow(context.Background(),
		`SELECT COALESCE(AVG(waited_ms), 0) FROM (
			SELECT waited_ms FROM queue_outcomes
			WHERE mode = $1 AND matched = true
			ORDER BY occurred_at DESC LIMIT $2
		) recent`,
		mode, estimatedWaitSampleSize,
	).Scan(&avgMs)
	if err != nil || avgMs == 0 {
		return 0, false
	}
	return msToDuration(int64(avgMs)), true
}

// ListQueueOutcomes returns recent queue outcomes for an agent, most recent first.
func (db *DB) ListQueueOutcomes(ctx context.Context, agentID string, limit int) ([]model.QueueOutcome, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	rows, err := db.pool.Query(ctx,
		`SELECT agent_id, mode, waited_ms, matched, COALESCE(opponent_id, ''), rating_diff, occurred_at
		 FROM queue_outcomes WHERE agent_id = $1 ORDER BY occurred_at DESC LIMIT $2`,
		agentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list queue outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []model.QueueOutcome
	for rows.Next() {
		var o model.QueueOutcome
		var waitedMs int64
		if err := rows.Scan(&o.AgentID, &o.Mode, &waitedMs, &o.Matched, &o.OpponentID, &o.RatingDiff, &o.At); err != nil {
			return nil, fmt.Errorf("storage: scan queue outcome: %w", err)
		}
		o.Waited = msToDuration(waitedMs)
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}
