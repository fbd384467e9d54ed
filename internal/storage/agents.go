package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jediswimmer/ironcurtain/internal/model"
	"github.com/jediswimmer/ironcurtain/internal/rating"
)

// RatingOutcome implements arbiter.RatingSource, giving the match arbiter an
// agent's rating state immediately before a completed match updates it.
func (db *DB) RatingOutcome(ctx context.Context, agentID string) (rating.Outcome, error) {
	var o rating.Outcome
	err := db.pool.QueryRow(ctx,
		`SELECT games_played, rating, peak_rating, streak FROM agents WHERE id = $1`, agentID,
	).Scan(&o.GamesPlayed, &o.Rating, &o.PeakRating, &o.Streak)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rating.Outcome{}, fmt.Errorf("storage: agent %s: %w", agentID, ErrNotFound)
		}
		return rating.Outcome{}, fmt.Errorf("storage: rating outcome: %w", err)
	}
	return o, nil
}

// CreateAgent inserts a new agent with the default starting rating.
func (db *DB) CreateAgent(ctx context.Context, agent model.Agent) (model.Agent, error) {
	now := time.Now().UTC()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = now
	if agent.FactionHistory == nil {
		agent.FactionHistory = []model.Faction{}
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO agents (id, name, api_key_hash, rating, peak_rating, wins, losses, draws, games_played, streak, faction_history, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		agent.ID, agent.Name, agent.APIKeyHash, agent.Rating, agent.PeakRating, agent.Wins, agent.Losses,
		agent.Draws, agent.GamesPlayed, agent.Streak, factionsToStrings(agent.FactionHistory),
		agent.CreatedAt, agent.UpdatedAt,
	)
	if err != nil {
		return model.Agent{}, fmt.Errorf("storage: create agent: %w", err)
	}
	return agent, nil
}

// GetAgent retrieves an agent by id.
func (db *DB) GetAgent(ctx context.Context, id string) (model.Agent, error) {
	var a model.Agent
	var history []string
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, api_key_hash, rating, peak_rating, wins, losses, draws, games_played, streak, faction_history, created_at, updated_at
		 FROM agents WHERE id = $1`, id,
	).Scan(
		&a.ID, &a.Name, &a.APIKeyHash, &a.Rating, &a.PeakRating, &a.Wins, &a.Losses,
		&a.Draws, &a.GamesPlayed, &a.Streak, &history, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Agent{}, fmt.Errorf("storage: agent %s: %w", id, ErrNotFound)
		}
		return model.Agent{}, fmt.Errorf("storage: get agent: %w", err)
	}
	a.FactionHistory = stringsToFactions(history)
	return a, nil
}

// ListAgents returns every registered agent, ordered by rating descending.
// limit is clamped to [1, 1000] with a default of 200; offset must be non-negative.
func (db *DB) ListAgents(ctx context.Context, limit, offset int) ([]model.Agent, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, name, api_key_hash, rating, peak_rating, wins, losses, draws, games_played, streak, faction_history, created_at, updated_at
		 FROM agents ORDER BY rating DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list agents: %w", err)
	}
	defer rows.Close()

	var agents []model.Agent
	for rows.Next() {
		var a model.Agent
		var history []string
		if err := rows.Scan(
			&a.ID, &a.Name, &a.APIKeyHash, &a.Rating, &a.PeakRating, &a.Wins, &a.Losses,
			&a.Draws, &a.GamesPlayed, &a.Streak, &history, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan agent: %w", err)
		}
		a.FactionHistory = stringsToFactions(history)
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// CountAgents returns the number of registered agents.
func (db *DB) CountAgents(ctx context.Context) (int, error) {
	var count int
	err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM agents`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("storage: count agents: %w", err)
	}
	return count, nil
}

// FactionHistory implements matchmaker.FactionHistoryProvider, giving the
// tick's faction-assignment step an agent's recent faction-history ring.
// Returns nil (treated as "no history yet") for an unknown agent rather than
// surfacing a lookup error, since a missing agent is not fatal to a tick.
func (db *DB) FactionHistory(agentID string) []model.Faction {
	agent, err := db.GetAgent(context.Background(), agentID)
	if err != nil {
		return nil
	}
	return agent.FactionHistory
}

func factionsToStrings(fs []model.Faction) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = string(f)
	}
	return out
}

func stringsToFactions(ss []string) []model.Faction {
	out := make([]model.Faction, len(ss))
	for i, s := range ss {
		out[i] = model.Faction(s)
	}
	return out
}
