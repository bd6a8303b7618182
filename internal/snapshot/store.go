// Package snapshot persists full-board snapshots to Redis after pipeline
// milestones. Snapshots exist for crash diagnostics, not for resuming a run:
// nothing ever reads them back on startup.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dyluth/drey/pkg/blackboard"
)

// Store writes milestone snapshots for one run. All keys are namespaced by
// the run ID so concurrent runs sharing a Redis server stay isolated.
type Store struct {
	rdb   *redis.Client
	runID string
	ttl   time.Duration
}

// NewStore creates a snapshot store for the given run.
// ttl bounds how long snapshots live; zero keeps them until deleted.
func NewStore(redisOpts *redis.Options, runID string, ttl time.Duration) (*Store, error) {
	if runID == "" {
		return nil, fmt.Errorf("run ID cannot be empty")
	}
	return &Store{
		rdb:   redis.NewClient(redisOpts),
		runID: runID,
		ttl:   ttl,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Key returns the Redis key for a milestone snapshot:
// drey:{run_id}:snapshot:{milestone}
func Key(runID, milestone string) string {
	return fmt.Sprintf("drey:%s:snapshot:%s", runID, milestone)
}

// Save serializes the board and stores it under the milestone key,
// overwriting any earlier snapshot of the same milestone.
func (s *Store) Save(ctx context.Context, milestone string, board *blackboard.Board) error {
	if milestone == "" {
		return fmt.Errorf("milestone cannot be empty")
	}
	data, err := json.Marshal(board)
	if err != nil {
		return fmt.Errorf("failed to serialize board: %w", err)
	}
	if err := s.rdb.Set(ctx, Key(s.runID, milestone), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write snapshot to Redis: %w", err)
	}
	return nil
}

// Load retrieves a milestone snapshot as the serialized board map.
// Returns redis.Nil (check with IsNotFound) if the milestone has no snapshot.
func (s *Store) Load(ctx context.Context, milestone string) (map[string]any, error) {
	data, err := s.rdb.Get(ctx, Key(s.runID, milestone)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, redis.Nil
		}
		return nil, fmt.Errorf("failed to read snapshot from Redis: %w", err)
	}
	var state map[string]any
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	return state, nil
}

// List returns the milestone names with a stored snapshot, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	prefix := Key(s.runID, "")
	var milestones []string
	iter := s.rdb.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		milestones = append(milestones, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	sort.Strings(milestones)
	return milestones, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error
// (redis.Nil).
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
