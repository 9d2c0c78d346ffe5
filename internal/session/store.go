// Package session provides durable per-conversation dialogue state and
// the key/session mapping consumed by the result-ingestion pipeline.
//
// Session state lives in Redis keyed by session id. Each turn does one
// read-modify-write; concurrent turns on the same session are
// last-write-wins; the calling client enforces turn-taking.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrEmptySessionID indicates a request without a session id.
var ErrEmptySessionID = errors.New("empty session id")

const keyPrefix = "session:"

// Store persists dialogue state in Redis.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	rdb    *redis.Client
	ttl    time.Duration // 0 = no expiry
	logger *slog.Logger
}

// NewStore creates a session store. ttl of zero keeps sessions forever.
func NewStore(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{rdb: rdb, ttl: ttl, logger: logger}
}

// Get retrieves the session state. An absent session is not an error: it
// returns the zero State, which creates the session implicitly on the
// next Put.
func (s *Store) Get(ctx context.Context, sessionID string) (State, error) {
	if sessionID == "" {
		return State{}, ErrEmptySessionID
	}

	data, err := s.rdb.Get(ctx, keyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("reading session %s: %w", sessionID, err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("decoding session %s: %w", sessionID, err)
	}
	return st, nil
}

// Put writes the session state verbatim. Writing the zero State (empty
// intent, nil slots) clears the session, making it immediately reusable.
func (s *Store) Put(ctx context.Context, sessionID string, st State) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}

	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", sessionID, err)
	}

	if err := s.rdb.Set(ctx, keyPrefix+sessionID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("writing session %s: %w", sessionID, err)
	}

	s.logger.Debug("session written", "session_id", sessionID, "intent", st.Intent)
	return nil
}

// Clear resets the session to the awaiting-intent state, keeping the
// user attribution.
func (s *Store) Clear(ctx context.Context, sessionID, userID string) error {
	return s.Put(ctx, sessionID, State{UserID: userID})
}
