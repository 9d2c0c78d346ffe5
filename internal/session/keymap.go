package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Mapping attributes a downstream-assigned resource key id to the user
// and session that requested it.
type Mapping struct {
	KeyID     string
	UserID    string
	SessionID string
}

// KeyMap persists key/session mappings in PostgreSQL. The dialogue engine
// writes on successful creates; the ingestion consumer reads all mappings
// to attribute completed provisioning output.
type KeyMap struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewKeyMap creates a key/session mapping store.
func NewKeyMap(pool *pgxpool.Pool, logger *slog.Logger) *KeyMap {
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyMap{pool: pool, logger: logger}
}

// Put records a key id for the given user and session. Re-recording the
// same key id overwrites the attribution.
func (k *KeyMap) Put(ctx context.Context, keyID, userID, sessionID string) error {
	const query = `
		INSERT INTO key_session_mappings (key_id, user_id, session_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (key_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			session_id = EXCLUDED.session_id`

	if _, err := k.pool.Exec(ctx, query, keyID, userID, sessionID); err != nil {
		return fmt.Errorf("recording key mapping %s: %w", keyID, err)
	}

	k.logger.Debug("key mapping recorded", "key_id", keyID, "session_id", sessionID)
	return nil
}

// All returns every recorded mapping keyed by key id.
func (k *KeyMap) All(ctx context.Context) (map[string]Mapping, error) {
	rows, err := k.pool.Query(ctx, `SELECT key_id, user_id, session_id FROM key_session_mappings`)
	if err != nil {
		return nil, fmt.Errorf("listing key mappings: %w", err)
	}
	defer rows.Close()

	mappings := make(map[string]Mapping)
	for rows.Next() {
		var m Mapping
		if err := rows.Scan(&m.KeyID, &m.UserID, &m.SessionID); err != nil {
			return nil, fmt.Errorf("scanning key mapping: %w", err)
		}
		mappings[m.KeyID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading key mappings: %w", err)
	}
	return mappings, nil
}
