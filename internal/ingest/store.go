package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// StoredResource is a persisted resource record as served to users.
type StoredResource struct {
	DeploymentID string
	Name         string
	Type         string
	Value        string
	Sensitive    bool
	UserID       string
	SessionID    string
	IPAddress    string
	DNSName      string
	Endpoint     string
	Username     string
	Password     string
	CreatedAt    time.Time
}

// ResourceStore persists classified resources in PostgreSQL.
type ResourceStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewResourceStore(pool *pgxpool.Pool, logger *slog.Logger) *ResourceStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResourceStore{pool: pool, logger: logger}
}

// Save upserts one resource record keyed by deployment id. Replays of the
// same provisioning output overwrite rather than duplicate.
func (s *ResourceStore) Save(ctx context.Context, res Resource) error {
	const query = `
		INSERT INTO provisioned_resources (
			deployment_id, resource_name, user_id, session_id, resource_type,
			value, ip_address, dns_name, endpoint, username, password, is_sensitive
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (deployment_id) DO UPDATE SET
			resource_name = EXCLUDED.resource_name,
			user_id = EXCLUDED.user_id,
			session_id = EXCLUDED.session_id,
			resource_type = EXCLUDED.resource_type,
			value = EXCLUDED.value,
			ip_address = EXCLUDED.ip_address,
			dns_name = EXCLUDED.dns_name,
			endpoint = EXCLUDED.endpoint,
			username = EXCLUDED.username,
			password = EXCLUDED.password,
			is_sensitive = EXCLUDED.is_sensitive`

	_, err := s.pool.Exec(ctx, query,
		res.DeploymentID, res.Name, res.UserID, res.SessionID, res.Type,
		res.Value,
		nullable(res.IPAddress), nullable(res.DNSName), nullable(res.Endpoint),
		nullable(res.Username), nullable(res.Password),
		res.Sensitive,
	)
	if err != nil {
		return fmt.Errorf("storing resource %s: %w", res.DeploymentID, err)
	}

	s.logger.Info("stored resource",
		"deployment_id", res.DeploymentID, "type", res.Type, "sensitive", res.Sensitive)
	return nil
}

// ByUser returns the user's resources, newest first.
func (s *ResourceStore) ByUser(ctx context.Context, userID string) ([]StoredResource, error) {
	const query = `
		SELECT deployment_id, resource_name, user_id, session_id, resource_type,
		       value,
		       COALESCE(ip_address, ''), COALESCE(dns_name, ''), COALESCE(endpoint, ''),
		       COALESCE(username, ''), COALESCE(password, ''),
		       is_sensitive, created_at
		FROM provisioned_resources
		WHERE user_id = $1
		ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("listing resources for %s: %w", userID, err)
	}
	defer rows.Close()

	var resources []StoredResource
	for rows.Next() {
		var r StoredResource
		err := rows.Scan(
			&r.DeploymentID, &r.Name, &r.UserID, &r.SessionID, &r.Type,
			&r.Value,
			&r.IPAddress, &r.DNSName, &r.Endpoint, &r.Username, &r.Password,
			&r.Sensitive, &r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning resource: %w", err)
		}
		resources = append(resources, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading resources: %w", err)
	}
	return resources, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
