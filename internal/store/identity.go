package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Identity is the relational footprint of one user: the user row joined with
// its profile, plus linked auth providers.
type Identity struct {
	Profile   map[string]any   `json:"profile"`
	Providers []map[string]any `json:"providers"`
}

// identityPurgeSteps lists relational deletes in dependency order.
var identityPurgeSteps = []struct {
	table     string
	statement string
}{
	{"follows", `DELETE FROM follows WHERE follower_uuid = $1 OR followee_uuid = $1`},
	{"profiles", `DELETE FROM profiles WHERE user_uuid = $1`},
	{"auth_identities", `DELETE FROM auth_identities WHERE user_uuid = $1`},
	{"users", `DELETE FROM users WHERE user_uuid = $1`},
}

var identityCountQueries = []struct {
	location string
	query    string
}{
	{"users", `SELECT COUNT(*) FROM users WHERE user_uuid = $1`},
	{"profiles", `SELECT COUNT(*) FROM profiles WHERE user_uuid = $1`},
	{"auth_identities", `SELECT COUNT(*) FROM auth_identities WHERE user_uuid = $1`},
	{"follows", `SELECT COUNT(*) FROM follows WHERE follower_uuid = $1`},
	{"follows(followee)", `SELECT COUNT(*) FROM follows WHERE followee_uuid = $1`},
}

type PostgresIdentity struct {
	db *sql.DB
}

func NewPostgresIdentity(db *sql.DB) *PostgresIdentity {
	return &PostgresIdentity{db: db}
}

// FetchIdentity returns ErrNotFound when the user row does not exist.
func (s *PostgresIdentity) FetchIdentity(ctx context.Context, userID string) (Identity, error) {
	const profileQuery = `
		SELECT
			u.*,
			p.display_name,
			p.avatar_url,
			p.extras AS profile_extras
		FROM users u
		LEFT JOIN profiles p ON p.user_uuid = u.user_uuid
		WHERE u.user_uuid = $1
	`
	profiles, err := s.queryMaps(ctx, profileQuery, userID)
	if err != nil {
		return Identity{}, fmt.Errorf("fetch identity %s: %w", userID, err)
	}
	if len(profiles) == 0 {
		return Identity{}, ErrNotFound
	}

	providers, err := s.queryMaps(ctx, `
		SELECT provider, subject, created_at
		FROM auth_identities
		WHERE user_uuid = $1
		ORDER BY provider, subject
	`, userID)
	if err != nil {
		return Identity{}, fmt.Errorf("fetch auth identities %s: %w", userID, err)
	}
	if providers == nil {
		providers = []map[string]any{}
	}

	return Identity{Profile: profiles[0], Providers: providers}, nil
}

// PurgeIdentity hard-deletes the relational identity in one transaction and
// returns affected row counts per table.
func (s *PostgresIdentity) PurgeIdentity(ctx context.Context, userID string) (map[string]int64, error) {
	deleted := make(map[string]int64, len(identityPurgeSteps))
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, step := range identityPurgeSteps {
			result, err := tx.ExecContext(ctx, step.statement, userID)
			if err != nil {
				return fmt.Errorf("delete %s: %w", step.table, err)
			}
			affected, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("delete %s: %w", step.table, err)
			}
			deleted[step.table] = affected
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// CountIdentityRows reports how many relational rows still reference userID.
func (s *PostgresIdentity) CountIdentityRows(ctx context.Context, userID string) (map[string]int64, error) {
	counts := make(map[string]int64, len(identityCountQueries))
	for _, item := range identityCountQueries {
		var count int64
		if err := s.db.QueryRowContext(ctx, item.query, userID).Scan(&count); err != nil {
			return nil, fmt.Errorf("count %s: %w", item.location, err)
		}
		counts[item.location] = count
	}
	return counts, nil
}

func (s *PostgresIdentity) queryMaps(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		targets := make([]any, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(columns))
		for i, column := range columns {
			row[column] = normalizeColumn(values[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// normalizeColumn turns driver byte slices into strings, decoding JSON
// columns where possible.
func normalizeColumn(value any) any {
	raw, ok := value.([]byte)
	if !ok {
		return value
	}
	var decoded any
	if json.Valid(raw) && json.Unmarshal(raw, &decoded) == nil {
		if _, isObject := decoded.(map[string]any); isObject {
			return decoded
		}
	}
	return string(raw)
}
