package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// PostgresDocuments stores JSON documents in a single JSONB table keyed by
// (container, id).
type PostgresDocuments struct {
	db *sql.DB
}

func NewPostgresDocuments(db *sql.DB) *PostgresDocuments {
	return &PostgresDocuments{db: db}
}

func (s *PostgresDocuments) Get(ctx context.Context, container, id string) (Record, int64, error) {
	var (
		body    []byte
		version int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT body, version FROM documents WHERE container=$1 AND id=$2`, container, id).Scan(&body, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("get %s/%s: %w", container, id, err)
	}
	rec, err := unmarshalRecord(body)
	if err != nil {
		return nil, 0, fmt.Errorf("get %s/%s: %w", container, id, err)
	}
	return rec, version, nil
}

func (s *PostgresDocuments) Create(ctx context.Context, container string, rec Record) error {
	id := rec.ID()
	if id == "" {
		return fmt.Errorf("create %s: document id is required", container)
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("create %s/%s: %w", container, id, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (container, id, body)
		VALUES ($1, $2, $3::jsonb)
	`, container, id, string(body))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create %s/%s: %w", container, id, err)
	}
	return nil
}

func (s *PostgresDocuments) Replace(ctx context.Context, container string, rec Record, ifVersion int64) error {
	id := rec.ID()
	if id == "" {
		return fmt.Errorf("replace %s: document id is required", container)
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("replace %s/%s: %w", container, id, err)
	}

	query := `UPDATE documents SET body=$3::jsonb, version=version+1, updated_at=NOW() WHERE container=$1 AND id=$2`
	args := []any{container, id, string(body)}
	if ifVersion > 0 {
		query += ` AND version=$4`
		args = append(args, ifVersion)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("replace %s/%s: %w", container, id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("replace %s/%s: %w", container, id, err)
	}
	if affected > 0 {
		return nil
	}
	if ifVersion > 0 {
		if _, _, getErr := s.Get(ctx, container, id); getErr == nil {
			return ErrVersionMismatch
		}
	}
	return ErrNotFound
}

func (s *PostgresDocuments) Delete(ctx context.Context, container, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE container=$1 AND id=$2`, container, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", container, id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", container, id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresDocuments) Query(ctx context.Context, container string, q Query) ([]Record, error) {
	query, args, err := buildDocumentQuery(container, q)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", container, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan %s: %w", container, err)
		}
		rec, err := unmarshalRecord(body)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", container, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", container, err)
	}
	return records, nil
}

func buildDocumentQuery(container string, q Query) (string, []any, error) {
	args := []any{container}
	bind := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	clauses := []string{"container = $1"}
	for _, cond := range q.Where {
		clause, err := condSQL(cond, bind)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, clause)
	}
	if len(q.AnyOf) > 0 {
		alternatives := make([]string, 0, len(q.AnyOf))
		for _, cond := range q.AnyOf {
			clause, err := condSQL(cond, bind)
			if err != nil {
				return "", nil, err
			}
			alternatives = append(alternatives, clause)
		}
		clauses = append(clauses, "("+strings.Join(alternatives, " OR ")+")")
	}

	var b strings.Builder
	b.WriteString("SELECT body FROM documents WHERE ")
	b.WriteString(strings.Join(clauses, " AND "))

	if q.SortBy != "" {
		direction := "ASC"
		if q.Desc {
			direction = "DESC"
		}
		fmt.Fprintf(&b, " ORDER BY (body ->> %s::text)::timestamptz %s NULLS LAST, id ASC", bind(q.SortBy), direction)
	} else {
		b.WriteString(" ORDER BY id ASC")
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %s", bind(q.Limit))
	}
	if q.Offset > 0 {
		fmt.Fprintf(&b, " OFFSET %s", bind(q.Offset))
	}
	return b.String(), args, nil
}

func condSQL(cond Cond, bind func(any) string) (string, error) {
	if cond.Field == "" {
		return "", errors.New("query condition requires a field")
	}
	switch cond.Op {
	case OpEq:
		raw, err := json.Marshal(cond.Value)
		if err != nil {
			return "", fmt.Errorf("encode condition on %s: %w", cond.Field, err)
		}
		return fmt.Sprintf("body -> %s::text = %s::jsonb", bind(cond.Field), bind(string(raw))), nil
	case OpIn:
		values, ok := cond.Value.([]string)
		if !ok {
			return "", fmt.Errorf("condition on %s: in expects []string", cond.Field)
		}
		return fmt.Sprintf("body ->> %s::text = ANY(%s::text[])", bind(cond.Field), bind(values)), nil
	case OpBefore, OpSince, OpUntil:
		at, ok := cond.Value.(time.Time)
		if !ok {
			return "", fmt.Errorf("condition on %s: %s expects time.Time", cond.Field, cond.Op)
		}
		operator := map[Op]string{OpBefore: "<", OpSince: ">=", OpUntil: "<="}[cond.Op]
		return fmt.Sprintf("(body ->> %s::text)::timestamptz %s %s", bind(cond.Field), operator, bind(at)), nil
	default:
		return "", fmt.Errorf("unsupported condition operator %q", cond.Op)
	}
}

func unmarshalRecord(body []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return rec, nil
}
