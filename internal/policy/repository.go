package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/foursyz/policyd/internal/shared"
)

const uniqueViolation = "23505"

const selectPolicy = `SELECT id, name, description, version, statements, created_at, updated_at FROM policies`

// PostgresRepository provides PostgreSQL backed persistence.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository constructs a repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Insert stores a new policy.
func (r *PostgresRepository) Insert(ctx context.Context, p Policy) error {
	doc, err := json.Marshal(p.Statements)
	if err != nil {
		return fmt.Errorf("encode statements: %w", err)
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO policies (id, name, description, version, statements, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, p.ID, p.Name, p.Description, p.Version, doc, p.CreatedAt, p.UpdatedAt)
	return mapWriteError(err, p)
}

// Get returns the policy with id.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Policy, error) {
	p, err := scanPolicy(r.pool.QueryRow(ctx, selectPolicy+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Policy{}, shared.NotFoundf("policy %q", id)
	}
	return p, err
}

// GetByName returns the policy with name.
func (r *PostgresRepository) GetByName(ctx context.Context, name string) (Policy, error) {
	p, err := scanPolicy(r.pool.QueryRow(ctx, selectPolicy+` WHERE name = $1`, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return Policy{}, shared.NotFoundf("policy named %q", name)
	}
	return p, err
}

// List returns policies in creation order.
func (r *PostgresRepository) List(ctx context.Context) ([]Policy, error) {
	rows, err := r.pool.Query(ctx, selectPolicy+` ORDER BY created_at, seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// Save replaces the mutable fields of an existing policy.
func (r *PostgresRepository) Save(ctx context.Context, p Policy) error {
	doc, err := json.Marshal(p.Statements)
	if err != nil {
		return fmt.Errorf("encode statements: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE policies SET name = $2, description = $3, version = $4, statements = $5, updated_at = $6
WHERE id = $1`, p.ID, p.Name, p.Description, p.Version, doc, p.UpdatedAt)
	if err != nil {
		return mapWriteError(err, p)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundf("policy %q", p.ID)
	}
	return nil
}

// Delete removes the policy with id.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM policies WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundf("policy %q", id)
	}
	return nil
}

// Count returns the number of policies.
func (r *PostgresRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM policies`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func scanPolicy(row pgx.Row) (Policy, error) {
	var (
		p   Policy
		doc []byte
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Version, &doc, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Policy{}, err
	}
	if err := json.Unmarshal(doc, &p.Statements); err != nil {
		return Policy{}, fmt.Errorf("decode statements of policy %s: %w", p.ID, err)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func mapWriteError(err error, p Policy) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		if pgErr.ConstraintName == "policies_pkey" {
			return shared.ConflictErrorf("policy id %q already exists", p.ID)
		}
		return shared.ConflictErrorf("policy name %q already exists", p.Name)
	}
	return err
}
