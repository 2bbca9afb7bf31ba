package assignment

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/foursyz/policyd/internal/platform/db"
	"github.com/foursyz/policyd/internal/shared"
)

const assignmentColumns = `id, user_id, policy_id, assigned_at, assigned_by, expires_at, notes, active, updated_at`

// PostgresRepository provides PostgreSQL backed persistence.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository constructs a repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Upsert writes the pair in one statement. The policy row is share-locked so a
// concurrent delete cannot leave a fresh assignment dangling.
func (r *PostgresRepository) Upsert(ctx context.Context, a Assignment) (Assignment, error) {
	var stored Assignment
	err := db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		var policyID string
		err := tx.QueryRow(ctx, `SELECT id FROM policies WHERE id = $1 FOR SHARE`, a.PolicyID).Scan(&policyID)
		if errors.Is(err, pgx.ErrNoRows) {
			return shared.NotFoundf("policy %q", a.PolicyID)
		}
		if err != nil {
			return err
		}
		row := tx.QueryRow(ctx, `INSERT INTO policy_assignments (`+assignmentColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (user_id, policy_id) DO UPDATE
SET expires_at = EXCLUDED.expires_at, notes = EXCLUDED.notes, active = EXCLUDED.active, updated_at = EXCLUDED.updated_at
RETURNING `+assignmentColumns,
			a.ID, a.UserID, a.PolicyID, a.AssignedAt, a.AssignedBy, a.ExpiresAt, a.Notes, a.Active, a.UpdatedAt)
		stored, err = scanAssignment(row)
		return err
	})
	if err != nil {
		return Assignment{}, err
	}
	return stored, nil
}

// Delete removes the pair.
func (r *PostgresRepository) Delete(ctx context.Context, userID, policyID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM policy_assignments WHERE user_id = $1 AND policy_id = $2`, userID, policyID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundf("assignment of policy %q to user %q", policyID, userID)
	}
	return nil
}

// ListForUser returns the user's assignments.
func (r *PostgresRepository) ListForUser(ctx context.Context, userID string) ([]Assignment, error) {
	return r.query(ctx, `SELECT `+assignmentColumns+` FROM policy_assignments WHERE user_id = $1 ORDER BY assigned_at, id`, userID)
}

// ListAll returns every assignment.
func (r *PostgresRepository) ListAll(ctx context.Context) ([]Assignment, error) {
	return r.query(ctx, `SELECT `+assignmentColumns+` FROM policy_assignments ORDER BY assigned_at, id`)
}

// ListActiveForUser returns the user's effective assignments at now.
func (r *PostgresRepository) ListActiveForUser(ctx context.Context, userID string, now time.Time) ([]Assignment, error) {
	return r.query(ctx, `SELECT `+assignmentColumns+` FROM policy_assignments
WHERE user_id = $1 AND active AND (expires_at IS NULL OR expires_at > $2)
ORDER BY assigned_at, id`, userID, now)
}

// ListActiveForPolicy returns the policy's effective assignments at now.
func (r *PostgresRepository) ListActiveForPolicy(ctx context.Context, policyID string, now time.Time) ([]Assignment, error) {
	return r.query(ctx, `SELECT `+assignmentColumns+` FROM policy_assignments
WHERE policy_id = $1 AND active AND (expires_at IS NULL OR expires_at > $2)
ORDER BY assigned_at, id`, policyID, now)
}

// DeleteExpired removes assignments expired at now.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM policy_assignments WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// Counts returns totals at now.
func (r *PostgresRepository) Counts(ctx context.Context, now time.Time) (Counts, error) {
	var c Counts
	err := r.pool.QueryRow(ctx, `SELECT
	COUNT(*),
	COUNT(*) FILTER (WHERE active AND (expires_at IS NULL OR expires_at > $1)),
	COUNT(*) FILTER (WHERE expires_at IS NOT NULL AND expires_at <= $1)
FROM policy_assignments`, now).Scan(&c.Total, &c.Active, &c.Expired)
	if err != nil {
		return Counts{}, err
	}
	return c, nil
}

func (r *PostgresRepository) query(ctx context.Context, sql string, args ...any) ([]Assignment, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]Assignment, 0)
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func scanAssignment(row pgx.Row) (Assignment, error) {
	var a Assignment
	err := row.Scan(&a.ID, &a.UserID, &a.PolicyID, &a.AssignedAt, &a.AssignedBy, &a.ExpiresAt, &a.Notes, &a.Active, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Assignment{}, shared.NotFoundf("assignment")
	}
	if err != nil {
		return Assignment{}, err
	}
	a.AssignedAt = a.AssignedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	if a.ExpiresAt != nil {
		t := a.ExpiresAt.UTC()
		a.ExpiresAt = &t
	}
	return a, nil
}
