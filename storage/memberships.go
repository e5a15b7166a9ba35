package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"taskmanager/domain"
)

// Memberships keeps task-user rows and contact addresses in PostgreSQL.
// Every call acquires its own connection and releases it before returning;
// transactions never outlive a call.
type Memberships struct {
	pool *pgxpool.Pool
}

// NewPool connects to the membership database.
func NewPool(ctx context.Context, url string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// NewMemberships creates the membership store.
func NewMemberships(pool *pgxpool.Pool) *Memberships {
	return &Memberships{pool: pool}
}

const membershipColumns = "task_id, user_id, role, status, created_at, updated_at"

const insertMembership = `INSERT INTO task_memberships (` + membershipColumns + `)
VALUES ($1, $2, $3, $4, $5, $5)`

func queueInserts(b *pgx.Batch, rows []domain.Membership) {
	for _, m := range rows {
		b.Queue(insertMembership, m.TaskID, m.UserID, string(m.Role), string(m.Status), m.CreatedAt)
	}
}

// Create inserts rows in a single transaction. Nothing is written unless
// every row is.
func (s *Memberships) Create(ctx context.Context, rows []domain.Membership) error {
	if len(rows) == 0 {
		return nil
	}
	taskID := rows[0].TaskID
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return MapError(err, "acquire", "membership", taskID)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return MapError(err, "begin", "membership", taskID)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	b := &pgx.Batch{}
	queueInserts(b, rows)
	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return MapError(err, "insert", "membership", taskID)
	}
	if err := tx.Commit(ctx); err != nil {
		return MapError(err, "commit", "membership", taskID)
	}
	return nil
}

// ReplaceAssignees drops every assignee row of the task and inserts the new
// set. The two statements run separately, so readers may briefly see a task
// without assignees.
func (s *Memberships) ReplaceAssignees(ctx context.Context, taskID string, assignees []string, now time.Time) ([]domain.Membership, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, MapError(err, "acquire", "membership", taskID)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `DELETE FROM task_memberships WHERE task_id = $1 AND role = 'assignee'`, taskID); err != nil {
		return nil, MapError(err, "delete assignees", "membership", taskID)
	}
	rows := domain.AssigneeMemberships(taskID, assignees, now)
	if len(rows) == 0 {
		return rows, nil
	}
	users := make([]string, len(rows))
	for i, m := range rows {
		users[i] = m.UserID
	}
	_, err = conn.Exec(ctx, `INSERT INTO task_memberships (`+membershipColumns+`)
SELECT $1::text, u, 'assignee', 'pending', $3::timestamptz, $3::timestamptz FROM unnest($2::text[]) AS u
ON CONFLICT (task_id, user_id, role) DO NOTHING`, taskID, users, now)
	if err != nil {
		return nil, MapError(err, "insert assignees", "membership", taskID)
	}
	return rows, nil
}

// ForTask lists the rows of one task, creator first.
func (s *Memberships) ForTask(ctx context.Context, taskID string) ([]domain.Membership, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, MapError(err, "acquire", "membership", taskID)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `SELECT `+membershipColumns+` FROM task_memberships
WHERE task_id = $1
ORDER BY CASE role WHEN 'creator' THEN 0 WHEN 'admin' THEN 1 ELSE 2 END, created_at, user_id`, taskID)
	if err != nil {
		return nil, MapError(err, "list", "membership", taskID)
	}
	out, err := pgx.CollectRows(rows, scanMembership)
	if err != nil {
		return nil, MapError(err, "scan", "membership", taskID)
	}
	return out, nil
}

// TaskIDsForUser returns the ids of every task the user belongs to, most
// recently joined first.
func (s *Memberships) TaskIDsForUser(ctx context.Context, userID string) ([]string, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, MapError(err, "acquire", "membership", userID)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `SELECT task_id FROM task_memberships
WHERE user_id = $1
GROUP BY task_id
ORDER BY max(created_at) DESC, task_id`, userID)
	if err != nil {
		return nil, MapError(err, "list by user", "membership", userID)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, MapError(err, "scan", "membership", userID)
	}
	return ids, nil
}

// DeleteTask removes every row of the task inside a transaction and runs
// then before committing. A failing then rolls the deletion back. A failed
// commit is reported as domain.ErrCommitFailed after then already ran.
// The removed rows are returned.
func (s *Memberships) DeleteTask(ctx context.Context, taskID string, then func(context.Context) error) ([]domain.Membership, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, MapError(err, "acquire", "membership", taskID)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return nil, MapError(err, "begin", "membership", taskID)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `DELETE FROM task_memberships WHERE task_id = $1 RETURNING `+membershipColumns, taskID)
	if err != nil {
		return nil, MapError(err, "delete", "membership", taskID)
	}
	removed, err := pgx.CollectRows(rows, scanMembership)
	if err != nil {
		return nil, MapError(err, "delete", "membership", taskID)
	}
	if then != nil {
		if err := then(ctx); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return removed, &domain.DownstreamError{Store: "ros", Op: "commit", Err: fmt.Errorf("%w: %v", domain.ErrCommitFailed, err)}
	}
	return removed, nil
}

// ContactEmail resolves the delivery address of a user.
func (s *Memberships) ContactEmail(ctx context.Context, userID string) (string, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return "", MapError(err, "acquire", "user", userID)
	}
	defer conn.Release()

	var email string
	if err := conn.QueryRow(ctx, `SELECT email FROM users WHERE user_id = $1`, userID).Scan(&email); err != nil {
		return "", MapError(err, "contact", "user", userID)
	}
	if email == "" {
		return "", &domain.NotFoundError{Entity: "contact address for user", ID: userID}
	}
	return email, nil
}

// UpsertContact records the address a user can be notified at.
func (s *Memberships) UpsertContact(ctx context.Context, userID, email, name string) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return MapError(err, "acquire", "user", userID)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `INSERT INTO users (user_id, email, display_name)
VALUES ($1, $2, NULLIF($3, ''))
ON CONFLICT (user_id) DO UPDATE
SET email = EXCLUDED.email,
    display_name = COALESCE(EXCLUDED.display_name, users.display_name),
    updated_at = now()`, userID, email, name)
	return MapError(err, "upsert contact", "user", userID)
}

func scanMembership(row pgx.CollectableRow) (domain.Membership, error) {
	var (
		m            domain.Membership
		role, status string
	)
	if err := row.Scan(&m.TaskID, &m.UserID, &role, &status, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return domain.Membership{}, err
	}
	m.Role = domain.Role(role)
	m.Status = domain.MembershipStatus(status)
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return m, nil
}
