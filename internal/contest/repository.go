package contest

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

// Repository is the durable store behind the contest engine.
type Repository interface {
	CreateContest(ctx context.Context, c *Contest) (int64, error)
	// GetContest returns nil, nil when the contest does not exist.
	GetContest(ctx context.Context, id int64) (*Contest, error)
	// TransitionStatus moves a contest from one status to another and reports
	// whether this call performed the move.
	TransitionStatus(ctx context.Context, id int64, from, to Status) (bool, error)
	DeleteContest(ctx context.Context, id int64) error
	ListAvailable(ctx context.Context, offset, limit int) ([]*Contest, int, error)
	AddMember(ctx context.Context, contestID, userID int64) error
	RemoveMember(ctx context.Context, contestID, userID int64) error
	SaveResult(ctx context.Context, r *Result) error
	ListResults(ctx context.Context, contestID int64) ([]*Result, error)
	// GetExercise returns nil, nil when the exercise does not exist.
	GetExercise(ctx context.Context, id int64) (*Exercise, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

// Open connects to Postgres with the pool settings used by the server.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the tables if they are missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (r *repository) CreateContest(ctx context.Context, c *Contest) (int64, error) {
	if c == nil {
		return 0, fmt.Errorf("nil contest payload")
	}
	const query = `
		INSERT INTO contests (status, amount, exercise_id, creator_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var id int64
	if err := r.db.QueryRowContext(ctx, query, string(c.Status), c.Amount, c.ExerciseID, c.CreatorID, createdAt).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert contest: %w", err)
	}
	c.ID = id
	c.CreatedAt = createdAt
	return id, nil
}

func (r *repository) GetContest(ctx context.Context, id int64) (*Contest, error) {
	const query = `
		SELECT id, status, amount, exercise_id, creator_id, created_at
		FROM contests
		WHERE id = $1`

	var (
		c      Contest
		status string
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(&c.ID, &status, &c.Amount, &c.ExerciseID, &c.CreatorID, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select contest: %w", err)
	}
	c.Status = Status(status)
	return &c, nil
}

func (r *repository) TransitionStatus(ctx context.Context, id int64, from, to Status) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE contests SET status = $3 WHERE id = $1 AND status = $2`, id, string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("update contest status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update contest status: %w", err)
	}
	return n == 1, nil
}

func (r *repository) DeleteContest(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete contest: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM contest_results WHERE contest_id = $1`, id); err != nil {
		return fmt.Errorf("delete contest results: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM contest_members WHERE contest_id = $1`, id); err != nil {
		return fmt.Errorf("delete contest members: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM contests WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete contest: %w", err)
	}
	return tx.Commit()
}

func (r *repository) ListAvailable(ctx context.Context, offset, limit int) ([]*Contest, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM contests WHERE status = $1 AND amount > 1`, string(StatusCreated),
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count available contests: %w", err)
	}

	const query = `
		SELECT id, status, amount, exercise_id, creator_id, created_at
		FROM contests
		WHERE status = $1 AND amount > 1
		ORDER BY created_at DESC, id DESC
		OFFSET $2 LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, string(StatusCreated), offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("select available contests: %w", err)
	}
	defer rows.Close()

	out := make([]*Contest, 0, limit)
	for rows.Next() {
		var (
			c      Contest
			status string
		)
		if err := rows.Scan(&c.ID, &status, &c.Amount, &c.ExerciseID, &c.CreatorID, &c.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan contest: %w", err)
		}
		c.Status = Status(status)
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate contests: %w", err)
	}
	return out, total, nil
}

func (r *repository) AddMember(ctx context.Context, contestID, userID int64) error {
	const query = `
		INSERT INTO contest_members (contest_id, user_id, joined_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (contest_id, user_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, contestID, userID); err != nil {
		return fmt.Errorf("insert contest member: %w", err)
	}
	return nil
}

func (r *repository) RemoveMember(ctx context.Context, contestID, userID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM contest_members WHERE contest_id = $1 AND user_id = $2`, contestID, userID); err != nil {
		return fmt.Errorf("delete contest member: %w", err)
	}
	return nil
}

// SaveResult writes the result row and marks the membership finished in one
// transaction.
func (r *repository) SaveResult(ctx context.Context, res *Result) error {
	if res == nil {
		return fmt.Errorf("nil result payload")
	}
	finishedAt := res.FinishedAt
	if finishedAt.IsZero() {
		finishedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save result: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const insertResult = `
		INSERT INTO contest_results (contest_id, user_id, duration_seconds, speed, accuracy, place, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := tx.ExecContext(ctx, insertResult,
		res.ContestID, res.UserID, res.DurationSeconds, res.Speed, res.Accuracy, string(res.Place), finishedAt,
	); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateResult
		}
		return fmt.Errorf("insert contest result: %w", err)
	}

	const markMember = `
		INSERT INTO contest_members (contest_id, user_id, joined_at, finished_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (contest_id, user_id) DO UPDATE SET finished_at = EXCLUDED.finished_at`
	if _, err := tx.ExecContext(ctx, markMember, res.ContestID, res.UserID, finishedAt); err != nil {
		return fmt.Errorf("mark member finished: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save result: %w", err)
	}
	res.FinishedAt = finishedAt
	return nil
}

func (r *repository) ListResults(ctx context.Context, contestID int64) ([]*Result, error) {
	const query = `
		SELECT contest_id, user_id, duration_seconds, speed, accuracy, place, finished_at
		FROM contest_results
		WHERE contest_id = $1
		ORDER BY CASE place
			WHEN 'FIRST' THEN 0
			WHEN 'SECOND' THEN 1
			WHEN 'THIRD' THEN 2
			ELSE 3 END,
			finished_at ASC`

	rows, err := r.db.QueryContext(ctx, query, contestID)
	if err != nil {
		return nil, fmt.Errorf("select contest results: %w", err)
	}
	defer rows.Close()

	var out []*Result
	for rows.Next() {
		var (
			res   Result
			place string
		)
		if err := rows.Scan(&res.ContestID, &res.UserID, &res.DurationSeconds, &res.Speed, &res.Accuracy, &place, &res.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan contest result: %w", err)
		}
		res.Place = Place(place)
		out = append(out, &res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contest results: %w", err)
	}
	return out, nil
}

func (r *repository) GetExercise(ctx context.Context, id int64) (*Exercise, error) {
	var ex Exercise
	err := r.db.QueryRowContext(ctx, `SELECT id, text, language FROM exercises WHERE id = $1`, id).Scan(&ex.ID, &ex.Text, &ex.Language)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select exercise: %w", err)
	}
	return &ex, nil
}
