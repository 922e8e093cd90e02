package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Dirigent/internal/domain"
)

// TimerStore — PostgreSQL-хранилище запланированных возобновлений.
type TimerStore struct {
	pool *pgxpool.Pool
}

// NewTimerStore создаёт TimerStore.
func NewTimerStore(pool *pgxpool.Pool) *TimerStore {
	return &TimerStore{pool: pool}
}

// Schedule регистрирует таймер.
func (s *TimerStore) Schedule(ctx context.Context, t *domain.Timer) error {
	query := `
		INSERT INTO timers (id, instance_id, bookmark_name, due_at, triggered, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.pool.Exec(ctx, query,
		t.ID,
		t.InstanceID,
		t.BookmarkName,
		t.DueAt,
		t.Triggered,
		t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert timer: %w", err)
	}
	return nil
}

// GetDue возвращает несработавшие таймеры с DueAt <= until.
// limit <= 0 — без ограничения.
func (s *TimerStore) GetDue(ctx context.Context, until time.Time, limit int) ([]domain.Timer, error) {
	return scanTimers(ctx, s.pool, until, limit)
}

// MarkTriggered помечает таймер сработавшим.
func (s *TimerStore) MarkTriggered(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE timers SET triggered = TRUE WHERE id = $1`
	if _, err := s.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("mark timer triggered: %w", err)
	}
	return nil
}

// Cancel удаляет несработавшие таймеры экземпляра по имени bookmark.
// Пустое имя — все таймеры экземпляра.
func (s *TimerStore) Cancel(ctx context.Context, instanceID uuid.UUID, bookmarkName string) error {
	query := `
		DELETE FROM timers
		WHERE instance_id = $1
		  AND NOT triggered
		  AND ($2::text IS NULL OR bookmark_name = $2)
	`
	if _, err := s.pool.Exec(ctx, query, instanceID, nullString(bookmarkName)); err != nil {
		return fmt.Errorf("cancel timers: %w", err)
	}
	return nil
}

func scanTimers(ctx context.Context, pool *pgxpool.Pool, until time.Time, limit int) ([]domain.Timer, error) {
	query := `
		SELECT id, instance_id, bookmark_name, due_at, triggered, created_at
		FROM timers
		WHERE NOT triggered AND due_at <= $1
		ORDER BY due_at
	`
	args := []any{until}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query due timers: %w", err)
	}
	defer rows.Close()

	var timers []domain.Timer
	for rows.Next() {
		var t domain.Timer
		if err := rows.Scan(&t.ID, &t.InstanceID, &t.BookmarkName, &t.DueAt, &t.Triggered, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan timer: %w", err)
		}
		timers = append(timers, t)
	}
	return timers, rows.Err()
}
