package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Dirigent/internal/domain"
	"github.com/shaiso/Dirigent/internal/store"
)

// InstanceStore — PostgreSQL-хранилище экземпляров процессов.
//
// Экземпляр хранится целиком в JSONB-колонке data; фильтруемые поля
// (definition_id, status, tenant_id, correlation_id) продублированы
// в колонки. Конкурентные модификации обнаруживаются по revision.
// Журнал дописывается в той же транзакции, что и состояние.
type InstanceStore struct {
	pool *pgxpool.Pool
}

// NewInstanceStore создаёт InstanceStore.
func NewInstanceStore(pool *pgxpool.Pool) *InstanceStore {
	return &InstanceStore{pool: pool}
}

// Get возвращает экземпляр по ID.
func (s *InstanceStore) Get(ctx context.Context, id uuid.UUID) (*domain.ProcessInstance, error) {
	query := `SELECT data FROM process_instances WHERE id = $1`
	return s.scanInstance(s.pool.QueryRow(ctx, query, id))
}

// Save сохраняет экземпляр и атомарно дописывает записи журнала.
// Несовпадение revision — store.ErrConflict. Успешный Save
// инкрементирует Revision экземпляра.
func (s *InstanceStore) Save(ctx context.Context, inst *domain.ProcessInstance, history []domain.HistoryEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	newRev := inst.Revision + 1
	snapshot := *inst
	snapshot.Revision = newRev
	data, err := json.Marshal(&snapshot)
	if err != nil {
		return fmt.Errorf("marshal instance: %w", err)
	}

	if inst.Revision == 0 {
		query := `
			INSERT INTO process_instances
				(id, definition_id, definition_version, tenant_id, correlation_id,
				 status, revision, data, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING
		`
		result, err := tx.Exec(ctx, query,
			inst.ID,
			inst.DefinitionID,
			inst.DefinitionVersion,
			nullString(inst.TenantID),
			nullString(inst.CorrelationID),
			inst.Status,
			newRev,
			data,
			inst.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert instance: %w", err)
		}
		if result.RowsAffected() == 0 {
			return store.ErrConflict
		}
	} else {
		query := `
			UPDATE process_instances
			SET status = $3, revision = $4, data = $5
			WHERE id = $1 AND revision = $2
		`
		result, err := tx.Exec(ctx, query, inst.ID, inst.Revision, inst.Status, newRev, data)
		if err != nil {
			return fmt.Errorf("update instance: %w", err)
		}
		if result.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM process_instances WHERE id = $1)`,
				inst.ID).Scan(&exists); err != nil {
				return fmt.Errorf("check instance: %w", err)
			}
			if !exists {
				return store.ErrNotFound
			}
			return store.ErrConflict
		}
	}

	for i := range history {
		entry := &history[i]
		details, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("marshal history details: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO instance_history (id, instance_id, type, activity_id, message, details, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`,
			entry.ID,
			entry.InstanceID,
			entry.Type,
			nullString(entry.ActivityID),
			nullString(entry.Message),
			details,
			entry.At,
		)
		if err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	inst.Revision = newRev
	return nil
}

// Query возвращает страницу экземпляров и общее количество подходящих
// под фильтр. Сортировка по времени создания, затем по ID — порядок
// детерминирован для одинаковых фильтров.
func (s *InstanceStore) Query(ctx context.Context, q store.InstanceQuery) ([]domain.ProcessInstance, int, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	var statuses []string
	for _, st := range q.Statuses {
		statuses = append(statuses, string(st))
	}

	query := `
		SELECT data, COUNT(*) OVER () AS total
		FROM process_instances
		WHERE ($1::text IS NULL OR definition_id = $1)
		  AND ($2::text[] IS NULL OR status = ANY($2))
		  AND ($3::text IS NULL OR tenant_id = $3)
		  AND ($4::text IS NULL OR correlation_id = $4)
		  AND ($5::timestamptz IS NULL OR created_at >= $5)
		  AND ($6::timestamptz IS NULL OR created_at < $6)
		ORDER BY created_at, id
		LIMIT $7 OFFSET $8
	`
	rows, err := s.pool.Query(ctx, query,
		nullString(q.DefinitionID),
		statuses,
		nullString(q.TenantID),
		nullString(q.CorrelationID),
		nullTime(q.CreatedFrom),
		nullTime(q.CreatedTo),
		limit,
		q.Offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("query instances: %w", err)
	}
	defer rows.Close()

	var instances []domain.ProcessInstance
	total := 0
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data, &total); err != nil {
			return nil, 0, fmt.Errorf("scan instance: %w", err)
		}
		var inst domain.ProcessInstance
		if err := json.Unmarshal(data, &inst); err != nil {
			return nil, 0, fmt.Errorf("unmarshal instance: %w", err)
		}
		instances = append(instances, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	if total == 0 && q.Offset > 0 {
		// Страница за пределами выборки: total приходится считать отдельно
		countQuery := `
			SELECT COUNT(*)
			FROM process_instances
			WHERE ($1::text IS NULL OR definition_id = $1)
			  AND ($2::text[] IS NULL OR status = ANY($2))
			  AND ($3::text IS NULL OR tenant_id = $3)
			  AND ($4::text IS NULL OR correlation_id = $4)
			  AND ($5::timestamptz IS NULL OR created_at >= $5)
			  AND ($6::timestamptz IS NULL OR created_at < $6)
		`
		if err := s.pool.QueryRow(ctx, countQuery,
			nullString(q.DefinitionID),
			statuses,
			nullString(q.TenantID),
			nullString(q.CorrelationID),
			nullTime(q.CreatedFrom),
			nullTime(q.CreatedTo),
		).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("count instances: %w", err)
		}
	}
	return instances, total, nil
}

// History возвращает журнал экземпляра в порядке записи.
func (s *InstanceStore) History(ctx context.Context, id uuid.UUID) ([]domain.HistoryEntry, error) {
	query := `
		SELECT id, instance_id, type, activity_id, message, details, occurred_at
		FROM instance_history
		WHERE instance_id = $1
		ORDER BY seq
	`
	rows, err := s.pool.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var entry domain.HistoryEntry
		var activityID, message *string
		var details []byte

		if err := rows.Scan(
			&entry.ID,
			&entry.InstanceID,
			&entry.Type,
			&activityID,
			&message,
			&details,
			&entry.At,
		); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if activityID != nil {
			entry.ActivityID = *activityID
		}
		if message != nil {
			entry.Message = *message
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &entry.Details); err != nil {
				return nil, fmt.Errorf("unmarshal history details: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// TryAcquireLock пытается захватить lease-блокировку экземпляра.
// Повторный захват тем же holder продлевает lease; блокировка другого
// holder перехватывается после истечения lease.
func (s *InstanceStore) TryAcquireLock(ctx context.Context, id uuid.UUID, holder string, ttl time.Duration) (bool, error) {
	query := `
		INSERT INTO instance_locks (instance_id, holder, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (instance_id) DO UPDATE
		SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
		WHERE instance_locks.holder = EXCLUDED.holder
		   OR instance_locks.expires_at < now()
	`
	result, err := s.pool.Exec(ctx, query, id, holder, time.Now().Add(ttl))
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// ReleaseLock освобождает блокировку holder'а.
func (s *InstanceStore) ReleaseLock(ctx context.Context, id uuid.UUID, holder string) error {
	query := `DELETE FROM instance_locks WHERE instance_id = $1 AND holder = $2`
	result, err := s.pool.Exec(ctx, query, id, holder)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	if result.RowsAffected() == 0 {
		return store.ErrLockNotHeld
	}
	return nil
}

// GetByBookmarkName возвращает приостановленные экземпляры, имеющие
// bookmark с данным именем.
func (s *InstanceStore) GetByBookmarkName(ctx context.Context, name string) ([]domain.ProcessInstance, error) {
	query := `
		SELECT data
		FROM process_instances
		WHERE status = $1
		  AND data->'bookmarks' @> jsonb_build_array(jsonb_build_object('name', $2::text))
		ORDER BY created_at, id
	`
	rows, err := s.pool.Query(ctx, query, domain.StatusSuspended, name)
	if err != nil {
		return nil, fmt.Errorf("query by bookmark: %w", err)
	}
	defer rows.Close()

	var instances []domain.ProcessInstance
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		var inst domain.ProcessInstance
		if err := json.Unmarshal(data, &inst); err != nil {
			return nil, fmt.Errorf("unmarshal instance: %w", err)
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

// GetScheduled возвращает таймеры, подлежащие срабатыванию к until.
func (s *InstanceStore) GetScheduled(ctx context.Context, until time.Time) ([]domain.Timer, error) {
	return scanTimers(ctx, s.pool, until, 0)
}

func (s *InstanceStore) scanInstance(row pgx.Row) (*domain.ProcessInstance, error) {
	var data []byte
	err := row.Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan instance: %w", err)
	}

	var inst domain.ProcessInstance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("unmarshal instance: %w", err)
	}
	return &inst, nil
}

// nullString возвращает nil для пустой строки (NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullTime возвращает nil для нулевого времени (NULL в БД).
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
