package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Dirigent/internal/domain"
)

// Общие ошибки хранилищ.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("not found")

	// ErrConflict — конкурентная модификация (несовпадение Revision).
	ErrConflict = errors.New("concurrent modification")

	// ErrAlreadyExists — запись уже существует (конфликт уникальности).
	ErrAlreadyExists = errors.New("already exists")

	// ErrImmutable — попытка изменить опубликованную версию определения.
	ErrImmutable = errors.New("published definition is immutable")

	// ErrLockNotHeld — попытка освободить блокировку, которой нет
	// у данного holder.
	ErrLockNotHeld = errors.New("lock not held")
)

// LatestVersion — запросить последнюю версию определения
// (опубликованную, с fallback на последнюю любого статуса).
const LatestVersion = 0

// DefinitionStore — хранилище определений процессов.
type DefinitionStore interface {
	// Get возвращает версию определения. version=LatestVersion —
	// последняя опубликованная, при её отсутствии последняя любого статуса.
	Get(ctx context.Context, id string, version int) (*domain.ProcessDefinition, error)

	// Save сохраняет версию определения. Опубликованные версии
	// неизменяемы: попытка перезаписи возвращает ErrImmutable.
	Save(ctx context.Context, def *domain.ProcessDefinition) error

	// Publish помечает версию опубликованной.
	Publish(ctx context.Context, id string, version int) error

	// Unpublish снимает флаг публикации.
	Unpublish(ctx context.Context, id string, version int) error

	// ListByTrigger возвращает активные опубликованные определения,
	// подписанные на триггер (type, value). Пустой value — любое
	// значение триггера данного типа.
	ListByTrigger(ctx context.Context, t domain.TriggerType, value string) ([]domain.ProcessDefinition, error)
}

// InstanceQuery — параметры выборки экземпляров.
type InstanceQuery struct {
	// DefinitionID — фильтр по определению (пусто — все).
	DefinitionID string

	// Statuses — фильтр по статусам (пусто — все).
	Statuses []domain.InstanceStatus

	// TenantID — фильтр по арендатору.
	TenantID string

	// CorrelationID — фильтр по ключу корреляции.
	CorrelationID string

	// CreatedFrom, CreatedTo — временной диапазон создания.
	CreatedFrom time.Time
	CreatedTo   time.Time

	// Limit, Offset — страница.
	Limit  int
	Offset int
}

// InstanceStore — хранилище экземпляров процессов.
type InstanceStore interface {
	// Get возвращает экземпляр по ID.
	Get(ctx context.Context, id uuid.UUID) (*domain.ProcessInstance, error)

	// Save сохраняет экземпляр и атомарно дописывает записи журнала.
	// Конкурентная модификация (несовпадение Revision) — ErrConflict.
	// Успешный Save инкрементирует Revision экземпляра.
	Save(ctx context.Context, inst *domain.ProcessInstance, history []domain.HistoryEntry) error

	// Query возвращает страницу экземпляров и общее количество
	// подходящих под фильтр.
	Query(ctx context.Context, q InstanceQuery) ([]domain.ProcessInstance, int, error)

	// History возвращает журнал экземпляра в порядке записи.
	History(ctx context.Context, id uuid.UUID) ([]domain.HistoryEntry, error)

	// TryAcquireLock пытается захватить lease-блокировку экземпляра.
	// Возвращает true при успехе; false — блокировка у другого holder
	// и ещё не истекла. Повторный захват тем же holder продлевает lease.
	TryAcquireLock(ctx context.Context, id uuid.UUID, holder string, ttl time.Duration) (bool, error)

	// ReleaseLock освобождает блокировку holder'а.
	ReleaseLock(ctx context.Context, id uuid.UUID, holder string) error

	// GetByBookmarkName возвращает приостановленные экземпляры,
	// имеющие bookmark с данным именем.
	GetByBookmarkName(ctx context.Context, name string) ([]domain.ProcessInstance, error)

	// GetScheduled возвращает таймеры, подлежащие срабатыванию к until.
	GetScheduled(ctx context.Context, until time.Time) ([]domain.Timer, error)
}

// TimerStore — хранилище запланированных возобновлений.
type TimerStore interface {
	// Schedule регистрирует таймер.
	Schedule(ctx context.Context, t *domain.Timer) error

	// GetDue возвращает несработавшие таймеры с DueAt <= until.
	GetDue(ctx context.Context, until time.Time, limit int) ([]domain.Timer, error)

	// MarkTriggered помечает таймер сработавшим.
	MarkTriggered(ctx context.Context, id uuid.UUID) error

	// Cancel удаляет несработавшие таймеры экземпляра по имени bookmark.
	// Пустое имя — все таймеры экземпляра.
	Cancel(ctx context.Context, instanceID uuid.UUID, bookmarkName string) error
}
