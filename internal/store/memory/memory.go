// Package memory — встроенная реализация хранилищ.
//
// Используется в тестах и для локальной разработки без Postgres.
// Потокобезопасна; Get/Save работают с копиями, чтобы читатели видели
// только закоммиченные снимки.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Dirigent/internal/domain"
	"github.com/shaiso/Dirigent/internal/store"
)

// Store — связка встроенных хранилищ над общим состоянием.
type Store struct {
	Definitions *DefinitionStore
	Instances   *InstanceStore
	Timers      *TimerStore
}

// New создаёт пустой Store.
func New() *Store {
	st := &state{
		definitions: make(map[string]map[int]*domain.ProcessDefinition),
		instances:   make(map[uuid.UUID]*domain.ProcessInstance),
		history:     make(map[uuid.UUID][]domain.HistoryEntry),
		locks:       make(map[uuid.UUID]lease),
		timers:      make(map[uuid.UUID]*domain.Timer),
	}
	return &Store{
		Definitions: &DefinitionStore{st: st},
		Instances:   &InstanceStore{st: st},
		Timers:      &TimerStore{st: st},
	}
}

// state — общее состояние хранилищ.
type state struct {
	mu sync.RWMutex

	// definitions: id → version → определение.
	definitions map[string]map[int]*domain.ProcessDefinition

	// instances: id → экземпляр.
	instances map[uuid.UUID]*domain.ProcessInstance

	// history: instanceID → журнал в порядке записи.
	history map[uuid.UUID][]domain.HistoryEntry

	// locks: instanceID → lease.
	locks map[uuid.UUID]lease

	// timers: timerID → таймер.
	timers map[uuid.UUID]*domain.Timer
}

type lease struct {
	holder  string
	expires time.Time
}

// --- DefinitionStore ---

// DefinitionStore — встроенное хранилище определений.
type DefinitionStore struct {
	st *state
}

// Get возвращает версию определения (store.LatestVersion — последняя
// опубликованная, при отсутствии — последняя любого статуса).
func (s *DefinitionStore) Get(ctx context.Context, id string, version int) (*domain.ProcessDefinition, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()

	versions, ok := s.st.definitions[id]
	if !ok || len(versions) == 0 {
		return nil, fmt.Errorf("definition %s: %w", id, store.ErrNotFound)
	}

	if version != store.LatestVersion {
		def, ok := versions[version]
		if !ok {
			return nil, fmt.Errorf("definition %s v%d: %w", id, version, store.ErrNotFound)
		}
		return cloneJSON(def)
	}

	var best, bestAny *domain.ProcessDefinition
	for _, def := range versions {
		if bestAny == nil || def.Version > bestAny.Version {
			bestAny = def
		}
		if def.Published && (best == nil || def.Version > best.Version) {
			best = def
		}
	}
	if best == nil {
		best = bestAny
	}
	return cloneJSON(best)
}

// Save сохраняет версию определения.
func (s *DefinitionStore) Save(ctx context.Context, def *domain.ProcessDefinition) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	versions, ok := s.st.definitions[def.ID]
	if !ok {
		versions = make(map[int]*domain.ProcessDefinition)
		s.st.definitions[def.ID] = versions
	}

	if existing, ok := versions[def.Version]; ok && existing.Published {
		return fmt.Errorf("definition %s v%d: %w", def.ID, def.Version, store.ErrImmutable)
	}

	clone, err := cloneJSON(def)
	if err != nil {
		return err
	}
	versions[def.Version] = clone
	return nil
}

// Publish помечает версию опубликованной.
func (s *DefinitionStore) Publish(ctx context.Context, id string, version int) error {
	return s.setPublished(id, version, true)
}

// Unpublish снимает флаг публикации.
func (s *DefinitionStore) Unpublish(ctx context.Context, id string, version int) error {
	return s.setPublished(id, version, false)
}

func (s *DefinitionStore) setPublished(id string, version int, published bool) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	def, ok := s.st.definitions[id][version]
	if !ok {
		return fmt.Errorf("definition %s v%d: %w", id, version, store.ErrNotFound)
	}
	def.Published = published
	return nil
}

// ListByTrigger возвращает активные опубликованные определения по триггеру.
func (s *DefinitionStore) ListByTrigger(ctx context.Context, t domain.TriggerType, value string) ([]domain.ProcessDefinition, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()

	var result []domain.ProcessDefinition
	for _, versions := range s.st.definitions {
		// Последняя опубликованная активная версия каждого определения.
		var latest *domain.ProcessDefinition
		for _, def := range versions {
			if def.Published && def.IsActive && (latest == nil || def.Version > latest.Version) {
				latest = def
			}
		}
		if latest == nil {
			continue
		}
		for _, trig := range latest.Triggers {
			if trig.Type == t && (value == "" || trig.Value == value) {
				clone, err := cloneJSON(latest)
				if err != nil {
					return nil, err
				}
				result = append(result, *clone)
				break
			}
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// --- InstanceStore ---

// InstanceStore — встроенное хранилище экземпляров.
type InstanceStore struct {
	st *state
}

// Get возвращает экземпляр по ID.
func (s *InstanceStore) Get(ctx context.Context, id uuid.UUID) (*domain.ProcessInstance, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()

	inst, ok := s.st.instances[id]
	if !ok {
		return nil, fmt.Errorf("instance %s: %w", id, store.ErrNotFound)
	}
	return cloneJSON(inst)
}

// Save сохраняет экземпляр и атомарно дописывает журнал.
func (s *InstanceStore) Save(ctx context.Context, inst *domain.ProcessInstance, history []domain.HistoryEntry) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	existing, ok := s.st.instances[inst.ID]
	if ok && existing.Revision != inst.Revision {
		return fmt.Errorf("instance %s rev %d != %d: %w",
			inst.ID, inst.Revision, existing.Revision, store.ErrConflict)
	}

	inst.Revision++
	clone, err := cloneJSON(inst)
	if err != nil {
		inst.Revision--
		return err
	}
	s.st.instances[inst.ID] = clone
	s.st.history[inst.ID] = append(s.st.history[inst.ID], history...)
	return nil
}

// Query возвращает страницу экземпляров и общее количество подходящих.
func (s *InstanceStore) Query(ctx context.Context, q store.InstanceQuery) ([]domain.ProcessInstance, int, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()

	var matched []*domain.ProcessInstance
	for _, inst := range s.st.instances {
		if matchesQuery(inst, q) {
			matched = append(matched, inst)
		}
	}

	// Стабильный порядок: новые первыми, при равенстве — по ID.
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})

	total := len(matched)

	offset := q.Offset
	if offset > total {
		offset = total
	}
	end := total
	if q.Limit > 0 && offset+q.Limit < end {
		end = offset + q.Limit
	}

	page := make([]domain.ProcessInstance, 0, end-offset)
	for _, inst := range matched[offset:end] {
		clone, err := cloneJSON(inst)
		if err != nil {
			return nil, 0, err
		}
		page = append(page, *clone)
	}
	return page, total, nil
}

func matchesQuery(inst *domain.ProcessInstance, q store.InstanceQuery) bool {
	if q.DefinitionID != "" && inst.DefinitionID != q.DefinitionID {
		return false
	}
	if q.TenantID != "" && inst.TenantID != q.TenantID {
		return false
	}
	if q.CorrelationID != "" && inst.CorrelationID != q.CorrelationID {
		return false
	}
	if len(q.Statuses) > 0 {
		found := false
		for _, st := range q.Statuses {
			if inst.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !q.CreatedFrom.IsZero() && inst.CreatedAt.Before(q.CreatedFrom) {
		return false
	}
	if !q.CreatedTo.IsZero() && inst.CreatedAt.After(q.CreatedTo) {
		return false
	}
	return true
}

// History возвращает журнал экземпляра в порядке записи.
func (s *InstanceStore) History(ctx context.Context, id uuid.UUID) ([]domain.HistoryEntry, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()

	entries := s.st.history[id]
	out := make([]domain.HistoryEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// TryAcquireLock пытается захватить lease-блокировку экземпляра.
func (s *InstanceStore) TryAcquireLock(ctx context.Context, id uuid.UUID, holder string, ttl time.Duration) (bool, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	now := time.Now()
	l, ok := s.st.locks[id]
	if ok && l.holder != holder && l.expires.After(now) {
		return false, nil
	}

	s.st.locks[id] = lease{holder: holder, expires: now.Add(ttl)}
	return true, nil
}

// ReleaseLock освобождает блокировку holder'а.
func (s *InstanceStore) ReleaseLock(ctx context.Context, id uuid.UUID, holder string) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	l, ok := s.st.locks[id]
	if !ok || l.holder != holder {
		return store.ErrLockNotHeld
	}
	delete(s.st.locks, id)
	return nil
}

// GetByBookmarkName возвращает приостановленные экземпляры с bookmark.
func (s *InstanceStore) GetByBookmarkName(ctx context.Context, name string) ([]domain.ProcessInstance, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()

	var result []domain.ProcessInstance
	for _, inst := range s.st.instances {
		if inst.Status != domain.StatusSuspended {
			continue
		}
		if _, ok := inst.FindBookmark(name); !ok {
			continue
		}
		clone, err := cloneJSON(inst)
		if err != nil {
			return nil, err
		}
		result = append(result, *clone)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// GetScheduled возвращает таймеры, подлежащие срабатыванию к until.
func (s *InstanceStore) GetScheduled(ctx context.Context, until time.Time) ([]domain.Timer, error) {
	return (&TimerStore{st: s.st}).GetDue(ctx, until, 0)
}

// --- TimerStore ---

// TimerStore — встроенное хранилище таймеров.
type TimerStore struct {
	st *state
}

// Schedule регистрирует таймер.
func (s *TimerStore) Schedule(ctx context.Context, t *domain.Timer) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	if _, ok := s.st.timers[t.ID]; ok {
		return fmt.Errorf("timer %s: %w", t.ID, store.ErrAlreadyExists)
	}
	clone := *t
	s.st.timers[t.ID] = &clone
	return nil
}

// GetDue возвращает несработавшие таймеры с DueAt <= until.
// limit <= 0 — без ограничения.
func (s *TimerStore) GetDue(ctx context.Context, until time.Time, limit int) ([]domain.Timer, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()

	var due []domain.Timer
	for _, t := range s.st.timers {
		if !t.Triggered && !t.DueAt.After(until) {
			due = append(due, *t)
		}
	}

	sort.Slice(due, func(i, j int) bool { return due[i].DueAt.Before(due[j].DueAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// MarkTriggered помечает таймер сработавшим.
func (s *TimerStore) MarkTriggered(ctx context.Context, id uuid.UUID) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	t, ok := s.st.timers[id]
	if !ok {
		return fmt.Errorf("timer %s: %w", id, store.ErrNotFound)
	}
	t.Triggered = true
	return nil
}

// Cancel удаляет несработавшие таймеры экземпляра.
func (s *TimerStore) Cancel(ctx context.Context, instanceID uuid.UUID, bookmarkName string) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	for id, t := range s.st.timers {
		if t.InstanceID != instanceID || t.Triggered {
			continue
		}
		if bookmarkName == "" || t.BookmarkName == bookmarkName {
			delete(s.st.timers, id)
		}
	}
	return nil
}

// --- Клонирование ---

// Копии через JSON: не быстро, но гарантирует изоляцию вложенных map/slice.
func cloneJSON[T any](v *T) (*T, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("clone marshal: %w", err)
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("clone unmarshal: %w", err)
	}
	return &out, nil
}
