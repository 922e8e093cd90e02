package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Dirigent/internal/domain"
	"github.com/shaiso/Dirigent/internal/store"
)

// DefinitionStore — PostgreSQL-хранилище определений процессов.
//
// Определение хранится целиком в JSONB-колонке data; published и
// is_active продублированы в колонки для индексируемых выборок.
type DefinitionStore struct {
	pool *pgxpool.Pool
}

// NewDefinitionStore создаёт DefinitionStore.
func NewDefinitionStore(pool *pgxpool.Pool) *DefinitionStore {
	return &DefinitionStore{pool: pool}
}

// Get возвращает версию определения. version=store.LatestVersion —
// последняя опубликованная, при её отсутствии последняя любого статуса.
func (s *DefinitionStore) Get(ctx context.Context, id string, version int) (*domain.ProcessDefinition, error) {
	if version == store.LatestVersion {
		query := `
			SELECT data, published, is_active
			FROM process_definitions
			WHERE id = $1
			ORDER BY published DESC, version DESC
			LIMIT 1
		`
		return s.scanDefinition(s.pool.QueryRow(ctx, query, id))
	}

	query := `
		SELECT data, published, is_active
		FROM process_definitions
		WHERE id = $1 AND version = $2
	`
	return s.scanDefinition(s.pool.QueryRow(ctx, query, id, version))
}

// Save сохраняет версию определения. Опубликованные версии неизменяемы:
// попытка перезаписи возвращает store.ErrImmutable.
func (s *DefinitionStore) Save(ctx context.Context, def *domain.ProcessDefinition) error {
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}

	query := `
		INSERT INTO process_definitions (id, version, data, published, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id, version) DO UPDATE
		SET data = EXCLUDED.data,
		    published = EXCLUDED.published,
		    is_active = EXCLUDED.is_active
		WHERE NOT process_definitions.published
	`
	result, err := s.pool.Exec(ctx, query,
		def.ID,
		def.Version,
		data,
		def.Published,
		def.IsActive,
		def.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save definition: %w", err)
	}
	if result.RowsAffected() == 0 {
		return store.ErrImmutable
	}
	return nil
}

// Publish помечает версию опубликованной.
func (s *DefinitionStore) Publish(ctx context.Context, id string, version int) error {
	return s.setPublished(ctx, id, version, true)
}

// Unpublish снимает флаг публикации.
func (s *DefinitionStore) Unpublish(ctx context.Context, id string, version int) error {
	return s.setPublished(ctx, id, version, false)
}

func (s *DefinitionStore) setPublished(ctx context.Context, id string, version int, published bool) error {
	query := `
		UPDATE process_definitions
		SET published = $3,
		    data = jsonb_set(data, '{published}', to_jsonb($3::boolean))
		WHERE id = $1 AND version = $2
	`
	result, err := s.pool.Exec(ctx, query, id, version, published)
	if err != nil {
		return fmt.Errorf("set published: %w", err)
	}
	if result.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListByTrigger возвращает активные опубликованные определения,
// подписанные на триггер (type, value). Пустой value — любое значение
// триггера данного типа. Для каждого определения берётся последняя
// опубликованная версия.
func (s *DefinitionStore) ListByTrigger(ctx context.Context, t domain.TriggerType, value string) ([]domain.ProcessDefinition, error) {
	trigger := map[string]string{"type": string(t)}
	if value != "" {
		trigger["value"] = value
	}
	filter, err := json.Marshal([]map[string]string{trigger})
	if err != nil {
		return nil, fmt.Errorf("marshal trigger filter: %w", err)
	}

	query := `
		SELECT DISTINCT ON (id) data, published, is_active
		FROM process_definitions
		WHERE published AND is_active AND data->'triggers' @> $1::jsonb
		ORDER BY id, version DESC
	`
	rows, err := s.pool.Query(ctx, query, filter)
	if err != nil {
		return nil, fmt.Errorf("list by trigger: %w", err)
	}
	defer rows.Close()

	var defs []domain.ProcessDefinition
	for rows.Next() {
		def, err := s.scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, *def)
	}
	return defs, rows.Err()
}

func (s *DefinitionStore) scanDefinition(row pgx.Row) (*domain.ProcessDefinition, error) {
	var data []byte
	var published, isActive bool

	err := row.Scan(&data, &published, &isActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan definition: %w", err)
	}

	var def domain.ProcessDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	// Колонки авторитетны: Publish обновляет их напрямую
	def.Published = published
	def.IsActive = isActive
	return &def, nil
}
