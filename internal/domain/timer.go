package domain

import (
	"time"

	"github.com/google/uuid"
)

// Timer — запланированное возобновление экземпляра.
//
// Создаётся движком при suspend timer-activity; внешний планировщик
// опрашивает TimerStore.GetDue и вызывает Resume по BookmarkName.
type Timer struct {
	// ID — уникальный идентификатор таймера.
	ID uuid.UUID `json:"id"`

	// InstanceID — экземпляр, который нужно возобновить.
	InstanceID uuid.UUID `json:"instance_id"`

	// BookmarkName — bookmark, по которому выполняется Resume.
	BookmarkName string `json:"bookmark_name"`

	// DueAt — время срабатывания.
	DueAt time.Time `json:"due_at"`

	// Triggered — таймер уже сработал (защита от повторной доставки).
	Triggered bool `json:"triggered"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`
}
