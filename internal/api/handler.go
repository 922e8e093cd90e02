package api

import (
	"log/slog"

	"github.com/shaiso/Dirigent/internal/engine"
	"github.com/shaiso/Dirigent/internal/handler"
	"github.com/shaiso/Dirigent/internal/mq"
	"github.com/shaiso/Dirigent/internal/store"
)

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	engine      *engine.Engine
	definitions store.DefinitionStore
	registry    *handler.Registry
	publisher   *mq.Publisher
	logger      *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Engine      *engine.Engine
	Definitions store.DefinitionStore
	Registry    *handler.Registry
	Publisher   *mq.Publisher
	Logger      *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		engine:      cfg.Engine,
		definitions: cfg.Definitions,
		registry:    cfg.Registry,
		publisher:   cfg.Publisher,
		logger:      logger,
	}
}
