package handler

import (
	"context"
	"fmt"
)

// TransformHandler — встроенный обработчик "transform".
//
// Проецирует данные контекста в новый набор полей через jsonpath.
//
// Input:
//
//	{
//	    "mappings": {
//	        "user_id":  "$.user.id",
//	        "greeting": "hello {$.user.name}"
//	    },
//	    "data": { ... }   // данные для резолвинга (подставляет движок)
//	}
//
// Output: результаты резолвинга mappings.
type TransformHandler struct{}

// NewTransformHandler создаёт новый TransformHandler.
func NewTransformHandler() *TransformHandler {
	return &TransformHandler{}
}

// Execute выполняет трансформацию.
func (h *TransformHandler) Execute(ctx context.Context, inv Invocation) (map[string]any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	mappings := parseMappings(inv.Input)
	if len(mappings) == 0 {
		return map[string]any{}, nil
	}

	data, _ := inv.Input["data"].(map[string]any)
	if data == nil {
		data = map[string]any{}
	}

	output := make(map[string]any, len(mappings))
	for key, expr := range mappings {
		value, err := Lookup(data, expr)
		if err != nil {
			return nil, fmt.Errorf("transform %s: %w", key, err)
		}
		output[key] = value
	}
	return output, nil
}

// parseMappings извлекает mappings из input.
func parseMappings(input map[string]any) map[string]string {
	raw := input["mappings"]
	if raw == nil {
		return nil
	}

	switch m := raw.(type) {
	case map[string]string:
		return m
	case map[string]any:
		result := make(map[string]string, len(m))
		for key, val := range m {
			if str, ok := val.(string); ok {
				result[key] = str
			}
		}
		return result
	default:
		return nil
	}
}
