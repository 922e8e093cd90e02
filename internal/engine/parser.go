package engine

import (
	"encoding/json"
	"fmt"

	"github.com/shaiso/Dirigent/internal/domain"
)

// ParseDefinition разбирает определение процесса из JSON и валидирует
// его структуру компиляцией графа.
//
// ID activities внутри Activities map дублируются в поле ID каждой
// activity, если оно не заполнено.
func ParseDefinition(data []byte) (*domain.ProcessDefinition, error) {
	var def domain.ProcessDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, NewValidationError("", fmt.Sprintf("invalid definition JSON: %v", err), err)
	}

	for id, act := range def.Activities {
		if act.ID == "" {
			act.ID = id
			def.Activities[id] = act
		} else if act.ID != id {
			return nil, NewValidationError(id,
				fmt.Sprintf("activity key %q does not match its id %q", id, act.ID), nil)
		}
	}

	if _, err := Compile(&def); err != nil {
		return nil, NewValidationError(def.ID, err.Error(), err)
	}
	return &def, nil
}
