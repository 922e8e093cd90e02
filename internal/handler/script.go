package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

const defaultScriptTimeout = 10 * time.Second

// RunScript выполняет JS-скрипт над данными контекста.
//
// Данные доступны скрипту как объект $; скрипт мутирует его,
// итоговое состояние $ возвращается как output. Пример:
//
//	$.total = $.price * $.qty;
//	delete $.price;
//
// Скрипт прерывается при отмене ctx или по таймауту.
func RunScript(ctx context.Context, script string, data map[string]any) (map[string]any, error) {
	if data == nil {
		data = map[string]any{}
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal context: %v", ErrScript, err)
	}

	ctx, cancel := context.WithTimeout(ctx, defaultScriptTimeout)
	defer cancel()

	vm := goja.New()

	// Прерывание VM при отмене ctx
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	src := fmt.Sprintf("var $ = %s;\n%s", raw, script)
	if _, err := vm.RunString(src); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScript, err)
	}

	val, err := vm.RunString("$")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScript, err)
	}

	res, err := json.Marshal(val.Export())
	if err != nil {
		return nil, fmt.Errorf("%w: marshal result: %v", ErrScript, err)
	}
	var output map[string]any
	if err := json.Unmarshal(res, &output); err != nil {
		return nil, fmt.Errorf("%w: script result is not an object", ErrScript)
	}
	return output, nil
}
