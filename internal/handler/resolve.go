package handler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/oliveagle/jsonpath"
)

var tokenRe = regexp.MustCompile(`\{(.*?)\}`)

// ResolveInputs резолвит "$.path"-выражения во входных параметрах
// относительно данных контекста экземпляра.
//
// Два вида подстановки:
//   - значение целиком равно выражению ("$.user.id") — заменяется
//     значением по пути с сохранением типа;
//   - выражение внутри фигурных скобок ("order {$.order.id}") —
//     строковая интерполяция.
//
// Несуществующий путь резолвится в nil (целиком) или пустую строку
// (интерполяция). Вложенные map и списки обходятся рекурсивно.
func ResolveInputs(data map[string]any, params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	output := make(map[string]any, len(params))
	resolveMap(data, params, output)
	return output
}

func resolveMap(data map[string]any, params map[string]any, output map[string]any) {
	for k, v := range params {
		output[k] = resolveValue(data, v)
	}
}

func resolveValue(data map[string]any, v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		resolveMap(data, val, out)
		return out
	case []any:
		out := make([]any, 0, len(val))
		for _, item := range val {
			out = append(out, resolveValue(data, item))
		}
		return out
	case string:
		return resolveString(data, val)
	default:
		return v
	}
}

func resolveString(data map[string]any, s string) any {
	// Значение целиком — jsonpath-выражение: сохраняем тип
	if strings.HasPrefix(s, "$.") || s == "$" {
		value, err := jsonpath.JsonPathLookup(data, s)
		if err != nil {
			return nil
		}
		return value
	}

	// Интерполяция токенов {$.path}
	tokens := tokenRe.FindAllString(s, -1)
	if len(tokens) == 0 {
		return s
	}
	result := s
	for _, token := range tokens {
		expr := strings.TrimSuffix(strings.TrimPrefix(token, "{"), "}")
		if !strings.HasPrefix(expr, "$") {
			continue
		}
		value, err := jsonpath.JsonPathLookup(data, expr)
		if err != nil {
			value = ""
		}
		result = strings.ReplaceAll(result, token, fmt.Sprintf("%v", value))
	}
	return result
}

// Lookup резолвит одно jsonpath-выражение относительно данных.
// Не-выражение возвращается как есть.
func Lookup(data map[string]any, expr string) (any, error) {
	if !strings.HasPrefix(expr, "$.") && expr != "$" {
		return expr, nil
	}
	return jsonpath.JsonPathLookup(data, expr)
}
