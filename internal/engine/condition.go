package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shaiso/Dirigent/internal/handler"
)

// Операторы сравнения. Порядок важен: на каждой позиции сначала
// пробуются двухсимвольные операторы.
var (
	twoCharOps = []string{"==", "!=", ">=", "<="}
	oneCharOps = []string{">", "<"}
)

// Evaluate вычисляет условие gateway'а над данными контекста.
//
// Алгоритм:
//  1. всё условие целиком резолвится как булево значение — оно и есть
//     результат;
//  2. иначе ищется первый оператор сравнения из {==, !=, >=, <=, >, <}
//     (длинное совпадение первым), операнды резолвятся через контекст;
//  3. если оба операнда — числа, сравнение числовое, иначе строковое
//     без учёта регистра.
//
// Невычислимое условие — false.
func Evaluate(cond string, data map[string]any) bool {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return false
	}

	// Всё условие целиком — булево значение
	if b, ok := resolveBool(cond, data); ok {
		return b
	}

	op, pos := findOperator(cond)
	if op == "" {
		return false
	}

	left := resolveOperand(strings.TrimSpace(cond[:pos]), data)
	right := resolveOperand(strings.TrimSpace(cond[pos+len(op):]), data)

	lnum, lok := toNumber(left)
	rnum, rok := toNumber(right)
	if lok && rok {
		return compareNumbers(lnum, rnum, op)
	}
	return compareStrings(fmt.Sprintf("%v", left), fmt.Sprintf("%v", right), op)
}

// resolveBool пробует резолвить выражение как булево значение.
func resolveBool(expr string, data map[string]any) (bool, bool) {
	switch strings.ToLower(expr) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	if strings.HasPrefix(expr, "$") {
		if v, err := handler.Lookup(data, expr); err == nil {
			if b, ok := v.(bool); ok {
				return b, true
			}
		}
	}
	return false, false
}

// findOperator ищет первый оператор сравнения, длинное совпадение первым.
func findOperator(cond string) (string, int) {
	for i := 0; i < len(cond); i++ {
		if i+2 <= len(cond) {
			two := cond[i : i+2]
			for _, op := range twoCharOps {
				if two == op {
					return op, i
				}
			}
		}
		one := string(cond[i])
		for _, op := range oneCharOps {
			if one == op {
				return op, i
			}
		}
	}
	return "", -1
}

// resolveOperand резолвит операнд: "$"-выражение через контекст,
// кавычки снимаются, иначе литерал.
func resolveOperand(expr string, data map[string]any) any {
	if strings.HasPrefix(expr, "$") {
		v, err := handler.Lookup(data, expr)
		if err != nil {
			return nil
		}
		return v
	}
	if len(expr) >= 2 {
		if (expr[0] == '\'' && expr[len(expr)-1] == '\'') ||
			(expr[0] == '"' && expr[len(expr)-1] == '"') {
			return expr[1 : len(expr)-1]
		}
	}
	return expr
}

// toNumber пробует привести значение к float64.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func compareNumbers(l, r float64, op string) bool {
	switch op {
	case "==":
		return l == r
	case "!=":
		return l != r
	case ">=":
		return l >= r
	case "<=":
		return l <= r
	case ">":
		return l > r
	case "<":
		return l < r
	}
	return false
}

func compareStrings(l, r, op string) bool {
	l = strings.ToLower(strings.TrimSpace(l))
	r = strings.ToLower(strings.TrimSpace(r))
	switch op {
	case "==":
		return l == r
	case "!=":
		return l != r
	case ">=":
		return l >= r
	case "<=":
		return l <= r
	case ">":
		return l > r
	case "<":
		return l < r
	}
	return false
}
