package engine

import "testing"

func TestEvaluate(t *testing.T) {
	data := map[string]any{
		"variables": map[string]any{
			"approved": true,
			"rejected": false,
			"amount":   float64(150),
			"name":     "Alice",
			"empty":    "",
		},
	}

	tests := []struct {
		cond string
		want bool
	}{
		// Булево значение целиком
		{"true", true},
		{"false", false},
		{"$.variables.approved", true},
		{"$.variables.rejected", false},

		// Числовые сравнения
		{"$.variables.amount == 150", true},
		{"$.variables.amount != 150", false},
		{"$.variables.amount > 100", true},
		{"$.variables.amount >= 150", true},
		{"$.variables.amount < 100", false},
		{"$.variables.amount <= 150", true},
		{"100 < 200", true},

		// Строковые сравнения без учёта регистра
		{"$.variables.name == alice", true},
		{"$.variables.name == 'Alice'", true},
		{"$.variables.name != bob", true},

		// Невычислимые условия — false
		{"", false},
		{"garbage", false},
		{"$.variables.missing == 1", false},

		// Длинное совпадение оператора первым: ">=" не должно
		// разбираться как ">"
		{"150 >= 150", true},
	}

	for _, tt := range tests {
		if got := Evaluate(tt.cond, data); got != tt.want {
			t.Errorf("Evaluate(%q) = %v, want %v", tt.cond, got, tt.want)
		}
	}
}

func TestEvaluateOperatorPrecedence(t *testing.T) {
	// Первый оператор в строке побеждает
	data := map[string]any{"variables": map[string]any{}}

	// "a == b != c" — разбирается по первому "==": "a" vs "b != c"
	if Evaluate("a == b != c", data) {
		t.Error("expected false: 'a' != 'b != c'")
	}
	if !Evaluate("a == a", data) {
		t.Error("expected true")
	}
}

func TestFindOperator(t *testing.T) {
	tests := []struct {
		cond string
		op   string
		pos  int
	}{
		{"a == b", "==", 2},
		{"a >= b", ">=", 2},
		{"a > b", ">", 2},
		{"a<b", "<", 1},
		{"no operator", "", -1},
	}
	for _, tt := range tests {
		op, pos := findOperator(tt.cond)
		if op != tt.op || pos != tt.pos {
			t.Errorf("findOperator(%q) = (%q, %d), want (%q, %d)", tt.cond, op, pos, tt.op, tt.pos)
		}
	}
}
