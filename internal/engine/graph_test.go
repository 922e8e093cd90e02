package engine

import (
	"errors"
	"testing"

	"github.com/shaiso/Dirigent/internal/domain"
)

func linearDef() *domain.ProcessDefinition {
	return &domain.ProcessDefinition{
		ID:              "linear",
		Version:         1,
		StartActivityID: "start",
		Activities: map[string]domain.Activity{
			"start": {ID: "start", Kind: domain.KindStart},
			"work":  {ID: "work", Kind: domain.KindTask, Handler: "noop"},
			"end":   {ID: "end", Kind: domain.KindEnd},
		},
		Transitions: []domain.Transition{
			{From: "start", To: "work"},
			{From: "work", To: "end"},
		},
	}
}

func TestCompileLinear(t *testing.T) {
	g, err := Compile(linearDef())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if next := g.ResolveNext("start", nil); next != "work" {
		t.Errorf("expected work, got %q", next)
	}
	if next := g.ResolveNext("end", nil); next != "" {
		t.Errorf("expected empty, got %q", next)
	}
}

func TestCompileErrors(t *testing.T) {
	// Нет стартовой activity
	_, err := Compile(&domain.ProcessDefinition{})
	if !errors.Is(err, ErrNoStartActivity) {
		t.Errorf("expected ErrNoStartActivity, got %v", err)
	}

	// Переход в никуда
	def := linearDef()
	def.Transitions = append(def.Transitions, domain.Transition{From: "work", To: "ghost"})
	_, err = Compile(def)
	if !errors.Is(err, ErrDanglingTransition) {
		t.Errorf("expected ErrDanglingTransition, got %v", err)
	}

	// Неизвестный Kind
	def = linearDef()
	def.Activities["bad"] = domain.Activity{ID: "bad", Kind: "teleport"}
	_, err = Compile(def)
	if !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}

func parallelDef() *domain.ProcessDefinition {
	return &domain.ProcessDefinition{
		ID:              "parallel",
		Version:         1,
		StartActivityID: "start",
		Activities: map[string]domain.Activity{
			"start": {ID: "start", Kind: domain.KindStart},
			"split": {ID: "split", Kind: domain.KindParallelGateway, Direction: domain.DirectionSplit},
			"a":     {ID: "a", Kind: domain.KindTask, Handler: "noop"},
			"b":     {ID: "b", Kind: domain.KindTask, Handler: "noop"},
			"join":  {ID: "join", Kind: domain.KindParallelGateway, Direction: domain.DirectionJoin},
			"end":   {ID: "end", Kind: domain.KindEnd},
		},
		Transitions: []domain.Transition{
			{From: "start", To: "split"},
			{From: "split", To: "a"},
			{From: "split", To: "b"},
			{From: "a", To: "join"},
			{From: "b", To: "join"},
			{From: "join", To: "end"},
		},
	}
}

func TestCompileSplitJoinPairing(t *testing.T) {
	g, err := Compile(parallelDef())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if join := g.JoinFor("split"); join != "join" {
		t.Errorf("expected join, got %q", join)
	}
	targets := g.BranchTargets("split")
	if len(targets) != 2 || targets[0] != "a" || targets[1] != "b" {
		t.Errorf("expected [a b], got %v", targets)
	}
}

func TestCompileUnpairedSplit(t *testing.T) {
	def := parallelDef()
	// Ветка a уходит в end мимо join
	def.Transitions[3] = domain.Transition{From: "a", To: "end"}

	_, err := Compile(def)
	if !errors.Is(err, ErrUnpairedSplit) {
		t.Errorf("expected ErrUnpairedSplit, got %v", err)
	}
}

func TestCompileTwoIndependentSections(t *testing.T) {
	// Два независимых split/join в одном определении: каждый split
	// должен получить свой join, а не первый попавшийся
	def := parallelDef()
	def.Activities["split2"] = domain.Activity{ID: "split2", Kind: domain.KindParallelGateway, Direction: domain.DirectionSplit}
	def.Activities["c"] = domain.Activity{ID: "c", Kind: domain.KindTask, Handler: "noop"}
	def.Activities["d"] = domain.Activity{ID: "d", Kind: domain.KindTask, Handler: "noop"}
	def.Activities["join2"] = domain.Activity{ID: "join2", Kind: domain.KindParallelGateway, Direction: domain.DirectionJoin}
	def.Activities["end2"] = domain.Activity{ID: "end2", Kind: domain.KindEnd}

	// join → split2 → {c,d} → join2 → end2; первый join ведёт дальше
	def.Transitions[5] = domain.Transition{From: "join", To: "split2"}
	def.Transitions = append(def.Transitions,
		domain.Transition{From: "split2", To: "c"},
		domain.Transition{From: "split2", To: "d"},
		domain.Transition{From: "c", To: "join2"},
		domain.Transition{From: "d", To: "join2"},
		domain.Transition{From: "join2", To: "end2"},
	)

	g, err := Compile(def)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.JoinFor("split") != "join" {
		t.Errorf("split should pair with join, got %q", g.JoinFor("split"))
	}
	if g.JoinFor("split2") != "join2" {
		t.Errorf("split2 should pair with join2, got %q", g.JoinFor("split2"))
	}
}

func TestResolveNextConditionsAndDefault(t *testing.T) {
	def := linearDef()
	def.Activities["high"] = domain.Activity{ID: "high", Kind: domain.KindTask, Handler: "noop"}
	def.Transitions = []domain.Transition{
		{From: "start", To: "work"},
		{From: "work", To: "high", Condition: "$.variables.amount > 100"},
		{From: "work", To: "end", Default: true},
	}
	g, err := Compile(def)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	high := map[string]any{"variables": map[string]any{"amount": float64(200)}}
	low := map[string]any{"variables": map[string]any{"amount": float64(50)}}

	if next := g.ResolveNext("work", high); next != "high" {
		t.Errorf("expected high, got %q", next)
	}
	// Ни одно условие не сработало — переход по умолчанию
	if next := g.ResolveNext("work", low); next != "end" {
		t.Errorf("expected end, got %q", next)
	}
}

func TestParseDefinition(t *testing.T) {
	data := []byte(`{
		"id": "demo",
		"version": 1,
		"start_activity_id": "start",
		"activities": {
			"start": {"kind": "start"},
			"end": {"kind": "end"}
		},
		"transitions": [
			{"from": "start", "to": "end"}
		]
	}`)

	def, err := ParseDefinition(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Ключи map дублируются в ID activities
	if def.Activities["start"].ID != "start" {
		t.Errorf("expected activity ID to be filled from map key")
	}

	// Невалидный граф
	_, err = ParseDefinition([]byte(`{"id": "bad", "activities": {}}`))
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("expected ValidationError, got %v", err)
	}

	// Невалидный JSON
	if _, err := ParseDefinition([]byte("{")); err == nil {
		t.Error("expected error for malformed JSON")
	}
}
