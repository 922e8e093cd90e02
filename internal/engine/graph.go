package engine

import (
	"fmt"

	"github.com/shaiso/Dirigent/internal/domain"
)

// CompiledGraph — проверенный граф определения с построенными индексами.
//
// Строится один раз на запуск (Compile); пары split/join разрешаются
// на этапе компиляции, а не угадываются во время выполнения.
type CompiledGraph struct {
	def *domain.ProcessDefinition

	// outgoing — исходящие переходы по from, в порядке объявления.
	outgoing map[string][]domain.Transition

	// boundaries — error boundaries по activity, к которой привязаны.
	boundaries map[string][]domain.Activity

	// joinFor — join gateway для каждого parallel split.
	joinFor map[string]string
}

// Compile валидирует определение и строит индексы графа.
//
// Проверяет: стартовая activity задана и существует, все Kind известны,
// концы переходов существуют, boundaries привязаны к существующим
// activities, каждый parallel split имеет ровно один join, на котором
// сходятся все его ветки.
func Compile(def *domain.ProcessDefinition) (*CompiledGraph, error) {
	if def.StartActivityID == "" {
		return nil, ErrNoStartActivity
	}
	if _, ok := def.Activities[def.StartActivityID]; !ok {
		return nil, fmt.Errorf("%w: start activity %q", ErrActivityNotFound, def.StartActivityID)
	}

	g := &CompiledGraph{
		def:        def,
		outgoing:   make(map[string][]domain.Transition),
		boundaries: make(map[string][]domain.Activity),
		joinFor:    make(map[string]string),
	}

	for id, act := range def.Activities {
		if !act.Kind.Valid() {
			return nil, fmt.Errorf("%w: activity %q kind %q", ErrUnknownKind, id, act.Kind)
		}
		if act.Kind == domain.KindErrorBoundary {
			if _, ok := def.Activities[act.AttachedTo]; !ok {
				return nil, fmt.Errorf("%w: boundary %q attached to %q", ErrDanglingBoundary, id, act.AttachedTo)
			}
			if _, ok := def.Activities[act.HandlerTo]; !ok {
				return nil, fmt.Errorf("%w: boundary %q handler %q", ErrDanglingBoundary, id, act.HandlerTo)
			}
		}
	}

	for _, tr := range def.Transitions {
		if _, ok := def.Activities[tr.From]; !ok {
			return nil, fmt.Errorf("%w: %q -> %q (from)", ErrDanglingTransition, tr.From, tr.To)
		}
		if _, ok := def.Activities[tr.To]; !ok {
			return nil, fmt.Errorf("%w: %q -> %q (to)", ErrDanglingTransition, tr.From, tr.To)
		}
		g.outgoing[tr.From] = append(g.outgoing[tr.From], tr)
	}

	for id, act := range def.Activities {
		if act.Kind == domain.KindErrorBoundary {
			g.boundaries[act.AttachedTo] = append(g.boundaries[act.AttachedTo], act)
		}
		for _, cond := range act.Conditions {
			if _, ok := def.Activities[cond.To]; !ok {
				return nil, fmt.Errorf("%w: condition of %q -> %q", ErrDanglingTransition, id, cond.To)
			}
		}
		if act.DefaultTo != "" {
			if _, ok := def.Activities[act.DefaultTo]; !ok {
				return nil, fmt.Errorf("%w: default of %q -> %q", ErrDanglingTransition, id, act.DefaultTo)
			}
		}
	}

	// Пары split/join
	for id, act := range def.Activities {
		if act.Kind == domain.KindParallelGateway && act.Direction == domain.DirectionSplit {
			join, err := g.resolveJoin(id, g.BranchTargets(id))
			if err != nil {
				return nil, err
			}
			g.joinFor[id] = join
		}
		// Inclusive gateway с несколькими условиями может дать fan-out;
		// join регистрируется, если ветки структурно сходятся
		if act.Kind == domain.KindInclusiveGateway && len(act.Conditions) > 1 {
			targets := make([]string, 0, len(act.Conditions))
			for _, cond := range act.Conditions {
				targets = append(targets, cond.To)
			}
			if join, err := g.resolveJoin(id, targets); err == nil {
				g.joinFor[id] = join
			}
		}
	}

	return g, nil
}

// Activity возвращает activity по ID.
func (g *CompiledGraph) Activity(id string) (domain.Activity, bool) {
	act, ok := g.def.Activities[id]
	return act, ok
}

// Definition возвращает определение графа.
func (g *CompiledGraph) Definition() *domain.ProcessDefinition {
	return g.def
}

// Outgoing возвращает исходящие переходы activity в порядке объявления.
func (g *CompiledGraph) Outgoing(id string) []domain.Transition {
	return g.outgoing[id]
}

// BranchTargets возвращает цели веток parallel split в порядке объявления.
func (g *CompiledGraph) BranchTargets(splitID string) []string {
	trs := g.outgoing[splitID]
	targets := make([]string, 0, len(trs))
	for _, tr := range trs {
		targets = append(targets, tr.To)
	}
	return targets
}

// JoinFor возвращает join gateway, парный данному split.
func (g *CompiledGraph) JoinFor(splitID string) string {
	return g.joinFor[splitID]
}

// Boundaries возвращает error boundaries, привязанные к activity.
func (g *CompiledGraph) Boundaries(activityID string) []domain.Activity {
	return g.boundaries[activityID]
}

// ResolveNext решает следующий шаг по переходам из from.
//
// Порядок: условные переходы в порядке объявления (первый истинный
// побеждает) → переход, помеченный default → единственный безусловный
// переход. Ничего не подошло — пустая строка.
func (g *CompiledGraph) ResolveNext(from string, data map[string]any) string {
	trs := g.outgoing[from]

	for _, tr := range trs {
		if tr.Condition != "" && Evaluate(tr.Condition, data) {
			return tr.To
		}
	}
	for _, tr := range trs {
		if tr.Default {
			return tr.To
		}
	}

	var unconditional []domain.Transition
	for _, tr := range trs {
		if tr.Condition == "" && !tr.Default {
			unconditional = append(unconditional, tr)
		}
	}
	if len(unconditional) == 1 {
		return unconditional[0].To
	}
	return ""
}

// resolveJoin находит join для split: BFS по переходам от каждой ветки
// до первого join-direction parallel gateway; все ветки обязаны сойтись
// на одном join.
func (g *CompiledGraph) resolveJoin(splitID string, targets []string) (string, error) {
	if len(targets) == 0 {
		return "", fmt.Errorf("%w: split %q has no branches", ErrUnpairedSplit, splitID)
	}

	join := ""
	for _, start := range targets {
		found := g.firstJoinFrom(start)
		if found == "" {
			return "", fmt.Errorf("%w: split %q branch %q", ErrUnpairedSplit, splitID, start)
		}
		if join == "" {
			join = found
		} else if join != found {
			return "", fmt.Errorf("%w: split %q branches converge on %q and %q", ErrUnpairedSplit, splitID, join, found)
		}
	}
	return join, nil
}

// firstJoinFrom возвращает первый достижимый join gateway из start.
func (g *CompiledGraph) firstJoinFrom(start string) string {
	visited := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		act, ok := g.def.Activities[cur]
		if ok && act.Kind == domain.KindParallelGateway && act.Direction == domain.DirectionJoin {
			return cur
		}
		for _, tr := range g.outgoing[cur] {
			if !visited[tr.To] {
				visited[tr.To] = true
				queue = append(queue, tr.To)
			}
		}
		if ok {
			for _, cond := range act.Conditions {
				if !visited[cond.To] {
					visited[cond.To] = true
					queue = append(queue, cond.To)
				}
			}
			if act.DefaultTo != "" && !visited[act.DefaultTo] {
				visited[act.DefaultTo] = true
				queue = append(queue, act.DefaultTo)
			}
		}
	}
	return ""
}
