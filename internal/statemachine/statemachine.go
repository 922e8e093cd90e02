package statemachine

import (
	"context"
	"fmt"
	"sort"
)

// Guard — именованный предикат перехода.
//
// Check возвращает nil, если переход разрешён; иначе причину отказа.
type Guard[E any] struct {
	Name  string
	Check func(ctx context.Context, entity E) error
}

// Action — именованное действие перехода или состояния.
type Action[E any] struct {
	Name string
	Run  func(ctx context.Context, entity E) error
}

// State — состояние автомата.
type State[E any] struct {
	// Name — уникальное имя состояния.
	Name string

	// Final — терминальное состояние.
	Final bool

	// Entry — действия при входе в состояние.
	Entry []Action[E]

	// Exit — действия при выходе из состояния.
	Exit []Action[E]
}

// Transition — направленный переход между состояниями.
type Transition[E any] struct {
	// From, To — начальное и целевое состояния.
	From string
	To   string

	// Permission — требуемое разрешение. Пусто — переход открыт всем.
	Permission string

	// Guards — упорядоченные предикаты; первый отказ прерывает переход.
	Guards []Guard[E]

	// Actions — упорядоченные действия, выполняемые между exit и entry.
	Actions []Action[E]
}

// Definition — описание автомата.
type Definition[E any] struct {
	// Name — имя автомата (для логов и ошибок).
	Name string

	// Initial — начальное состояние.
	Initial string

	// States — состояния по имени.
	States map[string]State[E]

	// Transitions — переходы.
	Transitions []Transition[E]
}

// Options — параметры выполнения перехода.
type Options struct {
	// Permissions — разрешения вызывающего. Проверяются против
	// Transition.Permission по членству.
	Permissions []string
}

// GuardResult — результат проверки одного guard'а.
type GuardResult struct {
	// Guard — имя guard'а.
	Guard string

	// Err — причина отказа; nil — guard пропустил.
	Err error
}

// Available — отчёт о доступности одного перехода из текущего состояния.
//
// Используется UI для отображения допустимых действий.
type Available struct {
	// To — целевое состояние.
	To string

	// Permission — требуемое разрешение.
	Permission string

	// Allowed — все guard'ы пропустили.
	Allowed bool

	// Guards — результаты guard'ов в порядке объявления.
	Guards []GuardResult
}

// Machine — движок одного автомата.
//
// Не хранит состояние сущности: текущее состояние передаётся
// вызывающим и применяется им же. Потокобезопасен после создания.
type Machine[E any] struct {
	def Definition[E]

	// outgoing — переходы, сгруппированные по from (порядок объявления).
	outgoing map[string][]Transition[E]
}

// New создаёт движок по определению. Возвращает ошибку валидации
// структуры (см. Validate); предупреждения не блокируют создание.
func New[E any](def Definition[E]) (*Machine[E], error) {
	m := &Machine[E]{
		def:      def,
		outgoing: make(map[string][]Transition[E]),
	}
	for _, tr := range def.Transitions {
		m.outgoing[tr.From] = append(m.outgoing[tr.From], tr)
	}
	if _, err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Transition выполняет переход entity из from в to.
//
// Порядок: поиск перехода → проверка разрешения → guard'ы по порядку
// (первый отказ — GuardError) → exit-действия from → действия перехода →
// entry-действия to. Ошибка действия — ActionError; состояние сущности
// при этом не считается изменённым вызывающим.
func (m *Machine[E]) Transition(ctx context.Context, entity E, from, to string, opts Options) error {
	tr, err := m.find(from, to)
	if err != nil {
		return err
	}

	if tr.Permission != "" && !hasPermission(opts.Permissions, tr.Permission) {
		return fmt.Errorf("%w: transition %s -> %s requires %q", ErrPermissionDenied, from, to, tr.Permission)
	}

	for _, g := range tr.Guards {
		if err := g.Check(ctx, entity); err != nil {
			return &GuardError{Guard: g.Name, From: from, To: to, Err: err}
		}
	}

	fromState := m.def.States[from]
	toState := m.def.States[to]

	for _, a := range fromState.Exit {
		if err := a.Run(ctx, entity); err != nil {
			return &ActionError{Action: a.Name, Phase: PhaseExit, From: from, To: to, Err: err}
		}
	}
	for _, a := range tr.Actions {
		if err := a.Run(ctx, entity); err != nil {
			return &ActionError{Action: a.Name, Phase: PhaseTransition, From: from, To: to, Err: err}
		}
	}
	for _, a := range toState.Entry {
		if err := a.Run(ctx, entity); err != nil {
			return &ActionError{Action: a.Name, Phase: PhaseEntry, From: from, To: to, Err: err}
		}
	}
	return nil
}

// ValidateTransition — dry run: поиск перехода и проверка guard'ов
// без выполнения действий.
func (m *Machine[E]) ValidateTransition(ctx context.Context, entity E, from, to string) error {
	tr, err := m.find(from, to)
	if err != nil {
		return err
	}
	for _, g := range tr.Guards {
		if err := g.Check(ctx, entity); err != nil {
			return &GuardError{Guard: g.Name, From: from, To: to, Err: err}
		}
	}
	return nil
}

// GetAvailableTransitions проверяет guard'ы всех исходящих переходов
// из from, ничего не применяя.
func (m *Machine[E]) GetAvailableTransitions(ctx context.Context, entity E, from string) []Available {
	trs := m.outgoing[from]
	result := make([]Available, 0, len(trs))
	for _, tr := range trs {
		av := Available{To: tr.To, Permission: tr.Permission, Allowed: true}
		for _, g := range tr.Guards {
			err := g.Check(ctx, entity)
			av.Guards = append(av.Guards, GuardResult{Guard: g.Name, Err: err})
			if err != nil {
				av.Allowed = false
			}
		}
		result = append(result, av)
	}
	return result
}

// Initial возвращает начальное состояние автомата.
func (m *Machine[E]) Initial() string {
	return m.def.Initial
}

// IsFinal возвращает true для терминального состояния.
func (m *Machine[E]) IsFinal(state string) bool {
	s, ok := m.def.States[state]
	return ok && s.Final
}

// Validate проверяет структуру определения.
//
// Ошибки: не задано начальное состояние, начальное состояние или
// концы переходов ссылаются на неопределённые состояния.
// Предупреждения: состояния, недостижимые из начального (BFS),
// отсутствие терминальных состояний.
func (m *Machine[E]) Validate() ([]string, error) {
	def := m.def

	if def.Initial == "" {
		return nil, ErrNoInitialState
	}
	if _, ok := def.States[def.Initial]; !ok {
		return nil, fmt.Errorf("%w: initial state %q", ErrStateNotFound, def.Initial)
	}
	for _, tr := range def.Transitions {
		if _, ok := def.States[tr.From]; !ok {
			return nil, fmt.Errorf("%w: transition source %q", ErrStateNotFound, tr.From)
		}
		if _, ok := def.States[tr.To]; !ok {
			return nil, fmt.Errorf("%w: transition target %q", ErrStateNotFound, tr.To)
		}
	}

	var warnings []string

	// BFS от начального состояния
	visited := map[string]bool{def.Initial: true}
	queue := []string{def.Initial}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, tr := range m.outgoing[cur] {
			if !visited[tr.To] {
				visited[tr.To] = true
				queue = append(queue, tr.To)
			}
		}
	}

	var unreachable []string
	hasFinal := false
	for name, s := range def.States {
		if !visited[name] {
			unreachable = append(unreachable, name)
		}
		if s.Final {
			hasFinal = true
		}
	}
	sort.Strings(unreachable)
	for _, name := range unreachable {
		warnings = append(warnings, fmt.Sprintf("state %q is unreachable from initial state", name))
	}
	if !hasFinal {
		warnings = append(warnings, "definition has no final state")
	}
	return warnings, nil
}

// find ищет переход (from, to).
func (m *Machine[E]) find(from, to string) (Transition[E], error) {
	if _, ok := m.def.States[from]; !ok {
		return Transition[E]{}, fmt.Errorf("%w: %q", ErrStateNotFound, from)
	}
	for _, tr := range m.outgoing[from] {
		if tr.To == to {
			return tr, nil
		}
	}
	valid := make([]string, 0, len(m.outgoing[from]))
	for _, tr := range m.outgoing[from] {
		valid = append(valid, tr.To)
	}
	return Transition[E]{}, &InvalidTransitionError{From: from, To: to, Valid: valid}
}

// hasPermission проверяет членство разрешения.
func hasPermission(have []string, need string) bool {
	for _, p := range have {
		if p == need {
			return true
		}
	}
	return false
}
