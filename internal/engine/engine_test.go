package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Dirigent/internal/domain"
	"github.com/shaiso/Dirigent/internal/handler"
	"github.com/shaiso/Dirigent/internal/store"
	"github.com/shaiso/Dirigent/internal/store/memory"
)

// --- Helpers ---

func newTestEngine(t *testing.T, reg *handler.Registry) (*Engine, *memory.Store) {
	t.Helper()
	st := memory.New()
	e := New(Config{
		Definitions: st.Definitions,
		Instances:   st.Instances,
		Timers:      st.Timers,
		Registry:    reg,
		Holder:      "test-worker",
	})
	return e, st
}

func saveDef(t *testing.T, st *memory.Store, def *domain.ProcessDefinition) {
	t.Helper()
	def.Published = true
	def.IsActive = true
	if err := st.Definitions.Save(context.Background(), def); err != nil {
		t.Fatalf("save definition: %v", err)
	}
}

// recorder записывает вызовы обработчиков.
type recorder struct {
	mu       sync.Mutex
	executed []string
	reversed []string
	failOn   map[string]bool
}

func newRecorder() *recorder {
	return &recorder{failOn: make(map[string]bool)}
}

func (r *recorder) Execute(ctx context.Context, inv handler.Invocation) (map[string]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn[inv.ActivityID] {
		return nil, errors.New("handler failed")
	}
	r.executed = append(r.executed, inv.ActivityID)
	return map[string]any{inv.ActivityID + "_done": true}, nil
}

func (r *recorder) Compensate(ctx context.Context, inv handler.Invocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn["undo:"+inv.ActivityID] {
		return errors.New("compensation failed")
	}
	r.reversed = append(r.reversed, inv.ActivityID)
	return nil
}

func testRegistry(rec *recorder) *handler.Registry {
	reg := handler.NewRegistry()
	reg.Register("svc", rec)
	return reg
}

// --- Создание и линейное выполнение ---

func TestStartLinearProcess(t *testing.T) {
	rec := newRecorder()
	e, st := newTestEngine(t, testRegistry(rec))
	saveDef(t, st, linearDefWith("svc"))

	inst, err := e.StartNew(context.Background(), "linear", map[string]any{"who": "tester"}, CreateOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if inst.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (%s)", inst.Status, inst.LastError)
	}

	// Все activities завершены
	want := map[string]bool{"start": true, "work": true, "end": true}
	for _, id := range inst.CompletedActivityIDs {
		delete(want, id)
	}
	if len(want) != 0 {
		t.Errorf("not all activities completed: missing %v", want)
	}

	// Выход обработчика свёрнут в переменные
	if inst.Variables["work_done"] != true {
		t.Errorf("handler output was not folded into variables: %v", inst.Variables)
	}

	// Журнал: created → started → ... → completed
	history, err := e.GetHistory(context.Background(), inst.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) == 0 || history[0].Type != domain.HistoryInstanceCreated {
		t.Errorf("expected instance.created first, got %v", history)
	}
	last := history[len(history)-1]
	if last.Type != domain.HistoryInstanceCompleted {
		t.Errorf("expected instance.completed last, got %s", last.Type)
	}
}

func linearDefWith(handlerName string) *domain.ProcessDefinition {
	def := linearDef()
	work := def.Activities["work"]
	work.Handler = handlerName
	def.Activities["work"] = work
	return def
}

func TestCreateInstanceValidation(t *testing.T) {
	rec := newRecorder()
	e, st := newTestEngine(t, testRegistry(rec))

	def := linearDefWith("svc")
	def.Variables = map[string]domain.VariableDef{
		"order_id": {Type: "string", Required: true},
		"region":   {Type: "string", Default: "eu"},
	}
	saveDef(t, st, def)

	// Отсутствует обязательный параметр
	_, err := e.CreateInstance(context.Background(), "linear", nil, CreateOptions{})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	// Default перекрывается входом
	inst, err := e.CreateInstance(context.Background(),
		"linear", map[string]any{"order_id": "o-1", "region": "us"}, CreateOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inst.Status != domain.StatusPending {
		t.Errorf("expected PENDING, got %s", inst.Status)
	}
	if inst.Variables["region"] != "us" {
		t.Errorf("input should override default, got %v", inst.Variables["region"])
	}
}

func TestCreateInstanceIdempotency(t *testing.T) {
	rec := newRecorder()
	e, st := newTestEngine(t, testRegistry(rec))
	def := linearDefWith("svc")
	// user_task, чтобы экземпляр остался незавершённым
	def.Activities["work"] = domain.Activity{ID: "work", Kind: domain.KindUserTask}
	saveDef(t, st, def)

	first, err := e.StartNew(context.Background(), "linear", nil, CreateOptions{CorrelationID: "corr-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := e.CreateInstance(context.Background(), "linear", nil, CreateOptions{CorrelationID: "corr-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("expected idempotent creation to return existing instance")
	}
}

// --- Gateways ---

func TestExclusiveGatewayOrder(t *testing.T) {
	rec := newRecorder()
	e, st := newTestEngine(t, testRegistry(rec))

	def := &domain.ProcessDefinition{
		ID:              "xor",
		Version:         1,
		StartActivityID: "start",
		Activities: map[string]domain.Activity{
			"start": {ID: "start", Kind: domain.KindStart},
			"gw": {
				ID:   "gw",
				Kind: domain.KindExclusiveGateway,
				Conditions: map[string]domain.GatewayCondition{
					"01": {Expression: "$.variables.amount > 100", To: "high"},
					"02": {Expression: "$.variables.amount > 50", To: "mid"},
				},
				DefaultTo: "low",
			},
			"high": {ID: "high", Kind: domain.KindEnd},
			"mid":  {ID: "mid", Kind: domain.KindEnd},
			"low":  {ID: "low", Kind: domain.KindEnd},
		},
		Transitions: []domain.Transition{
			{From: "start", To: "gw"},
		},
	}
	saveDef(t, st, def)

	run := func(amount float64) *domain.ProcessInstance {
		inst, err := e.StartNew(context.Background(), "xor",
			map[string]any{"amount": amount}, CreateOptions{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return inst
	}

	// Оба условия истинны — побеждает первое по порядку ключей
	inst := run(200)
	if !contains(inst.CompletedActivityIDs, "high") {
		t.Errorf("expected high path, got %v", inst.CompletedActivityIDs)
	}

	inst = run(70)
	if !contains(inst.CompletedActivityIDs, "mid") {
		t.Errorf("expected mid path, got %v", inst.CompletedActivityIDs)
	}

	// Ни одно условие — путь по умолчанию
	inst = run(10)
	if !contains(inst.CompletedActivityIDs, "low") {
		t.Errorf("expected low path, got %v", inst.CompletedActivityIDs)
	}
}

func TestExclusiveGatewayNoPath(t *testing.T) {
	rec := newRecorder()
	e, st := newTestEngine(t, testRegistry(rec))

	def := &domain.ProcessDefinition{
		ID:              "nopath",
		Version:         1,
		StartActivityID: "start",
		Activities: map[string]domain.Activity{
			"start": {ID: "start", Kind: domain.KindStart},
			"gw": {
				ID:   "gw",
				Kind: domain.KindExclusiveGateway,
				Conditions: map[string]domain.GatewayCondition{
					"01": {Expression: "$.variables.never == 1", To: "end"},
				},
			},
			"end": {ID: "end", Kind: domain.KindEnd},
		},
		Transitions: []domain.Transition{{From: "start", To: "gw"}},
	}
	saveDef(t, st, def)

	inst, err := e.StartNew(context.Background(), "nopath", nil, CreateOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inst.Status != domain.StatusFaulted {
		t.Fatalf("expected FAULTED, got %s", inst.Status)
	}
	if !strings.Contains(inst.LastError, domain.CodeNoPath) {
		t.Errorf("expected NO_PATH in error, got %q", inst.LastError)
	}
}

func TestInclusiveGateway(t *testing.T) {
	rec := newRecorder()
	e, st := newTestEngine(t, testRegistry(rec))

	def := &domain.ProcessDefinition{
		ID:              "or",
		Version:         1,
		StartActivityID: "start",
		Activities: map[string]domain.Activity{
			"start": {ID: "start", Kind: domain.KindStart},
			"gw": {
				ID:   "gw",
				Kind: domain.KindInclusiveGateway,
				Conditions: map[string]domain.GatewayCondition{
					"01": {Expression: "$.variables.email == true", To: "send_email"},
					"02": {Expression: "$.variables.sms == true", To: "send_sms"},
				},
				DefaultTo: "skip",
			},
			"send_email": {ID: "send_email", Kind: domain.KindTask, Handler: "svc"},
			"send_sms":   {ID: "send_sms", Kind: domain.KindTask, Handler: "svc"},
			"skip":       {ID: "skip", Kind: domain.KindTask, Handler: "svc"},
			"join":       {ID: "join", Kind: domain.KindParallelGateway, Direction: domain.DirectionJoin},
			"end":        {ID: "end", Kind: domain.KindEnd},
		},
		Transitions: []domain.Transition{
			{From: "start", To: "gw"},
			{From: "send_email", To: "join"},
			{From: "send_sms", To: "join"},
			{From: "skip", To: "join"},
			{From: "join", To: "end"},
		},
	}
	saveDef(t, st, def)

	run := func(email, sms bool) *domain.ProcessInstance {
		inst, err := e.StartNew(context.Background(), "or",
			map[string]any{"email": email, "sms": sms}, CreateOptions{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return inst
	}

	// Несколько совпадений — параллельный fan-out
	inst := run(true, true)
	if inst.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (%s)", inst.Status, inst.LastError)
	}
	if !contains(inst.CompletedActivityIDs, "send_email") || !contains(inst.CompletedActivityIDs, "send_sms") {
		t.Errorf("expected both notification paths, got %v", inst.CompletedActivityIDs)
	}

	// Одно совпадение — одиночный переход
	inst = run(true, false)
	if !contains(inst.CompletedActivityIDs, "send_email") || contains(inst.CompletedActivityIDs, "send_sms") {
		t.Errorf("expected only email path, got %v", inst.CompletedActivityIDs)
	}

	// Ноль совпадений — default
	inst = run(false, false)
	if !contains(inst.CompletedActivityIDs, "skip") {
		t.Errorf("expected default path, got %v", inst.CompletedActivityIDs)
	}
}

// --- Параллельное выполнение ---

func TestParallelSplitJoin(t *testing.T) {
	rec := newRecorder()
	e, st := newTestEngine(t, testRegistry(rec))

	def := parallelDef()
	for _, id := range []string{"a", "b"} {
		act := def.Activities[id]
		act.Handler = "svc"
		def.Activities[id] = act
	}
	saveDef(t, st, def)

	inst, err := e.StartNew(context.Background(), "parallel", nil, CreateOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if inst.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (%s)", inst.Status, inst.LastError)
	}
	if !contains(inst.CompletedActivityIDs, "a") || !contains(inst.CompletedActivityIDs, "b") {
		t.Errorf("both branch ids must be completed, got %v", inst.CompletedActivityIDs)
	}

	// Обе ветки зафиксированы завершёнными
	if len(inst.Branches) != 2 {
		t.Fatalf("expected 2 branches, got %d", len(inst.Branches))
	}
	for id, br := range inst.Branches {
		if br.Status != domain.BranchCompleted {
			t.Errorf("branch %s: expected COMPLETED, got %s", id, br.Status)
		}
	}

	// Overlay веток слит в переменные
	if inst.Variables["a_done"] != true || inst.Variables["b_done"] != true {
		t.Errorf("branch outputs must merge at join, got %v", inst.Variables)
	}
}

func TestParallelBranchFaultDoesNotFaultParent(t *testing.T) {
	rec := newRecorder()
	rec.failOn["b"] = true
	e, st := newTestEngine(t, testRegistry(rec))

	def := parallelDef()
	for _, id := range []string{"a", "b"} {
		act := def.Activities[id]
		act.Handler = "svc"
		def.Activities[id] = act
	}
	saveDef(t, st, def)

	inst, err := e.StartNew(context.Background(), "parallel", nil, CreateOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Падение ветки записано на ветке, родитель продолжил
	if inst.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (%s)", inst.Status, inst.LastError)
	}

	faulted := 0
	for _, br := range inst.Branches {
		if br.Status == domain.BranchFaulted {
			faulted++
			if br.Error == "" {
				t.Error("faulted branch must record its error")
			}
		}
	}
	if faulted != 1 {
		t.Errorf("expected exactly 1 faulted branch, got %d", faulted)
	}
}

// --- Suspend / Resume ---

func TestUserTaskSuspendResume(t *testing.T) {
	rec := newRecorder()
	e, st := newTestEngine(t, testRegistry(rec))

	def := &domain.ProcessDefinition{
		ID:              "approval",
		Version:         1,
		StartActivityID: "start",
		Activities: map[string]domain.Activity{
			"start":   {ID: "start", Kind: domain.KindStart},
			"approve": {ID: "approve", Kind: domain.KindUserTask},
			"end":     {ID: "end", Kind: domain.KindEnd},
		},
		Transitions: []domain.Transition{
			{From: "start", To: "approve"},
			{From: "approve", To: "end"},
		},
	}
	saveDef(t, st, def)

	inst, err := e.StartNew(context.Background(), "approval", nil, CreateOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inst.Status != domain.StatusSuspended {
		t.Fatalf("expected SUSPENDED, got %s", inst.Status)
	}
	if len(inst.Bookmarks) != 1 || inst.Bookmarks[0].Name != "user:approve" {
		t.Fatalf("expected bookmark user:approve, got %v", inst.Bookmarks)
	}

	// Resume с неизвестным именем — NotFound без мутации состояния
	err = e.Resume(context.Background(), inst.ID, "user:ghost", nil)
	if !errors.Is(err, ErrBookmarkNotFound) {
		t.Fatalf("expected ErrBookmarkNotFound, got %v", err)
	}
	unchanged, _ := e.GetInstance(context.Background(), inst.ID)
	if unchanged.Status != domain.StatusSuspended || len(unchanged.Bookmarks) != 1 {
		t.Fatal("failed resume must not mutate state")
	}

	// Успешный resume потребляет bookmark ровно один раз
	err = e.Resume(context.Background(), inst.ID, "user:approve", map[string]any{"approved": true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	final, _ := e.GetInstance(context.Background(), inst.ID)
	if final.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", final.Status)
	}
	if len(final.Bookmarks) != 0 {
		t.Errorf("bookmark must be consumed, got %v", final.Bookmarks)
	}
	if final.Variables["approved"] != true {
		t.Errorf("resume input must fold into variables, got %v", final.Variables)
	}

	// Повторный resume невозможен
	err = e.Resume(context.Background(), inst.ID, "user:approve", nil)
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}

func TestTimerSuspendAndDueResume(t *testing.T) {
	rec := newRecorder()
	e, st := newTestEngine(t, testRegistry(rec))

	def := &domain.ProcessDefinition{
		ID:              "delayed",
		Version:         1,
		StartActivityID: "start",
		Activities: map[string]domain.Activity{
			"start": {ID: "start", Kind: domain.KindStart},
			"wait":  {ID: "wait", Kind: domain.KindTimer, DelaySec: 1},
			"end":   {ID: "end", Kind: domain.KindEnd},
		},
		Transitions: []domain.Transition{
			{From: "start", To: "wait"},
			{From: "wait", To: "end"},
		},
	}
	saveDef(t, st, def)

	inst, err := e.StartNew(context.Background(), "delayed", nil, CreateOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inst.Status != domain.StatusSuspended {
		t.Fatalf("expected SUSPENDED, got %s", inst.Status)
	}

	// Таймер зарегистрирован для планировщика
	due, err := st.Timers.GetDue(context.Background(), time.Now().Add(time.Minute), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(due) != 1 || due[0].BookmarkName != "timer:wait" {
		t.Fatalf("expected scheduled timer, got %v", due)
	}

	// Планировщик возобновляет по сработавшему таймеру
	if err := e.ResumeDueTimer(context.Background(), due[0]); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	final, _ := e.GetInstance(context.Background(), inst.ID)
	if final.Status != domain.StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", final.Status)
	}
}

func TestSignalBroadcast(t *testing.T) {
	rec := newRecorder()
	e, st := newTestEngine(t, testRegistry(rec))

	def := &domain.ProcessDefinition{
		ID:              "waiter",
		Version:         1,
		StartActivityID: "start",
		Activities: map[string]domain.Activity{
			"start": {ID: "start", Kind: domain.KindStart},
			"wait":  {ID: "wait", Kind: domain.KindSignalReceive, Signal: "payment.received"},
			"end":   {ID: "end", Kind: domain.KindEnd},
		},
		Transitions: []domain.Transition{
			{From: "start", To: "wait"},
			{From: "wait", To: "end"},
		},
	}
	saveDef(t, st, def)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		inst, err := e.StartNew(context.Background(), "waiter", nil, CreateOptions{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ids = append(ids, inst.ID)
	}

	resumed, err := e.BroadcastSignal(context.Background(), "payment.received",
		map[string]any{"paid": true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resumed != 3 {
		t.Errorf("expected 3 resumed, got %d", resumed)
	}
	for _, id := range ids {
		inst, _ := e.GetInstance(context.Background(), id)
		if inst.Status != domain.StatusCompleted {
			t.Errorf("instance %s: expected COMPLETED, got %s", id, inst.Status)
		}
	}
}

func TestTriggerEvent(t *testing.T) {
	rec := newRecorder()
	e, st := newTestEngine(t, testRegistry(rec))

	def := linearDefWith("svc")
	def.Triggers = []domain.Trigger{
		{Type: domain.TriggerEvent, Value: "order.created", Inputs: map[string]any{"source": "event"}},
	}
	saveDef(t, st, def)

	started, err := e.TriggerEvent(context.Background(), "order.created",
		map[string]any{"order_id": "o-7"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(started) != 1 {
		t.Fatalf("expected 1 started instance, got %d", len(started))
	}

	inst, _ := e.GetInstance(context.Background(), started[0])
	if inst.Status != domain.StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", inst.Status)
	}
	// Inputs триггера перекрыты входом события
	if inst.Input["source"] != "event" || inst.Input["order_id"] != "o-7" {
		t.Errorf("unexpected input: %v", inst.Input)
	}
}

// --- Ошибки, retry, компенсация ---

func TestFaultAndRetry(t *testing.T) {
	rec := newRecorder()
	rec.failOn["work"] = true
	e, st := newTestEngine(t, testRegistry(rec))
	saveDef(t, st, linearDefWith("svc"))

	inst, err := e.StartNew(context.Background(), "linear", nil, CreateOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inst.Status != domain.StatusFaulted {
		t.Fatalf("expected FAULTED, got %s", inst.Status)
	}

	// Faulted экземпляр остаётся запрашиваемым и повторяемым
	rec.mu.Lock()
	rec.failOn["work"] = false
	rec.mu.Unlock()

	if err := e.Retry(context.Background(), inst.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	final, _ := e.GetInstance(context.Background(), inst.ID)
	if final.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED after retry, got %s (%s)", final.Status, final.LastError)
	}
	if final.FaultCount != 1 {
		t.Errorf("expected fault count 1, got %d", final.FaultCount)
	}
}

func TestErrorBoundaryReroute(t *testing.T) {
	rec := newRecorder()
	rec.failOn["risky"] = true
	e, st := newTestEngine(t, testRegistry(rec))

	def := &domain.ProcessDefinition{
		ID:              "guarded",
		Version:         1,
		StartActivityID: "start",
		Activities: map[string]domain.Activity{
			"start":    {ID: "start", Kind: domain.KindStart},
			"risky":    {ID: "risky", Kind: domain.KindTask, Handler: "svc"},
			"boundary": {ID: "boundary", Kind: domain.KindErrorBoundary, AttachedTo: "risky", ErrorCode: domain.CodeActivityError, HandlerTo: "fallback"},
			"fallback": {ID: "fallback", Kind: domain.KindTask, Handler: "svc"},
			"end":      {ID: "end", Kind: domain.KindEnd},
		},
		Transitions: []domain.Transition{
			{From: "start", To: "risky"},
			{From: "risky", To: "end"},
			{From: "fallback", To: "end"},
		},
	}
	saveDef(t, st, def)

	inst, err := e.StartNew(context.Background(), "guarded", nil, CreateOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if inst.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED via boundary, got %s (%s)", inst.Status, inst.LastError)
	}
	if !contains(inst.CompletedActivityIDs, "fallback") {
		t.Errorf("expected fallback executed, got %v", inst.CompletedActivityIDs)
	}
}

func TestCompensationLIFO(t *testing.T) {
	rec := newRecorder()
	rec.failOn["boom"] = true
	rec.failOn["undo:t2"] = true
	e, st := newTestEngine(t, testRegistry(rec))

	def := &domain.ProcessDefinition{
		ID:              "saga",
		Version:         1,
		StartActivityID: "start",
		Activities: map[string]domain.Activity{
			"start": {ID: "start", Kind: domain.KindStart},
			"t1":    {ID: "t1", Kind: domain.KindServiceTask, Handler: "svc", CompensationHandler: "svc"},
			"t2":    {ID: "t2", Kind: domain.KindServiceTask, Handler: "svc", CompensationHandler: "svc"},
			"t3":    {ID: "t3", Kind: domain.KindServiceTask, Handler: "svc", CompensationHandler: "svc"},
			"boom":  {ID: "boom", Kind: domain.KindTask, Handler: "svc"},
			"end":   {ID: "end", Kind: domain.KindEnd},
		},
		Transitions: []domain.Transition{
			{From: "start", To: "t1"},
			{From: "t1", To: "t2"},
			{From: "t2", To: "t3"},
			{From: "t3", To: "boom"},
			{From: "boom", To: "end"},
		},
		ErrorHandlers: []domain.ErrorHandler{
			{Compensate: true},
		},
	}
	saveDef(t, st, def)

	inst, err := e.StartNew(context.Background(), "saga", nil, CreateOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if inst.Status != domain.StatusCompensated {
		t.Fatalf("expected COMPENSATED, got %s (%s)", inst.Status, inst.LastError)
	}

	// LIFO: t3, затем t2 (падает, best-effort), затем t1
	rec.mu.Lock()
	reversed := append([]string(nil), rec.reversed...)
	rec.mu.Unlock()
	if len(reversed) != 2 || reversed[0] != "t3" || reversed[1] != "t1" {
		t.Errorf("expected [t3 t1] (t2 fails), got %v", reversed)
	}

	// Падение шага компенсации записано в журнал
	history, _ := e.GetHistory(context.Background(), inst.ID)
	foundFailed := false
	for _, entry := range history {
		if entry.Type == domain.HistoryCompensationFailed && entry.ActivityID == "t2" {
			foundFailed = true
		}
	}
	if !foundFailed {
		t.Error("expected compensation.step_failed entry for t2")
	}

	if len(inst.CompensationStack) != 0 {
		t.Errorf("compensation stack must be drained, got %v", inst.CompensationStack)
	}
}

func TestActivityCeiling(t *testing.T) {
	rec := newRecorder()
	st := memory.New()
	e := New(Config{
		Definitions:           st.Definitions,
		Instances:             st.Instances,
		Timers:                st.Timers,
		Registry:              testRegistry(rec),
		MaxActivityExecutions: 10,
	})

	// Циклическое определение: a → b → a
	def := &domain.ProcessDefinition{
		ID:              "cycle",
		Version:         1,
		StartActivityID: "a",
		Activities: map[string]domain.Activity{
			"a": {ID: "a", Kind: domain.KindTask, Handler: "svc"},
			"b": {ID: "b", Kind: domain.KindTask, Handler: "svc"},
		},
		Transitions: []domain.Transition{
			{From: "a", To: "b"},
			{From: "b", To: "a"},
		},
	}
	saveDef(t, st, def)

	inst, err := e.StartNew(context.Background(), "cycle", nil, CreateOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inst.Status != domain.StatusFaulted {
		t.Fatalf("expected FAULTED, got %s", inst.Status)
	}
	if !strings.Contains(inst.LastError, domain.CodeActivityLimit) {
		t.Errorf("expected ACTIVITY_LIMIT, got %q", inst.LastError)
	}
}

func TestSecurityViolationUnknownHandler(t *testing.T) {
	rec := newRecorder()
	e, st := newTestEngine(t, testRegistry(rec))
	saveDef(t, st, linearDefWith("not-registered"))

	inst, err := e.StartNew(context.Background(), "linear", nil, CreateOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inst.Status != domain.StatusFaulted {
		t.Fatalf("expected FAULTED, got %s", inst.Status)
	}
	if !strings.Contains(inst.LastError, domain.CodeSecurityViolation) {
		t.Errorf("expected SECURITY_VIOLATION, got %q", inst.LastError)
	}
}

// --- Script / SubProcess ---

func TestScriptTask(t *testing.T) {
	rec := newRecorder()
	e, st := newTestEngine(t, testRegistry(rec))

	def := &domain.ProcessDefinition{
		ID:              "scripted",
		Version:         1,
		StartActivityID: "start",
		Activities: map[string]domain.Activity{
			"start": {ID: "start", Kind: domain.KindStart},
			"calc":  {ID: "calc", Kind: domain.KindScriptTask, Script: "$.total = $.price * $.qty;"},
			"end":   {ID: "end", Kind: domain.KindEnd},
		},
		Transitions: []domain.Transition{
			{From: "start", To: "calc"},
			{From: "calc", To: "end"},
		},
	}
	saveDef(t, st, def)

	inst, err := e.StartNew(context.Background(), "scripted",
		map[string]any{"price": 10, "qty": 4}, CreateOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inst.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (%s)", inst.Status, inst.LastError)
	}
	if inst.Variables["total"] != float64(40) {
		t.Errorf("expected total 40, got %v", inst.Variables["total"])
	}
}

func TestSubProcess(t *testing.T) {
	rec := newRecorder()
	e, st := newTestEngine(t, testRegistry(rec))

	child := linearDefWith("svc")
	child.ID = "child"
	saveDef(t, st, child)

	parent := &domain.ProcessDefinition{
		ID:              "parent",
		Version:         1,
		StartActivityID: "start",
		Activities: map[string]domain.Activity{
			"start": {ID: "start", Kind: domain.KindStart},
			"sub":   {ID: "sub", Kind: domain.KindSubProcess, SubProcessID: "child"},
			"end":   {ID: "end", Kind: domain.KindEnd},
		},
		Transitions: []domain.Transition{
			{From: "start", To: "sub"},
			{From: "sub", To: "end"},
		},
	}
	saveDef(t, st, parent)

	inst, err := e.StartNew(context.Background(), "parent", nil, CreateOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inst.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (%s)", inst.Status, inst.LastError)
	}

	// Дочерний экземпляр существует и привязан к родителю
	children, _, err := e.QueryInstances(context.Background(), store.InstanceQuery{DefinitionID: "child"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(children) != 1 {
		t.Fatalf("expected 1 child instance, got %d", len(children))
	}
	if children[0].ParentInstanceID == nil || *children[0].ParentInstanceID != inst.ID {
		t.Errorf("child must reference parent")
	}
}

func TestMultiInstance(t *testing.T) {
	rec := newRecorder()
	e, st := newTestEngine(t, testRegistry(rec))

	def := &domain.ProcessDefinition{
		ID:              "batch",
		Version:         1,
		StartActivityID: "start",
		Activities: map[string]domain.Activity{
			"start": {ID: "start", Kind: domain.KindStart},
			"each": {
				ID:            "each",
				Kind:          domain.KindMultiInstance,
				CollectionVar: "items",
				ItemVar:       "item",
				Inner: &domain.Activity{
					ID:     "each_inner",
					Kind:   domain.KindScriptTask,
					Script: "$.doubled = $.item * 2;",
				},
			},
			"end": {ID: "end", Kind: domain.KindEnd},
		},
		Transitions: []domain.Transition{
			{From: "start", To: "each"},
			{From: "each", To: "end"},
		},
	}
	saveDef(t, st, def)

	inst, err := e.StartNew(context.Background(), "batch",
		map[string]any{"items": []any{1, 2, 3}}, CreateOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inst.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (%s)", inst.Status, inst.LastError)
	}

	results, ok := inst.Variables["results"].([]any)
	if !ok || len(results) != 3 {
		t.Fatalf("expected 3 aggregated results, got %v", inst.Variables["results"])
	}
}

// --- Cancel / Terminate ---

func TestCancelSuspended(t *testing.T) {
	rec := newRecorder()
	e, st := newTestEngine(t, testRegistry(rec))

	def := linearDefWith("svc")
	def.Activities["work"] = domain.Activity{ID: "work", Kind: domain.KindUserTask}
	saveDef(t, st, def)

	inst, err := e.StartNew(context.Background(), "linear", nil, CreateOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := e.Cancel(context.Background(), inst.ID, "operator request"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cancelled, _ := e.GetInstance(context.Background(), inst.ID)
	if cancelled.Status != domain.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", cancelled.Status)
	}

	// Терминальный экземпляр отменить нельзя
	err = e.Cancel(context.Background(), inst.ID, "")
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}

// --- Блокировки и запросы ---

func TestLeaseLockContention(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	id := uuid.New()

	// Два holder'а: выигрывает один, пока lease не истёк
	ok1, err := st.Instances.TryAcquireLock(ctx, id, "worker-1", 50*time.Millisecond)
	if err != nil || !ok1 {
		t.Fatalf("worker-1 must acquire: %v %v", ok1, err)
	}
	ok2, err := st.Instances.TryAcquireLock(ctx, id, "worker-2", 50*time.Millisecond)
	if err != nil || ok2 {
		t.Fatalf("worker-2 must not acquire while lease held: %v %v", ok2, err)
	}

	// Тот же holder продлевает lease
	ok1again, err := st.Instances.TryAcquireLock(ctx, id, "worker-1", 50*time.Millisecond)
	if err != nil || !ok1again {
		t.Fatalf("same holder must renew: %v %v", ok1again, err)
	}

	// После истечения lease другой holder выигрывает
	time.Sleep(60 * time.Millisecond)
	ok2late, err := st.Instances.TryAcquireLock(ctx, id, "worker-2", 50*time.Millisecond)
	if err != nil || !ok2late {
		t.Fatalf("worker-2 must acquire after expiry: %v %v", ok2late, err)
	}
}

func TestQueryDeterminism(t *testing.T) {
	rec := newRecorder()
	e, st := newTestEngine(t, testRegistry(rec))
	saveDef(t, st, linearDefWith("svc"))

	for i := 0; i < 5; i++ {
		if _, err := e.StartNew(context.Background(), "linear",
			map[string]any{"n": i}, CreateOptions{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	q := store.InstanceQuery{DefinitionID: "linear", Limit: 3}
	first, total1, err := e.QueryInstances(context.Background(), q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, total2, err := e.QueryInstances(context.Background(), q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if total1 != 5 || total2 != 5 {
		t.Errorf("expected total 5, got %d and %d", total1, total2)
	}
	if len(first) != len(second) {
		t.Fatalf("page sizes differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("page content differs at %d: %s vs %s", i, first[i].ID, second[i].ID)
		}
	}
}

func TestCurrentActivityAlwaysInDefinition(t *testing.T) {
	// Инвариант: пока RUNNING, CurrentActivityID — ключ Activities.
	// Проверяется косвенно: suspend фиксирует текущую activity
	rec := newRecorder()
	e, st := newTestEngine(t, testRegistry(rec))

	def := linearDefWith("svc")
	def.Activities["work"] = domain.Activity{ID: "work", Kind: domain.KindUserTask}
	saveDef(t, st, def)

	inst, err := e.StartNew(context.Background(), "linear", nil, CreateOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := def.Activities[inst.CurrentActivityID]; !ok {
		t.Errorf("current activity %q is not a definition key", inst.CurrentActivityID)
	}
}

// --- Вспомогательное ---

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func TestEndActivityOutput(t *testing.T) {
	rec := newRecorder()
	e, st := newTestEngine(t, testRegistry(rec))

	def := linearDefWith("svc")
	end := def.Activities["end"]
	end.Input = map[string]any{"result": "$.variables.work_done"}
	def.Activities["end"] = end
	saveDef(t, st, def)

	inst, err := e.StartNew(context.Background(), "linear", nil, CreateOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inst.Output == nil || inst.Output["result"] != true {
		t.Errorf("expected End input mapping as instance output, got %v", inst.Output)
	}
}

func TestRevisionConflict(t *testing.T) {
	rec := newRecorder()
	_, st := newTestEngine(t, testRegistry(rec))
	ctx := context.Background()

	inst := &domain.ProcessInstance{ID: uuid.New(), Status: domain.StatusPending, CreatedAt: time.Now()}
	if err := st.Instances.Save(ctx, inst, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stale := *inst
	stale.Revision = 0 // устаревшая ревизия
	err := st.Instances.Save(ctx, &stale, nil)
	if !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func ExampleEngine_StartNew() {
	st := memory.New()
	e := New(Config{
		Definitions: st.Definitions,
		Instances:   st.Instances,
		Timers:      st.Timers,
		Registry:    handler.DefaultRegistry(),
	})

	def := &domain.ProcessDefinition{
		ID:              "hello",
		Version:         1,
		StartActivityID: "start",
		Published:       true,
		IsActive:        true,
		Activities: map[string]domain.Activity{
			"start": {ID: "start", Kind: domain.KindStart},
			"end":   {ID: "end", Kind: domain.KindEnd},
		},
		Transitions: []domain.Transition{{From: "start", To: "end"}},
	}
	_ = st.Definitions.Save(context.Background(), def)

	inst, _ := e.StartNew(context.Background(), "hello", nil, CreateOptions{})
	fmt.Println(inst.Status)
	// Output: COMPLETED
}
