package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Dirigent/internal/domain"
	"github.com/shaiso/Dirigent/internal/store"
)

func testDef(id string, version int) *domain.ProcessDefinition {
	return &domain.ProcessDefinition{
		ID:              id,
		Version:         version,
		StartActivityID: "start",
		Activities: map[string]domain.Activity{
			"start": {ID: "start", Kind: domain.KindStart},
			"end":   {ID: "end", Kind: domain.KindEnd},
		},
		Transitions: []domain.Transition{{From: "start", To: "end"}},
		CreatedAt:   time.Now(),
	}
}

// --- Definitions ---

func TestDefinitionVersions(t *testing.T) {
	st := New()
	ctx := context.Background()

	v1 := testDef("proc", 1)
	v1.Published = true
	v2 := testDef("proc", 2)
	v2.Published = true
	v3 := testDef("proc", 3) // черновик

	for _, d := range []*domain.ProcessDefinition{v1, v2, v3} {
		if err := st.Definitions.Save(ctx, d); err != nil {
			t.Fatalf("save v%d: %v", d.Version, err)
		}
	}

	// Конкретная версия
	got, err := st.Definitions.Get(ctx, "proc", 2)
	if err != nil || got.Version != 2 {
		t.Fatalf("Get v2 = %v, %v", got, err)
	}

	// LatestVersion — последняя опубликованная, не черновик
	got, err = st.Definitions.Get(ctx, "proc", store.LatestVersion)
	if err != nil || got.Version != 2 {
		t.Fatalf("Get latest = %v, %v (want published v2)", got, err)
	}

	// Нет опубликованных — fallback на последнюю любого статуса
	draft := testDef("draft-only", 1)
	if err := st.Definitions.Save(ctx, draft); err != nil {
		t.Fatalf("save draft: %v", err)
	}
	got, err = st.Definitions.Get(ctx, "draft-only", store.LatestVersion)
	if err != nil || got.Version != 1 {
		t.Fatalf("Get latest draft = %v, %v", got, err)
	}

	if _, err := st.Definitions.Get(ctx, "ghost", 1); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDefinitionImmutability(t *testing.T) {
	st := New()
	ctx := context.Background()

	pub := testDef("proc", 1)
	pub.Published = true
	if err := st.Definitions.Save(ctx, pub); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Опубликованную версию перезаписать нельзя
	err := st.Definitions.Save(ctx, testDef("proc", 1))
	if !errors.Is(err, store.ErrImmutable) {
		t.Fatalf("expected ErrImmutable, got %v", err)
	}

	// Черновик перезаписывается свободно
	if err := st.Definitions.Save(ctx, testDef("proc", 2)); err != nil {
		t.Fatalf("save draft: %v", err)
	}
	updated := testDef("proc", 2)
	updated.Name = "updated"
	if err := st.Definitions.Save(ctx, updated); err != nil {
		t.Fatalf("overwrite draft: %v", err)
	}
}

func TestDefinitionPublish(t *testing.T) {
	st := New()
	ctx := context.Background()

	if err := st.Definitions.Save(ctx, testDef("proc", 1)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := st.Definitions.Publish(ctx, "proc", 1); err != nil {
		t.Fatalf("publish: %v", err)
	}
	got, _ := st.Definitions.Get(ctx, "proc", 1)
	if !got.Published {
		t.Error("expected Published=true")
	}

	if err := st.Definitions.Unpublish(ctx, "proc", 1); err != nil {
		t.Fatalf("unpublish: %v", err)
	}
	got, _ = st.Definitions.Get(ctx, "proc", 1)
	if got.Published {
		t.Error("expected Published=false")
	}

	if err := st.Definitions.Publish(ctx, "ghost", 1); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDefinitionListByTrigger(t *testing.T) {
	st := New()
	ctx := context.Background()

	subscribed := testDef("subscribed", 1)
	subscribed.Published = true
	subscribed.IsActive = true
	subscribed.Triggers = []domain.Trigger{{Type: domain.TriggerEvent, Value: "order.created"}}

	inactive := testDef("inactive", 1)
	inactive.Published = true
	inactive.Triggers = []domain.Trigger{{Type: domain.TriggerEvent, Value: "order.created"}}

	other := testDef("other", 1)
	other.Published = true
	other.IsActive = true
	other.Triggers = []domain.Trigger{{Type: domain.TriggerEvent, Value: "order.cancelled"}}

	for _, d := range []*domain.ProcessDefinition{subscribed, inactive, other} {
		if err := st.Definitions.Save(ctx, d); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	defs, err := st.Definitions.ListByTrigger(ctx, domain.TriggerEvent, "order.created")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(defs) != 1 || defs[0].ID != "subscribed" {
		t.Errorf("expected [subscribed], got %v", defs)
	}

	// Пустой value — любое значение триггера данного типа
	all, err := st.Definitions.ListByTrigger(ctx, domain.TriggerEvent, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 event-triggered definitions, got %d", len(all))
	}
}

func TestDefinitionIsolation(t *testing.T) {
	st := New()
	ctx := context.Background()

	def := testDef("proc", 1)
	if err := st.Definitions.Save(ctx, def); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Мутация сохранённого объекта не должна влиять на хранилище
	def.Name = "mutated after save"
	got, _ := st.Definitions.Get(ctx, "proc", 1)
	if got.Name == "mutated after save" {
		t.Error("store must keep its own copy of saved definition")
	}

	// И наоборот: мутация полученного объекта не видна хранилищу
	got.Activities["injected"] = domain.Activity{ID: "injected"}
	again, _ := st.Definitions.Get(ctx, "proc", 1)
	if _, ok := again.Activities["injected"]; ok {
		t.Error("store must return copies, not shared references")
	}
}

// --- Instances ---

func testInstance() *domain.ProcessInstance {
	return &domain.ProcessInstance{
		ID:           uuid.New(),
		DefinitionID:      "proc",
		DefinitionVersion: 1,
		Status:            domain.StatusPending,
		Variables:    map[string]any{"n": 1},
		CreatedAt:    time.Now(),
	}
}

func TestInstanceSaveRevision(t *testing.T) {
	st := New()
	ctx := context.Background()

	inst := testInstance()
	if err := st.Instances.Save(ctx, inst, nil); err != nil {
		t.Fatalf("save: %v", err)
	}
	if inst.Revision != 1 {
		t.Fatalf("expected revision 1 after first save, got %d", inst.Revision)
	}

	if err := st.Instances.Save(ctx, inst, nil); err != nil {
		t.Fatalf("save: %v", err)
	}
	if inst.Revision != 2 {
		t.Fatalf("expected revision 2, got %d", inst.Revision)
	}

	// Сохранение с устаревшей ревизией — конфликт
	stale := *inst
	stale.Revision = 1
	if err := st.Instances.Save(ctx, &stale, nil); !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestInstanceHistoryAppendOnly(t *testing.T) {
	st := New()
	ctx := context.Background()

	inst := testInstance()
	entry := func(typ domain.HistoryType) domain.HistoryEntry {
		return domain.HistoryEntry{
			ID:         uuid.New(),
			InstanceID: inst.ID,
			Type:       typ,
			At:         time.Now(),
		}
	}

	if err := st.Instances.Save(ctx, inst, []domain.HistoryEntry{
		entry(domain.HistoryInstanceCreated),
	}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := st.Instances.Save(ctx, inst, []domain.HistoryEntry{
		entry(domain.HistoryInstanceStarted),
		entry(domain.HistoryActivityStarted),
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	history, err := st.Instances.History(ctx, inst.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	want := []domain.HistoryType{
		domain.HistoryInstanceCreated,
		domain.HistoryInstanceStarted,
		domain.HistoryActivityStarted,
	}
	if len(history) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(history))
	}
	for i, typ := range want {
		if history[i].Type != typ {
			t.Errorf("entry %d: expected %s, got %s", i, typ, history[i].Type)
		}
	}
}

func TestInstanceHistoryAtomicity(t *testing.T) {
	st := New()
	ctx := context.Background()

	inst := testInstance()
	if err := st.Instances.Save(ctx, inst, nil); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Конфликтный Save не должен дописать журнал
	stale := *inst
	stale.Revision = 0
	err := st.Instances.Save(ctx, &stale, []domain.HistoryEntry{
		{ID: uuid.New(), InstanceID: inst.ID, Type: domain.HistoryInstanceFaulted},
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	history, _ := st.Instances.History(ctx, inst.ID)
	if len(history) != 0 {
		t.Errorf("conflicting save must not append history, got %d entries", len(history))
	}
}

func TestInstanceQuery(t *testing.T) {
	st := New()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		inst := testInstance()
		inst.CreatedAt = time.Now().Add(time.Duration(i) * time.Second)
		if i%2 == 0 {
			inst.Status = domain.StatusCompleted
		}
		if i == 4 {
			inst.DefinitionID = "another"
			inst.TenantID = "acme"
		}
		if err := st.Instances.Save(ctx, inst, nil); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	// Фильтр по определению
	res, total, err := st.Instances.Query(ctx, store.InstanceQuery{DefinitionID: "proc"})
	if err != nil || total != 4 || len(res) != 4 {
		t.Fatalf("by definition: got %d/%d, %v", len(res), total, err)
	}

	// Фильтр по статусу
	res, total, err = st.Instances.Query(ctx, store.InstanceQuery{
		DefinitionID: "proc",
		Statuses:     []domain.InstanceStatus{domain.StatusCompleted},
	})
	if err != nil || total != 3 {
		t.Fatalf("by status: got total %d, %v", total, err)
	}
	_ = res

	// Фильтр по tenant
	_, total, err = st.Instances.Query(ctx, store.InstanceQuery{TenantID: "acme"})
	if err != nil || total != 1 {
		t.Fatalf("by tenant: got total %d, %v", total, err)
	}

	// Страница: limit меньше общего количества
	res, total, err = st.Instances.Query(ctx, store.InstanceQuery{DefinitionID: "proc", Limit: 2})
	if err != nil || total != 4 || len(res) != 2 {
		t.Fatalf("page: got %d/%d, %v", len(res), total, err)
	}

	// Offset за пределами — пустая страница, total сохраняется
	res, total, err = st.Instances.Query(ctx, store.InstanceQuery{DefinitionID: "proc", Offset: 100})
	if err != nil || total != 4 || len(res) != 0 {
		t.Fatalf("offset past end: got %d/%d, %v", len(res), total, err)
	}
}

func TestInstanceGetByBookmarkName(t *testing.T) {
	st := New()
	ctx := context.Background()

	suspended := testInstance()
	suspended.Status = domain.StatusSuspended
	suspended.Bookmarks = []domain.Bookmark{{Name: "signal:pay"}}

	running := testInstance()
	running.Status = domain.StatusRunning
	running.Bookmarks = []domain.Bookmark{{Name: "signal:pay"}}

	for _, inst := range []*domain.ProcessInstance{suspended, running} {
		if err := st.Instances.Save(ctx, inst, nil); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	// Только приостановленные экземпляры
	got, err := st.Instances.GetByBookmarkName(ctx, "signal:pay")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID != suspended.ID {
		t.Errorf("expected only suspended instance, got %v", got)
	}
}

func TestLockLease(t *testing.T) {
	st := New()
	ctx := context.Background()
	id := uuid.New()

	ok, err := st.Instances.TryAcquireLock(ctx, id, "w1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire: %v %v", ok, err)
	}
	ok, err = st.Instances.TryAcquireLock(ctx, id, "w2", time.Minute)
	if err != nil || ok {
		t.Fatalf("contention: w2 must not acquire, got %v %v", ok, err)
	}

	// Чужую блокировку освободить нельзя
	if err := st.Instances.ReleaseLock(ctx, id, "w2"); !errors.Is(err, store.ErrLockNotHeld) {
		t.Errorf("expected ErrLockNotHeld, got %v", err)
	}

	// После освобождения другой holder захватывает
	if err := st.Instances.ReleaseLock(ctx, id, "w1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = st.Instances.TryAcquireLock(ctx, id, "w2", time.Minute)
	if err != nil || !ok {
		t.Fatalf("after release: %v %v", ok, err)
	}
}

// --- Timers ---

func TestTimerLifecycle(t *testing.T) {
	st := New()
	ctx := context.Background()
	instID := uuid.New()

	now := time.Now()
	early := &domain.Timer{
		ID:           uuid.New(),
		InstanceID:   instID,
		BookmarkName: "timer:wait",
		DueAt:        now.Add(-time.Second),
	}
	late := &domain.Timer{
		ID:           uuid.New(),
		InstanceID:   instID,
		BookmarkName: "timer:later",
		DueAt:        now.Add(time.Hour),
	}
	for _, tm := range []*domain.Timer{early, late} {
		if err := st.Timers.Schedule(ctx, tm); err != nil {
			t.Fatalf("schedule: %v", err)
		}
	}

	due, err := st.Timers.GetDue(ctx, now, 0)
	if err != nil {
		t.Fatalf("get due: %v", err)
	}
	if len(due) != 1 || due[0].ID != early.ID {
		t.Fatalf("expected only the early timer, got %v", due)
	}

	// Сработавший таймер не возвращается повторно
	if err := st.Timers.MarkTriggered(ctx, early.ID); err != nil {
		t.Fatalf("mark triggered: %v", err)
	}
	due, _ = st.Timers.GetDue(ctx, now, 0)
	if len(due) != 0 {
		t.Errorf("triggered timer must not reappear, got %v", due)
	}

	// Отмена по имени bookmark
	if err := st.Timers.Cancel(ctx, instID, "timer:later"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	due, _ = st.Timers.GetDue(ctx, now.Add(2*time.Hour), 0)
	if len(due) != 0 {
		t.Errorf("cancelled timer must not fire, got %v", due)
	}
}

func TestTimerGetDueLimit(t *testing.T) {
	st := New()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		tm := &domain.Timer{
			ID:           uuid.New(),
			InstanceID:   uuid.New(),
			BookmarkName: "timer:x",
			DueAt:        time.Now().Add(-time.Duration(i) * time.Second),
		}
		if err := st.Timers.Schedule(ctx, tm); err != nil {
			t.Fatalf("schedule: %v", err)
		}
	}

	due, err := st.Timers.GetDue(ctx, time.Now(), 3)
	if err != nil {
		t.Fatalf("get due: %v", err)
	}
	if len(due) != 3 {
		t.Errorf("expected 3 timers with limit, got %d", len(due))
	}
}

func TestTimerCancelAll(t *testing.T) {
	st := New()
	ctx := context.Background()
	instID := uuid.New()

	for _, name := range []string{"timer:a", "timer:b"} {
		tm := &domain.Timer{
			ID:           uuid.New(),
			InstanceID:   instID,
			BookmarkName: name,
			DueAt:        time.Now(),
		}
		if err := st.Timers.Schedule(ctx, tm); err != nil {
			t.Fatalf("schedule: %v", err)
		}
	}

	// Пустое имя — снять все таймеры экземпляра
	if err := st.Timers.Cancel(ctx, instID, ""); err != nil {
		t.Fatalf("cancel all: %v", err)
	}
	due, _ := st.Timers.GetDue(ctx, time.Now().Add(time.Minute), 0)
	if len(due) != 0 {
		t.Errorf("expected no timers, got %v", due)
	}
}
