package runner

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Dirigent/internal/domain"
	"github.com/shaiso/Dirigent/internal/engine"
	"github.com/shaiso/Dirigent/internal/mq"
	"github.com/shaiso/Dirigent/internal/store/memory"
)

// simpleDef — минимальное определение start -> end.
func simpleDef(id string) *domain.ProcessDefinition {
	return &domain.ProcessDefinition{
		ID:              id,
		Version:         1,
		Published:       true,
		IsActive:        true,
		StartActivityID: "start",
		Activities: map[string]domain.Activity{
			"start": {ID: "start", Kind: domain.KindStart},
			"end":   {ID: "end", Kind: domain.KindEnd},
		},
		Transitions: []domain.Transition{
			{From: "start", To: "end"},
		},
	}
}

func newTestRunner(t *testing.T) (*Runner, *engine.Engine, *memory.Store) {
	t.Helper()
	st := memory.New()
	e := engine.New(engine.Config{
		Definitions: st.Definitions,
		Instances:   st.Instances,
		Timers:      st.Timers,
		Holder:      "test-runner",
	})
	r := New(Config{
		Engine:    e,
		Instances: st.Instances,
		Timers:    st.Timers,
	})
	return r, e, st
}

func TestPollStartsPendingInstances(t *testing.T) {
	r, e, st := newTestRunner(t)
	ctx := context.Background()

	if err := st.Definitions.Save(ctx, simpleDef("greet")); err != nil {
		t.Fatalf("save definition: %v", err)
	}

	inst, err := e.CreateInstance(ctx, "greet", nil, engine.CreateOptions{})
	if err != nil {
		t.Fatalf("create instance: %v", err)
	}
	if inst.Status != domain.StatusPending {
		t.Fatalf("expected PENDING, got %s", inst.Status)
	}

	r.poll(ctx)

	got, err := e.GetInstance(ctx, inst.ID)
	if err != nil {
		t.Fatalf("get instance: %v", err)
	}
	if got.Status != domain.StatusCompleted {
		t.Errorf("expected COMPLETED after poll, got %s", got.Status)
	}
}

func TestStartInstanceTolerant(t *testing.T) {
	r, e, st := newTestRunner(t)
	ctx := context.Background()

	if err := st.Definitions.Save(ctx, simpleDef("tolerant")); err != nil {
		t.Fatalf("save definition: %v", err)
	}

	inst, err := e.CreateInstance(ctx, "tolerant", nil, engine.CreateOptions{})
	if err != nil {
		t.Fatalf("create instance: %v", err)
	}

	// Первый запуск успешен, повторный не ошибка (экземпляр уже запущен)
	if err := r.startInstance(ctx, inst.ID); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := r.startInstance(ctx, inst.ID); err != nil {
		t.Errorf("second start should be tolerated: %v", err)
	}

	// Несуществующий экземпляр тоже не ошибка: сообщение надо ack
	if err := r.startInstance(ctx, uuid.New()); err != nil {
		t.Errorf("unknown instance should be tolerated: %v", err)
	}
}

func TestHandleTimerDueStale(t *testing.T) {
	r, _, st := newTestRunner(t)
	ctx := context.Background()

	// Таймер ссылается на несуществующий экземпляр — устаревший
	timer := &domain.Timer{
		ID:           uuid.New(),
		InstanceID:   uuid.New(),
		BookmarkName: "timer:wait",
		DueAt:        time.Now().Add(-time.Minute),
	}
	if err := st.Timers.Schedule(ctx, timer); err != nil {
		t.Fatalf("schedule timer: %v", err)
	}

	delivery := &mq.Delivery{
		Message: mq.Message{
			Type: mq.MessageTypeTimerDue,
			Payload: map[string]any{
				"timer_id":      timer.ID.String(),
				"instance_id":   timer.InstanceID.String(),
				"bookmark_name": timer.BookmarkName,
			},
		},
	}

	if err := r.handleTimerDue(ctx, delivery); err != nil {
		t.Fatalf("stale timer should be acked, got error: %v", err)
	}

	// Устаревший таймер погашен и больше не возвращается как due
	due, err := st.Timers.GetDue(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("get due: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("expected stale timer marked triggered, got %d due", len(due))
	}
}

func TestHandleSignalInboxUnknownType(t *testing.T) {
	r, _, _ := newTestRunner(t)

	delivery := &mq.Delivery{
		Message: mq.Message{
			Type:    mq.MessageType("mystery.message"),
			Payload: map[string]any{},
		},
	}

	// Неизвестный тип — ack без ошибки, иначе доставка зациклится
	if err := r.handleSignalInbox(context.Background(), delivery); err != nil {
		t.Errorf("unknown type should be acked: %v", err)
	}
}
