package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shaiso/Dirigent/internal/domain"
	"github.com/shaiso/Dirigent/internal/handler"
)

// executeActivity — диспетчеризация выполнения по Kind.
//
// Исчерпывающий switch по дискриминатору; брошенные ошибки и паники
// конвертируются в failure-результаты, а не пробрасываются — это даёт
// шанс boundary/глобальной обработке.
func (e *Engine) executeActivity(ctx context.Context, rs *runState, act domain.Activity, cctx *Context) domain.ActivityResult {
	switch act.Kind {
	case domain.KindStart:
		return domain.ResultContinue(nil)

	case domain.KindEnd:
		// Input End-activity, отрезолвленный через контекст, становится
		// выходом экземпляра
		return domain.ResultContinue(handler.ResolveInputs(cctx.Data(), act.Input))

	case domain.KindExclusiveGateway:
		return e.execExclusive(act, cctx)

	case domain.KindInclusiveGateway:
		return e.execInclusive(act, cctx)

	case domain.KindParallelGateway:
		if act.Direction == domain.DirectionSplit {
			targets := rs.graph.BranchTargets(act.ID)
			if len(targets) == 0 {
				return domain.ResultFailure(domain.CodeNoPath, "parallel split has no outgoing branches")
			}
			return domain.ResultParallel(targets)
		}
		// join — no-op: схождение отслеживает движок
		return domain.ResultContinue(nil)

	case domain.KindUserTask:
		return domain.ResultSuspend("user:"+act.ID, nil)

	case domain.KindTimer:
		return domain.ResultSuspend("timer:"+act.ID, nil)

	case domain.KindSignalReceive:
		return domain.ResultSuspend("signal:"+act.Signal, nil)

	case domain.KindTask, domain.KindServiceTask:
		return e.execGuarded(ctx, rs, act, cctx, e.execTask)

	case domain.KindScriptTask:
		return e.execGuarded(ctx, rs, act, cctx, e.execScript)

	case domain.KindSubProcess:
		return e.execGuarded(ctx, rs, act, cctx, e.execSubProcess)

	case domain.KindMultiInstance:
		return e.execGuarded(ctx, rs, act, cctx, e.execMultiInstance)

	default:
		// KindErrorBoundary и неизвестные Kind напрямую не выполняются
		return domain.ResultFailure(domain.CodeActivityError,
			fmt.Sprintf("activity kind %q is not directly executable", act.Kind))
	}
}

// execGuarded выполняет работу под таймаутом с восстановлением паник.
func (e *Engine) execGuarded(ctx context.Context, rs *runState, act domain.Activity, cctx *Context,
	fn func(context.Context, *runState, domain.Activity, *Context) domain.ActivityResult) (res domain.ActivityResult) {

	ctx, cancel := context.WithTimeout(ctx, e.activityTimeout(rs, act))
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("activity panicked",
				"instance_id", rs.inst.ID,
				"activity_id", act.ID,
				"panic", fmt.Sprintf("%v", r),
			)
			res = domain.ResultFailure(domain.CodeActivityError, fmt.Sprintf("panic: %v", r))
		}
	}()

	return fn(ctx, rs, act, cctx)
}

// activityTimeout — таймаут activity: её собственный, иначе определения,
// иначе движка.
func (e *Engine) activityTimeout(rs *runState, act domain.Activity) time.Duration {
	if act.TimeoutSec > 0 {
		return time.Duration(act.TimeoutSec) * time.Second
	}
	if d := rs.graph.Definition().DefaultTimeoutSec; d > 0 {
		return time.Duration(d) * time.Second
	}
	return e.defaultTimeout
}

// execExclusive — XOR: условия в порядке возрастания ключей, первое
// истинное побеждает; иначе путь по умолчанию; иначе NO_PATH.
func (e *Engine) execExclusive(act domain.Activity, cctx *Context) domain.ActivityResult {
	data := cctx.Data()
	for _, key := range sortedConditionKeys(act.Conditions) {
		cond := act.Conditions[key]
		if Evaluate(cond.Expression, data) {
			return domain.ResultNext(cond.To, nil)
		}
	}
	if act.DefaultTo != "" {
		return domain.ResultNext(act.DefaultTo, nil)
	}
	return domain.ResultFailure(domain.CodeNoPath, "no condition matched and no default path")
}

// execInclusive — OR: все истинные условия выбирают пути.
// Ноль — default или NO_PATH; один — одиночный переход; много —
// параллельный fan-out.
func (e *Engine) execInclusive(act domain.Activity, cctx *Context) domain.ActivityResult {
	data := cctx.Data()
	var matched []string
	for _, key := range sortedConditionKeys(act.Conditions) {
		cond := act.Conditions[key]
		if Evaluate(cond.Expression, data) {
			matched = append(matched, cond.To)
		}
	}
	switch len(matched) {
	case 0:
		if act.DefaultTo != "" {
			return domain.ResultNext(act.DefaultTo, nil)
		}
		return domain.ResultFailure(domain.CodeNoPath, "no condition matched and no default path")
	case 1:
		return domain.ResultNext(matched[0], nil)
	default:
		return domain.ResultParallel(matched)
	}
}

// execTask выполняет task/service_task через реестр обработчиков.
//
// Имя обработчика валидируется членством в allow-list; для service_task
// с компенсацией capability проверяется до вызова. Политика retry
// применяется вокруг вызова обработчика.
func (e *Engine) execTask(ctx context.Context, rs *runState, act domain.Activity, cctx *Context) domain.ActivityResult {
	h, err := e.registry.Resolve(act.Handler)
	if err != nil {
		return domain.ResultFailure(domain.CodeSecurityViolation, err.Error())
	}
	if act.Kind == domain.KindServiceTask && act.CompensationHandler != "" {
		if _, err := e.registry.ResolveCompensator(act.CompensationHandler); err != nil {
			return domain.ResultFailure(domain.CodeSecurityViolation, err.Error())
		}
	}

	inv := handler.Invocation{
		InstanceID: rs.inst.ID,
		ActivityID: act.ID,
		Input:      handler.ResolveInputs(cctx.Data(), act.Input),
	}

	attempts := 1
	if act.Retry != nil && act.Retry.MaxAttempts > 0 {
		attempts = act.Retry.MaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = attempts
				continue
			case <-time.After(backoffDelay(act.Retry, attempt)):
			}
			rs.e.logger.Debug("retrying activity",
				"instance_id", rs.inst.ID,
				"activity_id", act.ID,
				"attempt", attempt,
			)
		}

		output, err := h.Execute(ctx, inv)
		if err == nil {
			return domain.ResultContinue(output)
		}
		lastErr = err
	}

	if errors.Is(lastErr, context.DeadlineExceeded) {
		return domain.ResultFailure(domain.CodeTimeout, "activity execution timeout")
	}
	return domain.ResultFailure(domain.CodeActivityError, lastErr.Error())
}

// execScript выполняет JS-скрипт над переменными экземпляра.
// Мутированный скриптом объект $ становится выходом activity.
func (e *Engine) execScript(ctx context.Context, rs *runState, act domain.Activity, cctx *Context) domain.ActivityResult {
	output, err := handler.RunScript(ctx, act.Script, cctx.Variables())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return domain.ResultFailure(domain.CodeTimeout, "script execution timeout")
		}
		return domain.ResultFailure(domain.CodeScriptError, err.Error())
	}
	return domain.ResultContinue(output)
}

// execSubProcess синхронно запускает вложенный экземпляр.
//
// ID дочернего экземпляра сохраняется в переменной "_child:<activityID>"
// для компенсации (откат под-процесса — отмена дочернего экземпляра).
// Дочерний экземпляр, не завершившийся синхронно (suspend внутри),
// считается ошибкой под-процесса.
func (e *Engine) execSubProcess(ctx context.Context, rs *runState, act domain.Activity, cctx *Context) domain.ActivityResult {
	input := handler.ResolveInputs(cctx.Data(), act.Input)
	child, err := e.StartNew(ctx, act.SubProcessID, input, CreateOptions{
		TenantID:         rs.inst.TenantID,
		ParentInstanceID: &rs.inst.ID,
	})
	if err != nil {
		return domain.ResultFailure(domain.CodeSubProcessFailed, err.Error())
	}

	cctx.SetVariable("_child:"+act.ID, child.ID.String())

	switch child.Status {
	case domain.StatusCompleted:
		return domain.ResultContinue(child.Output)
	case domain.StatusFaulted:
		return domain.ResultFailure(domain.CodeSubProcessFailed,
			fmt.Sprintf("sub-process %s faulted: %s", child.ID, child.LastError))
	default:
		return domain.ResultFailure(domain.CodeSubProcessFailed,
			fmt.Sprintf("sub-process %s did not complete synchronously (%s)", child.ID, child.Status))
	}
}

// execMultiInstance итерирует упорядоченную коллекцию, выполняя
// вложенную activity на каждый элемент и агрегируя выходы.
// CompleteWhen позволяет завершить итерацию досрочно.
func (e *Engine) execMultiInstance(ctx context.Context, rs *runState, act domain.Activity, cctx *Context) domain.ActivityResult {
	if act.Inner == nil {
		return domain.ResultFailure(domain.CodeActivityError, "multi-instance has no inner activity")
	}

	raw, _ := cctx.GetVariable(act.CollectionVar)
	items, ok := raw.([]any)
	if !ok {
		return domain.ResultFailure(domain.CodeActivityError,
			fmt.Sprintf("variable %q is not an ordered collection", act.CollectionVar))
	}

	results := make([]any, 0, len(items))
	for _, item := range items {
		if ctx.Err() != nil {
			return domain.ResultFailure(domain.CodeTimeout, "multi-instance iteration timeout")
		}

		cctx.SetVariable(act.ItemVar, item)
		res := e.executeActivity(ctx, rs, *act.Inner, cctx)
		if !res.Success {
			return res
		}
		if res.SuspendBookmark != "" {
			return domain.ResultFailure(domain.CodeActivityError,
				"suspension inside multi-instance is not supported")
		}
		results = append(results, res.Output)
		cctx.FoldOutput(res.Output)

		if act.CompleteWhen != "" && Evaluate(act.CompleteWhen, cctx.Data()) {
			break
		}
	}

	return domain.ResultContinue(map[string]any{"results": results})
}

// backoffDelay вычисляет задержку перед попыткой attempt (2..N).
func backoffDelay(p *domain.RetryPolicy, attempt int) time.Duration {
	if p == nil || p.InitialDelayMs <= 0 {
		return 0
	}
	delay := time.Duration(p.InitialDelayMs) * time.Millisecond
	if p.Backoff == "exponential" {
		for i := 2; i < attempt; i++ {
			delay *= 2
		}
	}
	if p.MaxDelayMs > 0 {
		if max := time.Duration(p.MaxDelayMs) * time.Millisecond; delay > max {
			delay = max
		}
	}
	return delay
}

// sortedConditionKeys возвращает ключи условий gateway'а по возрастанию.
func sortedConditionKeys(conditions map[string]domain.GatewayCondition) []string {
	keys := make([]string, 0, len(conditions))
	for k := range conditions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
