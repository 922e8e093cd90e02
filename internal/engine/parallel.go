package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/shaiso/Dirigent/internal/domain"
)

// branchRun — одна ветка параллельного fan-out во время выполнения.
//
// Ветка несёт собственный Context с overlay: записи ветки не видны
// соседям и сливаются в базовые переменные только на join.
type branchRun struct {
	id    string
	start string
	cctx  *Context

	branch domain.ParallelBranch
}

func (br *branchRun) fail(message string) {
	br.branch.Status = domain.BranchFaulted
	br.branch.Error = message
}

// runParallel выполняет ветки fan-out конкурентно и сводит их на join,
// найденном при компиляции графа.
//
// Все ветки завершаются (или записываются упавшими) до join; падение
// ветки фиксируется на ветке, но само по себе не роняет родителя.
// Overlays завершённых веток сливаются в порядке идентификаторов веток
// (порядок объявления переходов split).
//
// Возвращает join activity, с которой продолжается основной поток.
func (e *Engine) runParallel(ctx context.Context, rs *runState, act domain.Activity, targets []string) (string, error) {
	join := rs.graph.JoinFor(act.ID)
	if join == "" {
		return "", e.fault(ctx, rs, act.ID, &domain.Failure{
			Code:    domain.CodeNoPath,
			Message: fmt.Sprintf("no join gateway for fan-out from %q", act.ID),
		})
	}

	branches := make([]*branchRun, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		branchID := fmt.Sprintf("%s#%d", act.ID, i+1)
		branches[i] = &branchRun{
			id:    branchID,
			start: target,
			cctx:  rs.cctx.Branch(branchID),
			branch: domain.ParallelBranch{
				ID:              branchID,
				SplitActivityID: act.ID,
				Status:          domain.BranchRunning,
			},
		}

		wg.Add(1)
		go func(br *branchRun) {
			defer wg.Done()
			e.runBranch(ctx, rs, br, join)
		}(branches[i])
	}
	wg.Wait()

	// Сведение: ветки фиксируются и сливаются в порядке идентификаторов
	if rs.inst.Branches == nil {
		rs.inst.Branches = make(map[string]domain.ParallelBranch)
	}
	for _, br := range branches {
		rs.inst.Branches[br.id] = br.branch

		if br.branch.Status == domain.BranchCompleted {
			rs.cctx.MergeOverlay(br.cctx.Overlay())
			for _, id := range br.branch.ActivityIDs {
				rs.inst.CompleteActivity(id)
				if bact, ok := rs.graph.Activity(id); ok && bact.Compensable() {
					rs.inst.PushCompensation(id)
				}
			}
			rs.record(domain.HistoryBranchCompleted, act.ID,
				fmt.Sprintf("branch %s completed", br.id))
		} else {
			rs.recordDetails(domain.HistoryBranchFaulted, act.ID,
				fmt.Sprintf("branch %s faulted", br.id),
				map[string]any{"error": br.branch.Error})
			e.logger.Warn("parallel branch faulted",
				"instance_id", rs.inst.ID,
				"branch_id", br.id,
				"error", br.branch.Error,
			)
		}
	}

	return join, nil
}

// runBranch выполняет одну ветку от её стартовой activity до join.
//
// Не трогает разделяемое состояние запуска: выполненные activities и
// статус копятся на branchRun и фиксируются после wg.Wait.
func (e *Engine) runBranch(ctx context.Context, rs *runState, br *branchRun, join string) {
	current := br.start
	steps := 0

	for current != "" && current != join {
		// Отмена проверяется перед каждой задачей ветки
		if ctx.Err() != nil {
			br.fail("branch cancelled")
			return
		}
		steps++
		if steps > e.maxActivities {
			br.fail(fmt.Sprintf("activity execution ceiling %d exceeded", e.maxActivities))
			return
		}

		act, ok := rs.graph.Activity(current)
		if !ok {
			br.fail(fmt.Sprintf("activity %q is not in definition", current))
			return
		}

		res := e.executeActivity(ctx, rs, act, br.cctx)
		e.metrics.ActivityExecuted(string(act.Kind), res.Success)

		if !res.Success {
			msg := "activity failed"
			if res.Failure != nil {
				msg = res.Failure.Code + ": " + res.Failure.Message
			}
			br.fail(msg)
			return
		}
		if res.SuspendBookmark != "" {
			br.fail("suspension inside a parallel branch is not supported")
			return
		}
		if len(res.ParallelNextIDs) > 0 {
			br.fail("nested fan-out inside a parallel branch is not supported")
			return
		}

		br.branch.ActivityIDs = append(br.branch.ActivityIDs, act.ID)
		br.cctx.FoldOutput(res.Output)

		if res.NextActivityID != "" {
			current = res.NextActivityID
		} else {
			current = rs.graph.ResolveNext(act.ID, br.cctx.Data())
		}
	}

	br.branch.Status = domain.BranchCompleted
}
