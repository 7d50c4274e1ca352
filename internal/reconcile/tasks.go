package reconcile

import (
	"context"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/zwartekraai/dealsync/internal/model"
	"github.com/zwartekraai/dealsync/pkg/hubspot"
)

// findFollowUpTasks pages through every task carrying the follow-up token
// and keeps those whose subject names the quotation number of a moved deal.
// Returned map: quotation number to candidate tasks. A failed page fails
// the search; the caller decides what that means for the run.
func (e *Engine) findFollowUpTasks(ctx context.Context, moved []reconciledDeal) (map[string][]model.FollowUpTask, error) {
	wanted := make(map[string]bool, len(moved))
	for _, rd := range moved {
		wanted[rd.qn] = true
	}

	found := make(map[string][]model.FollowUpTask)
	after := ""
	for {
		resp, err := e.hubspot.SearchTasks(ctx, hubspot.TasksBySubjectTokenRequest(e.mapping.TaskToken, e.pageSize, after))
		if err != nil {
			return nil, eris.Wrap(err, "reconcile: search follow-up tasks")
		}
		for _, r := range resp.Results {
			qn, ok := taskQuotationNumber(r.Properties.Subject)
			if !ok || !wanted[qn] {
				continue
			}
			found[qn] = append(found[qn], model.FollowUpTask{ID: r.ID, Subject: r.Properties.Subject})
		}
		after = resp.NextAfter()
		if after == "" {
			break
		}
	}
	return found, nil
}

// cleanupTasks deletes the follow-up tasks of every moved deal. A candidate
// is only deleted when the associations lookup confirms it hangs on the
// deal being cleaned; a task that merely mentions the same number on an
// unrelated deal survives. In a dry run the would-be deletions are counted
// and nothing is sent. Returns the deleted count and the number of cleanup
// failures.
func (e *Engine) cleanupTasks(ctx context.Context, log *zap.Logger, moved []reconciledDeal, tasks map[string][]model.FollowUpTask, dryRun bool) (int, int) {
	var deleted, failed int
	handled := make(map[string]bool)
	for _, rd := range moved {
		for _, task := range tasks[rd.qn] {
			if handled[task.ID] {
				continue
			}
			ok, err := e.taskBelongsToDeal(ctx, task.ID, rd.deal.ID)
			if err != nil {
				failed++
				log.Warn("reconcile: association lookup failed, leaving task in place",
					zap.String("task_id", task.ID), zap.Error(err))
				continue
			}
			if !ok {
				log.Info("reconcile: task names the number but hangs on another deal, leaving it",
					zap.String("task_id", task.ID),
					zap.String("qn", rd.qn),
					zap.String("deal_id", rd.deal.ID))
				continue
			}
			if dryRun {
				handled[task.ID] = true
				deleted++
				log.Info("reconcile: would delete follow-up task",
					zap.String("task_id", task.ID), zap.String("subject", task.Subject))
				continue
			}
			if err := e.hubspot.DeleteTask(ctx, task.ID); err != nil {
				failed++
				log.Warn("reconcile: task deletion failed",
					zap.String("task_id", task.ID), zap.Error(err))
				continue
			}
			handled[task.ID] = true
			deleted++
			log.Info("reconcile: follow-up task deleted",
				zap.String("task_id", task.ID), zap.String("subject", task.Subject))
		}
	}
	return deleted, failed
}

func (e *Engine) taskBelongsToDeal(ctx context.Context, taskID, dealID string) (bool, error) {
	dealIDs, err := e.hubspot.TaskDealAssociations(ctx, taskID)
	if err != nil {
		return false, err
	}
	return slices.Contains(dealIDs, dealID), nil
}
