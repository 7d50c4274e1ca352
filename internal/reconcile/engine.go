// Package reconcile drives the deal reconciliation pass: fetch HubSpot
// deals from the monitored pipeline stages, look up their quotations in
// MultiPress, move decided deals to won or lost, and clear the follow-up
// tasks that pointed at them.
package reconcile

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zwartekraai/dealsync/internal/config"
	"github.com/zwartekraai/dealsync/internal/model"
	"github.com/zwartekraai/dealsync/pkg/hubspot"
	"github.com/zwartekraai/dealsync/pkg/multipress"
)

const (
	defaultWorkers  = 20
	defaultPageSize = 100
)

// Engine runs reconciliation passes. It is safe for concurrent use; all
// per-run state lives in the run itself.
type Engine struct {
	hubspot       hubspot.Client
	multipress    multipress.Client
	mapping       Mapping
	workers       int
	pageSize      int
	progressEvery int
}

// New wires an engine from configuration and the two API clients.
func New(cfg *config.Config, mapping Mapping, hs hubspot.Client, mp multipress.Client) *Engine {
	workers := cfg.Sync.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	pageSize := cfg.Sync.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Engine{
		hubspot:       hs,
		multipress:    mp,
		mapping:       mapping,
		workers:       workers,
		pageSize:      pageSize,
		progressEvery: cfg.Sync.ProgressEvery,
	}
}

// RunOpts selects what a single pass covers and whether it writes.
type RunOpts struct {
	Scope  StageScope
	DryRun bool
}

// checkResult couples one deal with its quotation lookup answer.
type checkResult struct {
	deal    model.Deal
	qn      string
	details *multipress.QuotationDetails
	err     error
}

// reconciledDeal is a deal whose quotation status decided it this run.
type reconciledDeal struct {
	deal    model.Deal
	qn      string
	status  string
	company string
}

// Run executes one reconciliation pass and returns its report. Failures of
// individual deals (missing numbers, broken lookups, rejected patches) are
// absorbed into the report; only failures that invalidate the whole view,
// like an aborted deal fetch, return an error. When an error is returned
// before the write phase, nothing has been changed in HubSpot.
func (e *Engine) Run(ctx context.Context, opts RunOpts) (*model.Report, error) {
	runID := uuid.NewString()
	log := zap.L().With(
		zap.String("run_id", runID),
		zap.String("scope", string(opts.Scope)),
		zap.Bool("dry_run", opts.DryRun),
	)

	report := &model.Report{
		RunID:       runID,
		DryRun:      opts.DryRun,
		Started:     time.Now().UTC(),
		WonDetails:  []model.DealDetail{},
		LostDetails: []model.DealDetail{},
	}

	stageIDs := e.mapping.StageIDs(opts.Scope)
	log.Info("reconcile: fetching deals", zap.Strings("stages", stageIDs))
	deals, err := e.fetchDeals(ctx, stageIDs)
	if err != nil {
		return nil, err
	}
	report.DealsChecked = len(deals)
	log.Info("reconcile: deals fetched", zap.Int("count", len(deals)))

	work := make([]checkResult, 0, len(deals))
	for _, d := range deals {
		qn, ok := ExtractQuotationNumber(d)
		if !ok {
			report.NoQuotationNumber++
			log.Debug("reconcile: deal has no quotation number",
				zap.String("deal_id", d.ID), zap.String("deal", d.Name))
			continue
		}
		work = append(work, checkResult{deal: d, qn: qn})
	}

	log.Info("reconcile: checking quotations",
		zap.Int("count", len(work)), zap.Int("workers", e.workers))
	results := e.checkQuotations(ctx, log, work)
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "reconcile: run cancelled")
	}

	var won, lost []reconciledDeal
	for _, res := range results {
		if res.err != nil {
			report.APIErrors++
			report.Errors = append(report.Errors, model.LookupFailure{
				QuotationNumber: res.qn,
				DealName:        res.deal.Name,
				Error:           res.err.Error(),
			})
			log.Warn("reconcile: quotation lookup failed",
				zap.String("qn", res.qn), zap.String("deal", res.deal.Name), zap.Error(res.err))
			continue
		}
		rd := reconciledDeal{deal: res.deal, qn: res.qn, status: res.details.Status, company: res.details.Company}
		switch e.mapping.Classify(res.details.Status) {
		case model.OutcomeWon:
			report.Won++
			won = append(won, rd)
		case model.OutcomeLost:
			report.Lost++
			lost = append(lost, rd)
		default:
			report.Unchanged++
			log.Debug("reconcile: deal unchanged",
				zap.String("qn", res.qn), zap.String("status", res.details.Status))
		}
	}

	for _, rd := range won {
		report.WonDetails = append(report.WonDetails, model.DealDetail{
			QuotationNumber: rd.qn, Company: rd.company, FromStage: rd.deal.StageLabel,
		})
	}
	for _, rd := range lost {
		report.LostDetails = append(report.LostDetails, model.DealDetail{
			QuotationNumber: rd.qn, Company: rd.company, Status: rd.status, FromStage: rd.deal.StageLabel,
		})
	}

	movedWon := e.writeStages(ctx, log, won, e.mapping.WonStageID, opts.DryRun, report)
	movedLost := e.writeStages(ctx, log, lost, e.mapping.LostStageID, opts.DryRun, report)

	moved := make([]reconciledDeal, 0, len(movedWon)+len(movedLost))
	moved = append(moved, movedWon...)
	moved = append(moved, movedLost...)
	if len(moved) > 0 {
		log.Info("reconcile: cleaning follow-up tasks", zap.Int("deals", len(moved)))
		tasks, err := e.findFollowUpTasks(ctx, moved)
		if err != nil {
			// Stage moves already made stand; the next run no longer sees
			// those deals, so returning here stays idempotent.
			return nil, err
		}
		deleted, failed := e.cleanupTasks(ctx, log, moved, tasks, opts.DryRun)
		report.TasksDeleted = deleted
		report.WriteErrors += failed
	}

	report.Finished = time.Now().UTC()
	if !report.Consistent() {
		log.Error("reconcile: outcome counters do not partition the checked deals",
			zap.Int("deals_checked", report.DealsChecked))
	}
	log.Info("reconcile: run complete",
		zap.Int("deals_checked", report.DealsChecked),
		zap.Int("no_quotation_number", report.NoQuotationNumber),
		zap.Int("api_errors", report.APIErrors),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("won", report.Won),
		zap.Int("lost", report.Lost),
		zap.Int("tasks_deleted", report.TasksDeleted),
		zap.Int("write_errors", report.WriteErrors),
		zap.Duration("took", report.Finished.Sub(report.Started)),
	)
	return report, nil
}

// fetchDeals reads every deal sitting in the given stages, tagged with its
// stage label. Pages follow the search cursor until exhausted; pacing
// between pages is the HubSpot client's job. A failed page fails the whole
// fetch, the run must not reconcile a partial view.
func (e *Engine) fetchDeals(ctx context.Context, stageIDs []string) ([]model.Deal, error) {
	var all []model.Deal
	for _, stageID := range stageIDs {
		label := e.mapping.StageLabel(stageID)
		after := ""
		for {
			resp, err := e.hubspot.SearchDeals(ctx, hubspot.DealsByStageRequest(stageID, e.pageSize, after))
			if err != nil {
				return nil, eris.Wrapf(err, "reconcile: fetch deals in stage %s", label)
			}
			for _, r := range resp.Results {
				all = append(all, dealFromResult(r, stageID, label))
			}
			after = resp.NextAfter()
			if after == "" {
				break
			}
		}
	}
	return all, nil
}

// dealFromResult types a wire-level search hit at the boundary. The amount
// arrives as a string; parse failures leave it at zero.
func dealFromResult(r hubspot.DealResult, stageID, label string) model.Deal {
	amount, _ := strconv.ParseFloat(r.Properties.Amount, 64)
	return model.Deal{
		ID:                 r.ID,
		Name:               r.Properties.DealName,
		StageID:            stageID,
		StageLabel:         label,
		ClientSystemDealID: r.Properties.ClientSystemDealID,
		OfferteID:          r.Properties.OfferteID,
		Amount:             amount,
	}
}

// checkQuotations looks up the extracted quotation numbers against
// MultiPress with bounded parallelism. Each lookup writes into its own
// result slot, so the group is the only synchronization needed. Failures
// are recorded per deal and never sink the run.
func (e *Engine) checkQuotations(ctx context.Context, log *zap.Logger, work []checkResult) []checkResult {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	var done atomic.Int64
	results := make([]checkResult, len(work))
	for i, item := range work {
		g.Go(func() error {
			item.details, item.err = e.multipress.QuotationDetails(gctx, item.qn)
			results[i] = item
			if n := done.Add(1); e.progressEvery > 0 && n%int64(e.progressEvery) == 0 {
				log.Info("reconcile: lookup progress",
					zap.Int64("done", n), zap.Int("total", len(work)))
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// writeStages moves decided deals into the target stage. In a dry run every
// candidate counts as moved without a request going out. A rejected patch
// is logged, counted as a write error and keeps the deal out of task
// cleanup; the pass carries on.
func (e *Engine) writeStages(ctx context.Context, log *zap.Logger, deals []reconciledDeal, stageID string, dryRun bool, report *model.Report) []reconciledDeal {
	moved := make([]reconciledDeal, 0, len(deals))
	for _, rd := range deals {
		if dryRun {
			log.Info("reconcile: would move deal",
				zap.String("deal_id", rd.deal.ID),
				zap.String("qn", rd.qn),
				zap.String("company", rd.company),
				zap.String("from", rd.deal.StageLabel),
				zap.String("to_stage", stageID))
			moved = append(moved, rd)
			continue
		}
		if err := e.hubspot.UpdateDealStage(ctx, rd.deal.ID, stageID); err != nil {
			report.WriteErrors++
			log.Warn("reconcile: stage update failed",
				zap.String("deal_id", rd.deal.ID), zap.String("qn", rd.qn), zap.Error(err))
			continue
		}
		log.Info("reconcile: deal moved",
			zap.String("deal_id", rd.deal.ID),
			zap.String("qn", rd.qn),
			zap.String("company", rd.company),
			zap.String("from", rd.deal.StageLabel),
			zap.String("to_stage", stageID))
		moved = append(moved, rd)
	}
	return moved
}
