package model

import "time"

// Report is the full account of one reconciliation run. The counter fields
// partition the checked deals: NoQuotationNumber + APIErrors + Unchanged +
// Won + Lost always equals DealsChecked. WriteErrors counts failed stage
// patches and task deletions separately and never disturbs the partition.
type Report struct {
	RunID             string          `json:"run_id"`
	DryRun            bool            `json:"dry_run"`
	Started           time.Time       `json:"started"`
	Finished          time.Time       `json:"finished"`
	DealsChecked      int             `json:"deals_checked"`
	NoQuotationNumber int             `json:"no_quotation_number"`
	APIErrors         int             `json:"api_errors"`
	Unchanged         int             `json:"unchanged"`
	Won               int             `json:"won"`
	Lost              int             `json:"lost"`
	TasksDeleted      int             `json:"tasks_deleted"`
	WriteErrors       int             `json:"write_errors"`
	WonDetails        []DealDetail    `json:"won_details"`
	LostDetails       []DealDetail    `json:"lost_details"`
	Errors            []LookupFailure `json:"errors,omitempty"`
}

// Consistent reports true when the outcome counters partition the checked
// deals exactly.
func (r *Report) Consistent() bool {
	return r.NoQuotationNumber+r.APIErrors+r.Unchanged+r.Won+r.Lost == r.DealsChecked
}

// DealDetail describes one deal that was (or, in a dry run, would be) moved.
// Status is only set for lost deals, where the exact MultiPress status says
// why the quotation fell through.
type DealDetail struct {
	QuotationNumber string `json:"qn"`
	Company         string `json:"company"`
	Status          string `json:"status,omitempty"`
	FromStage       string `json:"from"`
}

// LookupFailure records a quotation lookup that failed. The deal was left
// untouched and will be retried on the next run.
type LookupFailure struct {
	QuotationNumber string `json:"qn"`
	DealName        string `json:"deal"`
	Error           string `json:"error"`
}
