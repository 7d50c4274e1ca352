package model

// Deal is a HubSpot deal as this system sees it: the fixed property
// projection requested by the fetcher, typed once at the API boundary.
// Read-only except for its stage, which a run may overwrite at most once.
type Deal struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	StageID            string  `json:"stage_id"`
	StageLabel         string  `json:"stage_label"`
	ClientSystemDealID string  `json:"client_system_deal_id,omitempty"`
	OfferteID          string  `json:"offerte_id,omitempty"`
	Amount             float64 `json:"amount,omitempty"`
}

// FollowUpTask is a HubSpot task reminding a salesperson to chase a pending
// quotation. Its subject encodes the quotation number, e.g.
// "Opvolgen - Offerte #320450". Associated deal IDs are looked up on demand.
type FollowUpTask struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
}

// Outcome buckets a deal after one reconciliation pass. Every fetched deal
// lands in exactly one bucket.
type Outcome string

const (
	OutcomeWon         Outcome = "won"
	OutcomeLost        Outcome = "lost"
	OutcomeUnchanged   Outcome = "unchanged"
	OutcomeNoQuotation Outcome = "no_quotation_number"
	OutcomeLookupError Outcome = "lookup_error"
)
