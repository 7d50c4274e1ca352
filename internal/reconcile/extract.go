package reconcile

import (
	"regexp"

	"github.com/zwartekraai/dealsync/internal/model"
)

// Quotation numbers appear as "#320450" in deal names and task subjects.
var quotationNumberRe = regexp.MustCompile(`#(\d+)`)

// ExtractQuotationNumber derives the MultiPress quotation number for a deal.
// Sources in order of trust: a "#<digits>" marker in the deal name, then an
// all-digit client_system_deal_id, then an all-digit offerte_id. The second
// return is false when the deal carries no usable number; that is a normal
// outcome for hand-created deals, not an error.
func ExtractQuotationNumber(d model.Deal) (string, bool) {
	if match := quotationNumberRe.FindStringSubmatch(d.Name); match != nil {
		return match[1], true
	}
	if isDigits(d.ClientSystemDealID) {
		return d.ClientSystemDealID, true
	}
	if isDigits(d.OfferteID) {
		return d.OfferteID, true
	}
	return "", false
}

// taskQuotationNumber pulls the "#<digits>" marker out of a follow-up task
// subject such as "Opvolgen - Offerte #320450".
func taskQuotationNumber(subject string) (string, bool) {
	if match := quotationNumberRe.FindStringSubmatch(subject); match != nil {
		return match[1], true
	}
	return "", false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
