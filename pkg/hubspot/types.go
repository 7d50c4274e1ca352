package hubspot

// Property names this client reads and writes.
const (
	propDealName           = "dealname"
	propDealStage          = "dealstage"
	propClientSystemDealID = "client_system_deal_id"
	propOfferteID          = "offerte_id"
	propAmount             = "amount"
	propTaskSubject        = "hs_task_subject"
	propTaskStatus         = "hs_task_status"
)

// Filter is a single property condition in a search request.
type Filter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
}

// FilterGroup ANDs its filters together. Groups are ORed by the API.
type FilterGroup struct {
	Filters []Filter `json:"filters"`
}

// SearchRequest is the body shared by the CRM v3 search endpoints.
type SearchRequest struct {
	FilterGroups []FilterGroup `json:"filterGroups"`
	Properties   []string      `json:"properties"`
	Limit        int           `json:"limit"`
	After        string        `json:"after,omitempty"`
}

// DealsByStageRequest builds the search body for one page of deals sitting
// in a pipeline stage, with the property projection the engine needs.
func DealsByStageRequest(stageID string, limit int, after string) SearchRequest {
	return SearchRequest{
		FilterGroups: []FilterGroup{{
			Filters: []Filter{{PropertyName: propDealStage, Operator: "EQ", Value: stageID}},
		}},
		Properties: []string{propDealName, propDealStage, propClientSystemDealID, propOfferteID, propAmount},
		Limit:      limit,
		After:      after,
	}
}

// TasksBySubjectTokenRequest builds the search body for one page of tasks
// whose subject contains the given token.
func TasksBySubjectTokenRequest(token string, limit int, after string) SearchRequest {
	return SearchRequest{
		FilterGroups: []FilterGroup{{
			Filters: []Filter{{PropertyName: propTaskSubject, Operator: "CONTAINS_TOKEN", Value: token}},
		}},
		Properties: []string{propTaskSubject, propTaskStatus},
		Limit:      limit,
		After:      after,
	}
}

// DealProperties is the raw property bag of a deal search hit. Everything is
// a string on the wire, amount included.
type DealProperties struct {
	DealName           string `json:"dealname"`
	DealStage          string `json:"dealstage"`
	ClientSystemDealID string `json:"client_system_deal_id"`
	OfferteID          string `json:"offerte_id"`
	Amount             string `json:"amount"`
}

// DealResult is one deal search hit.
type DealResult struct {
	ID         string         `json:"id"`
	Properties DealProperties `json:"properties"`
}

// DealSearchResponse is one page of deal search results.
type DealSearchResponse struct {
	Total   int          `json:"total"`
	Results []DealResult `json:"results"`
	Paging  *Paging      `json:"paging,omitempty"`
}

// NextAfter returns the cursor of the following page, or "" on the last one.
func (r *DealSearchResponse) NextAfter() string {
	return r.Paging.next()
}

// TaskProperties is the raw property bag of a task search hit.
type TaskProperties struct {
	Subject string `json:"hs_task_subject"`
	Status  string `json:"hs_task_status"`
}

// TaskResult is one task search hit.
type TaskResult struct {
	ID         string         `json:"id"`
	Properties TaskProperties `json:"properties"`
}

// TaskSearchResponse is one page of task search results.
type TaskSearchResponse struct {
	Total   int          `json:"total"`
	Results []TaskResult `json:"results"`
	Paging  *Paging      `json:"paging,omitempty"`
}

// NextAfter returns the cursor of the following page, or "" on the last one.
func (r *TaskSearchResponse) NextAfter() string {
	return r.Paging.next()
}

// Paging carries the cursor for the next page when more results exist.
type Paging struct {
	Next *PagingNext `json:"next,omitempty"`
}

// PagingNext holds the opaque cursor value.
type PagingNext struct {
	After string `json:"after"`
}

func (p *Paging) next() string {
	if p == nil || p.Next == nil {
		return ""
	}
	return p.Next.After
}

type updateRequest struct {
	Properties map[string]string `json:"properties"`
}

type associationsResponse struct {
	Results []association `json:"results"`
}

// association links the queried object to one target object. HubSpot sends
// the target ID as a number.
type association struct {
	ToObjectID int64 `json:"toObjectId"`
}
