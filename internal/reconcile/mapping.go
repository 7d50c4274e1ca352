package reconcile

import (
	"os"
	"slices"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/zwartekraai/dealsync/internal/model"
)

// Mapping holds the stage and status tables that drive a run: which HubSpot
// stages are monitored, where won and lost deals go, and which MultiPress
// statuses count as which. A Mapping is built once at startup and never
// mutated afterwards.
type Mapping struct {
	// Stages maps active pipeline stage IDs to their labels. Deals are
	// fetched from these stages and nowhere else.
	Stages map[string]string `yaml:"stages"`
	// WonStageID and LostStageID are the terminal stages deals move to.
	// Neither may appear in Stages, or a moved deal would be refetched on
	// every following run.
	WonStageID  string `yaml:"won_stage_id"`
	LostStageID string `yaml:"lost_stage_id"`
	// ProposalStageID is the single stage covered by the narrow "voorstel"
	// scope. It must be one of the active stages.
	ProposalStageID string `yaml:"proposal_stage_id"`
	// WonStatuses and LostStatuses are the MultiPress statuses that decide
	// a deal. Matching is exact and case-sensitive; anything else leaves
	// the deal unchanged.
	WonStatuses  []string `yaml:"won_statuses"`
	LostStatuses []string `yaml:"lost_statuses"`
	// TaskToken is the subject token follow-up tasks are searched by.
	TaskToken string `yaml:"task_subject_token"`
}

// DefaultMapping returns the production tables for the Scholma
// Hoofdpijplijn.
func DefaultMapping() Mapping {
	return Mapping{
		Stages: map[string]string{
			"3594129634": "Inventarisatie",
			"3594129635": "Voorstel maken",
			"3594129636": "Voorstel verstuurd",
			"3594129637": "Onderhandeling",
			"4087013618": "Productie info",
			"4073418949": "Niet opvolgen",
		},
		WonStageID:      "3594129638",
		LostStageID:     "3594129640",
		ProposalStageID: "3594129636",
		WonStatuses:     []string{"Order"},
		LostStatuses:    []string{"Order ao", "Vervallen", "Niet gegund", "Te duur >10%"},
		TaskToken:       "Opvolgen",
	}
}

// LoadMapping reads mapping overrides from a YAML file on top of the
// defaults. An empty path returns the defaults unchanged. Fields omitted
// from the file keep their default values.
func LoadMapping(path string) (Mapping, error) {
	m := DefaultMapping()
	if path == "" {
		return m, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Mapping{}, eris.Wrapf(err, "reconcile: read mapping file %s", path)
	}
	var override Mapping
	if err := yaml.Unmarshal(data, &override); err != nil {
		return Mapping{}, eris.Wrapf(err, "reconcile: parse mapping file %s", path)
	}

	if len(override.Stages) > 0 {
		m.Stages = override.Stages
	}
	if override.WonStageID != "" {
		m.WonStageID = override.WonStageID
	}
	if override.LostStageID != "" {
		m.LostStageID = override.LostStageID
	}
	if override.ProposalStageID != "" {
		m.ProposalStageID = override.ProposalStageID
	}
	if len(override.WonStatuses) > 0 {
		m.WonStatuses = override.WonStatuses
	}
	if len(override.LostStatuses) > 0 {
		m.LostStatuses = override.LostStatuses
	}
	if override.TaskToken != "" {
		m.TaskToken = override.TaskToken
	}

	if err := m.Validate(); err != nil {
		return Mapping{}, err
	}
	return m, nil
}

// Validate rejects tables that would break a run.
func (m Mapping) Validate() error {
	if len(m.Stages) == 0 {
		return eris.New("reconcile: mapping has no active stages")
	}
	if m.WonStageID == "" || m.LostStageID == "" {
		return eris.New("reconcile: mapping needs won and lost stage ids")
	}
	if _, ok := m.Stages[m.WonStageID]; ok {
		return eris.Errorf("reconcile: won stage %s is listed as active", m.WonStageID)
	}
	if _, ok := m.Stages[m.LostStageID]; ok {
		return eris.Errorf("reconcile: lost stage %s is listed as active", m.LostStageID)
	}
	if _, ok := m.Stages[m.ProposalStageID]; !ok {
		return eris.Errorf("reconcile: proposal stage %s is not an active stage", m.ProposalStageID)
	}
	if len(m.WonStatuses) == 0 || len(m.LostStatuses) == 0 {
		return eris.New("reconcile: mapping needs won and lost status sets")
	}
	if m.TaskToken == "" {
		return eris.New("reconcile: mapping needs a task subject token")
	}
	return nil
}

// StageScope selects which active stages a run covers.
type StageScope string

const (
	// ScopeAll covers every active stage in the mapping.
	ScopeAll StageScope = "all"
	// ScopeVoorstel restricts the run to the proposal-sent stage, where
	// almost all decided quotations sit.
	ScopeVoorstel StageScope = "voorstel"
)

// ParseScope validates a user-supplied scope name.
func ParseScope(s string) (StageScope, error) {
	switch StageScope(s) {
	case ScopeAll, ScopeVoorstel:
		return StageScope(s), nil
	}
	return "", eris.Errorf("reconcile: unknown stage scope %q (want all or voorstel)", s)
}

// StageIDs resolves a scope to the stage IDs a run fetches from, in a
// stable order.
func (m Mapping) StageIDs(scope StageScope) []string {
	if scope == ScopeVoorstel {
		return []string{m.ProposalStageID}
	}
	ids := make([]string, 0, len(m.Stages))
	for id := range m.Stages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StageLabel returns the human label of a stage, falling back to the raw ID.
func (m Mapping) StageLabel(id string) string {
	if label, ok := m.Stages[id]; ok {
		return label
	}
	return id
}

// Classify maps a raw MultiPress status to an outcome. It is total: any
// status outside the won and lost sets, including in-flight ones such as
// "Offerte uitgebracht", leaves the deal unchanged.
func (m Mapping) Classify(status string) model.Outcome {
	if slices.Contains(m.WonStatuses, status) {
		return model.OutcomeWon
	}
	if slices.Contains(m.LostStatuses, status) {
		return model.OutcomeLost
	}
	return model.OutcomeUnchanged
}
