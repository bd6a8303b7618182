package blackboard

import (
	"encoding/json"
	"fmt"
	"sort"
)

// boardState is the serialized shape of the Board. It is the wire form used
// by Snapshot, Export, the path-operation protocol and the snapshot store.
type boardState struct {
	Project     Project     `json:"project"`
	GeneralInfo GeneralInfo `json:"general_info"`
	Manifests   []Manifest  `json:"manifests"`
	Images      []Image     `json:"images"`
	Issues      []Issue     `json:"issues"`
	Records     []Record    `json:"records"`
	Iterations  int         `json:"iterations"`
	Phase       string      `json:"phase"`
	Interaction Interaction `json:"interaction"`
	Events      []Event     `json:"events"`
}

// stateLocked copies the board into its serialized shape. Events are emitted
// most recent first, matching the ring's read order. Lists are always
// non-nil so they serialize as [] and stay addressable by list operations.
// Caller holds b.mu.
func (b *Board) stateLocked() boardState {
	events := make([]Event, 0, len(b.events))
	for i := len(b.events) - 1; i >= 0; i-- {
		ev := b.events[i]
		ev.Data = copyEventData(ev.Data)
		events = append(events, ev)
	}
	return boardState{
		Project:     b.project,
		GeneralInfo: GeneralInfo{Namespaces: orEmpty(append([]string(nil), b.generalInfo.Namespaces...))},
		Manifests:   orEmpty(copyManifests(b.manifests)),
		Images:      orEmpty(copyImages(b.images)),
		Issues:      orEmpty(append([]Issue(nil), b.issues...)),
		Records:     orEmpty(append([]Record(nil), b.records...)),
		Iterations:  b.iterations,
		Phase:       b.phase,
		Interaction: b.interaction,
		Events:      events,
	}
}

// orEmpty coalesces a nil slice to an empty one.
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// setStateLocked installs a serialized state back onto the board. Events
// arrive most recent first and are stored oldest first; the ring cap is
// enforced here so no mutation path can grow it past ten. Caller holds b.mu.
func (b *Board) setStateLocked(st boardState) {
	events := make([]Event, 0, len(st.Events))
	for i := len(st.Events) - 1; i >= 0; i-- {
		events = append(events, st.Events[i])
	}
	if len(events) > maxEvents {
		events = events[len(events)-maxEvents:]
	}
	b.project = st.Project
	b.generalInfo = st.GeneralInfo
	b.manifests = st.Manifests
	b.images = st.Images
	b.issues = st.Issues
	b.records = st.Records
	b.iterations = st.Iterations
	b.phase = st.Phase
	b.interaction = st.Interaction
	b.events = events
}

func stateToMap(st boardState) (map[string]any, error) {
	raw, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize blackboard state: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to deserialize blackboard state: %w", err)
	}
	return m, nil
}

func mapToState(m map[string]any) (boardState, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return boardState{}, fmt.Errorf("failed to serialize blackboard state: %w", err)
	}
	var st boardState
	if err := json.Unmarshal(raw, &st); err != nil {
		return boardState{}, fmt.Errorf("failed to coerce blackboard state: %w", err)
	}
	return st, nil
}

// Snapshot returns the full board serialized as a key-value map.
func (b *Board) Snapshot() (map[string]any, error) {
	b.mu.RLock()
	st := b.stateLocked()
	b.mu.RUnlock()
	return stateToMap(st)
}

// MarshalJSON serializes the board in its wire shape.
func (b *Board) MarshalJSON() ([]byte, error) {
	b.mu.RLock()
	st := b.stateLocked()
	b.mu.RUnlock()
	return json.Marshal(st)
}

// ExportOptions filters the board view handed to external consumers.
type ExportOptions struct {
	HideAdvancedPlan bool // Remove project.advanced_plan from the output
	HideBasicPlan    bool // Remove project.basic_plan from the output
	ShowHighIssues   bool // Include HIGH severity issues
	ShowMediumIssues bool // Include MEDIUM severity issues
	ShowLowIssues    bool // Include LOW severity issues
	LastRecords      int  // Keep only the most recent N records; 0 keeps all
}

// DefaultExportOptions matches what task prompts are built from: no advanced
// plan, HIGH issues only, the twenty most recent records.
func DefaultExportOptions() ExportOptions {
	return ExportOptions{
		HideAdvancedPlan: true,
		ShowHighIssues:   true,
		LastRecords:      20,
	}
}

// Export returns the board as a map with plans hidden, issues filtered and
// ordered by severity (HIGH first, insertion order preserved within a
// severity), and the record log trimmed to the most recent entries.
func (b *Board) Export(opts ExportOptions) (map[string]any, error) {
	data, err := b.Snapshot()
	if err != nil {
		return nil, err
	}

	if project, ok := data["project"].(map[string]any); ok {
		if opts.HideAdvancedPlan {
			delete(project, "advanced_plan")
		}
		if opts.HideBasicPlan {
			delete(project, "basic_plan")
		}
	}

	if raw, ok := data["issues"].([]any); ok {
		filtered := make([]any, 0, len(raw))
		for _, entry := range raw {
			issue, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			switch severityOf(issue) {
			case SeverityHigh:
				if opts.ShowHighIssues {
					filtered = append(filtered, issue)
				}
			case SeverityMedium:
				if opts.ShowMediumIssues {
					filtered = append(filtered, issue)
				}
			default:
				if opts.ShowLowIssues {
					filtered = append(filtered, issue)
				}
			}
		}
		sort.SliceStable(filtered, func(i, j int) bool {
			return severityOf(filtered[i].(map[string]any)).rank() < severityOf(filtered[j].(map[string]any)).rank()
		})
		data["issues"] = filtered
	}

	if records, ok := data["records"].([]any); ok && opts.LastRecords > 0 && len(records) > opts.LastRecords {
		data["records"] = records[len(records)-opts.LastRecords:]
	}

	return data, nil
}

func severityOf(issue map[string]any) Severity {
	s, _ := issue["severity"].(string)
	switch Severity(s) {
	case SeverityHigh, SeverityMedium, SeverityLow:
		return Severity(s)
	default:
		return SeverityLow
	}
}
