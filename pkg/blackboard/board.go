package blackboard

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// initialPhase is the phase label before a run has started.
const initialPhase = "Waiting for kickoff"

// Board is the single shared state aggregate for a pipeline run.
//
// The orchestrator owns the Board and lends it by reference to the task
// executor, the control server and the path-operation protocol. All methods
// are safe for concurrent use; read accessors return copies.
type Board struct {
	mu sync.RWMutex

	project     Project
	generalInfo GeneralInfo
	manifests   []Manifest
	images      []Image
	issues      []Issue
	records     []Record
	iterations  int
	phase       string
	interaction Interaction
	events      []Event
}

// New returns a Board with all fields at their run-start defaults.
func New() *Board {
	b := &Board{}
	b.resetLocked()
	return b
}

// Reset restores every field to its default. Called at the start of a run.
func (b *Board) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
}

func (b *Board) resetLocked() {
	b.project = Project{}
	b.generalInfo = GeneralInfo{}
	b.manifests = nil
	b.images = nil
	b.issues = nil
	b.records = nil
	b.iterations = 0
	b.phase = initialPhase
	b.interaction = Interaction{Mode: ModeAssisted, Status: StatusIdle}
	b.events = nil
}

// Phase returns the current phase label.
func (b *Board) Phase() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.phase
}

// SetPhase updates the externally observable phase label.
func (b *Board) SetPhase(phase string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.phase = phase
}

// Project returns a copy of the project state.
func (b *Board) Project() Project {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.project
}

// SetUserRequest records the operator's original request.
func (b *Board) SetUserRequest(request string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.project.UserRequest = request
}

// SetBasicPlan stores the high-level plan from initial research.
func (b *Board) SetBasicPlan(plan string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.project.BasicPlan = plan
}

// SetAdvancedPlan stores the detailed per-resource plan.
func (b *Board) SetAdvancedPlan(plan string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.project.AdvancedPlan = plan
}

// Namespaces returns a copy of the tracked namespace list.
func (b *Board) Namespaces() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.generalInfo.Namespaces...)
}

// SetNamespaces replaces the tracked namespace list.
func (b *Board) SetNamespaces(namespaces []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.generalInfo.Namespaces = append([]string(nil), namespaces...)
}

// Manifests returns a copy of the tracked manifests.
func (b *Board) Manifests() []Manifest {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return copyManifests(b.manifests)
}

// SetManifests replaces the tracked manifests.
func (b *Board) SetManifests(manifests []Manifest) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.manifests = copyManifests(manifests)
}

// AddManifest appends a manifest and returns its index.
func (b *Board) AddManifest(m Manifest) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.manifests = append(b.manifests, m)
	return len(b.manifests) - 1
}

// Images returns a copy of the discovered images.
func (b *Board) Images() []Image {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return copyImages(b.images)
}

// SetImages replaces the discovered images.
func (b *Board) SetImages(images []Image) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.images = copyImages(images)
}

// Issues returns a copy of the open issues.
func (b *Board) Issues() []Issue {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Issue(nil), b.issues...)
}

// SetIssues replaces the open issues.
func (b *Board) SetIssues(issues []Issue) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.issues = append([]Issue(nil), issues...)
}

// AddIssue appends an issue, stamping CreatedAt if unset.
func (b *Board) AddIssue(issue Issue) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if issue.CreatedAt.IsZero() {
		issue.CreatedAt = time.Now().UTC()
	}
	b.issues = append(b.issues, issue)
}

// ClearIssues removes all open issues.
func (b *Board) ClearIssues() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.issues = nil
}

// Records returns a copy of the activity log.
func (b *Board) Records() []Record {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Record(nil), b.records...)
}

// AddRecord appends an entry to the activity log.
func (b *Board) AddRecord(r Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(b.records, r)
}

// Iterations returns the completed test-and-improve cycle count.
func (b *Board) Iterations() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.iterations
}

// IncrementIterations bumps the cycle counter and returns the new value.
func (b *Board) IncrementIterations() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.iterations++
	return b.iterations
}

// InteractionState returns a copy of the interaction state.
func (b *Board) InteractionState() Interaction {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.interaction
}

// SetInteractionMode selects automated or assisted operation.
func (b *Board) SetInteractionMode(mode Mode) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.interaction.Mode = mode
}

// SetInteractionStatus overwrites the interaction status label.
func (b *Board) SetInteractionStatus(status string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.interaction.Status = status
}

// BeginWaiting marks the run as paused on operator input for the given step.
func (b *Board) BeginWaiting(step, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.interaction.Status = WaitingStatus(step)
	b.interaction.IsWaitingForInput = true
	b.interaction.StepName = step
	b.interaction.Message = message
}

// EndWaiting clears the waiting state and returns the status to running.
func (b *Board) EndWaiting() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.interaction.Status = StatusRunning
	b.interaction.IsWaitingForInput = false
	b.interaction.StepName = ""
	b.interaction.Message = ""
}

// SetUserFeedback stores operator feedback for the waiting step to consume.
func (b *Board) SetUserFeedback(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.interaction.UserFeedback = text
}

// TakeUserFeedback returns the pending feedback and clears it in one step.
func (b *Board) TakeUserFeedback() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	text := b.interaction.UserFeedback
	b.interaction.UserFeedback = ""
	return text
}

// PushEvent appends an event to the ring, evicting the oldest entry once the
// ring holds more than ten.
func (b *Board) PushEvent(data map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, Event{
		ID:        uuid.New().String(),
		Data:      copyEventData(data),
		CreatedAt: time.Now().UTC(),
	})
	if len(b.events) > maxEvents {
		b.events = b.events[1:]
	}
}

// Events returns a copy of the ring, most recent first.
func (b *Board) Events() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Event, 0, len(b.events))
	for i := len(b.events) - 1; i >= 0; i-- {
		ev := b.events[i]
		ev.Data = copyEventData(ev.Data)
		out = append(out, ev)
	}
	return out
}

func copyManifests(in []Manifest) []Manifest {
	if in == nil {
		return nil
	}
	out := make([]Manifest, len(in))
	for i, m := range in {
		if m.LastWorkingVersion != nil {
			v := *m.LastWorkingVersion
			m.LastWorkingVersion = &v
		}
		out[i] = m
	}
	return out
}

func copyImages(in []Image) []Image {
	if in == nil {
		return nil
	}
	out := make([]Image, len(in))
	for i, img := range in {
		img.Ports = append([]int(nil), img.Ports...)
		img.Volumes = append([]string(nil), img.Volumes...)
		img.EnvironmentVariables = append([]string(nil), img.EnvironmentVariables...)
		out[i] = img
	}
	return out
}

func copyEventData(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
