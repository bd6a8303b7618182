package blackboard

import (
	"fmt"
	"time"
)

// Project captures the user's request and the plans derived from it.
type Project struct {
	UserRequest  string `json:"user_request"`  // Original natural-language request for the run
	BasicPlan    string `json:"basic_plan"`    // High-level plan produced by initial research
	AdvancedPlan string `json:"advanced_plan"` // Detailed per-resource plan
}

// GeneralInfo holds run-wide facts shared across phases.
type GeneralInfo struct {
	Namespaces []string `json:"namespaces"` // Kubernetes namespaces required by the manifests
}

// Manifest is a tracked configuration artifact. FilePath is the identity used
// by the workspace reconciler and cluster apply.
type Manifest struct {
	FilePath           string  `json:"file_path"`                  // Path of the manifest relative to the workspace root
	LastWorkingVersion *string `json:"last_working_index_version"` // Last version of the file known to apply cleanly, if any
	Namespace          string  `json:"namespace"`                  // Target namespace, or "n/a" when cluster-scoped
	Description        string  `json:"description"`                // What the manifest provisions
}

// Image describes a container image referenced by the manifests, enriched by
// registry/daemon inspection.
type Image struct {
	Tag                  string   `json:"tag"`                   // Tag selected for production use
	Repository           string   `json:"repository"`            // Image repository
	ImageName            string   `json:"image_name"`            // Short image name
	Version              string   `json:"version"`               // Version number of the image
	ManifestDigest       string   `json:"manifest_digest"`       // Manifest digest, to get image details
	PullableDigest       string   `json:"pullable_digest"`       // Pullable digest of the image
	Ports                []int    `json:"ports"`                 // Ports exposed by the image
	Volumes              []string `json:"volumes"`               // Volumes declared by the image
	EnvironmentVariables []string `json:"environment_variables"` // Environment variables set by the image
	Description          string   `json:"description"`           // General description, including inspection findings
}

// Severity classifies how urgently an issue must be addressed.
type Severity string

const (
	// SeverityLow marks cosmetic or advisory findings
	SeverityLow Severity = "LOW"

	// SeverityMedium marks findings that should be fixed but do not block the run
	SeverityMedium Severity = "MEDIUM"

	// SeverityHigh marks findings that block a working deployment
	SeverityHigh Severity = "HIGH"
)

// Validate checks if the Severity is a valid enum value.
func (s Severity) Validate() error {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return nil
	default:
		return fmt.Errorf("unknown severity: %q", s)
	}
}

// rank orders severities for export (HIGH first).
func (s Severity) rank() int {
	switch s {
	case SeverityHigh:
		return 0
	case SeverityMedium:
		return 1
	default:
		return 2
	}
}

// Issue is a detected problem feeding the repair loop.
type Issue struct {
	Issue                    string    `json:"issue"`                       // Short title of the problem
	Severity                 Severity  `json:"severity"`                    // LOW, MEDIUM or HIGH
	ProblemDescription       string    `json:"problem_description"`         // Full description of what is wrong
	PossibleManifestFilePath string    `json:"possible_manifest_file_path"` // Manifest suspected to cause the problem
	Observations             string    `json:"observations"`                // Raw observations backing the finding
	CreatedAt                time.Time `json:"created_at"`                  // When the issue was recorded
}

// Validate checks if the Issue has valid field values.
func (i *Issue) Validate() error {
	if i.Issue == "" {
		return fmt.Errorf("issue title cannot be empty")
	}
	if err := i.Severity.Validate(); err != nil {
		return fmt.Errorf("invalid severity: %w", err)
	}
	return nil
}

// AgentRole identifies which pipeline agent performed a task.
type AgentRole string

const (
	// RoleEngineer writes and repairs manifests
	RoleEngineer AgentRole = "devops_engineer"

	// RoleResearcher gathers plans, structure and image information
	RoleResearcher AgentRole = "devops_researcher"

	// RoleTester validates the deployed manifests and files issues
	RoleTester AgentRole = "devops_tester"
)

// Validate checks if the AgentRole is a valid enum value.
func (r AgentRole) Validate() error {
	switch r {
	case RoleEngineer, RoleResearcher, RoleTester:
		return nil
	default:
		return fmt.Errorf("unknown agent role: %q", r)
	}
}

// Record is one entry in the append-only activity log.
type Record struct {
	Agent           AgentRole `json:"agent"`            // Which agent performed the task
	TaskName        string    `json:"task_name"`        // Name of the executed task
	TaskDescription string    `json:"task_description"` // Free-text description of what was done
}

// Validate checks if the Record has valid field values.
func (r *Record) Validate() error {
	if err := r.Agent.Validate(); err != nil {
		return fmt.Errorf("invalid agent: %w", err)
	}
	if r.TaskName == "" {
		return fmt.Errorf("task name cannot be empty")
	}
	return nil
}

// Mode selects whether the pipeline pauses for operator input.
type Mode string

const (
	// ModeAutomated runs end to end without pausing
	ModeAutomated Mode = "automated"

	// ModeAssisted pauses at approval points until feedback arrives
	ModeAssisted Mode = "assisted"
)

// Validate checks if the Mode is a valid enum value.
func (m Mode) Validate() error {
	switch m {
	case ModeAutomated, ModeAssisted:
		return nil
	default:
		return fmt.Errorf("unknown interaction mode: %q", m)
	}
}

// Interaction status values. A waiting status is WaitingStatus(step).
const (
	// StatusIdle means no run has started yet
	StatusIdle = "idle"

	// StatusRunning means the pipeline is progressing without waiting on input
	StatusRunning = "running"

	// waitingPrefix prefixes the status while paused for operator input
	waitingPrefix = "waiting_for_input:"
)

// WaitingStatus returns the interaction status for a step paused on input.
func WaitingStatus(step string) string {
	return waitingPrefix + step
}

// Interaction tracks the human-in-the-loop state of the run.
type Interaction struct {
	Mode              Mode   `json:"mode"`                 // automated or assisted
	Status            string `json:"status"`               // idle, running or waiting_for_input:<step>
	IsWaitingForInput bool   `json:"is_waiting_for_input"` // True while paused on operator input
	Message           string `json:"message"`              // Message shown to the operator while waiting
	StepName          string `json:"step_name"`            // Step currently waiting, if any
	UserFeedback      string `json:"user_feedback"`        // Pending feedback not yet consumed
}

// Validate checks if the Interaction has valid field values.
func (i *Interaction) Validate() error {
	if err := i.Mode.Validate(); err != nil {
		return fmt.Errorf("invalid mode: %w", err)
	}
	return nil
}

// Event is one entry in the bounded activity ring. The ring keeps the ten
// most recent events; readers get them most-recent-first.
type Event struct {
	ID        string         `json:"id"`         // UUID assigned when the event is pushed
	Data      map[string]any `json:"data"`       // Arbitrary key-value payload
	CreatedAt time.Time      `json:"created_at"` // When the event was pushed
}

// maxEvents bounds the event ring. The eleventh push evicts the oldest.
const maxEvents = 10
