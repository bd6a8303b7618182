// Package blackboard provides the shared state aggregate for a drey pipeline
// run.
//
// # Overview
//
// The blackboard is the central shared state of the pipeline: every component
// (orchestrator, task executors, control surface, CLI) reads and writes the
// same structured board rather than passing data between steps. It implements
// the Blackboard architectural pattern - a shared workspace where independent
// agents collaborate by reading and writing structured data.
//
// # Core Concepts
//
// The Board holds the project plans, the tracked Kubernetes manifests, the
// container images discovered for them, the issues found during testing, an
// append-only activity record, the interaction state for assisted runs, and a
// short ring of recent task events.
//
// There is exactly one live Board per run. It is created by the orchestrator
// and handed by reference to everything that needs it; all exported reads
// return deep copies so a concurrent reader never observes a partially
// written value.
//
// Mutations happen two ways. Pipeline code uses the typed accessors
// (SetPhase, AddManifest, AddIssue, ...). Task output is applied through the
// path-addressed operation protocol: an ordered batch of get/set/add/delete
// operations whose paths ("manifests[0].file_path") address the serialized
// form of the board. Batch operations apply independently - a failed
// operation reports its own error without aborting or rolling back the rest.
//
// # Usage Example
//
//	import "github.com/dyluth/drey/pkg/blackboard"
//
//	board := blackboard.New()
//	board.SetUserRequest("deploy nginx with two replicas")
//
//	// Typed mutation from pipeline code.
//	board.AddManifest(blackboard.Manifest{
//		FilePath:    "nginx/deployment.yaml",
//		Namespace:   "web",
//		Description: "nginx deployment",
//	})
//
//	// Path-addressed mutation from task output.
//	results := board.Apply([]blackboard.Operation{
//		{Action: blackboard.ActionGet, Path: "manifests[0].file_path"},
//		{Action: blackboard.ActionSet, Path: "phase", Data: "Deploying"},
//	})
//	for _, res := range results {
//		if !res.Success {
//			log.Printf("operation %d failed: %s", res.Operation, res.Error)
//		}
//	}
//
// # Structured Fields
//
// Structured payloads arriving through the operation protocol are coerced
// into their declared types by the schema registry in schema.go: required
// keys are checked, the payload is decoded into the registered Go type, its
// Validate hook runs, and the normalized form is stored. A payload that
// fails coercion leaves the board untouched.
//
// # Design Principles
//
// - Type Safety: structured fields are coerced and validated before storage
// - Consistency: reads are deep copies, never views of live state
// - Independence: batch operations succeed or fail one by one
// - Boundedness: the event ring keeps only the ten most recent events
package blackboard
