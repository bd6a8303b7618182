package blackboard

import (
	"testing"
)

// TestSeverityValidate_AllValid tests all valid severities
func TestSeverityValidate_AllValid(t *testing.T) {
	validSeverities := []Severity{
		SeverityLow,
		SeverityMedium,
		SeverityHigh,
	}

	for _, s := range validSeverities {
		t.Run(string(s), func(t *testing.T) {
			if err := s.Validate(); err != nil {
				t.Errorf("valid severity %q failed validation: %v", s, err)
			}
		})
	}
}

// TestSeverityValidate_Invalid tests that unknown and lowercase severities fail
func TestSeverityValidate_Invalid(t *testing.T) {
	testCases := []struct {
		name  string
		input Severity
	}{
		{"unknown value", Severity("CRITICAL")},
		{"lowercase", Severity("high")},
		{"empty", Severity("")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.input.Validate(); err == nil {
				t.Errorf("expected validation to fail for severity %q, but it passed", tc.input)
			}
		})
	}
}

// TestAgentRoleValidate_AllValid tests all valid agent roles
func TestAgentRoleValidate_AllValid(t *testing.T) {
	validRoles := []AgentRole{
		RoleEngineer,
		RoleResearcher,
		RoleTester,
	}

	for _, r := range validRoles {
		t.Run(string(r), func(t *testing.T) {
			if err := r.Validate(); err != nil {
				t.Errorf("valid agent role %q failed validation: %v", r, err)
			}
		})
	}
}

// TestAgentRoleValidate_Invalid tests invalid agent role
func TestAgentRoleValidate_Invalid(t *testing.T) {
	if err := AgentRole("devops_manager").Validate(); err == nil {
		t.Error("expected validation to fail for unknown agent role, but it passed")
	}
}

// TestModeValidate tests interaction mode validation
func TestModeValidate(t *testing.T) {
	if err := ModeAutomated.Validate(); err != nil {
		t.Errorf("automated mode failed validation: %v", err)
	}
	if err := ModeAssisted.Validate(); err != nil {
		t.Errorf("assisted mode failed validation: %v", err)
	}
	if err := Mode("manual").Validate(); err == nil {
		t.Error("expected validation to fail for unknown mode, but it passed")
	}
}

// TestIssueValidate tests issue validation
func TestIssueValidate(t *testing.T) {
	issue := &Issue{
		Issue:                    "Pod stuck in CrashLoopBackOff",
		Severity:                 SeverityHigh,
		ProblemDescription:       "The api deployment restarts continuously",
		PossibleManifestFilePath: "api/deployment.yaml",
		Observations:             "exit code 1 in container logs",
	}

	if err := issue.Validate(); err != nil {
		t.Errorf("valid issue failed validation: %v", err)
	}

	issue.Severity = "URGENT"
	if err := issue.Validate(); err == nil {
		t.Error("expected validation to fail for invalid severity, but it passed")
	}

	issue.Severity = SeverityHigh
	issue.Issue = ""
	if err := issue.Validate(); err == nil {
		t.Error("expected validation to fail for empty title, but it passed")
	}
}

// TestRecordValidate tests record validation
func TestRecordValidate(t *testing.T) {
	record := &Record{
		Agent:           RoleResearcher,
		TaskName:        "initial_research",
		TaskDescription: "Collected cluster requirements",
	}

	if err := record.Validate(); err != nil {
		t.Errorf("valid record failed validation: %v", err)
	}

	record.Agent = "unknown"
	if err := record.Validate(); err == nil {
		t.Error("expected validation to fail for unknown agent, but it passed")
	}

	record.Agent = RoleResearcher
	record.TaskName = ""
	if err := record.Validate(); err == nil {
		t.Error("expected validation to fail for empty task name, but it passed")
	}
}

// TestInteractionValidate tests interaction validation
func TestInteractionValidate(t *testing.T) {
	interaction := &Interaction{Mode: ModeAssisted, Status: StatusIdle}
	if err := interaction.Validate(); err != nil {
		t.Errorf("valid interaction failed validation: %v", err)
	}

	interaction.Mode = "supervised"
	if err := interaction.Validate(); err == nil {
		t.Error("expected validation to fail for unknown mode, but it passed")
	}
}

// TestWaitingStatus tests the waiting status format
func TestWaitingStatus(t *testing.T) {
	got := WaitingStatus("first_approach")
	want := "waiting_for_input:first_approach"
	if got != want {
		t.Errorf("WaitingStatus = %q, expected %q", got, want)
	}
}
