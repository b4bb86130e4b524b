package store

import (
	"fmt"
	"strings"
)

// EngagementStatus is the closed lifecycle enum. The forward chain is
// strict; archived sits outside it and is reachable from anywhere.
type EngagementStatus string

const (
	StatusDraft     EngagementStatus = "draft"
	StatusPlanning  EngagementStatus = "planning"
	StatusReady     EngagementStatus = "ready"
	StatusActive    EngagementStatus = "active"
	StatusReporting EngagementStatus = "reporting"
	StatusCompleted EngagementStatus = "completed"
	StatusArchived  EngagementStatus = "archived"
)

// StatusChain is the forward order; archived is deliberately excluded.
var StatusChain = []EngagementStatus{
	StatusDraft,
	StatusPlanning,
	StatusReady,
	StatusActive,
	StatusReporting,
	StatusCompleted,
}

func ParseEngagementStatus(raw string) (EngagementStatus, error) {
	val := EngagementStatus(strings.ToLower(strings.TrimSpace(raw)))
	if val == StatusArchived {
		return val, nil
	}
	for _, s := range StatusChain {
		if s == val {
			return val, nil
		}
	}
	return "", fmt.Errorf("unknown engagement status %q", raw)
}

// ChainIndex returns the position of s in the forward chain, or -1 for
// archived and unknown values.
func (s EngagementStatus) ChainIndex() int {
	for i, v := range StatusChain {
		if v == s {
			return i
		}
	}
	return -1
}

type Methodology string

const (
	MethodologyAtomic   Methodology = "atomic"
	MethodologyScenario Methodology = "scenario"
	MethodologyHybrid   Methodology = "hybrid"
)

func ParseMethodology(raw string) (Methodology, error) {
	val := Methodology(strings.ToLower(strings.TrimSpace(raw)))
	switch val {
	case MethodologyAtomic, MethodologyScenario, MethodologyHybrid:
		return val, nil
	}
	return "", fmt.Errorf("unknown methodology %q", raw)
}

// EngagementRole is the closed per-engagement role set used for role
// assignments and plan approvals.
type EngagementRole string

const (
	RoleCoordinator EngagementRole = "coordinator"
	RoleSponsor     EngagementRole = "sponsor"
	RoleCTI         EngagementRole = "cti"
	RoleRedLead     EngagementRole = "red_lead"
	RoleRedTeam     EngagementRole = "red_team"
	RoleBlueLead    EngagementRole = "blue_lead"
	RoleSOC         EngagementRole = "soc"
	RoleHunt        EngagementRole = "hunt"
	RoleDFIR        EngagementRole = "dfir"
	RoleSpectator   EngagementRole = "spectator"
)

var EngagementRoles = []EngagementRole{
	RoleCoordinator,
	RoleSponsor,
	RoleCTI,
	RoleRedLead,
	RoleRedTeam,
	RoleBlueLead,
	RoleSOC,
	RoleHunt,
	RoleDFIR,
	RoleSpectator,
}

func ParseEngagementRole(raw string) (EngagementRole, error) {
	val := EngagementRole(strings.ToLower(strings.TrimSpace(raw)))
	for _, r := range EngagementRoles {
		if r == val {
			return val, nil
		}
	}
	return "", fmt.Errorf("unknown engagement role %q", raw)
}

// TechniqueStatus tracks execution progress of a scoped technique.
type TechniqueStatus string

const (
	TechniquePlanned   TechniqueStatus = "planned"
	TechniqueExecuting TechniqueStatus = "executing"
	TechniqueDone      TechniqueStatus = "done"
	TechniqueSkipped   TechniqueStatus = "skipped"
)

func ParseTechniqueStatus(raw string) (TechniqueStatus, error) {
	val := TechniqueStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch val {
	case TechniquePlanned, TechniqueExecuting, TechniqueDone, TechniqueSkipped:
		return val, nil
	}
	return "", fmt.Errorf("unknown technique status %q", raw)
}

// Terminal reports whether the status counts as an executed terminal
// state for lifecycle gating.
func (s TechniqueStatus) Terminal() bool {
	return s == TechniqueDone
}

// DetectionOutcome is the ordered severity-like result of one technique
// against one security tool. Order matters: earlier is better.
type DetectionOutcome string

const (
	OutcomeBlocked       DetectionOutcome = "blocked"
	OutcomeAlertedHigh   DetectionOutcome = "alerted_high"
	OutcomeAlertedMedium DetectionOutcome = "alerted_medium"
	OutcomeAlertedLow    DetectionOutcome = "alerted_low"
	OutcomeLoggedCentral DetectionOutcome = "logged_central"
	OutcomeLoggedLocal   DetectionOutcome = "logged_local"
	OutcomeNotDetected   DetectionOutcome = "not_detected"
	OutcomeNotApplicable DetectionOutcome = "not_applicable"
)

var DetectionOutcomes = []DetectionOutcome{
	OutcomeBlocked,
	OutcomeAlertedHigh,
	OutcomeAlertedMedium,
	OutcomeAlertedLow,
	OutcomeLoggedCentral,
	OutcomeLoggedLocal,
	OutcomeNotDetected,
	OutcomeNotApplicable,
}

func ParseDetectionOutcome(raw string) (DetectionOutcome, error) {
	val := DetectionOutcome(strings.ToLower(strings.TrimSpace(raw)))
	for _, o := range DetectionOutcomes {
		if o == val {
			return val, nil
		}
	}
	return "", fmt.Errorf("unknown detection outcome %q", raw)
}

func (o DetectionOutcome) Alerted() bool {
	switch o {
	case OutcomeAlertedHigh, OutcomeAlertedMedium, OutcomeAlertedLow:
		return true
	}
	return false
}

// Visible reports whether the outcome produced any telemetry at all.
func (o DetectionOutcome) Visible() bool {
	return o != OutcomeNotDetected && o != OutcomeNotApplicable
}

type ActionItemSeverity string

const (
	ActionSeverityLow      ActionItemSeverity = "low"
	ActionSeverityMedium   ActionItemSeverity = "medium"
	ActionSeverityHigh     ActionItemSeverity = "high"
	ActionSeverityCritical ActionItemSeverity = "critical"
)

func ParseActionItemSeverity(raw string) (ActionItemSeverity, error) {
	val := ActionItemSeverity(strings.ToLower(strings.TrimSpace(raw)))
	switch val {
	case ActionSeverityLow, ActionSeverityMedium, ActionSeverityHigh, ActionSeverityCritical:
		return val, nil
	}
	return "", fmt.Errorf("unknown action item severity %q", raw)
}

type ActionItemStatus string

const (
	ActionOpen       ActionItemStatus = "open"
	ActionInProgress ActionItemStatus = "in_progress"
	ActionDone       ActionItemStatus = "done"
	ActionWontFix    ActionItemStatus = "wont_fix"
)

func ParseActionItemStatus(raw string) (ActionItemStatus, error) {
	val := ActionItemStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch val {
	case ActionOpen, ActionInProgress, ActionDone, ActionWontFix:
		return val, nil
	}
	return "", fmt.Errorf("unknown action item status %q", raw)
}
