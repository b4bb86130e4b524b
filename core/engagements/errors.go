package engagements

import (
	"errors"
	"fmt"

	"osprey-ptx/core/store"
)

var (
	ErrNotFound    = errors.New("engagement not found")
	ErrInvalidRole = errors.New("invalid engagement role")
)

// TransitionReason subtypes InvalidTransitionError so API callers get a
// stable machine-readable cause alongside the message.
type TransitionReason string

const (
	ReasonSkipForward          TransitionReason = "skip_forward"
	ReasonBackward             TransitionReason = "backward"
	ReasonNotAdjacent          TransitionReason = "not_adjacent"
	ReasonPlanNotGenerated     TransitionReason = "plan_not_generated"
	ReasonMissingApprovals     TransitionReason = "missing_approvals"
	ReasonNoExecutedTechniques TransitionReason = "no_executed_techniques"
	ReasonConflict             TransitionReason = "conflict"
)

type InvalidTransitionError struct {
	From    store.EngagementStatus
	To      store.EngagementStatus
	Reason  TransitionReason
	Message string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s: %s", e.From, e.To, e.Message)
}

func invalidTransition(from, to store.EngagementStatus, reason TransitionReason, message string) error {
	return &InvalidTransitionError{From: from, To: to, Reason: reason, Message: message}
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
