package domain

import (
	"time"

	"github.com/google/uuid"
)

// DispatchReason records why a dispatch request was emitted.
type DispatchReason string

const (
	DispatchReasonCreated    DispatchReason = "created"
	DispatchReasonUnassigned DispatchReason = "unassigned"
	DispatchReasonRetrigger  DispatchReason = "retrigger"
)

// DispatchRequest is emitted when a job needs candidate technicians
// notified. Dispatch is asynchronous: emitting returns to the caller before
// any outreach happens.
type DispatchRequest struct {
	JobID uuid.UUID
	OrgID uuid.UUID

	Reason      DispatchReason
	RequestedAt time.Time
}

// Candidate is one ranked entry from the compliance/matching scorer.
type Candidate struct {
	TechID             uuid.UUID
	Score              float64
	PassedRequirements []string
	FailedRequirements []string
}
