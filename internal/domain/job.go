// Package domain defines the core work-order entities shared across the
// pipeline: drafts, jobs, outreach records, and dispatch events.
//
// Valid job status graph:
//
//	pending ──► matching ──► assigned ──► completed
//	   ▲  ▲        │            │
//	   │  └────────┘            │ (unassign)
//	   └────────────────────────┘
//	any non-terminal ──► archived
//
// completed and archived are terminal states.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusMatching  JobStatus = "matching"
	JobStatusAssigned  JobStatus = "assigned"
	JobStatusCompleted JobStatus = "completed"
	JobStatusArchived  JobStatus = "archived"
)

// ParseJobStatus converts a raw string to a JobStatus, returning an error
// for unknown values.
func ParseJobStatus(s string) (JobStatus, error) {
	st := JobStatus(s)
	switch st {
	case JobStatusPending, JobStatusMatching, JobStatusAssigned, JobStatusCompleted, JobStatusArchived:
		return st, nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// IsTerminal reports whether the status has no outgoing transitions.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusArchived
}

// IsOpen reports whether a job in this status still counts for duplicate
// detection and re-dispatch.
func (s JobStatus) IsOpen() bool {
	return s == JobStatusPending || s == JobStatusMatching || s == JobStatusAssigned
}

type Trade string

const (
	TradeHVAC           Trade = "HVAC"
	TradePlumbing       Trade = "Plumbing"
	TradeElectrical     Trade = "Electrical"
	TradeHandyman       Trade = "Handyman"
	TradeFacilitiesTech Trade = "FacilitiesTech"
	TradeOther          Trade = "Other"
)

// ParseTrade converts a raw string to a Trade, returning an error for
// unknown values.
func ParseTrade(s string) (Trade, error) {
	t := Trade(s)
	switch t {
	case TradeHVAC, TradePlumbing, TradeElectrical, TradeHandyman, TradeFacilitiesTech, TradeOther:
		return t, nil
	}
	return "", fmt.Errorf("unknown trade %q", s)
}

type Urgency string

const (
	UrgencyEmergency  Urgency = "emergency"
	UrgencySameDay    Urgency = "same_day"
	UrgencyNextDay    Urgency = "next_day"
	UrgencyWithinWeek Urgency = "within_week"
	UrgencyFlexible   Urgency = "flexible"
)

// ParseUrgency converts a raw string to an Urgency, returning an error for
// unknown values.
func ParseUrgency(s string) (Urgency, error) {
	u := Urgency(s)
	switch u {
	case UrgencyEmergency, UrgencySameDay, UrgencyNextDay, UrgencyWithinWeek, UrgencyFlexible:
		return u, nil
	}
	return "", fmt.Errorf("unknown urgency %q", s)
}

// Location is a resolved street address.
type Location struct {
	Lat   float64
	Lng   float64
	City  string
	State string
}

// SLAConfig holds per-job deadlines in minutes, derived from trade and
// urgency at creation time.
type SLAConfig struct {
	DispatchMin   int
	AssignMin     int
	ArrivalMin    int
	CompletionMin int
}

// Job is the persisted work order. Status and AssignedTechID are mutated
// only through the lifecycle manager's transition methods.
type Job struct {
	ID    uuid.UUID
	OrgID uuid.UUID

	Title       string
	Description string
	Trade       Trade
	Urgency     Urgency

	AddressText string
	Location    Location

	ScheduledStart *time.Time

	// Budget bounds in cents. Nil means not provided.
	// Invariant: *BudgetMinCents <= *BudgetMaxCents when both are set.
	BudgetMinCents *int64
	BudgetMaxCents *int64
	PayRate        string

	ContactName  string
	ContactPhone string
	ContactEmail string

	Status         JobStatus
	AssignedTechID *uuid.UUID
	PolicyID       *uuid.UUID
	SLA            SLAConfig

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DuplicateCandidate is a transient duplicate-detector result; it is never
// persisted.
type DuplicateCandidate struct {
	JobID  uuid.UUID
	Reason string
}
