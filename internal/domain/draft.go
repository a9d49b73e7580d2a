package domain

import (
	"time"

	"github.com/google/uuid"
)

// Draft is the structured output of a parse (LLM or heuristic). Every field
// is always present: unmatched fields carry their documented default or a
// nil/empty absent marker, never an inconsistent shape.
type Draft struct {
	Title       string
	Description string
	Trade       Trade
	Urgency     Urgency

	AddressText    string
	ScheduledStart *time.Time

	// Estimated duration in hours. Zero means not provided; for a single
	// estimate DurationMinHours == DurationMaxHours.
	DurationMinHours int
	DurationMaxHours int

	BudgetMinCents *int64
	BudgetMaxCents *int64
	PayRate        string

	ContactName  string
	ContactPhone string
	ContactEmail string
}

// ValidatedRequest is a Draft that passed field validation and the duplicate
// and geocode gates. Only validated requests reach the lifecycle manager.
type ValidatedRequest struct {
	Draft

	OrgID    uuid.UUID
	PolicyID *uuid.UUID
	Location Location

	// DuplicateOverride records that the submitter explicitly continued
	// past reported duplicate candidates.
	DuplicateOverride bool
	// FallbackLocation records that Location was a user-approved fallback
	// rather than a geocoder result.
	FallbackLocation bool
}
