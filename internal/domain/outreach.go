package domain

import (
	"time"

	"github.com/google/uuid"
)

type OutreachChannel string

const (
	// OutreachChannelWarm routes through the known-contact path: the
	// technician has previously engaged with this organization.
	OutreachChannelWarm OutreachChannel = "warm"
	// OutreachChannelCold routes through the first-time outreach path.
	OutreachChannelCold OutreachChannel = "cold"
)

// OutreachRecord tracks one notification attempt to one technician for one
// job. Records are owned by the job and deleted with it. A nil SentAt
// signals non-delivery.
type OutreachRecord struct {
	ID    uuid.UUID
	JobID uuid.UUID
	OrgID uuid.UUID

	TechID  uuid.UUID
	Channel OutreachChannel
	Score   float64

	SentAt    *time.Time
	OpenedAt  *time.Time
	RepliedAt *time.Time

	Attempt int
	Error   string

	CreatedAt time.Time
}
