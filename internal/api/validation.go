package api

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fieldserve/workorder/internal/domain"
)

// createJobInput holds the parsed, validated identity and enum fields of a
// CreateJobRequest.
type createJobInput struct {
	orgID          uuid.UUID
	trade          domain.Trade
	urgency        domain.Urgency
	policyID       *uuid.UUID
	scheduledStart *time.Time
}

func validateCreateJob(req CreateJobRequest) (createJobInput, error) {
	var in createJobInput

	if req.OrgID == "" {
		return in, fmt.Errorf("org_id is required")
	}
	orgID, err := uuid.Parse(req.OrgID)
	if err != nil {
		return in, fmt.Errorf("invalid org_id: %w", err)
	}
	in.orgID = orgID

	if req.Title == "" {
		return in, fmt.Errorf("title is required")
	}

	if req.Trade == "" {
		return in, fmt.Errorf("trade is required")
	}
	trade, err := domain.ParseTrade(req.Trade)
	if err != nil {
		return in, fmt.Errorf("invalid trade: %w", err)
	}
	in.trade = trade

	if req.Urgency == "" {
		return in, fmt.Errorf("urgency is required")
	}
	urgency, err := domain.ParseUrgency(req.Urgency)
	if err != nil {
		return in, fmt.Errorf("invalid urgency: %w", err)
	}
	in.urgency = urgency

	if req.AddressText == "" {
		return in, fmt.Errorf("address_text is required")
	}
	if !hasStreetToken(req.AddressText) {
		return in, fmt.Errorf("address_text must include a street-level address")
	}

	if req.ScheduledStart != "" {
		t, err := time.Parse(time.RFC3339, req.ScheduledStart)
		if err != nil {
			return in, fmt.Errorf("invalid scheduled_start: %w", err)
		}
		in.scheduledStart = &t
	}

	if req.PolicyID != "" {
		policyID, err := uuid.Parse(req.PolicyID)
		if err != nil {
			return in, fmt.Errorf("invalid policy_id: %w", err)
		}
		in.policyID = &policyID
	}

	if req.BudgetMinCents != nil && *req.BudgetMinCents < 0 {
		return in, fmt.Errorf("budget_min_cents must not be negative")
	}
	if req.BudgetMaxCents != nil && *req.BudgetMaxCents < 0 {
		return in, fmt.Errorf("budget_max_cents must not be negative")
	}
	if req.BudgetMinCents != nil && req.BudgetMaxCents != nil && *req.BudgetMinCents > *req.BudgetMaxCents {
		return in, fmt.Errorf("budget_min_cents must not exceed budget_max_cents")
	}

	if req.DurationMinHours < 0 || req.DurationMaxHours < 0 {
		return in, fmt.Errorf("duration hours must not be negative")
	}
	if req.DurationMaxHours > 0 && req.DurationMinHours > req.DurationMaxHours {
		return in, fmt.Errorf("duration_min_hours must not exceed duration_max_hours")
	}

	if req.AcceptFallback && req.FallbackLocation == nil {
		return in, fmt.Errorf("accept_fallback requires fallback_location")
	}

	return in, nil
}

// streetNumberRe matches a house number followed by the start of a street
// name, e.g. "123 Main".
var streetNumberRe = regexp.MustCompile(`\b\d+\s+[A-Za-z]`)

// streetSuffixes are the suffix spellings the duplicate detector folds;
// a named street without a house number still counts as street-level.
var streetSuffixes = map[string]bool{
	"st": true, "street": true,
	"ave": true, "av": true, "avenue": true,
	"rd": true, "road": true,
	"blvd": true, "boulevard": true,
	"dr": true, "drive": true,
	"ln": true, "lane": true,
	"ct": true, "court": true,
	"pl": true, "place": true,
	"pkwy": true, "parkway": true,
	"hwy": true, "highway": true,
	"cir": true, "circle": true,
	"ter": true, "terrace": true,
}

// hasStreetToken reports whether the address names a street: either a
// house number followed by a name, or a name followed by a known suffix.
// A bare city or region ("Miami", "Downtown Miami, FL") fails.
func hasStreetToken(address string) bool {
	if streetNumberRe.MatchString(address) {
		return true
	}
	prevIsName := false
	for _, tok := range strings.Fields(strings.ToLower(address)) {
		tok = strings.Trim(tok, ".,;")
		if tok == "" {
			continue
		}
		if prevIsName && streetSuffixes[tok] {
			return true
		}
		prevIsName = tok[0] >= 'a' && tok[0] <= 'z'
	}
	return false
}

// duplicateCheckInput holds the parsed fields of a DuplicateCheckRequest.
type duplicateCheckInput struct {
	orgID        uuid.UUID
	trade        domain.Trade
	addressText  string
	excludeJobID uuid.UUID
}

func validateDuplicateCheck(req DuplicateCheckRequest) (duplicateCheckInput, error) {
	var in duplicateCheckInput

	if req.OrgID == "" {
		return in, fmt.Errorf("org_id is required")
	}
	orgID, err := uuid.Parse(req.OrgID)
	if err != nil {
		return in, fmt.Errorf("invalid org_id: %w", err)
	}
	in.orgID = orgID

	if req.Trade == "" {
		return in, fmt.Errorf("trade is required")
	}
	trade, err := domain.ParseTrade(req.Trade)
	if err != nil {
		return in, fmt.Errorf("invalid trade: %w", err)
	}
	in.trade = trade

	if req.AddressText == "" {
		return in, fmt.Errorf("address_text is required")
	}
	in.addressText = req.AddressText

	if req.ExcludeJobID != "" {
		id, err := uuid.Parse(req.ExcludeJobID)
		if err != nil {
			return in, fmt.Errorf("invalid exclude_job_id: %w", err)
		}
		in.excludeJobID = id
	}

	return in, nil
}
