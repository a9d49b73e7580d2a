package api

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/fieldserve/workorder/internal/domain"
)

func int64p(v int64) *int64 { return &v }

func validRequest() CreateJobRequest {
	return CreateJobRequest{
		OrgID:       uuid.NewString(),
		Title:       "Fix water heater",
		Trade:       "Plumbing",
		Urgency:     "same_day",
		AddressText: "45 Oak Ave, Denver, CO 80203",
	}
}

// TestValidateCreateJob_Valid verifies a complete request parses into the
// typed input.
func TestValidateCreateJob_Valid(t *testing.T) {
	req := validRequest()
	req.ScheduledStart = "2026-03-12T09:00:00Z"
	req.PolicyID = uuid.NewString()
	req.BudgetMinCents = int64p(50000)
	req.BudgetMaxCents = int64p(80000)
	req.DurationMinHours = 2
	req.DurationMaxHours = 4

	in, err := validateCreateJob(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in.trade != domain.TradePlumbing {
		t.Errorf("trade = %q, want Plumbing", in.trade)
	}
	if in.urgency != domain.UrgencySameDay {
		t.Errorf("urgency = %q, want same_day", in.urgency)
	}
	if in.scheduledStart == nil || in.scheduledStart.Hour() != 9 {
		t.Errorf("scheduledStart = %v", in.scheduledStart)
	}
	if in.policyID == nil {
		t.Error("expected policy ID parsed")
	}
}

// TestValidateCreateJob_Errors covers each rejection with its message.
func TestValidateCreateJob_Errors(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*CreateJobRequest)
		wantErr string
	}{
		{"empty org_id", func(r *CreateJobRequest) { r.OrgID = "" }, "org_id is required"},
		{"malformed org_id", func(r *CreateJobRequest) { r.OrgID = "xyz" }, "invalid org_id"},
		{"empty title", func(r *CreateJobRequest) { r.Title = "" }, "title is required"},
		{"empty trade", func(r *CreateJobRequest) { r.Trade = "" }, "trade is required"},
		{"unknown trade", func(r *CreateJobRequest) { r.Trade = "Roofing" }, "invalid trade"},
		{"empty urgency", func(r *CreateJobRequest) { r.Urgency = "" }, "urgency is required"},
		{"unknown urgency", func(r *CreateJobRequest) { r.Urgency = "whenever" }, "invalid urgency"},
		{"empty address", func(r *CreateJobRequest) { r.AddressText = "" }, "address_text is required"},
		{"street-less address", func(r *CreateJobRequest) { r.AddressText = "Miami" }, "street-level"},
		{"non-RFC3339 start", func(r *CreateJobRequest) { r.ScheduledStart = "tomorrow" }, "invalid scheduled_start"},
		{"malformed policy_id", func(r *CreateJobRequest) { r.PolicyID = "xyz" }, "invalid policy_id"},
		{"negative budget min", func(r *CreateJobRequest) { r.BudgetMinCents = int64p(-1) }, "budget_min_cents must not be negative"},
		{"negative budget max", func(r *CreateJobRequest) { r.BudgetMaxCents = int64p(-1) }, "budget_max_cents must not be negative"},
		{"inverted budget", func(r *CreateJobRequest) {
			r.BudgetMinCents = int64p(900)
			r.BudgetMaxCents = int64p(100)
		}, "budget_min_cents must not exceed budget_max_cents"},
		{"negative duration", func(r *CreateJobRequest) { r.DurationMinHours = -2 }, "duration hours must not be negative"},
		{"inverted duration", func(r *CreateJobRequest) {
			r.DurationMinHours = 6
			r.DurationMaxHours = 2
		}, "duration_min_hours must not exceed duration_max_hours"},
		{"fallback without location", func(r *CreateJobRequest) { r.AcceptFallback = true }, "accept_fallback requires fallback_location"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(&req)

			_, err := validateCreateJob(req)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tc.wantErr)
			}
		})
	}
}

// TestValidateCreateJob_StreetLevelAddress verifies an address must carry a
// street-level token (house number plus name, or name plus suffix) before a
// job can be submitted. A fallback location does not relax the requirement:
// it substitutes coordinates, not the address itself.
func TestValidateCreateJob_StreetLevelAddress(t *testing.T) {
	cases := []struct {
		name    string
		address string
		ok      bool
	}{
		{"number and name", "123 Main St, Miami, FL 33101", true},
		{"number without suffix", "45 Oak, Denver, CO", true},
		{"name and suffix", "Ocean Drive, Miami Beach, FL", true},
		{"suffix spelled out", "Collins Avenue, Miami Beach, FL", true},
		{"bare city", "Miami", false},
		{"city and state", "Downtown Miami, FL", false},
		{"suffix with no name", "Drive", false},
		{"state only", "Florida", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			req.AddressText = tc.address

			_, err := validateCreateJob(req)
			if tc.ok && err != nil {
				t.Fatalf("unexpected error for %q: %v", tc.address, err)
			}
			if !tc.ok {
				if err == nil {
					t.Fatalf("expected rejection for %q", tc.address)
				}
				if !strings.Contains(err.Error(), "street-level") {
					t.Errorf("error = %q, want street-level message", err)
				}
			}
		})
	}

	t.Run("fallback approval does not bypass", func(t *testing.T) {
		req := validRequest()
		req.AddressText = "Miami"
		req.AcceptFallback = true
		req.FallbackLocation = &LocationPayload{Lat: 25.7617, Lng: -80.1918}

		if _, err := validateCreateJob(req); err == nil {
			t.Fatal("expected rejection: fallback location must not stand in for a street address")
		}
	})
}

// TestValidateCreateJob_ZeroDurationMax verifies an open-ended duration
// (min set, max zero) is accepted.
func TestValidateCreateJob_ZeroDurationMax(t *testing.T) {
	req := validRequest()
	req.DurationMinHours = 3

	if _, err := validateCreateJob(req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestValidateDuplicateCheck covers required fields and the optional
// exclusion.
func TestValidateDuplicateCheck(t *testing.T) {
	exclude := uuid.New()

	t.Run("valid with exclusion", func(t *testing.T) {
		in, err := validateDuplicateCheck(DuplicateCheckRequest{
			OrgID:        uuid.NewString(),
			Trade:        "Electrical",
			AddressText:  "9 Pine Rd, Austin, TX",
			ExcludeJobID: exclude.String(),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if in.excludeJobID != exclude {
			t.Errorf("excludeJobID = %s, want %s", in.excludeJobID, exclude)
		}
	})

	t.Run("valid without exclusion", func(t *testing.T) {
		in, err := validateDuplicateCheck(DuplicateCheckRequest{
			OrgID:       uuid.NewString(),
			Trade:       "Electrical",
			AddressText: "9 Pine Rd, Austin, TX",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if in.excludeJobID != uuid.Nil {
			t.Errorf("excludeJobID = %s, want nil UUID", in.excludeJobID)
		}
	})

	cases := []struct {
		name    string
		req     DuplicateCheckRequest
		wantErr string
	}{
		{"missing org_id", DuplicateCheckRequest{Trade: "HVAC", AddressText: "x"}, "org_id is required"},
		{"missing trade", DuplicateCheckRequest{OrgID: uuid.NewString(), AddressText: "x"}, "trade is required"},
		{"unknown trade", DuplicateCheckRequest{OrgID: uuid.NewString(), Trade: "Masonry", AddressText: "x"}, "invalid trade"},
		{"missing address", DuplicateCheckRequest{OrgID: uuid.NewString(), Trade: "HVAC"}, "address_text is required"},
		{"malformed exclusion", DuplicateCheckRequest{OrgID: uuid.NewString(), Trade: "HVAC", AddressText: "x", ExcludeJobID: "xyz"}, "invalid exclude_job_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := validateDuplicateCheck(tc.req)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tc.wantErr)
			}
		})
	}
}

// TestParsePagination covers defaults, bounds, and rejections.
func TestParsePagination(t *testing.T) {
	cases := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
		wantErr    bool
	}{
		{"defaults", "", DefaultLimit, 0, false},
		{"explicit", "limit=50&offset=200", 50, 200, false},
		{"zero limit falls back", "limit=0", DefaultLimit, 0, false},
		{"max limit allowed", "limit=1000", MaxLimit, 0, false},
		{"limit above max", "limit=1001", 0, 0, true},
		{"negative limit", "limit=-5", 0, 0, true},
		{"negative offset", "offset=-1", 0, 0, true},
		{"non-numeric limit", "limit=many", 0, 0, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/jobs?"+tc.query, nil)
			limit, offset, err := parsePagination(r)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if limit != tc.wantLimit || offset != tc.wantOffset {
				t.Errorf("limit, offset = %d, %d, want %d, %d", limit, offset, tc.wantLimit, tc.wantOffset)
			}
		})
	}
}
