package api

import (
	"time"

	"github.com/fieldserve/workorder/internal/domain"
)

// CreateJobRequest is the POST /jobs payload. Structured fields come either
// from the client directly or from a prior POST /jobs/extract preview.
type CreateJobRequest struct {
	OrgID       string `json:"org_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Trade       string `json:"trade"`
	Urgency     string `json:"urgency"`

	AddressText    string `json:"address_text"`
	ScheduledStart string `json:"scheduled_start,omitempty"` // RFC3339

	DurationMinHours int `json:"duration_min_hours,omitempty"`
	DurationMaxHours int `json:"duration_max_hours,omitempty"`

	BudgetMinCents *int64 `json:"budget_min_cents,omitempty"`
	BudgetMaxCents *int64 `json:"budget_max_cents,omitempty"`
	PayRate        string `json:"pay_rate,omitempty"`

	ContactName  string `json:"contact_name,omitempty"`
	ContactPhone string `json:"contact_phone,omitempty"`
	ContactEmail string `json:"contact_email,omitempty"`

	PolicyID string `json:"policy_id,omitempty"`

	// DuplicateOverride continues past reported duplicate candidates.
	DuplicateOverride bool `json:"duplicate_override,omitempty"`

	// AcceptFallback approves FallbackLocation when geocoding fails.
	// Never applied silently: both fields must be present.
	AcceptFallback   bool             `json:"accept_fallback,omitempty"`
	FallbackLocation *LocationPayload `json:"fallback_location,omitempty"`
}

type LocationPayload struct {
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	City  string  `json:"city,omitempty"`
	State string  `json:"state,omitempty"`
}

type ExtractRequest struct {
	RawText string `json:"raw_text"`
}

type DuplicateCheckRequest struct {
	OrgID        string `json:"org_id"`
	Trade        string `json:"trade"`
	AddressText  string `json:"address_text"`
	ExcludeJobID string `json:"exclude_job_id,omitempty"`
}

type AssignRequest struct {
	TechID string `json:"tech_id"`
}

type JobResponse struct {
	ID    string `json:"id"`
	OrgID string `json:"org_id"`

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Trade       string `json:"trade"`
	Urgency     string `json:"urgency"`

	AddressText string          `json:"address_text"`
	Location    LocationPayload `json:"location"`

	ScheduledStart *string `json:"scheduled_start,omitempty"`

	BudgetMinCents *int64 `json:"budget_min_cents,omitempty"`
	BudgetMaxCents *int64 `json:"budget_max_cents,omitempty"`
	PayRate        string `json:"pay_rate,omitempty"`

	ContactName  string `json:"contact_name,omitempty"`
	ContactPhone string `json:"contact_phone,omitempty"`
	ContactEmail string `json:"contact_email,omitempty"`

	Status         string  `json:"status"`
	AssignedTechID *string `json:"assigned_tech_id,omitempty"`
	PolicyID       *string `json:"policy_id,omitempty"`

	SLA SLAPayload `json:"sla"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type SLAPayload struct {
	DispatchMin   int `json:"dispatch_min"`
	AssignMin     int `json:"assign_min"`
	ArrivalMin    int `json:"arrival_min"`
	CompletionMin int `json:"completion_min"`
}

type DraftResponse struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Trade       string `json:"trade"`
	Urgency     string `json:"urgency"`

	AddressText    string  `json:"address_text"`
	ScheduledStart *string `json:"scheduled_start"`

	DurationMinHours int `json:"duration_min_hours"`
	DurationMaxHours int `json:"duration_max_hours"`

	BudgetMinCents *int64 `json:"budget_min_cents"`
	BudgetMaxCents *int64 `json:"budget_max_cents"`
	PayRate        string `json:"pay_rate"`

	ContactName  string `json:"contact_name"`
	ContactPhone string `json:"contact_phone"`
	ContactEmail string `json:"contact_email"`
}

type DuplicateCandidateResponse struct {
	JobID  string `json:"job_id"`
	Reason string `json:"reason"`
}

type OutreachResponse struct {
	ID      string  `json:"id"`
	JobID   string  `json:"job_id"`
	TechID  string  `json:"tech_id"`
	Channel string  `json:"channel"`
	Score   float64 `json:"score"`

	SentAt    *string `json:"sent_at"`
	OpenedAt  *string `json:"opened_at"`
	RepliedAt *string `json:"replied_at"`

	Attempt   int    `json:"attempt"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at"`
}

// TechnicianResponse is a scorer ranking entry merged with the job's
// outreach status for that technician, when any exists.
type TechnicianResponse struct {
	TechID             string            `json:"tech_id"`
	Score              float64           `json:"score"`
	PassedRequirements []string          `json:"passed_requirements,omitempty"`
	FailedRequirements []string          `json:"failed_requirements,omitempty"`
	Outreach           *OutreachResponse `json:"outreach,omitempty"`
}

type ListJobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type ListOutreachResponse struct {
	Outreach []OutreachResponse `json:"outreach"`
}

type ListTechniciansResponse struct {
	Technicians []TechnicianResponse `json:"technicians"`
}

type DuplicateCheckResponse struct {
	Candidates []DuplicateCandidateResponse `json:"candidates"`
}

// ErrorResponse is the uniform error shape. Category classifies the failure
// for clients; duplicate rejections carry the candidates so the client can
// render the override choice.
type ErrorResponse struct {
	Error      string                       `json:"error"`
	Category   string                       `json:"category,omitempty"`
	Candidates []DuplicateCandidateResponse `json:"candidates,omitempty"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func jobResponse(job domain.Job) JobResponse {
	resp := JobResponse{
		ID:          job.ID.String(),
		OrgID:       job.OrgID.String(),
		Title:       job.Title,
		Description: job.Description,
		Trade:       string(job.Trade),
		Urgency:     string(job.Urgency),
		AddressText: job.AddressText,
		Location: LocationPayload{
			Lat:   job.Location.Lat,
			Lng:   job.Location.Lng,
			City:  job.Location.City,
			State: job.Location.State,
		},
		ScheduledStart: formatTimePtr(job.ScheduledStart),
		BudgetMinCents: job.BudgetMinCents,
		BudgetMaxCents: job.BudgetMaxCents,
		PayRate:        job.PayRate,
		ContactName:    job.ContactName,
		ContactPhone:   job.ContactPhone,
		ContactEmail:   job.ContactEmail,
		Status:         string(job.Status),
		SLA: SLAPayload{
			DispatchMin:   job.SLA.DispatchMin,
			AssignMin:     job.SLA.AssignMin,
			ArrivalMin:    job.SLA.ArrivalMin,
			CompletionMin: job.SLA.CompletionMin,
		},
		CreatedAt: formatTime(job.CreatedAt),
		UpdatedAt: formatTime(job.UpdatedAt),
	}
	if job.AssignedTechID != nil {
		s := job.AssignedTechID.String()
		resp.AssignedTechID = &s
	}
	if job.PolicyID != nil {
		s := job.PolicyID.String()
		resp.PolicyID = &s
	}
	return resp
}

func draftResponse(d domain.Draft) DraftResponse {
	return DraftResponse{
		Title:            d.Title,
		Description:      d.Description,
		Trade:            string(d.Trade),
		Urgency:          string(d.Urgency),
		AddressText:      d.AddressText,
		ScheduledStart:   formatTimePtr(d.ScheduledStart),
		DurationMinHours: d.DurationMinHours,
		DurationMaxHours: d.DurationMaxHours,
		BudgetMinCents:   d.BudgetMinCents,
		BudgetMaxCents:   d.BudgetMaxCents,
		PayRate:          d.PayRate,
		ContactName:      d.ContactName,
		ContactPhone:     d.ContactPhone,
		ContactEmail:     d.ContactEmail,
	}
}

func outreachResponse(rec domain.OutreachRecord) OutreachResponse {
	return OutreachResponse{
		ID:        rec.ID.String(),
		JobID:     rec.JobID.String(),
		TechID:    rec.TechID.String(),
		Channel:   string(rec.Channel),
		Score:     rec.Score,
		SentAt:    formatTimePtr(rec.SentAt),
		OpenedAt:  formatTimePtr(rec.OpenedAt),
		RepliedAt: formatTimePtr(rec.RepliedAt),
		Attempt:   rec.Attempt,
		Error:     rec.Error,
		CreatedAt: formatTime(rec.CreatedAt),
	}
}

func candidateResponses(candidates []domain.DuplicateCandidate) []DuplicateCandidateResponse {
	out := make([]DuplicateCandidateResponse, len(candidates))
	for i, c := range candidates {
		out[i] = DuplicateCandidateResponse{JobID: c.JobID.String(), Reason: c.Reason}
	}
	return out
}
