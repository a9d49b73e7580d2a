package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fieldserve/workorder/internal/domain"
	"github.com/fieldserve/workorder/internal/geocode"
	"github.com/fieldserve/workorder/internal/lifecycle"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Error categories returned to clients.
const (
	categoryValidation = "validation"
	categoryDuplicate  = "duplicate"
	categoryGeocode    = "geocode"
	categoryTransition = "transition"
	categoryUpstream   = "upstream"
	categoryAuth       = "auth"
)

type Store interface {
	ListJobs(ctx context.Context, orgID uuid.UUID, status *domain.JobStatus, limit, offset int) ([]domain.Job, error)
	ListOutreach(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]domain.OutreachRecord, error)
}

// Lifecycle is the consumed job state machine contract. All status writes
// go through it.
type Lifecycle interface {
	Create(ctx context.Context, req domain.ValidatedRequest) (domain.Job, error)
	Assign(ctx context.Context, jobID, techID uuid.UUID) (domain.Job, error)
	Unassign(ctx context.Context, jobID uuid.UUID) (domain.Job, error)
	Complete(ctx context.Context, jobID uuid.UUID) (domain.Job, error)
	Archive(ctx context.Context, jobID uuid.UUID) (domain.Job, error)
	Delete(ctx context.Context, jobID uuid.UUID) error
	GetJob(ctx context.Context, jobID uuid.UUID) (domain.Job, error)
}

// Parser turns raw text into a structurally complete draft. It never fails.
type Parser interface {
	Parse(ctx context.Context, rawText string) domain.Draft
}

type DuplicateChecker interface {
	FindDuplicates(ctx context.Context, orgID uuid.UUID, trade domain.Trade, addressText string, excludeJobID uuid.UUID) ([]domain.DuplicateCandidate, error)
}

type Geocoder interface {
	Geocode(ctx context.Context, addressText string) (geocode.Result, error)
}

// Ranker previews scorer candidates for a job.
type Ranker interface {
	RankCandidates(ctx context.Context, job domain.Job) ([]domain.Candidate, error)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	lifecycle Lifecycle
	store     Store
	parser    Parser
	dups      DuplicateChecker
	geocoder  Geocoder
	ranker    Ranker

	token string // empty disables auth
	db    HealthChecker
}

func NewHandler(lc Lifecycle, store Store, parser Parser, dups DuplicateChecker, geocoder Geocoder, ranker Ranker) *Handler {
	return &Handler{
		lifecycle: lc,
		store:     store,
		parser:    parser,
		dups:      dups,
		geocoder:  geocoder,
		ranker:    ranker,
	}
}

// WithAuthToken requires a matching bearer token on every endpoint except
// /health.
func (h *Handler) WithAuthToken(token string) *Handler {
	h.token = token
	return h
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if path == "/health" && r.Method == http.MethodGet {
		h.health(w, r)
		return
	}

	if !h.authorized(r) {
		writeError(w, http.StatusUnauthorized, "missing or invalid token", categoryAuth)
		return
	}

	switch {
	case path == "/jobs" && r.Method == http.MethodPost:
		h.createJob(w, r)

	case path == "/jobs" && r.Method == http.MethodGet:
		h.listJobs(w, r)

	case path == "/jobs/extract" && r.Method == http.MethodPost:
		h.extract(w, r)

	case path == "/duplicates/check" && r.Method == http.MethodPost:
		h.checkDuplicates(w, r)

	case strings.HasSuffix(path, "/assign") && r.Method == http.MethodPost:
		h.assign(w, r)

	case strings.HasSuffix(path, "/assign") && r.Method == http.MethodDelete:
		h.unassign(w, r)

	case strings.HasSuffix(path, "/complete") && r.Method == http.MethodPost:
		h.complete(w, r)

	case strings.HasSuffix(path, "/archive") && r.Method == http.MethodPost:
		h.archive(w, r)

	case strings.HasSuffix(path, "/outreach") && r.Method == http.MethodGet:
		h.listOutreach(w, r)

	case strings.HasSuffix(path, "/technicians") && r.Method == http.MethodGet:
		h.listTechnicians(w, r)

	case strings.HasPrefix(path, "/jobs/") && r.Method == http.MethodGet:
		h.getJob(w, r)

	case strings.HasPrefix(path, "/jobs/") && r.Method == http.MethodDelete:
		h.deleteJob(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found", "")
	}
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.token == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(h.token)) == 1
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", categoryValidation)
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid json", categoryValidation)
		return false
	}
	return true
}

// createJob runs the intake gates in order: field validation, duplicate
// check, geocoding, then creation. Each gate fails the request explicitly;
// nothing is persisted before the final gate passes.
func (h *Handler) createJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if !decodeBody(w, r, &req) {
		return
	}

	in, err := validateCreateJob(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), categoryValidation)
		return
	}

	candidates, err := h.dups.FindDuplicates(r.Context(), in.orgID, in.trade, req.AddressText, uuid.Nil)
	if err != nil {
		log.Printf("api: duplicate check error: %v", err)
		writeError(w, http.StatusInternalServerError, "duplicate check failed", "")
		return
	}
	if len(candidates) > 0 && !req.DuplicateOverride {
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:      "possible duplicate jobs found",
			Category:   categoryDuplicate,
			Candidates: candidateResponses(candidates),
		})
		return
	}

	var location domain.Location
	var usedFallback bool

	result, err := h.geocoder.Geocode(r.Context(), req.AddressText)
	if err != nil {
		log.Printf("api: geocode error: %v", err)
		writeError(w, http.StatusInternalServerError, "geocoding failed", "")
		return
	}
	switch {
	case result.OK:
		location = result.Location
	case req.AcceptFallback && req.FallbackLocation != nil:
		location = domain.Location{
			Lat:   req.FallbackLocation.Lat,
			Lng:   req.FallbackLocation.Lng,
			City:  req.FallbackLocation.City,
			State: req.FallbackLocation.State,
		}
		usedFallback = true
	default:
		writeError(w, http.StatusUnprocessableEntity,
			"address could not be geocoded; retry or approve a fallback location", categoryGeocode)
		return
	}

	vr := domain.ValidatedRequest{
		Draft: domain.Draft{
			Title:            req.Title,
			Description:      req.Description,
			Trade:            in.trade,
			Urgency:          in.urgency,
			AddressText:      req.AddressText,
			ScheduledStart:   in.scheduledStart,
			DurationMinHours: req.DurationMinHours,
			DurationMaxHours: req.DurationMaxHours,
			BudgetMinCents:   req.BudgetMinCents,
			BudgetMaxCents:   req.BudgetMaxCents,
			PayRate:          req.PayRate,
			ContactName:      req.ContactName,
			ContactPhone:     req.ContactPhone,
			ContactEmail:     req.ContactEmail,
		},
		OrgID:             in.orgID,
		PolicyID:          in.policyID,
		Location:          location,
		DuplicateOverride: req.DuplicateOverride,
		FallbackLocation:  usedFallback,
	}

	job, err := h.lifecycle.Create(r.Context(), vr)
	if err != nil {
		if errors.Is(err, lifecycle.ErrPreconditionFailed) {
			writeError(w, http.StatusBadRequest, err.Error(), categoryValidation)
			return
		}
		log.Printf("api: create job error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create job", "")
		return
	}

	writeJSON(w, http.StatusCreated, jobResponse(job))
}

func (h *Handler) extract(w http.ResponseWriter, r *http.Request) {
	var req ExtractRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RawText == "" {
		writeError(w, http.StatusBadRequest, "raw_text is required", categoryValidation)
		return
	}

	draft := h.parser.Parse(r.Context(), req.RawText)
	writeJSON(w, http.StatusOK, draftResponse(draft))
}

func (h *Handler) checkDuplicates(w http.ResponseWriter, r *http.Request) {
	var req DuplicateCheckRequest
	if !decodeBody(w, r, &req) {
		return
	}

	in, err := validateDuplicateCheck(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), categoryValidation)
		return
	}

	candidates, err := h.dups.FindDuplicates(r.Context(), in.orgID, in.trade, in.addressText, in.excludeJobID)
	if err != nil {
		log.Printf("api: duplicate check error: %v", err)
		writeError(w, http.StatusInternalServerError, "duplicate check failed", "")
		return
	}

	resp := DuplicateCheckResponse{Candidates: candidateResponses(candidates)}
	if resp.Candidates == nil {
		resp.Candidates = []DuplicateCandidateResponse{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuid.Parse(r.URL.Query().Get("org_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "org_id query parameter is required", categoryValidation)
		return
	}

	var status *domain.JobStatus
	if s := r.URL.Query().Get("status"); s != "" {
		parsed, err := domain.ParseJobStatus(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid status filter", categoryValidation)
			return
		}
		status = &parsed
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), categoryValidation)
		return
	}

	jobs, err := h.store.ListJobs(r.Context(), orgID, status, limit, offset)
	if err != nil {
		log.Printf("api: list jobs error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "")
		return
	}

	resp := ListJobsResponse{Jobs: make([]JobResponse, len(jobs))}
	for i, job := range jobs {
		resp.Jobs[i] = jobResponse(job)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDFromPath(w, r.URL.Path, "")
	if !ok {
		return
	}

	job, err := h.lifecycle.GetJob(r.Context(), jobID)
	if err != nil {
		h.writeLifecycleError(w, err, "get job")
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(job))
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDFromPath(w, r.URL.Path, "assign")
	if !ok {
		return
	}

	var req AssignRequest
	if !decodeBody(w, r, &req) {
		return
	}
	techID, err := uuid.Parse(req.TechID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tech_id", categoryValidation)
		return
	}

	job, err := h.lifecycle.Assign(r.Context(), jobID, techID)
	if err != nil {
		h.writeLifecycleError(w, err, "assign")
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(job))
}

func (h *Handler) unassign(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDFromPath(w, r.URL.Path, "assign")
	if !ok {
		return
	}

	job, err := h.lifecycle.Unassign(r.Context(), jobID)
	if err != nil {
		h.writeLifecycleError(w, err, "unassign")
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(job))
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDFromPath(w, r.URL.Path, "complete")
	if !ok {
		return
	}

	job, err := h.lifecycle.Complete(r.Context(), jobID)
	if err != nil {
		h.writeLifecycleError(w, err, "complete")
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(job))
}

func (h *Handler) archive(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDFromPath(w, r.URL.Path, "archive")
	if !ok {
		return
	}

	job, err := h.lifecycle.Archive(r.Context(), jobID)
	if err != nil {
		h.writeLifecycleError(w, err, "archive")
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(job))
}

func (h *Handler) deleteJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDFromPath(w, r.URL.Path, "")
	if !ok {
		return
	}

	if err := h.lifecycle.Delete(r.Context(), jobID); err != nil {
		h.writeLifecycleError(w, err, "delete")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listOutreach(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDFromPath(w, r.URL.Path, "outreach")
	if !ok {
		return
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), categoryValidation)
		return
	}

	records, err := h.store.ListOutreach(r.Context(), jobID, limit, offset)
	if err != nil {
		log.Printf("api: list outreach error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list outreach", "")
		return
	}

	resp := ListOutreachResponse{Outreach: make([]OutreachResponse, len(records))}
	for i, rec := range records {
		resp.Outreach[i] = outreachResponse(rec)
	}
	writeJSON(w, http.StatusOK, resp)
}

// listTechnicians returns the scorer's current ranking for a job, merged
// with the most recent outreach record per technician.
func (h *Handler) listTechnicians(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDFromPath(w, r.URL.Path, "technicians")
	if !ok {
		return
	}

	job, err := h.lifecycle.GetJob(r.Context(), jobID)
	if err != nil {
		h.writeLifecycleError(w, err, "get job")
		return
	}

	candidates, err := h.ranker.RankCandidates(r.Context(), job)
	if err != nil {
		log.Printf("api: rank candidates error: %v", err)
		writeError(w, http.StatusBadGateway, "scorer unavailable", categoryUpstream)
		return
	}

	records, err := h.store.ListOutreach(r.Context(), jobID, MaxLimit, 0)
	if err != nil {
		log.Printf("api: list outreach error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list outreach", "")
		return
	}

	// Records are newest first; keep the first one seen per technician.
	latest := make(map[uuid.UUID]domain.OutreachRecord)
	for _, rec := range records {
		if _, seen := latest[rec.TechID]; !seen {
			latest[rec.TechID] = rec
		}
	}

	resp := ListTechniciansResponse{Technicians: make([]TechnicianResponse, len(candidates))}
	for i, c := range candidates {
		tr := TechnicianResponse{
			TechID:             c.TechID.String(),
			Score:              c.Score,
			PassedRequirements: c.PassedRequirements,
			FailedRequirements: c.FailedRequirements,
		}
		if rec, found := latest[c.TechID]; found {
			out := outreachResponse(rec)
			tr.Outreach = &out
		}
		resp.Technicians[i] = tr
	}
	writeJSON(w, http.StatusOK, resp)
}

// jobIDFromPath extracts the job ID from /jobs/{id} or /jobs/{id}/{action}.
// Writes the error response itself on failure.
func jobIDFromPath(w http.ResponseWriter, path, action string) (uuid.UUID, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case action == "" && len(parts) == 2 && parts[0] == "jobs":
	case action != "" && len(parts) == 3 && parts[0] == "jobs" && parts[2] == action:
	default:
		writeError(w, http.StatusNotFound, "not found", "")
		return uuid.Nil, false
	}

	jobID, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id", categoryValidation)
		return uuid.Nil, false
	}
	return jobID, true
}

func (h *Handler) writeLifecycleError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, lifecycle.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found", "")
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error(), categoryTransition)
	case errors.Is(err, lifecycle.ErrPreconditionFailed):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), categoryTransition)
	default:
		log.Printf("api: %s error: %v", op, err)
		writeError(w, http.StatusInternalServerError, "failed to "+op, "")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg, category string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Category: category})
}

// parsePagination extracts and validates limit/offset query parameters.
// Returns DefaultLimit if limit is not specified, and 0 for offset if not specified.
// Returns an error if limit exceeds MaxLimit or if values are negative/invalid.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
