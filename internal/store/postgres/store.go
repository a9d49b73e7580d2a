package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/fieldserve/workorder/internal/api"
	"github.com/fieldserve/workorder/internal/dedup"
	"github.com/fieldserve/workorder/internal/dispatch"
	"github.com/fieldserve/workorder/internal/domain"
	"github.com/fieldserve/workorder/internal/lifecycle"
	"github.com/fieldserve/workorder/internal/redispatch"
)

// Store implements the lifecycle, dedup, dispatch, re-dispatch and API
// persistence contracts using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL store with the given database connection.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// InsertJob inserts a new job record.
func (s *Store) InsertJob(ctx context.Context, job domain.Job) error {
	_, err := s.db.ExecContext(ctx, queryInsertJob,
		job.ID,
		job.OrgID,
		job.Title,
		job.Description,
		string(job.Trade),
		string(job.Urgency),
		job.AddressText,
		job.Location.Lat,
		job.Location.Lng,
		job.Location.City,
		job.Location.State,
		nullTime(job.ScheduledStart),
		nullInt64(job.BudgetMinCents),
		nullInt64(job.BudgetMaxCents),
		job.PayRate,
		job.ContactName,
		job.ContactPhone,
		job.ContactEmail,
		string(job.Status),
		nullUUID(job.AssignedTechID),
		nullUUID(job.PolicyID),
		job.SLA.DispatchMin,
		job.SLA.AssignMin,
		job.SLA.ArrivalMin,
		job.SLA.CompletionMin,
		job.CreatedAt,
		job.UpdatedAt,
	)
	return err
}

// GetJobByID returns a job by its ID.
// Returns lifecycle.ErrNotFound if no such job exists.
func (s *Store) GetJobByID(ctx context.Context, jobID uuid.UUID) (domain.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, queryGetJobByID, jobID))
	if err == sql.ErrNoRows {
		return domain.Job{}, lifecycle.ErrNotFound
	}
	if err != nil {
		return domain.Job{}, err
	}
	return job, nil
}

// UpdateJobState sets status and assigned technician in one statement,
// guarded on the current status.
// Returns lifecycle.ErrStaleState if the job exists but its status no longer
// matches from, and lifecycle.ErrNotFound if the job does not exist.
// This uses an atomic UPDATE with WHERE clause to prevent TOCTOU race conditions.
func (s *Store) UpdateJobState(ctx context.Context, jobID uuid.UUID, from, to domain.JobStatus, techID *uuid.UUID) error {
	// Single atomic update with guard in WHERE clause.
	// PostgreSQL acquires row lock before evaluating WHERE,
	// ensuring serialized access under concurrency.
	result, err := s.db.ExecContext(ctx, queryUpdateJobState,
		string(to), nullUUID(techID), jobID, string(from))
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		// Either: (a) job not found, or (b) status moved underneath us.
		// Distinguish by checking if the row exists.
		var currentStatus string
		err := s.db.QueryRowContext(ctx, queryGetJobStatus, jobID).Scan(&currentStatus)
		if err == sql.ErrNoRows {
			return lifecycle.ErrNotFound
		}
		if err != nil {
			return err
		}
		// Row exists but wasn't updated => guard mismatch
		return lifecycle.ErrStaleState
	}

	return nil
}

// DeleteJob hard-deletes the job along with its outreach records.
// Returns lifecycle.ErrNotFound if no such job exists.
func (s *Store) DeleteJob(ctx context.Context, jobID uuid.UUID) error {
	var deletedID uuid.UUID
	err := s.db.QueryRowContext(ctx, queryDeleteJob, jobID).Scan(&deletedID)
	if err == sql.ErrNoRows {
		return lifecycle.ErrNotFound
	}
	return err
}

// FindOpenJobs returns non-completed, non-archived jobs for the organization
// and trade created at or after since.
func (s *Store) FindOpenJobs(ctx context.Context, orgID uuid.UUID, trade domain.Trade, since time.Time) ([]domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, queryFindOpenJobs, orgID, string(trade), since)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

// ListJobs returns an organization's jobs ordered newest first, optionally
// filtered by status, paginated by limit and offset.
func (s *Store) ListJobs(ctx context.Context, orgID uuid.UUID, status *domain.JobStatus, limit, offset int) ([]domain.Job, error) {
	var rows *sql.Rows
	var err error
	if status != nil {
		rows, err = s.db.QueryContext(ctx, queryListJobsByStatus, orgID, string(*status), limit, offset)
	} else {
		rows, err = s.db.QueryContext(ctx, queryListJobs, orgID, limit, offset)
	}
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

// GetStalledJobs returns pending/matching jobs with no sent outreach whose
// last update is older than olderThan.
// Results are ordered by updated_at ASC (oldest first) and limited to maxResults.
func (s *Store) GetStalledJobs(ctx context.Context, olderThan time.Time, maxResults int) ([]domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, queryGetStalledJobs, olderThan, maxResults)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

// InsertOutreach inserts a new outreach record.
func (s *Store) InsertOutreach(ctx context.Context, rec domain.OutreachRecord) error {
	_, err := s.db.ExecContext(ctx, queryInsertOutreach,
		rec.ID,
		rec.JobID,
		rec.OrgID,
		rec.TechID,
		string(rec.Channel),
		rec.Score,
		nullTime(rec.SentAt),
		nullTime(rec.OpenedAt),
		nullTime(rec.RepliedAt),
		rec.Attempt,
		rec.Error,
		rec.CreatedAt,
	)
	return err
}

// FinalizeOutreach records the delivery result. A nil sentAt marks the
// outreach as not delivered.
func (s *Store) FinalizeOutreach(ctx context.Context, outreachID uuid.UUID, sentAt *time.Time, attempts int, errMsg string) error {
	_, err := s.db.ExecContext(ctx, queryFinalizeOutreach,
		nullTime(sentAt), attempts, errMsg, outreachID)
	return err
}

// ListOutreach returns outreach records for a job, newest first, paginated
// by limit and offset.
func (s *Store) ListOutreach(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]domain.OutreachRecord, error) {
	rows, err := s.db.QueryContext(ctx, queryListOutreach, jobID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.OutreachRecord
	for rows.Next() {
		var rec domain.OutreachRecord
		var channel string
		var sentAt, openedAt, repliedAt sql.NullTime

		err := rows.Scan(
			&rec.ID,
			&rec.JobID,
			&rec.OrgID,
			&rec.TechID,
			&channel,
			&rec.Score,
			&sentAt,
			&openedAt,
			&repliedAt,
			&rec.Attempt,
			&rec.Error,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		rec.Channel = domain.OutreachChannel(channel)
		rec.SentAt = timePtr(sentAt)
		rec.OpenedAt = timePtr(openedAt)
		rec.RepliedAt = timePtr(repliedAt)
		result = append(result, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// HasPriorReply reports whether the technician has ever replied to this
// organization's outreach.
func (s *Store) HasPriorReply(ctx context.Context, orgID, techID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, queryHasPriorReply, orgID, techID).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.Job, error) {
	var job domain.Job
	var trade, urgency, status string
	var scheduledStart sql.NullTime
	var budgetMin, budgetMax sql.NullInt64
	var assignedTech, policyID uuid.NullUUID

	err := row.Scan(
		&job.ID,
		&job.OrgID,
		&job.Title,
		&job.Description,
		&trade,
		&urgency,
		&job.AddressText,
		&job.Location.Lat,
		&job.Location.Lng,
		&job.Location.City,
		&job.Location.State,
		&scheduledStart,
		&budgetMin,
		&budgetMax,
		&job.PayRate,
		&job.ContactName,
		&job.ContactPhone,
		&job.ContactEmail,
		&status,
		&assignedTech,
		&policyID,
		&job.SLA.DispatchMin,
		&job.SLA.AssignMin,
		&job.SLA.ArrivalMin,
		&job.SLA.CompletionMin,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return domain.Job{}, err
	}

	job.Trade = domain.Trade(trade)
	job.Urgency = domain.Urgency(urgency)
	job.Status = domain.JobStatus(status)
	job.ScheduledStart = timePtr(scheduledStart)
	job.BudgetMinCents = int64Ptr(budgetMin)
	job.BudgetMaxCents = int64Ptr(budgetMax)
	job.AssignedTechID = uuidPtr(assignedTech)
	job.PolicyID = uuidPtr(policyID)
	return job, nil
}

func collectJobs(rows *sql.Rows) ([]domain.Job, error) {
	defer rows.Close()

	var result []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, job)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func uuidPtr(id uuid.NullUUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	v := id.UUID
	return &v
}

// Compile-time interface assertions
var (
	_ lifecycle.Store            = (*Store)(nil)
	_ dedup.Store                = (*Store)(nil)
	_ dispatch.Store             = (*Store)(nil)
	_ dispatch.PriorContactStore = (*Store)(nil)
	_ redispatch.Store           = (*Store)(nil)
	_ api.Store                  = (*Store)(nil)
)
