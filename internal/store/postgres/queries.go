package postgres

const jobColumns = `
    id, org_id, title, description, trade, urgency,
    address_text, lat, lng, city, state,
    scheduled_start, budget_min_cents, budget_max_cents, pay_rate,
    contact_name, contact_phone, contact_email,
    status, assigned_tech_id, policy_id,
    sla_dispatch_min, sla_assign_min, sla_arrival_min, sla_completion_min,
    created_at, updated_at`

const queryInsertJob = `
INSERT INTO jobs (
    id, org_id, title, description, trade, urgency,
    address_text, lat, lng, city, state,
    scheduled_start, budget_min_cents, budget_max_cents, pay_rate,
    contact_name, contact_phone, contact_email,
    status, assigned_tech_id, policy_id,
    sla_dispatch_min, sla_assign_min, sla_arrival_min, sla_completion_min,
    created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
        $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27)
`

const queryGetJobByID = `
SELECT` + jobColumns + `
FROM jobs
WHERE id = $1
`

const queryGetJobStatus = `
SELECT status FROM jobs WHERE id = $1
`

const queryUpdateJobState = `
UPDATE jobs
SET status = $1, assigned_tech_id = $2, updated_at = NOW()
WHERE id = $3
  AND status = $4
`

const queryDeleteJob = `
WITH deleted_outreach AS (
    DELETE FROM outreach WHERE job_id = $1
)
DELETE FROM jobs WHERE id = $1
RETURNING id`

const queryFindOpenJobs = `
SELECT` + jobColumns + `
FROM jobs
WHERE org_id = $1
  AND trade = $2
  AND created_at >= $3
  AND status NOT IN ('completed', 'archived')
ORDER BY created_at DESC
`

const queryListJobs = `
SELECT` + jobColumns + `
FROM jobs
WHERE org_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`

const queryListJobsByStatus = `
SELECT` + jobColumns + `
FROM jobs
WHERE org_id = $1
  AND status = $2
ORDER BY created_at DESC
LIMIT $3 OFFSET $4
`

const queryGetStalledJobs = `
SELECT` + jobColumns + `
FROM jobs j
WHERE j.status IN ('pending', 'matching')
  AND j.updated_at < $1
  AND NOT EXISTS (
      SELECT 1 FROM outreach o
      WHERE o.job_id = j.id AND o.sent_at IS NOT NULL
  )
ORDER BY j.updated_at ASC
LIMIT $2
`

const queryInsertOutreach = `
INSERT INTO outreach (id, job_id, org_id, tech_id, channel, score, sent_at, opened_at, replied_at, attempt, error, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`

const queryFinalizeOutreach = `
UPDATE outreach
SET sent_at = $1, attempt = $2, error = $3
WHERE id = $4
`

const queryListOutreach = `
SELECT id, job_id, org_id, tech_id, channel, score, sent_at, opened_at, replied_at, attempt, error, created_at
FROM outreach
WHERE job_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`

const queryHasPriorReply = `
SELECT EXISTS (
    SELECT 1 FROM outreach
    WHERE org_id = $1
      AND tech_id = $2
      AND replied_at IS NOT NULL
)
`
