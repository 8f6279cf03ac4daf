package store

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/repairer-sync/internal/model"
)

// scannable is satisfied by *sql.Row, *sql.Rows, pgx.Row and pgx.Rows.
type scannable interface {
	Scan(dest ...any) error
}

type rows interface {
	scannable
	Next() bool
	Err() error
}

// conn hides the driver API. Queries are written with ? placeholders and
// rebound by the Postgres adapter.
type conn interface {
	exec(ctx context.Context, query string, args ...any) (int64, error)
	queryRow(ctx context.Context, query string, args ...any) scannable
	query(ctx context.Context, query string, args ...any) (rows, func(), error)
	inTx(ctx context.Context, fn func(c conn) error) error
	isNoRows(err error) bool
	isUniqueViolation(err error) bool
}

// sqlStore implements Store over a conn. Dialect stores embed it.
type sqlStore struct {
	c conn
}

const recordColumns = `id, identity_key, source, external_source, external_id, name, raw_address, city, postal_code, ` +
	`phone, website, email, lat, lng, services, specialties, classification_confidence, is_valid, is_verified, ` +
	`created_at, updated_at`

const jobColumns = `id, scope_kind, scope_code, scope_parents, source, mode, status, error, created_at, started_at, completed_at`

const progressColumns = `job_id, position, scope_code, status, items_fetched, items_added, items_updated, items_skipped, error_message, updated_at`

// initBatch bounds the rows per multi-value insert.
const initBatch = 200

func now() time.Time { return time.Now().UTC() }

// --- Records ---

func (s *sqlStore) FindByExternalID(ctx context.Context, source model.SourceKind, externalID string) (*model.PersistedRecord, error) {
	row := s.c.queryRow(ctx,
		`SELECT `+recordColumns+` FROM repairers WHERE external_source = ? AND external_id = ?`,
		string(source), externalID,
	)
	rec, err := scanRecord(row)
	if err != nil {
		return nil, s.notFound(err, "store: find record by external id %s/%s", source, externalID)
	}
	return rec, nil
}

func (s *sqlStore) FindByIdentityKey(ctx context.Context, key string) (*model.PersistedRecord, error) {
	row := s.c.queryRow(ctx, `SELECT `+recordColumns+` FROM repairers WHERE identity_key = ?`, key)
	rec, err := scanRecord(row)
	if err != nil {
		return nil, s.notFound(err, "store: find record by identity key %q", key)
	}
	return rec, nil
}

func (s *sqlStore) GetRecord(ctx context.Context, id int64) (*model.PersistedRecord, error) {
	row := s.c.queryRow(ctx, `SELECT `+recordColumns+` FROM repairers WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err != nil {
		return nil, s.notFound(err, "store: get record %d", id)
	}
	return rec, nil
}

func (s *sqlStore) InsertRecord(ctx context.Context, rec *model.PersistedRecord) (int64, error) {
	services, specialties, err := encodeLists(rec)
	if err != nil {
		return 0, err
	}
	ts := now()
	var id int64
	err = s.c.queryRow(ctx,
		`INSERT INTO repairers (identity_key, source, external_source, external_id, name, raw_address, city, postal_code, `+
			`phone, website, email, lat, lng, services, specialties, classification_confidence, is_valid, is_verified, `+
			`created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		rec.IdentityKey, string(rec.Source), externalSource(rec), nullString(rec.ExternalID),
		rec.Name, rec.RawAddress, rec.City, rec.PostalCode, rec.Phone, rec.Website, rec.Email,
		nullFloat(rec.Lat), nullFloat(rec.Lng), services, specialties,
		nullFloat(rec.ClassificationConfidence), nullBool(rec.IsValid), rec.IsVerified,
		ts, ts,
	).Scan(&id)
	if err != nil {
		if s.c.isUniqueViolation(err) {
			return 0, eris.Wrapf(ErrConflict, "store: insert record %q", rec.IdentityKey)
		}
		return 0, eris.Wrapf(err, "store: insert record %q", rec.IdentityKey)
	}
	rec.ID = id
	rec.CreatedAt, rec.UpdatedAt = ts, ts
	return id, nil
}

func (s *sqlStore) UpdateRecord(ctx context.Context, rec *model.PersistedRecord) error {
	services, specialties, err := encodeLists(rec)
	if err != nil {
		return err
	}
	ts := now()
	n, err := s.c.exec(ctx,
		`UPDATE repairers SET identity_key = ?, source = ?, external_source = ?, external_id = ?, name = ?, raw_address = ?, city = ?, `+
			`postal_code = ?, phone = ?, website = ?, email = ?, lat = ?, lng = ?, services = ?, specialties = ?, `+
			`classification_confidence = ?, is_valid = ?, is_verified = ?, updated_at = ? WHERE id = ?`,
		rec.IdentityKey, string(rec.Source), externalSource(rec), nullString(rec.ExternalID),
		rec.Name, rec.RawAddress, rec.City, rec.PostalCode, rec.Phone, rec.Website, rec.Email,
		nullFloat(rec.Lat), nullFloat(rec.Lng), services, specialties,
		nullFloat(rec.ClassificationConfidence), nullBool(rec.IsValid), rec.IsVerified,
		ts, rec.ID,
	)
	if err != nil {
		if s.c.isUniqueViolation(err) {
			return eris.Wrapf(ErrConflict, "store: update record %d", rec.ID)
		}
		return eris.Wrapf(err, "store: update record %d", rec.ID)
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "store: update record %d", rec.ID)
	}
	rec.UpdatedAt = ts
	return nil
}

func (s *sqlStore) CountRecords(ctx context.Context) (int, error) {
	var n int
	if err := s.c.queryRow(ctx, `SELECT COUNT(*) FROM repairers`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "store: count records")
	}
	return n, nil
}

// --- Jobs ---

func (s *sqlStore) CreateJob(ctx context.Context, job *model.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now()
	}
	if job.Status == "" {
		job.Status = model.JobPending
	}
	_, err := s.c.exec(ctx,
		`INSERT INTO jobs (id, scope_kind, scope_code, scope_parents, source, mode, status, error, created_at) `+
			`VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Scope.Kind), job.Scope.Code, strings.Join(job.Scope.ParentCodes, ","),
		string(job.Source), string(job.Mode), string(job.Status), job.Error, job.CreatedAt,
	)
	return eris.Wrapf(err, "store: create job %s", job.ID)
}

func (s *sqlStore) ClaimJob(ctx context.Context, id string) error {
	n, err := s.c.exec(ctx,
		`UPDATE jobs SET status = 'running', error = '', started_at = COALESCE(started_at, ?), completed_at = NULL `+
			`WHERE id = ? AND status <> 'running'`,
		now(), id,
	)
	if err != nil {
		if s.c.isUniqueViolation(err) {
			return eris.Wrapf(ErrConflict, "store: claim job %s: another job is running", id)
		}
		return eris.Wrapf(err, "store: claim job %s", id)
	}
	if n == 0 {
		if _, err := s.GetJob(ctx, id); err != nil {
			return err
		}
		return eris.Wrapf(ErrConflict, "store: claim job %s: already running", id)
	}
	return nil
}

func (s *sqlStore) FinishJob(ctx context.Context, id string, status model.JobStatus, errMsg string) error {
	n, err := s.c.exec(ctx,
		`UPDATE jobs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(status), errMsg, now(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "store: finish job %s", id)
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "store: finish job %s", id)
	}
	return nil
}

func (s *sqlStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	job, err := scanJob(s.c.queryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err != nil {
		return nil, s.notFound(err, "store: get job %s", id)
	}
	return job, nil
}

func (s *sqlStore) LatestJob(ctx context.Context) (*model.Job, error) {
	job, err := scanJob(s.c.queryRow(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY seq DESC LIMIT 1`))
	if err != nil {
		return nil, s.notFound(err, "store: latest job")
	}
	return job, nil
}

func (s *sqlStore) LatestJobFor(ctx context.Context, scope model.Scope, source model.SourceKind, mode model.JobMode) (*model.Job, error) {
	job, err := scanJob(s.c.queryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE scope_kind = ? AND scope_code = ? AND source = ? AND mode = ? `+
			`ORDER BY seq DESC LIMIT 1`,
		string(scope.Kind), scope.Code, string(source), string(mode),
	))
	if err != nil {
		return nil, s.notFound(err, "store: latest job for %s/%s/%s", scope, source, mode)
	}
	return job, nil
}

func (s *sqlStore) RunningJob(ctx context.Context) (*model.Job, error) {
	job, err := scanJob(s.c.queryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = 'running'`))
	if err != nil {
		return nil, s.notFound(err, "store: running job")
	}
	return job, nil
}

func (s *sqlStore) ListJobs(ctx context.Context, limit int) ([]model.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	rs, closeFn, err := s.c.query(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "store: list jobs")
	}
	defer closeFn()

	var jobs []model.Job
	for rs.Next() {
		job, err := scanJob(rs)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan job")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rs.Err(), "store: iterate jobs")
}

func (s *sqlStore) RecoverInterrupted(ctx context.Context) (int, error) {
	var stopped int64
	err := s.c.inTx(ctx, func(c conn) error {
		ts := now()
		if _, err := c.exec(ctx,
			`UPDATE sub_scope_progress SET status = 'pending', updated_at = ? WHERE status = 'running'`, ts,
		); err != nil {
			return eris.Wrap(err, "store: reset running sub-scopes")
		}
		n, err := c.exec(ctx,
			`UPDATE jobs SET status = 'stopped', error = ?, completed_at = ? WHERE status = 'running'`,
			"interrupted", ts,
		)
		if err != nil {
			return eris.Wrap(err, "store: stop running jobs")
		}
		stopped = n
		return nil
	})
	return int(stopped), err
}

// --- Progress ---

func (s *sqlStore) InitSubScopes(ctx context.Context, jobID string, codes []string) error {
	return s.c.inTx(ctx, func(c conn) error {
		ts := now()
		for start := 0; start < len(codes); start += initBatch {
			end := min(start+initBatch, len(codes))
			var b strings.Builder
			b.WriteString(`INSERT INTO sub_scope_progress (job_id, position, scope_code, status, updated_at) VALUES `)
			args := make([]any, 0, (end-start)*4)
			for i := start; i < end; i++ {
				if i > start {
					b.WriteString(", ")
				}
				b.WriteString(`(?, ?, ?, 'pending', ?)`)
				args = append(args, jobID, i, codes[i], ts)
			}
			b.WriteString(` ON CONFLICT (job_id, scope_code) DO NOTHING`)
			if _, err := c.exec(ctx, b.String(), args...); err != nil {
				return eris.Wrapf(err, "store: init sub-scopes for job %s", jobID)
			}
		}
		return nil
	})
}

func (s *sqlStore) ListSubScopes(ctx context.Context, jobID string) ([]model.SubScopeProgress, error) {
	rs, closeFn, err := s.c.query(ctx,
		`SELECT `+progressColumns+` FROM sub_scope_progress WHERE job_id = ? ORDER BY position`, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "store: list sub-scopes for job %s", jobID)
	}
	defer closeFn()

	var out []model.SubScopeProgress
	for rs.Next() {
		var (
			p      model.SubScopeProgress
			status string
		)
		if err := rs.Scan(&p.JobID, &p.Position, &p.ScopeCode, &status,
			&p.Fetched, &p.Added, &p.Updated, &p.Skipped, &p.Error, &p.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "store: scan sub-scope")
		}
		p.Status = model.SubScopeStatus(status)
		out = append(out, p)
	}
	return out, eris.Wrap(rs.Err(), "store: iterate sub-scopes")
}

func (s *sqlStore) MarkSubScopeRunning(ctx context.Context, jobID, code string) error {
	n, err := s.c.exec(ctx,
		`UPDATE sub_scope_progress SET status = 'running', updated_at = ? `+
			`WHERE job_id = ? AND scope_code = ? AND status = 'pending'`,
		now(), jobID, code,
	)
	return s.transition(ctx, n, err, jobID, code, "mark running")
}

func (s *sqlStore) CompleteSubScope(ctx context.Context, jobID, code string, counts model.Counts) error {
	n, err := s.c.exec(ctx,
		`UPDATE sub_scope_progress SET status = 'done', items_fetched = ?, items_added = ?, items_updated = ?, `+
			`items_skipped = ?, error_message = '', updated_at = ? `+
			`WHERE job_id = ? AND scope_code = ? AND status IN ('pending', 'running')`,
		counts.Fetched, counts.Added, counts.Updated, counts.Skipped, now(), jobID, code,
	)
	return s.transition(ctx, n, err, jobID, code, "complete")
}

func (s *sqlStore) FailSubScope(ctx context.Context, jobID, code string, counts model.Counts, errMsg string) error {
	n, err := s.c.exec(ctx,
		`UPDATE sub_scope_progress SET status = 'errored', items_fetched = ?, items_added = ?, items_updated = ?, `+
			`items_skipped = ?, error_message = ?, updated_at = ? `+
			`WHERE job_id = ? AND scope_code = ? AND status IN ('pending', 'running')`,
		counts.Fetched, counts.Added, counts.Updated, counts.Skipped, errMsg, now(), jobID, code,
	)
	return s.transition(ctx, n, err, jobID, code, "fail")
}

func (s *sqlStore) ResetSubScope(ctx context.Context, jobID, code string) error {
	n, err := s.c.exec(ctx,
		`UPDATE sub_scope_progress SET status = 'pending', items_fetched = 0, items_added = 0, items_updated = 0, `+
			`items_skipped = 0, error_message = '', updated_at = ? `+
			`WHERE job_id = ? AND scope_code = ? AND status = 'errored'`,
		now(), jobID, code,
	)
	return s.transition(ctx, n, err, jobID, code, "reset")
}

func (s *sqlStore) ResetInterrupted(ctx context.Context, jobID string) error {
	_, err := s.c.exec(ctx,
		`UPDATE sub_scope_progress SET status = 'pending', updated_at = ? WHERE job_id = ? AND status = 'running'`,
		now(), jobID,
	)
	return eris.Wrapf(err, "store: reset interrupted sub-scopes of job %s", jobID)
}

// transition maps a guarded progress update to ErrNotFound when the row is
// missing and ErrConflict when it exists in another state.
func (s *sqlStore) transition(ctx context.Context, n int64, err error, jobID, code, verb string) error {
	if err != nil {
		return eris.Wrapf(err, "store: %s sub-scope %s/%s", verb, jobID, code)
	}
	if n > 0 {
		return nil
	}
	var status string
	err = s.c.queryRow(ctx,
		`SELECT status FROM sub_scope_progress WHERE job_id = ? AND scope_code = ?`, jobID, code,
	).Scan(&status)
	if err != nil {
		return s.notFound(err, "store: %s sub-scope %s/%s", verb, jobID, code)
	}
	return eris.Wrapf(ErrConflict, "store: %s sub-scope %s/%s in state %s", verb, jobID, code, status)
}

func (s *sqlStore) notFound(err error, format string, args ...any) error {
	if s.c.isNoRows(err) {
		return eris.Wrapf(ErrNotFound, format, args...)
	}
	return eris.Wrapf(err, format, args...)
}

// --- Scanning ---

func scanRecord(row scannable) (*model.PersistedRecord, error) {
	var (
		r                     model.PersistedRecord
		source, extSource     string
		extID                 *string
		services, specialties string
	)
	err := row.Scan(&r.ID, &r.IdentityKey, &source, &extSource, &extID,
		&r.Name, &r.RawAddress, &r.City, &r.PostalCode, &r.Phone, &r.Website, &r.Email,
		&r.Lat, &r.Lng, &services, &specialties, &r.ClassificationConfidence, &r.IsValid, &r.IsVerified,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Source = model.SourceKind(source)
	r.ExternalSource = model.SourceKind(extSource)
	if extID != nil {
		r.ExternalID = *extID
	}
	if r.Services, err = decodeList(services); err != nil {
		return nil, eris.Wrapf(err, "store: decode services of record %d", r.ID)
	}
	if r.Specialties, err = decodeList(specialties); err != nil {
		return nil, eris.Wrapf(err, "store: decode specialties of record %d", r.ID)
	}
	return &r, nil
}

func scanJob(row scannable) (*model.Job, error) {
	var (
		j                                  model.Job
		kind, parents, source, mode, state string
	)
	err := row.Scan(&j.ID, &kind, &j.Scope.Code, &parents, &source, &mode, &state, &j.Error,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt)
	if err != nil {
		return nil, err
	}
	j.Scope.Kind = model.ScopeKind(kind)
	if parents != "" {
		j.Scope.ParentCodes = strings.Split(parents, ",")
	}
	j.Source = model.SourceKind(source)
	j.Mode = model.JobMode(mode)
	j.Status = model.JobStatus(state)
	return &j, nil
}

func encodeLists(rec *model.PersistedRecord) (string, string, error) {
	services, err := encodeList(rec.Services)
	if err != nil {
		return "", "", eris.Wrap(err, "store: encode services")
	}
	specialties, err := encodeList(rec.Specialties)
	if err != nil {
		return "", "", eris.Wrap(err, "store: encode specialties")
	}
	return services, specialties, nil
}

func encodeList(v []string) (string, error) {
	if len(v) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(v)
	return string(b), err
}

func decodeList(s string) ([]string, error) {
	if s == "" || s == "[]" || s == "null" {
		return nil, nil
	}
	var out []string
	err := json.Unmarshal([]byte(s), &out)
	return out, err
}

func externalSource(rec *model.PersistedRecord) string {
	if rec.ExternalID == "" {
		return ""
	}
	if rec.ExternalSource != "" {
		return string(rec.ExternalSource)
	}
	return string(rec.Source)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullBool(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}

// rebind rewrites ? placeholders to $1..$n.
func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
