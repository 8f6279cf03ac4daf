package model

import "time"

// JobStatus is the lifecycle state of a scraping job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobStopped   JobStatus = "stopped"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether no further transition can happen without a resume.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobStopped || s == JobFailed
}

// JobMode selects the volume of a run. Test runs use the same code path with
// a truncated sub-scope and query list.
type JobMode string

const (
	ModeTest JobMode = "test"
	ModeFull JobMode = "full"
)

// ParseJobMode validates a mode string. An empty string means full.
func ParseJobMode(s string) (JobMode, bool) {
	switch JobMode(s) {
	case ModeTest:
		return ModeTest, true
	case ModeFull, "":
		return ModeFull, true
	}
	return "", false
}

// Job is one requested crawl of a scope against one source.
type Job struct {
	ID          string     `json:"id" db:"id"`
	Scope       Scope      `json:"scope" db:"-"`
	Source      SourceKind `json:"source" db:"source"`
	Mode        JobMode    `json:"mode" db:"mode"`
	Status      JobStatus  `json:"status" db:"status"`
	Error       string     `json:"error,omitempty" db:"error"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// SubScopeStatus is the state of one atomic unit of work within a job.
type SubScopeStatus string

const (
	SubScopePending SubScopeStatus = "pending"
	SubScopeRunning SubScopeStatus = "running"
	SubScopeDone    SubScopeStatus = "done"
	SubScopeErrored SubScopeStatus = "errored"
)

// Counts are the per-sub-scope pipeline counters.
type Counts struct {
	Fetched int `json:"items_fetched"`
	Added   int `json:"items_added"`
	Updated int `json:"items_updated"`
	Skipped int `json:"items_skipped"`
}

// Add accumulates o into c.
func (c *Counts) Add(o Counts) {
	c.Fetched += o.Fetched
	c.Added += o.Added
	c.Updated += o.Updated
	c.Skipped += o.Skipped
}

// SubScopeProgress is the durable progress row for one sub-scope of a job.
type SubScopeProgress struct {
	JobID     string         `json:"job_id"`
	Position  int            `json:"position"`
	ScopeCode string         `json:"scope_code"`
	Status    SubScopeStatus `json:"status"`
	Counts
	Error     string    `json:"error_message,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JobStatusReport is what status queries return.
type JobStatusReport struct {
	Job           *Job               `json:"job"`
	StopRequested bool               `json:"stop_requested"`
	SubScopes     []SubScopeProgress `json:"sub_scope_progress"`
	Totals        Counts             `json:"totals"`
	Done          int                `json:"done"`
	Pending       int                `json:"pending"`
	ErrorCount    int                `json:"error_count"`
}

// Summarize fills the aggregate fields from SubScopes.
func (r *JobStatusReport) Summarize() {
	r.Totals = Counts{}
	r.Done, r.Pending, r.ErrorCount = 0, 0, 0
	for _, p := range r.SubScopes {
		r.Totals.Add(p.Counts)
		switch p.Status {
		case SubScopeDone:
			r.Done++
		case SubScopeErrored:
			r.ErrorCount++
		case SubScopePending, SubScopeRunning:
			r.Pending++
		}
	}
}
