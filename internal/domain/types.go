package domain

import "time"

// Source tags an issue with the Jira deployment it was fetched from.
type Source string

const (
	SourceInternal Source = "internal"
	SourceVendor   Source = "vendor"
)

// Role classifies a saved filter by what its result set represents.
type Role string

const (
	RoleDegrade  Role = "degrade"
	RoleResolved Role = "resolved"
)

// ErrorKind is the stable classification of a failed filter query.
type ErrorKind string

const (
	ErrAuthFailed       ErrorKind = "auth_failed"
	ErrPermissionDenied ErrorKind = "permission_denied"
	ErrFilterNotFound   ErrorKind = "filter_not_found"
	ErrHTTP             ErrorKind = "http_error"
	ErrTimeout          ErrorKind = "timeout"
	ErrConnection       ErrorKind = "connection_error"
	ErrUnknown          ErrorKind = "unknown_error"
)

type Issue struct {
	Key      string     `json:"key"`
	Self     string     `json:"self,omitempty"`
	Summary  string     `json:"summary,omitempty"`
	Status   string     `json:"status,omitempty"`
	Assignee string     `json:"assignee,omitempty"`
	Created  *time.Time `json:"created,omitempty"`
	Resolved *time.Time `json:"resolved,omitempty"`
	Due      *time.Time `json:"due,omitempty"`
	Source   Source     `json:"source,omitempty"`
	// Description is only populated when the Gerrit screen is enabled and
	// never leaves the process.
	Description string `json:"-"`
}

// QueryDescriptor names one saved filter on one deployment. Descriptors are
// built from config at startup and never mutated afterwards.
type QueryDescriptor struct {
	Source   Source
	Role     Role
	Site     string
	FilterID string
}

// QueryFailure is a per-query error carried as data: one failed filter query
// produces exactly one of these and zero issues.
type QueryFailure struct {
	Source      Source    `json:"source"`
	Role        Role      `json:"role"`
	Site        string    `json:"site"`
	FilterID    string    `json:"filter_id"`
	FilterOwner string    `json:"filter_owner,omitempty"`
	Kind        ErrorKind `json:"kind"`
	Message     string    `json:"message"`
}

// AggregateResult is one full load across every configured filter query.
// Each role slice is the concatenation of the successfully fetched per-query
// slices; failed queries contribute only a warning.
type AggregateResult struct {
	Degrade     []Issue
	Resolved    []Issue
	Sites       map[Source]string
	Warnings    []QueryFailure
	LoadSeconds float64
	FetchedAt   time.Time
}

type WeeklyStat struct {
	Week          string    `json:"week"`
	WeekStart     time.Time `json:"week_start"`
	WeekEnd       time.Time `json:"week_end"`
	DegradeCount  int       `json:"degrade_count"`
	ResolvedCount int       `json:"resolved_count"`
	Percentage    float64   `json:"percentage"`
}

type MTTRWeek struct {
	Week           string  `json:"week"`
	Count          int     `json:"count"`
	AvgDays        float64 `json:"avg_days"`
	OverdueCount   int     `json:"overdue_count"`
	AvgOverdueDays float64 `json:"avg_overdue_days"`
}

type CacheStatus struct {
	Valid      bool       `json:"valid"`
	Loading    bool       `json:"loading"`
	AgeSeconds float64    `json:"age_seconds"`
	TTLSeconds float64    `json:"ttl_seconds"`
	FetchedAt  *time.Time `json:"fetched_at,omitempty"`
}
