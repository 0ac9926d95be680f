package models

import "time"

// JobStatus enumerates the lifecycle states of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusScheduled JobStatus = "scheduled"
	JobStatusCompleted JobStatus = "completed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Recurrence identifies a repeating cadence. A job without a recurrence
// is a one-time booking.
type Recurrence string

const (
	RecurrenceWeekly   Recurrence = "weekly"
	RecurrenceBiweekly Recurrence = "biweekly"
	RecurrenceMonthly  Recurrence = "monthly"
)

// ValidRecurrence reports whether s names a supported cadence.
func ValidRecurrence(s string) bool {
	switch Recurrence(s) {
	case RecurrenceWeekly, RecurrenceBiweekly, RecurrenceMonthly:
		return true
	}
	return false
}

// Job represents a booked (or open) cleaning appointment. WorkerID is
// nil for open jobs awaiting manual dispatch or a worker claim.
type Job struct {
	ID          string      `db:"id" json:"id"`
	ClientID    string      `db:"client_id" json:"client_id"`
	WorkerID    *string     `db:"worker_id" json:"worker_id,omitempty"`
	ServiceType string      `db:"service_type" json:"service_type"`
	StartTime   time.Time   `db:"start_time" json:"start_time"`
	EndTime     time.Time   `db:"end_time" json:"end_time"`
	Status      JobStatus   `db:"status" json:"status"`
	Recurrence  *Recurrence `db:"recurrence" json:"recurrence,omitempty"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
}

// Span returns the job's time span.
func (j *Job) Span() Span {
	return Span{Start: j.StartTime, End: j.EndTime}
}

// IsRecurring reports whether the job repeats on a cadence.
func (j *Job) IsRecurring() bool {
	return j.Recurrence != nil
}

// Blocks reports whether the job occupies its worker's time for
// conflict purposes. Pending jobs may never be confirmed and do not
// block; cancelled jobs never block.
func (j *Job) Blocks() bool {
	return j.Status == JobStatusScheduled || j.Status == JobStatusCompleted
}

// JobFilter captures query options for listing jobs.
type JobFilter struct {
	ClientID string
	WorkerID string
	Status   string
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}
