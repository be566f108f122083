package report

import "time"

// Status represents the lifecycle of a content report.
type Status string

const (
	StatusUnderReview Status = "under_review"
	StatusResolved    Status = "resolved"
)

// Report mirrors the content_reports table.
type Report struct {
	ID         string
	CompanyID  string
	ReporterID *string
	Reason     string
	Status     Status
	ResolvedBy *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ResolvedAt *time.Time
}
