package job

import (
	"time"

	"gigflow/money"
)

// Category classifies a job posting.
type Category string

const (
	CategoryDevelopment Category = "development"
	CategoryDesign      Category = "design"
	CategoryWriting     Category = "writing"
	CategoryMarketing   Category = "marketing"
	CategoryData        Category = "data"
	CategoryOther       Category = "other"
)

// ValidCategory reports whether c is a known category.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryDevelopment, CategoryDesign, CategoryWriting, CategoryMarketing, CategoryData, CategoryOther:
		return true
	default:
		return false
	}
}

// Job mirrors the jobs table. AcceptedProposalID is set if and only if the
// status is accepted, in_progress, or completed.
type Job struct {
	ID                 string
	ClientID           string
	Title              string
	Description        string
	Budget             money.Amount
	Deadline           time.Time
	Category           Category
	Remote             bool
	Status             Status
	AcceptedProposalID *string
	FreelancerID       *string
	Version            int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
	AcceptedAt         *time.Time
	CompletedAt        *time.Time
}

// Filters narrows job listings.
type Filters struct {
	ClientID string
	Status   Status
	Category Category
	Remote   *bool
	Page     int
	PageSize int
}
