package models

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin    UserRole = "ADMIN"
	RoleReviewer UserRole = "REVIEWER"
	RoleStaff    UserRole = "STAFF"
)

// CanReview reports whether the role may approve or reject submitted plans.
func (r UserRole) CanReview() bool {
	return r == RoleAdmin || r == RoleReviewer
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
