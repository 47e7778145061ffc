package store

import "time"

const (
	TaskPending   = "PENDING"
	TaskCompleted = "COMPLETED"

	// AssigneeAll is the sentinel assignee meaning every subordinate of
	// the assigner.
	AssigneeAll = "ALL"
)

type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Identity is the credential record owned by the identity provider
// boundary. It is stored apart from the user profile so a failed
// registration can remove it without touching profile tables.
type Identity struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

type User struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organizationId"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Role           string    `json:"role"`
	ManagerID      *string   `json:"managerId"`
	Points         int       `json:"points"`
	Avatar         string    `json:"avatar"`
	CreatedAt      time.Time `json:"createdAt"`
}

type Task struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organizationId"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	AssignedTo     string     `json:"assignedTo"`
	AssignedBy     string     `json:"assignedBy"`
	Points         int        `json:"points"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"createdAt"`
	CompletedAt    *time.Time `json:"completedAt"`
}

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type TimeLog struct {
	ID             string     `json:"id"`
	UserID         string     `json:"userId"`
	OrganizationID string     `json:"organizationId"`
	ClockIn        time.Time  `json:"clockIn"`
	ClockOut       *time.Time `json:"clockOut"`
	LocationIn     *LatLng    `json:"locationIn"`
	LocationOut    *LatLng    `json:"locationOut"`
	// Date is the log's day bucket (YYYY-MM-DD, local date at clock-in).
	Date string `json:"date"`
}
