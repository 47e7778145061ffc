package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultTask ResultType = "task"
	ResultUser ResultType = "user"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type           ResultType `json:"type"`
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Snippet        string     `json:"snippet"`
	OrganizationID string     `json:"organizationId"`
	Status         string     `json:"status,omitempty"`
}

// Query describes a search request. OrganizationID is always set by the
// caller; results never cross organization boundaries.
type Query struct {
	Text           string
	FilterType     ResultType // empty = all types
	OrganizationID string
	Limit          int
	Offset         int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexTask(t TaskRecord) error
	IndexUser(u UserRecord) error
	DeleteUser(id string) error
}

// TaskRecord is the data we index for a task.
type TaskRecord struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	OrganizationID string `json:"organizationId"`
	Status         string `json:"status"`
}

// UserRecord is the data we index for a user.
type UserRecord struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	OrganizationID string `json:"organizationId"`
	Role           string `json:"role"`
}
