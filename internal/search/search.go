package search

// Result is a single code session hit returned to the caller.
type Result struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	Name      string `json:"name"`
	Language  string `json:"language"`
	Snippet   string `json:"snippet"`
	IsActive  bool   `json:"isActive"`
}

// Query describes a search request. ProjectID is required.
type Query struct {
	Text       string
	ProjectID  string
	Language   string
	ActiveOnly bool
	Limit      int
	Offset     int
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

// Indexer can push code sessions into a search index.
type Indexer interface {
	IndexSession(r SessionRecord) error
	IndexSessions(records []SessionRecord) error
	DeleteSession(id string) error
}

// Engine is a search backend that also maintains its own index.
type Engine interface {
	Searcher
	Indexer
}

// SessionRecord is the data we index for a code session.
type SessionRecord struct {
	ID          string `json:"id"`
	ProjectID   string `json:"projectId"`
	CreatorID   string `json:"creatorId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Language    string `json:"language"`
	Content     string `json:"content"`
	IsActive    bool   `json:"isActive"`
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
