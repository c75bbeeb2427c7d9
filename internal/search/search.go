// Package search finds templates by full-text match over their own fields
// and their related questions, comments, topic, and tags. Meilisearch is
// used when configured and healthy; PostgreSQL FTS is the always-available
// fallback.
package search

// Scope is the visibility branch applied to a search. The three variants
// need different predicates, not just a flag: anonymous filters on the
// public flag alone, user scope adds ownership and grant subqueries, admin
// scope drops the filter entirely.
type Scope int

const (
	ScopeAnonymous Scope = iota
	ScopeUser
	ScopeAdmin
)

// Query describes a search request.
type Query struct {
	Text   string
	Scope  Scope
	UserID string // required for ScopeUser
	Limit  int
	Offset int
}

// Result is a single template hit.
type Result struct {
	TemplateID string `json:"templateId"`
	Title      string `json:"title"`
	Snippet    string `json:"snippet"`
	Public     bool   `json:"public"`
	OwnerID    string `json:"ownerId"`
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a scoped template search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// TemplateRecord is the denormalized document we index per template. Related
// text is flattened in so a tag or question match surfaces the template.
type TemplateRecord struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	QuestionText  string   `json:"questionText"`
	CommentText   string   `json:"commentText"`
	Topic         string   `json:"topic"`
	Tags          []string `json:"tags"`
	Public        bool     `json:"public"`
	AuthorID      string   `json:"authorId"`
	AccessUserIDs []string `json:"accessUserIds"`
	CreatedAt     int64    `json:"createdAt"`
}
