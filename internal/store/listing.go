package store

// SortKind selects the ordering strategy for a listing query.
type SortKind int

const (
	// SortNewest orders by creation time, newest first. The default.
	SortNewest SortKind = iota
	// SortPopular orders templates by submission count, highest first.
	SortPopular
	// SortField orders by a whitelisted column.
	SortField
)

type Sort struct {
	Kind       SortKind
	Field      string
	Descending bool
}

// ListOptions carries paging and ordering for listing queries. Limit and
// Offset are always set by the caller; zero values would return nothing.
type ListOptions struct {
	Sort   Sort
	Limit  int
	Offset int
}

// TemplateScope restricts a template listing to what the caller may see.
type TemplateScope int

const (
	// TemplateScopePublic is the anonymous view: public templates only.
	TemplateScopePublic TemplateScope = iota
	// TemplateScopeVisible adds the caller's own templates and those shared
	// with them through an access grant.
	TemplateScopeVisible
	// TemplateScopeOwned lists only the caller's templates.
	TemplateScopeOwned
	// TemplateScopeAll is the admin view, unscoped.
	TemplateScopeAll
)

type TemplateListOptions struct {
	ListOptions
	Scope  TemplateScope
	UserID string
}

// FormScope restricts a form listing.
type FormScope int

const (
	// FormScopeMine lists the caller's own submissions.
	FormScopeMine FormScope = iota
	// FormScopeTemplate lists all submissions against one template.
	FormScopeTemplate
	// FormScopeAll is the admin view, unscoped.
	FormScopeAll
)

type FormListOptions struct {
	ListOptions
	Scope      FormScope
	UserID     string
	TemplateID string
}

var templateSortColumns = map[string]string{
	"title":       "t.title",
	"createdAt":   "t.created_at",
	"updatedAt":   "t.updated_at",
	"public":      "t.public",
	"version":     "t.version",
	"authorEmail": "u.email",
}

var formSortColumns = map[string]string{
	"createdAt":   "f.created_at",
	"updatedAt":   "f.updated_at",
	"authorEmail": "u.email",
}

var userSortColumns = map[string]string{
	"email":     "email",
	"name":      "name",
	"role":      "role",
	"blocked":   "blocked",
	"createdAt": "created_at",
}

func direction(desc bool) string {
	if desc {
		return "DESC"
	}
	return "ASC"
}

// templateOrderBy resolves a sort against the template column whitelist.
// Only whitelisted columns ever reach ORDER BY; unknown fields fall back to
// newest-first rather than erroring.
func templateOrderBy(s Sort) string {
	switch s.Kind {
	case SortPopular:
		return "(SELECT COUNT(*) FROM forms f WHERE f.template_id = t.id) DESC, t.created_at DESC"
	case SortField:
		if col, ok := templateSortColumns[s.Field]; ok {
			return col + " " + direction(s.Descending) + ", t.id ASC"
		}
	}
	return "t.created_at DESC"
}

func formOrderBy(s Sort) string {
	if s.Kind == SortField {
		if col, ok := formSortColumns[s.Field]; ok {
			return col + " " + direction(s.Descending) + ", f.id ASC"
		}
	}
	return "f.created_at DESC"
}

func userOrderBy(s Sort) string {
	if s.Kind == SortField {
		if col, ok := userSortColumns[s.Field]; ok {
			return col + " " + direction(s.Descending) + ", id ASC"
		}
	}
	return "created_at DESC"
}
