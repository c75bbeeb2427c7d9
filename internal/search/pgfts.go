package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

const tsQuery = "websearch_to_tsquery('english', $1)"

// relatedMatch is true when the template itself or anything hanging off it
// matches the term: a tagged template surfaces on a tag-word search even if
// the word never appears in its own title or description.
const relatedMatch = `(
	t.search_vector @@ ` + tsQuery + `
	OR EXISTS (SELECT 1 FROM questions q WHERE q.template_id = t.id AND q.search_vector @@ ` + tsQuery + `)
	OR EXISTS (SELECT 1 FROM comments c WHERE c.template_id = t.id AND c.search_vector @@ ` + tsQuery + `)
	OR EXISTS (SELECT 1 FROM topics top WHERE top.id = t.topic_id AND top.search_vector @@ ` + tsQuery + `)
	OR EXISTS (SELECT 1 FROM template_tags tt JOIN tags tg ON tg.id = tt.tag_id
		WHERE tt.template_id = t.id AND tg.search_vector @@ ` + tsQuery + `)
)`

func scopePredicate(q Query, userArg string) string {
	switch q.Scope {
	case ScopeAnonymous:
		return " AND t.public = TRUE"
	case ScopeUser:
		return ` AND (t.public = TRUE OR t.user_id = ` + userArg + ` OR EXISTS (
			SELECT 1 FROM template_accesses a WHERE a.template_id = t.id AND a.user_id = ` + userArg + `))`
	default:
		return ""
	}
}

// Search runs the scoped match. Ordering is creation time descending, not
// relevance. The count uses the same match predicate as the data query, so
// total always agrees with the rows pagination walks.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	ctx := context.Background()

	countArgs := []any{q.Text}
	countUserArg := ""
	if q.Scope == ScopeUser {
		countUserArg = "$2"
		countArgs = append(countArgs, q.UserID)
	}
	countSQL := `SELECT COUNT(*) FROM templates t WHERE ` + relatedMatch + scopePredicate(q, countUserArg)
	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	args := []any{q.Text}
	argN := 2
	userArg := ""
	if q.Scope == ScopeUser {
		userArg = fmt.Sprintf("$%d", argN)
		args = append(args, q.UserID)
		argN++
	}
	dataSQL := fmt.Sprintf(`
		SELECT t.id, t.title, t.description, t.public, t.user_id
		FROM templates t
		WHERE %s%s
		ORDER BY t.created_at DESC
		LIMIT $%d OFFSET $%d`,
		relatedMatch, scopePredicate(q, userArg), argN, argN+1)
	args = append(args, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.TemplateID, &r.Title, &r.Snippet, &r.Public, &r.OwnerID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every template as an index record for reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]TemplateRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT t.id, t.title, t.description, t.public, t.user_id,
			EXTRACT(EPOCH FROM t.created_at)::bigint,
			COALESCE(top.name, ''),
			COALESCE((SELECT string_agg(q.title || ' ' || q.description, ' ')
				FROM questions q WHERE q.template_id = t.id), ''),
			COALESCE((SELECT string_agg(c.body, ' ')
				FROM comments c WHERE c.template_id = t.id), ''),
			COALESCE((SELECT json_agg(tg.name)
				FROM template_tags tt JOIN tags tg ON tg.id = tt.tag_id
				WHERE tt.template_id = t.id), '[]'::json)::text,
			COALESCE((SELECT json_agg(a.user_id)
				FROM template_accesses a WHERE a.template_id = t.id), '[]'::json)::text
		FROM templates t
		LEFT JOIN topics top ON top.id = t.topic_id
	`)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	defer rows.Close()

	records := make([]TemplateRecord, 0)
	for rows.Next() {
		var rec TemplateRecord
		var tagsJSON, accessJSON string
		if err := rows.Scan(
			&rec.ID, &rec.Title, &rec.Description, &rec.Public, &rec.AuthorID,
			&rec.CreatedAt, &rec.Topic, &rec.QuestionText, &rec.CommentText,
			&tagsJSON, &accessJSON,
		); err != nil {
			return nil, fmt.Errorf("scan template record: %w", err)
		}
		rec.Tags = decodeStringList(tagsJSON)
		rec.AccessUserIDs = decodeStringList(accessJSON)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate template records: %w", err)
	}
	return records, nil
}
