package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

const templateColumns = `
	t.id, t.title, t.description, COALESCE(t.image_url, ''), t.public, t.version,
	t.user_id, u.email, COALESCE(u.name, ''), t.created_at, t.updated_at,
	top.id, top.name,
	(SELECT COALESCE(json_agg(json_build_object('id', tg.id, 'name', tg.name) ORDER BY tg.name), '[]'::json)
	 FROM template_tags tt JOIN tags tg ON tg.id = tt.tag_id
	 WHERE tt.template_id = t.id)`

func scanTemplate(row interface{ Scan(...any) error }) (Template, error) {
	var (
		item      Template
		topicID   sql.NullString
		topicName sql.NullString
		tagsRaw   []byte
	)
	err := row.Scan(
		&item.ID, &item.Title, &item.Description, &item.ImageURL, &item.Public, &item.Version,
		&item.OwnerID, &item.OwnerEmail, &item.OwnerName, &item.CreatedAt, &item.UpdatedAt,
		&topicID, &topicName, &tagsRaw,
	)
	if err != nil {
		return Template{}, err
	}
	if topicID.Valid {
		item.Topic = &Topic{ID: topicID.String, Name: topicName.String}
	}
	item.Tags = []Tag{}
	_ = json.Unmarshal(tagsRaw, &item.Tags)
	return item, nil
}

func (s *PostgresStore) GetTemplate(ctx context.Context, templateID string) (Template, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+templateColumns+`
		FROM templates t
		JOIN users u ON u.id = t.user_id
		LEFT JOIN topics top ON top.id = t.topic_id
		WHERE t.id = $1
	`, templateID)
	return scanTemplate(row)
}

func (s *PostgresStore) GetTemplateQuestions(ctx context.Context, templateID string) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, template_id, type, title, description, display_order, required, show_in_results
		FROM questions
		WHERE template_id = $1
		ORDER BY display_order ASC
	`, templateID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	items := make([]Question, 0)
	for rows.Next() {
		var q Question
		if err := rows.Scan(&q.ID, &q.TemplateID, &q.Type, &q.Title, &q.Description, &q.Order, &q.Required, &q.ShowInResults); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		items = append(items, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetTemplateAccesses(ctx context.Context, templateID string) ([]AccessGrant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.template_id, a.user_id, u.email, COALESCE(u.name, '')
		FROM template_accesses a
		JOIN users u ON u.id = a.user_id
		WHERE a.template_id = $1
		ORDER BY u.email ASC
	`, templateID)
	if err != nil {
		return nil, fmt.Errorf("list accesses: %w", err)
	}
	defer rows.Close()

	items := make([]AccessGrant, 0)
	for rows.Next() {
		var grant AccessGrant
		if err := rows.Scan(&grant.ID, &grant.TemplateID, &grant.UserID, &grant.UserEmail, &grant.UserName); err != nil {
			return nil, fmt.Errorf("scan access: %w", err)
		}
		items = append(items, grant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accesses: %w", err)
	}
	return items, nil
}

// HasTemplateAccess reports whether an access grant exists for the user.
func (s *PostgresStore) HasTemplateAccess(ctx context.Context, templateID, userID string) (bool, error) {
	var granted bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM template_accesses WHERE template_id = $1 AND user_id = $2)
	`, templateID, userID).Scan(&granted)
	if err != nil {
		return false, fmt.Errorf("check access: %w", err)
	}
	return granted, nil
}

func templateScopePredicate(scope TemplateScope) (string, bool) {
	switch scope {
	case TemplateScopePublic:
		return "t.public = TRUE", false
	case TemplateScopeVisible:
		return `(t.public = TRUE OR t.user_id = $3 OR EXISTS(
			SELECT 1 FROM template_accesses a WHERE a.template_id = t.id AND a.user_id = $3))`, true
	case TemplateScopeOwned:
		return "t.user_id = $3", true
	default:
		return "TRUE", false
	}
}

func (s *PostgresStore) ListTemplates(ctx context.Context, opts TemplateListOptions) ([]Template, int, error) {
	predicate, needsUser := templateScopePredicate(opts.Scope)

	countArgs := []any{}
	if needsUser {
		countArgs = append(countArgs, opts.UserID)
	}
	countPredicate := predicate
	if needsUser {
		// Count query binds the user as $1 since limit/offset are absent.
		countPredicate = replacePlaceholder(predicate, "$3", "$1")
	}
	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM templates t WHERE `+countPredicate, countArgs...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count templates: %w", err)
	}

	args := []any{opts.Limit, opts.Offset}
	if needsUser {
		args = append(args, opts.UserID)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+templateColumns+`
		FROM templates t
		JOIN users u ON u.id = t.user_id
		LEFT JOIN topics top ON top.id = t.topic_id
		WHERE `+predicate+`
		ORDER BY `+templateOrderBy(opts.Sort)+`
		LIMIT $1 OFFSET $2
	`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	items := make([]Template, 0)
	for rows.Next() {
		item, err := scanTemplate(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan template: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate templates: %w", err)
	}
	return items, total, nil
}

func replacePlaceholder(query, from, to string) string {
	out := make([]byte, 0, len(query))
	for i := 0; i < len(query); i++ {
		if i+len(from) <= len(query) && query[i:i+len(from)] == from {
			out = append(out, to...)
			i += len(from) - 1
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}

// TemplateWrite is the full replacement payload for a template create or
// update. Questions are stored in slice order; Tags are names, created on
// first use; AccessUserIDs replace the grant set wholesale.
type TemplateWrite struct {
	Title         string
	Description   string
	ImageURL      string
	Public        bool
	TopicID       string
	Tags          []string
	Questions     []Question
	AccessUserIDs []string
}

func (s *PostgresStore) CreateTemplate(ctx context.Context, ownerID string, w TemplateWrite) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin create template: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var templateID string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO templates (title, description, image_url, public, user_id, topic_id)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, NULLIF($6, ''))
		RETURNING id
	`, w.Title, w.Description, w.ImageURL, w.Public, ownerID, w.TopicID).Scan(&templateID)
	if err != nil {
		return "", fmt.Errorf("insert template: %w", err)
	}

	if err := insertQuestions(ctx, tx, templateID, w.Questions); err != nil {
		return "", err
	}
	if err := replaceTags(ctx, tx, templateID, w.Tags); err != nil {
		return "", err
	}
	if err := replaceAccesses(ctx, tx, templateID, w.AccessUserIDs); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit create template: %w", err)
	}
	return templateID, nil
}

// UpdateTemplate applies a full replacement edit in one transaction. When
// purgeForms is set (the question set materially changed) all submissions
// and their answers are removed first and the question rows are rebuilt;
// otherwise existing questions are updated in place. The guarded version
// bump runs as the last mutating statement: zero rows affected means a
// concurrent writer got there first and the whole transaction rolls back
// with ErrVersionConflict.
func (s *PostgresStore) UpdateTemplate(ctx context.Context, templateID string, expectedVersion int, w TemplateWrite, purgeForms bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update template: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if purgeForms {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM answers USING forms
			WHERE answers.form_id = forms.id AND forms.template_id = $1
		`, templateID); err != nil {
			return fmt.Errorf("purge answers: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM forms WHERE template_id = $1`, templateID); err != nil {
			return fmt.Errorf("purge forms: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE template_id = $1`, templateID); err != nil {
			return fmt.Errorf("delete questions: %w", err)
		}
		if err := insertQuestions(ctx, tx, templateID, w.Questions); err != nil {
			return err
		}
	} else {
		if err := renumberQuestions(ctx, tx, templateID, w.Questions); err != nil {
			return err
		}
	}

	if err := replaceTags(ctx, tx, templateID, w.Tags); err != nil {
		return err
	}
	if err := replaceAccesses(ctx, tx, templateID, w.AccessUserIDs); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE templates
		SET title = $3, description = $4, image_url = NULLIF($5, ''), public = $6,
			topic_id = NULLIF($7, ''), version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
	`, templateID, expectedVersion, w.Title, w.Description, w.ImageURL, w.Public, w.TopicID)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update template rows: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update template: %w", err)
	}
	return nil
}

func insertQuestions(ctx context.Context, tx *sql.Tx, templateID string, questions []Question) error {
	for i, q := range questions {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO questions (template_id, type, title, description, display_order, required, show_in_results)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, templateID, q.Type, q.Title, q.Description, i+1, q.Required, q.ShowInResults)
		if err != nil {
			return fmt.Errorf("insert question: %w", err)
		}
	}
	return nil
}

// renumberQuestions rewrites display_order for an unchanged question set.
// Questions carry their existing IDs here; positions follow slice order.
func renumberQuestions(ctx context.Context, tx *sql.Tx, templateID string, questions []Question) error {
	for i, q := range questions {
		_, err := tx.ExecContext(ctx, `
			UPDATE questions SET display_order = $3
			WHERE id = $1 AND template_id = $2
		`, q.ID, templateID, i+1)
		if err != nil {
			return fmt.Errorf("renumber question: %w", err)
		}
	}
	return nil
}

func replaceTags(ctx context.Context, tx *sql.Tx, templateID string, names []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM template_tags WHERE template_id = $1`, templateID); err != nil {
		return fmt.Errorf("clear tags: %w", err)
	}
	for _, name := range names {
		var tagID string
		err := tx.QueryRowContext(ctx, `
			INSERT INTO tags (name) VALUES ($1)
			ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			RETURNING id
		`, name).Scan(&tagID)
		if err != nil {
			return fmt.Errorf("upsert tag: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO template_tags (template_id, tag_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, templateID, tagID); err != nil {
			return fmt.Errorf("link tag: %w", err)
		}
	}
	return nil
}

func replaceAccesses(ctx context.Context, tx *sql.Tx, templateID string, userIDs []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM template_accesses WHERE template_id = $1`, templateID); err != nil {
		return fmt.Errorf("clear accesses: %w", err)
	}
	for _, userID := range userIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO template_accesses (template_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT (template_id, user_id) DO NOTHING
		`, templateID, userID); err != nil {
			return fmt.Errorf("insert access: %w", err)
		}
	}
	return nil
}

// DeleteTemplates removes templates and everything hanging off them. When
// ownerID is non-empty only that owner's templates are touched; admins pass
// the empty string. Returns the number of templates deleted and the image
// URLs they referenced so the caller can clean up object storage.
func (s *PostgresStore) DeleteTemplates(ctx context.Context, ids []string, ownerID string) (int64, []string, error) {
	if len(ids) == 0 {
		return 0, nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("begin delete templates: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	args := idArgs(ids)
	ownerClause := ""
	if ownerID != "" {
		ownerClause = fmt.Sprintf(" AND user_id = $%d", len(ids)+1)
		args = append(args, ownerID)
	}

	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, COALESCE(image_url, '') FROM templates
		WHERE id IN (%s)%s
	`, inPlaceholders(1, len(ids)), ownerClause), args...)
	if err != nil {
		return 0, nil, fmt.Errorf("select deletable templates: %w", err)
	}
	var deletable []string
	var imageURLs []string
	for rows.Next() {
		var id, imageURL string
		if err := rows.Scan(&id, &imageURL); err != nil {
			rows.Close()
			return 0, nil, fmt.Errorf("scan deletable template: %w", err)
		}
		deletable = append(deletable, id)
		if imageURL != "" {
			imageURLs = append(imageURLs, imageURL)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("iterate deletable templates: %w", err)
	}
	if len(deletable) == 0 {
		return 0, nil, nil
	}

	in := inPlaceholders(1, len(deletable))
	delArgs := idArgs(deletable)
	cascade := []string{
		`DELETE FROM answers USING forms WHERE answers.form_id = forms.id AND forms.template_id IN (` + in + `)`,
		`DELETE FROM forms WHERE template_id IN (` + in + `)`,
		`DELETE FROM comments WHERE template_id IN (` + in + `)`,
		`DELETE FROM likes WHERE template_id IN (` + in + `)`,
		`DELETE FROM template_accesses WHERE template_id IN (` + in + `)`,
		`DELETE FROM template_tags WHERE template_id IN (` + in + `)`,
		`DELETE FROM questions WHERE template_id IN (` + in + `)`,
	}
	for _, stmt := range cascade {
		if _, err := tx.ExecContext(ctx, stmt, delArgs...); err != nil {
			return 0, nil, fmt.Errorf("cascade delete: %w", err)
		}
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM templates WHERE id IN (`+in+`)`, delArgs...)
	if err != nil {
		return 0, nil, fmt.Errorf("delete templates: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, nil, fmt.Errorf("delete templates rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("commit delete templates: %w", err)
	}
	return deleted, imageURLs, nil
}
