package store

import (
	"context"
	"fmt"
)

const formColumns = `
	f.id, f.template_id, f.user_id, u.email, COALESCE(u.name, ''), f.version, f.created_at, f.updated_at`

func (s *PostgresStore) GetForm(ctx context.Context, formID string) (Form, error) {
	var item Form
	err := s.db.QueryRowContext(ctx, `
		SELECT `+formColumns+`
		FROM forms f
		JOIN users u ON u.id = f.user_id
		WHERE f.id = $1
	`, formID).Scan(
		&item.ID, &item.TemplateID, &item.UserID, &item.UserEmail, &item.UserName,
		&item.Version, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return Form{}, err
	}

	item.Answers, err = s.formAnswers(ctx, formID)
	if err != nil {
		return Form{}, err
	}
	return item, nil
}

func (s *PostgresStore) formAnswers(ctx context.Context, formID string) ([]Answer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.form_id, a.question_id, a.value
		FROM answers a
		JOIN questions q ON q.id = a.question_id
		WHERE a.form_id = $1
		ORDER BY q.display_order ASC
	`, formID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()

	items := make([]Answer, 0)
	for rows.Next() {
		var a Answer
		if err := rows.Scan(&a.ID, &a.FormID, &a.QuestionID, &a.Value); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answers: %w", err)
	}
	return items, nil
}

func formScopePredicate(scope FormScope) (string, string) {
	switch scope {
	case FormScopeMine:
		return "f.user_id = $3", "f.user_id = $1"
	case FormScopeTemplate:
		return "f.template_id = $3", "f.template_id = $1"
	default:
		return "TRUE", "TRUE"
	}
}

func (s *PostgresStore) ListForms(ctx context.Context, opts FormListOptions) ([]Form, int, error) {
	predicate, countPredicate := formScopePredicate(opts.Scope)

	scopeArg := func() any {
		if opts.Scope == FormScopeTemplate {
			return opts.TemplateID
		}
		return opts.UserID
	}

	countArgs := []any{}
	if opts.Scope != FormScopeAll {
		countArgs = append(countArgs, scopeArg())
	}
	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM forms f WHERE `+countPredicate, countArgs...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count forms: %w", err)
	}

	args := []any{opts.Limit, opts.Offset}
	if opts.Scope != FormScopeAll {
		args = append(args, scopeArg())
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+formColumns+`
		FROM forms f
		JOIN users u ON u.id = f.user_id
		WHERE `+predicate+`
		ORDER BY `+formOrderBy(opts.Sort)+`
		LIMIT $1 OFFSET $2
	`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list forms: %w", err)
	}
	defer rows.Close()

	items := make([]Form, 0)
	for rows.Next() {
		var item Form
		if err := rows.Scan(
			&item.ID, &item.TemplateID, &item.UserID, &item.UserEmail, &item.UserName,
			&item.Version, &item.CreatedAt, &item.UpdatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan form: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate forms: %w", err)
	}
	return items, total, nil
}

// CreateForm records a submission and its answers in one transaction.
// Answers map question IDs to values; a nil value records an explicit blank.
func (s *PostgresStore) CreateForm(ctx context.Context, templateID, userID string, answers map[string]*string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin create form: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var formID string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO forms (template_id, user_id)
		VALUES ($1, $2)
		RETURNING id
	`, templateID, userID).Scan(&formID)
	if err != nil {
		return "", fmt.Errorf("insert form: %w", err)
	}

	for questionID, value := range answers {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO answers (form_id, question_id, value)
			VALUES ($1, $2, $3)
		`, formID, questionID, value); err != nil {
			return "", fmt.Errorf("insert answer: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit create form: %w", err)
	}
	return formID, nil
}

// UpdateFormAnswers upserts the given answers and bumps the form version.
// The guarded bump is the last mutating statement; zero rows affected means
// the expected version is stale and the transaction rolls back with
// ErrVersionConflict.
func (s *PostgresStore) UpdateFormAnswers(ctx context.Context, formID string, expectedVersion int, answers map[string]*string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update form: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for questionID, value := range answers {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO answers (form_id, question_id, value)
			VALUES ($1, $2, $3)
			ON CONFLICT (form_id, question_id) DO UPDATE SET value = EXCLUDED.value
		`, formID, questionID, value); err != nil {
			return fmt.Errorf("upsert answer: %w", err)
		}
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE forms SET version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
	`, formID, expectedVersion)
	if err != nil {
		return fmt.Errorf("update form: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update form rows: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update form: %w", err)
	}
	return nil
}

// DeleteForms removes forms and their answers. When ownerID is non-empty only
// that user's submissions are touched.
func (s *PostgresStore) DeleteForms(ctx context.Context, ids []string, ownerID string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin delete forms: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	in := inPlaceholders(1, len(ids))
	args := idArgs(ids)
	ownerClause := ""
	if ownerID != "" {
		ownerClause = fmt.Sprintf(" AND forms.user_id = $%d", len(ids)+1)
		args = append(args, ownerID)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM answers USING forms
		WHERE answers.form_id = forms.id AND forms.id IN (%s)%s
	`, in, ownerClause), args...); err != nil {
		return 0, fmt.Errorf("delete answers: %w", err)
	}

	formOwnerClause := ""
	if ownerID != "" {
		formOwnerClause = fmt.Sprintf(" AND user_id = $%d", len(ids)+1)
	}
	result, err := tx.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM forms WHERE id IN (%s)%s
	`, in, formOwnerClause), args...)
	if err != nil {
		return 0, fmt.Errorf("delete forms: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete forms rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete forms: %w", err)
	}
	return deleted, nil
}

func (s *PostgresStore) CountTemplateForms(ctx context.Context, templateID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM forms WHERE template_id = $1`, templateID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count forms: %w", err)
	}
	return count, nil
}

// TemplateResultAnswers loads, per result-visible question, every submitted
// value for a template. Questions with no submissions are still present with
// an empty value list.
func (s *PostgresStore) TemplateResultAnswers(ctx context.Context, templateID string) ([]QuestionAnswers, error) {
	questions, err := s.GetTemplateQuestions(ctx, templateID)
	if err != nil {
		return nil, err
	}

	byQuestion := make(map[string]*QuestionAnswers, len(questions))
	items := make([]QuestionAnswers, 0, len(questions))
	for _, q := range questions {
		if !q.ShowInResults {
			continue
		}
		items = append(items, QuestionAnswers{Question: q, Values: []*string{}})
		byQuestion[q.ID] = &items[len(items)-1]
	}
	if len(items) == 0 {
		return items, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT a.question_id, a.value
		FROM answers a
		JOIN forms f ON f.id = a.form_id
		WHERE f.template_id = $1
	`, templateID)
	if err != nil {
		return nil, fmt.Errorf("list result answers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var questionID string
		var value *string
		if err := rows.Scan(&questionID, &value); err != nil {
			return nil, fmt.Errorf("scan result answer: %w", err)
		}
		if qa, ok := byQuestion[questionID]; ok {
			qa.Values = append(qa.Values, value)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate result answers: %w", err)
	}
	return items, nil
}
