package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrVersionConflict is returned when a guarded version bump matches zero rows,
// meaning another writer advanced the version first.
var ErrVersionConflict = errors.New("version conflict")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// inPlaceholders renders "$start,$start+1,..." for n values, for IN clauses.
func inPlaceholders(start, n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ",")
}

func idArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// EnsureUser mirrors the identity provider's user into the users table on
// first sight. Existing rows win; the provider payload never overwrites them.
func (s *PostgresStore) EnsureUser(ctx context.Context, id, email, name string) (User, error) {
	user, err := s.GetUser(ctx, id)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, email, name, role)
		VALUES ($1, $2, NULLIF($3, ''), 'USER')
		ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
		RETURNING id, email, COALESCE(name, ''), role, blocked,
			COALESCE(salesforce_account_id, ''), COALESCE(salesforce_contact_id, ''), created_at
	`, id, email, name).Scan(
		&user.ID, &user.Email, &user.Name, &user.Role, &user.Blocked,
		&user.SalesforceAccountID, &user.SalesforceContactID, &user.CreatedAt,
	)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, COALESCE(name, ''), role, blocked,
			COALESCE(salesforce_account_id, ''), COALESCE(salesforce_contact_id, ''), created_at
		FROM users
		WHERE id = $1
	`, userID).Scan(
		&user.ID, &user.Email, &user.Name, &user.Role, &user.Blocked,
		&user.SalesforceAccountID, &user.SalesforceContactID, &user.CreatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context, opts ListOptions) ([]User, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	orderBy := userOrderBy(opts.Sort)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, email, COALESCE(name, ''), role, blocked,
			COALESCE(salesforce_account_id, ''), COALESCE(salesforce_contact_id, ''), created_at
		FROM users
		ORDER BY %s
		LIMIT $1 OFFSET $2
	`, orderBy), opts.Limit, opts.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var user User
		if err := rows.Scan(
			&user.ID, &user.Email, &user.Name, &user.Role, &user.Blocked,
			&user.SalesforceAccountID, &user.SalesforceContactID, &user.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate users: %w", err)
	}
	return items, total, nil
}

func (s *PostgresStore) AutocompleteUsers(ctx context.Context, prefix string, limit int) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, COALESCE(name, '')
		FROM users
		WHERE email ILIKE $1 || '%' OR name ILIKE $1 || '%'
		ORDER BY email ASC
		LIMIT $2
	`, prefix, limit)
	if err != nil {
		return nil, fmt.Errorf("autocomplete users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Email, &user.Name); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateUserRoles(ctx context.Context, ids []string, role string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := append([]any{role}, idArgs(ids)...)
	result, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE users SET role = $1, updated_at = NOW()
		WHERE id IN (%s)
	`, inPlaceholders(2, len(ids))), args...)
	if err != nil {
		return 0, fmt.Errorf("update user roles: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update user roles rows: %w", err)
	}
	return affected, nil
}

func (s *PostgresStore) SetUsersBlocked(ctx context.Context, ids []string, blocked bool) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := append([]any{blocked}, idArgs(ids)...)
	result, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE users SET blocked = $1, updated_at = NOW()
		WHERE id IN (%s) AND blocked <> $1
	`, inPlaceholders(2, len(ids))), args...)
	if err != nil {
		return 0, fmt.Errorf("set users blocked: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("set users blocked rows: %w", err)
	}
	return affected, nil
}

func (s *PostgresStore) DeleteUsers(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM users WHERE id IN (%s)
	`, inPlaceholders(1, len(ids))), idArgs(ids)...)
	if err != nil {
		return 0, fmt.Errorf("delete users: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete users rows: %w", err)
	}
	return affected, nil
}

func (s *PostgresStore) SetUserSalesforceRefs(ctx context.Context, userID, accountID, contactID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET salesforce_account_id = NULLIF($2, ''), salesforce_contact_id = NULLIF($3, ''), updated_at = NOW()
		WHERE id = $1
	`, userID, accountID, contactID)
	if err != nil {
		return fmt.Errorf("set salesforce refs: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTopics(ctx context.Context, search string) ([]Topic, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name FROM topics
		WHERE $1 = '' OR name ILIKE '%' || $1 || '%'
		ORDER BY name ASC
	`, search)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	items := make([]Topic, 0)
	for rows.Next() {
		var topic Topic
		if err := rows.Scan(&topic.ID, &topic.Name); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		items = append(items, topic)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topics: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListTags(ctx context.Context, search string) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name FROM tags
		WHERE $1 = '' OR name ILIKE '%' || $1 || '%'
		ORDER BY name ASC
	`, search)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	items := make([]Tag, 0)
	for rows.Next() {
		var tag Tag
		if err := rows.Scan(&tag.ID, &tag.Name); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		items = append(items, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListComments(ctx context.Context, templateID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.template_id, c.user_id, u.email, COALESCE(u.name, ''), c.body, c.created_at
		FROM comments c
		JOIN users u ON u.id = c.user_id
		WHERE c.template_id = $1
		ORDER BY c.created_at ASC
	`, templateID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		var item Comment
		if err := rows.Scan(&item.ID, &item.TemplateID, &item.UserID, &item.UserEmail, &item.UserName, &item.Body, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertComment(ctx context.Context, templateID, userID, body string) (Comment, error) {
	var item Comment
	err := s.db.QueryRowContext(ctx, `
		WITH inserted AS (
			INSERT INTO comments (template_id, user_id, body)
			VALUES ($1, $2, $3)
			RETURNING id, template_id, user_id, body, created_at
		)
		SELECT i.id, i.template_id, i.user_id, u.email, COALESCE(u.name, ''), i.body, i.created_at
		FROM inserted i
		JOIN users u ON u.id = i.user_id
	`, templateID, userID, body).Scan(
		&item.ID, &item.TemplateID, &item.UserID, &item.UserEmail, &item.UserName, &item.Body, &item.CreatedAt,
	)
	if err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	var item Comment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, template_id, user_id, body, created_at
		FROM comments
		WHERE id = $1
	`, commentID).Scan(&item.ID, &item.TemplateID, &item.UserID, &item.Body, &item.CreatedAt)
	if err != nil {
		return Comment{}, err
	}
	return item, nil
}

func (s *PostgresStore) DeleteComment(ctx context.Context, commentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id = $1`, commentID)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	return nil
}

// LikeTemplate inserts a like and reports whether it was new. The unique
// (template_id, user_id) constraint makes double-liking a no-op.
func (s *PostgresStore) LikeTemplate(ctx context.Context, templateID, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO likes (template_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (template_id, user_id) DO NOTHING
	`, templateID, userID)
	if err != nil {
		return false, fmt.Errorf("insert like: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert like rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) UnlikeTemplate(ctx context.Context, templateID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM likes WHERE template_id = $1 AND user_id = $2
	`, templateID, userID)
	if err != nil {
		return fmt.Errorf("delete like: %w", err)
	}
	return nil
}

func (s *PostgresStore) LikeCount(ctx context.Context, templateID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM likes WHERE template_id = $1`, templateID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count likes: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) HasLiked(ctx context.Context, templateID, userID string) (bool, error) {
	var liked bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM likes WHERE template_id = $1 AND user_id = $2)
	`, templateID, userID).Scan(&liked)
	if err != nil {
		return false, fmt.Errorf("check like: %w", err)
	}
	return liked, nil
}
