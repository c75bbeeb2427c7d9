package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"formhub/api/internal/diff"
	"formhub/api/internal/policy"
	"formhub/api/internal/search"
	"formhub/api/internal/store"
)

type QuestionInput struct {
	ID            string `json:"id"`
	Type          string `json:"type" validate:"required,oneof=text textarea integer checkbox"`
	Title         string `json:"title" validate:"required,max=255"`
	Description   string `json:"description" validate:"max=2000"`
	Required      bool   `json:"required"`
	ShowInResults bool   `json:"showInResults"`
}

type TemplateInput struct {
	Title         string          `json:"title" validate:"required,max=255"`
	Description   string          `json:"description" validate:"max=10000"`
	ImageURL      string          `json:"imageUrl" validate:"omitempty,url"`
	Public        bool            `json:"public"`
	TopicID       string          `json:"topicId"`
	Tags          []string        `json:"tags" validate:"dive,required,max=64"`
	Questions     []QuestionInput `json:"questions" validate:"dive"`
	AccessUserIDs []string        `json:"accessUserIds"`
}

type TemplateUpdateInput struct {
	TemplateInput
	Version int `json:"version" validate:"required,min=1"`
}

type AuthorView struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type QuestionView struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	Order         int    `json:"order"`
	Required      bool   `json:"required"`
	ShowInResults bool   `json:"showInResults"`
}

type AccessView struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

type TemplateView struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	ImageURL    string         `json:"imageUrl,omitempty"`
	Public      bool           `json:"public"`
	Version     int            `json:"version"`
	Author      AuthorView     `json:"author"`
	Topic       *store.Topic   `json:"topic,omitempty"`
	Tags        []store.Tag    `json:"tags"`
	Questions   []QuestionView `json:"questions,omitempty"`
	Accesses    []AccessView   `json:"accesses,omitempty"`
	Likes       int            `json:"likes"`
	Liked       bool           `json:"liked"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

func templateSummary(t store.Template) TemplateView {
	return TemplateView{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		ImageURL:    t.ImageURL,
		Public:      t.Public,
		Version:     t.Version,
		Author:      AuthorView{ID: t.OwnerID, Email: t.OwnerEmail, Name: t.OwnerName},
		Topic:       t.Topic,
		Tags:        t.Tags,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func questionViews(questions []store.Question) []QuestionView {
	views := make([]QuestionView, 0, len(questions))
	for _, q := range questions {
		views = append(views, QuestionView{
			ID:            q.ID,
			Type:          q.Type,
			Title:         q.Title,
			Description:   q.Description,
			Order:         q.Order,
			Required:      q.Required,
			ShowInResults: q.ShowInResults,
		})
	}
	return views
}

// GetTemplate loads a template with its questions. Access grants are
// included for the owner and admins only; likes reflect the caller.
func (s *Service) GetTemplate(ctx context.Context, caller *store.User, templateID string) (TemplateView, error) {
	tpl, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TemplateView{}, errNotFound("Template")
		}
		return TemplateView{}, fmt.Errorf("load template: %w", err)
	}

	hasGrant := false
	if caller != nil && !tpl.Public && caller.ID != tpl.OwnerID {
		hasGrant, err = s.store.HasTemplateAccess(ctx, templateID, caller.ID)
		if err != nil {
			return TemplateView{}, fmt.Errorf("check access: %w", err)
		}
	}
	if !policy.CanReadTemplate(callerOf(caller), tpl.OwnerID, tpl.Public, hasGrant) {
		return TemplateView{}, errForbidden()
	}

	view := templateSummary(tpl)

	questions, err := s.store.GetTemplateQuestions(ctx, templateID)
	if err != nil {
		return TemplateView{}, fmt.Errorf("load questions: %w", err)
	}
	view.Questions = questionViews(questions)

	view.Likes, err = s.store.LikeCount(ctx, templateID)
	if err != nil {
		return TemplateView{}, fmt.Errorf("count likes: %w", err)
	}
	if caller != nil {
		view.Liked, err = s.store.HasLiked(ctx, templateID, caller.ID)
		if err != nil {
			return TemplateView{}, fmt.Errorf("check like: %w", err)
		}
	}

	if caller != nil && (isAdmin(caller) || caller.ID == tpl.OwnerID) {
		grants, err := s.store.GetTemplateAccesses(ctx, templateID)
		if err != nil {
			return TemplateView{}, fmt.Errorf("load accesses: %w", err)
		}
		views := make([]AccessView, 0, len(grants))
		for _, g := range grants {
			views = append(views, AccessView{UserID: g.UserID, Email: g.UserEmail, Name: g.UserName})
		}
		view.Accesses = views
	}

	return view, nil
}

// ListTemplates is the scoped listing: anonymous callers get public
// templates, authenticated callers additionally see their own and shared
// ones, admins see everything.
func (s *Service) ListTemplates(ctx context.Context, caller *store.User, sort store.Sort, limit, offset int) ([]TemplateView, int, error) {
	opts := store.TemplateListOptions{
		ListOptions: listOptions(sort, limit, offset),
		Scope:       store.TemplateScopePublic,
	}
	switch {
	case isAdmin(caller):
		opts.Scope = store.TemplateScopeAll
	case caller != nil:
		opts.Scope = store.TemplateScopeVisible
		opts.UserID = caller.ID
	}
	return s.listTemplates(ctx, opts)
}

// ListMyTemplates lists the caller's own templates regardless of visibility.
func (s *Service) ListMyTemplates(ctx context.Context, caller *store.User, sort store.Sort, limit, offset int) ([]TemplateView, int, error) {
	if caller == nil {
		return nil, 0, errUnauthorized()
	}
	return s.listTemplates(ctx, store.TemplateListOptions{
		ListOptions: listOptions(sort, limit, offset),
		Scope:       store.TemplateScopeOwned,
		UserID:      caller.ID,
	})
}

func (s *Service) listTemplates(ctx context.Context, opts store.TemplateListOptions) ([]TemplateView, int, error) {
	templates, total, err := s.store.ListTemplates(ctx, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("list templates: %w", err)
	}
	views := make([]TemplateView, 0, len(templates))
	for _, t := range templates {
		views = append(views, templateSummary(t))
	}
	return views, total, nil
}

func templateWrite(input TemplateInput) store.TemplateWrite {
	questions := make([]store.Question, 0, len(input.Questions))
	for _, q := range input.Questions {
		questions = append(questions, store.Question{
			ID:            q.ID,
			Type:          q.Type,
			Title:         strings.TrimSpace(q.Title),
			Description:   q.Description,
			Required:      q.Required,
			ShowInResults: q.ShowInResults,
		})
	}
	tags := make([]string, 0, len(input.Tags))
	for _, name := range input.Tags {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			tags = append(tags, trimmed)
		}
	}
	return store.TemplateWrite{
		Title:         strings.TrimSpace(input.Title),
		Description:   input.Description,
		ImageURL:      input.ImageURL,
		Public:        input.Public,
		TopicID:       input.TopicID,
		Tags:          tags,
		Questions:     questions,
		AccessUserIDs: input.AccessUserIDs,
	}
}

func (s *Service) CreateTemplate(ctx context.Context, caller *store.User, input TemplateInput) (TemplateView, error) {
	if caller == nil {
		return TemplateView{}, errUnauthorized()
	}
	if err := checkInput(input); err != nil {
		return TemplateView{}, err
	}

	templateID, err := s.store.CreateTemplate(ctx, caller.ID, templateWrite(input))
	if err != nil {
		return TemplateView{}, fmt.Errorf("create template: %w", err)
	}

	s.reindexTemplate(ctx, templateID)
	return s.GetTemplate(ctx, caller, templateID)
}

// UpdateTemplate is the mutation coordinator. It loads the current state,
// classifies the question edit, and hands the store one transaction holding
// the conditional form purge, the wholesale tag/question/access replacement,
// and the version-guarded bump. The old image is deleted from object storage
// only after the transaction commits, so a Conflict never discards a live
// image; a deletion failure still surfaces to the caller since storage would
// be leaking.
func (s *Service) UpdateTemplate(ctx context.Context, caller *store.User, templateID string, input TemplateUpdateInput) (TemplateView, error) {
	if caller == nil {
		return TemplateView{}, errUnauthorized()
	}
	if err := checkInput(input); err != nil {
		return TemplateView{}, err
	}

	tpl, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TemplateView{}, errNotFound("Template")
		}
		return TemplateView{}, fmt.Errorf("load template: %w", err)
	}
	if !policy.CanEditTemplate(callerOf(caller), tpl.OwnerID) {
		return TemplateView{}, errForbidden()
	}

	existing, err := s.store.GetTemplateQuestions(ctx, templateID)
	if err != nil {
		return TemplateView{}, fmt.Errorf("load questions: %w", err)
	}

	write := templateWrite(input.TemplateInput)
	change := diff.Classify(write.Questions, existing)
	purgeForms := change == diff.ContentChanged

	err = s.store.UpdateTemplate(ctx, templateID, input.Version, write, purgeForms)
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return TemplateView{}, errConflict()
		}
		return TemplateView{}, fmt.Errorf("update template: %w", err)
	}

	if s.images != nil && tpl.ImageURL != "" && tpl.ImageURL != input.ImageURL {
		if err := s.images.Delete(ctx, tpl.ImageURL); err != nil {
			return TemplateView{}, fmt.Errorf("delete old image: %w", err)
		}
	}

	s.reindexTemplate(ctx, templateID)
	return s.GetTemplate(ctx, caller, templateID)
}

// DeleteTemplates removes templates in bulk. Admins delete any template,
// everyone else only their own; IDs the caller may not delete are skipped,
// not errored, and the returned count says how many actually went away.
func (s *Service) DeleteTemplates(ctx context.Context, caller *store.User, ids []string) (int64, error) {
	if caller == nil {
		return 0, errUnauthorized()
	}
	if len(ids) == 0 {
		return 0, errValidation([]map[string]string{{"field": "ids", "rule": "required", "reason": "ids must not be empty"}})
	}

	ownerScope := caller.ID
	if isAdmin(caller) {
		ownerScope = ""
	}
	deleted, imageURLs, err := s.store.DeleteTemplates(ctx, ids, ownerScope)
	if err != nil {
		return 0, fmt.Errorf("delete templates: %w", err)
	}

	if s.images != nil {
		for _, imageURL := range imageURLs {
			if err := s.images.Delete(ctx, imageURL); err != nil {
				return deleted, fmt.Errorf("delete image: %w", err)
			}
		}
	}
	if s.search != nil && deleted > 0 {
		s.search.DeleteTemplates(ids)
	}
	return deleted, nil
}

// SearchTemplates runs the scoped full-text search. A blank term returns an
// empty result set, never an error and never the full table.
func (s *Service) SearchTemplates(ctx context.Context, caller *store.User, term string, limit, offset int) (search.Response, error) {
	q := search.Query{
		Text:   term,
		Scope:  search.ScopeAnonymous,
		Limit:  limit,
		Offset: offset,
	}
	switch {
	case isAdmin(caller):
		q.Scope = search.ScopeAdmin
	case caller != nil:
		q.Scope = search.ScopeUser
		q.UserID = caller.ID
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: term}, nil
	}
	resp, err := s.search.Search(q)
	if err != nil {
		return search.Response{}, fmt.Errorf("search templates: %w", err)
	}
	return resp, nil
}

// reindexTemplate pushes the template's current state to the search index.
// Best-effort: listing and PG search work regardless.
func (s *Service) reindexTemplate(ctx context.Context, templateID string) {
	if s.search == nil {
		return
	}
	rec, err := s.buildSearchRecord(ctx, templateID)
	if err != nil {
		return
	}
	s.search.IndexTemplate(rec)
}

func (s *Service) buildSearchRecord(ctx context.Context, templateID string) (search.TemplateRecord, error) {
	tpl, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		return search.TemplateRecord{}, err
	}
	questions, err := s.store.GetTemplateQuestions(ctx, templateID)
	if err != nil {
		return search.TemplateRecord{}, err
	}
	comments, err := s.store.ListComments(ctx, templateID)
	if err != nil {
		return search.TemplateRecord{}, err
	}
	grants, err := s.store.GetTemplateAccesses(ctx, templateID)
	if err != nil {
		return search.TemplateRecord{}, err
	}

	var questionText, commentText strings.Builder
	for _, q := range questions {
		questionText.WriteString(q.Title)
		questionText.WriteString(" ")
		questionText.WriteString(q.Description)
		questionText.WriteString(" ")
	}
	for _, c := range comments {
		commentText.WriteString(c.Body)
		commentText.WriteString(" ")
	}

	tags := make([]string, 0, len(tpl.Tags))
	for _, tag := range tpl.Tags {
		tags = append(tags, tag.Name)
	}
	accessIDs := make([]string, 0, len(grants))
	for _, g := range grants {
		accessIDs = append(accessIDs, g.UserID)
	}
	topic := ""
	if tpl.Topic != nil {
		topic = tpl.Topic.Name
	}

	return search.TemplateRecord{
		ID:            tpl.ID,
		Title:         tpl.Title,
		Description:   tpl.Description,
		QuestionText:  strings.TrimSpace(questionText.String()),
		CommentText:   strings.TrimSpace(commentText.String()),
		Topic:         topic,
		Tags:          tags,
		Public:        tpl.Public,
		AuthorID:      tpl.OwnerID,
		AccessUserIDs: accessIDs,
		CreatedAt:     tpl.CreatedAt.Unix(),
	}, nil
}
