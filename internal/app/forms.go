package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"formhub/api/internal/policy"
	"formhub/api/internal/store"
)

type AnswerInput struct {
	QuestionID string  `json:"questionId" validate:"required"`
	Value      *string `json:"value"`
}

type FormInput struct {
	TemplateID string        `json:"templateId" validate:"required"`
	Answers    []AnswerInput `json:"answers" validate:"dive"`
}

type FormUpdateInput struct {
	Answers []AnswerInput `json:"answers" validate:"dive"`
	Version int           `json:"version" validate:"required,min=1"`
}

type FormView struct {
	ID         string         `json:"id"`
	TemplateID string         `json:"templateId"`
	Author     AuthorView     `json:"author"`
	Version    int            `json:"version"`
	Answers    []store.Answer `json:"answers,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

func formView(f store.Form) FormView {
	return FormView{
		ID:         f.ID,
		TemplateID: f.TemplateID,
		Author:     AuthorView{ID: f.UserID, Email: f.UserEmail, Name: f.UserName},
		Version:    f.Version,
		Answers:    f.Answers,
		CreatedAt:  f.CreatedAt,
		UpdatedAt:  f.UpdatedAt,
	}
}

// answerMap validates answers against the template's question set: every
// answer must target a known question and every required question must
// carry a non-empty value.
func answerMap(questions []store.Question, answers []AnswerInput) (map[string]*string, error) {
	known := make(map[string]store.Question, len(questions))
	for _, q := range questions {
		known[q.ID] = q
	}

	values := make(map[string]*string, len(answers))
	var details []map[string]string
	for i, a := range answers {
		if _, ok := known[a.QuestionID]; !ok {
			details = append(details, map[string]string{
				"field":  fmt.Sprintf("answers[%d].questionId", i),
				"rule":   "exists",
				"reason": "question does not belong to this template",
			})
			continue
		}
		values[a.QuestionID] = a.Value
	}
	for _, q := range questions {
		if !q.Required {
			continue
		}
		value, ok := values[q.ID]
		if !ok || value == nil || *value == "" {
			details = append(details, map[string]string{
				"field":  "answers",
				"rule":   "required",
				"reason": fmt.Sprintf("question %q requires an answer", q.Title),
			})
		}
	}
	if len(details) > 0 {
		return nil, errValidation(details)
	}
	return values, nil
}

// CreateForm records a submission. The caller must be able to read the
// template they are answering.
func (s *Service) CreateForm(ctx context.Context, caller *store.User, input FormInput) (FormView, error) {
	if caller == nil {
		return FormView{}, errUnauthorized()
	}
	if err := checkInput(input); err != nil {
		return FormView{}, err
	}

	tpl, err := s.store.GetTemplate(ctx, input.TemplateID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return FormView{}, errNotFound("Template")
		}
		return FormView{}, fmt.Errorf("load template: %w", err)
	}

	hasGrant := false
	if !tpl.Public && caller.ID != tpl.OwnerID {
		hasGrant, err = s.store.HasTemplateAccess(ctx, input.TemplateID, caller.ID)
		if err != nil {
			return FormView{}, fmt.Errorf("check access: %w", err)
		}
	}
	if !policy.CanReadTemplate(callerOf(caller), tpl.OwnerID, tpl.Public, hasGrant) {
		return FormView{}, errForbidden()
	}

	questions, err := s.store.GetTemplateQuestions(ctx, input.TemplateID)
	if err != nil {
		return FormView{}, fmt.Errorf("load questions: %w", err)
	}
	values, err := answerMap(questions, input.Answers)
	if err != nil {
		return FormView{}, err
	}

	formID, err := s.store.CreateForm(ctx, input.TemplateID, caller.ID, values)
	if err != nil {
		return FormView{}, fmt.Errorf("create form: %w", err)
	}

	form, err := s.store.GetForm(ctx, formID)
	if err != nil {
		return FormView{}, fmt.Errorf("load form: %w", err)
	}
	return formView(form), nil
}

// GetForm returns one submission. Visibility follows the submitter, not the
// template owner: owners read responses through ListTemplateForms instead.
func (s *Service) GetForm(ctx context.Context, caller *store.User, formID string) (FormView, error) {
	if caller == nil {
		return FormView{}, errUnauthorized()
	}
	form, err := s.store.GetForm(ctx, formID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return FormView{}, errNotFound("Form")
		}
		return FormView{}, fmt.Errorf("load form: %w", err)
	}
	if !policy.CanAccessForm(callerOf(caller), form.UserID) {
		return FormView{}, errForbidden()
	}
	return formView(form), nil
}

// UpdateForm re-answers a submission under the same version-guard contract
// as template updates: the guarded bump is the last mutating statement of
// one transaction, a stale version yields Conflict.
func (s *Service) UpdateForm(ctx context.Context, caller *store.User, formID string, input FormUpdateInput) (FormView, error) {
	if caller == nil {
		return FormView{}, errUnauthorized()
	}
	if err := checkInput(input); err != nil {
		return FormView{}, err
	}

	form, err := s.store.GetForm(ctx, formID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return FormView{}, errNotFound("Form")
		}
		return FormView{}, fmt.Errorf("load form: %w", err)
	}
	if !policy.CanAccessForm(callerOf(caller), form.UserID) {
		return FormView{}, errForbidden()
	}

	questions, err := s.store.GetTemplateQuestions(ctx, form.TemplateID)
	if err != nil {
		return FormView{}, fmt.Errorf("load questions: %w", err)
	}
	values, err := answerMap(questions, input.Answers)
	if err != nil {
		return FormView{}, err
	}

	if err := s.store.UpdateFormAnswers(ctx, formID, input.Version, values); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return FormView{}, errConflict()
		}
		return FormView{}, fmt.Errorf("update form: %w", err)
	}

	updated, err := s.store.GetForm(ctx, formID)
	if err != nil {
		return FormView{}, fmt.Errorf("load form: %w", err)
	}
	return formView(updated), nil
}

// ListAllForms is the admin view over every submission.
func (s *Service) ListAllForms(ctx context.Context, caller *store.User, sort store.Sort, limit, offset int) ([]FormView, int, error) {
	if caller == nil {
		return nil, 0, errUnauthorized()
	}
	if !isAdmin(caller) {
		return nil, 0, errForbidden()
	}
	return s.listForms(ctx, store.FormListOptions{
		ListOptions: listOptions(sort, limit, offset),
		Scope:       store.FormScopeAll,
	})
}

// ListMyForms lists the caller's own submissions.
func (s *Service) ListMyForms(ctx context.Context, caller *store.User, sort store.Sort, limit, offset int) ([]FormView, int, error) {
	if caller == nil {
		return nil, 0, errUnauthorized()
	}
	return s.listForms(ctx, store.FormListOptions{
		ListOptions: listOptions(sort, limit, offset),
		Scope:       store.FormScopeMine,
		UserID:      caller.ID,
	})
}

// ListTemplateForms is the template owner's window into responses. Only the
// owner and admins may call it; it does not make individual forms readable
// through GetForm.
func (s *Service) ListTemplateForms(ctx context.Context, caller *store.User, templateID string, sort store.Sort, limit, offset int) ([]FormView, int, error) {
	if caller == nil {
		return nil, 0, errUnauthorized()
	}
	tpl, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, errNotFound("Template")
		}
		return nil, 0, fmt.Errorf("load template: %w", err)
	}
	if !policy.CanViewTemplateForms(callerOf(caller), tpl.OwnerID) {
		return nil, 0, errForbidden()
	}
	return s.listForms(ctx, store.FormListOptions{
		ListOptions: listOptions(sort, limit, offset),
		Scope:       store.FormScopeTemplate,
		TemplateID:  templateID,
	})
}

func (s *Service) listForms(ctx context.Context, opts store.FormListOptions) ([]FormView, int, error) {
	forms, total, err := s.store.ListForms(ctx, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("list forms: %w", err)
	}
	views := make([]FormView, 0, len(forms))
	for _, f := range forms {
		views = append(views, formView(f))
	}
	return views, total, nil
}

// DeleteForms removes submissions in bulk: admins any, others their own.
func (s *Service) DeleteForms(ctx context.Context, caller *store.User, ids []string) (int64, error) {
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
	deleted, err := s.store.DeleteForms(ctx, ids, ownerScope)
	if err != nil {
		return 0, fmt.Errorf("delete forms: %w", err)
	}
	return deleted, nil
}
