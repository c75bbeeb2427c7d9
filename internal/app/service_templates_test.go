package app

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"formhub/api/internal/store"
)

func existingQuestions() []store.Question {
	return []store.Question{
		{ID: "q1", TemplateID: "tpl-1", Type: "text", Title: "Name", Order: 1, ShowInResults: true},
		{ID: "q2", TemplateID: "tpl-1", Type: "integer", Title: "Age", Order: 2, ShowInResults: true},
	}
}

func updateInput(version int, questions ...QuestionInput) TemplateUpdateInput {
	return TemplateUpdateInput{
		TemplateInput: TemplateInput{
			Title:     "Customer feedback",
			Public:    true,
			Questions: questions,
		},
		Version: version,
	}
}

func sameQuestions() []QuestionInput {
	return []QuestionInput{
		{ID: "q1", Type: "text", Title: "Name", ShowInResults: true},
		{ID: "q2", Type: "integer", Title: "Age", ShowInResults: true},
	}
}

func domainStatus(t *testing.T, err error) int {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	return domainErr.Status
}

func TestUpdateTemplateVersionConflict(t *testing.T) {
	fs := &fakeStore{
		getTemplate: func(ctx context.Context, id string) (store.Template, error) {
			return ownedTemplate(id, true), nil
		},
		getTemplateQuestions: func(ctx context.Context, id string) ([]store.Question, error) {
			return existingQuestions(), nil
		},
		updateTemplate: func(ctx context.Context, id string, expectedVersion int, w store.TemplateWrite, purgeForms bool) error {
			return store.ErrVersionConflict
		},
	}
	svc := newTestService(fs)

	_, err := svc.UpdateTemplate(context.Background(), &testOwner, "tpl-1", updateInput(2, sameQuestions()...))
	if status := domainStatus(t, err); status != http.StatusConflict {
		t.Fatalf("status = %d, want 409", status)
	}
}

func TestUpdateTemplateContentChangePurgesForms(t *testing.T) {
	var gotPurge *bool
	fs := &fakeStore{
		getTemplate: func(ctx context.Context, id string) (store.Template, error) {
			return ownedTemplate(id, true), nil
		},
		getTemplateQuestions: func(ctx context.Context, id string) ([]store.Question, error) {
			return existingQuestions(), nil
		},
		updateTemplate: func(ctx context.Context, id string, expectedVersion int, w store.TemplateWrite, purgeForms bool) error {
			gotPurge = &purgeForms
			return nil
		},
	}
	svc := newTestService(fs)

	edited := sameQuestions()
	edited[0].Title = "Full name"
	if _, err := svc.UpdateTemplate(context.Background(), &testOwner, "tpl-1", updateInput(3, edited...)); err != nil {
		t.Fatalf("UpdateTemplate: %v", err)
	}
	if gotPurge == nil || !*gotPurge {
		t.Fatal("content change must purge forms")
	}
}

func TestUpdateTemplateReorderKeepsForms(t *testing.T) {
	var gotPurge *bool
	fs := &fakeStore{
		getTemplate: func(ctx context.Context, id string) (store.Template, error) {
			return ownedTemplate(id, true), nil
		},
		getTemplateQuestions: func(ctx context.Context, id string) ([]store.Question, error) {
			return existingQuestions(), nil
		},
		updateTemplate: func(ctx context.Context, id string, expectedVersion int, w store.TemplateWrite, purgeForms bool) error {
			gotPurge = &purgeForms
			return nil
		},
	}
	svc := newTestService(fs)

	reordered := []QuestionInput{
		{ID: "q2", Type: "integer", Title: "Age", ShowInResults: true},
		{ID: "q1", Type: "text", Title: "Name", ShowInResults: true},
	}
	if _, err := svc.UpdateTemplate(context.Background(), &testOwner, "tpl-1", updateInput(3, reordered...)); err != nil {
		t.Fatalf("UpdateTemplate: %v", err)
	}
	if gotPurge == nil || *gotPurge {
		t.Fatal("pure reorder must not purge forms")
	}
}

// An identical payload still runs the guarded bump; there is no no-op
// short-circuit.
func TestUpdateTemplateIdenticalPayloadBumpsVersion(t *testing.T) {
	var gotVersion int
	updates := 0
	fs := &fakeStore{
		getTemplate: func(ctx context.Context, id string) (store.Template, error) {
			return ownedTemplate(id, true), nil
		},
		getTemplateQuestions: func(ctx context.Context, id string) ([]store.Question, error) {
			return existingQuestions(), nil
		},
		updateTemplate: func(ctx context.Context, id string, expectedVersion int, w store.TemplateWrite, purgeForms bool) error {
			updates++
			gotVersion = expectedVersion
			if purgeForms {
				t.Error("identical payload must not purge forms")
			}
			return nil
		},
	}
	svc := newTestService(fs)

	if _, err := svc.UpdateTemplate(context.Background(), &testOwner, "tpl-1", updateInput(3, sameQuestions()...)); err != nil {
		t.Fatalf("UpdateTemplate: %v", err)
	}
	if updates != 1 {
		t.Fatalf("updates = %d, want 1", updates)
	}
	if gotVersion != 3 {
		t.Fatalf("expected version passed through = %d, want 3", gotVersion)
	}
}

// Template editing is owner-only; even admins may not rewrite someone
// else's template, though they can bulk-delete it.
func TestUpdateTemplateNonOwnerForbidden(t *testing.T) {
	fs := &fakeStore{
		getTemplate: func(ctx context.Context, id string) (store.Template, error) {
			return ownedTemplate(id, true), nil
		},
	}
	svc := newTestService(fs)

	for _, caller := range []store.User{testViewer, testAdmin} {
		_, err := svc.UpdateTemplate(context.Background(), &caller, "tpl-1", updateInput(3, sameQuestions()...))
		if status := domainStatus(t, err); status != http.StatusForbidden {
			t.Fatalf("%s: status = %d, want 403", caller.ID, status)
		}
	}
}

func TestUpdateTemplateMissing(t *testing.T) {
	svc := newTestService(&fakeStore{})
	_, err := svc.UpdateTemplate(context.Background(), &testOwner, "tpl-gone", updateInput(1, sameQuestions()...))
	if status := domainStatus(t, err); status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}
}

func TestUpdateTemplateValidation(t *testing.T) {
	svc := newTestService(&fakeStore{})

	input := updateInput(0, sameQuestions()...) // missing version
	_, err := svc.UpdateTemplate(context.Background(), &testOwner, "tpl-1", input)
	if status := domainStatus(t, err); status != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", status)
	}

	input = updateInput(3, QuestionInput{ID: "q1", Type: "dropdown", Title: "Pick one"})
	_, err = svc.UpdateTemplate(context.Background(), &testOwner, "tpl-1", input)
	if status := domainStatus(t, err); status != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", status)
	}
}

func TestUpdateTemplateReplacesOldImage(t *testing.T) {
	tpl := ownedTemplate("tpl-1", true)
	tpl.ImageURL = "http://cdn.example.com/bucket/old.png"
	fs := &fakeStore{
		getTemplate: func(ctx context.Context, id string) (store.Template, error) {
			return tpl, nil
		},
		getTemplateQuestions: func(ctx context.Context, id string) ([]store.Question, error) {
			return existingQuestions(), nil
		},
	}
	images := &fakeImages{}
	svc := newTestService(fs)
	svc.images = images

	input := updateInput(3, sameQuestions()...)
	input.ImageURL = "http://cdn.example.com/bucket/new.png"
	if _, err := svc.UpdateTemplate(context.Background(), &testOwner, "tpl-1", input); err != nil {
		t.Fatalf("UpdateTemplate: %v", err)
	}
	if len(images.deleted) != 1 || images.deleted[0] != tpl.ImageURL {
		t.Fatalf("deleted = %v, want [%s]", images.deleted, tpl.ImageURL)
	}
}

// A version conflict rolls the transaction back, so the previous image must
// stay in storage.
func TestUpdateTemplateConflictKeepsImage(t *testing.T) {
	tpl := ownedTemplate("tpl-1", true)
	tpl.ImageURL = "http://cdn.example.com/bucket/old.png"
	fs := &fakeStore{
		getTemplate: func(ctx context.Context, id string) (store.Template, error) {
			return tpl, nil
		},
		getTemplateQuestions: func(ctx context.Context, id string) ([]store.Question, error) {
			return existingQuestions(), nil
		},
		updateTemplate: func(ctx context.Context, id string, expectedVersion int, w store.TemplateWrite, purgeForms bool) error {
			return store.ErrVersionConflict
		},
	}
	images := &fakeImages{}
	svc := newTestService(fs)
	svc.images = images

	input := updateInput(2, sameQuestions()...)
	input.ImageURL = "http://cdn.example.com/bucket/new.png"
	_, err := svc.UpdateTemplate(context.Background(), &testOwner, "tpl-1", input)
	if status := domainStatus(t, err); status != http.StatusConflict {
		t.Fatalf("status = %d, want 409", status)
	}
	if len(images.deleted) != 0 {
		t.Fatalf("image deleted on conflict: %v", images.deleted)
	}
}

func TestUpdateTemplateImageDeleteFailurePropagates(t *testing.T) {
	tpl := ownedTemplate("tpl-1", true)
	tpl.ImageURL = "http://cdn.example.com/bucket/old.png"
	fs := &fakeStore{
		getTemplate: func(ctx context.Context, id string) (store.Template, error) {
			return tpl, nil
		},
		getTemplateQuestions: func(ctx context.Context, id string) ([]store.Question, error) {
			return existingQuestions(), nil
		},
	}
	svc := newTestService(fs)
	svc.images = &fakeImages{err: errors.New("bucket unavailable")}

	input := updateInput(3, sameQuestions()...)
	input.ImageURL = ""
	if _, err := svc.UpdateTemplate(context.Background(), &testOwner, "tpl-1", input); err == nil {
		t.Fatal("storage failure must propagate, not be swallowed")
	}
}

func TestDeleteTemplatesScopes(t *testing.T) {
	var gotOwner string
	fs := &fakeStore{
		deleteTemplates: func(ctx context.Context, ids []string, ownerID string) (int64, []string, error) {
			gotOwner = ownerID
			return int64(len(ids)), nil, nil
		},
	}
	svc := newTestService(fs)
	ctx := context.Background()

	if _, err := svc.DeleteTemplates(ctx, &testOwner, []string{"tpl-1"}); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
	if gotOwner != testOwner.ID {
		t.Fatalf("owner scope = %q, want %q", gotOwner, testOwner.ID)
	}

	if _, err := svc.DeleteTemplates(ctx, &testAdmin, []string{"tpl-1"}); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
	if gotOwner != "" {
		t.Fatalf("admin scope = %q, want unscoped", gotOwner)
	}
}

func TestDeleteTemplatesCleansImagesAndIndex(t *testing.T) {
	fs := &fakeStore{
		deleteTemplates: func(ctx context.Context, ids []string, ownerID string) (int64, []string, error) {
			return 2, []string{"http://cdn.example.com/bucket/a.png"}, nil
		},
	}
	images := &fakeImages{}
	searcher := &fakeSearch{}
	svc := newTestService(fs)
	svc.images = images
	svc.search = searcher

	deleted, err := svc.DeleteTemplates(context.Background(), &testAdmin, []string{"tpl-1", "tpl-2"})
	if err != nil {
		t.Fatalf("DeleteTemplates: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted = %d, want 2", deleted)
	}
	if len(images.deleted) != 1 {
		t.Fatalf("images deleted = %v", images.deleted)
	}
	if len(searcher.removed) != 1 {
		t.Fatalf("index removals = %v", searcher.removed)
	}
}

func TestCreateTemplateRenumbersOnRead(t *testing.T) {
	fs := &fakeStore{
		createTemplate: func(ctx context.Context, ownerID string, w store.TemplateWrite) (string, error) {
			if ownerID != testOwner.ID {
				t.Errorf("ownerID = %q", ownerID)
			}
			if len(w.Questions) != 2 {
				t.Errorf("questions = %d, want 2", len(w.Questions))
			}
			return "tpl-1", nil
		},
		getTemplate: func(ctx context.Context, id string) (store.Template, error) {
			return ownedTemplate(id, true), nil
		},
		getTemplateQuestions: func(ctx context.Context, id string) ([]store.Question, error) {
			return existingQuestions(), nil
		},
	}
	svc := newTestService(fs)

	view, err := svc.CreateTemplate(context.Background(), &testOwner, TemplateInput{
		Title:  "Customer feedback",
		Public: true,
		Questions: []QuestionInput{
			{Type: "text", Title: "Name", ShowInResults: true},
			{Type: "integer", Title: "Age", ShowInResults: true},
		},
	})
	if err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}
	for i, q := range view.Questions {
		if q.Order != i+1 {
			t.Fatalf("question %d order = %d, want %d", i, q.Order, i+1)
		}
	}
}
