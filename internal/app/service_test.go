package app

import (
	"context"
	"database/sql"
	"io"
	"time"

	"formhub/api/internal/config"
	"formhub/api/internal/search"
	"formhub/api/internal/store"
)

// fakeStore implements dataStore with overridable function fields. Methods
// without an override return zero values, or sql.ErrNoRows for lookups.
type fakeStore struct {
	ensureUser            func(ctx context.Context, id, email, name string) (store.User, error)
	getUser               func(ctx context.Context, id string) (store.User, error)
	listUsers             func(ctx context.Context, opts store.ListOptions) ([]store.User, int, error)
	autocompleteUsers     func(ctx context.Context, prefix string, limit int) ([]store.User, error)
	updateUserRoles       func(ctx context.Context, ids []string, role string) (int64, error)
	setUsersBlocked       func(ctx context.Context, ids []string, blocked bool) (int64, error)
	deleteUsers           func(ctx context.Context, ids []string) (int64, error)
	setUserSalesforceRefs func(ctx context.Context, userID, accountID, contactID string) error

	listTopics func(ctx context.Context, search string) ([]store.Topic, error)
	listTags   func(ctx context.Context, search string) ([]store.Tag, error)

	getTemplate          func(ctx context.Context, id string) (store.Template, error)
	getTemplateQuestions func(ctx context.Context, id string) ([]store.Question, error)
	getTemplateAccesses  func(ctx context.Context, id string) ([]store.AccessGrant, error)
	hasTemplateAccess    func(ctx context.Context, templateID, userID string) (bool, error)
	listTemplates        func(ctx context.Context, opts store.TemplateListOptions) ([]store.Template, int, error)
	createTemplate       func(ctx context.Context, ownerID string, w store.TemplateWrite) (string, error)
	updateTemplate       func(ctx context.Context, id string, expectedVersion int, w store.TemplateWrite, purgeForms bool) error
	deleteTemplates      func(ctx context.Context, ids []string, ownerID string) (int64, []string, error)

	getForm               func(ctx context.Context, id string) (store.Form, error)
	listForms             func(ctx context.Context, opts store.FormListOptions) ([]store.Form, int, error)
	createForm            func(ctx context.Context, templateID, userID string, answers map[string]*string) (string, error)
	updateFormAnswers     func(ctx context.Context, id string, expectedVersion int, answers map[string]*string) error
	deleteForms           func(ctx context.Context, ids []string, ownerID string) (int64, error)
	countTemplateForms    func(ctx context.Context, id string) (int, error)
	templateResultAnswers func(ctx context.Context, id string) ([]store.QuestionAnswers, error)

	listComments  func(ctx context.Context, templateID string) ([]store.Comment, error)
	insertComment func(ctx context.Context, templateID, userID, body string) (store.Comment, error)
	getComment    func(ctx context.Context, id string) (store.Comment, error)
	deleteComment func(ctx context.Context, id string) error

	likeTemplate   func(ctx context.Context, templateID, userID string) (bool, error)
	unlikeTemplate func(ctx context.Context, templateID, userID string) error
	likeCount      func(ctx context.Context, templateID string) (int, error)
	hasLiked       func(ctx context.Context, templateID, userID string) (bool, error)

	ping func(ctx context.Context) error
}

func (f *fakeStore) EnsureUser(ctx context.Context, id, email, name string) (store.User, error) {
	if f.ensureUser != nil {
		return f.ensureUser(ctx, id, email, name)
	}
	return store.User{ID: id, Email: email, Name: name, Role: "USER"}, nil
}

func (f *fakeStore) GetUser(ctx context.Context, id string) (store.User, error) {
	if f.getUser != nil {
		return f.getUser(ctx, id)
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) ListUsers(ctx context.Context, opts store.ListOptions) ([]store.User, int, error) {
	if f.listUsers != nil {
		return f.listUsers(ctx, opts)
	}
	return nil, 0, nil
}

func (f *fakeStore) AutocompleteUsers(ctx context.Context, prefix string, limit int) ([]store.User, error) {
	if f.autocompleteUsers != nil {
		return f.autocompleteUsers(ctx, prefix, limit)
	}
	return nil, nil
}

func (f *fakeStore) UpdateUserRoles(ctx context.Context, ids []string, role string) (int64, error) {
	if f.updateUserRoles != nil {
		return f.updateUserRoles(ctx, ids, role)
	}
	return 0, nil
}

func (f *fakeStore) SetUsersBlocked(ctx context.Context, ids []string, blocked bool) (int64, error) {
	if f.setUsersBlocked != nil {
		return f.setUsersBlocked(ctx, ids, blocked)
	}
	return 0, nil
}

func (f *fakeStore) DeleteUsers(ctx context.Context, ids []string) (int64, error) {
	if f.deleteUsers != nil {
		return f.deleteUsers(ctx, ids)
	}
	return 0, nil
}

func (f *fakeStore) SetUserSalesforceRefs(ctx context.Context, userID, accountID, contactID string) error {
	if f.setUserSalesforceRefs != nil {
		return f.setUserSalesforceRefs(ctx, userID, accountID, contactID)
	}
	return nil
}

func (f *fakeStore) ListTopics(ctx context.Context, search string) ([]store.Topic, error) {
	if f.listTopics != nil {
		return f.listTopics(ctx, search)
	}
	return nil, nil
}

func (f *fakeStore) ListTags(ctx context.Context, search string) ([]store.Tag, error) {
	if f.listTags != nil {
		return f.listTags(ctx, search)
	}
	return nil, nil
}

func (f *fakeStore) GetTemplate(ctx context.Context, id string) (store.Template, error) {
	if f.getTemplate != nil {
		return f.getTemplate(ctx, id)
	}
	return store.Template{}, sql.ErrNoRows
}

func (f *fakeStore) GetTemplateQuestions(ctx context.Context, id string) ([]store.Question, error) {
	if f.getTemplateQuestions != nil {
		return f.getTemplateQuestions(ctx, id)
	}
	return nil, nil
}

func (f *fakeStore) GetTemplateAccesses(ctx context.Context, id string) ([]store.AccessGrant, error) {
	if f.getTemplateAccesses != nil {
		return f.getTemplateAccesses(ctx, id)
	}
	return nil, nil
}

func (f *fakeStore) HasTemplateAccess(ctx context.Context, templateID, userID string) (bool, error) {
	if f.hasTemplateAccess != nil {
		return f.hasTemplateAccess(ctx, templateID, userID)
	}
	return false, nil
}

func (f *fakeStore) ListTemplates(ctx context.Context, opts store.TemplateListOptions) ([]store.Template, int, error) {
	if f.listTemplates != nil {
		return f.listTemplates(ctx, opts)
	}
	return nil, 0, nil
}

func (f *fakeStore) CreateTemplate(ctx context.Context, ownerID string, w store.TemplateWrite) (string, error) {
	if f.createTemplate != nil {
		return f.createTemplate(ctx, ownerID, w)
	}
	return "tpl-new", nil
}

func (f *fakeStore) UpdateTemplate(ctx context.Context, id string, expectedVersion int, w store.TemplateWrite, purgeForms bool) error {
	if f.updateTemplate != nil {
		return f.updateTemplate(ctx, id, expectedVersion, w, purgeForms)
	}
	return nil
}

func (f *fakeStore) DeleteTemplates(ctx context.Context, ids []string, ownerID string) (int64, []string, error) {
	if f.deleteTemplates != nil {
		return f.deleteTemplates(ctx, ids, ownerID)
	}
	return 0, nil, nil
}

func (f *fakeStore) GetForm(ctx context.Context, id string) (store.Form, error) {
	if f.getForm != nil {
		return f.getForm(ctx, id)
	}
	return store.Form{}, sql.ErrNoRows
}

func (f *fakeStore) ListForms(ctx context.Context, opts store.FormListOptions) ([]store.Form, int, error) {
	if f.listForms != nil {
		return f.listForms(ctx, opts)
	}
	return nil, 0, nil
}

func (f *fakeStore) CreateForm(ctx context.Context, templateID, userID string, answers map[string]*string) (string, error) {
	if f.createForm != nil {
		return f.createForm(ctx, templateID, userID, answers)
	}
	return "form-new", nil
}

func (f *fakeStore) UpdateFormAnswers(ctx context.Context, id string, expectedVersion int, answers map[string]*string) error {
	if f.updateFormAnswers != nil {
		return f.updateFormAnswers(ctx, id, expectedVersion, answers)
	}
	return nil
}

func (f *fakeStore) DeleteForms(ctx context.Context, ids []string, ownerID string) (int64, error) {
	if f.deleteForms != nil {
		return f.deleteForms(ctx, ids, ownerID)
	}
	return 0, nil
}

func (f *fakeStore) CountTemplateForms(ctx context.Context, id string) (int, error) {
	if f.countTemplateForms != nil {
		return f.countTemplateForms(ctx, id)
	}
	return 0, nil
}

func (f *fakeStore) TemplateResultAnswers(ctx context.Context, id string) ([]store.QuestionAnswers, error) {
	if f.templateResultAnswers != nil {
		return f.templateResultAnswers(ctx, id)
	}
	return nil, nil
}

func (f *fakeStore) ListComments(ctx context.Context, templateID string) ([]store.Comment, error) {
	if f.listComments != nil {
		return f.listComments(ctx, templateID)
	}
	return nil, nil
}

func (f *fakeStore) InsertComment(ctx context.Context, templateID, userID, body string) (store.Comment, error) {
	if f.insertComment != nil {
		return f.insertComment(ctx, templateID, userID, body)
	}
	return store.Comment{ID: "comment-new", TemplateID: templateID, UserID: userID, Body: body}, nil
}

func (f *fakeStore) GetComment(ctx context.Context, id string) (store.Comment, error) {
	if f.getComment != nil {
		return f.getComment(ctx, id)
	}
	return store.Comment{}, sql.ErrNoRows
}

func (f *fakeStore) DeleteComment(ctx context.Context, id string) error {
	if f.deleteComment != nil {
		return f.deleteComment(ctx, id)
	}
	return nil
}

func (f *fakeStore) LikeTemplate(ctx context.Context, templateID, userID string) (bool, error) {
	if f.likeTemplate != nil {
		return f.likeTemplate(ctx, templateID, userID)
	}
	return true, nil
}

func (f *fakeStore) UnlikeTemplate(ctx context.Context, templateID, userID string) error {
	if f.unlikeTemplate != nil {
		return f.unlikeTemplate(ctx, templateID, userID)
	}
	return nil
}

func (f *fakeStore) LikeCount(ctx context.Context, templateID string) (int, error) {
	if f.likeCount != nil {
		return f.likeCount(ctx, templateID)
	}
	return 0, nil
}

func (f *fakeStore) HasLiked(ctx context.Context, templateID, userID string) (bool, error) {
	if f.hasLiked != nil {
		return f.hasLiked(ctx, templateID, userID)
	}
	return false, nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.ping != nil {
		return f.ping(ctx)
	}
	return nil
}

// fakeResolver maps tokens to users directly.
type fakeResolver struct {
	users map[string]store.User
	err   error
}

func (f *fakeResolver) Resolve(ctx context.Context, token string) (store.User, error) {
	if f.err != nil {
		return store.User{}, f.err
	}
	user, ok := f.users[token]
	if !ok {
		return store.User{}, errUnauthorized()
	}
	return user, nil
}

// fakeImages records uploads and deletions.
type fakeImages struct {
	put     []string
	deleted []string
	err     error
}

func (f *fakeImages) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.put = append(f.put, key)
	return "http://cdn.example.com/bucket/" + key, nil
}

func (f *fakeImages) Delete(ctx context.Context, imageURL string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, imageURL)
	return nil
}

// fakeSearch records indexing traffic and serves canned results.
type fakeSearch struct {
	lastQuery search.Query
	response  search.Response
	err       error
	indexed   []search.TemplateRecord
	removed   [][]string
}

func (f *fakeSearch) Search(q search.Query) (search.Response, error) {
	f.lastQuery = q
	if f.err != nil {
		return search.Response{}, f.err
	}
	if f.response.Results == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	return f.response, nil
}

func (f *fakeSearch) IndexTemplate(rec search.TemplateRecord) {
	f.indexed = append(f.indexed, rec)
}

func (f *fakeSearch) DeleteTemplates(ids []string) {
	f.removed = append(f.removed, ids)
}

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg:      config.Config{PageSize: 10},
		store:    fs,
		identity: &fakeResolver{users: map[string]store.User{}},
	}
}

var (
	testOwner  = store.User{ID: "owner", Email: "owner@example.com", Name: "Owner", Role: "USER"}
	testViewer = store.User{ID: "viewer", Email: "viewer@example.com", Name: "Viewer", Role: "USER"}
	testAdmin  = store.User{ID: "admin", Email: "admin@example.com", Name: "Admin", Role: "ADMIN"}
)

func ownedTemplate(id string, public bool) store.Template {
	return store.Template{
		ID:         id,
		Title:      "Customer feedback",
		Public:     public,
		Version:    3,
		OwnerID:    testOwner.ID,
		OwnerEmail: testOwner.Email,
		OwnerName:  testOwner.Name,
		Tags:       []store.Tag{},
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
}
