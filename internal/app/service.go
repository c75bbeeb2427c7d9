package app

import (
	"context"
	"io"

	"formhub/api/internal/config"
	"formhub/api/internal/identity"
	"formhub/api/internal/policy"
	"formhub/api/internal/salesforce"
	"formhub/api/internal/search"
	"formhub/api/internal/storage"
	"formhub/api/internal/store"
)

type dataStore interface {
	EnsureUser(context.Context, string, string, string) (store.User, error)
	GetUser(context.Context, string) (store.User, error)
	ListUsers(context.Context, store.ListOptions) ([]store.User, int, error)
	AutocompleteUsers(context.Context, string, int) ([]store.User, error)
	UpdateUserRoles(context.Context, []string, string) (int64, error)
	SetUsersBlocked(context.Context, []string, bool) (int64, error)
	DeleteUsers(context.Context, []string) (int64, error)
	SetUserSalesforceRefs(context.Context, string, string, string) error

	ListTopics(context.Context, string) ([]store.Topic, error)
	ListTags(context.Context, string) ([]store.Tag, error)

	GetTemplate(context.Context, string) (store.Template, error)
	GetTemplateQuestions(context.Context, string) ([]store.Question, error)
	GetTemplateAccesses(context.Context, string) ([]store.AccessGrant, error)
	HasTemplateAccess(context.Context, string, string) (bool, error)
	ListTemplates(context.Context, store.TemplateListOptions) ([]store.Template, int, error)
	CreateTemplate(context.Context, string, store.TemplateWrite) (string, error)
	UpdateTemplate(context.Context, string, int, store.TemplateWrite, bool) error
	DeleteTemplates(context.Context, []string, string) (int64, []string, error)

	GetForm(context.Context, string) (store.Form, error)
	ListForms(context.Context, store.FormListOptions) ([]store.Form, int, error)
	CreateForm(context.Context, string, string, map[string]*string) (string, error)
	UpdateFormAnswers(context.Context, string, int, map[string]*string) error
	DeleteForms(context.Context, []string, string) (int64, error)
	CountTemplateForms(context.Context, string) (int, error)
	TemplateResultAnswers(context.Context, string) ([]store.QuestionAnswers, error)

	ListComments(context.Context, string) ([]store.Comment, error)
	InsertComment(context.Context, string, string, string) (store.Comment, error)
	GetComment(context.Context, string) (store.Comment, error)
	DeleteComment(context.Context, string) error

	LikeTemplate(context.Context, string, string) (bool, error)
	UnlikeTemplate(context.Context, string, string) error
	LikeCount(context.Context, string) (int, error)
	HasLiked(context.Context, string, string) (bool, error)

	Ping(context.Context) error
}

type imageStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)
	Delete(ctx context.Context, imageURL string) error
}

type searchService interface {
	Search(q search.Query) (search.Response, error)
	IndexTemplate(rec search.TemplateRecord)
	DeleteTemplates(ids []string)
}

type identityResolver interface {
	Resolve(ctx context.Context, token string) (store.User, error)
}

type crmClient interface {
	Configured() bool
	SyncProfile(ctx context.Context, existing salesforce.Refs, p salesforce.Profile) (salesforce.Refs, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	images   imageStore
	search   searchService
	identity identityResolver
	crm      crmClient
	cache    *identity.Cache
}

// New wires the service with its collaborators. images, searchSvc, cache and
// crm may be nil when the corresponding backend is not configured.
func New(cfg config.Config, dataStore *store.PostgresStore, resolver *identity.Resolver, searchSvc *search.Service, images *storage.ImageStore, crm *salesforce.Client, cache *identity.Cache) *Service {
	s := &Service{
		cfg:      cfg,
		store:    dataStore,
		identity: resolver,
		cache:    cache,
	}
	if searchSvc != nil {
		s.search = searchSvc
	}
	if images != nil {
		s.images = images
	}
	if crm != nil && crm.Configured() {
		s.crm = crm
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ResolveCaller maps a bearer token to a user, or nil for an empty token
// (anonymous access is legal on read endpoints).
func (s *Service) ResolveCaller(ctx context.Context, token string) (*store.User, error) {
	if token == "" {
		return nil, nil
	}
	user, err := s.identity.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func callerOf(user *store.User) *policy.Caller {
	if user == nil {
		return nil
	}
	return &policy.Caller{UserID: user.ID, Role: user.Role}
}

func isAdmin(user *store.User) bool {
	return user != nil && user.Role == policy.RoleAdmin
}
