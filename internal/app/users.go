package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"formhub/api/internal/policy"
	"formhub/api/internal/salesforce"
	"formhub/api/internal/store"
)

type UserView struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Blocked   bool      `json:"blocked"`
	CreatedAt time.Time `json:"createdAt"`
}

func userView(u store.User) UserView {
	return UserView{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      u.Role,
		Blocked:   u.Blocked,
		CreatedAt: u.CreatedAt,
	}
}

type UserIDsInput struct {
	IDs []string `json:"ids" validate:"required,min=1,dive,required"`
}

type UserRoleInput struct {
	IDs  []string `json:"ids" validate:"required,min=1,dive,required"`
	Role string   `json:"role" validate:"required,oneof=USER ADMIN"`
}

type UserBlockInput struct {
	IDs     []string `json:"ids" validate:"required,min=1,dive,required"`
	Blocked bool     `json:"blocked"`
}

// ListUsers is admin-only.
func (s *Service) ListUsers(ctx context.Context, caller *store.User, sort store.Sort, limit, offset int) ([]UserView, int, error) {
	if caller == nil {
		return nil, 0, errUnauthorized()
	}
	if !isAdmin(caller) {
		return nil, 0, errForbidden()
	}
	users, total, err := s.store.ListUsers(ctx, listOptions(sort, limit, offset))
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	views := make([]UserView, 0, len(users))
	for _, u := range users {
		views = append(views, userView(u))
	}
	return views, total, nil
}

// AutocompleteUsers backs the access-grant picker. Any authenticated user
// may search; results carry only id, email and name.
func (s *Service) AutocompleteUsers(ctx context.Context, caller *store.User, prefix string) ([]UserView, error) {
	if caller == nil {
		return nil, errUnauthorized()
	}
	if prefix == "" {
		return []UserView{}, nil
	}
	users, err := s.store.AutocompleteUsers(ctx, prefix, 10)
	if err != nil {
		return nil, fmt.Errorf("autocomplete users: %w", err)
	}
	views := make([]UserView, 0, len(users))
	for _, u := range users {
		views = append(views, UserView{ID: u.ID, Email: u.Email, Name: u.Name})
	}
	return views, nil
}

// SetUserRoles updates roles in bulk and drops the resolved-caller cache so
// the change takes effect on the next request, not at TTL expiry.
func (s *Service) SetUserRoles(ctx context.Context, caller *store.User, input UserRoleInput) (int64, error) {
	if caller == nil {
		return 0, errUnauthorized()
	}
	if !isAdmin(caller) {
		return 0, errForbidden()
	}
	if err := checkInput(input); err != nil {
		return 0, err
	}
	affected, err := s.store.UpdateUserRoles(ctx, input.IDs, input.Role)
	if err != nil {
		return 0, fmt.Errorf("update roles: %w", err)
	}
	s.invalidateCallerCache(ctx)
	return affected, nil
}

// SetUsersBlocked blocks or unblocks users in bulk. Admins may block
// themselves; the original backend allows it and the lockout is immediate.
func (s *Service) SetUsersBlocked(ctx context.Context, caller *store.User, input UserBlockInput) (int64, error) {
	if caller == nil {
		return 0, errUnauthorized()
	}
	if !isAdmin(caller) {
		return 0, errForbidden()
	}
	if err := checkInput(input); err != nil {
		return 0, err
	}
	affected, err := s.store.SetUsersBlocked(ctx, input.IDs, input.Blocked)
	if err != nil {
		return 0, fmt.Errorf("set blocked: %w", err)
	}
	s.invalidateCallerCache(ctx)
	return affected, nil
}

func (s *Service) DeleteUsers(ctx context.Context, caller *store.User, input UserIDsInput) (int64, error) {
	if caller == nil {
		return 0, errUnauthorized()
	}
	if !isAdmin(caller) {
		return 0, errForbidden()
	}
	if err := checkInput(input); err != nil {
		return 0, err
	}
	deleted, err := s.store.DeleteUsers(ctx, input.IDs)
	if err != nil {
		return 0, fmt.Errorf("delete users: %w", err)
	}
	s.invalidateCallerCache(ctx)
	return deleted, nil
}

func (s *Service) invalidateCallerCache(ctx context.Context) {
	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
}

func (s *Service) ListTopics(ctx context.Context, searchTerm string) ([]store.Topic, error) {
	topics, err := s.store.ListTopics(ctx, searchTerm)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	return topics, nil
}

func (s *Service) ListTags(ctx context.Context, searchTerm string) ([]store.Tag, error) {
	tags, err := s.store.ListTags(ctx, searchTerm)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	return tags, nil
}

type SalesforceSyncInput struct {
	Company string `json:"company" validate:"max=255"`
	Phone   string `json:"phone" validate:"max=40"`
}

type SalesforceStatus struct {
	Configured bool   `json:"configured"`
	Synced     bool   `json:"synced"`
	AccountID  string `json:"accountId,omitempty"`
	ContactID  string `json:"contactId,omitempty"`
}

// SyncToSalesforce pushes the caller's profile to the CRM. Users sync
// themselves; admins may sync any user by ID.
func (s *Service) SyncToSalesforce(ctx context.Context, caller *store.User, targetUserID string, input SalesforceSyncInput) (SalesforceStatus, error) {
	if caller == nil {
		return SalesforceStatus{}, errUnauthorized()
	}
	if err := checkInput(input); err != nil {
		return SalesforceStatus{}, err
	}
	if s.crm == nil {
		return SalesforceStatus{}, domainError(http.StatusServiceUnavailable, "NOT_CONFIGURED", "Salesforce integration is not configured", nil)
	}

	if targetUserID == "" {
		targetUserID = caller.ID
	}
	if targetUserID != caller.ID && caller.Role != policy.RoleAdmin {
		return SalesforceStatus{}, errForbidden()
	}

	target, err := s.store.GetUser(ctx, targetUserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SalesforceStatus{}, errNotFound("User")
		}
		return SalesforceStatus{}, fmt.Errorf("load user: %w", err)
	}

	refs, err := s.crm.SyncProfile(ctx, salesforce.Refs{
		AccountID: target.SalesforceAccountID,
		ContactID: target.SalesforceContactID,
	}, salesforce.Profile{
		Email:   target.Email,
		Name:    target.Name,
		Company: input.Company,
		Phone:   input.Phone,
	})
	if err != nil {
		return SalesforceStatus{}, fmt.Errorf("sync salesforce: %w", err)
	}

	if err := s.store.SetUserSalesforceRefs(ctx, targetUserID, refs.AccountID, refs.ContactID); err != nil {
		return SalesforceStatus{}, fmt.Errorf("save salesforce refs: %w", err)
	}
	return SalesforceStatus{
		Configured: true,
		Synced:     true,
		AccountID:  refs.AccountID,
		ContactID:  refs.ContactID,
	}, nil
}

// SalesforceStatusFor reports whether the caller's profile is linked.
func (s *Service) SalesforceStatusFor(ctx context.Context, caller *store.User) (SalesforceStatus, error) {
	if caller == nil {
		return SalesforceStatus{}, errUnauthorized()
	}
	status := SalesforceStatus{Configured: s.crm != nil}
	user, err := s.store.GetUser(ctx, caller.ID)
	if err != nil {
		return SalesforceStatus{}, fmt.Errorf("load user: %w", err)
	}
	status.AccountID = user.SalesforceAccountID
	status.ContactID = user.SalesforceContactID
	status.Synced = user.SalesforceAccountID != "" && user.SalesforceContactID != ""
	return status, nil
}
