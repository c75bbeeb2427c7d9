package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"formhub/api/internal/policy"
	"formhub/api/internal/store"
)

type CommentInput struct {
	Body string `json:"body" validate:"required,max=4000"`
}

type CommentView struct {
	ID         string     `json:"id"`
	TemplateID string     `json:"templateId"`
	Author     AuthorView `json:"author"`
	Body       string     `json:"body"`
	CreatedAt  time.Time  `json:"createdAt"`
}

func commentView(c store.Comment) CommentView {
	return CommentView{
		ID:         c.ID,
		TemplateID: c.TemplateID,
		Author:     AuthorView{ID: c.UserID, Email: c.UserEmail, Name: c.UserName},
		Body:       c.Body,
		CreatedAt:  c.CreatedAt,
	}
}

// readableTemplate loads a template and enforces read access for the caller.
func (s *Service) readableTemplate(ctx context.Context, caller *store.User, templateID string) (store.Template, error) {
	tpl, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Template{}, errNotFound("Template")
		}
		return store.Template{}, fmt.Errorf("load template: %w", err)
	}
	hasGrant := false
	if caller != nil && !tpl.Public && caller.ID != tpl.OwnerID {
		hasGrant, err = s.store.HasTemplateAccess(ctx, templateID, caller.ID)
		if err != nil {
			return store.Template{}, fmt.Errorf("check access: %w", err)
		}
	}
	if !policy.CanReadTemplate(callerOf(caller), tpl.OwnerID, tpl.Public, hasGrant) {
		return store.Template{}, errForbidden()
	}
	return tpl, nil
}

func (s *Service) ListComments(ctx context.Context, caller *store.User, templateID string) ([]CommentView, error) {
	if _, err := s.readableTemplate(ctx, caller, templateID); err != nil {
		return nil, err
	}
	comments, err := s.store.ListComments(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	views := make([]CommentView, 0, len(comments))
	for _, c := range comments {
		views = append(views, commentView(c))
	}
	return views, nil
}

func (s *Service) AddComment(ctx context.Context, caller *store.User, templateID string, input CommentInput) (CommentView, error) {
	if caller == nil {
		return CommentView{}, errUnauthorized()
	}
	input.Body = strings.TrimSpace(input.Body)
	if err := checkInput(input); err != nil {
		return CommentView{}, err
	}
	if _, err := s.readableTemplate(ctx, caller, templateID); err != nil {
		return CommentView{}, err
	}

	comment, err := s.store.InsertComment(ctx, templateID, caller.ID, input.Body)
	if err != nil {
		return CommentView{}, fmt.Errorf("insert comment: %w", err)
	}
	s.reindexTemplate(ctx, templateID)
	return commentView(comment), nil
}

// DeleteComment allows the comment author, the template owner, and admins.
func (s *Service) DeleteComment(ctx context.Context, caller *store.User, commentID string) error {
	if caller == nil {
		return errUnauthorized()
	}
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errNotFound("Comment")
		}
		return fmt.Errorf("load comment: %w", err)
	}
	tpl, err := s.store.GetTemplate(ctx, comment.TemplateID)
	if err != nil {
		return fmt.Errorf("load template: %w", err)
	}
	if !policy.CanModerateComment(callerOf(caller), comment.UserID, tpl.OwnerID) {
		return errForbidden()
	}
	if err := s.store.DeleteComment(ctx, commentID); err != nil {
		return err
	}
	s.reindexTemplate(ctx, comment.TemplateID)
	return nil
}

type LikeView struct {
	Likes int  `json:"likes"`
	Liked bool `json:"liked"`
}

func (s *Service) LikeTemplate(ctx context.Context, caller *store.User, templateID string) (LikeView, error) {
	if caller == nil {
		return LikeView{}, errUnauthorized()
	}
	if _, err := s.readableTemplate(ctx, caller, templateID); err != nil {
		return LikeView{}, err
	}
	if _, err := s.store.LikeTemplate(ctx, templateID, caller.ID); err != nil {
		return LikeView{}, fmt.Errorf("like template: %w", err)
	}
	return s.likeView(ctx, templateID, true)
}

func (s *Service) UnlikeTemplate(ctx context.Context, caller *store.User, templateID string) (LikeView, error) {
	if caller == nil {
		return LikeView{}, errUnauthorized()
	}
	if _, err := s.readableTemplate(ctx, caller, templateID); err != nil {
		return LikeView{}, err
	}
	if err := s.store.UnlikeTemplate(ctx, templateID, caller.ID); err != nil {
		return LikeView{}, fmt.Errorf("unlike template: %w", err)
	}
	return s.likeView(ctx, templateID, false)
}

func (s *Service) likeView(ctx context.Context, templateID string, liked bool) (LikeView, error) {
	count, err := s.store.LikeCount(ctx, templateID)
	if err != nil {
		return LikeView{}, fmt.Errorf("count likes: %w", err)
	}
	return LikeView{Likes: count, Liked: liked}, nil
}
