package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/feedhub/feedhub-api/internal/models"
	appErrors "github.com/feedhub/feedhub-api/pkg/errors"
)

type postRepository interface {
	FindByID(ctx context.Context, id string) (*models.Post, error)
	List(ctx context.Context, filter models.PostFilter) ([]models.Post, int, error)
	Create(ctx context.Context, post *models.Post) error
	Update(ctx context.Context, post *models.Post) error
	SoftDelete(ctx context.Context, id string) error
}

type feedCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CreatePostRequest is the authoring payload.
type CreatePostRequest struct {
	Title      string  `json:"title" validate:"required,min=3,max=200"`
	Content    string  `json:"content" validate:"required"`
	CategoryID *string `json:"categoryId" validate:"omitempty,uuid"`
	Published  bool    `json:"published"`
}

// UpdatePostRequest mutates an existing post.
type UpdatePostRequest struct {
	Title      *string `json:"title" validate:"omitempty,min=3,max=200"`
	Content    *string `json:"content"`
	CategoryID *string `json:"categoryId" validate:"omitempty,uuid"`
	Published  *bool   `json:"published"`
}

type cachedFeed struct {
	Posts []models.Post `json:"posts"`
	Total int           `json:"total"`
}

// PostService handles post authoring and the public feed.
type PostService struct {
	repo      postRepository
	cache     feedCache
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

// NewPostService creates an instance of PostService.
func NewPostService(repo postRepository, cache feedCache, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *PostService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &PostService{repo: repo, cache: cache, cacheTTL: cacheTTL, validator: validate, logger: logger}
}

// Feed returns published posts, served from cache when possible.
func (s *PostService) Feed(ctx context.Context, filter models.PostFilter) ([]models.Post, *models.Pagination, error) {
	filter.PublishedOnly = true

	key := feedKey(filter)
	if s.cache != nil && filter.Search == "" {
		var cached cachedFeed
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached.Posts, s.pagination(filter, cached.Total), nil
		}
	}

	posts, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list posts")
	}

	if s.cache != nil && filter.Search == "" {
		if err := s.cache.Set(ctx, key, cachedFeed{Posts: posts, Total: total}, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache feed page", zap.Error(err))
		}
	}

	return posts, s.pagination(filter, total), nil
}

// ListByAuthor returns an author's posts, drafts included.
func (s *PostService) ListByAuthor(ctx context.Context, authorID string, filter models.PostFilter) ([]models.Post, *models.Pagination, error) {
	filter.AuthorID = authorID
	posts, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list posts")
	}
	return posts, s.pagination(filter, total), nil
}

// Get returns a single live post.
func (s *PostService) Get(ctx context.Context, id string) (*models.Post, error) {
	post, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "post not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load post")
	}
	return post, nil
}

// Create inserts a post owned by the given author.
func (s *PostService) Create(ctx context.Context, authorID string, req CreatePostRequest) (*models.Post, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid post payload")
	}

	post := &models.Post{
		AuthorID:   authorID,
		CategoryID: req.CategoryID,
		Title:      req.Title,
		Content:    req.Content,
		Published:  req.Published,
	}
	if err := s.repo.Create(ctx, post); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create post")
	}

	s.invalidateFeed(ctx)
	return post, nil
}

// Update mutates a post. Only the owner or an admin may update.
func (s *PostService) Update(ctx context.Context, id string, actor *models.User, req UpdatePostRequest) (*models.Post, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid post payload")
	}

	post, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if post.AuthorID != actor.ID && !actor.IsAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not the post owner")
	}

	if req.Title != nil {
		post.Title = *req.Title
	}
	if req.Content != nil {
		post.Content = *req.Content
	}
	if req.CategoryID != nil {
		post.CategoryID = req.CategoryID
	}
	if req.Published != nil {
		post.Published = *req.Published
	}

	if err := s.repo.Update(ctx, post); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update post")
	}

	s.invalidateFeed(ctx)
	return post, nil
}

// Delete soft-deletes a post. Only the owner or an admin may delete.
func (s *PostService) Delete(ctx context.Context, id string, actor *models.User) error {
	post, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if post.AuthorID != actor.ID && !actor.IsAdmin {
		return appErrors.Clone(appErrors.ErrForbidden, "not the post owner")
	}

	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete post")
	}

	s.invalidateFeed(ctx)
	return nil
}

func (s *PostService) pagination(filter models.PostFilter, total int) *models.Pagination {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}
}

func (s *PostService) invalidateFeed(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, "feed:posts:*"); err != nil {
		s.logger.Warn("failed to invalidate feed cache", zap.Error(err))
	}
}

func feedKey(filter models.PostFilter) string {
	return fmt.Sprintf("feed:posts:%s:%s:%d:%d", filter.CategoryID, filter.AuthorID, filter.Page, filter.PageSize)
}
