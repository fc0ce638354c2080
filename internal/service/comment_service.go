package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/feedhub/feedhub-api/internal/models"
	appErrors "github.com/feedhub/feedhub-api/pkg/errors"
)

type commentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Comment, error)
	ListByPost(ctx context.Context, postID string, page, pageSize int) ([]models.Comment, int, error)
	Create(ctx context.Context, comment *models.Comment) error
	Update(ctx context.Context, comment *models.Comment) error
	SoftDelete(ctx context.Context, id string) error
}

type commentPostLookup interface {
	FindByID(ctx context.Context, id string) (*models.Post, error)
}

// CommentRequest creates or edits a comment.
type CommentRequest struct {
	Content string `json:"content" validate:"required,min=1,max=2000"`
}

// CommentService handles comment workflows under a post.
type CommentService struct {
	repo      commentRepository
	posts     commentPostLookup
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCommentService creates an instance of CommentService.
func NewCommentService(repo commentRepository, posts commentPostLookup, validate *validator.Validate, logger *zap.Logger) *CommentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &CommentService{repo: repo, posts: posts, validator: validate, logger: logger}
}

// ListByPost returns the comments of a post, oldest first.
func (s *CommentService) ListByPost(ctx context.Context, postID string, page, pageSize int) ([]models.Comment, *models.Pagination, error) {
	if err := s.ensurePost(ctx, postID); err != nil {
		return nil, nil, err
	}

	comments, total, err := s.repo.ListByPost(ctx, postID, page, pageSize)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list comments")
	}

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return comments, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Create attaches a comment to a post.
func (s *CommentService) Create(ctx context.Context, postID, authorID string, req CommentRequest) (*models.Comment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid comment payload")
	}
	if err := s.ensurePost(ctx, postID); err != nil {
		return nil, err
	}

	comment := &models.Comment{PostID: postID, AuthorID: authorID, Content: req.Content}
	if err := s.repo.Create(ctx, comment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create comment")
	}
	return comment, nil
}

// Update edits a comment. Only the owner or an admin may edit.
func (s *CommentService) Update(ctx context.Context, id string, actor *models.User, req CommentRequest) (*models.Comment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid comment payload")
	}

	comment, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if comment.AuthorID != actor.ID && !actor.IsAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not the comment owner")
	}

	comment.Content = req.Content
	if err := s.repo.Update(ctx, comment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update comment")
	}
	return comment, nil
}

// Delete soft-deletes a comment. Only the owner or an admin may delete.
func (s *CommentService) Delete(ctx context.Context, id string, actor *models.User) error {
	comment, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	if comment.AuthorID != actor.ID && !actor.IsAdmin {
		return appErrors.Clone(appErrors.ErrForbidden, "not the comment owner")
	}

	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete comment")
	}
	return nil
}

func (s *CommentService) find(ctx context.Context, id string) (*models.Comment, error) {
	comment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "comment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load comment")
	}
	return comment, nil
}

func (s *CommentService) ensurePost(ctx context.Context, postID string) error {
	if _, err := s.posts.FindByID(ctx, postID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "post not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load post")
	}
	return nil
}
