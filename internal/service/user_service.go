package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/feedhub/feedhub-api/internal/models"
	appErrors "github.com/feedhub/feedhub-api/pkg/errors"
	"github.com/feedhub/feedhub-api/pkg/export"
)

type userRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmailOrUsername(ctx context.Context, email, username string) (*models.User, error)
	ExistsByEmailOrUsername(ctx context.Context, email, username string) (bool, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	SoftDelete(ctx context.Context, id string) error
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
}

type userSessionStore interface {
	DeleteByUserID(ctx context.Context, userID string) error
}

type userStatsRepository interface {
	CountByAuthor(ctx context.Context, authorID string) (int, error)
}

type userNotifier interface {
	SendWelcome(email, username string)
	SendAccountDeleted(email string)
}

// AdminCreateUserRequest is the admin-side account creation payload.
type AdminCreateUserRequest struct {
	Username  string `json:"username" validate:"required,min=3,max=30"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	IsAdmin   bool   `json:"isAdmin"`
	IsPrivate bool   `json:"isPrivate"`
}

// AdminUpdateUserRequest mutates any account as an admin.
type AdminUpdateUserRequest struct {
	Username  *string `json:"username" validate:"omitempty,min=3,max=30"`
	Email     *string `json:"email" validate:"omitempty,email"`
	IsAdmin   *bool   `json:"isAdmin"`
	IsPrivate *bool   `json:"isPrivate"`
}

// UserProfile is a public user together with contribution counters.
type UserProfile struct {
	models.PublicUser
	PostCount    int `json:"post_count"`
	CommentCount int `json:"comment_count"`
}

// UserService handles profile and account administration workflows around the
// auth core.
type UserService struct {
	repo       userRepository
	sessions   userSessionStore
	posts      userStatsRepository
	comments   userStatsRepository
	notifier   userNotifier
	validator  *validator.Validate
	logger     *zap.Logger
	bcryptCost int
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, sessions userSessionStore, posts, comments userStatsRepository, notifier userNotifier, validate *validator.Validate, logger *zap.Logger, bcryptCost int) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if bcryptCost < bcrypt.MinCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &UserService{
		repo:       repo,
		sessions:   sessions,
		posts:      posts,
		comments:   comments,
		notifier:   notifier,
		validator:  validate,
		logger:     logger,
		bcryptCost: bcryptCost,
	}
}

// ListPublic returns non-private accounts for the public directory.
func (s *UserService) ListPublic(ctx context.Context, filter models.UserFilter) ([]models.PublicUser, *models.Pagination, error) {
	filter.PublicOnly = true
	return s.list(ctx, filter)
}

// List returns all live accounts; admin use only.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.PublicUser, *models.Pagination, error) {
	return s.list(ctx, filter)
}

func (s *UserService) list(ctx context.Context, filter models.UserFilter) ([]models.PublicUser, *models.Pagination, error) {
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	return models.SanitizeUsers(users), &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Get returns a single account with its contribution counters.
func (s *UserService) Get(ctx context.Context, id string) (*UserProfile, error) {
	user, err := s.findLive(ctx, id)
	if err != nil {
		return nil, err
	}

	profile := &UserProfile{PublicUser: user.Sanitize()}
	if s.posts != nil {
		if n, err := s.posts.CountByAuthor(ctx, id); err == nil {
			profile.PostCount = n
		} else {
			s.logger.Warn("failed to count posts", zap.Error(err))
		}
	}
	if s.comments != nil {
		if n, err := s.comments.CountByAuthor(ctx, id); err == nil {
			profile.CommentCount = n
		} else {
			s.logger.Warn("failed to count comments", zap.Error(err))
		}
	}
	return profile, nil
}

// UpdateProfile applies a self-service profile change. Email and password
// changes require the current password.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, req models.UpdateProfileRequest) (*models.PublicUser, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid profile payload")
	}

	user, err := s.findLive(ctx, userID)
	if err != nil {
		return nil, err
	}

	needsCurrent := req.Email != nil || req.Password != nil
	if needsCurrent {
		if req.CurrentPassword == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "current password is required to change email or password")
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)); err != nil {
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "current password is incorrect")
		}
	}

	if req.Username != nil && *req.Username != user.Username {
		if err := s.ensureFree(ctx, "", *req.Username); err != nil {
			return nil, err
		}
		user.Username = *req.Username
	}
	if req.Email != nil && *req.Email != user.Email {
		if err := s.ensureFree(ctx, *req.Email, ""); err != nil {
			return nil, err
		}
		user.Email = *req.Email
	}
	if req.Password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*req.Password), s.bcryptCost)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
		}
		user.PasswordHash = string(hash)
	}
	if req.IsPrivate != nil {
		user.IsPrivate = *req.IsPrivate
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update user")
	}

	// A password change invalidates the active session.
	if req.Password != nil && s.sessions != nil {
		if err := s.sessions.DeleteByUserID(ctx, user.ID); err != nil {
			s.logger.Warn("failed to revoke session after password change", zap.Error(err))
		}
	}

	sanitized := user.Sanitize()
	return &sanitized, nil
}

// CreateByAdmin provisions an account with explicit flags.
func (s *UserService) CreateByAdmin(ctx context.Context, req AdminCreateUserRequest) (*models.PublicUser, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid user payload")
	}

	if err := s.ensureFree(ctx, req.Email, req.Username); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		IsAdmin:      req.IsAdmin,
		IsPrivate:    req.IsPrivate,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	s.logger.Info("user created by admin", zap.String("user_id", user.ID))

	if s.notifier != nil {
		s.notifier.SendWelcome(user.Email, user.Username)
	}

	sanitized := user.Sanitize()
	return &sanitized, nil
}

// UpdateByAdmin applies an admin-side account change.
func (s *UserService) UpdateByAdmin(ctx context.Context, id string, req AdminUpdateUserRequest) (*models.PublicUser, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid user payload")
	}

	user, err := s.findLive(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Username != nil && *req.Username != user.Username {
		if err := s.ensureFree(ctx, "", *req.Username); err != nil {
			return nil, err
		}
		user.Username = *req.Username
	}
	if req.Email != nil && *req.Email != user.Email {
		if err := s.ensureFree(ctx, *req.Email, ""); err != nil {
			return nil, err
		}
		user.Email = *req.Email
	}
	if req.IsAdmin != nil {
		user.IsAdmin = *req.IsAdmin
	}
	if req.IsPrivate != nil {
		user.IsPrivate = *req.IsPrivate
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update user")
	}

	sanitized := user.Sanitize()
	return &sanitized, nil
}

// Delete soft-deletes an account, revokes its session and notifies the owner.
func (s *UserService) Delete(ctx context.Context, id string) error {
	user, err := s.findLive(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete user")
	}

	if s.sessions != nil {
		if err := s.sessions.DeleteByUserID(ctx, id); err != nil {
			s.logger.Warn("failed to revoke session of deleted user", zap.Error(err))
		}
	}

	s.logger.Info("user deleted", zap.String("user_id", id))

	if s.notifier != nil {
		s.notifier.SendAccountDeleted(user.Email)
	}
	return nil
}

// ExportRoster renders the full account roster as a tabular dataset,
// paging through the repository until every account is collected.
func (s *UserService) ExportRoster(ctx context.Context) (export.Dataset, error) {
	dataset := export.Dataset{Headers: []string{"ID", "Username", "Email", "Admin", "Private", "Created"}}

	for page := 1; ; page++ {
		users, total, err := s.repo.List(ctx, models.UserFilter{Page: page, PageSize: 100})
		if err != nil {
			return export.Dataset{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load users")
		}
		for _, u := range users {
			dataset.Rows = append(dataset.Rows, map[string]string{
				"ID":       u.ID,
				"Username": u.Username,
				"Email":    u.Email,
				"Admin":    boolLabel(u.IsAdmin),
				"Private":  boolLabel(u.IsPrivate),
				"Created":  u.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
		if len(users) == 0 || len(dataset.Rows) >= total {
			break
		}
	}
	return dataset, nil
}

func (s *UserService) findLive(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if user.Deleted() {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
	}
	return user, nil
}

func (s *UserService) ensureFree(ctx context.Context, email, username string) error {
	exists, err := s.repo.ExistsByEmailOrUsername(ctx, email, username)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing users")
	}
	if exists {
		return appErrors.Clone(appErrors.ErrConflict, "user already exists")
	}
	return nil
}

func boolLabel(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
