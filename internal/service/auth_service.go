package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/singleflight"

	"github.com/feedhub/feedhub-api/internal/models"
	appErrors "github.com/feedhub/feedhub-api/pkg/errors"
)

// rotateTimeout bounds a detached refresh rotation.
const rotateTimeout = 5 * time.Second

type authUserRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmailOrUsername(ctx context.Context, email, username string) (*models.User, error)
	ExistsByEmailOrUsername(ctx context.Context, email, username string) (bool, error)
	Create(ctx context.Context, user *models.User) error
	SetResetChallenge(ctx context.Context, id, code string, expiresAt time.Time) error
	ConsumeResetChallenge(ctx context.Context, id, passwordHash string) error
}

type refreshTokenStore interface {
	Save(ctx context.Context, token *models.RefreshToken) error
	FindByToken(ctx context.Context, token string) (*models.RefreshToken, error)
	DeleteByToken(ctx context.Context, token string) error
	DeleteByUserID(ctx context.Context, userID string) error
}

type authNotifier interface {
	SendWelcome(email, username string)
	SendResetCode(email, code string)
}

// AuthConfig defines tunables for the authentication flows.
type AuthConfig struct {
	AccessTokenSecret  string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	ResetCodeExpiry    time.Duration
	Issuer             string
	BcryptCost         int
}

// AuthService implements credential verification, token issuance, refresh
// rotation and the password reset flow. Access tokens are stateless JWTs;
// refresh tokens are opaque values owned by the refresh token store, one
// active session per user.
type AuthService struct {
	users     authUserRepository
	tokens    refreshTokenStore
	notifier  authNotifier
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig

	// refreshGroup coalesces concurrent refresh attempts presenting the same
	// token so a burst of expired-access retries performs a single rotation.
	refreshGroup singleflight.Group

	// resetCodeFn is swappable in tests to pin the generated code.
	resetCodeFn func() (string, error)
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(users authUserRepository, tokens refreshTokenStore, notifier authNotifier, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.BcryptCost < bcrypt.MinCost {
		config.BcryptCost = bcrypt.DefaultCost
	}
	s := &AuthService{
		users:     users,
		tokens:    tokens,
		notifier:  notifier,
		validator: validate,
		logger:    logger,
		config:    config,
	}
	s.resetCodeFn = generateResetCode
	return s
}

// Register creates a new account and sends a best-effort welcome notification.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.PublicUser, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}
	if req.Password != req.ConfirmPassword {
		return nil, appErrors.Clone(appErrors.ErrValidation, "passwords do not match")
	}

	exists, err := s.users.ExistsByEmailOrUsername(ctx, req.Email, req.Username)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing users")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "user already exists")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.config.BcryptCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		IsAdmin:      false,
		IsPrivate:    false,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	s.logger.Info("user registered", zap.String("user_id", user.ID))

	if s.notifier != nil {
		s.notifier.SendWelcome(user.Email, user.Username)
	}

	sanitized := user.Sanitize()
	return &sanitized, nil
}

// Login verifies credentials and mints an access/refresh token pair. Lookup
// misses and hash mismatches produce the same error so callers cannot probe
// for registered accounts.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.AuthResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}
	if req.Email == "" && req.Username == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "email or username is required")
	}

	user, err := s.users.FindByEmailOrUsername(ctx, req.Email, req.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}

	result, err := s.issueTokens(ctx, user)
	if err != nil {
		return nil, err
	}

	s.logger.Info("login", zap.String("user_id", user.ID))
	return result, nil
}

// Refresh rotates the presented refresh token and mints a new access token.
// Rotation is single-use: once a token has been exchanged, presenting it again
// fails because its row no longer exists. Concurrent calls with the same token
// share one rotation.
func (s *AuthService) Refresh(ctx context.Context, token string) (*models.AuthResult, error) {
	if token == "" {
		return nil, appErrors.Clone(appErrors.ErrTokenMissing, "refresh token missing")
	}

	v, err, _ := s.refreshGroup.Do(token, func() (interface{}, error) {
		// The rotation is shared with every coalesced caller, so it must not
		// die with the winning request's context.
		rotateCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rotateTimeout)
		defer cancel()
		return s.rotate(rotateCtx, token)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.AuthResult), nil
}

func (s *AuthService) rotate(ctx context.Context, token string) (*models.AuthResult, error) {
	stored, err := s.validateRefreshToken(ctx, token)
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidToken, "associated user no longer exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if user.Deleted() {
		return nil, appErrors.Clone(appErrors.ErrInvalidToken, "associated user no longer exists")
	}

	if err := s.tokens.DeleteByToken(ctx, token); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to consume refresh token")
	}

	result, err := s.issueTokens(ctx, user)
	if err != nil {
		return nil, err
	}

	s.logger.Info("refresh rotated", zap.String("user_id", user.ID))
	return result, nil
}

// Logout deletes the presented refresh token. Deleting an already-gone token
// is not an error.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	if token == "" {
		return appErrors.Clone(appErrors.ErrTokenMissing, "refresh token missing")
	}
	if err := s.tokens.DeleteByToken(ctx, token); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke refresh token")
	}
	return nil
}

// RequestPasswordReset issues a short-lived numeric code bound to the account
// and dispatches it by mail. Callers mask NOT_FOUND to avoid leaking which
// addresses are registered.
func (s *AuthService) RequestPasswordReset(ctx context.Context, req models.ResetRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reset payload")
	}

	user, err := s.users.FindByEmailOrUsername(ctx, req.Email, "")
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	code, err := s.resetCodeFn()
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate reset code")
	}

	expiresAt := time.Now().UTC().Add(s.config.ResetCodeExpiry)
	if err := s.users.SetResetChallenge(ctx, user.ID, code, expiresAt); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store reset code")
	}

	s.logger.Info("password reset requested", zap.String("user_id", user.ID))

	if s.notifier != nil {
		s.notifier.SendResetCode(user.Email, code)
	}
	return nil
}

// ConfirmPasswordReset validates the submitted code and applies the new
// password. The hash update and challenge clearing happen in one statement,
// and the user's active session is revoked.
func (s *AuthService) ConfirmPasswordReset(ctx context.Context, req models.ResetConfirmRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reset confirmation payload")
	}
	if req.NewPassword != req.ConfirmPassword {
		return appErrors.Clone(appErrors.ErrValidation, "passwords do not match")
	}

	user, err := s.users.FindByEmailOrUsername(ctx, req.Email, "")
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	if user.VerificationCode == nil || *user.VerificationCode != req.Code {
		return appErrors.Clone(appErrors.ErrInvalidResetCode, "")
	}
	if user.VerificationExpiresAt == nil || time.Now().UTC().After(*user.VerificationExpiresAt) {
		return appErrors.Clone(appErrors.ErrResetCodeExpired, "")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), s.config.BcryptCost)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	if err := s.users.ConsumeResetChallenge(ctx, user.ID, string(hash)); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply password reset")
	}

	if err := s.tokens.DeleteByUserID(ctx, user.ID); err != nil {
		s.logger.Warn("failed to revoke session after password reset", zap.Error(err))
	}

	s.logger.Info("password reset confirmed", zap.String("user_id", user.ID))
	return nil
}

// ValidateAccessToken parses and verifies an access token, distinguishing
// expiry from any other defect so clients know when a silent refresh applies.
func (s *AuthService) ValidateAccessToken(tokenString string) (*models.AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.AccessTokenSecret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, appErrors.Clone(appErrors.ErrTokenExpired, "access token expired")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrTokenMalformed.Code, appErrors.ErrTokenMalformed.Status, "invalid access token")
	}

	claims, ok := token.Claims.(*models.AccessClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrTokenMalformed, "invalid access token claims")
	}
	return claims, nil
}

// ResolveIdentity loads the live user behind validated claims, catching soft
// deletion and privilege changes since the token was issued.
func (s *AuthService) ResolveIdentity(ctx context.Context, claims *models.AccessClaims) (*models.User, error) {
	user, err := s.users.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUserGone, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if user.Deleted() {
		return nil, appErrors.Clone(appErrors.ErrUserGone, "")
	}
	return user, nil
}

// AccessTokenExpiry exposes the configured access token lifetime.
func (s *AuthService) AccessTokenExpiry() time.Duration {
	return s.config.AccessTokenExpiry
}

// RefreshTokenExpiry exposes the configured refresh token lifetime.
func (s *AuthService) RefreshTokenExpiry() time.Duration {
	return s.config.RefreshTokenExpiry
}

func (s *AuthService) issueTokens(ctx context.Context, user *models.User) (*models.AuthResult, error) {
	accessToken, err := s.generateAccessToken(user)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	refreshValue, err := generateRefreshTokenValue()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}

	record := &models.RefreshToken{
		UserID:    user.ID,
		Token:     refreshValue,
		ExpiresAt: time.Now().UTC().Add(s.config.RefreshTokenExpiry),
	}
	if err := s.tokens.Save(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist refresh token")
	}

	return &models.AuthResult{
		User:         user.Sanitize(),
		AccessToken:  accessToken,
		RefreshToken: refreshValue,
		ExpiresIn:    int64(s.config.AccessTokenExpiry.Seconds()),
	}, nil
}

func (s *AuthService) validateRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	stored, err := s.tokens.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidToken, "refresh token not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch refresh token")
	}

	if stored.Expired(time.Now().UTC()) {
		if err := s.tokens.DeleteByToken(ctx, token); err != nil {
			s.logger.Warn("failed to delete expired refresh token", zap.Error(err))
		}
		return nil, appErrors.Clone(appErrors.ErrTokenExpired, "refresh token expired")
	}

	return stored, nil
}

func (s *AuthService) generateAccessToken(user *models.User) (string, error) {
	issuedAt := time.Now().UTC()
	claims := &models.AccessClaims{
		UserID:  user.ID,
		IsAdmin: user.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.config.AccessTokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.AccessTokenSecret))
}

func generateRefreshTokenValue() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// generateResetCode produces a six digit code formatted as DDD-DDD.
func generateResetCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	raw := n.Int64() + 100000
	return fmt.Sprintf("%03d-%03d", raw/1000, raw%1000), nil
}
