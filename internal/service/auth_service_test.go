package service

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/feedhub/feedhub-api/internal/models"
	appErrors "github.com/feedhub/feedhub-api/pkg/errors"
)

type fakeUserRepo struct {
	users   map[string]*models.User
	nextID  int
	findErr error
}

func newFakeUserRepo(users ...*models.User) *fakeUserRepo {
	repo := &fakeUserRepo{users: make(map[string]*models.User)}
	for _, u := range users {
		repo.users[u.ID] = u
	}
	return repo
}

func (f *fakeUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	u, ok := f.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return u, nil
}

func (f *fakeUserRepo) FindByEmailOrUsername(ctx context.Context, email, username string) (*models.User, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	for _, u := range f.users {
		if u.DeletedAt != nil {
			continue
		}
		if (email != "" && u.Email == email) || (username != "" && u.Username == username) {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeUserRepo) ExistsByEmailOrUsername(ctx context.Context, email, username string) (bool, error) {
	_, err := f.FindByEmailOrUsername(ctx, email, username)
	if err == nil {
		return true, nil
	}
	if err == sql.ErrNoRows {
		return false, nil
	}
	return false, err
}

func (f *fakeUserRepo) Create(ctx context.Context, user *models.User) error {
	f.nextID++
	user.ID = fmt.Sprintf("user-%d", f.nextID)
	user.CreatedAt = time.Now().UTC()
	f.users[user.ID] = user
	return nil
}

func (f *fakeUserRepo) SetResetChallenge(ctx context.Context, id, code string, expiresAt time.Time) error {
	u, ok := f.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.VerificationCode = &code
	u.VerificationExpiresAt = &expiresAt
	return nil
}

func (f *fakeUserRepo) ConsumeResetChallenge(ctx context.Context, id, passwordHash string) error {
	u, ok := f.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.PasswordHash = passwordHash
	u.VerificationCode = nil
	u.VerificationExpiresAt = nil
	return nil
}

type fakeTokenStore struct {
	tokens  map[string]*models.RefreshToken
	saveErr error
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{tokens: make(map[string]*models.RefreshToken)}
}

func (f *fakeTokenStore) Save(ctx context.Context, token *models.RefreshToken) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	for value, rt := range f.tokens {
		if rt.UserID == token.UserID {
			delete(f.tokens, value)
		}
	}
	f.tokens[token.Token] = token
	return nil
}

func (f *fakeTokenStore) FindByToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rt, ok := f.tokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return rt, nil
}

func (f *fakeTokenStore) DeleteByToken(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	delete(f.tokens, token)
	return nil
}

func (f *fakeTokenStore) DeleteByUserID(ctx context.Context, userID string) error {
	for value, rt := range f.tokens {
		if rt.UserID == userID {
			delete(f.tokens, value)
		}
	}
	return nil
}

type fakeNotifier struct {
	welcomes   []string
	resetCodes map[string]string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{resetCodes: make(map[string]string)}
}

func (f *fakeNotifier) SendWelcome(email, username string) {
	f.welcomes = append(f.welcomes, email)
}

func (f *fakeNotifier) SendResetCode(email, code string) {
	f.resetCodes[email] = code
}

func newTestAuthService(users *fakeUserRepo, tokens *fakeTokenStore, notifier *fakeNotifier) *AuthService {
	return NewAuthService(users, tokens, notifier, validator.New(), zap.NewNop(), AuthConfig{
		AccessTokenSecret:  "test-secret",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 7 * 24 * time.Hour,
		ResetCodeExpiry:    10 * time.Minute,
		Issuer:             "feedhub-test",
		BcryptCost:         bcrypt.MinCost,
	})
}

func seedUser(t *testing.T, repo *fakeUserRepo, email, username, password string) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	user := &models.User{Username: username, Email: email, PasswordHash: string(hash)}
	require.NoError(t, repo.Create(context.Background(), user))
	return user
}

func TestAuthServiceRegister(t *testing.T) {
	repo := newFakeUserRepo()
	notifier := newFakeNotifier()
	svc := newTestAuthService(repo, newFakeTokenStore(), notifier)

	user, err := svc.Register(context.Background(), models.RegisterRequest{
		Username:        "alice",
		Email:           "alice@example.com",
		Password:        "supersecret",
		ConfirmPassword: "supersecret",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "alice", user.Username)
	assert.Contains(t, notifier.welcomes, "alice@example.com")

	stored := repo.users[user.ID]
	assert.NotEqual(t, "supersecret", stored.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("supersecret")))
}

func TestAuthServiceRegisterPasswordMismatch(t *testing.T) {
	svc := newTestAuthService(newFakeUserRepo(), newFakeTokenStore(), newFakeNotifier())

	_, err := svc.Register(context.Background(), models.RegisterRequest{
		Username:        "alice",
		Email:           "alice@example.com",
		Password:        "supersecret",
		ConfirmPassword: "different1",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceRegisterDuplicate(t *testing.T) {
	repo := newFakeUserRepo()
	seedUser(t, repo, "alice@example.com", "alice", "supersecret")
	svc := newTestAuthService(repo, newFakeTokenStore(), newFakeNotifier())

	_, err := svc.Register(context.Background(), models.RegisterRequest{
		Username:        "alice",
		Email:           "alice@example.com",
		Password:        "supersecret",
		ConfirmPassword: "supersecret",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	repo := newFakeUserRepo()
	tokens := newFakeTokenStore()
	user := seedUser(t, repo, "alice@example.com", "alice", "supersecret")
	svc := newTestAuthService(repo, tokens, newFakeNotifier())

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "alice@example.com", Password: "supersecret"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.Equal(t, user.ID, res.User.ID)
	assert.Equal(t, int64(900), res.ExpiresIn)
	assert.Len(t, tokens.tokens, 1)
}

func TestAuthServiceLoginByUsername(t *testing.T) {
	repo := newFakeUserRepo()
	seedUser(t, repo, "alice@example.com", "alice", "supersecret")
	svc := newTestAuthService(repo, newFakeTokenStore(), newFakeNotifier())

	res, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "supersecret"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
}

func TestAuthServiceLoginInvalidCredentials(t *testing.T) {
	repo := newFakeUserRepo()
	seedUser(t, repo, "alice@example.com", "alice", "supersecret")
	svc := newTestAuthService(repo, newFakeTokenStore(), newFakeNotifier())

	// Wrong password and unknown account must be indistinguishable.
	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "alice@example.com", Password: "wrongwrong"})
	require.Error(t, err)
	wrongPassword := appErrors.FromError(err)

	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "nobody@example.com", Password: "wrongwrong"})
	require.Error(t, err)
	unknownAccount := appErrors.FromError(err)

	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, wrongPassword.Code)
	assert.Equal(t, wrongPassword.Code, unknownAccount.Code)
	assert.Equal(t, wrongPassword.Message, unknownAccount.Message)
}

func TestAuthServiceLoginReplacesSession(t *testing.T) {
	repo := newFakeUserRepo()
	tokens := newFakeTokenStore()
	seedUser(t, repo, "alice@example.com", "alice", "supersecret")
	svc := newTestAuthService(repo, tokens, newFakeNotifier())

	first, err := svc.Login(context.Background(), models.LoginRequest{Email: "alice@example.com", Password: "supersecret"})
	require.NoError(t, err)
	second, err := svc.Login(context.Background(), models.LoginRequest{Email: "alice@example.com", Password: "supersecret"})
	require.NoError(t, err)

	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Len(t, tokens.tokens, 1)
	_, replaced := tokens.tokens[first.RefreshToken]
	assert.False(t, replaced)
}

func TestAuthServiceRefreshRotation(t *testing.T) {
	repo := newFakeUserRepo()
	tokens := newFakeTokenStore()
	seedUser(t, repo, "alice@example.com", "alice", "supersecret")
	svc := newTestAuthService(repo, tokens, newFakeNotifier())

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "alice@example.com", Password: "supersecret"})
	require.NoError(t, err)

	rotated, err := svc.Refresh(context.Background(), login.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, rotated.AccessToken)
	assert.NotEqual(t, login.RefreshToken, rotated.RefreshToken)

	// The consumed token is single use.
	_, err = svc.Refresh(context.Background(), login.RefreshToken)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidToken.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceRefreshSurvivesCallerCancel(t *testing.T) {
	repo := newFakeUserRepo()
	tokens := newFakeTokenStore()
	seedUser(t, repo, "alice@example.com", "alice", "supersecret")
	svc := newTestAuthService(repo, tokens, newFakeNotifier())

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "alice@example.com", Password: "supersecret"})
	require.NoError(t, err)

	// The rotation is shared across coalesced callers, so a dead winning
	// request must not abort it.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rotated, err := svc.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, rotated.RefreshToken)
}

func TestAuthServiceRefreshMissingToken(t *testing.T) {
	svc := newTestAuthService(newFakeUserRepo(), newFakeTokenStore(), newFakeNotifier())

	_, err := svc.Refresh(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrTokenMissing.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceRefreshExpiredToken(t *testing.T) {
	repo := newFakeUserRepo()
	tokens := newFakeTokenStore()
	user := seedUser(t, repo, "alice@example.com", "alice", "supersecret")
	tokens.tokens["stale"] = &models.RefreshToken{UserID: user.ID, Token: "stale", ExpiresAt: time.Now().UTC().Add(-time.Minute)}
	svc := newTestAuthService(repo, tokens, newFakeNotifier())

	_, err := svc.Refresh(context.Background(), "stale")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrTokenExpired.Code, appErrors.FromError(err).Code)

	// The expired row is reaped on sight.
	_, exists := tokens.tokens["stale"]
	assert.False(t, exists)
}

func TestAuthServiceRefreshDeletedUser(t *testing.T) {
	repo := newFakeUserRepo()
	tokens := newFakeTokenStore()
	user := seedUser(t, repo, "alice@example.com", "alice", "supersecret")
	now := time.Now().UTC()
	user.DeletedAt = &now
	tokens.tokens["orphan"] = &models.RefreshToken{UserID: user.ID, Token: "orphan", ExpiresAt: now.Add(time.Hour)}
	svc := newTestAuthService(repo, tokens, newFakeNotifier())

	_, err := svc.Refresh(context.Background(), "orphan")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidToken.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLogout(t *testing.T) {
	repo := newFakeUserRepo()
	tokens := newFakeTokenStore()
	seedUser(t, repo, "alice@example.com", "alice", "supersecret")
	svc := newTestAuthService(repo, tokens, newFakeNotifier())

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "alice@example.com", Password: "supersecret"})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(context.Background(), login.RefreshToken))
	assert.Empty(t, tokens.tokens)

	// Logging out an already-revoked token is fine.
	require.NoError(t, svc.Logout(context.Background(), login.RefreshToken))

	err = svc.Logout(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrTokenMissing.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceRequestPasswordReset(t *testing.T) {
	repo := newFakeUserRepo()
	notifier := newFakeNotifier()
	user := seedUser(t, repo, "alice@example.com", "alice", "supersecret")
	svc := newTestAuthService(repo, newFakeTokenStore(), notifier)
	svc.resetCodeFn = func() (string, error) { return "123-456", nil }

	err := svc.RequestPasswordReset(context.Background(), models.ResetRequest{Email: "alice@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "123-456", notifier.resetCodes["alice@example.com"])
	require.NotNil(t, user.VerificationCode)
	assert.Equal(t, "123-456", *user.VerificationCode)
	require.NotNil(t, user.VerificationExpiresAt)
	assert.WithinDuration(t, time.Now().UTC().Add(10*time.Minute), *user.VerificationExpiresAt, time.Minute)
}

func TestAuthServiceRequestPasswordResetUnknownEmail(t *testing.T) {
	svc := newTestAuthService(newFakeUserRepo(), newFakeTokenStore(), newFakeNotifier())

	err := svc.RequestPasswordReset(context.Background(), models.ResetRequest{Email: "nobody@example.com"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceConfirmPasswordReset(t *testing.T) {
	repo := newFakeUserRepo()
	tokens := newFakeTokenStore()
	user := seedUser(t, repo, "alice@example.com", "alice", "supersecret")
	svc := newTestAuthService(repo, tokens, newFakeNotifier())
	svc.resetCodeFn = func() (string, error) { return "123-456", nil }

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "alice@example.com", Password: "supersecret"})
	require.NoError(t, err)
	require.NoError(t, svc.RequestPasswordReset(context.Background(), models.ResetRequest{Email: "alice@example.com"}))

	err = svc.ConfirmPasswordReset(context.Background(), models.ResetConfirmRequest{
		Email:           "alice@example.com",
		Code:            "123-456",
		NewPassword:     "freshsecret",
		ConfirmPassword: "freshsecret",
	})
	require.NoError(t, err)

	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("freshsecret")))
	assert.Nil(t, user.VerificationCode)
	assert.Nil(t, user.VerificationExpiresAt)

	// The active session is revoked along with the password.
	_, err = svc.Refresh(context.Background(), login.RefreshToken)
	require.Error(t, err)

	// The code cannot be replayed.
	err = svc.ConfirmPasswordReset(context.Background(), models.ResetConfirmRequest{
		Email:           "alice@example.com",
		Code:            "123-456",
		NewPassword:     "anothersecret",
		ConfirmPassword: "anothersecret",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidResetCode.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceConfirmPasswordResetWrongCode(t *testing.T) {
	repo := newFakeUserRepo()
	seedUser(t, repo, "alice@example.com", "alice", "supersecret")
	svc := newTestAuthService(repo, newFakeTokenStore(), newFakeNotifier())
	svc.resetCodeFn = func() (string, error) { return "123-456", nil }

	require.NoError(t, svc.RequestPasswordReset(context.Background(), models.ResetRequest{Email: "alice@example.com"}))

	err := svc.ConfirmPasswordReset(context.Background(), models.ResetConfirmRequest{
		Email:           "alice@example.com",
		Code:            "654-321",
		NewPassword:     "freshsecret",
		ConfirmPassword: "freshsecret",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidResetCode.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceConfirmPasswordResetExpiredCode(t *testing.T) {
	repo := newFakeUserRepo()
	user := seedUser(t, repo, "alice@example.com", "alice", "supersecret")
	code := "123-456"
	expired := time.Now().UTC().Add(-time.Minute)
	user.VerificationCode = &code
	user.VerificationExpiresAt = &expired
	svc := newTestAuthService(repo, newFakeTokenStore(), newFakeNotifier())

	err := svc.ConfirmPasswordReset(context.Background(), models.ResetConfirmRequest{
		Email:           "alice@example.com",
		Code:            code,
		NewPassword:     "freshsecret",
		ConfirmPassword: "freshsecret",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrResetCodeExpired.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceValidateAccessToken(t *testing.T) {
	repo := newFakeUserRepo()
	user := seedUser(t, repo, "alice@example.com", "alice", "supersecret")
	svc := newTestAuthService(repo, newFakeTokenStore(), newFakeNotifier())

	token, err := svc.generateAccessToken(user)
	require.NoError(t, err)

	claims, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.False(t, claims.IsAdmin)
}

func TestAuthServiceValidateAccessTokenExpired(t *testing.T) {
	repo := newFakeUserRepo()
	user := seedUser(t, repo, "alice@example.com", "alice", "supersecret")
	svc := newTestAuthService(repo, newFakeTokenStore(), newFakeNotifier())
	svc.config.AccessTokenExpiry = -time.Minute

	token, err := svc.generateAccessToken(user)
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(token)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrTokenExpired.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceValidateAccessTokenMalformed(t *testing.T) {
	svc := newTestAuthService(newFakeUserRepo(), newFakeTokenStore(), newFakeNotifier())

	_, err := svc.ValidateAccessToken("not-a-jwt")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrTokenMalformed.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceValidateAccessTokenWrongSecret(t *testing.T) {
	repo := newFakeUserRepo()
	user := seedUser(t, repo, "alice@example.com", "alice", "supersecret")
	issuer := newTestAuthService(repo, newFakeTokenStore(), newFakeNotifier())
	issuer.config.AccessTokenSecret = "other-secret"

	token, err := issuer.generateAccessToken(user)
	require.NoError(t, err)

	svc := newTestAuthService(repo, newFakeTokenStore(), newFakeNotifier())
	_, err = svc.ValidateAccessToken(token)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrTokenMalformed.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceResolveIdentity(t *testing.T) {
	repo := newFakeUserRepo()
	user := seedUser(t, repo, "alice@example.com", "alice", "supersecret")
	svc := newTestAuthService(repo, newFakeTokenStore(), newFakeNotifier())

	resolved, err := svc.ResolveIdentity(context.Background(), &models.AccessClaims{UserID: user.ID})
	require.NoError(t, err)
	assert.Equal(t, user.ID, resolved.ID)

	now := time.Now().UTC()
	user.DeletedAt = &now
	_, err = svc.ResolveIdentity(context.Background(), &models.AccessClaims{UserID: user.ID})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUserGone.Code, appErrors.FromError(err).Code)

	_, err = svc.ResolveIdentity(context.Background(), &models.AccessClaims{UserID: "missing"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUserGone.Code, appErrors.FromError(err).Code)
}

func TestGenerateResetCodeFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^\d{3}-\d{3}$`)
	for i := 0; i < 50; i++ {
		code, err := generateResetCode()
		require.NoError(t, err)
		assert.Regexp(t, pattern, code)
	}
}

func TestGenerateRefreshTokenValueLength(t *testing.T) {
	value, err := generateRefreshTokenValue()
	require.NoError(t, err)
	// 32 random bytes base64url-encoded without padding.
	assert.Len(t, value, 43)
	assert.NotContains(t, value, "=")
}
