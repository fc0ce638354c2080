package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedhub/feedhub-api/internal/models"
	appErrors "github.com/feedhub/feedhub-api/pkg/errors"
)

type stubResolver struct {
	claims      *models.AccessClaims
	validateErr error
	user        *models.User
	resolveErr  error
}

func (s *stubResolver) ValidateAccessToken(tokenString string) (*models.AccessClaims, error) {
	if s.validateErr != nil {
		return nil, s.validateErr
	}
	return s.claims, nil
}

func (s *stubResolver) ResolveIdentity(ctx context.Context, claims *models.AccessClaims) (*models.User, error) {
	if s.resolveErr != nil {
		return nil, s.resolveErr
	}
	return s.user, nil
}

func newGatewayRouter(resolver *stubResolver, adminOnly bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers := []gin.HandlerFunc{Auth(resolver)}
	if adminOnly {
		handlers = append(handlers, RequireAdmin())
	}
	handlers = append(handlers, func(c *gin.Context) {
		user := UserFromContext(c)
		c.JSON(http.StatusOK, gin.H{"user_id": user.ID})
	})
	r.GET("/protected", handlers...)
	return r
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var envelope struct {
		Error *appErrors.Error `json:"error"`
	}
	require.NoError(t, json.Unmarshal(body, &envelope))
	require.NotNil(t, envelope.Error)
	return envelope.Error.Code
}

func TestAuthMissingToken(t *testing.T) {
	r := newGatewayRouter(&stubResolver{}, false)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, appErrors.ErrTokenMissing.Code, errorCode(t, w.Body.Bytes()))
}

func TestAuthMalformedToken(t *testing.T) {
	resolver := &stubResolver{validateErr: appErrors.Clone(appErrors.ErrTokenMalformed, "")}
	r := newGatewayRouter(resolver, false)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, appErrors.ErrTokenMalformed.Code, errorCode(t, w.Body.Bytes()))
}

func TestAuthExpiredToken(t *testing.T) {
	resolver := &stubResolver{validateErr: appErrors.Clone(appErrors.ErrTokenExpired, "")}
	r := newGatewayRouter(resolver, false)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer stale")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, appErrors.ErrTokenExpired.Code, errorCode(t, w.Body.Bytes()))
}

func TestAuthUserGone(t *testing.T) {
	resolver := &stubResolver{
		claims:     &models.AccessClaims{UserID: "u1"},
		resolveErr: appErrors.Clone(appErrors.ErrUserGone, ""),
	}
	r := newGatewayRouter(resolver, false)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer valid")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, appErrors.ErrUserGone.Code, errorCode(t, w.Body.Bytes()))
}

func TestAuthAcceptsCookie(t *testing.T) {
	resolver := &stubResolver{
		claims: &models.AccessClaims{UserID: "u1"},
		user:   &models.User{ID: "u1", Username: "alice"},
	}
	r := newGatewayRouter(resolver, false)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: "valid"})
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "u1")
}

func TestAuthAcceptsBearerHeader(t *testing.T) {
	resolver := &stubResolver{
		claims: &models.AccessClaims{UserID: "u1"},
		user:   &models.User{ID: "u1", Username: "alice"},
	}
	r := newGatewayRouter(resolver, false)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer valid")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireAdminRejectsNonAdmin(t *testing.T) {
	resolver := &stubResolver{
		claims: &models.AccessClaims{UserID: "u1"},
		user:   &models.User{ID: "u1", Username: "alice"},
	}
	r := newGatewayRouter(resolver, true)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer valid")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, appErrors.ErrForbidden.Code, errorCode(t, w.Body.Bytes()))
}

func TestRequireAdminAllowsAdmin(t *testing.T) {
	resolver := &stubResolver{
		claims: &models.AccessClaims{UserID: "u1", IsAdmin: true},
		user:   &models.User{ID: "u1", Username: "alice", IsAdmin: true},
	}
	r := newGatewayRouter(resolver, true)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer valid")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
