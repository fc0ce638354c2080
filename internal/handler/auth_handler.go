package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feedhub/feedhub-api/internal/middleware"
	"github.com/feedhub/feedhub-api/internal/models"
	"github.com/feedhub/feedhub-api/internal/service"
	appErrors "github.com/feedhub/feedhub-api/pkg/errors"
	"github.com/feedhub/feedhub-api/pkg/response"
)

// CookieOptions controls how the auth cookies are written. The refresh cookie
// is scoped to the auth prefix so it never travels with ordinary API calls.
type CookieOptions struct {
	Domain        string
	Secure        bool
	SameSite      http.SameSite
	AuthPath      string
	APIPath       string
	AccessMaxAge  time.Duration
	RefreshMaxAge time.Duration
}

// AuthHandler wires HTTP endpoints to the auth service.
type AuthHandler struct {
	service *service.AuthService
	metrics *service.MetricsService
	cookies CookieOptions
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(svc *service.AuthService, metrics *service.MetricsService, cookies CookieOptions) *AuthHandler {
	if cookies.AuthPath == "" {
		cookies.AuthPath = "/api/auth"
	}
	if cookies.APIPath == "" {
		cookies.APIPath = "/api"
	}
	return &AuthHandler{service: svc, metrics: metrics, cookies: cookies}
}

// Register godoc
// @Summary Register account
// @Description Create a new account with username, email and password
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.RegisterRequest true "Registration payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid registration payload"))
		return
	}

	user, err := h.service.Register(c.Request.Context(), req)
	if err != nil {
		h.metrics.RecordAuthAttempt("register", false)
		response.Error(c, err)
		return
	}

	h.metrics.RecordAuthAttempt("register", true)
	response.Created(c, user)
}

// Login godoc
// @Summary Authenticate
// @Description Authenticate by email or username and password
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.LoginRequest true "Login payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}

	result, err := h.service.Login(c.Request.Context(), req)
	if err != nil {
		h.metrics.RecordAuthAttempt("login", false)
		response.Error(c, err)
		return
	}

	h.metrics.RecordAuthAttempt("login", true)
	h.setAuthCookies(c, result)
	response.JSON(c, http.StatusOK, result, nil)
}

// Refresh godoc
// @Summary Refresh session
// @Description Rotate the refresh token and mint a new access token
// @Tags Authentication
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	token, _ := c.Cookie(middleware.RefreshTokenCookie)

	result, err := h.service.Refresh(c.Request.Context(), token)
	if err != nil {
		h.metrics.RecordAuthAttempt("refresh", false)
		h.clearAuthCookies(c)
		response.Error(c, err)
		return
	}

	h.metrics.RecordAuthAttempt("refresh", true)
	h.setAuthCookies(c, result)
	response.JSON(c, http.StatusOK, result, nil)
}

// Logout godoc
// @Summary Logout
// @Description Revoke the refresh token and clear auth cookies
// @Tags Authentication
// @Produce json
// @Success 204 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	token, _ := c.Cookie(middleware.RefreshTokenCookie)

	if err := h.service.Logout(c.Request.Context(), token); err != nil {
		response.Error(c, err)
		return
	}

	h.clearAuthCookies(c)
	response.NoContent(c)
}

// RequestPasswordReset godoc
// @Summary Request password reset
// @Description Send a short-lived reset code to the account email
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.ResetRequest true "Reset payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /auth/reset-password/request [post]
func (h *AuthHandler) RequestPasswordReset(c *gin.Context) {
	var req models.ResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	err := h.service.RequestPasswordReset(c.Request.Context(), req)
	if err != nil {
		appErr := appErrors.FromError(err)
		// Unknown addresses get the same answer as known ones so the endpoint
		// cannot be used to enumerate accounts.
		if appErr.Code != appErrors.ErrNotFound.Code {
			response.Error(c, err)
			return
		}
	}

	response.JSON(c, http.StatusOK, gin.H{"message": "if the email exists, a reset code has been sent"}, nil)
}

// ConfirmPasswordReset godoc
// @Summary Confirm password reset
// @Description Apply a new password using the emailed reset code
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.ResetConfirmRequest true "Confirmation payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /auth/reset-password/confirm [post]
func (h *AuthHandler) ConfirmPasswordReset(c *gin.Context) {
	var req models.ResetConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	if err := h.service.ConfirmPasswordReset(c.Request.Context(), req); err != nil {
		response.Error(c, err)
		return
	}

	response.Message(c, http.StatusOK, "password updated successfully")
}

// Me godoc
// @Summary Current user
// @Description Return the authenticated account
// @Tags Authentication
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	user := middleware.UserFromContext(c)
	if user == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	response.JSON(c, http.StatusOK, user.Sanitize(), nil)
}

func (h *AuthHandler) setAuthCookies(c *gin.Context, result *models.AuthResult) {
	c.SetSameSite(h.cookies.SameSite)
	c.SetCookie(middleware.AccessTokenCookie, result.AccessToken, int(h.cookies.AccessMaxAge.Seconds()), h.cookies.APIPath, h.cookies.Domain, h.cookies.Secure, true)
	c.SetCookie(middleware.RefreshTokenCookie, result.RefreshToken, int(h.cookies.RefreshMaxAge.Seconds()), h.cookies.AuthPath, h.cookies.Domain, h.cookies.Secure, true)
}

func (h *AuthHandler) clearAuthCookies(c *gin.Context) {
	c.SetSameSite(h.cookies.SameSite)
	c.SetCookie(middleware.AccessTokenCookie, "", -1, h.cookies.APIPath, h.cookies.Domain, h.cookies.Secure, true)
	c.SetCookie(middleware.RefreshTokenCookie, "", -1, h.cookies.AuthPath, h.cookies.Domain, h.cookies.Secure, true)
}
