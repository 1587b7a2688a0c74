package handlers

import (
	"errors"
	"net/http"

	"github.com/dom/school-portal/internal/api/middleware"
	"github.com/dom/school-portal/internal/api/respond"
	"github.com/dom/school-portal/internal/domain"
	"github.com/dom/school-portal/internal/service"
	"github.com/sirupsen/logrus"
)

type AuthHandler struct {
	authService *service.AuthService
	cookies     CookieConfig
	log         *logrus.Logger
}

func NewAuthHandler(authService *service.AuthService, cookies CookieConfig, logger *logrus.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		cookies:     cookies,
		log:         logger,
	}
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=1024"`
	Name     string `json:"name" validate:"required,max=100"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type PermissionsResponse struct {
	Role        domain.Role         `json:"role"`
	Permissions []domain.Permission `json:"permissions"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	req, err := decodeAndValidate[RegisterRequest](r)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}

	result, err := h.authService.Register(r.Context(), service.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.Name,
	})
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}

	h.cookies.setSession(w, result.AccessToken, result.RefreshToken)
	respond.JSON(w, http.StatusCreated, userEnvelope{User: newUserResponse(result.User)})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	req, err := decodeAndValidate[LoginRequest](r)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}

	result, err := h.authService.Login(r.Context(), service.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}

	h.cookies.setSession(w, result.AccessToken, result.RefreshToken)
	respond.JSON(w, http.StatusOK, userEnvelope{User: newUserResponse(result.User)})
}

// Refresh rotates the refresh cookie. Any failure clears both cookies so the
// client falls back to its login flow.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	token := refreshTokenFrom(r)
	if token == "" {
		h.cookies.clearSession(w)
		respond.Error(w, r, h.log, domain.ErrTokenInvalid)
		return
	}

	result, err := h.authService.Refresh(r.Context(), token)
	if err != nil {
		h.cookies.clearSession(w)
		respond.Error(w, r, h.log, err)
		return
	}

	h.cookies.setSession(w, result.AccessToken, result.RefreshToken)
	respond.JSON(w, http.StatusOK, userEnvelope{User: newUserResponse(result.User)})
}

// Logout always succeeds from the client's point of view.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.authService.Logout(r.Context(), refreshTokenFrom(r)); err != nil {
		h.log.WithError(err).Error("failed to delete session on logout")
	}

	h.cookies.clearSession(w)
	respond.JSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		respond.Error(w, r, h.log, domain.ErrUnauthorized)
		return
	}

	user, err := h.authService.CurrentUser(r.Context(), identity.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			err = domain.ErrUnauthorized
		}
		respond.Error(w, r, h.log, err)
		return
	}

	respond.JSON(w, http.StatusOK, userEnvelope{User: newUserResponse(user)})
}

func (h *AuthHandler) Permissions(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		respond.Error(w, r, h.log, domain.ErrUnauthorized)
		return
	}

	respond.JSON(w, http.StatusOK, PermissionsResponse{
		Role:        identity.Role,
		Permissions: domain.PermissionsFor(identity.Role),
	})
}
