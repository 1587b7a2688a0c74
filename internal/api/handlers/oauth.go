package handlers

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"

	"github.com/dom/school-portal/internal/api/middleware"
	"github.com/dom/school-portal/internal/api/respond"
	"github.com/dom/school-portal/internal/auth"
	"github.com/dom/school-portal/internal/domain"
	"github.com/dom/school-portal/internal/oauth"
	"github.com/dom/school-portal/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type OAuthHandler struct {
	authService *service.AuthService
	providers   *oauth.Registry
	issuer      *auth.Issuer
	cookies     CookieConfig
	successURL  string
	errorURL    string
	log         *logrus.Logger
}

func NewOAuthHandler(
	authService *service.AuthService,
	providers *oauth.Registry,
	issuer *auth.Issuer,
	cookies CookieConfig,
	successURL, errorURL string,
	logger *logrus.Logger,
) *OAuthHandler {
	return &OAuthHandler{
		authService: authService,
		providers:   providers,
		issuer:      issuer,
		cookies:     cookies,
		successURL:  successURL,
		errorURL:    errorURL,
		log:         logger,
	}
}

// Begin redirects to the provider's consent page with a fresh state value
// that the callback checks against the oauth_state cookie.
func (h *OAuthHandler) Begin(w http.ResponseWriter, r *http.Request) {
	provider, err := h.providers.Get(chi.URLParam(r, "provider"))
	if err != nil {
		respond.Error(w, r, h.log, domain.ErrNotFound)
		return
	}

	state, err := newState()
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}

	h.cookies.setOAuthState(w, state)
	http.Redirect(w, r, provider.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	logger := h.log.WithField("provider", providerName)

	provider, err := h.providers.Get(providerName)
	if err != nil {
		h.redirectError(w, r, "Unknown sign-in provider")
		return
	}

	query := r.URL.Query()
	if providerErr := query.Get("error"); providerErr != "" {
		logger.WithField("provider_error", providerErr).Warn("provider refused sign-in")
		h.redirectError(w, r, "Sign-in was cancelled or denied")
		return
	}

	stateCookie, err := r.Cookie(oauthStateCookie)
	state := query.Get("state")
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(stateCookie.Value), []byte(state)) != 1 {
		h.redirectError(w, r, "Sign-in session expired, please try again")
		return
	}
	h.cookies.clearOAuthState(w)

	code := query.Get("code")
	if code == "" {
		h.redirectError(w, r, "Missing authorization code")
		return
	}

	profile, err := provider.Exchange(r.Context(), code)
	if err != nil {
		logger.WithError(err).Error("provider code exchange failed")
		h.redirectError(w, r, "Could not complete sign-in with the provider")
		return
	}

	result, err := h.authService.OAuthCallback(r.Context(), service.OAuthCallbackInput{
		Provider:          provider.Name(),
		ProviderAccountID: profile.ProviderAccountID,
		Email:             profile.Email,
		EmailVerified:     profile.EmailVerified,
		DisplayName:       profile.DisplayName,
		TokenMaterial:     profile.TokenMaterial,
		LinkUserID:        h.signedInUser(r),
	})
	if err != nil {
		resp := respond.Resolve(err)
		if resp.StatusCode >= http.StatusInternalServerError {
			logger.WithError(err).Error("oauth sign-in failed")
		}
		h.redirectError(w, r, resp.Message)
		return
	}

	h.cookies.setSession(w, result.AccessToken, result.RefreshToken)
	http.Redirect(w, r, withQuery(h.successURL, "success", "true"), http.StatusFound)
}

// signedInUser returns the caller's id when the request already carries a
// valid access token, meaning the provider should be linked to that user.
func (h *OAuthHandler) signedInUser(r *http.Request) *uuid.UUID {
	token := middleware.AccessToken(r)
	if token == "" {
		return nil
	}
	identity, err := h.issuer.VerifyAccessToken(token)
	if err != nil {
		return nil
	}
	return &identity.UserID
}

func (h *OAuthHandler) redirectError(w http.ResponseWriter, r *http.Request, message string) {
	http.Redirect(w, r, withQuery(h.errorURL, "error", message), http.StatusFound)
}

func withQuery(rawURL, key, value string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}

func newState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", errors.New("failed to generate oauth state")
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
