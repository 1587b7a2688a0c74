package handlers

import (
	"net/http"

	"github.com/dom/school-portal/internal/api/middleware"
)

const oauthStateCookie = "oauth_state"

// CookieConfig controls the attributes of the session cookies.
type CookieConfig struct {
	Domain        string
	Secure        bool
	AccessMaxAge  int
	RefreshMaxAge int
}

// SameSite=Lax lets the cookies ride along on the redirect back from an
// OAuth provider.
func (c CookieConfig) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (c CookieConfig) setSession(w http.ResponseWriter, accessToken, refreshToken string) {
	http.SetCookie(w, c.cookie(middleware.AccessTokenCookie, accessToken, c.AccessMaxAge))
	http.SetCookie(w, c.cookie(middleware.RefreshTokenCookie, refreshToken, c.RefreshMaxAge))
}

func (c CookieConfig) clearSession(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie(middleware.AccessTokenCookie, "", -1))
	http.SetCookie(w, c.cookie(middleware.RefreshTokenCookie, "", -1))
}

func (c CookieConfig) setOAuthState(w http.ResponseWriter, state string) {
	http.SetCookie(w, c.cookie(oauthStateCookie, state, 600))
}

func (c CookieConfig) clearOAuthState(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie(oauthStateCookie, "", -1))
}

func refreshTokenFrom(r *http.Request) string {
	if cookie, err := r.Cookie(middleware.RefreshTokenCookie); err == nil {
		return cookie.Value
	}
	return ""
}
