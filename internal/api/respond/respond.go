// Package respond writes JSON bodies for the HTTP layer. Handlers and
// middleware both render errors through Error so every reply shares one
// status and kind mapping.
package respond

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dom/school-portal/internal/domain"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
}

type errorRule struct {
	match   func(error) bool
	status  int
	kind    string
	message func(error) string
}

func is(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

func fixed(msg string) func(error) string {
	return func(error) string { return msg }
}

const invalidSessionMessage = "Session is invalid or has expired"

// errorRules is evaluated top to bottom and the first match wins. More
// specific errors come before the kinds they wrap.
var errorRules = []errorRule{
	{is(domain.ErrAccountSuspended), http.StatusForbidden, "Forbidden", fixed("Account is suspended")},
	{is(domain.ErrEmailTaken), http.StatusConflict, "AlreadyExists", fixed("An account with this email already exists")},
	{is(domain.ErrAccountLinked), http.StatusConflict, "AlreadyExists", fixed("This provider account is already linked to another user")},
	{is(domain.ErrInvalidCredentials), http.StatusUnauthorized, "InvalidCredentials", fixed("Invalid email or password")},
	{is(domain.ErrTokenExpired), http.StatusUnauthorized, "TokenExpired", fixed(invalidSessionMessage)},
	{is(domain.ErrTokenInvalid), http.StatusUnauthorized, "TokenInvalid", fixed(invalidSessionMessage)},
	{is(domain.ErrUnauthorized), http.StatusUnauthorized, "Unauthorized", fixed("Authentication required")},
	{is(domain.ErrForbidden), http.StatusForbidden, "Forbidden", fixed("You do not have access to this resource")},
	{is(domain.ErrNotFound), http.StatusNotFound, "NotFound", fixed("Resource not found")},
	{is(domain.ErrAlreadyExists), http.StatusConflict, "AlreadyExists", fixed("Resource already exists")},
	{is(domain.ErrValidation), http.StatusBadRequest, "ValidationError", validationMessage},
	{is(domain.ErrInvalidState), http.StatusBadRequest, "InvalidState", func(err error) string { return err.Error() }},
}

func validationMessage(err error) string {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return verr.Error()
	}
	return "Invalid request"
}

// Resolve maps err to its response. Unrecognized errors become a 500 with a
// generic message.
func Resolve(err error) ErrorResponse {
	for _, rule := range errorRules {
		if rule.match(err) {
			return ErrorResponse{Error: rule.kind, Message: rule.message(err), StatusCode: rule.status}
		}
	}
	return ErrorResponse{
		Error:      "InternalError",
		Message:    "An unexpected error occurred",
		StatusCode: http.StatusInternalServerError,
	}
}

// Error writes the resolved response for err, logging anything that maps
// to a server error.
func Error(w http.ResponseWriter, r *http.Request, logger *logrus.Logger, err error) {
	resp := Resolve(err)
	if resp.StatusCode >= http.StatusInternalServerError {
		logger.WithError(err).WithFields(logrus.Fields{
			"path":       r.URL.Path,
			"request_id": chiMiddleware.GetReqID(r.Context()),
		}).Error("unhandled error")
	}
	JSON(w, resp.StatusCode, resp)
}

// Write renders the resolved response for err without logging.
func Write(w http.ResponseWriter, err error) {
	resp := Resolve(err)
	JSON(w, resp.StatusCode, resp)
}

func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
