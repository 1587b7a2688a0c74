package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/dom/school-portal/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeAndValidate parses the JSON body into T and runs its validate tags.
// Every failure comes back as a *domain.ValidationError.
func decodeAndValidate[T any](r *http.Request) (T, error) {
	var req T

	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return req, &domain.ValidationError{Message: "request body is required"}
		}
		return req, &domain.ValidationError{Message: "request body must be valid JSON"}
	}

	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return req, fieldError(verrs[0])
		}
		return req, &domain.ValidationError{Message: "invalid request"}
	}
	return req, nil
}

func fieldError(fe validator.FieldError) *domain.ValidationError {
	var msg string
	switch fe.Tag() {
	case "required":
		msg = "is required"
	case "email":
		msg = "must be a valid email address"
	case "min":
		msg = fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		msg = fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		msg = fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		msg = "is invalid"
	}
	return &domain.ValidationError{Field: fe.Field(), Message: msg}
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, &domain.ValidationError{Field: name, Message: "must be a valid id"}
	}
	return id, nil
}
