package handlers

import (
	"net/http"
	"strconv"

	"github.com/dom/school-portal/internal/api/middleware"
	"github.com/dom/school-portal/internal/api/respond"
	"github.com/dom/school-portal/internal/domain"
	"github.com/dom/school-portal/internal/service"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type UserHandler struct {
	userService *service.UserService
	log         *logrus.Logger
}

func NewUserHandler(userService *service.UserService, logger *logrus.Logger) *UserHandler {
	return &UserHandler{userService: userService, log: logger}
}

type ChangeRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=admin teacher student"`
}

type UserListResponse struct {
	Users  []UserResponse `json:"users"`
	Total  int64          `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	page, err := h.userService.List(r.Context(), limit, offset)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}

	resp := UserListResponse{
		Users:  make([]UserResponse, 0, len(page.Users)),
		Total:  page.Total,
		Limit:  page.Limit,
		Offset: page.Offset,
	}
	for _, u := range page.Users {
		resp.Users = append(resp.Users, newUserResponse(u))
	}

	respond.JSON(w, http.StatusOK, resp)
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}

	user, err := h.userService.Get(r.Context(), id)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}

	respond.JSON(w, http.StatusOK, userEnvelope{User: newUserResponse(user)})
}

func (h *UserHandler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	actor, targetID, ok := h.actorAndTarget(w, r)
	if !ok {
		return
	}

	req, err := decodeAndValidate[ChangeRoleRequest](r)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}

	user, err := h.userService.ChangeRole(r.Context(), actor.UserID, targetID, domain.Role(req.Role))
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}

	respond.JSON(w, http.StatusOK, userEnvelope{User: newUserResponse(user)})
}

func (h *UserHandler) Suspend(w http.ResponseWriter, r *http.Request) {
	actor, targetID, ok := h.actorAndTarget(w, r)
	if !ok {
		return
	}

	user, err := h.userService.Suspend(r.Context(), actor.UserID, targetID)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}

	respond.JSON(w, http.StatusOK, userEnvelope{User: newUserResponse(user)})
}

func (h *UserHandler) Reinstate(w http.ResponseWriter, r *http.Request) {
	targetID, err := uuidParam(r, "id")
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}

	user, err := h.userService.Reinstate(r.Context(), targetID)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}

	respond.JSON(w, http.StatusOK, userEnvelope{User: newUserResponse(user)})
}

func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, targetID, ok := h.actorAndTarget(w, r)
	if !ok {
		return
	}

	if err := h.userService.Delete(r.Context(), actor.UserID, targetID); err != nil {
		respond.Error(w, r, h.log, err)
		return
	}

	respond.JSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *UserHandler) actorAndTarget(w http.ResponseWriter, r *http.Request) (middleware.Identity, uuid.UUID, bool) {
	actor, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		respond.Error(w, r, h.log, domain.ErrUnauthorized)
		return middleware.Identity{}, uuid.Nil, false
	}

	targetID, err := uuidParam(r, "id")
	if err != nil {
		respond.Error(w, r, h.log, err)
		return middleware.Identity{}, uuid.Nil, false
	}
	return actor, targetID, true
}
