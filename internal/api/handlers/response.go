package handlers

import (
	"time"

	"github.com/dom/school-portal/internal/domain"
)

type UserResponse struct {
	ID          string      `json:"id"`
	Email       string      `json:"email"`
	DisplayName string      `json:"displayName"`
	Role        domain.Role `json:"role"`
	Suspended   bool        `json:"suspended"`
	HasPassword bool        `json:"hasPassword"`
	CreatedAt   time.Time   `json:"createdAt"`
}

func newUserResponse(u *domain.User) UserResponse {
	return UserResponse{
		ID:          u.ID.String(),
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		Suspended:   u.Suspended,
		HasPassword: u.HasPassword(),
		CreatedAt:   u.CreatedAt,
	}
}

type userEnvelope struct {
	User UserResponse `json:"user"`
}
