package service

import (
	"github.com/dom/school-portal/internal/auth"
	"github.com/dom/school-portal/internal/metrics"
	"github.com/dom/school-portal/internal/repository"
	"github.com/sirupsen/logrus"
)

type Services struct {
	Auth *AuthService
	User *UserService
}

func NewServices(repos *repository.Repositories, issuer *auth.Issuer, logger *logrus.Logger, m *metrics.Metrics) *Services {
	return &Services{
		Auth: NewAuthService(repos.User, repos.OAuthAccount, repos.Session, issuer, logger, m),
		User: NewUserService(repos.User, repos.Session, logger),
	}
}
