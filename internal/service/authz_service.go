package service

import (
	"context"

	"github.com/cassiomorais/invoicing/internal/domain/errors"
	"github.com/cassiomorais/invoicing/internal/domain/invoice"
	"github.com/cassiomorais/invoicing/internal/middleware"
)

type AuthzService struct {
	required bool
}

// NewAuthzService returns an authorizer. When required is false (no JWT
// secret configured) requests without a user are let through.
func NewAuthzService(required bool) *AuthzService {
	return &AuthzService{required: required}
}

// CurrentUser returns the authenticated user id, or "" when auth is off.
func (s *AuthzService) CurrentUser(ctx context.Context) (string, error) {
	userID, ok := middleware.GetUserID(ctx)
	if !ok || userID == "" {
		if s.required {
			return "", errors.ErrUnauthorized
		}
		return "", nil
	}
	return userID, nil
}

func (s *AuthzService) VerifyInvoiceOwnership(ctx context.Context, inv *invoice.Invoice) error {
	userID, err := s.CurrentUser(ctx)
	if err != nil {
		return err
	}
	if userID != "" && inv.UserID != userID {
		return errors.ErrForbidden
	}
	return nil
}
