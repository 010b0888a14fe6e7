package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// VerifyFederated exchanges a federated authorization code for provider
// claims and resolves them to a local identity, creating one on first
// sign-in. The exchange runs under a bounded timeout and is retried
// once on transient failure; it fails closed with ErrProviderError
// rather than hang.
func (s *AuthService) VerifyFederated(ctx context.Context, input FederatedInput) (*IdentityClaim, error) {
	if err := s.allowAttempt(ctx, "", input.Device.IP); err != nil {
		return nil, err
	}

	provider, err := s.exchange(ctx, input.Code)
	if err != nil {
		if errors.Is(err, ErrProviderEmailUnverified) {
			s.logFailed(ctx, "", input.Device, MethodFederated, "", "email_unverified")
			return nil, err
		}
		s.recordFailure(ctx, "", input.Device.IP)
		s.logFailed(ctx, "", input.Device, MethodFederated, "", "provider_error")
		return nil, ErrProviderError
	}

	id, err := s.repo.GetIdentityByEmail(ctx, provider.Email)
	if errors.Is(err, ErrNotFound) {
		id, err = s.createFederatedIdentity(ctx, provider)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve federated identity: %w", err)
	}

	s.logSuccess(ctx, id, input.Device, MethodFederated)
	return id.claim(MethodFederated), nil
}

// exchange calls the provider once, retrying a single time when the
// first attempt fails for any reason other than policy rejection.
func (s *AuthService) exchange(ctx context.Context, code string) (*ProviderIdentity, error) {
	provider, err := s.exchangeOnce(ctx, code)
	if err != nil && ctx.Err() == nil {
		provider, err = s.exchangeOnce(ctx, code)
	}
	if err != nil {
		return nil, err
	}
	if s.cfg.RequireVerifiedEmail && !provider.EmailVerified {
		return nil, ErrProviderEmailUnverified
	}
	if provider.Email == "" {
		return nil, ErrProviderError
	}
	return provider, nil
}

func (s *AuthService) exchangeOnce(ctx context.Context, code string) (*ProviderIdentity, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ExchangeTimeout)
	defer cancel()
	return s.exchanger.Exchange(ctx, code)
}

// createFederatedIdentity provisions an identity from provider claims
// on first federated sign-in.
func (s *AuthService) createFederatedIdentity(ctx context.Context, p *ProviderIdentity) (*Identity, error) {
	id := &Identity{
		ID:          uuid.NewString(),
		DisplayName: p.DisplayName,
		Email:       p.Email,
		Role:        RoleUser,
		AccountKind: AccountIndividual,
		Verified:    p.EmailVerified,
		CreatedAt:   s.clock.Now().UTC(),
	}
	if err := s.repo.CreateIdentity(ctx, id); err != nil {
		if errors.Is(err, ErrIdentityExists) {
			// Concurrent first sign-in; the other request created it.
			return s.repo.GetIdentityByEmail(ctx, p.Email)
		}
		return nil, err
	}
	return id, nil
}
