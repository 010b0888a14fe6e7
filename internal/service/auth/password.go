package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Register creates a new identity with a password credential.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*IdentityClaim, error) {
	if len(input.Password) < 8 || !hasDigit(input.Password) || !hasLetter(input.Password) {
		return nil, ErrInvalidPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("bcrypt: %w", err)
	}

	kind := input.AccountKind
	if kind == "" {
		kind = AccountIndividual
	}

	id := &Identity{
		ID:          uuid.NewString(),
		DisplayName: input.DisplayName,
		Email:       input.Email,
		Role:        RoleUser,
		AccountKind: kind,
		GroupName:   input.GroupName,
		Verified:    false,
		CreatedAt:   s.clock.Now().UTC(),
	}

	if err := s.repo.CreateIdentity(ctx, id); err != nil {
		return nil, err
	}

	if err := s.repo.UpsertCredential(ctx, &Credential{
		IdentityID:   id.ID,
		Method:       MethodPassword,
		PasswordHash: string(hash),
		CreatedAt:    id.CreatedAt,
	}); err != nil {
		return nil, fmt.Errorf("store credential: %w", err)
	}

	s.audit(ctx, &LoginAttempt{
		IdentityID: id.ID,
		Email:      id.Email,
		DeviceID:   input.Device.DeviceID,
		IP:         input.Device.IP,
		UserAgent:  input.Device.UserAgent,
		Method:     MethodPassword,
		Success:    true,
		Reason:     "registration",
	})

	return id.claim(MethodPassword), nil
}

// VerifyPassword authenticates an email/password pair and, when the
// identity has two-factor enabled, its second factor. TOTP failures are
// distinguishable from bad credentials so the caller can re-prompt for
// the second factor alone.
func (s *AuthService) VerifyPassword(ctx context.Context, input PasswordInput) (*IdentityClaim, error) {
	if err := s.allowAttempt(ctx, input.Email, input.Device.IP); err != nil {
		return nil, err
	}

	id, err := s.repo.GetIdentityByEmail(ctx, input.Email)
	if err != nil {
		// Always compare — timing attack protection
		bcrypt.CompareHashAndPassword(s.dummyHash, []byte(input.Password))
		s.recordFailure(ctx, input.Email, input.Device.IP)
		s.logFailed(ctx, input.Email, input.Device, MethodPassword, "", "identity_not_found")
		return nil, ErrInvalidCredentials
	}

	cred, err := s.repo.GetCredential(ctx, id.ID, MethodPassword)
	if err != nil {
		bcrypt.CompareHashAndPassword(s.dummyHash, []byte(input.Password))
		s.recordFailure(ctx, input.Email, input.Device.IP)
		s.logFailed(ctx, input.Email, input.Device, MethodPassword, id.ID, "no_password_credential")
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(input.Password)); err != nil {
		s.recordFailure(ctx, input.Email, input.Device.IP)
		s.logFailed(ctx, input.Email, input.Device, MethodPassword, id.ID, "invalid_password")
		return nil, ErrInvalidCredentials
	}

	if err := s.checkSecondFactor(ctx, id, input); err != nil {
		return nil, err
	}

	s.clearFailures(ctx, input.Email, input.Device.IP)
	s.logSuccess(ctx, id, input.Device, MethodPassword)
	return id.claim(MethodPassword), nil
}

// checkSecondFactor enforces TOTP when enrolled. A backup code is
// accepted in place of a TOTP code and is consumed atomically: under a
// race only one request spends it.
func (s *AuthService) checkSecondFactor(ctx context.Context, id *Identity, input PasswordInput) error {
	totpCred, err := s.repo.GetCredential(ctx, id.ID, MethodTOTP)
	if err != nil {
		return nil // two-factor not enabled
	}

	if input.TOTPCode == "" {
		s.logFailed(ctx, input.Email, input.Device, MethodPassword, id.ID, "totp_required")
		return ErrTotpRequired
	}

	if isDigits(input.TOTPCode) && s.validTOTP(totpCred.TOTPSecret, input.TOTPCode) {
		return nil
	}

	used, err := s.repo.ConsumeBackupCode(ctx, id.ID, hashBackupCode(input.TOTPCode))
	if errors.Is(err, ErrBackupCodeUsed) {
		s.recordFailure(ctx, input.Email, input.Device.IP)
		s.logFailed(ctx, input.Email, input.Device, MethodPassword, id.ID, "backup_code_used")
		return ErrBackupCodeUsed
	}
	if err != nil {
		return fmt.Errorf("consume backup code: %w", err)
	}
	if used {
		return nil
	}

	s.recordFailure(ctx, input.Email, input.Device.IP)
	s.logFailed(ctx, input.Email, input.Device, MethodPassword, id.ID, "totp_invalid")
	return ErrTotpInvalid
}

func hasDigit(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}

func hasLetter(s string) bool {
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			return true
		}
	}
	return false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
