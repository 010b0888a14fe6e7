package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// backupCodeAlphabet avoids ambiguous characters (0/O, 1/I/L).
const backupCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const backupCodeLength = 6

var totpOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1, // current window plus one step either side for clock drift
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// BeginEnrollment starts TOTP enrollment: a fresh 160-bit secret is
// generated and returned as a provisioning URI and as base32 text.
// The secret stays pending until ConfirmEnrollment proves the user's
// authenticator produces matching codes.
func (s *AuthService) BeginEnrollment(ctx context.Context, identityID string) (*EnrollmentSetup, error) {
	id, err := s.repo.GetIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.GetCredential(ctx, identityID, MethodTOTP); err == nil {
		return nil, ErrTwoFactorEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.cfg.TOTPIssuer,
		AccountName: id.Email,
		SecretSize:  20, // 160 bits
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}

	now := s.clock.Now().UTC()
	if err := s.repo.PutPendingEnrollment(ctx, &PendingEnrollment{
		IdentityID: identityID,
		Secret:     key.Secret(),
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.cfg.EnrollmentTTL),
	}); err != nil {
		return nil, fmt.Errorf("store pending enrollment: %w", err)
	}

	return &EnrollmentSetup{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
	}, nil
}

// ConfirmEnrollment verifies a code against the pending secret. On
// success two-factor is enabled and the backup-code set is generated
// and returned — the only time the codes exist in plaintext. On
// failure the enrollment stays pending and the attempt counts against
// the rate limiter.
func (s *AuthService) ConfirmEnrollment(ctx context.Context, identityID, code string) ([]string, error) {
	id, err := s.repo.GetIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}

	if err := s.allowAttempt(ctx, id.Email, ""); err != nil {
		return nil, err
	}

	pending, err := s.repo.GetPendingEnrollment(ctx, identityID)
	if err != nil {
		return nil, ErrEnrollmentNotFound
	}
	if s.clock.Now().UTC().After(pending.ExpiresAt) {
		s.repo.DeletePendingEnrollment(ctx, identityID)
		return nil, ErrEnrollmentNotFound
	}

	if !s.validTOTP(pending.Secret, code) {
		s.recordFailure(ctx, id.Email, "")
		return nil, ErrTotpInvalid
	}

	now := s.clock.Now().UTC()
	if err := s.repo.UpsertCredential(ctx, &Credential{
		IdentityID: identityID,
		Method:     MethodTOTP,
		TOTPSecret: pending.Secret,
		CreatedAt:  now,
	}); err != nil {
		return nil, fmt.Errorf("store totp credential: %w", err)
	}

	codes, hashes, err := generateBackupCodes(s.cfg.BackupCodeCount)
	if err != nil {
		return nil, fmt.Errorf("generate backup codes: %w", err)
	}
	if err := s.repo.ReplaceBackupCodes(ctx, identityID, hashes); err != nil {
		return nil, fmt.Errorf("store backup codes: %w", err)
	}

	if err := s.repo.DeletePendingEnrollment(ctx, identityID); err != nil {
		s.log.Warn("pending enrollment cleanup failed", zap.Error(err))
	}
	s.clearFailures(ctx, id.Email, "")
	return codes, nil
}

// DisableTwoFactor removes the TOTP credential and backup codes. It
// independently re-verifies the password or spends a backup code, so a
// hijacked session cannot silently downgrade the account.
func (s *AuthService) DisableTwoFactor(ctx context.Context, identityID, password, backupCode string) error {
	if _, err := s.repo.GetCredential(ctx, identityID, MethodTOTP); err != nil {
		return ErrTwoFactorDisabled
	}

	verified := false
	switch {
	case password != "":
		cred, err := s.repo.GetCredential(ctx, identityID, MethodPassword)
		if err != nil {
			return ErrInvalidCredentials
		}
		if bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)) != nil {
			return ErrInvalidCredentials
		}
		verified = true
	case backupCode != "":
		used, err := s.repo.ConsumeBackupCode(ctx, identityID, hashBackupCode(backupCode))
		if errors.Is(err, ErrBackupCodeUsed) {
			return ErrBackupCodeUsed
		}
		if err != nil {
			return fmt.Errorf("consume backup code: %w", err)
		}
		if !used {
			return ErrInvalidCredentials
		}
		verified = true
	}
	if !verified {
		return ErrInvalidCredentials
	}

	if err := s.repo.DeleteCredential(ctx, identityID, MethodTOTP); err != nil {
		return fmt.Errorf("delete totp credential: %w", err)
	}
	return s.repo.ReplaceBackupCodes(ctx, identityID, nil)
}

// validTOTP checks a code against the current time window with skew
// tolerance of one step either side.
func (s *AuthService) validTOTP(secret, code string) bool {
	ok, err := totp.ValidateCustom(code, secret, s.clock.Now().UTC(), totpOpts)
	return err == nil && ok
}

func generateBackupCodes(n int) (codes, hashes []string, err error) {
	codes = make([]string, 0, n)
	hashes = make([]string, 0, n)
	for i := 0; i < n; i++ {
		code, err := randomCode(backupCodeLength)
		if err != nil {
			return nil, nil, err
		}
		codes = append(codes, code)
		hashes = append(hashes, hashBackupCode(code))
	}
	return codes, hashes, nil
}

func randomCode(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, length)
	for i, b := range buf {
		out[i] = backupCodeAlphabet[int(b)%len(backupCodeAlphabet)]
	}
	return string(out), nil
}

// hashBackupCode produces the deterministic digest stored in place of
// the plaintext code; consumption looks codes up by this digest.
func hashBackupCode(code string) string {
	sum := sha256.Sum256([]byte(normalizeCode(code)))
	return hex.EncodeToString(sum[:])
}

func normalizeCode(code string) string {
	out := make([]byte, 0, len(code))
	for i := 0; i < len(code); i++ {
		c := code[i]
		if c == ' ' || c == '-' {
			continue
		}
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}
