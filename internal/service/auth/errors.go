package auth

import "errors"

var (
	ErrIdentityExists     = errors.New("identity already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidPassword    = errors.New("password does not meet policy")

	// Distinguishable second-factor failures: the caller re-prompts for
	// the missing factor without re-asking the password.
	ErrTotpRequired = errors.New("totp code required")
	ErrTotpInvalid  = errors.New("invalid totp code")

	ErrBackupCodeUsed = errors.New("backup code already used")

	ErrPasskeyUnknown          = errors.New("unknown passkey credential")
	ErrPasskeyInvalidSignature = errors.New("passkey signature verification failed")
	ErrPasskeyReplay           = errors.New("passkey replay suspected")

	ErrProviderError           = errors.New("provider exchange failed")
	ErrProviderEmailUnverified = errors.New("provider email not verified")

	ErrRateLimited = errors.New("too many failed attempts")

	ErrChallengeNotFound = errors.New("challenge not found")
	ErrChallengeExpired  = errors.New("challenge expired")

	ErrEnrollmentNotFound = errors.New("no pending enrollment")
	ErrTwoFactorEnabled   = errors.New("two-factor already enabled")
	ErrTwoFactorDisabled  = errors.New("two-factor not enabled")
)
