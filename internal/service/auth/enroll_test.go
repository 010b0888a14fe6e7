package auth_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/r2r72/x-auth-v1/internal/service/auth"
)

func TestEnrollment(t *testing.T) {
	ctx := context.Background()

	t.Run("setup returns provisioning uri and base32 secret", func(t *testing.T) {
		f := newFixture(t)
		claim := f.register(t, "alice@example.com")

		setup, err := f.svc.BeginEnrollment(ctx, claim.IdentityID)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(setup.Secret), 32, "160-bit secret is 32 base32 chars")
		assert.True(t, strings.HasPrefix(setup.ProvisioningURI, "otpauth://totp/"))
		assert.Contains(t, setup.ProvisioningURI, "secret="+setup.Secret)
		assert.Contains(t, setup.ProvisioningURI, "issuer=")

		// Secret is pending, not active: password login needs no code.
		_, err = f.svc.VerifyPassword(ctx, auth.PasswordInput{
			Email:    "alice@example.com",
			Password: "correct horse 1",
			Device:   device("dev-1"),
		})
		assert.NoError(t, err)
	})

	t.Run("wrong code keeps enrollment pending", func(t *testing.T) {
		f := newFixture(t)
		claim := f.register(t, "alice@example.com")
		setup, err := f.svc.BeginEnrollment(ctx, claim.IdentityID)
		require.NoError(t, err)

		_, err = f.svc.ConfirmEnrollment(ctx, claim.IdentityID, "000000")
		assert.ErrorIs(t, err, auth.ErrTotpInvalid)

		// Correct code still completes afterwards.
		codes, err := f.svc.ConfirmEnrollment(ctx, claim.IdentityID, totpCode(t, setup.Secret, f.clock.Now()))
		require.NoError(t, err)
		assert.Len(t, codes, 10)
	})

	t.Run("confirm accepts adjacent window", func(t *testing.T) {
		f := newFixture(t)
		claim := f.register(t, "alice@example.com")
		setup, err := f.svc.BeginEnrollment(ctx, claim.IdentityID)
		require.NoError(t, err)

		// Authenticator clock one step behind.
		code := totpCode(t, setup.Secret, f.clock.Now().Add(-30*time.Second))
		_, err = f.svc.ConfirmEnrollment(ctx, claim.IdentityID, code)
		assert.NoError(t, err)
	})

	t.Run("backup codes are six chars and unique", func(t *testing.T) {
		f := newFixture(t)
		claim := f.register(t, "alice@example.com")
		_, codes := f.enrollTOTP(t, claim.IdentityID)

		seen := make(map[string]bool)
		for _, code := range codes {
			assert.Len(t, code, 6)
			assert.False(t, seen[code], "duplicate backup code")
			seen[code] = true
		}
	})

	t.Run("expired pending enrollment rejected", func(t *testing.T) {
		f := newFixture(t)
		claim := f.register(t, "alice@example.com")
		setup, err := f.svc.BeginEnrollment(ctx, claim.IdentityID)
		require.NoError(t, err)

		f.clock.Add(11 * time.Minute)
		_, err = f.svc.ConfirmEnrollment(ctx, claim.IdentityID, totpCode(t, setup.Secret, f.clock.Now()))
		assert.ErrorIs(t, err, auth.ErrEnrollmentNotFound)
	})

	t.Run("second enrollment while enabled rejected", func(t *testing.T) {
		f := newFixture(t)
		claim := f.register(t, "alice@example.com")
		f.enrollTOTP(t, claim.IdentityID)

		_, err := f.svc.BeginEnrollment(ctx, claim.IdentityID)
		assert.ErrorIs(t, err, auth.ErrTwoFactorEnabled)
	})
}

func TestDisableTwoFactor(t *testing.T) {
	ctx := context.Background()

	t.Run("password re-verification required", func(t *testing.T) {
		f := newFixture(t)
		claim := f.register(t, "alice@example.com")
		f.enrollTOTP(t, claim.IdentityID)

		err := f.svc.DisableTwoFactor(ctx, claim.IdentityID, "wrong", "")
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

		err = f.svc.DisableTwoFactor(ctx, claim.IdentityID, "", "")
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

		require.NoError(t, f.svc.DisableTwoFactor(ctx, claim.IdentityID, "correct horse 1", ""))

		// Password login no longer needs a code.
		_, err = f.svc.VerifyPassword(ctx, auth.PasswordInput{
			Email:    "alice@example.com",
			Password: "correct horse 1",
			Device:   device("dev-1"),
		})
		assert.NoError(t, err)
	})

	t.Run("backup code verifies the disable", func(t *testing.T) {
		f := newFixture(t)
		claim := f.register(t, "alice@example.com")
		_, codes := f.enrollTOTP(t, claim.IdentityID)

		require.NoError(t, f.svc.DisableTwoFactor(ctx, claim.IdentityID, "", codes[0]))
	})

	t.Run("disable without enrollment rejected", func(t *testing.T) {
		f := newFixture(t)
		claim := f.register(t, "alice@example.com")
		err := f.svc.DisableTwoFactor(ctx, claim.IdentityID, "correct horse 1", "")
		assert.ErrorIs(t, err, auth.ErrTwoFactorDisabled)
	})
}
