package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/r2r72/x-auth-v1/internal/service/auth"
)

func TestVerifyPassword(t *testing.T) {
	ctx := context.Background()

	t.Run("valid credentials", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "alice@example.com")

		claim, err := f.svc.VerifyPassword(ctx, auth.PasswordInput{
			Email:    "alice@example.com",
			Password: "correct horse 1",
			Device:   device("dev-1"),
		})
		require.NoError(t, err)
		assert.Equal(t, auth.MethodPassword, claim.Method)
		assert.Equal(t, auth.RoleUser, claim.Role)
		assert.Equal(t, "alice@example.com", claim.Email)
	})

	t.Run("wrong password", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "alice@example.com")

		_, err := f.svc.VerifyPassword(ctx, auth.PasswordInput{
			Email:    "alice@example.com",
			Password: "wrong",
			Device:   device("dev-1"),
		})
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})

	t.Run("unknown email has same error as wrong password", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "alice@example.com")

		_, errUnknown := f.svc.VerifyPassword(ctx, auth.PasswordInput{
			Email:    "nobody@example.com",
			Password: "whatever1",
			Device:   device("dev-1"),
		})
		_, errWrong := f.svc.VerifyPassword(ctx, auth.PasswordInput{
			Email:    "alice@example.com",
			Password: "wrong",
			Device:   device("dev-1"),
		})
		assert.ErrorIs(t, errUnknown, auth.ErrInvalidCredentials)
		assert.Equal(t, errWrong, errUnknown)
	})

	t.Run("weak registration password rejected", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Register(ctx, auth.RegisterInput{
			Email:    "bob@example.com",
			Password: "short1",
			Device:   device("dev-1"),
		})
		assert.ErrorIs(t, err, auth.ErrInvalidPassword)
	})
}

func TestVerifyPasswordWithTOTP(t *testing.T) {
	ctx := context.Background()

	login := func(f *fixture, code string) (*auth.IdentityClaim, error) {
		return f.svc.VerifyPassword(ctx, auth.PasswordInput{
			Email:    "alice@example.com",
			Password: "correct horse 1",
			TOTPCode: code,
			Device:   device("dev-1"),
		})
	}

	t.Run("missing code is TotpRequired, not InvalidCredentials", func(t *testing.T) {
		f := newFixture(t)
		claim := f.register(t, "alice@example.com")
		f.enrollTOTP(t, claim.IdentityID)

		_, err := login(f, "")
		assert.ErrorIs(t, err, auth.ErrTotpRequired)
	})

	t.Run("correct code issues claim with password method", func(t *testing.T) {
		f := newFixture(t)
		claim := f.register(t, "alice@example.com")
		secret, _ := f.enrollTOTP(t, claim.IdentityID)

		got, err := login(f, totpCode(t, secret, f.clock.Now()))
		require.NoError(t, err)
		assert.Equal(t, auth.MethodPassword, got.Method)
	})

	t.Run("adjacent windows tolerated, two steps rejected", func(t *testing.T) {
		f := newFixture(t)
		claim := f.register(t, "alice@example.com")
		secret, _ := f.enrollTOTP(t, claim.IdentityID)
		now := f.clock.Now()

		for _, at := range []time.Time{now, now.Add(-30 * time.Second), now.Add(30 * time.Second)} {
			_, err := login(f, totpCode(t, secret, at))
			assert.NoError(t, err, "code at %v should validate", at)
		}

		_, err := login(f, totpCode(t, secret, now.Add(60*time.Second)))
		assert.ErrorIs(t, err, auth.ErrTotpInvalid)
	})

	t.Run("wrong code is TotpInvalid", func(t *testing.T) {
		f := newFixture(t)
		claim := f.register(t, "alice@example.com")
		f.enrollTOTP(t, claim.IdentityID)

		_, err := login(f, "000000")
		assert.ErrorIs(t, err, auth.ErrTotpInvalid)
	})
}

func TestBackupCodes(t *testing.T) {
	ctx := context.Background()

	t.Run("code substitutes for totp exactly once", func(t *testing.T) {
		f := newFixture(t)
		claim := f.register(t, "alice@example.com")
		_, codes := f.enrollTOTP(t, claim.IdentityID)
		require.Len(t, codes, 10)

		in := auth.PasswordInput{
			Email:    "alice@example.com",
			Password: "correct horse 1",
			TOTPCode: codes[0],
			Device:   device("dev-1"),
		}
		_, err := f.svc.VerifyPassword(ctx, in)
		require.NoError(t, err)

		_, err = f.svc.VerifyPassword(ctx, in)
		assert.ErrorIs(t, err, auth.ErrBackupCodeUsed, "second spend must be distinguishable from a wrong code")
	})

	t.Run("no double spend under concurrency", func(t *testing.T) {
		f := newFixture(t)
		claim := f.register(t, "alice@example.com")
		_, codes := f.enrollTOTP(t, claim.IdentityID)

		const workers = 8
		var wg sync.WaitGroup
		results := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.svc.VerifyPassword(ctx, auth.PasswordInput{
					Email:    "alice@example.com",
					Password: "correct horse 1",
					TOTPCode: codes[1],
					Device:   device("dev-1"),
				})
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		succeeded := 0
		for err := range results {
			if err == nil {
				succeeded++
			}
		}
		assert.Equal(t, 1, succeeded, "exactly one concurrent spend may win")
	})
}

func TestRateLimiting(t *testing.T) {
	ctx := context.Background()

	t.Run("seventh attempt limited regardless of password", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "alice@example.com")

		for i := 0; i < 6; i++ {
			_, err := f.svc.VerifyPassword(ctx, auth.PasswordInput{
				Email:    "alice@example.com",
				Password: "wrong",
				Device:   device("dev-1"),
			})
			require.ErrorIs(t, err, auth.ErrInvalidCredentials)
		}

		// Correct password: still limited.
		_, err := f.svc.VerifyPassword(ctx, auth.PasswordInput{
			Email:    "alice@example.com",
			Password: "correct horse 1",
			Device:   device("dev-1"),
		})
		assert.ErrorIs(t, err, auth.ErrRateLimited)
	})

	t.Run("window expiry clears the bucket", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "alice@example.com")

		for i := 0; i < 6; i++ {
			f.svc.VerifyPassword(ctx, auth.PasswordInput{
				Email:    "alice@example.com",
				Password: "wrong",
				Device:   device("dev-1"),
			})
		}
		f.clock.Add(16 * time.Minute)

		_, err := f.svc.VerifyPassword(ctx, auth.PasswordInput{
			Email:    "alice@example.com",
			Password: "correct horse 1",
			Device:   device("dev-1"),
		})
		assert.NoError(t, err)
	})
}
