package auth_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/r2r72/x-auth-v1/internal/service/auth"
)

func TestLoginHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	claim := f.register(t, "alice@example.com")

	f.svc.VerifyPassword(ctx, auth.PasswordInput{
		Email:    "alice@example.com",
		Password: "wrong",
		Device:   device("dev-1"),
	})
	_, err := f.svc.VerifyPassword(ctx, auth.PasswordInput{
		Email:    "alice@example.com",
		Password: "correct horse 1",
		Device:   device("dev-1"),
	})
	require.NoError(t, err)

	attempts, err := f.svc.History(ctx, claim.IdentityID, 0)
	require.NoError(t, err)
	require.Len(t, attempts, 3) // registration + failure + success

	var failures, successes int
	for _, a := range attempts {
		if a.Success {
			successes++
		} else {
			failures++
			assert.Equal(t, "invalid_password", a.Reason)
		}
	}
	assert.Equal(t, 2, successes)
	assert.Equal(t, 1, failures)
}

func TestExportHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	claim := f.register(t, "alice@example.com")

	f.svc.VerifyPassword(ctx, auth.PasswordInput{
		Email:    "alice@example.com",
		Password: "wrong",
		Device:   device("dev-1"),
	})

	attempts, err := f.svc.History(ctx, claim.IdentityID, 0)
	require.NoError(t, err)

	var buf strings.Builder
	require.NoError(t, auth.ExportHistory(&buf, attempts))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	var outcomes []string
	for _, line := range lines {
		fields := strings.Split(line, "\t")
		require.Len(t, fields, 5, "timestamp, source, device, method, outcome")
		assert.Equal(t, "2025-06-01T12:00:00Z", fields[0])
		assert.Equal(t, "203.0.113.10", fields[1])
		assert.Equal(t, "password", fields[3])
		outcomes = append(outcomes, fields[4])
	}
	assert.ElementsMatch(t, []string{"ok", "invalid_password"}, outcomes)
}
