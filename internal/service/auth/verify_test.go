package auth_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/r2r72/x-auth-v1/internal/service/auth"
)

func TestVerifyDispatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "alice@example.com")

	t.Run("dispatches by method", func(t *testing.T) {
		claim, err := f.svc.Verify(ctx, auth.Presentation{
			Method: auth.MethodPassword,
			Password: &auth.PasswordInput{
				Email:    "alice@example.com",
				Password: "correct horse 1",
				Device:   device("dev-1"),
			},
		})
		require.NoError(t, err)
		assert.Equal(t, auth.MethodPassword, claim.Method)
	})

	t.Run("rejects missing variant", func(t *testing.T) {
		_, err := f.svc.Verify(ctx, auth.Presentation{Method: auth.MethodPasskey})
		assert.Error(t, err)
	})

	t.Run("rejects unknown method", func(t *testing.T) {
		_, err := f.svc.Verify(ctx, auth.Presentation{Method: "smoke-signal"})
		assert.Error(t, err)
	})
}
