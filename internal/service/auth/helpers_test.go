package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/r2r72/x-auth-v1/internal/ratelimit"
	"github.com/r2r72/x-auth-v1/internal/repository/memory"
	auth "github.com/r2r72/x-auth-v1/internal/service/auth"
	"github.com/r2r72/x-auth-v1/internal/session"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

var testKeys = map[string][]byte{
	"k1": []byte("0123456789abcdef0123456789abcdef"),
}

type fakeExchanger struct {
	identity *auth.ProviderIdentity
	err      error
	calls    int
}

func (f *fakeExchanger) Exchange(_ context.Context, _ string) (*auth.ProviderIdentity, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.identity, nil
}

type fakeAsserter struct {
	count uint32
	err   error
}

func (f *fakeAsserter) VerifyAssertion(_, _, _ []byte) (uint32, error) {
	return f.count, f.err
}

type fakeSender struct {
	sent []*auth.Challenge
	err  error
}

func (f *fakeSender) SendChallenge(_ context.Context, _ *auth.Identity, ch *auth.Challenge) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, ch)
	return nil
}

type fixture struct {
	svc       *auth.AuthService
	repo      *memory.Repository
	clock     *clock.Mock
	issuer    *session.Issuer
	exchanger *fakeExchanger
	asserter  *fakeAsserter
	sender    *fakeSender
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mock := clock.NewMock()
	mock.Set(testStart)

	issuer, err := session.NewIssuer(testKeys, "k1", 30*24*time.Hour, 24*time.Hour, mock)
	require.NoError(t, err)

	f := &fixture{
		repo:      memory.NewRepository(),
		clock:     mock,
		issuer:    issuer,
		exchanger: &fakeExchanger{},
		asserter:  &fakeAsserter{},
		sender:    &fakeSender{},
	}
	f.svc = auth.NewAuthService(
		f.repo,
		issuer,
		ratelimit.NewMemoryLimiter(15*time.Minute, 6, mock),
		f.exchanger,
		f.asserter,
		f.sender,
		auth.Config{RequireVerifiedEmail: true},
		mock,
		nil,
	)
	return f
}

func (f *fixture) register(t *testing.T, email string) *auth.IdentityClaim {
	t.Helper()
	claim, err := f.svc.Register(context.Background(), auth.RegisterInput{
		Email:       email,
		DisplayName: "Test User",
		Password:    "correct horse 1",
		Device:      device("dev-reg"),
	})
	require.NoError(t, err)
	return claim
}

// enrollTOTP walks the full enrollment state machine and returns the
// shared secret and the backup codes.
func (f *fixture) enrollTOTP(t *testing.T, identityID string) (string, []string) {
	t.Helper()
	setup, err := f.svc.BeginEnrollment(context.Background(), identityID)
	require.NoError(t, err)

	codes, err := f.svc.ConfirmEnrollment(context.Background(), identityID, totpCode(t, setup.Secret, f.clock.Now()))
	require.NoError(t, err)
	return setup.Secret, codes
}

func totpCode(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

func device(id string) auth.DeviceInfo {
	return auth.DeviceInfo{
		DeviceID:  id,
		Label:     "Test Browser",
		IP:        "203.0.113.10",
		UserAgent: "go-test",
	}
}

var errBoom = errors.New("boom")
