// Package auth provides authentication and authorization services.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/r2r72/x-auth-v1/internal/metrics"
	"github.com/r2r72/x-auth-v1/internal/ratelimit"
	"github.com/r2r72/x-auth-v1/internal/session"
)

const bcryptCost = 12

// CodeExchanger exchanges a federated authorization code for provider
// identity claims. Real OAuth clients implement this; the core only
// depends on the contract.
type CodeExchanger interface {
	Exchange(ctx context.Context, code string) (*ProviderIdentity, error)
}

// AssertionVerifier checks a passkey assertion signature against a
// stored public key and reports the authenticator's sign counter.
// A real WebAuthn relying party implements this.
type AssertionVerifier interface {
	VerifyAssertion(publicKey, authenticatorData, signature []byte) (signCount uint32, err error)
}

// ChallengeSender delivers an out-of-band device verification (emailed
// one-time link) to the identity's owner.
type ChallengeSender interface {
	SendChallenge(ctx context.Context, id *Identity, ch *Challenge) error
}

// Config holds service policy knobs.
type Config struct {
	TOTPIssuer           string
	ChallengeTTL         time.Duration // pending device challenge lifetime
	DeviceGrace          time.Duration // challenge-exempt window for new devices
	EnrollmentTTL        time.Duration // pending TOTP secret lifetime
	ExchangeTimeout      time.Duration // bound on the federated code exchange
	RequireVerifiedEmail bool          // reject unverified provider emails
	BackupCodeCount      int
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.TOTPIssuer == "" {
		out.TOTPIssuer = "x-auth"
	}
	if out.ChallengeTTL <= 0 {
		out.ChallengeTTL = 15 * time.Minute
	}
	if out.DeviceGrace <= 0 {
		out.DeviceGrace = 24 * time.Hour
	}
	if out.EnrollmentTTL <= 0 {
		out.EnrollmentTTL = 10 * time.Minute
	}
	if out.ExchangeTimeout <= 0 {
		out.ExchangeTimeout = 10 * time.Second
	}
	if out.BackupCodeCount <= 0 {
		out.BackupCodeCount = 10
	}
	return out
}

// AuthService is the main authentication service.
type AuthService struct {
	repo      Repository
	sessions  *session.Issuer
	limiter   ratelimit.Limiter
	exchanger CodeExchanger
	asserter  AssertionVerifier
	sender    ChallengeSender
	cfg       Config
	clock     clock.Clock
	log       *zap.Logger

	// compared against for unknown emails so the response shape and
	// timing match a wrong-password attempt
	dummyHash []byte
}

// NewAuthService creates a new AuthService.
func NewAuthService(
	repo Repository,
	sessions *session.Issuer,
	limiter ratelimit.Limiter,
	exchanger CodeExchanger,
	asserter AssertionVerifier,
	sender ChallengeSender,
	cfg Config,
	clk clock.Clock,
	log *zap.Logger,
) *AuthService {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("x-auth-dummy-password"), bcryptCost)
	if err != nil {
		panic("bcrypt: " + err.Error())
	}
	return &AuthService{
		repo:      repo,
		sessions:  sessions,
		limiter:   limiter,
		exchanger: exchanger,
		asserter:  asserter,
		sender:    sender,
		cfg:       cfg.withDefaults(),
		clock:     clk,
		log:       log,
		dummyHash: dummy,
	}
}

// === Rate limiting ===

// allowAttempt checks both the identity and the source-IP buckets
// before any credential work. ErrRateLimited never reveals whether the
// identity exists.
func (s *AuthService) allowAttempt(ctx context.Context, email, ip string) error {
	for _, key := range rateKeys(email, ip) {
		ok, err := s.limiter.Allow(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			metrics.LoginAttempts.WithLabelValues("any", "rate_limited").Inc()
			return ErrRateLimited
		}
	}
	return nil
}

func (s *AuthService) recordFailure(ctx context.Context, email, ip string) {
	for _, key := range rateKeys(email, ip) {
		if err := s.limiter.RecordFailure(ctx, key); err != nil {
			s.log.Warn("rate limiter record failed", zap.Error(err))
		}
	}
}

func (s *AuthService) clearFailures(ctx context.Context, email, ip string) {
	for _, key := range rateKeys(email, ip) {
		if err := s.limiter.Reset(ctx, key); err != nil {
			s.log.Warn("rate limiter reset failed", zap.Error(err))
		}
	}
}

func rateKeys(email, ip string) []string {
	keys := make([]string, 0, 2)
	if email != "" {
		keys = append(keys, "id:"+strings.ToLower(email))
	}
	if ip != "" {
		keys = append(keys, "ip:"+ip)
	}
	return keys
}

// === Audit ===

func (s *AuthService) audit(ctx context.Context, a *LoginAttempt) {
	a.Timestamp = s.clock.Now().UTC()
	if err := s.repo.LogLoginAttempt(ctx, a); err != nil {
		s.log.Warn("audit append failed", zap.Error(err))
	}
	outcome := "success"
	if !a.Success {
		outcome = a.Reason
	}
	metrics.LoginAttempts.WithLabelValues(string(a.Method), outcome).Inc()
}

func (s *AuthService) logFailed(ctx context.Context, email string, d DeviceInfo, method Method, identityID, reason string) {
	s.audit(ctx, &LoginAttempt{
		IdentityID: identityID,
		Email:      email,
		DeviceID:   d.DeviceID,
		IP:         d.IP,
		UserAgent:  d.UserAgent,
		Method:     method,
		Success:    false,
		Reason:     reason,
	})
}

func (s *AuthService) logSuccess(ctx context.Context, id *Identity, d DeviceInfo, method Method) {
	s.audit(ctx, &LoginAttempt{
		IdentityID: id.ID,
		Email:      id.Email,
		DeviceID:   d.DeviceID,
		IP:         d.IP,
		UserAgent:  d.UserAgent,
		Method:     method,
		Success:    true,
	})
}

func (id *Identity) claim(method Method) *IdentityClaim {
	return &IdentityClaim{
		IdentityID:  id.ID,
		Email:       id.Email,
		Role:        id.Role,
		AccountKind: id.AccountKind,
		Method:      method,
	}
}
