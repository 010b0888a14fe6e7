package auth

import (
	"context"
	"errors"

	"github.com/r2r72/x-auth-v1/internal/metrics"
	"github.com/r2r72/x-auth-v1/internal/session"
)

// ErrDeviceNotTrusted rejects a structurally valid token whose device
// lost (or never gained) trust and has left the grace window.
var ErrDeviceNotTrusted = errors.New("device not trusted")

// IssueSession converts a verified identity claim plus a device
// decision into a signed session token. Issuing against a pending
// challenge fails closed.
func (s *AuthService) IssueSession(ctx context.Context, claim *IdentityClaim, decision *Decision, deviceID string) (string, error) {
	if decision == nil || !decision.Proceed {
		return "", session.ErrPendingChallenge
	}
	token, err := s.sessions.Issue(session.Claims{
		Subject:     claim.IdentityID,
		Role:        string(claim.Role),
		AccountKind: string(claim.AccountKind),
		Method:      string(claim.Method),
		DeviceID:    deviceID,
	})
	if err != nil {
		return "", err
	}
	metrics.SessionsIssued.Inc()
	return token, nil
}

// ValidateSession decodes and verifies a token and enforces the device
// invariant: the token's device must be trusted or still inside the
// challenge-exempt grace window.
func (s *AuthService) ValidateSession(ctx context.Context, token string) (*session.Claims, error) {
	claims, err := s.sessions.Validate(token)
	if err != nil {
		return nil, err
	}

	device, err := s.repo.GetDevice(ctx, claims.Subject, claims.DeviceID)
	if err != nil {
		return nil, ErrDeviceNotTrusted
	}
	if !device.Trusted && s.clock.Now().UTC().After(device.FirstSeenAt.Add(s.cfg.DeviceGrace)) {
		return nil, ErrDeviceNotTrusted
	}
	return claims, nil
}

// RefreshSession applies the sliding re-issue policy: after 24 hours
// of activity a token is re-signed with a fresh issue time, capped at
// the original max age. The same token comes back when re-issue is not
// yet due.
func (s *AuthService) RefreshSession(ctx context.Context, token string) (string, error) {
	if _, err := s.ValidateSession(ctx, token); err != nil {
		return "", err
	}
	return s.sessions.Reissue(token)
}
