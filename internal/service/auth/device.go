package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/r2r72/x-auth-v1/internal/metrics"
)

// Evaluate decides whether a verified login may proceed on the
// presenting device or must clear an out-of-band challenge first.
//
// Policy: federated logins are exempt (the provider already
// authenticated the identity independent of this device). An unknown
// device proceeds immediately only when the user asked to remember it;
// otherwise a pending challenge is created. Evaluation is idempotent:
// re-evaluating an unresolved challenge returns the same pending
// challenge without sending another verification.
func (s *AuthService) Evaluate(ctx context.Context, claim *IdentityClaim, info DeviceInfo, rememberRequested bool) (*Decision, error) {
	now := s.clock.Now().UTC()

	device, err := s.repo.GetDevice(ctx, claim.IdentityID, info.DeviceID)
	known := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("load device: %w", err)
	}

	if !known {
		device, err = s.repo.EnsureDevice(ctx, &Device{
			ID:          info.DeviceID,
			IdentityID:  claim.IdentityID,
			Label:       info.Label,
			Location:    info.Location,
			Trusted:     claim.Method == MethodFederated || rememberRequested,
			FirstSeenAt: now,
			LastSeenAt:  now,
		})
		if err != nil {
			return nil, fmt.Errorf("create device: %w", err)
		}
	}

	if claim.Method == MethodFederated {
		s.touch(ctx, device, now)
		return &Decision{Proceed: true}, nil
	}

	if !known && rememberRequested {
		// Explicit opt-in trades the challenge for convenience.
		if !device.Trusted {
			if err := s.repo.SetDeviceTrusted(ctx, claim.IdentityID, device.ID, true); err != nil {
				return nil, fmt.Errorf("trust device: %w", err)
			}
		}
		return &Decision{Proceed: true}, nil
	}

	if device.Trusted {
		s.touch(ctx, device, now)
		return &Decision{Proceed: true}, nil
	}

	reason := ChallengeNewDevice
	if known {
		reason = ChallengeUntrustedDevice
	}
	ch, err := s.pendingChallenge(ctx, claim, device, reason)
	if err != nil {
		return nil, err
	}
	return &Decision{Challenge: ch}, nil
}

// pendingChallenge returns the existing unresolved challenge for the
// device, or creates one and triggers its out-of-band delivery.
func (s *AuthService) pendingChallenge(ctx context.Context, claim *IdentityClaim, device *Device, reason ChallengeReason) (*Challenge, error) {
	now := s.clock.Now().UTC()

	ch, err := s.repo.GetPendingChallenge(ctx, claim.IdentityID, device.ID, now)
	if err == nil {
		return ch, nil
	}
	if !errors.Is(err, ErrChallengeNotFound) && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("load challenge: %w", err)
	}

	ch = &Challenge{
		ID:         uuid.NewString(),
		IdentityID: claim.IdentityID,
		DeviceID:   device.ID,
		Token:      uuid.NewString(),
		Reason:     reason,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.cfg.ChallengeTTL),
	}
	if err := s.repo.CreateChallenge(ctx, ch); err != nil {
		return nil, fmt.Errorf("create challenge: %w", err)
	}

	id, err := s.repo.GetIdentity(ctx, claim.IdentityID)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	if err := s.sender.SendChallenge(ctx, id, ch); err != nil {
		return nil, fmt.Errorf("send challenge: %w", err)
	}
	metrics.ChallengesSent.Inc()
	return ch, nil
}

// ResolveChallenge consumes a delivered challenge token and marks the
// device trusted. Resolving an already-resolved challenge succeeds, so
// a retried link stays idempotent.
func (s *AuthService) ResolveChallenge(ctx context.Context, token string) error {
	ch, err := s.repo.GetChallengeByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrChallengeNotFound
		}
		return err
	}

	now := s.clock.Now().UTC()
	if ch.ResolvedAt != nil {
		return nil
	}
	if now.After(ch.ExpiresAt) {
		return ErrChallengeExpired
	}

	if err := s.repo.SetDeviceTrusted(ctx, ch.IdentityID, ch.DeviceID, true); err != nil {
		return fmt.Errorf("trust device: %w", err)
	}
	return s.repo.ResolveChallenge(ctx, ch.ID, now)
}

func (s *AuthService) touch(ctx context.Context, d *Device, now time.Time) {
	if err := s.repo.TouchDevice(ctx, d.IdentityID, d.ID, now); err != nil {
		s.log.Warn("device touch failed", zap.Error(err))
	}
}
