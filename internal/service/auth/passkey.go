package auth

import (
	"context"
	"fmt"
)

// VerifyPasskey authenticates a public-key assertion. Replay is
// rejected by requiring a strictly increasing authenticator sign
// counter; the counter advance is a compare-and-set so two concurrent
// assertions with the same counter cannot both pass.
func (s *AuthService) VerifyPasskey(ctx context.Context, input PasskeyInput) (*IdentityClaim, error) {
	if err := s.allowAttempt(ctx, "", input.Device.IP); err != nil {
		return nil, err
	}

	cred, err := s.repo.GetCredentialByPasskeyID(ctx, input.CredentialID)
	if err != nil {
		s.recordFailure(ctx, "", input.Device.IP)
		s.logFailed(ctx, "", input.Device, MethodPasskey, "", "passkey_unknown")
		return nil, ErrPasskeyUnknown
	}

	id, err := s.repo.GetIdentity(ctx, cred.IdentityID)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}

	count, err := s.asserter.VerifyAssertion(cred.PasskeyPublicKey, input.AuthenticatorData, input.Signature)
	if err != nil {
		s.recordFailure(ctx, id.Email, input.Device.IP)
		s.logFailed(ctx, id.Email, input.Device, MethodPasskey, id.ID, "invalid_signature")
		return nil, ErrPasskeyInvalidSignature
	}

	if count <= cred.PasskeySignCount {
		s.logFailed(ctx, id.Email, input.Device, MethodPasskey, id.ID, "replay_suspected")
		return nil, ErrPasskeyReplay
	}

	advanced, err := s.repo.AdvancePasskeyCounter(ctx, input.CredentialID, cred.PasskeySignCount, count)
	if err != nil {
		return nil, fmt.Errorf("advance sign counter: %w", err)
	}
	if !advanced {
		// A concurrent assertion won the counter race.
		s.logFailed(ctx, id.Email, input.Device, MethodPasskey, id.ID, "replay_suspected")
		return nil, ErrPasskeyReplay
	}

	s.clearFailures(ctx, id.Email, input.Device.IP)
	s.logSuccess(ctx, id, input.Device, MethodPasskey)
	return id.claim(MethodPasskey), nil
}

// RegisterPasskey stores a passkey credential for an identity.
// At most one passkey credential per identity.
func (s *AuthService) RegisterPasskey(ctx context.Context, identityID, credentialID string, publicKey []byte) error {
	if _, err := s.repo.GetIdentity(ctx, identityID); err != nil {
		return err
	}
	return s.repo.UpsertCredential(ctx, &Credential{
		IdentityID:          identityID,
		Method:              MethodPasskey,
		PasskeyCredentialID: credentialID,
		PasskeyPublicKey:    publicKey,
		PasskeySignCount:    0,
		CreatedAt:           s.clock.Now().UTC(),
	})
}
