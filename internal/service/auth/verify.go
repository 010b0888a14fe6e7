package auth

import (
	"context"
	"fmt"
)

// Verify dispatches a credential presentation to the verifier named by
// its method discriminant.
func (s *AuthService) Verify(ctx context.Context, p Presentation) (*IdentityClaim, error) {
	switch p.Method {
	case MethodPassword:
		if p.Password == nil {
			return nil, fmt.Errorf("presentation: missing password input")
		}
		return s.VerifyPassword(ctx, *p.Password)
	case MethodPasskey:
		if p.Passkey == nil {
			return nil, fmt.Errorf("presentation: missing passkey input")
		}
		return s.VerifyPasskey(ctx, *p.Passkey)
	case MethodFederated:
		if p.Federated == nil {
			return nil, fmt.Errorf("presentation: missing federated input")
		}
		return s.VerifyFederated(ctx, *p.Federated)
	default:
		return nil, fmt.Errorf("presentation: unknown method %q", p.Method)
	}
}
