package auth

import (
	"context"
	"errors"
	"time"
)

// Repository is the interface for persistence operations.
// Implemented by pg.Repository and memory.Repository.
//
// ConsumeBackupCode, AdvancePasskeyCounter and EnsureDevice are
// check-and-set operations: they must be atomic under concurrent calls
// for the same identity.
type Repository interface {
	CreateIdentity(ctx context.Context, id *Identity) error
	GetIdentity(ctx context.Context, identityID string) (*Identity, error)
	GetIdentityByEmail(ctx context.Context, email string) (*Identity, error)

	UpsertCredential(ctx context.Context, c *Credential) error
	GetCredential(ctx context.Context, identityID string, method Method) (*Credential, error)
	GetCredentialByPasskeyID(ctx context.Context, passkeyCredentialID string) (*Credential, error)
	DeleteCredential(ctx context.Context, identityID string, method Method) error

	// AdvancePasskeyCounter sets the sign counter to next only if it
	// still equals prev. Returns false when another request advanced it
	// first or the credential is gone.
	AdvancePasskeyCounter(ctx context.Context, passkeyCredentialID string, prev, next uint32) (bool, error)

	// ReplaceBackupCodes replaces the full backup-code set. An empty
	// slice clears it.
	ReplaceBackupCodes(ctx context.Context, identityID string, codeHashes []string) error

	// ConsumeBackupCode marks the code with the given hash used.
	// Returns true only for the single caller that spent it;
	// an already-spent code returns ErrBackupCodeUsed so the failure
	// is distinguishable from an unknown code.
	ConsumeBackupCode(ctx context.Context, identityID, codeHash string) (bool, error)

	// EnsureDevice creates the device if unseen, returning the stored
	// record either way. First writer wins under a race.
	EnsureDevice(ctx context.Context, d *Device) (*Device, error)
	GetDevice(ctx context.Context, identityID, deviceID string) (*Device, error)
	SetDeviceTrusted(ctx context.Context, identityID, deviceID string, trusted bool) error
	TouchDevice(ctx context.Context, identityID, deviceID string, seenAt time.Time) error

	CreateChallenge(ctx context.Context, c *Challenge) error
	// GetPendingChallenge returns the unresolved, unexpired challenge
	// for the device, or ErrChallengeNotFound.
	GetPendingChallenge(ctx context.Context, identityID, deviceID string, now time.Time) (*Challenge, error)
	GetChallengeByToken(ctx context.Context, token string) (*Challenge, error)
	ResolveChallenge(ctx context.Context, challengeID string, at time.Time) error

	PutPendingEnrollment(ctx context.Context, e *PendingEnrollment) error
	GetPendingEnrollment(ctx context.Context, identityID string) (*PendingEnrollment, error)
	DeletePendingEnrollment(ctx context.Context, identityID string) error

	LogLoginAttempt(ctx context.Context, a *LoginAttempt) error
	ListLoginAttempts(ctx context.Context, identityID string, limit int) ([]LoginAttempt, error)
}

// ErrNotFound is returned by repositories for missing records.
var ErrNotFound = errors.New("record not found")
