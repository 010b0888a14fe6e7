// Package memory implements auth.Repository with in-process maps.
// It backs tests and single-instance development runs; the
// check-and-set operations hold the store mutex so they stay atomic
// under concurrent requests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	auth "github.com/r2r72/x-auth-v1/internal/service/auth"
)

type credKey struct {
	identityID string
	method     auth.Method
}

type deviceKey struct {
	identityID string
	deviceID   string
}

// Repository is the in-memory store.
type Repository struct {
	mu          sync.Mutex
	identities  map[string]auth.Identity // by id
	byEmail     map[string]string        // lower(email) -> id
	credentials map[credKey]auth.Credential
	byPasskeyID map[string]credKey
	backupCodes map[string]map[string]bool // identityID -> hash -> used
	devices     map[deviceKey]auth.Device
	challenges  map[string]auth.Challenge // by id
	byChToken   map[string]string         // token -> challenge id
	enrollments map[string]auth.PendingEnrollment
	attempts    []auth.LoginAttempt
}

func NewRepository() *Repository {
	return &Repository{
		identities:  make(map[string]auth.Identity),
		byEmail:     make(map[string]string),
		credentials: make(map[credKey]auth.Credential),
		byPasskeyID: make(map[string]credKey),
		backupCodes: make(map[string]map[string]bool),
		devices:     make(map[deviceKey]auth.Device),
		challenges:  make(map[string]auth.Challenge),
		byChToken:   make(map[string]string),
		enrollments: make(map[string]auth.PendingEnrollment),
	}
}

func (r *Repository) CreateIdentity(_ context.Context, id *auth.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	email := strings.ToLower(id.Email)
	if _, exists := r.byEmail[email]; exists {
		return auth.ErrIdentityExists
	}
	if _, exists := r.identities[id.ID]; exists {
		return auth.ErrIdentityExists
	}
	r.identities[id.ID] = *id
	r.byEmail[email] = id.ID
	return nil
}

func (r *Repository) GetIdentity(_ context.Context, identityID string) (*auth.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.identities[identityID]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &id, nil
}

func (r *Repository) GetIdentityByEmail(_ context.Context, email string) (*auth.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	identityID, ok := r.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, auth.ErrNotFound
	}
	id := r.identities[identityID]
	return &id, nil
}

func (r *Repository) UpsertCredential(_ context.Context, c *auth.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := credKey{c.IdentityID, c.Method}
	if prev, ok := r.credentials[key]; ok && prev.PasskeyCredentialID != "" {
		delete(r.byPasskeyID, prev.PasskeyCredentialID)
	}
	r.credentials[key] = *c
	if c.PasskeyCredentialID != "" {
		r.byPasskeyID[c.PasskeyCredentialID] = key
	}
	return nil
}

func (r *Repository) GetCredential(_ context.Context, identityID string, method auth.Method) (*auth.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.credentials[credKey{identityID, method}]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &c, nil
}

func (r *Repository) GetCredentialByPasskeyID(_ context.Context, passkeyCredentialID string) (*auth.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.byPasskeyID[passkeyCredentialID]
	if !ok {
		return nil, auth.ErrNotFound
	}
	c := r.credentials[key]
	return &c, nil
}

func (r *Repository) DeleteCredential(_ context.Context, identityID string, method auth.Method) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := credKey{identityID, method}
	if c, ok := r.credentials[key]; ok && c.PasskeyCredentialID != "" {
		delete(r.byPasskeyID, c.PasskeyCredentialID)
	}
	delete(r.credentials, key)
	return nil
}

func (r *Repository) AdvancePasskeyCounter(_ context.Context, passkeyCredentialID string, prev, next uint32) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.byPasskeyID[passkeyCredentialID]
	if !ok {
		return false, nil
	}
	c := r.credentials[key]
	if c.PasskeySignCount != prev {
		return false, nil
	}
	c.PasskeySignCount = next
	r.credentials[key] = c
	return true, nil
}

func (r *Repository) ReplaceBackupCodes(_ context.Context, identityID string, codeHashes []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(codeHashes) == 0 {
		delete(r.backupCodes, identityID)
		return nil
	}
	set := make(map[string]bool, len(codeHashes))
	for _, h := range codeHashes {
		set[h] = false
	}
	r.backupCodes[identityID] = set
	return nil
}

func (r *Repository) ConsumeBackupCode(_ context.Context, identityID, codeHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.backupCodes[identityID]
	if !ok {
		return false, nil
	}
	used, ok := set[codeHash]
	if !ok {
		return false, nil
	}
	if used {
		return false, auth.ErrBackupCodeUsed
	}
	set[codeHash] = true
	return true, nil
}

func (r *Repository) EnsureDevice(_ context.Context, d *auth.Device) (*auth.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := deviceKey{d.IdentityID, d.ID}
	if existing, ok := r.devices[key]; ok {
		return &existing, nil
	}
	r.devices[key] = *d
	out := *d
	return &out, nil
}

func (r *Repository) GetDevice(_ context.Context, identityID, deviceID string) (*auth.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[deviceKey{identityID, deviceID}]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &d, nil
}

func (r *Repository) SetDeviceTrusted(_ context.Context, identityID, deviceID string, trusted bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := deviceKey{identityID, deviceID}
	d, ok := r.devices[key]
	if !ok {
		return auth.ErrNotFound
	}
	d.Trusted = trusted
	r.devices[key] = d
	return nil
}

func (r *Repository) TouchDevice(_ context.Context, identityID, deviceID string, seenAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := deviceKey{identityID, deviceID}
	d, ok := r.devices[key]
	if !ok {
		return auth.ErrNotFound
	}
	d.LastSeenAt = seenAt
	r.devices[key] = d
	return nil
}

func (r *Repository) CreateChallenge(_ context.Context, c *auth.Challenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.challenges[c.ID] = *c
	r.byChToken[c.Token] = c.ID
	return nil
}

func (r *Repository) GetPendingChallenge(_ context.Context, identityID, deviceID string, now time.Time) (*auth.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.challenges {
		if c.IdentityID == identityID && c.DeviceID == deviceID &&
			c.ResolvedAt == nil && now.Before(c.ExpiresAt) {
			out := c
			return &out, nil
		}
	}
	return nil, auth.ErrChallengeNotFound
}

func (r *Repository) GetChallengeByToken(_ context.Context, token string) (*auth.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byChToken[token]
	if !ok {
		return nil, auth.ErrNotFound
	}
	c := r.challenges[id]
	return &c, nil
}

func (r *Repository) ResolveChallenge(_ context.Context, challengeID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.challenges[challengeID]
	if !ok {
		return auth.ErrNotFound
	}
	if c.ResolvedAt == nil {
		t := at
		c.ResolvedAt = &t
		r.challenges[challengeID] = c
	}
	return nil
}

func (r *Repository) PutPendingEnrollment(_ context.Context, e *auth.PendingEnrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enrollments[e.IdentityID] = *e
	return nil
}

func (r *Repository) GetPendingEnrollment(_ context.Context, identityID string) (*auth.PendingEnrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.enrollments[identityID]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &e, nil
}

func (r *Repository) DeletePendingEnrollment(_ context.Context, identityID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.enrollments, identityID)
	return nil
}

func (r *Repository) LogLoginAttempt(_ context.Context, a *auth.LoginAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, *a)
	return nil
}

func (r *Repository) ListLoginAttempts(_ context.Context, identityID string, limit int) ([]auth.LoginAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []auth.LoginAttempt
	for _, a := range r.attempts {
		if a.IdentityID == identityID {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
