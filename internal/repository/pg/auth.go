// internal/repository/pg/auth.go
package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	auth "github.com/r2r72/x-auth-v1/internal/service/auth"
)

// Repository implements auth.Repository on PostgreSQL. Check-and-set
// operations rely on single-statement atomicity: conditional UPDATEs
// and DELETEs report affected rows, so exactly one concurrent caller
// wins.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateIdentity(ctx context.Context, id *auth.Identity) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO auth.identities (id, display_name, email, role, account_kind, group_name, verified, created_at)
		 VALUES ($1, $2, lower($3), $4, $5, $6, $7, $8)`,
		id.ID, id.DisplayName, id.Email, id.Role, id.AccountKind, id.GroupName, id.Verified, id.CreatedAt,
	)
	if isUniqueViolation(err) {
		return auth.ErrIdentityExists
	}
	return err
}

func (r *Repository) GetIdentity(ctx context.Context, identityID string) (*auth.Identity, error) {
	return r.scanIdentity(r.db.QueryRow(ctx,
		`SELECT id, display_name, email, role, account_kind, group_name, verified, created_at
		 FROM auth.identities WHERE id = $1`, identityID))
}

func (r *Repository) GetIdentityByEmail(ctx context.Context, email string) (*auth.Identity, error) {
	return r.scanIdentity(r.db.QueryRow(ctx,
		`SELECT id, display_name, email, role, account_kind, group_name, verified, created_at
		 FROM auth.identities WHERE email = lower($1)`, email))
}

func (r *Repository) scanIdentity(row pgx.Row) (*auth.Identity, error) {
	var id auth.Identity
	err := row.Scan(&id.ID, &id.DisplayName, &id.Email, &id.Role, &id.AccountKind,
		&id.GroupName, &id.Verified, &id.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	return &id, nil
}

func (r *Repository) UpsertCredential(ctx context.Context, c *auth.Credential) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO auth.credentials
		   (identity_id, method, password_hash, totp_secret, passkey_credential_id, passkey_public_key, passkey_sign_count, created_at)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8)
		 ON CONFLICT (identity_id, method) DO UPDATE SET
		   password_hash = EXCLUDED.password_hash,
		   totp_secret = EXCLUDED.totp_secret,
		   passkey_credential_id = EXCLUDED.passkey_credential_id,
		   passkey_public_key = EXCLUDED.passkey_public_key,
		   passkey_sign_count = EXCLUDED.passkey_sign_count`,
		c.IdentityID, c.Method, c.PasswordHash, c.TOTPSecret,
		c.PasskeyCredentialID, c.PasskeyPublicKey, c.PasskeySignCount, c.CreatedAt,
	)
	return err
}

func (r *Repository) GetCredential(ctx context.Context, identityID string, method auth.Method) (*auth.Credential, error) {
	return r.scanCredential(r.db.QueryRow(ctx,
		`SELECT identity_id, method, password_hash, totp_secret,
		        COALESCE(passkey_credential_id, ''), passkey_public_key, passkey_sign_count, created_at
		 FROM auth.credentials WHERE identity_id = $1 AND method = $2`, identityID, method))
}

func (r *Repository) GetCredentialByPasskeyID(ctx context.Context, passkeyCredentialID string) (*auth.Credential, error) {
	return r.scanCredential(r.db.QueryRow(ctx,
		`SELECT identity_id, method, password_hash, totp_secret,
		        COALESCE(passkey_credential_id, ''), passkey_public_key, passkey_sign_count, created_at
		 FROM auth.credentials WHERE passkey_credential_id = $1`, passkeyCredentialID))
}

func (r *Repository) scanCredential(row pgx.Row) (*auth.Credential, error) {
	var c auth.Credential
	err := row.Scan(&c.IdentityID, &c.Method, &c.PasswordHash, &c.TOTPSecret,
		&c.PasskeyCredentialID, &c.PasskeyPublicKey, &c.PasskeySignCount, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *Repository) DeleteCredential(ctx context.Context, identityID string, method auth.Method) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM auth.credentials WHERE identity_id = $1 AND method = $2`, identityID, method)
	return err
}

func (r *Repository) AdvancePasskeyCounter(ctx context.Context, passkeyCredentialID string, prev, next uint32) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE auth.credentials SET passkey_sign_count = $3
		 WHERE passkey_credential_id = $1 AND passkey_sign_count = $2`,
		passkeyCredentialID, prev, next,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) ReplaceBackupCodes(ctx context.Context, identityID string, codeHashes []string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM auth.backup_codes WHERE identity_id = $1`, identityID); err != nil {
		return err
	}
	for _, hash := range codeHashes {
		if _, err := tx.Exec(ctx,
			`INSERT INTO auth.backup_codes (identity_id, code_hash, created_at)
			 VALUES ($1, $2, NOW())`, identityID, hash); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *Repository) ConsumeBackupCode(ctx context.Context, identityID, codeHash string) (bool, error) {
	// Single-statement conditional update: only one concurrent spender
	// sees the unused row.
	tag, err := r.db.Exec(ctx,
		`UPDATE auth.backup_codes SET used_at = NOW()
		 WHERE identity_id = $1 AND code_hash = $2 AND used_at IS NULL`,
		identityID, codeHash,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var used bool
	err = r.db.QueryRow(ctx,
		`SELECT used_at IS NOT NULL FROM auth.backup_codes
		 WHERE identity_id = $1 AND code_hash = $2`,
		identityID, codeHash).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if used {
		return false, auth.ErrBackupCodeUsed
	}
	return false, nil
}

func (r *Repository) EnsureDevice(ctx context.Context, d *auth.Device) (*auth.Device, error) {
	_, err := r.db.Exec(ctx,
		`INSERT INTO auth.devices (id, identity_id, label, location, trusted, first_seen_at, last_seen_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (identity_id, id) DO NOTHING`,
		d.ID, d.IdentityID, d.Label, d.Location, d.Trusted, d.FirstSeenAt, d.LastSeenAt,
	)
	if err != nil {
		return nil, err
	}
	return r.GetDevice(ctx, d.IdentityID, d.ID)
}

func (r *Repository) GetDevice(ctx context.Context, identityID, deviceID string) (*auth.Device, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, identity_id, label, location, trusted, first_seen_at, last_seen_at
		 FROM auth.devices WHERE identity_id = $1 AND id = $2`, identityID, deviceID)

	var d auth.Device
	err := row.Scan(&d.ID, &d.IdentityID, &d.Label, &d.Location, &d.Trusted, &d.FirstSeenAt, &d.LastSeenAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *Repository) SetDeviceTrusted(ctx context.Context, identityID, deviceID string, trusted bool) error {
	_, err := r.db.Exec(ctx,
		`UPDATE auth.devices SET trusted = $3 WHERE identity_id = $1 AND id = $2`,
		identityID, deviceID, trusted)
	return err
}

func (r *Repository) TouchDevice(ctx context.Context, identityID, deviceID string, seenAt time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE auth.devices SET last_seen_at = $3 WHERE identity_id = $1 AND id = $2`,
		identityID, deviceID, seenAt)
	return err
}

func (r *Repository) CreateChallenge(ctx context.Context, c *auth.Challenge) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO auth.challenges (id, identity_id, device_id, token, reason, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.IdentityID, c.DeviceID, c.Token, c.Reason, c.CreatedAt, c.ExpiresAt,
	)
	return err
}

func (r *Repository) GetPendingChallenge(ctx context.Context, identityID, deviceID string, now time.Time) (*auth.Challenge, error) {
	ch, err := r.scanChallenge(r.db.QueryRow(ctx,
		`SELECT id, identity_id, device_id, token, reason, created_at, expires_at, resolved_at
		 FROM auth.challenges
		 WHERE identity_id = $1 AND device_id = $2 AND resolved_at IS NULL AND expires_at > $3
		 ORDER BY created_at DESC LIMIT 1`,
		identityID, deviceID, now))
	if errors.Is(err, auth.ErrNotFound) {
		return nil, auth.ErrChallengeNotFound
	}
	return ch, err
}

func (r *Repository) GetChallengeByToken(ctx context.Context, token string) (*auth.Challenge, error) {
	return r.scanChallenge(r.db.QueryRow(ctx,
		`SELECT id, identity_id, device_id, token, reason, created_at, expires_at, resolved_at
		 FROM auth.challenges WHERE token = $1`, token))
}

func (r *Repository) scanChallenge(row pgx.Row) (*auth.Challenge, error) {
	var c auth.Challenge
	err := row.Scan(&c.ID, &c.IdentityID, &c.DeviceID, &c.Token, &c.Reason,
		&c.CreatedAt, &c.ExpiresAt, &c.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *Repository) ResolveChallenge(ctx context.Context, challengeID string, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE auth.challenges SET resolved_at = $2 WHERE id = $1 AND resolved_at IS NULL`,
		challengeID, at)
	return err
}

func (r *Repository) PutPendingEnrollment(ctx context.Context, e *auth.PendingEnrollment) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO auth.pending_enrollments (identity_id, secret, created_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (identity_id) DO UPDATE SET
		   secret = EXCLUDED.secret, created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at`,
		e.IdentityID, e.Secret, e.CreatedAt, e.ExpiresAt,
	)
	return err
}

func (r *Repository) GetPendingEnrollment(ctx context.Context, identityID string) (*auth.PendingEnrollment, error) {
	row := r.db.QueryRow(ctx,
		`SELECT identity_id, secret, created_at, expires_at
		 FROM auth.pending_enrollments WHERE identity_id = $1`, identityID)

	var e auth.PendingEnrollment
	err := row.Scan(&e.IdentityID, &e.Secret, &e.CreatedAt, &e.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (r *Repository) DeletePendingEnrollment(ctx context.Context, identityID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM auth.pending_enrollments WHERE identity_id = $1`, identityID)
	return err
}

func (r *Repository) LogLoginAttempt(ctx context.Context, a *auth.LoginAttempt) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO auth.login_attempts (timestamp, identity_id, email, device_id, ip_address, user_agent, method, success, reason)
		 VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9)`,
		a.Timestamp, a.IdentityID, a.Email, a.DeviceID, a.IP, a.UserAgent, a.Method, a.Success, a.Reason,
	)
	return err
}

func (r *Repository) ListLoginAttempts(ctx context.Context, identityID string, limit int) ([]auth.LoginAttempt, error) {
	rows, err := r.db.Query(ctx,
		`SELECT timestamp, COALESCE(identity_id, ''), email, device_id, ip_address, user_agent, method, success, reason
		 FROM auth.login_attempts WHERE identity_id = $1
		 ORDER BY timestamp DESC LIMIT $2`, identityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auth.LoginAttempt
	for rows.Next() {
		var a auth.LoginAttempt
		if err := rows.Scan(&a.Timestamp, &a.IdentityID, &a.Email, &a.DeviceID,
			&a.IP, &a.UserAgent, &a.Method, &a.Success, &a.Reason); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// isUniqueViolation detects PostgreSQL unique constraint violation.
func isUniqueViolation(err error) bool {
	type PGError interface{ SQLState() string }
	var pgErr PGError
	if ok := errors.As(err, &pgErr); ok {
		return pgErr.SQLState() == "23505"
	}
	return false
}
