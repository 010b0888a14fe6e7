package auth

import "time"

// Role of an identity within the system.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// AccountKind distinguishes individual and group accounts.
type AccountKind string

const (
	AccountIndividual AccountKind = "individual"
	AccountGroup      AccountKind = "group"
)

// Method is the credential method discriminant.
type Method string

const (
	MethodPassword  Method = "password"
	MethodTOTP      Method = "totp"
	MethodPasskey   Method = "passkey"
	MethodFederated Method = "oauth"
)

// Identity represents a user account.
type Identity struct {
	ID          string
	DisplayName string
	Email       string
	Role        Role
	AccountKind AccountKind
	GroupName   string
	Verified    bool
	CreatedAt   time.Time
}

// Credential holds method-specific secret material for one identity.
// An identity holds at most one credential per method.
type Credential struct {
	IdentityID string
	Method     Method

	// MethodPassword
	PasswordHash string

	// MethodTOTP (base32, >=160 bits)
	TOTPSecret string

	// MethodPasskey
	PasskeyCredentialID string
	PasskeyPublicKey    []byte
	PasskeySignCount    uint32

	CreatedAt time.Time
}

// Device represents a previously seen client device for an identity.
// The trust bit requires a resolved challenge, an explicit "remember
// this device" opt-in, or a federated login (the provider already
// vouched for the user).
type Device struct {
	ID          string
	IdentityID  string
	Label       string
	Location    string
	Trusted     bool
	FirstSeenAt time.Time
	LastSeenAt  time.Time
}

// ChallengeReason explains why a device challenge was raised.
type ChallengeReason string

const (
	ChallengeNewDevice       ChallengeReason = "new_device"
	ChallengeUntrustedDevice ChallengeReason = "untrusted_device"
)

// Challenge is a pending out-of-band device verification. The token is
// delivered to the user (emailed link) and resolves the challenge.
type Challenge struct {
	ID         string
	IdentityID string
	DeviceID   string
	Token      string
	Reason     ChallengeReason
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ResolvedAt *time.Time
}

// Decision is the outcome of device trust evaluation. Exactly one of
// Proceed or Challenge applies.
type Decision struct {
	Proceed   bool
	Challenge *Challenge
}

// PendingEnrollment is a generated TOTP secret awaiting verification.
// The secret is not part of any credential record until confirmed.
type PendingEnrollment struct {
	IdentityID string
	Secret     string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// EnrollmentSetup is returned once at the start of TOTP enrollment.
type EnrollmentSetup struct {
	Secret          string // base32, for manual entry
	ProvisioningURI string // otpauth://, for QR rendering
}

// LoginAttempt is an append-only audit record.
type LoginAttempt struct {
	Timestamp  time.Time
	IdentityID string // empty when the presented email is unknown
	Email      string
	DeviceID   string
	IP         string
	UserAgent  string
	Method     Method
	Success    bool
	Reason     string
}

// IdentityClaim is the result of a successful credential verification.
// It is never a session token: device trust evaluation runs between
// verification and issuance.
type IdentityClaim struct {
	IdentityID  string
	Email       string
	Role        Role
	AccountKind AccountKind
	Method      Method
}

// DeviceInfo identifies the client device presenting a credential.
type DeviceInfo struct {
	DeviceID  string
	Label     string
	Location  string
	IP        string
	UserAgent string
}

// PasswordInput is the presentation for password+TOTP verification.
type PasswordInput struct {
	Email    string
	Password string
	TOTPCode string // 6-digit TOTP or 6-char backup code; may be empty
	Device   DeviceInfo
}

// PasskeyInput is the presentation for a public-key assertion.
type PasskeyInput struct {
	CredentialID      string
	AuthenticatorData []byte
	Signature         []byte
	Device            DeviceInfo
}

// FederatedInput is the presentation for a federated OAuth login.
type FederatedInput struct {
	Code   string // authorization code to exchange
	Device DeviceInfo
}

// Presentation is the tagged union over verifier inputs, dispatched by
// the Method discriminant. Exactly one variant must be set.
type Presentation struct {
	Method    Method
	Password  *PasswordInput
	Passkey   *PasskeyInput
	Federated *FederatedInput
}

// ProviderIdentity is what a federated provider asserts after a
// successful code exchange.
type ProviderIdentity struct {
	Subject       string
	Email         string
	DisplayName   string
	EmailVerified bool
}

// RegisterInput is the input for local registration.
type RegisterInput struct {
	Email       string
	DisplayName string
	Password    string
	AccountKind AccountKind
	GroupName   string
	Device      DeviceInfo
}
