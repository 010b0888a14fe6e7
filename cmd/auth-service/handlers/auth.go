// Package handlers содержит HTTP-обработчики аутентификации.
//
// Все эндпоинты:
//
//	POST /register           — регистрация (email + пароль)
//	POST /login              — вход по паролю (+ TOTP или backup-код)
//	POST /login/passkey      — вход по passkey-assertion
//	POST /login/oauth        — вход через federated-провайдера
//	POST /challenge/resolve  — подтверждение нового устройства
//	POST /session/refresh    — скользящее переиздание токена
//	POST /2fa/setup          — генерация TOTP-секрета
//	POST /2fa/verify         — подтверждение кода, выдача backup-кодов
//	POST /2fa/disable        — отключение 2FA (пароль или backup-код)
//	GET  /history            — экспорт истории входов
//	POST /logout             — выход
//
// Все ответы в формате JSON: { "error": "...", ... }
package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/r2r72/x-auth-v1/internal/middleware"
	auth "github.com/r2r72/x-auth-v1/internal/service/auth"
	"github.com/r2r72/x-auth-v1/internal/session"
)

// RegisterAuthRoutes registers all authentication routes.
func RegisterAuthRoutes(mux *http.ServeMux, svc *auth.AuthService, issuer *session.Issuer, secureCookies bool) {
	h := &handler{svc: svc, issuer: issuer, secure: secureCookies}

	mux.HandleFunc("POST /register", withError(h.register))
	mux.HandleFunc("POST /login", withError(h.login))
	mux.HandleFunc("POST /login/passkey", withError(h.loginPasskey))
	mux.HandleFunc("POST /login/oauth", withError(h.loginOAuth))
	mux.HandleFunc("POST /challenge/resolve", withError(h.resolveChallenge))
	mux.HandleFunc("POST /session/refresh", withError(h.refresh))
	mux.HandleFunc("POST /2fa/setup", withError(h.twoFactorSetup))
	mux.HandleFunc("POST /2fa/verify", withError(h.twoFactorVerify))
	mux.HandleFunc("POST /2fa/disable", withError(h.twoFactorDisable))
	mux.HandleFunc("GET /history", withError(h.history))
	mux.HandleFunc("POST /logout", withError(h.logout))
}

type handler struct {
	svc    *auth.AuthService
	issuer *session.Issuer
	secure bool
}

// withError оборачивает обработчик, чтобы ловить ошибки и возвращать 500.
func withError(h func(http.ResponseWriter, *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			log.Printf("⚠️ HTTP error: %v", err)
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		}
	}
}

// === Request/response types ===

type deviceFields struct {
	DeviceID    string `json:"device_id"`
	DeviceLabel string `json:"device_label"`
	Location    string `json:"location"`
}

func (d deviceFields) info(r *http.Request) auth.DeviceInfo {
	return auth.DeviceInfo{
		DeviceID:  d.DeviceID,
		Label:     d.DeviceLabel,
		Location:  d.Location,
		IP:        r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}
}

type RegisterRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
	AccountKind string `json:"account_kind"`
	GroupName   string `json:"group_name"`
	deviceFields
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	TOTPCode string `json:"totp_code"`
	Remember bool   `json:"remember"`
	deviceFields
}

type PasskeyRequest struct {
	CredentialID      string `json:"credential_id"`
	AuthenticatorData string `json:"authenticator_data"` // base64
	Signature         string `json:"signature"`          // base64
	Remember          bool   `json:"remember"`
	deviceFields
}

type OAuthRequest struct {
	Code string `json:"code"`
	deviceFields
}

// SessionResponse — успешный ответ с сессионным токеном.
type SessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	SubjectID string    `json:"subject_id"`
	Method    string    `json:"login_method"`
}

// ChallengeResponse — вход приостановлен до подтверждения устройства.
type ChallengeResponse struct {
	ChallengeID string `json:"challenge_id"`
	Reason      string `json:"reason"`
	Message     string `json:"message"`
}

// === Handlers ===

func (h *handler) register(w http.ResponseWriter, r *http.Request) error {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return nil
	}
	if req.Email == "" || req.Password == "" || req.DeviceID == "" {
		http.Error(w, `{"error":"email, password and device_id are required"}`, http.StatusBadRequest)
		return nil
	}

	claim, err := h.svc.Register(r.Context(), auth.RegisterInput{
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Password:    req.Password,
		AccountKind: auth.AccountKind(req.AccountKind),
		GroupName:   req.GroupName,
		Device:      req.info(r),
	})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrIdentityExists):
			http.Error(w, `{"error":"identity already exists"}`, http.StatusConflict)
			return nil
		case errors.Is(err, auth.ErrInvalidPassword):
			http.Error(w, `{"error":"password too weak"}`, http.StatusBadRequest)
			return nil
		default:
			return err
		}
	}

	// The registering device is remembered: the user just proved
	// ownership of the account they created.
	return h.finishLogin(w, r, claim, req.info(r), true, http.StatusCreated)
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) error {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return nil
	}
	if req.Email == "" || req.Password == "" || req.DeviceID == "" {
		http.Error(w, `{"error":"email, password and device_id are required"}`, http.StatusBadRequest)
		return nil
	}

	claim, err := h.svc.VerifyPassword(r.Context(), auth.PasswordInput{
		Email:    req.Email,
		Password: req.Password,
		TOTPCode: req.TOTPCode,
		Device:   req.info(r),
	})
	if err != nil {
		return h.writeAuthError(w, err)
	}
	return h.finishLogin(w, r, claim, req.info(r), req.Remember, http.StatusOK)
}

func (h *handler) loginPasskey(w http.ResponseWriter, r *http.Request) error {
	var req PasskeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return nil
	}
	authData, err1 := base64.StdEncoding.DecodeString(req.AuthenticatorData)
	sig, err2 := base64.StdEncoding.DecodeString(req.Signature)
	if req.CredentialID == "" || req.DeviceID == "" || err1 != nil || err2 != nil {
		http.Error(w, `{"error":"credential_id, device_id and base64 assertion fields are required"}`, http.StatusBadRequest)
		return nil
	}

	claim, err := h.svc.VerifyPasskey(r.Context(), auth.PasskeyInput{
		CredentialID:      req.CredentialID,
		AuthenticatorData: authData,
		Signature:         sig,
		Device:            req.info(r),
	})
	if err != nil {
		return h.writeAuthError(w, err)
	}
	return h.finishLogin(w, r, claim, req.info(r), req.Remember, http.StatusOK)
}

func (h *handler) loginOAuth(w http.ResponseWriter, r *http.Request) error {
	var req OAuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return nil
	}
	if req.Code == "" || req.DeviceID == "" {
		http.Error(w, `{"error":"code and device_id are required"}`, http.StatusBadRequest)
		return nil
	}

	claim, err := h.svc.VerifyFederated(r.Context(), auth.FederatedInput{
		Code:   req.Code,
		Device: req.info(r),
	})
	if err != nil {
		return h.writeAuthError(w, err)
	}
	return h.finishLogin(w, r, claim, req.info(r), false, http.StatusOK)
}

// finishLogin runs device trust evaluation and, on Proceed, issues the
// session token and sets the session cookie.
func (h *handler) finishLogin(w http.ResponseWriter, r *http.Request, claim *auth.IdentityClaim, device auth.DeviceInfo, remember bool, status int) error {
	decision, err := h.svc.Evaluate(r.Context(), claim, device, remember)
	if err != nil {
		return err
	}

	if !decision.Proceed {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		return json.NewEncoder(w).Encode(ChallengeResponse{
			ChallengeID: decision.Challenge.ID,
			Reason:      string(decision.Challenge.Reason),
			Message:     "device verification required",
		})
	}

	token, err := h.svc.IssueSession(r.Context(), claim, decision, device.DeviceID)
	if err != nil {
		if errors.Is(err, session.ErrPendingChallenge) {
			http.Error(w, `{"error":"device challenge pending"}`, http.StatusConflict)
			return nil
		}
		return err
	}

	middleware.SetSessionCookie(w, token, int(h.issuer.MaxAge().Seconds()), h.secure)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(SessionResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(h.issuer.MaxAge()).UTC(),
		SubjectID: claim.IdentityID,
		Method:    string(claim.Method),
	})
}

func (h *handler) resolveChallenge(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		http.Error(w, `{"error":"token is required"}`, http.StatusBadRequest)
		return nil
	}

	switch err := h.svc.ResolveChallenge(r.Context(), req.Token); {
	case err == nil:
		w.Header().Set("Content-Type", "application/json")
		return json.NewEncoder(w).Encode(map[string]string{"status": "device verified"})
	case errors.Is(err, auth.ErrChallengeNotFound):
		http.Error(w, `{"error":"challenge not found"}`, http.StatusNotFound)
		return nil
	case errors.Is(err, auth.ErrChallengeExpired):
		http.Error(w, `{"error":"challenge expired"}`, http.StatusGone)
		return nil
	default:
		return err
	}
}

func (h *handler) refresh(w http.ResponseWriter, r *http.Request) error {
	token := middleware.ExtractToken(r)
	if token == "" {
		http.Error(w, `{"error":"authentication required"}`, http.StatusUnauthorized)
		return nil
	}

	fresh, err := h.svc.RefreshSession(r.Context(), token)
	if err != nil {
		http.Error(w, `{"error":"invalid session"}`, http.StatusUnauthorized)
		return nil
	}

	middleware.SetSessionCookie(w, fresh, int(h.issuer.MaxAge().Seconds()), h.secure)
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(map[string]string{"token": fresh})
}

func (h *handler) twoFactorSetup(w http.ResponseWriter, r *http.Request) error {
	claims, ok := h.requireSession(w, r)
	if !ok {
		return nil
	}

	setup, err := h.svc.BeginEnrollment(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, auth.ErrTwoFactorEnabled) {
			http.Error(w, `{"error":"two-factor already enabled"}`, http.StatusConflict)
			return nil
		}
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(map[string]string{
		"secret":           setup.Secret,
		"provisioning_uri": setup.ProvisioningURI,
	})
}

func (h *handler) twoFactorVerify(w http.ResponseWriter, r *http.Request) error {
	claims, ok := h.requireSession(w, r)
	if !ok {
		return nil
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		http.Error(w, `{"error":"code is required"}`, http.StatusBadRequest)
		return nil
	}

	codes, err := h.svc.ConfirmEnrollment(r.Context(), claims.Subject, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrTotpInvalid):
			http.Error(w, `{"error":"invalid totp code"}`, http.StatusUnauthorized)
			return nil
		case errors.Is(err, auth.ErrEnrollmentNotFound):
			http.Error(w, `{"error":"no pending enrollment"}`, http.StatusNotFound)
			return nil
		case errors.Is(err, auth.ErrRateLimited):
			http.Error(w, `{"error":"too many attempts"}`, http.StatusTooManyRequests)
			return nil
		default:
			return err
		}
	}

	// Backup codes are shown exactly once.
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(map[string]any{
		"status":       "two-factor enabled",
		"backup_codes": codes,
	})
}

func (h *handler) twoFactorDisable(w http.ResponseWriter, r *http.Request) error {
	claims, ok := h.requireSession(w, r)
	if !ok {
		return nil
	}

	var req struct {
		Password   string `json:"password"`
		BackupCode string `json:"backup_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return nil
	}

	switch err := h.svc.DisableTwoFactor(r.Context(), claims.Subject, req.Password, req.BackupCode); {
	case err == nil:
		w.Header().Set("Content-Type", "application/json")
		return json.NewEncoder(w).Encode(map[string]string{"status": "two-factor disabled"})
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrBackupCodeUsed):
		http.Error(w, `{"error":"verification failed"}`, http.StatusUnauthorized)
		return nil
	case errors.Is(err, auth.ErrTwoFactorDisabled):
		http.Error(w, `{"error":"two-factor not enabled"}`, http.StatusConflict)
		return nil
	default:
		return err
	}
}

func (h *handler) history(w http.ResponseWriter, r *http.Request) error {
	claims, ok := h.requireSession(w, r)
	if !ok {
		return nil
	}

	attempts, err := h.svc.History(r.Context(), claims.Subject, 100)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "text/tab-separated-values; charset=utf-8")
	return auth.ExportHistory(w, attempts)
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) error {
	middleware.ClearSessionCookie(w, h.secure)
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// requireSession validates the request's session token. Responds 401
// and returns ok=false when absent or invalid.
func (h *handler) requireSession(w http.ResponseWriter, r *http.Request) (*session.Claims, bool) {
	token := middleware.ExtractToken(r)
	if token == "" {
		http.Error(w, `{"error":"authentication required"}`, http.StatusUnauthorized)
		return nil, false
	}
	claims, err := h.svc.ValidateSession(r.Context(), token)
	if err != nil {
		http.Error(w, `{"error":"invalid session"}`, http.StatusUnauthorized)
		return nil, false
	}
	return claims, true
}

// writeAuthError maps verifier failures to HTTP statuses. Unknown
// identity and wrong password share one response shape.
func (h *handler) writeAuthError(w http.ResponseWriter, err error) error {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		http.Error(w, `{"error":"invalid email or password"}`, http.StatusUnauthorized)
	case errors.Is(err, auth.ErrTotpRequired):
		// Промежуточный ответ: пароль верен, ждём второй фактор.
		http.Error(w, `{"error":"totp required"}`, http.StatusPartialContent)
	case errors.Is(err, auth.ErrTotpInvalid):
		http.Error(w, `{"error":"invalid totp code"}`, http.StatusUnauthorized)
	case errors.Is(err, auth.ErrBackupCodeUsed):
		http.Error(w, `{"error":"backup code already used"}`, http.StatusUnauthorized)
	case errors.Is(err, auth.ErrPasskeyUnknown):
		http.Error(w, `{"error":"unknown passkey"}`, http.StatusUnauthorized)
	case errors.Is(err, auth.ErrPasskeyInvalidSignature):
		http.Error(w, `{"error":"assertion rejected"}`, http.StatusUnauthorized)
	case errors.Is(err, auth.ErrPasskeyReplay):
		http.Error(w, `{"error":"assertion rejected"}`, http.StatusUnauthorized)
	case errors.Is(err, auth.ErrProviderError):
		http.Error(w, `{"error":"provider exchange failed"}`, http.StatusBadGateway)
	case errors.Is(err, auth.ErrProviderEmailUnverified):
		http.Error(w, `{"error":"provider email not verified"}`, http.StatusForbidden)
	case errors.Is(err, auth.ErrRateLimited):
		http.Error(w, `{"error":"too many attempts"}`, http.StatusTooManyRequests)
	default:
		return err
	}
	return nil
}
