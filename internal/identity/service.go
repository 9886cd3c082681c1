package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Mailer delivers messages composed by the service. Implementations live in
// internal/mail.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// BreachChecker reports how many times a password appears in a breach
// corpus. Implementations live in internal/breach.
type BreachChecker interface {
	Count(ctx context.Context, password string) (int, error)
}

// Sign-out scopes.
const (
	ScopeLocal  = "local"
	ScopeGlobal = "global"
)

// Session revocation reasons surfaced to users as redirect message codes.
const (
	ReasonSignOut        = "signed_out"
	ReasonSessionTimeout = "session_timeout"
	ReasonSessionExpired = "session_expired"
	ReasonPasswordChange = "password_changed"
)

const oneTimeTokenTTL = 24 * time.Hour

// Config holds the tunables for the identity Service.
type Config struct {
	Secret         []byte
	SiteURL        string
	AccessTokenTTL time.Duration
	SessionTTL     time.Duration
	OneTimeTTL     time.Duration
}

// Service provides account, credential, and session business logic.
type Service struct {
	repo   Repository
	mailer Mailer
	breach BreachChecker
	logger *slog.Logger
	cfg    Config
	now    func() time.Time
}

// Option configures optional Service behaviour.
type Option func(*Service)

// WithNow overrides the clock, primarily for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithBreachChecker enables rejecting passwords found in known breach
// corpora. An unreachable checker is treated as a pass.
func WithBreachChecker(checker BreachChecker) Option {
	return func(s *Service) { s.breach = checker }
}

// NewService creates the identity Service.
func NewService(repo Repository, mailer Mailer, cfg Config, logger *slog.Logger, opts ...Option) *Service {
	if cfg.AccessTokenTTL == 0 {
		cfg.AccessTokenTTL = 15 * time.Minute
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 12 * time.Hour
	}
	if cfg.OneTimeTTL == 0 {
		cfg.OneTimeTTL = oneTimeTokenTTL
	}
	cfg.SiteURL = strings.TrimSuffix(cfg.SiteURL, "/")

	s := &Service{
		repo:   repo,
		mailer: mailer,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SignUp registers an unconfirmed user with the default role and mails a
// confirmation link. codeChallenge, when supplied by the signing-up client,
// binds the emailed authorization code to that client's verifier.
func (s *Service) SignUp(ctx context.Context, email, password, firstName, lastName, codeChallenge string) (*User, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := ValidatePasswordStrength(password); err != nil {
		return nil, err
	}
	if err := s.checkBreached(ctx, password); err != nil {
		return nil, err
	}

	existing, err := s.repo.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	role, err := s.repo.FindRoleByName(ctx, RoleUser)
	if err != nil {
		return nil, fmt.Errorf("find default role: %w", err)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user := User{
		ID:           uuid.New(),
		Email:        email,
		FirstName:    strings.TrimSpace(firstName),
		LastName:     strings.TrimSpace(lastName),
		RoleID:       role.ID,
		RoleName:     role.Name,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastLoginAt:  now,
	}

	created, err := s.repo.CreateUser(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	if err := s.issueConfirmation(ctx, &created, codeChallenge); err != nil {
		return nil, err
	}

	return &created, nil
}

// checkBreached rejects passwords present in the configured breach corpus.
// Checker errors are logged and ignored so an outage cannot block sign-ups
// or password changes.
func (s *Service) checkBreached(ctx context.Context, password string) error {
	if s.breach == nil {
		return nil
	}
	count, err := s.breach.Count(ctx, password)
	if err != nil {
		s.logger.Warn("breach check unavailable", "error", err)
		return nil
	}
	if count > 0 {
		return fmt.Errorf("%w: password appears in known data breaches", ErrValidation)
	}
	return nil
}

// Resend re-issues the signup confirmation email. Unknown or already
// confirmed addresses succeed silently to avoid account enumeration.
func (s *Service) Resend(ctx context.Context, email string) error {
	email, err := NormalizeEmail(email)
	if err != nil {
		return err
	}

	user, err := s.repo.FindUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}
	if user == nil || user.Confirmed() {
		return nil
	}

	if err := s.repo.DeleteUserTokens(ctx, user.ID, TokenKindSignup); err != nil {
		return fmt.Errorf("invalidate previous tokens: %w", err)
	}
	if err := s.repo.DeleteUserTokens(ctx, user.ID, TokenKindCode); err != nil {
		return fmt.Errorf("invalidate previous codes: %w", err)
	}

	return s.issueConfirmation(ctx, user, "")
}

// issueConfirmation creates the one-shot code and token_hash pair and mails
// the confirmation link.
func (s *Service) issueConfirmation(ctx context.Context, user *User, codeChallenge string) error {
	now := s.now()

	code, codeHash, err := generateToken()
	if err != nil {
		return err
	}
	otp, otpHash, err := generateToken()
	if err != nil {
		return err
	}

	codeToken := OneTimeToken{
		TokenHash:     codeHash,
		UserID:        user.ID,
		Kind:          TokenKindCode,
		CodeChallenge: codeChallenge,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.cfg.OneTimeTTL),
	}
	if err := s.repo.CreateOneTimeToken(ctx, codeToken); err != nil {
		return fmt.Errorf("store code token: %w", err)
	}

	otpToken := OneTimeToken{
		TokenHash: otpHash,
		UserID:    user.ID,
		Kind:      TokenKindSignup,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.OneTimeTTL),
	}
	if err := s.repo.CreateOneTimeToken(ctx, otpToken); err != nil {
		return fmt.Errorf("store signup token: %w", err)
	}

	link := s.confirmLink(url.Values{"code": {code}})
	fallback := s.confirmLink(url.Values{"token_hash": {otp}, "type": {"signup"}})
	body := fmt.Sprintf(
		"Confirm your email address by visiting:\n\n%s\n\nIf the link above does not work, use:\n\n%s\n\nThe link expires in %s.",
		link, fallback, s.cfg.OneTimeTTL,
	)

	if err := s.mailer.Send(ctx, user.Email, "Confirm your email", body); err != nil {
		return fmt.Errorf("send confirmation email: %w", err)
	}
	return nil
}

// SignInWithPassword authenticates with email and password and opens a
// session. Unknown accounts and wrong passwords are indistinguishable.
func (s *Service) SignInWithPassword(ctx context.Context, email, password, userAgent, ipAddress string) (*AuthResult, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	user, err := s.repo.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil || !CheckPasswordHash(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	if !user.Confirmed() {
		return nil, ErrEmailNotConfirmed
	}

	if err := s.repo.UpdateUserLogin(ctx, user.ID, s.now()); err != nil {
		return nil, fmt.Errorf("update login time: %w", err)
	}

	return s.openSession(ctx, user, userAgent, ipAddress)
}

// SignInWithIDClaims opens a session for an identity asserted by an external
// OIDC provider, creating a confirmed account on first login.
func (s *Service) SignInWithIDClaims(ctx context.Context, email, firstName, lastName, userAgent, ipAddress string) (*AuthResult, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}

	user, err := s.repo.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}

	now := s.now()
	if user == nil {
		role, err := s.repo.FindRoleByName(ctx, RoleUser)
		if err != nil {
			return nil, fmt.Errorf("find default role: %w", err)
		}
		confirmed := now
		created, err := s.repo.CreateUser(ctx, User{
			ID:               uuid.New(),
			Email:            email,
			FirstName:        strings.TrimSpace(firstName),
			LastName:         strings.TrimSpace(lastName),
			RoleID:           role.ID,
			RoleName:         role.Name,
			EmailConfirmedAt: &confirmed,
			CreatedAt:        now,
			UpdatedAt:        now,
			LastLoginAt:      now,
		})
		if err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
		user = &created
	} else {
		if !user.Confirmed() {
			if err := s.repo.MarkEmailConfirmed(ctx, user.ID, now); err != nil {
				return nil, fmt.Errorf("mark confirmed: %w", err)
			}
			user.EmailConfirmedAt = &now
		}
		if err := s.repo.UpdateUserLogin(ctx, user.ID, now); err != nil {
			return nil, fmt.Errorf("update login time: %w", err)
		}
	}

	return s.openSession(ctx, user, userAgent, ipAddress)
}

// ExchangeCodeForSession consumes a one-shot authorization code. A consumed
// or unknown code yields ErrInvalidGrant; a code bound to a verifier that the
// caller cannot present yields ErrMissingCodeVerifier.
func (s *Service) ExchangeCodeForSession(ctx context.Context, code, verifier string) (*AuthResult, error) {
	now := s.now()
	token, err := s.repo.ConsumeOneTimeToken(ctx, hashToken(code), TokenKindCode, now)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidGrant
		}
		return nil, fmt.Errorf("consume code: %w", err)
	}
	if now.After(token.ExpiresAt) {
		return nil, ErrExpiredToken
	}

	// Codes issued against an S256 challenge require the original verifier.
	if token.CodeChallenge != "" {
		if verifier == "" {
			return nil, ErrMissingCodeVerifier
		}
		sum := sha256.Sum256([]byte(verifier))
		challenge := base64.RawURLEncoding.EncodeToString(sum[:])
		if subtle.ConstantTimeCompare([]byte(challenge), []byte(token.CodeChallenge)) != 1 {
			return nil, ErrMissingCodeVerifier
		}
	}

	return s.finishVerification(ctx, token)
}

// VerifyOtp consumes a legacy token_hash verification token. otpType is
// normalized: anything other than "email" or "recovery" verifies as "signup".
func (s *Service) VerifyOtp(ctx context.Context, otp, otpType string) (*AuthResult, error) {
	kind := TokenKindSignup
	switch strings.ToLower(otpType) {
	case "email":
		kind = TokenKindEmail
	case "recovery":
		kind = TokenKindRecovery
	}

	now := s.now()
	token, err := s.repo.ConsumeOneTimeToken(ctx, hashToken(otp), kind, now)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("consume token: %w", err)
	}
	if now.After(token.ExpiresAt) {
		return nil, ErrExpiredToken
	}

	return s.finishVerification(ctx, token)
}

func (s *Service) finishVerification(ctx context.Context, token *OneTimeToken) (*AuthResult, error) {
	user, err := s.repo.FindUserByID(ctx, token.UserID)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidGrant
	}

	if token.Kind != TokenKindRecovery && !user.Confirmed() {
		now := s.now()
		if err := s.repo.MarkEmailConfirmed(ctx, user.ID, now); err != nil {
			return nil, fmt.Errorf("mark confirmed: %w", err)
		}
		user.EmailConfirmedAt = &now
	}

	return s.openSession(ctx, user, "", "")
}

// ResetPasswordForEmail issues a recovery token and mails the reset link.
// Unknown addresses succeed silently.
func (s *Service) ResetPasswordForEmail(ctx context.Context, email string) error {
	email, err := NormalizeEmail(email)
	if err != nil {
		return err
	}

	user, err := s.repo.FindUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return nil
	}

	if err := s.repo.DeleteUserTokens(ctx, user.ID, TokenKindRecovery); err != nil {
		return fmt.Errorf("invalidate previous tokens: %w", err)
	}

	now := s.now()
	otp, otpHash, err := generateToken()
	if err != nil {
		return err
	}
	token := OneTimeToken{
		TokenHash: otpHash,
		UserID:    user.ID,
		Kind:      TokenKindRecovery,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.OneTimeTTL),
	}
	if err := s.repo.CreateOneTimeToken(ctx, token); err != nil {
		return fmt.Errorf("store recovery token: %w", err)
	}

	link := s.confirmLink(url.Values{"token_hash": {otp}, "type": {"recovery"}})
	body := fmt.Sprintf("Reset your password by visiting:\n\n%s\n\nThe link expires in %s. If you did not request this, ignore this email.", link, s.cfg.OneTimeTTL)

	if err := s.mailer.Send(ctx, user.Email, "Reset your password", body); err != nil {
		return fmt.Errorf("send recovery email: %w", err)
	}
	return nil
}

// UpdatePassword sets a new password and revokes the user's other sessions.
func (s *Service) UpdatePassword(ctx context.Context, userID uuid.UUID, currentSessionID uuid.UUID, newPassword string) error {
	if err := ValidatePasswordStrength(newPassword); err != nil {
		return err
	}
	if err := s.checkBreached(ctx, newPassword); err != nil {
		return err
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.repo.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	now := s.now()
	count, err := s.repo.RevokeUserSessions(ctx, userID, currentSessionID, now, ReasonPasswordChange)
	if err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	s.logger.Info("password changed", "user_id", userID, "revoked_sessions", count)
	return nil
}

// SetSession validates a token pair handed back by a client that completed
// verification elsewhere, and rotates it so the caller gets fresh cookies.
func (s *Service) SetSession(ctx context.Context, accessToken, refreshToken string) (*AuthResult, error) {
	claims, err := parseAccessClaimsLoosely(s.cfg.Secret, accessToken)
	if err != nil {
		return nil, err
	}

	session, user, err := s.repo.FindSessionByRefreshHash(ctx, hashToken(refreshToken))
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	if session == nil || user == nil {
		return nil, ErrInvalidGrant
	}
	if session.ID.String() != claims.SessionID {
		return nil, ErrInvalidGrant
	}
	if !session.Live(s.now()) {
		return nil, ErrSessionRevoked
	}

	pair, err := s.rotate(ctx, session, user)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: user, Session: session, Pair: *pair}, nil
}

// RefreshSession rotates a refresh token into a new pair.
func (s *Service) RefreshSession(ctx context.Context, refreshToken string) (*AuthResult, error) {
	session, user, err := s.repo.FindSessionByRefreshHash(ctx, hashToken(refreshToken))
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	if session == nil || user == nil {
		return nil, ErrInvalidGrant
	}
	if !session.Live(s.now()) {
		return &AuthResult{User: user, Session: session}, ErrSessionRevoked
	}

	pair, err := s.rotate(ctx, session, user)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: user, Session: session, Pair: *pair}, nil
}

// Authenticate resolves a request's cookies into a user and session. When the
// access token has expired but the refresh token is valid, the session is
// rotated and the fresh pair returned so the transport can reset cookies.
func (s *Service) Authenticate(ctx context.Context, accessToken, refreshToken string) (*AuthResult, error) {
	claims, err := ParseAccessToken(s.cfg.Secret, accessToken)
	if err != nil {
		if errors.Is(err, ErrExpiredToken) && refreshToken != "" {
			return s.RefreshSession(ctx, refreshToken)
		}
		return nil, err
	}

	sessionID, err := uuid.Parse(claims.SessionID)
	if err != nil {
		return nil, ErrInvalidToken
	}
	session, user, err := s.repo.FindSessionByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	if session == nil || user == nil {
		return nil, ErrInvalidGrant
	}
	if !session.Live(s.now()) {
		// The session is surfaced alongside the error so transports can
		// read the revoke reason and redirect accordingly.
		return &AuthResult{User: user, Session: session}, ErrSessionRevoked
	}

	return &AuthResult{User: user, Session: session}, nil
}

// GetSession returns a live session and its user by ID.
func (s *Service) GetSession(ctx context.Context, id uuid.UUID) (*Session, *User, error) {
	session, user, err := s.repo.FindSessionByID(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("find session: %w", err)
	}
	return session, user, nil
}

// GetUser returns a user by ID.
func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	user, err := s.repo.FindUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return nil, ErrNotFound
	}
	return user, nil
}

// SignOut revokes the session. Scope "global" revokes every session belonging
// to the session's user.
func (s *Service) SignOut(ctx context.Context, sessionID uuid.UUID, scope string) error {
	now := s.now()
	if scope == ScopeGlobal {
		session, _, err := s.repo.FindSessionByID(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("find session: %w", err)
		}
		if session == nil {
			return nil
		}
		if _, err := s.repo.RevokeUserSessions(ctx, session.UserID, uuid.Nil, now, ReasonSignOut); err != nil {
			return fmt.Errorf("revoke sessions: %w", err)
		}
		return nil
	}
	return s.repo.RevokeSession(ctx, sessionID, now, ReasonSignOut)
}

// Touch records activity on a session.
func (s *Service) Touch(ctx context.Context, sessionID uuid.UUID) error {
	return s.repo.TouchSession(ctx, sessionID, s.now())
}

// ActiveSessions lists sessions the timeout monitor should evaluate.
func (s *Service) ActiveSessions(ctx context.Context) ([]Session, error) {
	return s.repo.ListActiveSessions(ctx)
}

// Expire revokes a session with the given reason code. Used by the timeout
// monitor.
func (s *Service) Expire(ctx context.Context, sessionID uuid.UUID, reason string) error {
	return s.repo.RevokeSession(ctx, sessionID, s.now(), reason)
}

// CleanupExpiredSessions removes long-dead session rows.
func (s *Service) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpiredSessions(ctx, s.now())
}

func (s *Service) openSession(ctx context.Context, user *User, userAgent, ipAddress string) (*AuthResult, error) {
	refresh, refreshHash, err := generateToken()
	if err != nil {
		return nil, err
	}

	now := s.now()
	session := Session{
		ID:             uuid.New(),
		UserID:         user.ID,
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(s.cfg.SessionTTL),
		UserAgent:      truncate(userAgent, 512),
		IPAddress:      truncate(ipAddress, 45),
	}
	if err := s.repo.CreateSession(ctx, session, refreshHash); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	access, err := mintAccessToken(s.cfg.Secret, user, session.ID, s.cfg.AccessTokenTTL, now)
	if err != nil {
		return nil, err
	}

	return &AuthResult{
		User:    user,
		Session: &session,
		Pair: TokenPair{
			AccessToken:  access,
			RefreshToken: refresh,
			ExpiresAt:    now.Add(s.cfg.AccessTokenTTL),
		},
	}, nil
}

func (s *Service) rotate(ctx context.Context, session *Session, user *User) (*TokenPair, error) {
	refresh, refreshHash, err := generateToken()
	if err != nil {
		return nil, err
	}
	if err := s.repo.RotateSessionRefreshHash(ctx, session.ID, refreshHash); err != nil {
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}

	now := s.now()
	access, err := mintAccessToken(s.cfg.Secret, user, session.ID, s.cfg.AccessTokenTTL, now)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    now.Add(s.cfg.AccessTokenTTL),
	}, nil
}

func (s *Service) confirmLink(params url.Values) string {
	return s.cfg.SiteURL + "/auth/confirm?" + params.Encode()
}

// generateToken returns a cryptographically random token and its storage hash.
func generateToken() (token, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generate token: %w", err)
	}
	token = base64.RawURLEncoding.EncodeToString(b)
	return token, hashToken(token), nil
}

// hashToken returns the SHA-256 hash of the token as a hex string.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
