package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"casedesk.org/internal/audit"
	"casedesk.org/internal/ids"
)

const (
	defaultAccessTTL  = time.Hour
	defaultRefreshTTL = 30 * 24 * time.Hour
)

// Audit action names emitted by Service.
const (
	ActionRegister     = "REGISTER"
	ActionLogin        = "LOGIN"
	ActionRefresh      = "REFRESH_TOKEN"
	ActionLogout       = "LOGOUT"
	ActionAuthenticate = "AUTHENTICATE"
)

// Service provides registration, login and bearer token authentication.
type Service struct {
	users      UserStore
	tokens     *TokenService
	revoker    Revoker
	audit      *audit.Recorder
	now        func() time.Time
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithRevoker overrides the in-memory revocation store.
func WithRevoker(r Revoker) ServiceOption {
	return func(s *Service) error {
		if r == nil {
			return errors.New("auth: revoker is nil")
		}
		s.revoker = r
		return nil
	}
}

// WithAudit routes authentication decisions to rec.
func WithAudit(rec *audit.Recorder) ServiceOption {
	return func(s *Service) error {
		s.audit = rec
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(users UserStore, tokens *TokenService, opts ...ServiceOption) (*Service, error) {
	if users == nil || tokens == nil {
		return nil, errors.New("auth: users and tokens are required")
	}
	svc := &Service{
		users:      users,
		tokens:     tokens,
		now:        time.Now,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if svc.revoker == nil {
		svc.revoker = NewMemoryRevoker(svc.refreshTTL)
	}
	if svc.audit == nil {
		svc.audit = audit.NewRecorder(nil)
	}
	return svc, nil
}

// RegisterInput is the public sign-up payload.
type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates an active account. Self-registration always yields RoleUser.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	return s.CreateUser(ctx, in, RoleUser)
}

// CreateUser validates in and stores a new account with role.
func (s *Service) CreateUser(ctx context.Context, in RegisterInput, role Role) (*User, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if n := len(username); n < 3 || n > 80 {
		return nil, fmt.Errorf("%w: username must be 3-80 characters", ErrInvalidInput)
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, fmt.Errorf("%w: email is invalid", ErrInvalidInput)
	}
	if _, ok := ParseRole(string(role)); !ok {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	user := &User{
		ID:           ids.NewAt(now),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	s.record(ctx, user.ID, ActionRegister, audit.ResourceUser, user.ID, audit.ResultSuccess, "role="+string(role))
	return user, nil
}

// Login verifies credentials and issues an access/refresh pair.
func (s *Service) Login(ctx context.Context, username, password string) (TokenPair, *User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return TokenPair{}, nil, ErrInvalidCredentials
	}
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.record(ctx, "", ActionLogin, audit.ResourceAuth, "", audit.ResultUnauthorized, "unknown username")
			return TokenPair{}, nil, ErrInvalidCredentials
		}
		return TokenPair{}, nil, err
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		s.record(ctx, user.ID, ActionLogin, audit.ResourceAuth, "", audit.ResultUnauthorized, "invalid password")
		return TokenPair{}, nil, ErrInvalidCredentials
	}
	if !user.Active {
		s.record(ctx, user.ID, ActionLogin, audit.ResourceAuth, "", audit.ResultInactive, "account is inactive")
		return TokenPair{}, nil, ErrInactive
	}
	access, accessClaims, err := s.tokens.Issue(user, TokenAccess, s.accessTTL)
	if err != nil {
		return TokenPair{}, nil, err
	}
	refresh, refreshClaims, err := s.tokens.Issue(user, TokenRefresh, s.refreshTTL)
	if err != nil {
		return TokenPair{}, nil, err
	}
	s.record(ctx, user.ID, ActionLogin, audit.ResourceAuth, "", audit.ResultSuccess, "")
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessClaims.ExpiresAt.Time,
		RefreshExpiresAt: refreshClaims.ExpiresAt.Time,
	}, user, nil
}

// Refresh exchanges a refresh token for a new access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.tokens.Parse(refreshToken, TokenRefresh)
	if err != nil {
		s.record(ctx, "", ActionRefresh, audit.ResourceAuth, "", audit.ResultUnauthorized, "invalid refresh token")
		return TokenPair{}, ErrInvalidToken
	}
	user, err := s.checkClaims(ctx, ActionRefresh, claims)
	if err != nil {
		return TokenPair{}, err
	}
	access, accessClaims, err := s.tokens.Issue(user, TokenAccess, s.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	s.record(ctx, user.ID, ActionRefresh, audit.ResourceAuth, "", audit.ResultSuccess, "")
	return TokenPair{AccessToken: access, AccessExpiresAt: accessClaims.ExpiresAt.Time}, nil
}

// Authenticate resolves a bearer access token into an active actor.
// Revocation and the active flag are checked before any permission check can run.
// Every rejection is audited here.
func (s *Service) Authenticate(ctx context.Context, token string) (*Actor, *Claims, error) {
	claims, err := s.tokens.Parse(token, TokenAccess)
	if err != nil {
		s.record(ctx, "", ActionAuthenticate, audit.ResourceAuth, "", audit.ResultUnauthorized, "invalid access token")
		return nil, nil, ErrInvalidToken
	}
	user, err := s.checkClaims(ctx, ActionAuthenticate, claims)
	if err != nil {
		return nil, nil, err
	}
	return user.Actor(), claims, nil
}

// Logout revokes the presented access token and, optionally, a refresh token.
func (s *Service) Logout(ctx context.Context, access *Claims, refreshToken string) error {
	if access == nil {
		return ErrUnauthorized
	}
	if err := s.revoker.Revoke(ctx, access.ID, s.tokens.Remaining(access)); err != nil {
		s.record(ctx, access.Subject, ActionLogout, audit.ResourceAuth, "", audit.ResultError, err.Error())
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if strings.TrimSpace(refreshToken) != "" {
		if rc, err := s.tokens.Parse(refreshToken, TokenRefresh); err == nil && rc.Subject == access.Subject {
			if err := s.revoker.Revoke(ctx, rc.ID, s.tokens.Remaining(rc)); err != nil {
				s.record(ctx, access.Subject, ActionLogout, audit.ResourceAuth, "", audit.ResultError, err.Error())
				return fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
		}
	}
	s.record(ctx, access.Subject, ActionLogout, audit.ResourceAuth, "", audit.ResultSuccess, "")
	return nil
}

// User loads an account by id.
func (s *Service) User(ctx context.Context, id string) (*User, error) {
	return s.users.Find(ctx, id)
}

// Users lists all accounts.
func (s *Service) Users(ctx context.Context) ([]*User, error) {
	return s.users.List(ctx)
}

func (s *Service) checkClaims(ctx context.Context, action string, claims *Claims) (*User, error) {
	revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
	if err != nil {
		s.record(ctx, claims.Subject, action, audit.ResourceAuth, "", audit.ResultError, "revocation check failed")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if revoked {
		s.record(ctx, claims.Subject, action, audit.ResourceAuth, "", audit.ResultRevoked, "token has been revoked")
		return nil, ErrRevoked
	}
	user, err := s.users.Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.record(ctx, claims.Subject, action, audit.ResourceAuth, "", audit.ResultUnauthorized, "unknown subject")
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if !user.Active {
		s.record(ctx, user.ID, action, audit.ResourceAuth, "", audit.ResultInactive, "account is inactive")
		return nil, ErrInactive
	}
	return user, nil
}

func (s *Service) record(ctx context.Context, actorID, action, resourceType, resourceID string, result audit.Result, detail string) {
	s.audit.Record(ctx, audit.Entry{
		ActorID:      actorID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Result:       result,
		Detail:       detail,
	})
}
