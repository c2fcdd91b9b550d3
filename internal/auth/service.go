package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DLMCQ/DermaClinic/internal/metrics"
)

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("insufficient permissions")
	// ErrInvalidCredentials covers unknown users, wrong passwords and
	// disabled accounts alike.
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrAccountDisabled    = errors.New("user not found or inactive")
	ErrLocalMode          = errors.New("not available in local mode")
)

// LocalUser is the fixed identity reported in local mode.
func LocalUser() *User {
	return &User{
		ID:       "local-user",
		Username: "admin",
		Name:     "Local User",
		Role:     RoleAdmin,
		Active:   true,
	}
}

type LoginResult struct {
	User         *User
	AccessToken  string
	RefreshToken string
}

type Service struct {
	users   UserStore
	refresh RefreshTokenStore
	tokens  *TokenService
	log     *zap.Logger
	local   bool
	now     func() time.Time

	dummyHash string
}

func NewService(users UserStore, refresh RefreshTokenStore, tokens *TokenService, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{users: users, refresh: refresh, tokens: tokens, log: log, now: time.Now}
	// unknown usernames pay the same bcrypt cost as known ones
	if h, err := HashPassword("dermaclinic-placeholder"); err == nil {
		s.dummyHash = h
	}
	return s
}

// NewLocalService serves only Me, with the fixed local identity.
func NewLocalService(log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{log: log, local: true, now: time.Now}
}

func (s *Service) Local() bool { return s.local }

func (s *Service) Tokens() *TokenService { return s.tokens }

// Login checks the credentials, purges every refresh token the user holds
// and stores the new one.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	if s.local {
		return nil, ErrLocalMode
	}
	username = strings.ToLower(strings.TrimSpace(username))

	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			VerifyPassword(password, s.dummyHash)
			s.loginFailed(username, "unknown_user")
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !user.Active {
		s.loginFailed(username, "inactive")
		return nil, ErrInvalidCredentials
	}
	if !VerifyPassword(password, user.PasswordHash) {
		s.loginFailed(username, "bad_password")
		return nil, ErrInvalidCredentials
	}

	access, err := s.tokens.IssueAccessToken(user.Identity())
	if err != nil {
		return nil, err
	}
	refresh, expiresAt, err := s.tokens.IssueRefreshToken(user.ID)
	if err != nil {
		return nil, err
	}
	if err := s.refresh.ReplaceForUser(ctx, user.ID, refresh, expiresAt); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	s.log.Info("user logged in", zap.String("user_id", user.ID), zap.String("username", user.Username))
	return &LoginResult{User: user, AccessToken: access, RefreshToken: refresh}, nil
}

func (s *Service) loginFailed(username, why string) {
	metrics.AuthFailuresTotal.WithLabelValues("invalid_credentials").Inc()
	s.log.Warn("login failed", zap.String("username", username), zap.String("reason", why))
}

// Refresh issues a new access token. The refresh token must verify and also
// still be on record; it is not rotated.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, error) {
	if s.local {
		return "", ErrLocalMode
	}
	if refreshToken == "" {
		return "", ErrTokenInvalid
	}
	userID, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		s.refreshFailed(err)
		return "", err
	}

	rec, err := s.refresh.FindValid(ctx, refreshToken, s.now())
	if err != nil {
		if errors.Is(err, ErrRefreshRevoked) {
			s.refreshFailed(err)
		}
		return "", err
	}
	if rec.UserID != userID {
		s.refreshFailed(ErrRefreshRevoked)
		return "", ErrRefreshRevoked
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", ErrAccountDisabled
		}
		return "", fmt.Errorf("load user: %w", err)
	}
	if !user.Active {
		return "", ErrAccountDisabled
	}

	return s.tokens.IssueAccessToken(user.Identity())
}

func (s *Service) refreshFailed(err error) {
	reason := "token_invalid"
	switch {
	case errors.Is(err, ErrTokenExpired):
		reason = "token_expired"
	case errors.Is(err, ErrRefreshRevoked):
		reason = "refresh_revoked"
	}
	metrics.AuthFailuresTotal.WithLabelValues(reason).Inc()
}

// Logout deletes the refresh token record. Unknown tokens are not an error.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if s.local {
		return ErrLocalMode
	}
	if refreshToken == "" {
		return nil
	}
	if err := s.refresh.Delete(ctx, refreshToken); err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

// Me returns the current user, or the fixed local user in local mode.
func (s *Service) Me(ctx context.Context, id *Identity) (*User, error) {
	if s.local {
		return LocalUser(), nil
	}
	if id == nil {
		return nil, ErrUnauthenticated
	}
	return s.users.FindByID(ctx, id.UserID)
}

// SweepExpiredTokens deletes expired refresh token records.
func (s *Service) SweepExpiredTokens(ctx context.Context) (int64, error) {
	if s.local {
		return 0, ErrLocalMode
	}
	n, err := s.refresh.PurgeExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("purge expired refresh tokens: %w", err)
	}
	metrics.RefreshTokensSwept.Add(float64(n))
	return n, nil
}
