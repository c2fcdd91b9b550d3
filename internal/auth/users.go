package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrSelfDeactivation = errors.New("you cannot deactivate your own account")

type NewUser struct {
	Username string
	Password string
	Name     string
	Role     Role
}

// UserChanges is a partial update requested by actor.
type UserChanges struct {
	Name     *string
	Password *string
	Role     *Role
	Active   *bool
}

func (s *Service) requireAdmin(actor *Identity) error {
	if actor == nil {
		return ErrUnauthenticated
	}
	if !actor.IsAdmin() {
		return ErrForbidden
	}
	return nil
}

func (s *Service) requireSelfOrAdmin(actor *Identity, userID string) error {
	if actor == nil {
		return ErrUnauthenticated
	}
	if actor.UserID != userID && !actor.IsAdmin() {
		return ErrForbidden
	}
	return nil
}

func (s *Service) ListUsers(ctx context.Context, actor *Identity, filter UserFilter) ([]User, error) {
	if s.local {
		return nil, ErrLocalMode
	}
	if err := s.requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.users.List(ctx, filter)
}

func (s *Service) GetUser(ctx context.Context, actor *Identity, id string) (*User, error) {
	if s.local {
		return nil, ErrLocalMode
	}
	if err := s.requireSelfOrAdmin(actor, id); err != nil {
		return nil, err
	}
	return s.users.FindByID(ctx, id)
}

func (s *Service) CreateUser(ctx context.Context, actor *Identity, in NewUser) (*User, error) {
	if s.local {
		return nil, ErrLocalMode
	}
	if err := s.requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := ValidatePasswordStrength(in.Password); err != nil {
		return nil, err
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	role := in.Role
	if role == "" {
		role = RoleDoctor
	}

	now := s.now().UTC()
	u := &User{
		ID:           uuid.NewString(),
		Username:     strings.ToLower(strings.TrimSpace(in.Username)),
		PasswordHash: hash,
		Name:         strings.TrimSpace(in.Name),
		Role:         role,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	s.log.Info("user created", zap.String("user_id", u.ID), zap.String("by", actor.UserID))
	return u, nil
}

// UpdateUser applies changes for the user themselves or an admin. Only
// admins may change role or active flag, and nobody deactivates themselves.
func (s *Service) UpdateUser(ctx context.Context, actor *Identity, id string, ch UserChanges) (*User, error) {
	if s.local {
		return nil, ErrLocalMode
	}
	if err := s.requireSelfOrAdmin(actor, id); err != nil {
		return nil, err
	}
	if (ch.Role != nil || ch.Active != nil) && !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if ch.Active != nil && !*ch.Active && actor.UserID == id {
		return nil, ErrSelfDeactivation
	}

	upd := UserUpdate{Role: ch.Role, Active: ch.Active}
	if ch.Name != nil {
		name := strings.TrimSpace(*ch.Name)
		upd.Name = &name
	}
	if ch.Password != nil {
		if err := ValidatePasswordStrength(*ch.Password); err != nil {
			return nil, err
		}
		hash, err := HashPassword(*ch.Password)
		if err != nil {
			return nil, err
		}
		upd.PasswordHash = &hash
	}

	if _, err := s.users.FindByID(ctx, id); err != nil {
		return nil, err
	}
	return s.users.Update(ctx, id, upd)
}

// DeactivateUser is the soft delete.
func (s *Service) DeactivateUser(ctx context.Context, actor *Identity, id string) (*User, error) {
	if s.local {
		return nil, ErrLocalMode
	}
	if err := s.requireAdmin(actor); err != nil {
		return nil, err
	}
	if actor.UserID == id {
		return nil, ErrSelfDeactivation
	}
	return s.setActive(ctx, id, false)
}

func (s *Service) ActivateUser(ctx context.Context, actor *Identity, id string) (*User, error) {
	if s.local {
		return nil, ErrLocalMode
	}
	if err := s.requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.setActive(ctx, id, true)
}

func (s *Service) setActive(ctx context.Context, id string, active bool) (*User, error) {
	if _, err := s.users.FindByID(ctx, id); err != nil {
		return nil, err
	}
	return s.users.Update(ctx, id, UserUpdate{Active: &active})
}

// EnsureAdmin creates the initial admin account if no user with that
// username exists yet.
func (s *Service) EnsureAdmin(ctx context.Context, username, password, name string) (*User, bool, error) {
	if s.local {
		return nil, false, ErrLocalMode
	}
	username = strings.ToLower(strings.TrimSpace(username))
	existing, err := s.users.FindByUsername(ctx, username)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, false, err
	}
	root := &Identity{UserID: "bootstrap", Role: RoleAdmin}
	u, err := s.CreateUser(ctx, root, NewUser{Username: username, Password: password, Name: name, Role: RoleAdmin})
	if err != nil {
		return nil, false, err
	}
	return u, true, nil
}
