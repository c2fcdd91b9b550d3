package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/DLMCQ/DermaClinic/internal/db"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrUsernameTaken  = errors.New("username already exists")
	ErrRefreshRevoked = fmt.Errorf("refresh token revoked or unknown: %w", ErrTokenInvalid)
)

// User is a staff account. PasswordHash never leaves the service layer.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	Name         string
	Role         Role
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (u *User) Identity() Identity {
	return Identity{UserID: u.ID, Username: u.Username, Role: u.Role}
}

type UserFilter struct {
	Role   Role
	Active *bool
}

// UserUpdate holds the fields to change; nil means unchanged.
type UserUpdate struct {
	Name         *string
	PasswordHash *string
	Role         *Role
	Active       *bool
}

func (u UserUpdate) Empty() bool {
	return u.Name == nil && u.PasswordHash == nil && u.Role == nil && u.Active == nil
}

type UserStore interface {
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	List(ctx context.Context, filter UserFilter) ([]User, error)
	Create(ctx context.Context, u *User) error
	Update(ctx context.Context, id string, upd UserUpdate) (*User, error)
}

type RefreshRecord struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
}

type RefreshTokenStore interface {
	// ReplaceForUser deletes every token of userID and any expired token,
	// then stores token, atomically.
	ReplaceForUser(ctx context.Context, userID, token string, expiresAt time.Time) error
	// FindValid returns the record if it exists and expires after now, else ErrRefreshRevoked.
	FindValid(ctx context.Context, token string, now time.Time) (*RefreshRecord, error)
	Delete(ctx context.Context, token string) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

const userColumns = `id, username, password_hash, display_name, role, is_active, created_at, updated_at`

// SQLUserStore keeps users in the users table.
type SQLUserStore struct {
	db db.Adapter
}

func NewSQLUserStore(adapter db.Adapter) *SQLUserStore {
	return &SQLUserStore{db: adapter}
}

func scanUser(row db.Row) *User {
	return &User{
		ID:           row.String("id"),
		Username:     row.String("username"),
		PasswordHash: row.String("password_hash"),
		Name:         row.String("display_name"),
		Role:         Role(row.String("role")),
		Active:       row.Bool("is_active"),
		CreatedAt:    row.Time("created_at"),
		UpdatedAt:    row.Time("updated_at"),
	}
}

func (s *SQLUserStore) findOne(ctx context.Context, where string, arg any) (*User, error) {
	args := db.NewArgs(s.db.Dialect())
	row, err := s.db.QueryOne(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+where+` = `+args.Add(arg), args.Values()...)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return scanUser(row), nil
}

func (s *SQLUserStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	return s.findOne(ctx, "username", strings.ToLower(username))
}

func (s *SQLUserStore) FindByID(ctx context.Context, id string) (*User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrUserNotFound
	}
	return s.findOne(ctx, "id", id)
}

func (s *SQLUserStore) List(ctx context.Context, filter UserFilter) ([]User, error) {
	d := s.db.Dialect()
	args := db.NewArgs(d)
	var where []string
	if filter.Role != "" {
		where = append(where, "role = "+args.Add(string(filter.Role)))
	}
	if filter.Active != nil {
		where = append(where, "is_active = "+args.Add(d.Bool(*filter.Active)))
	}

	q := `SELECT ` + userColumns + ` FROM users`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(ctx, q, args.Values()...)
	if err != nil {
		return nil, err
	}
	users := make([]User, 0, len(rows))
	for _, row := range rows {
		users = append(users, *scanUser(row))
	}
	return users, nil
}

func (s *SQLUserStore) Create(ctx context.Context, u *User) error {
	d := s.db.Dialect()
	args := db.NewArgs(d)
	q := fmt.Sprintf(`INSERT INTO users (`+userColumns+`) VALUES (%s, %s, %s, %s, %s, %s, %s, %s)`,
		args.Add(u.ID), args.Add(u.Username), args.Add(u.PasswordHash), args.Add(u.Name),
		args.Add(string(u.Role)), args.Add(d.Bool(u.Active)), args.Add(d.Time(u.CreatedAt)), args.Add(d.Time(u.UpdatedAt)))
	if err := s.db.Execute(ctx, q, args.Values()...); err != nil {
		if errors.Is(err, db.ErrUniqueViolation) {
			return ErrUsernameTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *SQLUserStore) Update(ctx context.Context, id string, upd UserUpdate) (*User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrUserNotFound
	}
	d := s.db.Dialect()
	args := db.NewArgs(d)
	sets := []string{}
	if upd.Name != nil {
		sets = append(sets, "display_name = "+args.Add(*upd.Name))
	}
	if upd.PasswordHash != nil {
		sets = append(sets, "password_hash = "+args.Add(*upd.PasswordHash))
	}
	if upd.Role != nil {
		sets = append(sets, "role = "+args.Add(string(*upd.Role)))
	}
	if upd.Active != nil {
		sets = append(sets, "is_active = "+args.Add(d.Bool(*upd.Active)))
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = "+args.Add(d.Time(time.Now())))
		q := `UPDATE users SET ` + strings.Join(sets, ", ") + ` WHERE id = ` + args.Add(id)
		if err := s.db.Execute(ctx, q, args.Values()...); err != nil {
			return nil, fmt.Errorf("update user: %w", err)
		}
	}
	return s.FindByID(ctx, id)
}

// SQLRefreshTokenStore keeps refresh token records in refresh_tokens.
type SQLRefreshTokenStore struct {
	db db.Adapter
}

func NewSQLRefreshTokenStore(adapter db.Adapter) *SQLRefreshTokenStore {
	return &SQLRefreshTokenStore{db: adapter}
}

func (s *SQLRefreshTokenStore) ReplaceForUser(ctx context.Context, userID, token string, expiresAt time.Time) error {
	d := s.db.Dialect()
	return s.db.Transaction(ctx, func(ctx context.Context, tx db.Executor) error {
		if d == db.DialectPostgres {
			// serializes concurrent logins of one user; sqlite writes are already serialized
			lock := db.NewArgs(d)
			if _, err := tx.Query(ctx, `SELECT id FROM users WHERE id = `+lock.Add(userID)+` FOR UPDATE`, lock.Values()...); err != nil {
				return fmt.Errorf("lock user: %w", err)
			}
		}
		purge := db.NewArgs(d)
		q := `DELETE FROM refresh_tokens WHERE user_id = ` + purge.Add(userID) + ` OR expires_at <= ` + purge.Add(d.Time(time.Now()))
		if err := tx.Execute(ctx, q, purge.Values()...); err != nil {
			return fmt.Errorf("purge refresh tokens: %w", err)
		}
		ins := db.NewArgs(d)
		q = fmt.Sprintf(`INSERT INTO refresh_tokens (user_id, token, expires_at) VALUES (%s, %s, %s)`,
			ins.Add(userID), ins.Add(token), ins.Add(d.Time(expiresAt)))
		if err := tx.Execute(ctx, q, ins.Values()...); err != nil {
			return fmt.Errorf("insert refresh token: %w", err)
		}
		return nil
	})
}

func (s *SQLRefreshTokenStore) FindValid(ctx context.Context, token string, now time.Time) (*RefreshRecord, error) {
	d := s.db.Dialect()
	args := db.NewArgs(d)
	row, err := s.db.QueryOne(ctx,
		`SELECT token, user_id, expires_at FROM refresh_tokens WHERE token = `+args.Add(token)+
			` AND expires_at > `+args.Add(d.Time(now)),
		args.Values()...)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return nil, ErrRefreshRevoked
		}
		return nil, err
	}
	return &RefreshRecord{
		Token:     row.String("token"),
		UserID:    row.String("user_id"),
		ExpiresAt: row.Time("expires_at"),
	}, nil
}

func (s *SQLRefreshTokenStore) Delete(ctx context.Context, token string) error {
	args := db.NewArgs(s.db.Dialect())
	return s.db.Execute(ctx, `DELETE FROM refresh_tokens WHERE token = `+args.Add(token), args.Values()...)
}

func (s *SQLRefreshTokenStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	d := s.db.Dialect()
	return db.InTx(ctx, s.db, func(ctx context.Context, tx db.Executor) (int64, error) {
		count := db.NewArgs(d)
		row, err := tx.QueryOne(ctx,
			`SELECT COUNT(*) AS n FROM refresh_tokens WHERE expires_at <= `+count.Add(d.Time(now)), count.Values()...)
		if err != nil {
			return 0, err
		}
		n := row.Int("n")
		if n == 0 {
			return 0, nil
		}
		del := db.NewArgs(d)
		if err := tx.Execute(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= `+del.Add(d.Time(now)), del.Values()...); err != nil {
			return 0, err
		}
		return n, nil
	})
}
