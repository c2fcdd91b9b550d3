//go:build integration

package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DLMCQ/DermaClinic/internal/db"
	"github.com/DLMCQ/DermaClinic/internal/testinfra"
)

func TestSQLStores_LoginLifecycle(t *testing.T) {
	pg := testinfra.StartPostgres(t)
	ctx := context.Background()

	adapter := db.NewPostgresAdapter(pg.DSN, nil, zap.NewNop())
	require.NoError(t, adapter.Connect(ctx))
	require.NoError(t, adapter.Migrate(ctx))
	defer adapter.Close(ctx)

	users := NewSQLUserStore(adapter)
	refresh := NewSQLRefreshTokenStore(adapter)
	tokens, err := NewTokenService("access-secret", "refresh-secret", time.Minute, time.Hour)
	require.NoError(t, err)
	svc := NewService(users, refresh, tokens, zap.NewNop())

	admin, created, err := svc.EnsureAdmin(ctx, "admin", "Admin1234", "Clinic Admin")
	require.NoError(t, err)
	require.True(t, created)

	adminID := admin.Identity()
	_, err = svc.CreateUser(ctx, &adminID, NewUser{Username: "ADMIN", Password: "Admin1234", Name: "Dup"})
	assert.ErrorIs(t, err, ErrUsernameTaken)

	first, err := svc.Login(ctx, "Admin", "Admin1234")
	require.NoError(t, err)
	second, err := svc.Login(ctx, "admin", "Admin1234")
	require.NoError(t, err)

	_, err = svc.Refresh(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, ErrRefreshRevoked)
	_, err = svc.Refresh(ctx, second.RefreshToken)
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, second.RefreshToken))
	_, err = svc.Refresh(ctx, second.RefreshToken)
	assert.ErrorIs(t, err, ErrRefreshRevoked)

	require.NoError(t, refresh.ReplaceForUser(ctx, admin.ID, "stale-token", time.Now().Add(-time.Minute)))
	n, err := svc.SweepExpiredTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	active := true
	list, err := users.List(ctx, UserFilter{Role: RoleAdmin, Active: &active})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "admin", list[0].Username)
}

func TestSQLStores_ConcurrentLoginsKeepOneToken(t *testing.T) {
	pg := testinfra.StartPostgres(t)
	ctx := context.Background()

	adapter := db.NewPostgresAdapter(pg.DSN, nil, zap.NewNop())
	require.NoError(t, adapter.Connect(ctx))
	require.NoError(t, adapter.Migrate(ctx))
	defer adapter.Close(ctx)

	refresh := NewSQLRefreshTokenStore(adapter)
	tokens, err := NewTokenService("access-secret", "refresh-secret", time.Minute, time.Hour)
	require.NoError(t, err)
	svc := NewService(NewSQLUserStore(adapter), refresh, tokens, zap.NewNop())

	admin, _, err := svc.EnsureAdmin(ctx, "admin", "Admin1234", "Clinic Admin")
	require.NoError(t, err)

	const logins = 8
	var wg sync.WaitGroup
	errs := make(chan error, logins)
	for i := 0; i < logins; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Login(ctx, "admin", "Admin1234")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	row, err := adapter.QueryOne(ctx, `SELECT COUNT(*) AS n FROM refresh_tokens WHERE user_id = $1`, admin.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), row.Int("n"))
}
