// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package auth

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/posture_monitor/internal/storage"
)

func newService(t *testing.T) (*Service, *storage.SQLiteRepository) {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return NewService(repo), repo
}

func TestRegister_NormalizesEmailAndHashes(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, "  Ana@Example.CL ", "secreto1")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.cl", u.Email)

	stored, err := repo.GetUserByEmail(ctx, "ana@example.cl")
	require.NoError(t, err)
	assert.Len(t, stored.Salt, 32)
	assert.Len(t, stored.Password, 64)
	assert.NotEqual(t, "secreto1", stored.Password)
	assert.Equal(t, hashPassword("secreto1", stored.Salt), stored.Password)
}

func TestRegister_Validation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "not-an-email", "secreto1")
	assert.ErrorIs(t, err, ErrInvalidEmail)

	_, err = svc.Register(ctx, "a@b", "secreto1")
	assert.ErrorIs(t, err, ErrInvalidEmail)

	_, err = svc.Register(ctx, "a@b.cl", "12345")
	assert.ErrorIs(t, err, ErrWeakPassword)

	_, err = svc.Register(ctx, "a@b.cl", strings.Repeat("x", 129))
	assert.ErrorIs(t, err, ErrWeakPassword)

	_, err = svc.Register(ctx, "a@b.cl", "123456")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "A@B.cl", "123456")
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestLogin(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	created, err := svc.Register(ctx, "luis@b.cl", "postura")
	require.NoError(t, err)

	u, err := svc.Login(ctx, "LUIS@b.cl", "postura")
	require.NoError(t, err)
	assert.Equal(t, created.ID, u.ID)

	_, err = svc.Login(ctx, "luis@b.cl", "wrong!")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody@b.cl", "postura")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestChangePassword(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, "eva@b.cl", "primera")
	require.NoError(t, err)
	before, err := repo.GetUserByID(ctx, u.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, svc.ChangePassword(ctx, u.ID, "otra", "segunda"), ErrInvalidCredentials)
	assert.ErrorIs(t, svc.ChangePassword(ctx, u.ID, "primera", "abc"), ErrWeakPassword)
	require.NoError(t, svc.ChangePassword(ctx, u.ID, "primera", "segunda"))

	after, err := repo.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.NotEqual(t, before.Salt, after.Salt)

	_, err = svc.Login(ctx, "eva@b.cl", "primera")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, "eva@b.cl", "segunda")
	assert.NoError(t, err)
}

func TestSession(t *testing.T) {
	var s Session
	assert.Nil(t, s.UserID())

	s.Login(42)
	id := s.UserID()
	require.NotNil(t, id)
	assert.Equal(t, int64(42), *id)

	*id = 7
	assert.Equal(t, int64(42), *s.UserID())

	s.Logout()
	assert.Nil(t, s.UserID())
}
