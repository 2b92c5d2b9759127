// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/relabs-tech/posture_monitor/internal/storage"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password must be 6 to 128 characters")
)

const (
	minPasswordLen = 6
	maxPasswordLen = 128
	saltBytes      = 16
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// UserStore is the part of the local store the credential check needs.
type UserStore interface {
	CreateUser(ctx context.Context, u *storage.User) (int64, error)
	GetUserByEmail(ctx context.Context, email string) (*storage.User, error)
	GetUserByID(ctx context.Context, id int64) (*storage.User, error)
	UpdatePassword(ctx context.Context, id int64, hash, salt string) error
}

type Service struct {
	users UserStore
}

func NewService(users UserStore) *Service {
	return &Service{users: users}
}

// Register creates an account. The email is trimmed and lower-cased
// before it is validated and stored.
func (s *Service) Register(ctx context.Context, email, password string) (*storage.User, error) {
	email = normalizeEmail(email)
	if !emailPattern.MatchString(email) {
		return nil, ErrInvalidEmail
	}
	if err := checkPassword(password); err != nil {
		return nil, err
	}

	if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("lookup %s: %w", email, err)
	}

	salt, err := newSalt()
	if err != nil {
		return nil, err
	}
	u := &storage.User{
		Email:    email,
		Password: hashPassword(password, salt),
		Salt:     salt,
	}

	id, err := s.users.CreateUser(ctx, u)
	if errors.Is(err, storage.ErrDuplicate) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", email, err)
	}
	u.ID = id

	log.Printf("auth: registered user %d", id)
	return u, nil
}

// Login returns the user whose credentials match.
func (s *Service) Login(ctx context.Context, email, password string) (*storage.User, error) {
	u, err := s.users.GetUserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if !verify(password, u.Password, u.Salt) {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// ChangePassword replaces the password of userID with a freshly salted
// hash once current has been verified.
func (s *Service) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	u, err := s.users.GetUserByID(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrInvalidCredentials
	}
	if err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	if !verify(current, u.Password, u.Salt) {
		return ErrInvalidCredentials
	}
	if err := checkPassword(next); err != nil {
		return err
	}

	salt, err := newSalt()
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, userID, hashPassword(next, salt), salt); err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	log.Printf("auth: password changed for user %d", userID)
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func checkPassword(p string) error {
	if strings.TrimSpace(p) == "" || len(p) < minPasswordLen || len(p) > maxPasswordLen {
		return ErrWeakPassword
	}
	return nil
}

func newSalt() (string, error) {
	b := make([]byte, saltBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// hashPassword is hex(sha256(password + salt)), the format existing
// usuarios rows were written with.
func hashPassword(password, salt string) string {
	sum := sha256.Sum256([]byte(password + salt))
	return hex.EncodeToString(sum[:])
}

func verify(password, hash, salt string) bool {
	if password == "" || hash == "" || salt == "" {
		return false
	}
	got := hashPassword(password, salt)
	return subtle.ConstantTimeCompare([]byte(got), []byte(strings.ToLower(hash))) == 1
}
