// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package storage

import (
	"context"
	"errors"

	"github.com/relabs-tech/posture_monitor/internal/sensor"
)

var ErrNotFound = errors.New("not found")

// Config keys stored in the configuracion table.
const (
	KeySensorIP     = "sensor_ip"
	KeyFeedbackType = "feedback_type"
)

// Repository is the local store. A nil userID means no session is active
// and rows are written (and read back) unowned.
type Repository interface {
	InsertOne(ctx context.Context, userID *int64, r sensor.Reading) error
	InsertBatch(ctx context.Context, userID *int64, rs []sensor.Reading) error
	QueryRange(ctx context.Context, userID *int64, rng Range) ([]Record, error)

	CreateUser(ctx context.Context, u *User) (int64, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id int64) (*User, error)
	UpdatePassword(ctx context.Context, id int64, hash, salt string) error
	UpdateProfile(ctx context.Context, u *User) error
	DeleteUser(ctx context.Context, id int64) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error

	Close() error
}
