// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/mattn/go-sqlite3"

	"github.com/relabs-tech/posture_monitor/internal/sensor"
)

var ErrDuplicate = errors.New("duplicate key")

type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (or creates) the database at dbPath.
//
// Foreign keys are enforced so deleting a user cascades to its records,
// and transactions are opened with BEGIN EXCLUSIVE so a batch never
// interleaves with another writer.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_txlock=exclusive&_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dbPath, err)
	}
	// one shared handle
	db.SetMaxOpenConns(1)

	repo := &SQLiteRepository{db: db}
	if err := repo.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return repo, nil
}

func (r *SQLiteRepository) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usuarios (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL UNIQUE,
		password TEXT NOT NULL,
		salt TEXT NOT NULL,
		nombre TEXT,
		apellido TEXT,
		fechaNacimiento TEXT,
		genero TEXT,
		alturaCm TEXT,
		pesoKg TEXT,
		porcMusculo TEXT,
		porcGrasa TEXT,
		userIcon TEXT
	);

	CREATE TABLE IF NOT EXISTS registros (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		fecha TEXT NOT NULL,
		pitch REAL NOT NULL,
		roll REAL NOT NULL,
		refPitch REAL NOT NULL,
		refRoll REAL NOT NULL,
		malaPostura INTEGER DEFAULT 1 CHECK (malaPostura IN (0, 1)),
		userId INTEGER,
		FOREIGN KEY (userId) REFERENCES usuarios(id)
			ON DELETE CASCADE
			ON UPDATE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_registros_user_fecha ON registros(userId, fecha);

	CREATE TABLE IF NOT EXISTS configuracion (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		key TEXT UNIQUE,
		value TEXT
	);
	`

	_, err := r.db.Exec(schema)
	return err
}

const insertRecord = `
	INSERT INTO registros (fecha, pitch, roll, refPitch, refRoll, malaPostura, userId)
	VALUES (?, ?, ?, ?, ?, ?, ?)
`

// InsertOne stores a single reading. Calibrating readings are skipped.
func (r *SQLiteRepository) InsertOne(ctx context.Context, userID *int64, rd sensor.Reading) error {
	if rd.Calibrating {
		return nil
	}
	rec := FromReading(rd, userID)
	_, err := r.db.ExecContext(ctx, insertRecord, recordArgs(rec)...)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// InsertBatch stores rs in order inside one exclusive transaction: either
// every row commits or none does.
func (r *SQLiteRepository) InsertBatch(ctx context.Context, userID *int64, rs []sensor.Reading) error {
	if len(rs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertRecord)
	if err != nil {
		return fmt.Errorf("prepare batch insert: %w", err)
	}
	defer stmt.Close()

	for i, rd := range rs {
		if rd.Calibrating {
			continue
		}
		if _, err := stmt.ExecContext(ctx, recordArgs(FromReading(rd, userID))...); err != nil {
			return fmt.Errorf("batch row %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func recordArgs(rec Record) []any {
	var uid any
	if rec.UserID != nil {
		uid = *rec.UserID
	}
	return []any{rec.Fecha, rec.Pitch, rec.Roll, rec.RefPitch, rec.RefRoll, rec.MalaPostura, uid}
}

// QueryRange returns the records of userID inside rng, oldest first.
// A nil userID selects the unowned records.
func (r *SQLiteRepository) QueryRange(ctx context.Context, userID *int64, rng Range) ([]Record, error) {
	query := `
		SELECT id, fecha, pitch, roll, refPitch, refRoll, malaPostura, userId
		FROM registros
		WHERE `
	var args []any
	if userID != nil {
		query += "userId = ?"
		args = append(args, *userID)
	} else {
		query += "userId IS NULL"
	}
	if !rng.From.IsZero() {
		query += " AND fecha >= ?"
		args = append(args, sensor.FormatTimestamp(rng.From))
	}
	if !rng.To.IsZero() {
		query += " AND fecha < ?"
		args = append(args, sensor.FormatTimestamp(rng.To))
	}
	query += " ORDER BY fecha ASC, id ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	return r.scanRecords(rows)
}

func (r *SQLiteRepository) scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record

	for rows.Next() {
		var rec Record
		var uid sql.NullInt64

		err := rows.Scan(
			&rec.ID,
			&rec.Fecha,
			&rec.Pitch,
			&rec.Roll,
			&rec.RefPitch,
			&rec.RefRoll,
			&rec.MalaPostura,
			&uid,
		)
		if err != nil {
			return nil, err
		}
		if uid.Valid {
			id := uid.Int64
			rec.UserID = &id
		}

		records = append(records, rec)
	}

	return records, rows.Err()
}

func (r *SQLiteRepository) CreateUser(ctx context.Context, u *User) (int64, error) {
	query := `
		INSERT INTO usuarios (email, password, salt, nombre, apellido, fechaNacimiento,
			genero, alturaCm, pesoKg, porcMusculo, porcGrasa, userIcon)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := r.db.ExecContext(ctx, query,
		u.Email, u.Password, u.Salt,
		nullable(u.Nombre), nullable(u.Apellido), nullable(u.FechaNacimiento),
		nullable(u.Genero), nullable(u.AlturaCm), nullable(u.PesoKg),
		nullable(u.PorcMusculo), nullable(u.PorcGrasa), nullable(u.UserIcon),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return 0, fmt.Errorf("user %s: %w", u.Email, ErrDuplicate)
		}
		return 0, fmt.Errorf("insert user: %w", err)
	}
	return res.LastInsertId()
}

func (r *SQLiteRepository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return r.getUser(ctx, "email = ?", email)
}

func (r *SQLiteRepository) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return r.getUser(ctx, "id = ?", id)
}

func (r *SQLiteRepository) getUser(ctx context.Context, where string, arg any) (*User, error) {
	query := `
		SELECT id, email, password, salt, nombre, apellido, fechaNacimiento,
			genero, alturaCm, pesoKg, porcMusculo, porcGrasa, userIcon
		FROM usuarios
		WHERE ` + where

	var u User
	var nombre, apellido, nacimiento, genero, altura, peso, musculo, grasa, icon sql.NullString
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.Password, &u.Salt,
		&nombre, &apellido, &nacimiento, &genero, &altura, &peso, &musculo, &grasa, &icon,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}

	u.Nombre = nombre.String
	u.Apellido = apellido.String
	u.FechaNacimiento = nacimiento.String
	u.Genero = genero.String
	u.AlturaCm = altura.String
	u.PesoKg = peso.String
	u.PorcMusculo = musculo.String
	u.PorcGrasa = grasa.String
	u.UserIcon = icon.String

	return &u, nil
}

func (r *SQLiteRepository) UpdatePassword(ctx context.Context, id int64, hash, salt string) error {
	return r.execOne(ctx, "UPDATE usuarios SET password = ?, salt = ? WHERE id = ?", hash, salt, id)
}

func (r *SQLiteRepository) UpdateProfile(ctx context.Context, u *User) error {
	query := `
		UPDATE usuarios SET nombre = ?, apellido = ?, fechaNacimiento = ?, genero = ?,
			alturaCm = ?, pesoKg = ?, porcMusculo = ?, porcGrasa = ?, userIcon = ?
		WHERE id = ?
	`
	return r.execOne(ctx, query,
		nullable(u.Nombre), nullable(u.Apellido), nullable(u.FechaNacimiento),
		nullable(u.Genero), nullable(u.AlturaCm), nullable(u.PesoKg),
		nullable(u.PorcMusculo), nullable(u.PorcGrasa), nullable(u.UserIcon),
		u.ID,
	)
}

// DeleteUser removes the user and, through the foreign key, its records.
func (r *SQLiteRepository) DeleteUser(ctx context.Context, id int64) error {
	return r.execOne(ctx, "DELETE FROM usuarios WHERE id = ?", id)
}

func (r *SQLiteRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value sql.NullString
	err := r.db.QueryRowContext(ctx, "SELECT value FROM configuracion WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get config %s: %w", key, err)
	}
	return value.String, nil
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO configuracion (key, value)
		VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set config %s: %w", key, err)
	}
	log.Printf("store: config %s updated", key)
	return nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
