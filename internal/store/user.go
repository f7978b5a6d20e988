package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UpsertUser inserts or updates a profile row.
func (db *DB) UpsertUser(ctx context.Context, u *User) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		INSERT INTO users (id, name, login, avatar, is_online, last_seen, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE users.name END,
			login = excluded.login,
			avatar = CASE WHEN excluded.avatar != '' THEN excluded.avatar ELSE users.avatar END,
			is_online = excluded.is_online,
			last_seen = MAX(users.last_seen, excluded.last_seen),
			updated_at = excluded.updated_at`,
		u.ID, u.Name, u.Login, u.Avatar, u.IsOnline, u.LastSeen, now)
	return err
}

// GetUser returns a user by id, or nil if there is none.
func (db *DB) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	err := db.QueryRowContext(ctx, `
		SELECT id, name, login, avatar, is_online, last_seen FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Name, &u.Login, &u.Avatar, &u.IsOnline, &u.LastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// AddContact records contactID in userID's contact list. Idempotent.
func (db *DB) AddContact(ctx context.Context, userID, contactID string) error {
	if userID == contactID {
		return fmt.Errorf("user %q cannot add itself as a contact", userID)
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO contacts (user_id, contact_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id, contact_id) DO NOTHING`,
		userID, contactID, time.Now().UnixMilli())
	return err
}

// ListContacts returns the contact user ids of userID in insertion order.
func (db *DB) ListContacts(ctx context.Context, userID string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT contact_id FROM contacts WHERE user_id = ? ORDER BY created_at, contact_id`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
