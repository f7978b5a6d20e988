package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PairKey is the order-independent key of a private conversation between a and b.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// ListConversationsOf returns every conversation userID participates in.
func (db *DB) ListConversationsOf(ctx context.Context, userID string) ([]Conversation, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT c.id, c.type, COALESCE(c.group_id, '')
		FROM chat_participants p
		JOIN chats c ON c.id = p.chat_id
		WHERE p.user_id = ?
		ORDER BY c.id`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Kind, &c.GroupID); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// ListOtherParticipants returns participant rows of the given conversations,
// excluding the row of the user named by excluding.
func (db *DB) ListOtherParticipants(ctx context.Context, conversationIDs []string, excluding string) ([]Participant, error) {
	if len(conversationIDs) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(conversationIDs)+1)
	for _, id := range conversationIDs {
		args = append(args, id)
	}
	args = append(args, excluding)

	rows, err := db.QueryContext(ctx, `
		SELECT chat_id, user_id FROM chat_participants
		WHERE chat_id IN (`+placeholders(len(conversationIDs))+`) AND user_id != ?
		ORDER BY chat_id, user_id`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var parts []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.ConversationID, &p.UserID); err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

// Participants returns the user ids of a conversation.
func (db *DB) Participants(ctx context.Context, conversationID string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT user_id FROM chat_participants WHERE chat_id = ? ORDER BY user_id`, conversationID)
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

// GetConversation returns a conversation by id, or nil if there is none.
func (db *DB) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRowContext(ctx, `
		SELECT id, type, COALESCE(group_id, '') FROM chats WHERE id = ?`, id).
		Scan(&c.ID, &c.Kind, &c.GroupID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FindPrivateConversation returns the private conversation whose participant
// set is exactly {a, b}. The bool is false when there is none.
func (db *DB) FindPrivateConversation(ctx context.Context, a, b string) (string, bool, error) {
	var id string
	err := db.QueryRowContext(ctx, `
		SELECT c.id
		FROM chats c
		JOIN chat_participants p ON p.chat_id = c.id
		WHERE c.type = 'private'
		GROUP BY c.id
		HAVING COUNT(*) = 2 AND SUM(p.user_id IN (?, ?)) = 2
		ORDER BY c.created_at, c.id
		LIMIT 1`, a, b).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// FindGroupConversation returns the conversation backing groupID.
func (db *DB) FindGroupConversation(ctx context.Context, groupID string) (string, bool, error) {
	var id string
	err := db.QueryRowContext(ctx, `
		SELECT id FROM chats WHERE group_id = ? AND type = 'group'`, groupID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// CreatePrivateConversation returns the private conversation of {a, b},
// creating it and both participant rows if absent. Concurrent callers for
// the same pair converge on one row through the unique pair_key.
func (db *DB) CreatePrivateConversation(ctx context.Context, a, b string) (string, error) {
	if a == "" || b == "" || a == b {
		return "", fmt.Errorf("private conversation needs two distinct users, got %q and %q", a, b)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	key := PairKey(a, b)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chats (id, type, pair_key, created_at) VALUES (?, 'private', ?, ?)
		ON CONFLICT(pair_key) DO NOTHING`,
		uuid.NewString(), key, time.Now().UnixMilli()); err != nil {
		return "", fmt.Errorf("insert chat: %w", err)
	}

	var id string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM chats WHERE pair_key = ?`, key).Scan(&id); err != nil {
		return "", fmt.Errorf("select chat: %w", err)
	}
	for _, u := range []string{a, b} {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chat_participants (chat_id, user_id) VALUES (?, ?)
			ON CONFLICT(chat_id, user_id) DO NOTHING`, id, u); err != nil {
			return "", fmt.Errorf("insert participant %q: %w", u, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// CreateGroupConversation creates the conversation backing groupID with the
// given members, or adds missing members to the existing one.
func (db *DB) CreateGroupConversation(ctx context.Context, groupID string, members []string) (string, error) {
	if groupID == "" {
		return "", fmt.Errorf("group id is required")
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id string
	err = tx.QueryRowContext(ctx, `SELECT id FROM chats WHERE group_id = ? AND type = 'group'`, groupID).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		id = uuid.NewString()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chats (id, type, group_id, created_at) VALUES (?, 'group', ?, ?)`,
			id, groupID, time.Now().UnixMilli()); err != nil {
			return "", fmt.Errorf("insert group chat: %w", err)
		}
	case err != nil:
		return "", fmt.Errorf("select group chat: %w", err)
	}

	for _, u := range members {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chat_participants (chat_id, user_id) VALUES (?, ?)
			ON CONFLICT(chat_id, user_id) DO NOTHING`, id, u); err != nil {
			return "", fmt.Errorf("insert participant %q: %w", u, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
