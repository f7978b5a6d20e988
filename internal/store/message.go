package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DefaultFetchLimit bounds a full conversation load.
const DefaultFetchLimit = 100

// InsertMessage appends a message and returns the stored row.
func (db *DB) InsertMessage(ctx context.Context, nm *NewMessage) (*Message, error) {
	now := time.Now().UnixMilli()
	res, err := db.ExecContext(ctx, `
		INSERT INTO messages (chat_id, sender_id, content, message_type, file_url, file_name, file_size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		nm.ConversationID, nm.SenderID, nm.Content, nm.Kind, nm.MediaURL, nm.FileName, nm.FileSize, now)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return &Message{
		ID:             id,
		ConversationID: nm.ConversationID,
		SenderID:       nm.SenderID,
		Content:        nm.Content,
		Kind:           nm.Kind,
		MediaURL:       nm.MediaURL,
		FileName:       nm.FileName,
		FileSize:       nm.FileSize,
		CreatedAt:      now,
	}, nil
}

// ListMessagesForConversations returns messages of the given conversations
// ordered by conversation id, then newest first. When perConversation > 0
// at most that many rows are returned per conversation.
func (db *DB) ListMessagesForConversations(ctx context.Context, conversationIDs []string, perConversation int) ([]Message, error) {
	if len(conversationIDs) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(conversationIDs)+1)
	for _, id := range conversationIDs {
		args = append(args, id)
	}

	q := `
		SELECT id, chat_id, sender_id, content, message_type, file_url, file_name, file_size, created_at
		FROM messages
		WHERE chat_id IN (` + placeholders(len(conversationIDs)) + `)
		ORDER BY chat_id ASC, created_at DESC, id DESC`
	if perConversation > 0 {
		q = `
		SELECT id, chat_id, sender_id, content, message_type, file_url, file_name, file_size, created_at
		FROM (
			SELECT m.*, ROW_NUMBER() OVER (
				PARTITION BY m.chat_id ORDER BY m.created_at DESC, m.id DESC
			) AS rn
			FROM messages m
			WHERE m.chat_id IN (` + placeholders(len(conversationIDs)) + `)
		)
		WHERE rn <= ?
		ORDER BY chat_id ASC, created_at DESC, id DESC`
		args = append(args, perConversation)
	}

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// FetchMessages loads the oldest limit messages of a conversation in
// ascending creation order, with the sender profile joined in.
func (db *DB) FetchMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultFetchLimit
	}
	rows, err := db.QueryContext(ctx, `
		SELECT m.id, m.chat_id, m.sender_id, m.content, m.message_type, m.file_url, m.file_name, m.file_size, m.created_at,
			COALESCE(NULLIF(u.name, ''), 'Unknown'), COALESCE(u.login, 'unknown'), COALESCE(u.avatar, '')
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.chat_id = ?
		ORDER BY m.created_at ASC, m.id ASC
		LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		var content sql.NullString
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &content, &m.Kind, &m.MediaURL, &m.FileName, &m.FileSize, &m.CreatedAt,
			&m.SenderName, &m.SenderLogin, &m.SenderAvatar); err != nil {
			return nil, err
		}
		if content.Valid {
			m.Content = &content.String
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// LastMessage returns the newest message of a conversation, or nil.
func (db *DB) LastMessage(ctx context.Context, conversationID string) (*Message, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, chat_id, sender_id, content, message_type, file_url, file_name, file_size, created_at
		FROM messages
		WHERE chat_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, conversationID)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (Message, error) {
	var m Message
	var content sql.NullString
	if err := s.Scan(&m.ID, &m.ConversationID, &m.SenderID, &content, &m.Kind, &m.MediaURL, &m.FileName, &m.FileSize, &m.CreatedAt); err != nil {
		return Message{}, err
	}
	if content.Valid {
		m.Content = &content.String
	}
	return m, nil
}
