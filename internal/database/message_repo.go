package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mixelka/codeinbox/pkg/models"
)

// InsertMessage creates a new message row. It returns false when a row with the
// same (account, uid) pair already exists, in which case nothing is written.
func (db *DB) InsertMessage(ctx context.Context, msg *models.Message) (bool, error) {
	query := `
		INSERT OR IGNORE INTO messages (id, account, subject, from_addr, to_addr, body_text, uid, received_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		msg.ID,
		msg.Account,
		msg.Subject,
		msg.FromAddr,
		msg.ToAddr,
		msg.BodyText,
		msg.UID,
		msg.ReceivedAt,
		now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert message: %w", err)
	}

	// Zero rows affected means the insert was ignored as a duplicate
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return false, nil
	}

	msg.CreatedAt = now
	return true, nil
}

// GetLastMessage returns the most recently ingested message for the account
func (db *DB) GetLastMessage(ctx context.Context, account string) (*models.Message, error) {
	var msg models.Message
	query := `SELECT * FROM messages WHERE account = ? ORDER BY created_at DESC, uid DESC LIMIT 1`
	err := db.GetContext(ctx, &msg, query, account)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last message: %w", err)
	}
	return &msg, nil
}
