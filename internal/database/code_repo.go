package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mixelka/codeinbox/pkg/models"
)

// InsertCode creates a new unconsumed code row linked to a message
func (db *DB) InsertCode(ctx context.Context, messageID, code string) (int64, error) {
	query := `INSERT INTO codes (message_id, code, consumed) VALUES (?, ?, false)`
	result, err := db.ExecContext(ctx, query, messageID, code)
	if err != nil {
		return 0, fmt.Errorf("failed to insert code: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}
	return id, nil
}

// ConsumeLastCode returns the most recent unconsumed code for the account and
// marks it consumed in the same statement. Two concurrent callers can never
// receive the same code: the conditional UPDATE ... RETURNING selects and flips
// the row atomically.
func (db *DB) ConsumeLastCode(ctx context.Context, account string) (*models.DispensedCode, error) {
	query := `
		UPDATE codes SET consumed = true
		WHERE id = (
			SELECT c.id FROM codes c
			JOIN messages m ON c.message_id = m.id
			WHERE c.consumed = false AND m.account = ?
			ORDER BY c.created_at DESC, c.id DESC
			LIMIT 1
		)
		RETURNING id, message_id, code, consumed, created_at
	`
	return db.consume(ctx, query, account)
}

// ConsumeLastCodeFromSender is ConsumeLastCode additionally filtered by the
// exact sender address.
func (db *DB) ConsumeLastCodeFromSender(ctx context.Context, account, fromAddr string) (*models.DispensedCode, error) {
	query := `
		UPDATE codes SET consumed = true
		WHERE id = (
			SELECT c.id FROM codes c
			JOIN messages m ON c.message_id = m.id
			WHERE c.consumed = false AND m.account = ? AND m.from_addr = ?
			ORDER BY c.created_at DESC, c.id DESC
			LIMIT 1
		)
		RETURNING id, message_id, code, consumed, created_at
	`
	return db.consume(ctx, query, account, fromAddr)
}

// ConsumeLastCodeToRecipient filters by the recorded envelope recipient. It is
// account-independent: the recipient is what disambiguates mail forwarded into
// the watched mailbox.
func (db *DB) ConsumeLastCodeToRecipient(ctx context.Context, toAddr string) (*models.DispensedCode, error) {
	query := `
		UPDATE codes SET consumed = true
		WHERE id = (
			SELECT c.id FROM codes c
			JOIN messages m ON c.message_id = m.id
			WHERE c.consumed = false AND m.to_addr = ?
			ORDER BY c.created_at DESC, c.id DESC
			LIMIT 1
		)
		RETURNING id, message_id, code, consumed, created_at
	`
	return db.consume(ctx, query, toAddr)
}

// consume runs the flip and the message join in one transaction, so a
// retention pass deleting the owning message can never interleave between the
// two: a dispensed code always comes back fully formed or not at all.
func (db *DB) consume(ctx context.Context, query string, args ...interface{}) (*models.DispensedCode, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var code models.Code
	err = tx.QueryRowxContext(ctx, query, args...).StructScan(&code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume code: %w", err)
	}

	var msg models.Message
	if err := tx.GetContext(ctx, &msg, `SELECT * FROM messages WHERE id = ?`, code.MessageID); err != nil {
		return nil, fmt.Errorf("failed to load message for code: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit consume: %w", err)
	}

	return &models.DispensedCode{
		Code:       code,
		FromAddr:   msg.FromAddr,
		ToAddr:     msg.ToAddr,
		Subject:    msg.Subject,
		ReceivedAt: msg.ReceivedAt,
	}, nil
}

// CleanupOlderThan deletes messages ingested more than the given number of days
// ago, together with their codes. Codes go first to respect the relation.
// Returns the number of messages removed.
func (db *DB) CleanupOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM codes WHERE message_id IN (
			SELECT id FROM messages WHERE created_at < ?
		)
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired codes: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired messages: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit cleanup: %w", err)
	}
	return removed, nil
}
