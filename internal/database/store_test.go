package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mixelka/codeinbox/pkg/models"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func newTestMessage(account string, uid uint32) *models.Message {
	return &models.Message{
		ID:         uuid.NewString(),
		Account:    account,
		Subject:    "Your code",
		FromAddr:   "noreply@service.test",
		ToAddr:     "alias@forward.test",
		BodyText:   "code: 123456",
		UID:        uid,
		ReceivedAt: time.Now(),
	}
}

func TestInsertMessage_DuplicateUIDIsNoOp(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	msg := newTestMessage("box@example.test", 42)
	inserted, err := db.InsertMessage(ctx, msg)
	require.NoError(t, err)
	require.True(t, inserted)

	// Same (account, uid), fresh row id: must be ignored
	dup := newTestMessage("box@example.test", 42)
	inserted, err = db.InsertMessage(ctx, dup)
	require.NoError(t, err)
	require.False(t, inserted)

	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM messages`))
	require.Equal(t, 1, count)
}

func TestInsertMessage_SameUIDDifferentAccount(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	inserted, err := db.InsertMessage(ctx, newTestMessage("a@example.test", 7))
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = db.InsertMessage(ctx, newTestMessage("b@example.test", 7))
	require.NoError(t, err)
	require.True(t, inserted)
}

func TestGetLastMessage(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.GetLastMessage(ctx, "box@example.test")
	require.ErrorIs(t, err, ErrNotFound)

	first := newTestMessage("box@example.test", 1)
	_, err = db.InsertMessage(ctx, first)
	require.NoError(t, err)

	second := newTestMessage("box@example.test", 2)
	second.Subject = "Newest"
	_, err = db.InsertMessage(ctx, second)
	require.NoError(t, err)

	got, err := db.GetLastMessage(ctx, "box@example.test")
	require.NoError(t, err)
	require.Equal(t, second.ID, got.ID)
	require.Equal(t, "Newest", got.Subject)

	// Other accounts never leak in
	_, err = db.GetLastMessage(ctx, "other@example.test")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestConsumeLastCode_SingleUse(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	msg := newTestMessage("box@example.test", 1)
	_, err := db.InsertMessage(ctx, msg)
	require.NoError(t, err)
	_, err = db.InsertCode(ctx, msg.ID, "123456")
	require.NoError(t, err)

	code, err := db.ConsumeLastCode(ctx, "box@example.test")
	require.NoError(t, err)
	require.Equal(t, "123456", code.Code.Code)
	require.True(t, code.Consumed)
	require.Equal(t, msg.FromAddr, code.FromAddr)

	// Second retrieval with no new mail in between
	_, err = db.ConsumeLastCode(ctx, "box@example.test")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestConsumeLastCode_MostRecentFirst(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	older := newTestMessage("box@example.test", 1)
	_, err := db.InsertMessage(ctx, older)
	require.NoError(t, err)
	_, err = db.InsertCode(ctx, older.ID, "111111")
	require.NoError(t, err)

	newer := newTestMessage("box@example.test", 2)
	_, err = db.InsertMessage(ctx, newer)
	require.NoError(t, err)
	_, err = db.InsertCode(ctx, newer.ID, "222222")
	require.NoError(t, err)

	code, err := db.ConsumeLastCode(ctx, "box@example.test")
	require.NoError(t, err)
	require.Equal(t, "222222", code.Code.Code)

	code, err = db.ConsumeLastCode(ctx, "box@example.test")
	require.NoError(t, err)
	require.Equal(t, "111111", code.Code.Code)
}

func TestConsumeLastCodeFromSender(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	fromA := newTestMessage("box@example.test", 1)
	fromA.FromAddr = "a@sender.test"
	_, err := db.InsertMessage(ctx, fromA)
	require.NoError(t, err)
	_, err = db.InsertCode(ctx, fromA.ID, "111111")
	require.NoError(t, err)

	fromB := newTestMessage("box@example.test", 2)
	fromB.FromAddr = "b@sender.test"
	_, err = db.InsertMessage(ctx, fromB)
	require.NoError(t, err)
	_, err = db.InsertCode(ctx, fromB.ID, "222222")
	require.NoError(t, err)

	code, err := db.ConsumeLastCodeFromSender(ctx, "box@example.test", "a@sender.test")
	require.NoError(t, err)
	require.Equal(t, "111111", code.Code.Code)
	require.Equal(t, "a@sender.test", code.FromAddr)

	_, err = db.ConsumeLastCodeFromSender(ctx, "box@example.test", "a@sender.test")
	require.ErrorIs(t, err, ErrNotFound)

	// b's code is untouched
	code, err = db.ConsumeLastCode(ctx, "box@example.test")
	require.NoError(t, err)
	require.Equal(t, "222222", code.Code.Code)
}

func TestConsumeLastCodeToRecipient_AccountIndependent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	msg := newTestMessage("box@example.test", 1)
	msg.ToAddr = "forwarded@alias.test"
	_, err := db.InsertMessage(ctx, msg)
	require.NoError(t, err)
	_, err = db.InsertCode(ctx, msg.ID, "654321")
	require.NoError(t, err)

	code, err := db.ConsumeLastCodeToRecipient(ctx, "forwarded@alias.test")
	require.NoError(t, err)
	require.Equal(t, "654321", code.Code.Code)
	require.Equal(t, "forwarded@alias.test", code.ToAddr)

	_, err = db.ConsumeLastCodeToRecipient(ctx, "forwarded@alias.test")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestConsumeLastCode_MonotonicAcrossFilters(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	msg := newTestMessage("box@example.test", 1)
	_, err := db.InsertMessage(ctx, msg)
	require.NoError(t, err)
	_, err = db.InsertCode(ctx, msg.ID, "999999")
	require.NoError(t, err)

	_, err = db.ConsumeLastCode(ctx, "box@example.test")
	require.NoError(t, err)

	// Once consumed, no filter ever returns it again
	_, err = db.ConsumeLastCodeFromSender(ctx, "box@example.test", msg.FromAddr)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = db.ConsumeLastCodeToRecipient(ctx, msg.ToAddr)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestConsumeLastCode_ConcurrentSingleDispense(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	msg := newTestMessage("box@example.test", 1)
	_, err := db.InsertMessage(ctx, msg)
	require.NoError(t, err)
	_, err = db.InsertCode(ctx, msg.ID, "424242")
	require.NoError(t, err)

	const callers = 16
	var wg sync.WaitGroup
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := db.ConsumeLastCode(ctx, "box@example.test")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var won, lost int
	for err := range results {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrNotFound):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, won)
	require.Equal(t, callers-1, lost)
}

func TestConsumeLastCode_FullRecordOrNotFoundUnderCleanup(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	// Expired messages whose codes are racing retention deletion
	const seeded = 20
	for i := 0; i < seeded; i++ {
		msg := newTestMessage("box@example.test", uint32(i+1))
		_, err := db.InsertMessage(ctx, msg)
		require.NoError(t, err)
		_, err = db.InsertCode(ctx, msg.ID, fmt.Sprintf("10%04d", i))
		require.NoError(t, err)
		_, err = db.Exec(`UPDATE messages SET created_at = ? WHERE id = ?`,
			time.Now().AddDate(0, 0, -8), msg.ID)
		require.NoError(t, err)
	}

	cleanupDone := make(chan error, 1)
	go func() {
		for i := 0; i < 10; i++ {
			if _, err := db.CleanupOlderThan(ctx, 7); err != nil {
				cleanupDone <- err
				return
			}
		}
		cleanupDone <- nil
	}()

	// Every retrieval must be a fully-formed record or a clean not-found,
	// never a consumed-but-undelivered code
	for {
		code, err := db.ConsumeLastCode(ctx, "box@example.test")
		if errors.Is(err, ErrNotFound) {
			break
		}
		require.NoError(t, err)
		require.NotEmpty(t, code.Code.Code)
		require.NotEmpty(t, code.FromAddr)
	}
	require.NoError(t, <-cleanupDone)
}

func TestCleanupOlderThan(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	old := newTestMessage("box@example.test", 1)
	_, err := db.InsertMessage(ctx, old)
	require.NoError(t, err)
	_, err = db.InsertCode(ctx, old.ID, "111111")
	require.NoError(t, err)
	// Age the row past the cutoff
	_, err = db.Exec(`UPDATE messages SET created_at = ? WHERE id = ?`,
		time.Now().AddDate(0, 0, -8), old.ID)
	require.NoError(t, err)

	fresh := newTestMessage("box@example.test", 2)
	_, err = db.InsertMessage(ctx, fresh)
	require.NoError(t, err)
	_, err = db.InsertCode(ctx, fresh.ID, "222222")
	require.NoError(t, err)
	// One second younger than the cutoff: must survive
	_, err = db.Exec(`UPDATE messages SET created_at = ? WHERE id = ?`,
		time.Now().AddDate(0, 0, -7).Add(time.Second), fresh.ID)
	require.NoError(t, err)

	removed, err := db.CleanupOlderThan(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	var messages, codes int
	require.NoError(t, db.Get(&messages, `SELECT COUNT(*) FROM messages`))
	require.NoError(t, db.Get(&codes, `SELECT COUNT(*) FROM codes`))
	require.Equal(t, 1, messages)
	require.Equal(t, 1, codes)

	// The survivor's code is still dispensable
	code, err := db.ConsumeLastCode(ctx, "box@example.test")
	require.NoError(t, err)
	require.Equal(t, "222222", code.Code.Code)
}

func TestInsertCode_MultipleCodesPerMessage(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	msg := newTestMessage("box@example.test", 1)
	_, err := db.InsertMessage(ctx, msg)
	require.NoError(t, err)

	id1, err := db.InsertCode(ctx, msg.ID, "111111")
	require.NoError(t, err)
	id2, err := db.InsertCode(ctx, msg.ID, "222222")
	require.NoError(t, err)
	require.Greater(t, id2, id1)
}

func TestConsumeLastCode_TieBrokenByNewestRow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	// Two codes created within the same timestamp tick
	msg := newTestMessage("box@example.test", 1)
	_, err := db.InsertMessage(ctx, msg)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = db.InsertCode(ctx, msg.ID, fmt.Sprintf("11111%d", i))
		require.NoError(t, err)
	}

	code, err := db.ConsumeLastCode(ctx, "box@example.test")
	require.NoError(t, err)
	require.Equal(t, "111111", code.Code.Code)
}
