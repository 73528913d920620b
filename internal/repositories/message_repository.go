package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"messenger-service/internal/apperrors"
	"messenger-service/internal/delivery"
	"messenger-service/internal/models"
)

// MessageRepository is the append-only message ledger plus the persistence
// half of the delivery state machine: appends, ordered listing, read marks
// and delivery acknowledgments with monotonic status recomputation.
type MessageRepository interface {
	AppendMessage(ctx context.Context, chatID, senderID int, content string, attachments []models.Attachment) (models.Message, error)
	ListMessages(ctx context.Context, chatID, requesterID, limit, beforeID int) ([]models.Message, error)
	MarkRead(ctx context.Context, chatID, readerID, upToID int) ([]models.StatusChange, error)
	MarkDelivered(ctx context.Context, chatID, readerID, messageID int) ([]models.StatusChange, error)
	UnreadCount(ctx context.Context, chatID, userID int) (int, error)
}

// MessageRepo is a sqlx-backed implementation.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs a MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// AppendMessage validates, appends and fully commits a message in one
// serialized transaction. On any failure nothing is persisted and the caller
// must resubmit; a committed append is never rolled back afterwards.
func (r *MessageRepo) AppendMessage(ctx context.Context, chatID, senderID int, content string, attachments []models.Attachment) (models.Message, error) {
	if content == "" && len(attachments) == 0 {
		return models.Message{}, apperrors.Validation("message needs content or attachments")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	chat, err := lockChat(ctx, tx, chatID)
	if err != nil {
		return models.Message{}, err
	}

	var senderIsAdmin bool
	err = tx.GetContext(ctx, &senderIsAdmin, `SELECT is_admin FROM chat_participants WHERE chat_id=$1 AND user_id=$2`, chatID, senderID)
	if errors.Is(err, sql.ErrNoRows) {
		err = apperrors.Authorization("not a chat member")
		return models.Message{}, err
	}
	if err != nil {
		return models.Message{}, err
	}
	if chat.IsGroup && chat.OnlyAdminsCanMessage && !senderIsAdmin {
		err = apperrors.Authorization("only admins can message in this group")
		return models.Message{}, err
	}

	var msg models.Message
	err = tx.QueryRowxContext(ctx, `INSERT INTO messages (chat_id, sender_id, content, status)
        VALUES ($1, $2, $3, 'sent')
        RETURNING id, chat_id, sender_id, content, status, is_system, created_at`, chatID, senderID, content).
		Scan(&msg.ID, &msg.ChatID, &msg.SenderID, &msg.Content, &msg.Status, &msg.IsSystem, &msg.CreatedAt)
	if err != nil {
		return models.Message{}, err
	}

	// The sender has trivially read their own message.
	if _, err = tx.ExecContext(ctx, `INSERT INTO message_reads (message_id, user_id) VALUES ($1, $2)`, msg.ID, senderID); err != nil {
		return models.Message{}, err
	}

	for _, att := range attachments {
		var stored models.Attachment
		err = tx.QueryRowxContext(ctx, `INSERT INTO attachments (message_id, name, mime_type, byte_size, url)
            VALUES ($1, $2, $3, $4, $5) RETURNING id, message_id, name, mime_type, byte_size, url`,
			msg.ID, att.Name, att.MimeType, att.Size, att.URL).StructScan(&stored)
		if err != nil {
			return models.Message{}, err
		}
		msg.Attachments = append(msg.Attachments, stored)
	}

	if err = tx.GetContext(ctx, &msg.SenderName, `SELECT name FROM users WHERE id=$1`, senderID); err != nil {
		return models.Message{}, err
	}
	if _, err = tx.ExecContext(ctx, `UPDATE chats SET updated_at = NOW() WHERE id=$1`, chatID); err != nil {
		return models.Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// ListMessages returns the chat's messages oldest-first with resolved sender
// names and attachments. A zero beforeID means from the latest; limit caps
// how far back the page reaches.
func (r *MessageRepo) ListMessages(ctx context.Context, chatID, requesterID, limit, beforeID int) ([]models.Message, error) {
	var member bool
	if err := r.db.GetContext(ctx, &member, `SELECT EXISTS(SELECT 1 FROM chat_participants WHERE chat_id=$1 AND user_id=$2)`, chatID, requesterID); err != nil {
		return nil, err
	}
	if !member {
		return nil, apperrors.Authorization("not a chat member")
	}

	if limit <= 0 || limit > 500 {
		limit = 500
	}

	// Ids are assigned under the chat's row lock, so id order is append
	// order; created_at alone is not reliable for ordering.
	query := `SELECT * FROM (
            SELECT m.id, m.chat_id, m.sender_id, u.name AS sender_name, m.content, m.status, m.is_system, m.created_at
            FROM messages m INNER JOIN users u ON u.id = m.sender_id
            WHERE m.chat_id=$1 AND ($2 = 0 OR m.id < $2)
            ORDER BY m.id DESC LIMIT $3
        ) page ORDER BY id ASC`
	var msgs []models.Message
	if err := r.db.SelectContext(ctx, &msgs, query, chatID, beforeID, limit); err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return msgs, nil
	}

	ids := make([]int, 0, len(msgs))
	index := map[int]int{}
	for i, m := range msgs {
		ids = append(ids, m.ID)
		index[m.ID] = i
	}
	var atts []models.Attachment
	if err := r.db.SelectContext(ctx, &atts, `SELECT id, message_id, name, mime_type, byte_size, url
        FROM attachments WHERE message_id = ANY($1) ORDER BY id`, pq.Array(ids)); err != nil {
		return nil, err
	}
	for _, att := range atts {
		i := index[att.MessageID]
		msgs[i].Attachments = append(msgs[i].Attachments, att)
	}
	return msgs, nil
}

// MarkRead adds the reader to the read set of every message in the chat sent
// by others, optionally bounded by upToID, and advances message statuses.
// The read set only grows, so re-invocation is a no-op.
func (r *MessageRepo) MarkRead(ctx context.Context, chatID, readerID, upToID int) ([]models.StatusChange, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = lockChat(ctx, tx, chatID); err != nil {
		return nil, err
	}

	var member bool
	if err = tx.GetContext(ctx, &member, `SELECT EXISTS(SELECT 1 FROM chat_participants WHERE chat_id=$1 AND user_id=$2)`, chatID, readerID); err != nil {
		return nil, err
	}
	if !member {
		err = apperrors.Authorization("not a chat member")
		return nil, err
	}

	if upToID != 0 {
		var inChat bool
		if err = tx.GetContext(ctx, &inChat, `SELECT EXISTS(SELECT 1 FROM messages WHERE id=$1 AND chat_id=$2)`, upToID, chatID); err != nil {
			return nil, err
		}
		if !inChat {
			err = apperrors.NotFound("message %d not found in chat %d", upToID, chatID)
			return nil, err
		}
	}

	rows, err := tx.QueryxContext(ctx, `INSERT INTO message_reads (message_id, user_id)
        SELECT m.id, $2 FROM messages m
        WHERE m.chat_id=$1 AND m.sender_id <> $2 AND ($3 = 0 OR m.id <= $3)
        ON CONFLICT DO NOTHING
        RETURNING message_id`, chatID, readerID, upToID)
	if err != nil {
		return nil, err
	}
	var affected []int
	for rows.Next() {
		var id int
		if err = rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		affected = append(affected, id)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, err
	}

	changes, err := recomputeStatuses(ctx, tx, chatID, affected)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return changes, nil
}

// MarkDelivered records that a recipient's session received the message,
// either via an explicit ack or the grace-period inference.
func (r *MessageRepo) MarkDelivered(ctx context.Context, chatID, readerID, messageID int) ([]models.StatusChange, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = lockChat(ctx, tx, chatID); err != nil {
		return nil, err
	}

	var senderID int
	err = tx.GetContext(ctx, &senderID, `SELECT sender_id FROM messages WHERE id=$1 AND chat_id=$2`, messageID, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		err = apperrors.NotFound("message %d not found in chat %d", messageID, chatID)
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if senderID == readerID {
		err = tx.Commit()
		return nil, err
	}

	var member bool
	if err = tx.GetContext(ctx, &member, `SELECT EXISTS(SELECT 1 FROM chat_participants WHERE chat_id=$1 AND user_id=$2)`, chatID, readerID); err != nil {
		return nil, err
	}
	if !member {
		err = apperrors.Authorization("not a chat member")
		return nil, err
	}

	if _, err = tx.ExecContext(ctx, `INSERT INTO message_deliveries (message_id, user_id) VALUES ($1, $2)
        ON CONFLICT DO NOTHING`, messageID, readerID); err != nil {
		return nil, err
	}

	changes, err := recomputeStatuses(ctx, tx, chatID, []int{messageID})
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return changes, nil
}

// UnreadCount derives the unread counter for one chat and user straight from
// the ledger.
func (r *MessageRepo) UnreadCount(ctx context.Context, chatID, userID int) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages m
        WHERE m.chat_id=$1 AND m.sender_id <> $2
          AND NOT EXISTS (SELECT 1 FROM message_reads r WHERE r.message_id = m.id AND r.user_id = $2)`, chatID, userID)
	return count, err
}

// recomputeStatuses re-derives the aggregate status of the given messages
// from the current membership and the read/delivery sets, advancing forward
// only. Runs inside the chat's serialized transaction.
func recomputeStatuses(ctx context.Context, tx *sqlx.Tx, chatID int, messageIDs []int) ([]models.StatusChange, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}

	var memberIDs []int
	if err := tx.SelectContext(ctx, &memberIDs, `SELECT user_id FROM chat_participants WHERE chat_id=$1 ORDER BY user_id`, chatID); err != nil {
		return nil, err
	}

	type msgRow struct {
		ID       int             `db:"id"`
		SenderID int             `db:"sender_id"`
		Status   delivery.Status `db:"status"`
	}
	var msgRows []msgRow
	if err := tx.SelectContext(ctx, &msgRows, `SELECT id, sender_id, status FROM messages WHERE id = ANY($1)`, pq.Array(messageIDs)); err != nil {
		return nil, err
	}

	type markRow struct {
		MessageID int `db:"message_id"`
		UserID    int `db:"user_id"`
	}
	readsByMsg := map[int]map[int]bool{}
	var readRows []markRow
	if err := tx.SelectContext(ctx, &readRows, `SELECT message_id, user_id FROM message_reads WHERE message_id = ANY($1)`, pq.Array(messageIDs)); err != nil {
		return nil, err
	}
	for _, row := range readRows {
		if readsByMsg[row.MessageID] == nil {
			readsByMsg[row.MessageID] = map[int]bool{}
		}
		readsByMsg[row.MessageID][row.UserID] = true
	}
	deliveriesByMsg := map[int]map[int]bool{}
	var deliveryRows []markRow
	if err := tx.SelectContext(ctx, &deliveryRows, `SELECT message_id, user_id FROM message_deliveries WHERE message_id = ANY($1)`, pq.Array(messageIDs)); err != nil {
		return nil, err
	}
	for _, row := range deliveryRows {
		if deliveriesByMsg[row.MessageID] == nil {
			deliveriesByMsg[row.MessageID] = map[int]bool{}
		}
		deliveriesByMsg[row.MessageID][row.UserID] = true
	}

	var changes []models.StatusChange
	for _, m := range msgRows {
		recipients := make([]int, 0, len(memberIDs))
		for _, id := range memberIDs {
			if id != m.SenderID {
				recipients = append(recipients, id)
			}
		}
		combined := delivery.Combine(recipients, deliveriesByMsg[m.ID], readsByMsg[m.ID])
		next := delivery.Advance(m.Status, combined)
		if next == m.Status {
			continue
		}
		if _, err := tx.ExecContext(ctx, `UPDATE messages SET status=$2 WHERE id=$1`, m.ID, next); err != nil {
			return nil, err
		}
		changes = append(changes, models.StatusChange{MessageID: m.ID, Status: next})
	}
	return changes, nil
}
