package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"messenger-service/internal/apperrors"
	"messenger-service/internal/models"
)

// ChatRepository abstracts chat and membership persistence: direct chat
// creation, group lifecycle, the admin/member relation and the per-user
// chat directory.
type ChatRepository interface {
	CreateOrGetDirectChat(ctx context.Context, userID int, friendID int) (models.Chat, error)
	CreateGroupChat(ctx context.Context, creatorID int, name, description, avatar string, memberIDs []int) (models.Chat, error)
	GetChat(ctx context.Context, chatID int) (models.Chat, error)
	GetParticipants(ctx context.Context, chatID int) ([]models.Participant, error)
	IsParticipant(ctx context.Context, chatID int, userID int) (bool, error)
	AddParticipant(ctx context.Context, chatID, actorID, targetID int) (models.Message, error)
	RemoveParticipant(ctx context.Context, chatID, actorID, targetID int) (models.Message, error)
	PromoteAdmin(ctx context.Context, chatID, actorID, targetID int) (models.Message, error)
	UpdateGroup(ctx context.Context, chatID, actorID int, upd models.GroupUpdate) (models.Chat, error)
	DeleteGroup(ctx context.Context, chatID, actorID int) error
	ListChatSummaries(ctx context.Context, userID int) ([]models.ChatSummary, error)
}

// ChatRepo is a sqlx implementation of ChatRepository. Every mutation locks
// the chat row first, so all membership and ledger changes for one chat are
// serialized at the database level.
type ChatRepo struct {
	db *sqlx.DB
}

// NewChatRepo constructs a ChatRepo.
func NewChatRepo(db *sqlx.DB) *ChatRepo {
	return &ChatRepo{db: db}
}

type chatRow struct {
	ID                    int            `db:"id"`
	IsGroup               bool           `db:"is_group"`
	DirectKey             sql.NullString `db:"direct_key"`
	Name                  string         `db:"name"`
	Description           string         `db:"description"`
	Avatar                string         `db:"avatar"`
	CreatedBy             int            `db:"created_by"`
	OnlyAdminsCanMessage  bool           `db:"only_admins_can_message"`
	OnlyAdminsCanEditInfo bool           `db:"only_admins_can_edit_info"`
	DisappearingMessages  bool           `db:"disappearing_messages"`
	CreatedAt             sql.NullTime   `db:"created_at"`
	UpdatedAt             sql.NullTime   `db:"updated_at"`
}

const chatColumns = `id, is_group, direct_key, name, description, avatar, created_by,
    only_admins_can_message, only_admins_can_edit_info, disappearing_messages, created_at, updated_at`

func (row chatRow) toChat() models.Chat {
	return models.Chat{
		ID:          row.ID,
		IsGroup:     row.IsGroup,
		Name:        row.Name,
		Description: row.Description,
		Avatar:      row.Avatar,
		CreatedBy:   row.CreatedBy,
		Settings: models.ChatSettings{
			OnlyAdminsCanMessage:  row.OnlyAdminsCanMessage,
			OnlyAdminsCanEditInfo: row.OnlyAdminsCanEditInfo,
			DisappearingMessages:  row.DisappearingMessages,
		},
		CreatedAt: row.CreatedAt.Time,
		UpdatedAt: row.UpdatedAt.Time,
	}
}

func directKey(userA, userB int) string {
	if userA > userB {
		userA, userB = userB, userA
	}
	return fmt.Sprintf("%d:%d", userA, userB)
}

// CreateOrGetDirectChat returns the existing direct chat for the unordered
// user pair, creating it idempotently when absent.
func (r *ChatRepo) CreateOrGetDirectChat(ctx context.Context, userID int, friendID int) (models.Chat, error) {
	if userID == friendID {
		return models.Chat{}, apperrors.Validation("cannot start a chat with yourself")
	}
	key := directKey(userID, friendID)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Chat{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var row chatRow
	err = tx.GetContext(ctx, &row, `SELECT `+chatColumns+` FROM chats WHERE direct_key=$1`, key)
	if err == nil {
		err = tx.Commit()
		return row.toChat(), err
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, err
	}

	err = tx.QueryRowxContext(ctx, `INSERT INTO chats (is_group, direct_key, created_by) VALUES (FALSE, $1, $2)
        ON CONFLICT (direct_key) DO NOTHING RETURNING `+chatColumns, key, userID).StructScan(&row)
	if errors.Is(err, sql.ErrNoRows) {
		// Lost a creation race; the other transaction's chat is the one.
		err = tx.GetContext(ctx, &row, `SELECT `+chatColumns+` FROM chats WHERE direct_key=$1`, key)
		if err != nil {
			return models.Chat{}, err
		}
		err = tx.Commit()
		return row.toChat(), err
	}
	if err != nil {
		return models.Chat{}, err
	}

	for _, id := range []int{userID, friendID} {
		if _, err = tx.ExecContext(ctx, `INSERT INTO chat_participants (chat_id, user_id) VALUES ($1, $2)`, row.ID, id); err != nil {
			return models.Chat{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Chat{}, err
	}
	return row.toChat(), nil
}

// CreateGroupChat creates a group with the creator as its sole admin and
// records a system message announcing the creation.
func (r *ChatRepo) CreateGroupChat(ctx context.Context, creatorID int, name, description, avatar string, memberIDs []int) (models.Chat, error) {
	if name == "" {
		return models.Chat{}, apperrors.Validation("group name is required")
	}
	if len(memberIDs) == 0 {
		return models.Chat{}, apperrors.Validation("at least one participant is required")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Chat{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var row chatRow
	err = tx.QueryRowxContext(ctx, `INSERT INTO chats (is_group, name, description, avatar, created_by, only_admins_can_edit_info)
        VALUES (TRUE, $1, $2, $3, $4, TRUE) RETURNING `+chatColumns, name, description, avatar, creatorID).StructScan(&row)
	if err != nil {
		return models.Chat{}, err
	}

	if _, err = tx.ExecContext(ctx, `INSERT INTO chat_participants (chat_id, user_id, is_admin) VALUES ($1, $2, TRUE)`, row.ID, creatorID); err != nil {
		return models.Chat{}, err
	}
	seen := map[int]struct{}{creatorID: {}}
	for _, id := range memberIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if _, err = tx.ExecContext(ctx, `INSERT INTO chat_participants (chat_id, user_id) VALUES ($1, $2)`, row.ID, id); err != nil {
			return models.Chat{}, err
		}
	}

	var creatorName string
	if err = tx.GetContext(ctx, &creatorName, `SELECT name FROM users WHERE id=$1`, creatorID); err != nil {
		return models.Chat{}, err
	}
	if _, err = insertSystemMessage(ctx, tx, row.ID, creatorID, fmt.Sprintf("Group %q created by %s", name, creatorName)); err != nil {
		return models.Chat{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Chat{}, err
	}
	return row.toChat(), nil
}

// GetChat fetches a chat by id.
func (r *ChatRepo) GetChat(ctx context.Context, chatID int) (models.Chat, error) {
	var row chatRow
	err := r.db.GetContext(ctx, &row, `SELECT `+chatColumns+` FROM chats WHERE id=$1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, apperrors.NotFound("chat %d not found", chatID)
	}
	if err != nil {
		return models.Chat{}, err
	}
	return row.toChat(), nil
}

// GetParticipants returns the chat's members with resolved display info.
func (r *ChatRepo) GetParticipants(ctx context.Context, chatID int) ([]models.Participant, error) {
	var participants []models.Participant
	err := r.db.SelectContext(ctx, &participants, `SELECT p.user_id, u.name, u.avatar, u.status, p.is_admin, p.joined_at
        FROM chat_participants p INNER JOIN users u ON u.id = p.user_id
        WHERE p.chat_id=$1 ORDER BY p.joined_at, p.user_id`, chatID)
	return participants, err
}

// IsParticipant checks whether a user belongs to the chat.
func (r *ChatRepo) IsParticipant(ctx context.Context, chatID int, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM chat_participants WHERE chat_id=$1 AND user_id=$2)`, chatID, userID)
	return exists, err
}

// AddParticipant adds a member to a group, admin-only, and returns the
// recorded system message.
func (r *ChatRepo) AddParticipant(ctx context.Context, chatID, actorID, targetID int) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = requireGroupAdmin(ctx, tx, chatID, actorID); err != nil {
		return models.Message{}, err
	}

	var alreadyMember bool
	if err = tx.GetContext(ctx, &alreadyMember, `SELECT EXISTS(SELECT 1 FROM chat_participants WHERE chat_id=$1 AND user_id=$2)`, chatID, targetID); err != nil {
		return models.Message{}, err
	}
	if alreadyMember {
		err = apperrors.Conflict("user %d is already a participant", targetID)
		return models.Message{}, err
	}

	var targetName string
	if err = tx.GetContext(ctx, &targetName, `SELECT name FROM users WHERE id=$1`, targetID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = apperrors.NotFound("user %d not found", targetID)
		}
		return models.Message{}, err
	}

	if _, err = tx.ExecContext(ctx, `INSERT INTO chat_participants (chat_id, user_id) VALUES ($1, $2)`, chatID, targetID); err != nil {
		return models.Message{}, err
	}

	msg, err := insertSystemMessage(ctx, tx, chatID, actorID, fmt.Sprintf("%s was added to the group", targetName))
	if err != nil {
		return models.Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// RemoveParticipant removes a member from a group, refusing to leave the
// group without an admin.
func (r *ChatRepo) RemoveParticipant(ctx context.Context, chatID, actorID, targetID int) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = requireGroupAdmin(ctx, tx, chatID, actorID); err != nil {
		return models.Message{}, err
	}

	var targetIsAdmin bool
	err = tx.GetContext(ctx, &targetIsAdmin, `SELECT is_admin FROM chat_participants WHERE chat_id=$1 AND user_id=$2`, chatID, targetID)
	if errors.Is(err, sql.ErrNoRows) {
		err = apperrors.NotFound("user %d is not a participant", targetID)
		return models.Message{}, err
	}
	if err != nil {
		return models.Message{}, err
	}

	if targetIsAdmin {
		var adminCount int
		if err = tx.GetContext(ctx, &adminCount, `SELECT COUNT(*) FROM chat_participants WHERE chat_id=$1 AND is_admin`, chatID); err != nil {
			return models.Message{}, err
		}
		if adminCount <= 1 {
			err = apperrors.Validation("cannot remove the last admin")
			return models.Message{}, err
		}
	}

	var targetName string
	if err = tx.GetContext(ctx, &targetName, `SELECT name FROM users WHERE id=$1`, targetID); err != nil {
		return models.Message{}, err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM chat_participants WHERE chat_id=$1 AND user_id=$2`, chatID, targetID); err != nil {
		return models.Message{}, err
	}

	msg, err := insertSystemMessage(ctx, tx, chatID, actorID, fmt.Sprintf("%s was removed from the group", targetName))
	if err != nil {
		return models.Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// PromoteAdmin grants admin rights to a member. Promoting an existing admin
// is a no-op; the returned message has a zero ID in that case.
func (r *ChatRepo) PromoteAdmin(ctx context.Context, chatID, actorID, targetID int) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = requireGroupAdmin(ctx, tx, chatID, actorID); err != nil {
		return models.Message{}, err
	}

	var targetIsAdmin bool
	err = tx.GetContext(ctx, &targetIsAdmin, `SELECT is_admin FROM chat_participants WHERE chat_id=$1 AND user_id=$2`, chatID, targetID)
	if errors.Is(err, sql.ErrNoRows) {
		err = apperrors.NotFound("user %d is not a participant", targetID)
		return models.Message{}, err
	}
	if err != nil {
		return models.Message{}, err
	}
	if targetIsAdmin {
		err = tx.Commit()
		return models.Message{}, err
	}

	if _, err = tx.ExecContext(ctx, `UPDATE chat_participants SET is_admin = TRUE WHERE chat_id=$1 AND user_id=$2`, chatID, targetID); err != nil {
		return models.Message{}, err
	}

	var targetName string
	if err = tx.GetContext(ctx, &targetName, `SELECT name FROM users WHERE id=$1`, targetID); err != nil {
		return models.Message{}, err
	}
	msg, err := insertSystemMessage(ctx, tx, chatID, actorID, fmt.Sprintf("%s is now an admin", targetName))
	if err != nil {
		return models.Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// UpdateGroup mutates group info and settings, honoring only_admins_can_edit_info.
func (r *ChatRepo) UpdateGroup(ctx context.Context, chatID, actorID int, upd models.GroupUpdate) (models.Chat, error) {
	if upd.Name != nil && *upd.Name == "" {
		return models.Chat{}, apperrors.Validation("group name cannot be empty")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Chat{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	row, err := lockChat(ctx, tx, chatID)
	if err != nil {
		return models.Chat{}, err
	}
	if !row.IsGroup {
		err = apperrors.Authorization("chat %d is not a group", chatID)
		return models.Chat{}, err
	}

	var isAdmin bool
	err = tx.GetContext(ctx, &isAdmin, `SELECT is_admin FROM chat_participants WHERE chat_id=$1 AND user_id=$2`, chatID, actorID)
	if errors.Is(err, sql.ErrNoRows) {
		err = apperrors.Authorization("not a group member")
		return models.Chat{}, err
	}
	if err != nil {
		return models.Chat{}, err
	}
	if row.OnlyAdminsCanEditInfo && !isAdmin {
		err = apperrors.Authorization("only admins can edit group info")
		return models.Chat{}, err
	}

	var onlyAdminsMsg, onlyAdminsEdit, disappearing *bool
	if upd.Settings != nil {
		onlyAdminsMsg = &upd.Settings.OnlyAdminsCanMessage
		onlyAdminsEdit = &upd.Settings.OnlyAdminsCanEditInfo
		disappearing = &upd.Settings.DisappearingMessages
	}

	err = tx.QueryRowxContext(ctx, `UPDATE chats SET
        name = COALESCE($2, name),
        description = COALESCE($3, description),
        avatar = COALESCE($4, avatar),
        only_admins_can_message = COALESCE($5, only_admins_can_message),
        only_admins_can_edit_info = COALESCE($6, only_admins_can_edit_info),
        disappearing_messages = COALESCE($7, disappearing_messages),
        updated_at = NOW()
        WHERE id=$1 RETURNING `+chatColumns,
		chatID, upd.Name, upd.Description, upd.Avatar, onlyAdminsMsg, onlyAdminsEdit, disappearing).StructScan(&row)
	if err != nil {
		return models.Chat{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Chat{}, err
	}
	return row.toChat(), nil
}

// DeleteGroup removes a group and all dependent rows, admin-only.
func (r *ChatRepo) DeleteGroup(ctx context.Context, chatID, actorID int) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = requireGroupAdmin(ctx, tx, chatID, actorID); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM chats WHERE id=$1`, chatID); err != nil {
		return err
	}
	return tx.Commit()
}

type summaryRow struct {
	ID             int            `db:"id"`
	IsGroup        bool           `db:"is_group"`
	Name           string         `db:"name"`
	Avatar         string         `db:"avatar"`
	UpdatedAt      sql.NullTime   `db:"updated_at"`
	OtherID        sql.NullInt64  `db:"other_id"`
	OtherName      sql.NullString `db:"other_name"`
	OtherAvatar    sql.NullString `db:"other_avatar"`
	LastContent    sql.NullString `db:"last_content"`
	LastSenderID   sql.NullInt64  `db:"last_sender_id"`
	LastSenderName sql.NullString `db:"last_sender_name"`
	LastIsSystem   sql.NullBool   `db:"last_is_system"`
	LastCreatedAt  sql.NullTime   `db:"last_created_at"`
	UnreadCount    int            `db:"unread_count"`
}

// ListChatSummaries builds the user's chat directory: most recent activity
// first, each entry with its display name, last-message preview and unread
// count. Counts and previews are derived per query so they can never drift
// from the ledger.
func (r *ChatRepo) ListChatSummaries(ctx context.Context, userID int) ([]models.ChatSummary, error) {
	query := `SELECT c.id, c.is_group, c.name, c.avatar, c.updated_at,
            other.user_id AS other_id, other.name AS other_name, other.avatar AS other_avatar,
            lm.content AS last_content, lm.sender_id AS last_sender_id,
            lm.sender_name AS last_sender_name, lm.is_system AS last_is_system, lm.created_at AS last_created_at,
            (SELECT COUNT(*) FROM messages m
                WHERE m.chat_id = c.id AND m.sender_id <> $1
                AND NOT EXISTS (SELECT 1 FROM message_reads mr WHERE mr.message_id = m.id AND mr.user_id = $1)
            ) AS unread_count
        FROM chats c
        INNER JOIN chat_participants cp ON cp.chat_id = c.id AND cp.user_id = $1
        LEFT JOIN LATERAL (
            SELECT p.user_id, u.name, u.avatar
            FROM chat_participants p INNER JOIN users u ON u.id = p.user_id
            WHERE p.chat_id = c.id AND p.user_id <> $1
            ORDER BY p.user_id LIMIT 1
        ) other ON NOT c.is_group
        LEFT JOIN LATERAL (
            SELECT m.content, m.sender_id, u.name AS sender_name, m.is_system, m.created_at
            FROM messages m INNER JOIN users u ON u.id = m.sender_id
            WHERE m.chat_id = c.id
            ORDER BY m.id DESC LIMIT 1
        ) lm ON TRUE
        ORDER BY c.updated_at DESC`

	var rows []summaryRow
	if err := r.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	chatIDs := make([]int, 0, len(rows))
	for _, row := range rows {
		chatIDs = append(chatIDs, row.ID)
	}

	type participantRow struct {
		ChatID int `db:"chat_id"`
		models.Participant
	}
	var partRows []participantRow
	err := r.db.SelectContext(ctx, &partRows, `SELECT p.chat_id, p.user_id, u.name, u.avatar, u.status, p.is_admin, p.joined_at
        FROM chat_participants p INNER JOIN users u ON u.id = p.user_id
        WHERE p.chat_id = ANY($1) ORDER BY p.joined_at, p.user_id`, pq.Array(chatIDs))
	if err != nil {
		return nil, err
	}
	participantsByChat := map[int][]models.Participant{}
	for _, pr := range partRows {
		participantsByChat[pr.ChatID] = append(participantsByChat[pr.ChatID], pr.Participant)
	}

	summaries := make([]models.ChatSummary, 0, len(rows))
	for _, row := range rows {
		summary := models.ChatSummary{
			ChatID:       row.ID,
			IsGroup:      row.IsGroup,
			Name:         row.Name,
			Avatar:       row.Avatar,
			UnreadCount:  row.UnreadCount,
			Participants: participantsByChat[row.ID],
			UpdatedAt:    row.UpdatedAt.Time,
		}
		if !row.IsGroup {
			summary.Name = row.OtherName.String
			summary.Avatar = row.OtherAvatar.String
		}
		if row.LastCreatedAt.Valid {
			summary.LastMessage = &models.LastMessage{
				Content:    row.LastContent.String,
				SenderID:   int(row.LastSenderID.Int64),
				SenderName: row.LastSenderName.String,
				IsSystem:   row.LastIsSystem.Bool,
				Timestamp:  row.LastCreatedAt.Time,
			}
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// lockChat takes the chat's row lock, serializing all mutations per chat id.
func lockChat(ctx context.Context, tx *sqlx.Tx, chatID int) (chatRow, error) {
	var row chatRow
	err := tx.GetContext(ctx, &row, `SELECT `+chatColumns+` FROM chats WHERE id=$1 FOR UPDATE`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return chatRow{}, apperrors.NotFound("chat %d not found", chatID)
	}
	return row, err
}

func requireGroupAdmin(ctx context.Context, tx *sqlx.Tx, chatID, actorID int) error {
	row, err := lockChat(ctx, tx, chatID)
	if err != nil {
		return err
	}
	if !row.IsGroup {
		return apperrors.Authorization("chat %d is not a group", chatID)
	}

	var isAdmin bool
	err = tx.GetContext(ctx, &isAdmin, `SELECT is_admin FROM chat_participants WHERE chat_id=$1 AND user_id=$2`, chatID, actorID)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.Authorization("not a group member")
	}
	if err != nil {
		return err
	}
	if !isAdmin {
		return apperrors.Authorization("admin rights required")
	}
	return nil
}

// insertSystemMessage appends a membership-change notice to the ledger. The
// actor is the nominal sender and counts as having read it, so system
// messages surface as unread for everyone else.
func insertSystemMessage(ctx context.Context, tx *sqlx.Tx, chatID, senderID int, content string) (models.Message, error) {
	var msg models.Message
	err := tx.QueryRowxContext(ctx, `INSERT INTO messages (chat_id, sender_id, content, status, is_system)
        VALUES ($1, $2, $3, 'sent', TRUE)
        RETURNING id, chat_id, sender_id, content, status, is_system, created_at`, chatID, senderID, content).
		Scan(&msg.ID, &msg.ChatID, &msg.SenderID, &msg.Content, &msg.Status, &msg.IsSystem, &msg.CreatedAt)
	if err != nil {
		return models.Message{}, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO message_reads (message_id, user_id) VALUES ($1, $2)`, msg.ID, senderID); err != nil {
		return models.Message{}, err
	}
	if err := tx.GetContext(ctx, &msg.SenderName, `SELECT name FROM users WHERE id=$1`, senderID); err != nil {
		return models.Message{}, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE chats SET updated_at = NOW() WHERE id=$1`, chatID); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}
