package database

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/npezzotti/go-realtime-chat/internal/types"
)

const (
	userColumns    = "id, username, avatar_color, avatar_url, status"
	channelColumns = "id, name, kind, category"
	messageColumns = "id, channel_id, user_id, username, avatar_color, avatar_url, content, " +
		"image_url, video_url, video_name, audio_url, audio_name, " +
		"reply_to_id, reply_user_id, reply_username, reply_content, recipient_id, created_at"
	requestColumns = "id, from_user_id, from_username, to_user_id, to_username, status, created_at"

	insertMessageQuery = "INSERT INTO messages (" + messageColumns + ", pair_low, pair_high) " +
		"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (types.User, error) {
	var u types.User
	err := row.Scan(&u.Id, &u.Username, &u.AvatarColor, &u.AvatarUrl, &u.Status)
	return u, err
}

func scanChannel(row rowScanner) (types.Channel, error) {
	var ch types.Channel
	err := row.Scan(&ch.Id, &ch.Name, &ch.Kind, &ch.Category)
	return ch, err
}

func scanMessage(row rowScanner) (types.Message, error) {
	var (
		m                               types.Message
		replyUser, replyName, replyBody sql.NullString
		recipient                       sql.NullString
	)

	err := row.Scan(
		&m.Id, &m.ChannelId, &m.UserId, &m.Username, &m.AvatarColor, &m.AvatarUrl, &m.Content,
		&m.ImageUrl, &m.VideoUrl, &m.VideoName, &m.AudioUrl, &m.AudioName,
		&m.ReplyToId, &replyUser, &replyName, &replyBody, &recipient, &m.Timestamp,
	)
	if err != nil {
		return m, err
	}

	if replyUser.Valid {
		m.ReplyTo = &types.ReplySnapshot{
			Id:       m.ReplyToId,
			UserId:   replyUser.String,
			Username: replyName.String,
			Content:  replyBody.String,
		}
	}
	m.RecipientId = recipient.String
	m.Timestamp = m.Timestamp.UTC()
	return m, nil
}

func scanRequest(row rowScanner) (types.FriendRequest, error) {
	var r types.FriendRequest
	err := row.Scan(&r.Id, &r.FromUserId, &r.FromUsername, &r.ToUserId, &r.ToUsername, &r.Status, &r.CreatedAt)
	r.CreatedAt = r.CreatedAt.UTC()
	return r, err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (db *PgRepository) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *PgRepository) CreateUser(ctx context.Context, params CreateUserParams) (types.User, error) {
	if params.Id == "" {
		params.Id = uuid.NewString()
	}
	if params.AvatarColor == "" {
		params.AvatarColor = randomAvatarColor()
	}

	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO users (id, username, avatar_color, status) VALUES ($1, $2, $3, $4) "+
			"RETURNING "+userColumns,
		params.Id,
		params.Username,
		params.AvatarColor,
		types.StatusOffline,
	)

	u, err := scanUser(row)
	if isUniqueViolation(err) {
		return types.User{}, ErrUsernameTaken
	}
	return u, err
}

func (db *PgRepository) GetUser(ctx context.Context, id string) (types.User, error) {
	row := db.conn.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id)
	u, err := scanUser(row)
	return u, notFound(err)
}

func (db *PgRepository) GetUserByUsername(ctx context.Context, username string) (types.User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE lower(username) = lower($1)", username)
	u, err := scanUser(row)
	return u, notFound(err)
}

func (db *PgRepository) ListUsers(ctx context.Context) ([]types.User, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY username")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []types.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (db *PgRepository) UpdateUserStatus(ctx context.Context, id string, status types.Status) error {
	res, err := db.conn.ExecContext(ctx, "UPDATE users SET status = $2 WHERE id = $1", id, status)
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

func (db *PgRepository) UpdateUserAvatar(ctx context.Context, id, avatarUrl string) (types.User, error) {
	row := db.conn.QueryRowContext(ctx,
		"UPDATE users SET avatar_url = $2 WHERE id = $1 RETURNING "+userColumns, id, avatarUrl)
	u, err := scanUser(row)
	return u, notFound(err)
}

func (db *PgRepository) CreateChannel(ctx context.Context, params CreateChannelParams) (types.Channel, error) {
	id, err := newChannelId()
	if err != nil {
		return types.Channel{}, fmt.Errorf("generate channel id: %w", err)
	}
	if params.Kind == "" {
		params.Kind = types.ChannelText
	}

	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO channels (id, name, kind, category) VALUES ($1, $2, $3, $4) RETURNING "+channelColumns,
		id, params.Name, params.Kind, params.Category)
	return scanChannel(row)
}

func (db *PgRepository) GetChannel(ctx context.Context, id string) (types.Channel, error) {
	row := db.conn.QueryRowContext(ctx, "SELECT "+channelColumns+" FROM channels WHERE id = $1", id)
	ch, err := scanChannel(row)
	return ch, notFound(err)
}

func (db *PgRepository) ListChannels(ctx context.Context) ([]types.Channel, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT "+channelColumns+" FROM channels ORDER BY created_at, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	channels := []types.Channel{}
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

func (db *PgRepository) insertMessage(ctx context.Context, msg types.Message, pairLow, pairHigh sql.NullString) error {
	var replyUser, replyName, replyBody sql.NullString
	if msg.ReplyTo != nil {
		replyUser = sql.NullString{String: msg.ReplyTo.UserId, Valid: true}
		replyName = sql.NullString{String: msg.ReplyTo.Username, Valid: true}
		replyBody = sql.NullString{String: msg.ReplyTo.Content, Valid: true}
	}

	_, err := db.conn.ExecContext(ctx, insertMessageQuery,
		msg.Id, msg.ChannelId, msg.UserId, msg.Username, msg.AvatarColor, msg.AvatarUrl, msg.Content,
		msg.ImageUrl, msg.VideoUrl, msg.VideoName, msg.AudioUrl, msg.AudioName,
		msg.ReplyToId, replyUser, replyName, replyBody, nullString(msg.RecipientId), msg.Timestamp,
		pairLow, pairHigh,
	)
	return err
}

func (db *PgRepository) CreateMessage(ctx context.Context, msg types.Message) (types.Message, error) {
	if _, err := db.GetChannel(ctx, msg.ChannelId); err != nil {
		return types.Message{}, fmt.Errorf("channel %q: %w", msg.ChannelId, err)
	}

	if err := db.insertMessage(ctx, msg, sql.NullString{}, sql.NullString{}); err != nil {
		return types.Message{}, err
	}
	return msg, nil
}

func (db *PgRepository) CreateDirectMessage(ctx context.Context, msg types.Message) (types.Message, error) {
	msg.ChannelId = types.DirectChannelId
	low, high := DirectPair(msg.UserId, msg.RecipientId)

	if err := db.insertMessage(ctx, msg, nullString(low), nullString(high)); err != nil {
		return types.Message{}, err
	}
	return msg, nil
}

func (db *PgRepository) GetMessage(ctx context.Context, id string) (types.Message, error) {
	row := db.conn.QueryRowContext(ctx, "SELECT "+messageColumns+" FROM messages WHERE id = $1", id)
	m, err := scanMessage(row)
	return m, notFound(err)
}

func (db *PgRepository) queryLog(ctx context.Context, where string, limit int, args ...any) ([]types.Message, error) {
	query := "SELECT " + messageColumns + " FROM messages WHERE " + where + " ORDER BY seq DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []types.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	slices.Reverse(msgs)
	return msgs, nil
}

func (db *PgRepository) ListMessages(ctx context.Context, channelId string, limit int) ([]types.Message, error) {
	if _, err := db.GetChannel(ctx, channelId); err != nil {
		return nil, err
	}
	return db.queryLog(ctx, "channel_id = $1", limit, channelId)
}

func (db *PgRepository) ListDirectMessages(ctx context.Context, userA, userB string, limit int) ([]types.Message, error) {
	low, high := DirectPair(userA, userB)
	return db.queryLog(ctx, "pair_low = $1 AND pair_high = $2", limit, low, high)
}

func (db *PgRepository) CreateFriendRequest(ctx context.Context, fromUserId, toUsername string) (types.FriendRequest, error) {
	from, err := db.GetUser(ctx, fromUserId)
	if err != nil {
		return types.FriendRequest{}, fmt.Errorf("sender: %w", err)
	}
	to, err := db.GetUserByUsername(ctx, toUsername)
	if err != nil {
		return types.FriendRequest{}, fmt.Errorf("recipient: %w", err)
	}
	if from.Id == to.Id {
		return types.FriendRequest{}, ErrSelfFriendRequest
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return types.FriendRequest{}, err
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM friendships WHERE user_id = $1 AND friend_id = $2)",
		from.Id, to.Id).Scan(&exists)
	if err != nil {
		return types.FriendRequest{}, err
	}
	if exists {
		return types.FriendRequest{}, ErrAlreadyFriends
	}

	err = tx.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM friend_requests WHERE status = 'pending' AND "+
			"((from_user_id = $1 AND to_user_id = $2) OR (from_user_id = $2 AND to_user_id = $1)))",
		from.Id, to.Id).Scan(&exists)
	if err != nil {
		return types.FriendRequest{}, err
	}
	if exists {
		return types.FriendRequest{}, ErrDuplicateFriendRequest
	}

	row := tx.QueryRowContext(ctx,
		"INSERT INTO friend_requests ("+requestColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7) "+
			"RETURNING "+requestColumns,
		uuid.NewString(), from.Id, from.Username, to.Id, to.Username, types.FriendRequestPending, types.Timestamp(db.clock.Now()))
	req, err := scanRequest(row)
	if err != nil {
		return types.FriendRequest{}, err
	}

	return req, tx.Commit()
}

func (db *PgRepository) GetFriendRequest(ctx context.Context, id string) (types.FriendRequest, error) {
	row := db.conn.QueryRowContext(ctx, "SELECT "+requestColumns+" FROM friend_requests WHERE id = $1", id)
	r, err := scanRequest(row)
	return r, notFound(err)
}

func (db *PgRepository) ListFriendRequests(ctx context.Context, userId string) ([]types.FriendRequest, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+requestColumns+" FROM friend_requests WHERE to_user_id = $1 AND status = 'pending' "+
			"ORDER BY created_at", userId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reqs := []types.FriendRequest{}
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}

// resolveRequest moves a pending request to status inside tx.
func resolveRequest(ctx context.Context, tx *sql.Tx, id string, status types.FriendRequestStatus) (types.FriendRequest, error) {
	row := tx.QueryRowContext(ctx,
		"SELECT "+requestColumns+" FROM friend_requests WHERE id = $1 FOR UPDATE", id)
	req, err := scanRequest(row)
	if err != nil {
		return types.FriendRequest{}, notFound(err)
	}
	if req.Status != types.FriendRequestPending {
		return types.FriendRequest{}, ErrRequestNotPending
	}

	if _, err := tx.ExecContext(ctx, "UPDATE friend_requests SET status = $2 WHERE id = $1", id, status); err != nil {
		return types.FriendRequest{}, err
	}
	req.Status = status
	return req, nil
}

func (db *PgRepository) AcceptFriendRequest(ctx context.Context, id string) (types.FriendRequest, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return types.FriendRequest{}, err
	}
	defer tx.Rollback()

	req, err := resolveRequest(ctx, tx, id, types.FriendRequestAccepted)
	if err != nil {
		return types.FriendRequest{}, err
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO friendships (user_id, friend_id, created_at) VALUES ($1, $2, $3), ($2, $1, $3) "+
			"ON CONFLICT DO NOTHING",
		req.FromUserId, req.ToUserId, types.Timestamp(db.clock.Now()))
	if err != nil {
		return types.FriendRequest{}, err
	}

	return req, tx.Commit()
}

func (db *PgRepository) DeclineFriendRequest(ctx context.Context, id string) (types.FriendRequest, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return types.FriendRequest{}, err
	}
	defer tx.Rollback()

	req, err := resolveRequest(ctx, tx, id, types.FriendRequestDeclined)
	if err != nil {
		return types.FriendRequest{}, err
	}

	return req, tx.Commit()
}

func (db *PgRepository) ListFriends(ctx context.Context, userId string) ([]types.Friend, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT u.id, u.username, u.avatar_color, u.avatar_url, u.status FROM friendships f "+
			"JOIN users u ON u.id = f.friend_id WHERE f.user_id = $1 ORDER BY u.username", userId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	friends := []types.Friend{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		friends = append(friends, types.NewFriend(userId, u))
	}
	return friends, rows.Err()
}
