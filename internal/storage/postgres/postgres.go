// Package postgres implements storage.Repository on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"sort"

	"chatsync/internal/models"
	"chatsync/internal/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// PairKey is the order-independent key that makes a direct conversation unique per pair.
func PairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return ids[0] + ":" + ids[1]
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

func (r *Repository) CreateUser(ctx context.Context, u *models.User) error {
	query := `INSERT INTO users (id, username, name, avatar, role, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, query, u.ID, u.Username, u.Name, u.Avatar, u.Role, u.PasswordHash, u.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return storage.ErrConflict
	}
	return err
}

const userColumns = `id, username, name, avatar, role, password_hash, created_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Username, &u.Name, &u.Avatar, &u.Role, &u.PasswordHash, &u.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (r *Repository) GetUser(ctx context.Context, id string) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

func (r *Repository) UpdateAvatar(ctx context.Context, userID, avatar string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET avatar = $2 WHERE id = $1`, userID, avatar)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *Repository) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

const conversationSelect = `
	SELECT c.id, c.created_at, array_agg(p.user_id ORDER BY p.user_id)
	FROM conversations c
	JOIN conversation_participants p ON p.conversation_id = c.id`

func scanConversation(row pgx.Row) (*storage.ConversationRecord, error) {
	var rec storage.ConversationRecord
	if err := row.Scan(&rec.ID, &rec.CreatedAt, &rec.Participants); err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

func (r *Repository) FindDirectConversation(ctx context.Context, userA, userB string) (*storage.ConversationRecord, error) {
	query := conversationSelect + ` WHERE c.pair_key = $1 GROUP BY c.id, c.created_at`
	return scanConversation(r.pool.QueryRow(ctx, query, PairKey(userA, userB)))
}

func (r *Repository) CreateDirectConversation(ctx context.Context, rec storage.ConversationRecord) (*storage.ConversationRecord, bool, error) {
	if len(rec.Participants) != 2 {
		return nil, false, storage.ErrConflict
	}
	a, b := rec.Participants[0], rec.Participants[1]

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`INSERT INTO conversations (id, pair_key, created_at) VALUES ($1, $2, $3) ON CONFLICT (pair_key) DO NOTHING`,
		rec.ID, PairKey(a, b), rec.CreatedAt)
	if err != nil {
		return nil, false, err
	}
	if tag.RowsAffected() == 0 {
		// Lost the race against a concurrent get-or-create for the same pair
		_ = tx.Rollback(ctx)
		existing, err := r.FindDirectConversation(ctx, a, b)
		return existing, false, err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO conversation_participants (conversation_id, user_id) VALUES ($1, $2), ($1, $3)`,
		rec.ID, a, b)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return &rec, true, nil
}

func (r *Repository) GetConversation(ctx context.Context, id string) (*storage.ConversationRecord, error) {
	query := conversationSelect + ` WHERE c.id = $1 GROUP BY c.id, c.created_at`
	return scanConversation(r.pool.QueryRow(ctx, query, id))
}

func (r *Repository) ListConversations(ctx context.Context, userID string) ([]storage.ConversationRecord, error) {
	query := conversationSelect + `
		WHERE c.id IN (SELECT conversation_id FROM conversation_participants WHERE user_id = $1)
		GROUP BY c.id, c.created_at
		ORDER BY c.created_at`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.ConversationRecord
	for rows.Next() {
		rec, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (r *Repository) SaveMessage(ctx context.Context, m *models.Message) error {
	query := `INSERT INTO messages (id, conversation_id, sender_id, content, client_id, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, query, m.ID, m.ConversationID, m.SenderID, m.Content, m.ClientID, m.Read, m.CreatedAt)
	return err
}

func (r *Repository) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	query := `SELECT id, conversation_id, sender_id, content, client_id, read, created_at
		FROM messages WHERE conversation_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.ClientID, &m.Read, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to show oldest first
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *Repository) MarkRead(ctx context.Context, conversationID, readerID string) (int, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE messages SET read = TRUE WHERE conversation_id = $1 AND sender_id <> $2 AND read = FALSE`,
		conversationID, readerID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *Repository) Close() {
	r.pool.Close()
}
