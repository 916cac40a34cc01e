package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	. "github.com/roelfdiedericks/chatgate/internal/logging"
	"github.com/roelfdiedericks/chatgate/internal/paths"
	"github.com/roelfdiedericks/chatgate/internal/types"
)

// Schema version for migrations
const currentSchemaVersion = 2

// SQLiteStore implements Store on a local SQLite database
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (and migrates) the database at path
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	path, err := paths.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	if err := paths.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	L_info("sqlite: store opened", "path", path)
	return s, nil
}

// Migrate brings the schema up to currentSchemaVersion
func (s *SQLiteStore) Migrate() error {
	var version int
	err := s.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err != nil {
		// no schema_version table yet
		version = 0
	}

	if version >= currentSchemaVersion {
		L_debug("sqlite: schema up to date", "version", version)
		return nil
	}

	L_info("sqlite: migrating schema", "from", version, "to", currentSchemaVersion)

	migrations := []func(*sql.DB) error{
		migrateV1,
		migrateV2,
	}
	for i := version; i < len(migrations); i++ {
		if err := migrations[i](s.db); err != nil {
			return fmt.Errorf("migration v%d failed: %w", i+1, err)
		}
		L_debug("sqlite: applied migration", "version", i+1)
	}
	return nil
}

// migrateV1 creates the initial schema
func migrateV1(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	);
	INSERT INTO schema_version (version, applied_at) VALUES (1, ?);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		last_used_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_owner ON conversations(owner_id, last_used_at);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		prompt TEXT NOT NULL DEFAULT '',
		response TEXT,
		model TEXT,
		finish_reason TEXT,
		reasoning TEXT,
		prompt_tokens INTEGER DEFAULT 0,
		completion_tokens INTEGER DEFAULT 0,
		total_tokens INTEGER DEFAULT 0,
		response_time_ms REAL DEFAULT 0,
		include_search INTEGER DEFAULT 0,
		include_reasoning INTEGER DEFAULT 0,
		liked INTEGER DEFAULT 0,
		created_at INTEGER NOT NULL,

		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);

	CREATE TABLE IF NOT EXISTS attachments (
		message_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		file_name TEXT NOT NULL,
		file_key TEXT NOT NULL,
		file_type TEXT,
		file_size TEXT,
		file_id TEXT,
		PRIMARY KEY (message_id, position),
		FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE
	);
	`
	_, err := db.Exec(schema, time.Now().Unix())
	return err
}

// migrateV2 adds search sources
func migrateV2(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sources (
		message_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		source_type TEXT NOT NULL DEFAULT 'url',
		source_id TEXT NOT NULL,
		title TEXT,
		url TEXT NOT NULL,
		PRIMARY KEY (message_id, position),
		FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE
	);
	INSERT INTO schema_version (version, applied_at) VALUES (2, ?);
	`
	_, err := db.Exec(schema, time.Now().Unix())
	return err
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// stamp returns the current time at millisecond precision
func (s *SQLiteStore) stamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func (s *SQLiteStore) CreateConversation(ctx context.Context, ownerID, name string) (*types.Conversation, error) {
	if name == "" {
		name = types.DefaultConversationName
	}
	now := s.stamp()
	conv := &types.Conversation{ID: uuid.NewString(), OwnerID: ownerID, Name: name, CreatedAt: now, LastUsedAt: now}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, owner_id, name, created_at, last_used_at)
		VALUES (?, ?, ?, ?, ?)
	`, conv.ID, conv.OwnerID, conv.Name, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("insert conversation failed: %w", err)
	}
	L_trace("sqlite: conversation created", "id", conv.ID, "owner", ownerID)
	return conv, nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*types.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, created_at, last_used_at FROM conversations WHERE id = ?
	`, id)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query conversation failed: %w", err)
	}
	return conv, nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context, ownerID string) ([]types.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, created_at, last_used_at FROM conversations
		WHERE owner_id = ?
		ORDER BY last_used_at DESC, rowid DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query conversations failed: %w", err)
	}
	defer rows.Close()

	var out []types.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation failed: %w", err)
		}
		out = append(out, *conv)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RenameConversation(ctx context.Context, id, name string) (*types.Conversation, error) {
	res, err := s.db.ExecContext(ctx, "UPDATE conversations SET name = ? WHERE id = ?", name, id)
	if err != nil {
		return nil, fmt.Errorf("rename conversation failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetConversation(ctx, id)
}

func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		// explicit child deletes; foreign_keys may be off on older builds
		for _, q := range []string{
			"DELETE FROM attachments WHERE message_id IN (SELECT id FROM messages WHERE conversation_id = ?)",
			"DELETE FROM sources WHERE message_id IN (SELECT id FROM messages WHERE conversation_id = ?)",
			"DELETE FROM messages WHERE conversation_id = ?",
		} {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *SQLiteStore) StorePrompt(ctx context.Context, p *PendingPrompt) (*types.Message, error) {
	now := s.stamp()
	msg := &types.Message{
		ID:               uuid.NewString(),
		ConversationID:   p.ConversationID,
		Prompt:           p.Prompt,
		Model:            p.Model,
		IncludeSearch:    p.IncludeSearch,
		IncludeReasoning: p.IncludeReasoning,
		Attachments:      p.Attachments,
		Sources:          []types.Source{},
		CreatedAt:        now,
	}
	if msg.Attachments == nil {
		msg.Attachments = []types.Attachment{}
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := conversationExists(ctx, tx, p.ConversationID); err != nil {
			return err
		}
		if err := insertMessage(ctx, tx, msg); err != nil {
			return err
		}
		return insertAttachments(ctx, tx, msg.ID, msg.Attachments)
	})
	if err != nil {
		return nil, err
	}
	L_trace("sqlite: prompt stored", "conversation", p.ConversationID, "id", msg.ID)
	return msg, nil
}

func (s *SQLiteStore) InsertFinalMessage(ctx context.Context, fm *FinalMessage) (*types.Message, error) {
	now := s.stamp()
	response := fm.Response
	msg := &types.Message{
		ID:               uuid.NewString(),
		ConversationID:   fm.ConversationID,
		Prompt:           fm.Prompt,
		Response:         &response,
		Model:            fm.Model,
		FinishReason:     fm.FinishReason,
		Reasoning:        types.StringPtr(fm.Reasoning),
		Usage:            fm.Usage,
		ResponseTimeMs:   fm.ResponseTimeMs,
		IncludeSearch:    fm.IncludeSearch,
		IncludeReasoning: fm.IncludeReasoning,
		Attachments:      fm.Attachments,
		Sources:          fm.Sources,
		CreatedAt:        now,
	}
	if msg.Attachments == nil {
		msg.Attachments = []types.Attachment{}
	}
	if msg.Sources == nil {
		msg.Sources = []types.Source{}
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := conversationExists(ctx, tx, fm.ConversationID); err != nil {
			return err
		}
		if err := insertMessage(ctx, tx, msg); err != nil {
			return err
		}
		if err := insertAttachments(ctx, tx, msg.ID, msg.Attachments); err != nil {
			return err
		}
		if err := insertSources(ctx, tx, msg.ID, msg.Sources); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"UPDATE conversations SET last_used_at = MAX(last_used_at, ?) WHERE id = ?",
			now.UnixMilli(), fm.ConversationID)
		return err
	})
	if err != nil {
		return nil, err
	}
	L_trace("sqlite: final message stored", "conversation", fm.ConversationID, "id", msg.ID, "model", fm.Model)
	return msg, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]types.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, prompt, response, model, finish_reason, reasoning,
		       prompt_tokens, completion_tokens, total_tokens, response_time_ms,
		       include_search, include_reasoning, liked, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages failed: %w", err)
	}

	var msgs []types.Message
	index := make(map[string]int)
	for rows.Next() {
		var m types.Message
		var response, model, finish, reasoning sql.NullString
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Prompt, &response, &model, &finish, &reasoning,
			&m.Usage.PromptTokens, &m.Usage.CompletionTokens, &m.Usage.TotalTokens, &m.ResponseTimeMs,
			&m.IncludeSearch, &m.IncludeReasoning, &m.Liked, &createdAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan message failed: %w", err)
		}
		if response.Valid {
			m.Response = &response.String
		}
		if reasoning.Valid {
			m.Reasoning = &reasoning.String
		}
		m.Model = model.String
		m.FinishReason = finish.String
		m.CreatedAt = time.UnixMilli(createdAt).UTC()
		m.Attachments = []types.Attachment{}
		m.Sources = []types.Source{}
		index[m.ID] = len(msgs)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(msgs) == 0 {
		return msgs, nil
	}
	if err := s.loadAttachments(ctx, conversationID, msgs, index); err != nil {
		return nil, err
	}
	if err := s.loadSources(ctx, conversationID, msgs, index); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *SQLiteStore) loadAttachments(ctx context.Context, conversationID string, msgs []types.Message, index map[string]int) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.message_id, a.file_name, a.file_key, a.file_type, a.file_size, a.file_id
		FROM attachments a JOIN messages m ON m.id = a.message_id
		WHERE m.conversation_id = ?
		ORDER BY a.message_id, a.position
	`, conversationID)
	if err != nil {
		return fmt.Errorf("query attachments failed: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var msgID string
		var a types.Attachment
		var fileType, fileSize, fileID sql.NullString
		if err := rows.Scan(&msgID, &a.FileName, &a.FileKey, &fileType, &fileSize, &fileID); err != nil {
			return fmt.Errorf("scan attachment failed: %w", err)
		}
		a.FileType, a.FileSize, a.FileID = fileType.String, fileSize.String, fileID.String
		if i, ok := index[msgID]; ok {
			msgs[i].Attachments = append(msgs[i].Attachments, a)
		}
	}
	return rows.Err()
}

func (s *SQLiteStore) loadSources(ctx context.Context, conversationID string, msgs []types.Message, index map[string]int) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.message_id, s.source_type, s.source_id, s.title, s.url
		FROM sources s JOIN messages m ON m.id = s.message_id
		WHERE m.conversation_id = ?
		ORDER BY s.message_id, s.position
	`, conversationID)
	if err != nil {
		return fmt.Errorf("query sources failed: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var msgID string
		var src types.Source
		var title sql.NullString
		if err := rows.Scan(&msgID, &src.SourceType, &src.ID, &title, &src.URL); err != nil {
			return fmt.Errorf("scan source failed: %w", err)
		}
		src.Title = title.String
		if i, ok := index[msgID]; ok {
			msgs[i].Sources = append(msgs[i].Sources, src)
		}
	}
	return rows.Err()
}

func (s *SQLiteStore) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return deleteMessage(ctx, tx, conversationID, messageID)
	})
}

func (s *SQLiteStore) DeleteLastMessageIfPending(ctx context.Context, conversationID string) (bool, error) {
	deleted := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var id string
		var response sql.NullString
		err := tx.QueryRowContext(ctx, `
			SELECT id, response FROM messages WHERE conversation_id = ?
			ORDER BY created_at DESC, rowid DESC LIMIT 1
		`, conversationID).Scan(&id, &response)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if response.Valid {
			return nil
		}
		if err := deleteMessage(ctx, tx, conversationID, id); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if deleted {
		L_debug("sqlite: pending message removed", "conversation", conversationID)
	}
	return deleted, err
}

func (s *SQLiteStore) SetLiked(ctx context.Context, conversationID, messageID string, liked bool) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE messages SET liked = ? WHERE id = ? AND conversation_id = ?", liked, messageID, conversationID)
	if err != nil {
		return fmt.Errorf("update liked failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// inTx runs fn in a transaction, rolling back on error
func (s *SQLiteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction failed: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(row rowScanner) (*types.Conversation, error) {
	var c types.Conversation
	var created, lastUsed int64
	if err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &created, &lastUsed); err != nil {
		return nil, err
	}
	c.CreatedAt = time.UnixMilli(created).UTC()
	c.LastUsedAt = time.UnixMilli(lastUsed).UTC()
	return &c, nil
}

func conversationExists(ctx context.Context, tx *sql.Tx, id string) error {
	var one int
	err := tx.QueryRowContext(ctx, "SELECT 1 FROM conversations WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func insertMessage(ctx context.Context, tx *sql.Tx, m *types.Message) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, prompt, response, model, finish_reason, reasoning,
		                      prompt_tokens, completion_tokens, total_tokens, response_time_ms,
		                      include_search, include_reasoning, liked, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.ID, m.ConversationID, m.Prompt, m.Response, nullString(m.Model), nullString(m.FinishReason), m.Reasoning,
		m.Usage.PromptTokens, m.Usage.CompletionTokens, m.Usage.TotalTokens, m.ResponseTimeMs,
		m.IncludeSearch, m.IncludeReasoning, m.Liked, m.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert message failed: %w", err)
	}
	return nil
}

func insertAttachments(ctx context.Context, tx *sql.Tx, messageID string, atts []types.Attachment) error {
	for i, a := range atts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO attachments (message_id, position, file_name, file_key, file_type, file_size, file_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, messageID, i, a.FileName, a.FileKey, a.FileType, a.FileSize, a.FileID); err != nil {
			return fmt.Errorf("insert attachment failed: %w", err)
		}
	}
	return nil
}

func insertSources(ctx context.Context, tx *sql.Tx, messageID string, srcs []types.Source) error {
	for i, src := range srcs {
		sourceType := src.SourceType
		if sourceType == "" {
			sourceType = "url"
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sources (message_id, position, source_type, source_id, title, url)
			VALUES (?, ?, ?, ?, ?, ?)
		`, messageID, i, sourceType, src.ID, nullString(src.Title), src.URL); err != nil {
			return fmt.Errorf("insert source failed: %w", err)
		}
	}
	return nil
}

func deleteMessage(ctx context.Context, tx *sql.Tx, conversationID, messageID string) error {
	for _, q := range []string{
		"DELETE FROM attachments WHERE message_id = ?",
		"DELETE FROM sources WHERE message_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, q, messageID); err != nil {
			return err
		}
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE id = ? AND conversation_id = ?", messageID, conversationID)
	if err != nil {
		return fmt.Errorf("delete message failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// nullString returns nil for empty strings (for nullable columns)
func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
