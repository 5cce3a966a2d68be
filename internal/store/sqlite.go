package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/peermock/peermock/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	pairMu sync.Mutex // Serializes pairing transactions to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS profiles (
		user_id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS availability (
		user_id TEXT PRIMARY KEY,
		status TEXT NOT NULL CHECK (status IN ('online', 'away', 'offline')),
		preferred_levels TEXT NOT NULL DEFAULT '',
		preferred_topics TEXT NOT NULL DEFAULT '',
		preferred_duration_min INTEGER NOT NULL DEFAULT 15,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_availability_status ON availability(status, updated_at);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		user1_id TEXT NOT NULL,
		user2_id TEXT NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('text', 'video')),
		status TEXT NOT NULL CHECK (status IN ('active', 'completed')),
		started_at INTEGER NOT NULL,
		ended_at INTEGER,
		CHECK (user1_id <> user2_id)
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_users ON conversations(user1_id, user2_id);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		conversation_id TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at, seq);

	CREATE TABLE IF NOT EXISTS prompts (
		id TEXT PRIMARY KEY,
		category TEXT NOT NULL,
		difficulty TEXT NOT NULL,
		text TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS prompt_assignments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		prompt_id TEXT NOT NULL,
		shown_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_prompt_assignments ON prompt_assignments(conversation_id, shown_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func joinSet(values []string) string {
	return strings.Join(values, ",")
}

func splitSet(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

// GetAvailability retrieves a user's availability entry.
func (s *SQLiteStore) GetAvailability(ctx context.Context, userID string) (*domain.AvailabilityEntry, error) {
	query := `
		SELECT user_id, status, preferred_levels, preferred_topics,
		       preferred_duration_min, updated_at
		FROM availability WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var entry domain.AvailabilityEntry
	var levels, topics string
	var durationMin, updatedAt int64

	err := row.Scan(&entry.UserID, &entry.Status, &levels, &topics, &durationMin, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan availability row: %w", err)
	}

	entry.PreferredLevels = splitSet(levels)
	entry.PreferredTopics = splitSet(topics)
	entry.PreferredDuration = time.Duration(durationMin) * time.Minute
	entry.UpdatedAt = time.Unix(updatedAt, 0)

	return &entry, nil
}

// UpsertAvailability creates or updates a user's availability entry.
func (s *SQLiteStore) UpsertAvailability(ctx context.Context, entry *domain.AvailabilityEntry) error {
	query := `
	INSERT INTO availability (user_id, status, preferred_levels, preferred_topics, preferred_duration_min, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		status = excluded.status,
		preferred_levels = excluded.preferred_levels,
		preferred_topics = excluded.preferred_topics,
		preferred_duration_min = excluded.preferred_duration_min,
		updated_at = excluded.updated_at`

	durationMin := int64(entry.PreferredDuration / time.Minute)
	updatedAt := entry.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		entry.UserID, string(entry.Status),
		joinSet(entry.PreferredLevels), joinSet(entry.PreferredTopics),
		durationMin, updatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert availability: %w", err)
	}
	return nil
}

// UpdateAvailabilityStatus sets a user's status, optionally guarded by the
// expected current status.
func (s *SQLiteStore) UpdateAvailabilityStatus(ctx context.Context, userID string, to, expected domain.AvailabilityStatus) error {
	query := `UPDATE availability SET status = ?, updated_at = ? WHERE user_id = ?`
	args := []interface{}{string(to), time.Now().Unix(), userID}

	if expected != "" {
		query += ` AND status = ?`
		args = append(args, string(expected))
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update availability status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		if expected != "" {
			return ErrStatusConflict
		}
		return fmt.Errorf("availability entry not found for %s", userID)
	}

	return nil
}

// CountOnline counts online users other than excludeUserID.
func (s *SQLiteStore) CountOnline(ctx context.Context, excludeUserID string) (int, error) {
	query := `SELECT COUNT(*) FROM availability WHERE status = 'online' AND user_id <> ?`

	var count int
	if err := s.db.QueryRowContext(ctx, query, excludeUserID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count online users: %w", err)
	}
	return count, nil
}

// ListOnlineCandidates returns online entries other than excludeUserID.
// Earliest-queued first; user_id keeps the order total when timestamps tie.
func (s *SQLiteStore) ListOnlineCandidates(ctx context.Context, excludeUserID string) ([]*domain.AvailabilityEntry, error) {
	query := `
		SELECT user_id, status, preferred_levels, preferred_topics,
		       preferred_duration_min, updated_at
		FROM availability
		WHERE status = 'online' AND user_id <> ?
		ORDER BY updated_at ASC, user_id ASC`

	rows, err := s.db.QueryContext(ctx, query, excludeUserID)
	if err != nil {
		return nil, fmt.Errorf("query online candidates: %w", err)
	}
	defer rows.Close()

	var entries []*domain.AvailabilityEntry
	for rows.Next() {
		var entry domain.AvailabilityEntry
		var levels, topics string
		var durationMin, updatedAt int64

		if err := rows.Scan(&entry.UserID, &entry.Status, &levels, &topics, &durationMin, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan candidate row: %w", err)
		}
		entry.PreferredLevels = splitSet(levels)
		entry.PreferredTopics = splitSet(topics)
		entry.PreferredDuration = time.Duration(durationMin) * time.Minute
		entry.UpdatedAt = time.Unix(updatedAt, 0)
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidate rows: %w", err)
	}

	return entries, nil
}

// ReleaseStaleAvailability flips stale online entries back to offline.
func (s *SQLiteStore) ReleaseStaleAvailability(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).Unix()
	query := `UPDATE availability SET status = 'offline', updated_at = ? WHERE status = 'online' AND updated_at < ?`

	result, err := s.db.ExecContext(ctx, query, time.Now().Unix(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("release stale availability: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return rows, nil
}

// PairUsers atomically claims both users and creates the conversation.
func (s *SQLiteStore) PairUsers(ctx context.Context, requesterID, candidateID string, kind domain.ConversationKind) (*domain.Conversation, error) {
	s.pairMu.Lock()
	defer s.pairMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin pairing transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	claim := `UPDATE availability SET status = 'away', updated_at = ? WHERE user_id = ? AND status = 'online'`

	result, err := tx.ExecContext(ctx, claim, now.Unix(), candidateID)
	if err != nil {
		return nil, fmt.Errorf("claim candidate: %w", err)
	}
	if rows, err := result.RowsAffected(); err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	} else if rows == 0 {
		return nil, ErrClaimConflict
	}

	result, err = tx.ExecContext(ctx, claim, now.Unix(), requesterID)
	if err != nil {
		return nil, fmt.Errorf("claim requester: %w", err)
	}
	if rows, err := result.RowsAffected(); err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	} else if rows == 0 {
		return nil, ErrRequesterGone
	}

	conv := &domain.Conversation{
		ID:        uuid.NewString(),
		User1ID:   requesterID,
		User2ID:   candidateID,
		Kind:      kind,
		Status:    domain.ConversationActive,
		StartedAt: now,
	}

	insert := `
	INSERT INTO conversations (id, user1_id, user2_id, kind, status, started_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	if _, err := tx.ExecContext(ctx, insert,
		conv.ID, conv.User1ID, conv.User2ID, string(conv.Kind), string(conv.Status), conv.StartedAt.Unix(),
	); err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit pairing transaction: %w", err)
	}

	return conv, nil
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	query := `
		SELECT id, user1_id, user2_id, kind, status, started_at, ended_at
		FROM conversations WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id)

	var conv domain.Conversation
	var startedAt int64
	var endedAt sql.NullInt64

	err := row.Scan(&conv.ID, &conv.User1ID, &conv.User2ID, &conv.Kind, &conv.Status, &startedAt, &endedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation row: %w", err)
	}

	conv.StartedAt = time.Unix(startedAt, 0)
	if endedAt.Valid {
		t := time.Unix(endedAt.Int64, 0)
		conv.EndedAt = &t
	}

	return &conv, nil
}

// CompleteConversation marks an active conversation completed. Already
// completed conversations are left untouched.
func (s *SQLiteStore) CompleteConversation(ctx context.Context, id string, endedAt time.Time) error {
	query := `UPDATE conversations SET status = 'completed', ended_at = ? WHERE id = ? AND status = 'active'`

	if _, err := s.db.ExecContext(ctx, query, endedAt.Unix(), id); err != nil {
		return fmt.Errorf("complete conversation: %w", err)
	}
	return nil
}

// InsertMessage appends a message and returns the stored row with its
// sequence number. Timestamps are millisecond resolution; seq breaks ties.
func (s *SQLiteStore) InsertMessage(ctx context.Context, conversationID, senderID, content string) (*domain.Message, error) {
	msg := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      time.Now(),
	}

	query := `
	INSERT INTO messages (id, conversation_id, sender_id, content, created_at)
	VALUES (?, ?, ?, ?, ?)`

	result, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get message seq: %w", err)
	}
	msg.Seq = seq
	msg.CreatedAt = time.UnixMilli(msg.CreatedAt.UnixMilli())

	return msg, nil
}

// ListMessages returns a conversation's messages in log order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]*domain.Message, error) {
	query := `
		SELECT seq, id, conversation_id, sender_id, content, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, seq ASC`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []*domain.Message
	for rows.Next() {
		var msg domain.Message
		var createdAt int64
		if err := rows.Scan(&msg.Seq, &msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.CreatedAt = time.UnixMilli(createdAt)
		msgs = append(msgs, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}

	return msgs, nil
}

// ListPrompts returns reference prompts matching the filter.
func (s *SQLiteStore) ListPrompts(ctx context.Context, filter domain.PromptFilter) ([]*domain.Prompt, error) {
	query := `SELECT id, category, difficulty, text FROM prompts`
	var conds []string
	var args []interface{}

	if filter.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, filter.Category)
	}
	if filter.Difficulty != "" {
		conds = append(conds, "difficulty = ?")
		args = append(args, filter.Difficulty)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query prompts: %w", err)
	}
	defer rows.Close()

	var prompts []*domain.Prompt
	for rows.Next() {
		var p domain.Prompt
		if err := rows.Scan(&p.ID, &p.Category, &p.Difficulty, &p.Text); err != nil {
			return nil, fmt.Errorf("scan prompt row: %w", err)
		}
		prompts = append(prompts, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prompt rows: %w", err)
	}

	return prompts, nil
}

// GetPrompt retrieves a single prompt by ID.
func (s *SQLiteStore) GetPrompt(ctx context.Context, id string) (*domain.Prompt, error) {
	query := `SELECT id, category, difficulty, text FROM prompts WHERE id = ?`

	var p domain.Prompt
	err := s.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Category, &p.Difficulty, &p.Text)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan prompt row: %w", err)
	}
	return &p, nil
}

// SeedPrompts inserts reference prompts, skipping IDs already present.
func (s *SQLiteStore) SeedPrompts(ctx context.Context, prompts []*domain.Prompt) error {
	query := `INSERT OR IGNORE INTO prompts (id, category, difficulty, text) VALUES (?, ?, ?, ?)`

	for _, p := range prompts {
		if _, err := s.db.ExecContext(ctx, query, p.ID, p.Category, p.Difficulty, p.Text); err != nil {
			return fmt.Errorf("seed prompt %s: %w", p.ID, err)
		}
	}
	return nil
}

// CurrentPromptAssignment returns the most recently shown assignment for a
// conversation. Insertion order breaks shown_at ties.
func (s *SQLiteStore) CurrentPromptAssignment(ctx context.Context, conversationID string) (*domain.PromptAssignment, error) {
	query := `
		SELECT conversation_id, prompt_id, shown_at
		FROM prompt_assignments
		WHERE conversation_id = ?
		ORDER BY shown_at DESC, id DESC
		LIMIT 1`

	var a domain.PromptAssignment
	var shownAt int64
	err := s.db.QueryRowContext(ctx, query, conversationID).Scan(&a.ConversationID, &a.PromptID, &shownAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan prompt assignment row: %w", err)
	}

	a.ShownAt = time.UnixMilli(shownAt)
	return &a, nil
}

// InsertPromptAssignment records a new assignment.
func (s *SQLiteStore) InsertPromptAssignment(ctx context.Context, a *domain.PromptAssignment) error {
	query := `INSERT INTO prompt_assignments (conversation_id, prompt_id, shown_at) VALUES (?, ?, ?)`

	shownAt := a.ShownAt
	if shownAt.IsZero() {
		shownAt = time.Now()
	}

	if _, err := s.db.ExecContext(ctx, query, a.ConversationID, a.PromptID, shownAt.UnixMilli()); err != nil {
		return fmt.Errorf("insert prompt assignment: %w", err)
	}
	return nil
}

// GetProfile retrieves a user profile.
func (s *SQLiteStore) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	query := `SELECT user_id, display_name, created_at, updated_at FROM profiles WHERE user_id = ?`

	var p domain.Profile
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&p.UserID, &p.DisplayName, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan profile row: %w", err)
	}

	p.CreatedAt = time.Unix(createdAt, 0)
	p.UpdatedAt = time.Unix(updatedAt, 0)
	return &p, nil
}

// UpsertProfile creates or updates a user profile.
func (s *SQLiteStore) UpsertProfile(ctx context.Context, p *domain.Profile) error {
	query := `
	INSERT INTO profiles (user_id, display_name, created_at, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		display_name = excluded.display_name,
		updated_at = excluded.updated_at`

	now := time.Now()
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	if _, err := s.db.ExecContext(ctx, query, p.UserID, p.DisplayName, createdAt.Unix(), updatedAt.Unix()); err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}
