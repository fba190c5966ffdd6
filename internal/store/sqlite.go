package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/admithub/handoff/internal/domain"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
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
	if err := store.seedSettings(); err != nil {
		return nil, fmt.Errorf("seed settings: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS handoff_requests (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		user_id INTEGER,
		guest_id TEXT,
		user_message TEXT NOT NULL,
		status TEXT NOT NULL,
		admin_id INTEGER,
		admin_name TEXT,
		requested_at INTEGER NOT NULL,
		connected_at INTEGER,
		ended_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_requests_status ON handoff_requests(status);
	CREATE INDEX IF NOT EXISTS idx_requests_conversation ON handoff_requests(conversation_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_requests_active_conversation
		ON handoff_requests(conversation_id)
		WHERE status IN ('requesting', 'waiting', 'connected');

	CREATE TABLE IF NOT EXISTS human_messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		content TEXT NOT NULL,
		is_from_admin INTEGER NOT NULL,
		admin_id INTEGER,
		admin_name TEXT,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON human_messages(conversation_id, timestamp);

	CREATE TABLE IF NOT EXISTS handoff_settings (
		id TEXT PRIMARY KEY,
		agent_alias TEXT NOT NULL,
		trigger_pattern TEXT NOT NULL,
		timezone TEXT NOT NULL,
		working_days_json TEXT NOT NULL,
		working_hours_json TEXT NOT NULL,
		is_enabled INTEGER NOT NULL,
		timeout_seconds INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) seedSettings() error {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM handoff_settings`).Scan(&count); err != nil {
		return fmt.Errorf("count settings: %w", err)
	}
	if count > 0 {
		return nil
	}

	defaults := domain.DefaultSettings()
	defaults.ID = uuid.NewString()
	now := time.Now()
	defaults.CreatedAt = now
	defaults.UpdatedAt = now
	return s.insertSettings(context.Background(), defaults)
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

const requestColumns = `id, conversation_id, user_id, guest_id, user_message, status,
	admin_id, admin_name, requested_at, connected_at, ended_at, created_at, updated_at`

// CreateRequest inserts a new handoff request. A partial unique index on
// active statuses enforces the one-active-request-per-conversation invariant
// even under concurrent creates.
func (s *SQLiteStore) CreateRequest(ctx context.Context, req *domain.HandoffRequest) error {
	query := `
	INSERT INTO handoff_requests (` + requestColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		req.ID, req.ConversationID, nullInt(req.UserID), nullStr(req.GuestID),
		req.UserMessage, string(req.Status),
		nullInt(req.AdminID), nullStr(req.AdminName),
		req.RequestedAt.UnixMilli(), nullTime(req.ConnectedAt), nullTime(req.EndedAt),
		req.CreatedAt.UnixMilli(), req.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrConflict
		}
		return fmt.Errorf("insert handoff request: %w", err)
	}
	return nil
}

// GetRequest retrieves a request by id.
func (s *SQLiteStore) GetRequest(ctx context.Context, id string) (*domain.HandoffRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM handoff_requests WHERE id = ?`
	req, err := scanRequest(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan handoff request: %w", err)
	}
	return req, nil
}

// UpdateRequest applies patch if the current status matches expected.
func (s *SQLiteStore) UpdateRequest(ctx context.Context, id string, patch RequestPatch, expected domain.Status) (*domain.HandoffRequest, error) {
	if !patch.Status.IsValid() {
		return nil, fmt.Errorf("invalid target status %q", patch.Status)
	}

	query := `UPDATE handoff_requests SET status = ?, updated_at = ?`
	args := []interface{}{string(patch.Status), time.Now().UnixMilli()}

	if patch.AdminID != 0 {
		query += `, admin_id = ?, admin_name = ?`
		args = append(args, patch.AdminID, patch.AdminName)
	}
	if patch.ConnectedAt != nil {
		query += `, connected_at = ?`
		args = append(args, patch.ConnectedAt.UnixMilli())
	}
	if patch.EndedAt != nil {
		query += `, ended_at = ?`
		args = append(args, patch.EndedAt.UnixMilli())
	}

	query += ` WHERE id = ? AND status = ?`
	args = append(args, id, string(expected))

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update handoff request: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		// Distinguish a missing record from a lost optimistic race.
		if _, getErr := s.GetRequest(ctx, id); getErr != nil {
			return nil, getErr
		}
		slog.Warn("Handoff request update lost optimistic race", "request_id", id, "expected_status", expected)
		return nil, ErrStaleWrite
	}

	return s.GetRequest(ctx, id)
}

// ListRequestsByStatus returns all requests in the given status, oldest first.
func (s *SQLiteStore) ListRequestsByStatus(ctx context.Context, status domain.Status) ([]*domain.HandoffRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM handoff_requests WHERE status = ? ORDER BY requested_at ASC`
	return s.queryRequests(ctx, query, string(status))
}

// CountRequestsByStatus returns the number of requests in the given status.
func (s *SQLiteStore) CountRequestsByStatus(ctx context.Context, status domain.Status) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM handoff_requests WHERE status = ?`, string(status)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count handoff requests: %w", err)
	}
	return count, nil
}

// ActiveRequestForConversation returns the non-terminal request for a
// conversation, or nil if none exists.
func (s *SQLiteStore) ActiveRequestForConversation(ctx context.Context, conversationID string) (*domain.HandoffRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM handoff_requests
		WHERE conversation_id = ? AND status IN ('requesting', 'waiting', 'connected')
		ORDER BY created_at DESC LIMIT 1`
	req, err := scanRequest(s.db.QueryRowContext(ctx, query, conversationID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan active request: %w", err)
	}
	return req, nil
}

// ActiveRequestForRequester returns the non-terminal request for a requester,
// or nil if none exists.
func (s *SQLiteStore) ActiveRequestForRequester(ctx context.Context, userID int64, guestID string) (*domain.HandoffRequest, error) {
	var (
		query string
		arg   interface{}
	)
	switch {
	case userID != 0:
		query = `SELECT ` + requestColumns + ` FROM handoff_requests
			WHERE user_id = ? AND status IN ('requesting', 'waiting', 'connected') LIMIT 1`
		arg = userID
	case guestID != "":
		query = `SELECT ` + requestColumns + ` FROM handoff_requests
			WHERE guest_id = ? AND status IN ('requesting', 'waiting', 'connected') LIMIT 1`
		arg = guestID
	default:
		return nil, nil
	}

	req, err := scanRequest(s.db.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan requester active request: %w", err)
	}
	return req, nil
}

// ListRecentRequests returns a page of requests, newest first.
func (s *SQLiteStore) ListRecentRequests(ctx context.Context, limit, offset int) ([]*domain.HandoffRequest, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM handoff_requests`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count handoff requests: %w", err)
	}

	query := `SELECT ` + requestColumns + ` FROM handoff_requests
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	requests, err := s.queryRequests(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return requests, total, nil
}

func (s *SQLiteStore) queryRequests(ctx context.Context, query string, args ...interface{}) ([]*domain.HandoffRequest, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query handoff requests: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close request rows", "error", closeErr)
		}
	}()

	var requests []*domain.HandoffRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan handoff request row: %w", err)
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate handoff requests: %w", err)
	}
	return requests, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row rowScanner) (*domain.HandoffRequest, error) {
	var (
		req                    domain.HandoffRequest
		userID, adminID        sql.NullInt64
		guestID, adminName     sql.NullString
		connectedAt, endedAt   sql.NullInt64
		requested, created, up int64
		status                 string
	)

	err := row.Scan(
		&req.ID, &req.ConversationID, &userID, &guestID, &req.UserMessage, &status,
		&adminID, &adminName, &requested, &connectedAt, &endedAt, &created, &up,
	)
	if err != nil {
		return nil, err
	}

	req.UserID = userID.Int64
	req.GuestID = guestID.String
	req.Status = domain.Status(status)
	req.AdminID = adminID.Int64
	req.AdminName = adminName.String
	req.RequestedAt = time.UnixMilli(requested)
	req.CreatedAt = time.UnixMilli(created)
	req.UpdatedAt = time.UnixMilli(up)
	if connectedAt.Valid {
		ts := time.UnixMilli(connectedAt.Int64)
		req.ConnectedAt = &ts
	}
	if endedAt.Valid {
		ts := time.UnixMilli(endedAt.Int64)
		req.EndedAt = &ts
	}
	return &req, nil
}

// AppendMessage persists a human message.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *domain.HumanMessage) error {
	query := `
	INSERT INTO human_messages (id, conversation_id, content, is_from_admin, admin_id, admin_name, timestamp)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.ConversationID, msg.Content, msg.IsFromAdmin,
		nullInt(msg.AdminID), nullStr(msg.AdminName), msg.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert human message: %w", err)
	}
	return nil
}

// ListMessages returns the human messages of a conversation in send order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]*domain.HumanMessage, error) {
	query := `
	SELECT id, conversation_id, content, is_from_admin, admin_id, admin_name, timestamp
	FROM human_messages WHERE conversation_id = ? ORDER BY timestamp ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query human messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var messages []*domain.HumanMessage
	for rows.Next() {
		var (
			msg       domain.HumanMessage
			adminID   sql.NullInt64
			adminName sql.NullString
			timestamp int64
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Content,
			&msg.IsFromAdmin, &adminID, &adminName, &timestamp); err != nil {
			return nil, fmt.Errorf("scan human message row: %w", err)
		}
		msg.AdminID = adminID.Int64
		msg.AdminName = adminName.String
		msg.Timestamp = time.UnixMilli(timestamp)
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate human messages: %w", err)
	}
	return messages, nil
}

// GetSettings returns the handoff settings record.
func (s *SQLiteStore) GetSettings(ctx context.Context) (*domain.HandoffSetting, error) {
	query := `
	SELECT id, agent_alias, trigger_pattern, timezone, working_days_json,
	       working_hours_json, is_enabled, timeout_seconds, created_at, updated_at
	FROM handoff_settings ORDER BY created_at ASC LIMIT 1`

	var (
		setting             domain.HandoffSetting
		daysJSON, hoursJSON string
		created, updated    int64
	)
	err := s.db.QueryRowContext(ctx, query).Scan(
		&setting.ID, &setting.AgentAlias, &setting.TriggerPattern, &setting.Timezone,
		&daysJSON, &hoursJSON, &setting.IsEnabled, &setting.TimeoutSeconds,
		&created, &updated,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan handoff settings: %w", err)
	}

	if err := json.Unmarshal([]byte(daysJSON), &setting.WorkingDays); err != nil {
		return nil, fmt.Errorf("decode working days: %w", err)
	}
	if err := json.Unmarshal([]byte(hoursJSON), &setting.WorkingHours); err != nil {
		return nil, fmt.Errorf("decode working hours: %w", err)
	}
	setting.CreatedAt = time.UnixMilli(created)
	setting.UpdatedAt = time.UnixMilli(updated)
	return &setting, nil
}

// UpdateSettings replaces the handoff settings record.
func (s *SQLiteStore) UpdateSettings(ctx context.Context, setting *domain.HandoffSetting) (*domain.HandoffSetting, error) {
	current, err := s.GetSettings(ctx)
	if err != nil {
		return nil, err
	}

	daysJSON, err := json.Marshal(setting.WorkingDays)
	if err != nil {
		return nil, fmt.Errorf("encode working days: %w", err)
	}
	hoursJSON, err := json.Marshal(setting.WorkingHours)
	if err != nil {
		return nil, fmt.Errorf("encode working hours: %w", err)
	}

	query := `
	UPDATE handoff_settings SET agent_alias = ?, trigger_pattern = ?, timezone = ?,
		working_days_json = ?, working_hours_json = ?, is_enabled = ?,
		timeout_seconds = ?, updated_at = ?
	WHERE id = ?`

	_, err = s.db.ExecContext(ctx, query,
		setting.AgentAlias, setting.TriggerPattern, setting.Timezone,
		string(daysJSON), string(hoursJSON), setting.IsEnabled,
		setting.TimeoutSeconds, time.Now().UnixMilli(), current.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update handoff settings: %w", err)
	}
	return s.GetSettings(ctx)
}

func (s *SQLiteStore) insertSettings(ctx context.Context, setting *domain.HandoffSetting) error {
	daysJSON, err := json.Marshal(setting.WorkingDays)
	if err != nil {
		return fmt.Errorf("encode working days: %w", err)
	}
	hoursJSON, err := json.Marshal(setting.WorkingHours)
	if err != nil {
		return fmt.Errorf("encode working hours: %w", err)
	}

	query := `
	INSERT INTO handoff_settings (id, agent_alias, trigger_pattern, timezone,
		working_days_json, working_hours_json, is_enabled, timeout_seconds,
		created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		setting.ID, setting.AgentAlias, setting.TriggerPattern, setting.Timezone,
		string(daysJSON), string(hoursJSON), setting.IsEnabled, setting.TimeoutSeconds,
		setting.CreatedAt.UnixMilli(), setting.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert handoff settings: %w", err)
	}
	return nil
}

func nullInt(v int64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}

func nullStr(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
