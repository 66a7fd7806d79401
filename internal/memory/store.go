package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/adaptd/internal/logging"
	"github.com/fyrsmithlabs/adaptd/internal/storage"
)

const (
	defaultQueryLimit = 100

	// touchTimeout bounds the background access-stat write.
	touchTimeout = 5 * time.Second
)

// Store persists context memories in SQLite.
type Store struct {
	db     *storage.DB
	logger *logging.Logger

	// touches tracks in-flight access-stat updates so tests and shutdown
	// can wait for them to settle.
	touches sync.WaitGroup
}

// NewStore creates a store on the shared database and runs its migration.
func NewStore(db *storage.DB, logger *logging.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	s := &Store{db: db, logger: logger.Named("memory")}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate memories: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS memories (
			id               TEXT PRIMARY KEY,
			user_id          TEXT NOT NULL,
			memory_type      TEXT NOT NULL CHECK (memory_type IN ('preference','pattern','knowledge','interaction')),
			title            TEXT NOT NULL DEFAULT '',
			content          TEXT NOT NULL,
			importance_score REAL NOT NULL DEFAULT 0.5 CHECK (importance_score BETWEEN 0.0 AND 1.0),
			relevance_tags   TEXT NOT NULL DEFAULT '[]',
			access_count     INTEGER NOT NULL DEFAULT 0,
			last_accessed_at TEXT NOT NULL,
			expires_at       TEXT,
			metadata         TEXT,
			created_at       TEXT NOT NULL,
			updated_at       TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_memories_user ON memories (user_id);
		CREATE INDEX IF NOT EXISTS idx_memories_user_type ON memories (user_id, memory_type);
		CREATE INDEX IF NOT EXISTS idx_memories_user_title ON memories (user_id, title);
	`)
	return err
}

// Save upserts a memory by id, creating it if absent. The importance score is
// clamped into [0,1]; a zero score on a new record is treated as unset and
// defaulted to 0.5. Returns the stored record as read back from the database.
func (s *Store) Save(ctx context.Context, m *Memory) (*Memory, error) {
	if m == nil {
		return nil, ErrInvalidMemory
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rec := *m
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.ImportanceScore == 0 {
		rec.ImportanceScore = 0.5
	}
	rec.ImportanceScore = clampScore(rec.ImportanceScore)
	if rec.RelevanceTags == nil {
		rec.RelevanceTags = []string{}
	}

	tags, err := json.Marshal(rec.RelevanceTags)
	if err != nil {
		return nil, fmt.Errorf("encode tags: %w", err)
	}

	// Upsert keeps created_at and access_count from the existing row.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (
			id, user_id, memory_type, title, content, importance_score,
			relevance_tags, access_count, last_accessed_at, expires_at,
			metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			user_id          = excluded.user_id,
			memory_type      = excluded.memory_type,
			title            = excluded.title,
			content          = excluded.content,
			importance_score = excluded.importance_score,
			relevance_tags   = excluded.relevance_tags,
			expires_at       = excluded.expires_at,
			metadata         = excluded.metadata,
			updated_at       = excluded.updated_at
	`,
		rec.ID, rec.UserID, string(rec.Type), rec.Title, string(rec.Content),
		rec.ImportanceScore, string(tags), formatTime(now), formatTimePtr(rec.ExpiresAt),
		nullableJSON(rec.Metadata), formatTime(now), formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	stored, err := s.getByID(ctx, rec.ID, rec.UserID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("%w: saved record not readable", ErrStoreUnavailable)
	}
	return stored, nil
}

// GetByID returns the record scoped to userID, or nil if absent or owned by
// another user. A successful read schedules a non-blocking access-stat update.
func (s *Store) GetByID(ctx context.Context, id, userID string) (*Memory, error) {
	m, err := s.getByID(ctx, id, userID)
	if err != nil || m == nil {
		return m, err
	}
	s.touchAccess(m.ID)
	return m, nil
}

// GetByTitle returns the highest-importance record with the given title scoped
// to userID, optionally filtered by type. Returns nil if absent. A successful
// read schedules a non-blocking access-stat update.
func (s *Store) GetByTitle(ctx context.Context, userID, title string, memType Type) (*Memory, error) {
	query := selectColumns + ` FROM memories WHERE user_id = ? AND title = ?`
	args := []any{userID, title}
	if memType != "" {
		if !memType.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidType, memType)
		}
		query += ` AND memory_type = ?`
		args = append(args, string(memType))
	}
	query += ` ORDER BY importance_score DESC, last_accessed_at DESC LIMIT 1`

	m, err := s.scanOne(s.db.QueryRowContext(ctx, query, args...))
	if err != nil || m == nil {
		return m, err
	}
	s.touchAccess(m.ID)
	return m, nil
}

// Query filters memories by the given options, sorted by importance score
// descending then last access descending. It returns an empty slice rather
// than an error when the store is unreachable: retrieval degrades, the
// pipeline continues with reduced context.
func (s *Store) Query(ctx context.Context, opts QueryOptions) ([]*Memory, error) {
	if opts.UserID == "" {
		return nil, ErrEmptyUserID
	}

	var sb strings.Builder
	sb.WriteString(selectColumns)
	sb.WriteString(` FROM memories WHERE user_id = ?`)
	args := []any{opts.UserID}

	if opts.Type != "" {
		sb.WriteString(` AND memory_type = ?`)
		args = append(args, string(opts.Type))
	}
	if opts.Title != "" {
		sb.WriteString(` AND title = ?`)
		args = append(args, opts.Title)
	}
	if opts.MinImportanceScore > 0 {
		sb.WriteString(` AND importance_score >= ?`)
		args = append(args, opts.MinImportanceScore)
	}
	if len(opts.RelevanceTags) > 0 {
		// ANY-overlap: at least one requested tag present on the record.
		sb.WriteString(` AND EXISTS (SELECT 1 FROM json_each(memories.relevance_tags) WHERE json_each.value IN (`)
		for i, tag := range opts.RelevanceTags {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("?")
			args = append(args, tag)
		}
		sb.WriteString(`))`)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	sb.WriteString(` ORDER BY importance_score DESC, last_accessed_at DESC LIMIT ? OFFSET ?`)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		s.logger.Warn(ctx, "memory query degraded to empty result", zap.Error(err))
		return []*Memory{}, nil
	}
	defer rows.Close()

	var out []*Memory
	for rows.Next() {
		m, err := s.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		s.logger.Warn(ctx, "memory query degraded to empty result", zap.Error(err))
		return []*Memory{}, nil
	}
	if out == nil {
		out = []*Memory{}
	}
	return out, nil
}

// Update applies a partial patch to a record owned by userID, refreshing
// updated_at. Returns nil if the record does not exist or belongs to another
// user. Write failures propagate.
func (s *Store) Update(ctx context.Context, id, userID string, patch Patch) (*Memory, error) {
	sets := []string{"updated_at = ?"}
	args := []any{formatTime(time.Now().UTC())}

	if patch.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *patch.Title)
	}
	if patch.Content != nil {
		if !json.Valid(patch.Content) {
			return nil, ErrInvalidContent
		}
		sets = append(sets, "content = ?")
		args = append(args, string(patch.Content))
	}
	if patch.Metadata != nil {
		if !json.Valid(patch.Metadata) {
			return nil, fmt.Errorf("%w: metadata", ErrInvalidContent)
		}
		sets = append(sets, "metadata = ?")
		args = append(args, string(patch.Metadata))
	}
	if patch.ImportanceScore != nil {
		sets = append(sets, "importance_score = ?")
		args = append(args, clampScore(*patch.ImportanceScore))
	}
	if patch.RelevanceTags != nil {
		tags, err := json.Marshal(*patch.RelevanceTags)
		if err != nil {
			return nil, fmt.Errorf("encode tags: %w", err)
		}
		sets = append(sets, "relevance_tags = ?")
		args = append(args, string(tags))
	}
	if patch.ExpiresAt != nil {
		sets = append(sets, "expires_at = ?")
		args = append(args, formatTime(*patch.ExpiresAt))
	}

	query := "UPDATE memories SET " + strings.Join(sets, ", ") + " WHERE id = ? AND user_id = ?"
	args = append(args, id, userID)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if n == 0 {
		return nil, nil
	}
	return s.getByID(ctx, id, userID)
}

// Delete removes a record owned by userID. Idempotent: returns true when a
// record was deleted, false when it was absent or the store is unreachable.
func (s *Store) Delete(ctx context.Context, id, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		s.logger.Warn(ctx, "memory delete failed", zap.String("id", id), zap.Error(err))
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n > 0, nil
}

// FlushAccessUpdates blocks until all scheduled access-stat updates have
// settled. Called on shutdown and by tests.
func (s *Store) FlushAccessUpdates() {
	s.touches.Wait()
}

// touchAccess schedules the access-stat update for a read. The increment is a
// single atomic UPDATE, so concurrent touches cannot lose counts. Failures are
// logged and dropped: the counter is advisory and must never fail a read.
func (s *Store) touchAccess(id string) {
	s.touches.Add(1)
	go func() {
		defer s.touches.Done()
		ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
		defer cancel()

		_, err := s.db.ExecContext(ctx, `
			UPDATE memories
			SET access_count = access_count + 1, last_accessed_at = ?
			WHERE id = ?
		`, formatTime(time.Now().UTC()), id)
		if err != nil {
			s.logger.Warn(ctx, "access-stat update dropped", zap.String("id", id), zap.Error(err))
		}
	}()
}

const selectColumns = `SELECT id, user_id, memory_type, title, content, importance_score,
	relevance_tags, access_count, last_accessed_at, expires_at, metadata, created_at, updated_at`

func (s *Store) getByID(ctx context.Context, id, userID string) (*Memory, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` FROM memories WHERE id = ? AND user_id = ?`, id, userID)
	return s.scanOne(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanOne(row *sql.Row) (*Memory, error) {
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return m, nil
}

func (s *Store) scanRow(rows *sql.Rows) (*Memory, error) {
	m, err := scanMemory(rows)
	if err != nil {
		return nil, fmt.Errorf("scan memory: %w", err)
	}
	return m, nil
}

func scanMemory(r rowScanner) (*Memory, error) {
	var (
		m                       Memory
		memType, content, tags  string
		lastAccessed, createdAt string
		updatedAt               string
		expiresAt, metadata     sql.NullString
	)
	err := r.Scan(&m.ID, &m.UserID, &memType, &m.Title, &content, &m.ImportanceScore,
		&tags, &m.AccessCount, &lastAccessed, &expiresAt, &metadata, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	m.Type = Type(memType)
	m.Content = json.RawMessage(content)
	if err := json.Unmarshal([]byte(tags), &m.RelevanceTags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if m.LastAccessedAt, err = parseTime(lastAccessed); err != nil {
		return nil, err
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		t, err := parseTime(expiresAt.String)
		if err != nil {
			return nil, err
		}
		m.ExpiresAt = &t
	}
	if metadata.Valid && metadata.String != "" {
		m.Metadata = json.RawMessage(metadata.String)
	}
	return &m, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
