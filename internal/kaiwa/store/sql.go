package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

//go:embed migrations
var migrationsFS embed.FS

const lockStripes = 64

// SQLStore is the durable backend. Each chat's operations are serialised
// in-process by a striped lock and made atomic in the database by a
// transaction, so concurrent appends never lose an entry or a counter bump.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	limit   *HistoryLimit
	logger  *slog.Logger

	locks [lockStripes]sync.Mutex
}

var _ Store = (*SQLStore)(nil)

// OpenSQL connects to the database named by driver and dsn, verifies the
// connection and applies pending migrations. Errors wrap
// ErrBackendUnavailable.
func OpenSQL(ctx context.Context, driver, dsn string, limit *HistoryLimit, logger *slog.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if limit == nil {
		limit = NewHistoryLimit(DefaultMaxHistoryLen)
	}
	d, err := lookupDialect(driver)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %w", ErrBackendUnavailable, err)
	}

	if d == dialectSQLite {
		// One shared connection; SQLite serialises writers anyway and an
		// in-memory database only exists per connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping: %w", ErrBackendUnavailable, err)
	}

	if d == dialectSQLite {
		pragmas := []string{
			"PRAGMA journal_mode = WAL",
			"PRAGMA synchronous = NORMAL",
			"PRAGMA cache_size = -64000",
			"PRAGMA busy_timeout = 5000",
		}
		for _, pragma := range pragmas {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("%w: set pragma: %w", ErrBackendUnavailable, err)
			}
		}
	}

	s := &SQLStore{db: db, dialect: d, limit: limit, logger: logger}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %w", ErrBackendUnavailable, err)
	}
	return s, nil
}

func (s *SQLStore) Backend() string { return s.dialect.name }

func (s *SQLStore) Close() error { return s.db.Close() }

// DB returns the underlying connection pool.
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) lock(chatID int64) func() {
	mu := &s.locks[uint64(chatID)%lockStripes]
	mu.Lock()
	return mu.Unlock
}

func (s *SQLStore) q(query string) string {
	return s.dialect.rebind(query)
}

// degrade logs a failed read and returns the attribute default in its place.
func degrade[T any](s *SQLStore, op string, chatID int64, def T, err error) T {
	s.logger.Warn("store read failed, using default",
		"backend", s.dialect.name,
		"op", op,
		"chat_id", chatID,
		"err", fmt.Errorf("%w: %w", ErrReadFailure, err),
	)
	return def
}

// dropWrite logs a failed write. The state is left as it was.
func (s *SQLStore) dropWrite(op string, chatID int64, err error) {
	s.logger.Error("store write dropped",
		"backend", s.dialect.name,
		"op", op,
		"chat_id", chatID,
		"err", fmt.Errorf("%w: %w", ErrWriteFailure, err),
	)
}

// inTx runs fn in a transaction, rolling back when fn fails.
func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// --- history ---

func (s *SQLStore) History(ctx context.Context, chatID int64) []Entry {
	defer s.lock(chatID)()

	var count int64
	err := s.db.QueryRowContext(ctx, s.q(`SELECT history_len FROM users WHERE chat_id = ?`), chatID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return degrade[[]Entry](s, "history", chatID, nil, err)
	}

	n := min(count, int64(s.limit.Max()))
	if n <= 0 {
		return nil
	}

	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT message, role FROM context
		WHERE chat_id = ?
		ORDER BY id DESC
		LIMIT ?
	`), chatID, n)
	if err != nil {
		return degrade[[]Entry](s, "history", chatID, nil, err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, n)
	for rows.Next() {
		var e Entry
		var role string
		if err := rows.Scan(&e.Content, &role); err != nil {
			return degrade[[]Entry](s, "history", chatID, nil, err)
		}
		e.Role = Role(role)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return degrade[[]Entry](s, "history", chatID, nil, err)
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries
}

func (s *SQLStore) AppendEntry(ctx context.Context, chatID int64, e Entry) {
	defer s.lock(chatID)()

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO context (chat_id, message, role) VALUES (?, ?, ?)`),
			chatID, e.Content, string(e.Role)); err != nil {
			return fmt.Errorf("insert context: %w", err)
		}
		upsert := s.dialect.upsert(
			`INSERT INTO users (chat_id, history_len) VALUES (?, 1)`, "chat_id",
			"history_len = "+s.dialect.current("users", "history_len")+" + 1",
		)
		if _, err := tx.ExecContext(ctx, s.q(upsert), chatID); err != nil {
			return fmt.Errorf("bump history_len: %w", err)
		}
		return nil
	})
	if err != nil {
		s.dropWrite("append_entry", chatID, err)
	}
}

// ClearHistory resets the visible length. The context rows stay behind and
// are never read again because reads are bounded by history_len.
func (s *SQLStore) ClearHistory(ctx context.Context, chatID int64) {
	defer s.lock(chatID)()

	upsert := s.dialect.upsert(
		`INSERT INTO users (chat_id, history_len) VALUES (?, 0)`, "chat_id",
		"history_len = 0",
	)
	if _, err := s.db.ExecContext(ctx, s.q(upsert), chatID); err != nil {
		s.dropWrite("clear_history", chatID, err)
	}
}

// --- attributes ---

func (s *SQLStore) Fingerprint(ctx context.Context, chatID int64) string {
	var v sql.NullString
	err := s.db.QueryRowContext(ctx, s.q(`SELECT fingerprint FROM users WHERE chat_id = ?`), chatID).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return ""
	}
	if err != nil {
		return degrade(s, "fingerprint", chatID, "", err)
	}
	return v.String
}

func (s *SQLStore) SetFingerprint(ctx context.Context, chatID int64, fingerprint string) {
	defer s.lock(chatID)()

	upsert := s.dialect.upsert(
		`INSERT INTO users (chat_id, fingerprint, history_len) VALUES (?, ?, 0)`, "chat_id",
		"fingerprint = "+s.dialect.excluded("fingerprint"),
	)
	if _, err := s.db.ExecContext(ctx, s.q(upsert), chatID, fingerprint); err != nil {
		s.dropWrite("set_fingerprint", chatID, err)
	}
}

func (s *SQLStore) Temperature(ctx context.Context, chatID int64) float64 {
	var v sql.NullFloat64
	err := s.db.QueryRowContext(ctx, s.q(`SELECT temperature FROM users WHERE chat_id = ?`), chatID).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultTemperature
	}
	if err != nil {
		return degrade(s, "temperature", chatID, DefaultTemperature, err)
	}
	if !v.Valid {
		return DefaultTemperature
	}
	return v.Float64
}

func (s *SQLStore) SetTemperature(ctx context.Context, chatID int64, temperature float64) {
	defer s.lock(chatID)()

	upsert := s.dialect.upsert(
		`INSERT INTO users (chat_id, temperature, history_len) VALUES (?, ?, 0)`, "chat_id",
		"temperature = "+s.dialect.excluded("temperature"),
	)
	if _, err := s.db.ExecContext(ctx, s.q(upsert), chatID, temperature); err != nil {
		s.dropWrite("set_temperature", chatID, err)
	}
}

// --- notes ---

func (s *SQLStore) AddNote(ctx context.Context, n Note) {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO notes (note_id, chat_id, user_id, body) VALUES (?, ?, ?, ?)`),
		n.NoteID, n.ChatID, n.UserID, n.Text)
	if err != nil {
		s.dropWrite("add_note", n.ChatID, err)
	}
}

func (s *SQLStore) RemoveNote(ctx context.Context, chatID, noteID int64) {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM notes WHERE chat_id = ? AND note_id = ?`), chatID, noteID)
	if err != nil {
		s.dropWrite("remove_note", chatID, err)
	}
}

func (s *SQLStore) ListNotes(ctx context.Context, chatID int64) []Note {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT note_id, chat_id, user_id, body FROM notes
		WHERE chat_id = ?
		ORDER BY note_id, id
	`), chatID)
	if err != nil {
		return degrade[[]Note](s, "list_notes", chatID, nil, err)
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.NoteID, &n.ChatID, &n.UserID, &n.Text); err != nil {
			return degrade[[]Note](s, "list_notes", chatID, nil, err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return degrade[[]Note](s, "list_notes", chatID, nil, err)
	}
	return notes
}

func (s *SQLStore) EraseNotes(ctx context.Context, chatID int64) {
	if _, err := s.db.ExecContext(ctx, s.q(`DELETE FROM notes WHERE chat_id = ?`), chatID); err != nil {
		s.dropWrite("erase_notes", chatID, err)
	}
}

// --- enablement ---

func (s *SQLStore) Enable(ctx context.Context, chatID int64, threadID *int64, isSupergroup bool) {
	s.toggle(ctx, "enable", chatID, threadID, isSupergroup, true)
}

func (s *SQLStore) Disable(ctx context.Context, chatID int64, threadID *int64, isSupergroup bool) {
	s.toggle(ctx, "disable", chatID, threadID, isSupergroup, false)
}

func (s *SQLStore) toggle(ctx context.Context, op string, chatID int64, threadID *int64, isSupergroup, enabled bool) {
	defer s.lock(chatID)()

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		// A new record starts enabled unless this call disables the chat itself.
		initial := threadID != nil || enabled
		create := s.dialect.insertIgnore(
			`INSERT INTO chat_settings (chat_id, is_supergroup, enabled) VALUES (?, ?, ?)`, "chat_id",
		)
		if _, err := tx.ExecContext(ctx, s.q(create), chatID, isSupergroup, initial); err != nil {
			return fmt.Errorf("create settings: %w", err)
		}

		if threadID == nil {
			if _, err := tx.ExecContext(ctx, s.q(`UPDATE chat_settings SET enabled = ? WHERE chat_id = ?`), enabled, chatID); err != nil {
				return fmt.Errorf("update chat flag: %w", err)
			}
			return nil
		}

		upsert := s.dialect.upsert(
			`INSERT INTO chat_threads (chat_id, thread_id, enabled) VALUES (?, ?, ?)`, "chat_id, thread_id",
			"enabled = "+s.dialect.excluded("enabled"),
		)
		if _, err := tx.ExecContext(ctx, s.q(upsert), chatID, *threadID, enabled); err != nil {
			return fmt.Errorf("update thread flag: %w", err)
		}
		return nil
	})
	if err != nil {
		s.dropWrite(op, chatID, err)
	}
}

func (s *SQLStore) IsEnabled(ctx context.Context, chatID int64, threadID *int64, isSupergroup bool) bool {
	var settings ChatSettings
	err := s.db.QueryRowContext(ctx, s.q(`SELECT is_supergroup, enabled FROM chat_settings WHERE chat_id = ?`), chatID).
		Scan(&settings.IsSupergroup, &settings.Enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return true
	}
	if err != nil {
		return degrade(s, "is_enabled", chatID, true, err)
	}

	if threadID != nil && (settings.IsSupergroup || isSupergroup) {
		var enabled bool
		err := s.db.QueryRowContext(ctx, s.q(`SELECT enabled FROM chat_threads WHERE chat_id = ? AND thread_id = ?`), chatID, *threadID).
			Scan(&enabled)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return degrade(s, "is_enabled", chatID, true, err)
		default:
			settings.Threads = map[int64]bool{*threadID: enabled}
		}
	}
	return resolveEnabled(&settings, threadID, isSupergroup)
}

// --- matrix sync state ---

// SaveSyncValue upserts a sync-state value for a Matrix user.
func (s *SQLStore) SaveSyncValue(ctx context.Context, userID, key, value string) error {
	upsert := s.dialect.upsert(
		`INSERT INTO matrix_sync_state (user_id, sync_key, value) VALUES (?, ?, ?)`, "user_id, sync_key",
		"value = "+s.dialect.excluded("value"),
	)
	_, err := s.db.ExecContext(ctx, s.q(upsert), userID, key, value)
	return err
}

// LoadSyncValue returns a stored sync-state value, or "" when none is saved.
func (s *SQLStore) LoadSyncValue(ctx context.Context, userID, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT value FROM matrix_sync_state WHERE user_id = ? AND sync_key = ?`), userID, key).
		Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// --- migrations ---

type migration struct {
	version     int
	description string
	file        string
}

func (s *SQLStore) migrations() ([]migration, error) {
	dir := path.Join("migrations", s.dialect.name)
	entries, err := migrationsFS.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	seen := make(map[int]string, len(entries))
	var out []migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		parts := strings.SplitN(entry.Name(), "_", 2)
		if len(parts) < 2 {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(parts[0], "%d", &version); err != nil {
			continue
		}
		if prev, ok := seen[version]; ok {
			return nil, fmt.Errorf("duplicate migration version %04d: %q and %q", version, prev, entry.Name())
		}
		seen[version] = entry.Name()
		out = append(out, migration{
			version:     version,
			description: strings.TrimSuffix(parts[1], ".sql"),
			file:        path.Join(dir, entry.Name()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			description TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("get current schema version: %w", err)
	}

	pending, err := s.migrations()
	if err != nil {
		return err
	}

	for _, m := range pending {
		if m.version <= current {
			continue
		}
		content, err := migrationsFS.ReadFile(m.file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", m.file, err)
		}

		err = s.inTx(ctx, func(tx *sql.Tx) error {
			for _, stmt := range splitStatements(string(content)) {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("execute migration %d: %w", m.version, err)
				}
			}
			_, err := tx.ExecContext(ctx,
				s.q("INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)"),
				m.version, time.Now().UTC(), m.description,
			)
			if err != nil {
				return fmt.Errorf("record migration %d: %w", m.version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}

		s.logger.Info("applied migration",
			"backend", s.dialect.name,
			"version", fmt.Sprintf("%04d", m.version),
			"description", m.description,
		)
	}
	return nil
}
