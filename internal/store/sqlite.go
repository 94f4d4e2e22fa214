package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"wabot/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: concurrent energy debits must not interleave
	// mid-transaction.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id          TEXT PRIMARY KEY,
		banned      INTEGER NOT NULL DEFAULT 0,
		warnings    INTEGER NOT NULL DEFAULT 0,
		energy      INTEGER NOT NULL DEFAULT 0,
		updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS groups (
		id               TEXT PRIMARY KEY,
		muted            INTEGER NOT NULL DEFAULT 0,
		rental_active    INTEGER NOT NULL DEFAULT 0,
		rental_start     DATETIME,
		rental_end       DATETIME,
		last_reminder    DATETIME,
		buyer_group      INTEGER NOT NULL DEFAULT 0,
		reseller_group   INTEGER NOT NULL DEFAULT 0,
		anti_sticker     INTEGER NOT NULL DEFAULT 0,
		anti_image       INTEGER NOT NULL DEFAULT 0,
		anti_video       INTEGER NOT NULL DEFAULT 0,
		anti_audio       INTEGER NOT NULL DEFAULT 0,
		joined_at        DATETIME,
		updated_at       DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS resources (
		id              TEXT PRIMARY KEY,
		owner           TEXT NOT NULL DEFAULT '',
		expires_at      DATETIME,
		suspended       INTEGER NOT NULL DEFAULT 0,
		suspended_at    DATETIME,
		suspend_reason  TEXT NOT NULL DEFAULT '',
		created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_resources_owner ON resources(owner);

	CREATE TABLE IF NOT EXISTS aliases (
		alias      TEXT PRIMARY KEY,
		canonical  TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// User returns the stored record for id, or a zero-value record when the
// user has never been seen. Never returns nil with a nil error.
func (s *SQLiteStore) User(ctx context.Context, id string) (*domain.UserRecord, error) {
	u := &domain.UserRecord{ID: id}
	var updated sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT banned, warnings, energy, updated_at FROM users WHERE id = ?`, id,
	).Scan(&u.Banned, &u.Warnings, &u.Energy, &updated)
	if err == sql.ErrNoRows {
		return u, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	u.UpdatedAt = updated.Time
	return u, nil
}

func (s *SQLiteStore) PutUser(ctx context.Context, u *domain.UserRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, banned, warnings, energy, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   banned = excluded.banned,
		   warnings = excluded.warnings,
		   energy = excluded.energy,
		   updated_at = excluded.updated_at`,
		u.ID, u.Banned, u.Warnings, u.Energy, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("put user %s: %w", u.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Group(ctx context.Context, id string) (*domain.GroupRecord, error) {
	g := &domain.GroupRecord{ID: id}
	var start, end, reminder, joined, updated sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT muted, rental_active, rental_start, rental_end, last_reminder,
		        buyer_group, reseller_group,
		        anti_sticker, anti_image, anti_video, anti_audio,
		        joined_at, updated_at
		 FROM groups WHERE id = ?`, id,
	).Scan(&g.Muted, &g.Rental.Active, &start, &end, &reminder,
		&g.BuyerGroup, &g.ResellerGroup,
		&g.AntiSticker, &g.AntiImage, &g.AntiVideo, &g.AntiAudio,
		&joined, &updated)
	if err == sql.ErrNoRows {
		return g, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get group %s: %w", id, err)
	}
	g.Rental.StartedAt = start.Time
	g.Rental.EndsAt = end.Time
	g.Rental.LastReminderAt = reminder.Time
	g.JoinedAt = joined.Time
	g.UpdatedAt = updated.Time
	return g, nil
}

func (s *SQLiteStore) PutGroup(ctx context.Context, g *domain.GroupRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO groups (id, muted, rental_active, rental_start, rental_end, last_reminder,
		                     buyer_group, reseller_group,
		                     anti_sticker, anti_image, anti_video, anti_audio,
		                     joined_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   muted = excluded.muted,
		   rental_active = excluded.rental_active,
		   rental_start = excluded.rental_start,
		   rental_end = excluded.rental_end,
		   last_reminder = excluded.last_reminder,
		   buyer_group = excluded.buyer_group,
		   reseller_group = excluded.reseller_group,
		   anti_sticker = excluded.anti_sticker,
		   anti_image = excluded.anti_image,
		   anti_video = excluded.anti_video,
		   anti_audio = excluded.anti_audio,
		   joined_at = excluded.joined_at,
		   updated_at = excluded.updated_at`,
		g.ID, g.Muted, g.Rental.Active, nullTime(g.Rental.StartedAt), nullTime(g.Rental.EndsAt),
		nullTime(g.Rental.LastReminderAt), g.BuyerGroup, g.ResellerGroup,
		g.AntiSticker, g.AntiImage, g.AntiVideo, g.AntiAudio,
		nullTime(g.JoinedAt), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("put group %s: %w", g.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Groups(ctx context.Context) ([]domain.GroupRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, muted, rental_active, rental_start, rental_end, last_reminder,
		        buyer_group, reseller_group,
		        anti_sticker, anti_image, anti_video, anti_audio,
		        joined_at, updated_at
		 FROM groups ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var out []domain.GroupRecord
	for rows.Next() {
		var g domain.GroupRecord
		var start, end, reminder, joined, updated sql.NullTime
		if err := rows.Scan(&g.ID, &g.Muted, &g.Rental.Active, &start, &end, &reminder,
			&g.BuyerGroup, &g.ResellerGroup,
			&g.AntiSticker, &g.AntiImage, &g.AntiVideo, &g.AntiAudio,
			&joined, &updated); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		g.Rental.StartedAt = start.Time
		g.Rental.EndsAt = end.Time
		g.Rental.LastReminderAt = reminder.Time
		g.JoinedAt = joined.Time
		g.UpdatedAt = updated.Time
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Resource(ctx context.Context, id string) (*domain.ResourceRecord, error) {
	r := &domain.ResourceRecord{ID: id}
	var expires, suspendedAt, created sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT owner, expires_at, suspended, suspended_at, suspend_reason, created_at
		 FROM resources WHERE id = ?`, id,
	).Scan(&r.Owner, &expires, &r.Suspended, &suspendedAt, &r.SuspendReason, &created)
	if err == sql.ErrNoRows {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get resource %s: %w", id, err)
	}
	r.ExpiresAt = expires.Time
	r.SuspendedAt = suspendedAt.Time
	r.CreatedAt = created.Time
	return r, nil
}

func (s *SQLiteStore) PutResource(ctx context.Context, r *domain.ResourceRecord) error {
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO resources (id, owner, expires_at, suspended, suspended_at, suspend_reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   owner = excluded.owner,
		   expires_at = excluded.expires_at,
		   suspended = excluded.suspended,
		   suspended_at = excluded.suspended_at,
		   suspend_reason = excluded.suspend_reason`,
		r.ID, r.Owner, nullTime(r.ExpiresAt), r.Suspended, nullTime(r.SuspendedAt), r.SuspendReason, created,
	)
	if err != nil {
		return fmt.Errorf("put resource %s: %w", r.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Resources(ctx context.Context) ([]domain.ResourceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner, expires_at, suspended, suspended_at, suspend_reason, created_at
		 FROM resources ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	defer rows.Close()

	var out []domain.ResourceRecord
	for rows.Next() {
		var r domain.ResourceRecord
		var expires, suspendedAt, created sql.NullTime
		if err := rows.Scan(&r.ID, &r.Owner, &expires, &r.Suspended, &suspendedAt, &r.SuspendReason, &created); err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		r.ExpiresAt = expires.Time
		r.SuspendedAt = suspendedAt.Time
		r.CreatedAt = created.Time
		out = append(out, r)
	}
	return out, rows.Err()
}

// Alias returns the canonical id mapped to alias, or "" when unmapped.
func (s *SQLiteStore) Alias(ctx context.Context, alias string) (string, error) {
	var canonical string
	err := s.db.QueryRowContext(ctx,
		`SELECT canonical FROM aliases WHERE alias = ?`, alias,
	).Scan(&canonical)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get alias %s: %w", alias, err)
	}
	return canonical, nil
}

func (s *SQLiteStore) PutAlias(ctx context.Context, alias, canonical string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO aliases (alias, canonical, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(alias) DO UPDATE SET
		   canonical = excluded.canonical,
		   updated_at = excluded.updated_at`,
		alias, canonical, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("put alias %s: %w", alias, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
