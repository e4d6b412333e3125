package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/onebox/internal/model"
)

// ErrNotFound is returned when a lookup by id matches no row.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys.
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// messageRow is the scan target for the messages table. List-valued
// fields are stored as JSON text.
type messageRow struct {
	ID        string    `db:"id"`
	AccountID string    `db:"account_id"`
	Folder    string    `db:"folder"`
	Subject   string    `db:"subject"`
	Body      string    `db:"body"`
	FromAddr  string    `db:"from_addr"`
	ToAddrs   string    `db:"to_addrs"`
	Date      time.Time `db:"date"`
	Category  string    `db:"category"`
	IndexedAt time.Time `db:"indexed_at"`
	UID       uint32    `db:"uid"`
	Flags     string    `db:"flags"`
	Size      int64     `db:"size"`
}

func (r messageRow) toMessage() (model.Message, error) {
	var to, flags []string
	if err := json.Unmarshal([]byte(r.ToAddrs), &to); err != nil {
		return model.Message{}, fmt.Errorf("unmarshaling to_addrs for %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Flags), &flags); err != nil {
		return model.Message{}, fmt.Errorf("unmarshaling flags for %s: %w", r.ID, err)
	}

	return model.Message{
		ID:        r.ID,
		AccountID: r.AccountID,
		Folder:    r.Folder,
		Subject:   r.Subject,
		Body:      r.Body,
		From:      r.FromAddr,
		To:        to,
		Date:      r.Date,
		Category:  model.Category(r.Category),
		IndexedAt: r.IndexedAt,
		UID:       r.UID,
		Flags:     flags,
		Size:      r.Size,
	}, nil
}

// Upsert inserts or replaces a batch of messages. Re-ingesting the same
// message is a no-op at the row level; the id carries the identity.
func (s *SQLiteStore) Upsert(ctx context.Context, msgs []*model.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT OR REPLACE INTO messages (
			id, account_id, folder, subject, body,
			from_addr, to_addrs, date, category,
			indexed_at, uid, flags, size
		) VALUES (
			?, ?, ?, ?, ?,
			?, ?, ?, ?,
			?, ?, ?, ?
		)`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		to, err := json.Marshal(m.To)
		if err != nil {
			return fmt.Errorf("marshaling to_addrs for %s: %w", m.ID, err)
		}
		flags, err := json.Marshal(m.Flags)
		if err != nil {
			return fmt.Errorf("marshaling flags for %s: %w", m.ID, err)
		}

		_, err = stmt.ExecContext(ctx,
			m.ID, m.AccountID, m.Folder, m.Subject, m.Body,
			m.From, string(to), m.Date.UTC(), string(m.Category),
			m.IndexedAt.UTC(), m.UID, string(flags), m.Size,
		)
		if err != nil {
			return fmt.Errorf("upserting message %s: %w", m.ID, err)
		}
	}

	return tx.Commit()
}

// GetByID retrieves a single message, or ErrNotFound.
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*model.Message, error) {
	var row messageRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM messages WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message %s: %w", id, err)
	}

	msg, err := row.toMessage()
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// Search retrieves messages matching the filter, newest first, and the
// total count before pagination.
func (s *SQLiteStore) Search(ctx context.Context, filter Filter) ([]model.Message, int, error) {
	var conditions []string
	var args []interface{}

	if filter.Query != nil && *filter.Query != "" {
		pattern := "%" + *filter.Query + "%"
		conditions = append(conditions, "(subject LIKE ? OR body LIKE ? OR from_addr LIKE ?)")
		args = append(args, pattern, pattern, pattern)
	}
	if filter.AccountID != nil {
		conditions = append(conditions, "account_id = ?")
		args = append(args, *filter.AccountID)
	}
	if filter.Folder != nil {
		conditions = append(conditions, "folder = ?")
		args = append(args, *filter.Folder)
	}
	if filter.Category != nil {
		conditions = append(conditions, "category = ?")
		args = append(args, string(*filter.Category))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM messages"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("counting messages: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	query := "SELECT * FROM messages" + where + " ORDER BY date DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("querying messages: %w", err)
	}

	msgs := make([]model.Message, 0, len(rows))
	for _, row := range rows {
		msg, err := row.toMessage()
		if err != nil {
			return nil, 0, err
		}
		msgs = append(msgs, msg)
	}

	return msgs, total, nil
}

// DeleteByID removes a message, or returns ErrNotFound.
func (s *SQLiteStore) DeleteByID(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting message %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// PatchCategory reassigns the category on the given messages, refreshing
// their indexing timestamp, and returns how many rows changed. Unknown
// ids are skipped silently.
func (s *SQLiteStore) PatchCategory(
	ctx context.Context,
	ids []string,
	category model.Category,
) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query, args, err := sqlx.In(
		"UPDATE messages SET category = ?, indexed_at = ? WHERE id IN (?)",
		string(category), time.Now().UTC(), ids,
	)
	if err != nil {
		return 0, fmt.Errorf("building category update: %w", err)
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("updating categories: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking update result: %w", err)
	}
	return int(affected), nil
}

// CategoryCounts returns per-category message counts, optionally scoped
// to one account. Categories with no messages are absent from the map.
func (s *SQLiteStore) CategoryCounts(
	ctx context.Context,
	accountID *string,
) (map[model.Category]int, error) {
	query := "SELECT category, COUNT(*) AS n FROM messages"
	var args []interface{}
	if accountID != nil {
		query += " WHERE account_id = ?"
		args = append(args, *accountID)
	}
	query += " GROUP BY category"

	var rows []struct {
		Category string `db:"category"`
		N        int    `db:"n"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("counting by category: %w", err)
	}

	counts := make(map[model.Category]int, len(rows))
	for _, r := range rows {
		counts[model.Category(r.Category)] = r.N
	}
	return counts, nil
}

// AccountIDs lists the distinct accounts with indexed messages.
func (s *SQLiteStore) AccountIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(
		ctx, &ids, "SELECT DISTINCT account_id FROM messages ORDER BY account_id",
	)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	return ids, nil
}

// RecordLead persists one lead record.
func (s *SQLiteStore) RecordLead(ctx context.Context, lead model.Lead) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO leads (id, message_id, account_id, subject, from_addr, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		lead.ID, lead.MessageID, lead.AccountID, lead.Subject, lead.From, lead.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording lead %s: %w", lead.ID, err)
	}
	return nil
}

// RecentLeads returns the newest leads, most recent first.
func (s *SQLiteStore) RecentLeads(ctx context.Context, limit int) ([]model.Lead, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []struct {
		ID        string    `db:"id"`
		MessageID string    `db:"message_id"`
		AccountID string    `db:"account_id"`
		Subject   string    `db:"subject"`
		FromAddr  string    `db:"from_addr"`
		CreatedAt time.Time `db:"created_at"`
	}
	err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM leads ORDER BY created_at DESC LIMIT ?", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing leads: %w", err)
	}

	leads := make([]model.Lead, 0, len(rows))
	for _, r := range rows {
		leads = append(leads, model.Lead{
			ID:        r.ID,
			MessageID: r.MessageID,
			AccountID: r.AccountID,
			Subject:   r.Subject,
			From:      r.FromAddr,
			CreatedAt: r.CreatedAt,
		})
	}
	return leads, nil
}
