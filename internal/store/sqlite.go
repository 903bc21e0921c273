package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/draftspace/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// SQLite allows one writer; a single pooled connection also keeps
	// :memory: databases coherent across queries.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
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

	// Check if schema_version table exists.
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

// CreateSpace inserts a new composition space row and returns its minted
// id and initial last-modified stamp.
func (s *SQLiteStore) CreateSpace(ctx context.Context, owner model.Owner, initial *model.DraftMessage, clientToken string) (string, int64, error) {
	if initial == nil {
		initial = model.NewDraftMessage()
	}

	id := uuid.New().String()
	stamp := time.Now().UnixMilli()

	toJSON, err := json.Marshal(orEmpty(initial.To))
	if err != nil {
		return "", 0, fmt.Errorf("marshaling to recipients: %w", err)
	}
	ccJSON, err := json.Marshal(orEmpty(initial.Cc))
	if err != nil {
		return "", 0, fmt.Errorf("marshaling cc recipients: %w", err)
	}
	bccJSON, err := json.Marshal(orEmpty(initial.Bcc))
	if err != nil {
		return "", 0, fmt.Errorf("marshaling bcc recipients: %w", err)
	}
	securityJSON, err := json.Marshal(initial.Security)
	if err != nil {
		return "", 0, fmt.Errorf("marshaling security settings: %w", err)
	}
	sharedJSON, err := json.Marshal(initial.SharedAttachments)
	if err != nil {
		return "", 0, fmt.Errorf("marshaling shared-attachment settings: %w", err)
	}
	attachmentsJSON, err := json.Marshal(orEmptyAttachments(initial.Attachments))
	if err != nil {
		return "", 0, fmt.Errorf("marshaling attachments: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO composition_spaces (
			id, account_id, user_id, client_token,
			sender, reply_sender, to_recipients, cc_recipients, bcc_recipients,
			subject, content, content_type, read_receipt, priority,
			security, shared_attachments, attachments, origin,
			created_at, last_modified
		) VALUES (
			?, ?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?, ?, ?,
			?, ?
		)`,
		id, owner.AccountID, owner.UserID, clientToken,
		initial.From, initial.ReplySender, string(toJSON), string(ccJSON), string(bccJSON),
		initial.Subject, initial.Content, initial.ContentType, boolToInt(initial.RequestReadReceipt), initial.Priority,
		string(securityJSON), string(sharedJSON), string(attachmentsJSON), string(initial.Origin),
		time.Now().UTC(), stamp,
	)
	if err != nil {
		return "", 0, fmt.Errorf("inserting composition space: %w", err)
	}

	return id, stamp, nil
}

// UpdateSpace writes only the fields present in the delta, plus the
// last-modified stamp. An empty delta is a no-op.
func (s *SQLiteStore) UpdateSpace(ctx context.Context, id string, delta *model.DraftDelta) error {
	if delta.IsEmpty() {
		return nil
	}

	var sets []string
	var args []interface{}

	appendSet := func(column string, value interface{}) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}

	if delta.From != nil {
		appendSet("sender", *delta.From)
	}
	if delta.ReplySender != nil {
		appendSet("reply_sender", *delta.ReplySender)
	}
	if delta.To != nil {
		v, err := json.Marshal(orEmpty(*delta.To))
		if err != nil {
			return fmt.Errorf("marshaling to recipients: %w", err)
		}
		appendSet("to_recipients", string(v))
	}
	if delta.Cc != nil {
		v, err := json.Marshal(orEmpty(*delta.Cc))
		if err != nil {
			return fmt.Errorf("marshaling cc recipients: %w", err)
		}
		appendSet("cc_recipients", string(v))
	}
	if delta.Bcc != nil {
		v, err := json.Marshal(orEmpty(*delta.Bcc))
		if err != nil {
			return fmt.Errorf("marshaling bcc recipients: %w", err)
		}
		appendSet("bcc_recipients", string(v))
	}
	if delta.Subject != nil {
		appendSet("subject", *delta.Subject)
	}
	if delta.Content != nil {
		appendSet("content", *delta.Content)
	}
	if delta.ContentType != nil {
		appendSet("content_type", *delta.ContentType)
	}
	if delta.RequestReadReceipt != nil {
		appendSet("read_receipt", boolToInt(*delta.RequestReadReceipt))
	}
	if delta.Priority != nil {
		appendSet("priority", *delta.Priority)
	}
	if delta.Security != nil {
		v, err := json.Marshal(*delta.Security)
		if err != nil {
			return fmt.Errorf("marshaling security settings: %w", err)
		}
		appendSet("security", string(v))
	}
	if delta.SharedAttachments != nil {
		v, err := json.Marshal(*delta.SharedAttachments)
		if err != nil {
			return fmt.Errorf("marshaling shared-attachment settings: %w", err)
		}
		appendSet("shared_attachments", string(v))
	}
	if delta.Attachments != nil {
		v, err := json.Marshal(orEmptyAttachments(*delta.Attachments))
		if err != nil {
			return fmt.Errorf("marshaling attachments: %w", err)
		}
		appendSet("attachments", string(v))
	}
	if delta.Origin != nil {
		appendSet("origin", string(*delta.Origin))
	}

	appendSet("last_modified", time.Now().UnixMilli())

	query := "UPDATE composition_spaces SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating composition space %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating composition space %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("updating composition space %s: %w", id, ErrSpaceNotFound)
	}

	return nil
}

// CloseSpace deletes a composition space row.
func (s *SQLiteStore) CloseSpace(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM composition_spaces WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting composition space %s: %w", id, err)
	}
	return nil
}

// DeleteExpired removes all of owner's spaces whose last-modified stamp
// is older than maxIdle ago, and returns the deleted ids.
func (s *SQLiteStore) DeleteExpired(ctx context.Context, owner model.Owner, maxIdle time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-maxIdle).UnixMilli()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var ids []string
	err = tx.SelectContext(ctx, &ids, `
		SELECT id FROM composition_spaces
		WHERE account_id = ? AND user_id = ? AND last_modified < ?`,
		owner.AccountID, owner.UserID, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("selecting expired spaces: %w", err)
	}
	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	query, args, err := sqlx.In("DELETE FROM composition_spaces WHERE id IN (?)", ids)
	if err != nil {
		return nil, fmt.Errorf("building expiry delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("deleting expired spaces: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing expiry delete: %w", err)
	}
	return ids, nil
}

// GetSnapshot loads the full persisted draft for a space.
func (s *SQLiteStore) GetSnapshot(ctx context.Context, id string) (*model.DraftMessage, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT sender, reply_sender, to_recipients, cc_recipients, bcc_recipients,
		       subject, content, content_type, read_receipt, priority,
		       security, shared_attachments, attachments, origin
		FROM composition_spaces WHERE id = ?`, id)

	var (
		m           model.DraftMessage
		toJSON      string
		ccJSON      string
		bccJSON     string
		readReceipt int
		security    string
		shared      string
		attachments string
		origin      string
	)

	err := row.Scan(
		&m.From, &m.ReplySender, &toJSON, &ccJSON, &bccJSON,
		&m.Subject, &m.Content, &m.ContentType, &readReceipt, &m.Priority,
		&security, &shared, &attachments, &origin,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("loading composition space %s: %w", id, ErrSpaceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning composition space %s: %w", id, err)
	}

	m.RequestReadReceipt = readReceipt != 0
	m.Origin = model.Origin(origin)

	if err := json.Unmarshal([]byte(toJSON), &m.To); err != nil {
		return nil, fmt.Errorf("unmarshaling to recipients: %w", err)
	}
	if err := json.Unmarshal([]byte(ccJSON), &m.Cc); err != nil {
		return nil, fmt.Errorf("unmarshaling cc recipients: %w", err)
	}
	if err := json.Unmarshal([]byte(bccJSON), &m.Bcc); err != nil {
		return nil, fmt.Errorf("unmarshaling bcc recipients: %w", err)
	}
	if err := json.Unmarshal([]byte(security), &m.Security); err != nil {
		return nil, fmt.Errorf("unmarshaling security settings: %w", err)
	}
	if err := json.Unmarshal([]byte(shared), &m.SharedAttachments); err != nil {
		return nil, fmt.Errorf("unmarshaling shared-attachment settings: %w", err)
	}
	if err := json.Unmarshal([]byte(attachments), &m.Attachments); err != nil {
		return nil, fmt.Errorf("unmarshaling attachments: %w", err)
	}

	return &m, nil
}

// orEmpty maps a nil slice to an empty one so list columns always hold
// valid JSON arrays.
func orEmpty(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

// orEmptyAttachments is orEmpty for attachment lists.
func orEmptyAttachments(in []model.Attachment) []model.Attachment {
	if in == nil {
		return []model.Attachment{}
	}
	return in
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
