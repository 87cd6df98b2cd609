package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

const noteColumns = `n.id, n.content, n.note_type, n.created_by, n.modified_by, n.created_at, n.modified_at, n.is_active, n.is_deleted`

const grantColumns = `g.id, g.note_id, g.user_id, g.can_read, g.can_edit, g.can_delete, g.created_by, g.modified_by, g.created_at, g.modified_at, g.is_active, g.is_deleted`

func scanNote(row rowScanner) (Note, error) {
	var item Note
	err := row.Scan(&item.ID, &item.Content, &item.Type, &item.CreatedBy, &item.ModifiedBy, &item.CreatedAt, &item.ModifiedAt, &item.IsActive, &item.IsDeleted)
	return item, err
}

func scanGrant(row rowScanner) (Grant, error) {
	var item Grant
	err := row.Scan(&item.ID, &item.NoteID, &item.UserID, &item.CanRead, &item.CanEdit, &item.CanDelete, &item.CreatedBy, &item.ModifiedBy, &item.CreatedAt, &item.ModifiedAt, &item.IsActive, &item.IsDeleted)
	return item, err
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&pgTx{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateNoteWithOwner(ctx context.Context, note Note, grantID string) (Grant, error) {
	var grant Grant
	err := s.WithTx(ctx, func(tx Tx) error {
		var err error
		grant, err = createNoteWithOwner(ctx, tx, note, grantID)
		return err
	})
	if err != nil {
		return Grant{}, err
	}
	return grant, nil
}

func (s *PostgresStore) ListNotes(ctx context.Context) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+noteColumns+`
		FROM notes n
		WHERE `+visibleSQL("n")+`
		ORDER BY n.created_at ASC, n.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	items := make([]Note, 0)
	for rows.Next() {
		item, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notes: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetNote(ctx context.Context, noteID string) (Note, error) {
	item, err := scanNote(s.db.QueryRowContext(ctx, `
		SELECT `+noteColumns+`
		FROM notes n
		WHERE n.id=$1 AND `+visibleSQL("n"), noteID))
	if err != nil {
		return Note{}, notFound(err, "get note")
	}
	return item, nil
}

func (s *PostgresStore) GetActiveGrant(ctx context.Context, noteID, userID string) (Grant, error) {
	item, err := scanGrant(s.db.QueryRowContext(ctx, `
		SELECT `+grantColumns+`
		FROM note_grants g
		WHERE g.note_id=$1 AND g.user_id=$2 AND `+visibleSQL("g"), noteID, userID))
	if err != nil {
		return Grant{}, notFound(err, "get grant")
	}
	return item, nil
}

func (s *PostgresStore) ListGrants(ctx context.Context, noteID string) ([]Grant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+grantColumns+`
		FROM note_grants g
		WHERE g.note_id=$1 AND `+visibleSQL("g")+`
		ORDER BY g.created_at ASC, g.id ASC
	`, noteID)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()

	items := make([]Grant, 0)
	for rows.Next() {
		item, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grants: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListAuditEntries(ctx context.Context, noteID string) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.note_id, a.modified_by, a.old_content, a.new_content, a.old_type, a.new_type, a.created_at, a.is_active, a.is_deleted
		FROM note_audit_entries a
		WHERE a.note_id=$1 AND `+visibleSQL("a")+`
		ORDER BY a.created_at ASC, a.position ASC
	`, noteID)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	items := make([]AuditEntry, 0)
	for rows.Next() {
		var item AuditEntry
		if err := rows.Scan(&item.ID, &item.NoteID, &item.ModifiedBy, &item.OldContent, &item.NewContent, &item.OldType, &item.NewType, &item.CreatedAt, &item.IsActive, &item.IsDeleted); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) EnsureUser(ctx context.Context, userID, displayName string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, display_name)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET display_name=EXCLUDED.display_name
		RETURNING id, display_name, created_at
	`, userID, displayName).Scan(&user.ID, &user.DisplayName, &user.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("ensure user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) UserExists(ctx context.Context, userID string) (bool, error) {
	return userExists(ctx, s.db, userID)
}

func userExists(ctx context.Context, q queryer, userID string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id=$1)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check user: %w", err)
	}
	return exists, nil
}

// SearchReadableNotes matches content case-insensitively among the notes userID
// holds an active read grant on.
func (s *PostgresStore) SearchReadableNotes(ctx context.Context, userID, query string, limit int) ([]Note, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+noteColumns+`
		FROM notes n
		JOIN note_grants g ON g.note_id = n.id
		WHERE g.user_id=$1
			AND g.can_read
			AND `+visibleSQL("g")+`
			AND `+visibleSQL("n")+`
			AND n.content ILIKE '%' || $2 || '%' ESCAPE '\'
		ORDER BY n.modified_at DESC, n.id ASC
		LIMIT $3
	`, userID, escapeLike(query), limit)
	if err != nil {
		return nil, fmt.Errorf("search notes: %w", err)
	}
	defer rows.Close()

	items := make([]Note, 0)
	for rows.Next() {
		item, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notes: %w", err)
	}
	return items, nil
}

const searchRecordQuery = `
	SELECT n.id, n.content, n.note_type,
		COALESCE(string_agg(g.user_id, ',' ORDER BY g.user_id) FILTER (WHERE g.can_read AND g.is_active AND NOT g.is_deleted), '')
	FROM notes n
	LEFT JOIN note_grants g ON g.note_id = n.id
	WHERE n.is_active AND NOT n.is_deleted`

func scanSearchRecord(row rowScanner) (SearchRecord, error) {
	var record SearchRecord
	var readers string
	if err := row.Scan(&record.NoteID, &record.Content, &record.Type, &readers); err != nil {
		return SearchRecord{}, err
	}
	record.Readers = splitReaders(readers)
	return record, nil
}

func (s *PostgresStore) GetSearchRecord(ctx context.Context, noteID string) (SearchRecord, error) {
	record, err := scanSearchRecord(s.db.QueryRowContext(ctx, searchRecordQuery+` AND n.id=$1 GROUP BY n.id`, noteID))
	if err != nil {
		return SearchRecord{}, notFound(err, "get search record")
	}
	return record, nil
}

func (s *PostgresStore) LoadSearchRecords(ctx context.Context) ([]SearchRecord, error) {
	rows, err := s.db.QueryContext(ctx, searchRecordQuery+` GROUP BY n.id ORDER BY n.id`)
	if err != nil {
		return nil, fmt.Errorf("load search records: %w", err)
	}
	defer rows.Close()

	records := make([]SearchRecord, 0)
	for rows.Next() {
		record, err := scanSearchRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan search record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search records: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type pgTx struct {
	q queryer
}

func (t *pgTx) CreateNote(ctx context.Context, note Note) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO notes (id, content, note_type, created_by, modified_by, created_at, modified_at, is_active, is_deleted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, note.ID, note.Content, note.Type, note.CreatedBy, note.ModifiedBy, note.CreatedAt, note.ModifiedAt, note.IsActive, note.IsDeleted)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

func (t *pgTx) GetNoteForUpdate(ctx context.Context, noteID string) (Note, error) {
	item, err := scanNote(t.q.QueryRowContext(ctx, `
		SELECT `+noteColumns+`
		FROM notes n
		WHERE n.id=$1 AND `+visibleSQL("n")+`
		FOR UPDATE`, noteID))
	if err != nil {
		return Note{}, notFound(err, "lock note")
	}
	return item, nil
}

func (t *pgTx) UpdateNote(ctx context.Context, note Note) error {
	result, err := t.q.ExecContext(ctx, `
		UPDATE notes
		SET content=$2, note_type=$3, modified_by=$4, modified_at=$5
		WHERE id=$1 AND is_active AND NOT is_deleted
	`, note.ID, note.Content, note.Type, note.ModifiedBy, note.ModifiedAt)
	if err != nil {
		return fmt.Errorf("update note: %w", err)
	}
	return requireAffected(result, "update note")
}

func (t *pgTx) SoftDeleteNote(ctx context.Context, noteID, modifiedBy string, at time.Time) error {
	result, err := t.q.ExecContext(ctx, `
		UPDATE notes
		SET is_active=FALSE, is_deleted=TRUE, modified_by=$2, modified_at=$3
		WHERE id=$1 AND is_active AND NOT is_deleted
	`, noteID, modifiedBy, at)
	if err != nil {
		return fmt.Errorf("soft delete note: %w", err)
	}
	return requireAffected(result, "soft delete note")
}

func (t *pgTx) CreateGrant(ctx context.Context, grant Grant) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO note_grants (id, note_id, user_id, can_read, can_edit, can_delete, created_by, modified_by, created_at, modified_at, is_active, is_deleted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, grant.ID, grant.NoteID, grant.UserID, grant.CanRead, grant.CanEdit, grant.CanDelete, grant.CreatedBy, grant.ModifiedBy, grant.CreatedAt, grant.ModifiedAt, grant.IsActive, grant.IsDeleted)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicate
		}
		return fmt.Errorf("insert grant: %w", err)
	}
	return nil
}

func (t *pgTx) FindGrant(ctx context.Context, noteID, userID string) (Grant, error) {
	item, err := scanGrant(t.q.QueryRowContext(ctx, `
		SELECT `+grantColumns+`
		FROM note_grants g
		WHERE g.note_id=$1 AND g.user_id=$2
		FOR UPDATE`, noteID, userID))
	if err != nil {
		return Grant{}, notFound(err, "find grant")
	}
	return item, nil
}

func (t *pgTx) UpdateGrant(ctx context.Context, grant Grant) error {
	result, err := t.q.ExecContext(ctx, `
		UPDATE note_grants
		SET can_read=$2, can_edit=$3, can_delete=$4, modified_by=$5, modified_at=$6, is_active=$7, is_deleted=$8
		WHERE id=$1
	`, grant.ID, grant.CanRead, grant.CanEdit, grant.CanDelete, grant.ModifiedBy, grant.ModifiedAt, grant.IsActive, grant.IsDeleted)
	if err != nil {
		return fmt.Errorf("update grant: %w", err)
	}
	return requireAffected(result, "update grant")
}

func (t *pgTx) InsertAuditEntry(ctx context.Context, entry AuditEntry) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO note_audit_entries (id, note_id, modified_by, old_content, new_content, old_type, new_type, created_at, is_active, is_deleted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, entry.ID, entry.NoteID, entry.ModifiedBy, entry.OldContent, entry.NewContent, entry.OldType, entry.NewType, entry.CreatedAt, entry.IsActive, entry.IsDeleted)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (t *pgTx) UserExists(ctx context.Context, userID string) (bool, error) {
	return userExists(ctx, t.q, userID)
}

func requireAffected(result sql.Result, what string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", what, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}

func splitReaders(value string) []string {
	if value == "" {
		return []string{}
	}
	return strings.Split(value, ",")
}
