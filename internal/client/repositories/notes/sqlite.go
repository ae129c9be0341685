package notes

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/dbx"
)

const noteColumns = `id, remote_id, title, content, tags, source_url, source_screenshot_path,
	is_archived, is_deleted, user_id, created_at, updated_at, synced_at`

// SQLiteRepository implements Repository over a *sql.DB or *sql.Tx.
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// row mirrors the notes table. Timestamps are Unix milliseconds.
type row struct {
	ID                   string
	RemoteID             sql.NullString
	Title                string
	Content              string
	Tags                 string
	SourceURL            sql.NullString
	SourceScreenshotPath sql.NullString
	IsArchived           bool
	IsDeleted            bool
	UserID               string
	CreatedAt            int64
	UpdatedAt            int64
	SyncedAt             sql.NullInt64
}

func toRow(n *models.Note) (row, error) {
	tags := n.Tags
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return row{}, err
	}
	r := row{
		ID:                   n.ID,
		RemoteID:             nullString(n.RemoteID),
		Title:                n.Title,
		Content:              n.Content,
		Tags:                 string(b),
		SourceURL:            nullString(n.SourceURL),
		SourceScreenshotPath: nullString(n.SourceScreenshotPath),
		IsArchived:           n.IsArchived,
		IsDeleted:            n.IsDeleted,
		UserID:               n.UserID,
		CreatedAt:            n.CreatedAt.UnixMilli(),
		UpdatedAt:            n.UpdatedAt.UnixMilli(),
	}
	if n.SyncedAt != nil {
		r.SyncedAt = sql.NullInt64{Int64: n.SyncedAt.UnixMilli(), Valid: true}
	}
	return r, nil
}

func fromRow(r row) (*models.Note, error) {
	var tags []string
	if err := json.Unmarshal([]byte(r.Tags), &tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags of note %s: %w", r.ID, err)
	}
	n := &models.Note{
		ID:                   r.ID,
		RemoteID:             r.RemoteID.String,
		Title:                r.Title,
		Content:              r.Content,
		Tags:                 tags,
		SourceURL:            r.SourceURL.String,
		SourceScreenshotPath: r.SourceScreenshotPath.String,
		IsArchived:           r.IsArchived,
		IsDeleted:            r.IsDeleted,
		UserID:               r.UserID,
		CreatedAt:            time.UnixMilli(r.CreatedAt),
		UpdatedAt:            time.UnixMilli(r.UpdatedAt),
	}
	if r.SyncedAt.Valid {
		t := time.UnixMilli(r.SyncedAt.Int64)
		n.SyncedAt = &t
	}
	return n, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNote(s scanner) (*models.Note, error) {
	var r row
	if err := s.Scan(&r.ID, &r.RemoteID, &r.Title, &r.Content, &r.Tags, &r.SourceURL, &r.SourceScreenshotPath,
		&r.IsArchived, &r.IsDeleted, &r.UserID, &r.CreatedAt, &r.UpdatedAt, &r.SyncedAt); err != nil {
		return nil, err
	}
	return fromRow(r)
}

func (r *SQLiteRepository) Insert(ctx context.Context, n *models.Note) error {
	v, err := toRow(n)
	if err != nil {
		return err
	}
	query := `INSERT INTO notes (` + noteColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query, v.ID, v.RemoteID, v.Title, v.Content, v.Tags, v.SourceURL, v.SourceScreenshotPath,
		v.IsArchived, v.IsDeleted, v.UserID, v.CreatedAt, v.UpdatedAt, v.SyncedAt)
	if err != nil {
		return fmt.Errorf("failed to insert note: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Update(ctx context.Context, n *models.Note) error {
	v, err := toRow(n)
	if err != nil {
		return err
	}
	query := `UPDATE notes SET remote_id = ?, title = ?, content = ?, tags = ?, source_url = ?, source_screenshot_path = ?,
		is_archived = ?, is_deleted = ?, created_at = ?, updated_at = ?, synced_at = ?
		WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, v.RemoteID, v.Title, v.Content, v.Tags, v.SourceURL, v.SourceScreenshotPath,
		v.IsArchived, v.IsDeleted, v.CreatedAt, v.UpdatedAt, v.SyncedAt, v.ID)
	if err != nil {
		return fmt.Errorf("failed to update note: %w", err)
	}
	n2, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n2 == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *SQLiteRepository) get(ctx context.Context, where string, arg any) (*models.Note, error) {
	query := `SELECT ` + noteColumns + ` FROM notes WHERE ` + where
	n, err := scanNote(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select note: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.Note, error) {
	return r.get(ctx, `id = ?`, id)
}

func (r *SQLiteRepository) GetByRemoteID(ctx context.Context, remoteID string) (*models.Note, error) {
	return r.get(ctx, `remote_id = ?`, remoteID)
}

// List returns the user's notes matching f, most recently updated first.
// Query matches title or content case-insensitively; Tags matches notes
// carrying any of the given tags.
func (r *SQLiteRepository) List(ctx context.Context, userID string, f models.NoteFilter) ([]*models.Note, error) {
	var (
		conds = []string{"user_id = ?", "is_deleted = ?"}
		args  = []any{userID, f.Deleted}
	)
	if f.Archived != nil {
		conds = append(conds, "is_archived = ?")
		args = append(args, *f.Archived)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		conds = append(conds, "(lower(title) LIKE ? OR lower(content) LIKE ?)")
		args = append(args, like, like)
	}
	if tags := models.NormalizeTags(f.Tags); len(tags) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?,", len(tags)), ",")
		conds = append(conds, "EXISTS (SELECT 1 FROM json_each(notes.tags) WHERE json_each.value IN ("+marks+"))")
		for _, t := range tags {
			args = append(args, t)
		}
	}

	query := `SELECT ` + noteColumns + ` FROM notes WHERE ` + strings.Join(conds, " AND ") + ` ORDER BY updated_at DESC, id`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select notes: %w", err)
	}
	defer rows.Close()

	result := []*models.Note{}
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Tags returns the distinct tags used by the user's live notes, sorted.
func (r *SQLiteRepository) Tags(ctx context.Context, userID string) ([]string, error) {
	query := `SELECT DISTINCT json_each.value FROM notes, json_each(notes.tags)
		WHERE notes.user_id = ? AND notes.is_deleted = 0
		ORDER BY 1`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select tags: %w", err)
	}
	defer rows.Close()

	tags := []string{}
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// MarkSynced stamps synced_at and pins remote_id for acknowledged records.
// A record touched after its acknowledged change stays dirty.
func (r *SQLiteRepository) MarkSynced(ctx context.Context, acks []Acknowledgment, at time.Time) (int64, error) {
	query := `UPDATE notes SET synced_at = ?, remote_id = COALESCE(remote_id, id)
		WHERE (remote_id = ? OR (remote_id IS NULL AND id = ?)) AND updated_at <= ?`

	var total int64
	for _, a := range acks {
		res, err := r.db.ExecContext(ctx, query, at.UnixMilli(), a.SyncID, a.SyncID, a.ChangedAt.UnixMilli())
		if err != nil {
			return total, fmt.Errorf("failed to mark note %s synced: %w", a.SyncID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("failed to get rows affected: %w", err)
		}
		total += n
	}
	return total, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete note: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

// DeleteTrashedBefore hard-deletes the user's tombstoned notes last updated
// strictly before cutoff and returns how many were removed.
func (r *SQLiteRepository) DeleteTrashedBefore(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM notes WHERE user_id = ? AND is_deleted = 1 AND updated_at < ?`,
		userID, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to empty trash: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
