package changes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/dbx"
	"github.com/dmitrijs2005/notesync/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Append(ctx context.Context, c *models.LoggedChange) error {
	query := `
		INSERT INTO change_log (user_id, version, change_id, table_name, record_id, action, data, device_id, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	var data any
	if len(c.Data) > 0 {
		data = []byte(c.Data)
	}
	_, err := r.db.ExecContext(ctx, query, c.UserID, c.Version, c.ChangeID, c.Table, c.RecordID,
		string(c.Action), data, c.DeviceID, c.ChangedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListAfter(ctx context.Context, userID string, after int64, limit int) ([]models.LoggedChange, error) {
	query := `
		SELECT version, change_id, table_name, record_id, action, data, device_id, changed_at
		FROM change_log
		WHERE user_id = $1 AND version > $2
		ORDER BY version
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, userID, after, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	result := []models.LoggedChange{}
	for rows.Next() {
		c := models.LoggedChange{UserID: userID}
		var (
			action string
			data   []byte
		)
		if err := rows.Scan(&c.Version, &c.ChangeID, &c.Table, &c.RecordID, &action, &data, &c.DeviceID, &c.ChangedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		c.Action = models.ChangeAction(action)
		c.Data = data
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) FirstForeignAfter(ctx context.Context, userID, deviceID string, after int64) (int64, bool, error) {
	query := `
		SELECT MIN(version)
		FROM change_log
		WHERE user_id = $1 AND version > $2 AND device_id <> $3
	`
	var v sql.NullInt64
	if err := r.db.QueryRowContext(ctx, query, userID, after, deviceID).Scan(&v); err != nil {
		return 0, false, fmt.Errorf("db error: %w", err)
	}
	return v.Int64, v.Valid, nil
}

func (r *PostgresRepository) GetApplied(ctx context.Context, userID, changeID string) (*models.AppliedChange, error) {
	query := `
		SELECT outcome, reason
		FROM applied_changes
		WHERE user_id = $1 AND change_id = $2
	`
	a := &models.AppliedChange{UserID: userID, ChangeID: changeID}
	var outcome string
	if err := r.db.QueryRowContext(ctx, query, userID, changeID).Scan(&outcome, &a.Reason); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	a.Outcome = models.Outcome(outcome)
	return a, nil
}

func (r *PostgresRepository) MarkApplied(ctx context.Context, a models.AppliedChange) error {
	query := `
		INSERT INTO applied_changes (user_id, change_id, outcome, reason)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, change_id) DO UPDATE SET outcome = EXCLUDED.outcome, reason = EXCLUDED.reason
	`
	if _, err := r.db.ExecContext(ctx, query, a.UserID, a.ChangeID, string(a.Outcome), a.Reason); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
