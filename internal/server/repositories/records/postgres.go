package records

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

func (r *PostgresRepository) GetForUpdate(ctx context.Context, userID, table, recordID string) (*models.Record, error) {
	query := `
		SELECT data, is_deleted, version, device_id, updated_at
		FROM records
		WHERE user_id = $1 AND table_name = $2 AND record_id = $3
		FOR UPDATE
	`
	rec := &models.Record{UserID: userID, Table: table, RecordID: recordID}
	var data []byte
	err := r.db.QueryRowContext(ctx, query, userID, table, recordID).
		Scan(&data, &rec.IsDeleted, &rec.Version, &rec.DeviceID, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	rec.Data = data
	return rec, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, rec *models.Record) error {
	query := `
		INSERT INTO records (user_id, table_name, record_id, data, is_deleted, version, device_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, table_name, record_id) DO UPDATE SET
			data = EXCLUDED.data,
			is_deleted = EXCLUDED.is_deleted,
			version = EXCLUDED.version,
			device_id = EXCLUDED.device_id,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query, rec.UserID, rec.Table, rec.RecordID, []byte(rec.Data),
		rec.IsDeleted, rec.Version, rec.DeviceID, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) CountLive(ctx context.Context, userID, table string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE user_id = $1 AND table_name = $2 AND NOT is_deleted`,
		userID, table).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
