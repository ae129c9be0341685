package devices

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

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

func (r *PostgresRepository) Upsert(ctx context.Context, d *models.Device) error {
	query := `
		INSERT INTO devices (user_id, device_id, name, type)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, device_id) DO UPDATE SET name = EXCLUDED.name, type = EXCLUDED.type
	`
	if _, err := r.db.ExecContext(ctx, query, d.UserID, d.DeviceID, d.Name, d.Type); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// TouchSync creates the device row on first sight so a device known only
// from its token still shows up in status.
func (r *PostgresRepository) TouchSync(ctx context.Context, userID, deviceID string, at time.Time) error {
	query := `
		INSERT INTO devices (user_id, device_id, last_sync_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, device_id) DO UPDATE SET last_sync_at = EXCLUDED.last_sync_at
	`
	if _, err := r.db.ExecContext(ctx, query, userID, deviceID, at); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, userID, deviceID string) (*models.Device, error) {
	query := `
		SELECT name, type, last_sync_at, created_at
		FROM devices
		WHERE user_id = $1 AND device_id = $2
	`
	d := &models.Device{UserID: userID, DeviceID: deviceID}
	var last sql.NullTime
	if err := r.db.QueryRowContext(ctx, query, userID, deviceID).Scan(&d.Name, &d.Type, &last, &d.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if last.Valid {
		d.LastSyncAt = &last.Time
	}
	return d, nil
}

func (r *PostgresRepository) Count(ctx context.Context, userID string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM devices WHERE user_id = $1`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
